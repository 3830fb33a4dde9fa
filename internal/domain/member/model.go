package member

import (
	"errors"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"
)

// Max length constants for user-editable fields.
const (
	MaxNameLength  = 255
	MaxEmailLength = 255
	MaxPhoneLength = 50
)

// Roster eligibility filters.
const (
	FilterAll        = "all"
	FilterEligible   = "eligible"
	FilterIneligible = "ineligible"
)

// Domain errors
var (
	ErrInvalidEmail   = errors.New("invalid email address")
	ErrDuplicateEmail = errors.New("email already registered")
	ErrNotEnrolled    = errors.New("not enrolled")
	ErrNotFound       = errors.New("member not found")
	ErrMissingField   = errors.New("required field is empty")
	ErrFieldTooLong   = errors.New("field exceeds maximum length")
)

// Flags holds the four engagement actions a member can complete.
type Flags struct {
	GoogleReview    bool
	SocialFollow    bool
	SharedContacts  bool
	ReferredPatient bool
}

// Eligible reports whether every engagement action is complete.
// INVARIANT: pure; the only definition of eligibility in the system
func (f Flags) Eligible() bool {
	return f.GoogleReview && f.SocialFollow && f.SharedContacts && f.ReferredPatient
}

// Member holds state for the concept.
type Member struct {
	ID         int64
	FullName   string
	Email      string
	Phone      string
	Flags      Flags
	IsEligible bool
	CreatedAt  time.Time
}

// SetFlags replaces the engagement flags and recomputes eligibility.
// POST: IsEligible == f.Eligible()
func (m *Member) SetFlags(f Flags) {
	m.Flags = f
	m.IsEligible = f.Eligible()
}

// Validate checks if the Member has valid data.
// PRE: Member struct is initialized
// POST: Returns error if validation fails, nil otherwise
// INVARIANT: Email must parse as a bare address; name and phone must not be empty
func (m *Member) Validate() error {
	if _, err := ParseEmail(m.Email); err != nil {
		return err
	}
	if strings.TrimSpace(m.FullName) == "" {
		return errors.Join(ErrMissingField, errors.New("full name cannot be empty"))
	}
	if strings.TrimSpace(m.Phone) == "" {
		return errors.Join(ErrMissingField, errors.New("phone cannot be empty"))
	}
	if utf8.RuneCountInString(m.FullName) > MaxNameLength {
		return errors.Join(ErrFieldTooLong, errors.New("full name cannot exceed 255 characters"))
	}
	if utf8.RuneCountInString(m.Phone) > MaxPhoneLength {
		return errors.Join(ErrFieldTooLong, errors.New("phone cannot exceed 50 characters"))
	}
	return nil
}

// ParseEmail trims the input and returns it if it is a single bare address.
// Display-name forms ("Jane <jane@example.com>") are rejected.
// POST: returns ErrInvalidEmail for anything that is not a usable address
func ParseEmail(raw string) (string, error) {
	email := strings.TrimSpace(raw)
	if email == "" || utf8.RuneCountInString(email) > MaxEmailLength {
		return "", ErrInvalidEmail
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", ErrInvalidEmail
	}
	at := strings.LastIndex(email, "@")
	if at < 1 || !strings.Contains(email[at+1:], ".") {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// NormalizeFilter maps a raw filter value onto a known filter, defaulting to FilterAll.
func NormalizeFilter(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case FilterEligible:
		return FilterEligible
	case FilterIneligible:
		return FilterIneligible
	default:
		return FilterAll
	}
}

// MatchesFilter reports whether the member belongs in the given roster filter.
func (m *Member) MatchesFilter(filter string) bool {
	switch NormalizeFilter(filter) {
	case FilterEligible:
		return m.IsEligible
	case FilterIneligible:
		return !m.IsEligible
	default:
		return true
	}
}
