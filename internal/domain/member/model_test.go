package member_test

import (
	"errors"
	"strings"
	"testing"

	"membership/internal/domain/member"
)

// TestFlagsEligible checks every combination of the four engagement flags.
func TestFlagsEligible(t *testing.T) {
	for mask := 0; mask < 16; mask++ {
		f := member.Flags{
			GoogleReview:    mask&1 != 0,
			SocialFollow:    mask&2 != 0,
			SharedContacts:  mask&4 != 0,
			ReferredPatient: mask&8 != 0,
		}
		want := mask == 15
		if got := f.Eligible(); got != want {
			t.Errorf("Flags%+v.Eligible() = %v, want %v", f, got, want)
		}
	}
}

// TestMemberSetFlags verifies eligibility is recomputed and never carried over.
func TestMemberSetFlags(t *testing.T) {
	m := member.Member{IsEligible: true}
	m.SetFlags(member.Flags{GoogleReview: true, SocialFollow: true, SharedContacts: true})
	if m.IsEligible {
		t.Error("IsEligible should be false when a flag is missing")
	}

	m.SetFlags(member.Flags{GoogleReview: true, SocialFollow: true, SharedContacts: true, ReferredPatient: true})
	if !m.IsEligible {
		t.Error("IsEligible should be true when all flags are set")
	}
}

// TestMemberValidation tests validation of Member.
func TestMemberValidation(t *testing.T) {
	tests := []struct {
		name    string
		member  member.Member
		wantErr error
	}{
		{
			name:   "valid member",
			member: member.Member{FullName: "Jane Doe", Email: "jane@example.com", Phone: "555-1234"},
		},
		{
			name:    "empty name",
			member:  member.Member{FullName: "  ", Email: "jane@example.com", Phone: "555-1234"},
			wantErr: member.ErrMissingField,
		},
		{
			name:    "empty phone",
			member:  member.Member{FullName: "Jane Doe", Email: "jane@example.com"},
			wantErr: member.ErrMissingField,
		},
		{
			name:    "invalid email",
			member:  member.Member{FullName: "Jane Doe", Email: "invalid-email", Phone: "555-1234"},
			wantErr: member.ErrInvalidEmail,
		},
		{
			name:    "name too long",
			member:  member.Member{FullName: strings.Repeat("a", member.MaxNameLength+1), Email: "jane@example.com", Phone: "555"},
			wantErr: member.ErrFieldTooLong,
		},
		{
			name:    "phone too long",
			member:  member.Member{FullName: "Jane", Email: "jane@example.com", Phone: strings.Repeat("5", member.MaxPhoneLength+1)},
			wantErr: member.ErrFieldTooLong,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.member.Validate()
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("Member.Validate() unexpected error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Member.Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

// TestParseEmail covers accepted and rejected address forms.
func TestParseEmail(t *testing.T) {
	tests := []struct {
		raw     string
		want    string
		wantErr bool
	}{
		{"jane@example.com", "jane@example.com", false},
		{"  Jane.Doe@Example.com ", "Jane.Doe@Example.com", false},
		{"", "", true},
		{"not-an-email", "", true},
		{"jane@localhost", "", true},
		{"Jane <jane@example.com>", "", true},
		{"<jane@example.com>", "", true},
		{"jane@@example.com", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := member.ParseEmail(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, member.ErrInvalidEmail) {
					t.Fatalf("ParseEmail(%q) error = %v, want ErrInvalidEmail", tt.raw, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseEmail(%q) unexpected error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("ParseEmail(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

// TestMatchesFilter tests roster filter membership.
func TestMatchesFilter(t *testing.T) {
	eligible := member.Member{IsEligible: true}
	ineligible := member.Member{}

	tests := []struct {
		filter        string
		wantEligible  bool
		wantIneligble bool
	}{
		{member.FilterAll, true, true},
		{"", true, true},
		{"bogus", true, true},
		{member.FilterEligible, true, false},
		{"ELIGIBLE", true, false},
		{member.FilterIneligible, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			if got := eligible.MatchesFilter(tt.filter); got != tt.wantEligible {
				t.Errorf("eligible.MatchesFilter(%q) = %v, want %v", tt.filter, got, tt.wantEligible)
			}
			if got := ineligible.MatchesFilter(tt.filter); got != tt.wantIneligble {
				t.Errorf("ineligible.MatchesFilter(%q) = %v, want %v", tt.filter, got, tt.wantIneligble)
			}
		})
	}
}
