// Package antiforgery issues and verifies short-lived tokens that bind a
// state-changing request to one action and one caller.
package antiforgery

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Actions protected by a token.
const (
	ActionEnroll       = "membership.enroll"
	ActionRosterUpdate = "roster.update"
	ActionRosterExport = "roster.export"
	ActionRosterImport = "roster.import"
)

const issuer = "membership"

// anonymous is the subject used when the caller has no identity.
const anonymous = "anonymous"

// ErrUnauthorized is returned for any token that fails verification.
var ErrUnauthorized = errors.New("security check failed")

// Issuer signs and verifies action tokens with an HMAC key.
type Issuer struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

// NewIssuer creates an Issuer.
// PRE: len(key) >= 32; ttl > 0
func NewIssuer(key []byte, ttl time.Duration) *Issuer {
	return &Issuer{key: key, ttl: ttl, now: time.Now}
}

// WithClock returns a copy of the issuer reading time from now.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	c := *i
	c.now = now
	return &c
}

func subjectOf(caller string) string {
	s := strings.ToLower(strings.TrimSpace(caller))
	if s == "" {
		return anonymous
	}
	return s
}

// Issue returns a token valid for action on behalf of caller until the TTL elapses.
// POST: token audience == action; subject == lower-cased caller or "anonymous"
func (i *Issuer) Issue(action, caller string) (string, error) {
	now := i.now().UTC()
	claims := jwt.RegisteredClaims{
		Issuer:    issuer,
		Subject:   subjectOf(caller),
		Audience:  jwt.ClaimStrings{action},
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("sign %s token: %w", action, err)
	}
	return signed, nil
}

// Verify checks that token was issued by this key for action and caller and is still live.
// POST: returns nil or an error wrapping ErrUnauthorized; never has side effects
func (i *Issuer) Verify(token, action, caller string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: token is required", ErrUnauthorized)
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return i.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	now := i.now().UTC()
	switch {
	case claims.Issuer != issuer:
		return fmt.Errorf("%w: issuer mismatch", ErrUnauthorized)
	case !slices.Contains(claims.Audience, action):
		return fmt.Errorf("%w: token not valid for %s", ErrUnauthorized, action)
	case claims.Subject != subjectOf(caller):
		return fmt.Errorf("%w: caller mismatch", ErrUnauthorized)
	case claims.ID == "":
		return fmt.Errorf("%w: jti is required", ErrUnauthorized)
	case claims.ExpiresAt == nil || !claims.ExpiresAt.Time.After(now):
		return fmt.Errorf("%w: token expired", ErrUnauthorized)
	case claims.NotBefore != nil && now.Before(claims.NotBefore.Time):
		return fmt.Errorf("%w: token not active yet", ErrUnauthorized)
	}
	return nil
}
