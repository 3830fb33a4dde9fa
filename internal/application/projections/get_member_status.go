package projections

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"membership/internal/domain/member"
)

// GetMemberStatusQuery carries query parameters.
type GetMemberStatusQuery struct {
	Email       string // explicit ?email= value, may be empty
	CallerEmail string // email of the externally authenticated caller, may be empty
}

// GetMemberStatusResult carries the query result.
type GetMemberStatusResult struct {
	Email    string
	FullName string
	Flags    member.Flags
	Eligible bool
}

// GetMemberStatusDeps holds dependencies for GetMemberStatus.
type GetMemberStatusDeps struct {
	MemberStore MemberLookup
}

// ResolveStatusEmail picks the explicit email when given and falls back to the caller's.
func ResolveStatusEmail(explicit, caller string) string {
	if e := strings.TrimSpace(explicit); e != "" {
		return e
	}
	return strings.TrimSpace(caller)
}

// QueryGetMemberStatus reports the engagement flags of one member.
// PRE: none; both emails are untrusted
// POST: ErrInvalidEmail when the resolved email is malformed, ErrNotEnrolled when no record matches
// INVARIANT: read-only
func QueryGetMemberStatus(ctx context.Context, query GetMemberStatusQuery, deps GetMemberStatusDeps) (GetMemberStatusResult, error) {
	email, err := member.ParseEmail(ResolveStatusEmail(query.Email, query.CallerEmail))
	if err != nil {
		return GetMemberStatusResult{}, err
	}

	m, err := deps.MemberStore.GetByEmail(ctx, email)
	if errors.Is(err, member.ErrNotFound) {
		return GetMemberStatusResult{}, member.ErrNotEnrolled
	}
	if err != nil {
		return GetMemberStatusResult{}, fmt.Errorf("member status: %w", err)
	}

	return GetMemberStatusResult{
		Email:    m.Email,
		FullName: m.FullName,
		Flags:    m.Flags,
		Eligible: m.IsEligible,
	}, nil
}
