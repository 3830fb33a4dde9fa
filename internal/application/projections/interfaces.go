package projections

import (
	"context"

	memberStore "membership/internal/adapters/storage/member"
	"membership/internal/domain/member"
)

// MemberLookup resolves a single member by email.
type MemberLookup interface {
	GetByEmail(ctx context.Context, email string) (member.Member, error)
}

// RosterLister lists and counts members for the admin roster and export.
type RosterLister interface {
	List(ctx context.Context, filter memberStore.ListFilter) ([]member.Member, error)
	Count(ctx context.Context) (int, error)
}
