package member

import (
	"context"

	domain "membership/internal/domain/member"
)

// Store persists Member state.
// Implementations derive is_eligible from the flags on every write.
type Store interface {
	Insert(ctx context.Context, value domain.Member) (domain.Member, error)
	GetByID(ctx context.Context, id int64) (domain.Member, error)
	GetByEmail(ctx context.Context, email string) (domain.Member, error)
	List(ctx context.Context, filter ListFilter) ([]domain.Member, error)
	Count(ctx context.Context) (int, error)
	UpdateFlags(ctx context.Context, updates []FlagUpdate) (UpdateResult, error)
}

// Sort keys accepted by ListFilter.Sort.
const (
	SortDefault   = ""
	SortName      = "name"
	SortEmail     = "email"
	SortCreatedAt = "created_at"
)

// ListFilter carries filtering parameters for List operations.
// Zero value lists every member in id order.
type ListFilter struct {
	Eligibility string // member.FilterAll, FilterEligible or FilterIneligible
	Search      string // case-insensitive substring of name or email
	Sort        string
	Desc        bool
}

// FlagUpdate sets the four engagement flags of one member.
type FlagUpdate struct {
	ID    int64
	Flags domain.Flags
}

// UpdateResult reports the outcome of a batch of flag updates.
type UpdateResult struct {
	Updated     int
	Skipped     int     // ids with no matching row
	NewEligible []int64 // ids that went from ineligible to eligible
}
