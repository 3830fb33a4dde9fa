package projections

import (
	"context"
	"fmt"
	"strings"

	memberStore "membership/internal/adapters/storage/member"
	"membership/internal/domain/member"
)

// GetRosterQuery carries query parameters.
type GetRosterQuery struct {
	Filter string // all, eligible or ineligible; anything else means all
	Search string
	Sort   string // name, email or created_at; empty keeps insertion order
	Dir    string // asc or desc
}

// GetRosterResult carries the query result.
type GetRosterResult struct {
	Members []member.Member
	Filter  string
	Search  string
	Shown   int
	Total   int // size of the whole table, for the "showing N of M" summary
}

// GetRosterDeps holds dependencies for GetRoster.
type GetRosterDeps struct {
	MemberStore RosterLister
}

func rosterSort(sort string) string {
	switch sort {
	case memberStore.SortName, memberStore.SortEmail, memberStore.SortCreatedAt:
		return sort
	default:
		return memberStore.SortDefault
	}
}

// QueryGetRoster lists members for the admin grid.
// PRE: caller has been authorised as an administrator
// POST: every returned member matches Filter and, when Search is set, contains it in name or email ignoring case
// INVARIANT: search text is matched literally; LIKE wildcards are escaped by the store
func QueryGetRoster(ctx context.Context, query GetRosterQuery, deps GetRosterDeps) (GetRosterResult, error) {
	filter := member.NormalizeFilter(query.Filter)
	search := strings.TrimSpace(query.Search)

	members, err := deps.MemberStore.List(ctx, memberStore.ListFilter{
		Eligibility: filter,
		Search:      search,
		Sort:        rosterSort(query.Sort),
		Desc:        strings.EqualFold(query.Dir, "desc"),
	})
	if err != nil {
		return GetRosterResult{}, fmt.Errorf("list roster: %w", err)
	}
	total, err := deps.MemberStore.Count(ctx)
	if err != nil {
		return GetRosterResult{}, fmt.Errorf("count roster: %w", err)
	}

	return GetRosterResult{
		Members: members,
		Filter:  filter,
		Search:  search,
		Shown:   len(members),
		Total:   total,
	}, nil
}
