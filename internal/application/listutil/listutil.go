package listutil

import (
	"net/url"
	"slices"
	"strings"
)

// SortParams carries sorting parameters parsed from a request.
type SortParams struct {
	Sort string // column name; empty means insertion order
	Dir  string // "asc" or "desc"
}

// Desc reports whether the direction is descending.
func (s SortParams) Desc() bool {
	return s.Dir == "desc"
}

// RosterParams carries the roster view's filter, search and sort state.
type RosterParams struct {
	SortParams
	Filter string // "all", "eligible" or "ineligible"
	Search string
}

// RosterSortColumns are the columns the roster can be sorted by.
var RosterSortColumns = []string{"name", "email", "created_at"}

var rosterFilters = []string{"all", "eligible", "ineligible"}

// ParseSortParams extracts sort and dir from URL query values.
// POST: Sort is empty or one of allowedColumns; Dir is always "asc" or "desc"
func ParseSortParams(q url.Values, allowedColumns []string) SortParams {
	sort := q.Get("sort")
	dir := strings.ToLower(q.Get("dir"))

	if !slices.Contains(allowedColumns, sort) {
		sort = ""
	}
	if dir != "asc" && dir != "desc" {
		dir = "asc"
	}
	return SortParams{Sort: sort, Dir: dir}
}

// ParseRosterParams parses filter, search, sort and dir.
// POST: Filter is a known value (default "all"); Search is trimmed
func ParseRosterParams(q url.Values) RosterParams {
	filter := strings.ToLower(strings.TrimSpace(q.Get("filter")))
	if !slices.Contains(rosterFilters, filter) {
		filter = "all"
	}
	return RosterParams{
		SortParams: ParseSortParams(q, RosterSortColumns),
		Filter:     filter,
		Search:     strings.TrimSpace(q.Get("search")),
	}
}

// Values encodes the params back into a query, omitting defaults.
func (p RosterParams) Values() url.Values {
	v := url.Values{}
	if p.Filter != "" && p.Filter != "all" {
		v.Set("filter", p.Filter)
	}
	if p.Search != "" {
		v.Set("search", p.Search)
	}
	if p.Sort != "" {
		v.Set("sort", p.Sort)
		v.Set("dir", p.Dir)
	}
	return v
}

// SortLink returns the query string for a column header: sorting by col,
// flipping direction when col is already the active sort.
func (p RosterParams) SortLink(col string) string {
	next := p
	next.Sort = col
	next.Dir = "asc"
	if p.Sort == col && p.Dir == "asc" {
		next.Dir = "desc"
	}
	return next.Values().Encode()
}
