package member

import (
	"strings"

	domain "membership/internal/domain/member"
)

// foldCase is the case folding used for search on both sides of the comparison.
// SQLite reaches it through the casefold() SQL function.
func foldCase(s string) string {
	return strings.ToLower(s)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// likePattern wraps a search term for a substring LIKE match with wildcards escaped.
// Use with ESCAPE '\'.
func likePattern(search string) string {
	return "%" + likeEscaper.Replace(foldCase(strings.TrimSpace(search))) + "%"
}

// orderBy returns a safe ORDER BY expression. Only known columns are accepted;
// anything else falls back to insertion order.
func orderBy(filter ListFilter) string {
	col := "id"
	switch filter.Sort {
	case SortName:
		col = "full_name"
	case SortEmail:
		col = "email"
	case SortCreatedAt:
		col = "created_at"
	}
	dir := " ASC"
	if filter.Desc {
		dir = " DESC"
	}
	if col == "id" {
		return col + dir
	}
	// id breaks ties so paging through equal names stays stable.
	return col + dir + ", id" + dir
}

// eligibilityValue maps a roster filter onto the is_eligible column value; ok is false for "all".
func eligibilityValue(filter string) (value bool, ok bool) {
	switch domain.NormalizeFilter(filter) {
	case domain.FilterEligible:
		return true, true
	case domain.FilterIneligible:
		return false, true
	default:
		return false, false
	}
}
