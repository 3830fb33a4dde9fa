package projections

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"

	memberStore "membership/internal/adapters/storage/member"
	"membership/internal/domain/member"
)

// ExportHeader is the fixed first row of every export.
var ExportHeader = []string{
	"Name", "Email", "Phone",
	"Google Review", "Social Follow", "Shared Contacts", "Referred Patient",
	"Eligibility",
}

// ExportMembersDeps holds dependencies for ExportMembers.
type ExportMembersDeps struct {
	MemberStore RosterLister
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

func eligibilityLabel(b bool) string {
	if b {
		return "Eligible"
	}
	return "Ineligible"
}

// ExportRow renders one member in the export layout.
func ExportRow(m member.Member) []string {
	return []string{
		m.FullName, m.Email, m.Phone,
		yesNo(m.Flags.GoogleReview), yesNo(m.Flags.SocialFollow),
		yesNo(m.Flags.SharedContacts), yesNo(m.Flags.ReferredPatient),
		eligibilityLabel(m.IsEligible),
	}
}

// QueryExportMembers writes the whole member table as CSV.
// POST: one header row then one row per member in id order; returns the number of data rows
// INVARIANT: unfiltered and unpaginated
func QueryExportMembers(ctx context.Context, w io.Writer, deps ExportMembersDeps) (int, error) {
	members, err := deps.MemberStore.List(ctx, memberStore.ListFilter{Eligibility: member.FilterAll})
	if err != nil {
		return 0, fmt.Errorf("export members: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(ExportHeader); err != nil {
		return 0, fmt.Errorf("write export header: %w", err)
	}
	for i, m := range members {
		if err := cw.Write(ExportRow(m)); err != nil {
			return i, fmt.Errorf("write export row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return len(members), fmt.Errorf("flush export: %w", err)
	}
	return len(members), nil
}
