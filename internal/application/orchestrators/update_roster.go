package orchestrators

import (
	"context"
	"fmt"
	"log/slog"

	memberStore "membership/internal/adapters/storage/member"
	"membership/internal/domain/member"
)

// RosterEdit is one row of the admin grid as submitted.
type RosterEdit struct {
	MemberID int64
	Flags    member.Flags
	// AdvisoryEligible is what the admin picked in the eligibility column.
	// It is never stored; eligibility always follows the flags.
	AdvisoryEligible bool
}

// UpdateRosterInput carries a bulk edit of the admin grid.
type UpdateRosterInput struct {
	Edits []RosterEdit
	Actor string
}

// UpdateRosterResult summarises a bulk edit.
type UpdateRosterResult struct {
	Updated       int
	Skipped       int // ids that matched no member
	NewlyEligible int
	Overridden    int // rows whose advisory eligibility disagreed with the flags
}

// UpdateRosterDeps holds dependencies for UpdateRoster.
type UpdateRosterDeps struct {
	MemberStore MemberStore
	Notifier    *Notifier
	Events      EventCounter
}

// ExecuteUpdateRoster applies every edit in one store batch.
// PRE: caller has been authorised as an administrator
// POST: every known member in Edits has its four flags set and is_eligible recomputed
// POST: unknown ids are skipped and only counted
// INVARIANT: duplicate ids in Edits collapse to the last occurrence
func ExecuteUpdateRoster(ctx context.Context, input UpdateRosterInput, deps UpdateRosterDeps) (UpdateRosterResult, error) {
	var result UpdateRosterResult

	last := make(map[int64]int, len(input.Edits))
	for i, e := range input.Edits {
		last[e.MemberID] = i
	}
	updates := make([]memberStore.FlagUpdate, 0, len(last))
	for i, e := range input.Edits {
		if last[e.MemberID] != i {
			continue
		}
		if e.AdvisoryEligible != e.Flags.Eligible() {
			result.Overridden++
		}
		updates = append(updates, memberStore.FlagUpdate{ID: e.MemberID, Flags: e.Flags})
	}

	res, err := deps.MemberStore.UpdateFlags(ctx, updates)
	if err != nil {
		return UpdateRosterResult{}, fmt.Errorf("update roster: %w", err)
	}
	result.Updated = res.Updated
	result.Skipped = res.Skipped
	result.NewlyEligible = len(res.NewEligible)

	slog.Info("roster_event",
		"event", "roster_updated",
		"actor", input.Actor,
		"submitted", len(input.Edits),
		"updated", result.Updated,
		"skipped", result.Skipped,
		"newly_eligible", result.NewlyEligible,
		"advisory_overridden", result.Overridden,
	)
	countEvent(deps.Events, "roster", "roster_updated")

	notifyNewlyEligible(ctx, deps.MemberStore, deps.Notifier, res.NewEligible)
	return result, nil
}

// notifyNewlyEligible emails members whose eligibility was just granted.
// Members that can no longer be loaded are logged and skipped.
func notifyNewlyEligible(ctx context.Context, store MemberStore, notifier *Notifier, ids []int64) {
	if len(ids) == 0 || notifier == nil {
		return
	}
	var recipients []member.Member
	for _, id := range ids {
		m, err := store.GetByID(ctx, id)
		if err != nil {
			slog.Warn("notify_lookup_failed", "member_id", id, "error", err)
			continue
		}
		recipients = append(recipients, m)
	}
	notifier.NowEligible(ctx, recipients)
}
