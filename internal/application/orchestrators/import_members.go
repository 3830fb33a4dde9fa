package orchestrators

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	memberStore "membership/internal/adapters/storage/member"
	"membership/internal/domain/member"
)

// ImportMembersInput carries the CSV stream and import options.
// PRE: Reader is a CSV with a header row in the export layout; Name and Email columns are required
// INVARIANT: existing members are never deleted; their name, phone and created_at are never changed
type ImportMembersInput struct {
	Reader     io.Reader
	Actor      string
	DryRun     bool
	UpdateMode bool // overwrite flags of existing members instead of skipping them
}

// ImportMembersResult holds aggregate counts and per-row errors from an import run.
type ImportMembersResult struct {
	Total         int                     `json:"total"`
	Created       int                     `json:"created"`
	Updated       int                     `json:"updated"`
	Skipped       int                     `json:"skipped"`
	NewlyEligible int                     `json:"newly_eligible"` // existing members an update granted eligibility
	Errors        []ImportMembersRowError `json:"errors,omitempty"`
	DryRun        bool                    `json:"dry_run"`
	Unknown       []string                `json:"unknown_columns,omitempty"`
}

// ImportMembersRowError describes a problem with a single CSV row. Row 1 is the header.
type ImportMembersRowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// ImportMembersDeps holds external dependencies for the import orchestrator.
type ImportMembersDeps struct {
	MemberStore MemberStore
	Events      EventCounter
	Notifier    *Notifier // optional; emails members an update-mode import made eligible
	Now         func() time.Time
}

// ImportMembersValidationError is returned when the CSV structure is invalid (e.g. missing required columns).
type ImportMembersValidationError struct {
	Message string
}

func (e *ImportMembersValidationError) Error() string {
	return e.Message
}

// normalizeHeader maps "Google Review", "google_review" and "GOOGLEREVIEW" to one key.
func normalizeHeader(h string) string {
	h = strings.ToUpper(strings.TrimSpace(h))
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(h)
}

var importColumns = map[string]bool{
	"NAME": true, "FULLNAME": true, "EMAIL": true, "PHONE": true,
	"GOOGLEREVIEW": true, "SOCIALFOLLOW": true, "SHAREDCONTACTS": true, "REFERREDPATIENT": true,
	"ELIGIBILITY": true,
}

// parseFlag accepts the export's Yes/No and the usual boolean spellings. Empty is false.
func parseFlag(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "yes", "y", "true", "1":
		return true, nil
	case "no", "n", "false", "0", "":
		return false, nil
	default:
		return false, fmt.Errorf("invalid flag value %q", v)
	}
}

// ExecuteImportMembers parses a CSV stream and creates or updates member records.
// POST: new emails are inserted; existing emails are skipped, or have their flags updated when UpdateMode is set
// POST: the Eligibility column is ignored; eligibility is recomputed for every written row
// POST: members made eligible by an update-mode import get the eligibility email, inserted rows get none
// INVARIANT: when DryRun is set no writes occur and no email is sent
func ExecuteImportMembers(ctx context.Context, input ImportMembersInput, deps ImportMembersDeps) (ImportMembersResult, error) {
	now := time.Now
	if deps.Now != nil {
		now = deps.Now
	}

	cr := csv.NewReader(input.Reader)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return ImportMembersResult{}, &ImportMembersValidationError{Message: "CSV is empty or unreadable"}
	}

	colIdx := make(map[string]int, len(header))
	var unknownCols []string
	for i, h := range header {
		key := normalizeHeader(h)
		if key == "FULLNAME" {
			key = "NAME"
		}
		if _, dup := colIdx[key]; !dup {
			colIdx[key] = i
		}
		if !importColumns[key] {
			unknownCols = append(unknownCols, h)
		}
	}
	if _, ok := colIdx["NAME"]; !ok {
		return ImportMembersResult{}, &ImportMembersValidationError{Message: "CSV missing required column: Name"}
	}
	if _, ok := colIdx["EMAIL"]; !ok {
		return ImportMembersResult{}, &ImportMembersValidationError{Message: "CSV missing required column: Email"}
	}

	getCol := func(row []string, col string) string {
		i, ok := colIdx[col]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	result := ImportMembersResult{DryRun: input.DryRun, Unknown: unknownCols}
	seen := make(map[string]bool)
	var updates []memberStore.FlagUpdate
	rowNum := 1

	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		rowNum++
		var parseErr *csv.ParseError
		if err != nil && !errors.As(err, &parseErr) {
			return result, fmt.Errorf("read csv: %w", err)
		}
		if err != nil {
			result.Errors = append(result.Errors, ImportMembersRowError{Row: rowNum, Message: "unreadable row: " + err.Error()})
			continue
		}
		result.Total++

		name := getCol(row, "NAME")
		if name == "" {
			result.Errors = append(result.Errors, ImportMembersRowError{Row: rowNum, Message: "name is required"})
			continue
		}
		email, err := member.ParseEmail(getCol(row, "EMAIL"))
		if err != nil {
			result.Errors = append(result.Errors, ImportMembersRowError{Row: rowNum, Message: "invalid email: " + getCol(row, "EMAIL")})
			continue
		}

		var flags member.Flags
		var flagErr error
		for _, f := range []struct {
			col string
			dst *bool
		}{
			{"GOOGLEREVIEW", &flags.GoogleReview},
			{"SOCIALFOLLOW", &flags.SocialFollow},
			{"SHAREDCONTACTS", &flags.SharedContacts},
			{"REFERREDPATIENT", &flags.ReferredPatient},
		} {
			v, err := parseFlag(getCol(row, f.col))
			if err != nil {
				flagErr = err
				break
			}
			*f.dst = v
		}
		if flagErr != nil {
			result.Errors = append(result.Errors, ImportMembersRowError{Row: rowNum, Message: flagErr.Error()})
			continue
		}

		key := strings.ToLower(email)
		if seen[key] {
			result.Errors = append(result.Errors, ImportMembersRowError{Row: rowNum, Message: "email repeated in file: " + email})
			continue
		}
		seen[key] = true

		existing, lookupErr := deps.MemberStore.GetByEmail(ctx, email)
		if lookupErr != nil && !errors.Is(lookupErr, member.ErrNotFound) {
			return result, fmt.Errorf("lookup %s: %w", email, lookupErr)
		}
		exists := lookupErr == nil

		if exists {
			if !input.UpdateMode {
				result.Skipped++
				continue
			}
			result.Updated++
			updates = append(updates, memberStore.FlagUpdate{ID: existing.ID, Flags: flags})
			continue
		}

		m := member.Member{FullName: name, Email: email, Phone: getCol(row, "PHONE"), CreatedAt: now().UTC()}
		m.SetFlags(flags)
		if err := m.Validate(); err != nil {
			result.Errors = append(result.Errors, ImportMembersRowError{Row: rowNum, Message: err.Error()})
			continue
		}
		if input.DryRun {
			result.Created++
			continue
		}
		if _, err := deps.MemberStore.Insert(ctx, m); err != nil {
			if errors.Is(err, member.ErrDuplicateEmail) {
				result.Skipped++
				continue
			}
			slog.Error("members_import_save_failed", "row", rowNum, "error", err)
			result.Errors = append(result.Errors, ImportMembersRowError{Row: rowNum, Message: "save failed (see server log)"})
			continue
		}
		result.Created++
	}

	var newEligible []int64
	if !input.DryRun && len(updates) > 0 {
		res, err := deps.MemberStore.UpdateFlags(ctx, updates)
		if err != nil {
			return result, fmt.Errorf("apply imported flags: %w", err)
		}
		result.Updated = res.Updated
		result.NewlyEligible = len(res.NewEligible)
		newEligible = res.NewEligible
	}

	slog.Info("roster_event",
		"event", "members_imported",
		"actor", input.Actor,
		"dry_run", input.DryRun,
		"update_mode", input.UpdateMode,
		"total", result.Total,
		"created", result.Created,
		"updated", result.Updated,
		"skipped", result.Skipped,
		"newly_eligible", result.NewlyEligible,
		"errors", len(result.Errors),
	)
	if !input.DryRun {
		countEvent(deps.Events, "roster", "members_imported")
	}
	notifyNewlyEligible(ctx, deps.MemberStore, deps.Notifier, newEligible)
	return result, nil
}
