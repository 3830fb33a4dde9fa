package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"membership/internal/domain/member"
)

// EnrollMemberInput carries a public enrollment submission.
// ReferredPatient is accepted for symmetry with the form but always discarded:
// only staff can confirm a referral.
type EnrollMemberInput struct {
	FullName        string
	Email           string
	Phone           string
	GoogleReview    bool
	SocialFollow    bool
	SharedContacts  bool
	ReferredPatient bool
}

// EnrollMemberDeps holds dependencies for EnrollMember.
type EnrollMemberDeps struct {
	MemberStore MemberStore
	Notifier    *Notifier
	Events      EventCounter
	Now         func() time.Time
}

// ExecuteEnrollMember validates a submission and creates the member record.
// PRE: none; input is untrusted
// POST: on success a member exists with ReferredPatient=false, IsEligible=false, CreatedAt=now
// POST: errors are ErrInvalidEmail, ErrMissingField, ErrFieldTooLong, ErrDuplicateEmail, or a wrapped storage error
// INVARIANT: at most one member per email regardless of letter case; the storage constraint settles races
func ExecuteEnrollMember(ctx context.Context, input EnrollMemberInput, deps EnrollMemberDeps) (member.Member, error) {
	now := time.Now
	if deps.Now != nil {
		now = deps.Now
	}

	m := member.Member{
		FullName:  strings.TrimSpace(input.FullName),
		Email:     strings.TrimSpace(input.Email),
		Phone:     strings.TrimSpace(input.Phone),
		CreatedAt: now().UTC(),
	}
	m.SetFlags(member.Flags{
		GoogleReview:   input.GoogleReview,
		SocialFollow:   input.SocialFollow,
		SharedContacts: input.SharedContacts,
	})

	if err := m.Validate(); err != nil {
		countEvent(deps.Events, "member", "enroll_rejected")
		return member.Member{}, err
	}

	if _, err := deps.MemberStore.GetByEmail(ctx, m.Email); err == nil {
		countEvent(deps.Events, "member", "enroll_duplicate")
		return member.Member{}, member.ErrDuplicateEmail
	} else if !errors.Is(err, member.ErrNotFound) {
		return member.Member{}, fmt.Errorf("lookup %s: %w", m.Email, err)
	}

	created, err := deps.MemberStore.Insert(ctx, m)
	if err != nil {
		if errors.Is(err, member.ErrDuplicateEmail) {
			countEvent(deps.Events, "member", "enroll_duplicate")
		}
		return member.Member{}, err
	}

	slog.Info("member_event", "event", "member_enrolled", "member_id", created.ID)
	countEvent(deps.Events, "member", "member_enrolled")
	deps.Notifier.EnrollmentReceived(ctx, created)
	return created, nil
}
