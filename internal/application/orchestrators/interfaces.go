package orchestrators

import (
	"context"

	memberStore "membership/internal/adapters/storage/member"
	"membership/internal/domain/member"
)

// MemberStore is the subset of member persistence the orchestrators write through.
type MemberStore interface {
	Insert(ctx context.Context, m member.Member) (member.Member, error)
	GetByID(ctx context.Context, id int64) (member.Member, error)
	GetByEmail(ctx context.Context, email string) (member.Member, error)
	UpdateFlags(ctx context.Context, updates []memberStore.FlagUpdate) (memberStore.UpdateResult, error)
}

// EventCounter counts domain events for metrics. *perf.Collector satisfies it.
type EventCounter interface {
	CountEvent(kind, event string)
}

func countEvent(c EventCounter, kind, event string) {
	if c != nil {
		c.CountEvent(kind, event)
	}
}
