package orchestrators

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	memberStore "membership/internal/adapters/storage/member"
	"membership/internal/domain/member"
)

// mockMemberStore is an in-memory MemberStore with the same eligibility and uniqueness rules as the real stores.
type mockMemberStore struct {
	mu      sync.Mutex
	members map[int64]member.Member
	nextID  int64

	insertErr error
	updateErr error
	lookupErr error
	// blindLookup makes GetByEmail miss, simulating a concurrent insert between check and write.
	blindLookup bool

	updateCalls int
}

func newMockMemberStore() *mockMemberStore {
	return &mockMemberStore{members: make(map[int64]member.Member)}
}

// seed inserts a member directly, bypassing error injection.
func (s *mockMemberStore) seed(name, email string, f member.Flags) member.Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	m := member.Member{ID: s.nextID, FullName: name, Email: email, Phone: "555"}
	m.SetFlags(f)
	s.members[m.ID] = m
	return m
}

func (s *mockMemberStore) Insert(_ context.Context, m member.Member) (member.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return member.Member{}, s.insertErr
	}
	for _, existing := range s.members {
		if strings.EqualFold(existing.Email, m.Email) {
			return member.Member{}, fmt.Errorf("insert: %w", member.ErrDuplicateEmail)
		}
	}
	s.nextID++
	m.ID = s.nextID
	m.SetFlags(m.Flags)
	s.members[m.ID] = m
	return m, nil
}

func (s *mockMemberStore) GetByID(_ context.Context, id int64) (member.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[id]
	if !ok {
		return member.Member{}, member.ErrNotFound
	}
	return m, nil
}

func (s *mockMemberStore) GetByEmail(_ context.Context, email string) (member.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookupErr != nil {
		return member.Member{}, s.lookupErr
	}
	if s.blindLookup {
		return member.Member{}, member.ErrNotFound
	}
	for _, m := range s.members {
		if strings.EqualFold(m.Email, strings.TrimSpace(email)) {
			return m, nil
		}
	}
	return member.Member{}, member.ErrNotFound
}

func (s *mockMemberStore) UpdateFlags(_ context.Context, updates []memberStore.FlagUpdate) (memberStore.UpdateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateCalls++
	var res memberStore.UpdateResult
	if s.updateErr != nil {
		return res, s.updateErr
	}
	for _, u := range updates {
		m, ok := s.members[u.ID]
		if !ok {
			res.Skipped++
			continue
		}
		was := m.IsEligible
		m.SetFlags(u.Flags)
		s.members[u.ID] = m
		res.Updated++
		if m.IsEligible && !was {
			res.NewEligible = append(res.NewEligible, u.ID)
		}
	}
	return res, nil
}

func (s *mockMemberStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}

func (s *mockMemberStore) all() []member.Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]member.Member, 0, len(s.members))
	for _, m := range s.members {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// eventRecorder counts events by "kind/event".
type eventRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (r *eventRecorder) CountEvent(kind, event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counts == nil {
		r.counts = make(map[string]int)
	}
	r.counts[kind+"/"+event]++
}

func (r *eventRecorder) get(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[key]
}
