package member

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"membership/internal/adapters/storage"
	domain "membership/internal/domain/member"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := storage.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.MigrateDB(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewSQLiteStore(db)
}

func mustInsert(t *testing.T, s Store, name, email string, f domain.Flags) domain.Member {
	t.Helper()
	m, err := s.Insert(context.Background(), domain.Member{FullName: name, Email: email, Phone: "555-0100", Flags: f})
	if err != nil {
		t.Fatalf("Insert(%s): %v", email, err)
	}
	return m
}

var allFlags = domain.Flags{GoogleReview: true, SocialFollow: true, SharedContacts: true, ReferredPatient: true}

// TestSQLiteStore_InsertAndGet verifies round-trip of every column.
func TestSQLiteStore_InsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	created := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

	in := domain.Member{
		FullName:  "Jane Doe",
		Email:     "jane@example.com",
		Phone:     "555-1234",
		Flags:     domain.Flags{GoogleReview: true, SharedContacts: true},
		CreatedAt: created,
	}
	got, err := s.Insert(ctx, in)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if got.ID == 0 {
		t.Fatal("Insert did not assign an id")
	}

	byID, err := s.GetByID(ctx, got.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if byID.FullName != "Jane Doe" || byID.Phone != "555-1234" || byID.Flags != in.Flags {
		t.Errorf("GetByID = %+v", byID)
	}
	if !byID.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", byID.CreatedAt, created)
	}

	byEmail, err := s.GetByEmail(ctx, "JANE@EXAMPLE.COM")
	if err != nil {
		t.Fatalf("GetByEmail: %v", err)
	}
	if byEmail.ID != got.ID {
		t.Errorf("GetByEmail id = %d, want %d", byEmail.ID, got.ID)
	}
}

// TestSQLiteStore_InsertDerivesEligibility checks every flag combination and ignores a caller-set IsEligible.
func TestSQLiteStore_InsertDerivesEligibility(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for mask := 0; mask < 16; mask++ {
		f := domain.Flags{
			GoogleReview:    mask&1 != 0,
			SocialFollow:    mask&2 != 0,
			SharedContacts:  mask&4 != 0,
			ReferredPatient: mask&8 != 0,
		}
		email := string(rune('a'+mask)) + "@example.com"
		m, err := s.Insert(ctx, domain.Member{FullName: "X", Email: email, Phone: "1", Flags: f, IsEligible: mask%2 == 0})
		if err != nil {
			t.Fatalf("Insert: %v", err)
		}
		stored, err := s.GetByID(ctx, m.ID)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if stored.IsEligible != f.Eligible() {
			t.Errorf("flags %+v: is_eligible = %v, want %v", f, stored.IsEligible, f.Eligible())
		}
	}
}

// TestSQLiteStore_DuplicateEmail verifies case-insensitive uniqueness.
func TestSQLiteStore_DuplicateEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustInsert(t, s, "Jane", "jane@example.com", domain.Flags{})

	for _, email := range []string{"jane@example.com", "Jane@Example.COM"} {
		_, err := s.Insert(ctx, domain.Member{FullName: "Other", Email: email, Phone: "2"})
		if !errors.Is(err, domain.ErrDuplicateEmail) {
			t.Errorf("Insert(%s) error = %v, want ErrDuplicateEmail", email, err)
		}
	}
	if n, _ := s.Count(ctx); n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
}

// TestSQLiteStore_ConcurrentInsertSameEmail verifies exactly one of many racing inserts wins.
func TestSQLiteStore_ConcurrentInsertSameEmail(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes, duplicates := 0, 0
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Insert(ctx, domain.Member{FullName: "Racer", Email: "race@example.com", Phone: "1"})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, domain.ErrDuplicateEmail):
				duplicates++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || duplicates != 7 {
		t.Errorf("successes = %d, duplicates = %d, want 1 and 7", successes, duplicates)
	}
}

// TestSQLiteStore_NotFound verifies ErrNotFound for missing rows.
func TestSQLiteStore_NotFound(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetByID(ctx, 42); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetByID error = %v, want ErrNotFound", err)
	}
	if _, err := s.GetByEmail(ctx, "ghost@example.com"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("GetByEmail error = %v, want ErrNotFound", err)
	}
}

// TestSQLiteStore_List covers eligibility filters, search and ordering.
func TestSQLiteStore_List(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustInsert(t, s, "Charlie Brown", "charlie@example.com", allFlags)
	mustInsert(t, s, "alice smith", "alice@clinic.org", domain.Flags{GoogleReview: true})
	mustInsert(t, s, "Bob 100%", "bob_b@example.com", allFlags)

	tests := []struct {
		name   string
		filter ListFilter
		want   []string
	}{
		{"all in insertion order", ListFilter{}, []string{"charlie@example.com", "alice@clinic.org", "bob_b@example.com"}},
		{"unknown filter is all", ListFilter{Eligibility: "bogus"}, []string{"charlie@example.com", "alice@clinic.org", "bob_b@example.com"}},
		{"eligible", ListFilter{Eligibility: domain.FilterEligible}, []string{"charlie@example.com", "bob_b@example.com"}},
		{"ineligible", ListFilter{Eligibility: domain.FilterIneligible}, []string{"alice@clinic.org"}},
		{"search name ignores case", ListFilter{Search: "ALICE"}, []string{"alice@clinic.org"}},
		{"search email", ListFilter{Search: "example.com"}, []string{"charlie@example.com", "bob_b@example.com"}},
		{"search escapes percent", ListFilter{Search: "100%"}, []string{"bob_b@example.com"}},
		{"search escapes underscore", ListFilter{Search: "b_b"}, []string{"bob_b@example.com"}},
		{"underscore is literal", ListFilter{Search: "e_a"}, nil},
		{"search with filter", ListFilter{Search: "example", Eligibility: domain.FilterIneligible}, nil},
		{"sort by name", ListFilter{Sort: SortName}, []string{"bob_b@example.com", "charlie@example.com", "alice@clinic.org"}},
		{"sort by email desc", ListFilter{Sort: SortEmail, Desc: true}, []string{"charlie@example.com", "bob_b@example.com", "alice@clinic.org"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("List returned %d members, want %d: %+v", len(got), len(tt.want), got)
			}
			for i := range got {
				if got[i].Email != tt.want[i] {
					t.Errorf("List[%d] = %s, want %s", i, got[i].Email, tt.want[i])
				}
			}
		})
	}
}

// TestSQLiteStore_SearchFoldsUnicode verifies search ignores case beyond ASCII on both name and email.
func TestSQLiteStore_SearchFoldsUnicode(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	mustInsert(t, s, "Émile Zola", "emile@example.com", domain.Flags{})
	mustInsert(t, s, "Ödön Horváth", "ÖDÖN@example.at", domain.Flags{})
	mustInsert(t, s, "Jane Doe", "jane@example.com", domain.Flags{})

	tests := []struct {
		search string
		want   []string
	}{
		{"Émile", []string{"emile@example.com"}},
		{"émile", []string{"emile@example.com"}},
		{"ÉMILE", []string{"emile@example.com"}},
		{"zola", []string{"emile@example.com"}},
		{"horvÁth", []string{"ÖDÖN@example.at"}},
		{"ödön@", []string{"ÖDÖN@example.at"}},
		{"ë", nil},
	}
	for _, tt := range tests {
		t.Run(tt.search, func(t *testing.T) {
			got, err := s.List(ctx, ListFilter{Search: tt.search})
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("List(%q) returned %d members, want %d", tt.search, len(got), len(tt.want))
			}
			for i := range got {
				if got[i].Email != tt.want[i] {
					t.Errorf("List[%d] = %s, want %s", i, got[i].Email, tt.want[i])
				}
			}
		})
	}
}

// TestSQLiteStore_UpdateFlags verifies recomputed eligibility, skipped ids and newly eligible ids.
func TestSQLiteStore_UpdateFlags(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := mustInsert(t, s, "A", "a@example.com", domain.Flags{GoogleReview: true})
	b := mustInsert(t, s, "B", "b@example.com", allFlags)

	res, err := s.UpdateFlags(ctx, []FlagUpdate{
		{ID: a.ID, Flags: allFlags},
		{ID: b.ID, Flags: domain.Flags{SocialFollow: true}},
		{ID: 999, Flags: allFlags},
	})
	if err != nil {
		t.Fatalf("UpdateFlags: %v", err)
	}
	if res.Updated != 2 || res.Skipped != 1 {
		t.Errorf("result = %+v, want Updated=2 Skipped=1", res)
	}
	if len(res.NewEligible) != 1 || res.NewEligible[0] != a.ID {
		t.Errorf("NewEligible = %v, want [%d]", res.NewEligible, a.ID)
	}

	gotA, _ := s.GetByID(ctx, a.ID)
	if !gotA.IsEligible || gotA.Flags != allFlags {
		t.Errorf("member A = %+v, want all flags and eligible", gotA)
	}
	gotB, _ := s.GetByID(ctx, b.ID)
	if gotB.IsEligible || gotB.Flags != (domain.Flags{SocialFollow: true}) {
		t.Errorf("member B = %+v, want only social follow and ineligible", gotB)
	}
	if n, _ := s.Count(ctx); n != 2 {
		t.Errorf("Count = %d, want 2", n)
	}
}

// TestSQLiteStore_UpdateFlagsEmpty verifies an empty batch is a no-op.
func TestSQLiteStore_UpdateFlagsEmpty(t *testing.T) {
	s := newTestStore(t)
	res, err := s.UpdateFlags(context.Background(), nil)
	if err != nil {
		t.Fatalf("UpdateFlags: %v", err)
	}
	if res.Updated != 0 || res.Skipped != 0 {
		t.Errorf("result = %+v, want zero", res)
	}
}

// TestLikePattern verifies wildcard escaping.
func TestLikePattern(t *testing.T) {
	tests := map[string]string{
		"Jane":    "%jane%",
		" 50% ":   `%50\%%`,
		"a_b":     `%a\_b%`,
		`back\sl`: `%back\\sl%`,
		"ÉMILE":   "%émile%",
	}
	for in, want := range tests {
		if got := likePattern(in); got != want {
			t.Errorf("likePattern(%q) = %q, want %q", in, got, want)
		}
	}
}
