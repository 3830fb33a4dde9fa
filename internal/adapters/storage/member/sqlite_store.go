package member

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"membership/internal/adapters/storage"
	domain "membership/internal/domain/member"
)

const memberColumns = "id, full_name, email, phone, google_review, social_follow, shared_contacts, referred_patient, is_eligible, created_at"

// SQLite's built-in lower() only folds ASCII, so search uses casefold() instead.
func init() {
	sqlite.MustRegisterDeterministicScalarFunction("casefold", 1, func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
		switch v := args[0].(type) {
		case string:
			return foldCase(v), nil
		case []byte:
			return foldCase(string(v)), nil
		default:
			return v, nil
		}
	})
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new member store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanMember(row scanner) (domain.Member, error) {
	var m domain.Member
	var createdAt string
	err := row.Scan(
		&m.ID,
		&m.FullName,
		&m.Email,
		&m.Phone,
		&m.Flags.GoogleReview,
		&m.Flags.SocialFollow,
		&m.Flags.SharedContacts,
		&m.Flags.ReferredPatient,
		&m.IsEligible,
		&createdAt,
	)
	if err != nil {
		return domain.Member{}, err
	}
	if t, perr := time.Parse(time.RFC3339, createdAt); perr == nil {
		m.CreatedAt = t
	}
	return m, nil
}

// isUniqueViolation reports whether err is a SQLite UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var serr *sqlite.Error
	if errors.As(err, &serr) {
		return serr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Insert creates a member row and returns it with its assigned id.
// PRE: value has been validated
// POST: is_eligible == value.Flags.Eligible(); created_at set to now when zero
// POST: returns domain.ErrDuplicateEmail if the email exists in any letter case
func (s *SQLiteStore) Insert(ctx context.Context, value domain.Member) (domain.Member, error) {
	value.SetFlags(value.Flags)
	if value.CreatedAt.IsZero() {
		value.CreatedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO member (full_name, email, phone, google_review, social_follow, shared_contacts, referred_patient, is_eligible, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		value.FullName,
		value.Email,
		value.Phone,
		value.Flags.GoogleReview,
		value.Flags.SocialFollow,
		value.Flags.SharedContacts,
		value.Flags.ReferredPatient,
		value.IsEligible,
		value.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Member{}, fmt.Errorf("insert %s: %w", value.Email, domain.ErrDuplicateEmail)
		}
		return domain.Member{}, fmt.Errorf("insert member: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return domain.Member{}, fmt.Errorf("insert member: %w", err)
	}
	value.ID = id
	return value, nil
}

// GetByID retrieves a member by id.
// POST: returns domain.ErrNotFound if absent
func (s *SQLiteStore) GetByID(ctx context.Context, id int64) (domain.Member, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+memberColumns+" FROM member WHERE id = ?", id)
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Member{}, fmt.Errorf("member %d: %w", id, domain.ErrNotFound)
	}
	return m, err
}

// GetByEmail retrieves a member by email, ignoring letter case.
// POST: returns domain.ErrNotFound if absent
func (s *SQLiteStore) GetByEmail(ctx context.Context, email string) (domain.Member, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+memberColumns+" FROM member WHERE email = ?", strings.TrimSpace(email))
	m, err := scanMember(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Member{}, fmt.Errorf("member %s: %w", email, domain.ErrNotFound)
	}
	return m, err
}

// listWhereClause builds the WHERE clause and args for List queries.
func listWhereClause(filter ListFilter) (string, []any) {
	where := " WHERE 1=1"
	var args []any

	if eligible, ok := eligibilityValue(filter.Eligibility); ok {
		where += " AND is_eligible = ?"
		args = append(args, eligible)
	}
	if strings.TrimSpace(filter.Search) != "" {
		where += ` AND (casefold(full_name) LIKE ? ESCAPE '\' OR casefold(email) LIKE ? ESCAPE '\')`
		term := likePattern(filter.Search)
		args = append(args, term, term)
	}
	return where, args
}

// List retrieves the members matching filter. No pagination.
// POST: results ordered per filter.Sort, insertion order by default
func (s *SQLiteStore) List(ctx context.Context, filter ListFilter) ([]domain.Member, error) {
	where, args := listWhereClause(filter)
	query := "SELECT " + memberColumns + " FROM member" + where + " ORDER BY " + orderBy(filter)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var results []domain.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

// Count returns the total number of members.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM member").Scan(&n)
	return n, err
}

// UpdateFlags applies a batch of flag updates in one transaction.
// PRE: updates may reference ids that do not exist
// POST: each existing row has its flags set and is_eligible recomputed; unknown ids are counted in Skipped
// POST: on error nothing is written
func (s *SQLiteStore) UpdateFlags(ctx context.Context, updates []FlagUpdate) (UpdateResult, error) {
	var result UpdateResult
	if len(updates) == 0 {
		return result, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return result, err
	}
	defer tx.Rollback()

	for _, u := range updates {
		var wasEligible bool
		err := tx.QueryRowContext(ctx, "SELECT is_eligible FROM member WHERE id = ?", u.ID).Scan(&wasEligible)
		if errors.Is(err, sql.ErrNoRows) {
			result.Skipped++
			continue
		}
		if err != nil {
			return UpdateResult{}, fmt.Errorf("load member %d: %w", u.ID, err)
		}

		eligible := u.Flags.Eligible()
		if _, err := tx.ExecContext(ctx,
			`UPDATE member SET google_review = ?, social_follow = ?, shared_contacts = ?, referred_patient = ?, is_eligible = ? WHERE id = ?`,
			u.Flags.GoogleReview,
			u.Flags.SocialFollow,
			u.Flags.SharedContacts,
			u.Flags.ReferredPatient,
			eligible,
			u.ID,
		); err != nil {
			return UpdateResult{}, fmt.Errorf("update member %d: %w", u.ID, err)
		}
		result.Updated++
		if eligible && !wasEligible {
			result.NewEligible = append(result.NewEligible, u.ID)
		}
	}

	if err := tx.Commit(); err != nil {
		return UpdateResult{}, err
	}
	return result, nil
}
