package member

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	domain "membership/internal/domain/member"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// memberRow is the gorm model for the member table.
type memberRow struct {
	ID              int64     `gorm:"primaryKey;autoIncrement"`
	FullName        string    `gorm:"column:full_name;size:255;not null"`
	Email           string    `gorm:"size:255;not null"`
	Phone           string    `gorm:"size:50;not null"`
	GoogleReview    bool      `gorm:"not null"`
	SocialFollow    bool      `gorm:"not null"`
	SharedContacts  bool      `gorm:"not null"`
	ReferredPatient bool      `gorm:"not null"`
	IsEligible      bool      `gorm:"not null;index"`
	CreatedAt       time.Time `gorm:"not null"`
}

func (memberRow) TableName() string { return "member" }

func rowFromDomain(m domain.Member) memberRow {
	return memberRow{
		ID:              m.ID,
		FullName:        m.FullName,
		Email:           m.Email,
		Phone:           m.Phone,
		GoogleReview:    m.Flags.GoogleReview,
		SocialFollow:    m.Flags.SocialFollow,
		SharedContacts:  m.Flags.SharedContacts,
		ReferredPatient: m.Flags.ReferredPatient,
		IsEligible:      m.IsEligible,
		CreatedAt:       m.CreatedAt,
	}
}

func (r memberRow) toDomain() domain.Member {
	return domain.Member{
		ID:       r.ID,
		FullName: r.FullName,
		Email:    r.Email,
		Phone:    r.Phone,
		Flags: domain.Flags{
			GoogleReview:    r.GoogleReview,
			SocialFollow:    r.SocialFollow,
			SharedContacts:  r.SharedContacts,
			ReferredPatient: r.ReferredPatient,
		},
		IsEligible: r.IsEligible,
		CreatedAt:  r.CreatedAt,
	}
}

// GormStore implements Store on PostgreSQL through gorm.
type GormStore struct {
	db *gorm.DB
}

var _ Store = (*GormStore)(nil)

// NewGormStore creates a member store over an open gorm connection.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// OpenPostgres connects to PostgreSQL with error translation enabled.
// PRE: dsn is a libpq-style or URL connection string
// POST: returns an open gorm handle with a bounded pool
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)
	return db, nil
}

// Migrate creates the member table and the case-insensitive email index.
// POST: lower(email) is unique
func (s *GormStore) Migrate(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(&memberRow{}); err != nil {
		return fmt.Errorf("auto-migrate member: %w", err)
	}
	if err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS idx_member_email_lower ON member (lower(email))`).Error; err != nil {
		return fmt.Errorf("create email index: %w", err)
	}
	return nil
}

func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// Insert creates a member row and returns it with its assigned id.
// POST: is_eligible == value.Flags.Eligible()
// POST: returns domain.ErrDuplicateEmail on a unique violation
func (s *GormStore) Insert(ctx context.Context, value domain.Member) (domain.Member, error) {
	value.SetFlags(value.Flags)
	if value.CreatedAt.IsZero() {
		value.CreatedAt = time.Now().UTC()
	}
	row := rowFromDomain(value)
	row.ID = 0
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if isDuplicateKey(err) {
			return domain.Member{}, fmt.Errorf("insert %s: %w", value.Email, domain.ErrDuplicateEmail)
		}
		return domain.Member{}, fmt.Errorf("insert member: %w", err)
	}
	return row.toDomain(), nil
}

func (s *GormStore) first(ctx context.Context, key string, query string, args ...any) (domain.Member, error) {
	var row memberRow
	err := s.db.WithContext(ctx).Where(query, args...).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Member{}, fmt.Errorf("member %s: %w", key, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Member{}, err
	}
	return row.toDomain(), nil
}

// GetByID retrieves a member by id.
func (s *GormStore) GetByID(ctx context.Context, id int64) (domain.Member, error) {
	return s.first(ctx, fmt.Sprint(id), "id = ?", id)
}

// GetByEmail retrieves a member by email, ignoring letter case.
func (s *GormStore) GetByEmail(ctx context.Context, email string) (domain.Member, error) {
	return s.first(ctx, email, "lower(email) = lower(?)", strings.TrimSpace(email))
}

// List retrieves the members matching filter. No pagination.
func (s *GormStore) List(ctx context.Context, filter ListFilter) ([]domain.Member, error) {
	q := s.db.WithContext(ctx).Model(&memberRow{})
	if eligible, ok := eligibilityValue(filter.Eligibility); ok {
		q = q.Where("is_eligible = ?", eligible)
	}
	if strings.TrimSpace(filter.Search) != "" {
		term := likePattern(filter.Search)
		q = q.Where(`(lower(full_name) LIKE ? ESCAPE '\' OR lower(email) LIKE ? ESCAPE '\')`, term, term)
	}

	var rows []memberRow
	if err := q.Order(orderBy(filter)).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	out := make([]domain.Member, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// Count returns the total number of members.
func (s *GormStore) Count(ctx context.Context) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&memberRow{}).Count(&n).Error
	return int(n), err
}

// UpdateFlags applies a batch of flag updates in one transaction.
// POST: each existing row has its flags set and is_eligible recomputed; unknown ids are counted in Skipped
func (s *GormStore) UpdateFlags(ctx context.Context, updates []FlagUpdate) (UpdateResult, error) {
	var result UpdateResult
	if len(updates) == 0 {
		return result, nil
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, u := range updates {
			var current memberRow
			err := tx.Select("id", "is_eligible").Where("id = ?", u.ID).First(&current).Error
			if errors.Is(err, gorm.ErrRecordNotFound) {
				result.Skipped++
				continue
			}
			if err != nil {
				return fmt.Errorf("load member %d: %w", u.ID, err)
			}

			eligible := u.Flags.Eligible()
			if err := tx.Model(&memberRow{}).Where("id = ?", u.ID).Updates(map[string]any{
				"google_review":    u.Flags.GoogleReview,
				"social_follow":    u.Flags.SocialFollow,
				"shared_contacts":  u.Flags.SharedContacts,
				"referred_patient": u.Flags.ReferredPatient,
				"is_eligible":      eligible,
			}).Error; err != nil {
				return fmt.Errorf("update member %d: %w", u.ID, err)
			}
			result.Updated++
			if eligible && !current.IsEligible {
				result.NewEligible = append(result.NewEligible, u.ID)
			}
		}
		return nil
	})
	if err != nil {
		return UpdateResult{}, err
	}
	return result, nil
}
