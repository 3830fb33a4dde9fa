package storage

import (
	"errors"
	"time"

	"gorm.io/gorm"

	"membership/internal/adapters/http/perf"
)

const gormStartKey = "membership:query_start"

// GormTiming is a gorm plugin that reports statement latency like TimedDB does for database/sql.
// Ops are labelled gorm_create, gorm_query, gorm_update, gorm_delete, gorm_row and gorm_raw.
type GormTiming struct {
	collector *perf.Collector
	threshold time.Duration
}

var _ gorm.Plugin = (*GormTiming)(nil)

// NewGormTiming creates the plugin. Install it with db.Use.
// PRE: collector may be nil
// POST: slow <= 0 uses DefaultSlowQuery
func NewGormTiming(collector *perf.Collector, slow time.Duration) *GormTiming {
	if slow <= 0 {
		slow = DefaultSlowQuery
	}
	return &GormTiming{collector: collector, threshold: slow}
}

func (g *GormTiming) Name() string { return "membership:timing" }

// Initialize registers a before and after callback around each gorm statement kind.
func (g *GormTiming) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	return errors.Join(
		cb.Create().Before("gorm:create").Register("membership:before_create", g.start),
		cb.Create().After("gorm:create").Register("membership:after_create", g.finish("gorm_create")),
		cb.Query().Before("gorm:query").Register("membership:before_query", g.start),
		cb.Query().After("gorm:query").Register("membership:after_query", g.finish("gorm_query")),
		cb.Update().Before("gorm:update").Register("membership:before_update", g.start),
		cb.Update().After("gorm:update").Register("membership:after_update", g.finish("gorm_update")),
		cb.Delete().Before("gorm:delete").Register("membership:before_delete", g.start),
		cb.Delete().After("gorm:delete").Register("membership:after_delete", g.finish("gorm_delete")),
		cb.Row().Before("gorm:row").Register("membership:before_row", g.start),
		cb.Row().After("gorm:row").Register("membership:after_row", g.finish("gorm_row")),
		cb.Raw().Before("gorm:raw").Register("membership:before_raw", g.start),
		cb.Raw().After("gorm:raw").Register("membership:after_raw", g.finish("gorm_raw")),
	)
}

func (g *GormTiming) start(db *gorm.DB) {
	db.InstanceSet(gormStartKey, time.Now())
}

func (g *GormTiming) finish(op string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		v, ok := db.InstanceGet(gormStartKey)
		if !ok {
			return
		}
		start, ok := v.(time.Time)
		if !ok {
			return
		}
		observeQuery(g.collector, g.threshold, op, time.Since(start))
	}
}
