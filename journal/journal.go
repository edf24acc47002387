// Package journal persists interception decisions to SQLite.
package journal

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-json-experiment/json"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"gorm.io/gorm/schema"

	"github.com/marrasen/bidi"
)

// TablePrefix is prepended to every journal table name.
const TablePrefix = "bidi_"

// Record is one decided request.
type Record struct {
	ID           uint      `gorm:"primaryKey"`
	CreatedAt    time.Time `gorm:"index"`
	Intercept    string    `gorm:"size:128;index"`
	Request      string    `gorm:"size:128"`
	URL          string
	Method       string `gorm:"size:16"`
	Outcome      string `gorm:"size:16;index"`
	Continuation string // sparse wire params, empty when handled
	DurationMS   float64
	Error        string
}

// Journal records every dispatch decision. It implements
// bidi.DispatchObserver.
type Journal struct {
	db  *gorm.DB
	log zerolog.Logger
}

var _ bidi.DispatchObserver = (*Journal)(nil)

// Open opens (or creates) the journal database at dsn and migrates it.
// Use ":memory:" for a throwaway journal.
func Open(dsn string, log zerolog.Logger) (*Journal, error) {
	log = log.With().Str("component", "journal").Logger()
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         newGormLogger(log).LogMode(logger.Warn),
		NamingStrategy: schema.NamingStrategy{TablePrefix: TablePrefix},
	})
	if err != nil {
		return nil, err
	}
	if strings.Contains(dsn, ":memory:") {
		// Every pooled connection would otherwise see its own empty database.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, err
	}
	log.Debug().Str("dsn", dsn).Msg("journal opened")
	return &Journal{db: db, log: log}, nil
}

// BeforeDispatch implements bidi.DispatchObserver.
func (j *Journal) BeforeDispatch(ctx context.Context, _ *bidi.BeforeRequestSentParameters) context.Context {
	return ctx
}

// AfterDispatch stores d. Write failures are logged, never returned to the
// dispatcher.
func (j *Journal) AfterDispatch(ctx context.Context, d *bidi.Decision, err error) {
	rec := Record{
		Intercept:  d.Intercept,
		Request:    d.Request,
		URL:        d.URL,
		Method:     d.Method,
		Outcome:    string(d.Outcome),
		DurationMS: float64(d.Duration.Microseconds()) / 1e3,
	}
	if d.Continuation != nil {
		if obj, encErr := bidi.Encode(d.Continuation); encErr == nil {
			data, _ := json.Marshal(obj, json.Deterministic(true))
			rec.Continuation = string(data)
		}
	}
	if joined := errors.Join(d.Err, err); joined != nil {
		rec.Error = joined.Error()
	}

	// The dispatch context dies with the session; the write should not.
	if werr := j.db.WithContext(context.WithoutCancel(ctx)).Create(&rec).Error; werr != nil {
		j.log.Warn().Err(werr).Str("request", d.Request).Msg("journal write failed")
	}
}

// Recent returns up to n records, newest first.
func (j *Journal) Recent(ctx context.Context, n int) ([]Record, error) {
	var records []Record
	err := j.db.WithContext(ctx).Order("id desc").Limit(n).Find(&records).Error
	return records, err
}

// Summary counts records per outcome.
func (j *Journal) Summary(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		Outcome string
		Count   int64
	}
	err := j.db.WithContext(ctx).
		Model(&Record{}).
		Select("outcome, count(*) as count").
		Group("outcome").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	summary := make(map[string]int64, len(rows))
	for _, r := range rows {
		summary[r.Outcome] = r.Count
	}
	return summary, nil
}

// Close closes the database.
func (j *Journal) Close() error {
	sqlDB, err := j.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
