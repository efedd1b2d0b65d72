// Package archive persists emitted events in a SQL store so that circle
// history can be queried after the live stream has moved on.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"sorosusu/core/events"
	"sorosusu/core/types"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

var ErrEmptyDSN = errors.New("archive: dsn required")

// Record is one archived event. Sequence is strictly increasing in emission
// order and serves as the pagination cursor.
type Record struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	Sequence   int64     `gorm:"uniqueIndex;not null"`
	Type       string    `gorm:"size:64;index;not null"`
	CircleID   uint64    `gorm:"index"`
	Attributes string    `gorm:"type:text"`
	RecordedAt time.Time `gorm:"index"`
}

func (Record) TableName() string { return "susu_events" }

// Event decodes the stored attributes back into the wire shape.
func (r Record) Event() (*types.Event, error) {
	attrs := map[string]string{}
	if strings.TrimSpace(r.Attributes) != "" {
		if err := json.Unmarshal([]byte(r.Attributes), &attrs); err != nil {
			return nil, fmt.Errorf("archive: decode record %s: %w", r.ID, err)
		}
	}
	return &types.Event{Type: r.Type, Attributes: attrs}, nil
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	CircleID uint64
	Type     string
	After    int64
	Limit    int
}

// Archive implements events.Emitter over a gorm database.
type Archive struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time

	mu  sync.Mutex
	seq int64
}

// Open connects to dsn. DSNs starting with postgres:// or postgresql://, or
// carrying a host= keyword, use the postgres driver; anything else is treated
// as a sqlite path or file: URI.
func Open(dsn string, logger *slog.Logger) (*Archive, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrEmptyDSN
	}
	db, err := gorm.Open(dialector(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("archive: open: %w", err)
	}
	return New(db, logger)
}

func dialector(dsn string) gorm.Dialector {
	lower := strings.ToLower(dsn)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"), strings.Contains(lower, "host="):
		return postgres.Open(dsn)
	default:
		return sqlite.Open(strings.TrimPrefix(dsn, "sqlite://"))
	}
}

// New migrates the schema on db and resumes the sequence counter.
func New(db *gorm.DB, logger *slog.Logger) (*Archive, error) {
	if db == nil {
		return nil, errors.New("archive: database required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("archive: migrate: %w", err)
	}
	var last int64
	if err := db.Model(&Record{}).Select("COALESCE(MAX(sequence), 0)").Scan(&last).Error; err != nil {
		return nil, fmt.Errorf("archive: load sequence: %w", err)
	}
	return &Archive{db: db, logger: logger, now: time.Now, seq: last}, nil
}

// Emit implements events.Emitter. Failures are logged and never reach the
// emitting engine.
func (a *Archive) Emit(evt events.Event) {
	if a == nil || evt == nil {
		return
	}
	if _, err := a.Record(context.Background(), evt); err != nil {
		a.logger.Error("archive: record event", "type", evt.EventType(), "error", err)
	}
}

// Record stores evt and returns the persisted row.
func (a *Archive) Record(ctx context.Context, evt events.Event) (*Record, error) {
	attrs := map[string]string{}
	if payload, ok := evt.(events.Payload); ok && payload.Event() != nil && payload.Event().Attributes != nil {
		attrs = payload.Event().Attributes
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("archive: encode attributes: %w", err)
	}
	var circleID uint64
	if raw := attrs["circleId"]; raw != "" {
		circleID, _ = strconv.ParseUint(raw, 10, 64)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	record := &Record{
		ID:         uuid.New(),
		Sequence:   a.seq + 1,
		Type:       evt.EventType(),
		CircleID:   circleID,
		Attributes: string(encoded),
		RecordedAt: a.now().UTC(),
	}
	if err := a.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, err
	}
	a.seq = record.Sequence
	return record, nil
}

// List returns records matching filter in sequence order.
func (a *Archive) List(ctx context.Context, filter Filter) ([]Record, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	query := a.db.WithContext(ctx).Model(&Record{})
	if filter.CircleID != 0 {
		query = query.Where("circle_id = ?", filter.CircleID)
	}
	if t := strings.TrimSpace(filter.Type); t != "" {
		query = query.Where("type = ?", t)
	}
	if filter.After > 0 {
		query = query.Where("sequence > ?", filter.After)
	}
	var records []Record
	if err := query.Order("sequence asc").Limit(limit).Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

// Close releases the underlying connection pool.
func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
