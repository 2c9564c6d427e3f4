package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	pkgerrors "HelpdeskPulse/pkg/errors"
	pkglog "HelpdeskPulse/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"gorm.io/gorm"
)

// ErrHistoryDisabled is returned by List when no database is configured.
var ErrHistoryDisabled = errors.New("snapshot history is disabled")

// SnapshotRecord is the GORM model for the metric_snapshots table. Payload
// holds the JSON encoded snapshot.
type SnapshotRecord struct {
	ID         int64      `gorm:"primaryKey;column:id"`
	RangeKey   string     `gorm:"column:range_key;size:64;not null;index"`
	RangeStart *time.Time `gorm:"column:range_start"`
	RangeEnd   *time.Time `gorm:"column:range_end"`
	GrandTotal int64      `gorm:"column:grand_total;not null"`
	Partial    bool       `gorm:"column:partial;not null"`
	Payload    []byte     `gorm:"column:payload;type:json;not null"`
	CreatedAt  time.Time  `gorm:"column:created_at;not null"`
}

// TableName returns the table name.
func (SnapshotRecord) TableName() string {
	return "metric_snapshots"
}

// SnapshotHistoryRepo appends and lists dashboard snapshots. With a nil
// database it is disabled: Save is a no-op and List reports ErrHistoryDisabled.
type SnapshotHistoryRepo struct {
	db  *gorm.DB
	log *pkglog.LogHelper
}

// NewSnapshotHistoryRepo creates the repository and migrates its table.
func NewSnapshotHistoryRepo(db *gorm.DB, logger log.Logger) (*SnapshotHistoryRepo, error) {
	r := &SnapshotHistoryRepo{
		db:  db,
		log: pkglog.NewLogHelper(log.With(logger, "module", "data/history")),
	}
	if db == nil {
		return r, nil
	}
	if err := db.AutoMigrate(&SnapshotRecord{}); err != nil {
		return nil, fmt.Errorf("migrate metric_snapshots: %w", pkgerrors.ClassifyDBError(err))
	}
	return r, nil
}

// Enabled reports whether a database backs the repository.
func (r *SnapshotHistoryRepo) Enabled() bool {
	return r.db != nil
}

// Save appends a record.
func (r *SnapshotHistoryRepo) Save(ctx context.Context, rec *SnapshotRecord) error {
	if r.db == nil {
		return nil
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	if err := r.db.WithContext(ctx).Create(rec).Error; err != nil {
		dbErr := pkgerrors.ClassifyDBError(err)
		switch dbErr.Type {
		case pkgerrors.ErrorTypeConnectionError:
			r.log.Errorw("msg", "database connection error", "error", dbErr.Error())
		case pkgerrors.ErrorTypeMissingTable:
			r.log.Errorw("msg", "metric_snapshots table is missing", "error", dbErr.Error())
		default:
			r.log.Errorw("msg", "failed to store snapshot", "range", rec.RangeKey, "error", dbErr.Error())
		}
		return dbErr
	}

	r.log.Database("snapshot stored", "id", rec.ID, "range", rec.RangeKey, "partial", rec.Partial)
	return nil
}

// List returns up to limit records, newest first.
func (r *SnapshotHistoryRepo) List(ctx context.Context, limit int) ([]*SnapshotRecord, error) {
	if r.db == nil {
		return nil, ErrHistoryDisabled
	}
	if limit <= 0 {
		return nil, fmt.Errorf("list snapshots: limit must be positive, got %d", limit)
	}

	var records []*SnapshotRecord
	if err := r.db.WithContext(ctx).Order("id DESC").Limit(limit).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list snapshots: %w", pkgerrors.ClassifyDBError(err))
	}
	return records, nil
}
