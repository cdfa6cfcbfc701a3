// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the checkpoint and status store over
// the harvest_pids table.
//
// All functions are context-aware and accept a *gorm.DB handle. Every call
// is a short, independent statement: no transaction spans more than one
// identifier, and the (endpoint_id, pid) primary key is the only guard
// against concurrent fetches of the same identifier.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-filemeta-harvester/internal/domain"
)

// EnsureSchema creates the harvest, file and raw tables if absent.
func EnsureSchema(ctx context.Context, db *gorm.DB) error {
	return AutoMigrate(db.WithContext(ctx))
}

// LatestWatermark returns the greatest datestamp recorded for endpointID
// across all statuses, or nil when the endpoint has no dated rows.
func LatestWatermark(ctx context.Context, db *gorm.DB, endpointID string) (*time.Time, error) {
	// ORDER BY + LIMIT instead of MAX(): SQLite returns MAX() as TEXT.
	var rows []domain.HarvestRecord
	err := db.WithContext(ctx).
		Select("datestamp").
		Where("endpoint_id = ? AND datestamp IS NOT NULL", endpointID).
		Order("datestamp DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil || len(rows) == 0 || rows[0].Datestamp == nil {
		return nil, err
	}
	ts := rows[0].Datestamp.UTC()
	return &ts, nil
}

// RecordPending bulk-inserts identifiers as pending, skipping any
// (endpoint_id, pid) that already exists. Existing rows keep their status and
// datestamp. It returns the number of rows actually inserted.
func RecordPending(ctx context.Context, db *gorm.DB, endpointID string, ids []domain.HarvestRecord, batchSize int) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = len(ids)
	}
	now := time.Now().UTC()
	rows := make([]domain.HarvestRecord, len(ids))
	for i, r := range ids {
		rows[i] = domain.HarvestRecord{
			EndpointID: endpointID,
			PID:        r.PID,
			Status:     domain.StatusPending,
			Datestamp:  r.Datestamp,
			UpdatedAt:  now,
		}
	}
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(&rows, batchSize)
	return res.RowsAffected, res.Error
}

// PendingIdentifiers returns every identifier of endpointID still pending.
// No ordering is guaranteed.
func PendingIdentifiers(ctx context.Context, db *gorm.DB, endpointID string) ([]string, error) {
	var out []string
	err := db.WithContext(ctx).
		Model(&domain.HarvestRecord{}).
		Where("endpoint_id = ? AND status = ?", endpointID, string(domain.StatusPending)).
		Pluck("pid", &out).Error
	return out, err
}

// MarkDone transitions an identifier to done. Unknown identifiers are ignored.
func MarkDone(ctx context.Context, db *gorm.DB, endpointID, pid string) error {
	return setStatus(ctx, db, endpointID, pid, domain.StatusDone)
}

// MarkFailed transitions an identifier to error. Unknown identifiers are ignored.
func MarkFailed(ctx context.Context, db *gorm.DB, endpointID, pid string) error {
	return setStatus(ctx, db, endpointID, pid, domain.StatusError)
}

func setStatus(ctx context.Context, db *gorm.DB, endpointID, pid string, status domain.HarvestStatus) error {
	return db.WithContext(ctx).
		Model(&domain.HarvestRecord{}).
		Where("endpoint_id = ? AND pid = ?", endpointID, pid).
		Updates(map[string]any{
			"status":     string(status),
			"updated_at": time.Now().UTC(),
		}).Error
}

// GetHarvestRecord fetches one tracking row, or ErrNotFound.
func GetHarvestRecord(ctx context.Context, db *gorm.DB, endpointID, pid string) (*domain.HarvestRecord, error) {
	var r domain.HarvestRecord
	err := db.WithContext(ctx).
		Where("endpoint_id = ? AND pid = ?", endpointID, pid).
		First(&r).Error
	if err != nil {
		return nil, err
	}
	return &r, nil
}
