// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the raw metadata store: one immutable
// provenance document per dataset.
package repo

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-filemeta-harvester/internal/domain"
)

// CreateRaw stores the raw metadata document for datasetPID. A second create
// for the same dataset returns ErrDuplicate; the stored row is not touched.
func CreateRaw(ctx context.Context, db *gorm.DB, datasetPID string, raw json.RawMessage) (*domain.RawRecord, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	rec := &domain.RawRecord{
		DatasetPID:  datasetPID,
		RawMetadata: datatypes.JSON(raw),
		LastUpdated: time.Now().UTC(),
	}
	if err := db.WithContext(ctx).Create(rec).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, err
	}
	return rec, nil
}

// GetRaw fetches the raw record of a dataset, or ErrNotFound.
func GetRaw(ctx context.Context, db *gorm.DB, datasetPID string) (*domain.RawRecord, error) {
	var rec domain.RawRecord
	err := db.WithContext(ctx).
		Where("dataset_pid = ?", datasetPID).
		First(&rec).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
