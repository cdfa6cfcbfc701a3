// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides the file metadata store.
//
// Upsert semantics:
//   - An incoming update carrying a file_pid is matched on file_pid first.
//   - Otherwise (or when no row has that file_pid) it is matched on the
//     natural key (dataset_pid, name, link).
//   - A matched row receives only the fields present in the update; absent
//     fields keep their stored values.
//   - An unmatched update is inserted and must carry the natural key.
//
// A present field that would move a row onto another row's natural key fails
// with ErrDuplicate; the uniqueness constraint always holds.
package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-filemeta-harvester/internal/domain"
)

// UpsertFile inserts or partially updates one file record in its own short
// transaction and returns the persisted row.
func UpsertFile(ctx context.Context, db *gorm.DB, u domain.FileUpdate) (*domain.FileRecord, error) {
	var out *domain.FileRecord
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := time.Now().UTC()

		existing, err := findFileFor(tx, u)
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			if !u.HasNaturalKey() || *u.DatasetPID == "" || *u.Name == "" || *u.Link == "" {
				return ErrIncompleteFile
			}
			rec := u.NewRecord(now)
			if err := tx.Create(rec).Error; err != nil {
				return err
			}
			out = rec
			return nil
		case err != nil:
			return err
		}

		changes := u.Changes()
		changes["last_updated"] = now
		if err := tx.Model(existing).Updates(changes).Error; err != nil {
			return err
		}
		var fresh domain.FileRecord
		if err := tx.First(&fresh, existing.ID).Error; err != nil {
			return err
		}
		out = &fresh
		return nil
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: %v", ErrDuplicate, err)
		}
		return nil, err
	}
	return out, nil
}

// findFileFor resolves the row an update applies to, or gorm.ErrRecordNotFound.
func findFileFor(tx *gorm.DB, u domain.FileUpdate) (*domain.FileRecord, error) {
	var rec domain.FileRecord
	if u.HasFilePID() {
		err := tx.Where("file_pid = ?", *u.FilePID).Order("id ASC").First(&rec).Error
		if err == nil {
			return &rec, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	if u.HasNaturalKey() {
		err := tx.Where("dataset_pid = ? AND name = ? AND link = ?", *u.DatasetPID, *u.Name, *u.Link).
			First(&rec).Error
		if err != nil {
			return nil, err
		}
		return &rec, nil
	}
	return nil, gorm.ErrRecordNotFound
}

// GetFile fetches a file record by primary key, or ErrNotFound.
func GetFile(ctx context.Context, db *gorm.DB, id uint) (*domain.FileRecord, error) {
	var rec domain.FileRecord
	if err := db.WithContext(ctx).First(&rec, id).Error; err != nil {
		return nil, err
	}
	return &rec, nil
}

// CountFiles returns the number of files stored for a dataset.
func CountFiles(ctx context.Context, db *gorm.DB, datasetPID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&domain.FileRecord{}).
		Where("dataset_pid = ?", datasetPID).
		Count(&total).Error
	return total, err
}

// ListFilesPage returns a page of a dataset's files ordered by id.
func ListFilesPage(ctx context.Context, db *gorm.DB, datasetPID string, offset, limit int) ([]domain.FileRecord, error) {
	var out []domain.FileRecord
	err := db.WithContext(ctx).
		Where("dataset_pid = ?", datasetPID).
		Order("id ASC").
		Offset(offset).
		Limit(limit).
		Find(&out).Error
	return out, err
}
