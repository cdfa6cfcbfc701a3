package services

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	"github.com/tbourn/go-filemeta-harvester/internal/domain"
	"github.com/tbourn/go-filemeta-harvester/internal/repo"
)

// ErrRecordNotFound is returned when no stored record matches a lookup.
var ErrRecordNotFound = errors.New("record not found")

// RecordRepo is the read side of the file and raw metadata stores.
type RecordRepo interface {
	CountFiles(ctx context.Context, db *gorm.DB, datasetPID string) (int64, error)
	ListFilesPage(ctx context.Context, db *gorm.DB, datasetPID string, offset, limit int) ([]domain.FileRecord, error)
	GetRaw(ctx context.Context, db *gorm.DB, datasetPID string) (*domain.RawRecord, error)
}

// RecordService exposes harvested records for inspection. Dataset PIDs are
// accepted with or without their scheme prefix.
type RecordService struct {
	DB   *gorm.DB
	Repo RecordRepo
}

// NewRecordService constructs a RecordService.
func NewRecordService(db *gorm.DB, r RecordRepo) *RecordService {
	return &RecordService{DB: db, Repo: r}
}

// ListFiles returns a page of the files of datasetPID and the total count.
// Invalid page values fall back to page 1 with 20 items.
func (s *RecordService) ListFiles(ctx context.Context, datasetPID string, page, pageSize int) ([]domain.FileRecord, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	pid := domain.StripPrefix(strings.TrimSpace(datasetPID))

	total, err := s.Repo.CountFiles(ctx, s.DB, pid)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.FileRecord{}, 0, nil
	}
	items, err := s.Repo.ListFilesPage(ctx, s.DB, pid, (page-1)*pageSize, pageSize)
	return items, total, err
}

// Raw returns the stored raw metadata of datasetPID, or ErrRecordNotFound.
func (s *RecordService) Raw(ctx context.Context, datasetPID string) (*domain.RawRecord, error) {
	rec, err := s.Repo.GetRaw(ctx, s.DB, domain.StripPrefix(strings.TrimSpace(datasetPID)))
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrRecordNotFound
	}
	return rec, err
}
