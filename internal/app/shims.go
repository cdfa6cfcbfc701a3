package app

import (
	"context"
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-filemeta-harvester/internal/config"
	"github.com/tbourn/go-filemeta-harvester/internal/domain"
	"github.com/tbourn/go-filemeta-harvester/internal/oai"
	"github.com/tbourn/go-filemeta-harvester/internal/repo"
	"github.com/tbourn/go-filemeta-harvester/internal/services"
)

// harvestRepoShim adapts the repository free functions to the
// services.HarvestRepo interface.
type harvestRepoShim struct{}

// EnsureSchema proxies repo.EnsureSchema.
func (harvestRepoShim) EnsureSchema(ctx context.Context, db *gorm.DB) error {
	return repo.EnsureSchema(ctx, db)
}

// LatestWatermark proxies repo.LatestWatermark.
func (harvestRepoShim) LatestWatermark(ctx context.Context, db *gorm.DB, endpointID string) (*time.Time, error) {
	return repo.LatestWatermark(ctx, db, endpointID)
}

// RecordPending proxies repo.RecordPending.
func (harvestRepoShim) RecordPending(ctx context.Context, db *gorm.DB, endpointID string, ids []domain.HarvestRecord, batchSize int) (int64, error) {
	return repo.RecordPending(ctx, db, endpointID, ids, batchSize)
}

// PendingIdentifiers proxies repo.PendingIdentifiers.
func (harvestRepoShim) PendingIdentifiers(ctx context.Context, db *gorm.DB, endpointID string) ([]string, error) {
	return repo.PendingIdentifiers(ctx, db, endpointID)
}

// MarkDone proxies repo.MarkDone.
func (harvestRepoShim) MarkDone(ctx context.Context, db *gorm.DB, endpointID, pid string) error {
	return repo.MarkDone(ctx, db, endpointID, pid)
}

// MarkFailed proxies repo.MarkFailed.
func (harvestRepoShim) MarkFailed(ctx context.Context, db *gorm.DB, endpointID, pid string) error {
	return repo.MarkFailed(ctx, db, endpointID, pid)
}

// EndpointStats proxies repo.EndpointStats.
func (harvestRepoShim) EndpointStats(ctx context.Context, db *gorm.DB, endpointID string) (*repo.HarvestStats, error) {
	return repo.EndpointStats(ctx, db, endpointID)
}

// fileRepoShim adapts the file and raw stores to services.FileRepo.
type fileRepoShim struct{}

// UpsertFile proxies repo.UpsertFile.
func (fileRepoShim) UpsertFile(ctx context.Context, db *gorm.DB, u domain.FileUpdate) (*domain.FileRecord, error) {
	return repo.UpsertFile(ctx, db, u)
}

// CreateRaw proxies repo.CreateRaw.
func (fileRepoShim) CreateRaw(ctx context.Context, db *gorm.DB, datasetPID string, raw json.RawMessage) (*domain.RawRecord, error) {
	return repo.CreateRaw(ctx, db, datasetPID, raw)
}

// harvesterFactory builds OAI clients; construction performs the metadata
// prefix check.
func harvesterFactory(cfg config.OAIConfig) services.HarvesterFactory {
	return func(ctx context.Context, ep domain.Endpoint) (services.Harvester, error) {
		c, err := oai.New(ctx, ep.OAIURL, ep.MetadataPrefix, oai.Options{
			Timeout:   cfg.Timeout,
			RPS:       cfg.RPS,
			UserAgent: cfg.UserAgent,
		})
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// recordRepoShim adapts the read side of the stores to services.RecordRepo.
type recordRepoShim struct{}

// CountFiles proxies repo.CountFiles.
func (recordRepoShim) CountFiles(ctx context.Context, db *gorm.DB, datasetPID string) (int64, error) {
	return repo.CountFiles(ctx, db, datasetPID)
}

// ListFilesPage proxies repo.ListFilesPage.
func (recordRepoShim) ListFilesPage(ctx context.Context, db *gorm.DB, datasetPID string, offset, limit int) ([]domain.FileRecord, error) {
	return repo.ListFilesPage(ctx, db, datasetPID, offset, limit)
}

// GetRaw proxies repo.GetRaw.
func (recordRepoShim) GetRaw(ctx context.Context, db *gorm.DB, datasetPID string) (*domain.RawRecord, error) {
	return repo.GetRaw(ctx, db, datasetPID)
}
