// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate queries over the
// harvest_pids table used by the admin API and run reports.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-filemeta-harvester/internal/domain"
)

// HarvestStats summarizes the tracking rows of one endpoint.
type HarvestStats struct {
	EndpointID string     `json:"endpoint_id"`
	Pending    int64      `json:"pending"`
	Done       int64      `json:"done"`
	Error      int64      `json:"error"`
	Total      int64      `json:"total"`
	Watermark  *time.Time `json:"watermark,omitempty"`
}

// EndpointStats returns per-status counts and the resumption watermark for
// endpointID. An endpoint without rows yields zero counts and a nil watermark.
func EndpointStats(ctx context.Context, db *gorm.DB, endpointID string) (*HarvestStats, error) {
	var rows []struct {
		Status string
		N      int64
	}
	err := db.WithContext(ctx).
		Model(&domain.HarvestRecord{}).
		Select("status, COUNT(*) AS n").
		Where("endpoint_id = ?", endpointID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	st := &HarvestStats{EndpointID: endpointID}
	for _, r := range rows {
		switch domain.HarvestStatus(r.Status) {
		case domain.StatusPending:
			st.Pending = r.N
		case domain.StatusDone:
			st.Done = r.N
		case domain.StatusError:
			st.Error = r.N
		}
		st.Total += r.N
	}
	if st.Total == 0 {
		return st, nil
	}

	st.Watermark, err = LatestWatermark(ctx, db, endpointID)
	if err != nil {
		return nil, err
	}
	return st, nil
}
