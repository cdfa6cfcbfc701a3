// Record HTTP handlers.
//
//   - GET /files?dataset_pid=...&page=&page_size=   (paginated file records)
//   - GET /raw?dataset_pid=...                      (raw metadata document)
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-filemeta-harvester/internal/domain"
	"github.com/tbourn/go-filemeta-harvester/internal/services"
	"github.com/tbourn/go-filemeta-harvester/internal/utils"
)

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListFilesResponse wraps a page of file records.
type ListFilesResponse struct {
	DatasetPID string              `json:"dataset_pid"`
	Files      []domain.FileRecord `json:"files"`
	Pagination Pagination          `json:"pagination"`
}

// RawResponse is the stored raw document, embedded verbatim.
type RawResponse struct {
	DatasetPID  string          `json:"dataset_pid"`
	RawMetadata json.RawMessage `json:"raw_metadata"`
	LastUpdated time.Time       `json:"last_updated"`
}

// clampPagination parses page and page_size, bounding them to [1, 500].
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 50
		maxPageSize     = 500
	)
	page = max(utils.AtoiDefault(c.Query("page"), defaultPage), 1)
	pageSize = min(max(utils.AtoiDefault(c.Query("page_size"), defaultPageSize), 1), maxPageSize)
	return page, pageSize
}

func datasetPID(c *gin.Context) (string, bool) {
	pid := strings.TrimSpace(c.Query("dataset_pid"))
	if pid == "" {
		Fail(c, http.StatusBadRequest, ErrCodeBadRequest, "dataset_pid query parameter is required")
		return "", false
	}
	return pid, true
}

// ListFiles returns the stored files of a dataset.
func (h *Handlers) ListFiles(c *gin.Context) {
	pid, found := datasetPID(c)
	if !found {
		return
	}
	page, pageSize := clampPagination(c)

	items, total, err := h.records.ListFiles(c.Request.Context(), pid, page, pageSize)
	if err != nil {
		Fail(c, http.StatusInternalServerError, ErrCodeListFailed, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListFilesResponse{
		DatasetPID: domain.StripPrefix(pid),
		Files:      items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetRaw returns the raw metadata document of a dataset.
func (h *Handlers) GetRaw(c *gin.Context) {
	pid, found := datasetPID(c)
	if !found {
		return
	}
	rec, err := h.records.Raw(c.Request.Context(), pid)
	switch {
	case errors.Is(err, services.ErrRecordNotFound):
		Fail(c, http.StatusNotFound, ErrCodeNotFound, "raw metadata not found")
	case err != nil:
		Fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	default:
		ok(c, http.StatusOK, RawResponse{
			DatasetPID:  rec.DatasetPID,
			RawMetadata: json.RawMessage(rec.RawMetadata),
			LastUpdated: rec.LastUpdated,
		})
	}
}
