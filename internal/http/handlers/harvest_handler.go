// Harvest HTTP handlers.
//
//   - GET  /endpoints                 (configured endpoints with last run)
//   - GET  /endpoints/{id}            (one endpoint)
//   - GET  /endpoints/{id}/stats      (tracking counts and watermark)
//   - POST /endpoints/{id}/check      (Identify + prefix check)
//   - POST /endpoints/{id}/runs       (start an asynchronous run)
//   - GET  /endpoints/{id}/runs/latest
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-filemeta-harvester/internal/domain"
	"github.com/tbourn/go-filemeta-harvester/internal/oai"
	"github.com/tbourn/go-filemeta-harvester/internal/repo"
	"github.com/tbourn/go-filemeta-harvester/internal/services"
)

// RunService schedules runs and reports their state.
type RunService interface {
	Endpoints() []domain.Endpoint
	Endpoint(id string) (domain.Endpoint, error)
	Start(endpointID string) (services.RunState, error)
	Status(endpointID string) (services.RunState, bool)
}

// HarvestService answers per-endpoint queries.
type HarvestService interface {
	Stats(ctx context.Context, endpointID string) (*repo.HarvestStats, error)
	CheckEndpoint(ctx context.Context, ep domain.Endpoint) (*oai.Identity, error)
}

// RecordService reads harvested records.
type RecordService interface {
	ListFiles(ctx context.Context, datasetPID string, page, pageSize int) ([]domain.FileRecord, int64, error)
	Raw(ctx context.Context, datasetPID string) (*domain.RawRecord, error)
}

// Handlers groups the admin API endpoints.
type Handlers struct {
	runs    RunService
	harvest HarvestService
	records RecordService
}

// New returns Handlers bound to the given services.
func New(runs RunService, harvest HarvestService, records RecordService) *Handlers {
	return &Handlers{runs: runs, harvest: harvest, records: records}
}

// EndpointView is an endpoint plus its current or most recent run.
type EndpointView struct {
	domain.Endpoint
	LastRun *services.RunState `json:"last_run,omitempty"`
}

// ListEndpointsResponse wraps the configured endpoints.
type ListEndpointsResponse struct {
	Endpoints []EndpointView `json:"endpoints"`
}

func (h *Handlers) view(ep domain.Endpoint) EndpointView {
	v := EndpointView{Endpoint: ep}
	if st, found := h.runs.Status(ep.ID); found {
		v.LastRun = &st
	}
	return v
}

// endpoint resolves the :id path parameter, writing a 404 when unknown.
func (h *Handlers) endpoint(c *gin.Context) (domain.Endpoint, bool) {
	ep, err := h.runs.Endpoint(c.Param("id"))
	if err != nil {
		Fail(c, http.StatusNotFound, ErrCodeNotFound, "endpoint not found")
		return domain.Endpoint{}, false
	}
	return ep, true
}

// ListEndpoints returns every configured endpoint in configuration order.
func (h *Handlers) ListEndpoints(c *gin.Context) {
	eps := h.runs.Endpoints()
	out := make([]EndpointView, 0, len(eps))
	for _, ep := range eps {
		out = append(out, h.view(ep))
	}
	ok(c, http.StatusOK, ListEndpointsResponse{Endpoints: out})
}

// GetEndpoint returns one endpoint.
func (h *Handlers) GetEndpoint(c *gin.Context) {
	ep, found := h.endpoint(c)
	if !found {
		return
	}
	ok(c, http.StatusOK, h.view(ep))
}

// EndpointStats returns pending/done/error counts and the watermark.
func (h *Handlers) EndpointStats(c *gin.Context) {
	ep, found := h.endpoint(c)
	if !found {
		return
	}
	st, err := h.harvest.Stats(c.Request.Context(), ep.ID)
	if err != nil {
		Fail(c, http.StatusInternalServerError, ErrCodeStatsFailed, err.Error())
		return
	}
	ok(c, http.StatusOK, st)
}

// CheckEndpoint contacts the endpoint and returns its Identify response.
// Upstream failures map to 502; an unsupported prefix to 422.
func (h *Handlers) CheckEndpoint(c *gin.Context) {
	ep, found := h.endpoint(c)
	if !found {
		return
	}
	id, err := h.harvest.CheckEndpoint(c.Request.Context(), ep)
	switch {
	case errors.Is(err, oai.ErrPrefixNotSupported):
		Fail(c, http.StatusUnprocessableEntity, ErrCodeUnsupportedPrefix, err.Error())
	case err != nil:
		_ = c.Error(err)
		Fail(c, http.StatusBadGateway, ErrCodeEndpointUnreachable, err.Error())
	default:
		ok(c, http.StatusOK, id)
	}
}

// StartRun launches a run in the background and returns 202 with its state.
// A run already in flight for the endpoint yields 409.
func (h *Handlers) StartRun(c *gin.Context) {
	ep, found := h.endpoint(c)
	if !found {
		return
	}
	st, err := h.runs.Start(ep.ID)
	switch {
	case errors.Is(err, services.ErrRunInProgress):
		Fail(c, http.StatusConflict, ErrCodeRunInProgress, err.Error())
	case errors.Is(err, services.ErrUnknownEndpoint):
		Fail(c, http.StatusNotFound, ErrCodeNotFound, "endpoint not found")
	case err != nil:
		Fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	default:
		c.Header("Location", c.Request.URL.Path+"/latest")
		ok(c, http.StatusAccepted, st)
	}
}

// LatestRun returns the current or most recent run of the endpoint.
func (h *Handlers) LatestRun(c *gin.Context) {
	ep, found := h.endpoint(c)
	if !found {
		return
	}
	st, found := h.runs.Status(ep.ID)
	if !found {
		Fail(c, http.StatusNotFound, ErrCodeNotFound, "no run recorded for endpoint")
		return
	}
	ok(c, http.StatusOK, st)
}
