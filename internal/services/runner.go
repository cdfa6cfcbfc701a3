package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/go-filemeta-harvester/internal/domain"
)

// EndpointRunner performs one full harvest run. *HarvestService implements it.
type EndpointRunner interface {
	Run(ctx context.Context, ep domain.Endpoint) (*RunReport, error)
}

// Run states reported by RunState.Status.
const (
	RunRunning   = "running"
	RunSucceeded = "succeeded"
	RunFailed    = "failed"
)

// RunState describes the current or most recent run of an endpoint.
type RunState struct {
	ID         string     `json:"id"`
	EndpointID string     `json:"endpoint_id"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Report     *RunReport `json:"report,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Runner schedules harvest runs. At most one run per endpoint is in flight;
// different endpoints run concurrently.
type Runner struct {
	svc         EndpointRunner
	endpoints   []domain.Endpoint
	byID        map[string]domain.Endpoint
	parallelism int

	// base is the parent context of asynchronous runs.
	base context.Context

	mu     sync.Mutex
	states map[string]*RunState
	wg     sync.WaitGroup
}

// NewRunner returns a Runner over endpoints. Asynchronous runs started with
// Start inherit base; cancel it to stop them.
func NewRunner(base context.Context, svc EndpointRunner, endpoints []domain.Endpoint, parallelism int) *Runner {
	if parallelism <= 0 {
		parallelism = 1
	}
	byID := make(map[string]domain.Endpoint, len(endpoints))
	for _, ep := range endpoints {
		byID[ep.ID] = ep
	}
	return &Runner{
		svc:         svc,
		endpoints:   endpoints,
		byID:        byID,
		parallelism: parallelism,
		base:        base,
		states:      make(map[string]*RunState),
	}
}

// Endpoints returns the configured endpoints in file order.
func (r *Runner) Endpoints() []domain.Endpoint {
	return append([]domain.Endpoint(nil), r.endpoints...)
}

// Endpoint looks up an endpoint by id.
func (r *Runner) Endpoint(id string) (domain.Endpoint, error) {
	ep, ok := r.byID[id]
	if !ok {
		return domain.Endpoint{}, fmt.Errorf("%w: %q", ErrUnknownEndpoint, id)
	}
	return ep, nil
}

// Status returns a copy of the current or last run state of endpointID.
func (r *Runner) Status(endpointID string) (RunState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.states[endpointID]
	if !ok {
		return RunState{}, false
	}
	return *st, true
}

// acquire claims the endpoint's slot or fails with ErrRunInProgress.
func (r *Runner) acquire(endpointID string) (*RunState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if st, ok := r.states[endpointID]; ok && st.Status == RunRunning {
		return nil, fmt.Errorf("%w: endpoint %q (run %s)", ErrRunInProgress, endpointID, st.ID)
	}
	st := &RunState{
		ID:         uuid.NewString(),
		EndpointID: endpointID,
		Status:     RunRunning,
		StartedAt:  time.Now().UTC(),
	}
	r.states[endpointID] = st
	return st, nil
}

func (r *Runner) release(st *RunState, rep *RunReport, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	st.FinishedAt = &now
	st.Report = rep
	if err != nil {
		st.Status = RunFailed
		st.Error = err.Error()
		return
	}
	st.Status = RunSucceeded
}

func (r *Runner) execute(ctx context.Context, ep domain.Endpoint, st *RunState) (*RunReport, error) {
	rep, err := r.svc.Run(WithRunID(ctx, st.ID), ep)
	r.release(st, rep, err)
	if err != nil {
		log.Error().Err(err).Str("endpoint_id", ep.ID).Str("run_id", st.ID).Msg("harvest run failed")
	}
	return rep, err
}

// RunSync runs endpointID in the calling goroutine.
func (r *Runner) RunSync(ctx context.Context, endpointID string) (*RunReport, error) {
	ep, err := r.Endpoint(endpointID)
	if err != nil {
		return nil, err
	}
	st, err := r.acquire(endpointID)
	if err != nil {
		return nil, err
	}
	return r.execute(ctx, ep, st)
}

// Start launches a run of endpointID in the background and returns its
// initial state.
func (r *Runner) Start(endpointID string) (RunState, error) {
	ep, err := r.Endpoint(endpointID)
	if err != nil {
		return RunState{}, err
	}
	st, err := r.acquire(endpointID)
	if err != nil {
		return RunState{}, err
	}
	snapshot := *st

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_, _ = r.execute(r.base, ep, st)
	}()
	return snapshot, nil
}

// RunAll runs every endpoint, at most parallelism at a time. A failing
// endpoint does not stop the others; all failures are joined. Reports are
// returned in endpoint order, nil for endpoints that produced none.
func (r *Runner) RunAll(ctx context.Context) ([]*RunReport, error) {
	reports := make([]*RunReport, len(r.endpoints))
	errs := make([]error, len(r.endpoints))

	var g errgroup.Group
	g.SetLimit(r.parallelism)
	for i, ep := range r.endpoints {
		g.Go(func() error {
			rep, err := r.RunSync(ctx, ep.ID)
			reports[i] = rep
			if err != nil {
				errs[i] = fmt.Errorf("endpoint %s: %w", ep.ID, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return reports, errors.Join(errs...)
}

// Wait blocks until every background run has finished.
func (r *Runner) Wait() { r.wg.Wait() }
