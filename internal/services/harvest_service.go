// Package services – HarvestService
//
// This file implements HarvestService, the orchestration loop of the
// harvester. For one endpoint it checks the OAI-PMH capability, fetches the
// identifiers modified since the stored watermark into the pending table, and
// processes every pending identifier: resolve, persist the raw record, upsert
// each file, then mark the identifier done or error.
//
// Only capability mismatches, malformed datestamps and store failures on the
// fetch path escape as errors. Everything that goes wrong for a single
// identifier ends as a status transition so the rest of the batch proceeds.
//
// Observability: every public method opens an OpenTelemetry span and logs
// with endpoint_id, pid and run_id fields.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/tbourn/go-filemeta-harvester/internal/domain"
	"github.com/tbourn/go-filemeta-harvester/internal/events"
	"github.com/tbourn/go-filemeta-harvester/internal/oai"
	"github.com/tbourn/go-filemeta-harvester/internal/repo"
	"github.com/tbourn/go-filemeta-harvester/internal/resolver"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// HarvestRepo defines the checkpoint and status store used by HarvestService.
type HarvestRepo interface {
	// EnsureSchema creates the harvester tables if they do not exist.
	EnsureSchema(ctx context.Context, db *gorm.DB) error

	// LatestWatermark returns the greatest datestamp seen for the endpoint,
	// whatever the status, or nil.
	LatestWatermark(ctx context.Context, db *gorm.DB, endpointID string) (*time.Time, error)

	// RecordPending inserts unseen identifiers as pending and ignores the rest.
	RecordPending(ctx context.Context, db *gorm.DB, endpointID string, ids []domain.HarvestRecord, batchSize int) (int64, error)

	// PendingIdentifiers lists identifiers still pending for the endpoint.
	PendingIdentifiers(ctx context.Context, db *gorm.DB, endpointID string) ([]string, error)

	MarkDone(ctx context.Context, db *gorm.DB, endpointID, pid string) error
	MarkFailed(ctx context.Context, db *gorm.DB, endpointID, pid string) error

	// EndpointStats returns per-status counts and the watermark.
	EndpointStats(ctx context.Context, db *gorm.DB, endpointID string) (*repo.HarvestStats, error)
}

// FileRepo defines the file and raw metadata stores used by HarvestService.
type FileRepo interface {
	// UpsertFile inserts a file record or partially updates the matching one.
	UpsertFile(ctx context.Context, db *gorm.DB, u domain.FileUpdate) (*domain.FileRecord, error)

	// CreateRaw stores the raw document of a dataset; repo.ErrDuplicate when
	// one already exists.
	CreateRaw(ctx context.Context, db *gorm.DB, datasetPID string, raw json.RawMessage) (*domain.RawRecord, error)
}

// Harvester is the identifier-listing side of an OAI-PMH endpoint.
type Harvester interface {
	Identify(ctx context.Context) (*oai.Identity, error)
	ListIdentifiers(ctx context.Context, from, until string) iter.Seq2[oai.Header, error]
}

// HarvesterFactory builds a Harvester for an endpoint. It must fail with
// oai.ErrPrefixNotSupported when the endpoint lacks the metadata prefix.
type HarvesterFactory func(ctx context.Context, ep domain.Endpoint) (Harvester, error)

// FetchReport summarizes one fetch step.
type FetchReport struct {
	EndpointID string `json:"endpoint_id"`
	// From is the day-granularity lower bound sent upstream, empty for a
	// full harvest.
	From     string `json:"from,omitempty"`
	Listed   int    `json:"listed"`
	Unique   int    `json:"unique"`
	Deleted  int    `json:"deleted"`
	Inserted int64  `json:"inserted"`
}

// ProcessReport summarizes one pass over the pending identifiers.
type ProcessReport struct {
	EndpointID string `json:"endpoint_id"`
	Pending    int    `json:"pending"`
	Done       int    `json:"done"`
	Failed     int    `json:"failed"`
	// Unmarked counts identifiers whose status write failed; they stay pending.
	Unmarked int `json:"unmarked,omitempty"`
	Files    int `json:"files"`
}

// RunReport aggregates a full run of one endpoint.
type RunReport struct {
	RunID      string         `json:"run_id,omitempty"`
	EndpointID string         `json:"endpoint_id"`
	Identity   *oai.Identity  `json:"identity,omitempty"`
	Stale      *ProcessReport `json:"stale,omitempty"`
	Fetch      *FetchReport   `json:"fetch,omitempty"`
	Process    *ProcessReport `json:"process,omitempty"`
	Fetched    int64          `json:"fetched"`
	Done       int            `json:"done"`
	Failed     int            `json:"failed"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
}

// HarvestService coordinates fetching and processing for endpoints.
type HarvestService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB

	Harvest HarvestRepo
	Files   FileRepo

	NewHarvester HarvesterFactory
	Resolver     resolver.Resolver

	// Events receives one event per identifier outcome. Publish failures
	// are logged only.
	Events events.Publisher

	// BatchSize bounds each pending-row insert statement.
	BatchSize int
}

// NewHarvestService constructs a HarvestService. A nil publisher disables
// outcome events.
func NewHarvestService(db *gorm.DB, hr HarvestRepo, fr FileRepo, nh HarvesterFactory, res resolver.Resolver, pub events.Publisher, batchSize int) *HarvestService {
	if pub == nil {
		pub = events.Nop{}
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	return &HarvestService{
		DB:           db,
		Harvest:      hr,
		Files:        fr,
		NewHarvester: nh,
		Resolver:     res,
		Events:       pub,
		BatchSize:    batchSize,
	}
}

type runIDKey struct{}

// WithRunID tags ctx with a run id used in logs and events.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

// RunIDFrom returns the run id stored by WithRunID, or "".
func RunIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

func logFor(ctx context.Context, endpointID string) zerolog.Logger {
	lc := log.With().Str("endpoint_id", endpointID)
	if id := RunIDFrom(ctx); id != "" {
		lc = lc.Str("run_id", id)
	}
	return lc.Logger()
}

func startSpan(ctx context.Context, name, endpointID string) (context.Context, trace.Span) {
	tr := otel.Tracer("services/HarvestService")
	return tr.Start(ctx, name, trace.WithAttributes(
		attribute.String("endpoint.id", endpointID),
		attribute.String("run.id", RunIDFrom(ctx)),
	))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// CheckEndpoint builds a harvester for ep, which verifies the metadata
// prefix, and returns the endpoint's Identify response.
func (s *HarvestService) CheckEndpoint(ctx context.Context, ep domain.Endpoint) (_ *oai.Identity, err error) {
	ctx, span := startSpan(ctx, "CheckEndpoint", ep.ID)
	defer func() { endSpan(span, err) }()
	defer observeStep(ep.ID, "check", time.Now())

	h, err := s.NewHarvester(ctx, ep)
	if err != nil {
		return nil, err
	}
	id, err := h.Identify(ctx)
	if err != nil {
		return nil, fmt.Errorf("identify %s: %w", ep.ID, err)
	}
	l := logFor(ctx, ep.ID)
	l.Info().Str("repository", id.RepositoryName).Str("protocol", id.ProtocolVersion).Msg("endpoint identified")
	return id, nil
}

// EnsureSchema creates the harvest, file and raw tables if they are absent.
func (s *HarvestService) EnsureSchema(ctx context.Context) error {
	return s.Harvest.EnsureSchema(ctx, s.DB)
}

// FetchNewIdentifiers lists identifiers modified since the day of the
// endpoint's watermark and records unseen ones as pending. The whole listing
// is read before anything is written, so a malformed datestamp leaves the
// pending table untouched. Duplicates within a listing keep their first
// occurrence.
func (s *HarvestService) FetchNewIdentifiers(ctx context.Context, ep domain.Endpoint) (_ *FetchReport, err error) {
	ctx, span := startSpan(ctx, "FetchNewIdentifiers", ep.ID)
	defer func() { endSpan(span, err) }()
	defer observeStep(ep.ID, "fetch", time.Now())
	l := logFor(ctx, ep.ID)

	h, err := s.NewHarvester(ctx, ep)
	if err != nil {
		return nil, err
	}

	rep := &FetchReport{EndpointID: ep.ID}
	wm, err := s.Harvest.LatestWatermark(ctx, s.DB, ep.ID)
	if err != nil {
		return nil, fmt.Errorf("read watermark: %w", err)
	}
	if wm != nil {
		rep.From = oai.Day(*wm)
		l.Info().Time("watermark", *wm).Str("from", rep.From).Msg("resuming from watermark")
	}

	seen := mapset.NewThreadUnsafeSet[string]()
	var rows []domain.HarvestRecord
	for hdr, err := range h.ListIdentifiers(ctx, rep.From, "") {
		if err != nil {
			return nil, fmt.Errorf("list identifiers of %s: %w", ep.ID, err)
		}
		rep.Listed++
		if hdr.Deleted {
			rep.Deleted++
		}
		if !seen.Add(hdr.Identifier) {
			continue
		}
		ts, err := oai.ParseDatestamp(hdr.Datestamp)
		if err != nil {
			return nil, err
		}
		rows = append(rows, domain.HarvestRecord{PID: hdr.Identifier, Datestamp: &ts})
	}
	rep.Unique = len(rows)

	rep.Inserted, err = s.Harvest.RecordPending(ctx, s.DB, ep.ID, rows, s.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("record pending: %w", err)
	}
	identifiersFetched.WithLabelValues(ep.ID).Add(float64(rep.Inserted))

	span.SetAttributes(attribute.Int("identifiers.listed", rep.Listed), attribute.Int64("identifiers.inserted", rep.Inserted))
	l.Info().
		Int("listed", rep.Listed).
		Int("unique", rep.Unique).
		Int("deleted", rep.Deleted).
		Int64("inserted", rep.Inserted).
		Msg("identifiers fetched")
	return rep, nil
}

// ProcessPending processes every pending identifier of endpointID. Per
// identifier failures are recorded as status error and never abort the loop.
// When ctx is canceled the loop stops between identifiers; the remaining
// ones stay pending and the partial report is returned with ctx.Err().
func (s *HarvestService) ProcessPending(ctx context.Context, endpointID string) (_ *ProcessReport, err error) {
	ctx, span := startSpan(ctx, "ProcessPending", endpointID)
	defer func() { endSpan(span, err) }()
	defer observeStep(endpointID, "process", time.Now())
	l := logFor(ctx, endpointID)

	pending, err := s.Harvest.PendingIdentifiers(ctx, s.DB, endpointID)
	if err != nil {
		return nil, fmt.Errorf("list pending: %w", err)
	}
	rep := &ProcessReport{EndpointID: endpointID, Pending: len(pending)}
	l.Info().Int("pending", rep.Pending).Msg("processing pending identifiers")

	for _, pid := range pending {
		if err := ctx.Err(); err != nil {
			l.Warn().Err(err).Int("remaining", rep.Pending-rep.Done-rep.Failed-rep.Unmarked).Msg("processing interrupted")
			return rep, err
		}

		files, perr := s.processOne(ctx, endpointID, pid)
		rep.Files += files
		pl := l.With().Str("pid", pid).Logger()

		if perr != nil {
			pl.Warn().Err(perr).Msg("identifier failed")
			if err := s.Harvest.MarkFailed(ctx, s.DB, endpointID, pid); err != nil {
				pl.Error().Err(err).Msg("mark failed")
				rep.Unmarked++
				continue
			}
			rep.Failed++
			identifiersProcessed.WithLabelValues(endpointID, string(domain.StatusError)).Inc()
			s.publish(ctx, endpointID, pid, events.TypeIdentifierError, files, perr)
			continue
		}

		if err := s.Harvest.MarkDone(ctx, s.DB, endpointID, pid); err != nil {
			pl.Error().Err(err).Msg("mark done")
			rep.Unmarked++
			continue
		}
		rep.Done++
		identifiersProcessed.WithLabelValues(endpointID, string(domain.StatusDone)).Inc()
		s.publish(ctx, endpointID, pid, events.TypeIdentifierDone, files, nil)
		pl.Debug().Int("files", files).Msg("identifier done")
	}

	span.SetAttributes(attribute.Int("identifiers.done", rep.Done), attribute.Int("identifiers.failed", rep.Failed))
	l.Info().Int("done", rep.Done).Int("failed", rep.Failed).Int("files", rep.Files).Msg("pending identifiers processed")
	return rep, nil
}

// processOne resolves pid, stores its raw record and upserts its files. It
// returns the number of files upserted and the first failure. A raw record
// failure skips the files entirely; a file failure does not stop its
// siblings and earlier upserts are kept.
func (s *HarvestService) processOne(ctx context.Context, endpointID, pid string) (int, error) {
	datasetPID := domain.StripPrefix(pid)

	res, err := s.Resolver.Resolve(ctx, datasetPID)
	if err != nil {
		return 0, fmt.Errorf("resolve: %w", err)
	}

	if _, err := s.Files.CreateRaw(ctx, s.DB, datasetPID, res.Raw); err != nil {
		if errors.Is(err, repo.ErrDuplicate) {
			return 0, fmt.Errorf("%w: %s", ErrRawRecordConflict, datasetPID)
		}
		return 0, fmt.Errorf("store raw record: %w", err)
	}

	var (
		upserted int
		firstErr error
	)
	for i, desc := range res.Files {
		u := coerceFile(desc, datasetPID)
		if _, err := s.Files.UpsertFile(ctx, s.DB, u); err != nil {
			log.Warn().Err(err).
				Str("endpoint_id", endpointID).
				Str("pid", pid).
				Int("file_index", i).
				Msg("file upsert failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("upsert file %d: %w", i, err)
			}
			continue
		}
		upserted++
	}
	filesUpserted.WithLabelValues(endpointID).Add(float64(upserted))
	return upserted, firstErr
}

func (s *HarvestService) publish(ctx context.Context, endpointID, pid, typ string, files int, cause error) {
	ev := events.Event{
		Type:       typ,
		RunID:      RunIDFrom(ctx),
		EndpointID: endpointID,
		PID:        pid,
		Files:      files,
		Timestamp:  time.Now().UTC(),
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	if err := s.Events.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("endpoint_id", endpointID).Str("pid", pid).Msg("publish outcome event")
	}
}

// Run performs a complete harvest of ep: check, ensure schema, process stale
// pending identifiers, fetch new ones, process again. A capability mismatch
// stops the run before the stores are touched.
func (s *HarvestService) Run(ctx context.Context, ep domain.Endpoint) (_ *RunReport, err error) {
	ctx, span := startSpan(ctx, "Run", ep.ID)
	defer func() { endSpan(span, err) }()
	defer observeStep(ep.ID, "run", time.Now())
	l := logFor(ctx, ep.ID)

	rep := &RunReport{RunID: RunIDFrom(ctx), EndpointID: ep.ID, StartedAt: time.Now().UTC()}
	defer func() { rep.FinishedAt = time.Now().UTC() }()
	l.Info().Str("name", ep.Name).Str("oai_url", ep.OAIURL).Msg("harvest run started")

	if rep.Identity, err = s.CheckEndpoint(ctx, ep); err != nil {
		return rep, err
	}
	if err = s.EnsureSchema(ctx); err != nil {
		return rep, fmt.Errorf("ensure schema: %w", err)
	}
	if rep.Stale, err = s.ProcessPending(ctx, ep.ID); err != nil {
		rep.add(rep.Stale)
		return rep, err
	}
	rep.add(rep.Stale)

	if rep.Fetch, err = s.FetchNewIdentifiers(ctx, ep); err != nil {
		return rep, err
	}
	rep.Fetched = rep.Fetch.Inserted

	rep.Process, err = s.ProcessPending(ctx, ep.ID)
	rep.add(rep.Process)
	if err != nil {
		return rep, err
	}

	l.Info().Int64("fetched", rep.Fetched).Int("done", rep.Done).Int("failed", rep.Failed).Msg("harvest run finished")
	return rep, nil
}

func (r *RunReport) add(p *ProcessReport) {
	if p == nil {
		return
	}
	r.Done += p.Done
	r.Failed += p.Failed
}

// Stats returns per-status counts and the watermark of endpointID.
func (s *HarvestService) Stats(ctx context.Context, endpointID string) (*repo.HarvestStats, error) {
	return s.Harvest.EndpointStats(ctx, s.DB, endpointID)
}
