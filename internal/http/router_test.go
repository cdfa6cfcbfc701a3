package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-filemeta-harvester/internal/config"
	"github.com/tbourn/go-filemeta-harvester/internal/domain"
	"github.com/tbourn/go-filemeta-harvester/internal/oai"
	"github.com/tbourn/go-filemeta-harvester/internal/repo"
	"github.com/tbourn/go-filemeta-harvester/internal/services"
)

type recordRepoShim struct{}

func (recordRepoShim) CountFiles(ctx context.Context, db *gorm.DB, datasetPID string) (int64, error) {
	return repo.CountFiles(ctx, db, datasetPID)
}

func (recordRepoShim) ListFilesPage(ctx context.Context, db *gorm.DB, datasetPID string, offset, limit int) ([]domain.FileRecord, error) {
	return repo.ListFilesPage(ctx, db, datasetPID, offset, limit)
}

func (recordRepoShim) GetRaw(ctx context.Context, db *gorm.DB, datasetPID string) (*domain.RawRecord, error) {
	return repo.GetRaw(ctx, db, datasetPID)
}

// blockingRunner holds every run until release is closed.
type blockingRunner struct{ release chan struct{} }

func (b blockingRunner) Run(ctx context.Context, ep domain.Endpoint) (*services.RunReport, error) {
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &services.RunReport{EndpointID: ep.ID}, nil
}

type stubHarvest struct{ db *gorm.DB }

func (s stubHarvest) Stats(ctx context.Context, endpointID string) (*repo.HarvestStats, error) {
	return repo.EndpointStats(ctx, s.db, endpointID)
}

func (stubHarvest) CheckEndpoint(context.Context, domain.Endpoint) (*oai.Identity, error) {
	return &oai.Identity{RepositoryName: "stub"}, nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:router_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func testConfig() config.Config {
	return config.Config{
		APIBasePath: "/api/v1",
		RateRPS:     100,
		RateBurst:   10,
		OTEL:        config.OTELConfig{ServiceName: "test-svc"},
	}
}

func newTestRouter(t *testing.T, cfg config.Config) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db := newTestDB(t)

	release := make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	eps := []domain.Endpoint{{ID: "zenodo", OAIURL: "https://zenodo.example/oai", MetadataPrefix: "oai_datacite"}}
	runner := services.NewRunner(ctx, blockingRunner{release: release}, eps, 1)
	t.Cleanup(func() {
		close(release)
		cancel()
		runner.Wait()
	})

	r := gin.New()
	RegisterRoutes(r, Deps{
		DB:      db,
		Runs:    runner,
		Harvest: stubHarvest{db: db},
		Records: services.NewRecordService(db, recordRepoShim{}),
	}, cfg)
	return r, db
}

func serve(r http.Handler, method, target string, hdr map[string]string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	r.ServeHTTP(w, req)
	return w
}

func TestRegisterRoutes_ProbesMetricsFallbacks(t *testing.T) {
	r, _ := newTestRouter(t, testConfig())

	for _, p := range []string{"/healthz", "/readyz"} {
		if w := serve(r, http.MethodGet, p, nil); w.Code != http.StatusOK {
			t.Fatalf("GET %s = %d", p, w.Code)
		}
	}
	if w := serve(r, http.MethodGet, "/metrics", nil); w.Code != http.StatusOK || w.Body.Len() == 0 {
		t.Fatalf("GET /metrics code=%d len=%d", w.Code, w.Body.Len())
	}

	w := serve(r, http.MethodGet, "/nope", nil)
	if w.Code != http.StatusNotFound || w.Header().Get("X-Request-ID") == "" {
		t.Fatalf("GET /nope = %d rid=%q", w.Code, w.Header().Get("X-Request-ID"))
	}
	if w := serve(r, http.MethodPost, "/healthz", nil); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /healthz = %d", w.Code)
	}
}

func TestRegisterRoutes_ReadinessFailsWhenDBClosed(t *testing.T) {
	r, db := newTestRouter(t, testConfig())
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	_ = sqlDB.Close()

	if w := serve(r, http.MethodGet, "/readyz", nil); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("GET /readyz = %d, want 503", w.Code)
	}
}

func TestRegisterRoutes_RunLifecycle(t *testing.T) {
	r, _ := newTestRouter(t, testConfig())

	w := serve(r, http.MethodPost, "/api/v1/endpoints/zenodo/runs", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("start = %d %s", w.Code, w.Body)
	}
	var st services.RunState
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil || st.Status != services.RunRunning {
		t.Fatalf("state=%+v err=%v", st, err)
	}

	if w := serve(r, http.MethodPost, "/api/v1/endpoints/zenodo/runs", nil); w.Code != http.StatusConflict {
		t.Fatalf("second start = %d, want 409", w.Code)
	}
	if w := serve(r, http.MethodGet, "/api/v1/endpoints/zenodo/runs/latest", nil); w.Code != http.StatusOK {
		t.Fatalf("latest = %d", w.Code)
	}
	if w := serve(r, http.MethodPost, "/api/v1/endpoints/other/runs", nil); w.Code != http.StatusNotFound {
		t.Fatalf("unknown endpoint = %d", w.Code)
	}
	if w := serve(r, http.MethodGet, "/api/v1/endpoints/zenodo/stats", nil); w.Code != http.StatusOK {
		t.Fatalf("stats = %d", w.Code)
	}
}

func TestRegisterRoutes_Records(t *testing.T) {
	r, db := newTestRouter(t, testConfig())
	ctx := context.Background()
	if _, err := repo.CreateRaw(ctx, db, "10.1/x", json.RawMessage(`{"a":1}`)); err != nil {
		t.Fatal(err)
	}
	ds, name, link := "10.1/x", "a.csv", "http://files/a.csv"
	if _, err := repo.UpsertFile(ctx, db, domain.FileUpdate{DatasetPID: &ds, Name: &name, Link: &link}); err != nil {
		t.Fatal(err)
	}

	w := serve(r, http.MethodGet, "/api/v1/files?dataset_pid=doi:10.1/x", nil)
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte(`"a.csv"`)) {
		t.Fatalf("files = %d %s", w.Code, w.Body)
	}
	w = serve(r, http.MethodGet, "/api/v1/raw?dataset_pid=10.1/x", nil)
	if w.Code != http.StatusOK || !bytes.Contains(w.Body.Bytes(), []byte(`"raw_metadata":{"a":1}`)) {
		t.Fatalf("raw = %d %s", w.Code, w.Body)
	}
	if w := serve(r, http.MethodGet, "/api/v1/files", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("files without pid = %d", w.Code)
	}
}

func TestRegisterRoutes_CORS(t *testing.T) {
	r, _ := newTestRouter(t, testConfig())
	w := serve(r, http.MethodGet, "/healthz", map[string]string{"Origin": "http://anything.example"})
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("allow-all ACAO=%q", got)
	}

	cfg := testConfig()
	cfg.CORS = config.CORSConfig{AllowedOrigins: []string{"http://ops.example"}}
	r, _ = newTestRouter(t, cfg)
	w = serve(r, http.MethodGet, "/healthz", map[string]string{"Origin": "http://ops.example"})
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://ops.example" {
		t.Fatalf("allowlisted ACAO=%q", got)
	}
	w = serve(r, http.MethodGet, "/healthz", map[string]string{"Origin": "http://evil.example"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("foreign origin = %d, want 403", w.Code)
	}
}

func TestRegisterRoutes_SecurityHeadersAndGzip(t *testing.T) {
	cfg := testConfig()
	cfg.Security = config.SecurityConfig{EnableHSTS: true, HSTSMaxAge: time.Hour}
	r, _ := newTestRouter(t, cfg)

	w := serve(r, http.MethodGet, "/api/v1/endpoints", map[string]string{
		"Accept-Encoding":   "gzip",
		"X-Forwarded-Proto": "https",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("endpoints = %d", w.Code)
	}
	if w.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("expected gzip response, headers=%v", w.Header())
	}
	if w.Header().Get("Cache-Control") != "no-store" || w.Header().Get("Strict-Transport-Security") == "" {
		t.Fatalf("security headers missing: %v", w.Header())
	}
}

func TestRegisterRoutes_RateLimitsRunTriggersOnly(t *testing.T) {
	cfg := testConfig()
	cfg.RateRPS, cfg.RateBurst = 0.001, 1
	r, _ := newTestRouter(t, cfg)

	serve(r, http.MethodPost, "/api/v1/endpoints/zenodo/check", nil)
	if w := serve(r, http.MethodPost, "/api/v1/endpoints/zenodo/check", nil); w.Code != http.StatusTooManyRequests {
		t.Fatalf("second POST = %d, want 429", w.Code)
	}
	for i := 0; i < 3; i++ {
		if w := serve(r, http.MethodGet, "/api/v1/endpoints", nil); w.Code != http.StatusOK {
			t.Fatalf("GET %d = %d", i, w.Code)
		}
	}
}

func Test_limitBody(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(limitBody(10))
	r.POST("/echo", func(c *gin.Context) {
		if _, err := io.ReadAll(c.Request.Body); err != nil {
			c.String(http.StatusRequestEntityTooLarge, "too big")
			return
		}
		c.String(http.StatusOK, "ok")
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/echo", bytes.NewBufferString("0123456789AB")))
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", w.Code)
	}
}

func Test_groupWithPrefix(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	groupWithPrefix(r, "/").GET("/one", func(c *gin.Context) { c.String(http.StatusOK, "one") })
	groupWithPrefix(r, "").GET("/two", func(c *gin.Context) { c.String(http.StatusOK, "two") })
	groupWithPrefix(r, "/api").GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	for path, want := range map[string]string{"/one": "one", "/two": "two", "/api/ping": "pong"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		if w.Code != http.StatusOK || w.Body.String() != want {
			t.Fatalf("GET %s got %d %q", path, w.Code, w.Body.String())
		}
	}
}
