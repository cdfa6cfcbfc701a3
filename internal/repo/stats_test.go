package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-filemeta-harvester/internal/domain"
)

func newTestDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()
	// Unique DB per test to avoid schema leaking across tests.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func tsp(s string) *time.Time {
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &ts
}

func TestEndpointStats_NoTable(t *testing.T) {
	db := newTestDB(t /* no migrations */)
	if _, err := EndpointStats(context.Background(), db, "ep"); err == nil {
		t.Fatalf("expected error due to missing harvest_pids table")
	}
}

func TestEndpointStats_ZeroRows(t *testing.T) {
	db := newTestDB(t, &domain.HarvestRecord{})
	st, err := EndpointStats(context.Background(), db, "ep")
	if err != nil {
		t.Fatalf("EndpointStats error: %v", err)
	}
	if st.Total != 0 || st.Watermark != nil || st.EndpointID != "ep" {
		t.Fatalf("expected empty stats, got %+v", st)
	}
}

func TestEndpointStats_CountsAndWatermark(t *testing.T) {
	db := newTestDB(t, &domain.HarvestRecord{})
	ctx := context.Background()

	seed := []domain.HarvestRecord{
		{EndpointID: "ep", PID: "a", Status: domain.StatusPending, Datestamp: tsp("2024-01-01T00:00:00Z")},
		{EndpointID: "ep", PID: "b", Status: domain.StatusDone, Datestamp: tsp("2024-01-03T00:00:00Z")},
		{EndpointID: "ep", PID: "c", Status: domain.StatusDone, Datestamp: tsp("2024-01-02T00:00:00Z")},
		{EndpointID: "ep", PID: "d", Status: domain.StatusError},
		{EndpointID: "other", PID: "z", Status: domain.StatusDone, Datestamp: tsp("2030-01-01T00:00:00Z")},
	}
	if err := db.Create(&seed).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	st, err := EndpointStats(ctx, db, "ep")
	if err != nil {
		t.Fatalf("EndpointStats: %v", err)
	}
	if st.Pending != 1 || st.Done != 2 || st.Error != 1 || st.Total != 4 {
		t.Fatalf("unexpected counts: %+v", st)
	}
	if st.Watermark == nil || !st.Watermark.Equal(*tsp("2024-01-03T00:00:00Z")) {
		t.Fatalf("unexpected watermark: %v", st.Watermark)
	}
}
