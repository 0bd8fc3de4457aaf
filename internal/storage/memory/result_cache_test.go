package memory

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/storage"
)

func TestResultCache_RoundTrip(t *testing.T) {
	cache := NewResultCache()
	ctx := context.Background()

	blob := []byte(`{"roi":12.5,"trades":[{"id":"t1","pnl":3.2}],"extra":"é"}`)
	entry := &domain.CacheEntry{LabID: "lab-1", BacktestID: "bt-1", Blob: blob, CreatedAt: time.Now()}
	if err := cache.Put(ctx, entry); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Caller mutation after Put must not change stored bytes
	blob[0] = 'X'

	got, err := cache.Get(ctx, "lab-1", "bt-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	want := []byte(`{"roi":12.5,"trades":[{"id":"t1","pnl":3.2}],"extra":"é"}`)
	if !bytes.Equal(got.Blob, want) {
		t.Errorf("blob mismatch:\n got %s\nwant %s", got.Blob, want)
	}
}

func TestResultCache_Immutable(t *testing.T) {
	cache := NewResultCache()
	ctx := context.Background()

	entry := &domain.CacheEntry{LabID: "lab-1", BacktestID: "bt-1", Blob: []byte("a")}
	if err := cache.Put(ctx, entry); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := cache.Put(ctx, entry); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestResultCache_RefreshReplaces(t *testing.T) {
	cache := NewResultCache()
	ctx := context.Background()

	first := &domain.CacheEntry{LabID: "lab-1", BacktestID: "bt-1", Blob: []byte(`{"a":1,"b":2}`)}
	if err := cache.Put(ctx, first); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	second := &domain.CacheEntry{LabID: "lab-1", BacktestID: "bt-1", Blob: []byte(`{"c":3}`)}
	if err := storage.RefreshResult(ctx, cache, second); err != nil {
		t.Fatalf("RefreshResult failed: %v", err)
	}

	got, err := cache.Get(ctx, "lab-1", "bt-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got.Blob) != `{"c":3}` {
		t.Errorf("refresh merged or kept old content: %s", got.Blob)
	}
}

func TestResultCache_NotFound(t *testing.T) {
	cache := NewResultCache()

	_, err := cache.Get(context.Background(), "lab", "bt")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestReportStore_LatestAndList(t *testing.T) {
	store := NewReportStore()
	ctx := context.Background()
	base := time.Unix(1700000000, 0).UTC()

	for i, ts := range []time.Time{base, base.Add(2 * time.Hour), base.Add(time.Hour)} {
		err := store.Insert(ctx, &domain.ReportEntry{LabID: "lab-1", Timestamp: ts, Blob: []byte{byte('a' + i)}})
		if err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	latest, err := store.Latest(ctx, "lab-1")
	if err != nil {
		t.Fatalf("Latest failed: %v", err)
	}
	if !latest.Timestamp.Equal(base.Add(2 * time.Hour)) {
		t.Errorf("expected newest report, got %v", latest.Timestamp)
	}

	all, _ := store.List(ctx, "lab-1")
	if len(all) != 3 {
		t.Fatalf("expected 3 reports, got %d", len(all))
	}
	if !all[2].Timestamp.Equal(base) {
		t.Errorf("expected oldest report last")
	}

	err = store.Insert(ctx, &domain.ReportEntry{LabID: "lab-1", Timestamp: base, Blob: []byte("z")})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}

	if err := store.Delete(ctx, "lab-1", base.Add(2*time.Hour)); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	latest, _ = store.Latest(ctx, "lab-1")
	if !latest.Timestamp.Equal(base.Add(time.Hour)) {
		t.Errorf("expected second newest after delete, got %v", latest.Timestamp)
	}

	if _, err := store.Latest(ctx, "unknown"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestWFOStore_UpdateIfStatus(t *testing.T) {
	store := NewWFOStore()
	ctx := context.Background()

	job := &domain.WFOJob{
		WFOID:       "wfo-1",
		Status:      domain.JobStatusRunning,
		TimePeriods: []domain.TimePeriod{{}},
		Slices:      []domain.WFOSlice{{PeriodIndex: 0, TestJobID: "j1"}},
		CreatedAt:   time.Now(),
	}
	if err := store.Insert(ctx, job); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	done := job.Clone()
	done.Status = domain.JobStatusCompleted
	done.Results = &domain.StabilityReport{BestPeriod: 0, WorstPeriod: 0}
	if err := store.UpdateIfStatus(ctx, done, domain.JobStatusRunning); err != nil {
		t.Fatalf("UpdateIfStatus failed: %v", err)
	}
	if err := store.UpdateIfStatus(ctx, done, domain.JobStatusRunning); !errors.Is(err, storage.ErrConflict) {
		t.Errorf("Expected ErrConflict, got %v", err)
	}

	running, _ := store.List(ctx, domain.JobStatusRunning)
	if len(running) != 0 {
		t.Errorf("expected no running WFO jobs, got %d", len(running))
	}
	got, _ := store.GetByID(ctx, "wfo-1")
	if got.Results == nil {
		t.Errorf("expected results to be stored")
	}
}

func TestResultCache_SeparatorInIDs(t *testing.T) {
	cache := NewResultCache()
	ctx := context.Background()

	if err := cache.Put(ctx, &domain.CacheEntry{LabID: "a|b", BacktestID: "c", Blob: []byte("first")}); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := cache.Put(ctx, &domain.CacheEntry{LabID: "a", BacktestID: "b|c", Blob: []byte("second")}); err != nil {
		t.Fatalf("Put with overlapping ids failed: %v", err)
	}

	got, err := cache.Get(ctx, "a|b", "c")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got.Blob) != "first" {
		t.Errorf("expected first, got %s", got.Blob)
	}
}
