package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/storage"
)

func testJob(id string, created time.Time) *domain.BacktestJob {
	return &domain.BacktestJob{
		JobID:     id,
		JobType:   domain.JobTypeIndividual,
		LabID:     "lab-" + id,
		ScriptID:  "script-1",
		MarketTag: "BINANCE_ETH_USDT_",
		AccountID: "acc-1",
		Label:     "test",
		StartTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		Status:    domain.JobStatusPending,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestJobStore_InsertAndGetByID(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewJobStore(pool)
	ctx := context.Background()

	job := testJob("job-001", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, store.Insert(ctx, job))

	got, err := store.GetByID(ctx, "job-001")
	require.NoError(t, err)

	assert.Equal(t, job.JobType, got.JobType)
	assert.Equal(t, job.LabID, got.LabID)
	assert.Empty(t, got.BacktestID)
	assert.Equal(t, domain.JobStatusPending, got.Status)
	assert.True(t, job.StartTime.Equal(got.StartTime))
	assert.True(t, job.EndTime.Equal(got.EndTime))
	assert.Nil(t, got.CompletedAt)
	assert.Nil(t, got.Results)
}

func TestJobStore_InsertDuplicate(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewJobStore(pool)
	ctx := context.Background()

	job := testJob("job-dup", time.Now().UTC())
	require.NoError(t, store.Insert(ctx, job))

	err := store.Insert(ctx, job)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestJobStore_GetByIDNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewJobStore(pool)

	_, err := store.GetByID(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestJobStore_UpdateIfStatus(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewJobStore(pool)
	ctx := context.Background()

	job := testJob("job-upd", time.Now().UTC())
	require.NoError(t, store.Insert(ctx, job))

	running := job.Clone()
	running.Status = domain.JobStatusRunning
	running.BacktestID = "bt-77"
	running.Progress = 40
	require.NoError(t, store.UpdateIfStatus(ctx, running, domain.JobStatusPending))

	done := running.Clone()
	done.Status = domain.JobStatusCompleted
	now := time.Now().UTC()
	done.CompletedAt = &now
	done.Results = json.RawMessage(`{"roi": 4.2}`)
	require.NoError(t, store.UpdateIfStatus(ctx, done, domain.JobStatusRunning))

	got, err := store.GetByID(ctx, "job-upd")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
	assert.Equal(t, "bt-77", got.BacktestID)
	require.NotNil(t, got.CompletedAt)
	assert.JSONEq(t, `{"roi": 4.2}`, string(got.Results))

	// Stale writer loses
	assert.ErrorIs(t, store.UpdateIfStatus(ctx, running, domain.JobStatusRunning), storage.ErrConflict)

	ghost := testJob("ghost", now)
	assert.ErrorIs(t, store.UpdateIfStatus(ctx, ghost, domain.JobStatusPending), storage.ErrNotFound)
}

func TestJobStore_List(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewJobStore(pool)
	ctx := context.Background()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	a := testJob("a", base)
	b := testJob("b", base.Add(time.Hour))
	b.ParentID = "wfo-1"
	b.JobType = domain.JobTypeWFOSlice
	c := testJob("c", base.Add(2*time.Hour))
	c.Status = domain.JobStatusFailed

	for _, j := range []*domain.BacktestJob{c, a, b} {
		require.NoError(t, store.Insert(ctx, j))
	}

	pending, err := store.List(ctx, storage.JobFilter{Statuses: []domain.JobStatus{domain.JobStatusPending}})
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].JobID)
	assert.Equal(t, "b", pending[1].JobID)

	children, err := store.List(ctx, storage.JobFilter{ParentID: "wfo-1"})
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "b", children[0].JobID)

	old, err := store.List(ctx, storage.JobFilter{CreatedBefore: base.Add(time.Minute)})
	require.NoError(t, err)
	require.Len(t, old, 1)
	assert.Equal(t, "a", old[0].JobID)
}

func TestJobStore_Delete(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewJobStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, testJob("del", time.Now().UTC())))
	require.NoError(t, store.Delete(ctx, "del"))
	assert.ErrorIs(t, store.Delete(ctx, "del"), storage.ErrNotFound)
}
