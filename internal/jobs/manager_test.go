package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest-lab/internal/discovery"
	"backtest-lab/internal/domain"
	"backtest-lab/internal/gateway"
	"backtest-lab/internal/gateway/stub"
	"backtest-lab/internal/storage"
	"backtest-lab/internal/storage/memory"
)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	gw    *stub.Gateway
	store *memory.JobStore
	cache *memory.ResultCache
	clock *testClock
	mgr   *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		gw:    stub.New(),
		store: memory.NewJobStore(),
		cache: memory.NewResultCache(),
		clock: &testClock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)},
	}
	f.mgr = NewManager(Options{
		Gateway: f.gw,
		Store:   f.store,
		Cache:   f.cache,
		Discoverer: discovery.New(discovery.Options{
			Gateway: f.gw,
			Config:  discovery.Config{RetryBackoff: time.Millisecond},
			Now:     f.clock.Now,
		}),
		Now: f.clock.Now,
	})
	return f
}

func (f *fixture) request() CreateRequest {
	end := f.clock.Now().Truncate(24 * time.Hour)
	return CreateRequest{
		ScriptID:  "script-1",
		MarketTag: "BINANCE_BTC_USDT_",
		AccountID: "acc-1",
		Start:     end.AddDate(0, 0, -30),
		End:       end,
		Label:     "btc",
	}
}

func (f *fixture) create(t *testing.T) *domain.BacktestJob {
	t.Helper()
	job, err := f.mgr.CreateIndividual(context.Background(), f.request())
	require.NoError(t, err)
	return job
}

func (f *fixture) get(t *testing.T, jobID string) *domain.BacktestJob {
	t.Helper()
	job, err := f.store.GetByID(context.Background(), jobID)
	require.NoError(t, err)
	return job
}

func TestCreateIndividual_PendingWithoutBacktestID(t *testing.T) {
	f := newFixture(t)
	req := f.request()

	job, err := f.mgr.CreateIndividual(context.Background(), req)
	require.NoError(t, err)

	assert.NotEmpty(t, job.JobID)
	assert.Equal(t, domain.JobTypeIndividual, job.JobType)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Empty(t, job.BacktestID)
	assert.NotEmpty(t, job.LabID)
	assert.True(t, req.Start.Equal(job.StartTime))

	lab := f.gw.Lab(job.LabID)
	require.NotNil(t, lab)
	assert.True(t, lab.Started)
	assert.Equal(t, "script-1", lab.Spec.ScriptID)

	stored := f.get(t, job.JobID)
	assert.Equal(t, domain.JobStatusPending, stored.Status)
}

func TestCreateIndividual_Validation(t *testing.T) {
	f := newFixture(t)

	cases := map[string]func(*CreateRequest){
		"end before start": func(r *CreateRequest) { r.End = r.Start.Add(-time.Hour) },
		"empty range":      func(r *CreateRequest) { r.End = r.Start },
		"missing script":   func(r *CreateRequest) { r.ScriptID = "" },
		"missing market":   func(r *CreateRequest) { r.MarketTag = " " },
		"unknown type":     func(r *CreateRequest) { r.JobType = "nightly" },
		"slice w/o parent": func(r *CreateRequest) { r.JobType = domain.JobTypeWFOSlice },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			req := f.request()
			mutate(&req)
			_, err := f.mgr.CreateIndividual(context.Background(), req)
			assert.True(t, domain.IsValidation(err), "got %v", err)
		})
	}

	assert.Empty(t, f.gw.LabIDs(), "validation must happen before remote calls")
}

func TestCreateIndividual_GatewayErrorPersistsNothing(t *testing.T) {
	f := newFixture(t)

	f.gw.CreateLabErr = errors.New("platform down")
	_, err := f.mgr.CreateIndividual(context.Background(), f.request())
	require.Error(t, err)

	f.gw.CreateLabErr = nil
	f.gw.StartErr = domain.NewGatewayError("START_LAB_EXECUTION", errors.New("quota exceeded"))
	_, err = f.mgr.CreateIndividual(context.Background(), f.request())
	require.Error(t, err)
	assert.True(t, domain.IsGateway(err))

	all, err := f.store.List(context.Background(), storage.JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestMonitor_Lifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.create(t)

	sum, err := f.mgr.Monitor(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.StillPending)
	assert.Equal(t, domain.JobStatusPending, f.get(t, job.JobID).Status)

	f.gw.SetStatus(job.LabID, gateway.ExecutionStatus{State: gateway.StateRunning, Progress: 40, BacktestID: "bt-1"})
	_, err = f.mgr.Monitor(ctx)
	require.NoError(t, err)
	running := f.get(t, job.JobID)
	assert.Equal(t, domain.JobStatusRunning, running.Status)
	assert.Equal(t, "bt-1", running.BacktestID)
	assert.InDelta(t, 40, running.Progress, 1e-9)

	blob := stub.SyntheticResult(job.LabID, job.StartTime, job.EndTime)
	f.gw.Complete(job.LabID, "bt-1", blob)
	sum, err = f.mgr.Monitor(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Completed)

	done := f.get(t, job.JobID)
	assert.Equal(t, domain.JobStatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	assert.Contains(t, string(done.Results), "StartingBalance")

	entry, err := f.cache.Get(ctx, job.LabID, "bt-1")
	require.NoError(t, err)
	assert.Equal(t, blob, entry.Blob)
}

func TestMonitor_IdempotentOnTerminalJobs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.create(t)
	f.gw.Complete(job.LabID, "bt-9", stub.SyntheticResult(job.LabID, job.StartTime, job.EndTime))

	_, err := f.mgr.Monitor(ctx)
	require.NoError(t, err)
	first := f.get(t, job.JobID)
	assert.Equal(t, domain.JobStatusCompleted, first.Status, "pending job observed completed passes through running")

	f.clock.Advance(time.Hour)
	sum, err := f.mgr.Monitor(ctx)
	require.NoError(t, err)
	assert.Equal(t, MonitorSummary{StartedAt: sum.StartedAt, Duration: sum.Duration}, *sum)
	assert.Equal(t, first, f.get(t, job.JobID))
}

func TestMonitor_PollingErrorsMarkJobFailed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	broken := f.create(t)
	remoteFailed := f.create(t)
	noResult := f.create(t)
	healthy := f.create(t)

	f.gw.StatusErr[broken.LabID] = errors.New("502 bad gateway")
	f.gw.Fail(remoteFailed.LabID, "insufficient margin")
	f.gw.Complete(noResult.LabID, "bt-x", []byte(`{}`))
	f.gw.ResultErr["bt-x"] = errors.New("result expired")

	sum, err := f.mgr.Monitor(ctx)
	require.NoError(t, err, "per-job failures must not abort the pass")
	assert.Equal(t, 3, sum.Failed)
	assert.Equal(t, 1, sum.StillPending)

	b := f.get(t, broken.JobID)
	assert.Equal(t, domain.JobStatusFailed, b.Status)
	assert.Contains(t, b.ErrorMessage, "502 bad gateway")
	require.NotNil(t, b.CompletedAt)

	assert.Equal(t, "insufficient margin", f.get(t, remoteFailed.JobID).ErrorMessage)
	assert.Contains(t, f.get(t, noResult.JobID).ErrorMessage, "result expired")
	assert.Equal(t, domain.JobStatusPending, f.get(t, healthy.JobID).Status)

	// Failed jobs are not retried.
	delete(f.gw.StatusErr, broken.LabID)
	f.gw.Complete(broken.LabID, "bt-late", stub.SyntheticResult(broken.LabID, broken.StartTime, broken.EndTime))
	_, err = f.mgr.Monitor(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, f.get(t, broken.JobID).Status)
}

func TestMonitor_ConcurrentPassesCompleteOnce(t *testing.T) {
	f := newFixture(t)
	const n = 10
	for i := 0; i < n; i++ {
		job := f.create(t)
		f.gw.Complete(job.LabID, "bt-"+job.JobID, stub.SyntheticResult(job.LabID, job.StartTime, job.EndTime))
	}

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sum, err := f.mgr.Monitor(context.Background())
			if err != nil {
				t.Errorf("Monitor: %v", err)
				return
			}
			mu.Lock()
			completed += sum.Completed
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, n, completed)
	all, err := f.store.List(context.Background(), storage.JobFilter{Statuses: []domain.JobStatus{domain.JobStatusCompleted}})
	require.NoError(t, err)
	assert.Len(t, all, n)
}

func TestGetStatus_NotFound(t *testing.T) {
	f := newFixture(t)
	_, err := f.mgr.GetStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestCleanup_DeletesOldTerminalJobsOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	old := f.create(t)
	oldPending := f.create(t)
	f.gw.Fail(old.LabID, "boom")
	_, err := f.mgr.Monitor(ctx)
	require.NoError(t, err)

	f.clock.Advance(40 * 24 * time.Hour)
	recent := f.create(t)
	f.gw.Fail(recent.LabID, "boom")
	_, err = f.mgr.Monitor(ctx)
	require.NoError(t, err)

	deleted, err := f.mgr.Cleanup(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted)

	_, err = f.mgr.GetStatus(ctx, old.JobID)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
	_, err = f.mgr.GetStatus(ctx, oldPending.JobID)
	assert.NoError(t, err, "non-terminal jobs are kept")
	_, err = f.mgr.GetStatus(ctx, recent.JobID)
	assert.NoError(t, err)

	assert.NotNil(t, f.gw.Lab(old.LabID), "remote labs are untouched")

	_, err = f.mgr.Cleanup(ctx, -1)
	assert.True(t, domain.IsValidation(err))
}

func TestAbandon(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	job := f.create(t)

	abandoned, err := f.mgr.Abandon(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, abandoned.Status)
	assert.Equal(t, AbandonedMessage, abandoned.ErrorMessage)

	_, err = f.mgr.Abandon(ctx, job.JobID)
	assert.True(t, domain.IsValidation(err))

	_, err = f.mgr.Abandon(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestCreateIndividualWithDiscoveredCutoff(t *testing.T) {
	f := newFixture(t)
	cutoff := time.Date(2025, 9, 10, 0, 0, 0, 0, time.UTC)
	f.gw.SetHistoryCutoff("BINANCE_BTC_USDT_", cutoff)

	job, err := f.mgr.CreateIndividualWithDiscoveredCutoff(context.Background(), "script-1", "BINANCE_BTC_USDT_", "acc-1", "auto")
	require.NoError(t, err)
	assert.True(t, cutoff.Add(24*time.Hour).Equal(job.StartTime), "start = cutoff + 1 day, got %s", job.StartTime)
	assert.True(t, f.clock.Now().Equal(job.EndTime))

	_, err = f.mgr.CreateIndividualWithDiscoveredCutoff(context.Background(), "script-1", "UNKNOWN", "acc-1", "auto")
	assert.ErrorIs(t, err, domain.ErrNoHistory)
}

func TestCreateLabBatch(t *testing.T) {
	f := newFixture(t)
	base := f.request()

	res, err := f.mgr.CreateLabBatch(context.Background(), BatchRequest{
		ScriptID:  "script-1",
		AccountID: "acc-1",
		Label:     "majors",
		Entries: []BatchEntry{
			{MarketTag: "BINANCE_BTC_USDT_", Start: base.Start, End: base.End},
			{MarketTag: "BINANCE_ETH_USDT_", Start: base.End, End: base.Start},
			{MarketTag: "BINANCE_SOL_USDT_", Start: base.Start, End: base.End},
		},
	})
	require.NoError(t, err)
	require.Len(t, res.Jobs, 3)

	assert.Equal(t, 1, res.Failed())
	assert.True(t, domain.IsValidation(res.Errors[1]))
	assert.Nil(t, res.Jobs[1])
	assert.Len(t, res.Created(), 2)
	for _, j := range res.Created() {
		assert.Equal(t, domain.JobTypeLabBatch, j.JobType)
	}
	assert.Equal(t, "majors/BINANCE_SOL_USDT_/2", res.Jobs[2].Label)
	assert.NotEqual(t, res.Jobs[0].LabID, res.Jobs[2].LabID, "each entry gets its own lab")
	assert.Len(t, f.gw.LabIDs(), 2, "invalid entries create no lab")

	_, err = f.mgr.CreateLabBatch(context.Background(), BatchRequest{ScriptID: "s", AccountID: "a"})
	assert.True(t, domain.IsValidation(err))
}
