package app

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest-lab/internal/config"
	"backtest-lab/internal/domain"
	"backtest-lab/internal/jobs"
)

func newStubApp(t *testing.T) *App {
	t.Helper()
	cfg := config.Default()
	cfg.Gateway.Stub = true
	require.NoError(t, cfg.Validate())

	log, _ := test.NewNullLogger()
	a, err := New(context.Background(), cfg, log)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestNew_MemoryWithStub(t *testing.T) {
	a := newStubApp(t)
	assert.NotNil(t, a.Stub)
	assert.NotNil(t, a.Jobs)
	assert.NotNil(t, a.WFO)
	assert.NotNil(t, a.Reports)
}

func TestNew_UnknownBackend(t *testing.T) {
	cfg := config.Default()
	cfg.Gateway.Stub = true
	cfg.Storage.Backend = "mongo"
	log, _ := test.NewNullLogger()

	_, err := New(context.Background(), cfg, log)
	assert.Error(t, err)
}

func TestWaitForJobs_CompletesAndReports(t *testing.T) {
	a := newStubApp(t)
	ctx := context.Background()

	end := time.Now().UTC().Truncate(24 * time.Hour)
	job, err := a.Jobs.CreateIndividual(ctx, jobs.CreateRequest{
		ScriptID:  "script-1",
		MarketTag: "BINANCE_BTC_USDT_",
		AccountID: "acc-1",
		Start:     end.AddDate(0, 0, -14),
		End:       end,
	})
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err = a.WaitForJobs(waitCtx, time.Millisecond)
	require.NoError(t, err)

	got, err := a.Jobs.GetStatus(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)

	report, _, err := a.Reports.SaveLabReport(ctx, got.LabID)
	require.NoError(t, err)
	assert.Len(t, report.Analyses, 1)
}

func TestLoadConfig_TweakAndEnv(t *testing.T) {
	t.Setenv("BTLAB_MONITOR_CONCURRENCY", "2")

	cfg, err := LoadConfig("", "", func(c *config.Config) { c.Gateway.Stub = true })
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Monitor.Concurrency)
	assert.True(t, cfg.Gateway.Stub)

	_, err = LoadConfig("", "", nil)
	assert.Error(t, err, "endpoint is required without the stub")
}
