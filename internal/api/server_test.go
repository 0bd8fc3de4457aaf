package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/gateway/stub"
	"backtest-lab/internal/reporting"
	"backtest-lab/internal/storage"
	"backtest-lab/internal/storage/memory"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type apiFixture struct {
	jobs    *memory.JobStore
	wfos    *memory.WFOStore
	cache   *memory.ResultCache
	reports *memory.ReportStore
	facade  *reporting.Facade
	hub     *Hub
	server  *Server
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	log, _ := test.NewNullLogger()
	f := &apiFixture{
		jobs:    memory.NewJobStore(),
		wfos:    memory.NewWFOStore(),
		cache:   memory.NewResultCache(),
		reports: memory.NewReportStore(),
	}
	f.facade = reporting.NewFacade(reporting.FacadeOptions{
		Jobs:    f.jobs,
		WFOs:    f.wfos,
		Cache:   f.cache,
		Reports: f.reports,
		Logger:  log,
	})
	f.hub = NewHub(log)
	f.server = NewServer(Options{Facade: f.facade, Hub: f.hub, Logger: log})
	return f
}

func (f *apiFixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, req)
	return w
}

func (f *apiFixture) seedCompleted(t *testing.T, jobID, labID, backtestID string) {
	t.Helper()
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, f.jobs.Insert(context.Background(), &domain.BacktestJob{
		JobID:      jobID,
		JobType:    domain.JobTypeIndividual,
		LabID:      labID,
		BacktestID: backtestID,
		ScriptID:   "script-1",
		MarketTag:  "BINANCE_BTC_USDT_",
		StartTime:  start,
		EndTime:    start.AddDate(0, 0, 20),
		Status:     domain.JobStatusCompleted,
		Progress:   100,
		CreatedAt:  now,
		UpdatedAt:  now,
	}))
	require.NoError(t, f.cache.Put(context.Background(), &domain.CacheEntry{
		LabID:      labID,
		BacktestID: backtestID,
		Blob:       stub.SyntheticResult(labID, start, start.AddDate(0, 0, 20)),
		CreatedAt:  now,
	}))
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)
	w := f.get(t, "/health")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	w := f.get(t, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "backtest_lab_")
}

func TestGetJob(t *testing.T) {
	f := newAPIFixture(t)
	f.seedCompleted(t, "job-1", "lab-1", "bt-1")

	w := f.get(t, "/api/v1/jobs/job-1")
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, "bt-1", body["backtest_id"])

	w = f.get(t, "/api/v1/jobs/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetAnalysis(t *testing.T) {
	f := newAPIFixture(t)
	f.seedCompleted(t, "job-1", "lab-1", "bt-1")

	w := f.get(t, "/api/v1/labs/lab-1/backtests/bt-1/analysis")
	require.Equal(t, http.StatusOK, w.Code)

	var m domain.RobustnessMetrics
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	assert.Equal(t, "bt-1", m.BacktestID)
	assert.Equal(t, 20, m.TotalTrades)

	w = f.get(t, "/api/v1/labs/lab-1/backtests/missing/analysis")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetAnalysis_NoTrades(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.cache.Put(context.Background(), &domain.CacheEntry{
		LabID: "lab-1", BacktestID: "bt-empty", Blob: []byte(`{"Trades":[]}`),
	}))

	w := f.get(t, "/api/v1/labs/lab-1/backtests/bt-empty/analysis")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestReports(t *testing.T) {
	f := newAPIFixture(t)

	w := f.get(t, "/api/v1/labs/lab-1/reports/latest")
	assert.Equal(t, http.StatusNotFound, w.Code)

	f.seedCompleted(t, "job-1", "lab-1", "bt-1")
	_, entry, err := f.facade.SaveLabReport(context.Background(), "lab-1")
	require.NoError(t, err)

	w = f.get(t, "/api/v1/labs/lab-1/reports/latest")
	require.Equal(t, http.StatusOK, w.Code)
	var report domain.LabReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	require.Len(t, report.Analyses, 1)

	w = f.get(t, "/api/v1/labs/lab-1/reports")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), entry.Key)
}

func TestGetWFO(t *testing.T) {
	f := newAPIFixture(t)
	now := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, f.wfos.Insert(context.Background(), &domain.WFOJob{
		WFOID:     "wfo-1",
		Label:     "btc",
		Mode:      domain.WindowRolling,
		SliceMode: domain.SliceTestOnly,
		Status:    domain.JobStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}))

	w := f.get(t, "/api/v1/wfo/wfo-1")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"mode":"rolling"`)

	w = f.get(t, "/api/v1/wfo/wfo-2")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWriteErrorMapping(t *testing.T) {
	f := newAPIFixture(t)
	tests := []struct {
		err  error
		want int
	}{
		{domain.NewValidationError("start", "must be before end"), http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", domain.ErrJobNotFound), http.StatusNotFound},
		{fmt.Errorf("wrap: %w", storage.ErrNotFound), http.StatusNotFound},
		{domain.ErrInsufficientData, http.StatusUnprocessableEntity},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		w := httptest.NewRecorder()
		c, _ := gin.CreateTestContext(w)
		c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
		f.server.writeError(c, tt.err)
		assert.Equal(t, tt.want, w.Code, tt.err.Error())
	}
}

func TestMonitorStream(t *testing.T) {
	f := newAPIFixture(t)
	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/monitor"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var hello Message
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, MessageConnected, hello.Type)

	require.Eventually(t, func() bool { return f.hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, f.hub.Broadcast(MessageMonitor, map[string]int{"completed": 3}))

	var msg struct {
		Type string         `json:"type"`
		Data map[string]int `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessageMonitor, msg.Type)
	assert.Equal(t, 3, msg.Data["completed"])

	conn.Close()
	assert.Eventually(t, func() bool { return f.hub.Clients() == 0 }, 2*time.Second, 10*time.Millisecond)
}
