package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	statuses := []JobStatus{JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed}
	allowed := map[[2]JobStatus]bool{
		{JobStatusPending, JobStatusRunning}:   true,
		{JobStatusPending, JobStatusFailed}:    true,
		{JobStatusRunning, JobStatusCompleted}: true,
		{JobStatusRunning, JobStatusFailed}:    true,
	}

	for _, from := range statuses {
		for _, to := range statuses {
			want := allowed[[2]JobStatus{from, to}]
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestJobStatus_Terminal(t *testing.T) {
	assert.False(t, JobStatusPending.Terminal())
	assert.False(t, JobStatusRunning.Terminal())
	assert.True(t, JobStatusCompleted.Terminal())
	assert.True(t, JobStatusFailed.Terminal())
}

func TestBacktestJob_CloneIsDeep(t *testing.T) {
	done := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	job := &BacktestJob{
		JobID:       "j1",
		Status:      JobStatusCompleted,
		CompletedAt: &done,
		Results:     json.RawMessage(`{"ROI":1}`),
	}

	c := job.Clone()
	c.Results[0] = '['
	*c.CompletedAt = done.Add(time.Hour)

	assert.Equal(t, `{"ROI":1}`, string(job.Results))
	assert.Equal(t, done, *job.CompletedAt)
	assert.Nil(t, (*BacktestJob)(nil).Clone())
}

func TestWFOJob_CloneIsDeep(t *testing.T) {
	wfo := &WFOJob{
		WFOID:       "w1",
		TimePeriods: []TimePeriod{{}},
		Slices:      []WFOSlice{{PeriodIndex: 0, TestJobID: "a"}},
		Results: &StabilityReport{
			Periods:       []PeriodMetrics{{PeriodIndex: 0, ROI: 2}},
			FailedPeriods: []FailedPeriod{{PeriodIndex: 1, Reason: "no trades"}},
		},
	}

	c := wfo.Clone()
	c.Slices[0].TestJobID = "b"
	c.Results.Periods[0].ROI = 9
	c.Results.FailedPeriods[0].Reason = "x"

	assert.Equal(t, "a", wfo.Slices[0].TestJobID)
	assert.Equal(t, 2.0, wfo.Results.Periods[0].ROI)
	assert.Equal(t, "no trades", wfo.Results.FailedPeriods[0].Reason)
}

func TestErrorTaxonomy(t *testing.T) {
	ve := fmt.Errorf("create job: %w", NewValidationError("end_time", "must be after start_time"))
	assert.True(t, IsValidation(ve))
	assert.False(t, IsGateway(ve))
	assert.EqualError(t, ve, "create job: invalid end_time: must be after start_time")

	cause := errors.New("connection reset")
	ge := NewGatewayError("CREATE_LAB", cause)
	assert.True(t, IsGateway(ge))
	assert.ErrorIs(t, ge, cause)

	de := &DiscoveryError{MarketTag: "BINANCE_BTC_USDT_", Probes: 12, Err: ErrDiscoveryExhausted}
	assert.ErrorIs(t, de, ErrDiscoveryExhausted)
	assert.Contains(t, de.Error(), "after 12 probes")

	wrapped := &DiscoveryError{MarketTag: "m", Err: ge}
	var got *GatewayError
	require.ErrorAs(t, wrapped, &got)
	assert.Equal(t, "CREATE_LAB", got.Op)
}

func TestModesValid(t *testing.T) {
	assert.True(t, JobTypeWFOSlice.Valid())
	assert.False(t, JobType("batch").Valid())
	assert.True(t, WindowExpanding.Valid())
	assert.False(t, WindowMode("sliding").Valid())
	assert.True(t, SliceTrainAndTest.Valid())
	assert.False(t, SliceMode("train").Valid())
}
