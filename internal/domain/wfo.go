package domain

import "time"

// WindowMode selects how WFO periods advance through history.
type WindowMode string

const (
	// WindowRolling slides both train and test windows by the step.
	WindowRolling WindowMode = "rolling"
	// WindowFixed keeps the first train window and advances only the test window.
	WindowFixed WindowMode = "fixed"
	// WindowExpanding anchors the train start and grows the train end by the step.
	WindowExpanding WindowMode = "expanding"
)

// Valid reports whether m is a known window mode.
func (m WindowMode) Valid() bool {
	switch m {
	case WindowRolling, WindowFixed, WindowExpanding:
		return true
	}
	return false
}

// SliceMode selects how many backtests are executed per period.
type SliceMode string

const (
	// SliceTestOnly runs only the out-of-sample window with fixed parameters.
	SliceTestOnly SliceMode = "test-only"
	// SliceTrainAndTest runs the train window as well, enabling degradation checks.
	SliceTrainAndTest SliceMode = "train-and-test"
)

// Valid reports whether m is a known slice mode.
func (m SliceMode) Valid() bool {
	return m == SliceTestOnly || m == SliceTrainAndTest
}

// TimePeriod is one train/test pair. Both windows are half-open.
type TimePeriod struct {
	TrainStart time.Time `json:"train_start"`
	TrainEnd   time.Time `json:"train_end"`
	TestStart  time.Time `json:"test_start"`
	TestEnd    time.Time `json:"test_end"`
}

// WFOSlice references the backtest jobs executed for one period.
type WFOSlice struct {
	PeriodIndex int    `json:"period_index"`
	TrainJobID  string `json:"train_job_id,omitempty"`
	TestJobID   string `json:"test_job_id,omitempty"`
	// CreateError is set when the slice jobs could not be created.
	CreateError string `json:"create_error,omitempty"`
}

// WFOJob is a walk-forward analysis over one script/market/account triple.
type WFOJob struct {
	WFOID         string
	Label         string
	BaseScriptID  string
	BaseMarketTag string
	BaseAccountID string

	Mode      WindowMode
	SliceMode SliceMode

	TimePeriods []TimePeriod
	Slices      []WFOSlice // Slices[i] corresponds to TimePeriods[i]

	Status      JobStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time

	Results *StabilityReport
}

// Clone returns a deep copy of the WFO job.
func (w *WFOJob) Clone() *WFOJob {
	if w == nil {
		return nil
	}
	c := *w
	c.TimePeriods = append([]TimePeriod(nil), w.TimePeriods...)
	c.Slices = append([]WFOSlice(nil), w.Slices...)
	if w.CompletedAt != nil {
		t := *w.CompletedAt
		c.CompletedAt = &t
	}
	if w.Results != nil {
		r := *w.Results
		r.Periods = append([]PeriodMetrics(nil), w.Results.Periods...)
		r.FailedPeriods = append([]FailedPeriod(nil), w.Results.FailedPeriods...)
		c.Results = &r
	}
	return &c
}

// PeriodMetrics holds the out-of-sample metrics of one WFO period.
type PeriodMetrics struct {
	PeriodIndex int      `json:"period_index"`
	TestJobID   string   `json:"test_job_id"`
	ROI         float64  `json:"roi"`
	Sharpe      float64  `json:"sharpe"`
	MaxDrawdown float64  `json:"max_drawdown"`
	TrainROI    *float64 `json:"train_roi,omitempty"`
}

// FailedPeriod records a period that produced no usable result.
type FailedPeriod struct {
	PeriodIndex int    `json:"period_index"`
	JobID       string `json:"job_id,omitempty"`
	Reason      string `json:"reason"`
}

// StabilityReport aggregates per-period WFO metrics.
type StabilityReport struct {
	Periods       []PeriodMetrics `json:"periods"`
	FailedPeriods []FailedPeriod  `json:"failed_periods"`

	MeanROI          float64 `json:"mean_roi"`
	StdDevROI        float64 `json:"stddev_roi"`
	ConsistencyRatio float64 `json:"consistency_ratio"`
	MeanSharpe       float64 `json:"mean_sharpe"`
	WorstDrawdown    float64 `json:"worst_drawdown"`

	BestPeriod  int `json:"best_period"`  // -1 when no period succeeded
	WorstPeriod int `json:"worst_period"` // -1 when no period succeeded

	DegradationEvaluated bool    `json:"degradation_evaluated"`
	DegradationMargin    float64 `json:"degradation_margin"`
	DegradedPeriods      int     `json:"degraded_periods"`
	PerformanceDegraded  bool    `json:"performance_degraded"`
}
