package wfo

import (
	"context"
	"errors"
	"fmt"
	"math"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/gateway"
	"backtest-lab/internal/robustness"
	"backtest-lab/internal/storage"
)

// Aggregate builds the stability report of a WFO job from the cached results
// of its slice jobs. Periods without a usable test result are listed as failed.
func (e *Engine) Aggregate(ctx context.Context, wfo *domain.WFOJob) (*domain.StabilityReport, error) {
	if wfo == nil {
		return nil, domain.NewValidationError("wfo", "must not be nil")
	}

	var (
		periods []domain.PeriodMetrics
		failed  []domain.FailedPeriod
	)
	for _, s := range wfo.Slices {
		if s.TestJobID == "" {
			reason := s.CreateError
			if reason == "" {
				reason = "test slice was not created"
			}
			failed = append(failed, domain.FailedPeriod{PeriodIndex: s.PeriodIndex, Reason: reason})
			continue
		}

		m, reason, err := e.sliceMetrics(ctx, s.TestJobID)
		if err != nil {
			return nil, err
		}
		if reason != "" {
			failed = append(failed, domain.FailedPeriod{PeriodIndex: s.PeriodIndex, JobID: s.TestJobID, Reason: reason})
			continue
		}

		pm := domain.PeriodMetrics{
			PeriodIndex: s.PeriodIndex,
			TestJobID:   s.TestJobID,
			ROI:         m.OverallROI,
			Sharpe:      m.Sharpe,
			MaxDrawdown: m.MaxDrawdownPct,
		}
		if s.TrainJobID != "" {
			tm, reason, err := e.sliceMetrics(ctx, s.TrainJobID)
			if err != nil {
				return nil, err
			}
			if reason == "" {
				roi := tm.OverallROI
				pm.TrainROI = &roi
			}
		}
		periods = append(periods, pm)
	}

	return Summarize(periods, failed, e.margin), nil
}

// sliceMetrics analyzes the cached result of one slice job.
// A non-empty reason means the slice produced no usable result.
func (e *Engine) sliceMetrics(ctx context.Context, jobID string) (*domain.RobustnessMetrics, string, error) {
	job, err := e.jobStore.GetByID(ctx, jobID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, "job no longer exists", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("get slice job %s: %w", jobID, err)
	}

	switch job.Status {
	case domain.JobStatusCompleted:
	case domain.JobStatusFailed:
		return nil, "job failed: " + job.ErrorMessage, nil
	default:
		return nil, "job is still " + string(job.Status), nil
	}

	entry, err := e.cache.Get(ctx, job.LabID, job.BacktestID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, "result not cached", nil
	}
	if err != nil {
		return nil, "", fmt.Errorf("get cached result %s/%s: %w", job.LabID, job.BacktestID, err)
	}

	res, err := gateway.ParseResult(entry.Blob)
	if err != nil {
		return nil, "invalid cached result: " + err.Error(), nil
	}
	m, err := robustness.Analyze(res, e.analysis)
	if errors.Is(err, domain.ErrInsufficientData) {
		return nil, "no trades in period", nil
	}
	if err != nil {
		return nil, "", err
	}
	return m, "", nil
}

// Summarize computes the stability statistics over successful periods.
// Degradation is flagged when train ROI exceeds test ROI by more than margin
// in a strict majority of the periods that have a train result.
func Summarize(periods []domain.PeriodMetrics, failed []domain.FailedPeriod, margin float64) *domain.StabilityReport {
	r := &domain.StabilityReport{
		Periods:           periods,
		FailedPeriods:     failed,
		BestPeriod:        -1,
		WorstPeriod:       -1,
		DegradationMargin: margin,
	}
	if r.Periods == nil {
		r.Periods = []domain.PeriodMetrics{}
	}
	if r.FailedPeriods == nil {
		r.FailedPeriods = []domain.FailedPeriod{}
	}
	if len(periods) == 0 {
		return r
	}

	rois := make([]float64, len(periods))
	sharpeSum := 0.0
	best, worst := 0, 0
	evaluated, degraded := 0, 0
	for i, p := range periods {
		rois[i] = p.ROI
		sharpeSum += p.Sharpe
		if p.MaxDrawdown > r.WorstDrawdown {
			r.WorstDrawdown = p.MaxDrawdown
		}
		if p.ROI > periods[best].ROI {
			best = i
		}
		if p.ROI < periods[worst].ROI {
			worst = i
		}
		if p.TrainROI != nil {
			evaluated++
			if *p.TrainROI-p.ROI > margin {
				degraded++
			}
		}
	}

	r.MeanROI = mean(rois)
	r.StdDevROI = sampleStddev(rois, r.MeanROI)
	if r.MeanROI > 0 {
		r.ConsistencyRatio = math.Max(0, math.Min(1, 1-r.StdDevROI/r.MeanROI))
	}
	r.MeanSharpe = sharpeSum / float64(len(periods))
	r.BestPeriod = periods[best].PeriodIndex
	r.WorstPeriod = periods[worst].PeriodIndex

	r.DegradationEvaluated = evaluated > 0
	r.DegradedPeriods = degraded
	r.PerformanceDegraded = evaluated > 0 && degraded*2 > evaluated
	return r
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func sampleStddev(values []float64, m float64) float64 {
	if len(values) < 2 {
		return 0
	}
	sumSq := 0.0
	for _, v := range values {
		sumSq += (v - m) * (v - m)
	}
	return math.Sqrt(sumSq / float64(len(values)-1))
}
