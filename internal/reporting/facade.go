// Package reporting exposes cached analyses and saved reports to presentation layers,
// and renders them as Markdown, CSV, console tables and xlsx workbooks.
package reporting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/gateway"
	"backtest-lab/internal/idhash"
	"backtest-lab/internal/logger"
	"backtest-lab/internal/observability"
	"backtest-lab/internal/robustness"
	"backtest-lab/internal/storage"
)

// Facade serves read-only views over stored jobs, cached results and reports.
// Nothing here calls the remote gateway.
type Facade struct {
	jobs     storage.JobStore
	wfos     storage.WFOStore
	cache    storage.ResultCache
	reports  storage.ReportStore
	analysis robustness.Options
	log      logrus.FieldLogger
	now      func() time.Time // Injectable clock for deterministic output
}

// FacadeOptions for creating a Facade.
type FacadeOptions struct {
	Jobs     storage.JobStore
	WFOs     storage.WFOStore
	Cache    storage.ResultCache
	Reports  storage.ReportStore
	Analysis robustness.Options
	Logger   logrus.FieldLogger
}

// NewFacade creates a report facade.
func NewFacade(opts FacadeOptions) *Facade {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	return &Facade{
		jobs:     opts.Jobs,
		wfos:     opts.WFOs,
		cache:    opts.Cache,
		reports:  opts.Reports,
		analysis: opts.Analysis,
		log:      log.WithField("component", "reporting"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (f *Facade) WithClock(now func() time.Time) *Facade {
	f.now = now
	return f
}

// GetJobStatus returns a stored job.
func (f *Facade) GetJobStatus(ctx context.Context, jobID string) (*domain.BacktestJob, error) {
	job, err := f.jobs.GetByID(ctx, jobID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
	}
	return job, err
}

// GetWFO returns a stored WFO job.
func (f *Facade) GetWFO(ctx context.Context, wfoID string) (*domain.WFOJob, error) {
	wfo, err := f.wfos.GetByID(ctx, wfoID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, wfoID)
	}
	return wfo, err
}

// GetCachedAnalysis analyzes the cached raw result of a backtest.
// A missing cache entry yields storage.ErrNotFound.
func (f *Facade) GetCachedAnalysis(ctx context.Context, labID, backtestID string) (*domain.RobustnessMetrics, error) {
	entry, err := f.cache.Get(ctx, labID, backtestID)
	observability.RecordCacheLookup(err == nil)
	if err != nil {
		return nil, fmt.Errorf("cached result %s/%s: %w", labID, backtestID, err)
	}

	res, err := gateway.ParseResult(entry.Blob)
	if err != nil {
		return nil, fmt.Errorf("cached result %s/%s: %w", labID, backtestID, err)
	}
	// The cache key identifies the backtest, whatever the payload claims.
	res.LabID, res.BacktestID = labID, backtestID
	return robustness.Analyze(res, f.analysis)
}

// GetLatestReport decodes the newest saved report of a lab.
func (f *Facade) GetLatestReport(ctx context.Context, labID string) (*domain.LabReport, error) {
	entry, err := f.reports.Latest(ctx, labID)
	if err != nil {
		return nil, fmt.Errorf("latest report for %s: %w", labID, err)
	}
	return decodeReport(entry)
}

// ListSavedReports lists the saved reports of a lab, newest first.
func (f *Facade) ListSavedReports(ctx context.Context, labID string) ([]ReportInfo, error) {
	entries, err := f.reports.List(ctx, labID)
	if err != nil {
		return nil, fmt.Errorf("list reports for %s: %w", labID, err)
	}
	out := make([]ReportInfo, 0, len(entries))
	for _, e := range entries {
		out = append(out, ReportInfo{
			LabID:       e.LabID,
			GeneratedAt: e.Timestamp,
			Key:         e.Key,
			SizeBytes:   len(e.Blob),
		})
	}
	return out, nil
}

// SaveLabReport analyzes every completed job of a lab and stores the report
// under (labID, now). Jobs without a usable result are listed as skipped.
func (f *Facade) SaveLabReport(ctx context.Context, labID string) (*domain.LabReport, *domain.ReportEntry, error) {
	jobs, err := f.jobs.List(ctx, storage.JobFilter{LabID: labID})
	if err != nil {
		return nil, nil, fmt.Errorf("list jobs for lab %s: %w", labID, err)
	}
	if len(jobs) == 0 {
		return nil, nil, fmt.Errorf("%w: no jobs for lab %s", domain.ErrJobNotFound, labID)
	}

	// ClickHouse keeps millisecond precision.
	ts := f.now().UTC().Truncate(time.Millisecond)
	report := &domain.LabReport{
		LabID:       labID,
		GeneratedAt: ts,
		Analyses:    []*domain.RobustnessMetrics{},
	}

	for _, job := range jobs {
		switch job.Status {
		case domain.JobStatusCompleted:
		case domain.JobStatusFailed:
			report.Skipped = append(report.Skipped, domain.SkippedBacktest{
				JobID: job.JobID, BacktestID: job.BacktestID, Reason: "job failed: " + job.ErrorMessage,
			})
			continue
		default:
			report.Skipped = append(report.Skipped, domain.SkippedBacktest{
				JobID: job.JobID, BacktestID: job.BacktestID, Reason: "job is still " + string(job.Status),
			})
			continue
		}

		m, err := f.GetCachedAnalysis(ctx, job.LabID, job.BacktestID)
		if err != nil {
			report.Skipped = append(report.Skipped, domain.SkippedBacktest{
				JobID: job.JobID, BacktestID: job.BacktestID, Reason: err.Error(),
			})
			continue
		}
		report.Analyses = append(report.Analyses, m)
	}

	blob, err := json.Marshal(report)
	if err != nil {
		return nil, nil, fmt.Errorf("encode report: %w", err)
	}
	entry := &domain.ReportEntry{
		LabID:     labID,
		Timestamp: ts,
		Key:       idhash.ComputeReportKey(labID, ts),
		Blob:      blob,
	}
	if err := f.reports.Insert(ctx, entry); err != nil {
		return nil, nil, fmt.Errorf("save report: %w", err)
	}

	observability.RecordReportGenerated()
	f.log.WithFields(logrus.Fields{
		"lab_id":   labID,
		"analyses": len(report.Analyses),
		"skipped":  len(report.Skipped),
		"key":      entry.Key,
	}).Info("lab report saved")
	return report, entry, nil
}

// RefreshResult replaces the cached raw result of a backtest.
func (f *Facade) RefreshResult(ctx context.Context, labID, backtestID string, blob []byte) error {
	if _, err := gateway.ParseResult(blob); err != nil {
		return domain.NewValidationError("blob", err.Error())
	}
	return storage.RefreshResult(ctx, f.cache, &domain.CacheEntry{
		LabID:      labID,
		BacktestID: backtestID,
		Blob:       blob,
		CreatedAt:  f.now().UTC(),
	})
}

func decodeReport(e *domain.ReportEntry) (*domain.LabReport, error) {
	var r domain.LabReport
	if err := json.Unmarshal(e.Blob, &r); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", e.Key, err)
	}
	return &r, nil
}
