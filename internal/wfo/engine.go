package wfo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/idhash"
	"backtest-lab/internal/jobs"
	"backtest-lab/internal/logger"
	"backtest-lab/internal/observability"
	"backtest-lab/internal/robustness"
	"backtest-lab/internal/storage"
)

// Defaults.
const (
	DefaultConcurrency       = 4
	DefaultDegradationMargin = 5.0 // ROI percentage points
)

// JobCreator creates backtest jobs. Implemented by *jobs.Manager.
type JobCreator interface {
	CreateIndividual(ctx context.Context, req jobs.CreateRequest) (*domain.BacktestJob, error)
}

// Config describes one walk-forward run.
type Config struct {
	Label     string
	ScriptID  string
	MarketTag string
	AccountID string

	TotalStart time.Time
	TotalEnd   time.Time
	Train      time.Duration
	Test       time.Duration
	// Step defaults to Test.
	Step time.Duration

	Mode      domain.WindowMode
	SliceMode domain.SliceMode
}

// Engine plans and drives WFO runs. It owns WFO jobs and reads slice jobs.
type Engine struct {
	jobs     JobCreator
	store    storage.WFOStore
	jobStore storage.JobStore
	cache    storage.ResultCache

	analysis    robustness.Options
	margin      float64
	concurrency int
	log         logrus.FieldLogger
	now         func() time.Time
}

// Options for creating an Engine.
type Options struct {
	Jobs     JobCreator
	Store    storage.WFOStore
	JobStore storage.JobStore
	Cache    storage.ResultCache

	Analysis          robustness.Options
	DegradationMargin float64
	Concurrency       int
	Logger            logrus.FieldLogger
	Now               func() time.Time
}

// NewEngine creates a WFO engine.
func NewEngine(opts Options) *Engine {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	margin := opts.DegradationMargin
	if margin <= 0 {
		margin = DefaultDegradationMargin
	}
	return &Engine{
		jobs:        opts.Jobs,
		store:       opts.Store,
		jobStore:    opts.JobStore,
		cache:       opts.Cache,
		analysis:    opts.Analysis,
		margin:      margin,
		concurrency: concurrency,
		log:         log.WithField("component", "wfo"),
		now:         now,
	}
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.ScriptID) == "" {
		return domain.NewValidationError("script_id", "must not be empty")
	}
	if strings.TrimSpace(c.MarketTag) == "" {
		return domain.NewValidationError("market_tag", "must not be empty")
	}
	if strings.TrimSpace(c.AccountID) == "" {
		return domain.NewValidationError("account_id", "must not be empty")
	}
	if c.Mode == "" {
		c.Mode = domain.WindowRolling
	}
	if c.SliceMode == "" {
		c.SliceMode = domain.SliceTestOnly
	}
	if !c.SliceMode.Valid() {
		return domain.NewValidationError("slice_mode", "unknown slice mode "+string(c.SliceMode))
	}
	return nil
}

// Run plans the periods, creates the slice jobs concurrently and persists the WFO job.
// Slice creation errors are recorded per period; Run fails only when no slice could be created.
func (e *Engine) Run(ctx context.Context, cfg Config) (*domain.WFOJob, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	periods, err := Plan(cfg.TotalStart.UTC(), cfg.TotalEnd.UTC(), cfg.Train, cfg.Test, cfg.Mode, cfg.Step)
	if err != nil {
		return nil, err
	}

	wfoID := idhash.NewWFOID()
	label := cfg.Label
	if label == "" {
		label = wfoID
	}
	log := e.log.WithFields(logrus.Fields{"wfo_id": wfoID, "periods": len(periods), "mode": cfg.Mode})

	slices := make([]domain.WFOSlice, len(periods))
	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for i, p := range periods {
		slices[i].PeriodIndex = i
		g.Go(func() error {
			e.createSlice(ctx, wfoID, label, cfg, i, p, &slices[i])
			return nil
		})
	}
	_ = g.Wait()

	created := 0
	for _, s := range slices {
		ok := s.CreateError == ""
		observability.RecordWFOSlice(ok)
		if ok {
			created++
		}
	}
	if created == 0 {
		observability.RecordWFORun(string(cfg.Mode), "create_failed")
		return nil, fmt.Errorf("create wfo slices: all %d periods failed, first: %s", len(slices), slices[0].CreateError)
	}

	now := e.now().UTC()
	wfo := &domain.WFOJob{
		WFOID:         wfoID,
		Label:         label,
		BaseScriptID:  cfg.ScriptID,
		BaseMarketTag: cfg.MarketTag,
		BaseAccountID: cfg.AccountID,
		Mode:          cfg.Mode,
		SliceMode:     cfg.SliceMode,
		TimePeriods:   periods,
		Slices:        slices,
		Status:        domain.JobStatusRunning,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := e.store.Insert(ctx, wfo); err != nil {
		return nil, fmt.Errorf("persist wfo job: %w", err)
	}

	observability.RecordWFORun(string(cfg.Mode), "started")
	log.WithField("failed_slices", len(slices)-created).Info("wfo run started")
	return wfo, nil
}

// createSlice creates the train job (train-and-test mode only) and the test job of one period.
func (e *Engine) createSlice(ctx context.Context, wfoID, label string, cfg Config, i int, p domain.TimePeriod, slice *domain.WFOSlice) {
	req := jobs.CreateRequest{
		ScriptID:  cfg.ScriptID,
		MarketTag: cfg.MarketTag,
		AccountID: cfg.AccountID,
		JobType:   domain.JobTypeWFOSlice,
		ParentID:  wfoID,
	}

	var errs []string
	if cfg.SliceMode == domain.SliceTrainAndTest {
		train := req
		train.Start, train.End = p.TrainStart, p.TrainEnd
		train.Label = idhash.ComputeSliceLabel(label, i, true)
		job, err := e.jobs.CreateIndividual(ctx, train)
		if err != nil {
			errs = append(errs, "train: "+err.Error())
		} else {
			slice.TrainJobID = job.JobID
		}
	}

	test := req
	test.Start, test.End = p.TestStart, p.TestEnd
	test.Label = idhash.ComputeSliceLabel(label, i, false)
	job, err := e.jobs.CreateIndividual(ctx, test)
	if err != nil {
		errs = append(errs, "test: "+err.Error())
	} else {
		slice.TestJobID = job.JobID
	}

	if len(errs) > 0 {
		slice.CreateError = strings.Join(errs, "; ")
		e.log.WithFields(logrus.Fields{"wfo_id": wfoID, "period": i}).Warn("slice creation failed: " + slice.CreateError)
	}
}

// Get returns a WFO job. Unknown ids yield domain.ErrJobNotFound.
func (e *Engine) Get(ctx context.Context, wfoID string) (*domain.WFOJob, error) {
	wfo, err := e.store.GetByID(ctx, wfoID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, wfoID)
	}
	if err != nil {
		return nil, fmt.Errorf("get wfo %s: %w", wfoID, err)
	}
	return wfo, nil
}

// Refresh finalizes a WFO job once every slice job is terminal.
// The job completes when at least one period produced a result and fails otherwise.
// Non-terminal or unfinished WFO jobs are returned unchanged.
func (e *Engine) Refresh(ctx context.Context, wfoID string) (*domain.WFOJob, error) {
	wfo, err := e.Get(ctx, wfoID)
	if err != nil {
		return nil, err
	}
	if wfo.Status.Terminal() {
		return wfo, nil
	}

	done, err := e.slicesTerminal(ctx, wfo)
	if err != nil {
		return nil, err
	}
	if !done {
		return wfo, nil
	}

	report, err := e.Aggregate(ctx, wfo)
	if err != nil {
		return nil, err
	}

	now := e.now().UTC()
	next := wfo.Clone()
	next.Results = report
	next.UpdatedAt = now
	next.CompletedAt = &now
	next.Status = domain.JobStatusCompleted
	if len(report.Periods) == 0 {
		next.Status = domain.JobStatusFailed
	}

	err = e.store.UpdateIfStatus(ctx, next, wfo.Status)
	if errors.Is(err, storage.ErrConflict) {
		return e.Get(ctx, wfoID)
	}
	if err != nil {
		return nil, fmt.Errorf("update wfo %s: %w", wfoID, err)
	}

	observability.RecordWFORun(string(next.Mode), string(next.Status))
	e.log.WithFields(logrus.Fields{
		"wfo_id":         wfoID,
		"status":         next.Status,
		"periods":        len(report.Periods),
		"failed_periods": len(report.FailedPeriods),
	}).Info("wfo finalized")
	return next, nil
}

// RefreshAll refreshes every running WFO job and returns how many were finalized.
func (e *Engine) RefreshAll(ctx context.Context) (int, error) {
	running, err := e.store.List(ctx, domain.JobStatusPending, domain.JobStatusRunning)
	if err != nil {
		return 0, fmt.Errorf("list running wfo jobs: %w", err)
	}

	var (
		mu        sync.Mutex
		finalized int
		g         errgroup.Group
	)
	g.SetLimit(e.concurrency)
	for _, w := range running {
		g.Go(func() error {
			next, err := e.Refresh(ctx, w.WFOID)
			if err != nil {
				e.log.WithField("wfo_id", w.WFOID).WithError(err).Warn("wfo refresh failed")
				return nil
			}
			if next.Status.Terminal() {
				mu.Lock()
				finalized++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return finalized, nil
}

func (e *Engine) slicesTerminal(ctx context.Context, wfo *domain.WFOJob) (bool, error) {
	for _, s := range wfo.Slices {
		for _, id := range []string{s.TrainJobID, s.TestJobID} {
			if id == "" {
				continue
			}
			job, err := e.jobStore.GetByID(ctx, id)
			if errors.Is(err, storage.ErrNotFound) {
				continue // cleaned up; aggregation reports it
			}
			if err != nil {
				return false, fmt.Errorf("get slice job %s: %w", id, err)
			}
			if !job.Status.Terminal() {
				return false, nil
			}
		}
	}
	return true, nil
}
