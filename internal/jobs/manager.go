// Package jobs owns the lifecycle of backtest jobs.
// It is the only writer of job status, completion time and results.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"backtest-lab/internal/discovery"
	"backtest-lab/internal/domain"
	"backtest-lab/internal/gateway"
	"backtest-lab/internal/idhash"
	"backtest-lab/internal/logger"
	"backtest-lab/internal/observability"
	"backtest-lab/internal/storage"
)

// DefaultMonitorConcurrency bounds in-flight status polls per monitor pass.
const DefaultMonitorConcurrency = 8

// AbandonedMessage is the error message of jobs abandoned by the caller.
const AbandonedMessage = "abandoned by caller"

// CutoffDiscoverer finds the earliest day with history for a market.
type CutoffDiscoverer interface {
	Discover(ctx context.Context, marketTag string) (*discovery.Result, error)
}

// CreateRequest describes one backtest to create.
type CreateRequest struct {
	ScriptID  string
	MarketTag string
	AccountID string
	Start     time.Time
	End       time.Time
	Label     string

	// JobType defaults to individual.
	JobType domain.JobType
	// ParentID is required for wfo-slice jobs.
	ParentID string
	// LabID reuses an existing lab instead of creating one.
	LabID string
}

// MonitorSummary counts the outcomes of one monitor pass.
type MonitorSummary struct {
	Completed    int       `json:"completed"`
	Failed       int       `json:"failed"`
	StillPending int       `json:"still_pending"`
	Skipped      int       `json:"skipped"` // lost a concurrent update
	StartedAt    time.Time `json:"started_at"`
	Duration     string    `json:"duration"`
}

// Manager creates, tracks and reconciles backtest jobs.
type Manager struct {
	gw          gateway.Gateway
	store       storage.JobStore
	cache       storage.ResultCache
	discoverer  CutoffDiscoverer
	log         logrus.FieldLogger
	now         func() time.Time
	concurrency int
}

// Options for creating a Manager.
type Options struct {
	Gateway gateway.Gateway
	Store   storage.JobStore
	Cache   storage.ResultCache

	// Discoverer is required only by CreateIndividualWithDiscoveredCutoff.
	Discoverer CutoffDiscoverer

	Logger             logrus.FieldLogger
	MonitorConcurrency int
	Now                func() time.Time
}

// NewManager creates a job manager.
func NewManager(opts Options) *Manager {
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	concurrency := opts.MonitorConcurrency
	if concurrency <= 0 {
		concurrency = DefaultMonitorConcurrency
	}
	return &Manager{
		gw:          opts.Gateway,
		store:       opts.Store,
		cache:       opts.Cache,
		discoverer:  opts.Discoverer,
		log:         log.WithField("component", "jobs"),
		now:         now,
		concurrency: concurrency,
	}
}

func (r *CreateRequest) validate() error {
	if strings.TrimSpace(r.ScriptID) == "" {
		return domain.NewValidationError("script_id", "must not be empty")
	}
	if strings.TrimSpace(r.MarketTag) == "" {
		return domain.NewValidationError("market_tag", "must not be empty")
	}
	if strings.TrimSpace(r.AccountID) == "" {
		return domain.NewValidationError("account_id", "must not be empty")
	}
	if r.Start.IsZero() || r.End.IsZero() {
		return domain.NewValidationError("time_range", "start and end are required")
	}
	if !r.End.After(r.Start) {
		return domain.NewValidationError("time_range", "end must be after start")
	}
	if r.JobType == "" {
		r.JobType = domain.JobTypeIndividual
	}
	if !r.JobType.Valid() {
		return domain.NewValidationError("job_type", fmt.Sprintf("unknown job type %q", r.JobType))
	}
	if r.JobType == domain.JobTypeWFOSlice && r.ParentID == "" {
		return domain.NewValidationError("parent_id", "required for wfo-slice jobs")
	}
	return nil
}

// CreateIndividual creates the remote lab if needed, starts execution and
// persists a pending job. It does not wait for the execution.
// Any gateway error aborts creation and nothing is persisted.
func (m *Manager) CreateIndividual(ctx context.Context, req CreateRequest) (*domain.BacktestJob, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	jobID := idhash.NewJobID()
	log := m.log.WithFields(logrus.Fields{"job_id": jobID, "market": req.MarketTag})

	labID := req.LabID
	if labID == "" {
		name := req.Label
		if name == "" {
			name = jobID
		}
		id, err := m.gw.CreateLab(ctx, gateway.LabSpec{
			Name:      name,
			ScriptID:  req.ScriptID,
			MarketTag: req.MarketTag,
			AccountID: req.AccountID,
		})
		if err != nil {
			return nil, fmt.Errorf("create lab: %w", err)
		}
		labID = id
	}

	start, end := req.Start.UTC(), req.End.UTC()
	if err := m.gw.StartExecution(ctx, labID, start, end); err != nil {
		return nil, fmt.Errorf("start execution for lab %s: %w", labID, err)
	}

	now := m.now().UTC()
	job := &domain.BacktestJob{
		JobID:     jobID,
		JobType:   req.JobType,
		LabID:     labID,
		ScriptID:  req.ScriptID,
		MarketTag: req.MarketTag,
		AccountID: req.AccountID,
		Label:     req.Label,
		ParentID:  req.ParentID,
		StartTime: start,
		EndTime:   end,
		Status:    domain.JobStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.store.Insert(ctx, job); err != nil {
		return nil, fmt.Errorf("persist job: %w", err)
	}

	observability.RecordJobCreated(string(job.JobType))
	log.WithField("lab_id", labID).Info("backtest job created")
	return job, nil
}

// CreateIndividualWithDiscoveredCutoff backtests from one day after the
// discovered history cutoff up to now.
func (m *Manager) CreateIndividualWithDiscoveredCutoff(ctx context.Context, scriptID, marketTag, accountID, label string) (*domain.BacktestJob, error) {
	if m.discoverer == nil {
		return nil, errors.New("cutoff discovery is not configured")
	}
	res, err := m.discoverer.Discover(ctx, marketTag)
	if err != nil {
		return nil, err
	}
	return m.CreateIndividual(ctx, CreateRequest{
		ScriptID:  scriptID,
		MarketTag: marketTag,
		AccountID: accountID,
		Start:     res.Cutoff.Add(24 * time.Hour),
		End:       m.now().UTC(),
		Label:     label,
	})
}

// GetStatus returns a job. Unknown ids yield domain.ErrJobNotFound.
func (m *Manager) GetStatus(ctx context.Context, jobID string) (*domain.BacktestJob, error) {
	job, err := m.store.GetByID(ctx, jobID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job, nil
}

// Cleanup deletes terminal jobs created more than olderThanDays ago.
// Only local records are removed; remote labs are left untouched.
func (m *Manager) Cleanup(ctx context.Context, olderThanDays int) (int, error) {
	if olderThanDays < 0 {
		return 0, domain.NewValidationError("older_than_days", "must not be negative")
	}

	cutoff := m.now().UTC().AddDate(0, 0, -olderThanDays)
	stale, err := m.store.List(ctx, storage.JobFilter{
		Statuses:      []domain.JobStatus{domain.JobStatusCompleted, domain.JobStatusFailed},
		CreatedBefore: cutoff,
	})
	if err != nil {
		return 0, fmt.Errorf("list terminal jobs: %w", err)
	}

	deleted := 0
	for _, job := range stale {
		if err := m.store.Delete(ctx, job.JobID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return deleted, fmt.Errorf("delete job %s: %w", job.JobID, err)
		}
		deleted++
	}

	observability.RecordCleanup(deleted)
	if deleted > 0 {
		m.log.WithFields(logrus.Fields{"deleted": deleted, "older_than_days": olderThanDays}).Info("cleaned up jobs")
	}
	return deleted, nil
}

// Abandon marks a non-terminal job failed locally. The remote execution keeps running.
func (m *Manager) Abandon(ctx context.Context, jobID string) (*domain.BacktestJob, error) {
	const attempts = 3
	for i := 0; i < attempts; i++ {
		job, err := m.GetStatus(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if job.Status.Terminal() {
			return nil, domain.NewValidationError("status", fmt.Sprintf("job is already %s", job.Status))
		}

		next := m.failed(job, AbandonedMessage)
		err = m.save(ctx, job, next)
		if errors.Is(err, storage.ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		m.log.WithField("job_id", jobID).Info("job abandoned")
		return next, nil
	}
	return nil, fmt.Errorf("abandon job %s: %w", jobID, storage.ErrConflict)
}

// Monitor polls the gateway for every non-terminal job and applies the observed
// transitions. Per-job failures are captured on the job; only a failure to list
// jobs is returned. Safe to call concurrently.
func (m *Manager) Monitor(ctx context.Context) (*MonitorSummary, error) {
	started := m.now()
	summary := &MonitorSummary{StartedAt: started.UTC()}

	active, err := m.store.List(ctx, storage.JobFilter{
		Statuses: []domain.JobStatus{domain.JobStatusPending, domain.JobStatusRunning},
	})
	if err != nil {
		observability.RecordMonitorPass("error", 0, time.Since(started).Seconds())
		return nil, fmt.Errorf("list active jobs: %w", err)
	}

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(m.concurrency)

	for _, job := range active {
		g.Go(func() error {
			o := m.reconcile(ctx, job)
			mu.Lock()
			defer mu.Unlock()
			switch o {
			case outcomeCompleted:
				summary.Completed++
			case outcomeFailed:
				summary.Failed++
			case outcomeSkipped:
				summary.Skipped++
			default:
				summary.StillPending++
			}
			return nil
		})
	}
	_ = g.Wait()

	elapsed := time.Since(started)
	summary.Duration = elapsed.Round(time.Millisecond).String()
	observability.RecordMonitorPass("ok", summary.StillPending, elapsed.Seconds())

	if len(active) > 0 {
		m.log.WithFields(logrus.Fields{
			"completed":     summary.Completed,
			"failed":        summary.Failed,
			"still_pending": summary.StillPending,
			"skipped":       summary.Skipped,
		}).Info("monitor pass finished")
	}
	return summary, nil
}

type outcome int

const (
	outcomePending outcome = iota
	outcomeCompleted
	outcomeFailed
	outcomeSkipped
)

// reconcile applies one status observation to a job.
func (m *Manager) reconcile(ctx context.Context, job *domain.BacktestJob) outcome {
	log := m.log.WithFields(logrus.Fields{"job_id": job.JobID, "lab_id": job.LabID})

	st, err := m.gw.GetExecutionStatus(ctx, job.LabID, job.BacktestID)
	if err != nil {
		if ctx.Err() != nil {
			return outcomePending
		}
		return m.markFailed(ctx, job, fmt.Sprintf("poll status: %v", err))
	}

	next := job.Clone()
	next.Progress = st.Progress
	if next.BacktestID == "" && st.BacktestID != "" {
		next.BacktestID = st.BacktestID
	}

	switch st.State {
	case gateway.StateQueued:
		// A pending job carries no backtest id.
		next.BacktestID = job.BacktestID
		if next.Progress == job.Progress && next.BacktestID == job.BacktestID {
			return outcomePending
		}
		return m.saveOutcome(ctx, job, next, outcomePending)

	case gateway.StateRunning:
		next.Status = domain.JobStatusRunning
		if next.Status == job.Status && next.Progress == job.Progress && next.BacktestID == job.BacktestID {
			return outcomePending
		}
		return m.saveOutcome(ctx, job, next, outcomePending)

	case gateway.StateCompleted:
		if next.BacktestID == "" {
			return m.markFailed(ctx, job, "execution completed without a backtest id")
		}
		if job.Status == domain.JobStatusPending {
			running := next.Clone()
			running.Status = domain.JobStatusRunning
			if err := m.save(ctx, job, running); err != nil {
				return m.saveError(job, err)
			}
			job = running
			next = running.Clone()
		}
		return m.complete(ctx, job, next)

	case gateway.StateFailed, gateway.StateCancelled:
		msg := st.Message
		if msg == "" {
			msg = fmt.Sprintf("remote execution %s", strings.ToLower(string(st.State)))
		}
		m.logFailure(job, msg)
		return m.saveOutcome(ctx, job, m.failed(next, msg), outcomeFailed)
	}

	log.WithField("state", st.State).Warn("unhandled execution state")
	return outcomePending
}

// complete fetches, validates and caches the result, then marks the job completed.
func (m *Manager) complete(ctx context.Context, job, next *domain.BacktestJob) outcome {
	blob, err := m.gw.GetBacktestResult(ctx, next.LabID, next.BacktestID)
	if err != nil {
		if ctx.Err() != nil {
			return outcomePending
		}
		return m.markFailed(ctx, job, fmt.Sprintf("fetch result: %v", err))
	}

	res, err := gateway.ParseResult(blob)
	if err != nil {
		return m.markFailed(ctx, job, fmt.Sprintf("invalid result payload: %v", err))
	}

	err = m.cache.Put(ctx, &domain.CacheEntry{
		LabID:      next.LabID,
		BacktestID: next.BacktestID,
		Blob:       blob,
		CreatedAt:  m.now().UTC(),
	})
	if err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		return m.markFailed(ctx, job, fmt.Sprintf("cache result: %v", err))
	}

	now := m.now().UTC()
	next.Status = domain.JobStatusCompleted
	next.Progress = 100
	next.CompletedAt = &now
	next.ErrorMessage = ""
	next.Results = res.Summary.Raw
	return m.saveOutcome(ctx, job, next, outcomeCompleted)
}

func (m *Manager) failed(job *domain.BacktestJob, msg string) *domain.BacktestJob {
	now := m.now().UTC()
	next := job.Clone()
	next.Status = domain.JobStatusFailed
	next.ErrorMessage = msg
	next.CompletedAt = &now
	return next
}

func (m *Manager) markFailed(ctx context.Context, job *domain.BacktestJob, msg string) outcome {
	m.logFailure(job, msg)
	return m.saveOutcome(ctx, job, m.failed(job, msg), outcomeFailed)
}

func (m *Manager) logFailure(job *domain.BacktestJob, msg string) {
	m.log.WithFields(logrus.Fields{"job_id": job.JobID, "lab_id": job.LabID, "reason": msg}).Warn("job failed")
}

// saveOutcome persists next and maps store errors to outcomes.
func (m *Manager) saveOutcome(ctx context.Context, prev, next *domain.BacktestJob, ok outcome) outcome {
	if err := m.save(ctx, prev, next); err != nil {
		return m.saveError(prev, err)
	}
	return ok
}

// saveError maps a failed write to an outcome. Lost races are skipped;
// other store errors leave the job for the next pass.
func (m *Manager) saveError(job *domain.BacktestJob, err error) outcome {
	if errors.Is(err, storage.ErrConflict) || errors.Is(err, storage.ErrNotFound) {
		return outcomeSkipped
	}
	m.log.WithField("job_id", job.JobID).WithError(err).Error("persist job update")
	return outcomePending
}

// save writes next only if the stored status still equals prev.Status.
func (m *Manager) save(ctx context.Context, prev, next *domain.BacktestJob) error {
	if next.Status != prev.Status && !domain.CanTransition(prev.Status, next.Status) {
		return fmt.Errorf("illegal transition %s -> %s for job %s", prev.Status, next.Status, prev.JobID)
	}
	next.UpdatedAt = m.now().UTC()
	if err := m.store.UpdateIfStatus(ctx, next, prev.Status); err != nil {
		return err
	}
	if next.Status != prev.Status {
		observability.RecordJobTransition(string(prev.Status), string(next.Status))
	}
	return nil
}
