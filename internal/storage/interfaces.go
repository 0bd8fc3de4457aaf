package storage

import (
	"context"
	"time"

	"backtest-lab/internal/domain"
)

// JobFilter narrows JobStore.List results. Zero values match everything.
type JobFilter struct {
	Statuses []domain.JobStatus
	LabID    string
	ParentID string
	// CreatedBefore matches jobs created strictly before this instant.
	CreatedBefore time.Time
}

// JobStore provides access to backtest_jobs storage.
type JobStore interface {
	// Insert adds a new job. Returns ErrDuplicateKey if job_id exists.
	Insert(ctx context.Context, job *domain.BacktestJob) error

	// GetByID retrieves a job by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, jobID string) (*domain.BacktestJob, error)

	// List retrieves jobs matching the filter, ordered by created_at ASC, job_id ASC.
	List(ctx context.Context, filter JobFilter) ([]*domain.BacktestJob, error)

	// UpdateIfStatus replaces the stored job only if its stored status equals expected.
	// Returns ErrConflict if the status changed, ErrNotFound if the job does not exist.
	UpdateIfStatus(ctx context.Context, job *domain.BacktestJob, expected domain.JobStatus) error

	// Delete removes a job. Returns ErrNotFound if not exists.
	Delete(ctx context.Context, jobID string) error
}

// WFOStore provides access to wfo_jobs storage.
type WFOStore interface {
	// Insert adds a new WFO job. Returns ErrDuplicateKey if wfo_id exists.
	Insert(ctx context.Context, job *domain.WFOJob) error

	// GetByID retrieves a WFO job by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, wfoID string) (*domain.WFOJob, error)

	// List retrieves WFO jobs in the given statuses (all when empty), ordered by created_at ASC.
	List(ctx context.Context, statuses ...domain.JobStatus) ([]*domain.WFOJob, error)

	// UpdateIfStatus replaces the stored WFO job only if its stored status equals expected.
	UpdateIfStatus(ctx context.Context, job *domain.WFOJob, expected domain.JobStatus) error
}

// ResultCache stores raw backtest result blobs keyed by (lab_id, backtest_id).
// Entries are immutable: Put on an existing key returns ErrDuplicateKey.
type ResultCache interface {
	// Put writes a new entry. Returns ErrDuplicateKey if the key exists.
	Put(ctx context.Context, entry *domain.CacheEntry) error

	// Get retrieves an entry. Returns ErrNotFound if not exists.
	Get(ctx context.Context, labID, backtestID string) (*domain.CacheEntry, error)

	// Delete removes an entry. Deleting a missing key is not an error.
	Delete(ctx context.Context, labID, backtestID string) error
}

// ReportStore stores generated analysis reports keyed by (lab_id, timestamp).
type ReportStore interface {
	// Insert adds a report. Returns ErrDuplicateKey if (lab_id, timestamp) exists.
	Insert(ctx context.Context, entry *domain.ReportEntry) error

	// Latest retrieves the newest report for a lab. Returns ErrNotFound if none.
	Latest(ctx context.Context, labID string) (*domain.ReportEntry, error)

	// List retrieves all reports for a lab, newest first.
	List(ctx context.Context, labID string) ([]*domain.ReportEntry, error)

	// Delete removes one report. Deleting a missing key is not an error.
	Delete(ctx context.Context, labID string, ts time.Time) error
}

// RefreshResult replaces a cache entry by deleting and rewriting it.
// Prior content is never merged into the new entry.
func RefreshResult(ctx context.Context, cache ResultCache, entry *domain.CacheEntry) error {
	if err := cache.Delete(ctx, entry.LabID, entry.BacktestID); err != nil {
		return err
	}
	return cache.Put(ctx, entry)
}
