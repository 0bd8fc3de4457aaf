package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/storage"
)

// JobStore is a PostgreSQL implementation of storage.JobStore.
type JobStore struct {
	pool *Pool
}

// NewJobStore creates a new PostgreSQL job store.
func NewJobStore(pool *Pool) *JobStore {
	return &JobStore{pool: pool}
}

const jobColumns = `
	job_id, job_type, lab_id, backtest_id, script_id, market_tag, account_id,
	label, parent_id, start_time, end_time, status, progress, error_message,
	results, created_at, updated_at, completed_at`

// Insert adds a new job. Returns ErrDuplicateKey if job_id exists.
func (s *JobStore) Insert(ctx context.Context, job *domain.BacktestJob) error {
	if job == nil || job.JobID == "" {
		return storage.ErrInvalidInput
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO backtest_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	`,
		job.JobID, string(job.JobType), job.LabID, job.BacktestID,
		job.ScriptID, job.MarketTag, job.AccountID,
		job.Label, job.ParentID, job.StartTime, job.EndTime,
		string(job.Status), job.Progress, job.ErrorMessage,
		nullableJSON(job.Results), job.CreatedAt, job.UpdatedAt, job.CompletedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert backtest job: %w", err)
	}
	return nil
}

// GetByID retrieves a job by its ID. Returns ErrNotFound if not exists.
func (s *JobStore) GetByID(ctx context.Context, jobID string) (*domain.BacktestJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM backtest_jobs WHERE job_id = $1`, jobID)

	job, err := scanJob(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// List retrieves jobs matching the filter, ordered by created_at ASC, job_id ASC.
func (s *JobStore) List(ctx context.Context, filter storage.JobFilter) ([]*domain.BacktestJob, error) {
	var (
		where []string
		args  []any
	)
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		args = append(args, statuses)
		where = append(where, fmt.Sprintf("status = ANY($%d)", len(args)))
	}
	if filter.LabID != "" {
		args = append(args, filter.LabID)
		where = append(where, fmt.Sprintf("lab_id = $%d", len(args)))
	}
	if filter.ParentID != "" {
		args = append(args, filter.ParentID)
		where = append(where, fmt.Sprintf("parent_id = $%d", len(args)))
	}
	if !filter.CreatedBefore.IsZero() {
		args = append(args, filter.CreatedBefore)
		where = append(where, fmt.Sprintf("created_at < $%d", len(args)))
	}

	query := `SELECT ` + jobColumns + ` FROM backtest_jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, job_id ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*domain.BacktestJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, job)
	}
	return result, rows.Err()
}

// UpdateIfStatus replaces the stored job only if its stored status equals expected.
func (s *JobStore) UpdateIfStatus(ctx context.Context, job *domain.BacktestJob, expected domain.JobStatus) error {
	if job == nil || job.JobID == "" {
		return storage.ErrInvalidInput
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE backtest_jobs
		SET lab_id = $3, backtest_id = $4, status = $5, progress = $6,
		    error_message = $7, results = $8, updated_at = $9, completed_at = $10
		WHERE job_id = $1 AND status = $2
	`,
		job.JobID, string(expected),
		job.LabID, job.BacktestID, string(job.Status), job.Progress,
		job.ErrorMessage, nullableJSON(job.Results), job.UpdatedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update backtest job: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// Zero rows: either the job is gone or another writer moved it first
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM backtest_jobs WHERE job_id = $1)`, job.JobID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return storage.ErrNotFound
	}
	return storage.ErrConflict
}

// Delete removes a job. Returns ErrNotFound if not exists.
func (s *JobStore) Delete(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM backtest_jobs WHERE job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("delete backtest job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func scanJob(row pgx.Row) (*domain.BacktestJob, error) {
	var (
		job             domain.BacktestJob
		jobType, status string
		results         []byte
	)
	err := row.Scan(
		&job.JobID, &jobType, &job.LabID, &job.BacktestID,
		&job.ScriptID, &job.MarketTag, &job.AccountID,
		&job.Label, &job.ParentID, &job.StartTime, &job.EndTime,
		&status, &job.Progress, &job.ErrorMessage,
		&results, &job.CreatedAt, &job.UpdatedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	job.JobType = domain.JobType(jobType)
	job.Status = domain.JobStatus(status)
	if len(results) > 0 {
		job.Results = results
	}
	return &job, nil
}

// nullableJSON maps an empty payload to SQL NULL.
func nullableJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// Verify interface compliance at compile time.
var _ storage.JobStore = (*JobStore)(nil)
