package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/storage"
)

// WFOStore is a PostgreSQL implementation of storage.WFOStore.
// Periods, slices and results are persisted as JSONB documents.
type WFOStore struct {
	pool *Pool
}

// NewWFOStore creates a new PostgreSQL WFO store.
func NewWFOStore(pool *Pool) *WFOStore {
	return &WFOStore{pool: pool}
}

const wfoColumns = `
	wfo_id, label, base_script_id, base_market_tag, base_account_id,
	mode, slice_mode, time_periods, slices, status, results,
	created_at, updated_at, completed_at`

// Insert adds a new WFO job. Returns ErrDuplicateKey if wfo_id exists.
func (s *WFOStore) Insert(ctx context.Context, job *domain.WFOJob) error {
	if job == nil || job.WFOID == "" {
		return storage.ErrInvalidInput
	}

	periods, slices, results, err := encodeWFO(job)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO wfo_jobs (`+wfoColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`,
		job.WFOID, job.Label, job.BaseScriptID, job.BaseMarketTag, job.BaseAccountID,
		string(job.Mode), string(job.SliceMode), periods, slices, string(job.Status), results,
		job.CreatedAt, job.UpdatedAt, job.CompletedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert wfo job: %w", err)
	}
	return nil
}

// GetByID retrieves a WFO job by its ID. Returns ErrNotFound if not exists.
func (s *WFOStore) GetByID(ctx context.Context, wfoID string) (*domain.WFOJob, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+wfoColumns+` FROM wfo_jobs WHERE wfo_id = $1`, wfoID)

	job, err := scanWFO(row)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// List retrieves WFO jobs in the given statuses (all when empty), ordered by created_at ASC.
func (s *WFOStore) List(ctx context.Context, statuses ...domain.JobStatus) ([]*domain.WFOJob, error) {
	query := `SELECT ` + wfoColumns + ` FROM wfo_jobs`
	var args []any
	if len(statuses) > 0 {
		st := make([]string, len(statuses))
		for i, v := range statuses {
			st[i] = string(v)
		}
		query += ` WHERE status = ANY($1)`
		args = append(args, st)
	}
	query += ` ORDER BY created_at ASC, wfo_id ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*domain.WFOJob
	for rows.Next() {
		job, err := scanWFO(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, job)
	}
	return result, rows.Err()
}

// UpdateIfStatus replaces the stored WFO job only if its stored status equals expected.
func (s *WFOStore) UpdateIfStatus(ctx context.Context, job *domain.WFOJob, expected domain.JobStatus) error {
	if job == nil || job.WFOID == "" {
		return storage.ErrInvalidInput
	}

	periods, slices, results, err := encodeWFO(job)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE wfo_jobs
		SET time_periods = $3, slices = $4, status = $5, results = $6,
		    updated_at = $7, completed_at = $8
		WHERE wfo_id = $1 AND status = $2
	`, job.WFOID, string(expected), periods, slices, string(job.Status), results, job.UpdatedAt, job.CompletedAt)
	if err != nil {
		return fmt.Errorf("update wfo job: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM wfo_jobs WHERE wfo_id = $1)`, job.WFOID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return storage.ErrNotFound
	}
	return storage.ErrConflict
}

func encodeWFO(job *domain.WFOJob) (periods, slices string, results any, err error) {
	p, err := json.Marshal(nonNil(job.TimePeriods))
	if err != nil {
		return "", "", nil, fmt.Errorf("marshal time periods: %w", err)
	}
	sl, err := json.Marshal(nonNil(job.Slices))
	if err != nil {
		return "", "", nil, fmt.Errorf("marshal slices: %w", err)
	}
	if job.Results != nil {
		r, err := json.Marshal(job.Results)
		if err != nil {
			return "", "", nil, fmt.Errorf("marshal results: %w", err)
		}
		results = string(r)
	}
	return string(p), string(sl), results, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func scanWFO(row pgx.Row) (*domain.WFOJob, error) {
	var (
		job                     domain.WFOJob
		mode, sliceMode, status string
		periods, slices         []byte
		results                 []byte
	)
	err := row.Scan(
		&job.WFOID, &job.Label, &job.BaseScriptID, &job.BaseMarketTag, &job.BaseAccountID,
		&mode, &sliceMode, &periods, &slices, &status, &results,
		&job.CreatedAt, &job.UpdatedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Mode = domain.WindowMode(mode)
	job.SliceMode = domain.SliceMode(sliceMode)
	job.Status = domain.JobStatus(status)

	if err := json.Unmarshal(periods, &job.TimePeriods); err != nil {
		return nil, fmt.Errorf("unmarshal time periods: %w", err)
	}
	if err := json.Unmarshal(slices, &job.Slices); err != nil {
		return nil, fmt.Errorf("unmarshal slices: %w", err)
	}
	if len(results) > 0 {
		job.Results = &domain.StabilityReport{}
		if err := json.Unmarshal(results, job.Results); err != nil {
			return nil, fmt.Errorf("unmarshal results: %w", err)
		}
	}
	return &job, nil
}

// Verify interface compliance at compile time.
var _ storage.WFOStore = (*WFOStore)(nil)
