package memory

import (
	"context"
	"sort"
	"sync"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/storage"
)

// JobStore is an in-memory implementation of storage.JobStore.
type JobStore struct {
	mu   sync.RWMutex
	data map[string]*domain.BacktestJob // keyed by job_id
}

// NewJobStore creates a new in-memory job store.
func NewJobStore() *JobStore {
	return &JobStore{
		data: make(map[string]*domain.BacktestJob),
	}
}

// Insert adds a new job. Returns ErrDuplicateKey if job_id exists.
func (s *JobStore) Insert(_ context.Context, job *domain.BacktestJob) error {
	if job == nil || job.JobID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[job.JobID]; exists {
		return storage.ErrDuplicateKey
	}

	// Store a copy to prevent external mutation
	s.data[job.JobID] = job.Clone()
	return nil
}

// GetByID retrieves a job by its ID. Returns ErrNotFound if not exists.
func (s *JobStore) GetByID(_ context.Context, jobID string) (*domain.BacktestJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.data[jobID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return job.Clone(), nil
}

// List retrieves jobs matching the filter, ordered by created_at ASC, job_id ASC.
func (s *JobStore) List(_ context.Context, filter storage.JobFilter) ([]*domain.BacktestJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.BacktestJob
	for _, job := range s.data {
		if matchesFilter(job, filter) {
			result = append(result, job.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].JobID < result[j].JobID
	})

	return result, nil
}

// UpdateIfStatus replaces the stored job only if its stored status equals expected.
func (s *JobStore) UpdateIfStatus(_ context.Context, job *domain.BacktestJob, expected domain.JobStatus) error {
	if job == nil || job.JobID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.data[job.JobID]
	if !exists {
		return storage.ErrNotFound
	}
	if current.Status != expected {
		return storage.ErrConflict
	}

	s.data[job.JobID] = job.Clone()
	return nil
}

// Delete removes a job. Returns ErrNotFound if not exists.
func (s *JobStore) Delete(_ context.Context, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[jobID]; !exists {
		return storage.ErrNotFound
	}
	delete(s.data, jobID)
	return nil
}

func matchesFilter(job *domain.BacktestJob, f storage.JobFilter) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, st := range f.Statuses {
			if job.Status == st {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.LabID != "" && job.LabID != f.LabID {
		return false
	}
	if f.ParentID != "" && job.ParentID != f.ParentID {
		return false
	}
	if !f.CreatedBefore.IsZero() && !job.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	return true
}

// Verify interface compliance at compile time.
var _ storage.JobStore = (*JobStore)(nil)
