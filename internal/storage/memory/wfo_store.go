package memory

import (
	"context"
	"sort"
	"sync"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/storage"
)

// WFOStore is an in-memory implementation of storage.WFOStore.
type WFOStore struct {
	mu   sync.RWMutex
	data map[string]*domain.WFOJob // keyed by wfo_id
}

// NewWFOStore creates a new in-memory WFO store.
func NewWFOStore() *WFOStore {
	return &WFOStore{
		data: make(map[string]*domain.WFOJob),
	}
}

// Insert adds a new WFO job. Returns ErrDuplicateKey if wfo_id exists.
func (s *WFOStore) Insert(_ context.Context, job *domain.WFOJob) error {
	if job == nil || job.WFOID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[job.WFOID]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[job.WFOID] = job.Clone()
	return nil
}

// GetByID retrieves a WFO job by its ID. Returns ErrNotFound if not exists.
func (s *WFOStore) GetByID(_ context.Context, wfoID string) (*domain.WFOJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.data[wfoID]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return job.Clone(), nil
}

// List retrieves WFO jobs in the given statuses, ordered by created_at ASC.
func (s *WFOStore) List(_ context.Context, statuses ...domain.JobStatus) ([]*domain.WFOJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.WFOJob
	for _, job := range s.data {
		if len(statuses) > 0 && !containsStatus(statuses, job.Status) {
			continue
		}
		result = append(result, job.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].WFOID < result[j].WFOID
	})
	return result, nil
}

// UpdateIfStatus replaces the stored WFO job only if its stored status equals expected.
func (s *WFOStore) UpdateIfStatus(_ context.Context, job *domain.WFOJob, expected domain.JobStatus) error {
	if job == nil || job.WFOID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.data[job.WFOID]
	if !exists {
		return storage.ErrNotFound
	}
	if current.Status != expected {
		return storage.ErrConflict
	}
	s.data[job.WFOID] = job.Clone()
	return nil
}

func containsStatus(statuses []domain.JobStatus, s domain.JobStatus) bool {
	for _, st := range statuses {
		if st == s {
			return true
		}
	}
	return false
}

// Verify interface compliance at compile time.
var _ storage.WFOStore = (*WFOStore)(nil)
