package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/storage"
)

// ReportStore is an in-memory implementation of storage.ReportStore.
type ReportStore struct {
	mu   sync.RWMutex
	data map[string][]*domain.ReportEntry // keyed by lab_id, sorted newest first
}

// NewReportStore creates a new in-memory report store.
func NewReportStore() *ReportStore {
	return &ReportStore{
		data: make(map[string][]*domain.ReportEntry),
	}
}

// Insert adds a report. Returns ErrDuplicateKey if (lab_id, timestamp) exists.
func (s *ReportStore) Insert(_ context.Context, entry *domain.ReportEntry) error {
	if entry == nil || entry.LabID == "" || entry.Timestamp.IsZero() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reports := s.data[entry.LabID]
	for _, r := range reports {
		if r.Timestamp.Equal(entry.Timestamp) {
			return storage.ErrDuplicateKey
		}
	}

	reports = append(reports, copyReport(entry))
	sort.Slice(reports, func(i, j int) bool {
		return reports[i].Timestamp.After(reports[j].Timestamp)
	})
	s.data[entry.LabID] = reports
	return nil
}

// Latest retrieves the newest report for a lab. Returns ErrNotFound if none.
func (s *ReportStore) Latest(_ context.Context, labID string) (*domain.ReportEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reports := s.data[labID]
	if len(reports) == 0 {
		return nil, storage.ErrNotFound
	}
	return copyReport(reports[0]), nil
}

// List retrieves all reports for a lab, newest first.
func (s *ReportStore) List(_ context.Context, labID string) ([]*domain.ReportEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reports := s.data[labID]
	result := make([]*domain.ReportEntry, 0, len(reports))
	for _, r := range reports {
		result = append(result, copyReport(r))
	}
	return result, nil
}

// Delete removes one report.
func (s *ReportStore) Delete(_ context.Context, labID string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reports := s.data[labID]
	for i, r := range reports {
		if r.Timestamp.Equal(ts) {
			s.data[labID] = append(reports[:i:i], reports[i+1:]...)
			break
		}
	}
	return nil
}

func copyReport(e *domain.ReportEntry) *domain.ReportEntry {
	c := *e
	c.Blob = append([]byte(nil), e.Blob...)
	return &c
}

// Verify interface compliance at compile time.
var _ storage.ReportStore = (*ReportStore)(nil)
