package memory

import (
	"context"
	"sync"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/storage"
)

// ResultCache is an in-memory implementation of storage.ResultCache.
type ResultCache struct {
	mu   sync.RWMutex
	data map[resultKey]*domain.CacheEntry
}

type resultKey struct {
	labID, backtestID string
}

// NewResultCache creates a new in-memory result cache.
func NewResultCache() *ResultCache {
	return &ResultCache{
		data: make(map[resultKey]*domain.CacheEntry),
	}
}

// Put writes a new entry. Returns ErrDuplicateKey if the key exists.
func (c *ResultCache) Put(_ context.Context, entry *domain.CacheEntry) error {
	if entry == nil || entry.LabID == "" || entry.BacktestID == "" {
		return storage.ErrInvalidInput
	}

	key := resultKey{entry.LabID, entry.BacktestID}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.data[key]; exists {
		return storage.ErrDuplicateKey
	}
	c.data[key] = copyEntry(entry)
	return nil
}

// Get retrieves an entry. Returns ErrNotFound if not exists.
func (c *ResultCache) Get(_ context.Context, labID, backtestID string) (*domain.CacheEntry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.data[resultKey{labID, backtestID}]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return copyEntry(entry), nil
}

// Delete removes an entry.
func (c *ResultCache) Delete(_ context.Context, labID, backtestID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.data, resultKey{labID, backtestID})
	return nil
}

func copyEntry(e *domain.CacheEntry) *domain.CacheEntry {
	c := *e
	c.Blob = append([]byte(nil), e.Blob...)
	return &c
}

// Verify interface compliance at compile time.
var _ storage.ResultCache = (*ResultCache)(nil)
