package postgres

import (
	"context"
	"fmt"
	"time"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/storage"
)

// ResultCache is a PostgreSQL implementation of storage.ResultCache.
type ResultCache struct {
	pool *Pool
}

// NewResultCache creates a new PostgreSQL result cache.
func NewResultCache(pool *Pool) *ResultCache {
	return &ResultCache{pool: pool}
}

// Put writes a new entry. Returns ErrDuplicateKey if the key exists.
func (c *ResultCache) Put(ctx context.Context, entry *domain.CacheEntry) error {
	if entry == nil || entry.LabID == "" || entry.BacktestID == "" {
		return storage.ErrInvalidInput
	}

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := c.pool.Exec(ctx, `
		INSERT INTO result_cache (lab_id, backtest_id, blob, created_at)
		VALUES ($1, $2, $3, $4)
	`, entry.LabID, entry.BacktestID, entry.Blob, createdAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert result cache: %w", err)
	}
	return nil
}

// Get retrieves an entry. Returns ErrNotFound if not exists.
func (c *ResultCache) Get(ctx context.Context, labID, backtestID string) (*domain.CacheEntry, error) {
	row := c.pool.QueryRow(ctx, `
		SELECT lab_id, backtest_id, blob, created_at
		FROM result_cache
		WHERE lab_id = $1 AND backtest_id = $2
	`, labID, backtestID)

	var e domain.CacheEntry
	if err := row.Scan(&e.LabID, &e.BacktestID, &e.Blob, &e.CreatedAt); err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &e, nil
}

// Delete removes an entry. Deleting a missing key is not an error.
func (c *ResultCache) Delete(ctx context.Context, labID, backtestID string) error {
	_, err := c.pool.Exec(ctx, `
		DELETE FROM result_cache WHERE lab_id = $1 AND backtest_id = $2
	`, labID, backtestID)
	if err != nil {
		return fmt.Errorf("delete result cache: %w", err)
	}
	return nil
}

// Verify interface compliance at compile time.
var _ storage.ResultCache = (*ResultCache)(nil)
