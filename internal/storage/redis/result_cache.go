package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"backtest-lab/internal/domain"
	"backtest-lab/internal/storage"
)

// ResultCache implements storage.ResultCache on Redis.
// Keys are result:{len(lab_id)}:{lab_id}:{backtest_id}; the length prefix keeps
// ids containing ':' from colliding. Entries never expire unless a TTL is set.
type ResultCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewResultCache creates a Redis-backed result cache.
func NewResultCache(client redis.UniversalClient, ttl time.Duration) *ResultCache {
	return &ResultCache{
		client: client,
		prefix: "result:",
		ttl:    ttl,
	}
}

// NewClient creates a Redis client and verifies the connection.
func NewClient(ctx context.Context, addr, password string, db int) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

type record struct {
	Blob      []byte    `json:"blob"`
	CreatedAt time.Time `json:"created_at"`
}

func (c *ResultCache) key(labID, backtestID string) string {
	return fmt.Sprintf("%s%d:%s:%s", c.prefix, len(labID), labID, backtestID)
}

// Put writes a new entry. Returns ErrDuplicateKey if the key exists.
func (c *ResultCache) Put(ctx context.Context, entry *domain.CacheEntry) error {
	if entry == nil || entry.LabID == "" || entry.BacktestID == "" {
		return storage.ErrInvalidInput
	}

	rec := record{Blob: entry.Blob, CreatedAt: entry.CreatedAt}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}

	ok, err := c.client.SetNX(ctx, c.key(entry.LabID, entry.BacktestID), data, c.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return storage.ErrDuplicateKey
	}
	return nil
}

// Get retrieves an entry. Returns ErrNotFound if not exists.
func (c *ResultCache) Get(ctx context.Context, labID, backtestID string) (*domain.CacheEntry, error) {
	data, err := c.client.Get(ctx, c.key(labID, backtestID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal cache entry: %w", err)
	}
	return &domain.CacheEntry{
		LabID:      labID,
		BacktestID: backtestID,
		Blob:       rec.Blob,
		CreatedAt:  rec.CreatedAt,
	}, nil
}

// Delete removes an entry. Deleting a missing key is not an error.
func (c *ResultCache) Delete(ctx context.Context, labID, backtestID string) error {
	if err := c.client.Del(ctx, c.key(labID, backtestID)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Verify interface compliance at compile time.
var _ storage.ResultCache = (*ResultCache)(nil)
