// Package cache holds recent fetch results so repeated invocations inside the
// TTL skip the network.
package cache

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/j-veylop/limitwatch/internal/logger"
)

// Cache is a TTL key/value store. Lookup failures are reported as misses.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Delete(ctx context.Context, key string)
	Close() error
}

// New returns a Redis cache when redisURL is set, otherwise an in-memory one.
func New(ctx context.Context, redisURL string) (Cache, error) {
	if redisURL == "" {
		return NewMemory(), nil
	}
	return NewRedis(ctx, redisURL)
}

// GetJSON decodes the cached value for key into v.
func GetJSON(ctx context.Context, c Cache, key string, v any) bool {
	data, ok := c.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		logger.Debug("discarding undecodable cache entry", "key", key, "error", err)
		c.Delete(ctx, key)
		return false
	}
	return true
}

// SetJSON encodes v and stores it under key.
func SetJSON(ctx context.Context, c Cache, key string, v any, ttl time.Duration) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Error("failed to encode cache entry", "key", key, "error", err)
		return
	}
	c.Set(ctx, key, data, ttl)
}

type entry struct {
	expires time.Time
	value   []byte
}

// Memory is a process-local cache.
type Memory struct {
	items map[string]entry
	now   func() time.Time
	mu    sync.Mutex
}

// NewMemory creates an empty in-memory cache.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]entry), now: time.Now}
}

// Get returns the live value for key.
func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.items[key]
	if !ok {
		return nil, false
	}
	if !m.now().Before(e.expires) {
		delete(m.items, key)
		return nil, false
	}
	return e.value, true
}

// Set stores value for ttl. A non-positive ttl removes the key.
func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if ttl <= 0 {
		delete(m.items, key)
		return
	}
	m.items[key] = entry{value: value, expires: m.now().Add(ttl)}
}

// Delete removes key.
func (m *Memory) Delete(_ context.Context, key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, key)
}

// Len returns the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}
