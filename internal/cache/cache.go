// Package cache memoizes completed task results by payload content key.
// A cache hit lets the dispatcher complete a task without a worker slot.
// The cache is never persisted — it starts cold on every manager restart.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Key derives the deterministic cache key for a task payload.
func Key(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Cache stores task results with a time-to-live. Entries older than the TTL
// are treated as absent.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, result []byte) error
}

type entry struct {
	result     []byte
	recordedAt time.Time
}

// Memory is the in-process Cache backend. Expiry is checked at read time;
// there is no background sweep.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry
}

func NewMemory(ttl time.Duration) *Memory {
	return &Memory{ttl: ttl, entries: make(map[string]entry)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if time.Since(e.recordedAt) > m.ttl {
		delete(m.entries, key)
		return nil, false, nil
	}
	return e.result, true, nil
}

func (m *Memory) Set(_ context.Context, key string, result []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = entry{result: result, recordedAt: time.Now()}
	return nil
}
