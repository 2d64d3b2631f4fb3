package ratelimitstore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sentinelgate/gateway/internal/domain/ratelimit"
)

// MemoryStore implements ratelimit.Store as fixed-window counters held in a
// process-local map. It exists for tests and for single-instance
// deployments that have no Redis available; it does not coordinate across
// gateway instances the way RedisStore does.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*memCounter
	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once

	cleanupInterval time.Duration
}

type memCounter struct {
	count   int64
	resetAt time.Time
}

// NewMemoryStore creates an in-memory store that sweeps expired counters
// every cleanupInterval.
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}
	return &MemoryStore{
		counters:        make(map[string]*memCounter),
		stopChan:        make(chan struct{}),
		cleanupInterval: cleanupInterval,
	}
}

var _ ratelimit.Store = (*MemoryStore)(nil)

// Incr increments the counter at key, resetting it first if its window has
// elapsed.
func (m *MemoryStore) Incr(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	c, exists := m.counters[key]
	if !exists || !now.Before(c.resetAt) {
		c = &memCounter{count: 0, resetAt: now.Add(window)}
		m.counters[key] = c
	}
	c.count++

	return c.count, c.resetAt.Sub(now), nil
}

// SetExpire is a no-op for MemoryStore: Incr always establishes resetAt
// when a counter is created, so a counter with no TTL cannot occur.
func (m *MemoryStore) SetExpire(context.Context, string, time.Duration) error {
	return nil
}

// Peek reports key's current count and remaining TTL without incrementing
// it. A missing or expired key reports count 0, ttl 0.
func (m *MemoryStore) Peek(_ context.Context, key string) (int64, time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	c, exists := m.counters[key]
	if !exists || !now.Before(c.resetAt) {
		return 0, 0, nil
	}
	return c.count, c.resetAt.Sub(now), nil
}

// Reset deletes the counter at key, clearing it immediately.
func (m *MemoryStore) Reset(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.counters, key)
	return nil
}

// Size returns the number of tracked keys. Used by tests.
func (m *MemoryStore) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.counters)
}

// StartCleanup starts a background goroutine that evicts expired counters
// every cleanupInterval, until ctx is cancelled or Stop is called.
func (m *MemoryStore) StartCleanup(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopChan:
				return
			case <-ticker.C:
				m.cleanup()
			}
		}
	}()
}

func (m *MemoryStore) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	cleaned := 0
	for key, c := range m.counters {
		if now.After(c.resetAt) {
			delete(m.counters, key)
			cleaned++
		}
	}
	if cleaned > 0 {
		slog.Debug("ratelimitstore: memory store cleanup completed", "cleaned_keys", cleaned, "remaining_keys", len(m.counters))
	}
}

// Stop gracefully stops the cleanup goroutine. Safe to call multiple times.
func (m *MemoryStore) Stop() {
	m.once.Do(func() {
		close(m.stopChan)
	})
	m.wg.Wait()
}
