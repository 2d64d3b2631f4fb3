// Package memory provides in-memory implementations of outbound ports, for
// tests and for development without a SQLite file.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sentinelgate/gateway/internal/domain/audit"
)

// AuditStore implements audit.Store over a process-local slice. It backs
// tests and is the fallback store when the SQLite store cannot be opened;
// it does not persist across restarts.
type AuditStore struct {
	mu      sync.Mutex
	entries []audit.Entry
	nextID  int64
}

// NewAuditStore creates an empty in-memory audit store.
func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

var _ audit.Store = (*AuditStore)(nil)

// InsertBatch appends entries, assigning each a monotonically increasing ID.
func (s *AuditStore) InsertBatch(_ context.Context, entries []audit.Entry) error {
	for _, e := range entries {
		if !audit.IsValidStatus(e.ResponseStatus) {
			return fmt.Errorf("memory: insert entry %s: response status %d is not a valid HTTP status code", e.RequestID, e.ResponseStatus)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.nextID++
		e.ID = s.nextID
		s.entries = append(s.entries, e)
	}
	return nil
}

// Query filters entries in memory, newest first.
func (s *AuditStore) Query(_ context.Context, filter audit.Filter) ([]audit.Entry, error) {
	if !filter.StartTime.IsZero() && !filter.EndTime.IsZero() && filter.EndTime.Sub(filter.StartTime) > audit.MaxQueryRange {
		return nil, audit.ErrDateRangeExceeded
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	limit := filter.Limit
	if limit <= 0 {
		limit = audit.DefaultQueryLimit
	}
	if limit > audit.MaxQueryLimit {
		limit = audit.MaxQueryLimit
	}

	sorted := make([]audit.Entry, len(s.entries))
	copy(sorted, s.entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ReceivedAt.After(sorted[j].ReceivedAt) })

	var matched []audit.Entry
	for _, e := range sorted {
		if !filter.StartTime.IsZero() && e.ReceivedAt.Before(filter.StartTime) {
			continue
		}
		if !filter.EndTime.IsZero() && e.ReceivedAt.After(filter.EndTime) {
			continue
		}
		if filter.CallerDigest != "" && e.CallerDigest != filter.CallerDigest {
			continue
		}
		if filter.Decision != "" && e.Decision != filter.Decision {
			continue
		}
		if filter.ResponseStatus != 0 && e.ResponseStatus != filter.ResponseStatus {
			continue
		}
		matched = append(matched, e)
	}

	start := filter.Offset
	if start > len(matched) {
		start = len(matched)
	}
	end := start + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], nil
}

// Stats aggregates entries over [start, end).
func (s *AuditStore) Stats(_ context.Context, start, end time.Time) (audit.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := audit.Stats{
		ByBlockReason:  make(map[audit.BlockReason]int64),
		CountsByStatus: make(map[int]int64),
	}
	callers := make(map[string]struct{})
	var latencies []int64

	for _, e := range s.entries {
		if e.ReceivedAt.Before(start) || !e.ReceivedAt.Before(end) {
			continue
		}
		stats.TotalRequests++
		if e.Decision == audit.DecisionAllow {
			stats.Allowed++
		} else {
			stats.Blocked++
			stats.ByBlockReason[e.BlockReason]++
		}
		stats.CountsByStatus[e.ResponseStatus]++
		callers[e.CallerDigest] = struct{}{}
		latencies = append(latencies, e.LatencyMillis)
	}
	stats.UniqueCallers = int64(len(callers))

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	stats.P50LatencyMs = percentile(latencies, 50)
	stats.P99LatencyMs = percentile(latencies, 99)

	return stats, nil
}

func percentile(sorted []int64, p int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (len(sorted) * p) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// EraseCaller removes every entry matching digest.
func (s *AuditStore) EraseCaller(_ context.Context, digest string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kept []audit.Entry
	var removed int64
	for _, e := range s.entries {
		if e.CallerDigest == digest {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return removed, nil
}

// SweepExpired removes every entry whose RetentionUntil has passed.
func (s *AuditStore) SweepExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var kept []audit.Entry
	var removed int64
	for _, e := range s.entries {
		if now.After(e.RetentionUntil) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return removed, nil
}

// Close is a no-op for the in-memory store.
func (s *AuditStore) Close() error { return nil }
