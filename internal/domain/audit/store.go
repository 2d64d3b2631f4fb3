package audit

import (
	"context"
	"errors"
	"time"
)

// ErrDateRangeExceeded is returned when a query's time range exceeds
// MaxQueryRange.
var ErrDateRangeExceeded = errors.New("audit: date range exceeds maximum of 7 days")

// Store persists and queries audit entries. Writes flow through the queue
// in internal/service/auditqueue, which calls InsertBatch with one entry at
// a time (several such calls run concurrently while draining), so Store
// must tolerate concurrent callers; the drainer's inserts and the
// retention sweep share one connection pool.
type Store interface {
	// InsertBatch persists entries. Implementations should make this a
	// single transaction so one call is all-or-nothing.
	InsertBatch(ctx context.Context, entries []Entry) error

	// Query retrieves entries matching filter, newest first. Returns
	// ErrDateRangeExceeded if filter's range is too wide.
	Query(ctx context.Context, filter Filter) ([]Entry, error)

	// Stats returns aggregated statistics over [start, end).
	Stats(ctx context.Context, start, end time.Time) (Stats, error)

	// EraseCaller deletes every entry whose CallerDigest matches digest,
	// supporting the GDPR right to erasure. Returns the number of rows
	// removed.
	EraseCaller(ctx context.Context, digest string) (int64, error)

	// SweepExpired deletes every entry whose RetentionUntil has passed.
	// Returns the number of rows removed.
	SweepExpired(ctx context.Context, now time.Time) (int64, error)

	// Close releases the store's resources.
	Close() error
}
