// Package auditqueue buffers audit entries so the admission pipeline never
// blocks on the audit store. In its default, asynchronous mode, entries are
// enqueued on a fixed-size channel and a background drainer writes them on a
// tick; in synchronous mode (WithSynchronous) Enqueue calls straight through
// to the store and no drainer is started, for tests and small deployments
// that would rather pay the latency than risk a dropped row.
package auditqueue

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sentinelgate/gateway/internal/domain/audit"
)

const (
	defaultChannelSize   = 1000
	defaultBatchSize     = 10
	defaultFlushInterval = time.Second
	shutdownFlushLimit   = 5 * time.Second
)

// Option configures a Queue at construction time.
type Option func(*Queue)

// WithBatchSize overrides the number of entries the drainer pulls per tick.
func WithBatchSize(n int) Option {
	return func(q *Queue) { q.batchSize = n }
}

// WithFlushInterval overrides the drainer's tick period.
func WithFlushInterval(d time.Duration) Option {
	return func(q *Queue) { q.flushInterval = d }
}

// WithSynchronous puts the Queue in synchronous mode: Enqueue calls
// store.InsertBatch directly and blocks until it returns. No drainer
// goroutine is started. Mutually exclusive in effect with every option
// that tunes the async drainer.
func WithSynchronous() Option {
	return func(q *Queue) { q.synchronous = true }
}

// Queue is the audit writer sitting between the admission pipeline and an
// audit.Store.
type Queue struct {
	store  audit.Store
	logger *slog.Logger

	synchronous   bool
	batchSize     int
	flushInterval time.Duration

	entries  chan audit.Entry
	wg       sync.WaitGroup
	dropped  atomic.Int64
	inserted atomic.Int64
}

// NewAuditQueue constructs a Queue. By default it runs asynchronously: a
// drainer goroutine is started immediately and Enqueue never blocks,
// dropping entries when the internal channel is full. Pass WithSynchronous
// to route Enqueue directly to the store instead.
func NewAuditQueue(ctx context.Context, store audit.Store, logger *slog.Logger, opts ...Option) *Queue {
	q := &Queue{
		store:         store,
		logger:        logger,
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
	}
	for _, opt := range opts {
		opt(q)
	}

	if q.synchronous {
		return q
	}

	q.entries = make(chan audit.Entry, defaultChannelSize)
	q.wg.Add(1)
	go q.worker(ctx)
	return q
}

// Enqueue submits an entry for persistence. In asynchronous mode this never
// blocks: if the internal channel is full the entry is dropped and counted.
// In synchronous mode it calls the store directly and returns once the
// write completes (or fails; the error is logged, not returned, since the
// admission pipeline treats audit writes as best-effort).
func (q *Queue) Enqueue(ctx context.Context, e audit.Entry) {
	if q.synchronous {
		if err := q.store.InsertBatch(ctx, []audit.Entry{e}); err != nil {
			q.logger.Error("auditqueue: synchronous insert failed", "request_id", e.RequestID, "error", err)
			return
		}
		q.inserted.Add(1)
		return
	}

	select {
	case q.entries <- e:
	default:
		dropped := q.dropped.Add(1)
		q.logger.Warn("auditqueue: dropped entry, channel full", "request_id", e.RequestID, "total_dropped", dropped)
	}
}

// Dropped returns the cumulative number of entries dropped due to a full
// channel. Always zero in synchronous mode.
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}

// Size reports the number of entries currently buffered, for
// observability. Always zero in synchronous mode, since nothing is ever
// buffered.
func (q *Queue) Size() int {
	return len(q.entries)
}

// Inserted returns the cumulative number of entries successfully written.
func (q *Queue) Inserted() int64 {
	return q.inserted.Load()
}

// Stop closes the input channel and waits for the drainer to flush
// whatever remains, bounded by shutdownFlushLimit. A no-op in synchronous
// mode, since there is no drainer to stop.
func (q *Queue) Stop() {
	if q.synchronous {
		return
	}
	close(q.entries)
	q.wg.Wait()
}

func (q *Queue) worker(ctx context.Context) {
	defer q.wg.Done()

	batch := make([]audit.Entry, 0, q.batchSize)
	ticker := time.NewTicker(q.flushInterval)
	defer ticker.Stop()

	flush := func(deadline context.Context) {
		if len(batch) == 0 {
			return
		}
		q.insertConcurrently(deadline, batch)
		batch = batch[:0]
	}
	finalFlush := func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownFlushLimit)
		flush(flushCtx)
		cancel()
	}

	for {
		select {
		case e, ok := <-q.entries:
			if !ok {
				finalFlush()
				return
			}
			batch = append(batch, e)
			if len(batch) >= q.batchSize {
				flush(ctx)
			}

		case <-ticker.C:
			flush(ctx)

		case <-ctx.Done():
			// Drain whatever is already buffered without waiting for more.
			for {
				select {
				case e, ok := <-q.entries:
					if !ok {
						finalFlush()
						return
					}
					batch = append(batch, e)
				default:
					finalFlush()
					return
				}
			}
		}
	}
}

// insertConcurrently inserts every entry in batch as its own concurrent
// InsertBatch call, rather than one call for the whole batch, so a slow or
// failing row doesn't stall the others. Errors are logged; audit writes
// never propagate failures back to the request path.
func (q *Queue) insertConcurrently(ctx context.Context, batch []audit.Entry) {
	var wg sync.WaitGroup
	for _, e := range batch {
		wg.Add(1)
		go func(e audit.Entry) {
			defer wg.Done()
			if err := q.store.InsertBatch(ctx, []audit.Entry{e}); err != nil {
				q.logger.Error("auditqueue: insert failed", "request_id", e.RequestID, "error", err)
				return
			}
			q.inserted.Add(1)
		}(e)
	}
	wg.Wait()
}
