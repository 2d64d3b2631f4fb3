// Package auditstore provides a relational implementation of audit.Store
// backed by modernc.org/sqlite, a pure-Go SQLite driver (no cgo). It is the
// gateway's production audit store: a single file, a connection pool of
// one writer plus readers for queries, and indexes that support the
// query/stats/erase/sweep access patterns the admin surface needs.
package auditstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sentinelgate/gateway/internal/domain/audit"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	id                     INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id             TEXT NOT NULL,
	received_at            INTEGER NOT NULL,
	caller_digest          TEXT NOT NULL,
	key_digest             TEXT NOT NULL,
	model                  TEXT NOT NULL,
	decision               TEXT NOT NULL,
	block_reason           TEXT NOT NULL DEFAULT '',
	detected_issues_count  INTEGER NOT NULL DEFAULT 0,
	latency_millis         INTEGER NOT NULL,
	retention_until        INTEGER NOT NULL,
	response_status        INTEGER NOT NULL,
	method                 TEXT NOT NULL DEFAULT '',
	path                   TEXT NOT NULL DEFAULT '',
	user_agent_fingerprint TEXT NOT NULL DEFAULT '',
	request_bytes          INTEGER NOT NULL DEFAULT 0,
	response_bytes         INTEGER NOT NULL DEFAULT 0,
	security_confidence    REAL NOT NULL DEFAULT 0,
	provider               TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_audit_received_at ON audit_entries(received_at);
CREATE INDEX IF NOT EXISTS idx_audit_caller_digest ON audit_entries(caller_digest);
CREATE INDEX IF NOT EXISTS idx_audit_retention_until ON audit_entries(retention_until);
CREATE INDEX IF NOT EXISTS idx_audit_blocked ON audit_entries(received_at) WHERE decision = 'block';
CREATE INDEX IF NOT EXISTS idx_audit_response_status ON audit_entries(response_status);
`

// queryTimeout bounds every individual QueryContext/ExecContext call
// against the pool, so a stuck connection can't hang a caller forever.
const queryTimeout = 5 * time.Second

// Store implements audit.Store over a SQLite database file.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Config controls connection pool sizing. SQLite allows only one writer at
// a time, so MaxOpenConns should stay small; readers still benefit from a
// handful of idle connections for concurrent admin queries.
type Config struct {
	Path         string
	MaxOpenConns int
	MaxIdleConns int
}

// Open creates (if needed) the schema at cfg.Path and returns a Store.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("auditstore: open %s: %w", cfg.Path, err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 20
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = maxOpen
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxIdleTime(30 * time.Second)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("auditstore: apply schema: %w", err)
	}

	return &Store{db: db, logger: logger}, nil
}

var _ audit.Store = (*Store)(nil)

// withTimeout bounds a single pool acquisition/query/exec to queryTimeout,
// so a connection stuck behind SQLite's single-writer lock can't hang a
// caller indefinitely.
func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, queryTimeout)
}

// InsertBatch inserts entries inside a single transaction.
func (s *Store) InsertBatch(ctx context.Context, entries []audit.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	for _, e := range entries {
		if !audit.IsValidStatus(e.ResponseStatus) {
			return fmt.Errorf("auditstore: insert entry %s: %w (status %d)", e.RequestID, errInvalidResponseStatus, e.ResponseStatus)
		}
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("auditstore: begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO audit_entries
			(request_id, received_at, caller_digest, key_digest, model, decision, block_reason,
			 detected_issues_count, latency_millis, retention_until, response_status, method, path,
			 user_agent_fingerprint, request_bytes, response_bytes, security_confidence, provider)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("auditstore: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx,
			e.RequestID, e.ReceivedAt.UnixMilli(), e.CallerDigest, e.KeyDigest, e.Model,
			string(e.Decision), string(e.BlockReason), e.DetectedIssuesCount, e.LatencyMillis, e.RetentionUntil.UnixMilli(),
			e.ResponseStatus, e.Method, e.Path, e.UserAgentFingerprint, e.RequestBytes, e.ResponseBytes,
			e.SecurityConfidence, e.Provider,
		); err != nil {
			return fmt.Errorf("auditstore: insert entry %s: %w", e.RequestID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("auditstore: commit batch: %w", err)
	}
	return nil
}

// errInvalidResponseStatus backs InsertBatch's per-entry status check.
var errInvalidResponseStatus = errors.New("response status must be a valid HTTP status code in [100, 600)")

// Query retrieves entries matching filter, newest first.
func (s *Store) Query(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	if !filter.StartTime.IsZero() && !filter.EndTime.IsZero() && filter.EndTime.Sub(filter.StartTime) > audit.MaxQueryRange {
		return nil, audit.ErrDateRangeExceeded
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = audit.DefaultQueryLimit
	}
	if limit > audit.MaxQueryLimit {
		limit = audit.MaxQueryLimit
	}

	var where []string
	var args []interface{}
	if !filter.StartTime.IsZero() {
		where = append(where, "received_at >= ?")
		args = append(args, filter.StartTime.UnixMilli())
	}
	if !filter.EndTime.IsZero() {
		where = append(where, "received_at <= ?")
		args = append(args, filter.EndTime.UnixMilli())
	}
	if filter.CallerDigest != "" {
		where = append(where, "caller_digest = ?")
		args = append(args, filter.CallerDigest)
	}
	if filter.Decision != "" {
		where = append(where, "decision = ?")
		args = append(args, string(filter.Decision))
	}
	if filter.ResponseStatus != 0 {
		where = append(where, "response_status = ?")
		args = append(args, filter.ResponseStatus)
	}

	query := `SELECT id, request_id, received_at, caller_digest, key_digest, model, decision, block_reason,
			detected_issues_count, latency_millis, retention_until, response_status, method, path,
			user_agent_fingerprint, request_bytes, response_bytes, security_confidence, provider
		FROM audit_entries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY received_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, filter.Offset)

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("auditstore: query: %w", err)
	}
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var e audit.Entry
		var receivedAt, retentionUntil int64
		var decision, blockReason string
		if err := rows.Scan(&e.ID, &e.RequestID, &receivedAt, &e.CallerDigest, &e.KeyDigest, &e.Model,
			&decision, &blockReason, &e.DetectedIssuesCount, &e.LatencyMillis, &retentionUntil,
			&e.ResponseStatus, &e.Method, &e.Path, &e.UserAgentFingerprint, &e.RequestBytes, &e.ResponseBytes,
			&e.SecurityConfidence, &e.Provider); err != nil {
			return nil, fmt.Errorf("auditstore: scan row: %w", err)
		}
		e.ReceivedAt = time.UnixMilli(receivedAt)
		e.RetentionUntil = time.UnixMilli(retentionUntil)
		e.Decision = audit.Decision(decision)
		e.BlockReason = audit.BlockReason(blockReason)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("auditstore: row iteration: %w", err)
	}

	return entries, nil
}

// Stats aggregates entries over [start, end).
func (s *Store) Stats(ctx context.Context, start, end time.Time) (audit.Stats, error) {
	stats := audit.Stats{
		ByBlockReason:  make(map[audit.BlockReason]int64),
		CountsByStatus: make(map[int]int64),
	}

	queryCtx, cancel := withTimeout(ctx)
	defer cancel()

	row := s.db.QueryRowContext(queryCtx, `
		SELECT
			COUNT(*),
			SUM(CASE WHEN decision = 'allow' THEN 1 ELSE 0 END),
			SUM(CASE WHEN decision = 'block' THEN 1 ELSE 0 END),
			COUNT(DISTINCT caller_digest)
		FROM audit_entries WHERE received_at >= ? AND received_at < ?`,
		start.UnixMilli(), end.UnixMilli())

	var total, allowed, blocked, uniqueCallers sql.NullInt64
	if err := row.Scan(&total, &allowed, &blocked, &uniqueCallers); err != nil {
		return stats, fmt.Errorf("auditstore: stats totals: %w", err)
	}
	stats.TotalRequests = total.Int64
	stats.Allowed = allowed.Int64
	stats.Blocked = blocked.Int64
	stats.UniqueCallers = uniqueCallers.Int64

	reasonCtx, cancel := withTimeout(ctx)
	defer cancel()
	reasonRows, err := s.db.QueryContext(reasonCtx, `
		SELECT block_reason, COUNT(*) FROM audit_entries
		WHERE received_at >= ? AND received_at < ? AND decision = 'block'
		GROUP BY block_reason`, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return stats, fmt.Errorf("auditstore: stats by reason: %w", err)
	}
	defer reasonRows.Close()
	for reasonRows.Next() {
		var reason string
		var count int64
		if err := reasonRows.Scan(&reason, &count); err != nil {
			return stats, fmt.Errorf("auditstore: scan reason row: %w", err)
		}
		stats.ByBlockReason[audit.BlockReason(reason)] = count
	}
	if err := reasonRows.Err(); err != nil {
		return stats, fmt.Errorf("auditstore: reason row iteration: %w", err)
	}

	statusCtx, cancel := withTimeout(ctx)
	defer cancel()
	statusRows, err := s.db.QueryContext(statusCtx, `
		SELECT response_status, COUNT(*) FROM audit_entries
		WHERE received_at >= ? AND received_at < ?
		GROUP BY response_status`, start.UnixMilli(), end.UnixMilli())
	if err != nil {
		return stats, fmt.Errorf("auditstore: stats by status: %w", err)
	}
	defer statusRows.Close()
	for statusRows.Next() {
		var status int
		var count int64
		if err := statusRows.Scan(&status, &count); err != nil {
			return stats, fmt.Errorf("auditstore: scan status row: %w", err)
		}
		stats.CountsByStatus[status] = count
	}
	if err := statusRows.Err(); err != nil {
		return stats, fmt.Errorf("auditstore: status row iteration: %w", err)
	}

	p50, err := s.latencyPercentile(ctx, start, end, 0.50)
	if err != nil {
		return stats, err
	}
	p99, err := s.latencyPercentile(ctx, start, end, 0.99)
	if err != nil {
		return stats, err
	}
	stats.P50LatencyMs = p50
	stats.P99LatencyMs = p99

	return stats, nil
}

// latencyPercentile computes an approximate percentile by counting rows;
// it runs two queries (fraction is resolved against the count first, then
// used to read the offset row) because SQLite has no built-in percentile
// aggregate.
func (s *Store) latencyPercentile(ctx context.Context, start, end time.Time, fraction float64) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var count int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_entries WHERE received_at >= ? AND received_at < ?`,
		start.UnixMilli(), end.UnixMilli()).Scan(&count); err != nil {
		return 0, fmt.Errorf("auditstore: percentile count: %w", err)
	}
	if count == 0 {
		return 0, nil
	}
	offset := int64(float64(count) * fraction)
	if offset >= count {
		offset = count - 1
	}

	var latency int64
	err := s.db.QueryRowContext(ctx, `
		SELECT latency_millis FROM audit_entries
		WHERE received_at >= ? AND received_at < ?
		ORDER BY latency_millis ASC LIMIT 1 OFFSET ?`,
		start.UnixMilli(), end.UnixMilli(), offset).Scan(&latency)
	if err != nil {
		return 0, fmt.Errorf("auditstore: percentile lookup: %w", err)
	}
	return latency, nil
}

// EraseCaller deletes every entry matching digest, for GDPR right-to-erasure
// requests.
func (s *Store) EraseCaller(ctx context.Context, digest string) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_entries WHERE caller_digest = ?`, digest)
	if err != nil {
		return 0, fmt.Errorf("auditstore: erase caller: %w", err)
	}
	return res.RowsAffected()
}

// SweepExpired deletes every entry past its retention deadline.
func (s *Store) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_entries WHERE retention_until < ?`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("auditstore: sweep expired: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n > 0 {
		s.logger.Info("auditstore: retention sweep removed entries", "count", n)
	}
	return n, err
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
