package queue

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"propsync-service/internal/config"
	"propsync-service/internal/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS pending_changes (
	id TEXT PRIMARY KEY,
	table_name TEXT NOT NULL,
	operation TEXT NOT NULL,
	record_id TEXT NOT NULL DEFAULT '',
	record_data BLOB,
	status TEXT NOT NULL DEFAULT 'pending',
	attempts INTEGER NOT NULL DEFAULT 0,
	enqueued_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pending_changes_status ON pending_changes(status, enqueued_at);

CREATE TABLE IF NOT EXISTS sync_history (
	id TEXT PRIMARY KEY,
	started_at INTEGER NOT NULL,
	completed_at INTEGER NOT NULL,
	processed INTEGER NOT NULL,
	succeeded INTEGER NOT NULL,
	failed INTEGER NOT NULL,
	status TEXT NOT NULL,
	error_message TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_sync_history_started ON sync_history(started_at);
`

type SQLiteStore struct {
	db      *sql.DB
	changes chan struct{}
}

func NewSQLiteStore(cfg config.QueueConfig) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping queue database: %w", err)
	}

	// SQLite serializes writers; a single connection avoids lock churn.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create queue schema: %w", err)
	}

	logger.Log.Info("Opened durable queue", zap.String("path", cfg.Path))

	return &SQLiteStore{
		db:      db,
		changes: make(chan struct{}, 1),
	}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Changes() <-chan struct{} {
	return s.changes
}

func (s *SQLiteStore) notifyChange() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

func (s *SQLiteStore) Enqueue(ctx context.Context, change *PendingChange) error {
	if change.TableName == "" {
		return fmt.Errorf("enqueue: table name is required")
	}
	if change.Operation != OpInsert && change.Operation != OpUpdate && change.Operation != OpDelete {
		return fmt.Errorf("enqueue: unknown operation %q", change.Operation)
	}
	if change.ID == "" {
		change.ID = uuid.New().String()
	}
	if change.EnqueuedAt.IsZero() {
		change.EnqueuedAt = time.Now()
	}
	change.Status = StatusPending

	query := `INSERT INTO pending_changes (id, table_name, operation, record_id, record_data, status, attempts, enqueued_at)
			  VALUES (?, ?, ?, ?, ?, ?, 0, ?)`

	_, err := s.db.ExecContext(ctx, query,
		change.ID,
		change.TableName,
		string(change.Operation),
		change.RecordID,
		[]byte(change.RecordData),
		change.Status,
		change.EnqueuedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue change: %w", err)
	}

	s.notifyChange()
	return nil
}

func (s *SQLiteStore) GetPending(ctx context.Context) ([]*PendingChange, error) {
	query := `SELECT id, table_name, operation, record_id, record_data, status, attempts, enqueued_at
			  FROM pending_changes WHERE status = ? ORDER BY enqueued_at, rowid`

	rows, err := s.db.QueryContext(ctx, query, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("failed to read pending changes: %w", err)
	}
	defer rows.Close()

	return scanChanges(rows)
}

func (s *SQLiteStore) MarkSynced(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	query := fmt.Sprintf(`UPDATE pending_changes SET status = ? WHERE id IN (%s)`, placeholders(len(ids)))
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, StatusSynced)
	for _, id := range ids {
		args = append(args, id)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to mark changes synced: %w", err)
	}
	return nil
}

// RecordFailures bumps the attempt counter for each id. When maxRetries > 0,
// items whose budget is exhausted move to the failed (dead-letter) state and
// drop out of GetPending.
func (s *SQLiteStore) RecordFailures(ctx context.Context, ids []string, maxRetries int) error {
	if len(ids) == 0 {
		return nil
	}

	query := fmt.Sprintf(`UPDATE pending_changes
		SET attempts = attempts + 1,
		    status = CASE WHEN ? > 0 AND attempts + 1 >= ? THEN ? ELSE status END
		WHERE id IN (%s)`, placeholders(len(ids)))

	args := make([]interface{}, 0, len(ids)+3)
	args = append(args, maxRetries, maxRetries, StatusFailed)
	for _, id := range ids {
		args = append(args, id)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to record failures: %w", err)
	}
	return nil
}

func (s *SQLiteStore) PendingCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM pending_changes WHERE status = ?`, StatusPending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending changes: %w", err)
	}
	return n, nil
}

func (s *SQLiteStore) ListDeadLetters(ctx context.Context, limit, offset int) ([]*PendingChange, error) {
	query := `SELECT id, table_name, operation, record_id, record_data, status, attempts, enqueued_at
			  FROM pending_changes WHERE status = ? ORDER BY enqueued_at, rowid LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, StatusFailed, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	defer rows.Close()

	return scanChanges(rows)
}

func (s *SQLiteStore) CreateSyncHistory(ctx context.Context, h *SyncHistory) error {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}

	query := `INSERT INTO sync_history (id, started_at, completed_at, processed, succeeded, failed, status, error_message)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		h.ID,
		h.StartedAt.UnixNano(),
		h.CompletedAt.UnixNano(),
		h.Processed,
		h.Succeeded,
		h.Failed,
		h.Status,
		h.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to create sync history: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListSyncHistory(ctx context.Context, limit, offset int) ([]*SyncHistory, error) {
	query := `SELECT id, started_at, completed_at, processed, succeeded, failed, status, error_message
			  FROM sync_history ORDER BY started_at DESC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync history: %w", err)
	}
	defer rows.Close()

	var out []*SyncHistory
	for rows.Next() {
		var h SyncHistory
		var started, completed int64
		if err := rows.Scan(&h.ID, &started, &completed, &h.Processed, &h.Succeeded, &h.Failed, &h.Status, &h.ErrorMessage); err != nil {
			return nil, err
		}
		h.StartedAt = time.Unix(0, started)
		h.CompletedAt = time.Unix(0, completed)
		out = append(out, &h)
	}
	return out, rows.Err()
}

func scanChanges(rows *sql.Rows) ([]*PendingChange, error) {
	var out []*PendingChange
	for rows.Next() {
		var c PendingChange
		var op string
		var data []byte
		var enqueued int64
		if err := rows.Scan(&c.ID, &c.TableName, &op, &c.RecordID, &data, &c.Status, &c.Attempts, &enqueued); err != nil {
			return nil, err
		}
		c.Operation = Operation(op)
		c.RecordData = data
		c.EnqueuedAt = time.Unix(0, enqueued)
		out = append(out, &c)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
