// ABOUTME: SQLite-backed dedup ledger using modernc.org/sqlite with automatic schema creation.
// ABOUTME: Gives broker-topic backends a ledger that survives process restarts.

package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLite is a dedup ledger persisted to a local SQLite file, scoped to one
// task id. Multiple tasks may share the same file.
type SQLite struct {
	db     *sql.DB
	taskID string
	logger *slog.Logger
}

// NewSQLite opens (creating if needed) the ledger database at path for the
// given task. Parent directories are created if needed.
func NewSQLite(path, taskID string, logger *slog.Logger) (*SQLite, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "ledger")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening ledger database: %w", err)
	}

	// WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS processed_requests (
		task_id    TEXT NOT NULL,
		request_id TEXT NOT NULL,
		first_seen INTEGER NOT NULL,
		PRIMARY KEY (task_id, request_id)
	);
	CREATE INDEX IF NOT EXISTS idx_processed_first_seen
		ON processed_requests (task_id, first_seen);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating ledger schema: %w", err)
	}

	logger.Info("SQLite ledger initialized", "path", path, "task_id", taskID)
	return &SQLite{db: db, taskID: taskID, logger: logger}, nil
}

// MarkOnce records the request id and reports whether this is its first
// sighting. The insert-or-ignore keeps the check-and-insert atomic.
func (s *SQLite) MarkOnce(ctx context.Context, requestID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO processed_requests (task_id, request_id, first_seen) VALUES (?, ?, ?)`,
		s.taskID, requestID, time.Now().Unix(),
	)
	if err != nil {
		return false, fmt.Errorf("marking request: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("marking request: %w", err)
	}
	return n == 1, nil
}

// Prune deletes entries for this task first seen more than olderThan ago.
func (s *SQLite) Prune(ctx context.Context, olderThan time.Duration) error {
	cutoff := time.Now().Add(-olderThan).Unix()
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM processed_requests WHERE task_id = ? AND first_seen < ?`,
		s.taskID, cutoff,
	)
	if err != nil {
		return fmt.Errorf("pruning ledger: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		s.logger.Debug("ledger pruned", "task_id", s.taskID, "removed", n)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLite) Close() error {
	return s.db.Close()
}
