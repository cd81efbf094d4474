package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Batch statuses recorded in local history
const (
	BatchPending = "pending"
	BatchAcked   = "acked"
	BatchFailed  = "failed"
)

// Agent state keys
const (
	StateStatus              = "status"
	StateConsecutiveFailures = "consecutive_failures"
	StateLastError           = "last_error"
	StateLastErrorAt         = "last_error_at"
	StateLastSyncAt          = "last_sync_at"
	StateLastSyncRecords     = "last_sync_records"
	StateAuthFailed          = "auth_failed"
	StateFullSyncDone        = "full_sync_done"
)

// Store represents the SQLite storage implementation
type Store struct {
	db *sql.DB
}

// NewStore creates a new SQLite store
func NewStore(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=1&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &Store{db: db}

	// Run migrations
	if err := store.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// runMigrations runs SQL migrations
func (s *Store) runMigrations() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sync_cursors (
			sync_type TEXT PRIMARY KEY,
			position INTEGER NOT NULL DEFAULT 0,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS sync_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			batch_id TEXT NOT NULL,
			sync_type TEXT NOT NULL,
			batch_index INTEGER NOT NULL,
			batch_total INTEGER NOT NULL,
			record_count INTEGER NOT NULL,
			last_position INTEGER,
			status TEXT CHECK (status IN ('pending','acked','failed')) NOT NULL DEFAULT 'pending',
			error_msg TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(batch_id, batch_index)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_history_created ON sync_history(created_at)`,
		`CREATE TABLE IF NOT EXISTS agent_state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	return nil
}

// GetCursor returns the highest acknowledged position for a sync type
func (s *Store) GetCursor(ctx context.Context, syncType string) (int64, error) {
	var position int64
	err := s.db.QueryRowContext(ctx, `SELECT position FROM sync_cursors WHERE sync_type = ?`, syncType).Scan(&position)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return position, nil
}

// AdvanceCursor moves the cursor forward to position. The cursor never moves
// backwards; the resulting position is returned.
func (s *Store) AdvanceCursor(ctx context.Context, syncType string, position int64) (int64, error) {
	query := `
		INSERT INTO sync_cursors (sync_type, position, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(sync_type) DO UPDATE SET
			position = MAX(position, excluded.position),
			updated_at = CURRENT_TIMESTAMP
	`
	if _, err := s.db.ExecContext(ctx, query, syncType, position); err != nil {
		return 0, err
	}
	return s.GetCursor(ctx, syncType)
}

// Cursors returns every persisted cursor keyed by sync type
func (s *Store) Cursors(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT sync_type, position FROM sync_cursors ORDER BY sync_type`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cursors := make(map[string]int64)
	for rows.Next() {
		var syncType string
		var position int64
		if err := rows.Scan(&syncType, &position); err != nil {
			return nil, err
		}
		cursors[syncType] = position
	}
	return cursors, rows.Err()
}

// BatchRecord represents a batch attempt in local history
type BatchRecord struct {
	ID           int64   `yaml:"-"`
	BatchID      string  `yaml:"batch_id"`
	SyncType     string  `yaml:"sync_type"`
	BatchIndex   int     `yaml:"batch_index"`
	BatchTotal   int     `yaml:"batch_total"`
	RecordCount  int     `yaml:"record_count"`
	LastPosition *int64  `yaml:"last_position,omitempty"`
	Status       string  `yaml:"status"`
	ErrorMsg     *string `yaml:"error,omitempty"`
	CreatedAt    string  `yaml:"created_at"`
	UpdatedAt    string  `yaml:"updated_at"`
}

// RecordBatch saves a pending batch before it is sent
func (s *Store) RecordBatch(ctx context.Context, b BatchRecord) error {
	query := `
		INSERT INTO sync_history (batch_id, sync_type, batch_index, batch_total, record_count, last_position, status)
		VALUES (?, ?, ?, ?, ?, ?, 'pending')
		ON CONFLICT(batch_id, batch_index) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query, b.BatchID, b.SyncType, b.BatchIndex, b.BatchTotal, b.RecordCount, b.LastPosition)
	return err
}

// MarkBatchAcked marks a batch as acknowledged by the cloud
func (s *Store) MarkBatchAcked(ctx context.Context, batchID string, batchIndex int) error {
	query := `
		UPDATE sync_history
		SET status = 'acked', error_msg = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE batch_id = ? AND batch_index = ?
	`
	_, err := s.db.ExecContext(ctx, query, batchID, batchIndex)
	return err
}

// MarkBatchFailed marks a batch as failed with the given error
func (s *Store) MarkBatchFailed(ctx context.Context, batchID string, batchIndex int, errorMsg string) error {
	query := `
		UPDATE sync_history
		SET status = 'failed', error_msg = ?, updated_at = CURRENT_TIMESTAMP
		WHERE batch_id = ? AND batch_index = ?
	`
	_, err := s.db.ExecContext(ctx, query, errorMsg, batchID, batchIndex)
	return err
}

// RecentBatches returns the most recent batch attempts, newest first
func (s *Store) RecentBatches(ctx context.Context, limit int) ([]BatchRecord, error) {
	query := `
		SELECT id, batch_id, sync_type, batch_index, batch_total, record_count, last_position, status, error_msg, created_at, updated_at
		FROM sync_history
		ORDER BY id DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []BatchRecord
	for rows.Next() {
		var b BatchRecord
		err := rows.Scan(
			&b.ID, &b.BatchID, &b.SyncType, &b.BatchIndex, &b.BatchTotal, &b.RecordCount,
			&b.LastPosition, &b.Status, &b.ErrorMsg, &b.CreatedAt, &b.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// CleanupHistory deletes finished batch history older than the given days
func (s *Store) CleanupHistory(ctx context.Context, olderThanDays int) error {
	query := `
		DELETE FROM sync_history
		WHERE status IN ('acked', 'failed') AND datetime(created_at, '+' || ? || ' days') < datetime('now')
	`
	_, err := s.db.ExecContext(ctx, query, olderThanDays)
	return err
}

// SetState stores an agent state value
func (s *Store) SetState(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO agent_state (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`
	_, err := s.db.ExecContext(ctx, query, key, value)
	return err
}

// GetState returns an agent state value, or "" when unset
func (s *Store) GetState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM agent_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// RecordFailure increments the local failure counter and stores the error.
// The new counter value is returned.
func (s *Store) RecordFailure(ctx context.Context, errorMsg string, at time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO agent_state (key, value, updated_at) VALUES (?, '1', CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = CAST(CAST(value AS INTEGER) + 1 AS TEXT), updated_at = CURRENT_TIMESTAMP
	`
	if _, err := tx.ExecContext(ctx, query, StateConsecutiveFailures); err != nil {
		return 0, err
	}
	upsert := `
		INSERT INTO agent_state (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`
	if _, err := tx.ExecContext(ctx, upsert, StateLastError, errorMsg); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, upsert, StateLastErrorAt, at.UTC().Format(time.RFC3339)); err != nil {
		return 0, err
	}

	var value string
	if err := tx.QueryRowContext(ctx, `SELECT value FROM agent_state WHERE key = ?`, StateConsecutiveFailures).Scan(&value); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	n, _ := strconv.Atoi(value)
	return n, nil
}

// ResetFailures clears the local failure counter after a successful cycle
func (s *Store) ResetFailures(ctx context.Context) error {
	return s.SetState(ctx, StateConsecutiveFailures, "0")
}

// LocalState is a snapshot of the agent's persisted state
type LocalState struct {
	Status              string           `yaml:"status"`
	ConsecutiveFailures int              `yaml:"consecutive_failures"`
	LastError           string           `yaml:"last_error,omitempty"`
	LastErrorAt         string           `yaml:"last_error_at,omitempty"`
	LastSyncAt          string           `yaml:"last_sync_at,omitempty"`
	LastSyncRecords     int              `yaml:"last_sync_records"`
	AuthFailed          bool             `yaml:"auth_failed"`
	Cursors             map[string]int64 `yaml:"cursors"`
}

// LoadState returns a snapshot of all agent state
func (s *Store) LoadState(ctx context.Context) (*LocalState, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM agent_state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	state := &LocalState{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		switch key {
		case StateStatus:
			state.Status = value
		case StateConsecutiveFailures:
			state.ConsecutiveFailures, _ = strconv.Atoi(value)
		case StateLastError:
			state.LastError = value
		case StateLastErrorAt:
			state.LastErrorAt = value
		case StateLastSyncAt:
			state.LastSyncAt = value
		case StateLastSyncRecords:
			state.LastSyncRecords, _ = strconv.Atoi(value)
		case StateAuthFailed:
			state.AuthFailed, _ = strconv.ParseBool(value)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	state.Cursors, err = s.Cursors(ctx)
	if err != nil {
		return nil, err
	}
	return state, nil
}
