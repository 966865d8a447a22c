// Package store persists batch and task state to SQLite. The coordinator
// runs entirely in memory; the store exists so finished batches survive a
// restart and stay queryable.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/blingtien/rag-system-sub000/internal/batch"
)

// ErrNotFound is returned for unknown batch IDs.
var ErrNotFound = errors.New("not found")

const schema = `
CREATE TABLE IF NOT EXISTS batches (
	id            TEXT PRIMARY KEY,
	policy        TEXT NOT NULL,
	status        TEXT NOT NULL,
	created_at    TEXT NOT NULL,
	completed_at  TEXT,
	hits          INTEGER NOT NULL DEFAULT 0,
	misses        INTEGER NOT NULL DEFAULT 0,
	time_saved_ms INTEGER NOT NULL DEFAULT 0,
	samples       INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS tasks (
	id             TEXT PRIMARY KEY,
	batch_id       TEXT NOT NULL REFERENCES batches(id),
	document_id    TEXT NOT NULL,
	status         TEXT NOT NULL,
	started_at     TEXT,
	completed_at   TEXT,
	cache_outcome  TEXT NOT NULL DEFAULT '',
	error_category TEXT NOT NULL DEFAULT '',
	error_message  TEXT NOT NULL DEFAULT '',
	blocks         INTEGER NOT NULL DEFAULT 0,
	duration_ms    INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_tasks_batch ON tasks(batch_id);
`

// Store wraps a SQLite database holding batch history.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database in dataDir. Pass ":memory:" for an
// in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "ragsys.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Single connection avoids "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveBatch upserts a batch snapshot and all of its tasks in one
// transaction. Later snapshots of the same batch overwrite earlier ones.
func (s *Store) SaveBatch(snap *batch.Snapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning save transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO batches (id, policy, status, created_at, completed_at, hits, misses, time_saved_ms, samples)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			completed_at = excluded.completed_at,
			hits = excluded.hits,
			misses = excluded.misses,
			time_saved_ms = excluded.time_saved_ms,
			samples = excluded.samples`,
		snap.ID, string(snap.Policy), string(snap.Status),
		snap.CreatedAt.UTC().Format(time.RFC3339), formatTimePtr(snap.CompletedAt),
		snap.Cache.Hits, snap.Cache.Misses, snap.Cache.TimeSavedMS, snap.Cache.Samples,
	)
	if err != nil {
		return fmt.Errorf("saving batch %s: %w", snap.ID, err)
	}

	for i := range snap.Tasks {
		if err := saveTask(tx, &snap.Tasks[i]); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func saveTask(tx *sql.Tx, t *batch.TaskSnapshot) error {
	var category, message string
	if t.Error != nil {
		category = string(t.Error.Category)
		message = t.Error.Message
	}
	var blocks int
	var durationMS int64
	if t.Result != nil {
		blocks = t.Result.Blocks
		durationMS = t.Result.Duration.Milliseconds()
	}

	_, err := tx.Exec(`
		INSERT INTO tasks (id, batch_id, document_id, status, started_at, completed_at, cache_outcome, error_category, error_message, blocks, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			cache_outcome = excluded.cache_outcome,
			error_category = excluded.error_category,
			error_message = excluded.error_message,
			blocks = excluded.blocks,
			duration_ms = excluded.duration_ms`,
		t.ID, t.BatchID, t.DocumentID, string(t.Status),
		formatTimePtr(t.StartedAt), formatTimePtr(t.CompletedAt),
		string(t.Cache), category, message, blocks, durationMS,
	)
	if err != nil {
		return fmt.Errorf("saving task %s: %w", t.ID, err)
	}
	return nil
}

// BatchRecord is a persisted batch row.
type BatchRecord struct {
	ID          string     `json:"id"`
	Policy      string     `json:"policy"`
	Status      string     `json:"status"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Hits        int64      `json:"hits"`
	Misses      int64      `json:"misses"`
	TimeSavedMS int64      `json:"time_saved_ms"`
	Samples     int64      `json:"samples"`
}

// TaskRecord is a persisted task row.
type TaskRecord struct {
	ID            string     `json:"id"`
	BatchID       string     `json:"batch_id"`
	DocumentID    string     `json:"document_id"`
	Status        string     `json:"status"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	CacheOutcome  string     `json:"cache_outcome,omitempty"`
	ErrorCategory string     `json:"error_category,omitempty"`
	ErrorMessage  string     `json:"error_message,omitempty"`
	Blocks        int        `json:"blocks"`
	DurationMS    int64      `json:"duration_ms"`
}

// GetBatch returns a single persisted batch.
func (s *Store) GetBatch(id string) (BatchRecord, error) {
	var r BatchRecord
	var createdAt string
	var completedAt sql.NullString
	err := s.db.QueryRow(`
		SELECT id, policy, status, created_at, completed_at, hits, misses, time_saved_ms, samples
		FROM batches WHERE id = ?`, id,
	).Scan(&r.ID, &r.Policy, &r.Status, &createdAt, &completedAt,
		&r.Hits, &r.Misses, &r.TimeSavedMS, &r.Samples)
	if err == sql.ErrNoRows {
		return BatchRecord{}, ErrNotFound
	}
	if err != nil {
		return BatchRecord{}, err
	}
	if r.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return BatchRecord{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if r.CompletedAt, err = parseTimePtr(completedAt); err != nil {
		return BatchRecord{}, err
	}
	return r, nil
}

// ListBatches returns the most recently created batches, newest first.
func (s *Store) ListBatches(limit int) ([]BatchRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, policy, status, created_at, completed_at, hits, misses, time_saved_ms, samples
		FROM batches ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []BatchRecord
	for rows.Next() {
		var r BatchRecord
		var createdAt string
		var completedAt sql.NullString
		if err := rows.Scan(&r.ID, &r.Policy, &r.Status, &createdAt, &completedAt,
			&r.Hits, &r.Misses, &r.TimeSavedMS, &r.Samples); err != nil {
			return nil, err
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		if r.CompletedAt, err = parseTimePtr(completedAt); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// ListTasks returns all persisted tasks of a batch.
func (s *Store) ListTasks(batchID string) ([]TaskRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, batch_id, document_id, status, started_at, completed_at, cache_outcome, error_category, error_message, blocks, duration_ms
		FROM tasks WHERE batch_id = ? ORDER BY document_id ASC`, batchID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []TaskRecord
	for rows.Next() {
		var r TaskRecord
		var startedAt, completedAt sql.NullString
		if err := rows.Scan(&r.ID, &r.BatchID, &r.DocumentID, &r.Status,
			&startedAt, &completedAt, &r.CacheOutcome,
			&r.ErrorCategory, &r.ErrorMessage, &r.Blocks, &r.DurationMS); err != nil {
			return nil, err
		}
		if r.StartedAt, err = parseTimePtr(startedAt); err != nil {
			return nil, err
		}
		if r.CompletedAt, err = parseTimePtr(completedAt); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil, fmt.Errorf("parsing timestamp: %w", err)
	}
	return &t, nil
}
