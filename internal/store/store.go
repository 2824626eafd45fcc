// Package store is the SQLite persistence layer: submission records, the
// append-only audit tables, upload batches and the job queue all live in one
// database file.
package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// DefaultStaleAfter is how long a claimed job may sit in `started` before
// the sweeper hands it back to the queue.
const DefaultStaleAfter = time.Hour

type SQLiteStore struct {
	path       string
	staleAfter time.Duration

	mu sync.Mutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path, staleAfter: DefaultStaleAfter}
}

// SetStaleAfter overrides the stale-claim window; call before first use.
func (s *SQLiteStore) SetStaleAfter(d time.Duration) {
	if d > 0 {
		s.staleAfter = d
	}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL;`); err != nil {
		_ = db.Close()
		return err
	}

	schema := `
CREATE TABLE IF NOT EXISTS submissions (
  submission_id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  upload_batch_id TEXT,
  parent_submission_id TEXT,
  child_index INTEGER NOT NULL DEFAULT 0,
  multi_entry_source INTEGER NOT NULL DEFAULT 0,
  is_container INTEGER NOT NULL DEFAULT 0,
  filename TEXT NOT NULL DEFAULT '',
  doc_class TEXT NOT NULL DEFAULT '',
  doc_format TEXT NOT NULL DEFAULT '',
  student_name TEXT,
  school_name TEXT,
  grade TEXT,
  teacher_name TEXT,
  father_figure_name TEXT,
  phone TEXT,
  email TEXT,
  city_or_location TEXT,
  essay_text TEXT,
  word_count INTEGER NOT NULL DEFAULT 0,
  ocr_confidence_avg REAL NOT NULL DEFAULT 0,
  ocr_failed INTEGER NOT NULL DEFAULT 0,
  needs_review INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL DEFAULT 'PENDING_REVIEW',
  review_reason_codes TEXT NOT NULL DEFAULT '',
  storage_path TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_submissions_owner ON submissions(owner_id, status);
CREATE INDEX IF NOT EXISTS idx_submissions_parent ON submissions(parent_submission_id);
CREATE INDEX IF NOT EXISTS idx_submissions_batch ON submissions(upload_batch_id);

CREATE TABLE IF NOT EXISTS audit_traces (
  trace_id INTEGER PRIMARY KEY AUTOINCREMENT,
  submission_id TEXT NOT NULL,
  owner_id TEXT NOT NULL,
  input_fingerprint TEXT NOT NULL DEFAULT '',
  signals TEXT NOT NULL DEFAULT '[]',
  rules_applied TEXT NOT NULL DEFAULT '[]',
  outcome TEXT NOT NULL DEFAULT '',
  errors TEXT NOT NULL DEFAULT '[]',
  created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_traces_submission ON audit_traces(submission_id);

CREATE TABLE IF NOT EXISTS audit_events (
  event_id INTEGER PRIMARY KEY AUTOINCREMENT,
  submission_id TEXT NOT NULL,
  actor_role TEXT NOT NULL DEFAULT 'system',
  event_type TEXT NOT NULL,
  payload TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_events_submission ON audit_events(submission_id, event_id);

CREATE TABLE IF NOT EXISTS upload_batches (
  batch_id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  label TEXT NOT NULL DEFAULT '',
  created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS jobs (
  job_id TEXT PRIMARY KEY,
  payload BLOB NOT NULL,
  enqueued_at TEXT NOT NULL,
  started_at TEXT,
  attempts INTEGER NOT NULL DEFAULT 0,
  status TEXT NOT NULL DEFAULT 'queued',
  outcome TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, enqueued_at);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) ensureDB(ctx context.Context) (*sql.DB, error) {
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, errors.New("sqlite db not initialized")
	}
	return s.db, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

func nullIfEmpty(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func stringOr(v sql.NullString) string {
	if v.Valid {
		return v.String
	}
	return ""
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
