// Package state records the history of pipeline runs in a local sqlite database.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/sokinpui/coda/internal/fs"
)

// FileRecord is one file touched by a run, with the hash of its content
// after the run. Deleted files have an empty hash.
type FileRecord struct {
	Path        string
	Action      string
	ContentHash string
}

// Run is one invocation of consolidate or patch.
type Run struct {
	ID         string
	Kind       string
	StartedAt  time.Time
	FinishedAt time.Time
	Stage      string
	Success    int
	Failed     int
	Skipped    int
	Message    string
	Files      []FileRecord
}

// NewFileRecord hashes absPath for a record of relPath. A missing file gets an empty hash.
func NewFileRecord(absPath, relPath, action string) FileRecord {
	hash, err := fs.GetFileSHA256(absPath)
	if err != nil {
		hash = ""
	}
	return FileRecord{Path: relPath, Action: action, ContentHash: hash}
}

// Store is the run history database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" || p == "." {
		return nil, errors.New("missing history path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, err
	}

	// modernc.org/sqlite uses a file path as DSN.
	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS runs (
  run_id TEXT PRIMARY KEY,
  kind TEXT NOT NULL,
  started_at_unix_ms INTEGER NOT NULL,
  finished_at_unix_ms INTEGER NOT NULL,
  stage TEXT NOT NULL,
  success INTEGER NOT NULL DEFAULT 0,
  failed INTEGER NOT NULL DEFAULT 0,
  skipped INTEGER NOT NULL DEFAULT 0,
  message TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS run_files (
  run_id TEXT NOT NULL,
  seq INTEGER NOT NULL,
  path TEXT NOT NULL,
  action TEXT NOT NULL,
  content_hash TEXT NOT NULL DEFAULT '',
  PRIMARY KEY (run_id, seq)
);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at_unix_ms);
`)
	if err != nil {
		return fmt.Errorf("failed to initialize history schema: %w", err)
	}
	return nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record inserts or replaces a run and its files.
func (s *Store) Record(ctx context.Context, run Run) error {
	if s == nil || s.db == nil {
		return errors.New("history store not initialized")
	}
	if strings.TrimSpace(run.ID) == "" {
		return errors.New("missing run id")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
INSERT OR REPLACE INTO runs (run_id, kind, started_at_unix_ms, finished_at_unix_ms, stage, success, failed, skipped, message)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
`, run.ID, run.Kind, run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli(), run.Stage, run.Success, run.Failed, run.Skipped, run.Message); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM run_files WHERE run_id = ?`, run.ID); err != nil {
		return err
	}
	for i, f := range run.Files {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO run_files (run_id, seq, path, action, content_hash) VALUES (?, ?, ?, ?, ?)
`, run.ID, i, f.Path, f.Action, f.ContentHash); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Recent returns up to limit runs, newest first, with their files.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("history store not initialized")
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, kind, started_at_unix_ms, finished_at_unix_ms, stage, success, failed, skipped, message
FROM runs
ORDER BY started_at_unix_ms DESC, run_id DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, err
	}
	var out []Run
	for rows.Next() {
		var r Run
		var started, finished int64
		if err := rows.Scan(&r.ID, &r.Kind, &started, &finished, &r.Stage, &r.Success, &r.Failed, &r.Skipped, &r.Message); err != nil {
			rows.Close()
			return nil, err
		}
		r.StartedAt = time.UnixMilli(started).UTC()
		r.FinishedAt = time.UnixMilli(finished).UTC()
		out = append(out, r)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range out {
		files, err := s.files(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Files = files
	}
	return out, nil
}

func (s *Store) files(ctx context.Context, runID string) ([]FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT path, action, content_hash FROM run_files WHERE run_id = ? ORDER BY seq ASC
`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []FileRecord
	for rows.Next() {
		var f FileRecord
		if err := rows.Scan(&f.Path, &f.Action, &f.ContentHash); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
