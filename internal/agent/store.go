package agent

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const sessionSchema = `
CREATE TABLE IF NOT EXISTS run_sessions (
	id       INTEGER PRIMARY KEY AUTOINCREMENT,
	target   TEXT NOT NULL,
	task     TEXT NOT NULL,
	started  TEXT NOT NULL,
	finished TEXT NOT NULL,
	chars    INTEGER NOT NULL DEFAULT 0,
	err      TEXT
);
CREATE INDEX IF NOT EXISTS run_sessions_target ON run_sessions(target, started);
`

// RunSession is one capability invocation as remembered by the agent layer.
type RunSession struct {
	Target   string
	Task     string
	Started  time.Time
	Finished time.Time
	Chars    int
	Error    string
}

// Store keeps agent run sessions in a local SQLite database, mirroring the
// session database the hub-side agent runtime maintains for itself.
type Store struct {
	db *sql.DB
}

// OpenStore opens (creating if needed) the session database at path.
func OpenStore(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("session store path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(sessionSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// RecordRun appends one session row.
func (s *Store) RecordRun(ctx context.Context, r RunSession) error {
	if s == nil || s.db == nil {
		return nil
	}
	var errCol any
	if r.Error != "" {
		errCol = r.Error
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_sessions(target, task, started, finished, chars, err) VALUES(?,?,?,?,?,?)`,
		r.Target, r.Task,
		r.Started.Format(time.RFC3339Nano), r.Finished.Format(time.RFC3339Nano),
		r.Chars, errCol,
	)
	return err
}

// RecentRuns returns up to limit sessions for a target, newest first.
func (s *Store) RecentRuns(ctx context.Context, target string, limit int) ([]RunSession, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT target, task, started, finished, chars, COALESCE(err, '')
		 FROM run_sessions WHERE target = ? ORDER BY started DESC LIMIT ?`,
		target, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunSession
	for rows.Next() {
		var r RunSession
		var started, finished string
		if err := rows.Scan(&r.Target, &r.Task, &started, &finished, &r.Chars, &r.Error); err != nil {
			return nil, err
		}
		r.Started, _ = time.Parse(time.RFC3339Nano, started)
		r.Finished, _ = time.Parse(time.RFC3339Nano, finished)
		out = append(out, r)
	}
	return out, rows.Err()
}
