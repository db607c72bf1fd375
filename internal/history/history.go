// Package history persists a summary row per finished job so past runs can
// be inspected after the in-memory pipeline state is gone.
package history

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	publisher TEXT,
	title TEXT,
	state TEXT NOT NULL,
	error_kind TEXT,
	error TEXT,
	final_path TEXT,
	submitted_at TIMESTAMP NOT NULL,
	finished_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_jobs_finished_at ON jobs(finished_at DESC);
`

// Entry is one terminal job record.
type Entry struct {
	ID        string
	URL       string
	Publisher string
	Title     string
	State     string
	ErrorKind string
	Error     string
	FinalPath string
	Submitted time.Time
	Finished  time.Time
}

// Summary aggregates the stored records.
type Summary struct {
	Total  int
	Done   int
	Failed int
}

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("error opening history database: %v", err)
	}
	// modernc sqlite serializes writes itself but rejects concurrent
	// connections on some setups; a single connection is plenty here.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing history schema: %v", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Record(e Entry) error {
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, url, publisher, title, state, error_kind, error, final_path, submitted_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		e.ID, e.URL, e.Publisher, e.Title, e.State, e.ErrorKind, e.Error, e.FinalPath, e.Submitted, e.Finished)
	if err != nil {
		return fmt.Errorf("error recording job: %v", err)
	}
	return nil
}

// Recent returns up to limit entries, most recently finished first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, url, publisher, title, state, error_kind, error, final_path, submitted_at, finished_at
		FROM jobs ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying history: %v", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.URL, &e.Publisher, &e.Title, &e.State, &e.ErrorKind, &e.Error, &e.FinalPath, &e.Submitted, &e.Finished); err != nil {
			return nil, fmt.Errorf("error scanning history row: %v", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *Store) Summarize() (Summary, error) {
	var sum Summary
	row := s.db.QueryRow(`
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN state = 'done' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN state = 'failed' THEN 1 ELSE 0 END), 0)
		FROM jobs`)
	if err := row.Scan(&sum.Total, &sum.Done, &sum.Failed); err != nil {
		return Summary{}, fmt.Errorf("error summarizing history: %v", err)
	}
	return sum, nil
}
