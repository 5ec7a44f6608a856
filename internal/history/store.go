// Package history keeps a local SQLite record of traced runs and builds.
package history

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration
)

// Run is one traced command.
type Run struct {
	ID        int64         `json:"id"`
	Session   string        `json:"session"`
	Command   []string      `json:"command"`
	Ran       bool          `json:"ran"`
	ExitCode  int           `json:"exitCode"`
	Enabled   int           `json:"enabled"`
	Failed    []string      `json:"failed,omitempty"`
	TracePath string        `json:"tracePath"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
}

// Build is one project of a build pipeline run.
type Build struct {
	ID        int64         `json:"id"`
	Project   string        `json:"project"`
	OK        bool          `json:"ok"`
	Stage     string        `json:"stage,omitempty"`
	Detail    string        `json:"detail,omitempty"`
	LogPath   string        `json:"logPath"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
}

// Store is the history database.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			session     TEXT NOT NULL,
			command     TEXT NOT NULL,
			ran         INTEGER NOT NULL,
			exit_code   INTEGER NOT NULL,
			enabled     INTEGER NOT NULL,
			failed      TEXT NOT NULL,
			trace_path  TEXT NOT NULL,
			started_at  TEXT NOT NULL,
			duration_ms INTEGER NOT NULL,
			error       TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
		CREATE TABLE IF NOT EXISTS builds (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			project     TEXT NOT NULL,
			ok          INTEGER NOT NULL,
			stage       TEXT NOT NULL,
			detail      TEXT NOT NULL,
			log_path    TEXT NOT NULL,
			started_at  TEXT NOT NULL,
			duration_ms INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_builds_started ON builds(started_at);
	`)
	if err != nil {
		return fmt.Errorf("creating tables: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordRun appends a traced run.
func (s *Store) RecordRun(r Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	command, err := json.Marshal(r.Command)
	if err != nil {
		return fmt.Errorf("marshaling command: %w", err)
	}
	failed, err := json.Marshal(r.Failed)
	if err != nil {
		return fmt.Errorf("marshaling failed events: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO runs (session, command, ran, exit_code, enabled, failed, trace_path, started_at, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.Session, string(command), r.Ran, r.ExitCode, r.Enabled, string(failed), r.TracePath,
		r.StartedAt.UTC().Format(time.RFC3339Nano), r.Duration.Milliseconds(), r.Error)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// RecordBuild appends a build result.
func (s *Store) RecordBuild(b Build) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO builds (project, ok, stage, detail, log_path, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, b.Project, b.OK, b.Stage, b.Detail, b.LogPath,
		b.StartedAt.UTC().Format(time.RFC3339Nano), b.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("inserting build: %w", err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(limit int) ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT id, session, command, ran, exit_code, enabled, failed, trace_path, started_at, duration_ms, error
		FROM runs ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r               Run
			command, failed string
			started         string
			durationMS      int64
		)
		if err := rows.Scan(&r.ID, &r.Session, &command, &r.Ran, &r.ExitCode, &r.Enabled,
			&failed, &r.TracePath, &started, &durationMS, &r.Error); err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		_ = json.Unmarshal([]byte(command), &r.Command)
		_ = json.Unmarshal([]byte(failed), &r.Failed)
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		r.Duration = time.Duration(durationMS) * time.Millisecond
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RecentBuilds returns up to limit build results, newest first.
func (s *Store) RecentBuilds(limit int) ([]Build, error) {
	rows, err := s.db.Query(`
		SELECT id, project, ok, stage, detail, log_path, started_at, duration_ms
		FROM builds ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying builds: %w", err)
	}
	defer rows.Close()

	var builds []Build
	for rows.Next() {
		var (
			b          Build
			started    string
			durationMS int64
		)
		if err := rows.Scan(&b.ID, &b.Project, &b.OK, &b.Stage, &b.Detail, &b.LogPath, &started, &durationMS); err != nil {
			return nil, fmt.Errorf("scanning build: %w", err)
		}
		b.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		b.Duration = time.Duration(durationMS) * time.Millisecond
		builds = append(builds, b)
	}
	return builds, rows.Err()
}
