// Package journal keeps a durable record of executed cases in a SQLite
// database, one row per case keyed by run ID. A sidecar file lock
// serializes writers across processes, and the connection pool is capped
// at one because SQLite allows a single writer anyway.
package journal

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	_ "github.com/mattn/go-sqlite3"

	"github.com/sliverarmory/symscope/runner"
)

//go:embed schema.sql
var schemaSQL string

// Entry is one recorded case.
type Entry struct {
	RunID      string
	Scenario   string
	Case       string
	Kind       string
	Pass       bool
	Stage      string
	Error      string
	Steps      []runner.StepResult
	ElapsedMS  int64
	RecordedAt string
}

// Journal is an open journal database holding the writer lock.
type Journal struct {
	db   *sql.DB
	lock *flock.Flock
}

// Open creates or opens the journal at path, taking the writer lock. The
// call blocks while another process holds it.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("journal: create directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("journal: acquire lock: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("journal: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("journal: connect %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			_ = lock.Unlock()
			return nil, fmt.Errorf("journal: %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, fmt.Errorf("journal: apply schema: %w", err)
	}
	return &Journal{db: db, lock: lock}, nil
}

// Close releases the database and the writer lock.
func (j *Journal) Close() error {
	err := j.db.Close()
	if unlockErr := j.lock.Unlock(); err == nil {
		err = unlockErr
	}
	return err
}

// Record inserts every case of a run in one transaction.
func (j *Journal) Record(res *runner.RunResult) error {
	tx, err := j.db.Begin()
	if err != nil {
		return fmt.Errorf("journal: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO case_results
			(run_id, scenario, case_name, kind, pass, stage, error, steps, elapsed_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("journal: prepare: %w", err)
	}
	defer stmt.Close()

	for _, c := range res.Cases {
		steps, err := json.Marshal(c.Steps)
		if err != nil {
			return fmt.Errorf("journal: encode steps of %s/%s: %w", c.Scenario, c.Case, err)
		}
		if _, err := stmt.Exec(res.RunID, c.Scenario, c.Case, c.Kind,
			c.Pass, c.Stage, c.Error, string(steps), c.ElapsedMS); err != nil {
			return fmt.Errorf("journal: insert %s/%s: %w", c.Scenario, c.Case, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("journal: commit: %w", err)
	}
	return nil
}

// Recent returns the newest entries, most recent first.
func (j *Journal) Recent(limit int) ([]Entry, error) {
	if limit < 1 {
		limit = 20
	}
	rows, err := j.db.Query(`
		SELECT run_id, scenario, case_name, kind, pass, stage, error, steps, elapsed_ms, recorded_at
		FROM case_results
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var steps string
		if err := rows.Scan(&e.RunID, &e.Scenario, &e.Case, &e.Kind,
			&e.Pass, &e.Stage, &e.Error, &steps, &e.ElapsedMS, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		if err := json.Unmarshal([]byte(steps), &e.Steps); err != nil {
			return nil, fmt.Errorf("journal: decode steps of %s/%s: %w", e.Scenario, e.Case, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
