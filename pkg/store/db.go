// Package store is the SQLite persistence layer.
//
// Append-only tables back the audit contracts: artifacts and evaluations are
// immutable once written, job_events is an append-only log. Jobs are mutable
// only through whole-document updates keyed by job_id, and only the
// spec.status subtree ever changes in practice.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// schemaVersion is the only on-disk layout this build reads or writes.
// Anything else means the file belongs to a different build: refuse it.
const schemaVersion = 1

// eventTimeLayout is a fixed-width UTC format. Equal width makes the stored
// ts column compare lexicographically in chronological order, which the
// rate-limit window query relies on.
const eventTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Open opens (creating if needed) the SQLite database at path and runs
// migrations. The parent directory is created on demand.
func Open(path string) (*sql.DB, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("store: resolve %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("store: create state dir: %w", err)
	}
	db, err := sql.Open("sqlite", abs+"?_pragma=busy_timeout(30000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite %s: %w", abs, err)
	}
	if err := Migrate(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Migrate creates the schema and gates on schema_version.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
		  version INTEGER NOT NULL
		);`); err != nil {
		return fmt.Errorf("store: migrate schema_version: %w", err)
	}

	var version int
	err := db.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1;`).Scan(&version)
	switch {
	case err == sql.ErrNoRows:
		if _, err := db.ExecContext(ctx, `INSERT INTO schema_version(version) VALUES (?);`, schemaVersion); err != nil {
			return fmt.Errorf("store: stamp schema_version: %w", err)
		}
		version = schemaVersion
	case err != nil:
		return fmt.Errorf("store: read schema_version: %w", err)
	}
	if version != schemaVersion {
		return fmt.Errorf("store: unsupported SQLite schema_version: %d", version)
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
		  job_id TEXT PRIMARY KEY,
		  org_id TEXT NOT NULL,
		  state TEXT NOT NULL,
		  created_at TEXT NOT NULL,
		  expires_at TEXT NOT NULL,
		  status_updated_at TEXT NOT NULL,
		  started_at TEXT,
		  terminal_at TEXT,
		  final_evaluation_ref TEXT,
		  failure_mode TEXT,
		  expiry_reason TEXT,
		  doc_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_org_state ON jobs(org_id, state);`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_org_created_at ON jobs(org_id, created_at);`,

		`CREATE TABLE IF NOT EXISTS artifacts (
		  artifact_id TEXT PRIMARY KEY,
		  org_id TEXT NOT NULL,
		  job_id TEXT NOT NULL,
		  artifact_type TEXT NOT NULL,
		  created_at TEXT NOT NULL,
		  produced_by_agent_id TEXT NOT NULL,
		  doc_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_job_id ON artifacts(job_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_org_id ON artifacts(org_id, created_at);`,

		`CREATE TABLE IF NOT EXISTS evaluations (
		  evaluation_id TEXT PRIMARY KEY,
		  org_id TEXT NOT NULL,
		  job_id TEXT NOT NULL,
		  created_at TEXT NOT NULL,
		  outcome_status TEXT NOT NULL,
		  next_job_state TEXT NOT NULL,
		  evaluator_actor_type TEXT NOT NULL,
		  evaluator_actor_id TEXT NOT NULL,
		  doc_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_evaluations_job_id ON evaluations(job_id, created_at);`,
		`CREATE INDEX IF NOT EXISTS idx_evaluations_org_id ON evaluations(org_id, created_at);`,

		`CREATE TABLE IF NOT EXISTS job_events (
		  event_id INTEGER PRIMARY KEY AUTOINCREMENT,
		  ts TEXT NOT NULL,
		  org_id TEXT NOT NULL,
		  job_id TEXT NOT NULL,
		  event_type TEXT NOT NULL,
		  details_json TEXT
		);`,
		`CREATE INDEX IF NOT EXISTS idx_job_events_org_ts ON job_events(org_id, ts);`,
		`CREATE INDEX IF NOT EXISTS idx_job_events_job_ts ON job_events(job_id, ts);`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w", err)
		}
	}
	return nil
}

func formatEventTime(t time.Time) string {
	return t.UTC().Format(eventTimeLayout)
}

// isUniqueViolation matches the SQLite constraint error text. modernc.org/
// sqlite surfaces constraint failures through the error string only.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}
