package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Mindburn-Labs/foundry/pkg/canonicalize"
	"github.com/Mindburn-Labs/foundry/pkg/contracts"
	"github.com/Mindburn-Labs/foundry/pkg/fault"
)

// JobStore is the persistence boundary for JobContract documents and their
// append-only audit events.
type JobStore interface {
	Create(ctx context.Context, job contracts.Document) error
	Get(ctx context.Context, jobID string) (contracts.Document, error)
	Update(ctx context.Context, job contracts.Document) error
	CountActiveByOrg(ctx context.Context, orgID string) (int64, error)
	RecordEvent(ctx context.Context, ev Event) error
	CountEventsSince(ctx context.Context, orgID, eventType string, since time.Time) (int64, error)
}

// Event is one append-only audit log entry.
type Event struct {
	OrgID     string
	JobID     string
	Type      string
	Details   map[string]any
	Timestamp time.Time
}

// Audit event types emitted by the control plane.
const (
	EventJobSubmitted        = "job_submitted"
	EventJobStarted          = "job_started"
	EventExecutionDeferred   = "execution_deferred"
	EventJobStopped          = "job_stopped"
	EventJobExpired          = "job_expired"
	EventJobStateChanged     = "job_state_changed"
	EventArtifactSubmitted   = "artifact_submitted"
	EventEvaluationSubmitted = "evaluation_submitted"
)

type jobColumns struct {
	jobID              string
	orgID              string
	state              string
	createdAt          string
	expiresAt          string
	statusUpdatedAt    string
	startedAt          sql.NullString
	terminalAt         sql.NullString
	finalEvaluationRef sql.NullString
	failureMode        sql.NullString
	expiryReason       sql.NullString
	docJSON            string
}

// extractJobColumns projects the queryable columns out of the document. The
// document itself stays the source of truth; columns exist for indexing.
func extractJobColumns(job contracts.Document) (jobColumns, error) {
	view := contracts.Job(job)
	var cols jobColumns
	var err error

	if cols.jobID, err = view.JobID(); err != nil {
		return cols, fmt.Errorf("store: job document: %w", err)
	}
	if cols.orgID, err = view.OrgID(); err != nil {
		return cols, fmt.Errorf("store: job document: %w", err)
	}
	if cols.state, err = view.State(); err != nil {
		return cols, fmt.Errorf("store: job document: %w", err)
	}
	if cols.createdAt, err = contracts.GetString(job, "spec", "timestamps", "created_at"); err != nil {
		return cols, fmt.Errorf("store: job document: %w", err)
	}
	if cols.expiresAt, err = contracts.GetString(job, "spec", "timestamps", "expires_at"); err != nil {
		return cols, fmt.Errorf("store: job document: %w", err)
	}
	if cols.statusUpdatedAt, err = contracts.GetString(job, "spec", "status", "status_updated_at"); err != nil {
		return cols, fmt.Errorf("store: job document: %w", err)
	}

	status, err := view.Status()
	if err != nil {
		return cols, fmt.Errorf("store: job document: %w", err)
	}
	cols.startedAt = nullableString(status, "started_at")
	cols.terminalAt = nullableString(status, "terminal_at")
	cols.finalEvaluationRef = nullableString(status, "final_evaluation_ref")
	cols.failureMode = nullableString(status, "failure_mode")
	cols.expiryReason = nullableString(status, "expiry_reason")

	raw, err := canonicalize.Document(job)
	if err != nil {
		return cols, fmt.Errorf("store: serialize job: %w", err)
	}
	cols.docJSON = string(raw)
	return cols, nil
}

func nullableString(obj map[string]any, key string) sql.NullString {
	if s, ok := obj[key].(string); ok {
		return sql.NullString{String: s, Valid: true}
	}
	return sql.NullString{}
}

// SQLiteJobStore implements JobStore on a SQLite database.
type SQLiteJobStore struct {
	db *sql.DB
}

func NewSQLiteJobStore(db *sql.DB) *SQLiteJobStore {
	return &SQLiteJobStore{db: db}
}

func (s *SQLiteJobStore) Create(ctx context.Context, job contracts.Document) error {
	cols, err := extractJobColumns(job)
	if err != nil {
		return err
	}
	query := `INSERT INTO jobs(
		job_id, org_id, state, created_at, expires_at, status_updated_at,
		started_at, terminal_at, final_evaluation_ref, failure_mode, expiry_reason, doc_json
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = s.db.ExecContext(ctx, query,
		cols.jobID, cols.orgID, cols.state, cols.createdAt, cols.expiresAt, cols.statusUpdatedAt,
		cols.startedAt, cols.terminalAt, cols.finalEvaluationRef, cols.failureMode, cols.expiryReason, cols.docJSON,
	)
	if isUniqueViolation(err) {
		return fault.Conflict("Job already exists: %s", cols.jobID)
	}
	if err != nil {
		return fmt.Errorf("store: insert job: %w", err)
	}
	return nil
}

func (s *SQLiteJobStore) Get(ctx context.Context, jobID string) (contracts.Document, error) {
	var docJSON string
	err := s.db.QueryRowContext(ctx, `SELECT doc_json FROM jobs WHERE job_id = ?`, jobID).Scan(&docJSON)
	if err == sql.ErrNoRows {
		return nil, fault.NotFound("JobContract", jobID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get job: %w", err)
	}
	return decodeDocument(docJSON)
}

func (s *SQLiteJobStore) Update(ctx context.Context, job contracts.Document) error {
	cols, err := extractJobColumns(job)
	if err != nil {
		return err
	}
	query := `UPDATE jobs SET
		org_id = ?, state = ?, created_at = ?, expires_at = ?, status_updated_at = ?,
		started_at = ?, terminal_at = ?, final_evaluation_ref = ?, failure_mode = ?, expiry_reason = ?, doc_json = ?
	WHERE job_id = ?`
	res, err := s.db.ExecContext(ctx, query,
		cols.orgID, cols.state, cols.createdAt, cols.expiresAt, cols.statusUpdatedAt,
		cols.startedAt, cols.terminalAt, cols.finalEvaluationRef, cols.failureMode, cols.expiryReason, cols.docJSON,
		cols.jobID,
	)
	if err != nil {
		return fmt.Errorf("store: update job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update job: %w", err)
	}
	if affected != 1 {
		return fault.NotFound("JobContract", cols.jobID)
	}
	return nil
}

func (s *SQLiteJobStore) CountActiveByOrg(ctx context.Context, orgID string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM jobs WHERE org_id = ? AND state IN ('running','waiting')`, orgID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("store: count active jobs: %w", err)
	}
	return count, nil
}

func (s *SQLiteJobStore) RecordEvent(ctx context.Context, ev Event) error {
	details := ev.Details
	if details == nil {
		details = map[string]any{}
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("store: serialize event details: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO job_events(ts, org_id, job_id, event_type, details_json) VALUES (?, ?, ?, ?, ?)`,
		formatEventTime(ev.Timestamp), ev.OrgID, ev.JobID, ev.Type, string(detailsJSON),
	)
	if err != nil {
		return fmt.Errorf("store: insert job event: %w", err)
	}
	return nil
}

func (s *SQLiteJobStore) CountEventsSince(ctx context.Context, orgID, eventType string, since time.Time) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM job_events WHERE org_id = ? AND event_type = ? AND ts >= ?`,
		orgID, eventType, formatEventTime(since),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("store: count events: %w", err)
	}
	return count, nil
}

func decodeDocument(docJSON string) (contracts.Document, error) {
	var doc contracts.Document
	if err := json.Unmarshal([]byte(docJSON), &doc); err != nil {
		return nil, fmt.Errorf("store: decode stored document: %w", err)
	}
	return doc, nil
}
