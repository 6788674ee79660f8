package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Mindburn-Labs/foundry/pkg/canonicalize"
	"github.com/Mindburn-Labs/foundry/pkg/contracts"
	"github.com/Mindburn-Labs/foundry/pkg/fault"
)

// EvaluationStore is the append-only persistence boundary for Evaluation
// documents.
type EvaluationStore interface {
	Append(ctx context.Context, evaluation contracts.Document) error
	Get(ctx context.Context, evaluationID string) (contracts.Document, error)
	ListForJob(ctx context.Context, jobID string) ([]contracts.Document, error)
}

// SQLiteEvaluationStore implements EvaluationStore on a SQLite database.
type SQLiteEvaluationStore struct {
	db *sql.DB
}

func NewSQLiteEvaluationStore(db *sql.DB) *SQLiteEvaluationStore {
	return &SQLiteEvaluationStore{db: db}
}

func (s *SQLiteEvaluationStore) Append(ctx context.Context, evaluation contracts.Document) error {
	view := contracts.Evaluation(evaluation)
	evaluationID, err := view.EvaluationID()
	if err != nil {
		return fmt.Errorf("store: evaluation document: %w", err)
	}
	orgID, err := view.OrgID()
	if err != nil {
		return fmt.Errorf("store: evaluation document: %w", err)
	}
	jobID, err := view.JobID()
	if err != nil {
		return fmt.Errorf("store: evaluation document: %w", err)
	}
	createdAt, err := contracts.GetString(evaluation, "spec", "created_at")
	if err != nil {
		return fmt.Errorf("store: evaluation document: %w", err)
	}
	outcomeStatus, err := view.OutcomeStatus()
	if err != nil {
		return fmt.Errorf("store: evaluation document: %w", err)
	}
	nextJobState, err := view.NextJobState()
	if err != nil {
		return fmt.Errorf("store: evaluation document: %w", err)
	}
	actorType, _ := view.EvaluatorActorType()
	actorID, _ := view.EvaluatorActorID()
	raw, err := canonicalize.Document(evaluation)
	if err != nil {
		return fmt.Errorf("store: serialize evaluation: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO evaluations(
			evaluation_id, org_id, job_id, created_at,
			outcome_status, next_job_state, evaluator_actor_type, evaluator_actor_id, doc_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		evaluationID, orgID, jobID, createdAt, outcomeStatus, nextJobState, actorType, actorID, string(raw),
	)
	if isUniqueViolation(err) {
		return fault.Conflict("Evaluation already exists: %s", evaluationID)
	}
	if err != nil {
		return fmt.Errorf("store: insert evaluation: %w", err)
	}
	return nil
}

func (s *SQLiteEvaluationStore) Get(ctx context.Context, evaluationID string) (contracts.Document, error) {
	var docJSON string
	err := s.db.QueryRowContext(ctx, `SELECT doc_json FROM evaluations WHERE evaluation_id = ?`, evaluationID).Scan(&docJSON)
	if err == sql.ErrNoRows {
		return nil, fault.NotFound("Evaluation", evaluationID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get evaluation: %w", err)
	}
	return decodeDocument(docJSON)
}

func (s *SQLiteEvaluationStore) ListForJob(ctx context.Context, jobID string) ([]contracts.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_json FROM evaluations WHERE job_id = ? ORDER BY created_at ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("store: list evaluations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var docs []contracts.Document
	for rows.Next() {
		var docJSON string
		if err := rows.Scan(&docJSON); err != nil {
			return nil, fmt.Errorf("store: list evaluations: %w", err)
		}
		doc, err := decodeDocument(docJSON)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list evaluations: %w", err)
	}
	return docs, nil
}
