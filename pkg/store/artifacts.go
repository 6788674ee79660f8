package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Mindburn-Labs/foundry/pkg/canonicalize"
	"github.com/Mindburn-Labs/foundry/pkg/contracts"
	"github.com/Mindburn-Labs/foundry/pkg/fault"
)

// ArtifactStore is the append-only persistence boundary for Artifact
// documents.
type ArtifactStore interface {
	Append(ctx context.Context, artifact contracts.Document) error
	Get(ctx context.Context, artifactID string) (contracts.Document, error)
	ListForJob(ctx context.Context, jobID string) ([]contracts.Document, error)
}

// SQLiteArtifactStore implements ArtifactStore on a SQLite database.
type SQLiteArtifactStore struct {
	db *sql.DB
}

func NewSQLiteArtifactStore(db *sql.DB) *SQLiteArtifactStore {
	return &SQLiteArtifactStore{db: db}
}

func (s *SQLiteArtifactStore) Append(ctx context.Context, artifact contracts.Document) error {
	view := contracts.Artifact(artifact)
	artifactID, err := view.ArtifactID()
	if err != nil {
		return fmt.Errorf("store: artifact document: %w", err)
	}
	orgID, err := view.OrgID()
	if err != nil {
		return fmt.Errorf("store: artifact document: %w", err)
	}
	jobID, err := view.JobID()
	if err != nil {
		return fmt.Errorf("store: artifact document: %w", err)
	}
	artifactType, err := view.ArtifactType()
	if err != nil {
		return fmt.Errorf("store: artifact document: %w", err)
	}
	createdAt, err := view.CreatedAt()
	if err != nil {
		return fmt.Errorf("store: artifact document: %w", err)
	}
	raw, err := canonicalize.Document(artifact)
	if err != nil {
		return fmt.Errorf("store: serialize artifact: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO artifacts(
			artifact_id, org_id, job_id, artifact_type, created_at, produced_by_agent_id, doc_json
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		artifactID, orgID, jobID, artifactType, createdAt, view.ProducedByAgentID(), string(raw),
	)
	if isUniqueViolation(err) {
		return fault.Conflict("Artifact already exists: %s", artifactID)
	}
	if err != nil {
		return fmt.Errorf("store: insert artifact: %w", err)
	}
	return nil
}

func (s *SQLiteArtifactStore) Get(ctx context.Context, artifactID string) (contracts.Document, error) {
	var docJSON string
	err := s.db.QueryRowContext(ctx, `SELECT doc_json FROM artifacts WHERE artifact_id = ?`, artifactID).Scan(&docJSON)
	if err == sql.ErrNoRows {
		return nil, fault.NotFound("Artifact", artifactID)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get artifact: %w", err)
	}
	return decodeDocument(docJSON)
}

func (s *SQLiteArtifactStore) ListForJob(ctx context.Context, jobID string) ([]contracts.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT doc_json FROM artifacts WHERE job_id = ? ORDER BY created_at ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("store: list artifacts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var docs []contracts.Document
	for rows.Next() {
		var docJSON string
		if err := rows.Scan(&docJSON); err != nil {
			return nil, fmt.Errorf("store: list artifacts: %w", err)
		}
		doc, err := decodeDocument(docJSON)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list artifacts: %w", err)
	}
	return docs, nil
}
