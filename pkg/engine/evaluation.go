package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Mindburn-Labs/foundry/pkg/contracts"
	"github.com/Mindburn-Labs/foundry/pkg/fault"
	"github.com/Mindburn-Labs/foundry/pkg/lifecycle"
	"github.com/Mindburn-Labs/foundry/pkg/policy"
	"github.com/Mindburn-Labs/foundry/pkg/registry"
	"github.com/Mindburn-Labs/foundry/pkg/store"
)

// EvaluationResult pairs an accepted evaluation with the job it progressed.
type EvaluationResult struct {
	Evaluation contracts.Document
	Job        contracts.Document
}

// EvaluationService admits evaluations and applies the job transitions they
// decide.
type EvaluationService struct {
	schemas     Validator
	registry    *registry.Snapshot
	evaluations store.EvaluationStore
	jobs        store.JobStore

	clock  Clock
	logger *slog.Logger
	tracer trace.Tracer
}

// EvaluationOption configures an EvaluationService.
type EvaluationOption func(*EvaluationService)

// WithEvaluationClock overrides the service's time source.
func WithEvaluationClock(clock Clock) EvaluationOption {
	return func(s *EvaluationService) { s.clock = clock }
}

// WithEvaluationLogger overrides the service's logger.
func WithEvaluationLogger(logger *slog.Logger) EvaluationOption {
	return func(s *EvaluationService) { s.logger = logger }
}

// NewEvaluationService builds an EvaluationService.
func NewEvaluationService(schemas Validator, reg *registry.Snapshot, evaluations store.EvaluationStore, jobs store.JobStore, opts ...EvaluationOption) *EvaluationService {
	s := &EvaluationService{
		schemas:     schemas,
		registry:    reg,
		evaluations: evaluations,
		jobs:        jobs,
		clock:       time.Now,
		logger:      slog.Default(),
		tracer:      otel.Tracer("foundry/engine"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// evaluationRef is URI-reference compatible, relative to the runtime API
// surface.
func evaluationRef(evaluationID string) string {
	return fmt.Sprintf("evaluations/%s", evaluationID)
}

// Submit validates and persists an evaluation, then applies the job
// transition its outcome decides. The evaluation is appended before the job
// update so an accepted verdict is never lost to a failed transition write.
func (s *EvaluationService) Submit(ctx context.Context, evaluation contracts.Document) (EvaluationResult, error) {
	ctx, span := s.tracer.Start(ctx, "engine.SubmitEvaluation")
	defer span.End()

	now := s.clock()
	if err := s.schemas.Validate(contracts.KindEvaluation, evaluation); err != nil {
		return EvaluationResult{}, err
	}

	view := contracts.Evaluation(evaluation)
	evaluationID, err := view.EvaluationID()
	if err != nil {
		return EvaluationResult{}, fault.PolicyViolation("%v", err)
	}
	orgID, err := view.OrgID()
	if err != nil {
		return EvaluationResult{}, fault.PolicyViolation("%v", err)
	}
	jobID, err := view.JobID()
	if err != nil {
		return EvaluationResult{}, fault.PolicyViolation("%v", err)
	}
	span.SetAttributes(attribute.String("evaluation_id", evaluationID), attribute.String("job_id", jobID))

	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return EvaluationResult{}, err
	}

	if err := policy.CheckEvaluationAdmission(evaluation, job, s.registry); err != nil {
		return EvaluationResult{}, err
	}

	// Expiry is system-enforced; an admitted evaluation still can't revive a
	// past-due job.
	if err := s.expireIfPastDue(ctx, job, jobID, now); err != nil {
		return EvaluationResult{}, err
	}

	currentState, err := contracts.Job(job).State()
	if err != nil {
		return EvaluationResult{}, fault.PolicyViolation("%v", err)
	}
	desired, err := view.NextJobState()
	if err != nil {
		return EvaluationResult{}, fault.PolicyViolation("%v", err)
	}

	updated, err := s.applyOutcome(job, desired, evaluationID, now)
	if err != nil {
		return EvaluationResult{}, err
	}
	if err := s.schemas.Validate(contracts.KindJobContract, updated); err != nil {
		return EvaluationResult{}, err
	}

	if err := s.evaluations.Append(ctx, evaluation); err != nil {
		return EvaluationResult{}, err
	}
	s.recordEvent(ctx, orgID, jobID, store.EventEvaluationSubmitted, map[string]any{"evaluation_id": evaluationID})

	if err := s.jobs.Update(ctx, updated); err != nil {
		return EvaluationResult{}, err
	}
	s.recordEvent(ctx, orgID, jobID, store.EventJobStateChanged, map[string]any{"from": currentState, "to": desired})

	s.logger.InfoContext(ctx, "evaluation applied", "evaluation_id", evaluationID, "job_id", jobID, "from", currentState, "to", desired)
	return EvaluationResult{Evaluation: evaluation, Job: updated}, nil
}

// Get fetches an Evaluation by id.
func (s *EvaluationService) Get(ctx context.Context, evaluationID string) (contracts.Document, error) {
	return s.evaluations.Get(ctx, evaluationID)
}

func (s *EvaluationService) applyOutcome(job contracts.Document, desired, evaluationID string, now time.Time) (contracts.Document, error) {
	finalRef := evaluationRef(evaluationID)
	switch desired {
	case contracts.StateCompleted:
		return lifecycle.ApplyTransition(job, lifecycle.TransitionRequest{
			NewState:           contracts.StateCompleted,
			Now:                now,
			FinalEvaluationRef: finalRef,
			LastStopCondition:  "evaluation_passed",
		})
	case contracts.StateFailed:
		return lifecycle.ApplyTransition(job, lifecycle.TransitionRequest{
			NewState:           contracts.StateFailed,
			Now:                now,
			FinalEvaluationRef: finalRef,
			FailureMode:        "evaluation_failure",
			LastStopCondition:  "evaluation_failed",
		})
	case contracts.StateRunning, contracts.StateWaiting:
		return lifecycle.ApplyTransition(job, lifecycle.TransitionRequest{NewState: desired, Now: now})
	default:
		return nil, fault.PolicyViolation("Invalid evaluation next_job_state: %s", desired)
	}
}

// expireIfPastDue expires a past-due non-terminal job and refuses the
// evaluation with a conflict. The audit event is attributed to the job's own
// org.
func (s *EvaluationService) expireIfPastDue(ctx context.Context, job contracts.Document, jobID string, now time.Time) error {
	state, err := contracts.Job(job).State()
	if err != nil {
		return fault.PolicyViolation("%v", err)
	}
	if contracts.IsTerminalState(state) {
		return nil
	}
	expiresAt, err := contracts.Job(job).ExpiresAt()
	if err != nil {
		return fault.PolicyViolation("%v", err)
	}
	if expiresAt.After(now) {
		return nil
	}
	orgID, err := contracts.Job(job).OrgID()
	if err != nil {
		return fault.PolicyViolation("%v", err)
	}

	expired, err := lifecycle.ApplyTransition(job, lifecycle.TransitionRequest{
		NewState:     contracts.StateExpired,
		Now:          now,
		ExpiryReason: "expires_at_reached",
	})
	if err != nil {
		return err
	}
	if err := s.schemas.Validate(contracts.KindJobContract, expired); err != nil {
		return err
	}
	if err := s.jobs.Update(ctx, expired); err != nil {
		return err
	}
	s.recordEvent(ctx, orgID, jobID, store.EventJobExpired, map[string]any{"reason": "expires_at_reached"})
	return fault.Conflict("Job is expired; evaluation cannot be applied")
}

func (s *EvaluationService) recordEvent(ctx context.Context, orgID, jobID, eventType string, details map[string]any) {
	ev := store.Event{
		OrgID:     orgID,
		JobID:     jobID,
		Type:      eventType,
		Details:   details,
		Timestamp: s.clock(),
	}
	if err := s.jobs.RecordEvent(ctx, ev); err != nil {
		s.logger.ErrorContext(ctx, "audit event write failed", "event_type", eventType, "job_id", jobID, "error", err)
	}
}
