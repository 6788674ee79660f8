// Package engine orchestrates job admission and lifecycle progression.
//
// The engine validates documents against canonical schemas, enforces global
// hard limits and org policy boundaries, applies lifecycle transitions, and
// records audit events. It does not execute agents or skills: in build mode
// execution requests settle deterministically into waiting with an audit
// event explaining the deferral.
package engine

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/Mindburn-Labs/foundry/pkg/config"
	"github.com/Mindburn-Labs/foundry/pkg/contracts"
	"github.com/Mindburn-Labs/foundry/pkg/fault"
	"github.com/Mindburn-Labs/foundry/pkg/lifecycle"
	"github.com/Mindburn-Labs/foundry/pkg/policy"
	"github.com/Mindburn-Labs/foundry/pkg/registry"
	"github.com/Mindburn-Labs/foundry/pkg/store"
)

// Validator validates a document of a canonical kind.
type Validator interface {
	Validate(kind string, doc contracts.Document) error
}

// Clock supplies the current time. Injectable for tests.
type Clock func() time.Time

// Engine is the job admission and execution-request engine.
type Engine struct {
	schemas   Validator
	registry  *registry.Snapshot
	jobs      store.JobStore
	artifacts store.ArtifactStore
	limits    config.Limits

	// executionDeferred keeps build mode from running agents: a started job
	// immediately settles into waiting.
	executionDeferred bool

	clock  Clock
	logger *slog.Logger
	tracer trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the engine's time source.
func WithClock(clock Clock) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithLogger overrides the engine's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithExecutionDeferred toggles build-mode execution deferral.
func WithExecutionDeferred(deferred bool) Option {
	return func(e *Engine) { e.executionDeferred = deferred }
}

// New builds an Engine. Execution is deferred by default.
func New(schemas Validator, reg *registry.Snapshot, jobs store.JobStore, artifacts store.ArtifactStore, limits config.Limits, opts ...Option) *Engine {
	e := &Engine{
		schemas:           schemas,
		registry:          reg,
		jobs:              jobs,
		artifacts:         artifacts,
		limits:            limits,
		executionDeferred: true,
		clock:             time.Now,
		logger:            slog.Default(),
		tracer:            otel.Tracer("foundry/engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SubmitJob admits a new JobContract: schema, submission shape, global
// limits, org policy projection, then durable create plus a job_submitted
// event.
func (e *Engine) SubmitJob(ctx context.Context, job contracts.Document) (contracts.Document, error) {
	ctx, span := e.tracer.Start(ctx, "engine.SubmitJob")
	defer span.End()

	now := e.clock()
	if err := e.schemas.Validate(contracts.KindJobContract, job); err != nil {
		return nil, err
	}
	if err := policy.CheckSubmissionShape(job); err != nil {
		return nil, err
	}
	if err := policy.CheckGlobalLimits(job, e.limits, now); err != nil {
		return nil, err
	}

	orgID, err := contracts.Job(job).OrgID()
	if err != nil {
		return nil, fault.PolicyViolation("%v", err)
	}
	if e.limits.RequireKnownOrg && !e.registry.HasOrg(orgID) {
		return nil, fault.PolicyViolation("Unknown org_id (registry.require_known_org=true): %s", orgID)
	}
	if e.registry.HasOrg(orgID) {
		org, err := e.registry.Org(orgID)
		if err != nil {
			return nil, err
		}
		if err := policy.CheckJobWithinOrgPolicy(job, org.Document); err != nil {
			return nil, err
		}
	}

	if err := e.jobs.Create(ctx, job); err != nil {
		return nil, err
	}
	jobID, _ := contracts.Job(job).JobID()
	span.SetAttributes(attribute.String("job_id", jobID), attribute.String("org_id", orgID))
	e.recordEvent(ctx, orgID, jobID, store.EventJobSubmitted, map[string]any{"state": contracts.StateCreated})
	e.logger.InfoContext(ctx, "job submitted", "job_id", jobID, "org_id", orgID)
	return job, nil
}

// GetJob fetches a JobContract by id.
func (e *Engine) GetJob(ctx context.Context, jobID string) (contracts.Document, error) {
	return e.jobs.Get(ctx, jobID)
}

// RunJob requests execution of a created or waiting job. Expiry is enforced
// lazily here: a past-due job is transitioned to expired instead of run.
func (e *Engine) RunJob(ctx context.Context, jobID string) (contracts.Document, error) {
	ctx, span := e.tracer.Start(ctx, "engine.RunJob", trace.WithAttributes(attribute.String("job_id", jobID)))
	defer span.End()

	job, err := e.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	now := e.clock()

	orgID, err := contracts.Job(job).OrgID()
	if err != nil {
		return nil, fault.PolicyViolation("%v", err)
	}

	if expired, ok, err := e.expireIfPastDue(ctx, job, orgID, jobID, now); err != nil {
		return nil, err
	} else if ok {
		return expired, nil
	}

	state, err := contracts.Job(job).State()
	if err != nil {
		return nil, fault.PolicyViolation("%v", err)
	}
	if state != contracts.StateCreated && state != contracts.StateWaiting {
		return nil, fault.Conflict("Job must be in created|waiting to run (current=%s)", state)
	}

	if e.registry.HasOrg(orgID) {
		org, err := e.registry.Org(orgID)
		if err != nil {
			return nil, err
		}
		counters, err := e.runCounters(ctx, orgID, now)
		if err != nil {
			return nil, err
		}
		if err := policy.CheckRunGate(state, org.Document, counters); err != nil {
			return nil, err
		}
	}

	running, err := lifecycle.ApplyTransition(job, lifecycle.TransitionRequest{NewState: contracts.StateRunning, Now: now})
	if err != nil {
		return nil, err
	}
	if err := e.schemas.Validate(contracts.KindJobContract, running); err != nil {
		return nil, err
	}
	if err := e.jobs.Update(ctx, running); err != nil {
		return nil, err
	}
	e.recordEvent(ctx, orgID, jobID, store.EventJobStarted, map[string]any{"previous_state": state})
	e.logger.InfoContext(ctx, "job started", "job_id", jobID, "org_id", orgID, "previous_state", state)

	if !e.executionDeferred {
		// Future: hand off to the scheduler here.
		return running, nil
	}

	waiting, err := lifecycle.ApplyTransition(running, lifecycle.TransitionRequest{NewState: contracts.StateWaiting, Now: e.clock()})
	if err != nil {
		return nil, err
	}
	if err := e.schemas.Validate(contracts.KindJobContract, waiting); err != nil {
		return nil, err
	}
	if err := e.jobs.Update(ctx, waiting); err != nil {
		return nil, err
	}
	e.recordEvent(ctx, orgID, jobID, store.EventExecutionDeferred, map[string]any{
		"reason":     "agent_execution_not_implemented",
		"build_mode": true,
	})
	e.logger.InfoContext(ctx, "execution deferred", "job_id", jobID, "org_id", orgID)
	return waiting, nil
}

// StopJob halts a running job back to waiting. Stopping a waiting job is a
// no-op; stopping a terminal or created job is a conflict.
func (e *Engine) StopJob(ctx context.Context, jobID string) (contracts.Document, error) {
	ctx, span := e.tracer.Start(ctx, "engine.StopJob", trace.WithAttributes(attribute.String("job_id", jobID)))
	defer span.End()

	job, err := e.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	now := e.clock()
	orgID, err := contracts.Job(job).OrgID()
	if err != nil {
		return nil, fault.PolicyViolation("%v", err)
	}
	state, err := contracts.Job(job).State()
	if err != nil {
		return nil, fault.PolicyViolation("%v", err)
	}

	if contracts.IsTerminalState(state) {
		return nil, fault.Conflict("Cannot stop a terminal job (state=%s)", state)
	}
	if state == contracts.StateWaiting {
		return job, nil
	}
	if state != contracts.StateRunning {
		return nil, fault.Conflict("Job must be running to stop (current=%s)", state)
	}

	waiting, err := lifecycle.ApplyTransition(job, lifecycle.TransitionRequest{
		NewState:          contracts.StateWaiting,
		Now:               now,
		LastStopCondition: "manual_stop",
	})
	if err != nil {
		return nil, err
	}
	if err := e.schemas.Validate(contracts.KindJobContract, waiting); err != nil {
		return nil, err
	}
	if err := e.jobs.Update(ctx, waiting); err != nil {
		return nil, err
	}
	e.recordEvent(ctx, orgID, jobID, store.EventJobStopped, map[string]any{"to_state": contracts.StateWaiting})
	e.logger.InfoContext(ctx, "job stopped", "job_id", jobID, "org_id", orgID)
	return waiting, nil
}

// SubmitArtifact admits an append-only Artifact for a non-terminal job.
func (e *Engine) SubmitArtifact(ctx context.Context, artifact contracts.Document) (contracts.Document, error) {
	ctx, span := e.tracer.Start(ctx, "engine.SubmitArtifact")
	defer span.End()

	if err := e.schemas.Validate(contracts.KindArtifact, artifact); err != nil {
		return nil, err
	}
	jobID, err := contracts.Artifact(artifact).JobID()
	if err != nil {
		return nil, fault.PolicyViolation("%v", err)
	}
	job, err := e.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if err := policy.CheckArtifactAdmission(artifact, job, e.registry); err != nil {
		return nil, err
	}
	if err := e.artifacts.Append(ctx, artifact); err != nil {
		return nil, err
	}

	artifactID, _ := contracts.Artifact(artifact).ArtifactID()
	orgID, _ := contracts.Artifact(artifact).OrgID()
	span.SetAttributes(attribute.String("artifact_id", artifactID), attribute.String("job_id", jobID))
	e.recordEvent(ctx, orgID, jobID, store.EventArtifactSubmitted, map[string]any{"artifact_id": artifactID})
	e.logger.InfoContext(ctx, "artifact submitted", "artifact_id", artifactID, "job_id", jobID, "org_id", orgID)
	return artifact, nil
}

// GetArtifact fetches an Artifact by id.
func (e *Engine) GetArtifact(ctx context.Context, artifactID string) (contracts.Document, error) {
	return e.artifacts.Get(ctx, artifactID)
}

// expireIfPastDue applies the lazy expiry rule. The bool result reports
// whether the job was expired.
func (e *Engine) expireIfPastDue(ctx context.Context, job contracts.Document, orgID, jobID string, now time.Time) (contracts.Document, bool, error) {
	state, err := contracts.Job(job).State()
	if err != nil {
		return nil, false, fault.PolicyViolation("%v", err)
	}
	if contracts.IsTerminalState(state) {
		return nil, false, nil
	}
	expiresAt, err := contracts.Job(job).ExpiresAt()
	if err != nil {
		return nil, false, fault.PolicyViolation("%v", err)
	}
	if expiresAt.After(now) {
		return nil, false, nil
	}
	expired, err := lifecycle.ApplyTransition(job, lifecycle.TransitionRequest{
		NewState:     contracts.StateExpired,
		Now:          now,
		ExpiryReason: "expires_at_reached",
	})
	if err != nil {
		return nil, false, err
	}
	if err := e.schemas.Validate(contracts.KindJobContract, expired); err != nil {
		return nil, false, err
	}
	if err := e.jobs.Update(ctx, expired); err != nil {
		return nil, false, err
	}
	e.recordEvent(ctx, orgID, jobID, store.EventJobExpired, map[string]any{"reason": "expires_at_reached"})
	e.logger.InfoContext(ctx, "job expired", "job_id", jobID, "org_id", orgID)
	return expired, true, nil
}

func (e *Engine) runCounters(ctx context.Context, orgID string, now time.Time) (policy.RunCounters, error) {
	active, err := e.jobs.CountActiveByOrg(ctx, orgID)
	if err != nil {
		return policy.RunCounters{}, err
	}
	starts, err := e.jobs.CountEventsSince(ctx, orgID, store.EventJobStarted, now.Add(-60*time.Second))
	if err != nil {
		return policy.RunCounters{}, err
	}
	return policy.RunCounters{ActiveJobs: active, StartsLastMinute: starts}, nil
}

// recordEvent is best effort: a failed audit write is logged, never fatal to
// the operation that already committed.
func (e *Engine) recordEvent(ctx context.Context, orgID, jobID, eventType string, details map[string]any) {
	ev := store.Event{
		OrgID:     orgID,
		JobID:     jobID,
		Type:      eventType,
		Details:   details,
		Timestamp: e.clock(),
	}
	if err := e.jobs.RecordEvent(ctx, ev); err != nil {
		e.logger.ErrorContext(ctx, "audit event write failed", "event_type", eventType, "job_id", jobID, "error", err)
	}
}
