// Package policy is the admission decision engine: a collection of pure
// predicates that project organization manifests and global hard limits onto
// candidate jobs, artifacts, and evaluations.
//
// Predicates never mutate their inputs. They either return nil or the first
// applicable fault; the control plane does not recover from its own taxonomy.
package policy

import (
	"time"

	"github.com/Mindburn-Labs/foundry/pkg/config"
	"github.com/Mindburn-Labs/foundry/pkg/contracts"
	"github.com/Mindburn-Labs/foundry/pkg/fault"
)

// submission-forbidden status fields: a created job must not look started or
// finished.
var forbiddenAtSubmission = []string{
	"started_at",
	"terminal_at",
	"final_evaluation_ref",
	"failure_mode",
	"expiry_reason",
}

// CheckSubmissionShape enforces rules beyond the schema that prevent
// ambiguous or misleading created jobs.
func CheckSubmissionShape(job contracts.Document) error {
	status, err := contracts.Job(job).Status()
	if err != nil {
		return fault.PolicyViolation("%v", err)
	}
	if state, _ := status["state"].(string); state != contracts.StateCreated {
		return fault.PolicyViolation("JobContract.status.state must be %q at submission time", contracts.StateCreated)
	}
	for _, field := range forbiddenAtSubmission {
		if _, present := status[field]; present {
			return fault.PolicyViolation("JobContract.spec.status must not include %q when state=created", field)
		}
	}
	return nil
}

// CheckGlobalLimits enforces the global hard limits and basic timestamp
// sanity on a job submission.
func CheckGlobalLimits(job contracts.Document, limits config.Limits, now time.Time) error {
	view := contracts.Job(job)

	createdAt, err := view.CreatedAt()
	if err != nil {
		return fault.PolicyViolation("%v", err)
	}
	expiresAt, err := view.ExpiresAt()
	if err != nil {
		return fault.PolicyViolation("%v", err)
	}

	if !expiresAt.After(createdAt) {
		return fault.PolicyViolation("JobContract.spec.timestamps.expires_at must be after created_at")
	}
	if !expiresAt.After(now) {
		return fault.PolicyViolation("JobContract is already expired (expires_at is in the past)")
	}
	maxWindow := time.Duration(limits.MaxExpiresInSecondsUpper) * time.Second
	if expiresAt.Sub(createdAt) > maxWindow {
		return fault.PolicyViolation("JobContract expires_at exceeds global upper bound (%ds)", limits.MaxExpiresInSecondsUpper)
	}

	maxIterations, err := view.MaxIterations()
	if err != nil {
		return fault.PolicyViolation("%v", err)
	}
	if maxIterations > limits.MaxIterationsUpperBound {
		return fault.PolicyViolation("JobContract.max_iterations exceeds global upper bound (%d)", limits.MaxIterationsUpperBound)
	}

	maxRuntime, err := view.MaxRuntimeSeconds()
	if err != nil {
		return fault.PolicyViolation("%v", err)
	}
	if maxRuntime > limits.MaxRuntimeSecondsUpperBound {
		return fault.PolicyViolation("JobContract.max_runtime_seconds exceeds global upper bound (%d)", limits.MaxRuntimeSecondsUpperBound)
	}

	currency, err := view.CostCapCurrency()
	if err != nil {
		return fault.PolicyViolation("%v", err)
	}
	if currency != limits.MaxCostUpperBoundCurrency {
		return fault.PolicyViolation("JobContract.cost_cap.currency must be %s (got %s)", limits.MaxCostUpperBoundCurrency, currency)
	}

	maxCost, err := view.CostCapMaxCost()
	if err != nil {
		return fault.PolicyViolation("%v", err)
	}
	if maxCost > limits.MaxCostUpperBound {
		return fault.PolicyViolation("JobContract.cost_cap.max_cost exceeds global upper bound (%v)", limits.MaxCostUpperBound)
	}
	return nil
}
