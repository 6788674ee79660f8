// Package lifecycle implements the job state machine.
//
// Canonical lifecycle: created -> running -> waiting -> completed | failed |
// expired. Expiry is system-enforced and reachable from any non-terminal
// state. ApplyTransition is pure: it returns a deep copy with only
// spec.status changed and never touches storage.
package lifecycle

import (
	"time"

	"github.com/Mindburn-Labs/foundry/pkg/contracts"
	"github.com/Mindburn-Labs/foundry/pkg/fault"
)

// allowed enumerates non-expiry transitions per source state.
var allowed = map[string]map[string]bool{
	contracts.StateCreated: {
		contracts.StateRunning:   true,
		contracts.StateWaiting:   true,
		contracts.StateCompleted: true,
		contracts.StateFailed:    true,
	},
	contracts.StateRunning: {
		contracts.StateWaiting:   true,
		contracts.StateCompleted: true,
		contracts.StateFailed:    true,
	},
	contracts.StateWaiting: {
		contracts.StateRunning:   true,
		contracts.StateCompleted: true,
		contracts.StateFailed:    true,
	},
	contracts.StateCompleted: {},
	contracts.StateFailed:    {},
	contracts.StateExpired:   {},
}

// TransitionRequest describes a requested state change. Fields beyond
// NewState and Now are required only for specific target states.
type TransitionRequest struct {
	NewState           string
	Now                time.Time
	FinalEvaluationRef string
	FailureMode        string
	FailureDetails     string
	ExpiryReason       string
	LastStopCondition  string
}

// ApplyTransition returns a new JobContract document with an updated
// spec.status. Same-state transitions return the input unchanged. A terminal
// source is a conflict; a missing required field for the target state is a
// contract violation.
func ApplyTransition(job contracts.Document, req TransitionRequest) (contracts.Document, error) {
	currentState, err := contracts.Job(job).State()
	if err != nil {
		return nil, fault.ContractViolation("INVALID_JOB_STATUS", "invalid JobContract.spec.status shape: %v", err)
	}
	newState := req.NewState

	if newState == currentState {
		return job, nil
	}
	if contracts.IsTerminalState(currentState) {
		return nil, fault.Conflict("Job is terminal; cannot transition from %s to %s", currentState, newState)
	}
	if newState != contracts.StateExpired {
		targets, ok := allowed[currentState]
		if !ok || !targets[newState] {
			return nil, fault.Conflict("Invalid job state transition: %s -> %s", currentState, newState)
		}
	}

	updated := contracts.DeepCopy(job)
	status, err := contracts.Job(updated).Status()
	if err != nil {
		return nil, fault.ContractViolation("INVALID_JOB_STATUS", "invalid JobContract.spec.status shape: %v", err)
	}

	now := contracts.FormatTimestamp(req.Now)
	status["state"] = newState
	status["status_updated_at"] = now

	if newState == contracts.StateRunning {
		// started_at is set once; re-entering running keeps the first value.
		if _, ok := status["started_at"]; !ok {
			status["started_at"] = now
		}
	}

	if newState == contracts.StateCompleted || newState == contracts.StateFailed {
		if req.FinalEvaluationRef == "" {
			return nil, fault.ContractViolation("MISSING_FINAL_EVALUATION_REF",
				"final_evaluation_ref is required for completed/failed jobs")
		}
		status["final_evaluation_ref"] = req.FinalEvaluationRef
		status["terminal_at"] = now
	}

	if newState == contracts.StateFailed {
		if req.FailureMode == "" {
			return nil, fault.ContractViolation("MISSING_FAILURE_MODE", "failure_mode is required for failed jobs")
		}
		status["failure_mode"] = req.FailureMode
		if req.FailureDetails != "" {
			status["failure_details"] = req.FailureDetails
		}
	}

	if newState == contracts.StateExpired {
		if req.ExpiryReason == "" {
			return nil, fault.ContractViolation("MISSING_EXPIRY_REASON", "expiry_reason is required for expired jobs")
		}
		status["expiry_reason"] = req.ExpiryReason
		status["terminal_at"] = now
	}

	if req.LastStopCondition != "" {
		status["last_stop_condition"] = req.LastStopCondition
	}

	return updated, nil
}
