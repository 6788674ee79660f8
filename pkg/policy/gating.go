package policy

import (
	"github.com/Mindburn-Labs/foundry/pkg/contracts"
	"github.com/Mindburn-Labs/foundry/pkg/fault"
)

// RunCounters are the store-derived counts the run gate decides on. The
// counts are read best-effort before the gate; the gate itself is pure.
type RunCounters struct {
	// ActiveJobs is the number of the org's jobs currently in running or
	// waiting state.
	ActiveJobs int64
	// StartsLastMinute is the number of job_started events recorded for the
	// org in the inclusive 60-second window ending now.
	StartsLastMinute int64
}

// CheckRunGate enforces the org's concurrency and start-rate limits before a
// job may enter running. state is the job's current state (created or
// waiting); a waiting job already counts toward the active total, so it is
// admitted at the boundary where a created job is refused.
func CheckRunGate(state string, org contracts.Document, counters RunCounters) error {
	orgView := contracts.Org(org)

	maxActive, err := orgView.MaxActiveJobs()
	if err != nil {
		return fault.PolicyViolation("%v", err)
	}
	if maxActive <= 0 {
		return fault.PolicyViolation("Org execution is disabled (max_active_jobs=%d)", maxActive)
	}
	if state == contracts.StateCreated && counters.ActiveJobs >= maxActive {
		return fault.PolicyViolation("Org max_active_jobs limit reached")
	}
	if state == contracts.StateWaiting && counters.ActiveJobs > maxActive {
		return fault.PolicyViolation("Org max_active_jobs limit reached")
	}

	maxStarts, err := orgView.MaxJobStartsPerMinute()
	if err != nil {
		return fault.PolicyViolation("%v", err)
	}
	if maxStarts <= 0 {
		return fault.PolicyViolation("Org job starts are disabled (max_job_starts_per_minute=%d)", maxStarts)
	}
	if counters.StartsLastMinute >= maxStarts {
		return fault.PolicyViolation("Org rate limit exceeded (max_job_starts_per_minute)")
	}
	return nil
}
