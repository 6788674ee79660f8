package api

import (
	"errors"

	"github.com/Mindburn-Labs/foundry/pkg/fault"
)

// errorPayload is the wire form of a taxonomy error. The "error" field is a
// stable machine-readable discriminator; the rest varies by kind.
func errorPayload(err error) map[string]any {
	var schemaErr *fault.SchemaValidationError
	if errors.As(err, &schemaErr) {
		violations := make([]map[string]string, 0, len(schemaErr.Violations))
		for _, v := range schemaErr.Violations {
			violations = append(violations, map[string]string{"path": v.Path, "message": v.Message})
		}
		return map[string]any{
			"error":      "SCHEMA_VALIDATION_ERROR",
			"kind":       schemaErr.Kind,
			"violations": violations,
		}
	}

	var contractErr *fault.ContractViolationError
	if errors.As(err, &contractErr) {
		return map[string]any{
			"error":   "CONTRACT_VIOLATION",
			"code":    contractErr.Code,
			"message": contractErr.Message,
		}
	}

	var policyErr *fault.PolicyViolationError
	if errors.As(err, &policyErr) {
		return map[string]any{"error": "POLICY_VIOLATION", "message": policyErr.Message}
	}

	var conflictErr *fault.ConflictError
	if errors.As(err, &conflictErr) {
		return map[string]any{"error": "CONFLICT", "message": conflictErr.Message}
	}

	var notFoundErr *fault.NotFoundError
	if errors.As(err, &notFoundErr) {
		return map[string]any{
			"error":         "NOT_FOUND",
			"resource_type": notFoundErr.ResourceType,
			"resource_id":   notFoundErr.ResourceID,
		}
	}

	return map[string]any{"error": "INTERNAL", "message": err.Error()}
}
