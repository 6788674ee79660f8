// Package fault defines the closed error taxonomy of the control plane.
//
// The core never recovers from its own taxonomy: the first applicable kind is
// surfaced and propagation stops. Composition layers map kinds to transport
// codes. Anything outside the taxonomy is Internal.
package fault

import (
	"errors"
	"fmt"
	"net/http"
)

// Violation is a single schema failure: an RFC 6901 JSON Pointer plus the
// validator's message.
type Violation struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// SchemaValidationError reports that a document failed schema checks. It
// carries the complete violation list, sorted ascending by (path, message).
type SchemaValidationError struct {
	Kind       string
	Violations []Violation
}

func (e *SchemaValidationError) Error() string {
	return fmt.Sprintf("%s failed schema validation (%d violation(s))", e.Kind, len(e.Violations))
}

// ContractViolationError reports a document that passed the schema but
// violates a structural invariant the schema cannot express.
type ContractViolationError struct {
	Code    string
	Message string
}

func (e *ContractViolationError) Error() string { return e.Message }

// ContractViolation builds a ContractViolationError with a stable code.
func ContractViolation(code, format string, args ...any) error {
	return &ContractViolationError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// PolicyViolationError reports that org or global limits forbid the action.
type PolicyViolationError struct {
	Message string
}

func (e *PolicyViolationError) Error() string { return e.Message }

// PolicyViolation builds a PolicyViolationError.
func PolicyViolation(format string, args ...any) error {
	return &PolicyViolationError{Message: fmt.Sprintf(format, args...)}
}

// ConflictError reports that a lifecycle invariant or uniqueness constraint
// prevents the action.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// Conflict builds a ConflictError.
func Conflict(format string, args ...any) error {
	return &ConflictError{Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports that an identified resource does not exist.
type NotFoundError struct {
	ResourceType string
	ResourceID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.ResourceType, e.ResourceID)
}

// NotFound builds a NotFoundError.
func NotFound(resourceType, resourceID string) error {
	return &NotFoundError{ResourceType: resourceType, ResourceID: resourceID}
}

// Kind predicates for callers that branch on taxonomy membership.

func IsSchemaValidation(err error) bool {
	var e *SchemaValidationError
	return errors.As(err, &e)
}

func IsContractViolation(err error) bool {
	var e *ContractViolationError
	return errors.As(err, &e)
}

func IsPolicyViolation(err error) bool {
	var e *PolicyViolationError
	return errors.As(err, &e)
}

func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// HTTPStatus maps a taxonomy kind to its transport code. Errors outside the
// taxonomy are internal.
func HTTPStatus(err error) int {
	switch {
	case IsSchemaValidation(err):
		return http.StatusUnprocessableEntity
	case IsContractViolation(err):
		return http.StatusBadRequest
	case IsPolicyViolation(err):
		return http.StatusForbidden
	case IsConflict(err):
		return http.StatusConflict
	case IsNotFound(err):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
