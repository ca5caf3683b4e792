package models

import "fmt"

// ValidationError marks a bad submission. Never retried, HTTP 400.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Detail)
}

// NotFoundError marks an unknown job or group. HTTP 404.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.Key)
}

// ConflictError marks a submission that conflicts with current state.
// HTTP 409.
type ConflictError struct {
	Detail string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s", e.Detail)
}

// ServiceUnavailableReason distinguishes why mutations are refused.
type ServiceUnavailableReason string

const (
	ReasonRecovery ServiceUnavailableReason = "Recovery"
	ReasonReadOnly ServiceUnavailableReason = "ReadOnly"
	ReasonShutdown ServiceUnavailableReason = "Shutdown"
)

// ServiceUnavailableError marks a store that cannot accept mutations.
// HTTP 503.
type ServiceUnavailableError struct {
	Reason ServiceUnavailableReason
}

func (e *ServiceUnavailableError) Error() string {
	return fmt.Sprintf("service unavailable: %s", e.Reason)
}

// ExecutorErrorKind enumerates the failure modes the Executor reports.
type ExecutorErrorKind string

const (
	ExecutorSpawn         ExecutorErrorKind = "Spawn"
	ExecutorMissing       ExecutorErrorKind = "Missing"
	ExecutorAlreadyExists ExecutorErrorKind = "AlreadyExists"
)

// ExecutorError is reported by the Executor and logged; it causes the
// affected dispatch attempt to fail the job with reason SystemError.
type ExecutorError struct {
	Kind ExecutorErrorKind
	Name string
}

func (e *ExecutorError) Error() string {
	return fmt.Sprintf("executor error (%s): %s", e.Kind, e.Name)
}
