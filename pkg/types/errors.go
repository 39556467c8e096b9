package types

import (
	"errors"
	"fmt"
)

// ValidationError reports malformed input: empty or oversized names, empty
// action/resource sets, malformed condition trees.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// NewValidationError creates a ValidationError for a field
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// ConflictError reports a uniqueness violation: duplicate policy or role
// name, duplicate assignment.
type ConflictError struct {
	Entity  string
	Message string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %s", e.Entity, e.Message)
}

// NewConflictError creates a ConflictError for an entity
func NewConflictError(entity, message string) *ConflictError {
	return &ConflictError{Entity: entity, Message: message}
}

// NotFoundError reports an unknown policy, role, or assignment
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.Key)
}

// NewNotFoundError creates a NotFoundError for an entity and lookup key
func NewNotFoundError(entity, key string) *NotFoundError {
	return &NotFoundError{Entity: entity, Key: key}
}

// PreconditionFailedError reports a mutation blocked by referential state,
// such as deleting a role that still has live assignments.
type PreconditionFailedError struct {
	Message string
}

func (e *PreconditionFailedError) Error() string {
	return fmt.Sprintf("precondition failed: %s", e.Message)
}

// NewPreconditionFailedError creates a PreconditionFailedError
func NewPreconditionFailedError(message string) *PreconditionFailedError {
	return &PreconditionFailedError{Message: message}
}

// EvaluationError reports an internal fault during a decision. The engine
// maps these to a not_applicable decision; they never surface as allow.
type EvaluationError struct {
	Stage string
	Err   error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluation failed at %s: %v", e.Stage, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// NewEvaluationError wraps a fault encountered while computing a decision
func NewEvaluationError(stage string, err error) *EvaluationError {
	return &EvaluationError{Stage: stage, Err: err}
}

// IsValidation reports whether err is a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsConflict reports whether err is a ConflictError
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// IsNotFound reports whether err is a NotFoundError
func IsNotFound(err error) bool {
	var ne *NotFoundError
	return errors.As(err, &ne)
}

// IsPreconditionFailed reports whether err is a PreconditionFailedError
func IsPreconditionFailed(err error) bool {
	var pe *PreconditionFailedError
	return errors.As(err, &pe)
}
