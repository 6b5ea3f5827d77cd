package model

import "errors"

// Sentinel error kinds shared across packages. Callers match them with errors.Is.
var (
	// ErrValidation marks missing or invalid request fields.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound marks an unknown session, scenario or employee.
	ErrNotFound = errors.New("not found")
	// ErrEvaluationFailure means no oracle produced a usable score.
	ErrEvaluationFailure = errors.New("evaluation failed")
	// ErrPersistence wraps opaque store failures.
	ErrPersistence = errors.New("persistence failure")
	// ErrConflict means a concurrent writer won the race for the same row.
	ErrConflict = errors.New("conflict")
)
