package domain

import "errors"

var (
	// ErrNotFound signals a missing template, trigger, job, or message set.
	ErrNotFound = errors.New("not found")
	// ErrValidation signals malformed input rejected before any side effect.
	ErrValidation = errors.New("validation error")
	// ErrInvalidPayload signals a trigger payload missing variables required by a step.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrHandlerNotFound signals an unregistered (channel, provider) combination.
	// This is a configuration defect and is never retried.
	ErrHandlerNotFound = errors.New("handler not found")
	// ErrConflict signals a state transition rejected by the current record state.
	ErrConflict = errors.New("conflict")
)
