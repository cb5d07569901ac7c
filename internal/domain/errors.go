package domain

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput is returned for missing or invalid arguments.
	ErrInvalidInput = errors.New("invalid input")

	// ErrMalformedSourceRecord means a source record cannot be normalized.
	// Permanent: the record stays unevaluated until the source is fixed.
	ErrMalformedSourceRecord = errors.New("malformed source record")

	// ErrContractViolation means the evaluation service rejected the request
	// or answered with a response that does not match the verdict schema.
	// Permanent: retrying will not help.
	ErrContractViolation = errors.New("evaluation contract violation")

	// ErrTransientGateway covers network failures, timeouts and 5xx answers.
	// Retryable with backoff.
	ErrTransientGateway = errors.New("transient gateway failure")

	// ErrDuplicateAlert means an alert with the same business key exists.
	// Callers treat it as success.
	ErrDuplicateAlert = errors.New("duplicate alert")

	// ErrActionApplication wraps a failure applying a single verdict action.
	ErrActionApplication = errors.New("action application failed")

	// ErrPartialBatch reports that some batch members were skipped.
	ErrPartialBatch = errors.New("partial batch failure")

	// ErrInvalidTransition is returned for disallowed alert status changes.
	ErrInvalidTransition = errors.New("invalid alert transition")

	// ErrBusFull means a subscriber could not take a published message.
	// Retryable once the subscriber catches up.
	ErrBusFull = errors.New("event bus subscriber buffer full")
)

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrTransientGateway) ||
		errors.Is(err, ErrBusFull) ||
		errors.Is(err, context.DeadlineExceeded)
}
