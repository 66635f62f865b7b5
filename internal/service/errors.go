package service

import "errors"

// Caller-facing outcomes. These are expected results of normal
// operation, not failures; handlers translate them to responses and
// never retry them automatically.
var (
	// ErrInvalidHandle means the handle normalized to an empty string.
	ErrInvalidHandle = errors.New("invalid handle")

	// ErrDeviceMismatch means the caller's device secret does not match
	// the one stored at application creation. No application data is
	// returned alongside it.
	ErrDeviceMismatch = errors.New("device mismatch")

	// ErrAlreadyTerminal means the application has left pending and can
	// no longer transition.
	ErrAlreadyTerminal = errors.New("application already decided")

	// ErrNoCodesAvailable means the event's unassigned pool is empty.
	// The application stays pending; staff generate more codes.
	ErrNoCodesAvailable = errors.New("no codes available")

	// ErrNotFound means the referenced row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrGenerationExhausted means collision retries ran out before the
	// requested batch was complete. No codes were created.
	ErrGenerationExhausted = errors.New("code generation exhausted retries")
)
