package core

import "errors"

// Error kinds surfaced by the gateway. Callers classify with errors.Is; the
// wrapped message carries the detail.
var (
	// ErrValidation reports malformed input: command text, patterns, amounts.
	ErrValidation = errors.New("validation failed")
	// ErrQuotaExceeded reports a credit balance that cannot cover a charge.
	ErrQuotaExceeded = errors.New("insufficient credits")
	// ErrNotFound reports an unknown user, command or rule.
	ErrNotFound = errors.New("not found")
	// ErrStateConflict reports an operation on a command in the wrong state.
	ErrStateConflict = errors.New("state conflict")
	// ErrForbidden reports an actor without the required role.
	ErrForbidden = errors.New("forbidden")
	// ErrInternal reports a store fault. Details are logged, not returned.
	ErrInternal = errors.New("internal error")
)

// ErrUnauthorized reports a missing or unknown API key.
var ErrUnauthorized = errors.New("invalid or missing API key")
