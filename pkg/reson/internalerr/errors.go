package internalerr

import "errors"

// Sentinel errors for common cases
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrStoreUnavailable = errors.New("store unavailable")
	ErrInvalidConfig    = errors.New("invalid configuration")
)

// Hard failures of the resolution pass. These indicate broken internal
// invariants, not empty branches, and must abort the pass.
var (
	// ErrNoUnifier signals that two queries classified as equivalent
	// admit no variable mapping between them.
	ErrNoUnifier = errors.New("no unifier between equivalent queries")

	// ErrGuardViolation signals an inconsistent in-flight query set,
	// e.g. ending resolution of a query that was never begun.
	ErrGuardViolation = errors.New("cycle guard violation")
)
