// Package errs holds the error taxonomy shared by every budgetstore package.
// Callers wrap these with fmt.Errorf("...: %w", ...) and match with errors.Is.
package errs

import "errors"

var (
	// ErrNotFound indicates an unknown budget, version, branch, session or item
	ErrNotFound = errors.New("not found")

	// ErrInvariantViolation indicates an operation would break a domain invariant
	// (margin floor, non-positive cost, illegal status transition)
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrInvalidArgument indicates malformed input
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrSessionConflict indicates a session owned by another seller
	ErrSessionConflict = errors.New("session conflict")

	// ErrNoCommonAncestor indicates two versions share no history
	ErrNoCommonAncestor = errors.New("no common ancestor")
)
