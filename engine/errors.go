/*
errors.go - Centralized error types for the participation engine

PURPOSE:
  All error categories in one place for consistency and discoverability.
  Callers classify errors with errors.Is/errors.As or the predicate
  helpers below; the HTTP layer maps categories to status codes.

ERROR CATEGORIES:
  1. Unauthenticated - No actor identity on an operation that needs one
  2. Forbidden       - An eligibility rule said no; always carries a reason
  3. Conflict        - Duplicate join/leave/waitlist; an idempotency boundary
  4. NotFound        - Unknown event, user or transaction
  5. InvalidInput    - Malformed id or amount
  6. Busy            - A lock wait timed out; safe to retry
  7. Internal        - Storage failure; the workflow was rolled back

USAGE:
  if engine.IsForbidden(err) {
      reason := engine.ForbiddenReason(err) // verbatim rule reason
  }

SEE ALSO:
  - rules.go: Produces ForbiddenError with rule reasons
  - participation.go: Wraps storage failures as Internal
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrUnauthenticated is returned when an operation requires an actor
	// and none was supplied.
	ErrUnauthenticated = errors.New("not authenticated")

	// ErrForbidden is the category under every eligibility denial.
	// Always wrapped by ForbiddenError so the reason survives.
	ErrForbidden = errors.New("forbidden")

	// ErrConflict is returned on duplicate state transitions: attending an
	// event twice, leaving without attending, rejoining a waitlist.
	ErrConflict = errors.New("conflict")

	// ErrNotFound is returned when a referenced event, user or transaction
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned for malformed ids or amounts.
	ErrInvalidInput = errors.New("invalid input")

	// ErrBusy is returned when a storage lock wait timed out. The operation
	// made no changes and may be retried.
	ErrBusy = errors.New("storage busy")

	// ErrInternal is returned for storage failures. Workflows roll back
	// fully before surfacing it; nothing is left partially applied.
	ErrInternal = errors.New("internal error")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ForbiddenError carries the specific rule reason for an eligibility denial.
// The reason is surfaced verbatim to the caller for UI feedback.
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Reason)
}

func (e *ForbiddenError) Unwrap() error {
	return ErrForbidden
}

// NotFoundError identifies which entity was missing.
type NotFoundError struct {
	Kind string // "event", "user", "transaction", "tag"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// ConflictError describes a duplicate state transition.
type ConflictError struct {
	Op      string // "attend", "leave", "waitlist_join", ...
	EventID EventID
	UserID  UserID
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict: %s for user %s on event %s", e.Op, e.UserID, e.EventID)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrBusy)
}

// IsForbidden returns true if an eligibility rule denied the operation.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// IsConflict returns true for duplicate state transitions.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsClientError returns true if the error is the caller's fault rather
// than the engine's.
func IsClientError(err error) bool {
	return errors.Is(err, ErrUnauthenticated) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrInvalidInput)
}

// ForbiddenReason extracts the rule reason from a Forbidden error, or ""
// when err is not a denial.
func ForbiddenReason(err error) string {
	var fe *ForbiddenError
	if errors.As(err, &fe) {
		return fe.Reason
	}
	return ""
}

func forbidden(reason string) error {
	return &ForbiddenError{Reason: reason}
}

func notFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

func conflict(op string, eventID EventID, userID UserID) error {
	return &ConflictError{Op: op, EventID: eventID, UserID: userID}
}

// internal wraps an uncategorized storage failure. Errors already carrying
// a category (busy, conflict, not-found, ...) pass through untouched.
func internal(err error) error {
	if err == nil {
		return nil
	}
	if IsClientError(err) || errors.Is(err, ErrBusy) || errors.Is(err, ErrInternal) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrInternal, err)
}
