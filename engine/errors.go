/*
errors.go - Centralized error types for the reward engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Callers classify failures with errors.Is against the KIND sentinels;
  stores report facts with the STORAGE sentinels and the engine translates
  them into kinds.

ERROR KINDS:
  1. ErrInvalidArgument    - malformed id, quantity < 1, unknown enum value
  2. ErrNotFound           - event/reward/request does not exist
  3. ErrConflict           - duplicate live request for (user, event)
  4. ErrFailedPrecondition - condition unmet, wrong state, no rewards configured
  5. ErrTransient          - validator or storage timeout; safe to retry

  Only ErrTransient is retryable. Everything else needs a state change
  (or a different input) before the same call can succeed.

USAGE:
  req, err := svc.Create(ctx, userID, eventID)
  switch {
  case errors.Is(err, engine.ErrConflict):
      // already requested
  case engine.IsRetryable(err):
      // back off and retry
  }

SEE ALSO:
  - store.go: storage sentinels
  - request.go: translation from storage facts to kinds
*/
package engine

import (
	"context"
	"errors"
	"fmt"
)

// =============================================================================
// KIND SENTINELS - Use with errors.Is()
// =============================================================================

var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrFailedPrecondition = errors.New("failed precondition")
	ErrTransient          = errors.New("transient failure")
)

// =============================================================================
// STORAGE SENTINELS - Returned by Store implementations
// =============================================================================

var (
	// ErrRecordNotFound is returned when a lookup by id matches nothing.
	ErrRecordNotFound = errors.New("record not found")

	// ErrDuplicateLiveRequest is returned when inserting a request while a
	// PENDING, APPROVED or COMPLETED request exists for the same user and event.
	ErrDuplicateLiveRequest = errors.New("live request already exists for user and event")

	// ErrDuplicateIssuance is returned when a history entry for the same
	// (request, reward) pair already exists.
	ErrDuplicateIssuance = errors.New("reward already issued for request")

	// ErrStatusMismatch is returned by a compare-and-swap when the stored
	// status is not the expected one.
	ErrStatusMismatch = errors.New("request status changed concurrently")
)

// ErrUnsupportedCondition is the cause carried by Registry.Resolve failures
// for condition types without a registered strategy. Its kind is
// ErrFailedPrecondition: the event is configured with a tag nothing handles.
var ErrUnsupportedCondition = errors.New("unsupported condition type")

// =============================================================================
// STRUCTURED ERROR - Carries kind, operation and cause
// =============================================================================

// Error is the engine's structured error. It matches both its Kind and its
// wrapped cause under errors.Is.
type Error struct {
	Kind    error
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Kind != nil {
		msg = e.Kind.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func invalidArgument(op, format string, args ...any) error {
	return &Error{Kind: ErrInvalidArgument, Op: op, Message: fmt.Sprintf(format, args...)}
}

func notFound(op, format string, args ...any) error {
	return &Error{Kind: ErrNotFound, Op: op, Message: fmt.Sprintf(format, args...)}
}

func conflict(op, format string, args ...any) error {
	return &Error{Kind: ErrConflict, Op: op, Message: fmt.Sprintf(format, args...)}
}

func failedPrecondition(op, format string, args ...any) error {
	return &Error{Kind: ErrFailedPrecondition, Op: op, Message: fmt.Sprintf(format, args...)}
}

func transient(op string, err error) error {
	return &Error{Kind: ErrTransient, Op: op, Message: "temporarily unavailable", Err: err}
}

// storeError translates an unexpected storage failure. Errors that already
// carry a kind and caller cancellation pass through; anything else is
// transient.
func storeError(op string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return transient(op, err)
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsClientError returns true if the error is due to the caller's input or
// the current state of the addressed resource.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrFailedPrecondition)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// KindOf returns the kind sentinel carried by err, or nil for unclassified errors.
func KindOf(err error) error {
	for _, kind := range []error{ErrInvalidArgument, ErrNotFound, ErrConflict, ErrFailedPrecondition, ErrTransient} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
