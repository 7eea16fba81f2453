/*
errors.go - Centralized error types for the ledger engine

PURPOSE:
  All sentinel errors in one place. Domain packages wrap these with
  additional context; HTTP handlers map them to response codes with
  errors.Is.

ERROR CATEGORIES:
  1. Idempotency - duplicate RefKey (expected on retries, not a failure)
  2. Resolution - member/order lookups that found nothing
  3. Validation - malformed or mutually-exclusive parameters
  4. Persistence - the underlying insert failed
*/
package ledger

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrDuplicateRefKey is returned when an entry with the same idempotency
	// key already exists. Expected behavior for retries and double-submits;
	// callers report it as a successful no-op.
	ErrDuplicateRefKey = errors.New("duplicate ref key")

	// ErrMemberNotFound is returned when resolution tried every lookup key
	// and found no member.
	ErrMemberNotFound = errors.New("member not found")

	// ErrOrderNotFound is returned when an order resolves by neither its
	// order number nor its internal id.
	ErrOrderNotFound = errors.New("order not found")

	// ErrInvalidParams is returned for missing required fields or when
	// mutually-exclusive fields are both (or neither) supplied.
	ErrInvalidParams = errors.New("invalid params")

	// ErrLedgerWriteFailed is returned when the underlying insert failed for
	// a reason other than a duplicate key (connectivity, constraint).
	ErrLedgerWriteFailed = errors.New("ledger write failed")

	// ErrBonusDisabled is returned when the review bonus is claimed while
	// the configured bonus amount is not positive.
	ErrBonusDisabled = errors.New("review bonus disabled")

	// ErrMissingConfig is returned when required backend configuration is
	// absent at startup.
	ErrMissingConfig = errors.New("missing configuration")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// WriteError carries the entry that could not be persisted.
type WriteError struct {
	RefKey string
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("ledger write failed for ref key %q: %v", e.RefKey, e.Err)
}

// Unwrap exposes both the sentinel and the underlying store error, so
// errors.Is matches ErrLedgerWriteFailed as well as the original cause.
func (e *WriteError) Unwrap() []error { return []error{ErrLedgerWriteFailed, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidParams) ||
		errors.Is(err, ErrDuplicateRefKey)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrMemberNotFound) ||
		errors.Is(err, ErrOrderNotFound)
}
