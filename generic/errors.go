/*
errors.go - Centralized error types for the points engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every error the engine returns unwraps to exactly one KIND sentinel,
  which is what the transport layer maps to a status code.

ERROR KINDS:
  ErrInvalidPayload  malformed, missing or out-of-range input   (400)
  ErrForbidden       role lacks permission                      (403)
  ErrNotFound        account / transaction / promotion absent   (404)
  ErrConflict        lost a race or retries exhausted           (409)

USAGE:
  if errors.Is(err, generic.ErrPromotionAlreadyUsed) { ... }   // specific
  if errors.Is(err, generic.ErrInvalidPayload) { ... }         // kind

SEE ALSO:
  - api/errors.go: Kind to HTTP status mapping
  - ledger.go: Retries ErrConcurrentModification
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// KIND SENTINELS - Use with errors.Is()
// =============================================================================

var (
	ErrInvalidPayload = errors.New("invalid payload")
	ErrForbidden      = errors.New("not permitted")
	ErrNotFound       = errors.New("not found")
	ErrConflict       = errors.New("conflict")
)

// kindError is a specific error that classifies as one of the kinds above.
type kindError struct {
	msg  string
	kind error
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

func newKindError(kind error, msg string) error {
	return &kindError{msg: msg, kind: kind}
}

// =============================================================================
// SPECIFIC ERRORS
// =============================================================================

var (
	ErrAccountNotFound            = newKindError(ErrNotFound, "account not found")
	ErrAccountExists              = newKindError(ErrConflict, "utorid already exists")
	ErrTransactionNotFound        = newKindError(ErrNotFound, "transaction not found")
	ErrRelatedTransactionNotFound = newKindError(ErrInvalidPayload, "related transaction not found")
	ErrInvalidType                = newKindError(ErrInvalidPayload, "invalid type")
	ErrPointsOutOfRange           = newKindError(ErrInvalidPayload, "points out of range")
	ErrBalanceOutOfRange          = newKindError(ErrConflict, "balance would exceed the supported range")

	ErrPromotionNotFound    = newKindError(ErrInvalidPayload, "promotion not found")
	ErrPromotionNotActive   = newKindError(ErrInvalidPayload, "promotion not active")
	ErrMinimumSpendNotMet   = newKindError(ErrInvalidPayload, "minimum spend not met")
	ErrPromotionAlreadyUsed = newKindError(ErrInvalidPayload, "promotion already used")

	// ErrConcurrentModification is returned by stores when an optimistic or
	// serializable transaction lost a race. The ledger retries it.
	ErrConcurrentModification = newKindError(ErrConflict, "concurrent modification detected")

	// ErrRetriesExhausted is returned when a retried unit kept conflicting.
	ErrRetriesExhausted = newKindError(ErrConflict, "too many concurrent updates, try again")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// PromotionError reports which requested promotion failed evaluation.
type PromotionError struct {
	PromotionID int64
	Reason      error
}

func (e *PromotionError) Error() string {
	return fmt.Sprintf("promotion %d: %v", e.PromotionID, e.Reason)
}

func (e *PromotionError) Unwrap() error { return e.Reason }

// ValidationError reports a single invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidPayload }

func invalid(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsClientError returns true if the error is due to caller input or permissions.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidPayload) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
