// Package apperr defines the error taxonomy shared by the ledger engine.
// Callers classify failures with errors.Is against the sentinels below;
// shortfall failures additionally carry the amounts for client display.
package apperr

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrValidation rejects bad input before any mutation.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is a validation failure caused by an unknown id.
	ErrNotFound = fmt.Errorf("%w: not found", ErrValidation)

	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInsufficientStock   = errors.New("insufficient company stock")
	ErrInsufficientFunds   = errors.New("insufficient reserve funds")

	// ErrExpiredLock means the price lock is unknown or past its expiry.
	// The client must lock again and retry.
	ErrExpiredLock = errors.New("price lock expired or unknown")

	// ErrAlreadyProcessed guards settled requests against a second decision.
	ErrAlreadyProcessed = errors.New("request already processed")

	// ErrInternalConsistency aborts a unit whose in-transaction re-check
	// disagreed with the pre-check. Nothing was applied; safe to retry.
	ErrInternalConsistency = errors.New("internal consistency failure")

	ErrMembershipInactive = errors.New("membership inactive")
	ErrUnauthorized       = errors.New("actor not authorized")
	ErrClosingInProgress  = errors.New("closing run already in progress")
)

// ShortfallError reports how far a balance falls short of a requirement.
type ShortfallError struct {
	Kind      error
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *ShortfallError) Error() string {
	return fmt.Sprintf("%v: required %s, available %s, shortfall %s",
		e.Kind, e.Required.StringFixed(2), e.Available.StringFixed(2), e.Shortfall().StringFixed(2))
}

func (e *ShortfallError) Unwrap() error { return e.Kind }

// Shortfall is Required - Available.
func (e *ShortfallError) Shortfall() decimal.Decimal {
	return e.Required.Sub(e.Available)
}

// Shortfall builds a ShortfallError of the given kind.
func Shortfall(kind error, required, available decimal.Decimal) error {
	return &ShortfallError{Kind: kind, Required: required, Available: available}
}

// Invalid wraps ErrValidation with a formatted reason.
func Invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound wraps ErrNotFound with the kind and id of the missing object.
func NotFound(kind, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
}

// Inconsistent wraps ErrInternalConsistency with a formatted reason.
func Inconsistent(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInternalConsistency, fmt.Sprintf(format, args...))
}

// IsRetryable reports whether the caller may retry the same request as-is.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrInternalConsistency)
}
