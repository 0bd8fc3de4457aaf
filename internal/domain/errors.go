package domain

import (
	"errors"
	"fmt"
)

// Engine-level errors. Storage errors live in package storage.
var (
	// ErrJobNotFound is returned when a status or result is requested for an unknown id.
	ErrJobNotFound = errors.New("job not found")

	// ErrDiscoveryExhausted is returned when cutoff discovery exceeds its probe budget.
	ErrDiscoveryExhausted = errors.New("cutoff discovery exceeded probe budget")

	// ErrNoHistory is returned when a market has no history even one day back.
	ErrNoHistory = errors.New("market has no available history")

	// ErrInsufficientData is returned when robustness cannot be computed (zero trades).
	ErrInsufficientData = errors.New("insufficient data for robustness analysis")
)

// ValidationError reports caller-fixable input problems. Never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is or wraps a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// GatewayError reports a failed call to the remote execution gateway.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// NewGatewayError wraps err as a GatewayError for operation op.
func NewGatewayError(op string, err error) *GatewayError {
	return &GatewayError{Op: op, Err: err}
}

// IsGateway reports whether err is or wraps a GatewayError.
func IsGateway(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge)
}

// DiscoveryError aborts a cutoff discovery for one market.
type DiscoveryError struct {
	MarketTag string
	Probes    int
	Err       error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discover cutoff for %s after %d probes: %v", e.MarketTag, e.Probes, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}
