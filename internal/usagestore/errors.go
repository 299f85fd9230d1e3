package usagestore

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// =============================================================================
// Sentinel Errors
// =============================================================================

var (
	// ErrTenantNotFound is returned when the tenant has no usage record.
	ErrTenantNotFound = errors.New("tenant not provisioned")

	// ErrInvalidAmount is returned for increments below 1.
	ErrInvalidAmount = errors.New("amount must be at least 1")

	// ErrUnknownResource is returned for resources outside the tracked set.
	ErrUnknownResource = errors.New("unknown resource")
)

// =============================================================================
// Structured Error Type
// =============================================================================

// StoreError wraps store operation errors with the tenant involved.
type StoreError struct {
	// Op is the operation that failed (e.g., "Increment", "Reset").
	Op string

	// TenantID is the tenant involved in the operation.
	TenantID uuid.UUID

	// Err is the underlying error that occurred.
	Err error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.TenantID != uuid.Nil {
		return fmt.Sprintf("usagestore %s %s: %v", e.Op, e.TenantID, e.Err)
	}
	return fmt.Sprintf("usagestore %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for use with errors.Is() and errors.As().
func (e *StoreError) Unwrap() error {
	return e.Err
}

// =============================================================================
// Helper Functions
// =============================================================================

// IsTenantNotFound reports whether err indicates an unprovisioned tenant.
func IsTenantNotFound(err error) bool {
	return errors.Is(err, ErrTenantNotFound)
}

// IsInvalidInput reports whether err was caused by bad arguments rather
// than the backing store.
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidAmount) || errors.Is(err, ErrUnknownResource)
}
