package worker

import (
	"context"
	"errors"
)

// Task type constants - these must match the JobHandler.Type() values
const (
	JobTypePeriodRollover   = "period_rollover"
	JobTypeAlertSweep       = "alert_sweep"
	JobTypeSnapshotFlush    = "snapshot_flush"
	JobTypeSubscriptionSync = "subscription_sync"
)

// JobHandler defines the interface that all periodic task handlers must implement.
type JobHandler interface {
	// Type returns the task type identifier. It labels logs and metrics and
	// must be unique within a worker.
	Type() string

	// Handle executes one run of the task.
	// Returns an error if the run fails. Use NewPermanentError to skip the
	// remaining attempts of this run.
	Handle(ctx context.Context) error
}

// PermanentError wraps an error to indicate it should not be retried.
// A run that fails with a PermanentError is recorded as failed immediately
// instead of being attempted again.
type PermanentError struct {
	Err error
}

// Error implements the error interface.
func (e *PermanentError) Error() string {
	return e.Err.Error()
}

// Unwrap allows errors.Is and errors.As to work with PermanentError.
func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError creates a new PermanentError that wraps the given error.
// Use this to indicate that a run should not be retried.
func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent checks if an error is a PermanentError.
// Returns true if the error (or any error it wraps) is a PermanentError.
func IsPermanent(err error) bool {
	var permErr *PermanentError
	return errors.As(err, &permErr)
}
