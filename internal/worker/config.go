package worker

import (
	"fmt"
	"time"
)

// Config holds the configuration for the background task worker.
type Config struct {
	// JobTimeout is the maximum time a single task run is allowed to take.
	// If a run exceeds this timeout, its context is canceled and the attempt
	// counts as failed.
	// Default: 5 minutes
	JobTimeout time.Duration

	// ShutdownTimeout is how long to wait for running tasks to complete during graceful shutdown.
	// After this timeout, the worker stops even if tasks are still running.
	// Default: 30 seconds
	ShutdownTimeout time.Duration

	// MaxAttempts is how many times a failing run is attempted before it is
	// recorded as failed. The task is scheduled again on its next tick either way.
	// Default: 3
	MaxAttempts int

	// RetryBackoff is the delay before the second attempt. It doubles for
	// each further attempt.
	// Default: 5 seconds
	RetryBackoff time.Duration
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		JobTimeout:      5 * time.Minute,
		ShutdownTimeout: 30 * time.Second,
		MaxAttempts:     3,
		RetryBackoff:    5 * time.Second,
	}
}

// Validate checks if the configuration is valid.
// Returns an error if any values are invalid.
func (c Config) Validate() error {
	if c.JobTimeout < 1*time.Second {
		return fmt.Errorf("job timeout must be at least 1 second, got %v", c.JobTimeout)
	}
	if c.ShutdownTimeout < 1*time.Second {
		return fmt.Errorf("shutdown timeout must be at least 1 second, got %v", c.ShutdownTimeout)
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be at least 1, got %d", c.MaxAttempts)
	}
	if c.MaxAttempts > 10 {
		return fmt.Errorf("max attempts too high (max 10), got %d", c.MaxAttempts)
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff must not be negative, got %v", c.RetryBackoff)
	}
	return nil
}
