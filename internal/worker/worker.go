package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DukeRupert/wrenchly/internal/metrics"
)

// Worker runs registered tasks on fixed intervals. Each task has its own
// goroutine, so a slow task never delays another and a task never overlaps
// with itself.
type Worker struct {
	tasks  map[string]*task
	order  []string
	config Config
	logger *slog.Logger

	// Synchronization
	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

type task struct {
	handler    JobHandler
	interval   time.Duration
	runOnStart bool
}

// TaskOption customizes how a task is scheduled.
type TaskOption func(*task)

// RunOnStart runs the task once immediately when the worker starts.
func RunOnStart() TaskOption {
	return func(t *task) {
		t.runOnStart = true
	}
}

// New creates a new Worker with the given configuration.
// The worker must be started with Start() and stopped with Stop().
func New(config Config, logger *slog.Logger) (*Worker, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Worker{
		tasks:  make(map[string]*task),
		config: config,
		logger: logger,
		stopCh: make(chan struct{}),
	}, nil
}

// Register schedules handler to run every interval. The handler's Type()
// must be unique. Call this before Start().
func (w *Worker) Register(handler JobHandler, interval time.Duration, opts ...TaskOption) error {
	if interval <= 0 {
		return fmt.Errorf("interval for %s must be positive, got %v", handler.Type(), interval)
	}

	jobType := handler.Type()
	if _, exists := w.tasks[jobType]; exists {
		w.logger.Warn("Overwriting existing handler", "job_type", jobType)
	} else {
		w.order = append(w.order, jobType)
	}

	t := &task{handler: handler, interval: interval}
	for _, opt := range opts {
		opt(t)
	}
	w.tasks[jobType] = t
	w.logger.Debug("Registered task", "job_type", jobType, "interval", interval)
	return nil
}

// Start launches one goroutine per registered task.
func (w *Worker) Start(ctx context.Context) {
	for _, jobType := range w.order {
		w.wg.Add(1)
		go w.runTask(ctx, w.tasks[jobType])
	}

	w.logger.Info("Worker started", "tasks", len(w.order))
}

// Stop signals all tasks to stop and waits for running ones to finish.
// It respects the configured ShutdownTimeout.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker...")
		close(w.stopCh)
	})

	// Wait for tasks with timeout
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("Worker stopped gracefully")
	case <-time.After(w.config.ShutdownTimeout):
		w.logger.Warn("Worker shutdown timeout exceeded, some tasks may still be running")
	}
}

// RunOnce executes the named task immediately in the caller's goroutine,
// with the same timeout and retry policy as a scheduled run.
func (w *Worker) RunOnce(ctx context.Context, jobType string) error {
	t, ok := w.tasks[jobType]
	if !ok {
		return fmt.Errorf("no handler registered for job type: %s", jobType)
	}
	return w.execute(ctx, t.handler, w.logger.With("job_type", jobType))
}

// runTask is the main loop for a task goroutine.
// It runs the task on every tick until stopCh is closed or ctx is done.
func (w *Worker) runTask(ctx context.Context, t *task) {
	defer w.wg.Done()

	logger := w.logger.With("job_type", t.handler.Type())
	logger.Debug("Task loop started")

	if t.runOnStart {
		if err := w.execute(ctx, t.handler, logger); err != nil {
			logger.Error("Task failed", "error", err)
		}
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			logger.Debug("Task loop stopping")
			return
		case <-ctx.Done():
			logger.Debug("Task loop stopping", "reason", ctx.Err())
			return
		case <-ticker.C:
			if err := w.execute(ctx, t.handler, logger); err != nil {
				logger.Error("Task failed", "error", err)
			}
		}
	}
}

// execute runs one scheduled run of handler, retrying transient failures
// with exponential backoff.
func (w *Worker) execute(ctx context.Context, handler JobHandler, logger *slog.Logger) error {
	jobType := handler.Type()
	start := time.Now()
	defer metrics.JobStarted(jobType)()

	var err error
	for attempt := 1; attempt <= w.config.MaxAttempts; attempt++ {
		err = w.attempt(ctx, handler)
		if err == nil {
			metrics.JobCompleted(jobType, time.Since(start))
			logger.Debug("Task completed", "attempt", attempt, "duration", time.Since(start))
			return nil
		}

		if IsPermanent(err) {
			logger.Warn("Task failed with permanent error, will not retry", "error", err)
			break
		}
		if attempt == w.config.MaxAttempts {
			break
		}

		metrics.JobRetried(jobType)
		backoff := w.config.RetryBackoff << (attempt - 1)
		logger.Warn("Task attempt failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)

		select {
		case <-time.After(backoff):
		case <-w.stopCh:
			metrics.JobFailed(jobType)
			return fmt.Errorf("stopped before retry: %w", err)
		case <-ctx.Done():
			metrics.JobFailed(jobType)
			return fmt.Errorf("canceled before retry: %w", err)
		}
	}

	metrics.JobFailed(jobType)
	return err
}

// attempt runs handler once under JobTimeout. A panic is reported as a
// permanent failure of the run.
func (w *Worker) attempt(ctx context.Context, handler JobHandler) (err error) {
	jobCtx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = NewPermanentError(fmt.Errorf("panic in %s: %v", handler.Type(), r))
		}
	}()

	return handler.Handle(jobCtx)
}
