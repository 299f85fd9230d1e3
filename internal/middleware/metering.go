package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DukeRupert/wrenchly/internal/auth"
	"github.com/DukeRupert/wrenchly/internal/domain"
	"github.com/DukeRupert/wrenchly/internal/service"
)

// =============================================================================
// Dependencies
// =============================================================================

// QuotaConsumer reserves quota for a tenant.
type QuotaConsumer interface {
	Consume(ctx context.Context, tenantID uuid.UUID, resource domain.Resource, amount int64) (service.ConsumeResult, error)
}

// RequestObserver feeds request telemetry into anomaly detection.
type RequestObserver interface {
	ObserveRequest(ctx context.Context, tenantID uuid.UUID, sample domain.RequestSample) ([]*domain.Alert, error)
}

// RequestRecorder buffers request telemetry for daily snapshots.
type RequestRecorder interface {
	RecordRequest(tenantID uuid.UUID, sample domain.RequestSample, at time.Time)
}

// ErrorWriter renders an error response. handler.ErrorResponse satisfies it.
type ErrorWriter func(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error)

// =============================================================================
// Metering Middleware
// =============================================================================

// MeteringMiddleware charges every request one apiCalls unit and reports
// its latency and outcome to the activity monitor and snapshot buffer.
// Observe reports without charging, for routes that account usage
// themselves.
//
// Must run after TenantMiddleware.RequireTenant. Requests rejected for
// quota are not observed.
type MeteringMiddleware struct {
	quota    QuotaConsumer
	observer RequestObserver
	recorder RequestRecorder
	writeErr ErrorWriter
	logger   *slog.Logger
	now      func() time.Time

	wg sync.WaitGroup
}

// NewMeteringMiddleware creates a new metering middleware.
func NewMeteringMiddleware(quota QuotaConsumer, observer RequestObserver, recorder RequestRecorder, writeErr ErrorWriter, logger *slog.Logger) *MeteringMiddleware {
	return &MeteringMiddleware{
		quota:    quota,
		observer: observer,
		recorder: recorder,
		writeErr: writeErr,
		logger:   logger,
		now:      time.Now,
	}
}

// Handler returns middleware that meters and observes the request.
func (m *MeteringMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		const op = "middleware.metering"

		tenantID, ok := auth.GetTenantIDFromRequest(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		result, err := m.quota.Consume(r.Context(), tenantID, domain.ResourceAPICalls, 1)
		if err != nil {
			m.writeErr(w, r, m.logger, err)
			return
		}
		if !result.Check.Allowed {
			max, _ := result.Check.Limit.Max()
			m.writeErr(w, r, m.logger, domain.QuotaExceeded(op, domain.ResourceAPICalls, result.Check.CurrentUsage, max))
			return
		}

		m.serveObserved(w, r, next, tenantID)
	})
}

// Observe returns middleware that reports the request to the activity
// monitor without consuming quota.
func (m *MeteringMiddleware) Observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := auth.GetTenantIDFromRequest(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		m.serveObserved(w, r, next, tenantID)
	})
}

func (m *MeteringMiddleware) serveObserved(w http.ResponseWriter, r *http.Request, next http.Handler, tenantID uuid.UUID) {
	start := m.now()
	wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
	next.ServeHTTP(wrapped, r)

	sample := domain.RequestSample{
		Latency:     m.now().Sub(start),
		Failed:      wrapped.statusCode >= 400,
		ServerError: wrapped.statusCode >= 500,
	}
	m.recorder.RecordRequest(tenantID, sample, start)
	m.observe(r.Context(), tenantID, sample)
}

// observe runs anomaly detection off the request path. Failures are
// logged and never reach the client.
func (m *MeteringMiddleware) observe(ctx context.Context, tenantID uuid.UUID, sample domain.RequestSample) {
	ctx = context.WithoutCancel(ctx)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		raised, err := m.observer.ObserveRequest(ctx, tenantID, sample)
		if err != nil {
			m.logger.Warn("activity observation failed",
				"tenant_id", tenantID,
				"error", err,
			)
			return
		}
		for _, a := range raised {
			m.logger.Info("activity alert raised",
				"tenant_id", tenantID,
				"type", a.Type,
				"severity", a.Severity,
			)
		}
	}()
}

// Wait blocks until in-flight observations finish.
func (m *MeteringMiddleware) Wait() {
	m.wg.Wait()
}

var (
	_ func(http.Handler) http.Handler = (&MeteringMiddleware{}).Handler
	_ func(http.Handler) http.Handler = (&MeteringMiddleware{}).Observe
)
