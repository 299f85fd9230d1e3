package main

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DukeRupert/wrenchly/internal"
	"github.com/DukeRupert/wrenchly/internal/app"
	"github.com/DukeRupert/wrenchly/internal/handler"
	"github.com/DukeRupert/wrenchly/internal/metrics"
	"github.com/DukeRupert/wrenchly/internal/middleware"
)

// router is the HTTP surface plus the pieces that need draining on
// shutdown.
type router struct {
	http.Handler

	operator *middleware.OperatorMiddleware
	metering *middleware.MeteringMiddleware
	usage    *handler.UsageHandler
}

// Wait blocks until background observations and threshold evaluations
// finish.
func (rt *router) Wait() {
	rt.metering.Wait()
	rt.usage.Wait()
}

// Stop releases the operator middleware's background cleanup.
func (rt *router) Stop() {
	rt.operator.Stop()
}

func newRouter(cfg *internal.Config, svc *app.App, logger *slog.Logger) *router {
	// ==========================================================================
	// Middleware
	// ==========================================================================

	isSecure := !cfg.IsDevelopment()
	securityMw := middleware.NewSecurityHeadersMiddleware(isSecure)
	loggingMw := middleware.NewRequestLoggingMiddleware(logger)
	tenantMw := middleware.NewTenantMiddleware(logger)
	operatorMw := middleware.NewOperatorMiddleware(cfg.AdminTokenHash, logger)
	meteringMw := middleware.NewMeteringMiddleware(svc.Quota, svc.Alerting, svc.Recorder, handler.ErrorResponse, logger)
	metricsAuth := middleware.NewMetricsAuthMiddleware(cfg.MetricsUsername, cfg.MetricsPassword, logger)

	if cfg.AdminTokenHash == "" {
		logger.Warn("ADMIN_TOKEN_HASH not set, operator routes are disabled")
	}
	if cfg.MetricsUsername == "" && cfg.MetricsPassword == "" {
		logger.Warn("Metrics endpoint is unprotected")
	}

	// Tenant routes are metered. Check-limit and track are observed but
	// not charged an apiCalls unit. Operator routes are neither.
	requireTenant := middleware.Stack(tenantMw.RequireTenant, meteringMw.Handler)
	observeTenant := middleware.Stack(tenantMw.RequireTenant, meteringMw.Observe)
	requireOperator := middleware.Stack(tenantMw.RequireTenant, operatorMw.RequireOperator)

	// ==========================================================================
	// Routes
	// ==========================================================================

	usageHandler := handler.NewUsageHandler(svc.Quota, svc.Alerting, svc.Report, svc.Rollover, logger)
	subscriptionHandler := handler.NewSubscriptionHandler(svc.Quota, logger)
	healthHandler := handler.NewHealthHandler(svc.Checks, logger)

	mux := http.NewServeMux()

	healthHandler.RegisterRoutes(mux)
	mux.Handle("GET /metrics", metricsAuth.Handler(promhttp.Handler()))

	usageHandler.RegisterRoutes(mux, requireTenant, observeTenant, requireOperator)
	subscriptionHandler.RegisterRoutes(mux, observeTenant)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		handler.NotFoundResponse(w, r, logger)
	})

	return &router{
		Handler:  middleware.Stack(securityMw.Handler, loggingMw.Handler, metrics.Middleware)(mux),
		operator: operatorMw,
		metering: meteringMw,
		usage:    usageHandler,
	}
}
