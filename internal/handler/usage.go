// Package handler contains HTTP handlers for the Wrenchly usage service.
//
// This file implements the usage reporting and tracking handlers.
//
// Routes handled:
//   - GET  /api/usage/dashboard              -> Dashboard
//   - GET  /api/usage/stats                  -> Stats
//   - GET  /api/usage/alerts                 -> Alerts
//   - POST /api/usage/track                  -> Track
//   - POST /api/usage/alerts/{id}/resolve    -> ResolveAlert (operator)
//   - POST /api/usage/reset                  -> Reset (operator)
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/DukeRupert/wrenchly/internal/auth"
	"github.com/DukeRupert/wrenchly/internal/domain"
	"github.com/DukeRupert/wrenchly/internal/service"
)

// thresholdTimeout bounds the background threshold evaluation after a
// tracked usage event.
const thresholdTimeout = 5 * time.Second

// maxAlertLimit caps the alert listing page size.
const maxAlertLimit = 200

// UsageHandler handles usage reporting and tracking HTTP requests.
type UsageHandler struct {
	quota    service.QuotaService
	alerts   service.AlertService
	report   service.ReportService
	rollover service.RolloverService
	validate *validator.Validate
	logger   *slog.Logger

	// Tracks background threshold evaluations.
	wg sync.WaitGroup
}

// NewUsageHandler creates a new UsageHandler.
func NewUsageHandler(
	quota service.QuotaService,
	alerts service.AlertService,
	report service.ReportService,
	rollover service.RolloverService,
	logger *slog.Logger,
) *UsageHandler {
	return &UsageHandler{
		quota:    quota,
		alerts:   alerts,
		report:   report,
		rollover: rollover,
		validate: newValidator(),
		logger:   logger,
	}
}

// RegisterRoutes registers usage routes.
// requireTenant wraps metered tenant routes. Track charges the resource in
// its body, so it takes observeTenant, which must resolve the tenant
// without charging apiCalls. requireOperator wraps operator routes and
// must itself resolve the tenant.
func (h *UsageHandler) RegisterRoutes(
	mux *http.ServeMux,
	requireTenant func(http.Handler) http.Handler,
	observeTenant func(http.Handler) http.Handler,
	requireOperator func(http.Handler) http.Handler,
) {
	mux.Handle("GET /api/usage/dashboard", requireTenant(http.HandlerFunc(h.Dashboard)))
	mux.Handle("GET /api/usage/stats", requireTenant(http.HandlerFunc(h.Stats)))
	mux.Handle("GET /api/usage/alerts", requireTenant(http.HandlerFunc(h.Alerts)))
	mux.Handle("POST /api/usage/track", observeTenant(http.HandlerFunc(h.Track)))

	mux.Handle("POST /api/usage/alerts/{id}/resolve", requireOperator(http.HandlerFunc(h.ResolveAlert)))
	mux.Handle("POST /api/usage/reset", requireOperator(http.HandlerFunc(h.Reset)))
}

// Wait blocks until background threshold evaluations finish.
func (h *UsageHandler) Wait() {
	h.wg.Wait()
}

// =============================================================================
// GET /api/usage/dashboard
// =============================================================================

// Dashboard returns the tenant's current-period usage overview.
func (h *UsageHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.GetTenantIDFromRequest(r)
	if !ok {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	dashboard, err := h.report.GetDashboard(r.Context(), tenantID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, dashboard)
}

// =============================================================================
// GET /api/usage/stats?period=day|week|month|year
// =============================================================================

// Stats returns aggregated snapshot statistics for a lookback period.
func (h *UsageHandler) Stats(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.GetTenantIDFromRequest(r)
	if !ok {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	period, err := domain.ParseStatsPeriod(r.URL.Query().Get("period"))
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	stats, err := h.report.GetStats(r.Context(), tenantID, period)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// =============================================================================
// GET /api/usage/alerts[?resolved=bool][&limit=n]
// =============================================================================

// alertsResponse wraps an alert listing.
type alertsResponse struct {
	Alerts []*domain.Alert `json:"alerts"`
}

// Alerts lists the tenant's alerts, newest first.
func (h *UsageHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	const op = "usage.alerts"

	tenantID, ok := auth.GetTenantIDFromRequest(r)
	if !ok {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	filter, err := parseAlertFilter(op, r)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	alerts, err := h.alerts.ListAlerts(r.Context(), tenantID, filter)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if alerts == nil {
		alerts = []*domain.Alert{}
	}

	writeJSON(w, http.StatusOK, alertsResponse{Alerts: alerts})
}

// parseAlertFilter reads the resolved and limit query parameters.
func parseAlertFilter(op string, r *http.Request) (domain.AlertFilter, error) {
	var filter domain.AlertFilter
	q := r.URL.Query()

	if raw := q.Get("resolved"); raw != "" {
		resolved, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, domain.Invalid(op, "resolved must be true or false")
		}
		filter.Resolved = &resolved
	}

	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return filter, domain.Invalid(op, "limit must be a positive integer")
		}
		filter.Limit = min(limit, maxAlertLimit)
	}

	return filter, nil
}

// =============================================================================
// POST /api/usage/track
// =============================================================================

// usageRequest is the body of track and check-limit requests. Amount
// defaults to 1 when omitted.
type usageRequest struct {
	Type   string `json:"type" validate:"required,oneof=apiCalls workOrders users storageMb"`
	Amount *int64 `json:"amount" validate:"omitempty,min=1"`
}

func (req usageRequest) resource() domain.Resource {
	return domain.Resource(req.Type)
}

func (req usageRequest) amount() int64 {
	if req.Amount == nil {
		return 1
	}
	return *req.Amount
}

// trackResponse reports usage after a tracked event.
type trackResponse struct {
	Resource   domain.Resource `json:"resource"`
	Used       int64           `json:"used"`
	Limit      domain.Limit    `json:"limit"`
	Percentage float64         `json:"percentage"`
	Remaining  int64           `json:"remaining"`
}

// Track records a usage event if it fits the tenant's plan. A denied
// event returns 402 with the quota body. Thresholds are evaluated in the
// background after an admitted event.
func (h *UsageHandler) Track(w http.ResponseWriter, r *http.Request) {
	const op = "usage.track"

	tenantID, ok := auth.GetTenantIDFromRequest(r)
	if !ok {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	var req usageRequest
	if err := decodeJSON(w, r, h.validate, op, &req); err != nil {
		ValidationErrorResponse(w, r, h.logger, err)
		return
	}

	resource := req.resource()
	result, err := h.quota.Consume(r.Context(), tenantID, resource, req.amount())
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	if !result.Check.Allowed {
		max, _ := result.Check.Limit.Max()
		ErrorResponse(w, r, h.logger, domain.QuotaExceeded(op, resource, result.Check.CurrentUsage, max))
		return
	}

	h.evaluateThresholds(r.Context(), tenantID)

	usage := domain.NewResourceUsage(result.Check.Limit, result.Usage.Counters.Get(resource))
	writeJSON(w, http.StatusOK, trackResponse{
		Resource:   resource,
		Used:       usage.Used,
		Limit:      usage.Limit,
		Percentage: usage.Percentage,
		Remaining:  usage.Remaining,
	})
}

// evaluateThresholds runs alert evaluation off the request path.
// Alerting never affects the tracked event.
func (h *UsageHandler) evaluateThresholds(ctx context.Context, tenantID uuid.UUID) {
	ctx = context.WithoutCancel(ctx)

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()

		ctx, cancel := context.WithTimeout(ctx, thresholdTimeout)
		defer cancel()

		if _, err := h.alerts.EvaluateThresholds(ctx, tenantID); err != nil {
			h.logger.Warn("threshold evaluation failed",
				"tenant_id", tenantID,
				"error", err,
			)
		}
	}()
}

// =============================================================================
// POST /api/usage/alerts/{id}/resolve (operator)
// =============================================================================

// ResolveAlert marks one of the tenant's alerts resolved.
func (h *UsageHandler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	const op = "usage.resolve_alert"

	tenantID, ok := auth.GetTenantIDFromRequest(r)
	if !ok {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	alertID := r.PathValue("id")
	if alertID == "" {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "alert id is required"))
		return
	}

	alert, err := h.alerts.ResolveAlert(r.Context(), tenantID, alertID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, alert)
}

// =============================================================================
// POST /api/usage/reset (operator)
// =============================================================================

// Reset zeroes the tenant's counters and resolves its quota alerts.
func (h *UsageHandler) Reset(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := auth.GetTenantIDFromRequest(r)
	if !ok {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	usage, err := h.rollover.ResetCounters(r.Context(), tenantID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	h.logger.Info("counters reset by operator", "tenant_id", tenantID)
	writeJSON(w, http.StatusOK, usage)
}
