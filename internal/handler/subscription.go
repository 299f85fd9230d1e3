// Package handler contains HTTP handlers for the Wrenchly usage service.
//
// This file implements the subscription limit check handler.
//
// Routes handled:
//   - POST /api/subscription/check-limit -> CheckLimit
package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/DukeRupert/wrenchly/internal/auth"
	"github.com/DukeRupert/wrenchly/internal/domain"
	"github.com/DukeRupert/wrenchly/internal/service"
)

// SubscriptionHandler answers plan limit questions for other services.
type SubscriptionHandler struct {
	quota    service.QuotaService
	validate *validator.Validate
	logger   *slog.Logger
}

// NewSubscriptionHandler creates a new SubscriptionHandler.
func NewSubscriptionHandler(quota service.QuotaService, logger *slog.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		quota:    quota,
		validate: newValidator(),
		logger:   logger,
	}
}

// RegisterRoutes registers subscription routes. observeTenant must resolve
// the tenant without charging apiCalls, since a limit check consumes
// nothing.
func (h *SubscriptionHandler) RegisterRoutes(mux *http.ServeMux, observeTenant func(http.Handler) http.Handler) {
	mux.Handle("POST /api/subscription/check-limit", observeTenant(http.HandlerFunc(h.CheckLimit)))
}

// CheckLimitResponse is the answer to a limit check. Limit is -1 for
// unlimited resources.
type CheckLimitResponse struct {
	CanPerform   bool         `json:"canPerform"`
	CurrentUsage int64        `json:"currentUsage"`
	Limit        domain.Limit `json:"limit"`
	Percentage   float64      `json:"percentage"`
}

// CheckLimit reports whether the tenant could consume the requested amount.
// Nothing is consumed. When the usage store cannot answer, the response is
// 503 with canPerform false so callers that only read the flag still deny.
func (h *SubscriptionHandler) CheckLimit(w http.ResponseWriter, r *http.Request) {
	const op = "subscription.check_limit"

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

	check, err := h.quota.CheckLimit(r.Context(), tenantID, req.resource(), req.amount())
	if err != nil {
		if domain.ErrorCode(err) != domain.EUNAVAILABLE {
			ErrorResponse(w, r, h.logger, err)
			return
		}
		logError(h.logger, r, err, domain.EUNAVAILABLE, domain.ErrorOp(err), http.StatusServiceUnavailable)
		w.Header().Set("Retry-After", "5")
		writeJSON(w, http.StatusServiceUnavailable, CheckLimitResponse{
			CanPerform:   false,
			CurrentUsage: check.CurrentUsage,
			Limit:        check.Limit,
			Percentage:   check.Percentage,
		})
		return
	}

	writeJSON(w, http.StatusOK, CheckLimitResponse{
		CanPerform:   check.Allowed,
		CurrentUsage: check.CurrentUsage,
		Limit:        check.Limit,
		Percentage:   check.Percentage,
	})
}
