package jobs

import (
	"context"
	"log/slog"

	"github.com/DukeRupert/wrenchly/internal/service"
	"github.com/DukeRupert/wrenchly/internal/worker"
)

// AlertSweepHandler re-evaluates quota thresholds for every tenant, catching
// usage that arrived without an inline evaluation.
type AlertSweepHandler struct {
	alerts service.AlertService
	logger *slog.Logger
}

// NewAlertSweepHandler creates a new handler for alert sweeps.
func NewAlertSweepHandler(alerts service.AlertService, logger *slog.Logger) *AlertSweepHandler {
	return &AlertSweepHandler{alerts: alerts, logger: logger}
}

// Type returns the job type identifier.
func (h *AlertSweepHandler) Type() string {
	return worker.JobTypeAlertSweep
}

// Handle executes one sweep.
func (h *AlertSweepHandler) Handle(ctx context.Context) error {
	raised, err := h.alerts.Sweep(ctx)
	if err != nil {
		return err
	}
	if raised > 0 {
		h.logger.Info("Alert sweep raised alerts", "count", raised)
	}
	return nil
}
