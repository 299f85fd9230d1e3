package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/DukeRupert/wrenchly/internal/service"
	"github.com/DukeRupert/wrenchly/internal/worker"
)

// PeriodRolloverHandler resets tenants whose usage period has ended and
// finalizes closed snapshots.
type PeriodRolloverHandler struct {
	rollover service.RolloverService
	now      func() time.Time
	logger   *slog.Logger
}

// NewPeriodRolloverHandler creates a new handler for period rollover runs.
func NewPeriodRolloverHandler(rollover service.RolloverService, logger *slog.Logger) *PeriodRolloverHandler {
	return &PeriodRolloverHandler{
		rollover: rollover,
		now:      time.Now,
		logger:   logger,
	}
}

// Type returns the job type identifier.
func (h *PeriodRolloverHandler) Type() string {
	return worker.JobTypePeriodRollover
}

// Handle executes one rollover pass.
func (h *PeriodRolloverHandler) Handle(ctx context.Context) error {
	rolled, err := h.rollover.RunPeriodRollover(ctx, h.now())
	if err != nil {
		return err
	}
	if len(rolled) > 0 {
		h.logger.Info("Period rollover completed", "tenants", len(rolled))
	}
	return nil
}
