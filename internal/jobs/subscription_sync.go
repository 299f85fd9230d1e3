package jobs

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/DukeRupert/wrenchly/internal/billing"
	"github.com/DukeRupert/wrenchly/internal/domain"
	"github.com/DukeRupert/wrenchly/internal/repository"
	"github.com/DukeRupert/wrenchly/internal/service"
	"github.com/DukeRupert/wrenchly/internal/worker"
)

// SubscriptionSyncHandler mirrors plan and status from Stripe into the
// subscription table and moves tenants whose price changed to the matching
// plan.
type SubscriptionSyncHandler struct {
	billing       billing.Service
	subscriptions repository.SubscriptionRepository
	quota         service.QuotaService
	logger        *slog.Logger
}

// NewSubscriptionSyncHandler creates a new handler for subscription syncs.
func NewSubscriptionSyncHandler(
	billing billing.Service,
	subscriptions repository.SubscriptionRepository,
	quota service.QuotaService,
	logger *slog.Logger,
) *SubscriptionSyncHandler {
	return &SubscriptionSyncHandler{
		billing:       billing,
		subscriptions: subscriptions,
		quota:         quota,
		logger:        logger,
	}
}

// Type returns the job type identifier.
func (h *SubscriptionSyncHandler) Type() string {
	return worker.JobTypeSubscriptionSync
}

// Handle syncs every subscription linked to Stripe. Individual failures are
// logged; the run fails only when nothing could be synced.
func (h *SubscriptionSyncHandler) Handle(ctx context.Context) error {
	if h.billing == nil {
		return worker.NewPermanentError(fmt.Errorf("billing is not configured"))
	}

	subs, err := h.subscriptions.ListBilled(ctx)
	if err != nil {
		return fmt.Errorf("list billed subscriptions: %w", err)
	}

	var synced, failed int
	for _, sub := range subs {
		if err := h.sync(ctx, sub); err != nil {
			failed++
			h.logger.Warn("Subscription sync failed",
				"tenant_id", sub.TenantID,
				"subscription_id", sub.StripeSubscriptionID,
				"error", err,
			)
			continue
		}
		synced++
	}

	if failed > 0 && synced == 0 {
		return fmt.Errorf("all %d subscription syncs failed", failed)
	}
	h.logger.Debug("Subscription sync completed", "synced", synced, "failed", failed)
	return nil
}

func (h *SubscriptionSyncHandler) sync(ctx context.Context, sub *domain.Subscription) error {
	state, err := h.billing.GetSubscription(ctx, sub.StripeSubscriptionID)
	if err != nil {
		return err
	}

	plan := sub.PlanID
	if state.PlanID != "" {
		plan = state.PlanID
	} else {
		h.logger.Warn("Stripe price is not mapped to a plan",
			"tenant_id", sub.TenantID,
			"price_id", state.PriceID,
		)
	}

	if plan != sub.PlanID {
		if err := h.applyPlan(ctx, sub, plan); err != nil {
			return err
		}
	}

	next := *sub
	next.PlanID = plan
	next.Status = state.Status
	if state.CustomerEmail != "" {
		next.ContactEmail = state.CustomerEmail
	}
	if state.CustomerID != "" {
		next.StripeCustomerID = state.CustomerID
	}
	if next.PlanID == sub.PlanID && next.Status == sub.Status &&
		next.ContactEmail == sub.ContactEmail && next.StripeCustomerID == sub.StripeCustomerID {
		return nil
	}

	if err := h.subscriptions.Upsert(ctx, &next); err != nil {
		return fmt.Errorf("save subscription: %w", err)
	}

	h.logger.Info("Subscription updated from Stripe",
		"tenant_id", sub.TenantID,
		"plan", next.PlanID,
		"status", next.Status,
	)
	return nil
}

// applyPlan moves the tenant's usage record to plan, provisioning it when
// the tenant has never used the service.
func (h *SubscriptionSyncHandler) applyPlan(ctx context.Context, sub *domain.Subscription, plan domain.PlanID) error {
	_, err := h.quota.ChangePlan(ctx, sub.TenantID, plan)
	if domain.ErrorCode(err) == domain.ENOTPROVISIONED {
		_, err = h.quota.Provision(ctx, sub.TenantID, plan)
	}
	if err != nil {
		return fmt.Errorf("change plan to %s: %w", plan, err)
	}

	h.logger.Info("Tenant plan changed by billing",
		"tenant_id", sub.TenantID,
		"from", sub.PlanID,
		"to", plan,
	)
	return nil
}
