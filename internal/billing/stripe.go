// Package billing provides Stripe billing integration for subscription management.
package billing

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/subscription"

	"github.com/DukeRupert/wrenchly/internal/domain"
)

// Service defines the interface for billing operations.
type Service interface {
	// GetSubscription retrieves a Stripe subscription by ID and maps it to a
	// plan and status.
	GetSubscription(ctx context.Context, subscriptionID string) (*SubscriptionState, error)

	// PlanForPriceID returns the plan for a given Stripe price ID, or "" when
	// the price is not configured.
	PlanForPriceID(priceID string) domain.PlanID
}

// SubscriptionState is the billing provider's view of a subscription.
type SubscriptionState struct {
	SubscriptionID string
	CustomerID     string
	CustomerEmail  string
	PriceID        string
	PlanID         domain.PlanID // empty when the price is not mapped
	Status         domain.SubscriptionStatus
}

// PriceConfig holds the Stripe price IDs for each plan.
type PriceConfig struct {
	StarterMonthlyPriceID      string
	StarterYearlyPriceID       string
	ProfessionalMonthlyPriceID string
	ProfessionalYearlyPriceID  string
	EnterpriseMonthlyPriceID   string
	EnterpriseYearlyPriceID    string
}

// stripeService is the concrete implementation of Service.
type stripeService struct {
	priceToPlan map[string]domain.PlanID // maps price ID -> plan
}

// NewStripeService creates a new Stripe billing service.
//
// The secretKey is used to authenticate Stripe API calls.
// The prices configure which Stripe price IDs map to which plans.
func NewStripeService(secretKey string, prices PriceConfig) Service {
	stripe.Key = secretKey

	priceToPlan := make(map[string]domain.PlanID)
	add := func(priceID string, plan domain.PlanID) {
		if priceID != "" {
			priceToPlan[priceID] = plan
		}
	}
	add(prices.StarterMonthlyPriceID, domain.PlanStarter)
	add(prices.StarterYearlyPriceID, domain.PlanStarter)
	add(prices.ProfessionalMonthlyPriceID, domain.PlanProfessional)
	add(prices.ProfessionalYearlyPriceID, domain.PlanProfessional)
	add(prices.EnterpriseMonthlyPriceID, domain.PlanEnterprise)
	add(prices.EnterpriseYearlyPriceID, domain.PlanEnterprise)

	return &stripeService{priceToPlan: priceToPlan}
}

func (s *stripeService) GetSubscription(ctx context.Context, subscriptionID string) (*SubscriptionState, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExpand("customer")

	sub, err := subscription.Get(subscriptionID, params)
	if err != nil {
		return nil, fmt.Errorf("stripe get subscription: %w", err)
	}

	state := &SubscriptionState{
		SubscriptionID: sub.ID,
		Status:         StatusFromStripe(sub.Status),
	}
	if sub.Customer != nil {
		state.CustomerID = sub.Customer.ID
		state.CustomerEmail = sub.Customer.Email
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		state.PriceID = sub.Items.Data[0].Price.ID
		state.PlanID = s.PlanForPriceID(state.PriceID)
	}
	return state, nil
}

func (s *stripeService) PlanForPriceID(priceID string) domain.PlanID {
	if plan, ok := s.priceToPlan[priceID]; ok {
		return plan
	}
	return ""
}

// StatusFromStripe maps a Stripe subscription status onto the statuses
// reported by usage reporting. Unpaid and incomplete subscriptions are
// suspended; ended ones are cancelled.
func StatusFromStripe(status stripe.SubscriptionStatus) domain.SubscriptionStatus {
	switch status {
	case stripe.SubscriptionStatusActive:
		return domain.SubscriptionActive
	case stripe.SubscriptionStatusTrialing:
		return domain.SubscriptionTrial
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusIncompleteExpired:
		return domain.SubscriptionCancelled
	default:
		return domain.SubscriptionSuspended
	}
}
