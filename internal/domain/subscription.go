package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus is the billing state of a tenant.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionTrial     SubscriptionStatus = "trial"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionSuspended SubscriptionStatus = "suspended"
)

// Valid reports whether s is a known status.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionActive, SubscriptionTrial, SubscriptionCancelled, SubscriptionSuspended:
		return true
	}
	return false
}

// Subscription is the tenant's billing record as mirrored from the payment
// provider. It is written by the billing sync and read by usage reporting.
type Subscription struct {
	TenantID             uuid.UUID          `json:"tenantId"`
	PlanID               PlanID             `json:"planId"`
	Status               SubscriptionStatus `json:"status"`
	ContactEmail         string             `json:"contactEmail,omitempty"`
	StripeCustomerID     string             `json:"-"`
	StripeSubscriptionID string             `json:"-"`
	UpdatedAt            time.Time          `json:"updatedAt"`
}
