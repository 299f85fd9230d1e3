package domain

import (
	"time"

	"github.com/google/uuid"
)

// ResourceUsage is one resource's line on the usage dashboard.
type ResourceUsage struct {
	Used       int64   `json:"used"`
	Limit      Limit   `json:"limit"`
	Percentage float64 `json:"percentage"`
	Remaining  int64   `json:"remaining"`
}

// PlanSummary identifies the tenant's plan on the dashboard.
type PlanSummary struct {
	ID       PlanID   `json:"id"`
	Name     string   `json:"name"`
	Features []string `json:"features"`
}

// Period is a half-open time window [Start, End).
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Dashboard is the current-period usage overview for a tenant.
type Dashboard struct {
	TenantID   uuid.UUID                  `json:"tenantId"`
	Plan       PlanSummary                `json:"plan"`
	Status     SubscriptionStatus         `json:"status"`
	Period     Period                     `json:"period"`
	LastReset  time.Time                  `json:"lastReset"`
	Resources  map[Resource]ResourceUsage `json:"resources"`
	OpenAlerts []*Alert                   `json:"openAlerts"`
}

// NewResourceUsage evaluates used against limit for display.
func NewResourceUsage(limit Limit, used int64) ResourceUsage {
	return ResourceUsage{
		Used:       used,
		Limit:      limit,
		Percentage: limit.Percentage(used),
		Remaining:  limit.Remaining(used),
	}
}
