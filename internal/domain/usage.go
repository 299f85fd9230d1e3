package domain

import (
	"time"

	"github.com/google/uuid"
)

// Resource is a countable, quota-bound unit of consumption.
type Resource string

const (
	ResourceAPICalls   Resource = "apiCalls"
	ResourceWorkOrders Resource = "workOrders"
	ResourceUsers      Resource = "users"
	ResourceStorageMB  Resource = "storageMb"
)

// Resources lists every tracked resource.
var Resources = []Resource{
	ResourceAPICalls,
	ResourceWorkOrders,
	ResourceUsers,
	ResourceStorageMB,
}

// Valid reports whether r is a tracked resource.
func (r Resource) Valid() bool {
	for _, known := range Resources {
		if r == known {
			return true
		}
	}
	return false
}

// Label returns a human-readable name for messages and emails.
func (r Resource) Label() string {
	switch r {
	case ResourceAPICalls:
		return "API calls"
	case ResourceWorkOrders:
		return "work orders"
	case ResourceUsers:
		return "users"
	case ResourceStorageMB:
		return "storage (MB)"
	}
	return string(r)
}

// Counters holds consumed units per resource. Values are never negative.
type Counters struct {
	APICalls   int64 `json:"apiCalls"`
	WorkOrders int64 `json:"workOrders"`
	Users      int64 `json:"users"`
	StorageMB  int64 `json:"storageMb"`
}

// Get returns the counter for resource.
func (c Counters) Get(r Resource) int64 {
	switch r {
	case ResourceAPICalls:
		return c.APICalls
	case ResourceWorkOrders:
		return c.WorkOrders
	case ResourceUsers:
		return c.Users
	case ResourceStorageMB:
		return c.StorageMB
	}
	return 0
}

// Add increases the counter for resource by n.
func (c *Counters) Add(r Resource, n int64) {
	switch r {
	case ResourceAPICalls:
		c.APICalls += n
	case ResourceWorkOrders:
		c.WorkOrders += n
	case ResourceUsers:
		c.Users += n
	case ResourceStorageMB:
		c.StorageMB += n
	}
}

// Merge adds every counter in other to c.
func (c *Counters) Merge(other Counters) {
	for _, r := range Resources {
		c.Add(r, other.Get(r))
	}
}

// TenantUsage is the mutable per-tenant usage record for the current period.
type TenantUsage struct {
	TenantID    uuid.UUID `json:"tenantId"`
	PlanID      PlanID    `json:"planId"`
	PeriodStart time.Time `json:"periodStart"`
	PeriodEnd   time.Time `json:"periodEnd"`
	Counters    Counters  `json:"counters"`
	LastReset   time.Time `json:"lastReset"`
}

// RolloverDue reports whether the usage window has elapsed at now.
func (u *TenantUsage) RolloverDue(now time.Time) bool {
	return !now.Before(u.PeriodEnd)
}

// NewTenantUsage returns a zeroed record for the window containing now.
func NewTenantUsage(tenantID uuid.UUID, plan PlanID, now time.Time) *TenantUsage {
	start, end := UsageWindow(now)
	return &TenantUsage{
		TenantID:    tenantID,
		PlanID:      plan,
		PeriodStart: start,
		PeriodEnd:   end,
		LastReset:   now.UTC(),
	}
}

// Reset zeroes the counters and moves the window to the one containing now.
// Applying it twice at the same instant yields the same record.
func (u *TenantUsage) Reset(now time.Time) {
	u.Counters = Counters{}
	u.PeriodStart, u.PeriodEnd = UsageWindow(now)
	u.LastReset = now.UTC()
}

// UsageWindow returns the calendar-month window (UTC) containing t.
func UsageWindow(t time.Time) (start, end time.Time) {
	t = t.UTC()
	start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	end = start.AddDate(0, 1, 0)
	return start, end
}
