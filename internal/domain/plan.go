package domain

// PlanID identifies a subscription tier.
type PlanID string

const (
	PlanStarter      PlanID = "starter"
	PlanProfessional PlanID = "professional"
	PlanEnterprise   PlanID = "enterprise"
)

// PlanIDs lists every known tier in ascending order.
var PlanIDs = []PlanID{PlanStarter, PlanProfessional, PlanEnterprise}

// Valid reports whether p is a known tier.
func (p PlanID) Valid() bool {
	for _, id := range PlanIDs {
		if p == id {
			return true
		}
	}
	return false
}

func (p PlanID) String() string {
	return string(p)
}

// Limits holds the per-period quota for every tracked resource.
type Limits struct {
	APICalls   Limit `json:"apiCalls"`
	WorkOrders Limit `json:"workOrders"`
	Users      Limit `json:"users"`
	StorageMB  Limit `json:"storageMb"`
}

// For returns the limit configured for resource.
func (l Limits) For(r Resource) (Limit, bool) {
	switch r {
	case ResourceAPICalls:
		return l.APICalls, true
	case ResourceWorkOrders:
		return l.WorkOrders, true
	case ResourceUsers:
		return l.Users, true
	case ResourceStorageMB:
		return l.StorageMB, true
	}
	return Limit{}, false
}

// Plan is an immutable subscription tier definition.
type Plan struct {
	ID       PlanID   `json:"planId"`
	Name     string   `json:"name"`
	Limits   Limits   `json:"limits"`
	Features []string `json:"features"`
}

// HasFeature reports whether the plan includes the named feature.
func (p Plan) HasFeature(feature string) bool {
	for _, f := range p.Features {
		if f == feature {
			return true
		}
	}
	return false
}
