// Package plans provides the read-only subscription plan catalog.
//
// The catalog is constructed once at process start (either from the
// compiled-in defaults or a YAML file) and injected into every component
// that needs plan limits.
package plans

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/DukeRupert/wrenchly/internal/domain"
)

// Catalog is an immutable set of plans with a default tier for new tenants.
type Catalog struct {
	plans       map[domain.PlanID]domain.Plan
	defaultPlan domain.PlanID
}

// New builds a catalog from the given plans. Every plan must carry a known
// id, a name and initialized limits; defaultPlan must be among them.
func New(plans []domain.Plan, defaultPlan domain.PlanID) (*Catalog, error) {
	c := &Catalog{
		plans:       make(map[domain.PlanID]domain.Plan, len(plans)),
		defaultPlan: defaultPlan,
	}
	for _, p := range plans {
		if !p.ID.Valid() {
			return nil, fmt.Errorf("unknown plan id %q", p.ID)
		}
		if p.Name == "" {
			return nil, fmt.Errorf("plan %q: name is required", p.ID)
		}
		for _, r := range domain.Resources {
			l, _ := p.Limits.For(r)
			if l.IsZero() {
				return nil, fmt.Errorf("plan %q: limit for %s is not set", p.ID, r)
			}
		}
		if _, dup := c.plans[p.ID]; dup {
			return nil, fmt.Errorf("plan %q defined twice", p.ID)
		}
		c.plans[p.ID] = p
	}
	if _, ok := c.plans[defaultPlan]; !ok {
		return nil, fmt.Errorf("default plan %q is not in the catalog", defaultPlan)
	}
	return c, nil
}

// Get returns the plan with the given id. An unknown id is a configuration
// error, not a user-facing condition.
func (c *Catalog) Get(id domain.PlanID) (domain.Plan, error) {
	p, ok := c.plans[id]
	if !ok {
		return domain.Plan{}, domain.Errorf(domain.EINTERNAL, "plans.get", "plan %q is not configured", id)
	}
	return p, nil
}

// Default returns the plan assigned to newly provisioned tenants.
func (c *Catalog) Default() domain.Plan {
	return c.plans[c.defaultPlan]
}

// All returns every plan in ascending tier order.
func (c *Catalog) All() []domain.Plan {
	out := make([]domain.Plan, 0, len(c.plans))
	for _, p := range c.plans {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return tierIndex(out[i].ID) < tierIndex(out[j].ID)
	})
	return out
}

func tierIndex(id domain.PlanID) int {
	for i, known := range domain.PlanIDs {
		if id == known {
			return i
		}
	}
	return len(domain.PlanIDs)
}

// =============================================================================
// Defaults
// =============================================================================

var baseFeatures = []string{"work_orders", "customers", "vehicles"}

// DefaultPlans returns the compiled-in tier definitions.
func DefaultPlans() []domain.Plan {
	professional := append(append([]string{}, baseFeatures...), "suppliers", "services", "reports", "api_access")
	enterprise := append(append([]string{}, professional...), "priority_support", "custom_integrations")

	return []domain.Plan{
		{
			ID:   domain.PlanStarter,
			Name: "Starter",
			Limits: domain.Limits{
				APICalls:   domain.Bounded(10_000),
				WorkOrders: domain.Bounded(50),
				Users:      domain.Bounded(3),
				StorageMB:  domain.Bounded(1_024),
			},
			Features: append([]string{}, baseFeatures...),
		},
		{
			ID:   domain.PlanProfessional,
			Name: "Professional",
			Limits: domain.Limits{
				APICalls:   domain.Bounded(100_000),
				WorkOrders: domain.Bounded(500),
				Users:      domain.Bounded(15),
				StorageMB:  domain.Bounded(10_240),
			},
			Features: professional,
		},
		{
			ID:   domain.PlanEnterprise,
			Name: "Enterprise",
			Limits: domain.Limits{
				APICalls:   domain.Unlimited(),
				WorkOrders: domain.Unlimited(),
				Users:      domain.Unlimited(),
				StorageMB:  domain.Unlimited(),
			},
			Features: enterprise,
		},
	}
}

// NewDefault returns the compiled-in catalog with the given default tier.
func NewDefault(defaultPlan domain.PlanID) (*Catalog, error) {
	return New(DefaultPlans(), defaultPlan)
}

// =============================================================================
// YAML loading
// =============================================================================

// fileFormat is the on-disk catalog layout:
//
//	default: starter
//	plans:
//	  - id: starter
//	    name: Starter
//	    limits: {apiCalls: 10000, workOrders: 50, users: 3, storageMb: 1024}
//	    features: [work_orders]
type fileFormat struct {
	Default string     `yaml:"default"`
	Plans   []filePlan `yaml:"plans"`
}

type filePlan struct {
	ID       string   `yaml:"id"`
	Name     string   `yaml:"name"`
	Limits   fileLims `yaml:"limits"`
	Features []string `yaml:"features"`
}

type fileLims struct {
	APICalls   int64 `yaml:"apiCalls"`
	WorkOrders int64 `yaml:"workOrders"`
	Users      int64 `yaml:"users"`
	StorageMB  int64 `yaml:"storageMb"`
}

// Parse decodes a YAML catalog. fallbackDefault is used when the document
// does not name a default tier.
func Parse(data []byte, fallbackDefault domain.PlanID) (*Catalog, error) {
	var doc fileFormat
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse plan catalog: %w", err)
	}
	if len(doc.Plans) == 0 {
		return nil, fmt.Errorf("plan catalog defines no plans")
	}

	out := make([]domain.Plan, 0, len(doc.Plans))
	for _, fp := range doc.Plans {
		p := domain.Plan{ID: domain.PlanID(fp.ID), Name: fp.Name, Features: fp.Features}
		raw := map[*domain.Limit]int64{
			&p.Limits.APICalls:   fp.Limits.APICalls,
			&p.Limits.WorkOrders: fp.Limits.WorkOrders,
			&p.Limits.Users:      fp.Limits.Users,
			&p.Limits.StorageMB:  fp.Limits.StorageMB,
		}
		for dst, v := range raw {
			l, err := domain.ParseLimit(v)
			if err != nil {
				return nil, fmt.Errorf("plan %q: %w", fp.ID, err)
			}
			*dst = l
		}
		out = append(out, p)
	}

	def := fallbackDefault
	if doc.Default != "" {
		def = domain.PlanID(doc.Default)
	}
	return New(out, def)
}

// Load reads a YAML catalog from path.
func Load(path string, fallbackDefault domain.PlanID) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan catalog: %w", err)
	}
	return Parse(data, fallbackDefault)
}
