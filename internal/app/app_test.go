package app

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/wrenchly/internal"
	"github.com/DukeRupert/wrenchly/internal/domain"
)

func memoryConfig(t *testing.T) *internal.Config {
	t.Helper()
	return &internal.Config{
		Env:              "test",
		UsageStore:       "memory",
		DefaultPlan:      "starter",
		StorageProvider:  "local",
		LocalStoragePath: t.TempDir(),
	}
}

func TestNew_Memory(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := New(context.Background(), memoryConfig(t), logger)
	require.NoError(t, err)
	defer a.Close()

	assert.Nil(t, a.Billing)
	assert.Empty(t, a.Checks)

	ctx := context.Background()
	tenantID := uuid.New()

	_, err = a.Quota.Provision(ctx, tenantID, "")
	require.NoError(t, err)

	result, err := a.Quota.Consume(ctx, tenantID, domain.ResourceWorkOrders, 3)
	require.NoError(t, err)
	assert.True(t, result.Check.Allowed)

	dashboard, err := a.Report.GetDashboard(ctx, tenantID)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanStarter, dashboard.Plan.ID)
	assert.Equal(t, int64(3), dashboard.Resources[domain.ResourceWorkOrders].Used)
}

func TestNew_StripeEnablesBilling(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := memoryConfig(t)
	cfg.StripeSecretKey = "sk_test_123"

	a, err := New(context.Background(), cfg, logger)
	require.NoError(t, err)
	defer a.Close()

	assert.NotNil(t, a.Billing)
}

func TestLoadCatalog(t *testing.T) {
	t.Run("built-in plans", func(t *testing.T) {
		cfg := memoryConfig(t)
		catalog, err := LoadCatalog(cfg)
		require.NoError(t, err)
		assert.Len(t, catalog.All(), 3)
		assert.Equal(t, domain.PlanStarter, catalog.Default().ID)
	})

	t.Run("unknown default plan", func(t *testing.T) {
		cfg := memoryConfig(t)
		cfg.DefaultPlan = "platinum"
		_, err := LoadCatalog(cfg)
		assert.Error(t, err)
	})

	t.Run("missing catalog file", func(t *testing.T) {
		cfg := memoryConfig(t)
		cfg.PlanCatalogPath = filepath.Join(t.TempDir(), "plans.yaml")
		_, err := LoadCatalog(cfg)
		assert.Error(t, err)
	})

	t.Run("catalog file", func(t *testing.T) {
		cfg := memoryConfig(t)
		cfg.PlanCatalogPath = filepath.Join(t.TempDir(), "plans.yaml")
		require.NoError(t, os.WriteFile(cfg.PlanCatalogPath, []byte(testCatalog), 0o600))

		catalog, err := LoadCatalog(cfg)
		require.NoError(t, err)
		plan, err := catalog.Get(domain.PlanStarter)
		require.NoError(t, err)
		max, ok := plan.Limits.WorkOrders.Max()
		require.True(t, ok)
		assert.Equal(t, int64(75), max)
	})
}

const testCatalog = `
default: starter
plans:
  - id: starter
    name: Starter
    limits: {apiCalls: 20000, workOrders: 75, users: 5, storageMb: 2048}
    features: [work_orders]
  - id: enterprise
    name: Enterprise
    limits: {apiCalls: -1, workOrders: -1, users: -1, storageMb: -1}
`
