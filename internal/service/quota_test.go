package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/wrenchly/internal/domain"
	"github.com/DukeRupert/wrenchly/internal/plans"
)

// =============================================================================
// CheckLimit
// =============================================================================

func TestCheckLimit_BoundaryAdmission(t *testing.T) {
	tests := []struct {
		name        string
		used        int64
		amount      int64
		wantAllowed bool
		wantPct     float64
	}{
		{"well below limit", 10, 1, true, 20},
		{"last unit fits", 49, 1, true, 98},
		{"at limit", 50, 1, false, 100},
		{"amount overshoots", 45, 6, false, 90},
		{"amount lands exactly on limit", 45, 5, true, 90},
		{"zero amount defaults to one", 49, 0, true, 98},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			id := f.seed(domain.PlanStarter, domain.Counters{WorkOrders: tt.used})

			check, err := f.quota.CheckLimit(context.Background(), id, domain.ResourceWorkOrders, tt.amount)
			require.NoError(t, err)
			assert.Equal(t, tt.wantAllowed, check.Allowed)
			assert.InDelta(t, tt.wantPct, check.Percentage, 0.001)
			assert.Equal(t, tt.used, check.CurrentUsage)
			assert.Equal(t, 50-tt.used, check.Remaining)
		})
	}
}

func TestCheckLimit_Unlimited(t *testing.T) {
	f := newFixture(t)
	id := f.seed(domain.PlanEnterprise, domain.Counters{APICalls: 10_000_000})

	check, err := f.quota.CheckLimit(context.Background(), id, domain.ResourceAPICalls, 1)
	require.NoError(t, err)
	assert.True(t, check.Allowed)
	assert.Zero(t, check.Percentage)
	assert.True(t, check.Limit.IsUnlimited())
	assert.Equal(t, int64(-1), check.Remaining)
}

func TestCheckLimit_DoesNotConsume(t *testing.T) {
	f := newFixture(t)
	id := f.seed(domain.PlanStarter, domain.Counters{WorkOrders: 10})

	_, err := f.quota.CheckLimit(context.Background(), id, domain.ResourceWorkOrders, 5)
	require.NoError(t, err)

	usage, err := f.quota.GetUsage(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(10), usage.Counters.WorkOrders)
}

func TestCheckLimit_InvalidInput(t *testing.T) {
	f := newFixture(t)
	id := f.seed(domain.PlanStarter, domain.Counters{})

	tests := []struct {
		name     string
		resource domain.Resource
		amount   int64
	}{
		{"negative amount", domain.ResourceWorkOrders, -1},
		{"unknown resource", domain.Resource("invoices"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			check, err := f.quota.CheckLimit(context.Background(), id, tt.resource, tt.amount)
			require.Error(t, err)
			assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
			assert.False(t, check.Allowed)
		})
	}
}

// =============================================================================
// Provisioning
// =============================================================================

func TestCheckLimit_UnknownTenant(t *testing.T) {
	t.Run("not provisioned without auto-provisioning", func(t *testing.T) {
		f := newFixture(t)

		check, err := f.quota.CheckLimit(context.Background(), uuid.New(), domain.ResourceAPICalls, 1)
		require.Error(t, err)
		assert.Equal(t, domain.ENOTPROVISIONED, domain.ErrorCode(err))
		assert.False(t, check.Allowed)
	})

	t.Run("auto-provisioned on default plan", func(t *testing.T) {
		f := newFixture(t, withAutoProvision())
		id := uuid.New()

		check, err := f.quota.CheckLimit(context.Background(), id, domain.ResourceAPICalls, 1)
		require.NoError(t, err)
		assert.True(t, check.Allowed)

		usage, err := f.store.Get(context.Background(), id)
		require.NoError(t, err)
		assert.Equal(t, domain.PlanStarter, usage.PlanID)
	})
}

func TestIncrement_NeverProvisions(t *testing.T) {
	f := newFixture(t, withAutoProvision())

	_, err := f.quota.Increment(context.Background(), uuid.New(), domain.ResourceAPICalls, 1)
	require.Error(t, err)
	assert.Equal(t, domain.ENOTPROVISIONED, domain.ErrorCode(err))
}

func TestProvision_Idempotent(t *testing.T) {
	f := newFixture(t)
	id := uuid.New()

	first, err := f.quota.Provision(context.Background(), id, domain.PlanProfessional)
	require.NoError(t, err)
	_, err = f.quota.Increment(context.Background(), id, domain.ResourceUsers, 2)
	require.NoError(t, err)

	second, err := f.quota.Provision(context.Background(), id, domain.PlanStarter)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanProfessional, second.PlanID)
	assert.Equal(t, int64(2), second.Counters.Users)
	assert.Equal(t, first.PeriodStart, second.PeriodStart)
}

func TestProvision_UnknownPlan(t *testing.T) {
	f := newFixture(t)

	_, err := f.quota.Provision(context.Background(), uuid.New(), domain.PlanID("platinum"))
	require.Error(t, err)
	assert.Equal(t, domain.EINVALID, domain.ErrorCode(err))
}

func TestChangePlan_KeepsCounters(t *testing.T) {
	f := newFixture(t)
	id := f.seed(domain.PlanStarter, domain.Counters{WorkOrders: 50})

	check, err := f.quota.CheckLimit(context.Background(), id, domain.ResourceWorkOrders, 1)
	require.NoError(t, err)
	require.False(t, check.Allowed)

	usage, err := f.quota.ChangePlan(context.Background(), id, domain.PlanProfessional)
	require.NoError(t, err)
	assert.Equal(t, domain.PlanProfessional, usage.PlanID)
	assert.Equal(t, int64(50), usage.Counters.WorkOrders)

	check, err = f.quota.CheckLimit(context.Background(), id, domain.ResourceWorkOrders, 1)
	require.NoError(t, err)
	assert.True(t, check.Allowed)
	assert.InDelta(t, 10, check.Percentage, 0.001)
}

// =============================================================================
// Increment and Consume
// =============================================================================

func TestIncrement_Monotonic(t *testing.T) {
	f := newFixture(t)
	id := f.seed(domain.PlanEnterprise, domain.Counters{})

	const workers = 50
	var wg sync.WaitGroup
	for i := 1; i <= workers; i++ {
		wg.Add(1)
		go func(n int64) {
			defer wg.Done()
			_, err := f.quota.Increment(context.Background(), id, domain.ResourceAPICalls, n)
			assert.NoError(t, err)
		}(int64(i))
	}
	wg.Wait()

	usage, err := f.quota.GetUsage(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(workers*(workers+1)/2), usage.Counters.APICalls)
}

func TestConsume_NeverOvershoots(t *testing.T) {
	f := newFixture(t)
	id := f.seed(domain.PlanStarter, domain.Counters{})

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.quota.Consume(context.Background(), id, domain.ResourceWorkOrders, 1)
			assert.NoError(t, err)
			if res.Check.Allowed {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), admitted.Load())
	usage, err := f.quota.GetUsage(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, int64(50), usage.Counters.WorkOrders)
}

func TestConsume_ReportsUsageBeforeReservation(t *testing.T) {
	f := newFixture(t)
	id := f.seed(domain.PlanStarter, domain.Counters{WorkOrders: 49})

	res, err := f.quota.Consume(context.Background(), id, domain.ResourceWorkOrders, 1)
	require.NoError(t, err)
	assert.True(t, res.Check.Allowed)
	assert.Equal(t, int64(49), res.Check.CurrentUsage)
	assert.Equal(t, int64(50), res.Usage.Counters.WorkOrders)
	assert.Equal(t, 1, f.recorder.Pending())

	res, err = f.quota.Consume(context.Background(), id, domain.ResourceWorkOrders, 1)
	require.NoError(t, err)
	assert.False(t, res.Check.Allowed)
	assert.Equal(t, int64(50), res.Check.CurrentUsage)
	assert.InDelta(t, 100, res.Check.Percentage, 0.001)
	assert.Equal(t, int64(50), res.Usage.Counters.WorkOrders)
}

// =============================================================================
// Lazy Rollover
// =============================================================================

func TestGetUsage_RollsOverElapsedPeriod(t *testing.T) {
	f := newFixture(t)
	id := f.seedStale(domain.PlanStarter, domain.Counters{WorkOrders: 49, APICalls: 9_000})

	// Alerts raised late last period.
	f.clock.Set(testNow.AddDate(0, -1, 0))
	raised, err := f.alerts.EvaluateThresholds(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, raised, 2)
	f.clock.Set(testNow)

	usage, err := f.quota.GetUsage(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, domain.Counters{}, usage.Counters)
	start, end := domain.UsageWindow(testNow)
	assert.Equal(t, start, usage.PeriodStart)
	assert.Equal(t, end, usage.PeriodEnd)

	open, err := f.alertRepo.ListOpen(context.Background(), id)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestIncrement_CountsTowardNewPeriod(t *testing.T) {
	f := newFixture(t)
	id := f.seedStale(domain.PlanStarter, domain.Counters{WorkOrders: 50})

	usage, err := f.quota.Increment(context.Background(), id, domain.ResourceWorkOrders, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), usage.Counters.WorkOrders)
}

// =============================================================================
// Failure Handling
// =============================================================================

func TestCheckLimit_FailsClosedOnStoreError(t *testing.T) {
	catalog, err := plans.NewDefault(domain.PlanStarter)
	require.NoError(t, err)

	store := &mockStore{}
	id := uuid.New()
	store.On("Get", mock.Anything, id).Return(nil, errors.New("dial tcp: connection refused"))

	svc := NewQuotaService(store, catalog, QuotaConfig{}, testLogger())

	check, err := svc.CheckLimit(context.Background(), id, domain.ResourceAPICalls, 1)
	require.Error(t, err)
	assert.Equal(t, domain.EUNAVAILABLE, domain.ErrorCode(err))
	assert.False(t, check.Allowed)
	store.AssertExpectations(t)
}

func TestCheckLimit_FailsClosedOnTimeout(t *testing.T) {
	catalog, err := plans.NewDefault(domain.PlanStarter)
	require.NoError(t, err)

	store := &mockStore{}
	id := uuid.New()
	store.On("Get", mock.Anything, id).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)

	svc := NewQuotaService(store, catalog, QuotaConfig{Timeout: 20 * time.Millisecond}, testLogger())

	start := time.Now()
	check, err := svc.CheckLimit(context.Background(), id, domain.ResourceAPICalls, 1)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, domain.EUNAVAILABLE, domain.ErrorCode(err))
	assert.Equal(t, "usage store timed out", domain.ErrorMessage(err))
	assert.False(t, check.Allowed)
}

func TestConsume_FailsClosedOnStoreError(t *testing.T) {
	catalog, err := plans.NewDefault(domain.PlanStarter)
	require.NoError(t, err)

	store := &mockStore{}
	id := uuid.New()
	usage := domain.NewTenantUsage(id, domain.PlanStarter, time.Now())
	store.On("Get", mock.Anything, id).Return(usage, nil)
	store.On("TryConsume", mock.Anything, id, domain.ResourceWorkOrders, int64(1), mock.Anything).
		Return(nil, false, errors.New("redis: connection pool timeout"))

	svc := NewQuotaService(store, catalog, QuotaConfig{}, testLogger())

	res, err := svc.Consume(context.Background(), id, domain.ResourceWorkOrders, 1)
	require.Error(t, err)
	assert.Equal(t, domain.EUNAVAILABLE, domain.ErrorCode(err))
	assert.False(t, res.Check.Allowed)
	assert.Nil(t, res.Usage)
	store.AssertExpectations(t)
}
