package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/wrenchly/internal/domain"
	"github.com/DukeRupert/wrenchly/internal/email"
	"github.com/DukeRupert/wrenchly/internal/plans"
	"github.com/DukeRupert/wrenchly/internal/repository"
	"github.com/DukeRupert/wrenchly/internal/storage"
	"github.com/DukeRupert/wrenchly/internal/usagestore"
)

// =============================================================================
// Test Clock
// =============================================================================

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(t time.Time) *testClock {
	return &testClock{now: t}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// =============================================================================
// Fixture
// =============================================================================

var testNow = time.Date(2026, time.March, 14, 10, 30, 0, 0, time.UTC)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	clock     *testClock
	store     *usagestore.MemoryStore
	catalog   *plans.Catalog
	alertRepo *repository.MemoryAlertRepository
	subs      *repository.MemorySubscriptionRepository
	snapshots *repository.MemorySnapshotRepository
	recorder  *SnapshotRecorder
	archive   storage.Storage

	alerts   AlertService
	quota    QuotaService
	rollover RolloverService
	report   ReportService
}

type fixtureOption func(*fixtureConfig)

type fixtureConfig struct {
	mailer        email.EmailService
	autoProvision bool
	activity      ActivityConfig
}

func withMailer(m email.EmailService) fixtureOption {
	return func(c *fixtureConfig) { c.mailer = m }
}

func withAutoProvision() fixtureOption {
	return func(c *fixtureConfig) { c.autoProvision = true }
}

func withActivity(a ActivityConfig) fixtureOption {
	return func(c *fixtureConfig) { c.activity = a }
}

// newFixture wires the services the same way the server does, over
// in-memory backends and a fixed clock.
func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()

	var cfg fixtureConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	catalog, err := plans.NewDefault(domain.PlanStarter)
	require.NoError(t, err)

	archive, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir()}, testLogger())
	require.NoError(t, err)

	f := &fixture{
		clock:     newTestClock(testNow),
		store:     usagestore.NewMemoryStore(),
		catalog:   catalog,
		alertRepo: repository.NewMemoryAlertRepository(),
		subs:      repository.NewMemorySubscriptionRepository(),
		snapshots: repository.NewMemorySnapshotRepository(),
		archive:   archive,
	}
	logger := testLogger()

	f.recorder = NewSnapshotRecorder(f.snapshots, logger)
	f.alerts = NewAlertService(f.store, catalog, f.alertRepo, f.subs, cfg.mailer, AlertConfig{
		Activity: cfg.activity,
		Now:      f.clock.Now,
	}, logger)
	f.quota = NewQuotaService(f.store, catalog, QuotaConfig{
		AutoProvision: cfg.autoProvision,
		Recorder:      f.recorder,
		Resolver:      f.alerts,
		Now:           f.clock.Now,
	}, logger)

	report := NewReportService(f.quota, catalog, f.snapshots, f.subs, f.alertRepo, f.recorder, archive, logger)
	report.(*reportService).now = f.clock.Now
	f.report = report

	rollover := NewRolloverService(f.store, f.alerts, report, logger)
	rollover.(*rolloverService).now = f.clock.Now
	f.rollover = rollover

	return f
}

// seed provisions a tenant on plan in the current window with counters.
func (f *fixture) seed(plan domain.PlanID, counters domain.Counters) uuid.UUID {
	id := uuid.New()
	u := domain.NewTenantUsage(id, plan, f.clock.Now())
	u.Counters = counters
	f.store.Seed(*u)
	return id
}

// seedStale provisions a tenant whose window ended last month.
func (f *fixture) seedStale(plan domain.PlanID, counters domain.Counters) uuid.UUID {
	id := uuid.New()
	u := domain.NewTenantUsage(id, plan, f.clock.Now().AddDate(0, -1, 0))
	u.Counters = counters
	f.store.Seed(*u)
	return id
}

// =============================================================================
// Mocks
// =============================================================================

type mockStore struct {
	mock.Mock
}

var _ usagestore.Store = (*mockStore)(nil)

func usageArg(args mock.Arguments, i int) *domain.TenantUsage {
	u, _ := args.Get(i).(*domain.TenantUsage)
	return u
}

func (m *mockStore) Provision(ctx context.Context, tenantID uuid.UUID, plan domain.PlanID, now time.Time) (*domain.TenantUsage, error) {
	args := m.Called(ctx, tenantID, plan, now)
	return usageArg(args, 0), args.Error(1)
}

func (m *mockStore) Get(ctx context.Context, tenantID uuid.UUID) (*domain.TenantUsage, error) {
	args := m.Called(ctx, tenantID)
	return usageArg(args, 0), args.Error(1)
}

func (m *mockStore) Increment(ctx context.Context, tenantID uuid.UUID, resource domain.Resource, amount int64) (*domain.TenantUsage, error) {
	args := m.Called(ctx, tenantID, resource, amount)
	return usageArg(args, 0), args.Error(1)
}

func (m *mockStore) TryConsume(ctx context.Context, tenantID uuid.UUID, resource domain.Resource, amount int64, limit domain.Limit) (*domain.TenantUsage, bool, error) {
	args := m.Called(ctx, tenantID, resource, amount, limit)
	return usageArg(args, 0), args.Bool(1), args.Error(2)
}

func (m *mockStore) Reset(ctx context.Context, tenantID uuid.UUID, now time.Time) (*domain.TenantUsage, error) {
	args := m.Called(ctx, tenantID, now)
	return usageArg(args, 0), args.Error(1)
}

func (m *mockStore) RolloverIfDue(ctx context.Context, tenantID uuid.UUID, now time.Time) (*domain.TenantUsage, bool, error) {
	args := m.Called(ctx, tenantID, now)
	return usageArg(args, 0), args.Bool(1), args.Error(2)
}

func (m *mockStore) SetPlan(ctx context.Context, tenantID uuid.UUID, plan domain.PlanID) (*domain.TenantUsage, error) {
	args := m.Called(ctx, tenantID, plan)
	return usageArg(args, 0), args.Error(1)
}

func (m *mockStore) ListTenants(ctx context.Context) ([]uuid.UUID, error) {
	args := m.Called(ctx)
	ids, _ := args.Get(0).([]uuid.UUID)
	return ids, args.Error(1)
}

func (m *mockStore) ListDue(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	args := m.Called(ctx, now)
	ids, _ := args.Get(0).([]uuid.UUID)
	return ids, args.Error(1)
}

type mockMailer struct {
	mock.Mock
}

var _ email.EmailService = (*mockMailer)(nil)

func (m *mockMailer) SendUsageAlertEmail(ctx context.Context, to string, alert email.UsageAlert) error {
	return m.Called(ctx, to, alert).Error(0)
}

type mockSnapshotRepo struct {
	mock.Mock
}

var _ repository.SnapshotRepository = (*mockSnapshotRepo)(nil)

func (m *mockSnapshotRepo) Apply(ctx context.Context, deltas []domain.SnapshotDelta) error {
	return m.Called(ctx, deltas).Error(0)
}

func (m *mockSnapshotRepo) List(ctx context.Context, tenantID uuid.UUID, from, to time.Time) ([]domain.UsageSnapshot, error) {
	args := m.Called(ctx, tenantID, from, to)
	s, _ := args.Get(0).([]domain.UsageSnapshot)
	return s, args.Error(1)
}

func (m *mockSnapshotRepo) FinalizeBefore(ctx context.Context, cutoff time.Time) ([]domain.UsageSnapshot, error) {
	args := m.Called(ctx, cutoff)
	s, _ := args.Get(0).([]domain.UsageSnapshot)
	return s, args.Error(1)
}
