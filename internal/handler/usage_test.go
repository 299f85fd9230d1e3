package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/DukeRupert/wrenchly/internal/auth"
	"github.com/DukeRupert/wrenchly/internal/domain"
	"github.com/DukeRupert/wrenchly/internal/middleware"
	"github.com/DukeRupert/wrenchly/internal/plans"
	"github.com/DukeRupert/wrenchly/internal/repository"
	"github.com/DukeRupert/wrenchly/internal/service"
	"github.com/DukeRupert/wrenchly/internal/usagestore"
)

const operatorToken = "op-token-7f3a"

// failingStore makes every read fail as if the store were unreachable.
type failingStore struct {
	*usagestore.MemoryStore
}

func (s *failingStore) Get(ctx context.Context, tenantID uuid.UUID) (*domain.TenantUsage, error) {
	return nil, errors.New("dial tcp 10.0.3.7:6379: connect: connection refused")
}

type testServer struct {
	store  *usagestore.MemoryStore
	quota  service.QuotaService
	alerts service.AlertService
	usage  *UsageHandler
	mux    *http.ServeMux
}

func newTestServer(t *testing.T, store usagestore.Store) *testServer {
	t.Helper()

	memStore, _ := store.(*usagestore.MemoryStore)
	if fs, ok := store.(*failingStore); ok {
		memStore = fs.MemoryStore
	}

	catalog, err := plans.NewDefault(domain.PlanStarter)
	require.NoError(t, err)

	logger := testLogger()
	alertRepo := repository.NewMemoryAlertRepository()
	snapshots := repository.NewMemorySnapshotRepository()
	subs := repository.NewMemorySubscriptionRepository()
	recorder := service.NewSnapshotRecorder(snapshots, logger)

	alerts := service.NewAlertService(store, catalog, alertRepo, subs, nil, service.AlertConfig{}, logger)
	quota := service.NewQuotaService(store, catalog, service.QuotaConfig{
		Recorder: recorder,
		Resolver: alerts,
	}, logger)
	report := service.NewReportService(quota, catalog, snapshots, subs, alertRepo, recorder, nil, logger)
	rollover := service.NewRolloverService(store, alerts, report, logger)

	hash, err := bcrypt.GenerateFromPassword([]byte(operatorToken), bcrypt.MinCost)
	require.NoError(t, err)
	operatorMw := middleware.NewOperatorMiddleware(string(hash), logger)
	t.Cleanup(operatorMw.Stop)

	requireTenant := middleware.NewTenantMiddleware(logger).RequireTenant
	requireOperator := middleware.Stack(requireTenant, operatorMw.RequireOperator)

	usage := NewUsageHandler(quota, alerts, report, rollover, logger)
	mux := http.NewServeMux()
	usage.RegisterRoutes(mux, requireTenant, requireTenant, requireOperator)
	NewSubscriptionHandler(quota, logger).RegisterRoutes(mux, requireTenant)
	NewHealthHandler(nil, logger).RegisterRoutes(mux)

	return &testServer{store: memStore, quota: quota, alerts: alerts, usage: usage, mux: mux}
}

func (s *testServer) seed(t *testing.T, tenantID uuid.UUID, plan domain.PlanID, counters domain.Counters) {
	t.Helper()
	u := domain.NewTenantUsage(tenantID, plan, time.Now())
	u.Counters = counters
	s.store.Seed(*u)
}

func (s *testServer) do(t *testing.T, method, path string, tenantID uuid.UUID, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tenantID != uuid.Nil {
		req.Header.Set(auth.TenantHeader, tenantID.String())
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	s.usage.Wait()
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

// =============================================================================
// Tenant Header
// =============================================================================

func TestUsageRoutes_RequireTenant(t *testing.T) {
	s := newTestServer(t, usagestore.NewMemoryStore())

	for _, route := range []struct{ method, path string }{
		{"GET", "/api/usage/dashboard"},
		{"GET", "/api/usage/stats"},
		{"GET", "/api/usage/alerts"},
		{"POST", "/api/usage/track"},
		{"POST", "/api/subscription/check-limit"},
	} {
		t.Run(route.path, func(t *testing.T) {
			rec := s.do(t, route.method, route.path, uuid.Nil, nil)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

// =============================================================================
// Dashboard
// =============================================================================

type dashboardBody struct {
	TenantID uuid.UUID `json:"tenantId"`
	Status   string    `json:"status"`
	Plan     struct {
		ID string `json:"id"`
	} `json:"plan"`
	Resources map[string]struct {
		Used       int64   `json:"used"`
		Limit      int64   `json:"limit"`
		Percentage float64 `json:"percentage"`
		Remaining  int64   `json:"remaining"`
	} `json:"resources"`
	OpenAlerts []any `json:"openAlerts"`
}

func TestDashboard(t *testing.T) {
	s := newTestServer(t, usagestore.NewMemoryStore())
	tenantID := uuid.New()
	s.seed(t, tenantID, domain.PlanStarter, domain.Counters{WorkOrders: 49, APICalls: 1200})

	rec := s.do(t, "GET", "/api/usage/dashboard", tenantID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[dashboardBody](t, rec)

	assert.Equal(t, tenantID, body.TenantID)
	assert.Equal(t, "active", body.Status)
	assert.Equal(t, "starter", body.Plan.ID)
	assert.NotNil(t, body.OpenAlerts)

	wo := body.Resources["workOrders"]
	assert.Equal(t, int64(49), wo.Used)
	assert.Equal(t, int64(50), wo.Limit)
	assert.InDelta(t, 98.0, wo.Percentage, 0.001)
	assert.Equal(t, int64(1), wo.Remaining)
	assert.Equal(t, int64(1200), body.Resources["apiCalls"].Used)
}

func TestDashboard_NotProvisioned(t *testing.T) {
	s := newTestServer(t, usagestore.NewMemoryStore())

	rec := s.do(t, "GET", "/api/usage/dashboard", uuid.New(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, domain.ENOTPROVISIONED, decode[JSONError](t, rec).Error.Code)
}

// =============================================================================
// Stats
// =============================================================================

func TestStats(t *testing.T) {
	s := newTestServer(t, usagestore.NewMemoryStore())
	tenantID := uuid.New()
	s.seed(t, tenantID, domain.PlanStarter, domain.Counters{})

	tests := []struct {
		query      string
		wantStatus int
	}{
		{"", http.StatusOK},
		{"?period=day", http.StatusOK},
		{"?period=week", http.StatusOK},
		{"?period=year", http.StatusOK},
		{"?period=fortnight", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := s.do(t, "GET", "/api/usage/stats"+tt.query, tenantID, nil)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

// =============================================================================
// Track
// =============================================================================

func TestTrack_WorkOrderWalkthrough(t *testing.T) {
	s := newTestServer(t, usagestore.NewMemoryStore())
	tenantID := uuid.New()
	s.seed(t, tenantID, domain.PlanStarter, domain.Counters{WorkOrders: 48})

	// 48 -> 49 is admitted and crosses the 95% threshold.
	rec := s.do(t, "POST", "/api/usage/track", tenantID, map[string]any{"type": "workOrders"})
	require.Equal(t, http.StatusOK, rec.Code)

	tracked := decode[trackResponse](t, rec)
	assert.Equal(t, domain.ResourceWorkOrders, tracked.Resource)
	assert.Equal(t, int64(49), tracked.Used)
	assert.Equal(t, int64(1), tracked.Remaining)

	rec = s.do(t, "GET", "/api/usage/alerts?resolved=false", tenantID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	listed := decode[alertsResponse](t, rec)
	require.Len(t, listed.Alerts, 1)
	assert.Equal(t, domain.SeverityHigh, listed.Alerts[0].Severity)

	// 49 -> 50 is admitted and reaches the limit.
	rec = s.do(t, "POST", "/api/usage/track", tenantID, map[string]any{"type": "workOrders", "amount": 1})
	require.Equal(t, http.StatusOK, rec.Code)

	// The 51st is denied with the structured body.
	rec = s.do(t, "POST", "/api/usage/track", tenantID, map[string]any{"type": "workOrders"})
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	denied := decode[QuotaErrorBody](t, rec)
	assert.Equal(t, "quota_exceeded", denied.Error)
	assert.Equal(t, domain.ResourceWorkOrders, denied.Resource)
	assert.Equal(t, int64(50), denied.Used)
	assert.Equal(t, int64(50), denied.Limit)

	usage, err := s.store.Get(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, int64(50), usage.Counters.WorkOrders)

	rec = s.do(t, "GET", "/api/usage/alerts", tenantID, nil)
	listed = decode[alertsResponse](t, rec)
	require.Len(t, listed.Alerts, 1, "escalation updates the alert in place")
	assert.Equal(t, domain.SeverityCritical, listed.Alerts[0].Severity)
	assert.Equal(t, domain.AlertLimitExceeded, listed.Alerts[0].Type)
}

func TestTrack_Validation(t *testing.T) {
	s := newTestServer(t, usagestore.NewMemoryStore())
	tenantID := uuid.New()
	s.seed(t, tenantID, domain.PlanStarter, domain.Counters{})

	tests := []struct {
		name      string
		body      any
		wantField string
	}{
		{name: "missing type", body: map[string]any{"amount": 2}, wantField: "type"},
		{name: "unknown type", body: map[string]any{"type": "invoices"}, wantField: "type"},
		{name: "zero amount", body: map[string]any{"type": "apiCalls", "amount": 0}, wantField: "amount"},
		{name: "negative amount", body: map[string]any{"type": "apiCalls", "amount": -5}, wantField: "amount"},
		{name: "malformed json", body: `{"type":`},
		{name: "empty body", body: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, "POST", "/api/usage/track", tenantID, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			resp := decode[JSONError](t, rec)
			assert.Equal(t, domain.EINVALID, resp.Error.Code)
			if tt.wantField != "" {
				assert.Contains(t, resp.Error.Fields, tt.wantField)
			}
		})
	}

	usage, err := s.store.Get(context.Background(), tenantID)
	require.NoError(t, err)
	assert.Equal(t, domain.Counters{}, usage.Counters, "rejected requests consume nothing")
}

func TestTrack_StoreUnavailable(t *testing.T) {
	s := newTestServer(t, &failingStore{MemoryStore: usagestore.NewMemoryStore()})

	rec := s.do(t, "POST", "/api/usage/track", uuid.New(), map[string]any{"type": "apiCalls"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.3.7")
}

// =============================================================================
// Alerts
// =============================================================================

func TestAlerts_InvalidQuery(t *testing.T) {
	s := newTestServer(t, usagestore.NewMemoryStore())
	tenantID := uuid.New()
	s.seed(t, tenantID, domain.PlanStarter, domain.Counters{})

	for _, query := range []string{"?resolved=maybe", "?limit=0", "?limit=ten"} {
		t.Run(query, func(t *testing.T) {
			rec := s.do(t, "GET", "/api/usage/alerts"+query, tenantID, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestAlerts_EmptyListIsArray(t *testing.T) {
	s := newTestServer(t, usagestore.NewMemoryStore())
	tenantID := uuid.New()
	s.seed(t, tenantID, domain.PlanStarter, domain.Counters{})

	rec := s.do(t, "GET", "/api/usage/alerts", tenantID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"alerts":[]}`, rec.Body.String())
}

// =============================================================================
// Operator Routes
// =============================================================================

func TestResolveAlert(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t, usagestore.NewMemoryStore())
	tenantID := uuid.New()
	s.seed(t, tenantID, domain.PlanStarter, domain.Counters{APICalls: 8200})

	raised, err := s.alerts.EvaluateThresholds(ctx, tenantID)
	require.NoError(t, err)
	require.Len(t, raised, 1)
	alertID := raised[0].ID
	path := "/api/usage/alerts/" + alertID + "/resolve"

	t.Run("requires operator token", func(t *testing.T) {
		rec := s.do(t, "POST", path, tenantID, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("resolves", func(t *testing.T) {
		rec := s.do(t, "POST", path, tenantID, nil, "Authorization", "Bearer "+operatorToken)
		require.Equal(t, http.StatusOK, rec.Code)

		alert := decode[domain.Alert](t, rec)
		assert.Equal(t, alertID, alert.ID)
		assert.True(t, alert.Resolved)
		assert.NotNil(t, alert.ResolvedAt)
	})

	t.Run("unknown alert", func(t *testing.T) {
		rec := s.do(t, "POST", "/api/usage/alerts/01JQ8ZJ6W4M3K7X0N5P2R9T1VB/resolve", tenantID, nil, "Authorization", "Bearer "+operatorToken)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("other tenant cannot resolve", func(t *testing.T) {
		rec := s.do(t, "POST", path, uuid.New(), nil, "Authorization", "Bearer "+operatorToken)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	s := newTestServer(t, usagestore.NewMemoryStore())
	tenantID := uuid.New()
	s.seed(t, tenantID, domain.PlanStarter, domain.Counters{APICalls: 9900, WorkOrders: 50})

	_, err := s.alerts.EvaluateThresholds(ctx, tenantID)
	require.NoError(t, err)

	rec := s.do(t, "POST", "/api/usage/reset", tenantID, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	for i := 0; i < 2; i++ {
		rec = s.do(t, "POST", "/api/usage/reset", tenantID, nil, "Authorization", "Bearer "+operatorToken)
		require.Equal(t, http.StatusOK, rec.Code)

		usage := decode[domain.TenantUsage](t, rec)
		assert.Equal(t, domain.Counters{}, usage.Counters)
		assert.Equal(t, tenantID, usage.TenantID)
	}

	open := false
	alerts, err := s.alerts.ListAlerts(ctx, tenantID, domain.AlertFilter{Resolved: &open})
	require.NoError(t, err)
	assert.Empty(t, alerts, "reset resolves quota alerts")
}

func TestReset_NotProvisioned(t *testing.T) {
	s := newTestServer(t, usagestore.NewMemoryStore())

	rec := s.do(t, "POST", "/api/usage/reset", uuid.New(), nil, "Authorization", "Bearer "+operatorToken)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// Check Limit
// =============================================================================

func TestCheckLimit(t *testing.T) {
	s := newTestServer(t, usagestore.NewMemoryStore())
	starter, enterprise := uuid.New(), uuid.New()
	s.seed(t, starter, domain.PlanStarter, domain.Counters{WorkOrders: 49, Users: 3})
	s.seed(t, enterprise, domain.PlanEnterprise, domain.Counters{WorkOrders: 1_000_000})

	tests := []struct {
		name       string
		tenant     uuid.UUID
		body       map[string]any
		wantStatus int
		want       CheckLimitResponse
	}{
		{
			name:       "fits",
			tenant:     starter,
			body:       map[string]any{"type": "workOrders"},
			wantStatus: http.StatusOK,
			want:       CheckLimitResponse{CanPerform: true, CurrentUsage: 49, Limit: domain.Bounded(50), Percentage: 98},
		},
		{
			name:       "exceeds",
			tenant:     starter,
			body:       map[string]any{"type": "workOrders", "amount": 2},
			wantStatus: http.StatusOK,
			want:       CheckLimitResponse{CanPerform: false, CurrentUsage: 49, Limit: domain.Bounded(50), Percentage: 98},
		},
		{
			name:       "at limit",
			tenant:     starter,
			body:       map[string]any{"type": "users"},
			wantStatus: http.StatusOK,
			want:       CheckLimitResponse{CanPerform: false, CurrentUsage: 3, Limit: domain.Bounded(3), Percentage: 100},
		},
		{
			name:       "unlimited",
			tenant:     enterprise,
			body:       map[string]any{"type": "workOrders", "amount": 5000},
			wantStatus: http.StatusOK,
			want:       CheckLimitResponse{CanPerform: true, CurrentUsage: 1_000_000, Limit: domain.Unlimited(), Percentage: 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, "POST", "/api/subscription/check-limit", tt.tenant, tt.body)
			require.Equal(t, tt.wantStatus, rec.Code)

			got := decode[CheckLimitResponse](t, rec)
			assert.Equal(t, tt.want.CanPerform, got.CanPerform)
			assert.Equal(t, tt.want.CurrentUsage, got.CurrentUsage)
			assert.Equal(t, tt.want.Limit, got.Limit)
			assert.InDelta(t, tt.want.Percentage, got.Percentage, 0.001)
		})
	}

	usage, err := s.store.Get(context.Background(), starter)
	require.NoError(t, err)
	assert.Equal(t, int64(49), usage.Counters.WorkOrders, "checks consume nothing")
}

func TestCheckLimit_UnlimitedEncodesMinusOne(t *testing.T) {
	s := newTestServer(t, usagestore.NewMemoryStore())
	tenantID := uuid.New()
	s.seed(t, tenantID, domain.PlanEnterprise, domain.Counters{})

	rec := s.do(t, "POST", "/api/subscription/check-limit", tenantID, map[string]any{"type": "storageMb"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"canPerform":true,"currentUsage":0,"limit":-1,"percentage":0}`, rec.Body.String())
}

func TestCheckLimit_StoreUnavailable(t *testing.T) {
	s := newTestServer(t, &failingStore{MemoryStore: usagestore.NewMemoryStore()})

	rec := s.do(t, "POST", "/api/subscription/check-limit", uuid.New(), map[string]any{"type": "workOrders"})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	got := decode[CheckLimitResponse](t, rec)
	assert.False(t, got.CanPerform)
}

// =============================================================================
// Health
// =============================================================================

func TestHealth(t *testing.T) {
	s := newTestServer(t, usagestore.NewMemoryStore())

	rec := s.do(t, "GET", "/health", uuid.Nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHealth_Ready(t *testing.T) {
	mux := http.NewServeMux()
	NewHealthHandler(map[string]Pinger{
		"postgres": PingFunc(func(ctx context.Context) error { return nil }),
		"redis":    PingFunc(func(ctx context.Context) error { return errors.New("connection refused") }),
	}, testLogger()).RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/health/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"status":"unavailable","checks":{"postgres":"ok","redis":"unavailable"}}`, rec.Body.String())
}
