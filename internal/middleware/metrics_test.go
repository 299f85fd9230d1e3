package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

// =============================================================================
// Metrics Auth Middleware Tests
// =============================================================================

func TestMetricsAuthMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		username   string
		password   string
		setAuth    bool
		user, pass string
		wantStatus int
	}{
		{
			name:       "valid credentials",
			username:   "prometheus",
			password:   "scrape-secret",
			setAuth:    true,
			user:       "prometheus",
			pass:       "scrape-secret",
			wantStatus: http.StatusOK,
		},
		{
			name:       "no credentials",
			username:   "prometheus",
			password:   "scrape-secret",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong password",
			username:   "prometheus",
			password:   "scrape-secret",
			setAuth:    true,
			user:       "prometheus",
			pass:       "guess",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "wrong username",
			username:   "prometheus",
			password:   "scrape-secret",
			setAuth:    true,
			user:       "grafana",
			pass:       "scrape-secret",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "password only",
			password:   "scrape-secret",
			setAuth:    true,
			user:       "",
			pass:       "scrape-secret",
			wantStatus: http.StatusOK,
		},
		{
			name:       "password prefix",
			username:   "prometheus",
			password:   "scrape-secret",
			setAuth:    true,
			user:       "prometheus",
			pass:       "scrape",
			wantStatus: http.StatusUnauthorized,
		},
		{
			name:       "auth disabled",
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mw := NewMetricsAuthMiddleware(tt.username, tt.password, testLogger())
			handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			})

			req := httptest.NewRequest("GET", "/metrics", nil)
			if tt.setAuth {
				req.SetBasicAuth(tt.user, tt.pass)
			}
			rec := httptest.NewRecorder()
			mw.Handler(handler).ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.wantStatus == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("expected WWW-Authenticate header")
			}
		})
	}
}
