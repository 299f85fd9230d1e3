package middleware

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/DukeRupert/wrenchly/internal/auth"
)

// =============================================================================
// Tenant Middleware
// =============================================================================

// TenantMiddleware resolves the calling tenant from the gateway header.
//
// The gateway in front of this service authenticates users and forwards
// the tenant they act for in X-Tenant-ID. This middleware only checks that
// the header is present and well formed.
type TenantMiddleware struct {
	logger *slog.Logger
}

// NewTenantMiddleware creates a new tenant middleware.
func NewTenantMiddleware(logger *slog.Logger) *TenantMiddleware {
	return &TenantMiddleware{logger: logger}
}

// RequireTenant rejects requests without a valid tenant header with 401
// and stores the tenant ID in the request context otherwise.
func (m *TenantMiddleware) RequireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID, ok := auth.ParseTenantHeader(r)
		if !ok {
			m.logger.Info("missing or malformed tenant header",
				"path", r.URL.Path,
				"method", r.Method,
			)
			writeJSONError(w, http.StatusUnauthorized, "unauthorized", "A valid X-Tenant-ID header is required")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.SetTenantID(r.Context(), tenantID)))
	})
}

// =============================================================================
// Operator Middleware
// =============================================================================

// OperatorMiddleware guards operator routes with a bearer token checked
// against a bcrypt hash. Failed attempts are rate limited per client IP.
type OperatorMiddleware struct {
	tokenHash []byte
	failures  *RateLimiter
	logger    *slog.Logger
}

// Operator token failures allowed per client IP per window.
const (
	operatorMaxFailures   = 5
	operatorFailureWindow = 15 * time.Minute
)

// NewOperatorMiddleware creates a new operator middleware. With an empty
// tokenHash every operator request is forbidden.
func NewOperatorMiddleware(tokenHash string, logger *slog.Logger) *OperatorMiddleware {
	return &OperatorMiddleware{
		tokenHash: []byte(strings.TrimSpace(tokenHash)),
		failures:  NewRateLimiter(operatorMaxFailures, operatorFailureWindow, logger),
		logger:    logger,
	}
}

// RequireOperator rejects requests that do not carry the operator token.
func (m *OperatorMiddleware) RequireOperator(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(m.tokenHash) == 0 {
			m.logger.Warn("operator route called but no operator token is configured", "path", r.URL.Path)
			writeJSONError(w, http.StatusForbidden, "forbidden", "Operator access is not configured")
			return
		}

		clientIP := getClientIP(r)
		if m.failures.Blocked(clientIP) {
			retryAfter := int(m.failures.TimeUntilReset(clientIP).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeJSONError(w, http.StatusTooManyRequests, "rate_limit", "Too many failed attempts. Please try again later.")
			return
		}

		token, ok := bearerToken(r)
		if !ok || bcrypt.CompareHashAndPassword(m.tokenHash, []byte(token)) != nil {
			m.failures.RecordFailure(clientIP)
			m.logger.Warn("operator authentication failed",
				"ip", clientIP,
				"path", r.URL.Path,
			)
			w.Header().Set("WWW-Authenticate", `Bearer realm="operator"`)
			writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Operator authentication required")
			return
		}

		m.failures.Reset(clientIP)
		next.ServeHTTP(w, r.WithContext(auth.SetOperator(r.Context())))
	})
}

// Stop releases the failure tracker's background goroutine.
func (m *OperatorMiddleware) Stop() {
	m.failures.Stop()
}

// bearerToken extracts the token from an "Authorization: Bearer" header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// =============================================================================
// Helper Functions
// =============================================================================

// writeJSONError writes the same error envelope the handlers use.
func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

// =============================================================================
// Middleware Chaining Helper
// =============================================================================

// Stack combines multiple middleware into a single middleware.
// Middleware are applied in order (first middleware wraps outermost).
//
// Usage:
//
//	tenantStack := Stack(tenantMw.RequireTenant, meterMw.Handler)
//	mux.Handle("GET /api/usage/dashboard", tenantStack(dashboardHandler))
func Stack(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}

// =============================================================================
// Compile-time checks
// =============================================================================

var (
	_ func(http.Handler) http.Handler = (&TenantMiddleware{}).RequireTenant
	_ func(http.Handler) http.Handler = (&OperatorMiddleware{}).RequireOperator
)
