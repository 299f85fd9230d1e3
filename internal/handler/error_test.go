package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/wrenchly/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// =============================================================================
// Status Mapping
// =============================================================================

func TestErrorResponse_StatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "invalid",
			err:        domain.Invalid("usage.stats", "period must be one of day, week, month, year"),
			wantStatus: http.StatusBadRequest,
			wantCode:   domain.EINVALID,
		},
		{
			name:       "not provisioned",
			err:        domain.NotProvisioned("quota.check_limit", "6f1c2f7e-3a44-4c1b-9d8e-2b7a1f0c9e55"),
			wantStatus: http.StatusNotFound,
			wantCode:   domain.ENOTPROVISIONED,
		},
		{
			name:       "alert not found",
			err:        domain.NotFound("alert.resolve", "alert", "01JQ8ZJ6W4M3K7X0N5P2R9T1VB"),
			wantStatus: http.StatusNotFound,
			wantCode:   domain.ENOTFOUND,
		},
		{
			name:       "store unavailable",
			err:        domain.Unavailable(errors.New("i/o timeout"), "quota.consume", "usage store timed out"),
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   domain.EUNAVAILABLE,
		},
		{
			name:       "unwrapped error",
			err:        errors.New("boom"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   domain.EINTERNAL,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			ErrorResponse(rec, httptest.NewRequest("GET", "/api/usage/dashboard", nil), testLogger(), tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var body JSONError
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
			assert.Equal(t, tt.wantCode, body.Error.Code)
		})
	}
}

func TestErrorResponse_UnavailableSetsRetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	err := domain.Unavailable(errors.New("dial tcp 10.0.3.7:6379: connect: connection refused"), "quota.consume", "usage store unavailable")
	ErrorResponse(rec, httptest.NewRequest("POST", "/api/usage/track", nil), testLogger(), err)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.NotContains(t, rec.Body.String(), "10.0.3.7")
}

func TestErrorResponse_QuotaExceededBody(t *testing.T) {
	rec := httptest.NewRecorder()
	err := domain.QuotaExceeded("usage.track", domain.ResourceWorkOrders, 50, 50)
	ErrorResponse(rec, httptest.NewRequest("POST", "/api/usage/track", nil), testLogger(), err)

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	var body QuotaErrorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "quota_exceeded", body.Error)
	assert.Equal(t, domain.ResourceWorkOrders, body.Resource)
	assert.Equal(t, int64(50), body.Used)
	assert.Equal(t, int64(50), body.Limit)
	assert.Contains(t, body.Message, "work orders")
}

// =============================================================================
// Error Response Tests - Security Focus
// =============================================================================

type mockDatabaseError struct {
	message string
}

func (e *mockDatabaseError) Error() string {
	return e.message
}

func TestErrorResponse_InternalErrorHidesDetails(t *testing.T) {
	dbErr := &mockDatabaseError{message: "ERROR: relation \"tenant_usage\" does not exist (SQLSTATE 42P01)"}
	internalErr := domain.Internal(dbErr, "usagestore.get", "Database query failed")

	rec := httptest.NewRecorder()
	ErrorResponse(rec, httptest.NewRequest("GET", "/api/usage/dashboard", nil), testLogger(), internalErr)

	body := rec.Body.String()
	for _, leak := range []string{"SQLSTATE", "tenant_usage", "usagestore.get"} {
		if strings.Contains(body, leak) {
			t.Errorf("response exposes %q: %s", leak, body)
		}
	}
	if !strings.Contains(body, "internal error") {
		t.Errorf("response should contain generic internal error message, got: %s", body)
	}
}

func TestValidationErrorResponse_DoesNotExposeOperationName(t *testing.T) {
	ve := domain.NewValidationError("usage.track", "type", "type is required")

	rec := httptest.NewRecorder()
	ValidationErrorResponse(rec, httptest.NewRequest("POST", "/api/usage/track", nil), testLogger(), ve)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := rec.Body.String()
	if strings.Contains(body, "usage.track") {
		t.Errorf("JSON response exposes internal operation name: %s", body)
	}

	var parsed JSONError
	require.NoError(t, json.Unmarshal([]byte(body), &parsed))
	assert.Equal(t, domain.EINVALID, parsed.Error.Code)
	assert.Equal(t, "type is required", parsed.Error.Fields["type"])
}

func TestValidationErrorResponse_FallsBackForOtherErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	ValidationErrorResponse(rec, httptest.NewRequest("POST", "/api/usage/track", nil), testLogger(), domain.Invalid("usage.track", "Invalid JSON body"))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Invalid JSON body")
}
