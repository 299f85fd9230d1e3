// Package auth provides request identity context helpers.
//
// This package is designed to be imported by both middleware and handler
// packages without causing import cycles.
package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// TenantHeader carries the tenant identity set by the upstream gateway.
const TenantHeader = "X-Tenant-ID"

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// tenantContextKey is the key used to store the tenant ID in context.
	tenantContextKey contextKey = "tenant"

	// operatorContextKey marks requests authenticated with the operator token.
	operatorContextKey contextKey = "operator"
)

// GetTenantID retrieves the tenant ID from the context.
//
// Returns uuid.Nil and false if no tenant is set.
//
// Usage:
//
//	tenantID, ok := auth.GetTenantID(r.Context())
//	if !ok {
//	    // Handle unauthenticated request
//	}
func GetTenantID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(tenantContextKey).(uuid.UUID)
	if !ok || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// GetTenantIDFromRequest is a convenience wrapper around GetTenantID.
func GetTenantIDFromRequest(r *http.Request) (uuid.UUID, bool) {
	return GetTenantID(r.Context())
}

// SetTenantID stores a tenant ID in the context.
func SetTenantID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, tenantContextKey, id)
}

// ParseTenantHeader extracts the tenant ID from the request header.
// The nil UUID is rejected.
func ParseTenantHeader(r *http.Request) (uuid.UUID, bool) {
	raw := strings.TrimSpace(r.Header.Get(TenantHeader))
	if raw == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// IsOperator reports whether the request was authenticated as an operator.
func IsOperator(ctx context.Context) bool {
	ok, _ := ctx.Value(operatorContextKey).(bool)
	return ok
}

// SetOperator marks the context as operator-authenticated.
func SetOperator(ctx context.Context) context.Context {
	return context.WithValue(ctx, operatorContextKey, true)
}
