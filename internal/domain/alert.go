package domain

import (
	"time"

	"github.com/google/uuid"
)

// AlertType classifies a usage alert.
type AlertType string

const (
	AlertLimitWarning     AlertType = "limit_warning"
	AlertLimitExceeded    AlertType = "limit_exceeded"
	AlertUnusualActivity  AlertType = "unusual_activity"
	AlertPerformanceIssue AlertType = "performance_issue"
)

// Severity orders alerts from informational to urgent.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns a comparable ordinal; unknown severities rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// Quota thresholds, as percentage of the limit consumed.
const (
	ThresholdLow      = 60.0
	ThresholdMedium   = 80.0
	ThresholdHigh     = 95.0
	ThresholdExceeded = 100.0
)

// SeverityFor maps a consumption percentage to the alert it warrants.
// ok is false below the lowest threshold.
func SeverityFor(percentage float64) (sev Severity, typ AlertType, ok bool) {
	switch {
	case percentage >= ThresholdExceeded:
		return SeverityCritical, AlertLimitExceeded, true
	case percentage >= ThresholdHigh:
		return SeverityHigh, AlertLimitWarning, true
	case percentage >= ThresholdMedium:
		return SeverityMedium, AlertLimitWarning, true
	case percentage >= ThresholdLow:
		return SeverityLow, AlertLimitWarning, true
	}
	return "", "", false
}

// Alert is a detected threshold crossing or anomaly for a tenant.
//
// Key is the deduplication key: at most one unresolved alert exists per
// (TenantID, Key). Quota alerts are keyed by resource, activity alerts by
// type.
type Alert struct {
	ID         string         `json:"alertId"`
	TenantID   uuid.UUID      `json:"tenantId"`
	Key        string         `json:"-"`
	Type       AlertType      `json:"type"`
	Severity   Severity       `json:"severity"`
	Message    string         `json:"message"`
	Data       map[string]any `json:"data,omitempty"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
	Resolved   bool           `json:"resolved"`
	ResolvedAt *time.Time     `json:"resolvedAt,omitempty"`
}

// IsQuota reports whether the alert tracks a resource quota.
func (a *Alert) IsQuota() bool {
	return a.Type == AlertLimitWarning || a.Type == AlertLimitExceeded
}

// QuotaAlertKey is the dedup key for quota alerts on resource.
func QuotaAlertKey(r Resource) string {
	return "quota:" + string(r)
}

// ActivityAlertKey is the dedup key for out-of-band alerts of type t.
func ActivityAlertKey(t AlertType) string {
	return "activity:" + string(t)
}

// AlertFilter narrows alert listings. A nil Resolved returns both states.
type AlertFilter struct {
	Resolved *bool
	Limit    int
}
