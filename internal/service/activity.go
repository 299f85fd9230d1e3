package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/DukeRupert/wrenchly/internal/domain"
)

// =============================================================================
// Activity Monitor
// =============================================================================

// ActivityConfig tunes the unusual-activity and performance heuristics.
type ActivityConfig struct {
	// MinRPM is the floor below which request volume is never unusual.
	MinRPM int64

	// SpikeFactor multiplies the per-minute baseline to get the spike trigger.
	SpikeFactor float64

	// LatencyThreshold is the mean latency above which a minute is degraded.
	LatencyThreshold time.Duration

	// ErrorRateThreshold is the failure percentage above which a minute is
	// degraded.
	ErrorRateThreshold float64

	// MinSamples is the number of requests a minute needs before its
	// latency and error rate are judged.
	MinSamples int64
}

// DefaultActivityConfig returns the production defaults.
func DefaultActivityConfig() ActivityConfig {
	return ActivityConfig{
		MinRPM:             300,
		SpikeFactor:        3,
		LatencyThreshold:   2 * time.Second,
		ErrorRateThreshold: 10,
		MinSamples:         20,
	}
}

// baselineAlpha weights the most recent minute in the EWMA baseline.
const baselineAlpha = 0.3

// ActivityFinding is an anomaly detected for a tenant.
type ActivityFinding struct {
	Type     domain.AlertType
	Severity domain.Severity
	Message  string
	Data     map[string]any
}

// ActivityMonitor tracks per-tenant request volume, latency and failures
// in one-minute buckets and reports anomalies.
type ActivityMonitor struct {
	cfg ActivityConfig

	mu      sync.Mutex
	tenants map[uuid.UUID]*activityWindow
}

type activityWindow struct {
	minute       time.Time
	requests     int64
	failures     int64
	latencyTotal time.Duration

	baseline float64
	seeded   bool

	// Highest severity already reported this minute, per finding type.
	spikeReported domain.Severity
	perfReported  domain.Severity
}

// NewActivityMonitor creates an ActivityMonitor.
func NewActivityMonitor(cfg ActivityConfig) *ActivityMonitor {
	def := DefaultActivityConfig()
	if cfg.MinRPM <= 0 {
		cfg.MinRPM = def.MinRPM
	}
	if cfg.SpikeFactor <= 1 {
		cfg.SpikeFactor = def.SpikeFactor
	}
	if cfg.LatencyThreshold <= 0 {
		cfg.LatencyThreshold = def.LatencyThreshold
	}
	if cfg.ErrorRateThreshold <= 0 {
		cfg.ErrorRateThreshold = def.ErrorRateThreshold
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = def.MinSamples
	}
	return &ActivityMonitor{
		cfg:     cfg,
		tenants: make(map[uuid.UUID]*activityWindow),
	}
}

// Observe records one request and returns any finding that is new or more
// severe than what was already reported for the current minute.
func (m *ActivityMonitor) Observe(tenantID uuid.UUID, sample domain.RequestSample, now time.Time) []ActivityFinding {
	m.mu.Lock()
	defer m.mu.Unlock()

	minute := now.UTC().Truncate(time.Minute)
	w, ok := m.tenants[tenantID]
	if !ok {
		w = &activityWindow{minute: minute}
		m.tenants[tenantID] = w
	}
	w.advance(minute)

	w.requests++
	w.latencyTotal += sample.Latency
	if sample.Failed {
		w.failures++
	}

	var findings []ActivityFinding
	if f, ok := m.spike(w); ok {
		findings = append(findings, f)
	}
	if f, ok := m.performance(w); ok {
		findings = append(findings, f)
	}
	return findings
}

// Prune forgets tenants with no requests since before.
func (m *ActivityMonitor) Prune(before time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for id, w := range m.tenants {
		if w.minute.Before(before) {
			delete(m.tenants, id)
			n++
		}
	}
	return n
}

// advance closes elapsed minutes into the baseline.
func (w *activityWindow) advance(minute time.Time) {
	if !minute.After(w.minute) {
		return
	}

	if !w.seeded {
		w.baseline = float64(w.requests)
		w.seeded = true
	} else {
		w.baseline = baselineAlpha*float64(w.requests) + (1-baselineAlpha)*w.baseline
	}
	// Idle minutes decay the baseline; an hour of silence is enough to
	// forget prior traffic.
	idle := int(minute.Sub(w.minute)/time.Minute) - 1
	for i := 0; i < idle && i < 60; i++ {
		w.baseline *= 1 - baselineAlpha
	}

	w.minute = minute
	w.requests = 0
	w.failures = 0
	w.latencyTotal = 0
	w.spikeReported = ""
	w.perfReported = ""
}

func (m *ActivityMonitor) spike(w *activityWindow) (ActivityFinding, bool) {
	trigger := float64(m.cfg.MinRPM)
	if b := m.cfg.SpikeFactor * w.baseline; b > trigger {
		trigger = b
	}
	count := float64(w.requests)
	if count <= trigger {
		return ActivityFinding{}, false
	}

	sev := domain.SeverityMedium
	if count > 2*trigger {
		sev = domain.SeverityHigh
	}
	if sev.Rank() <= w.spikeReported.Rank() {
		return ActivityFinding{}, false
	}
	w.spikeReported = sev

	return ActivityFinding{
		Type:     domain.AlertUnusualActivity,
		Severity: sev,
		Message:  fmt.Sprintf("Request rate spiked to %d requests/minute (typical %.0f).", w.requests, w.baseline),
		Data: map[string]any{
			"requestsPerMinute": w.requests,
			"baseline":          w.baseline,
			"trigger":           trigger,
		},
	}, true
}

func (m *ActivityMonitor) performance(w *activityWindow) (ActivityFinding, bool) {
	if w.requests < m.cfg.MinSamples {
		return ActivityFinding{}, false
	}

	mean := w.latencyTotal / time.Duration(w.requests)
	errorRate := float64(w.failures) * 100 / float64(w.requests)

	slow := mean > m.cfg.LatencyThreshold
	failing := errorRate > m.cfg.ErrorRateThreshold
	if !slow && !failing {
		return ActivityFinding{}, false
	}

	sev := domain.SeverityMedium
	if mean > 2*m.cfg.LatencyThreshold || errorRate > 2*m.cfg.ErrorRateThreshold {
		sev = domain.SeverityHigh
	}
	if sev.Rank() <= w.perfReported.Rank() {
		return ActivityFinding{}, false
	}
	w.perfReported = sev

	var msg string
	switch {
	case slow && failing:
		msg = fmt.Sprintf("Responses are slow (%dms average) and %.1f%% of requests are failing.", mean.Milliseconds(), errorRate)
	case slow:
		msg = fmt.Sprintf("Responses are slow (%dms average).", mean.Milliseconds())
	default:
		msg = fmt.Sprintf("%.1f%% of requests are failing.", errorRate)
	}

	return ActivityFinding{
		Type:     domain.AlertPerformanceIssue,
		Severity: sev,
		Message:  msg,
		Data: map[string]any{
			"avgResponseTimeMs": mean.Milliseconds(),
			"errorRate":         errorRate,
			"samples":           w.requests,
		},
	}, true
}
