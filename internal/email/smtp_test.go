package email

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildUsageAlertEmail(t *testing.T) {
	svc, err := NewSMTPEmailService(SMTPConfig{Host: "localhost", Port: 1025}, "https://app.wrenchly.test/", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)

	msg, err := svc.buildUsageAlertEmail("owner@shop.test", UsageAlert{
		TenantID: "t1",
		Severity: "high",
		Type:     "limit_warning",
		Message:  "Work orders usage is at 96% of your plan limit.",
		Resource: "work orders",
		Used:     9600,
		Limit:    10000,
		Percent:  96,
		RaisedAt: time.Now(),
	})
	require.NoError(t, err)

	assert.Equal(t, "owner@shop.test", msg.To)
	assert.Equal(t, "[High] Usage alert", msg.Subject)
	assert.Contains(t, msg.HTMLBody, "10,000")
	assert.Contains(t, msg.HTMLBody, "https://app.wrenchly.test/usage")
	assert.Contains(t, msg.TextBody, "Used 9,600 of 10,000 (96.0%).")
}

func TestUsageAlertSubject_Escalated(t *testing.T) {
	assert.Equal(t, "[Critical] Usage alert escalated", usageAlertSubject(UsageAlert{Severity: "critical", Escalated: true}))
}
