// Package email provides email sending functionality for the Wrenchly usage service.
//
// This package defines an EmailService interface with implementations for:
// - SMTP (for development with Mailhog and production with services like Postmark SMTP)
// - Log-only delivery when no SMTP host is configured
package email

import (
	"context"
	"time"
)

// =============================================================================
// Interface Definition
// =============================================================================

// EmailService defines the interface for sending transactional emails.
//
// All methods are context-aware for timeout and cancellation support.
type EmailService interface {
	// SendUsageAlertEmail notifies a shop's billing contact that a usage
	// alert was raised or escalated.
	SendUsageAlertEmail(ctx context.Context, to string, alert UsageAlert) error
}

// =============================================================================
// Email Data Types
// =============================================================================

// Email represents a single email message.
type Email struct {
	To       string // Recipient email address
	Subject  string // Email subject line
	HTMLBody string // HTML content of the email
	TextBody string // Plain text fallback content
}

// UsageAlert is the template data for a usage alert notification.
type UsageAlert struct {
	TenantID  string
	Severity  string
	Type      string
	Message   string
	Resource  string  // empty for activity alerts
	Used      int64   // quota alerts only
	Limit     int64   // quota alerts only
	Percent   float64 // quota alerts only
	RaisedAt  time.Time
	Escalated bool
}

// =============================================================================
// Configuration Types
// =============================================================================

// SMTPConfig holds SMTP server configuration.
type SMTPConfig struct {
	Host     string // SMTP server hostname (e.g., "localhost" for Mailhog)
	Port     int    // SMTP server port (e.g., 1025 for Mailhog)
	Username string // SMTP authentication username (empty for Mailhog)
	Password string // SMTP authentication password (empty for Mailhog)
	From     string // Default sender email address
	FromName string // Default sender display name
}

// =============================================================================
// Common Constants
// =============================================================================

const (
	// DefaultFromEmail is the default sender email for transactional emails.
	DefaultFromEmail = "noreply@wrenchly.app"

	// DefaultFromName is the default sender display name.
	DefaultFromName = "Wrenchly"
)
