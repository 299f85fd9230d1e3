package email

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/smtp"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

//go:embed templates/*.html
var templateFS embed.FS

// =============================================================================
// SMTP Email Service Implementation
// =============================================================================

// SMTPEmailService sends emails via SMTP.
//
// This implementation works with:
// - Mailhog (development): No authentication required
// - Postmark SMTP (production): Uses username/password authentication
// - Any standard SMTP server
//
// Templates are embedded in the binary and rendered with html/template.
type SMTPEmailService struct {
	config    SMTPConfig
	baseURL   string
	templates *template.Template
	logger    *slog.Logger
}

// NewSMTPEmailService creates a new SMTP-based email service.
//
// Parameters:
// - config: SMTP server configuration
// - baseURL: Dashboard base URL for constructing links (e.g., "http://localhost:8080")
// - logger: Structured logger for error reporting
func NewSMTPEmailService(config SMTPConfig, baseURL string, logger *slog.Logger) (*SMTPEmailService, error) {
	if config.From == "" {
		config.From = DefaultFromEmail
	}
	if config.FromName == "" {
		config.FromName = DefaultFromName
	}

	templates, err := template.New("email").Funcs(emailTemplateFuncs()).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse email templates: %w", err)
	}

	return &SMTPEmailService{
		config:    config,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		templates: templates,
		logger:    logger,
	}, nil
}

// =============================================================================
// EmailService Interface Implementation
// =============================================================================

// SendUsageAlertEmail sends a usage alert notification.
func (s *SMTPEmailService) SendUsageAlertEmail(ctx context.Context, to string, alert UsageAlert) error {
	email, err := s.buildUsageAlertEmail(to, alert)
	if err != nil {
		return err
	}
	return s.send(ctx, email)
}

func (s *SMTPEmailService) buildUsageAlertEmail(to string, alert UsageAlert) (Email, error) {
	subject := usageAlertSubject(alert)
	dashboardURL := s.baseURL + "/usage"

	data := map[string]interface{}{
		"Subject":      subject,
		"Alert":        alert,
		"DashboardURL": dashboardURL,
	}

	htmlBody, err := s.renderTemplate("usage_alert.html", data)
	if err != nil {
		return Email{}, fmt.Errorf("failed to render usage alert email template: %w", err)
	}

	var text strings.Builder
	fmt.Fprintf(&text, "%s\n\n", alert.Message)
	if alert.Resource != "" {
		p := message.NewPrinter(language.English)
		text.WriteString(p.Sprintf("Used %d of %d (%.1f%%).\n\n", alert.Used, alert.Limit, alert.Percent))
	}
	fmt.Fprintf(&text, "Review your usage at %s\n\nThe Wrenchly Team\n", dashboardURL)

	return Email{
		To:       to,
		Subject:  subject,
		HTMLBody: htmlBody,
		TextBody: text.String(),
	}, nil
}

func usageAlertSubject(alert UsageAlert) string {
	severity := cases.Title(language.English).String(alert.Severity)
	if alert.Escalated {
		return fmt.Sprintf("[%s] Usage alert escalated", severity)
	}
	return fmt.Sprintf("[%s] Usage alert", severity)
}

// =============================================================================
// Internal Methods
// =============================================================================

// send sends an email via SMTP.
func (s *SMTPEmailService) send(ctx context.Context, email Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := s.buildMessage(email)
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	// Create auth if credentials are provided (not needed for Mailhog)
	var auth smtp.Auth
	if s.config.Username != "" && s.config.Password != "" {
		auth = smtp.PlainAuth("", s.config.Username, s.config.Password, s.config.Host)
	}

	err := smtp.SendMail(addr, auth, s.config.From, []string{email.To}, msg)
	if err != nil {
		s.logger.Error("failed to send email",
			"to", email.To,
			"subject", email.Subject,
			"error", err,
		)
		return fmt.Errorf("failed to send email: %w", err)
	}

	s.logger.Info("email sent",
		"to", email.To,
		"subject", email.Subject,
	)

	return nil
}

// buildMessage constructs the raw email message with headers.
func (s *SMTPEmailService) buildMessage(email Email) []byte {
	var buf bytes.Buffer

	fromHeader := fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)

	buf.WriteString(fmt.Sprintf("From: %s\r\n", fromHeader))
	buf.WriteString(fmt.Sprintf("To: %s\r\n", email.To))
	buf.WriteString(fmt.Sprintf("Subject: %s\r\n", email.Subject))
	buf.WriteString("MIME-Version: 1.0\r\n")

	boundary := "===============WRENCHLY_BOUNDARY==============="
	buf.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary))
	buf.WriteString("\r\n")

	buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	buf.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(email.TextBody)
	buf.WriteString("\r\n")

	buf.WriteString(fmt.Sprintf("--%s\r\n", boundary))
	buf.WriteString("Content-Type: text/html; charset=utf-8\r\n")
	buf.WriteString("\r\n")
	buf.WriteString(email.HTMLBody)
	buf.WriteString("\r\n")

	buf.WriteString(fmt.Sprintf("--%s--\r\n", boundary))

	return buf.Bytes()
}

// renderTemplate renders an email template with the given data.
func (s *SMTPEmailService) renderTemplate(name string, data interface{}) (string, error) {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// =============================================================================
// Template Functions
// =============================================================================

func emailTemplateFuncs() template.FuncMap {
	printer := message.NewPrinter(language.English)
	return template.FuncMap{
		"title": func(s string) string {
			return cases.Title(language.English).String(s)
		},
		"number": func(n int64) string {
			return printer.Sprintf("%d", n)
		},
		"currentYear": func() int {
			return time.Now().Year()
		},
	}
}

// =============================================================================
// Log-only Implementation
// =============================================================================

// LogEmailService records emails in the log instead of sending them. It is
// used when no SMTP host is configured.
type LogEmailService struct {
	logger *slog.Logger
}

// NewLogEmailService creates a log-only email service.
func NewLogEmailService(logger *slog.Logger) *LogEmailService {
	return &LogEmailService{logger: logger}
}

// SendUsageAlertEmail logs the notification.
func (s *LogEmailService) SendUsageAlertEmail(ctx context.Context, to string, alert UsageAlert) error {
	s.logger.Info("usage alert email (not sent, smtp disabled)",
		"to", to,
		"subject", usageAlertSubject(alert),
		"tenant_id", alert.TenantID,
	)
	return nil
}

// =============================================================================
// Compile-time interface check
// =============================================================================

var (
	_ EmailService = (*SMTPEmailService)(nil)
	_ EmailService = (*LogEmailService)(nil)
)
