package service

import (
	"context"
	"fmt"
	"html"
	"regexp"
	"time"

	brevo "github.com/getbrevo/brevo-go/lib"

	"fwstore/config"
	"fwstore/pkg/logging"
)

// Mailer sends transactional emails.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody, textBody string) error
}

type BrevoMailer struct {
	client    *brevo.APIClient
	fromEmail string
	fromName  string
}

func NewBrevoMailer(cfg *config.EmailConfig) *BrevoMailer {
	bc := brevo.NewConfiguration()
	bc.AddDefaultHeader("api-key", cfg.BrevoAPIKey)
	return &BrevoMailer{
		client:    brevo.NewAPIClient(bc),
		fromEmail: cfg.FromEmail,
		fromName:  cfg.FromName,
	}
}

func (m *BrevoMailer) Send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	_, _, err := m.client.TransactionalEmailsApi.SendTransacEmail(ctx, brevo.SendSmtpEmail{
		Sender:      &brevo.SendSmtpEmailSender{Name: m.fromName, Email: m.fromEmail},
		To:          []brevo.SendSmtpEmailTo{{Email: to}},
		Subject:     subject,
		HtmlContent: htmlBody,
		TextContent: textBody,
	})
	if err != nil {
		return fmt.Errorf("brevo send: %w", err)
	}
	return nil
}

// downloadLink matches the token in a download URL, keeping its first 8 characters.
var downloadLink = regexp.MustCompile(`(/downloads/[0-9a-f]{8})[0-9a-f]+`)

// LogMailer writes emails to the log. Used when no Brevo key is configured. Download tokens are
// bearer credentials and are masked.
type LogMailer struct{}

func (LogMailer) Send(_ context.Context, to, subject, _, textBody string) error {
	logging.Infof("[EMAIL] to=%s subject=%q\n%s", to, subject, maskDownloadTokens(textBody))
	return nil
}

func maskDownloadTokens(s string) string {
	return downloadLink.ReplaceAllString(s, "$1...")
}

// EmailService renders the store's emails. Failures are logged and never fail the caller.
type EmailService struct {
	mailer    Mailer
	publicURL string
}

func NewEmailService(mailer Mailer, publicURL string) *EmailService {
	return &EmailService{mailer: mailer, publicURL: publicURL}
}

func (s *EmailService) send(to, subject, title, body, link, linkText string) {
	htmlBody := fmt.Sprintf(`<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
<h2 style="color: #333;">%s</h2>
<p style="color: #555; font-size: 15px;">%s</p>
<p><a href="%s" style="background-color: #007bff; color: white; padding: 12px 20px; border-radius: 6px; text-decoration: none;">%s</a></p>
<p style="color: #999; font-size: 12px;">If you did not request this, ignore this email.</p>
</div>`, html.EscapeString(title), html.EscapeString(body), html.EscapeString(link), html.EscapeString(linkText))
	textBody := fmt.Sprintf("%s\n\n%s\n\n%s", title, body, link)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.mailer.Send(ctx, to, subject, htmlBody, textBody); err != nil {
		logging.Errorf("[EMAIL] %s to %s: %v", subject, to, err)
	}
}

func (s *EmailService) SendVerification(to, code string) {
	link := s.publicURL + "/verify-email?code=" + code
	s.send(to, "Verify your email", "Welcome to the firmware store",
		"Confirm your email address to start buying firmware. The link is valid for 24 hours.", link, "Verify email")
}

func (s *EmailService) SendPasswordReset(to, token string) {
	link := s.publicURL + "/reset-password?token=" + token
	s.send(to, "Reset your password", "Password reset",
		"Use the link below to choose a new password. It expires in one hour.", link, "Reset password")
}

func (s *EmailService) SendDownloadLink(to, firmwareName, token string, expires time.Time) {
	link := s.publicURL + "/api/v1/downloads/" + token
	s.send(to, "Your firmware download", "Payment received",
		fmt.Sprintf("Your download for %s is ready. The link works once and expires %s.", firmwareName, expires.UTC().Format("2006-01-02 15:04 MST")),
		link, "Download firmware")
}
