package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"coursemarket_echo/internal/config"
)

// ErrEmailNotConfigured is returned when no SendGrid API key is set
var ErrEmailNotConfigured = errors.New("sendgrid api key not configured")

// Mailer sends a single plain text email
type Mailer interface {
	SendEmail(ctx context.Context, toEmail, toName, subject, body string) error
}

type EmailService struct {
	client    *sendgrid.Client
	fromEmail string
	fromName  string
}

func NewEmailService(cfg config.SendGridConfig) *EmailService {
	s := &EmailService{fromEmail: cfg.FromEmail, fromName: cfg.FromName}
	if cfg.APIKey != "" {
		s.client = sendgrid.NewSendClient(cfg.APIKey)
	}
	return s
}

func (s *EmailService) SendEmail(ctx context.Context, toEmail, toName, subject, body string) error {
	if s.client == nil {
		return ErrEmailNotConfigured
	}
	if toEmail == "" {
		return fmt.Errorf("send email: recipient address is empty")
	}

	from := mail.NewEmail(s.fromName, s.fromEmail)
	to := mail.NewEmail(toName, toEmail)
	message := mail.NewSingleEmail(from, subject, to, body, "")

	resp, err := s.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("failed to send email: sendgrid returned %d: %s", resp.StatusCode, resp.Body)
	}
	return nil
}
