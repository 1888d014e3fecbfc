package notification

import (
	"context"
	"fmt"
	"os"

	"github.com/resend/resend-go/v2"
)

// EmailSender sends notification emails via Resend.
type EmailSender struct {
	client    *resend.Client
	fromEmail string
}

func NewEmailSender(apiKey string) *EmailSender {
	if apiKey == "" {
		apiKey = os.Getenv("RESEND_API_KEY")
	}

	from := os.Getenv("FROM_EMAIL")
	if from == "" {
		from = "notifications@resend.dev"
	}

	return &EmailSender{
		client:    resend.NewClient(apiKey),
		fromEmail: from,
	}
}

func (s *EmailSender) Channel() Channel {
	return ChannelEmail
}

func (s *EmailSender) Send(ctx context.Context, recipient, title, content string) error {
	params := &resend.SendEmailRequest{
		From:    s.fromEmail,
		To:      []string{recipient},
		Subject: title,
		Html:    emailHTML(title, content),
	}

	_, err := s.client.Emails.SendWithContext(ctx, params)
	if err != nil {
		return fmt.Errorf("failed to send email via Resend: %w", err)
	}
	return nil
}
