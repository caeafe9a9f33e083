package channels

import (
	"context"
	"fmt"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"go.uber.org/zap"

	"github.com/alexnthnz/wishlist-pipeline/internal/config"
)

type mailSender interface {
	SendWithContext(ctx context.Context, email *mail.SGMailV3) (*rest.Response, error)
}

// EmailChannel handles email notifications using SendGrid
type EmailChannel struct {
	client mailSender
	from   *mail.Email
	logger *zap.Logger
}

// NewEmailChannel creates a new email channel
func NewEmailChannel(cfg config.SendGridConfig, logger *zap.Logger) *EmailChannel {
	return newEmailChannel(sendgrid.NewSendClient(cfg.APIKey), cfg, logger)
}

func newEmailChannel(client mailSender, cfg config.SendGridConfig, logger *zap.Logger) *EmailChannel {
	return &EmailChannel{
		client: client,
		from:   mail.NewEmail(cfg.FromName, cfg.FromEmail),
		logger: logger,
	}
}

// Send delivers a plain-text email. Any non-2xx response is an error.
func (e *EmailChannel) Send(ctx context.Context, to, subject, body string) error {
	return e.SendHTML(ctx, to, subject, body, "")
}

// SendHTML delivers an email with a text part and, when html is not empty,
// an HTML part.
func (e *EmailChannel) SendHTML(ctx context.Context, to, subject, text, html string) error {
	message := mail.NewSingleEmail(e.from, subject, mail.NewEmail("", to), text, html)

	response, err := e.client.SendWithContext(ctx, message)
	if err != nil {
		return fmt.Errorf("sendgrid request failed: %w", err)
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return fmt.Errorf("sendgrid returned status %d: %s", response.StatusCode, response.Body)
	}

	var messageID string
	if ids, ok := response.Headers["X-Message-Id"]; ok && len(ids) > 0 {
		messageID = ids[0]
	}
	e.logger.Debug("Email accepted by SendGrid", zap.String("to", to), zap.String("message_id", messageID))
	return nil
}

// GetChannelType returns the channel type
func (e *EmailChannel) GetChannelType() string {
	return "email"
}
