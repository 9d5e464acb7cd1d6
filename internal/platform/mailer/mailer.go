package mailer

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mailersend/mailersend-go"
	"github.com/tripdesk/tripdesk-portal/pkg/config"
	"github.com/tripdesk/tripdesk-portal/pkg/logger"
)

// Service sends transactional mail. Implementations must be safe for
// concurrent use.
type Service interface {
	Send(ctx context.Context, toEmail, toName, subject, text, html string) error
}

type MailerSend struct {
	client *mailersend.Mailersend
	from   mailersend.From
}

func NewMailerSend(cfg config.EmailConfig) *MailerSend {
	return &MailerSend{
		client: mailersend.NewMailersend(cfg.MailerSendKey),
		from: mailersend.From{
			Name:  cfg.FromName,
			Email: cfg.FromEmail,
		},
	}
}

func (m *MailerSend) Send(ctx context.Context, toEmail, toName, subject, text, html string) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	msg := m.client.Email.NewMessage()
	msg.SetFrom(m.from)
	msg.SetRecipients([]mailersend.Recipient{{Name: toName, Email: toEmail}})
	msg.SetSubject(subject)
	if strings.TrimSpace(text) != "" {
		msg.SetText(text)
	}
	if strings.TrimSpace(html) != "" {
		msg.SetHTML(html)
	}

	res, err := m.client.Email.Send(ctx, msg)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(res.Body)
		return fmt.Errorf("mailersend error: status=%d body=%s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

// DevMailer logs instead of sending. Used when EMAIL_DEV_MODE is on or no
// API key is configured.
type DevMailer struct{}

func NewDevMailer() *DevMailer { return &DevMailer{} }

func (m *DevMailer) Send(ctx context.Context, toEmail, _, subject, text, _ string) error {
	logger.InfoContext(ctx, "dev mailer: email suppressed", "to", toEmail, "subject", subject, "text", text)
	return nil
}

// New picks the real sender or the dev logger based on config.
func New(cfg config.EmailConfig) Service {
	if cfg.DevMode || cfg.MailerSendKey == "" {
		return NewDevMailer()
	}
	return NewMailerSend(cfg)
}

var (
	_ Service = (*MailerSend)(nil)
	_ Service = (*DevMailer)(nil)
)
