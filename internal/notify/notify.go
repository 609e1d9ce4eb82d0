// Package notify forwards liveness alerts out of the client process.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	mailgun "github.com/mailgun/mailgun-go/v3"

	"streetlamp/internal/config"
	"streetlamp/internal/model"
)

// sender is the slice of the mailgun client used here.
type sender interface {
	NewMessage(from, subject, text string, to ...string) *mailgun.Message
	Send(ctx context.Context, m *mailgun.Message) (string, string, error)
}

// Mailgun e-mails every alert it receives to the configured recipients.
type Mailgun struct {
	mg         sender
	from       string
	recipients []string
	logger     *slog.Logger
}

func NewMailgun(cfg config.Mailgun, logger *slog.Logger) *Mailgun {
	return &Mailgun{
		mg:         mailgun.NewMailgun(cfg.Domain, cfg.APIKey),
		from:       cfg.Sender,
		recipients: cfg.Recipients,
		logger:     logger,
	}
}

func (m *Mailgun) Notify(ctx context.Context, entry model.AlertEntry) error {
	subject := fmt.Sprintf("[street lamp] %s", entry.Title)
	body := fmt.Sprintf("%s\n\n%s", entry.Message, entry.Timestamp.Format("2006-01-02 15:04:05 MST"))
	msg := m.mg.NewMessage(m.from, subject, body, m.recipients...)

	resp, id, err := m.mg.Send(ctx, msg)
	if err != nil {
		return fmt.Errorf("mailgun send: %w", err)
	}
	if id == "" {
		return fmt.Errorf("mailgun send: no message id: %s", resp)
	}
	m.logger.Info("alert_mailed", "kind", string(entry.Kind), "id", id)
	return nil
}

// Log writes alerts to the process log. It stands in when no mail transport
// is configured.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Notify(_ context.Context, entry model.AlertEntry) error {
	l.logger.Warn("alert_notification", "kind", string(entry.Kind), "title", entry.Title, "message", entry.Message)
	return nil
}
