// Package notify delivers outgoing email. Only a logging sender ships here;
// a real transport plugs in behind Sender.
package notify

import (
	"context"
	"errors"
	"log/slog"
)

var ErrNoRecipient = errors.New("email has no recipient")

type Email struct {
	From    string
	To      string
	Subject string
	HTML    string
}

type Sender interface {
	Send(ctx context.Context, msg Email) error
}

type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, msg Email) error {
	if msg.To == "" {
		return ErrNoRecipient
	}
	s.logger.InfoContext(ctx, "email sent",
		"from", msg.From, "to", msg.To, "subject", msg.Subject, "html_bytes", len(msg.HTML))
	return nil
}
