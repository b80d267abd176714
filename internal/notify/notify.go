package notify

import (
	"context"
	"log/slog"
)

// Sender delivers a message to a user. Delivery failures are reported to
// the caller and never affect the mutation that triggered them.
type Sender interface {
	Send(ctx context.Context, recipient, subject, body string) error
}

// LogSender writes notifications to the structured log instead of sending mail.
type LogSender struct {
	logger  *slog.Logger
	enabled bool
}

// NewLogSender creates a sender that logs through logger.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger, enabled: true}
}

// SetEnabled enables or disables delivery.
func (s *LogSender) SetEnabled(enabled bool) {
	s.enabled = enabled
}

// Send logs the notification.
func (s *LogSender) Send(ctx context.Context, recipient, subject, body string) error {
	if !s.enabled {
		return nil
	}
	s.logger.InfoContext(ctx, "notification",
		slog.String("recipient", recipient),
		slog.String("subject", subject),
		slog.String("body", body))
	return nil
}

// Noop discards every notification.
type Noop struct{}

// Send does nothing.
func (Noop) Send(context.Context, string, string, string) error { return nil }
