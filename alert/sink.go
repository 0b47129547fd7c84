package alert

import (
	"context"
	"log/slog"
)

// Sink receives every escalated alert after it is stored.
type Sink interface {
	Notify(ctx context.Context, a *Alert) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, a *Alert) error

// Notify calls f.
func (f SinkFunc) Notify(ctx context.Context, a *Alert) error { return f(ctx, a) }

// LogSink writes alerts at error level.
type LogSink struct {
	Logger *slog.Logger
}

// Notify logs a.
func (s LogSink) Notify(ctx context.Context, a *Alert) error {
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}
	l.ErrorContext(ctx, "webhook delivery failed permanently",
		"alert_id", a.ID.String(),
		"merchant_id", a.MerchantID,
		"webhook_url", a.WebhookURL,
		"transaction_id", a.TransactionID,
		"job_id", a.JobID,
		"attempt_number", a.AttemptNumber,
		"error", a.Error,
	)
	return nil
}
