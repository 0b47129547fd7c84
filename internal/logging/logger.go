// Package logging builds the daemon's slog logger. Records go to Loki when a
// push URL is configured and to stdout as JSON otherwise. Attributes stored
// on a context with WithAttrs are added to every record logged with it.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/grafana/loki-client-go/loki"
	slogloki "github.com/samber/slog-loki/v3"
)

// Config selects the log sink.
type Config struct {
	Level   string `mapstructure:"level"`
	LokiURL string `mapstructure:"loki_url"`
	Service string `mapstructure:"service"`
}

type fieldsKey struct{}

// WithAttrs returns a copy of ctx carrying attrs in addition to any it
// already carries.
func WithAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	prev := Attrs(ctx)
	merged := make([]slog.Attr, 0, len(prev)+len(attrs))
	merged = append(merged, prev...)
	merged = append(merged, attrs...)
	return context.WithValue(ctx, fieldsKey{}, merged)
}

// Attrs returns the attributes stored on ctx.
func Attrs(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	v, _ := ctx.Value(fieldsKey{}).([]slog.Attr)
	return v
}

// ContextHandler adds context attributes to each record.
type ContextHandler struct {
	slog.Handler
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs := Attrs(ctx); len(attrs) > 0 {
		r.AddAttrs(attrs...)
	}
	return h.Handler.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithGroup(name)}
}

// ParseLevel maps debug, info, warn and error to slog levels. Anything else
// is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewJSON returns a context-aware JSON logger writing to w.
func NewJSON(w io.Writer, level slog.Leveler) *slog.Logger {
	return slog.New(&ContextHandler{Handler: slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})})
}

// New builds the logger described by cfg. The returned stop function flushes
// buffered Loki batches and must be called before exit.
func New(cfg Config) (*slog.Logger, func(), error) {
	level := ParseLevel(cfg.Level)
	service := cfg.Service
	if service == "" {
		service = "payhook"
	}

	if cfg.LokiURL == "" {
		return NewJSON(os.Stdout, level).With("service", service), func() {}, nil
	}

	lokiConfig, err := loki.NewDefaultConfig(cfg.LokiURL)
	if err != nil {
		return nil, nil, fmt.Errorf("logging: loki config: %w", err)
	}
	client, err := loki.New(lokiConfig)
	if err != nil {
		return nil, nil, fmt.Errorf("logging: loki client: %w", err)
	}

	logger := slog.New(slogloki.Option{
		Level:  level,
		Client: client,
		AttrFromContext: []func(ctx context.Context) []slog.Attr{
			Attrs,
		},
	}.NewLokiHandler()).With("service", service)

	return logger, client.Stop, nil
}
