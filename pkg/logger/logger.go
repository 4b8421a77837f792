// Package logger builds the process-wide slog logger and carries it through
// request contexts. It also provides attribute helpers so that log lines
// across components use the same keys.
package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Options configures the logger.
type Options struct {
	Output    io.Writer
	Level     string
	Format    string // json | text
	AddSource bool
	Service   string
	Version   string
}

// ParseLevel parses a level name. Unknown names map to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New creates a logger from opts.
func New(opts Options) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	hopts := &slog.HandlerOptions{
		Level:     ParseLevel(opts.Level),
		AddSource: opts.AddSource,
	}

	var handler slog.Handler
	if strings.EqualFold(opts.Format, "text") {
		handler = slog.NewTextHandler(out, hopts)
	} else {
		handler = slog.NewJSONHandler(out, hopts)
	}

	log := slog.New(handler)
	if opts.Service != "" {
		log = log.With(slog.String("service", opts.Service))
	}
	if opts.Version != "" {
		log = log.With(slog.String("version", opts.Version))
	}
	return log
}

// Setup creates a logger from opts and installs it as the slog default.
func Setup(opts Options) *slog.Logger {
	log := New(opts)
	slog.SetDefault(log)
	return log
}

// Discard returns a logger that drops everything. Useful in tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// OrDefault returns log, or slog.Default() when log is nil.
func OrDefault(log *slog.Logger) *slog.Logger {
	if log == nil {
		return slog.Default()
	}
	return log
}

type ctxKey struct{}

// WithContext returns a copy of ctx carrying log.
func WithContext(ctx context.Context, log *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, log)
}

// FromContext returns the logger stored in ctx, or slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if log, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok && log != nil {
			return log
		}
	}
	return slog.Default()
}

// ──────────────────────────────────────────────────────────────────────────────
// Attribute helpers
// ──────────────────────────────────────────────────────────────────────────────

func UserID(id string) slog.Attr        { return slog.String("user_id", id) }
func Metric(m string) slog.Attr         { return slog.String("metric", m) }
func XPAmount(n int) slog.Attr          { return slog.Int("xp_amount", n) }
func AchievementID(id string) slog.Attr { return slog.String("achievement_id", id) }
func Component(c string) slog.Attr      { return slog.String("component", c) }
func Operation(op string) slog.Attr     { return slog.String("operation", op) }

// Latency records an elapsed duration in milliseconds.
func Latency(since time.Time) slog.Attr {
	return slog.Int64("latency_ms", time.Since(since).Milliseconds())
}

// Err records an error under the "error" key; nil errors are omitted.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}
