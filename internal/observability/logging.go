// Package observability provides structured logging, metrics, and tracing
// for the turn orchestrator.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
)

// Logger wraps slog with request correlation and sensitive-data redaction.
// Every string attribute and message passes through the redaction patterns,
// so secrets, tokens, and identity numbers cannot leak into side-channel
// logs regardless of call site discipline.
type Logger struct {
	logger  *slog.Logger
	redacts []*regexp.Regexp
}

// LogConfig configures logging behavior.
type LogConfig struct {
	// Level sets the minimum log level: "debug", "info", "warn", "error".
	Level string

	// Format specifies output format: "json" or "text".
	Format string

	// Output is the writer for log output (defaults to os.Stdout).
	Output io.Writer

	// RedactPatterns are additional regexes beyond the defaults.
	RedactPatterns []string
}

type contextKey string

const (
	// RequestIDKey is the context key for per-turn request IDs.
	RequestIDKey contextKey = "request_id"
	// SessionIDKey is the context key for session IDs.
	SessionIDKey contextKey = "session_id"
	// BusinessIDKey is the context key for the tenant.
	BusinessIDKey contextKey = "business_id"
	// ChannelKey is the context key for the inbound channel.
	ChannelKey contextKey = "channel"
)

// DefaultRedactPatterns cover API secrets, tokens, authorization headers,
// and the PII classes the reply guardrails also scrub.
var DefaultRedactPatterns = []string{
	// API keys, tokens, authorization headers
	`(?i)(api[_-]?key|apikey)[\s:=]+["']?([a-zA-Z0-9_\-]{16,})["']?`,
	`(?i)(bearer|token|authorization)[\s:]+([a-zA-Z0-9_\-\.]{16,})`,
	`(?i)(secret|password|passwd|pwd)[\s:=]+["']?([^\s"']{8,})["']?`,
	`sk-ant-[a-zA-Z0-9_-]{20,}`,
	`sk-[a-zA-Z0-9]{32,}`,
	// JWTs
	`eyJ[a-zA-Z0-9_-]*\.eyJ[a-zA-Z0-9_-]*\.[a-zA-Z0-9_-]*`,
	// National identity numbers (11 digits) and payment card numbers
	`\b[1-9][0-9]{10}\b`,
	`\b(?:\d[ -]?){13,19}\b`,
}

// NewLogger creates a structured logger. Invalid or empty level defaults to
// info; empty format defaults to json.
func NewLogger(cfg LogConfig) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	patterns := append([]string{}, DefaultRedactPatterns...)
	patterns = append(patterns, cfg.RedactPatterns...)
	redacts := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			continue
		}
		redacts = append(redacts, re)
	}

	return &Logger{
		logger:  slog.New(handler),
		redacts: redacts,
	}
}

// Redact applies all redaction patterns to a string.
func (l *Logger) Redact(s string) string {
	for _, re := range l.redacts {
		s = re.ReplaceAllString(s, "[redacted]")
	}
	return s
}

func (l *Logger) log(ctx context.Context, level slog.Level, msg string, args ...any) {
	attrs := l.contextAttrs(ctx)
	for i := 0; i < len(args); i++ {
		if s, ok := args[i].(string); ok && i%2 == 1 {
			args[i] = l.Redact(s)
		}
	}
	attrs = append(attrs, args...)
	l.logger.Log(ctx, level, l.Redact(msg), attrs...)
}

func (l *Logger) contextAttrs(ctx context.Context) []any {
	if ctx == nil {
		return nil
	}
	var attrs []any
	if v, ok := ctx.Value(RequestIDKey).(string); ok && v != "" {
		attrs = append(attrs, "request_id", v)
	}
	if v, ok := ctx.Value(SessionIDKey).(string); ok && v != "" {
		attrs = append(attrs, "session_id", v)
	}
	if v, ok := ctx.Value(BusinessIDKey).(string); ok && v != "" {
		attrs = append(attrs, "business_id", v)
	}
	if v, ok := ctx.Value(ChannelKey).(string); ok && v != "" {
		attrs = append(attrs, "channel", v)
	}
	return attrs
}

// Debug logs at debug level with context correlation.
func (l *Logger) Debug(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelDebug, msg, args...)
}

// Info logs at info level with context correlation.
func (l *Logger) Info(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelInfo, msg, args...)
}

// Warn logs at warn level with context correlation.
func (l *Logger) Warn(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelWarn, msg, args...)
}

// Error logs at error level with context correlation.
func (l *Logger) Error(ctx context.Context, msg string, args ...any) {
	l.log(ctx, slog.LevelError, msg, args...)
}

// WithRequestID returns a context carrying the per-turn request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// WithSessionID returns a context carrying the session ID.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, SessionIDKey, id)
}

// WithBusinessID returns a context carrying the tenant ID.
func WithBusinessID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, BusinessIDKey, id)
}

// WithChannel returns a context carrying the channel name.
func WithChannel(ctx context.Context, channel string) context.Context {
	return context.WithValue(ctx, ChannelKey, channel)
}
