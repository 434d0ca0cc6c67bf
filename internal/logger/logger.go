package logger

import (
	"context"
	"io"
	"log/slog"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// SessionIDKey is the context key for the wizard session id
	SessionIDKey ContextKey = "session_id"
	// ContractTypeKey is the context key for the contract type being filled
	ContractTypeKey ContextKey = "contract_type"
)

// Config holds logger configuration
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, text
}

// ParseLevel maps a level name to a slog level, defaulting to info.
func ParseLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New builds a logger writing to w.
func New(cfg *Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: ParseLevel(cfg.Level),
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// Init installs a logger writing to w as the slog default.
func Init(cfg *Config, w io.Writer) {
	slog.SetDefault(New(cfg, w))
}

// WithSession returns ctx carrying the session id and contract type.
func WithSession(ctx context.Context, sessionID, contractType string) context.Context {
	ctx = context.WithValue(ctx, SessionIDKey, sessionID)
	return context.WithValue(ctx, ContractTypeKey, contractType)
}

// SessionID returns the session id carried by ctx, if any.
func SessionID(ctx context.Context) string {
	id, _ := ctx.Value(SessionIDKey).(string)
	return id
}

// WithContext returns a logger with context values extracted
func WithContext(ctx context.Context) *slog.Logger {
	logger := slog.Default()

	if sessionID, ok := ctx.Value(SessionIDKey).(string); ok && sessionID != "" {
		logger = logger.With("session_id", sessionID)
	}
	if contractType, ok := ctx.Value(ContractTypeKey).(string); ok && contractType != "" {
		logger = logger.With("contract_type", contractType)
	}

	return logger
}

func Info(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Info(msg, args...)
}

func Debug(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Debug(msg, args...)
}

func Warn(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Warn(msg, args...)
}

func Error(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Error(msg, args...)
}
