package logger

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
)

// ContextKey is the type for context keys carried into log records.
type ContextKey string

const (
	// RequestIDKey is the context key for request IDs
	RequestIDKey ContextKey = "request_id"
	// PaymentIDKey is the context key for payment IDs
	PaymentIDKey ContextKey = "payment_id"
	// KeyNameKey is the context key for VPN key names
	KeyNameKey ContextKey = "key_name"
	// OperationKey is the context key for operation names
	OperationKey ContextKey = "operation"
)

// LogLevel represents the logging level
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// OutputFormat represents the log output format
type OutputFormat string

const (
	FormatJSON OutputFormat = "json"
	FormatText OutputFormat = "text"
)

// Config holds configuration for the logger
type Config struct {
	Level     LogLevel     `mapstructure:"level" yaml:"level" json:"level"`
	Format    OutputFormat `mapstructure:"format" yaml:"format" json:"format"`
	Component string       `mapstructure:"component" yaml:"component" json:"component"`
	Version   string       `mapstructure:"version" yaml:"version" json:"version"`
}

// Logger wraps slog.Logger with domain-specific helpers while staying thin
type Logger struct {
	*slog.Logger
	config Config
}

// New creates a new logger with the provided configuration
func New(config Config) *Logger {
	level := parseLevel(config.Level)

	var handler slog.Handler
	if config.Format == FormatJSON {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	}

	slogger := slog.New(handler)
	if config.Component != "" {
		slogger = slogger.With(slog.String("component", config.Component))
	}
	if config.Version != "" {
		slogger = slogger.With(slog.String("version", config.Version))
	}

	return &Logger{
		Logger: slogger,
		config: config,
	}
}

// NewDevelopment creates a logger optimized for development
func NewDevelopment(component string) *Logger {
	return New(Config{
		Level:     LevelDebug,
		Format:    FormatText,
		Component: component,
		Version:   "dev",
	})
}

// NewProduction creates a logger optimized for production
func NewProduction(component, version string) *Logger {
	return New(Config{
		Level:     LevelInfo,
		Format:    FormatJSON,
		Component: component,
		Version:   version,
	})
}

// With returns a new logger with additional attributes
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
		config: l.config,
	}
}

// WithPaymentID returns a new logger with the payment ID attached
func (l *Logger) WithPaymentID(paymentID string) *Logger {
	return l.With(slog.String("payment_id", paymentID))
}

// WithKeyName returns a new logger with the VPN key name attached
func (l *Logger) WithKeyName(keyName string) *Logger {
	return l.With(slog.String("key_name", keyName))
}

// WithContext extracts known fields from the context and returns a new logger
func (l *Logger) WithContext(ctx context.Context) *Logger {
	logger := l.Logger

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		logger = logger.With(slog.String("request_id", requestID))
	}
	if paymentID, ok := ctx.Value(PaymentIDKey).(string); ok && paymentID != "" {
		logger = logger.With(slog.String("payment_id", paymentID))
	}
	if keyName, ok := ctx.Value(KeyNameKey).(string); ok && keyName != "" {
		logger = logger.With(slog.String("key_name", keyName))
	}
	if operation, ok := ctx.Value(OperationKey).(string); ok && operation != "" {
		logger = logger.With(slog.String("operation", operation))
	}

	return &Logger{Logger: logger, config: l.config}
}

// InfoContext logs at Info level with context fields attached
func (l *Logger) InfoContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).Info(msg, args...)
}

// DebugContext logs at Debug level with context fields attached
func (l *Logger) DebugContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).Debug(msg, args...)
}

// WarnContext logs at Warn level with context fields attached
func (l *Logger) WarnContext(ctx context.Context, msg string, args ...any) {
	l.WithContext(ctx).Warn(msg, args...)
}

// ErrorCtx logs an error with context fields attached
func (l *Logger) ErrorCtx(ctx context.Context, msg string, err error, args ...any) {
	attrs := append([]any{slog.String("error", err.Error())}, args...)
	l.WithContext(ctx).Error(msg, attrs...)
}

// AddPaymentIDToContext adds a payment ID to the context
func AddPaymentIDToContext(ctx context.Context, paymentID string) context.Context {
	return context.WithValue(ctx, PaymentIDKey, paymentID)
}

// AddKeyNameToContext adds a VPN key name to the context
func AddKeyNameToContext(ctx context.Context, keyName string) context.Context {
	return context.WithValue(ctx, KeyNameKey, keyName)
}

// AddOperationToContext adds an operation name to the context
func AddOperationToContext(ctx context.Context, operation string) context.Context {
	return context.WithValue(ctx, OperationKey, operation)
}

func parseLevel(level LogLevel) slog.Level {
	switch level {
	case LevelDebug:
		return slog.LevelDebug
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
