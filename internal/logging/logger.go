// Package logging provides the structured logger shared by every simulator component.
package logging

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"robolab/simserver/internal/config"
)

// TraceIDHeader is the canonical HTTP header for propagating trace IDs between services.
const TraceIDHeader = "X-Trace-ID"

// TraceIDField is the canonical structured logging field for trace identifiers.
const TraceIDField = "trace_id"

type contextKey string

var (
	loggerContextKey = contextKey("sim-logger")
	traceContextKey  = contextKey("sim-trace-id")

	globalMu     sync.RWMutex
	globalLogger = NewTestLogger()
)

// Field represents a structured logging attribute.
type Field = zap.Field

// String returns a string field.
func String(key, value string) Field { return zap.String(key, value) }

// Strings returns a string slice field.
func Strings(key string, values []string) Field { return zap.Strings(key, values) }

// Int returns an int field.
func Int(key string, value int) Field { return zap.Int(key, value) }

// Int64 returns an int64 field.
func Int64(key string, value int64) Field { return zap.Int64(key, value) }

// Uint64 returns a uint64 field.
func Uint64(key string, value uint64) Field { return zap.Uint64(key, value) }

// Float64 returns a float64 field.
func Float64(key string, value float64) Field { return zap.Float64(key, value) }

// Bool returns a bool field.
func Bool(key string, value bool) Field { return zap.Bool(key, value) }

// Error returns an error field.
func Error(err error) Field { return zap.Error(err) }

// Logger emits JSON structured logs through zap.
type Logger struct {
	zap *zap.Logger
}

// New constructs a logger from configuration and installs it as the global fallback.
func New(cfg config.LoggingConfig) (*Logger, error) {
	level, err := zapcore.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("unknown log level %q", cfg.Level)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.Sampling = nil
	zcfg.DisableCaller = true
	zcfg.EncoderConfig.TimeKey = "timestamp"
	zcfg.EncoderConfig.MessageKey = "message"
	zcfg.EncoderConfig.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	if strings.EqualFold(cfg.Format, "console") {
		zcfg.Encoding = "console"
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zcfg.OutputPaths = []string{"stdout"}
	if path := strings.TrimSpace(cfg.Path); path != "" {
		zcfg.OutputPaths = append(zcfg.OutputPaths, path)
	}
	built, err := zcfg.Build(zap.Fields(zap.String("service", "robot-sim")))
	if err != nil {
		return nil, err
	}
	logger := &Logger{zap: built}
	ReplaceGlobals(logger)
	return logger, nil
}

// NewFromZap wraps an existing zap logger, typically one built on an observer core.
func NewFromZap(base *zap.Logger) *Logger {
	if base == nil {
		base = zap.NewNop()
	}
	return &Logger{zap: base}
}

// NewTestLogger returns a logger that discards output, suitable for tests.
func NewTestLogger() *Logger {
	return &Logger{zap: zap.NewNop()}
}

// ReplaceGlobals swaps the fallback logger used when no context logger is present.
func ReplaceGlobals(logger *Logger) {
	if logger == nil {
		return
	}
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
}

// L returns the current global logger.
func L() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// With augments the logger with additional structured fields.
func (l *Logger) With(fields ...Field) *Logger {
	if l == nil {
		return L().With(fields...)
	}
	return &Logger{zap: l.zap.With(fields...)}
}

// Sync flushes buffered output.
func (l *Logger) Sync() error {
	if l == nil || l.zap == nil {
		return nil
	}
	return l.zap.Sync()
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, fields ...Field) { l.core().Debug(message, fields...) }

// Info logs an informational message.
func (l *Logger) Info(message string, fields ...Field) { l.core().Info(message, fields...) }

// Warn logs a warning message.
func (l *Logger) Warn(message string, fields ...Field) { l.core().Warn(message, fields...) }

// Error logs an error message.
func (l *Logger) Error(message string, fields ...Field) { l.core().Error(message, fields...) }

// Fatal logs a fatal message and exits the process.
func (l *Logger) Fatal(message string, fields ...Field) { l.core().Fatal(message, fields...) }

func (l *Logger) core() *zap.Logger {
	if l == nil || l.zap == nil {
		return L().zap
	}
	return l.zap
}

// ContextWithLogger stores a logger in the provided context.
func ContextWithLogger(ctx context.Context, logger *Logger) context.Context {
	if logger == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerContextKey, logger)
}

// LoggerFromContext retrieves a logger from context or falls back to the global logger.
func LoggerFromContext(ctx context.Context) *Logger {
	if ctx == nil {
		return L()
	}
	if logger, ok := ctx.Value(loggerContextKey).(*Logger); ok && logger != nil {
		return logger
	}
	return L()
}

// ContextWithTraceID stores a trace identifier in context.
func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		return ctx
	}
	return context.WithValue(ctx, traceContextKey, traceID)
}

// TraceIDFromContext extracts a trace identifier from context.
func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if traceID, ok := ctx.Value(traceContextKey).(string); ok {
		return traceID
	}
	return ""
}

// WithTrace enriches the context with a trace ID and returns the derived logger.
func WithTrace(ctx context.Context, base *Logger, traceID string) (context.Context, *Logger, string) {
	tid := strings.TrimSpace(traceID)
	if tid == "" {
		tid = uuid.NewString()
	}
	if base == nil {
		base = L()
	}
	derived := base.With(String(TraceIDField, tid))
	ctx = ContextWithTraceID(ctx, tid)
	ctx = ContextWithLogger(ctx, derived)
	return ctx, derived, tid
}

// HTTPTraceMiddleware ensures every request has a trace identifier propagated through
// context and headers.
func HTTPTraceMiddleware(base *Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			incoming := strings.TrimSpace(r.Header.Get(TraceIDHeader))
			ctx, logger, traceID := WithTrace(r.Context(), base, incoming)
			r = r.WithContext(ctx)
			w.Header().Set(TraceIDHeader, traceID)
			logger.Debug("request received", String("method", r.Method), String("path", r.URL.Path))
			next.ServeHTTP(w, r)
		})
	}
}
