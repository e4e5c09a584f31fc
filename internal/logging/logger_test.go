package logging

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"robolab/simserver/internal/config"
)

func observed(level zapcore.Level) (*Logger, *observer.ObservedLogs) {
	core, logs := observer.New(level)
	return NewFromZap(zap.New(core)), logs
}

func TestLoggerWithAddsFields(t *testing.T) {
	logger, logs := observed(zapcore.DebugLevel)

	logger.With(String("client_id", "abc")).Info("client connected", Int("clients", 3))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "client connected", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, "abc", fields["client_id"])
	assert.EqualValues(t, 3, fields["clients"])
}

func TestStartupFieldTypes(t *testing.T) {
	logger, logs := observed(zapcore.InfoLevel)

	logger.Info("simulation server listening",
		Strings("allowed_origins", []string{"http://lab.local", "http://localhost:3000"}),
		Float64("client_bandwidth", 2048.5),
	)

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, []interface{}{"http://lab.local", "http://localhost:3000"}, fields["allowed_origins"])
	assert.Equal(t, 2048.5, fields["client_bandwidth"])
}

func TestLoggerRespectsLevel(t *testing.T) {
	logger, logs := observed(zapcore.WarnLevel)

	logger.Debug("ignored")
	logger.Info("ignored")
	logger.Warn("kept")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, zapcore.WarnLevel, logs.All()[0].Level)
}

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "loud", Format: "json"})
	require.Error(t, err)
}

func TestNewWritesToFile(t *testing.T) {
	previous := L()
	t.Cleanup(func() { ReplaceGlobals(previous) })

	path := filepath.Join(t.TempDir(), "sim.log")
	logger, err := New(config.LoggingConfig{Level: "info", Format: "json", Path: path})
	require.NoError(t, err)
	assert.Same(t, logger, L())

	logger.Info("hello")
	_ = logger.Sync()
	assert.FileExists(t, path)
}

func TestLoggerFromContextFallsBack(t *testing.T) {
	logger, logs := observed(zapcore.InfoLevel)
	ctx := ContextWithLogger(context.Background(), logger)

	LoggerFromContext(ctx).Info("from context")
	assert.Equal(t, 1, logs.Len())
	assert.Same(t, L(), LoggerFromContext(context.Background()))
}

func TestHTTPTraceMiddlewarePropagatesTraceID(t *testing.T) {
	logger, _ := observed(zapcore.DebugLevel)
	var seen string
	handler := HTTPTraceMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = TraceIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	req.Header.Set(TraceIDHeader, "trace-123")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, "trace-123", seen)
	assert.Equal(t, "trace-123", rec.Header().Get(TraceIDHeader))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/state", nil))
	assert.NotEmpty(t, rec.Header().Get(TraceIDHeader))
}
