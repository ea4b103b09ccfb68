package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLoggerRejectsBadLevel(t *testing.T) {
	_, err := newLogger(Config{Level: "loud"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestNewLoggerDefaults(t *testing.T) {
	l, err := newLogger(Config{})
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
}

func observe(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	mu.Lock()
	prev := global
	global = zap.New(core)
	mu.Unlock()
	t.Cleanup(func() {
		mu.Lock()
		global = prev
		mu.Unlock()
	})
	return logs
}

func TestWithContext(t *testing.T) {
	logs := observe(t)

	ctx := context.WithValue(context.Background(), RunIDKey, "run-1")
	ctx = context.WithValue(ctx, PipelineKey, "orders")
	WithContext(ctx).Info("opened")
	WithContext(context.Background()).Info("bare")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, map[string]interface{}{"run_id": "run-1", "pipeline": "orders"}, entries[0].ContextMap())
	assert.Empty(t, entries[1].ContextMap())
}

func TestInitKeepsFirstLogger(t *testing.T) {
	logs := observe(t)
	require.NoError(t, Init(Config{Level: "error"}))
	With(zap.String("component", "runner")).Debug("kept")
	assert.Equal(t, 1, logs.Len())
}
