package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, ParseLevel(" WARN "))
	assert.Equal(t, zapcore.InfoLevel, ParseLevel("nonsense"))
}

func TestNew_RespectsLevel(t *testing.T) {
	l := New("error")
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.ErrorLevel))
}

func TestContextLogger_AddsIDs(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	cl := NewContextLogger(zap.New(core))

	ctx := WithRequestID(WithEndpointID(context.Background(), "ep-1"), "req-9")
	cl.WithContext(ctx).Info("hello")

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		fields := entries[0].ContextMap()
		assert.Equal(t, "ep-1", fields["endpoint_id"])
		assert.Equal(t, "req-9", fields["request_id"])
		assert.NotContains(t, fields, "trace_id")
	}
	assert.Equal(t, "req-9", RequestID(ctx))
}

func TestPionFactory_ForwardsToZap(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	f := NewPionFactory(zap.New(core).Sugar())

	l := f.NewLogger("ice")
	l.Tracef("pair %d", 1)
	l.Warnf("candidate %s dropped", "x")

	entries := logs.All()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
		assert.Equal(t, "pair 1", entries[0].Message)
		assert.Equal(t, "candidate x dropped", entries[1].Message)
		assert.Equal(t, "ice", entries[1].ContextMap()["scope"])
	}
}
