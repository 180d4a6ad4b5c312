package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew_Formats(t *testing.T) {
	for _, format := range []string{"json", "text"} {
		log, err := New(LogConfig{Level: "debug", Format: format})
		require.NoError(t, err)
		require.NotNil(t, log)
		log.Sync()
	}
}

func TestNew_InvalidLevelFallsBackToInfo(t *testing.T) {
	log, err := New(LogConfig{Level: "loud", Format: "json"})
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
}

func TestConvertFields(t *testing.T) {
	fields := convertFields("count", 3, 42, "ignored", "error", errors.New("boom"), "dangling")
	require.Len(t, fields, 2)
	assert.Equal(t, "count", fields[0].Key)
	assert.Equal(t, "error", fields[1].Key)
}

func TestObserved(t *testing.T) {
	log, logs := NewObserved(zapcore.InfoLevel)
	log.With("service", "sensors").Warn("read failed", "sensor", "climate")
	log.Debug("hidden")

	entries := logs.All()
	require.Len(t, entries, 1)
	assert.Equal(t, "read failed", entries[0].Message)
	ctx := entries[0].ContextMap()
	assert.Equal(t, "sensors", ctx["service"])
	assert.Equal(t, "climate", ctx["sensor"])
}
