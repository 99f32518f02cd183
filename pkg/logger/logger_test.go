package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		require.NotNil(t, New(Options{Level: level}), "level %s", level)
	}

	assert.True(t, New(Options{Level: "debug"}).Core().Enabled(zapcore.DebugLevel))
	assert.False(t, New(Options{Level: "warn"}).Core().Enabled(zapcore.InfoLevel))
}

func TestNewUnknownLevelFallsBackToInfo(t *testing.T) {
	l := New(Options{Level: "loud"})
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, l.Core().Enabled(zapcore.DebugLevel))
}

func TestNewConsoleEncoding(t *testing.T) {
	l := New(Options{Level: "info", Encoding: "console"})
	require.NotNil(t, l)
	assert.True(t, l.Core().Enabled(zapcore.InfoLevel))
}
