package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zapcore.Level
	}{
		{"", zapcore.InfoLevel},
		{"INFO", zapcore.InfoLevel},
		{"error", zapcore.ErrorLevel},
		{"debug", zapcore.DebugLevel},
		{"trace", zapcore.Level(-2)},
	}
	for _, tc := range tests {
		got, err := parseLevel(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
	_, err := parseLevel("loud")
	assert.Error(t, err)
}

func TestNewHonoursVerbosity(t *testing.T) {
	log, err := New("debug", false)
	require.NoError(t, err)
	assert.True(t, log.V(DEBUG).Enabled())
	assert.False(t, log.V(TRACE).Enabled())

	log, err = New("info", true)
	require.NoError(t, err)
	assert.False(t, log.V(DEBUG).Enabled())
}
