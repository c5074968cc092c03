package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func reset(t *testing.T) {
	prev := Logger
	t.Cleanup(func() { Logger = prev })
	Logger = nil
}

func TestGet_FallbackIsShared(t *testing.T) {
	reset(t)
	assert.Same(t, Get(), Get())
}

func TestInitLevel(t *testing.T) {
	tests := []struct {
		env, level string
		debug      bool
		info       bool
	}{
		{env: "development", debug: true, info: true},
		{env: "production", debug: false, info: true},
		{env: "production", level: "debug", debug: true, info: true},
		{env: "development", level: "warn", debug: false, info: false},
	}
	for _, tt := range tests {
		t.Run(tt.env+"/"+tt.level, func(t *testing.T) {
			reset(t)
			require.NoError(t, InitLevel(tt.env, tt.level))
			assert.Equal(t, tt.debug, Get().Core().Enabled(zapcore.DebugLevel))
			assert.Equal(t, tt.info, Get().Core().Enabled(zapcore.InfoLevel))
		})
	}
}

func TestInitLevel_RejectsUnknownLevel(t *testing.T) {
	reset(t)
	assert.Error(t, InitLevel("development", "chatty"))
	assert.Nil(t, Logger)
}
