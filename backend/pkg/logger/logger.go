// Package logger holds the process-wide zap logger
package logger

import (
	"fmt"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the global logger. It is nil until Init succeeds.
var Logger *zap.Logger

var (
	fallbackOnce sync.Once
	fallback     *zap.Logger
)

// Init builds the global logger for env, honouring LOG_LEVEL when set
func Init(env string) error {
	return InitLevel(env, os.Getenv("LOG_LEVEL"))
}

// InitLevel builds the global logger. "production" gives JSON at Info,
// anything else a coloured console at Debug. A non-empty level overrides
// either default.
func InitLevel(env, level string) error {
	cfg := zap.NewDevelopmentConfig()
	lvl := zapcore.DebugLevel
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if env == "production" {
		cfg = zap.NewProductionConfig()
		lvl = zapcore.InfoLevel
	}

	if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	built, err := cfg.Build()
	if err != nil {
		return err
	}
	Logger = built.With(zap.String("service", "voice-assistant"))
	return nil
}

// Sync flushes buffered entries
func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
}

// Get returns the global logger, or a shared development logger when Init
// has not run (tests, scripts)
func Get() *zap.Logger {
	if Logger != nil {
		return Logger
	}
	fallbackOnce.Do(func() {
		l, err := zap.NewDevelopment()
		if err != nil {
			l = zap.NewNop()
		}
		fallback = l
	})
	return fallback
}

// Named returns a child of the global logger tagged with a component name
func Named(component string) *zap.Logger {
	return Get().With(zap.String("component", component))
}
