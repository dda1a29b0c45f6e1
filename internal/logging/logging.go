// Package logging wraps zap construction so every component in this
// service shares the same encoder config and level parsing, mirroring
// the retrieved rillnet pkg/logger package.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production JSON logger at the given level ("debug",
// "info", "warn", "error"). An unrecognized level falls back to info.
func New(level string) *zap.SugaredLogger {
	zapLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		// Fall back to a Nop logger rather than crash on a logging
		// misconfiguration; startup failure is reserved for the
		// configuration, JWT key, WebRTC setup and listener errors
		// handled in cmd/sfu.
		return zap.NewNop().Sugar()
	}
	return logger.Sugar()
}

// WithComponent returns a child logger tagging every line with the
// owning subsystem, e.g. "router", "room", "loop".
func WithComponent(l *zap.SugaredLogger, component string) *zap.SugaredLogger {
	if l == nil {
		return zap.NewNop().Sugar()
	}
	return l.With("component", component)
}
