// Package logging wraps zap into the structured logger used across every
// pipeline stage, mirroring the teacher's internal/logger package.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps a zap.Logger so pipeline code depends on one small surface
// instead of the full zap API.
type Logger struct {
	*zap.Logger
}

// NewLogger builds a production logger unless ARGO_BACKTEST_LOG_DEV is set,
// in which case it builds a human-readable development logger.
func NewLogger() (*Logger, error) {
	var (
		zl  *zap.Logger
		err error
	)

	if isDev() {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zl, err = cfg.Build()
	} else {
		zl, err = zap.NewProduction()
	}

	if err != nil {
		return nil, err
	}

	return &Logger{Logger: zl}, nil
}

// NewNopLogger returns a logger that discards everything, for tests.
func NewNopLogger() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// With returns a child logger carrying the given structured fields.
func (l *Logger) With(fields ...zap.Field) *Logger {
	if l == nil || l.Logger == nil {
		return l
	}

	return &Logger{Logger: l.Logger.With(fields...)}
}

// Sync flushes any buffered log entries. Safe to call on a nil logger.
func (l *Logger) Sync() error {
	if l == nil || l.Logger == nil {
		return nil
	}

	return l.Logger.Sync()
}

func isDev() bool {
	v := os.Getenv("ARGO_BACKTEST_LOG_DEV")

	return v == "1" || v == "true"
}
