// File: internal/logging/logging.go
// Author: momentics <momentics@gmail.com>
//
// zap logger construction and named per-component loggers.

package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger at the given level ("debug", "info", ...).
func New(level string, development bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("logging: %w", err)
	}
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = !development
	return cfg.Build()
}

// Component returns a child of the global logger named after a subsystem.
// Resolved on every call so zap.ReplaceGlobals takes effect for new objects.
func Component(name string) *zap.Logger {
	return zap.L().Named(name)
}

// Or returns l when non-nil, otherwise Component(name).
func Or(l *zap.Logger, name string) *zap.Logger {
	if l != nil {
		return l
	}
	return Component(name)
}
