package config

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a production logger at the configured level, or a
// development logger when the level is debug
func (l LoggingConfig) NewLogger() (*zap.Logger, error) {
	if l.Level == "debug" {
		return zap.NewDevelopment()
	}

	level, err := zapcore.ParseLevel(l.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}
