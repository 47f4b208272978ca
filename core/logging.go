package core

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggingConfig configures the process logger, not the pipelines
type LoggingConfig struct {
	Level       string `yaml:"level" toml:"level"`   // debug, info, warn, error
	Format      string `yaml:"format" toml:"format"` // json or console
	Development bool   `yaml:"development" toml:"development"`
}

// NewLogger builds a zap logger from cfg
func NewLogger(cfg LoggingConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Development {
		zcfg = zap.NewDevelopmentConfig()
	}
	if cfg.Format != "" {
		if cfg.Format != "json" && cfg.Format != "console" {
			return nil, fmt.Errorf("unknown log format %q", cfg.Format)
		}
		zcfg.Encoding = cfg.Format
	}
	if cfg.Level != "" {
		level, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %w", err)
		}
		zcfg.Level = zap.NewAtomicLevelAt(level)
	}
	zcfg.OutputPaths = []string{"stderr"}
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zcfg.Build()
}
