// Package logging builds the zap loggers shared across the node.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New constructs the process logger. verbose lowers the level to Debug;
// production defaults (JSON, sampling) apply otherwise.
func New(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		cfg.Development = true
		cfg.Encoding = "console"
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("cannot build logger: %w", err)
	}
	return logger, nil
}
