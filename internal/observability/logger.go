package observability

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogConfig selects the level and optional file sink for NewLogger.
type LogConfig struct {
	// Level is DEBUG, INFO, WARN or ERROR. Empty falls back to the environment default.
	Level string
	// Environment "development" logs at DEBUG when Level is empty.
	Environment string
	// File, when set, receives the same entries as stderr. Its directory is created.
	File string
}

func NewLogger(cfg LogConfig) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.Level = resolveLevel(cfg.Level, cfg.Environment)

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return nil, fmt.Errorf("create log directory: %w", err)
		}
		config.OutputPaths = append(config.OutputPaths, cfg.File)
		config.ErrorOutputPaths = append(config.ErrorOutputPaths, cfg.File)
	}

	return config.Build()
}

func resolveLevel(level, environment string) zap.AtomicLevel {
	if strings.TrimSpace(level) == "" && environment == "development" {
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return parseLogLevel(level)
}

func parseLogLevel(s string) zap.AtomicLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	case "WARN":
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	case "ERROR":
		return zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
}
