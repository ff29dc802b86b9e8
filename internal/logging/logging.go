// Package logging provides structured logging functionality.
package logging

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string
	Console    bool
	File       bool
	FilePath   string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	home, _ := os.UserHomeDir()
	return LogConfig{
		Level:      "info",
		Console:    true,
		File:       true,
		FilePath:   filepath.Join(home, ".config", "alchemiser-hedger", "logs", "hedger.log"),
		MaxSize:    100,
		MaxBackups: 7,
		MaxAge:     30,
	}
}

// NewLogger creates a new logger with default configuration.
func NewLogger() zerolog.Logger {
	return NewLoggerWithConfig(DefaultLogConfig())
}

// NewLoggerWithConfig creates a new logger with the specified configuration.
func NewLoggerWithConfig(cfg LogConfig) zerolog.Logger {
	var writers []io.Writer

	// Console writer
	if cfg.Console {
		consoleWriter := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		writers = append(writers, consoleWriter)
	}

	// File writer with rotation
	if cfg.File {
		logDir := filepath.Dir(cfg.FilePath)
		if err := os.MkdirAll(logDir, 0755); err == nil {
			fileWriter := &lumberjack.Logger{
				Filename:   cfg.FilePath,
				MaxSize:    cfg.MaxSize,
				MaxBackups: cfg.MaxBackups,
				MaxAge:     cfg.MaxAge,
				Compress:   true,
			}
			writers = append(writers, fileWriter)
		}
	}

	var writer io.Writer
	if len(writers) == 0 {
		writer = os.Stdout
	} else if len(writers) == 1 {
		writer = writers[0]
	} else {
		writer = zerolog.MultiLevelWriter(writers...)
	}

	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	logger := zerolog.New(writer).
		With().
		Timestamp().
		Caller().
		Logger()

	return logger
}

func parseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// ContextKey is the type for context keys.
type ContextKey string

const (
	// LoggerKey is the context key for the logger.
	LoggerKey ContextKey = "logger"
	// CorrelationIDKey is the context key for the cycle correlation id.
	CorrelationIDKey ContextKey = "correlation_id"
)

// WithLogger adds a logger to the context.
func WithLogger(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, LoggerKey, logger)
}

// FromContext retrieves the logger from context.
func FromContext(ctx context.Context) zerolog.Logger {
	if logger, ok := ctx.Value(LoggerKey).(zerolog.Logger); ok {
		return logger
	}
	return zerolog.Nop()
}

// WithUnderlying adds an underlying symbol to the logger context.
func WithUnderlying(logger zerolog.Logger, underlying string) zerolog.Logger {
	return logger.With().Str("underlying", underlying).Logger()
}

// WithCorrelation adds a correlation id to the logger context.
func WithCorrelation(logger zerolog.Logger, correlationID string) zerolog.Logger {
	return logger.With().Str("correlation_id", correlationID).Logger()
}

// WithPosition adds a hedge position id to the logger context.
func WithPosition(logger zerolog.Logger, positionID string) zerolog.Logger {
	return logger.With().Str("position_id", positionID).Logger()
}

// LogRecommendation logs a hedge sizing decision.
func LogRecommendation(logger zerolog.Logger, underlying string, contracts int, premium float64, skipReason string) {
	event := logger.Info().
		Str("event", "recommendation").
		Str("underlying", underlying).
		Int("contracts", contracts).
		Float64("estimated_premium", premium)

	if skipReason != "" {
		event.Str("skip_reason", skipReason).Msg("Hedge skipped")
	} else {
		event.Msg("Hedge recommended")
	}
}

// LogRollTrigger logs a roll trigger firing.
func LogRollTrigger(logger zerolog.Logger, positionID, reason, detail string) {
	logger.Info().
		Str("event", "roll_trigger").
		Str("position_id", positionID).
		Str("reason", reason).
		Str("detail", detail).
		Msg("Roll trigger fired")
}

// LogAssignment logs an assignment risk detection.
func LogAssignment(logger zerolog.Logger, positionID, band string, shortDelta float64, action string) {
	logger.Warn().
		Str("event", "assignment_detected").
		Str("position_id", positionID).
		Str("band", band).
		Float64("short_delta", shortDelta).
		Str("action", action).
		Msg("Assignment risk detected")
}

// LogUnwind logs an emergency unwind step.
func LogUnwind(logger zerolog.Logger, unwindID, severity string, closed, failed int) {
	logger.Warn().
		Str("event", "unwind").
		Str("unwind_id", unwindID).
		Str("severity", severity).
		Int("closed", closed).
		Int("failed", failed).
		Msg("Emergency unwind")
}

// LogGateChange logs a safety gate transition.
func LogGateChange(logger zerolog.Logger, active bool, reason string) {
	logger.Warn().
		Str("event", "safety_gate").
		Bool("active", active).
		Str("reason", reason).
		Msg("Safety gate changed")
}
