// Package logging builds the zap logger used by the goguard command.
package logging

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls logger construction.
type Config struct {
	// Level is the minimum level (debug, info, warn, error).
	Level string `mapstructure:"level"`

	// Format is "json" or "console".
	Format string `mapstructure:"format"`

	// File, when set, receives a copy of every entry with size based rotation.
	File       string `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// DefaultConfig returns console logging at info level on stderr.
func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Format:     "console",
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     30,
		Compress:   true,
	}
}

// New builds a logger writing to stderr and, if configured, a rotated file.
// The returned close function flushes and releases the file.
func New(cfg Config) (*zap.Logger, func() error, error) {
	return newLogger(cfg, os.Stderr)
}

func newLogger(cfg Config, console io.Writer) (*zap.Logger, func() error, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid log level %s: %w", cfg.Level, err)
	}

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	var encoder zapcore.Encoder
	switch cfg.Format {
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderConfig)
	case "console", "":
		consoleConfig := encoderConfig
		consoleConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(consoleConfig)
	default:
		return nil, nil, fmt.Errorf("invalid log format %s", cfg.Format)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.AddSync(console), level),
	}

	var rotator *lumberjack.Logger
	if cfg.File != "" {
		rotator = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		// files always get JSON
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderConfig),
			zapcore.AddSync(rotator),
			level,
		))
	}

	logger := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	closeFn := func() error {
		_ = logger.Sync()
		if rotator != nil {
			return rotator.Close()
		}
		return nil
	}
	return logger, closeFn, nil
}
