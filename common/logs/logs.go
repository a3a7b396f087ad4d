// Package logs builds the zap loggers shared by the navigation packages.
package logs

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Options struct {
	Level       string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	File        string `yaml:"file"`
	MaxSizeMB   int    `yaml:"max_size_mb" validate:"gte=0"`
	MaxBackups  int    `yaml:"max_backups" validate:"gte=0"`
	MaxAgeDays  int    `yaml:"max_age_days" validate:"gte=0"`
	Development bool   `yaml:"development"`
}

// New writes to stderr and, when File is set, to a rotating log file.
func New(o Options) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if o.Level != "" {
		if err := level.Set(o.Level); err != nil {
			return nil, fmt.Errorf("logs: level %q: %w", o.Level, err)
		}
	}
	encCfg := zap.NewProductionEncoderConfig()
	if o.Development {
		encCfg = zap.NewDevelopmentEncoderConfig()
	}
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(os.Stderr), level),
	}
	if o.File != "" {
		rotate := &lumberjack.Logger{
			Filename:   o.File,
			MaxSize:    o.MaxSizeMB,
			MaxBackups: o.MaxBackups,
			MaxAge:     o.MaxAgeDays,
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rotate), level))
	}
	opts := []zap.Option{zap.AddCaller()}
	if o.Development {
		opts = append(opts, zap.Development())
	}
	return zap.New(zapcore.NewTee(cores...), opts...), nil
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
