// Package logger builds the zap logger shared by the CLI and the synchronizer.
package logger

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the output format and minimum level.
type Config struct {
	JSON  bool
	Level string
}

// New returns a JSON production logger or a console logger writing to stderr.
func New(cfg Config) (*zap.Logger, error) {
	return newWithSink(cfg, os.Stderr)
}

func newWithSink(cfg Config, w io.Writer) (*zap.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	if cfg.JSON {
		config := zap.NewProductionConfig()
		config.Level = zap.NewAtomicLevelAt(level)
		config.OutputPaths = []string{"stderr"}
		config.ErrorOutputPaths = []string{"stderr"}
		if w != os.Stderr {
			encoder := zapcore.NewJSONEncoder(config.EncoderConfig)
			return zap.New(zapcore.NewCore(encoder, zapcore.AddSync(w), config.Level)), nil
		}
		return config.Build()
	}
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(w), level)
	return zap.New(core), nil
}

// ParseLevel maps a textual level to a zap level; empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return zap.InfoLevel, nil
	}
	if s == "warning" {
		s = "warn"
	}
	return zapcore.ParseLevel(s)
}
