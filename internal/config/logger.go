package config

import (
	"fmt"
	"os"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds a production zap logger writing JSON to stderr, plus a
// size-rotated file when File is set. Stdout is left to command output
// and the MCP stdio transport.
func (c LogConfig) NewLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(c.Level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level),
	}
	if c.File != "" {
		rotated := &lumberjack.Logger{
			Filename: c.File,
			MaxSize:  c.MaxSizeMB, // megabytes
			MaxAge:   c.MaxAgeDays,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(rotated), level))
	}
	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}
