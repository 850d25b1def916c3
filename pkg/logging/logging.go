// Package logging builds the process-wide zap logger. It replaces the
// teacher's unimplemented pkg/utils/logger.go stub, which already named
// zap as the intended structured-logging library and called for level
// selection (DEBUG/INFO/WARN/ERROR) and JSON-vs-text format — both of
// which config.LoggingConfig exposes.
package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures the logger. Mirrors the teacher's LoggingConfig
// (Level, Format) so config.Load() can build one directly.
type Options struct {
	Level  string // debug, info, warn, error
	Format string // json, console
}

// New builds a *zap.Logger from Options. Never returns nil: unknown level
// or format values fall back to info/json rather than erroring, since
// logging must never be the reason the process fails to start.
func New(opts Options) *zap.Logger {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(opts.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if opts.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(os.Stdout)), level)
	return zap.New(core, zap.AddCaller())
}
