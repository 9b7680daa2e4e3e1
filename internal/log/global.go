package log

import (
	"context"
	"sync/atomic"
)

// The global logger serves package-level Debug/Info/Warn/Error calls.
// It defaults to an info-level json logger and is replaced once the
// configuration is loaded.
var global atomic.Pointer[Logger]

//nolint:gochecknoinits // Install a usable logger before configuration loads.
func init() {
	global.Store(New(Config{}))
}

// SetGlobalConfig rebuilds the global logger from cfg.
func SetGlobalConfig(cfg Config) {
	global.Store(New(cfg))
}

// GetGlobalLogger returns the current global logger.
func GetGlobalLogger() *Logger {
	return global.Load()
}

// DebugEnabled reports whether debug entries would be written by the
// global logger. Callers use it to skip expensive field construction.
func DebugEnabled(ctx context.Context) bool {
	return global.Load().DebugEnabled(ctx)
}

func Debug(ctx context.Context, msg string, fields ...Field) {
	global.Load().Debug(ctx, msg, fields...)
}

func Info(ctx context.Context, msg string, fields ...Field) {
	global.Load().Info(ctx, msg, fields...)
}

func Warn(ctx context.Context, msg string, fields ...Field) {
	global.Load().Warn(ctx, msg, fields...)
}

func Error(ctx context.Context, msg string, fields ...Field) {
	global.Load().Error(ctx, msg, fields...)
}
