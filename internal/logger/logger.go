package logger

import (
	"os"
	"sort"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Structured JSON logging backed by zap. Call sites pass a message and an
// optional map of fields, e.g.
//
//	logger.Error("token exchange failed", map[string]interface{}{"error": err.Error()})

const serviceName = "leads"

var (
	mu   sync.RWMutex
	base = newProduction(zapcore.InfoLevel)
	exit = func() { os.Exit(1) }
)

// Init rebuilds the process logger at the given level ("debug", "info",
// "warn", "error"). Unknown levels fall back to info.
func Init(level string) error {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := productionConfig(lvl)
	l, err := cfg.Build()
	if err != nil {
		return err
	}
	SetLogger(l)
	return nil
}

// SetLogger swaps the underlying zap logger. Used by tests to capture output.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	base = l.With(zap.String("service", serviceName))
}

// current returns the process zap logger.
func current() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Sync flushes buffered log entries.
func Sync() {
	_ = current().Sync()
}

func Debug(message string, fields map[string]interface{}) {
	current().Debug(message, toZap(fields)...)
}

func Info(message string, fields map[string]interface{}) {
	current().Info(message, toZap(fields)...)
}

func Warn(message string, fields map[string]interface{}) {
	current().Warn(message, toZap(fields)...)
}

func Error(message string, fields map[string]interface{}) {
	current().Error(message, toZap(fields)...)
}

// Fatal logs at error level, flushes and exits the process.
func Fatal(message string, fields map[string]interface{}) {
	l := current()
	l.Error(message, toZap(fields)...)
	_ = l.Sync()
	exit()
}

func productionConfig(lvl zapcore.Level) zap.Config {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg
}

func newProduction(lvl zapcore.Level) *zap.Logger {
	l, err := productionConfig(lvl).Build()
	if err != nil {
		return zap.NewNop()
	}
	return l.With(zap.String("service", serviceName))
}

// toZap converts the field map into zap fields in key order so output is
// stable across runs.
func toZap(fields map[string]interface{}) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}
