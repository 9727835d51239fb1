// Package log provides the relayer's module-scoped structured logger.
//
// It follows common/cache.go's log.NewModuleLogger(moduleName) convention
// (see common/cache.go's `logger = log.NewModuleLogger(log.Common)`) but is
// backed by go.uber.org/zap's sugared logger instead of the unretrieved
// klaytn log package.
package log

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	baseOnce sync.Once
	base     *zap.Logger
)

func root() *zap.Logger {
	baseOnce.Do(func() {
		cfg := zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.OutputPaths = []string{"stderr"}
		l, err := cfg.Build()
		if err != nil {
			// Logging must never be the reason the relayer fails to start.
			l = zap.NewNop()
			os.Stderr.WriteString("log: falling back to no-op logger: " + err.Error() + "\n")
		}
		base = l
	})
	return base
}

// Logger is the interface every relayer component logs through. It mirrors
// common/cache.go's key/value pair calling convention
// (logger.Error("msg", "key", val, ...)) rather than zap's native API, so
// call sites read the way common/cache.go's do.
type Logger interface {
	Trace(msg string, kv ...interface{})
	Debug(msg string, kv ...interface{})
	Info(msg string, kv ...interface{})
	Warn(msg string, kv ...interface{})
	Error(msg string, kv ...interface{})
	Crit(msg string, kv ...interface{})
	With(kv ...interface{}) Logger
}

type moduleLogger struct {
	z *zap.SugaredLogger
}

// NewModuleLogger returns a Logger tagged with the given module name, e.g.
// log.NewModuleLogger("reconcile").
func NewModuleLogger(module string, kv ...interface{}) Logger {
	args := append([]interface{}{"module", module}, kv...)
	return &moduleLogger{z: root().Sugar().With(args...)}
}

func (l *moduleLogger) Trace(msg string, kv ...interface{}) { l.z.Debugw(msg, kv...) }
func (l *moduleLogger) Debug(msg string, kv ...interface{}) { l.z.Debugw(msg, kv...) }
func (l *moduleLogger) Info(msg string, kv ...interface{})  { l.z.Infow(msg, kv...) }
func (l *moduleLogger) Warn(msg string, kv ...interface{})  { l.z.Warnw(msg, kv...) }
func (l *moduleLogger) Error(msg string, kv ...interface{}) { l.z.Errorw(msg, kv...) }
func (l *moduleLogger) Crit(msg string, kv ...interface{})  { l.z.Fatalw(msg, kv...) }

func (l *moduleLogger) With(kv ...interface{}) Logger {
	return &moduleLogger{z: l.z.With(kv...)}
}

// Sync flushes any buffered log entries. Call once from main before exit.
func Sync() {
	if base != nil {
		_ = base.Sync()
	}
}
