package log

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Package log is a thin package-level facade over a zap JSON core, so
// callers write appLog.Info("msg", "key", value) without threading a
// logger through every component.

var (
	mu     sync.Mutex
	sugar  *zap.SugaredLogger
	closer func()
)

func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}
}

// Setup configures the process logger. level is one of debug/info/warn/error
// (defaulting to info); if file is non-empty, log lines are written there in
// addition to stderr. Safe to call more than once; the last call wins.
func Setup(level, file string) error {
	lvl := zapcore.InfoLevel
	if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return err
		}
		lvl = parsed
	}

	enc := zapcore.NewJSONEncoder(encoderConfig())
	sinks := []zapcore.WriteSyncer{zapcore.AddSync(os.Stderr)}

	var fileClose func()
	if file != "" {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return err
		}
		sinks = append(sinks, zapcore.AddSync(f))
		fileClose = func() { f.Close() }
	}

	core := zapcore.NewCore(enc, zapcore.NewMultiWriteSyncer(sinks...), lvl)
	logger := zap.New(core)

	mu.Lock()
	defer mu.Unlock()
	if closer != nil {
		closer()
	}
	sugar = logger.Sugar()
	closer = fileClose
	return nil
}

// get returns the current logger, lazily initializing a stderr-only
// default so that logging works before Setup runs.
func get() *zap.SugaredLogger {
	mu.Lock()
	defer mu.Unlock()
	if sugar == nil {
		core := zapcore.NewCore(
			zapcore.NewJSONEncoder(encoderConfig()),
			zapcore.AddSync(os.Stderr),
			zapcore.InfoLevel,
		)
		sugar = zap.New(core).Sugar()
	}
	return sugar
}

func Debug(msg string, kv ...any) {
	get().Debugw(msg, kv...)
}

func Info(msg string, kv ...any) {
	get().Infow(msg, kv...)
}

func Warn(msg string, kv ...any) {
	get().Warnw(msg, kv...)
}

// Error logs an error message; err is recorded under the "err" key.
func Error(msg string, err error, kv ...any) {
	extended := append([]any{"err", err}, kv...)
	get().Errorw(msg, extended...)
}

// Sync flushes buffered log entries. Called on shutdown.
func Sync() {
	mu.Lock()
	defer mu.Unlock()
	if sugar != nil {
		_ = sugar.Sync()
	}
}
