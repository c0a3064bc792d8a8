package logger

import (
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Level       string
	Encoding    string
	Development bool
}

var (
	mu  sync.RWMutex
	log = zap.NewNop()
)

func Init(conf Config) error {
	var zc zap.Config
	if conf.Development {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	if len(conf.Encoding) != 0 {
		zc.Encoding = conf.Encoding
	}
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if len(conf.Level) != 0 {
		level, err := zapcore.ParseLevel(conf.Level)
		if err != nil {
			return err
		}
		zc.Level = zap.NewAtomicLevelAt(level)
	}
	l, err := zc.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}
	SetLogger(l)
	return nil
}

// SetLogger replaces the process logger, tests use it to capture output.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	log = l
}

func get() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

func With(fields ...zap.Field) *zap.Logger {
	return get().WithOptions(zap.AddCallerSkip(-1)).With(fields...)
}

func Debug(msg string, fields ...zap.Field) {
	get().Debug(msg, fields...)
}

func Info(msg string, fields ...zap.Field) {
	get().Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	get().Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	get().Error(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	get().Fatal(msg, fields...)
}

func Sync() error {
	return get().Sync()
}
