package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

func parseLevel(level string) zapcore.Level {
	l, err := zapcore.ParseLevel(level)
	if err != nil {
		return zapcore.InfoLevel
	}
	return l
}

func NewLogger(level string) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(parseLevel(level))
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return config.Build()
}

// FileOptions controls rotation of a file logger.
type FileOptions struct {
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Tee also writes every entry to stderr.
	Tee bool
}

// NewFileLogger writes JSON entries to a rotating file at path.
func NewFileLogger(path, level string) (*zap.Logger, error) {
	return NewFileLoggerWithOptions(path, level, FileOptions{MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 30, Tee: true})
}

func NewFileLoggerWithOptions(path, level string, opts FileOptions) (*zap.Logger, error) {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoder := zapcore.NewJSONEncoder(encoderConfig)
	atom := zap.NewAtomicLevelAt(parseLevel(level))

	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	}
	core := zapcore.NewCore(encoder, zapcore.AddSync(rotator), atom)
	if opts.Tee {
		core = zapcore.NewTee(core, zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), atom))
	}
	return zap.New(core, zap.AddCaller()), nil
}
