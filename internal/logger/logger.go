package logger

import (
	"context"
	"io"
	"os"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	apperrors "github.com/issuetracker/backend/internal/errors"
)

// Config describes how the process logger is built.
type Config struct {
	// Level is one of debug, info, warn, error. Empty means info.
	Level string
	// Development switches to console encoding with caller info.
	Development bool
	// Output defaults to stdout.
	Output io.Writer
}

// Logger provides structured logging with request correlation.
type Logger struct {
	raw *zap.Logger
}

var defaultLogger atomic.Pointer[Logger]

func init() {
	defaultLogger.Store(&Logger{raw: zap.NewNop()})
}

// ParseLevel maps a level name to a zap level, defaulting to info.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// New creates a new logger
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.MessageKey = "message"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeCaller = zapcore.ShortCallerEncoder

	var enc zapcore.Encoder
	if cfg.Development {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(out), ParseLevel(cfg.Level))
	return NewWithCore(core)
}

// NewWithCore wraps an existing core. Tests use it with zaptest/observer.
func NewWithCore(core zapcore.Core) *Logger {
	raw := zap.New(newRedactingCore(core),
		zap.AddCaller(),
		zap.AddCallerSkip(1),
		zap.AddStacktrace(zapcore.ErrorLevel),
	)
	return &Logger{raw: raw}
}

// SetDefault sets the default logger
func SetDefault(l *Logger) {
	defaultLogger.Store(l)
}

// Default returns the default logger
func Default() *Logger {
	return defaultLogger.Load()
}

// WithComponent creates a new logger with the specified component name
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{raw: l.raw.With(zap.String("component", component))}
}

// Sync flushes buffered entries.
func (l *Logger) Sync() {
	_ = l.raw.Sync()
}

func (l *Logger) withContext(ctx context.Context, fields []zap.Field) []zap.Field {
	if ctx == nil {
		return fields
	}
	if requestID := apperrors.GetRequestID(ctx); requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	return fields
}

// Debug logs a debug message
func (l *Logger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	l.raw.Debug(msg, l.withContext(ctx, fields)...)
}

// Info logs an info message
func (l *Logger) Info(ctx context.Context, msg string, fields ...zap.Field) {
	l.raw.Info(msg, l.withContext(ctx, fields)...)
}

// Warn logs a warning message
func (l *Logger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	l.raw.Warn(msg, l.withContext(ctx, fields)...)
}

// Error logs an error message. AppErrors contribute their code and category.
func (l *Logger) Error(ctx context.Context, msg string, err error, fields ...zap.Field) {
	if err != nil {
		fields = append(fields, zap.Error(err))
		if appErr, ok := err.(*apperrors.AppError); ok {
			fields = append(fields,
				zap.String("error_code", appErr.Code),
				zap.String("error_category", string(appErr.Category)),
			)
		}
	}
	l.raw.Error(msg, l.withContext(ctx, fields)...)
}

// Fatal logs and exits the process.
func (l *Logger) Fatal(ctx context.Context, msg string, err error, fields ...zap.Field) {
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	l.raw.Fatal(msg, l.withContext(ctx, fields)...)
}

// Package-level convenience functions

func Debug(ctx context.Context, msg string, fields ...zap.Field) {
	Default().Debug(ctx, msg, fields...)
}

func Info(ctx context.Context, msg string, fields ...zap.Field) {
	Default().Info(ctx, msg, fields...)
}

func Warn(ctx context.Context, msg string, fields ...zap.Field) {
	Default().Warn(ctx, msg, fields...)
}

func Error(ctx context.Context, msg string, err error, fields ...zap.Field) {
	Default().Error(ctx, msg, err, fields...)
}
