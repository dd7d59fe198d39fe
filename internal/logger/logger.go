// Package logger provides a structured logging wrapper around Go's slog package.
// It supports JSON and text output, the debug/info/warn/error levels and
// stdout, stderr or file destinations.
//
// Example usage:
//
//	log, err := logger.New(logger.Config{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	})
//	if err != nil {
//	    return err
//	}
//
//	log.Info("workqueue created", logger.Field{Key: "name", Value: "events"})
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Config представляет конфигурацию logger
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, text
	Output string // stdout, stderr, или путь к файлу
}

// Logger представляет обёртку вокруг slog.Logger
type Logger struct {
	slog *slog.Logger
}

// Field представляет поле для structured logging
type Field struct {
	Key   string
	Value any
}

// New создает новый logger с заданной конфигурацией
func New(cfg Config) (*Logger, error) {
	level, valid := ParseLevel(cfg.Level)
	if !valid {
		return nil, fmt.Errorf("invalid log level: %s (expected: debug, info, warn, error)", cfg.Level)
	}

	writer, err := openOutput(cfg.Output)
	if err != nil {
		return nil, err
	}

	handler, err := newHandler(cfg.Format, writer, &slog.HandlerOptions{Level: level})
	if err != nil {
		return nil, err
	}

	return &Logger{slog: slog.New(handler)}, nil
}

// NewWithWriter builds a logger that writes to w. Used by tests that need
// to inspect output.
func NewWithWriter(w io.Writer, level, format string) (*Logger, error) {
	lvl, valid := ParseLevel(level)
	if !valid {
		return nil, fmt.Errorf("invalid log level: %s (expected: debug, info, warn, error)", level)
	}
	handler, err := newHandler(format, w, &slog.HandlerOptions{Level: lvl})
	if err != nil {
		return nil, err
	}
	return &Logger{slog: slog.New(handler)}, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{slog: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))}
}

func openOutput(output string) (io.Writer, error) {
	switch strings.ToLower(output) {
	case "stdout", "":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	}

	// Путь к файлу - разворачиваем ~ в домашнюю директорию
	filePath := output
	if strings.HasPrefix(filePath, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		filePath = filepath.Join(homeDir, filePath[2:])
	}
	filePath = filepath.Clean(filePath)

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}
	file, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", filePath, err)
	}
	return file, nil
}

func newHandler(format string, w io.Writer, opts *slog.HandlerOptions) (slog.Handler, error) {
	switch strings.ToLower(format) {
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	case "text":
		return slog.NewTextHandler(w, opts), nil
	default:
		return nil, fmt.Errorf("invalid log format: %s (expected: json, text)", format)
	}
}

// ParseLevel конвертирует строку уровня в slog.Level
func ParseLevel(level string) (slog.Level, bool) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// Debug логирует сообщение на уровне debug
func (l *Logger) Debug(msg string, fields ...Field) {
	l.slog.Debug(msg, fieldsToAny(fields...)...)
}

// Info логирует сообщение на уровне info
func (l *Logger) Info(msg string, fields ...Field) {
	l.slog.Info(msg, fieldsToAny(fields...)...)
}

// Warn логирует сообщение на уровне warn
func (l *Logger) Warn(msg string, fields ...Field) {
	l.slog.Warn(msg, fieldsToAny(fields...)...)
}

// Error логирует сообщение на уровне error с ошибкой
func (l *Logger) Error(msg string, err error, fields ...Field) {
	allFields := append([]Field{{Key: "error", Value: err}}, fields...)
	l.slog.Error(msg, fieldsToAny(allFields...)...)
}

// DebugCtx логирует сообщение с контекстом на уровне debug
func (l *Logger) DebugCtx(ctx context.Context, msg string, fields ...Field) {
	l.slog.DebugContext(ctx, msg, fieldsToAny(fields...)...)
}

// InfoCtx логирует сообщение с контекстом на уровне info
func (l *Logger) InfoCtx(ctx context.Context, msg string, fields ...Field) {
	l.slog.InfoContext(ctx, msg, fieldsToAny(fields...)...)
}

// WarnCtx логирует сообщение с контекстом на уровне warn
func (l *Logger) WarnCtx(ctx context.Context, msg string, fields ...Field) {
	l.slog.WarnContext(ctx, msg, fieldsToAny(fields...)...)
}

// ErrorCtx логирует сообщение с контекстом на уровне error с ошибкой
func (l *Logger) ErrorCtx(ctx context.Context, msg string, err error, fields ...Field) {
	allFields := append([]Field{{Key: "error", Value: err}}, fields...)
	l.slog.ErrorContext(ctx, msg, fieldsToAny(allFields...)...)
}

// Enabled reports whether records at level would be emitted. Hot paths use
// it to skip building fields.
func (l *Logger) Enabled(level slog.Level) bool {
	return l.slog.Enabled(context.Background(), level)
}

func fieldsToAny(fields ...Field) []any {
	result := make([]any, 0, len(fields)*2)
	for _, f := range fields {
		result = append(result, f.Key, f.Value)
	}
	return result
}

// With возвращает новый logger с добавленными полями
func (l *Logger) With(fields ...Field) *Logger {
	return &Logger{
		slog: l.slog.With(fieldsToAny(fields...)...),
	}
}

// Named returns a logger tagged with the component name.
func (l *Logger) Named(component string) *Logger {
	return l.With(Field{Key: "component", Value: component})
}

// StdLogger возвращает стандартный logger для совместимости
func (l *Logger) StdLogger() *slog.Logger {
	return l.slog
}

// SetDefault устанавливает стандартный logger
func SetDefault(l *Logger) {
	slog.SetDefault(l.slog)
}
