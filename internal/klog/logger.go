// Package klog is the kernel core's logging facade. The specification
// treats the kernel log formatter and syslog sink as external collaborators
// ("only their contracts matter"); Logger is that contract, and Slog is the
// default implementation, backed by log/slog the way the rest of this
// codebase's ancestor used it (internal/oci, internal/update,
// internal/linux/boot all log through log/slog directly).
package klog

import (
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
)

// Logger is the contract the kernel core calls into for user-visible
// events: ERROR for failed attaches/operations, INFO for successful
// attachments, DEBUG for trace points.
type Logger interface {
	Info(module, format string, args ...any)
	Error(module, format string, args ...any)
	Debug(module, format string, args ...any)
}

type slogLogger struct {
	base *slog.Logger
}

// NewSlog builds a Logger that writes structured records through the given
// slog.Logger, tagging every record with the emitting module's name.
func NewSlog(base *slog.Logger) Logger {
	if base == nil {
		base = slog.Default()
	}
	return &slogLogger{base: base}
}

func (l *slogLogger) Info(module, format string, args ...any) {
	l.base.Info(sprintf(format, args...), slog.String("module", module))
}

func (l *slogLogger) Error(module, format string, args ...any) {
	l.base.Error(sprintf(format, args...), slog.String("module", module))
}

func (l *slogLogger) Debug(module, format string, args ...any) {
	l.base.Debug(sprintf(format, args...), slog.String("module", module))
}

func sprintf(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}

// default process-wide logger, mirroring the teacher's package-level
// atomic.Pointer-guarded global state pattern (internal/debug's fh/offset
// globals) instead of a package-level plain var.
var defaultLogger atomic.Pointer[Logger]

func init() {
	var l Logger = NewSlog(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	defaultLogger.Store(&l)
}

// SetDefault replaces the process-wide default Logger.
func SetDefault(l Logger) {
	defaultLogger.Store(&l)
}

// Default returns the process-wide default Logger.
func Default() Logger {
	return *defaultLogger.Load()
}

func Info(module, format string, args ...any)  { Default().Info(module, format, args...) }
func Error(module, format string, args ...any) { Default().Error(module, format, args...) }
func Debug(module, format string, args ...any) { Default().Debug(module, format, args...) }
