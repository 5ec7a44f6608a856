// Package log provides the process-wide structured logger for kprof.
//
// Records fan out to two sinks: stderr (warnings and errors unless verbose)
// and a JSON debug file that always receives every level.
package log

import (
	"context"
	"io"
	"log/slog"
	"os"
)

var (
	base       *slog.Logger
	logger     *slog.Logger
	fileWriter *FileWriter
)

// Options configures the logger.
type Options struct {
	// Verbose lowers the stderr threshold to debug.
	Verbose bool
	// JSONFormat uses JSON output for stderr.
	JSONFormat bool
	// DebugDir is where daily debug files are written. Empty disables file logging.
	DebugDir string
	// RetentionDays removes debug files older than this many days (0 keeps everything).
	RetentionDays int
	// Stderr overrides os.Stderr.
	Stderr io.Writer
}

// Init installs the global logger.
func Init(opts Options) error {
	stderr := opts.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	stderrLevel := slog.LevelWarn
	if opts.Verbose {
		stderrLevel = slog.LevelDebug
	}
	stderrOpts := &slog.HandlerOptions{Level: stderrLevel}

	var handlers []slog.Handler
	if opts.JSONFormat {
		handlers = append(handlers, slog.NewJSONHandler(stderr, stderrOpts))
	} else {
		handlers = append(handlers, slog.NewTextHandler(stderr, stderrOpts))
	}

	if opts.DebugDir != "" {
		if opts.RetentionDays > 0 {
			Cleanup(opts.DebugDir, opts.RetentionDays)
		}
		fw, err := NewFileWriter(opts.DebugDir)
		if err != nil {
			return err
		}
		fileWriter = fw
		handlers = append(handlers, slog.NewJSONHandler(fw, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	install(slog.New(&multiHandler{handlers: handlers}))
	return nil
}

func install(l *slog.Logger) {
	base = l
	logger = l
	slog.SetDefault(l)
}

// Close flushes and closes the debug file, if any.
func Close() {
	if fileWriter != nil {
		fileWriter.Close()
		fileWriter = nil
	}
}

// multiHandler fans out log records to multiple handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.handlers {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil {
			return err
		}
	}
	return nil
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	hs := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		hs[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: hs}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	hs := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		hs[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: hs}
}

// Debug logs a debug message.
func Debug(msg string, args ...any) { logger.Debug(msg, args...) }

// Info logs an info message.
func Info(msg string, args ...any) { logger.Info(msg, args...) }

// Warn logs a warning message.
func Warn(msg string, args ...any) { logger.Warn(msg, args...) }

// Error logs an error message.
func Error(msg string, args ...any) { logger.Error(msg, args...) }

// With returns a logger with additional context.
func With(args ...any) *slog.Logger {
	return logger.With(args...)
}

// SetOutput sends everything at debug level and above to w (for testing).
func SetOutput(w io.Writer) {
	install(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

// SetSession tags every subsequent record with the tracing session name.
func SetSession(name string) {
	logger = base.With(slog.String("session", name))
	slog.SetDefault(logger)
}

// ClearSession drops the session tag added by SetSession.
func ClearSession() {
	logger = base
	slog.SetDefault(logger)
}

func init() {
	install(slog.Default())
}
