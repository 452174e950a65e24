package pkg

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

// Component identifies a subsystem for log filtering.
type Component string

// Host controller component identifiers.
const (
	ComponentHost      Component = "host"
	ComponentScheduler Component = "scheduler"
	ComponentResolver  Component = "resolver"
	ComponentCancel    Component = "cancel"
	ComponentHAL       Component = "hal"
	ComponentIRQ       Component = "irq"
	ComponentDMA       Component = "dma"
	ComponentSim       Component = "sim"
)

// LogFormat specifies the output format for logging.
type LogFormat int

// Log format options.
const (
	LogFormatText LogFormat = iota // Text format (default)
	LogFormatJSON                  // JSON format
)

// LevelTrace is a custom level below Debug used for per-event output.
const LevelTrace slog.Level = -8

var (
	// DefaultLogger is the default logger used by the host controller core.
	DefaultLogger *slog.Logger

	// logLevel controls the minimum log level.
	logLevel = new(slog.LevelVar)

	// logMutex protects logger configuration.
	logMutex sync.RWMutex
)

func init() {
	logLevel.Set(slog.LevelWarn)
	DefaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))
}

// ParseLevel maps a level name to a slog level. Unknown names yield Info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "trace":
		return LevelTrace
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseFormat maps a format name to a LogFormat. Unknown names yield text.
func ParseFormat(s string) LogFormat {
	if strings.EqualFold(s, "json") {
		return LogFormatJSON
	}
	return LogFormatText
}

// SetLogLevel sets the minimum log level for all core logging.
func SetLogLevel(level slog.Level) {
	logMutex.Lock()
	defer logMutex.Unlock()
	logLevel.Set(level)
}

// GetLogLevel returns the current minimum log level.
func GetLogLevel() slog.Level {
	logMutex.RLock()
	defer logMutex.RUnlock()
	return logLevel.Level()
}

// SetLogger replaces the default logger with a custom logger.
func SetLogger(logger *slog.Logger) {
	logMutex.Lock()
	defer logMutex.Unlock()
	DefaultLogger = logger
}

// Logger returns the current default logger.
func Logger() *slog.Logger {
	logMutex.RLock()
	defer logMutex.RUnlock()
	return DefaultLogger
}

func newHandler(w io.Writer, format LogFormat, opts *slog.HandlerOptions) slog.Handler {
	if format == LogFormatJSON {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// NewLogger creates a new text logger writing to the given writer.
func NewLogger(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	if opts == nil {
		opts = &slog.HandlerOptions{Level: logLevel}
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// NewJSONLogger creates a new JSON logger writing to the given writer.
func NewJSONLogger(w io.Writer, opts *slog.HandlerOptions) *slog.Logger {
	if opts == nil {
		opts = &slog.HandlerOptions{Level: logLevel}
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// MultiHandler fans out records to multiple handlers.
type MultiHandler struct{ hs []slog.Handler }

func (m MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.hs {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m MultiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, h := range m.hs {
		if h.Enabled(ctx, r.Level) {
			_ = h.Handle(ctx, r.Clone())
		}
	}
	return nil
}

func (m MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(m.hs))
	for i, h := range m.hs {
		out[i] = h.WithAttrs(attrs)
	}
	return MultiHandler{hs: out}
}

func (m MultiHandler) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, len(m.hs))
	for i, h := range m.hs {
		out[i] = h.WithGroup(name)
	}
	return MultiHandler{hs: out}
}

// LevelFilter passes records to the wrapped handler only when pass accepts
// their level.
type LevelFilter struct {
	pass func(slog.Level) bool
	h    slog.Handler
}

func (f LevelFilter) Enabled(ctx context.Context, level slog.Level) bool {
	return f.pass(level) && f.h.Enabled(ctx, level)
}

func (f LevelFilter) Handle(ctx context.Context, r slog.Record) error {
	if !f.pass(r.Level) {
		return nil
	}
	return f.h.Handle(ctx, r)
}

func (f LevelFilter) WithAttrs(attrs []slog.Attr) slog.Handler {
	return LevelFilter{pass: f.pass, h: f.h.WithAttrs(attrs)}
}

func (f LevelFilter) WithGroup(name string) slog.Handler {
	return LevelFilter{pass: f.pass, h: f.h.WithGroup(name)}
}

// SetupLogger builds a logger for command-line use. Without a log file,
// records below Error go to stdout and errors go to stderr. With a log file,
// everything goes to stderr and to the file. The returned closers must be
// closed by the caller.
func SetupLogger(level, format, file string) (*slog.Logger, []io.Closer, error) {
	lvl := ParseLevel(level)
	fmtKind := ParseFormat(format)
	SetLogLevel(lvl)

	var handlers []slog.Handler
	var closers []io.Closer

	if file == "" {
		stdout := newHandler(os.Stdout, fmtKind, &slog.HandlerOptions{Level: lvl})
		handlers = append(handlers, LevelFilter{pass: func(l slog.Level) bool { return l < slog.LevelError }, h: stdout})

		stderr := newHandler(os.Stderr, fmtKind, &slog.HandlerOptions{Level: slog.LevelError})
		handlers = append(handlers, LevelFilter{pass: func(l slog.Level) bool { return l >= slog.LevelError }, h: stderr})
	} else {
		f, err := os.OpenFile(file, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, f)
		handlers = append(handlers,
			newHandler(os.Stderr, fmtKind, &slog.HandlerOptions{Level: lvl}),
			newHandler(f, fmtKind, &slog.HandlerOptions{Level: lvl}))
	}

	return slog.New(MultiHandler{hs: handlers}), closers, nil
}

func log(level slog.Level, component Component, msg string, args []any) {
	logMutex.RLock()
	logger := DefaultLogger
	logMutex.RUnlock()
	logger.Log(context.Background(), level, msg, append([]any{"component", string(component)}, args...)...)
}

// LogTrace logs a trace message with the given component.
func LogTrace(component Component, msg string, args ...any) {
	log(LevelTrace, component, msg, args)
}

// LogDebug logs a debug message with the given component.
func LogDebug(component Component, msg string, args ...any) {
	log(slog.LevelDebug, component, msg, args)
}

// LogInfo logs an info message with the given component.
func LogInfo(component Component, msg string, args ...any) {
	log(slog.LevelInfo, component, msg, args)
}

// LogWarn logs a warning message with the given component.
func LogWarn(component Component, msg string, args ...any) {
	log(slog.LevelWarn, component, msg, args)
}

// LogError logs an error message with the given component.
func LogError(component Component, msg string, args ...any) {
	log(slog.LevelError, component, msg, args)
}
