package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

var (
	Log             *slog.Logger
	defaultLevel    slog.Level
	componentLevels map[string]slog.Level
	levelsMu        sync.RWMutex
	format          string
	pid             int
	loggerCache     sync.Map
)

func init() {
	defaultLevel = slog.LevelInfo
	componentLevels = make(map[string]slog.Level)
	format = "text"
	pid = os.Getpid()

	Log = slog.New(NewTextHandler(os.Stdout, ""))
}

// Configure replaces the package-level logger. format is "text" or "json";
// components overrides the default level per component name.
func Configure(logFormat string, level Level, components map[string]Level) {
	levelsMu.Lock()
	defaultLevel = parseLevel(string(level))
	format = logFormat
	componentLevels = make(map[string]slog.Level, len(components))
	for name, lvl := range components {
		componentLevels[name] = parseLevel(string(lvl))
	}
	levelsMu.Unlock()

	loggerCache = sync.Map{}

	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: defaultLevel})
	} else {
		handler = NewTextHandler(os.Stdout, "")
	}

	Log = slog.New(handler)
}

// Component returns a logger tagged with the given component name, honoring
// any per-component level override. Loggers are cached by name.
func Component(name string) *slog.Logger {
	if cached, ok := loggerCache.Load(name); ok {
		return cached.(*slog.Logger)
	}

	var handler slog.Handler
	levelsMu.RLock()
	f := format
	levelsMu.RUnlock()

	if strings.EqualFold(f, "json") {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: getEffectiveLevel(name)}).WithAttrs([]slog.Attr{slog.String("component", name)})
	} else {
		handler = NewTextHandler(os.Stdout, name)
	}

	l := slog.New(handler)
	loggerCache.Store(name, l)
	return l
}

func getEffectiveLevel(component string) slog.Level {
	levelsMu.RLock()
	defer levelsMu.RUnlock()
	if lvl, ok := componentLevels[component]; ok {
		return lvl
	}
	return defaultLevel
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// TextHandler renders records as "timestamp [pid] [component] message key=value...".
type TextHandler struct {
	mu        sync.Mutex
	w         io.Writer
	attrs     []slog.Attr
	component string
}

func NewTextHandler(w io.Writer, component string) *TextHandler {
	return &TextHandler{w: w, component: component}
}

func (h *TextHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= getEffectiveLevel(h.component)
}

func (h *TextHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	attrs := make(map[string]any, r.NumAttrs()+len(h.attrs))
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	buf := make([]byte, 0, 256)
	buf = append(buf, r.Time.Format("2006/01/02 15:04:05.000")...)
	buf = append(buf, fmt.Sprintf(" [%d]", pid)...)
	if h.component != "" {
		buf = append(buf, fmt.Sprintf(" [%s]", h.component)...)
	}
	buf = append(buf, ' ')
	buf = append(buf, r.Message...)
	for k, v := range attrs {
		buf = append(buf, fmt.Sprintf(" %s=%v", k, v)...)
	}
	buf = append(buf, '\n')

	_, err := h.w.Write(buf)
	return err
}

func (h *TextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TextHandler{w: h.w, attrs: append(append([]slog.Attr{}, h.attrs...), attrs...), component: h.component}
}

func (h *TextHandler) WithGroup(_ string) slog.Handler {
	return h
}
