package logging

import (
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Logger writes each event to the console and the optional JSONL file sink.
// Loggers returned by Named share both.
type Logger struct {
	core      *core
	component string
}

type core struct {
	debugEnabled atomic.Bool
	terminalOut  atomic.Bool
	pretty       bool
	out          io.Writer
	writeMu      sync.Mutex
	mu           sync.RWMutex
	fileSink     *fileSink
}

type Event struct {
	Time      time.Time
	Level     slog.Level
	Component string
	Message   string
	Fields    map[string]any
}

func New(debug bool) *Logger {
	c := &core{
		pretty: TerminalSupportsColor(),
		out:    os.Stderr,
	}
	c.debugEnabled.Store(debug)
	c.terminalOut.Store(true)
	return &Logger{core: c}
}

func Field(key string, value any) slog.Attr {
	return slog.Any(key, value)
}

// Named returns a logger tagging its events with component.
func (l *Logger) Named(component string) *Logger {
	if l == nil {
		return nil
	}
	return &Logger{core: l.core, component: component}
}

func (l *Logger) SetTerminalOutputEnabled(enabled bool) {
	if l == nil {
		return
	}
	l.core.terminalOut.Store(enabled)
}

// SetOutput redirects console output; used by tests and by the console when
// readline owns the terminal.
func (l *Logger) SetOutput(w io.Writer, pretty bool) {
	if l == nil || w == nil {
		return
	}
	l.core.writeMu.Lock()
	l.core.out = w
	l.core.pretty = pretty
	l.core.writeMu.Unlock()
}

func (l *Logger) EnableFilePersistence(maxBytes int64) error {
	if l == nil {
		return nil
	}
	sink, err := newFileSink(maxBytes)
	if err != nil {
		return err
	}
	l.core.mu.Lock()
	old := l.core.fileSink
	l.core.fileSink = sink
	l.core.mu.Unlock()
	if old != nil {
		_ = old.Close()
	}
	return nil
}

func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.core.mu.Lock()
	sink := l.core.fileSink
	l.core.fileSink = nil
	l.core.mu.Unlock()
	if sink == nil {
		return nil
	}
	return sink.Close()
}

func (l *Logger) Debug(msg string, fields ...slog.Attr) {
	if l == nil {
		return
	}
	// Debug events always reach the file sink, the console only when enabled.
	l.log(slog.LevelDebug, msg, fields, l.core.debugEnabled.Load())
}

func (l *Logger) Info(msg string, fields ...slog.Attr) {
	if l == nil {
		return
	}
	l.log(slog.LevelInfo, msg, fields, true)
}

func (l *Logger) Warn(msg string, fields ...slog.Attr) {
	if l == nil {
		return
	}
	l.log(slog.LevelWarn, msg, fields, true)
}

func (l *Logger) Error(msg string, fields ...slog.Attr) {
	if l == nil {
		return
	}
	l.log(slog.LevelError, msg, fields, true)
}

func (l *Logger) log(level slog.Level, msg string, attrs []slog.Attr, toConsole bool) {
	event := Event{
		Time:      time.Now(),
		Level:     level,
		Component: l.component,
		Message:   msg,
		Fields:    fieldMap(attrs),
	}
	c := l.core
	c.mu.RLock()
	sink := c.fileSink
	c.mu.RUnlock()
	if sink != nil {
		_ = sink.WriteEvent(event)
	}
	if toConsole && c.terminalOut.Load() {
		c.emit(event)
	}
}

func (c *core) emit(event Event) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.pretty {
		_, _ = io.WriteString(c.out, FormatEventANSI(event))
		return
	}
	_, _ = io.WriteString(c.out, FormatEventLine(event))
}
