// Package tunlog provides the tunnel agent's structured logging system. It
// supports multiple output destinations via hooks, independent of the default
// stderr writer, so a caller embedding the agent can collect events without
// scraping log lines.
package tunlog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Level represents the severity of a log message.
type Level int

const (
	LevelTrace Level = iota
	LevelDebug
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

func (l Level) String() string {
	switch l {
	case LevelTrace:
		return "TRACE"
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a string into a Level, defaulting to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "TRACE":
		return LevelTrace
	case "DEBUG":
		return LevelDebug
	case "INFO":
		return LevelInfo
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	case "FATAL":
		return LevelFatal
	default:
		return LevelInfo
	}
}

// Category groups log entries by functional area.
type Category string

const (
	CatSystem   Category = "system"
	CatAuth     Category = "auth"
	CatPool     Category = "pool"
	CatPairing  Category = "pairing"
	CatBridge   Category = "bridge"
	CatStatus   Category = "status"
	CatSupervis Category = "supervisor"
)

// Entry is a single log record.
type Entry struct {
	Time     time.Time      `json:"time"`
	Level    Level          `json:"level"`
	LevelStr string         `json:"level_str"`
	Category Category       `json:"category"`
	Message  string         `json:"message"`
	Fields   map[string]any `json:"fields,omitempty"`
	ErrorStr string         `json:"error,omitempty"`
}

// Hook is called for every log entry that passes the level filter.
type Hook func(entry Entry)

// Logger is the tunnel agent's logging handle.
type Logger struct {
	mu     sync.RWMutex
	level  *atomic.Int32
	output io.Writer
	hooks  []Hook
	fields map[string]any
	json   bool
}

// Config configures a new Logger.
type Config struct {
	Level      Level
	Output     io.Writer
	JSONFormat bool
}

// DefaultConfig returns a sensible default configuration writing to stderr.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Output: os.Stderr}
}

// New creates a Logger from cfg.
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	l := &Logger{output: cfg.Output, hooks: make([]Hook, 0), fields: make(map[string]any), json: cfg.JSONFormat, level: &atomic.Int32{}}
	l.level.Store(int32(cfg.Level))
	return l
}

// Noop returns a Logger that discards everything. Used when TunnelConfig
// leaves the logger field unset ("opaque sink" default).
func Noop() *Logger {
	return New(Config{Level: LevelFatal + 1, Output: io.Discard})
}

// SetLevel sets the minimum level that will be emitted.
func (l *Logger) SetLevel(level Level) { l.level.Store(int32(level)) }

// SetLevelFromEnv sets the level from HOSTIT_LOG_LEVEL if present.
func (l *Logger) SetLevelFromEnv() {
	if v := strings.TrimSpace(os.Getenv("HOSTIT_LOG_LEVEL")); v != "" {
		l.SetLevel(ParseLevel(v))
	}
}

// AddHook registers hook to receive every emitted entry.
func (l *Logger) AddHook(hook Hook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hooks = append(l.hooks, hook)
}

// WithField returns a derived Logger carrying an extra field.
func (l *Logger) WithField(key string, value any) *Logger {
	l.mu.RLock()
	defer l.mu.RUnlock()
	nf := make(map[string]any, len(l.fields)+1)
	for k, v := range l.fields {
		nf[k] = v
	}
	nf[key] = value
	return &Logger{output: l.output, hooks: l.hooks, fields: nf, json: l.json, level: l.level}
}

// WithCategory returns a derived Logger tagged for cat.
func (l *Logger) WithCategory(cat Category) *Logger {
	return l.WithField("category", string(cat))
}

func (l *Logger) log(level Level, cat Category, msg string, err error) {
	if level < Level(l.level.Load()) {
		return
	}
	e := Entry{Time: time.Now(), Level: level, LevelStr: level.String(), Category: cat, Message: msg}
	l.mu.RLock()
	if len(l.fields) > 0 {
		e.Fields = make(map[string]any, len(l.fields))
		for k, v := range l.fields {
			e.Fields[k] = v
		}
	}
	hooks := l.hooks
	l.mu.RUnlock()
	if err != nil {
		e.ErrorStr = err.Error()
	}
	l.write(e)
	for _, h := range hooks {
		h(e)
	}
}

func (l *Logger) write(e Entry) {
	var out string
	if l.json {
		b, _ := json.Marshal(e)
		out = string(b) + "\n"
	} else {
		var b strings.Builder
		b.WriteString(e.Time.Format("2006/01/02 15:04:05"))
		b.WriteString(" ")
		fmt.Fprintf(&b, "%-5s", e.LevelStr)
		if e.Category != "" {
			fmt.Fprintf(&b, " [%s]", e.Category)
		}
		b.WriteString(" ")
		b.WriteString(e.Message)
		for k, v := range e.Fields {
			if k == "category" {
				continue
			}
			fmt.Fprintf(&b, " %s=%v", k, v)
		}
		if e.ErrorStr != "" {
			fmt.Fprintf(&b, " error=%q", e.ErrorStr)
		}
		b.WriteString("\n")
		out = b.String()
	}
	l.mu.Lock()
	_, _ = io.WriteString(l.output, out)
	l.mu.Unlock()
}

func (l *Logger) Debugf(cat Category, format string, args ...any) { l.log(LevelDebug, cat, fmt.Sprintf(format, args...), nil) }
func (l *Logger) Infof(cat Category, format string, args ...any)  { l.log(LevelInfo, cat, fmt.Sprintf(format, args...), nil) }
func (l *Logger) Warnf(cat Category, format string, args ...any)  { l.log(LevelWarn, cat, fmt.Sprintf(format, args...), nil) }

func (l *Logger) Error(cat Category, msg string, err error) { l.log(LevelError, cat, msg, err) }
func (l *Logger) Info(cat Category, msg string)              { l.log(LevelInfo, cat, msg, nil) }
func (l *Logger) Debug(cat Category, msg string)             { l.log(LevelDebug, cat, msg, nil) }
func (l *Logger) Warn(cat Category, msg string)              { l.log(LevelWarn, cat, msg, nil) }
