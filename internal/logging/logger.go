package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	slogmulti "github.com/samber/slog-multi"
	slogjournal "github.com/systemd/slog-journal"
)

// LogLevel represents different logging levels
type LogLevel int

const (
	// LevelError only logs errors
	LevelError LogLevel = iota
	// LevelWarn logs warnings and errors
	LevelWarn
	// LevelInfo logs general information, warnings and errors
	LevelInfo
	// LevelDebug logs detailed debug information and all above
	LevelDebug
	// LevelTrace logs very detailed trace information and all above
	LevelTrace
)

var levelNames = map[LogLevel]string{
	LevelError: "ERROR",
	LevelWarn:  "WARN",
	LevelInfo:  "INFO",
	LevelDebug: "DEBUG",
	LevelTrace: "TRACE",
}

// slogTrace sits below slog.LevelDebug so trace output can be filtered separately.
const slogTrace = slog.LevelDebug - 4

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("LEVEL(%d)", int(l))
}

func (l LogLevel) slogLevel() slog.Level {
	switch l {
	case LevelError:
		return slog.LevelError
	case LevelWarn:
		return slog.LevelWarn
	case LevelInfo:
		return slog.LevelInfo
	case LevelDebug:
		return slog.LevelDebug
	default:
		return slogTrace
	}
}

// ParseLevel converts a level name such as "debug" or "TRACE" into a LogLevel.
func ParseLevel(name string) (LogLevel, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for level, levelName := range levelNames {
		if levelName == upper {
			return level, nil
		}
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", name)
}

// Logger provides leveled, prefixed logging on top of slog.
type Logger struct {
	prefix string
	shared *sink
}

// sink is shared by a logger and every logger derived from it with WithPrefix,
// so SetLevel and Configure affect all of them.
type sink struct {
	mu      sync.RWMutex
	level   LogLevel
	leveler *slog.LevelVar
	logger  *slog.Logger
	closers []io.Closer
}

// Options selects the outputs of the default logger.
type Options struct {
	// File, when set, receives JSON log records in addition to stdout.
	File string
	// Journal enables the systemd journal handler.
	Journal bool
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// GetLogger returns the default logger instance
func GetLogger() *Logger {
	once.Do(func() {
		defaultLogger = NewLogger("TAGFS")

		// Set initial log level from environment
		if level := os.Getenv("LOG_LEVEL"); level != "" {
			if parsed, err := ParseLevel(level); err == nil {
				defaultLogger.SetLevel(parsed)
			}
		}

		// Enable debug logging if FUSE_DEBUG is set
		if os.Getenv("FUSE_DEBUG") != "" {
			defaultLogger.SetLevel(LevelDebug)
		}
	})
	return defaultLogger
}

// NewLogger creates a new logger with the given prefix writing text records to stdout.
func NewLogger(prefix string) *Logger {
	leveler := new(slog.LevelVar)
	leveler.Set(LevelInfo.slogLevel())

	return &Logger{
		prefix: prefix,
		shared: &sink{
			level:   LevelInfo, // Default to INFO level
			leveler: leveler,
			logger:  slog.New(textHandler(os.Stdout, leveler)),
		},
	}
}

func textHandler(w io.Writer, leveler slog.Leveler) slog.Handler {
	return slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: leveler,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if lvl, ok := a.Value.Any().(slog.Level); ok && lvl <= slogTrace {
					a.Value = slog.StringValue("TRACE")
				}
			}
			return a
		},
	})
}

// Configure replaces the outputs of the logger. Stdout is always kept; a JSON
// file and the systemd journal are added when requested. Handlers that cannot
// be created are reported on stdout and skipped.
func (l *Logger) Configure(opts Options) error {
	s := l.shared
	s.mu.Lock()
	defer s.mu.Unlock()

	handlers := []slog.Handler{textHandler(os.Stdout, s.leveler)}
	var closers []io.Closer

	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", opts.File, err)
		}
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{Level: s.leveler}))
		closers = append(closers, f)
	}

	if opts.Journal {
		journal, err := slogjournal.NewHandler(&slogjournal.Options{
			Level: s.leveler,
			ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
				a.Key = toJournalKey(a.Key)
				return a
			},
		})
		if err != nil {
			record := slog.NewRecord(time.Now(), slog.LevelWarn, "systemd journal unavailable", 0)
			record.Add("error", err)
			_ = handlers[0].Handle(context.Background(), record)
		} else {
			handlers = append(handlers, journal)
		}
	}

	for _, c := range s.closers {
		_ = c.Close()
	}
	s.closers = closers
	s.logger = slog.New(slogmulti.Fanout(handlers...))
	return nil
}

// Close releases any log files opened by Configure.
func (l *Logger) Close() error {
	s := l.shared
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.closers = nil
	return firstErr
}

func toJournalKey(str string) string {
	str = strings.ToUpper(str)
	return strings.Map(func(r rune) rune {
		if r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' {
			return r
		}
		return '_'
	}, str)
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level LogLevel) {
	l.shared.mu.Lock()
	defer l.shared.mu.Unlock()
	l.shared.level = level
	l.shared.leveler.Set(level.slogLevel())
}

// Level reports the current logging level.
func (l *Logger) Level() LogLevel {
	l.shared.mu.RLock()
	defer l.shared.mu.RUnlock()
	return l.shared.level
}

// shouldLog determines if a message at the given level should be logged
func (l *Logger) shouldLog(level LogLevel) bool {
	l.shared.mu.RLock()
	defer l.shared.mu.RUnlock()
	return level <= l.shared.level
}

// log performs the actual logging
func (l *Logger) log(level LogLevel, format string, args ...interface{}) {
	if !l.shouldLog(level) {
		return
	}

	l.shared.mu.RLock()
	logger := l.shared.logger
	l.shared.mu.RUnlock()

	logger.Log(context.Background(), level.slogLevel(), fmt.Sprintf(format, args...), "component", l.prefix)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.log(LevelError, format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.log(LevelWarn, format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.log(LevelInfo, format, args...)
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	l.log(LevelDebug, format, args...)
}

// Trace logs a trace message
func (l *Logger) Trace(format string, args ...interface{}) {
	l.log(LevelTrace, format, args...)
}

// WithPrefix creates a new logger with an additional prefix. The returned
// logger shares level and outputs with its parent.
func (l *Logger) WithPrefix(prefix string) *Logger {
	return &Logger{
		prefix: prefix,
		shared: l.shared,
	}
}
