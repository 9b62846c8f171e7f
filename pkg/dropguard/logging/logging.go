// Package logging provides component loggers for dropguard. The daemon and the
// CLI share it; the daemon writes to a rotating file, the CLI usually only to
// stderr.
//
//	if err := logging.Init(logging.Config{Level: "info"}); err != nil {
//	    return err
//	}
//	defer logging.Close()
//
//	log := logging.Get("router")
//	log.Warn("sensitive file detected", "path", p, "rule", rule)
package logging

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/adrg/xdg"
	"github.com/charmbracelet/log"
)

// Level represents a logging level.
type Level int

// Log levels from least to most severe.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[Level]string{
	LevelDebug: "debug",
	LevelInfo:  "info",
	LevelWarn:  "warn",
	LevelError: "error",
}

// String returns the string representation of the level.
func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "unknown"
}

func (l Level) charm() log.Level {
	switch l {
	case LevelDebug:
		return log.DebugLevel
	case LevelWarn:
		return log.WarnLevel
	case LevelError:
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// ErrInvalidLevel is returned when an invalid log level string is provided.
var ErrInvalidLevel = errors.New("invalid log level")

// ParseLevel parses a string into a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("%w: %s", ErrInvalidLevel, s)
	}
}

// Config configures the logging system.
type Config struct {
	// Level is the default log level (debug, info, warn, error).
	Level string

	// Path is the log file path. Empty uses DefaultLogPath(); "-" disables
	// the file sink entirely.
	Path string

	Rotation RotationConfig

	// Components maps component names to level overrides.
	Components map[string]string

	// ConsoleLevel enables stderr output at the given level. Empty disables it.
	ConsoleLevel string
}

// Logger wraps charmbracelet/log with a component prefix and an optional
// console sink.
type Logger struct {
	file    *log.Logger
	console *log.Logger
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, args ...interface{}) { l.emit(LevelDebug, msg, args...) }

// Info logs an info message.
func (l *Logger) Info(msg string, args ...interface{}) { l.emit(LevelInfo, msg, args...) }

// Warn logs a warning message.
func (l *Logger) Warn(msg string, args ...interface{}) { l.emit(LevelWarn, msg, args...) }

// Error logs an error message.
func (l *Logger) Error(msg string, args ...interface{}) { l.emit(LevelError, msg, args...) }

func (l *Logger) emit(level Level, msg string, args ...interface{}) {
	write(l.file, level, msg, args...)
	if l.console != nil {
		write(l.console, level, msg, args...)
	}
}

func write(logger *log.Logger, level Level, msg string, args ...interface{}) {
	switch level {
	case LevelDebug:
		logger.Debug(msg, args...)
	case LevelInfo:
		logger.Info(msg, args...)
	case LevelWarn:
		logger.Warn(msg, args...)
	case LevelError:
		logger.Error(msg, args...)
	}
}

// With returns a logger that attaches the given key/value pairs to every entry.
func (l *Logger) With(args ...interface{}) *Logger {
	child := &Logger{file: l.file.With(args...)}
	if l.console != nil {
		child.console = l.console.With(args...)
	}
	return child
}

type registry struct {
	mu          sync.RWMutex
	initialized bool
	writer      io.WriteCloser
	level       Level
	components  map[string]Level
	loggers     map[string]*Logger

	consoleEnabled bool
	consoleLevel   Level
}

var global = &registry{
	loggers:    make(map[string]*Logger),
	components: make(map[string]Level),
}

// Init configures the logging system. Loggers obtained before Init write to
// io.Discard and are rebuilt in place.
func Init(cfg Config) error {
	global.mu.Lock()
	defer global.mu.Unlock()

	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("parsing log level: %w", err)
	}

	components := make(map[string]Level, len(cfg.Components))
	for comp, lvl := range cfg.Components {
		parsed, err := ParseLevel(lvl)
		if err != nil {
			return fmt.Errorf("parsing level for component %s: %w", comp, err)
		}
		components[comp] = parsed
	}

	consoleEnabled := false
	var consoleLevel Level
	if cfg.ConsoleLevel != "" {
		consoleLevel, err = ParseLevel(cfg.ConsoleLevel)
		if err != nil {
			return fmt.Errorf("parsing console level: %w", err)
		}
		consoleEnabled = true
	}

	var writer io.WriteCloser
	switch cfg.Path {
	case "-":
		writer = nopCloser{io.Discard}
	default:
		path := cfg.Path
		if path == "" {
			path = DefaultLogPath()
		}
		writer, err = NewRotatingWriter(path, cfg.Rotation)
		if err != nil {
			return fmt.Errorf("creating log writer: %w", err)
		}
	}

	if global.writer != nil {
		_ = global.writer.Close()
	}

	global.writer = writer
	global.level = level
	global.components = components
	global.consoleEnabled = consoleEnabled
	global.consoleLevel = consoleLevel
	global.initialized = true

	for component, logger := range global.loggers {
		*logger = *build(component)
	}
	return nil
}

// Get returns the logger for a component, creating it on first use.
func Get(component string) *Logger {
	global.mu.RLock()
	logger, ok := global.loggers[component]
	global.mu.RUnlock()
	if ok {
		return logger
	}

	global.mu.Lock()
	defer global.mu.Unlock()
	if logger, ok := global.loggers[component]; ok {
		return logger
	}
	logger = build(component)
	global.loggers[component] = logger
	return logger
}

// build must be called with global.mu held.
func build(component string) *Logger {
	level := global.level
	if override, ok := global.components[component]; ok {
		level = override
	}

	if !global.initialized {
		return &Logger{file: log.NewWithOptions(io.Discard, log.Options{
			Level:  level.charm(),
			Prefix: component,
		})}
	}

	logger := &Logger{file: log.NewWithOptions(global.writer, log.Options{
		Level:           level.charm(),
		ReportTimestamp: true,
		TimeFormat:      time.RFC3339,
		Prefix:          component,
	})}

	if global.consoleEnabled {
		logger.console = log.NewWithOptions(os.Stderr, log.Options{
			Level:           global.consoleLevel.charm(),
			ReportTimestamp: true,
			TimeFormat:      time.TimeOnly,
			Prefix:          component,
		})
	}
	return logger
}

// Close flushes and closes the log file. Existing loggers fall back to
// io.Discard.
func Close() error {
	global.mu.Lock()
	defer global.mu.Unlock()

	if !global.initialized {
		return nil
	}

	var err error
	if global.writer != nil {
		if cerr := global.writer.Close(); cerr != nil {
			err = fmt.Errorf("closing log writer: %w", cerr)
		}
		global.writer = nil
	}

	global.initialized = false
	global.components = make(map[string]Level)
	for component, logger := range global.loggers {
		*logger = *build(component)
	}
	return err
}

// DefaultLogPath returns $XDG_STATE_HOME/dropguard/dropguard.log.
func DefaultLogPath() string {
	return filepath.Join(xdg.StateHome, "dropguard", "dropguard.log")
}

// DefaultConfig returns the daemon's logging defaults.
func DefaultConfig() Config {
	return Config{
		Level:    "info",
		Path:     DefaultLogPath(),
		Rotation: DefaultRotationConfig(),
	}
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
