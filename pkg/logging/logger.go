package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dougsko/rigsession/pkg/config"
	"gopkg.in/lumberjack.v2"
)

// LogLevel represents logging levels
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns string representation of log level
func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLogLevel parses a string log level
func ParseLogLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger provides component tagged levelled logging
type Logger struct {
	mutex         sync.RWMutex
	level         LogLevel
	fileLogger    *log.Logger
	consoleLogger *log.Logger
	structured    bool
	rotatingFile  *lumberjack.Logger
}

// NewLogger creates a new logger from configuration
func NewLogger(cfg *config.Config) (*Logger, error) {
	logger := &Logger{
		level:      ParseLogLevel(cfg.Logging.Level),
		structured: cfg.Logging.Structured,
	}

	// Setup file logging with rotation (only if file path is specified)
	if cfg.Logging.File != "" {
		logDir := filepath.Dir(cfg.Logging.File)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		logger.rotatingFile = &lumberjack.Logger{
			Filename:   cfg.Logging.File,
			MaxSize:    cfg.Logging.MaxSize,    // megabytes
			MaxBackups: cfg.Logging.MaxBackups, // number of backups
			MaxAge:     cfg.Logging.MaxAge,     // days
			Compress:   cfg.Logging.Compress,   // compress old files
		}

		logger.fileLogger = log.New(logger.rotatingFile, "", 0)
	}

	// Setup console logging (enabled by config or when no file logging)
	if cfg.Logging.Console || logger.fileLogger == nil {
		logger.consoleLogger = log.New(os.Stdout, "", 0)
	}

	return logger, nil
}

// NewWriterLogger logs to w only
func NewWriterLogger(w io.Writer, level LogLevel, structured bool) *Logger {
	return &Logger{
		level:         level,
		structured:    structured,
		consoleLogger: log.New(w, "", 0),
	}
}

// Close closes the logger and any open files
func (l *Logger) Close() error {
	if l.rotatingFile != nil {
		return l.rotatingFile.Close()
	}
	return nil
}

// Rotate starts a new log file
func (l *Logger) Rotate() error {
	if l.rotatingFile == nil {
		return nil
	}
	return l.rotatingFile.Rotate()
}

// SetLevel changes the minimum level at runtime
func (l *Logger) SetLevel(level LogLevel) {
	l.mutex.Lock()
	defer l.mutex.Unlock()
	l.level = level
}

// Level returns the minimum level
func (l *Logger) Level() LogLevel {
	l.mutex.RLock()
	defer l.mutex.RUnlock()
	return l.level
}

func (l *Logger) enabled(level LogLevel) bool {
	return level >= l.Level()
}

// render produces one line: JSON when structured, otherwise
// "time [LEVEL] component: message [k=v ...]" with sorted keys
func (l *Logger) render(at time.Time, level LogLevel, component, message string, fields map[string]interface{}) string {
	if l.structured {
		record := map[string]interface{}{
			"time":      at.Format(time.RFC3339Nano),
			"level":     level.String(),
			"component": component,
			"message":   message,
		}
		for k, v := range fields {
			if _, reserved := record[k]; reserved {
				k = "field." + k
			}
			if err, ok := v.(error); ok {
				v = err.Error()
			}
			record[k] = v
		}
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Sprintf(`{"level":"ERROR","component":"logging","message":%q}`, err.Error())
		}
		return string(data)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s: %s", at.Format("2006-01-02 15:04:05.000"), level, component, message)
	if len(fields) == 0 {
		return b.String()
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b.WriteString(" [")
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%v", k, fields[k])
	}
	b.WriteByte(']')
	return b.String()
}

func (l *Logger) emit(level LogLevel, component, message string, fields map[string]interface{}) {
	if !l.enabled(level) {
		return
	}
	line := l.render(time.Now(), level, component, message, fields)
	for _, out := range []*log.Logger{l.fileLogger, l.consoleLogger} {
		if out != nil {
			out.Println(line)
		}
	}
}

func (l *Logger) emitf(level LogLevel, component, format string, args []interface{}) {
	if l.enabled(level) {
		l.emit(level, component, fmt.Sprintf(format, args...), nil)
	}
}

func merged(fields []map[string]interface{}) map[string]interface{} {
	switch len(fields) {
	case 0:
		return nil
	case 1:
		return fields[0]
	}
	out := make(map[string]interface{})
	for _, f := range fields {
		for k, v := range f {
			out[k] = v
		}
	}
	return out
}

// Debug logs at LevelDebug with optional fields
func (l *Logger) Debug(component, message string, fields ...map[string]interface{}) {
	l.emit(LevelDebug, component, message, merged(fields))
}

// Info logs at LevelInfo with optional fields
func (l *Logger) Info(component, message string, fields ...map[string]interface{}) {
	l.emit(LevelInfo, component, message, merged(fields))
}

// Warn logs at LevelWarn with optional fields
func (l *Logger) Warn(component, message string, fields ...map[string]interface{}) {
	l.emit(LevelWarn, component, message, merged(fields))
}

// Error logs at LevelError with optional fields
func (l *Logger) Error(component, message string, fields ...map[string]interface{}) {
	l.emit(LevelError, component, message, merged(fields))
}

// Debugf formats only when debug output is enabled
func (l *Logger) Debugf(component, format string, args ...interface{}) {
	l.emitf(LevelDebug, component, format, args)
}

func (l *Logger) Infof(component, format string, args ...interface{}) {
	l.emitf(LevelInfo, component, format, args)
}

func (l *Logger) Warnf(component, format string, args ...interface{}) {
	l.emitf(LevelWarn, component, format, args)
}

func (l *Logger) Errorf(component, format string, args ...interface{}) {
	l.emitf(LevelError, component, format, args)
}

// FieldLogger attaches a fixed field set to every line
type FieldLogger struct {
	parent *Logger
	fields map[string]interface{}
}

// WithFields binds fields to the returned logger
func (l *Logger) WithFields(fields map[string]interface{}) *FieldLogger {
	return &FieldLogger{parent: l, fields: fields}
}

func (fl *FieldLogger) Debug(component, message string) {
	fl.parent.emit(LevelDebug, component, message, fl.fields)
}

func (fl *FieldLogger) Info(component, message string) {
	fl.parent.emit(LevelInfo, component, message, fl.fields)
}

func (fl *FieldLogger) Warn(component, message string) {
	fl.parent.emit(LevelWarn, component, message, fl.fields)
}

func (fl *FieldLogger) Error(component, message string) {
	fl.parent.emit(LevelError, component, message, fl.fields)
}

var (
	globalMutex  sync.RWMutex
	globalLogger *Logger
)

// InitGlobalLogger builds a logger from cfg and installs it
func InitGlobalLogger(cfg *config.Config) error {
	logger, err := NewLogger(cfg)
	if err != nil {
		return err
	}
	SetGlobalLogger(logger)
	return nil
}

// SetGlobalLogger replaces the package logger
func SetGlobalLogger(logger *Logger) {
	globalMutex.Lock()
	globalLogger = logger
	globalMutex.Unlock()
}

// GetGlobalLogger returns the package logger, creating an INFO stdout
// logger on first use
func GetGlobalLogger() *Logger {
	globalMutex.RLock()
	current := globalLogger
	globalMutex.RUnlock()
	if current != nil {
		return current
	}

	globalMutex.Lock()
	defer globalMutex.Unlock()
	if globalLogger == nil {
		globalLogger = NewWriterLogger(os.Stdout, LevelInfo, false)
	}
	return globalLogger
}

// CloseGlobalLogger flushes and closes the package logger's file
func CloseGlobalLogger() error {
	globalMutex.RLock()
	current := globalLogger
	globalMutex.RUnlock()
	if current == nil {
		return nil
	}
	return current.Close()
}

// Package level shortcuts for the global logger
func Debug(component, message string, fields ...map[string]interface{}) {
	GetGlobalLogger().Debug(component, message, fields...)
}

func Info(component, message string, fields ...map[string]interface{}) {
	GetGlobalLogger().Info(component, message, fields...)
}

func Warn(component, message string, fields ...map[string]interface{}) {
	GetGlobalLogger().Warn(component, message, fields...)
}

func Error(component, message string, fields ...map[string]interface{}) {
	GetGlobalLogger().Error(component, message, fields...)
}

func Debugf(component, format string, args ...interface{}) {
	GetGlobalLogger().Debugf(component, format, args...)
}

func Infof(component, format string, args ...interface{}) {
	GetGlobalLogger().Infof(component, format, args...)
}

func Warnf(component, format string, args ...interface{}) {
	GetGlobalLogger().Warnf(component, format, args...)
}

func Errorf(component, format string, args ...interface{}) {
	GetGlobalLogger().Errorf(component, format, args...)
}
