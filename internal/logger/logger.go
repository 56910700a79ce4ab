// Package logger provides leveled logging with optional component prefixes.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// Level represents a logging level.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

var levelNames = map[Level]string{
	DebugLevel: "DEBUG",
	InfoLevel:  "INFO",
	WarnLevel:  "WARN",
	ErrorLevel: "ERROR",
}

// ParseLevel maps a config string to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "debug":
		return DebugLevel
	case "warn":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

type sink struct {
	level  Level
	logger *log.Logger
}

var (
	mu      sync.RWMutex
	current *sink
)

// Init initializes the default sink on stderr with the specified level and format.
func Init(level string, format string) {
	InitWriter(os.Stderr, level, format)
}

// InitWriter is Init with an explicit destination.
func InitWriter(w io.Writer, level string, format string) {
	flags := log.LstdFlags | log.Lmicroseconds
	if strings.ToLower(format) == "text" {
		flags |= log.Lshortfile
	}
	mu.Lock()
	current = &sink{level: ParseLevel(level), logger: log.New(w, "", flags)}
	mu.Unlock()
}

// Logger writes through the default sink with a fixed component prefix.
type Logger struct {
	prefix string
}

// Named returns a logger whose lines carry "[component]".
func Named(component string) *Logger {
	return &Logger{prefix: "[" + component + "] "}
}

func output(l Level, prefix, format string, args ...interface{}) {
	mu.RLock()
	s := current
	mu.RUnlock()
	if s == nil || s.level > l {
		return
	}
	msg := fmt.Sprintf("["+levelNames[l]+"] "+prefix+format, args...)
	_ = s.logger.Output(3, msg)
}

// Debug logs a debug message with the logger's prefix.
func (lg *Logger) Debug(format string, args ...interface{}) {
	output(DebugLevel, lg.prefix, format, args...)
}

// Info logs an informational message with the logger's prefix.
func (lg *Logger) Info(format string, args ...interface{}) {
	output(InfoLevel, lg.prefix, format, args...)
}

// Warn logs a warning with the logger's prefix.
func (lg *Logger) Warn(format string, args ...interface{}) {
	output(WarnLevel, lg.prefix, format, args...)
}

// Error logs an error with the logger's prefix.
func (lg *Logger) Error(format string, args ...interface{}) {
	output(ErrorLevel, lg.prefix, format, args...)
}

// Debug logs a debug message.
func Debug(format string, args ...interface{}) {
	output(DebugLevel, "", format, args...)
}

// Info logs an informational message.
func Info(format string, args ...interface{}) {
	output(InfoLevel, "", format, args...)
}

// Warn logs a warning.
func Warn(format string, args ...interface{}) {
	output(WarnLevel, "", format, args...)
}

// Error logs an error.
func Error(format string, args ...interface{}) {
	output(ErrorLevel, "", format, args...)
}

func Fatal(format string, args ...interface{}) {
	msg := fmt.Sprintf("[FATAL] "+format, args...)
	mu.RLock()
	s := current
	mu.RUnlock()
	if s != nil {
		_ = s.logger.Output(2, msg)
	} else {
		fmt.Fprintln(os.Stderr, msg)
	}
	os.Exit(1)
}
