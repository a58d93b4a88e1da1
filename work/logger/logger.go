package logger

import (
	"fmt"
	"log"
	"strings"
	"sync"
)

// LogLevel is the severity threshold for emitted messages.
type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

var (
	mu    sync.RWMutex
	level LogLevel = INFO
)

// ParseLogLevel converts a level name to a LogLevel, defaulting to INFO.
func ParseLogLevel(name string) LogLevel {
	switch strings.ToUpper(name) {
	case "DEBUG":
		return DEBUG
	case "INFO":
		return INFO
	case "WARN", "WARNING":
		return WARN
	case "ERROR":
		return ERROR
	default:
		return INFO
	}
}

// SetLogLevel sets the global log level from its string name.
func SetLogLevel(name string) {
	mu.Lock()
	defer mu.Unlock()
	level = ParseLogLevel(name)
}

// GetLogLevel returns the current global log level as a string.
func GetLogLevel() string {
	mu.RLock()
	defer mu.RUnlock()
	switch level {
	case DEBUG:
		return "DEBUG"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "INFO"
	}
}

func shouldLog(l LogLevel) bool {
	mu.RLock()
	defer mu.RUnlock()
	return l >= level
}

func logMessage(tag string, format string, v ...interface{}) {
	log.Printf("[%s] %s", tag, fmt.Sprintf(format, v...))
}

// Debug logs a debug level message.
func Debug(format string, v ...interface{}) {
	if shouldLog(DEBUG) {
		logMessage("DEBUG", format, v...)
	}
}

// Info logs an info level message.
func Info(format string, v ...interface{}) {
	if shouldLog(INFO) {
		logMessage("INFO", format, v...)
	}
}

// Warn logs a warning level message.
func Warn(format string, v ...interface{}) {
	if shouldLog(WARN) {
		logMessage("WARN", format, v...)
	}
}

// Error logs an error level message.
func Error(format string, v ...interface{}) {
	if shouldLog(ERROR) {
		logMessage("ERROR", format, v...)
	}
}
