package modbus

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// LogLevel defines the severity of a log message.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarning
	LevelError
	LevelNone // Disables logging
)

// LevelToString maps LogLevel to its string representation.
var LevelToString = map[LogLevel]string{
	LevelDebug:   "DEBUG",
	LevelInfo:    "INFO",
	LevelWarning: "WARNING",
	LevelError:   "ERROR",
	LevelNone:    "NONE",
}

// StringToLevel maps the string representation of a LogLevel to its value.
var StringToLevel = map[string]LogLevel{
	"DEBUG":   LevelDebug,
	"INFO":    LevelInfo,
	"WARNING": LevelWarning,
	"ERROR":   LevelError,
	"NONE":    LevelNone,
}

// SimpleLogger is a leveled io.Writer. Every layer of this package logs by
// writing prefixed lines ("DEBUG: ...", "WARNING: ...") to a plain
// io.Writer; SimpleLogger filters those lines by level and timestamps them.
type SimpleLogger struct {
	mu     sync.Mutex
	level  LogLevel
	output io.Writer
	prefix string
}

// NewSimpleLogger creates a new SimpleLogger. If output is nil, it defaults
// to os.Stdout.
func NewSimpleLogger(output io.Writer, level LogLevel, prefix string) *SimpleLogger {
	if output == nil {
		output = os.Stdout
	}
	return &SimpleLogger{
		level:  level,
		output: output,
		prefix: prefix,
	}
}

// SetLevel sets the logging level.
func (l *SimpleLogger) SetLevel(level LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

// GetLevel returns the current logging level.
func (l *SimpleLogger) GetLevel() LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// SetLevelFromString sets the logging level from its string representation.
func (l *SimpleLogger) SetLevelFromString(levelStr string) error {
	if level, ok := StringToLevel[strings.ToUpper(levelStr)]; ok {
		l.SetLevel(level)
		return nil
	}
	return fmt.Errorf("invalid log level: %s", levelStr)
}

// Write implements io.Writer. The message's level is inferred from its
// prefix; messages below the configured level are dropped.
func (l *SimpleLogger) Write(p []byte) (n int, err error) {
	message := strings.TrimSpace(string(p))
	level := determineLevel(message)

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.level == LevelNone || level < l.level {
		return len(p), nil
	}
	timestamp := time.Now().Format(time.RFC3339)
	line := fmt.Sprintf("%s [%s] <%s> %s\n", timestamp, LevelToString[level], l.prefix, message)
	return l.output.Write([]byte(line))
}

// Close closes the underlying output if it is closeable and not os.Stdout.
func (l *SimpleLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if closer, ok := l.output.(io.Closer); ok && l.output != os.Stdout {
		return closer.Close()
	}
	return nil
}

// determineLevel infers the log level from the message prefix, defaulting
// to LevelInfo.
func determineLevel(message string) LogLevel {
	upper := strings.ToUpper(message)
	switch {
	case strings.HasPrefix(upper, "DEBUG:"), strings.HasPrefix(upper, "[DEBUG]"):
		return LevelDebug
	case strings.HasPrefix(upper, "INFO:"), strings.HasPrefix(upper, "[INFO]"):
		return LevelInfo
	case strings.HasPrefix(upper, "WARNING:"), strings.HasPrefix(upper, "WARN:"), strings.HasPrefix(upper, "[WARNING]"):
		return LevelWarning
	case strings.HasPrefix(upper, "ERROR:"), strings.HasPrefix(upper, "[ERROR]"):
		return LevelError
	default:
		return LevelInfo
	}
}
