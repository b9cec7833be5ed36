package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DataDir is the per-project directory unitwatch writes runtime state to.
const DataDir = ".unitwatch"

// parseLogLevel converts a string to a zerolog level, case-insensitive.
// Invalid or empty values default to Warn.
func parseLogLevel(level string) zerolog.Level {
	switch strings.ToUpper(strings.TrimSpace(level)) {
	case "DEBUG":
		return zerolog.DebugLevel
	case "INFO":
		return zerolog.InfoLevel
	case "WARN":
		return zerolog.WarnLevel
	case "ERROR":
		return zerolog.ErrorLevel
	default:
		return zerolog.WarnLevel
	}
}

// FileLogger writes all log messages to .unitwatch/debug.log
type FileLogger struct {
	mu   sync.Mutex
	file *os.File
	zl   zerolog.Logger
}

// NewFileLogger creates a new file-based logger rooted at the current
// working directory.
func NewFileLogger() (*FileLogger, error) {
	return NewFileLoggerAt(".")
}

// NewFileLoggerAt creates a new file-based logger rooted at dir.
func NewFileLoggerAt(dir string) (*FileLogger, error) {
	dataDir := filepath.Join(dir, DataDir)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s directory: %w", DataDir, err)
	}

	logPath := filepath.Join(dataDir, "debug.log")
	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open debug log: %w", err)
	}

	level := parseLogLevel(os.Getenv("UNITWATCH_LOG_LEVEL"))
	zl := zerolog.New(zerolog.ConsoleWriter{
		Out:        file,
		NoColor:    true,
		TimeFormat: time.RFC3339,
	}).Level(level).With().Timestamp().Int("pid", os.Getpid()).Logger()

	zl.Info().Str("cwd", mustGetwd()).Msg("session started")

	return &FileLogger{file: file, zl: zl}, nil
}

// Debug writes a debug message to the log file
func (l *FileLogger) Debug(format string, args ...interface{}) {
	l.zl.Debug().Msgf(format, args...)
}

// Info writes an info message to the log file
func (l *FileLogger) Info(format string, args ...interface{}) {
	l.zl.Info().Msgf(format, args...)
}

// Warn writes a warning message to the log file
func (l *FileLogger) Warn(format string, args ...interface{}) {
	l.zl.Warn().Msgf(format, args...)
}

// Error writes an error message to the log file and also to stderr so it is
// visible to the user.
func (l *FileLogger) Error(format string, args ...interface{}) {
	l.zl.Error().Msgf(format, args...)
	fmt.Fprintf(os.Stderr, "[ERROR] "+format+"\n", args...)
}

// Close closes the log file
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.zl.Info().Msg("session ended")
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// mustGetwd returns the current working directory or "unknown"
func mustGetwd() string {
	wd, err := os.Getwd()
	if err != nil {
		return "unknown"
	}
	return wd
}
