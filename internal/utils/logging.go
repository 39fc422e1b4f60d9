package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
)

// LoggerOptions configure InitLogger.
type LoggerOptions struct {
	Level           string
	Output          io.Writer
	Prefix          string
	ReportTimestamp bool
	// JSON switches the formatter from text to JSON lines.
	JSON bool
}

var (
	defaultMu     sync.RWMutex
	defaultLogger = log.NewWithOptions(os.Stderr, log.Options{Level: log.InfoLevel})
)

// InitLogger builds a structured logger.
func InitLogger(opts LoggerOptions) *log.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	logger := log.NewWithOptions(out, log.Options{
		Level:           parseLevel(opts.Level),
		Prefix:          opts.Prefix,
		ReportTimestamp: opts.ReportTimestamp,
	})
	if opts.JSON {
		logger.SetFormatter(log.JSONFormatter)
	}
	return logger
}

// InitServerLogger logs to stderr and to <stateDir>/server.log.
func InitServerLogger(stateDir, level string) (*log.Logger, io.Closer, error) {
	if err := os.MkdirAll(stateDir, 0o750); err != nil {
		return nil, nil, fmt.Errorf("creating state dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(stateDir, "server.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, nil, fmt.Errorf("opening server log: %w", err)
	}
	logger := InitLogger(LoggerOptions{
		Level:           level,
		Output:          io.MultiWriter(os.Stderr, f),
		Prefix:          "cmdgate",
		ReportTimestamp: true,
	})
	return logger, f, nil
}

func parseLevel(s string) log.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return log.DebugLevel
	case "warn", "warning":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	case "fatal":
		return log.FatalLevel
	default:
		return log.InfoLevel
	}
}

// GetDefaultLogger returns the package-level logger.
func GetDefaultLogger() *log.Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetDefaultLogger replaces the package-level logger.
func SetDefaultLogger(l *log.Logger) {
	if l == nil {
		return
	}
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

func Debug(msg string, kv ...any) { GetDefaultLogger().Debug(msg, kv...) }
func Info(msg string, kv ...any)  { GetDefaultLogger().Info(msg, kv...) }
func Warn(msg string, kv ...any)  { GetDefaultLogger().Warn(msg, kv...) }
func Error(msg string, kv ...any) { GetDefaultLogger().Error(msg, kv...) }

// With returns the default logger with extra fields.
func With(kv ...any) *log.Logger { return GetDefaultLogger().With(kv...) }

// WithPrefix returns the default logger with a prefix.
func WithPrefix(prefix string) *log.Logger { return GetDefaultLogger().WithPrefix(prefix) }
