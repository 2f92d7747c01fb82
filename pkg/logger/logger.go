// Package logger provides the structured logger used across the service.
// It is a thin façade over logrus so packages depend on a stable surface
// rather than on the logging backend directly.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LoggingConfig controls the behaviour of a Logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error. Unknown values fall back
	// to info.
	Level string
	// Format is "json" or "text".
	Format string
	// Output is "stdout", "stderr" or "file".
	Output string
	// FilePrefix is the log file path prefix when Output is "file"; the
	// current date and a .log suffix are appended.
	FilePrefix string
}

// Logger wraps a logrus entry carrying the service name field. The logrus
// Entry surface (Infof, WithError, WithField, ...) is exposed by embedding.
type Logger struct {
	*logrus.Entry
}

// New constructs a Logger from the provided configuration.
func New(cfg LoggingConfig) *Logger {
	base := logrus.New()
	base.SetLevel(parseLevel(cfg.Level))
	base.SetFormatter(formatterFor(cfg.Format))
	base.SetOutput(outputFor(cfg))
	return &Logger{Entry: logrus.NewEntry(base)}
}

// NewDefault returns an info-level text logger tagged with the given
// service name. Services use it when no logger is injected.
func NewDefault(service string) *Logger {
	log := New(LoggingConfig{Level: "info", Format: "text", Output: "stderr"})
	return log.Named(service)
}

// SetOutput redirects the underlying logger's output, mainly for tests.
func (l *Logger) SetOutput(w io.Writer) {
	l.Entry.Logger.SetOutput(w)
}

// Named returns a copy of the logger with the service field set.
func (l *Logger) Named(service string) *Logger {
	if service == "" {
		return l
	}
	return &Logger{Entry: l.Entry.WithField("service", service)}
}

// WithFields returns an entry with the given fields attached. A nil map is
// allowed and yields the base entry.
func (l *Logger) WithFields(fields map[string]interface{}) *logrus.Entry {
	if fields == nil {
		return l.Entry
	}
	return l.Entry.WithFields(logrus.Fields(fields))
}

func parseLevel(level string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug", "trace":
		return logrus.DebugLevel
	case "", "info":
		return logrus.InfoLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

func formatterFor(format string) logrus.Formatter {
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		return &logrus.JSONFormatter{TimestampFormat: time.RFC3339}
	}
	return &logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339}
}

func outputFor(cfg LoggingConfig) io.Writer {
	switch strings.ToLower(strings.TrimSpace(cfg.Output)) {
	case "stdout":
		return os.Stdout
	case "file":
		if w, err := fileWriter(cfg.FilePrefix); err == nil {
			return w
		}
		return os.Stderr
	default:
		return os.Stderr
	}
}

func fileWriter(prefix string) (io.Writer, error) {
	if prefix == "" {
		prefix = "service"
	}
	path := fmt.Sprintf("%s-%s.log", prefix, time.Now().UTC().Format("2006-01-02"))
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(filepath.Clean(path), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}
