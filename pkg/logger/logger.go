// Package logger provides structured logging for the legacy dump migrator.
// It wraps logrus to provide consistent logging with configurable levels and formats,
// and a run-scoped variant that also writes to a per-run log file.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus.Logger with key/value convenience methods. A run logger also
// carries the run id on every message.
type Logger struct {
	*logrus.Logger
	file   *os.File      // per-run log file, nil when logging to stdout only
	fields logrus.Fields // attached to every message
}

// New creates a new logger instance with specified level and format
func New(level, format string) *Logger {
	log := logrus.New()
	configure(log, level, format)
	return &Logger{Logger: log}
}

// NewRun creates the logger for one migration run. Output goes to stdout and to
// migration-<run id>.log inside dir. Callers must Close it when the run ends.
func NewRun(level, format, dir string) (*Logger, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	runID := time.Now().UTC().Format("20060102T150405Z")
	file, err := os.OpenFile(filepath.Join(dir, "migration-"+runID+".log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open run log: %w", err)
	}

	log := logrus.New()
	configure(log, level, format)
	log.SetOutput(io.MultiWriter(os.Stdout, file))

	return &Logger{Logger: log, file: file, fields: logrus.Fields{"run_id": runID}}, nil
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return &Logger{Logger: log}
}

func configure(log *logrus.Logger, level, format string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil || lvl > logrus.DebugLevel {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)

	if format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z"})
		return
	}
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "2006-01-02 15:04:05"})
}

// RunID returns the id of a run logger, or "" for other loggers
func (l *Logger) RunID() string {
	id, _ := l.fields["run_id"].(string)
	return id
}

// Close flushes and closes the run log file, if any
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	if err := l.file.Sync(); err != nil {
		l.file.Close()
		return err
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// entry merges the logger's own fields with the call's key/value pairs
func (l *Logger) entry(args []interface{}) *logrus.Entry {
	fields := argsToFields(args...)
	for k, v := range l.fields {
		if _, ok := fields[k]; !ok {
			fields[k] = v
		}
	}
	return l.WithFields(fields)
}

// Fatal logs a fatal error message with optional structured fields and exits the program
func (l *Logger) Fatal(msg string, args ...interface{}) { l.entry(args).Fatal(msg) }

// Error logs an error message with optional structured fields
func (l *Logger) Error(msg string, args ...interface{}) { l.entry(args).Error(msg) }

// Warn logs a warning message with optional structured fields
func (l *Logger) Warn(msg string, args ...interface{}) { l.entry(args).Warn(msg) }

// Info logs an info message with optional structured fields
func (l *Logger) Info(msg string, args ...interface{}) { l.entry(args).Info(msg) }

// Debug logs a debug message with optional structured fields
func (l *Logger) Debug(msg string, args ...interface{}) { l.entry(args).Debug(msg) }

// argsToFields converts alternating key/value pairs to logrus Fields. A trailing key
// without a value is dropped.
func argsToFields(args ...interface{}) logrus.Fields {
	fields := make(logrus.Fields, len(args)/2)
	for i := 0; i+1 < len(args); i += 2 {
		fields[fmt.Sprint(args[i])] = args[i+1]
	}
	return fields
}
