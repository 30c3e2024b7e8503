// Package logging builds the structured loggers shared by every command.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Logger is the logging surface components depend on.
type Logger = logrus.FieldLogger

// Fields is a set of structured fields.
type Fields = logrus.Fields

// New returns a JSON logger with the level taken from LOG_LEVEL.
func New() *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetLevel(LevelFromEnv())
	return logger
}

// NewWithService returns a logger entry tagged with the service name.
func NewWithService(service string) *logrus.Entry {
	return New().WithField("service", service)
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

// LevelFromEnv reads LOG_LEVEL, defaulting to info.
func LevelFromEnv() logrus.Level {
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l Logger) Logger {
	if l == nil {
		return Discard()
	}
	return l
}
