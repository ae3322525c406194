// Package logging provides the process-wide structured logger.
package logging

import (
	"context"
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

type ctxKey string

const (
	repositoryKey  ctxKey = "repository"
	operationIDKey ctxKey = "operation_id"
	executionIDKey ctxKey = "execution_id"
)

// Logger wraps a logrus.Logger scoped to one process/service name.
type Logger struct {
	*logrus.Logger
	service string
}

// New builds a Logger writing to w (os.Stdout in production) at the given level/format.
func New(service, level, format string, w io.Writer) *Logger {
	l := logrus.New()
	l.SetOutput(w)

	if parsed, err := logrus.ParseLevel(level); err == nil {
		l.SetLevel(parsed)
	} else {
		l.SetLevel(logrus.InfoLevel)
	}

	if format == "text" {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.SetFormatter(&logrus.JSONFormatter{})
	}

	return &Logger{Logger: l, service: service}
}

// NewFromEnv builds a Logger using LOG_LEVEL and LOG_FORMAT environment variables.
func NewFromEnv(service string) *Logger {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		level = "info"
	}
	format := os.Getenv("LOG_FORMAT")
	if format == "" {
		format = "json"
	}
	return New(service, level, format, os.Stdout)
}

// WithRepository returns a context carrying the repository identifier for later log enrichment.
func WithRepository(ctx context.Context, repo string) context.Context {
	return context.WithValue(ctx, repositoryKey, repo)
}

// WithOperationID returns a context carrying a cross-platform operation id.
func WithOperationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, operationIDKey, id)
}

// WithExecutionID returns a context carrying a workflow execution id.
func WithExecutionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, executionIDKey, id)
}

// WithContext returns a log entry enriched with whatever identifiers ctx carries.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithField("service", l.service)
	if v, ok := ctx.Value(repositoryKey).(string); ok && v != "" {
		entry = entry.WithField("repository", v)
	}
	if v, ok := ctx.Value(operationIDKey).(string); ok && v != "" {
		entry = entry.WithField("operation_id", v)
	}
	if v, ok := ctx.Value(executionIDKey).(string); ok && v != "" {
		entry = entry.WithField("execution_id", v)
	}
	return entry
}
