// Package logging provides the structured logging foundation shared by every
// corekit subsystem. It is built on logrus and adds stream-separated output
// (errors to stderr, everything else to stdout) plus a context-aware logger
// that accumulates fields for request/job correlation.
package logging

import (
	"bytes"
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Level is a subsystem-neutral logging level.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)

// Config configures a new Logger.
type Config struct {
	Level      Level  // Minimum level to emit
	Format     string // "json" or "text"
	Service    string // Service name attached to every record
	AddCaller  bool
	TimeFormat string
}

// DefaultConfig returns sensible defaults: text output at info level.
func DefaultConfig() Config {
	return Config{
		Level:      LevelInfo,
		Format:     "text",
		TimeFormat: time.RFC3339,
	}
}

// New builds a *logrus.Logger configured per cfg, with output routed through
// an OutputSplitter so error-level records land on stderr.
func New(cfg Config) *logrus.Logger {
	logger := logrus.New()

	switch cfg.Level {
	case LevelDebug:
		logger.SetLevel(logrus.DebugLevel)
	case LevelWarn:
		logger.SetLevel(logrus.WarnLevel)
	case LevelError:
		logger.SetLevel(logrus.ErrorLevel)
	case LevelFatal:
		logger.SetLevel(logrus.FatalLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: cfg.TimeFormat})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{TimestampFormat: cfg.TimeFormat, FullTimestamp: true})
	}

	logger.SetReportCaller(cfg.AddCaller)
	logger.SetOutput(&OutputSplitter{})

	if cfg.Service != "" {
		logger.AddHook(serviceHook(cfg.Service))
	}
	return logger
}

// serviceHook stamps the configured service name onto every record.
type serviceHook string

func (h serviceHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h serviceHook) Fire(e *logrus.Entry) error {
	e.Data["service"] = string(h)
	return nil
}

// OutputSplitter routes logrus output: "level=error" records go to stderr,
// everything else goes to stdout. Containers and log shippers can then apply
// different handling per stream without parsing the payload.
type OutputSplitter struct{}

func (s *OutputSplitter) Write(p []byte) (int, error) {
	if bytes.Contains(p, []byte("level=error")) || bytes.Contains(p, []byte("\"level\":\"error\"")) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// ContextLogger carries an accumulated field set plus the underlying logrus
// logger. Subsystems hold one of these rather than a package-level global.
type ContextLogger struct {
	logger *logrus.Logger
	fields logrus.Fields
}

// NewContextLogger wraps logger (or a default one if nil) with base fields.
func NewContextLogger(logger *logrus.Logger, fields map[string]any) *ContextLogger {
	if logger == nil {
		logger = New(DefaultConfig())
	}
	base := make(logrus.Fields, len(fields))
	for k, v := range fields {
		base[k] = v
	}
	return &ContextLogger{logger: logger, fields: base}
}

func (cl *ContextLogger) clone(add logrus.Fields) *ContextLogger {
	merged := make(logrus.Fields, len(cl.fields)+len(add))
	for k, v := range cl.fields {
		merged[k] = v
	}
	for k, v := range add {
		merged[k] = v
	}
	return &ContextLogger{logger: cl.logger, fields: merged}
}

// WithField returns a derived logger with key=value added to its field set.
func (cl *ContextLogger) WithField(key string, value any) *ContextLogger {
	return cl.clone(logrus.Fields{key: value})
}

// WithFields returns a derived logger with fields merged into its field set.
func (cl *ContextLogger) WithFields(fields map[string]any) *ContextLogger {
	merged := make(logrus.Fields, len(fields))
	for k, v := range fields {
		merged[k] = v
	}
	return cl.clone(merged)
}

// WithError attaches err's message under the "error" field.
func (cl *ContextLogger) WithError(err error) *ContextLogger {
	if err == nil {
		return cl
	}
	return cl.WithField("error", err.Error())
}

// contextKey values carried on a context.Context for correlation.
type contextKey string

const (
	RequestIDKey contextKey = "request_id"
	TraceIDKey   contextKey = "trace_id"
	JobIDKey     contextKey = "job_id"
)

// WithContext pulls request/trace/job correlation IDs out of ctx, if present.
func (cl *ContextLogger) WithContext(ctx context.Context) *ContextLogger {
	fields := logrus.Fields{}
	if v := ctx.Value(RequestIDKey); v != nil {
		fields["request_id"] = v
	}
	if v := ctx.Value(TraceIDKey); v != nil {
		fields["trace_id"] = v
	}
	if v := ctx.Value(JobIDKey); v != nil {
		fields["job_id"] = v
	}
	if len(fields) == 0 {
		return cl
	}
	return cl.clone(fields)
}

func (cl *ContextLogger) Debug(msg string)                          { cl.logger.WithFields(cl.fields).Debug(msg) }
func (cl *ContextLogger) Debugf(format string, args ...any)         { cl.logger.WithFields(cl.fields).Debugf(format, args...) }
func (cl *ContextLogger) Info(msg string)                           { cl.logger.WithFields(cl.fields).Info(msg) }
func (cl *ContextLogger) Infof(format string, args ...any)          { cl.logger.WithFields(cl.fields).Infof(format, args...) }
func (cl *ContextLogger) Warn(msg string)                           { cl.logger.WithFields(cl.fields).Warn(msg) }
func (cl *ContextLogger) Warnf(format string, args ...any)          { cl.logger.WithFields(cl.fields).Warnf(format, args...) }
func (cl *ContextLogger) Error(msg string)                          { cl.logger.WithFields(cl.fields).Error(msg) }
func (cl *ContextLogger) Errorf(format string, args ...any)         { cl.logger.WithFields(cl.fields).Errorf(format, args...) }
