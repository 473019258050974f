package redisserver

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/tidwall/redlog/v2"
)

// Field represents a structured log field
type Field struct {
	Key   string
	Value interface{}
}

// Logger interface for custom logging implementations
type Logger interface {
	// Debug logs a debug message with optional fields
	Debug(msg string, fields ...Field)

	// Info logs an info message with optional fields
	Info(msg string, fields ...Field)

	// Error logs an error message with optional fields
	Error(msg string, fields ...Field)
}

// MetricsCollector interface for metrics collection.
// metrics.Collector implements it.
type MetricsCollector interface {
	// RecordSyncDuration records the time taken for a full synchronization
	RecordSyncDuration(duration time.Duration)

	// RecordCommandProcessed records a processed command with its duration
	RecordCommandProcessed(cmd string, duration time.Duration)

	// RecordNetworkBytes records bytes received from the master
	RecordNetworkBytes(bytes int64)

	// RecordReplicaCount records the number of attached replicas
	RecordReplicaCount(count int)

	// RecordClientCount records the number of connected clients
	RecordClientCount(count int)

	// RecordError records an error event
	RecordError(errorType string)
}

// Log levels accepted by NewLogger
const (
	LevelDebug   = "debug"
	LevelVerbose = "verbose"
	LevelNotice  = "notice"
	LevelWarning = "warning"
)

// redisLogger writes Redis-style log lines through redlog.
type redisLogger struct {
	log *redlog.Logger
}

// NewLogger returns a Logger writing Redis-style lines to w. app is the role
// character redis prints after the pid: 'M' for a master, 'S' for a replica.
func NewLogger(w io.Writer, level string, app byte) (Logger, error) {
	opts := *redlog.DefaultOptions
	opts.App = app
	switch strings.ToLower(level) {
	case LevelDebug:
		opts.Level = 0
	case LevelVerbose, "verb":
		opts.Level = 1
	case LevelNotice, "info", "":
		opts.Level = 2
	case LevelWarning, "warn":
		opts.Level = 3
	default:
		return nil, &ConfigError{Option: "loglevel", Value: level, Err: ErrInvalidConfig}
	}
	return &redisLogger{log: redlog.New(w, &opts)}, nil
}

func defaultLogger(app byte) Logger {
	l, _ := NewLogger(os.Stderr, LevelNotice, app)
	return l
}

func (l *redisLogger) Debug(msg string, fields ...Field) {
	l.log.Debugf("%s", withFields(msg, fields))
}

func (l *redisLogger) Info(msg string, fields ...Field) {
	l.log.Noticef("%s", withFields(msg, fields))
}

func (l *redisLogger) Error(msg string, fields ...Field) {
	l.log.Warningf("%s", withFields(msg, fields))
}

func withFields(msg string, fields []Field) string {
	if len(fields) == 0 {
		return msg
	}
	var b strings.Builder
	b.WriteString(msg)
	for _, field := range fields {
		b.WriteByte(' ')
		b.WriteString(field.Key)
		b.WriteByte('=')
		b.WriteString(formatValue(field.Value))
	}
	return b.String()
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case error:
		return val.Error()
	default:
		return fmt.Sprintf("%v", val)
	}
}
