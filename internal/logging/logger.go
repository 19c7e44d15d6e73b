// Package logging provides the structured, levelled request logger.
// It keeps the teacher's one-entry-per-request shape but backs it with
// logrus so level filtering and JSON/console encoding come from the
// library instead of a hand-rolled formatter.
package logging

import (
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger wraps a configured *logrus.Logger.
type Logger struct {
	*logrus.Logger
}

// New builds a Logger. level is one of debug|info|warn|error (default
// info on anything unrecognized); format is console|json (default
// console).
func New(level, format string) *Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	l.SetLevel(parsed)

	if format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return &Logger{Logger: l}
}

// Entry is one completed request's log record.
type Entry struct {
	RequestID string
	RemoteIP  string
	Method    string
	Path      string
	Status    int
	LatencyMS int64
	Outcome   string
	Upstream  string
}

// LogRequest emits one log line per completed request, at a level chosen
// by the outcome: admissions at info, rejections at warn, and forwarder
// failures (timeout/bad_gateway) at error, per SPEC_FULL.md §10.
func (l *Logger) LogRequest(e Entry) {
	fields := logrus.Fields{
		"request_id": e.RequestID,
		"remote_ip":  e.RemoteIP,
		"method":     e.Method,
		"path":       e.Path,
		"status":     e.Status,
		"latency_ms": e.LatencyMS,
		"outcome":    e.Outcome,
	}
	if e.Upstream != "" {
		fields["upstream"] = e.Upstream
	}

	entry := l.WithFields(fields)
	switch e.Outcome {
	case "timeout", "bad_gateway":
		entry.Error("request completed")
	case "rate_limited", "banned", "bot_blocked", "body_too_large":
		entry.Warn("request completed")
	case "client_disconnected":
		// A client hanging up mid-request is normal, not a failure worth
		// a warning.
		entry.Info("request completed")
	default:
		entry.Info("request completed")
	}
}
