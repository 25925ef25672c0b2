// Package logging configures the process-wide logrus logger and
// attaches a per-request correlation id for request-scoped logging.
//
// Grounded on grafana-pyroscope's cmd/root.go init(), which sets
// SetReportCaller and a TextFormatter with a shortened caller path.
package logging

import (
	"context"
	"fmt"
	"net/http"
	"runtime"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Setup configures the process-wide logrus logger. Call once at
// startup, before any handler runs.
func Setup(level string) *logrus.Logger {
	logger := logrus.StandardLogger()
	logger.SetReportCaller(true)
	logger.SetFormatter(&logrus.TextFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000000",
		FullTimestamp:   true,
		CallerPrettyfier: func(f *runtime.Frame) (string, string) {
			filename := f.File
			if idx := lastSlashIndex(filename, 3); idx >= 0 {
				filename = filename[idx:]
			}
			return "", fmt.Sprintf(" %s:%d", filename, f.Line)
		},
	})

	if lvl, err := logrus.ParseLevel(level); err == nil {
		logger.SetLevel(lvl)
	}
	return logger
}

// lastSlashIndex returns the index just after the nth-from-last '/'
// in s, or -1 if s has fewer than n slashes. Used to shorten absolute
// build-machine paths in log output to a project-relative path.
func lastSlashIndex(s string, n int) int {
	count := 0
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == '/' {
			count++
			if count == n {
				return i + 1
			}
		}
	}
	return -1
}

// WithRequestID attaches an X-Request-Id header (generating one if
// absent) and middleware wraps the handler with a logger carrying it,
// so every log line emitted while handling the request can be
// correlated back to it.
func WithRequestID(logger *logrus.Logger, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-Id")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", reqID)

		entry := logger.WithField("request_id", reqID)
		ctx := context.WithValue(r.Context(), ctxKey{}, entry)
		next(w, r.WithContext(ctx))
	}
}

type ctxKey struct{}

// FromContext returns the request-scoped logger attached by
// WithRequestID, or the standard logger if none is attached.
func FromContext(ctx context.Context) *logrus.Entry {
	if entry, ok := ctx.Value(ctxKey{}).(*logrus.Entry); ok {
		return entry
	}
	return logrus.NewEntry(logrus.StandardLogger())
}
