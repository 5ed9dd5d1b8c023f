// Package logging carries a charmbracelet logger through context.Context and
// provides the debug HTTP transport shared by all API clients.
package logging

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/motemen/go-loghttp"
)

// New creates a logger with timestamp formatting writing to w.
// Timestamps look like "14:32:01.45".
func New(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
	})
}

// Discard returns a logger that drops everything.
func Discard() *log.Logger {
	return log.New(io.Discard)
}

type ctxKey int

const loggerKey ctxKey = 0

// WithLogger returns a context carrying l.
func WithLogger(ctx context.Context, l *log.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// FromContext returns the logger stored in ctx, or log.Default().
func FromContext(ctx context.Context) *log.Logger {
	if l, ok := ctx.Value(loggerKey).(*log.Logger); ok && l != nil {
		return l
	}
	return log.Default()
}

// Transport wraps base so that every request and response is logged at
// debug level. Credentials are never logged.
func Transport(base http.RoundTripper, l *log.Logger) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	if l == nil {
		return base
	}
	return &loghttp.Transport{
		Transport: base,
		LogRequest: func(req *http.Request) {
			l.Debug("http request", "method", req.Method, "url", redactURL(req))
		},
		LogResponse: func(resp *http.Response) {
			l.Debug("http response",
				"method", resp.Request.Method,
				"url", redactURL(resp.Request),
				"status", resp.StatusCode,
				"ratelimit_remaining", resp.Header.Get("X-RateLimit-Remaining"),
			)
		},
	}
}

// HTTPClient returns a client whose transport is Transport(nil, l).
func HTTPClient(l *log.Logger) *http.Client {
	return &http.Client{Transport: Transport(nil, l)}
}

func redactURL(req *http.Request) string {
	if req == nil || req.URL == nil {
		return ""
	}
	u := *req.URL
	u.User = nil
	q := u.Query()
	for k := range q {
		if strings.Contains(strings.ToLower(k), "token") {
			q.Set(k, "REDACTED")
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}
