package server

import (
	"log/slog"
	"net/http"
)

// loggingWithRequest returns a logger annotated with request-scoped fields.
// The logger carries the request ID and encoder slot from the context
// alongside the HTTP path and resolved client IP so middleware logs stay
// aligned on shared keys.
func loggingWithRequest(base *slog.Logger, r *http.Request) *slog.Logger {
	if base == nil || r == nil {
		return nil
	}

	logger := loggerWithRequestContext(r.Context(), base)
	if logger == nil {
		return nil
	}

	return logger.With(
		"path", r.URL.Path,
		"remote_ip", extractClientIP(r),
	)
}
