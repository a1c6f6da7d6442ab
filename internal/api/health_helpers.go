package api

import (
	"context"
	"net/http"
	"time"
)

const healthCheckTimeout = 3 * time.Second

// componentHealth probes each dependency and returns the per-component
// results, the overall status string, and the HTTP status code to report.
func (h *Handler) componentHealth(ctx context.Context) (map[string]string, string, int) {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	components := make(map[string]string, 2)
	healthy := true

	if h.Store != nil {
		if err := h.Store.Ping(ctx); err != nil {
			components["datastore"] = "error: " + err.Error()
			healthy = false
		} else {
			components["datastore"] = "ok"
		}
	}
	if h.Sessions != nil {
		if err := h.Sessions.Ping(ctx); err != nil {
			components["sessions"] = "error: " + err.Error()
			healthy = false
		} else {
			components["sessions"] = "ok"
		}
	}

	if healthy {
		return components, "ok", http.StatusOK
	}
	return components, "degraded", http.StatusServiceUnavailable
}
