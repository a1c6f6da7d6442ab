package api

import (
	"net/http"

	"loopcast/internal/storage"
)

type systemConfigRequest struct {
	RTMPPort     *int    `json:"rtmpPort"`
	WebPort      *int    `json:"webPort"`
	DatabaseHost *string `json:"databaseHost"`
	DatabasePort *int    `json:"databasePort"`
	DatabaseName *string `json:"databaseName"`
	DatabaseUser *string `json:"databaseUser"`
}

// SystemConfigHandler reads or updates instance-level settings. Port changes
// take effect on the next process start.
func (h *Handler) SystemConfigHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.Store.SystemConfig())

	case http.MethodPost, http.MethodPut:
		var req systemConfigRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.RTMPPort != nil && !validPort(*req.RTMPPort) {
			writeError(w, http.StatusBadRequest, "rtmpPort must be between 1 and 65535")
			return
		}
		if req.WebPort != nil && !validPort(*req.WebPort) {
			writeError(w, http.StatusBadRequest, "webPort must be between 1 and 65535")
			return
		}
		if req.DatabasePort != nil && !validPort(*req.DatabasePort) {
			writeError(w, http.StatusBadRequest, "databasePort must be between 1 and 65535")
			return
		}
		config, err := h.Store.UpdateSystemConfig(storage.SystemConfigUpdate{
			RTMPPort:     req.RTMPPort,
			WebPort:      req.WebPort,
			DatabaseHost: req.DatabaseHost,
			DatabasePort: req.DatabasePort,
			DatabaseName: req.DatabaseName,
			DatabaseUser: req.DatabaseUser,
		})
		if err != nil {
			h.logger().Error("system config update failed", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to update system configuration")
			return
		}
		writeJSON(w, http.StatusOK, config)

	default:
		methodNotAllowed(w, r)
	}
}

func validPort(port int) bool {
	return port >= 1 && port <= 65535
}
