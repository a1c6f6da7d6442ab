package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"loopcast/internal/engine"
	"loopcast/internal/models"
	"loopcast/internal/storage"
)

var supportedPlatforms = map[string]struct{}{
	"youtube":  {},
	"twitch":   {},
	"facebook": {},
	"custom":   {},
}

type streamConfigRequest struct {
	Platform     *string `json:"platform"`
	StreamKey    *string `json:"streamKey"`
	RTMPURL      *string `json:"rtmpUrl"`
	Resolution   *string `json:"resolution"`
	Framerate    *int    `json:"framerate"`
	Bitrate      *int    `json:"bitrate"`
	AudioBitrate *int    `json:"audioBitrate"`
	IsActive     *bool   `json:"isActive"`
}

// StreamConfigHandler reads or replaces the destination settings.
func (h *Handler) StreamConfigHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		config, ok := h.Store.StreamConfig()
		if !ok {
			writeError(w, http.StatusNotFound, "stream configuration not set")
			return
		}
		writeJSON(w, http.StatusOK, config)

	case http.MethodPost, http.MethodPut:
		var req streamConfigRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if err := validateStreamConfig(&req); err != nil {
			var reqErr RequestError
			if errors.As(err, &reqErr) {
				WriteRequestError(w, reqErr)
				return
			}
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		config, err := h.Store.SaveStreamConfig(storage.StreamConfigUpdate{
			Platform:     req.Platform,
			StreamKey:    req.StreamKey,
			RTMPURL:      req.RTMPURL,
			Resolution:   req.Resolution,
			Framerate:    req.Framerate,
			Bitrate:      req.Bitrate,
			AudioBitrate: req.AudioBitrate,
			IsActive:     req.IsActive,
		})
		if err != nil {
			h.logger().Error("stream config save failed", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to save stream configuration")
			return
		}
		writeJSON(w, http.StatusOK, config)

	default:
		methodNotAllowed(w, r)
	}
}

func validateStreamConfig(req *streamConfigRequest) error {
	if req.Platform != nil {
		platform := strings.ToLower(strings.TrimSpace(*req.Platform))
		if _, ok := supportedPlatforms[platform]; !ok {
			return ValidationError("platform must be one of youtube, twitch, facebook, custom")
		}
		*req.Platform = platform
		if platform == "custom" {
			if req.RTMPURL == nil || strings.TrimSpace(*req.RTMPURL) == "" {
				return ValidationError("rtmpUrl is required for custom destinations")
			}
		}
	}
	if req.RTMPURL != nil {
		url := strings.TrimSpace(*req.RTMPURL)
		if url != "" && !strings.HasPrefix(url, "rtmp://") && !strings.HasPrefix(url, "rtmps://") {
			return ValidationError("rtmpUrl must start with rtmp:// or rtmps://")
		}
		*req.RTMPURL = url
	}
	if req.Resolution != nil {
		if _, err := models.HeightFromResolution(*req.Resolution); err != nil {
			return ValidationError(err.Error())
		}
	}
	if req.Framerate != nil && (*req.Framerate < 1 || *req.Framerate > 120) {
		return ValidationError("framerate must be between 1 and 120")
	}
	if req.Bitrate != nil && *req.Bitrate < 1 {
		return ValidationError("bitrate must be positive")
	}
	if req.AudioBitrate != nil && *req.AudioBitrate < 1 {
		return ValidationError("audioBitrate must be positive")
	}
	return nil
}

// StreamStatusHandler returns the live playback status.
func (h *Handler) StreamStatusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	writeJSON(w, http.StatusOK, h.Engine.Status())
}

type streamStartRequest struct {
	VideoID string `json:"videoId"`
}

// StreamStart launches playback, optionally from a specific video.
func (h *Handler) StreamStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	var req streamStartRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	status, err := h.Engine.StartStream(r.Context(), strings.TrimSpace(req.VideoID))
	if err != nil {
		h.writeEngineError(w, err, "failed to start stream")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// StreamStop halts playback and marks the stream offline.
func (h *Handler) StreamStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	status, err := h.Engine.StopStream(r.Context())
	if err != nil {
		h.writeEngineError(w, err, "failed to stop stream")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// StreamRestart stops and relaunches the current video.
func (h *Handler) StreamRestart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	status, err := h.Engine.RestartStream(r.Context())
	if err != nil {
		h.writeEngineError(w, err, "failed to restart stream")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// StreamSetCurrent switches playback to the requested video. When the stream
// is offline only the status pointer moves.
func (h *Handler) StreamSetCurrent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	var req streamStartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	videoID := strings.TrimSpace(req.VideoID)
	if videoID == "" {
		writeError(w, http.StatusBadRequest, "videoId is required")
		return
	}
	if _, ok := h.Store.GetVideo(videoID); !ok {
		writeError(w, http.StatusNotFound, "video not found")
		return
	}

	if h.Engine.IsStreamActive() {
		status, err := h.Engine.StartStream(r.Context(), videoID)
		if err != nil {
			h.writeEngineError(w, err, "failed to switch video")
			return
		}
		writeJSON(w, http.StatusOK, status)
		return
	}

	status, err := h.Store.UpdateStreamStatus(storage.StreamStatusUpdate{CurrentVideoID: &videoID})
	if err != nil {
		h.logger().Error("current video update failed", "video_id", videoID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to set current video")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// StreamLoop toggles or reports continuous playlist playback. The action is
// the path segment after /api/stream/loop/.
func (h *Handler) StreamLoop(w http.ResponseWriter, r *http.Request) {
	action := strings.TrimPrefix(r.URL.Path, "/api/stream/loop/")
	switch action {
	case "enable", "disable":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r)
			return
		}
		status, err := h.Engine.SetLoopEnabled(action == "enable")
		if err != nil {
			h.logger().Error("loop toggle failed", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to update loop setting")
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"loopPlaylist": status.LoopPlaylist,
		})
	case "status":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"loopPlaylist": h.Engine.Status().LoopPlaylist,
		})
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// StreamTest verifies the encoder binary is present and runnable.
func (h *Handler) StreamTest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := h.encoderProbe()(ctx); err != nil {
		h.logger().Warn("encoder probe failed", "error", err)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": false,
			"error":   "ffmpeg is not available",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (h *Handler) writeEngineError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, engine.ErrPlaylistEmpty):
		writeError(w, http.StatusBadRequest, "playlist is empty")
	case errors.Is(err, engine.ErrNoVideoSelected):
		writeError(w, http.StatusBadRequest, "no video selected")
	case errors.Is(err, engine.ErrNotConfigured):
		writeError(w, http.StatusBadRequest, "stream configuration not set")
	case errors.Is(err, storage.ErrVideoNotFound):
		writeError(w, http.StatusNotFound, "video not found")
	default:
		h.logger().Error("stream operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, fallback)
	}
}
