package api

import (
	"context"
	"log/slog"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"loopcast/internal/auth"
	"loopcast/internal/models"
	"loopcast/internal/observability/metrics"
	"loopcast/internal/storage"
)

const (
	// DefaultMaxUploadBytes caps multipart video uploads at 500 MB.
	DefaultMaxUploadBytes int64 = 500 << 20

	// DefaultOperatorUsername is the account mutating routes authenticate
	// against when no explicit operator is configured.
	DefaultOperatorUsername = "admin"
)

// StreamController is the subset of the playback engine the handlers drive.
type StreamController interface {
	StartStream(ctx context.Context, videoID string) (models.StreamStatus, error)
	StopStream(ctx context.Context) (models.StreamStatus, error)
	RestartStream(ctx context.Context) (models.StreamStatus, error)
	SetLoopEnabled(enabled bool) (models.StreamStatus, error)
	Status() models.StreamStatus
	IsStreamActive() bool
}

type Handler struct {
	Store     storage.Repository
	Sessions  *auth.SessionManager
	Engine    StreamController
	Processor *MediaProcessor
	Metrics   *metrics.Recorder
	Logger    *slog.Logger

	UploadsDir          string
	BackupsDir          string
	MaxUploadBytes      int64
	OperatorUsername    string
	SessionCookiePolicy SessionCookiePolicy

	// EncoderProbe verifies that the encoder binary is runnable. The
	// default executes "ffmpeg -version".
	EncoderProbe func(ctx context.Context) error
}

func NewHandler(store storage.Repository, sessions *auth.SessionManager) *Handler {
	if sessions == nil {
		sessions = auth.NewSessionManager(24 * time.Hour)
	}
	return &Handler{Store: store, Sessions: sessions}
}

func (h *Handler) sessionManager() *auth.SessionManager {
	if h.Sessions == nil {
		h.Sessions = auth.NewSessionManager(24 * time.Hour)
	}
	return h.Sessions
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *Handler) operatorUsername() string {
	if name := strings.TrimSpace(h.OperatorUsername); name != "" {
		return strings.ToLower(name)
	}
	return DefaultOperatorUsername
}

func (h *Handler) maxUploadBytes() int64 {
	if h.MaxUploadBytes > 0 {
		return h.MaxUploadBytes
	}
	return DefaultMaxUploadBytes
}

func (h *Handler) uploadsDir() string {
	if dir := strings.TrimSpace(h.UploadsDir); dir != "" {
		return dir
	}
	return "uploads"
}

func (h *Handler) backupsDir() string {
	if dir := strings.TrimSpace(h.BackupsDir); dir != "" {
		return dir
	}
	return "backups"
}

func (h *Handler) encoderProbe() func(ctx context.Context) error {
	if h.EncoderProbe != nil {
		return h.EncoderProbe
	}
	return func(ctx context.Context) error {
		return exec.CommandContext(ctx, "ffmpeg", "-version").Run()
	}
}

// ExtractToken pulls the session token from the Authorization header or the
// session cookie.
func ExtractToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}

// Health reports component availability for load balancer probes.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		methodNotAllowed(w, r)
		return
	}
	components, overall, statusCode := h.componentHealth(r.Context())
	writeJSON(w, statusCode, map[string]interface{}{
		"status":     overall,
		"components": components,
	})
}
