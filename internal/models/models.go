package models

import "time"

// Video is a single uploaded asset in the operator's playlist. PlaylistOrder
// is a dense zero-based position; playback walks the videos in ascending
// order and wraps around when looping is enabled.
type Video struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Filename      string    `json:"filename"`
	FileSize      int64     `json:"fileSize"`
	Duration      string    `json:"duration"`
	ThumbnailURL  string    `json:"thumbnailUrl,omitempty"`
	PlaylistOrder int       `json:"playlistOrder"`
	UploadedAt    time.Time `json:"uploadedAt"`
}

// StreamConfig captures the destination and encoder settings for the single
// outbound stream. Platform is one of "youtube", "twitch", "facebook" or
// "custom"; RTMPURL is only consulted for the custom platform.
type StreamConfig struct {
	ID           string    `json:"id"`
	Platform     string    `json:"platform"`
	StreamKey    string    `json:"streamKey"`
	RTMPURL      string    `json:"rtmpUrl,omitempty"`
	Resolution   string    `json:"resolution"`
	Framerate    int       `json:"framerate"`
	Bitrate      int       `json:"bitrate"`
	AudioBitrate int       `json:"audioBitrate"`
	IsActive     bool      `json:"isActive"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Stream lifecycle states reported by StreamStatus.Status.
const (
	StreamStateOffline  = "offline"
	StreamStateStarting = "starting"
	StreamStateLive     = "live"
	StreamStatePaused   = "paused"
	StreamStateStopping = "stopping"
	StreamStateError    = "error"
)

// StreamStatus is the operator-visible snapshot of the running stream.
// Uptime is formatted as HH:MM:SS and only advances while Status is live.
type StreamStatus struct {
	ID             string     `json:"id"`
	Status         string     `json:"status"`
	ViewerCount    int        `json:"viewerCount"`
	Uptime         string     `json:"uptime"`
	CurrentVideoID *string    `json:"currentVideoId,omitempty"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	LoopPlaylist   bool       `json:"loopPlaylist"`
	LastError      string     `json:"lastError,omitempty"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// SystemConfig holds instance-wide settings the operator can adjust from the
// dashboard. Database fields describe an optional external Postgres target
// used by the snapshot import and export endpoints.
type SystemConfig struct {
	ID           string    `json:"id"`
	RTMPPort     int       `json:"rtmpPort"`
	WebPort      int       `json:"webPort"`
	DatabaseHost string    `json:"databaseHost,omitempty"`
	DatabasePort int       `json:"databasePort,omitempty"`
	DatabaseName string    `json:"databaseName,omitempty"`
	DatabaseUser string    `json:"databaseUser,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Operator is the single administrative account that owns the dashboard.
type Operator struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"passwordHash,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}
