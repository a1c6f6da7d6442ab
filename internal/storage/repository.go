package storage

import (
	"context"
	"time"

	"loopcast/internal/models"
)

// CreateVideoParams carries the fields required to register an uploaded
// video. PlaylistOrder is assigned automatically at the end of the playlist;
// Duration defaults to "00:00" until the probe worker fills it in.
type CreateVideoParams struct {
	Title        string
	Filename     string
	FileSize     int64
	Duration     string
	ThumbnailURL string
}

// VideoUpdate applies partial changes to a stored video. Nil fields are left
// untouched.
type VideoUpdate struct {
	Title        *string
	Duration     *string
	ThumbnailURL *string
}

// StreamConfigUpdate applies partial changes to the destination settings.
type StreamConfigUpdate struct {
	Platform     *string
	StreamKey    *string
	RTMPURL      *string
	Resolution   *string
	Framerate    *int
	Bitrate      *int
	AudioBitrate *int
	IsActive     *bool
}

// StreamStatusUpdate applies partial changes to the live status row. The
// Clear fields reset their optional counterparts to null.
type StreamStatusUpdate struct {
	Status            *string
	ViewerCount       *int
	Uptime            *string
	CurrentVideoID    *string
	ClearCurrentVideo bool
	StartedAt         *time.Time
	ClearStartedAt    bool
	LoopPlaylist      *bool
	LastError         *string
}

// SystemConfigUpdate applies partial changes to the instance settings.
type SystemConfigUpdate struct {
	RTMPPort     *int
	WebPort      *int
	DatabaseHost *string
	DatabasePort *int
	DatabaseName *string
	DatabaseUser *string
}

// Repository exposes the datastore operations required by the API handlers
// and the playback engine. Both the JSON file store and the Postgres store
// satisfy it.
type Repository interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	CreateVideo(params CreateVideoParams) (models.Video, error)
	ListVideos() []models.Video
	GetVideo(id string) (models.Video, bool)
	UpdateVideo(id string, update VideoUpdate) (models.Video, error)
	DeleteVideo(id string) error
	ReorderPlaylist(order []string) ([]models.Video, error)

	StreamConfig() (models.StreamConfig, bool)
	SaveStreamConfig(update StreamConfigUpdate) (models.StreamConfig, error)

	StreamStatus() models.StreamStatus
	UpdateStreamStatus(update StreamStatusUpdate) (models.StreamStatus, error)

	SystemConfig() models.SystemConfig
	UpdateSystemConfig(update SystemConfigUpdate) (models.SystemConfig, error)

	EnsureOperator(username, password string) (models.Operator, error)
	AuthenticateOperator(username, password string) (models.Operator, error)
	SetOperatorPassword(username, password string) (models.Operator, error)
	GetOperator(username string) (models.Operator, bool)

	ExportSnapshot(ctx context.Context) (*Snapshot, error)
	ImportSnapshot(ctx context.Context, snapshot *Snapshot) (SnapshotCounts, error)
}

var _ Repository = (*Storage)(nil)
