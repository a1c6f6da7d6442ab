package storage

import (
	"errors"
	"sync"
	"time"

	"loopcast/internal/models"
)

const (
	passwordHashSaltLength = 16
	passwordHashKeyLength  = 32
	passwordHashIterations = 120000

	// MaxVideoTitleLength caps operator-supplied video titles.
	MaxVideoTitleLength = 256

	// Fixed identifiers for the singleton configuration rows.
	streamConfigID = "stream-config"
	streamStatusID = "stream-status"
	systemConfigID = "system-config"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrVideoNotFound      = errors.New("video not found")
	ErrOperatorNotFound   = errors.New("operator not found")
)

// Default encoder and instance settings applied when no configuration has
// been saved yet. They mirror the dashboard's initial form values.
const (
	DefaultResolution   = "1920x1080"
	DefaultFramerate    = 30
	DefaultBitrate      = 4500
	DefaultAudioBitrate = 128
	DefaultRTMPPort     = 1935
	DefaultWebPort      = 5000
)

type dataset struct {
	Videos       map[string]models.Video `json:"videos"`
	StreamConfig *models.StreamConfig    `json:"streamConfig,omitempty"`
	StreamStatus *models.StreamStatus    `json:"streamStatus,omitempty"`
	SystemConfig *models.SystemConfig    `json:"systemConfig,omitempty"`
	Operators    map[string]models.Operator `json:"operators"`
}

func newDataset() dataset {
	return dataset{
		Videos:    make(map[string]models.Video),
		Operators: make(map[string]models.Operator),
	}
}

func cloneDataset(data dataset) dataset {
	clone := newDataset()
	for id, video := range data.Videos {
		clone.Videos[id] = video
	}
	for username, operator := range data.Operators {
		clone.Operators[username] = operator
	}
	if data.StreamConfig != nil {
		cfg := *data.StreamConfig
		clone.StreamConfig = &cfg
	}
	if data.StreamStatus != nil {
		status := *data.StreamStatus
		clone.StreamStatus = &status
	}
	if data.SystemConfig != nil {
		cfg := *data.SystemConfig
		clone.SystemConfig = &cfg
	}
	return clone
}

// Storage is the JSON-file backed repository. All mutations clone the
// dataset, persist the clone to disk, and only then swap it in, so readers
// never observe a partially written state.
type Storage struct {
	mu       sync.RWMutex
	filePath string
	data     dataset
	clock    func() time.Time

	persistOverride func(dataset) error
}
