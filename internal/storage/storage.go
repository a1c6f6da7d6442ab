package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"loopcast/internal/models"
)

// NewStorage opens (or creates) the JSON datastore at path.
func NewStorage(path string, opts ...Option) (*Storage, error) {
	store := &Storage{
		filePath: path,
		clock:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt.applyJSON(store)
		}
	}
	if store.clock == nil {
		store.clock = func() time.Time { return time.Now().UTC() }
	}
	if err := store.load(); err != nil {
		return nil, err
	}
	return store, nil
}

func (s *Storage) load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.filePath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	file, err := os.Open(s.filePath)
	if errors.Is(err, os.ErrNotExist) {
		s.data = newDataset()
		return nil
	} else if err != nil {
		return fmt.Errorf("open store file: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	var data dataset
	if err := decoder.Decode(&data); err != nil {
		return fmt.Errorf("decode store file: %w", err)
	}
	if data.Videos == nil {
		data.Videos = make(map[string]models.Video)
	}
	if data.Operators == nil {
		data.Operators = make(map[string]models.Operator)
	}
	s.data = data
	return nil
}

func (s *Storage) persistDataset(data dataset) error {
	if s.persistOverride != nil {
		if err := s.persistOverride(data); err != nil {
			return err
		}
	}

	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, "store-*.json")
	if err != nil {
		return fmt.Errorf("create temp store file: %w", err)
	}
	tmpPath := tmpFile.Name()
	success := false
	defer func() {
		if !success {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("flush store file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp store file: %w", err)
	}

	if err := os.Rename(tmpPath, s.filePath); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	success = true
	return nil
}

// Ping reports whether the backing file remains writable.
func (s *Storage) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Dir(s.filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store dir unavailable: %w", err)
	}
	return nil
}

// Close satisfies Repository; the JSON store holds no open handles.
func (s *Storage) Close(ctx context.Context) error {
	return ctx.Err()
}

// CreateVideo registers an uploaded video at the end of the playlist.
func (s *Storage) CreateVideo(params CreateVideoParams) (models.Video, error) {
	title := strings.TrimSpace(params.Title)
	if title == "" {
		return models.Video{}, errors.New("title is required")
	}
	if len(title) > MaxVideoTitleLength {
		return models.Video{}, fmt.Errorf("title exceeds %d characters", MaxVideoTitleLength)
	}
	if strings.TrimSpace(params.Filename) == "" {
		return models.Video{}, errors.New("filename is required")
	}

	id, err := generateID()
	if err != nil {
		return models.Video{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	duration := strings.TrimSpace(params.Duration)
	if duration == "" {
		duration = "00:00"
	}

	updatedData := cloneDataset(s.data)
	video := models.Video{
		ID:            id,
		Title:         title,
		Filename:      params.Filename,
		FileSize:      params.FileSize,
		Duration:      duration,
		ThumbnailURL:  params.ThumbnailURL,
		PlaylistOrder: len(updatedData.Videos),
		UploadedAt:    s.clock(),
	}
	updatedData.Videos[id] = video

	if err := s.persistDataset(updatedData); err != nil {
		return models.Video{}, err
	}
	s.data = updatedData
	return video, nil
}

// ListVideos returns every video sorted by playlist position.
func (s *Storage) ListVideos() []models.Video {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedVideos(s.data.Videos)
}

func sortedVideos(videos map[string]models.Video) []models.Video {
	list := make([]models.Video, 0, len(videos))
	for _, video := range videos {
		list = append(list, video)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].PlaylistOrder != list[j].PlaylistOrder {
			return list[i].PlaylistOrder < list[j].PlaylistOrder
		}
		return list[i].UploadedAt.Before(list[j].UploadedAt)
	})
	return list
}

// GetVideo returns the video with the provided ID.
func (s *Storage) GetVideo(id string) (models.Video, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	video, ok := s.data.Videos[id]
	return video, ok
}

// UpdateVideo applies a partial update to the stored video.
func (s *Storage) UpdateVideo(id string, update VideoUpdate) (models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)
	video, ok := updatedData.Videos[id]
	if !ok {
		return models.Video{}, ErrVideoNotFound
	}
	if err := applyVideoUpdate(&video, update); err != nil {
		return models.Video{}, err
	}
	updatedData.Videos[id] = video

	if err := s.persistDataset(updatedData); err != nil {
		return models.Video{}, err
	}
	s.data = updatedData
	return video, nil
}

// DeleteVideo removes the video and compacts the playlist ordering so the
// remaining positions stay dense.
func (s *Storage) DeleteVideo(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)
	if _, ok := updatedData.Videos[id]; !ok {
		return ErrVideoNotFound
	}
	delete(updatedData.Videos, id)
	for i, video := range sortedVideos(updatedData.Videos) {
		video.PlaylistOrder = i
		updatedData.Videos[video.ID] = video
	}
	if updatedData.StreamStatus != nil && updatedData.StreamStatus.CurrentVideoID != nil && *updatedData.StreamStatus.CurrentVideoID == id {
		status := *updatedData.StreamStatus
		status.CurrentVideoID = nil
		status.UpdatedAt = s.clock()
		updatedData.StreamStatus = &status
	}

	if err := s.persistDataset(updatedData); err != nil {
		return err
	}
	s.data = updatedData
	return nil
}

// ReorderPlaylist assigns playlist positions following the provided ID
// order. Every stored video must appear exactly once.
func (s *Storage) ReorderPlaylist(order []string) ([]models.Video, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)
	if len(order) != len(updatedData.Videos) {
		return nil, fmt.Errorf("order lists %d videos, store has %d", len(order), len(updatedData.Videos))
	}
	seen := make(map[string]struct{}, len(order))
	for position, id := range order {
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("video %s listed twice", id)
		}
		seen[id] = struct{}{}
		video, ok := updatedData.Videos[id]
		if !ok {
			return nil, ErrVideoNotFound
		}
		video.PlaylistOrder = position
		updatedData.Videos[id] = video
	}

	if err := s.persistDataset(updatedData); err != nil {
		return nil, err
	}
	s.data = updatedData
	return sortedVideos(s.data.Videos), nil
}

// StreamConfig returns the saved destination settings when present.
func (s *Storage) StreamConfig() (models.StreamConfig, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data.StreamConfig == nil {
		return models.StreamConfig{}, false
	}
	return *s.data.StreamConfig, true
}

func defaultStreamConfig(now time.Time) models.StreamConfig {
	return models.StreamConfig{
		ID:           streamConfigID,
		Platform:     "custom",
		Resolution:   DefaultResolution,
		Framerate:    DefaultFramerate,
		Bitrate:      DefaultBitrate,
		AudioBitrate: DefaultAudioBitrate,
		UpdatedAt:    now,
	}
}

// SaveStreamConfig applies a partial update to the destination settings,
// creating the defaults first when nothing has been saved yet.
func (s *Storage) SaveStreamConfig(update StreamConfigUpdate) (models.StreamConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)
	cfg := defaultStreamConfig(s.clock())
	if updatedData.StreamConfig != nil {
		cfg = *updatedData.StreamConfig
	}
	if err := applyStreamConfigUpdate(&cfg, update); err != nil {
		return models.StreamConfig{}, err
	}
	cfg.UpdatedAt = s.clock()
	updatedData.StreamConfig = &cfg

	if err := s.persistDataset(updatedData); err != nil {
		return models.StreamConfig{}, err
	}
	s.data = updatedData
	return cfg, nil
}

func defaultStreamStatus(now time.Time) models.StreamStatus {
	return models.StreamStatus{
		ID:           streamStatusID,
		Status:       models.StreamStateOffline,
		Uptime:       "00:00:00",
		LoopPlaylist: true,
		UpdatedAt:    now,
	}
}

// StreamStatus returns the current status row, synthesising the offline
// default when none has been stored.
func (s *Storage) StreamStatus() models.StreamStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data.StreamStatus == nil {
		return defaultStreamStatus(s.clock())
	}
	return *s.data.StreamStatus
}

// UpdateStreamStatus applies a partial update to the status row.
func (s *Storage) UpdateStreamStatus(update StreamStatusUpdate) (models.StreamStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)
	status := defaultStreamStatus(s.clock())
	if updatedData.StreamStatus != nil {
		status = *updatedData.StreamStatus
	}
	exists := func(id string) bool {
		_, ok := updatedData.Videos[id]
		return ok
	}
	if err := applyStreamStatusUpdate(&status, update, exists); err != nil {
		return models.StreamStatus{}, err
	}
	status.UpdatedAt = s.clock()
	updatedData.StreamStatus = &status

	if err := s.persistDataset(updatedData); err != nil {
		return models.StreamStatus{}, err
	}
	s.data = updatedData
	return status, nil
}

func defaultSystemConfig(now time.Time) models.SystemConfig {
	return models.SystemConfig{
		ID:        systemConfigID,
		RTMPPort:  DefaultRTMPPort,
		WebPort:   DefaultWebPort,
		UpdatedAt: now,
	}
}

// SystemConfig returns the instance settings, synthesising defaults when no
// row has been stored.
func (s *Storage) SystemConfig() models.SystemConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.data.SystemConfig == nil {
		return defaultSystemConfig(s.clock())
	}
	return *s.data.SystemConfig
}

// UpdateSystemConfig applies a partial update to the instance settings.
func (s *Storage) UpdateSystemConfig(update SystemConfigUpdate) (models.SystemConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := cloneDataset(s.data)
	cfg := defaultSystemConfig(s.clock())
	if updatedData.SystemConfig != nil {
		cfg = *updatedData.SystemConfig
	}
	if err := applySystemConfigUpdate(&cfg, update); err != nil {
		return models.SystemConfig{}, err
	}
	cfg.UpdatedAt = s.clock()
	updatedData.SystemConfig = &cfg

	if err := s.persistDataset(updatedData); err != nil {
		return models.SystemConfig{}, err
	}
	s.data = updatedData
	return cfg, nil
}
