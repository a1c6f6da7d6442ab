package storage

import (
	"errors"
	"fmt"
	"strings"

	"loopcast/internal/models"
)

func applyVideoUpdate(video *models.Video, update VideoUpdate) error {
	if update.Title != nil {
		title := strings.TrimSpace(*update.Title)
		if title == "" {
			return errors.New("title is required")
		}
		if len(title) > MaxVideoTitleLength {
			return fmt.Errorf("title exceeds %d characters", MaxVideoTitleLength)
		}
		video.Title = title
	}
	if update.Duration != nil {
		video.Duration = strings.TrimSpace(*update.Duration)
	}
	if update.ThumbnailURL != nil {
		video.ThumbnailURL = strings.TrimSpace(*update.ThumbnailURL)
	}
	return nil
}

func applyStreamConfigUpdate(cfg *models.StreamConfig, update StreamConfigUpdate) error {
	if update.Platform != nil {
		platform := strings.ToLower(strings.TrimSpace(*update.Platform))
		switch platform {
		case "youtube", "twitch", "facebook", "custom":
			cfg.Platform = platform
		default:
			return fmt.Errorf("unsupported platform %q", *update.Platform)
		}
	}
	if update.StreamKey != nil {
		cfg.StreamKey = strings.TrimSpace(*update.StreamKey)
	}
	if update.RTMPURL != nil {
		cfg.RTMPURL = strings.TrimSpace(*update.RTMPURL)
	}
	if update.Resolution != nil {
		resolution := strings.TrimSpace(*update.Resolution)
		if _, err := models.HeightFromResolution(resolution); err != nil {
			return err
		}
		cfg.Resolution = resolution
	}
	if update.Framerate != nil {
		if *update.Framerate <= 0 {
			return errors.New("framerate must be positive")
		}
		cfg.Framerate = *update.Framerate
	}
	if update.Bitrate != nil {
		if *update.Bitrate <= 0 {
			return errors.New("bitrate must be positive")
		}
		cfg.Bitrate = *update.Bitrate
	}
	if update.AudioBitrate != nil {
		if *update.AudioBitrate <= 0 {
			return errors.New("audio bitrate must be positive")
		}
		cfg.AudioBitrate = *update.AudioBitrate
	}
	if update.IsActive != nil {
		cfg.IsActive = *update.IsActive
	}
	if cfg.Platform == "custom" && cfg.StreamKey == "" {
		key, err := generateStreamKey()
		if err != nil {
			return err
		}
		cfg.StreamKey = key
	}
	return nil
}

func applyStreamStatusUpdate(status *models.StreamStatus, update StreamStatusUpdate, videoExists func(string) bool) error {
	if update.Status != nil {
		next := strings.ToLower(strings.TrimSpace(*update.Status))
		switch next {
		case models.StreamStateOffline, models.StreamStateStarting, models.StreamStateLive, models.StreamStatePaused, models.StreamStateStopping, models.StreamStateError:
			status.Status = next
		default:
			return fmt.Errorf("unknown stream state %q", *update.Status)
		}
	}
	if update.ViewerCount != nil {
		if *update.ViewerCount < 0 {
			return errors.New("viewer count cannot be negative")
		}
		status.ViewerCount = *update.ViewerCount
	}
	if update.Uptime != nil {
		status.Uptime = *update.Uptime
	}
	if update.ClearCurrentVideo {
		status.CurrentVideoID = nil
	} else if update.CurrentVideoID != nil {
		id := strings.TrimSpace(*update.CurrentVideoID)
		if videoExists != nil && !videoExists(id) {
			return ErrVideoNotFound
		}
		status.CurrentVideoID = &id
	}
	if update.ClearStartedAt {
		status.StartedAt = nil
	} else if update.StartedAt != nil {
		startedAt := update.StartedAt.UTC()
		status.StartedAt = &startedAt
	}
	if update.LoopPlaylist != nil {
		status.LoopPlaylist = *update.LoopPlaylist
	}
	if update.LastError != nil {
		status.LastError = strings.TrimSpace(*update.LastError)
	}
	return nil
}

func applySystemConfigUpdate(cfg *models.SystemConfig, update SystemConfigUpdate) error {
	if update.RTMPPort != nil {
		if err := validatePort(*update.RTMPPort); err != nil {
			return fmt.Errorf("rtmp port: %w", err)
		}
		cfg.RTMPPort = *update.RTMPPort
	}
	if update.WebPort != nil {
		if err := validatePort(*update.WebPort); err != nil {
			return fmt.Errorf("web port: %w", err)
		}
		cfg.WebPort = *update.WebPort
	}
	if update.DatabaseHost != nil {
		cfg.DatabaseHost = strings.TrimSpace(*update.DatabaseHost)
	}
	if update.DatabasePort != nil {
		if *update.DatabasePort != 0 {
			if err := validatePort(*update.DatabasePort); err != nil {
				return fmt.Errorf("database port: %w", err)
			}
		}
		cfg.DatabasePort = *update.DatabasePort
	}
	if update.DatabaseName != nil {
		cfg.DatabaseName = strings.TrimSpace(*update.DatabaseName)
	}
	if update.DatabaseUser != nil {
		cfg.DatabaseUser = strings.TrimSpace(*update.DatabaseUser)
	}
	return nil
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port %d out of range", port)
	}
	return nil
}
