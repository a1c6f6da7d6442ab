package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"loopcast/internal/models"
)

// Canonical ingest URLs for the supported platforms. Custom destinations use
// the operator-provided URL, falling back to the local RTMP relay.
var platformIngestURLs = map[string]string{
	"youtube":  "rtmp://a.rtmp.youtube.com/live2",
	"twitch":   "rtmp://live.twitch.tv/app",
	"facebook": "rtmps://live-api-s.facebook.com:443/rtmp",
}

// SlotKey names the supervisor slot for a video's encoder process.
func SlotKey(videoID string) string {
	return "video_" + videoID
}

// VideoIDFromSlot reverses SlotKey.
func VideoIDFromSlot(slot string) (string, bool) {
	id := strings.TrimPrefix(slot, "video_")
	if id == slot || id == "" {
		return "", false
	}
	return id, true
}

// ResolveDestination computes the full RTMP publish URL for the configured
// platform. rtmpPort is only consulted for the custom fallback relay.
func ResolveDestination(cfg models.StreamConfig, rtmpPort int) (string, error) {
	platform := strings.ToLower(strings.TrimSpace(cfg.Platform))
	key := strings.TrimSpace(cfg.StreamKey)

	if base, ok := platformIngestURLs[platform]; ok {
		if key == "" {
			return "", fmt.Errorf("%s requires a stream key", platform)
		}
		return base + "/" + key, nil
	}
	if platform != "custom" && platform != "" {
		return "", fmt.Errorf("unsupported platform %q", cfg.Platform)
	}
	if url := strings.TrimSpace(cfg.RTMPURL); url != "" {
		if key == "" {
			return url, nil
		}
		return strings.TrimRight(url, "/") + "/" + key, nil
	}
	if rtmpPort <= 0 {
		return "", errors.New("rtmp port required for local relay")
	}
	if key == "" {
		return "", errors.New("custom destination requires a stream key")
	}
	return fmt.Sprintf("rtmp://localhost:%d/live/%s", rtmpPort, key), nil
}

// BuildEncoderArgs assembles the ffmpeg argument list that loops the input
// file forever and pushes it to the destination as an FLV/RTMP stream. The
// builder is pure; it never touches the filesystem.
func BuildEncoderArgs(inputPath string, cfg models.StreamConfig, destination string) ([]string, error) {
	if strings.TrimSpace(inputPath) == "" {
		return nil, errors.New("input path is required")
	}
	if strings.TrimSpace(destination) == "" {
		return nil, errors.New("destination is required")
	}
	height, err := models.HeightFromResolution(cfg.Resolution)
	if err != nil {
		return nil, err
	}
	framerate := cfg.Framerate
	if framerate <= 0 {
		return nil, errors.New("framerate must be positive")
	}
	bitrate := cfg.Bitrate
	if bitrate <= 0 {
		return nil, errors.New("bitrate must be positive")
	}
	audioBitrate := cfg.AudioBitrate
	if audioBitrate <= 0 {
		audioBitrate = 128
	}

	args := []string{
		"-stream_loop", "-1",
		"-re",
		"-i", inputPath,
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-tune", "zerolatency",
		"-pix_fmt", "yuv420p",
		"-maxrate", fmt.Sprintf("%dk", bitrate),
		"-bufsize", fmt.Sprintf("%dk", bitrate*2),
		"-vf", fmt.Sprintf("scale=-2:%d", height),
		"-g", fmt.Sprintf("%d", framerate*2),
		"-r", fmt.Sprintf("%d", framerate),
		"-c:a", "aac",
		"-b:a", fmt.Sprintf("%dk", audioBitrate),
		"-ar", "44100",
		"-ac", "2",
		"-f", "flv",
		"-reconnect", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "5",
		destination,
	}
	return args, nil
}

// FormatUptime renders an elapsed duration as HH:MM:SS. Hours grow past two
// digits rather than wrapping.
func FormatUptime(elapsed time.Duration) string {
	if elapsed < 0 {
		elapsed = 0
	}
	total := int64(elapsed / time.Second)
	hours := total / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}
