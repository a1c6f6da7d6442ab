package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	store, err := NewStorage(filepath.Join(t.TempDir(), "store.json"))
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	return store
}

func mustCreateVideo(t *testing.T, store *Storage, title string) string {
	t.Helper()
	video, err := store.CreateVideo(CreateVideoParams{Title: title, Filename: title + ".mp4", FileSize: 1024})
	if err != nil {
		t.Fatalf("CreateVideo(%q): %v", title, err)
	}
	return video.ID
}

func TestCreateVideoAppendsToPlaylist(t *testing.T) {
	store := newTestStorage(t)

	first := mustCreateVideo(t, store, "intro")
	second := mustCreateVideo(t, store, "feature")

	videos := store.ListVideos()
	if len(videos) != 2 {
		t.Fatalf("expected 2 videos, got %d", len(videos))
	}
	if videos[0].ID != first || videos[0].PlaylistOrder != 0 {
		t.Fatalf("expected %s at position 0, got %s at %d", first, videos[0].ID, videos[0].PlaylistOrder)
	}
	if videos[1].ID != second || videos[1].PlaylistOrder != 1 {
		t.Fatalf("expected %s at position 1, got %s at %d", second, videos[1].ID, videos[1].PlaylistOrder)
	}
}

func TestCreateVideoValidation(t *testing.T) {
	store := newTestStorage(t)

	if _, err := store.CreateVideo(CreateVideoParams{Title: "  ", Filename: "a.mp4"}); err == nil {
		t.Fatalf("expected error for blank title")
	}
	if _, err := store.CreateVideo(CreateVideoParams{Title: "ok"}); err == nil {
		t.Fatalf("expected error for missing filename")
	}
}

func TestVideosPersistAcrossReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "store.json")

	store, err := NewStorage(path)
	if err != nil {
		t.Fatalf("NewStorage: %v", err)
	}
	id := mustCreateVideo(t, store, "persisted")

	reloaded, err := NewStorage(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	video, ok := reloaded.GetVideo(id)
	if !ok {
		t.Fatalf("expected video %s after reload", id)
	}
	if video.Title != "persisted" {
		t.Fatalf("unexpected title %q", video.Title)
	}
}

func TestReorderPlaylist(t *testing.T) {
	store := newTestStorage(t)

	a := mustCreateVideo(t, store, "a")
	b := mustCreateVideo(t, store, "b")
	c := mustCreateVideo(t, store, "c")

	videos, err := store.ReorderPlaylist([]string{c, a, b})
	if err != nil {
		t.Fatalf("ReorderPlaylist: %v", err)
	}
	got := []string{videos[0].ID, videos[1].ID, videos[2].ID}
	want := []string{c, a, b}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: got %s want %s", i, got[i], want[i])
		}
	}

	if _, err := store.ReorderPlaylist([]string{a, b}); err == nil {
		t.Fatalf("expected error for incomplete order")
	}
	if _, err := store.ReorderPlaylist([]string{a, a, b}); err == nil {
		t.Fatalf("expected error for duplicate id")
	}
	if _, err := store.ReorderPlaylist([]string{a, b, "missing"}); err == nil {
		t.Fatalf("expected error for unknown id")
	}
}

func TestDeleteVideoCompactsOrdering(t *testing.T) {
	store := newTestStorage(t)

	a := mustCreateVideo(t, store, "a")
	b := mustCreateVideo(t, store, "b")
	c := mustCreateVideo(t, store, "c")

	if _, err := store.UpdateStreamStatus(StreamStatusUpdate{CurrentVideoID: &b}); err != nil {
		t.Fatalf("UpdateStreamStatus: %v", err)
	}
	if err := store.DeleteVideo(b); err != nil {
		t.Fatalf("DeleteVideo: %v", err)
	}

	videos := store.ListVideos()
	if len(videos) != 2 {
		t.Fatalf("expected 2 videos, got %d", len(videos))
	}
	if videos[0].ID != a || videos[0].PlaylistOrder != 0 {
		t.Fatalf("expected %s at 0, got %s at %d", a, videos[0].ID, videos[0].PlaylistOrder)
	}
	if videos[1].ID != c || videos[1].PlaylistOrder != 1 {
		t.Fatalf("expected %s at 1, got %s at %d", c, videos[1].ID, videos[1].PlaylistOrder)
	}

	status := store.StreamStatus()
	if status.CurrentVideoID != nil {
		t.Fatalf("expected current video cleared, got %v", *status.CurrentVideoID)
	}

	if err := store.DeleteVideo(b); err != ErrVideoNotFound {
		t.Fatalf("expected ErrVideoNotFound, got %v", err)
	}
}

func TestSaveStreamConfigDefaultsAndValidation(t *testing.T) {
	store := newTestStorage(t)

	if _, ok := store.StreamConfig(); ok {
		t.Fatalf("expected no stream config before first save")
	}

	platform := "youtube"
	key := "yt-key"
	cfg, err := store.SaveStreamConfig(StreamConfigUpdate{Platform: &platform, StreamKey: &key})
	if err != nil {
		t.Fatalf("SaveStreamConfig: %v", err)
	}
	if cfg.Platform != "youtube" || cfg.StreamKey != "yt-key" {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.Resolution != DefaultResolution || cfg.Framerate != DefaultFramerate || cfg.Bitrate != DefaultBitrate || cfg.AudioBitrate != DefaultAudioBitrate {
		t.Fatalf("expected defaults applied, got %+v", cfg)
	}

	bad := "vimeo"
	if _, err := store.SaveStreamConfig(StreamConfigUpdate{Platform: &bad}); err == nil {
		t.Fatalf("expected error for unsupported platform")
	}
	negative := -1
	if _, err := store.SaveStreamConfig(StreamConfigUpdate{Bitrate: &negative}); err == nil {
		t.Fatalf("expected error for negative bitrate")
	}
}

func TestSaveStreamConfigGeneratesCustomKey(t *testing.T) {
	store := newTestStorage(t)

	platform := "custom"
	cfg, err := store.SaveStreamConfig(StreamConfigUpdate{Platform: &platform})
	if err != nil {
		t.Fatalf("SaveStreamConfig: %v", err)
	}
	if cfg.StreamKey == "" {
		t.Fatalf("expected generated stream key for custom platform")
	}
}

func TestStreamStatusDefaultsAndUpdates(t *testing.T) {
	store := newTestStorage(t)

	status := store.StreamStatus()
	if status.Status != "offline" || status.Uptime != "00:00:00" || !status.LoopPlaylist {
		t.Fatalf("unexpected default status %+v", status)
	}

	id := mustCreateVideo(t, store, "clip")
	live := "live"
	viewers := 42
	startedAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	status, err := store.UpdateStreamStatus(StreamStatusUpdate{
		Status:         &live,
		ViewerCount:    &viewers,
		CurrentVideoID: &id,
		StartedAt:      &startedAt,
	})
	if err != nil {
		t.Fatalf("UpdateStreamStatus: %v", err)
	}
	if status.Status != "live" || status.ViewerCount != 42 {
		t.Fatalf("unexpected status %+v", status)
	}
	if status.CurrentVideoID == nil || *status.CurrentVideoID != id {
		t.Fatalf("expected current video %s", id)
	}
	if status.StartedAt == nil || !status.StartedAt.Equal(startedAt) {
		t.Fatalf("expected startedAt %v, got %v", startedAt, status.StartedAt)
	}

	offline := "offline"
	status, err = store.UpdateStreamStatus(StreamStatusUpdate{
		Status:            &offline,
		ClearCurrentVideo: true,
		ClearStartedAt:    true,
	})
	if err != nil {
		t.Fatalf("UpdateStreamStatus offline: %v", err)
	}
	if status.CurrentVideoID != nil || status.StartedAt != nil {
		t.Fatalf("expected cleared pointers, got %+v", status)
	}

	paused := "paused"
	status, err = store.UpdateStreamStatus(StreamStatusUpdate{Status: &paused})
	if err != nil {
		t.Fatalf("UpdateStreamStatus paused: %v", err)
	}
	if status.Status != "paused" {
		t.Fatalf("expected paused state, got %q", status.Status)
	}

	unknown := "rewinding"
	if _, err := store.UpdateStreamStatus(StreamStatusUpdate{Status: &unknown}); err == nil {
		t.Fatalf("expected error for unknown state")
	}
	missing := "nope"
	if _, err := store.UpdateStreamStatus(StreamStatusUpdate{CurrentVideoID: &missing}); err != ErrVideoNotFound {
		t.Fatalf("expected ErrVideoNotFound, got %v", err)
	}
}

func TestUpdateSystemConfigValidatesPorts(t *testing.T) {
	store := newTestStorage(t)

	cfg := store.SystemConfig()
	if cfg.RTMPPort != DefaultRTMPPort || cfg.WebPort != DefaultWebPort {
		t.Fatalf("unexpected defaults %+v", cfg)
	}

	port := 8080
	cfg, err := store.UpdateSystemConfig(SystemConfigUpdate{WebPort: &port})
	if err != nil {
		t.Fatalf("UpdateSystemConfig: %v", err)
	}
	if cfg.WebPort != 8080 {
		t.Fatalf("expected web port 8080, got %d", cfg.WebPort)
	}

	invalid := 70000
	if _, err := store.UpdateSystemConfig(SystemConfigUpdate{RTMPPort: &invalid}); err == nil {
		t.Fatalf("expected error for out-of-range port")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := newTestStorage(t)

	mustCreateVideo(t, store, "a")
	mustCreateVideo(t, store, "b")
	platform := "twitch"
	if _, err := store.SaveStreamConfig(StreamConfigUpdate{Platform: &platform}); err != nil {
		t.Fatalf("SaveStreamConfig: %v", err)
	}
	if _, err := store.EnsureOperator("admin", "swordfish1"); err != nil {
		t.Fatalf("EnsureOperator: %v", err)
	}

	ctx := context.Background()
	snapshot, err := store.ExportSnapshot(ctx)
	if err != nil {
		t.Fatalf("ExportSnapshot: %v", err)
	}

	target := newTestStorage(t)
	counts, err := target.ImportSnapshot(ctx, snapshot)
	if err != nil {
		t.Fatalf("ImportSnapshot: %v", err)
	}
	if counts.Videos != 2 || counts.Operators != 1 || !counts.StreamConfig {
		t.Fatalf("unexpected counts %+v", counts)
	}

	videos := target.ListVideos()
	if len(videos) != 2 {
		t.Fatalf("expected 2 imported videos, got %d", len(videos))
	}
	cfg, ok := target.StreamConfig()
	if !ok || cfg.Platform != "twitch" {
		t.Fatalf("expected imported twitch config, got %+v", cfg)
	}
	if _, ok := target.GetOperator("admin"); !ok {
		t.Fatalf("expected imported operator")
	}
}

func TestLoadSnapshotFromJSONMissingFile(t *testing.T) {
	if _, err := LoadSnapshotFromJSON(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Fatalf("expected error for missing snapshot file")
	}
}
