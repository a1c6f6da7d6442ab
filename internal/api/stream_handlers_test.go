package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"loopcast/internal/engine"
	"loopcast/internal/models"
)

func TestStreamConfigRoundTrip(t *testing.T) {
	f := newTestFixture(t)

	rec := doJSON(t, f.handler.StreamConfigHandler, http.MethodGet, "/api/stream-config", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unset config: status = %d, want 404", rec.Code)
	}

	rec = doJSON(t, f.handler.StreamConfigHandler, http.MethodPost, "/api/stream-config",
		`{"platform":"YouTube","streamKey":"abcd-1234","resolution":"1920x1080","framerate":30,"bitrate":4500,"audioBitrate":160}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("save config: status = %d, body %s", rec.Code, rec.Body.String())
	}
	var config models.StreamConfig
	decodeBody(t, rec, &config)
	if config.Platform != "youtube" {
		t.Fatalf("platform = %q, want normalised youtube", config.Platform)
	}
	if config.AudioBitrate != 160 {
		t.Fatalf("audio bitrate = %d", config.AudioBitrate)
	}

	rec = doJSON(t, f.handler.StreamConfigHandler, http.MethodGet, "/api/stream-config", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get config: status = %d", rec.Code)
	}
}

func TestStreamConfigValidation(t *testing.T) {
	f := newTestFixture(t)
	cases := []struct {
		name string
		body string
	}{
		{"unknown platform", `{"platform":"dailymotion"}`},
		{"custom without url", `{"platform":"custom","streamKey":"k"}`},
		{"bad scheme", `{"platform":"custom","rtmpUrl":"http://example.com/live"}`},
		{"bad resolution", `{"resolution":"wide"}`},
		{"bad framerate", `{"framerate":500}`},
		{"bad bitrate", `{"bitrate":-1}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, f.handler.StreamConfigHandler, http.MethodPost, "/api/stream-config", tc.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400, body %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestStreamStartStopRestart(t *testing.T) {
	f := newTestFixture(t)
	video := f.addVideo(t, "Opener")

	rec := doJSON(t, f.handler.StreamStart, http.MethodPost, "/api/stream/start",
		fmt.Sprintf(`{"videoId":%q}`, video.ID))
	if rec.Code != http.StatusOK {
		t.Fatalf("start: status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(f.controller.startCalls) != 1 || f.controller.startCalls[0] != video.ID {
		t.Fatalf("start calls = %v", f.controller.startCalls)
	}

	rec = doJSON(t, f.handler.StreamStop, http.MethodPost, "/api/stream/stop", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("stop: status = %d", rec.Code)
	}
	if f.controller.stopCalls != 1 {
		t.Fatalf("stop calls = %d", f.controller.stopCalls)
	}

	rec = doJSON(t, f.handler.StreamRestart, http.MethodPost, "/api/stream/restart", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("restart: status = %d", rec.Code)
	}
	if f.controller.restartCalls != 1 {
		t.Fatalf("restart calls = %d", f.controller.restartCalls)
	}
}

func TestStreamStartWithoutBodyDefersSelection(t *testing.T) {
	f := newTestFixture(t)
	rec := doJSON(t, f.handler.StreamStart, http.MethodPost, "/api/stream/start", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(f.controller.startCalls) != 1 || f.controller.startCalls[0] != "" {
		t.Fatalf("start calls = %v, want one empty video id", f.controller.startCalls)
	}
}

func TestStreamStartMapsEngineErrors(t *testing.T) {
	f := newTestFixture(t)

	f.controller.startErr = engine.ErrPlaylistEmpty
	rec := doJSON(t, f.handler.StreamStart, http.MethodPost, "/api/stream/start", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty playlist: status = %d, want 400", rec.Code)
	}

	f.controller.startErr = engine.ErrNotConfigured
	rec = doJSON(t, f.handler.StreamStart, http.MethodPost, "/api/stream/start", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("not configured: status = %d, want 400", rec.Code)
	}

	f.controller.startErr = engine.ErrNoVideoSelected
	rec = doJSON(t, f.handler.StreamStart, http.MethodPost, "/api/stream/start", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("no selection: status = %d, want 400", rec.Code)
	}

	f.controller.startErr = errors.New("encoder exploded")
	rec = doJSON(t, f.handler.StreamStart, http.MethodPost, "/api/stream/start", "")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("internal error: status = %d, want 500", rec.Code)
	}
}

func TestStreamSetCurrentWhileOffline(t *testing.T) {
	f := newTestFixture(t)
	video := f.addVideo(t, "Queued Next")

	rec := doJSON(t, f.handler.StreamSetCurrent, http.MethodPost, "/api/stream/set-current",
		fmt.Sprintf(`{"videoId":%q}`, video.ID))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(f.controller.startCalls) != 0 {
		t.Fatal("offline set-current must not launch the encoder")
	}
	status := f.store.StreamStatus()
	if status.CurrentVideoID == nil || *status.CurrentVideoID != video.ID {
		t.Fatalf("stored current video = %v", status.CurrentVideoID)
	}
}

func TestStreamSetCurrentWhileLiveSwitches(t *testing.T) {
	f := newTestFixture(t)
	video := f.addVideo(t, "Switch Target")
	f.controller.active = true

	rec := doJSON(t, f.handler.StreamSetCurrent, http.MethodPost, "/api/stream/set-current",
		fmt.Sprintf(`{"videoId":%q}`, video.ID))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if len(f.controller.startCalls) != 1 || f.controller.startCalls[0] != video.ID {
		t.Fatalf("start calls = %v", f.controller.startCalls)
	}
}

func TestStreamSetCurrentUnknownVideo(t *testing.T) {
	f := newTestFixture(t)
	rec := doJSON(t, f.handler.StreamSetCurrent, http.MethodPost, "/api/stream/set-current",
		`{"videoId":"missing"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestStreamLoopToggleAndStatus(t *testing.T) {
	f := newTestFixture(t)

	rec := doJSON(t, f.handler.StreamLoop, http.MethodPost, "/api/stream/loop/disable", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("disable: status = %d", rec.Code)
	}
	var body struct {
		LoopPlaylist bool `json:"loopPlaylist"`
	}
	decodeBody(t, rec, &body)
	if body.LoopPlaylist {
		t.Fatal("loop should be disabled")
	}

	rec = doJSON(t, f.handler.StreamLoop, http.MethodPost, "/api/stream/loop/enable", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("enable: status = %d", rec.Code)
	}

	rec = doJSON(t, f.handler.StreamLoop, http.MethodGet, "/api/stream/loop/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: status = %d", rec.Code)
	}
	decodeBody(t, rec, &body)
	if !body.LoopPlaylist {
		t.Fatal("loop should be enabled")
	}

	rec = doJSON(t, f.handler.StreamLoop, http.MethodPost, "/api/stream/loop/bogus", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("bogus action: status = %d, want 404", rec.Code)
	}
}

func TestStreamTestUsesProbe(t *testing.T) {
	f := newTestFixture(t)

	f.handler.EncoderProbe = func(context.Context) error { return nil }
	rec := doJSON(t, f.handler.StreamTest, http.MethodPost, "/api/stream/test", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Success bool `json:"success"`
	}
	decodeBody(t, rec, &body)
	if !body.Success {
		t.Fatal("probe success should be reported")
	}

	f.handler.EncoderProbe = func(context.Context) error { return errors.New("no ffmpeg") }
	rec = doJSON(t, f.handler.StreamTest, http.MethodPost, "/api/stream/test", "")
	decodeBody(t, rec, &body)
	if body.Success {
		t.Fatal("probe failure should be reported")
	}
}

func TestSystemConfigValidation(t *testing.T) {
	f := newTestFixture(t)

	rec := doJSON(t, f.handler.SystemConfigHandler, http.MethodGet, "/api/system-config", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status = %d", rec.Code)
	}
	var config models.SystemConfig
	decodeBody(t, rec, &config)
	if config.RTMPPort == 0 {
		t.Fatal("expected a default RTMP port")
	}

	rec = doJSON(t, f.handler.SystemConfigHandler, http.MethodPost, "/api/system-config",
		`{"rtmpPort":1936,"webPort":8080}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update: status = %d, body %s", rec.Code, rec.Body.String())
	}
	decodeBody(t, rec, &config)
	if config.RTMPPort != 1936 {
		t.Fatalf("rtmp port = %d", config.RTMPPort)
	}

	rec = doJSON(t, f.handler.SystemConfigHandler, http.MethodPost, "/api/system-config",
		`{"rtmpPort":70000}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid port: status = %d, want 400", rec.Code)
	}
}
