package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"loopcast/internal/auth"
	"loopcast/internal/models"
	"loopcast/internal/observability/metrics"
	"loopcast/internal/storage"
)

type fakeController struct {
	mu       sync.Mutex
	status   models.StreamStatus
	active   bool
	startErr error
	stopErr  error

	startCalls   []string
	stopCalls    int
	restartCalls int
	loopCalls    []bool
}

func (f *fakeController) StartStream(_ context.Context, videoID string) (models.StreamStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls = append(f.startCalls, videoID)
	if f.startErr != nil {
		return models.StreamStatus{}, f.startErr
	}
	f.status.Status = models.StreamStateLive
	f.active = true
	return f.status, nil
}

func (f *fakeController) StopStream(context.Context) (models.StreamStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	if f.stopErr != nil {
		return models.StreamStatus{}, f.stopErr
	}
	f.status.Status = models.StreamStateOffline
	f.active = false
	return f.status, nil
}

func (f *fakeController) RestartStream(context.Context) (models.StreamStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.restartCalls++
	if f.startErr != nil {
		return models.StreamStatus{}, f.startErr
	}
	return f.status, nil
}

func (f *fakeController) SetLoopEnabled(enabled bool) (models.StreamStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loopCalls = append(f.loopCalls, enabled)
	f.status.LoopPlaylist = enabled
	return f.status, nil
}

func (f *fakeController) Status() models.StreamStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeController) IsStreamActive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

type testFixture struct {
	handler    *Handler
	store      storage.Repository
	controller *fakeController
}

func newTestFixture(t *testing.T) *testFixture {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewJSONRepository(filepath.Join(dir, "state.json"))
	if err != nil {
		t.Fatalf("create repository: %v", err)
	}
	t.Cleanup(func() { store.Close(context.Background()) })

	controller := &fakeController{
		status: models.StreamStatus{Status: models.StreamStateOffline, LoopPlaylist: true},
	}
	handler := &Handler{
		Store:      store,
		Sessions:   auth.NewSessionManager(time.Hour),
		Engine:     controller,
		Metrics:    metrics.New(),
		UploadsDir: filepath.Join(dir, "uploads"),
		BackupsDir: filepath.Join(dir, "backups"),
	}
	return &testFixture{handler: handler, store: store, controller: controller}
}

func (f *testFixture) addVideo(t *testing.T, title string) models.Video {
	t.Helper()
	video, err := f.store.CreateVideo(storage.CreateVideoParams{
		Title:    title,
		Filename: strings.ToLower(strings.ReplaceAll(title, " ", "_")) + ".mp4",
		FileSize: 1024,
	})
	if err != nil {
		t.Fatalf("create video: %v", err)
	}
	return video
}

func doJSON(t *testing.T, handler http.HandlerFunc, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestExtractTokenPrefersBearerHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/stream-status", nil)
	req.Header.Set("Authorization", "Bearer header-token")
	req.AddCookie(&http.Cookie{Name: "loopcast_session", Value: "cookie-token"})
	if got := ExtractToken(req); got != "header-token" {
		t.Fatalf("token = %q, want header token", got)
	}
}

func TestExtractTokenFallsBackToCookie(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/stream-status", nil)
	req.AddCookie(&http.Cookie{Name: "loopcast_session", Value: "cookie-token"})
	if got := ExtractToken(req); got != "cookie-token" {
		t.Fatalf("token = %q, want cookie token", got)
	}
	if got := ExtractToken(httptest.NewRequest(http.MethodGet, "/", nil)); got != "" {
		t.Fatalf("token = %q, want empty", got)
	}
}

func TestHealthReportsComponents(t *testing.T) {
	f := newTestFixture(t)
	rec := doJSON(t, f.handler.Health, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}
	decodeBody(t, rec, &body)
	if body.Status != "ok" {
		t.Fatalf("status = %q, want ok", body.Status)
	}
	if body.Components["datastore"] != "ok" || body.Components["sessions"] != "ok" {
		t.Fatalf("components = %v", body.Components)
	}
}
