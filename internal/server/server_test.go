package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"loopcast/internal/api"
	"loopcast/internal/auth"
	"loopcast/internal/models"
	"loopcast/internal/observability/metrics"
	"loopcast/internal/storage"
)

type stubController struct {
	mu     sync.Mutex
	status models.StreamStatus
	active bool
	starts int
	stops  int
}

func (s *stubController) StartStream(context.Context, string) (models.StreamStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.starts++
	s.active = true
	s.status.Status = models.StreamStateLive
	return s.status, nil
}

func (s *stubController) StopStream(context.Context) (models.StreamStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stops++
	s.active = false
	s.status.Status = models.StreamStateOffline
	return s.status, nil
}

func (s *stubController) RestartStream(context.Context) (models.StreamStatus, error) {
	return s.status, nil
}

func (s *stubController) SetLoopEnabled(enabled bool) (models.StreamStatus, error) {
	s.status.LoopPlaylist = enabled
	return s.status, nil
}

func (s *stubController) Status() models.StreamStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *stubController) IsStreamActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

type serverFixture struct {
	server     *Server
	handler    *api.Handler
	store      storage.Repository
	controller *stubController
}

func newServerFixture(t *testing.T, cfg Config) *serverFixture {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewJSONRepository(filepath.Join(dir, "state.json"))
	if err != nil {
		t.Fatalf("create repository: %v", err)
	}
	t.Cleanup(func() { store.Close(context.Background()) })

	controller := &stubController{
		status: models.StreamStatus{Status: models.StreamStateOffline, LoopPlaylist: true},
	}
	handler := &api.Handler{
		Store:      store,
		Sessions:   auth.NewSessionManager(time.Hour),
		Engine:     controller,
		Metrics:    metrics.New(),
		UploadsDir: filepath.Join(dir, "uploads"),
		BackupsDir: filepath.Join(dir, "backups"),
	}
	if cfg.Metrics == nil {
		cfg.Metrics = handler.Metrics
	}
	srv, err := New(handler, cfg)
	if err != nil {
		t.Fatalf("build server: %v", err)
	}
	return &serverFixture{server: srv, handler: handler, store: store, controller: controller}
}

func (f *serverFixture) request(t *testing.T, method, target, body string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, fn := range mutate {
		fn(req)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestAPIRoutesAreWired(t *testing.T) {
	f := newServerFixture(t, Config{})

	rec := f.request(t, http.MethodGet, "/api/videos", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/videos: status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("content type = %q", ct)
	}

	rec = f.request(t, http.MethodGet, "/api/stream-status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /api/stream-status: status = %d", rec.Code)
	}

	rec = f.request(t, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /healthz: status = %d", rec.Code)
	}

	rec = f.request(t, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /metrics: status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "loopcast_") {
		t.Fatal("metrics output missing loopcast_ series")
	}
}

func TestAuthGateBlocksMutationsWhenEnabled(t *testing.T) {
	f := newServerFixture(t, Config{})

	// Fresh install: mutations are open until an operator is configured.
	rec := f.request(t, http.MethodPost, "/api/stream/stop", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("open install stop: status = %d, body %s", rec.Code, rec.Body.String())
	}

	if _, err := f.store.EnsureOperator("admin", "correct horse"); err != nil {
		t.Fatalf("ensure operator: %v", err)
	}

	rec = f.request(t, http.MethodPost, "/api/stream/stop", "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated stop: status = %d, want 401", rec.Code)
	}
	var errBody struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &errBody); err != nil {
		t.Fatalf("middleware error is not JSON: %v", err)
	}

	// Reads stay open for status dashboards.
	rec = f.request(t, http.MethodGet, "/api/stream-status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("read with auth enabled: status = %d", rec.Code)
	}

	token, _, err := f.handler.Sessions.Create("admin")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	rec = f.request(t, http.MethodPost, "/api/stream/stop", "", func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated stop: status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestLoginRateLimit(t *testing.T) {
	f := newServerFixture(t, Config{
		RateLimit: RateLimitConfig{LoginLimit: 2, LoginWindow: time.Minute},
	})

	for i := 0; i < 2; i++ {
		rec := f.request(t, http.MethodPost, "/api/auth/login", `{"username":"admin","password":"x"}`)
		if rec.Code == http.StatusTooManyRequests {
			t.Fatalf("attempt %d should not be limited", i+1)
		}
	}
	rec := f.request(t, http.MethodPost, "/api/auth/login", `{"username":"admin","password":"x"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third attempt: status = %d, want 429", rec.Code)
	}
}

func TestGlobalRateLimit(t *testing.T) {
	f := newServerFixture(t, Config{
		RateLimit: RateLimitConfig{GlobalRPS: 0.001, GlobalBurst: 1},
	})

	rec := f.request(t, http.MethodGet, "/api/videos", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: status = %d", rec.Code)
	}
	rec = f.request(t, http.MethodGet, "/api/videos", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: status = %d, want 429", rec.Code)
	}
}

func TestUploadsServedWithoutListing(t *testing.T) {
	f := newServerFixture(t, Config{})
	if err := os.MkdirAll(f.handler.UploadsDir, 0o755); err != nil {
		t.Fatalf("mkdir uploads: %v", err)
	}
	path := filepath.Join(f.handler.UploadsDir, "clip.mp4")
	if err := os.WriteFile(path, []byte("fake video"), 0o644); err != nil {
		t.Fatalf("write upload: %v", err)
	}

	rec := f.request(t, http.MethodGet, "/uploads/clip.mp4", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET upload: status = %d", rec.Code)
	}
	if rec.Body.String() != "fake video" {
		t.Fatalf("body = %q", rec.Body.String())
	}

	rec = f.request(t, http.MethodGet, "/uploads/", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("directory listing: status = %d, want 404", rec.Code)
	}

	rec = f.request(t, http.MethodGet, "/uploads/missing.mp4", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing file: status = %d, want 404", rec.Code)
	}
}

func TestSPAFallbackServesIndex(t *testing.T) {
	f := newServerFixture(t, Config{})

	rec := f.request(t, http.MethodGet, "/some/dashboard/route", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("content type = %q", ct)
	}

	rec = f.request(t, http.MethodDelete, "/some/dashboard/route", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("DELETE on SPA route: status = %d, want 405", rec.Code)
	}
}

func TestStreamLoopRoute(t *testing.T) {
	f := newServerFixture(t, Config{})

	rec := f.request(t, http.MethodPost, "/api/stream/loop/disable", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("disable loop: status = %d", rec.Code)
	}
	rec = f.request(t, http.MethodGet, "/api/stream/loop/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("loop status: status = %d", rec.Code)
	}
	var body struct {
		LoopPlaylist bool `json:"loopPlaylist"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.LoopPlaylist {
		t.Fatal("loop should be disabled through the routed handler")
	}
}

func TestExtractClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:4444"
	if got := extractClientIP(req); got != "10.1.2.3" {
		t.Fatalf("remote addr ip = %q", got)
	}

	req.Header.Set("X-Real-IP", "203.0.113.9")
	if got := extractClientIP(req); got != "203.0.113.9" {
		t.Fatalf("x-real-ip = %q", got)
	}

	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	if got := extractClientIP(req); got != "198.51.100.7" {
		t.Fatalf("x-forwarded-for = %q", got)
	}
}
