package api

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"loopcast/internal/observability/metrics"
	"loopcast/internal/storage"
)

const (
	defaultProbeWorkers   = 2
	defaultProbeQueueSize = 64
	probeJobKind          = "probe"
	unknownDuration       = "00:00"
)

// MediaProber extracts playback metadata from an uploaded file.
type MediaProber interface {
	ProbeDuration(ctx context.Context, path string) (time.Duration, error)
}

// FFProbe shells out to ffprobe for container metadata.
type FFProbe struct {
	// Binary overrides the ffprobe executable name.
	Binary string
	// Timeout bounds a single probe invocation.
	Timeout time.Duration
}

func (p *FFProbe) binary() string {
	if p.Binary != "" {
		return p.Binary
	}
	return "ffprobe"
}

func (p *FFProbe) timeout() time.Duration {
	if p.Timeout > 0 {
		return p.Timeout
	}
	return 30 * time.Second
}

// ProbeDuration reads the container duration from the file metadata.
func (p *FFProbe) ProbeDuration(ctx context.Context, path string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout())
	defer cancel()

	cmd := exec.CommandContext(ctx, p.binary(),
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return 0, fmt.Errorf("ffprobe: %s: %w", detail, err)
		}
		return 0, fmt.Errorf("ffprobe: %w", err)
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(stdout.String()), 64)
	if err != nil {
		return 0, fmt.Errorf("ffprobe returned unparseable duration %q", strings.TrimSpace(stdout.String()))
	}
	if seconds < 0 {
		return 0, fmt.Errorf("ffprobe returned negative duration %f", seconds)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// MediaProcessorConfig configures the background duration probe workers.
type MediaProcessorConfig struct {
	Store      storage.Repository
	Prober     MediaProber
	Metrics    *metrics.Recorder
	Logger     *slog.Logger
	UploadsDir string
	Workers    int
	QueueSize  int
}

// MediaProcessor probes uploaded videos for their duration in the
// background so uploads return immediately. Jobs are deduplicated per video
// and pending videos are re-enqueued on startup.
type MediaProcessor struct {
	store      storage.Repository
	prober     MediaProber
	metrics    *metrics.Recorder
	logger     *slog.Logger
	uploadsDir string
	workers    int

	queue chan string

	mu       sync.Mutex
	inflight map[string]struct{}

	wg        sync.WaitGroup
	cancel    context.CancelFunc
	startOnce sync.Once
	stopOnce  sync.Once
}

func NewMediaProcessor(cfg MediaProcessorConfig) *MediaProcessor {
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultProbeWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultProbeQueueSize
	}
	prober := cfg.Prober
	if prober == nil {
		prober = &FFProbe{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rec := cfg.Metrics
	if rec == nil {
		rec = metrics.Default()
	}
	return &MediaProcessor{
		store:      cfg.Store,
		prober:     prober,
		metrics:    rec,
		logger:     logger,
		uploadsDir: cfg.UploadsDir,
		workers:    workers,
		queue:      make(chan string, queueSize),
		inflight:   make(map[string]struct{}, queueSize),
	}
}

// Start launches the worker pool and re-enqueues videos whose duration was
// never probed, for example after a crash mid-upload.
func (p *MediaProcessor) Start() {
	p.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		p.cancel = cancel
		for i := 0; i < p.workers; i++ {
			p.wg.Add(1)
			go p.worker(ctx)
		}
		p.recoverPending()
	})
}

// Stop cancels in-progress probes and waits for the workers to drain.
func (p *MediaProcessor) Stop() {
	p.stopOnce.Do(func() {
		if p.cancel != nil {
			p.cancel()
		}
		close(p.queue)
		p.wg.Wait()
	})
}

// Enqueue schedules a duration probe for the video. Duplicate and overflow
// submissions are dropped; recovery at the next start picks them up.
func (p *MediaProcessor) Enqueue(videoID string) {
	if videoID == "" {
		return
	}
	p.mu.Lock()
	if _, busy := p.inflight[videoID]; busy {
		p.mu.Unlock()
		return
	}
	p.inflight[videoID] = struct{}{}
	p.mu.Unlock()

	select {
	case p.queue <- videoID:
	default:
		p.release(videoID)
		p.logger.Warn("probe queue full, dropping job", "video_id", videoID)
	}
}

func (p *MediaProcessor) release(videoID string) {
	p.mu.Lock()
	delete(p.inflight, videoID)
	p.mu.Unlock()
}

func (p *MediaProcessor) recoverPending() {
	for _, video := range p.store.ListVideos() {
		if video.Duration == "" || video.Duration == unknownDuration {
			p.Enqueue(video.ID)
		}
	}
}

func (p *MediaProcessor) worker(ctx context.Context) {
	defer p.wg.Done()
	for videoID := range p.queue {
		p.process(ctx, videoID)
		p.release(videoID)
	}
}

func (p *MediaProcessor) process(ctx context.Context, videoID string) {
	if ctx.Err() != nil {
		return
	}
	video, ok := p.store.GetVideo(videoID)
	if !ok {
		return
	}

	p.metrics.EncoderJobStarted(probeJobKind)
	duration, err := p.prober.ProbeDuration(ctx, filepath.Join(p.uploadsDir, video.Filename))
	if err != nil {
		p.metrics.EncoderJobFailed(probeJobKind)
		p.metrics.ObserveUpload("probe_failed")
		p.logger.Warn("duration probe failed",
			"video_id", videoID,
			"filename", video.Filename,
			"error", err)
		return
	}

	formatted := formatMediaDuration(duration)
	if _, err := p.store.UpdateVideo(videoID, storage.VideoUpdate{Duration: &formatted}); err != nil {
		p.metrics.EncoderJobFailed(probeJobKind)
		p.logger.Warn("duration update failed", "video_id", videoID, "error", err)
		return
	}
	p.metrics.EncoderJobCompleted(probeJobKind)
	p.metrics.ObserveUpload("probed")
	p.logger.Info("duration probed",
		"video_id", videoID,
		"duration", formatted)
}

// formatMediaDuration renders a duration as MM:SS with minutes growing
// unbounded past the hour.
func formatMediaDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
