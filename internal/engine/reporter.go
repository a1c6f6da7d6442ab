package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"loopcast/internal/models"
	"loopcast/internal/storage"
)

// DefaultUptimeInterval is how often the live uptime string is refreshed.
const DefaultUptimeInterval = 5 * time.Second

type uptimeTicker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

type tickerFactory func(time.Duration) uptimeTicker

// StartUptimeReporter refreshes the status row's uptime string while the
// stream is live. The returned stop function blocks until the worker exits
// and is safe to call more than once.
func StartUptimeReporter(ctx context.Context, logger *slog.Logger, repo storage.Repository, interval time.Duration) func() {
	return startUptimeReporterWithTicker(ctx, logger, repo, interval, time.Now, func(d time.Duration) uptimeTicker {
		return timeTicker{ticker: time.NewTicker(d)}
	})
}

func startUptimeReporterWithTicker(
	ctx context.Context,
	logger *slog.Logger,
	repo storage.Repository,
	interval time.Duration,
	now func() time.Time,
	newTicker tickerFactory,
) func() {
	if repo == nil || interval <= 0 {
		return func() {}
	}
	workerCtx, cancel := context.WithCancel(ctx)
	ticker := newTicker(interval)
	done := make(chan struct{})
	go func() {
		defer func() {
			ticker.Stop()
			close(done)
		}()
		for {
			select {
			case <-workerCtx.Done():
				return
			case <-ticker.C():
				if err := reportUptime(repo, now()); err != nil && logger != nil {
					logger.Error("failed to refresh stream uptime", "error", err)
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

func reportUptime(repo storage.Repository, now time.Time) error {
	status := repo.StreamStatus()
	if status.Status != models.StreamStateLive || status.StartedAt == nil {
		return nil
	}
	uptime := FormatUptime(now.Sub(*status.StartedAt))
	zero := 0
	if uptime == status.Uptime && status.ViewerCount == 0 {
		return nil
	}
	// The viewer figure is re-zeroed on every tick; only a restart seeds a
	// synthetic one and it does not survive the next refresh.
	_, err := repo.UpdateStreamStatus(storage.StreamStatusUpdate{Uptime: &uptime, ViewerCount: &zero})
	return err
}
