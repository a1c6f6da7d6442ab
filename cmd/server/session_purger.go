package main

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// sessionPurger is the slice of auth.SessionManager the sweep worker needs.
type sessionPurger interface {
	PurgeExpired() error
}

type sweepTicker interface {
	C() <-chan time.Time
	Stop()
}

type wallClockTicker struct {
	ticker *time.Ticker
}

func (t wallClockTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t wallClockTicker) Stop() {
	t.ticker.Stop()
}

type sweepTickerFactory func(time.Duration) sweepTicker

// startSessionPurgeWorker periodically drops expired operator sessions so the
// store does not accumulate dead tokens between restarts. The returned func
// stops the worker and blocks until it has exited.
func startSessionPurgeWorker(ctx context.Context, logger *slog.Logger, sessions sessionPurger, interval time.Duration) func() {
	return startSessionPurgeWorkerWithTicker(ctx, logger, sessions, interval, func(d time.Duration) sweepTicker {
		return wallClockTicker{ticker: time.NewTicker(d)}
	})
}

func startSessionPurgeWorkerWithTicker(
	ctx context.Context,
	logger *slog.Logger,
	sessions sessionPurger,
	interval time.Duration,
	newTicker sweepTickerFactory,
) func() {
	if sessions == nil || interval <= 0 {
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
				if err := sessions.PurgeExpired(); err != nil {
					if logger != nil {
						logger.Error("failed to purge expired operator sessions", "error", err)
					}
					continue
				}
				if logger != nil {
					logger.Debug("expired operator sessions purged")
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
