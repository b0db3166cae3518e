package server

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

type Reloader interface {
	Reload(ctx context.Context) error
}

type ReloaderFunc func(ctx context.Context) error

func (f ReloaderFunc) Reload(ctx context.Context) error {
	return f(ctx)
}

// reloadLoop calls Reload every interval until stopped. A failed reload
// is logged and the loop carries on; a panic ends the loop and is
// reported by stop.
type reloadLoop struct {
	stop chan struct{}
	done chan struct{}
	err  error
}

func startReloadLoop(
	ctx context.Context,
	r Reloader,
	interval time.Duration,
	logger *slog.Logger,
) *reloadLoop {
	l := &reloadLoop{
		stop: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
	go l.run(context.WithoutCancel(ctx), r, interval, logger)
	return l
}

func (l *reloadLoop) run(
	ctx context.Context,
	r Reloader,
	interval time.Duration,
	logger *slog.Logger,
) {
	defer close(l.done)
	defer func() {
		if p := recover(); p != nil {
			l.err = fmt.Errorf("reload loop panic: %v", p)
		}
	}()

	timer := time.NewTimer(interval)
	defer timer.Stop()
	for {
		select {
		case <-l.stop:
			logger.Debug("reload loop stopped")
			return
		case <-timer.C:
		}

		start := time.Now()
		if err := r.Reload(ctx); err != nil {
			logger.Error("reload failed", "err", err)
		} else {
			logger.Debug("reload done",
				"elapsed", time.Since(start).Round(time.Millisecond),
			)
		}
		timer.Reset(interval)
	}
}

// Stop delivers the stop signal and waits for the loop to exit. A stop
// that arrives mid-reload takes effect once that reload returns.
func (l *reloadLoop) Stop() error {
	select {
	case l.stop <- struct{}{}:
	default:
	}
	<-l.done
	return l.err
}

// Done is closed once the loop has exited.
func (l *reloadLoop) Done() <-chan struct{} {
	return l.done
}
