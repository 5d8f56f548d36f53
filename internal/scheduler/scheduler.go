// Package scheduler runs periodic background tasks for the serve command.
package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Task is one unit of periodic work.
type Task func(ctx context.Context) error

// Loop runs a Task on a fixed interval. Each run gets its own timeout.
type Loop struct {
	name     string
	task     Task
	interval time.Duration
	timeout  time.Duration
	log      *zap.Logger
}

// NewLoop creates a loop. A non-positive interval disables it; a
// non-positive timeout defaults to the interval.
func NewLoop(name string, interval, timeout time.Duration, task Task) *Loop {
	if timeout <= 0 {
		timeout = interval
	}
	return &Loop{
		name:     name,
		task:     task,
		interval: interval,
		timeout:  timeout,
		log:      zap.L().With(zap.String("component", "scheduler"), zap.String("loop", name)),
	}
}

// Name returns the loop name.
func (l *Loop) Name() string { return l.name }

// Enabled reports whether the loop has a positive interval.
func (l *Loop) Enabled() bool { return l.interval > 0 }

// Start runs the task immediately and then on every tick until ctx is
// cancelled. Task errors are logged and do not stop the loop.
func (l *Loop) Start(ctx context.Context) error {
	if !l.Enabled() {
		l.log.Info("loop disabled")
		return nil
	}
	l.log.Info("loop started", zap.Duration("interval", l.interval), zap.Duration("timeout", l.timeout))

	l.RunOnce(ctx)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.log.Info("loop stopped")
			return ctx.Err()
		case <-ticker.C:
			l.RunOnce(ctx)
		}
	}
}

// RunOnce runs the task once under the loop timeout.
func (l *Loop) RunOnce(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	start := time.Now()
	if err := l.task(runCtx); err != nil {
		if ctx.Err() != nil {
			return
		}
		l.log.Error("loop run failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return
	}
	l.log.Debug("loop run complete", zap.Duration("elapsed", time.Since(start)))
}

// Run starts every loop and blocks until ctx is cancelled. It returns nil on
// a clean shutdown.
func Run(ctx context.Context, loops ...*Loop) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, l := range loops {
		g.Go(func() error {
			return l.Start(gctx)
		})
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
