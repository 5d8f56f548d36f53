package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cinecard/cinecard/internal/config"
	"github.com/cinecard/cinecard/internal/scheduler"
)

const defaultCheckInterval = 5 * time.Minute

// Checker collects a snapshot on an interval and forwards the alerts it
// triggers to the alerter.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	lookback  int
	interval  time.Duration
	log       *zap.Logger
}

// NewChecker creates a health checker. A non-positive check interval falls
// back to five minutes.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitorConfig) *Checker {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = defaultCheckInterval
	}
	return &Checker{
		collector: collector,
		alerter:   alerter,
		lookback:  cfg.LookbackWindowHours,
		interval:  interval,
		log:       zap.L().With(zap.String("component", "monitoring")),
	}
}

// Loop returns the checker as a scheduler loop.
func (c *Checker) Loop() *scheduler.Loop {
	return scheduler.NewLoop("health-check", c.interval, c.interval, func(ctx context.Context) error {
		_, err := c.Check(ctx)
		return err
	})
}

// Run blocks, checking on every tick, until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	c.Loop().Start(ctx) //nolint:errcheck
}

// Check takes one snapshot and delivers its alerts. It returns how many
// alerts fired.
func (c *Checker) Check(ctx context.Context) (int, error) {
	snap, err := c.collector.Collect(ctx, c.lookback)
	if err != nil {
		return 0, eris.Wrap(err, "monitoring: health check")
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		c.log.Debug("catalog healthy",
			zap.Int("queue_depth", snap.QueueDepth),
			zap.Int("runs_total", snap.RunsTotal),
		)
		return 0, nil
	}

	delivered := c.alerter.SendAlerts(ctx, alerts)
	c.log.Warn("health check raised alerts",
		zap.Int("alerts", len(alerts)),
		zap.Int("delivered", delivered),
	)
	return len(alerts), nil
}
