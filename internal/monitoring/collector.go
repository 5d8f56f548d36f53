// Package monitoring reports catalog health and raises alerts when
// ingestion degrades.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/cinecard/cinecard/internal/model"
)

// Snapshot holds a point-in-time view of catalog health.
type Snapshot struct {
	Works       model.WorkCounts  `json:"works"`
	Queue       model.QueueCounts `json:"queue"`
	QueueDepth  int               `json:"queue_depth"`
	DeadLetters int               `json:"dead_letters"`

	// Discovery runs within the lookback window.
	RunsTotal      int     `json:"runs_total"`
	RunsWithErrors int     `json:"runs_with_errors"`
	TitlesIngested int     `json:"titles_ingested"`
	TitlesFailed   int     `json:"titles_failed"`
	IngestFailRate float64 `json:"ingest_fail_rate"`

	LastRun *model.IngestionRunLog `json:"last_run,omitempty"`

	// Estimated logline spend of this process.
	LoglineSpendUSD float64 `json:"logline_spend_usd"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Source is the read side of the store the collector needs.
type Source interface {
	CountWorks(ctx context.Context) (model.WorkCounts, error)
	CountQueue(ctx context.Context) (model.QueueCounts, error)
	ListRunLogs(ctx context.Context, limit int) ([]model.IngestionRunLog, error)
}

// maxRunsScanned bounds how many run logs one snapshot reads.
const maxRunsScanned = 1000

// Collector gathers snapshots from the store.
type Collector struct {
	src   Source
	spend func() float64
}

// NewCollector creates a new metrics collector.
func NewCollector(src Source) *Collector {
	return &Collector{src: src}
}

// WithSpend reports the running total of spend in each snapshot.
func (c *Collector) WithSpend(spend func() float64) *Collector {
	c.spend = spend
	return c
}

// Collect gathers a snapshot with run statistics over the lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := time.Now().UTC()
	snap := &Snapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	works, err := c.src.CountWorks(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count works")
	}
	snap.Works = works

	queue, err := c.src.CountQueue(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count queue")
	}
	snap.Queue = queue
	snap.QueueDepth = queue[model.QueueQueued]
	snap.DeadLetters = queue[model.QueueFailed]

	runs, err := c.src.ListRunLogs(ctx, maxRunsScanned)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}
	if len(runs) > 0 {
		last := runs[0]
		snap.LastRun = &last
	}

	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
	for _, r := range runs {
		if r.StartedAt.Before(cutoff) {
			continue
		}
		snap.RunsTotal++
		snap.TitlesIngested += r.Ingested
		snap.TitlesFailed += r.Failed
		if len(r.Errors) > 0 {
			snap.RunsWithErrors++
		}
	}
	if finished := snap.TitlesIngested + snap.TitlesFailed; finished > 0 {
		snap.IngestFailRate = float64(snap.TitlesFailed) / float64(finished)
	}

	if c.spend != nil {
		snap.LoglineSpendUSD = c.spend()
	}

	return snap, nil
}
