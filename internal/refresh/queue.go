// Package refresh keeps catalog cards fresh: a priority queue of works to
// re-ingest, a batch worker that drains it, and a sweep that feeds it stale
// works.
package refresh

import (
	"context"
	"math"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cinecard/cinecard/internal/model"
	"github.com/cinecard/cinecard/internal/store"
)

// Queue is the refresh queue. There is at most one row per work; a row that
// is queued or processing absorbs further enqueues.
type Queue struct {
	store store.Store
	log   *zap.Logger
}

// NewQueue creates a Queue backed by st.
func NewQueue(st store.Store) *Queue {
	return &Queue{
		store: st,
		log:   zap.L().With(zap.String("component", "refresh.queue")),
	}
}

// Enqueue schedules a refresh of workID. It reports false when the work is
// already pending or has been dead-lettered.
func (q *Queue) Enqueue(ctx context.Context, workID string, priority int) (bool, error) {
	if workID == "" {
		return false, eris.New("refresh: empty work id")
	}
	ok, err := q.store.Enqueue(ctx, workID, priority)
	if err != nil {
		return false, eris.Wrapf(err, "refresh: enqueue %s", workID)
	}
	if ok {
		q.log.Debug("work queued for refresh", zap.String("work_id", workID), zap.Int("priority", priority))
	}
	return ok, nil
}

// Requeue resets a dead-lettered or completed item to queued with a fresh
// retry budget.
func (q *Queue) Requeue(ctx context.Context, workID string) (bool, error) {
	ok, err := q.store.Requeue(ctx, workID)
	if err != nil {
		return false, eris.Wrapf(err, "refresh: requeue %s", workID)
	}
	if ok {
		q.log.Info("work requeued", zap.String("work_id", workID))
	}
	return ok, nil
}

// List returns queue items matching filter.
func (q *Queue) List(ctx context.Context, filter store.QueueFilter) ([]model.QueueItem, error) {
	items, err := q.store.ListQueueItems(ctx, filter)
	return items, eris.Wrap(err, "refresh: list queue")
}

// Stats counts queue items per status.
func (q *Queue) Stats(ctx context.Context) (model.QueueCounts, error) {
	counts, err := q.store.CountQueue(ctx)
	return counts, eris.Wrap(err, "refresh: count queue")
}

// PriorityFromPopularity maps a provider popularity score to a sweep
// priority. Sweep priorities stay below on-demand refreshes (100).
func PriorityFromPopularity(popularity float64) int {
	if popularity <= 0 || math.IsNaN(popularity) {
		return 0
	}
	// Popularity is long-tailed; compress it so blockbusters do not all tie.
	p := int(math.Round(20 * math.Log10(1+popularity)))
	return min(p, 99)
}
