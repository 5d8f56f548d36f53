package refresh

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cinecard/cinecard/internal/ingest"
	"github.com/cinecard/cinecard/internal/model"
	"github.com/cinecard/cinecard/internal/store"
)

// Ingester re-ingests a work by its provider id.
type Ingester interface {
	Ingest(ctx context.Context, externalID int64, force bool) (*ingest.Result, error)
}

// WorkerOptions tunes a Worker.
type WorkerOptions struct {
	BatchSize  int
	MaxRetries int
	ItemDelay  time.Duration
}

// BatchResult summarizes one worker invocation.
type BatchResult struct {
	Processed    int `json:"processed"`
	Succeeded    int `json:"succeeded"`
	Failed       int `json:"failed"`
	DeadLettered int `json:"dead_lettered"`
}

// Worker drains the refresh queue in batches.
type Worker struct {
	store    store.Store
	ingester Ingester
	opts     WorkerOptions
	log      *zap.Logger
}

// NewWorker creates a Worker.
func NewWorker(st store.Store, ing Ingester, opts WorkerOptions) *Worker {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	return &Worker{
		store:    st,
		ingester: ing,
		opts:     opts,
		log:      zap.L().With(zap.String("component", "refresh.worker")),
	}
}

// RunBatch claims up to BatchSize queued items, highest priority first, and
// force re-ingests them one at a time. Failed items go back to the queue
// until they exhaust MaxRetries, then stay failed.
func (w *Worker) RunBatch(ctx context.Context) (*BatchResult, error) {
	items, err := w.store.ClaimQueueItems(ctx, w.opts.BatchSize)
	if err != nil {
		return nil, eris.Wrap(err, "refresh: claim batch")
	}
	res := &BatchResult{}
	if len(items) == 0 {
		return res, nil
	}
	w.log.Info("refresh batch claimed", zap.Int("items", len(items)))

	for i, item := range items {
		if i > 0 {
			if err := sleepCtx(ctx, w.opts.ItemDelay); err != nil {
				w.release(ctx, items[i:])
				return res, eris.Wrap(err, "refresh: batch interrupted")
			}
		}

		res.Processed++
		if err := w.process(ctx, item); err != nil {
			res.Failed++
			status := w.fail(ctx, item, err)
			if status == model.QueueFailed {
				res.DeadLettered++
			}
			continue
		}
		res.Succeeded++
		w.complete(ctx, item)
	}

	w.log.Info("refresh batch done",
		zap.Int("processed", res.Processed),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
		zap.Int("dead_lettered", res.DeadLettered),
	)
	return res, nil
}

func (w *Worker) process(ctx context.Context, item model.QueueItem) error {
	work, err := w.store.GetWork(ctx, item.WorkID)
	if err != nil {
		return eris.Wrap(err, "refresh: load work")
	}
	if work == nil {
		return eris.Errorf("refresh: work not found: %s", item.WorkID)
	}
	if _, err := w.ingester.Ingest(ctx, work.ExternalID, true); err != nil {
		return err
	}
	return nil
}

func (w *Worker) complete(ctx context.Context, item model.QueueItem) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := w.store.CompleteQueueItem(ctx, item.ID); err != nil {
		w.log.Error("complete queue item", zap.String("item_id", item.ID), zap.Error(err))
	}
}

// fail records a failed attempt and returns the item's new status.
func (w *Worker) fail(ctx context.Context, item model.QueueItem, cause error) model.QueueStatus {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	status, retries, err := w.store.FailQueueItem(ctx, item.ID, cause.Error(), w.opts.MaxRetries)
	if err != nil {
		w.log.Error("fail queue item", zap.String("item_id", item.ID), zap.Error(err))
		return model.QueueProcessing
	}
	log := w.log.With(
		zap.String("work_id", item.WorkID),
		zap.Int("retry_count", retries),
		zap.Error(cause),
	)
	if status == model.QueueFailed {
		log.Error("refresh dead-lettered")
	} else {
		log.Warn("refresh failed, will retry")
	}
	return status
}

// release returns claimed but unprocessed items to the queue as failed
// attempts so they are not stranded in processing.
func (w *Worker) release(ctx context.Context, items []model.QueueItem) {
	for _, item := range items {
		w.fail(ctx, item, eris.New("refresh: worker stopped before processing"))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
