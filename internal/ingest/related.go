package ingest

import (
	"context"

	"go.uber.org/zap"
)

// ingestRelated starts background ingestions for similar titles that are not
// yet catalogued. Only RelatedConcurrency run at once; titles that find the
// semaphore saturated are skipped. Related ingestions do not fan out further.
func (o *Orchestrator) ingestRelated(ctx context.Context, similar []int64) {
	if o.opts.RelatedLimit <= 0 {
		return
	}
	ids := similar
	if len(ids) > o.opts.RelatedLimit {
		ids = ids[:o.opts.RelatedLimit]
	}

	existing, err := o.store.ExistingExternalIDs(ctx, ids)
	if err != nil {
		o.log.Warn("related lookup failed", zap.Error(err))
		return
	}

	detached := context.WithoutCancel(ctx)
	for _, id := range ids {
		if existing[id] {
			continue
		}
		if !o.related.TryAcquire(1) {
			o.log.Debug("related ingestion skipped, fan-out saturated", zap.Int64("external_id", id))
			continue
		}
		o.wg.Add(1)
		go func(id int64) {
			defer o.wg.Done()
			defer o.related.Release(1)

			rctx, cancel := context.WithTimeout(detached, o.opts.RelatedTimeout)
			defer cancel()
			if _, _, err := o.ingest(rctx, id, false); err != nil {
				o.log.Info("related ingestion failed", zap.Int64("external_id", id), zap.Error(err))
			}
		}(id)
	}
}

// Drain waits for background related ingestions to finish or ctx to end.
func (o *Orchestrator) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
