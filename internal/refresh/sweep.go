package refresh

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cinecard/cinecard/internal/store"
)

// SweepResult summarizes one staleness sweep.
type SweepResult struct {
	Stale    int `json:"stale"`
	Enqueued int `json:"enqueued"`
}

// Sweeper enqueues complete works whose cards have gone stale.
type Sweeper struct {
	store      store.Store
	queue      *Queue
	staleAfter time.Duration
	limit      int
	log        *zap.Logger
}

// NewSweeper creates a Sweeper that looks at up to limit works per sweep.
func NewSweeper(st store.Store, q *Queue, staleAfter time.Duration, limit int) *Sweeper {
	if limit <= 0 {
		limit = 200
	}
	return &Sweeper{
		store:      st,
		queue:      q,
		staleAfter: staleAfter,
		limit:      limit,
		log:        zap.L().With(zap.String("component", "refresh.sweep")),
	}
}

// Sweep lists stale works, oldest first, and enqueues each with a priority
// derived from its popularity.
func (s *Sweeper) Sweep(ctx context.Context) (*SweepResult, error) {
	works, err := s.store.ListStaleWorks(ctx, s.staleAfter, s.limit)
	if err != nil {
		return nil, eris.Wrap(err, "refresh: list stale works")
	}

	res := &SweepResult{Stale: len(works)}
	for _, w := range works {
		ok, err := s.queue.Enqueue(ctx, w.ID, PriorityFromPopularity(w.Popularity))
		if err != nil {
			return res, err
		}
		if ok {
			res.Enqueued++
		}
	}

	s.log.Info("staleness sweep done", zap.Int("stale", res.Stale), zap.Int("enqueued", res.Enqueued))
	return res, nil
}
