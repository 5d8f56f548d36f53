// Package discovery finds titles the catalog does not have yet by paging the
// provider's popular, now-playing and trending lists, and ingests them.
package discovery

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cinecard/cinecard/internal/ingest"
	"github.com/cinecard/cinecard/internal/model"
	"github.com/cinecard/cinecard/internal/store"
	"github.com/cinecard/cinecard/pkg/tmdb"
)

// Source names a discovery list, or all of them.
type Source string

const (
	SourcePopular    Source = "popular"
	SourceNowPlaying Source = "now_playing"
	SourceTrending   Source = "trending"
	SourceAll        Source = "all"
)

// ParseSource validates a source name.
func ParseSource(s string) (Source, error) {
	switch src := Source(strings.ToLower(strings.TrimSpace(s))); src {
	case SourcePopular, SourceNowPlaying, SourceTrending, SourceAll:
		return src, nil
	}
	return "", eris.Errorf("discovery: unknown source %q", s)
}

// lists returns the provider lists a source covers, in merge order.
func (s Source) lists() []tmdb.ListKind {
	switch s {
	case SourcePopular:
		return []tmdb.ListKind{tmdb.ListPopular}
	case SourceNowPlaying:
		return []tmdb.ListKind{tmdb.ListNowPlaying}
	case SourceTrending:
		return []tmdb.ListKind{tmdb.ListTrending}
	default:
		return []tmdb.ListKind{tmdb.ListPopular, tmdb.ListNowPlaying, tmdb.ListTrending}
	}
}

// Ingester ingests a title by its provider id.
type Ingester interface {
	Ingest(ctx context.Context, externalID int64, force bool) (*ingest.Result, error)
}

// Options tunes a Scheduler.
type Options struct {
	PageSize          int
	MaxPagesPerSource int
	ItemDelay         time.Duration
	DefaultMaxNew     int
}

// Scheduler runs discovery passes and records a run log for each.
type Scheduler struct {
	store    store.Store
	provider tmdb.Client
	ingester Ingester
	opts     Options
	log      *zap.Logger
}

// NewScheduler creates a Scheduler.
func NewScheduler(st store.Store, provider tmdb.Client, ing Ingester, opts Options) *Scheduler {
	if opts.PageSize <= 0 {
		opts.PageSize = 20
	}
	if opts.MaxPagesPerSource <= 0 {
		opts.MaxPagesPerSource = 5
	}
	if opts.DefaultMaxNew <= 0 {
		opts.DefaultMaxNew = 20
	}
	return &Scheduler{
		store:    st,
		provider: provider,
		ingester: ing,
		opts:     opts,
		log:      zap.L().With(zap.String("component", "discovery")),
	}
}

// candidate is a listed title in first-seen order.
type candidate struct {
	id    int64
	title string
}

// Run pages source, keeps the titles not yet catalogued and ingests up to
// maxNew of them one at a time. The run log is written even when nothing was
// found or a list failed.
func (s *Scheduler) Run(ctx context.Context, source Source, maxNew int, trigger model.RunTrigger) (*model.IngestionRunLog, error) {
	if _, err := ParseSource(string(source)); err != nil {
		return nil, err
	}
	if !trigger.Valid() {
		return nil, eris.Errorf("discovery: unknown trigger %q", trigger)
	}
	if maxNew <= 0 {
		maxNew = s.opts.DefaultMaxNew
	}

	run := &model.IngestionRunLog{
		Source:    string(source),
		Trigger:   trigger,
		MaxNew:    maxNew,
		Titles:    []model.RunTitle{},
		Errors:    []string{},
		StartedAt: time.Now().UTC(),
	}
	log := s.log.With(zap.String("source", string(source)), zap.String("trigger", string(trigger)))
	log.Info("discovery run started", zap.Int("max_new", maxNew))

	runErr := s.run(ctx, log, run, source, maxNew)
	if runErr != nil {
		run.Errors = append(run.Errors, runErr.Error())
	}
	run.DurationMS = time.Since(run.StartedAt).Milliseconds()

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := s.store.InsertRunLog(saveCtx, run); err != nil {
		return run, eris.Wrap(err, "discovery: save run log")
	}

	log.Info("discovery run complete",
		zap.String("run_id", run.ID),
		zap.Int("checked", run.Checked),
		zap.Int("skipped", run.Skipped),
		zap.Int("ingested", run.Ingested),
		zap.Int("failed", run.Failed),
		zap.Int64("duration_ms", run.DurationMS),
	)
	return run, runErr
}

func (s *Scheduler) run(ctx context.Context, log *zap.Logger, run *model.IngestionRunLog, source Source, maxNew int) error {
	listed, listErrs := s.collect(ctx, source, s.pagesFor(maxNew))
	run.Errors = append(run.Errors, listErrs...)
	run.Checked = len(listed)
	if len(listed) == 0 {
		return nil
	}

	ids := make([]int64, len(listed))
	for i, c := range listed {
		ids[i] = c.id
	}
	existing, err := s.store.ExistingExternalIDs(ctx, ids)
	if err != nil {
		return eris.Wrap(err, "discovery: catalog lookup")
	}

	fresh := make([]candidate, 0, len(listed))
	for _, c := range listed {
		if existing[c.id] {
			run.Skipped++
			continue
		}
		fresh = append(fresh, c)
	}
	log.Info("discovery candidates", zap.Int("listed", len(listed)), zap.Int("new", len(fresh)))
	if len(fresh) > maxNew {
		fresh = fresh[:maxNew]
	}

	for i, c := range fresh {
		if i > 0 {
			if err := sleepCtx(ctx, s.opts.ItemDelay); err != nil {
				return eris.Wrap(err, "discovery: run interrupted")
			}
		}
		run.Titles = append(run.Titles, s.ingestOne(ctx, log, run, c))
	}
	return nil
}

func (s *Scheduler) ingestOne(ctx context.Context, log *zap.Logger, run *model.IngestionRunLog, c candidate) model.RunTitle {
	rt := model.RunTitle{ExternalID: c.id, Title: c.title}
	_, err := s.ingester.Ingest(ctx, c.id, false)
	switch {
	case err == nil:
		run.Ingested++
		rt.Outcome = model.OutcomeIngested
	case ingest.IsInProgress(err):
		rt.Outcome = model.OutcomeInProgress
		rt.Error = err.Error()
	default:
		run.Failed++
		rt.Outcome = model.OutcomeFailed
		rt.Error = err.Error()
		log.Warn("discovery ingestion failed", zap.Int64("external_id", c.id), zap.Error(err))
	}
	return rt
}

// pagesFor is the number of pages per list expected to yield 1.5x maxNew
// distinct titles, capped.
func (s *Scheduler) pagesFor(maxNew int) int {
	pages := int(math.Ceil(float64(maxNew) * 1.5 / float64(s.opts.PageSize)))
	return max(1, min(pages, s.opts.MaxPagesPerSource))
}

// collect pages every list of source concurrently and merges the results in
// list order, keeping the first occurrence of each id. A failing list keeps
// the pages it already fetched.
func (s *Scheduler) collect(ctx context.Context, source Source, pages int) ([]candidate, []string) {
	kinds := source.lists()
	slots := make([][]candidate, len(kinds))
	errs := make([]error, len(kinds))

	g, gctx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		g.Go(func() error {
			slots[i], errs[i] = s.page(gctx, kind, pages)
			return nil
		})
	}
	_ = g.Wait()

	var out []candidate
	var msgs []string
	seen := make(map[int64]bool)
	for i := range kinds {
		if errs[i] != nil {
			s.log.Warn("discovery list failed", zap.String("list", string(kinds[i])), zap.Error(errs[i]))
			msgs = append(msgs, errs[i].Error())
		}
		for _, c := range slots[i] {
			if seen[c.id] {
				continue
			}
			seen[c.id] = true
			out = append(out, c)
		}
	}
	return out, msgs
}

func (s *Scheduler) page(ctx context.Context, kind tmdb.ListKind, pages int) ([]candidate, error) {
	var out []candidate
	for p := 1; p <= pages; p++ {
		lp, err := s.provider.List(ctx, kind, p)
		if err != nil {
			return out, eris.Wrapf(err, "discovery: list %s page %d", kind, p)
		}
		for _, r := range lp.Results {
			if r.ID > 0 {
				out = append(out, candidate{id: r.ID, title: r.Title})
			}
		}
		if lp.TotalPages > 0 && p >= lp.TotalPages {
			break
		}
	}
	return out, nil
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
