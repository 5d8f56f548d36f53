// Package ingest turns provider data into canonical catalog rows and cached
// display cards. It owns the per-work ingestion state machine.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/cinecard/cinecard/internal/model"
	"github.com/cinecard/cinecard/internal/store"
	"github.com/cinecard/cinecard/pkg/tmdb"
)

// Result statuses.
const (
	StatusIngested       = "ingested"
	StatusCached         = "cached"
	StatusUpgraded       = "upgraded"
	StatusCachedUpgraded = "cached_upgraded"
	StatusError          = "error"
)

var (
	// ErrInProgress means another caller is ingesting the work and it did not
	// finish within the poll timeout. Callers should retry shortly.
	ErrInProgress = eris.New("ingest: ingestion still in progress")
	// ErrNotFound means the provider has no title with the requested id.
	ErrNotFound = eris.New("ingest: title not found")
)

// AssetMaterializer stores provider images. Implementations never fail; a
// false result means the caller should fall back to the provider URL.
type AssetMaterializer interface {
	Materialize(ctx context.Context, sourceURL, path string) (string, bool)
	MaterializePerson(ctx context.Context, personID int64, sourceURL string) (string, bool)
	MaterializeVideoThumbnail(ctx context.Context, videoKey, path string) (string, bool)
}

// RefreshEnqueuer schedules a background refresh of a work.
type RefreshEnqueuer interface {
	Enqueue(ctx context.Context, workID string, priority int) (bool, error)
}

// Notifier is told when a work's card changes.
type Notifier interface {
	CardUpdated(ctx context.Context, workID string, externalID int64, etag string, schemaVersion int) error
}

// Result is the outcome of an ingest or card request.
type Result struct {
	Status     string          `json:"status"`
	WorkID     string          `json:"work_id"`
	ExternalID int64           `json:"external_id"`
	Card       json.RawMessage `json:"card,omitempty"`
	Short      json.RawMessage `json:"short,omitempty"`
	ETag       string          `json:"etag,omitempty"`
	Refreshing bool            `json:"refreshing,omitempty"`
	Warning    string          `json:"warning,omitempty"`
}

// Options tunes the orchestrator.
type Options struct {
	StaleAfter         time.Duration
	PollInterval       time.Duration
	PollTimeout        time.Duration
	Lease              time.Duration
	CallDelay          time.Duration
	RelatedLimit       int
	RelatedConcurrency int
	RelatedTimeout     time.Duration
	RefreshPriority    int
	MaxPeoplePhotos    int
	MaxStills          int
	ImageBaseURL       string
	Region             string
}

func (o *Options) setDefaults() {
	if o.StaleAfter <= 0 {
		o.StaleAfter = 7 * 24 * time.Hour
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = 30 * time.Second
	}
	if o.Lease <= 0 {
		o.Lease = 10 * time.Minute
	}
	if o.RelatedConcurrency <= 0 {
		o.RelatedConcurrency = 3
	}
	if o.RelatedTimeout <= 0 {
		o.RelatedTimeout = 2 * time.Minute
	}
	if o.RefreshPriority == 0 {
		o.RefreshPriority = 100
	}
	if o.MaxPeoplePhotos < 0 {
		o.MaxPeoplePhotos = 0
	}
	if o.MaxStills < 0 {
		o.MaxStills = 0
	}
	if o.Region == "" {
		o.Region = "US"
	}
}

// Option configures optional collaborators.
type Option func(*Orchestrator)

// WithLogliner enables LLM loglines on cards.
func WithLogliner(l Logliner) Option {
	return func(o *Orchestrator) { o.logliner = l }
}

// WithNotifier publishes card updates.
func WithNotifier(n Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

// WithRefreshEnqueuer lets GetCard schedule refreshes of stale cards.
func WithRefreshEnqueuer(q RefreshEnqueuer) Option {
	return func(o *Orchestrator) { o.refresh = q }
}

// WithMigrations replaces the schema migration list.
func WithMigrations(m []Migration) Option {
	return func(o *Orchestrator) { o.migrations = m }
}

// Orchestrator runs ingestions and serves cards.
type Orchestrator struct {
	store      store.Store
	provider   tmdb.Client
	assets     AssetMaterializer
	logliner   Logliner
	notifier   Notifier
	refresh    RefreshEnqueuer
	migrations []Migration
	opts       Options
	log        *zap.Logger

	related *semaphore.Weighted
	wg      sync.WaitGroup
}

// New creates an Orchestrator.
func New(st store.Store, provider tmdb.Client, am AssetMaterializer, opts Options, options ...Option) *Orchestrator {
	opts.setDefaults()
	o := &Orchestrator{
		store:      st,
		provider:   provider,
		assets:     am,
		migrations: Migrations,
		opts:       opts,
		log:        zap.L().With(zap.String("component", "ingest")),
		related:    semaphore.NewWeighted(int64(opts.RelatedConcurrency)),
	}
	for _, fn := range options {
		fn(o)
	}
	return o
}

// Ingest brings the work for externalID to a complete, current card. With
// force unset, a fresh card at the current schema is returned without any
// provider calls and a card behind the schema is upgraded in place.
func (o *Orchestrator) Ingest(ctx context.Context, externalID int64, force bool) (*Result, error) {
	res, similar, err := o.ingest(ctx, externalID, force)
	if err != nil {
		return nil, err
	}
	if res.Status == StatusIngested && len(similar) > 0 {
		o.ingestRelated(ctx, similar)
	}
	return res, nil
}

// ingest runs one ingestion without fanning out to related titles. It returns
// the similar ids of a freshly ingested work.
func (o *Orchestrator) ingest(ctx context.Context, externalID int64, force bool) (*Result, []int64, error) {
	if externalID <= 0 {
		return nil, nil, eris.Errorf("ingest: invalid external id %d", externalID)
	}
	log := o.log.With(zap.Int64("external_id", externalID))

	w, err := o.store.EnsureWork(ctx, externalID)
	if err != nil {
		return nil, nil, eris.Wrap(err, "ingest: ensure work")
	}

	if !force {
		if w.IngestionStatus == model.IngestionIngesting && !o.leaseExpired(w) {
			log.Debug("ingestion in progress elsewhere, waiting")
			if w, err = o.awaitInProgress(ctx, w.ID); err != nil {
				return nil, nil, err
			}
		}
		if w.IngestionStatus == model.IngestionComplete {
			res, err := o.cached(ctx, w)
			if err != nil {
				return nil, nil, err
			}
			if res != nil {
				return res, nil, nil
			}
		}
	}

	claimed, err := o.store.ClaimIngestion(ctx, w.ID, o.opts.Lease)
	if err != nil {
		return nil, nil, eris.Wrap(err, "ingest: claim")
	}
	if !claimed {
		if force {
			return nil, nil, ErrInProgress
		}
		if w, err = o.awaitInProgress(ctx, w.ID); err != nil {
			return nil, nil, err
		}
		if w.IngestionStatus == model.IngestionComplete {
			if res, err := o.cached(ctx, w); err != nil || res != nil {
				return res, nil, err
			}
		}
		return nil, nil, ErrInProgress
	}

	started := time.Now()
	log.Info("ingestion started", zap.Bool("force", force))

	f, err := o.fetch(ctx, externalID)
	if err != nil {
		o.markFailed(ctx, w.ID, err)
		if tmdb.IsNotFound(err) {
			return nil, nil, eris.Wrapf(ErrNotFound, "external id %d", externalID)
		}
		return nil, nil, err
	}

	bundle, err := o.buildBundle(ctx, w, f)
	if err != nil {
		o.markFailed(ctx, w.ID, err)
		return nil, nil, err
	}
	if err := o.store.SaveIngestion(ctx, bundle); err != nil {
		o.markFailed(ctx, w.ID, err)
		return nil, nil, eris.Wrap(err, "ingest: persist")
	}

	log.Info("ingestion complete",
		zap.String("work_id", w.ID),
		zap.String("title", bundle.Work.Title),
		zap.Duration("elapsed", time.Since(started)),
	)
	o.notify(ctx, &bundle.Work, &bundle.Card)

	return &Result{
		Status:     StatusIngested,
		WorkID:     w.ID,
		ExternalID: externalID,
		Card:       bundle.Card.Full,
		Short:      bundle.Card.Short,
		ETag:       bundle.Card.ETag,
	}, bundle.Meta.SimilarIDs, nil
}

// cached serves a complete work's card when it is fresh, upgrading it when
// its schema is behind. A nil result means a full ingestion is needed.
func (o *Orchestrator) cached(ctx context.Context, w *model.Work) (*Result, error) {
	stale, err := o.store.IsStale(ctx, w.ID, o.opts.StaleAfter)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: staleness check")
	}
	if stale {
		return nil, nil
	}
	card, err := o.store.GetCard(ctx, w.ID)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: load card")
	}
	if card == nil {
		return nil, nil
	}
	if card.SchemaVersion >= CurrentSchemaVersion {
		return cardResult(StatusCached, w, card), nil
	}

	upgraded, err := o.upgradeCard(ctx, w, card)
	if err != nil {
		o.log.Warn("card upgrade failed, re-ingesting",
			zap.Int64("external_id", w.ExternalID), zap.Error(err))
		return nil, nil
	}
	return cardResult(StatusUpgraded, w, upgraded), nil
}

// GetCard serves the card for externalID cache-first. A stored card is served
// whatever the work's ingestion status; stale cards are refreshed in the
// background. Only works without a card are ingested synchronously.
func (o *Orchestrator) GetCard(ctx context.Context, externalID int64) (*Result, error) {
	if externalID <= 0 {
		return nil, eris.Errorf("ingest: invalid external id %d", externalID)
	}
	w, err := o.store.GetWorkByExternalID(ctx, externalID)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: load work")
	}
	if w == nil {
		return o.Ingest(ctx, externalID, false)
	}

	card, err := o.store.GetCard(ctx, w.ID)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: load card")
	}
	if card == nil {
		return o.Ingest(ctx, externalID, false)
	}

	res := cardResult(StatusCached, w, card)
	if card.SchemaVersion < CurrentSchemaVersion {
		upgraded, err := o.upgradeCard(ctx, w, card)
		if err != nil {
			o.log.Warn("card upgrade failed, serving stored card",
				zap.Int64("external_id", externalID), zap.Error(err))
			res.Warning = "schema upgrade failed: " + err.Error()
		} else {
			res = cardResult(StatusCachedUpgraded, w, upgraded)
		}
	}

	if w.IngestionStatus == model.IngestionIngesting {
		res.Refreshing = true
		return res, nil
	}
	if w.IngestionStatus == model.IngestionFailed {
		o.log.Debug("serving stored card after failed refresh",
			zap.Int64("external_id", externalID), zap.String("last_error", w.LastError))
	}

	stale, err := o.store.IsStale(ctx, w.ID, o.opts.StaleAfter)
	if err != nil {
		o.log.Warn("staleness check failed", zap.Int64("external_id", externalID), zap.Error(err))
		return res, nil
	}
	if stale {
		res.Refreshing = true
		o.scheduleRefresh(ctx, w)
	}
	return res, nil
}

func (o *Orchestrator) scheduleRefresh(ctx context.Context, w *model.Work) {
	if o.refresh == nil {
		return
	}
	queued, err := o.refresh.Enqueue(ctx, w.ID, o.opts.RefreshPriority)
	if err != nil {
		o.log.Warn("enqueue refresh failed", zap.String("work_id", w.ID), zap.Error(err))
		return
	}
	if queued {
		o.log.Debug("stale card queued for refresh", zap.Int64("external_id", w.ExternalID))
	}
}

// awaitInProgress polls a work until it leaves the ingesting state or the
// poll timeout elapses.
func (o *Orchestrator) awaitInProgress(ctx context.Context, workID string) (*model.Work, error) {
	deadline := time.Now().Add(o.opts.PollTimeout)
	ticker := time.NewTicker(o.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, eris.Wrap(ctx.Err(), "ingest: waiting for in-progress ingestion")
		case <-ticker.C:
		}

		w, err := o.store.GetWork(ctx, workID)
		if err != nil {
			return nil, eris.Wrap(err, "ingest: poll work")
		}
		if w == nil {
			return nil, eris.Errorf("ingest: work disappeared: %s", workID)
		}
		if w.IngestionStatus != model.IngestionIngesting {
			return w, nil
		}
		if !time.Now().Before(deadline) {
			return nil, ErrInProgress
		}
	}
}

func (o *Orchestrator) leaseExpired(w *model.Work) bool {
	if w.IngestStartedAt == nil {
		return true
	}
	return time.Since(*w.IngestStartedAt) > o.opts.Lease
}

// markFailed records a fatal ingestion error. It runs detached from ctx so a
// cancelled caller still leaves the work in a terminal state.
func (o *Orchestrator) markFailed(ctx context.Context, workID string, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	o.log.Error("ingestion failed", zap.String("work_id", workID), zap.Error(cause))
	if err := o.store.MarkIngestionFailed(ctx, workID, cause.Error()); err != nil {
		o.log.Error("mark ingestion failed", zap.String("work_id", workID), zap.Error(err))
	}
}

func (o *Orchestrator) notify(ctx context.Context, w *model.Work, card *model.CardCache) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.CardUpdated(ctx, w.ID, w.ExternalID, card.ETag, card.SchemaVersion); err != nil {
		o.log.Warn("card update notification failed", zap.String("work_id", w.ID), zap.Error(err))
	}
}

// IsInProgress reports whether err is ErrInProgress.
func IsInProgress(err error) bool {
	return errors.Is(err, ErrInProgress)
}

// IsNotFound reports whether err is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func cardResult(status string, w *model.Work, card *model.CardCache) *Result {
	return &Result{
		Status:     status,
		WorkID:     w.ID,
		ExternalID: w.ExternalID,
		Card:       card.Full,
		Short:      card.Short,
		ETag:       card.ETag,
	}
}
