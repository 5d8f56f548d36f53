package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cinecard/cinecard/internal/assets"
	"github.com/cinecard/cinecard/internal/blob"
	"github.com/cinecard/cinecard/internal/cost"
	"github.com/cinecard/cinecard/internal/discovery"
	"github.com/cinecard/cinecard/internal/events"
	"github.com/cinecard/cinecard/internal/ingest"
	"github.com/cinecard/cinecard/internal/monitoring"
	"github.com/cinecard/cinecard/internal/refresh"
	"github.com/cinecard/cinecard/internal/resilience"
	"github.com/cinecard/cinecard/internal/store"
	anthropicpkg "github.com/cinecard/cinecard/pkg/anthropic"
	"github.com/cinecard/cinecard/pkg/tmdb"
)

// appEnv holds the store, clients and services used by the ingest, card,
// discover, refresh and serve commands.
type appEnv struct {
	Store        store.Store
	Blob         *blob.AferoStore
	Orchestrator *ingest.Orchestrator
	Queue        *refresh.Queue
	Worker       *refresh.Worker
	Sweeper      *refresh.Sweeper
	Discovery    *discovery.Scheduler
	Collector    *monitoring.Collector
	Publisher    *events.Publisher // nil when events are disabled
}

// Close waits for background related ingestions and releases resources.
func (e *appEnv) Close() {
	if e.Orchestrator != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := e.Orchestrator.Drain(ctx); err != nil {
			zap.L().Warn("related ingestions still running at shutdown", zap.Error(err))
		}
		cancel()
	}
	if e.Publisher != nil {
		if err := e.Publisher.Close(); err != nil {
			zap.L().Warn("close event publisher", zap.Error(err))
		}
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates config for mode, opens the store and builds every
// service. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st}

	bs, err := blob.NewDiskStore(cfg.Blob.Root, cfg.Blob.PublicBaseURL)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Blob = bs

	provider := newTMDBClient()
	am := assets.New(bs, &http.Client{Timeout: time.Duration(cfg.Assets.DownloadTimeoutSecs) * time.Second}, assets.Options{
		Attempts:            uint(max(cfg.Assets.DownloadAttempts, 1)),
		PlaceholderMinBytes: cfg.Assets.PlaceholderMinBytes,
	})

	env.Queue = refresh.NewQueue(st)
	options := []ingest.Option{ingest.WithRefreshEnqueuer(env.Queue)}

	spend := cost.NewCalculator(cost.DefaultRates())
	if cfg.Anthropic.Key != "" {
		client := anthropicpkg.NewClient(cfg.Anthropic.Key)
		options = append(options, ingest.WithLogliner(
			ingest.NewAnthropicLogliner(client, cfg.Anthropic.Model, cfg.Anthropic.MaxTokens).WithCost(spend),
		))
		zap.L().Info("loglines enabled", zap.String("model", cfg.Anthropic.Model))
	} else {
		zap.L().Debug("CINECARD_ANTHROPIC_KEY not set, loglines disabled")
	}

	if cfg.Events.URL != "" {
		pub, err := events.NewPublisher(events.Config{
			URL:        cfg.Events.URL,
			Exchange:   cfg.Events.Exchange,
			RoutingKey: cfg.Events.RoutingKey,
			Queue:      cfg.Events.Queue,
		})
		if err != nil {
			env.Close()
			return nil, eris.Wrap(err, "init event publisher")
		}
		env.Publisher = pub
		options = append(options, ingest.WithNotifier(pub))
	}

	env.Orchestrator = ingest.New(st, provider, am, ingestOptions(), options...)

	env.Worker = refresh.NewWorker(st, env.Orchestrator, refresh.WorkerOptions{
		BatchSize:  cfg.Refresh.BatchSize,
		MaxRetries: cfg.Refresh.MaxRetries,
		ItemDelay:  time.Duration(cfg.Refresh.ItemDelayMs) * time.Millisecond,
	})
	env.Sweeper = refresh.NewSweeper(st, env.Queue, cfg.Ingest.StaleAfter(), cfg.Refresh.SweepLimit)
	env.Discovery = discovery.NewScheduler(st, provider, env.Orchestrator, discovery.Options{
		PageSize:          cfg.Discovery.PageSize,
		MaxPagesPerSource: cfg.Discovery.MaxPagesPerSource,
		ItemDelay:         time.Duration(cfg.Discovery.ItemDelayMs) * time.Millisecond,
		DefaultMaxNew:     cfg.Discovery.MaxNew,
	})
	env.Collector = monitoring.NewCollector(st).WithSpend(spend.Total)

	return env, nil
}

func newTMDBClient() tmdb.Client {
	return tmdb.NewClient(cfg.TMDB.APIKey,
		tmdb.WithBaseURL(cfg.TMDB.BaseURL),
		tmdb.WithLanguage(cfg.TMDB.Language),
		tmdb.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.TMDB.TimeoutSecs) * time.Second}),
		tmdb.WithRateLimit(cfg.TMDB.RateLimit, cfg.TMDB.Burst),
		tmdb.WithRetryPolicy(resilience.RetryPolicy{
			Attempts:  cfg.TMDB.RetryAttempts,
			BaseDelay: time.Duration(cfg.TMDB.RetryBaseMs) * time.Millisecond,
			MaxDelay:  10 * time.Second,
			Jitter:    0.2,
		}),
		tmdb.WithBreaker(resilience.NewBreaker("tmdb",
			cfg.TMDB.BreakerThreshold,
			time.Duration(cfg.TMDB.BreakerCooldownSecs)*time.Second,
		)),
	)
}

func ingestOptions() ingest.Options {
	return ingest.Options{
		StaleAfter:         cfg.Ingest.StaleAfter(),
		PollInterval:       time.Duration(cfg.Ingest.PollIntervalMs) * time.Millisecond,
		PollTimeout:        time.Duration(cfg.Ingest.PollTimeoutSecs) * time.Second,
		Lease:              time.Duration(cfg.Ingest.LeaseMins) * time.Minute,
		CallDelay:          cfg.TMDB.CallDelay(),
		RelatedLimit:       cfg.Ingest.RelatedLimit,
		RelatedConcurrency: cfg.Ingest.RelatedConcurrency,
		RelatedTimeout:     time.Duration(cfg.Ingest.RelatedTimeoutSecs) * time.Second,
		RefreshPriority:    cfg.Refresh.OnDemandPriority,
		MaxPeoplePhotos:    cfg.Assets.MaxPeoplePhotos,
		MaxStills:          cfg.Assets.MaxStills,
		ImageBaseURL:       cfg.TMDB.ImageBaseURL,
		Region:             cfg.TMDB.Region,
	}
}
