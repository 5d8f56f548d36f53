package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cinecard/cinecard/internal/api"
	"github.com/cinecard/cinecard/internal/discovery"
	"github.com/cinecard/cinecard/internal/model"
	"github.com/cinecard/cinecard/internal/monitoring"
	"github.com/cinecard/cinecard/internal/scheduler"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and background refresh, sweep and discovery loops",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		srv := api.NewServer(api.Deps{
			Ingester:  env.Orchestrator,
			Discovery: env.Discovery,
			Refresh:   env.Worker,
			Stats:     env.Collector,
			Store:     env.Store,
		}, api.Options{
			CORSOrigins:   cfg.Server.CORSOrigins,
			LookbackHours: cfg.Monitor.LookbackWindowHours,
			RetryAfter:    time.Duration(cfg.Ingest.PollIntervalMs) * time.Millisecond,
			Assets:        env.Blob.Fs(),
		})

		checker := monitoring.NewChecker(env.Collector, monitoring.NewAlerter(cfg.Monitor), cfg.Monitor)

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return startServer(gctx, srv.Handler(), resolvePort(servePort, cfg.Server.Port))
		})
		g.Go(func() error {
			loops := append(backgroundLoops(env), checker.Loop())
			return scheduler.Run(gctx, loops...)
		})
		return g.Wait()
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// backgroundLoops builds the periodic refresh worker, staleness sweep and
// discovery loops. A zero interval in config disables a loop.
func backgroundLoops(env *appEnv) []*scheduler.Loop {
	refreshEvery := time.Duration(cfg.Refresh.IntervalSecs) * time.Second
	sweepEvery := time.Duration(cfg.Refresh.SweepIntervalMins) * time.Minute
	discoverEvery := time.Duration(cfg.Discovery.IntervalMins) * time.Minute

	source, err := discovery.ParseSource(cfg.Discovery.Source)
	if err != nil {
		zap.L().Warn("invalid discovery.source, using all", zap.Error(err))
		source = discovery.SourceAll
	}

	return []*scheduler.Loop{
		scheduler.NewLoop("refresh", refreshEvery, 0, func(ctx context.Context) error {
			_, err := env.Worker.RunBatch(ctx)
			return err
		}),
		scheduler.NewLoop("sweep", sweepEvery, 5*time.Minute, func(ctx context.Context) error {
			_, err := env.Sweeper.Sweep(ctx)
			return err
		}),
		scheduler.NewLoop("discovery", discoverEvery, 0, func(ctx context.Context) error {
			_, err := env.Discovery.Run(ctx, source, cfg.Discovery.MaxNew, model.TriggerScheduled)
			return err
		}),
	}
}

// resolvePort returns the flag value when set, otherwise the configured port.
func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

// startServer serves handler on port until ctx is cancelled, then shuts down
// gracefully.
func startServer(ctx context.Context, handler http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zap.L().Info("starting server", zap.Int("port", port))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return eris.Wrap(err, "server listen")
	case <-ctx.Done():
	}

	zap.L().Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return eris.Wrap(err, "server shutdown")
	}
	return nil
}
