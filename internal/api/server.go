// Package api exposes ingestion, cards, discovery and refresh over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/cinecard/cinecard/internal/discovery"
	"github.com/cinecard/cinecard/internal/ingest"
	"github.com/cinecard/cinecard/internal/model"
	"github.com/cinecard/cinecard/internal/monitoring"
	"github.com/cinecard/cinecard/internal/refresh"
)

// Ingester runs ingestions and serves cards.
type Ingester interface {
	Ingest(ctx context.Context, externalID int64, force bool) (*ingest.Result, error)
	GetCard(ctx context.Context, externalID int64) (*ingest.Result, error)
}

// Discoverer runs one discovery pass.
type Discoverer interface {
	Run(ctx context.Context, source discovery.Source, maxNew int, trigger model.RunTrigger) (*model.IngestionRunLog, error)
}

// BatchRunner runs one refresh worker batch.
type BatchRunner interface {
	RunBatch(ctx context.Context) (*refresh.BatchResult, error)
}

// StatsCollector produces a monitoring snapshot.
type StatsCollector interface {
	Collect(ctx context.Context, lookbackHours int) (*monitoring.Snapshot, error)
}

// Pinger checks store connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators behind the handlers.
type Deps struct {
	Ingester  Ingester
	Discovery Discoverer
	Refresh   BatchRunner
	Stats     StatsCollector
	Store     Pinger
}

// Options tunes the HTTP surface.
type Options struct {
	CORSOrigins   []string
	LookbackHours int
	// RetryAfter is advertised to callers that hit an in-progress ingestion.
	RetryAfter time.Duration
	// Assets, when set, is served read-only under /assets.
	Assets afero.Fs
}

// Server holds the router and its dependencies.
type Server struct {
	deps Deps
	opts Options
	log  *zap.Logger
}

// NewServer creates a Server.
func NewServer(deps Deps, opts Options) *Server {
	if opts.LookbackHours <= 0 {
		opts.LookbackHours = 24
	}
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = 5 * time.Second
	}
	return &Server{
		deps: deps,
		opts: opts,
		log:  zap.L().With(zap.String("component", "api")),
	}
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	origins := s.opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "If-None-Match"},
		ExposedHeaders: []string{"ETag", "Retry-After"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Post("/ingest", s.handleIngest)
	r.Post("/card", s.handleCard)
	r.Get("/cards/{id}", s.handleGetCard)
	r.Post("/discovery/run", s.handleDiscovery)
	r.Post("/refresh/run", s.handleRefresh)

	if s.opts.Assets != nil {
		files := http.FileServer(afero.NewHttpFs(s.opts.Assets).Dir("/"))
		r.Handle("/assets/*", http.StripPrefix("/assets", files))
	}

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
