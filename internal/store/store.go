package store

import (
	"context"
	"time"

	"github.com/cinecard/cinecard/internal/model"
)

// QueueFilter specifies criteria for listing refresh queue items.
type QueueFilter struct {
	Status model.QueueStatus `json:"status,omitempty"`
	Limit  int               `json:"limit,omitempty"`
}

// Store defines the persistence interface for catalog ingestion. Lookups
// that find nothing return nil without an error.
type Store interface {
	// Works
	EnsureWork(ctx context.Context, externalID int64) (*model.Work, error)
	GetWork(ctx context.Context, id string) (*model.Work, error)
	GetWorkByExternalID(ctx context.Context, externalID int64) (*model.Work, error)
	GetWorkMeta(ctx context.Context, workID string) (*model.WorkMeta, error)
	ClaimIngestion(ctx context.Context, workID string, lease time.Duration) (bool, error)
	MarkIngestionFailed(ctx context.Context, workID, msg string) error
	IsStale(ctx context.Context, workID string, maxAge time.Duration) (bool, error)
	ListStaleWorks(ctx context.Context, maxAge time.Duration, limit int) ([]model.Work, error)
	ExistingExternalIDs(ctx context.Context, ids []int64) (map[int64]bool, error)
	CountWorks(ctx context.Context) (model.WorkCounts, error)

	// Ingestion writes canonical rows, ratings, aggregate and card in one
	// transaction and marks the work complete.
	SaveIngestion(ctx context.Context, b *model.IngestionBundle) error

	// Cards
	GetCard(ctx context.Context, workID string) (*model.CardCache, error)
	UpgradeCard(ctx context.Context, card *model.CardCache) (bool, error)

	// Refresh queue
	Enqueue(ctx context.Context, workID string, priority int) (bool, error)
	Requeue(ctx context.Context, workID string) (bool, error)
	ClaimQueueItems(ctx context.Context, limit int) ([]model.QueueItem, error)
	CompleteQueueItem(ctx context.Context, id string) error
	FailQueueItem(ctx context.Context, id, msg string, maxRetries int) (model.QueueStatus, int, error)
	GetQueueItem(ctx context.Context, workID string) (*model.QueueItem, error)
	ListQueueItems(ctx context.Context, filter QueueFilter) ([]model.QueueItem, error)
	CountQueue(ctx context.Context) (model.QueueCounts, error)

	// Discovery run logs
	InsertRunLog(ctx context.Context, log *model.IngestionRunLog) error
	ListRunLogs(ctx context.Context, limit int) ([]model.IngestionRunLog, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// Option configures a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the store's time source.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func defaultLimit(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return limit
}
