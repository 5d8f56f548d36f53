package model

import "time"

// QueueStatus is the state of a refresh queue item.
type QueueStatus string

const (
	QueueQueued     QueueStatus = "queued"
	QueueProcessing QueueStatus = "processing"
	QueueCompleted  QueueStatus = "completed"
	QueueFailed     QueueStatus = "failed" // dead-lettered
)

// QueueItem is a pending or historical request to re-ingest a work. There is
// at most one item per work; rows are retained after completion as an audit
// trail.
type QueueItem struct {
	ID          string      `json:"id"`
	WorkID      string      `json:"work_id"`
	Priority    int         `json:"priority"`
	Status      QueueStatus `json:"status"`
	RetryCount  int         `json:"retry_count"`
	QueuedAt    time.Time   `json:"queued_at"`
	ClaimedAt   *time.Time  `json:"claimed_at,omitempty"`
	ProcessedAt *time.Time  `json:"processed_at,omitempty"`
	LastError   string      `json:"last_error,omitempty"`
}

// QueueCounts maps each queue status to its item count.
type QueueCounts map[QueueStatus]int
