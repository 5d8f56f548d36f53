package model

import (
	"encoding/json"
	"time"
)

// CardCache is the precomputed display document for a work. Full and Short
// are opaque JSON objects; SchemaVersion records which fields they carry.
type CardCache struct {
	WorkID        string          `json:"work_id"`
	Full          json.RawMessage `json:"full"`
	Short         json.RawMessage `json:"short"`
	ETag          string          `json:"etag"`
	SchemaVersion int             `json:"schema_version"`
	ComputedAt    time.Time       `json:"computed_at"`
}

// IngestionBundle is everything a successful ingestion writes, persisted in
// a single transaction.
type IngestionBundle struct {
	Work      Work
	Meta      WorkMeta
	Ratings   []RatingSource
	Aggregate Aggregate
	Card      CardCache
}
