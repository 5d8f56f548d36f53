package model

import "time"

// IngestionStatus is the lifecycle state of a catalogued work.
type IngestionStatus string

const (
	IngestionPending   IngestionStatus = "pending"
	IngestionIngesting IngestionStatus = "ingesting"
	IngestionComplete  IngestionStatus = "complete"
	IngestionFailed    IngestionStatus = "failed"
)

// Work is the canonical catalog record for a single title, keyed by the
// provider's external id. Works are never hard-deleted.
type Work struct {
	ID              string          `json:"id"`
	ExternalID      int64           `json:"external_id"`
	Title           string          `json:"title"`
	OriginalTitle   string          `json:"original_title"`
	ReleaseDate     string          `json:"release_date,omitempty"`
	ReleaseYear     int             `json:"release_year,omitempty"`
	Popularity      float64         `json:"popularity"`
	IngestionStatus IngestionStatus `json:"ingestion_status"`
	IngestStartedAt *time.Time      `json:"ingest_started_at,omitempty"`
	LastRefreshedAt *time.Time      `json:"last_refreshed_at,omitempty"`
	LastError       string          `json:"last_error,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// WorkMeta holds the descriptive metadata of a work (one row per work).
type WorkMeta struct {
	WorkID           string       `json:"work_id"`
	Runtime          int          `json:"runtime,omitempty"`
	Tagline          string       `json:"tagline,omitempty"`
	Overview         string       `json:"overview,omitempty"`
	Genres           []string     `json:"genres"`
	Certification    string       `json:"certification,omitempty"`
	OriginalLanguage string       `json:"original_language,omitempty"`
	Images           Images       `json:"images"`
	Cast             []CastMember `json:"cast"`
	Crew             []CrewMember `json:"crew"`
	Trailers         []Trailer    `json:"trailers"`
	SimilarIDs       []int64      `json:"similar_ids"`
	SchemaVersion    int          `json:"schema_version"`
	FetchedAt        time.Time    `json:"fetched_at"`
}

// Images holds the resolved (materialized or provider-fallback) image URLs.
type Images struct {
	PosterSmall string   `json:"poster_small,omitempty"`
	PosterLarge string   `json:"poster_large,omitempty"`
	Backdrop    string   `json:"backdrop,omitempty"`
	Stills      []string `json:"stills"`
}

// CastMember is a billed performer.
type CastMember struct {
	PersonID  int64  `json:"person_id"`
	Name      string `json:"name"`
	Character string `json:"character,omitempty"`
	Order     int    `json:"order"`
	PhotoURL  string `json:"photo_url,omitempty"`
}

// CrewMember is a key crew credit.
type CrewMember struct {
	PersonID   int64  `json:"person_id"`
	Name       string `json:"name"`
	Job        string `json:"job"`
	Department string `json:"department,omitempty"`
	PhotoURL   string `json:"photo_url,omitempty"`
}

// Trailer is a video hosted on YouTube with a resolved thumbnail.
type Trailer struct {
	Key          string `json:"key"`
	Name         string `json:"name"`
	Type         string `json:"type"`
	Official     bool   `json:"official"`
	URL          string `json:"url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

// RatingSource is one provider's rating of a work, normalized to 0..100.
type RatingSource struct {
	WorkID      string    `json:"work_id"`
	Source      string    `json:"source"`
	VoteAverage float64   `json:"vote_average"`
	VoteCount   int       `json:"vote_count"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ConfidenceLabel classifies how much evidence backs an aggregate score.
type ConfidenceLabel string

const (
	ConfidenceLow    ConfidenceLabel = "low"
	ConfidenceMedium ConfidenceLabel = "medium"
	ConfidenceHigh   ConfidenceLabel = "high"
)

// Aggregate is the combined rating of a work under one scoring method.
type Aggregate struct {
	WorkID         string          `json:"work_id"`
	MethodVersion  string          `json:"method_version"`
	Score          float64         `json:"score"`
	ConfidenceLow  float64         `json:"confidence_low"`
	ConfidenceHigh float64         `json:"confidence_high"`
	Confidence     ConfidenceLabel `json:"confidence"`
	VoteCount      int             `json:"vote_count"`
	ComputedAt     time.Time       `json:"computed_at"`
}

// WorkCounts maps each ingestion status to the number of works in it.
type WorkCounts map[IngestionStatus]int
