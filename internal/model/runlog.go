package model

import "time"

// RunTrigger records what started a discovery run.
type RunTrigger string

const (
	TriggerManual    RunTrigger = "manual"
	TriggerScheduled RunTrigger = "scheduled"
	TriggerAPI       RunTrigger = "api"
)

// Valid reports whether t is a known trigger.
func (t RunTrigger) Valid() bool {
	switch t {
	case TriggerManual, TriggerScheduled, TriggerAPI:
		return true
	}
	return false
}

// Outcomes recorded per title in a run log.
const (
	OutcomeIngested   = "ingested"
	OutcomeFailed     = "failed"
	OutcomeInProgress = "in_progress"
)

// RunTitle is the outcome for a single title attempted during a run.
type RunTitle struct {
	ExternalID int64  `json:"external_id"`
	Title      string `json:"title"`
	Outcome    string `json:"outcome"`
	Error      string `json:"error,omitempty"`
}

// IngestionRunLog is the append-only summary of one discovery run.
type IngestionRunLog struct {
	ID         string     `json:"id"`
	Source     string     `json:"source"`
	Trigger    RunTrigger `json:"trigger"`
	MaxNew     int        `json:"max_new"`
	Checked    int        `json:"checked"`
	Skipped    int        `json:"skipped"`
	Ingested   int        `json:"ingested"`
	Failed     int        `json:"failed"`
	Titles     []RunTitle `json:"titles"`
	Errors     []string   `json:"errors"`
	StartedAt  time.Time  `json:"started_at"`
	DurationMS int64      `json:"duration_ms"`
}
