package models

import "time"

// RunRecord is the journal entry persisted for a finished pipeline run.
// It never carries credentials or tokens.
type RunRecord struct {
	ID          string    `json:"id"`
	Latitude    float64   `json:"lat"`
	Longitude   float64   `json:"lon"`
	Status      string    `json:"status"`
	FailedStage string    `json:"failed_stage,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
}
