package pipeline

import (
	"time"

	"github.com/UnknownOlympus/beacon/internal/models"
)

// Status is the terminal result of a run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Outcome is produced exactly once per run.
type Outcome struct {
	RunID       string
	Status      Status
	FailedStage State // zero (StateIdle) unless Status is StatusFailure
	Err         error
	Coordinates models.Coordinates
	StartedAt   time.Time
	FinishedAt  time.Time
}

// Succeeded reports whether the position was submitted.
func (o Outcome) Succeeded() bool { return o.Status == StatusSuccess }

// Signal returns the user-facing signal for the outcome.
func (o Outcome) Signal() Signal {
	if o.Succeeded() {
		return SignalReportSucceeded
	}
	return SignalReportFailed
}

// Record converts the outcome into a journal entry.
func (o Outcome) Record() models.RunRecord {
	record := models.RunRecord{
		ID:         o.RunID,
		Latitude:   o.Coordinates.Latitude,
		Longitude:  o.Coordinates.Longitude,
		Status:     string(o.Status),
		StartedAt:  o.StartedAt,
		FinishedAt: o.FinishedAt,
	}
	if !o.Succeeded() {
		record.FailedStage = o.FailedStage.String()
		record.Reason = Reason(o.Err)
	}

	return record
}
