package repository

import (
	"context"
	"fmt"

	"github.com/UnknownOlympus/beacon/internal/models"
)

const createReportsTable = `
	CREATE TABLE IF NOT EXISTS location_reports (
		run_id       TEXT PRIMARY KEY,
		latitude     DOUBLE PRECISION NOT NULL,
		longitude    DOUBLE PRECISION NOT NULL,
		status       TEXT NOT NULL,
		failed_stage TEXT NOT NULL DEFAULT '',
		reason       TEXT NOT NULL DEFAULT '',
		started_at   TIMESTAMPTZ NOT NULL,
		finished_at  TIMESTAMPTZ NOT NULL
	);
`

const createReportsIndex = `
	CREATE INDEX IF NOT EXISTS idx_location_reports_finished_at
	ON location_reports (finished_at DESC);
`

// Migrate creates the journal schema when it does not exist yet.
func (r *Repository) Migrate(ctx context.Context) error {
	for _, stmt := range []string{createReportsTable, createReportsIndex} {
		if _, err := r.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to migrate journal schema: %w", err)
		}
	}

	r.log.DebugContext(ctx, "Journal schema is up to date")

	return nil
}

// SaveRun stores a finished run. Saving the same run twice keeps the first record.
func (r *Repository) SaveRun(ctx context.Context, record models.RunRecord) error {
	query := `
		INSERT INTO location_reports
			(run_id, latitude, longitude, status, failed_stage, reason, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id) DO NOTHING;
	`

	_, err := r.db.Exec(ctx, query,
		record.ID,
		record.Latitude,
		record.Longitude,
		record.Status,
		record.FailedStage,
		record.Reason,
		record.StartedAt,
		record.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert report run: %w", err)
	}

	r.log.DebugContext(ctx, "Report run saved", "run_id", record.ID, "status", record.Status)

	return nil
}

// ListRecentRuns returns up to limit runs, most recently finished first.
func (r *Repository) ListRecentRuns(ctx context.Context, limit int) ([]models.RunRecord, error) {
	if limit <= 0 {
		return nil, ErrInvalidLimit
	}

	query := `
		SELECT run_id, latitude, longitude, status, failed_stage, reason, started_at, finished_at
		FROM location_reports
		ORDER BY finished_at DESC
		LIMIT $1;
	`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query report runs: %w", err)
	}
	defer rows.Close()

	runs := make([]models.RunRecord, 0, limit)
	for rows.Next() {
		var run models.RunRecord
		if errScan := rows.Scan(
			&run.ID,
			&run.Latitude,
			&run.Longitude,
			&run.Status,
			&run.FailedStage,
			&run.Reason,
			&run.StartedAt,
			&run.FinishedAt,
		); errScan != nil {
			return nil, fmt.Errorf("failed to scan report run: %w", errScan)
		}
		runs = append(runs, run)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read row: %w", err)
	}

	return runs, nil
}
