package repository

import (
	"context"
	"fmt"

	"github.com/llmportal/orchestrator/internal/model"
)

// DefaultCleanupRunLimit is used when ListCleanupRuns gets no usable limit.
const DefaultCleanupRunLimit = 20

// CreateCleanupRun records a finished reconciliation run.
func (r *Repository) CreateCleanupRun(ctx context.Context, run *model.CleanupRun) error {
	query := `
		INSERT INTO cleanup_runs (id, trigger, status, accounts, members, candidates, deleted, failed_batches, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err := r.pool.Exec(ctx, query,
		run.ID,
		run.Trigger,
		string(run.Status),
		run.Accounts,
		run.Members,
		run.Candidates,
		run.Deleted,
		run.FailedBatches,
		run.Error,
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create cleanup run: %w", err)
	}

	return nil
}

// ListCleanupRuns returns the most recent runs, newest first.
func (r *Repository) ListCleanupRuns(ctx context.Context, limit int) ([]*model.CleanupRun, error) {
	if limit <= 0 {
		limit = DefaultCleanupRunLimit
	}

	query := `
		SELECT id, trigger, status, accounts, members, candidates, deleted, failed_batches, error, started_at, finished_at
		FROM cleanup_runs
		ORDER BY started_at DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list cleanup runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*model.CleanupRun, 0)
	for rows.Next() {
		var (
			run    model.CleanupRun
			status string
		)
		if err := rows.Scan(
			&run.ID,
			&run.Trigger,
			&status,
			&run.Accounts,
			&run.Members,
			&run.Candidates,
			&run.Deleted,
			&run.FailedBatches,
			&run.Error,
			&run.StartedAt,
			&run.FinishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan cleanup run: %w", err)
		}
		run.Status = model.CleanupStatus(status)
		runs = append(runs, &run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cleanup runs: %w", err)
	}

	return runs, nil
}
