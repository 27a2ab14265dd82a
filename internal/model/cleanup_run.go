package model

import "time"

// CleanupStatus is the outcome of a reconciliation run.
type CleanupStatus string

const (
	// CleanupNoop means there was nothing to delete.
	CleanupNoop CleanupStatus = "noop"
	// CleanupCompleted means every batch was attempted.
	CleanupCompleted CleanupStatus = "completed"
	// CleanupAborted means the run stopped before deleting anything
	// because group membership could not be trusted.
	CleanupAborted CleanupStatus = "aborted"
	// CleanupFailed means a step before deletion returned an error.
	CleanupFailed CleanupStatus = "failed"
)

// CleanupRun records a single reconciliation run.
type CleanupRun struct {
	ID            string        `json:"id"`
	Trigger       string        `json:"trigger"`
	Status        CleanupStatus `json:"status"`
	Accounts      int           `json:"accounts"`
	Members       int           `json:"members"`
	Candidates    int           `json:"candidates"`
	Deleted       int           `json:"deleted"`
	FailedBatches int           `json:"failed_batches"`
	Error         string        `json:"error,omitempty"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`
}
