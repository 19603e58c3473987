package model

import "time"

type SyncOutcome string

const (
	SyncOutcomeCompleted SyncOutcome = "completed"
	SyncOutcomeFailed    SyncOutcome = "failed"
)

// SyncStatus tracks issue synchronization for one repository.
// At most one sync may hold InProgress at a time.
type SyncStatus struct {
	UpdatedAt    time.Time    `json:"updated_at"`
	LastCursor   *string      `json:"last_cursor,omitempty"`
	// RunID identifies the run holding InProgress.
	RunID        *int64       `json:"run_id,omitempty"`
	LastSyncAt   *time.Time   `json:"last_sync_at,omitempty"`
	StartedAt    *time.Time   `json:"started_at,omitempty"`
	LastOutcome  *SyncOutcome `json:"last_outcome,omitempty"`
	LastError    *string      `json:"last_error,omitempty"`
	RepositoryID int64        `json:"repository_id"`
	InProgress   bool         `json:"in_progress"`
}
