package types

import "time"

// ConflictPolicy selects how a backend conflict is resolved.
type ConflictPolicy string

const (
	PolicyUseLocal  ConflictPolicy = "USE_LOCAL"
	PolicyUseServer ConflictPolicy = "USE_SERVER"
	PolicyMerge     ConflictPolicy = "MERGE"
	PolicyManual    ConflictPolicy = "MANUAL"
)

// IsValid reports whether p is a known policy.
func (p ConflictPolicy) IsValid() bool {
	switch p {
	case PolicyUseLocal, PolicyUseServer, PolicyMerge, PolicyManual:
		return true
	default:
		return false
	}
}

// SubmitOptions tunes a backend submission.
type SubmitOptions struct {
	// Force overwrites the backend record when it differs.
	Force bool `json:"force,omitempty"`
}

// SubmitResult is the backend's answer to a submission. A transport or
// server failure is reported as an error instead.
type SubmitResult struct {
	Accepted      bool                `json:"accepted"`
	ServerID      string              `json:"server_id,omitempty"`
	Conflict      bool                `json:"conflict,omitempty"`
	ServerVersion *OfflineTransaction `json:"server_version,omitempty"`
}

// SyncResult summarises one sync run.
type SyncResult struct {
	Success   bool          `json:"success"`
	Error     string        `json:"error,omitempty"`
	Synced    int           `json:"synced"`
	Failed    int           `json:"failed"`
	Conflicts int           `json:"conflicts"`
	Skipped   int           `json:"skipped"`
	StartedAt time.Time     `json:"started_at,omitzero"`
	Duration  time.Duration `json:"duration,omitempty"`
}

// SyncStats is a snapshot derived from the queue plus the sync schedule.
type SyncStats struct {
	QueueStats
	InProgress   bool      `json:"in_progress"`
	LastSyncTime time.Time `json:"last_sync_time,omitzero"`
	NextSyncTime time.Time `json:"next_sync_time,omitzero"`
}

// QueueStats aggregates the ledger, recomputed on every call.
type QueueStats struct {
	Total         int       `json:"total"`
	Pending       int       `json:"pending"`
	Syncing       int       `json:"syncing"`
	Synced        int       `json:"synced"`
	Failed        int       `json:"failed"`
	Conflicts     int       `json:"conflicts"`
	TotalAmount   Amount    `json:"total_amount"`
	OldestPending time.Time `json:"oldest_pending,omitzero"`
}
