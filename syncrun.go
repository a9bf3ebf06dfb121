package pkgmirror

import "time"

// SyncStatus is the terminal state of a sync run.
type SyncStatus string

const (
	SyncRunning SyncStatus = "running"
	SyncSuccess SyncStatus = "success"
	SyncFailed  SyncStatus = "failed"
	// SyncPartial means at least one item failed but at least one
	// succeeded, or the run was cancelled after partial progress.
	SyncPartial SyncStatus = "partial"
)

// SyncRun is the append-only audit record of one repository sync.
type SyncRun struct {
	// ID is a UUID assigned when the run opens.
	ID           string     `json:"id"`
	RepositoryID string     `json:"repository_id"`
	Started      time.Time  `json:"started_at"`
	Completed    time.Time  `json:"completed_at,omitempty"`
	Status       SyncStatus `json:"status"`
	Downloaded   int64      `json:"downloaded"`
	Skipped      int64      `json:"skipped"`
	Failed       int64      `json:"failed"`
	Unlinked     int64      `json:"unlinked"`
	Bytes        int64      `json:"bytes_transferred"`
	Error        string     `json:"error,omitempty"`
}
