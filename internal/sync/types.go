package sync

import (
	"errors"
	"time"

	"propsync-service/internal/queue"
)

var (
	// ErrSyncInProgress means another pass holds the drain lock. The second
	// caller gets a zero result, never a concurrent pass.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrOffline means the network signal reports offline and the pass was
	// skipped without touching the queue.
	ErrOffline = errors.New("network is offline")
)

// SyncResult is the immutable report of one sync pass.
// Processed == Succeeded + Failed always holds.
type SyncResult struct {
	Processed int         `json:"processed"`
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Errors    []SyncError `json:"errors,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

func (r *SyncResult) Success() bool {
	return r.Failed == 0 && len(r.Errors) == 0
}

type SyncError struct {
	ChangeID  string          `json:"changeId,omitempty"`
	TableName string          `json:"tableName,omitempty"`
	Operation queue.Operation `json:"operation,omitempty"`
	Err       string          `json:"error"`
}
