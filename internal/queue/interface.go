package queue

import (
	"context"
)

type Store interface {
	// Pending changes
	Enqueue(ctx context.Context, change *PendingChange) error
	GetPending(ctx context.Context) ([]*PendingChange, error)
	MarkSynced(ctx context.Context, ids []string) error
	RecordFailures(ctx context.Context, ids []string, maxRetries int) error
	PendingCount(ctx context.Context) (int, error)
	ListDeadLetters(ctx context.Context, limit, offset int) ([]*PendingChange, error)

	// History
	CreateSyncHistory(ctx context.Context, h *SyncHistory) error
	ListSyncHistory(ctx context.Context, limit, offset int) ([]*SyncHistory, error)

	// Changes signals that new work was enqueued. Receivers must treat it
	// as a wake-up, not a count; signals are coalesced.
	Changes() <-chan struct{}

	// General
	Close() error
}
