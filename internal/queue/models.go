package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

const (
	StatusPending = "pending"
	StatusSynced  = "synced"
	StatusFailed  = "failed"
)

// PendingChange is one durable queue entry: a local mutation that has not
// yet been confirmed against the remote store.
type PendingChange struct {
	ID         string          `db:"id" json:"id"`
	TableName  string          `db:"table_name" json:"tableName"`
	Operation  Operation       `db:"operation" json:"operation"`
	RecordID   string          `db:"record_id" json:"recordId,omitempty"`
	RecordData json.RawMessage `db:"record_data" json:"recordData,omitempty"`
	Status     string          `db:"status" json:"status"`
	Attempts   int             `db:"attempts" json:"attempts"`
	EnqueuedAt time.Time       `db:"enqueued_at" json:"enqueuedAt"`
}

func (c PendingChange) String() string {
	return fmt.Sprintf("[%s] %s id=%s record=%s", c.Operation, c.TableName, c.ID, c.RecordID)
}

// SyncHistory records the outcome of one completed sync pass.
type SyncHistory struct {
	ID           string    `db:"id" json:"id"`
	StartedAt    time.Time `db:"started_at" json:"startedAt"`
	CompletedAt  time.Time `db:"completed_at" json:"completedAt"`
	Processed    int       `db:"processed" json:"processed"`
	Succeeded    int       `db:"succeeded" json:"succeeded"`
	Failed       int       `db:"failed" json:"failed"`
	Status       string    `db:"status" json:"status"`
	ErrorMessage string    `db:"error_message" json:"errorMessage,omitempty"`
}
