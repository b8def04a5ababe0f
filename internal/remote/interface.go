package remote

import (
	"context"
	"encoding/json"
	"fmt"
)

// Store is the remote backing store the queue drains into. Insert and Update
// must be idempotent per record id: the sync service guarantees at-least-once
// delivery, so a confirmed apply may be resent after a crash.
type Store interface {
	Insert(ctx context.Context, table string, record json.RawMessage) error
	Update(ctx context.Context, table, id string, record json.RawMessage) error
	Delete(ctx context.Context, table, id string) error

	// Ping is the connectivity probe: a cheap "can we reach the store" check.
	Ping(ctx context.Context) error
}

// StoreError is a structured remote failure. Status is the HTTP status when
// one was received, 0 for transport-level failures.
type StoreError struct {
	Op     string
	Table  string
	Status int
	Err    error
}

func (e *StoreError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("remote %s %s: status %d: %v", e.Op, e.Table, e.Status, e.Err)
	}
	return fmt.Sprintf("remote %s %s: %v", e.Op, e.Table, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Permanent reports whether the failure is a rejection that will not succeed
// on retry (client errors other than timeout/rate-limit). Transport failures
// and 5xx are transient.
func (e *StoreError) Permanent() bool {
	if e.Status == 0 {
		return false
	}
	if e.Status == 408 || e.Status == 429 {
		return false
	}
	return e.Status >= 400 && e.Status < 500
}
