// Package notify carries high-level sync and reconnection events to whatever
// user-facing surface the application wires in. The core never exposes
// per-record detail here, only aggregates.
package notify

import (
	"time"

	"go.uber.org/zap"

	"propsync-service/internal/logger"
)

type Sink interface {
	SyncStarted(pending int)
	SyncCompleted(processed, succeeded, failed int, took time.Duration)
	SyncFailed(reason string)

	ReconnectScheduled(attempt int, delay time.Duration)
	ReconnectSucceeded()
	ReconnectFailed(attempt int)
	ReconnectExhausted(attempts int)

	ConnectionChanged(online bool)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) SyncStarted(int)                            {}
func (NopSink) SyncCompleted(int, int, int, time.Duration) {}
func (NopSink) SyncFailed(string)                          {}
func (NopSink) ReconnectScheduled(int, time.Duration)      {}
func (NopSink) ReconnectSucceeded()                        {}
func (NopSink) ReconnectFailed(int)                        {}
func (NopSink) ReconnectExhausted(int)                     {}
func (NopSink) ConnectionChanged(bool)                     {}

// LogSink writes events to the process logger. It is the default sink when
// no UI layer is attached.
type LogSink struct{}

func (LogSink) SyncStarted(pending int) {
	logger.Log.Info("Sync pass started", zap.Int("pending", pending))
}

func (LogSink) SyncCompleted(processed, succeeded, failed int, took time.Duration) {
	logger.Log.Info("Sync pass completed",
		zap.Int("processed", processed),
		zap.Int("succeeded", succeeded),
		zap.Int("failed", failed),
		zap.Duration("took", took),
	)
}

func (LogSink) SyncFailed(reason string) {
	logger.Log.Warn("Sync pass failed", zap.String("reason", reason))
}

func (LogSink) ReconnectScheduled(attempt int, delay time.Duration) {
	logger.Log.Info("Reconnection attempt scheduled",
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
	)
}

func (LogSink) ReconnectSucceeded() {
	logger.Log.Info("Reconnection succeeded")
}

func (LogSink) ReconnectFailed(attempt int) {
	logger.Log.Warn("Reconnection attempt failed", zap.Int("attempt", attempt))
}

func (LogSink) ReconnectExhausted(attempts int) {
	logger.Log.Error("Reconnection attempts exhausted", zap.Int("attempts", attempts))
}

func (LogSink) ConnectionChanged(online bool) {
	logger.Log.Info("Connection status changed", zap.Bool("online", online))
}
