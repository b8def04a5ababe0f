package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"propsync-service/internal/breaker"
	"propsync-service/internal/config"
	"propsync-service/internal/logger"
	"propsync-service/internal/netmon"
	"propsync-service/internal/notify"
	"propsync-service/internal/queue"
	"propsync-service/internal/remote"
)

// Service drains the durable pending-change queue into the remote store.
// Table groups drain concurrently; within a group, items go out strictly in
// enqueue order so an update never races ahead of the insert it depends on.
// At most one pass runs at a time.
type Service struct {
	cfg   config.SyncConfig
	store queue.Store
	rem   remote.Store
	brk   *breaker.Breaker
	net   *netmon.Notifier
	sink  notify.Sink

	mu      sync.Mutex
	running bool
	started bool
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	events chan netmon.Event
	wg     sync.WaitGroup
}

func NewService(cfg config.SyncConfig, store queue.Store, rem remote.Store, brk *breaker.Breaker, net *netmon.Notifier, sink notify.Sink) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:    cfg,
		store:  store,
		rem:    rem,
		brk:    brk,
		net:    net,
		sink:   sink,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start wires the event-driven triggers: an online edge and a storage-change
// signal each kick off a pass. The periodic trigger lives in Scheduler.
func (s *Service) Start() {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.events = s.net.Subscribe()
	s.mu.Unlock()

	s.wg.Add(1)
	go s.eventLoop()

	logger.Log.Info("Sync service started",
		zap.Int("batchSize", s.cfg.BatchSize),
		zap.Int("maxRetries", s.cfg.MaxRetries),
	)
}

// Stop tears down the event listeners. Idempotent.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	events := s.events
	s.mu.Unlock()

	s.cancel()
	if events != nil {
		s.net.Unsubscribe(events)
	}
	s.wg.Wait()

	logger.Log.Info("Sync service stopped")
}

func (s *Service) eventLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-s.events:
			if !ok {
				return
			}
			if ev == netmon.EventOnline {
				s.triggerAsync("online")
			}
		case _, ok := <-s.store.Changes():
			if !ok {
				return
			}
			if s.net.IsOnline() {
				s.triggerAsync("storage-change")
			}
		}
	}
}

func (s *Service) triggerAsync(reason string) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		res, err := s.ForceSync(s.ctx)
		if err != nil {
			logger.Log.Debug("Sync trigger skipped", zap.String("reason", reason), zap.Error(err))
			return
		}
		if res.Processed > 0 {
			logger.Log.Info("Triggered sync pass finished",
				zap.String("reason", reason),
				zap.Int("processed", res.Processed),
				zap.Int("failed", res.Failed),
			)
		}
	}()
}

// ForceSync runs exactly one pass. If a pass is already running, the process
// is offline, or the breaker is open, it returns immediately with a zero
// result and the guard error; this is a no-op, not a failure.
func (s *Service) ForceSync(ctx context.Context) (*SyncResult, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return skipResult(ErrSyncInProgress), ErrSyncInProgress
	}
	if !s.net.IsOnline() {
		s.mu.Unlock()
		return skipResult(ErrOffline), ErrOffline
	}
	if s.brk.IsOpen() {
		s.mu.Unlock()
		return skipResult(breaker.ErrOpen), breaker.ErrOpen
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	return s.runPass(ctx), nil
}

func skipResult(reason error) *SyncResult {
	return &SyncResult{
		Errors:    []SyncError{{Err: reason.Error()}},
		Timestamp: time.Now(),
	}
}

func (s *Service) runPass(ctx context.Context) *SyncResult {
	startedAt := time.Now()

	pending, err := s.store.GetPending(ctx)
	if err != nil {
		// Local queue I/O failure aborts this pass only; the next one
		// starts from a fresh read.
		reason := fmt.Sprintf("read queue: %v", err)
		s.sink.SyncFailed(reason)
		return &SyncResult{
			Errors:    []SyncError{{Err: reason}},
			Timestamp: time.Now(),
		}
	}
	if len(pending) == 0 {
		return &SyncResult{Timestamp: time.Now()}
	}

	s.sink.SyncStarted(len(pending))

	groups := groupByTable(pending)

	results := make([]*groupResult, len(groups))
	var wg sync.WaitGroup
	for i, g := range groups {
		wg.Add(1)
		go func(i int, g tableGroup) {
			defer wg.Done()
			results[i] = s.drainGroup(ctx, g)
		}(i, g)
	}
	wg.Wait()

	res := &SyncResult{}
	var succeeded, attemptedFailed []string
	for _, gr := range results {
		res.Processed += gr.processed
		res.Succeeded += len(gr.succeeded)
		res.Failed += gr.processed - len(gr.succeeded)
		res.Errors = append(res.Errors, gr.errs...)
		succeeded = append(succeeded, gr.succeeded...)
		attemptedFailed = append(attemptedFailed, gr.attemptedFailed...)
	}

	// Marking happens only after remote confirmation. If the mark itself
	// fails the items stay pending and get resent; remote applies are
	// idempotent, so the duplicate is harmless.
	if err := s.store.MarkSynced(ctx, succeeded); err != nil {
		logger.Log.Error("Failed to mark changes synced", zap.Error(err))
		res.Errors = append(res.Errors, SyncError{Err: fmt.Sprintf("mark synced: %v", err)})
	}
	if err := s.store.RecordFailures(ctx, attemptedFailed, s.cfg.MaxRetries); err != nil {
		logger.Log.Error("Failed to record change failures", zap.Error(err))
	}

	res.Timestamp = time.Now()

	s.recordHistory(ctx, startedAt, res)
	s.sink.SyncCompleted(res.Processed, res.Succeeded, res.Failed, res.Timestamp.Sub(startedAt))

	return res
}

type tableGroup struct {
	table string
	items []*queue.PendingChange
}

type groupResult struct {
	processed       int
	succeeded       []string
	attemptedFailed []string
	errs            []SyncError
}

// groupByTable splits the backlog per table, preserving enqueue order within
// each group and first-seen order across groups.
func groupByTable(pending []*queue.PendingChange) []tableGroup {
	index := make(map[string]int)
	var groups []tableGroup
	for _, c := range pending {
		i, ok := index[c.TableName]
		if !ok {
			i = len(groups)
			index[c.TableName] = i
			groups = append(groups, tableGroup{table: c.TableName})
		}
		groups[i].items = append(groups[i].items, c)
	}
	return groups
}

// drainGroup applies one table's changes sequentially, batch by batch. A
// circuit-open rejection abandons the rest of the group; everything already
// attempted keeps its outcome.
func (s *Service) drainGroup(ctx context.Context, g tableGroup) *groupResult {
	gr := &groupResult{}

	for start := 0; start < len(g.items); start += s.cfg.BatchSize {
		end := start + s.cfg.BatchSize
		if end > len(g.items) {
			end = len(g.items)
		}
		batch := g.items[start:end]

		logger.Log.Debug("Draining batch",
			zap.String("table", g.table),
			zap.Int("size", len(batch)),
		)

		for _, c := range batch {
			if ctx.Err() != nil {
				return gr
			}

			err := s.applyChange(ctx, c)
			gr.processed++
			if err == nil {
				gr.succeeded = append(gr.succeeded, c.ID)
				continue
			}

			gr.errs = append(gr.errs, SyncError{
				ChangeID:  c.ID,
				TableName: c.TableName,
				Operation: c.Operation,
				Err:       err.Error(),
			})

			if errors.Is(err, breaker.ErrOpen) {
				// Admission refused without a remote attempt; the item keeps
				// its retry budget and the rest of the group is doomed too.
				return gr
			}

			gr.attemptedFailed = append(gr.attemptedFailed, c.ID)
			logger.Log.Warn("Failed to apply change",
				zap.String("table", c.TableName),
				zap.String("changeID", c.ID),
				zap.Error(err),
			)
		}
	}
	return gr
}

func (s *Service) applyChange(ctx context.Context, c *queue.PendingChange) error {
	return s.brk.Execute(ctx, c.TableName, func(ctx context.Context) error {
		switch c.Operation {
		case queue.OpInsert:
			return s.rem.Insert(ctx, c.TableName, c.RecordData)
		case queue.OpUpdate:
			return s.rem.Update(ctx, c.TableName, c.RecordID, c.RecordData)
		case queue.OpDelete:
			return s.rem.Delete(ctx, c.TableName, c.RecordID)
		default:
			return fmt.Errorf("unknown operation %q", c.Operation)
		}
	})
}

func (s *Service) recordHistory(ctx context.Context, startedAt time.Time, res *SyncResult) {
	if res.Processed == 0 && len(res.Errors) == 0 {
		return
	}

	status := "completed"
	if res.Failed > 0 || len(res.Errors) > 0 {
		status = "partial"
	}

	h := &queue.SyncHistory{
		StartedAt:    startedAt,
		CompletedAt:  res.Timestamp,
		Processed:    res.Processed,
		Succeeded:    res.Succeeded,
		Failed:       res.Failed,
		Status:       status,
		ErrorMessage: summarizeErrors(res.Errors),
	}
	if err := s.store.CreateSyncHistory(ctx, h); err != nil {
		logger.Log.Error("Failed to record sync history", zap.Error(err))
	}
}

func summarizeErrors(errs []SyncError) string {
	if len(errs) == 0 {
		return ""
	}
	const maxSummary = 3
	parts := make([]string, 0, maxSummary+1)
	for i, e := range errs {
		if i == maxSummary {
			parts = append(parts, fmt.Sprintf("and %d more", len(errs)-maxSummary))
			break
		}
		parts = append(parts, e.Err)
	}
	return strings.Join(parts, "; ")
}
