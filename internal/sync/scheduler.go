package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"propsync-service/internal/logger"
	"propsync-service/internal/netmon"
)

// Scheduler fires a sync pass at a fixed interval whenever the process is
// online. ForceSync's own guard handles overlap with event-triggered passes.
type Scheduler struct {
	interval time.Duration
	svc      *Service
	net      *netmon.Notifier
	cron     *cron.Cron
	entryID  cron.EntryID
}

func NewScheduler(interval time.Duration, svc *Service, net *netmon.Notifier) *Scheduler {
	return &Scheduler{
		interval: interval,
		svc:      svc,
		net:      net,
		cron:     cron.New(),
	}
}

func (s *Scheduler) Start() {
	spec := fmt.Sprintf("@every %s", s.interval)

	id, err := s.cron.AddFunc(spec, s.triggerSync)
	if err != nil {
		logger.Log.Error("Failed to schedule sync job", zap.Error(err))
		return
	}

	s.entryID = id
	s.cron.Start()
	logger.Log.Info("Sync scheduler started", zap.Duration("interval", s.interval))
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	logger.Log.Info("Sync scheduler stopped")
}

func (s *Scheduler) triggerSync() {
	if !s.net.IsOnline() {
		logger.Log.Debug("Skipping scheduled sync while offline")
		return
	}

	res, err := s.svc.ForceSync(context.Background())
	if err != nil {
		logger.Log.Debug("Scheduled sync skipped", zap.Error(err))
		return
	}
	if res.Processed > 0 {
		logger.Log.Info("Scheduled sync pass finished",
			zap.Int("processed", res.Processed),
			zap.Int("succeeded", res.Succeeded),
			zap.Int("failed", res.Failed),
		)
	}
}
