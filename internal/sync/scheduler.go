package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"mirror-sync-service/internal/config"
	"mirror-sync-service/internal/logger"
)

// Scheduler triggers the incremental job every IntervalMinutes and the full
// job on FullBackupSchedule.
type Scheduler struct {
	cfg      config.SchedulerConfig
	interval int
	manager  *Manager
	cron     *cron.Cron
	ctx      context.Context
	cancel   context.CancelFunc
}

func NewScheduler(cfg config.SchedulerConfig, intervalMinutes int, manager *Manager) *Scheduler {
	cl := cronLogger{l: logger.Log.Sugar()}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:      cfg,
		interval: intervalMinutes,
		manager:  manager,
		cron:     cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *Scheduler) Start() error {
	if !s.cfg.Enabled {
		logger.Log.Info("Scheduler is disabled")
		return nil
	}

	incremental := fmt.Sprintf("@every %dm", s.interval)
	logger.Log.Info("Starting scheduler",
		zap.String("incremental", incremental),
		zap.String("full", s.cfg.FullBackupSchedule),
	)

	if _, err := s.cron.AddFunc(incremental, func() { s.trigger(ModeIncremental) }); err != nil {
		return fmt.Errorf("failed to schedule incremental job: %w", err)
	}
	if _, err := s.cron.AddFunc(s.cfg.FullBackupSchedule, func() { s.trigger(ModeFull) }); err != nil {
		return fmt.Errorf("failed to schedule full backup job: %w", err)
	}

	s.cron.Start()
	return nil
}

// Stop cancels in-flight runs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	logger.Log.Info("Stopped scheduler")
}

func (s *Scheduler) trigger(mode Mode) {
	logger.Log.Info("Triggering scheduled sync", zap.String("mode", string(mode)))

	_, err := s.manager.RunCycle(s.ctx, mode)
	switch {
	case errors.Is(err, ErrRunInProgress):
		logger.Log.Info("Sync already running, skipping scheduled run", zap.String("mode", string(mode)))
	case err != nil:
		logger.Log.Error("Scheduled sync failed", zap.String("mode", string(mode)), zap.Error(err))
	}
}

// cronLogger routes robfig/cron's logging through zap.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
