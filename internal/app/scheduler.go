package app

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Ad1tya-007/prodlines/internal/config"
	"github.com/Ad1tya-007/prodlines/internal/leader"
	"github.com/Ad1tya-007/prodlines/internal/store"
)

// Scheduler drives the batch buckets from in-process tickers for
// deployments without an external cron. It reuses the exact batch path
// the HTTP trigger runs. With multiple replicas only the elected leader
// ticks; a nil elector means this replica always leads.
type Scheduler struct {
	api     *API
	cfg     config.SchedulerConfig
	elector leader.Elector
	logger  *zap.Logger

	observing atomic.Bool
	leading   atomic.Bool

	mu         sync.Mutex
	cancel     context.CancelFunc
	observerWG sync.WaitGroup

	loopCancel context.CancelFunc
	loopWG     sync.WaitGroup
}

func newScheduler(api *API, cfg config.SchedulerConfig, elector leader.Elector, logger *zap.Logger) *Scheduler {
	return &Scheduler{api: api, cfg: cfg, elector: elector, logger: logger}
}

// Start launches election observation. Calling Start on a running
// scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	observeCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.observing.Store(true)
	s.observerWG.Add(1)
	go s.observe(observeCtx)
	s.logger.Info("batch scheduler started")
}

func (s *Scheduler) observe(ctx context.Context) {
	defer s.observerWG.Done()
	defer s.stopLoops()

	roles, errs := leader.NewRunner(s.elector, s.logger).Start(ctx)
	for roles != nil || errs != nil {
		select {
		case role, ok := <-roles:
			if !ok {
				roles = nil
				continue
			}
			if role {
				s.startLoops(ctx)
			} else {
				s.stopLoops()
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			// An elector failure demotes this replica; batches resume
			// when another replica leads or this one restarts.
			s.logger.Error("leader election failed, scheduler demoted", zap.Error(err))
			s.stopLoops()
		}
	}
}

func (s *Scheduler) startLoops(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loopCancel != nil {
		return
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.loopCancel = cancel
	s.leading.Store(true)

	intervals := map[store.FrequencyBucket]time.Duration{
		store.BucketHourly: s.cfg.HourlyInterval,
		store.BucketDaily:  s.cfg.DailyInterval,
		store.BucketWeekly: s.cfg.WeeklyInterval,
	}
	for _, bucket := range store.BatchBuckets() {
		interval := intervals[bucket]
		if interval <= 0 {
			continue
		}
		s.loopWG.Add(1)
		go s.runLoop(loopCtx, bucket, interval)
	}
	s.logger.Info("scheduler ticker loops started")
}

func (s *Scheduler) stopLoops() {
	s.mu.Lock()
	cancel := s.loopCancel
	s.loopCancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.loopWG.Wait()
	s.leading.Store(false)
	s.logger.Info("scheduler ticker loops stopped")
}

func (s *Scheduler) runLoop(ctx context.Context, bucket store.FrequencyBucket, interval time.Duration) {
	defer s.loopWG.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.api.runBatch(ctx, bucket, "scheduler")
		}
	}
}

// Stop cancels election observation and waits for in-flight batches.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.observerWG.Wait()
	s.observing.Store(false)
	s.logger.Info("batch scheduler stopped")
}

// Healthy reports whether election observation is running. A follower
// replica on standby is healthy.
func (s *Scheduler) Healthy() bool {
	return s.observing.Load()
}

// Leading reports whether this replica currently runs the ticker loops.
func (s *Scheduler) Leading() bool {
	return s.leading.Load()
}
