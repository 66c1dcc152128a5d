package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"quota-gateway/internal/config"
	"quota-gateway/internal/quota"
	"quota-gateway/internal/service"
)

// Background jobs: periodically drains per-user queues as quota frees up,
// and once a day trims old request logs out of postgres.
type Scheduler struct {
	mu        sync.Mutex
	limiter   *quota.Service
	analytics *service.AnalyticsService
	cfg       config.SchedulerConfig
	stopChan  chan struct{}
	running   bool
}

func NewScheduler(limiter *quota.Service, analytics *service.AnalyticsService, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		limiter:   limiter,
		analytics: analytics,
		cfg:       cfg,
		stopChan:  make(chan struct{}),
	}
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	drainInterval := time.Duration(s.cfg.DrainIntervalSec) * time.Second
	if drainInterval <= 0 {
		drainInterval = 5 * time.Minute
	}

	log.Printf("Starting scheduler (drain interval: %v)", drainInterval)

	go func() {
		drainTicker := time.NewTicker(drainInterval)
		cleanupTicker := time.NewTicker(24 * time.Hour)
		defer drainTicker.Stop()
		defer cleanupTicker.Stop()

		for {
			select {
			case <-drainTicker.C:
				s.DrainQueues(context.Background())
			case <-cleanupTicker.C:
				s.CleanupLogs(context.Background())
			case <-s.stopChan:
				return
			}
		}
	}()
}

func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		close(s.stopChan)
		s.running = false
		log.Printf("Scheduler stopped")
	}
}

// DrainQueues replays queued requests for every user with a non-empty queue.
// Replayed requests go through the normal admission path, so nothing is
// released unless quota is actually available.
func (s *Scheduler) DrainQueues(ctx context.Context) int {
	batch := int64(s.cfg.DrainBatchSize)
	if batch <= 0 {
		batch = 10
	}

	released := 0
	for _, key := range s.limiter.Store().ScanQueueKeys(ctx) {
		userID, ok := quota.UserIDFromQueueKey(key)
		if !ok {
			continue
		}

		n, err := s.limiter.ProcessQueue(ctx, userID, batch)
		if err != nil {
			log.Printf("scheduler: draining queue for user %s failed: %v", userID, err)
			continue
		}
		released += n
	}

	if released > 0 {
		log.Printf("scheduler: released %d queued requests", released)
	}
	return released
}

// CleanupLogs removes request logs older than the configured retention.
func (s *Scheduler) CleanupLogs(ctx context.Context) {
	if s.analytics == nil {
		return
	}

	retention := s.cfg.LogRetentionDays
	if retention <= 0 {
		retention = 30
	}

	deleted, err := s.analytics.CleanupOldLogs(ctx, retention)
	if err != nil {
		log.Printf("scheduler: request log cleanup failed: %v", err)
		return
	}
	if deleted > 0 {
		log.Printf("scheduler: removed %d request logs older than %d days", deleted, retention)
	}
}
