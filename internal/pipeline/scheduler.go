package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/autopress/autopress/config"
	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"
)

// Scheduler periodically scans storage for due work items and hands them to
// the orchestrator. A redis lock keyed by (item, due time) guarantees
// at-most-once dispatch per item per due time across replicas.
type Scheduler struct {
	cfg    config.SchedulerConfig
	store  Store
	orch   *Orchestrator
	rdb    *redis.Client
	logger *log.Logger
	stop   chan struct{}
}

const dueScanLimit = 50

func NewScheduler(cfg config.SchedulerConfig, store Store, orch *Orchestrator, rdb *redis.Client, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	return &Scheduler{
		cfg:    cfg,
		store:  store,
		orch:   orch,
		rdb:    rdb,
		logger: logger,
		stop:   make(chan struct{}),
	}
}

// Start launches the scan loop in its own goroutine.
func (s *Scheduler) Start() {
	interval := s.cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-s.stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick(context.Background())
			}
		}
	}()
}

// Stop ends the scan loop. In-flight items run to completion.
func (s *Scheduler) Stop() {
	close(s.stop)
}

func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()
	items, err := s.store.DueWorkItems(ctx, now, dueScanLimit)
	if err != nil {
		s.logger.Printf("due scan failed: %v", err)
		return
	}
	for _, item := range items {
		if !s.acquire(ctx, item) {
			continue
		}
		go s.dispatch(item)
	}
}

// acquire takes the dispatch lock for one (item, due time). The lock expires
// on its own so a crashed dispatcher cannot wedge an item forever.
func (s *Scheduler) acquire(ctx context.Context, item WorkItem) bool {
	if s.rdb == nil {
		return true
	}
	ttl := s.cfg.LockTTL
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	key := fmt.Sprintf("sched:lock:%s:%d", item.ID, item.DueAt.Unix())
	ok, err := s.rdb.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		s.logger.Printf("dispatch lock for %s failed: %v", item.ID, err)
		return false
	}
	return ok
}

func (s *Scheduler) dispatch(item WorkItem) {
	// Jitter so replicas waking on the same tick do not stampede.
	time.Sleep(time.Duration(250+time.Now().UnixNano()%250) * time.Millisecond)

	ctx := context.Background()
	if err := s.orch.Process(ctx, item.ID); err != nil {
		s.logger.Printf("work item %s finished with error: %v", item.ID, err)
	}

	// Recurring items are rescheduled at their next cron occurrence.
	if item.Cron == "" {
		return
	}
	next, err := nextOccurrence(item.Cron, time.Now().UTC())
	if err != nil {
		s.logger.Printf("work item %s has invalid cron %q: %v", item.ID, item.Cron, err)
		return
	}
	if err := s.store.RescheduleWorkItem(ctx, item.ID, next); err != nil {
		s.logger.Printf("rescheduling %s failed: %v", item.ID, err)
		return
	}
	s.logger.Printf("work item %s rescheduled for %s", item.ID, next.Format(time.RFC3339))
}

// nextOccurrence resolves a schedule spec to the next run time. Supports
// @hourly, @daily and 5-field cron expressions.
func nextOccurrence(spec string, after time.Time) (time.Time, error) {
	switch spec {
	case "@hourly":
		return after.Add(time.Hour), nil
	case "@daily":
		return after.Add(24 * time.Hour), nil
	}
	expr, err := cronexpr.Parse(spec)
	if err != nil {
		return time.Time{}, err
	}
	next := expr.Next(after)
	if next.IsZero() {
		return time.Time{}, fmt.Errorf("cron %q has no future occurrence", spec)
	}
	return next, nil
}
