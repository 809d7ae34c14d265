// Package scheduler enqueues a swap task for every trading job that is due
// on the current tick.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/swap-cycler/internal/errors"
	"github.com/swap-cycler/internal/health"
	"github.com/swap-cycler/internal/logging"
	"github.com/swap-cycler/internal/metrics"
	"github.com/swap-cycler/internal/models"
	"github.com/swap-cycler/internal/queue"
	"github.com/swap-cycler/internal/storage"
	"github.com/swap-cycler/internal/types"
)

// ComponentName is the health registry key
const ComponentName = "scheduler"

// Enqueuer accepts scheduled tasks
type Enqueuer interface {
	Enqueue(ctx context.Context, task models.SwapTask) (queue.EnqueueResult, error)
}

// TickCounter hands out increasing tick numbers. A shared counter keeps the
// sequence, and with it task ids, moving forward across restarts.
type TickCounter interface {
	Next(ctx context.Context) (int64, error)
}

// RedisTickCounter keeps the tick sequence in a Redis key
type RedisTickCounter struct {
	redis redis.Cmdable
	key   string
}

// NewRedisTickCounter creates a counter stored under key
func NewRedisTickCounter(client redis.Cmdable, key string) *RedisTickCounter {
	return &RedisTickCounter{redis: client, key: key}
}

// Next increments and returns the counter
func (c *RedisTickCounter) Next(ctx context.Context) (int64, error) {
	n, err := c.redis.Incr(ctx, c.key).Result()
	if err != nil {
		return 0, apperrors.NewBrokerError("tick counter", err)
	}
	return n, nil
}

type localCounter struct {
	mu sync.Mutex
	n  int64
}

func (c *localCounter) Next(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n++
	return c.n, nil
}

// Config holds scheduler dependencies and pacing
type Config struct {
	Jobs         storage.JobStore
	Queue        Enqueuer
	Counter      TickCounter // in-process when nil
	Health       *health.Registry
	Metrics      *metrics.Metrics
	TickInterval time.Duration
	TickWrap     int
	BatchSize    int
	BatchDelay   time.Duration
}

// TickResult summarizes one tick
type TickResult struct {
	Tick      int
	Active    int
	Due       int
	Enqueued  int
	InFlight  int // skipped, a task for the job is still in flight
	Duplicate int // task id the queue had already seen
	Invalid   int // skipped, bad loop time
	Failed    int
}

// Scheduler is the producer side of the pipeline
type Scheduler struct {
	jobs     storage.JobStore
	queue    Enqueuer
	registry *health.Registry
	metrics  *metrics.Metrics

	interval   time.Duration
	wrap       int
	batchSize  int
	batchDelay time.Duration

	counter TickCounter

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
	now     func() time.Time
}

// New creates a scheduler
func New(cfg *Config) (*Scheduler, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if cfg.Jobs == nil {
		return nil, fmt.Errorf("job store cannot be nil")
	}
	if cfg.Queue == nil {
		return nil, fmt.Errorf("queue cannot be nil")
	}

	s := &Scheduler{
		jobs:       cfg.Jobs,
		queue:      cfg.Queue,
		registry:   cfg.Health,
		metrics:    cfg.Metrics,
		interval:   cfg.TickInterval,
		wrap:       cfg.TickWrap,
		batchSize:  cfg.BatchSize,
		batchDelay: cfg.BatchDelay,
		counter:    cfg.Counter,
		now:        time.Now,
	}
	if s.counter == nil {
		s.counter = &localCounter{}
	}
	if s.interval <= 0 {
		s.interval = time.Minute
	}
	if s.wrap <= 0 {
		s.wrap = 360
	}
	if s.batchSize <= 0 {
		s.batchSize = 10
	}
	if s.batchDelay < 0 {
		s.batchDelay = 0
	}
	return s, nil
}

// Due reports whether job fires on tick
func Due(job *models.TradingJob, tick int) bool {
	return job.LoopTime > 0 && tick%job.LoopTime == 0
}

// Start runs the tick loop in the background
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler is already running")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	logging.WithFields(map[string]interface{}{
		"interval":    s.interval.String(),
		"wrap":        s.wrap,
		"batch_size":  s.batchSize,
		"batch_delay": s.batchDelay.String(),
	}).Info("Starting scheduler")

	go s.loop(ctx)
	return nil
}

// Stop signals the loop and waits for the current tick to finish
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return fmt.Errorf("scheduler is not running")
	}
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	logging.Infof("Scheduler stopped")
	return nil
}

// Run blocks and ticks until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.mu.Lock()
	done := s.doneCh
	s.mu.Unlock()
	<-done
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			tick, err := s.nextTick(ctx)
			if err != nil {
				s.report(types.StatusDown, err.Error())
				logging.WithError(err).Error("Failed to advance tick")
				continue
			}
			if _, err := s.RunTick(ctx, tick); err != nil {
				logging.WithError(err).WithField("tick", tick).Error("Scheduler tick failed")
			}
		}
	}
}

// nextTick advances the counter and wraps it
func (s *Scheduler) nextTick(ctx context.Context) (int, error) {
	n, err := s.counter.Next(ctx)
	if err != nil {
		return 0, err
	}
	return int(n % int64(s.wrap)), nil
}

// RunTick lists active jobs and enqueues a task for each one due on tick.
// Batches are enqueued concurrently and paced by the batch delay.
func (s *Scheduler) RunTick(ctx context.Context, tick int) (TickResult, error) {
	result := TickResult{Tick: tick}
	log := logging.FromContext(ctx).WithField("tick", tick)

	jobs, err := s.jobs.ListActiveJobs(ctx)
	if err != nil {
		s.report(types.StatusDown, fmt.Sprintf("list active jobs: %v", err))
		return result, fmt.Errorf("failed to list active jobs: %w", err)
	}
	result.Active = len(jobs)

	var due []models.TradingJob
	for i := range jobs {
		job := &jobs[i]
		if !job.Active() {
			continue
		}
		if job.LoopTime <= 0 {
			result.Invalid++
			log.WithError(apperrors.NewConfigurationError("BAD_LOOP_TIME",
				fmt.Sprintf("job %s has loop time %d", job.ID, job.LoopTime))).Warn("Skipping job")
			continue
		}
		if Due(job, tick) {
			due = append(due, *job)
		}
	}
	result.Due = len(due)
	s.metrics.Tick(len(due))

	now := s.now()
	for start := 0; start < len(due); start += s.batchSize {
		if start > 0 && s.batchDelay > 0 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(s.batchDelay):
			}
		}
		end := min(start+s.batchSize, len(due))
		s.enqueueBatch(ctx, due[start:end], tick, now, &result)
	}

	detail := fmt.Sprintf("tick %d: %d due, %d enqueued, %d in flight, %d duplicate, %d failed",
		tick, result.Due, result.Enqueued, result.InFlight, result.Duplicate, result.Failed)
	if result.Failed > 0 || result.Invalid > 0 || result.Duplicate > 0 {
		s.report(types.StatusDegraded, detail)
	} else {
		s.report(types.StatusUp, detail)
	}
	if result.Due > 0 {
		log.WithFields(map[string]interface{}{
			"due":       result.Due,
			"enqueued":  result.Enqueued,
			"in_flight": result.InFlight,
			"duplicate": result.Duplicate,
			"failed":    result.Failed,
		}).Info("Tick processed")
	}
	return result, nil
}

func (s *Scheduler) enqueueBatch(ctx context.Context, batch []models.TradingJob, tick int, now time.Time, result *TickResult) {
	var wg sync.WaitGroup
	var mu sync.Mutex

	for i := range batch {
		wg.Add(1)
		go func(job models.TradingJob) {
			defer wg.Done()
			task := models.NewScheduledTask(job, tick, now)

			res, err := s.queue.Enqueue(ctx, task)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				s.metrics.Enqueued(string(task.Type), "error")
				logging.FromContext(ctx).WithError(err).WithFields(map[string]interface{}{
					"job_id":  job.ID,
					"task_id": task.ID,
				}).Error("Failed to enqueue task")
				return
			}
			s.metrics.Enqueued(string(task.Type), res.String())
			switch res {
			case queue.Enqueued:
				result.Enqueued++
			case queue.InFlight:
				result.InFlight++
			case queue.Duplicate:
				result.Duplicate++
				logging.FromContext(ctx).WithFields(map[string]interface{}{
					"job_id":  job.ID,
					"task_id": task.ID,
				}).Warn("Task id already used, job not scheduled this tick")
			}
		}(batch[i])
	}
	wg.Wait()
}

func (s *Scheduler) report(status types.ComponentStatus, detail string) {
	if s.registry != nil {
		s.registry.Report(ComponentName, status, detail)
	}
}
