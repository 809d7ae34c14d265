package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swap-cycler/internal/health"
	"github.com/swap-cycler/internal/models"
	"github.com/swap-cycler/internal/queue"
	"github.com/swap-cycler/internal/storage/storagetest"
	"github.com/swap-cycler/internal/types"
)

type recordingQueue struct {
	mu    sync.Mutex
	tasks []models.SwapTask
	fail  map[string]bool
}

func (q *recordingQueue) Enqueue(ctx context.Context, task models.SwapTask) (queue.EnqueueResult, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fail[task.Data.ID] {
		return 0, errors.New("connection refused")
	}
	q.tasks = append(q.tasks, task)
	return queue.Enqueued, nil
}

func (q *recordingQueue) ids() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]string, 0, len(q.tasks))
	for _, t := range q.tasks {
		out = append(out, t.ID)
	}
	return out
}

func job(id string, loop int) models.TradingJob {
	return models.TradingJob{
		ID:        id,
		LoopTime:  loop,
		IsBuy:     true,
		IsBalance: true,
		Status:    types.JobStatusActive,
	}
}

func newTestScheduler(t *testing.T, store *storagetest.MemoryJobStore, q Enqueuer, mutate func(*Config)) (*Scheduler, *health.Registry) {
	t.Helper()
	registry := health.NewRegistry()
	cfg := &Config{
		Jobs:         store,
		Queue:        q,
		Health:       registry,
		TickInterval: 10 * time.Millisecond,
		TickWrap:     360,
		BatchSize:    2,
	}
	if mutate != nil {
		mutate(cfg)
	}
	s, err := New(cfg)
	require.NoError(t, err)
	return s, registry
}

func TestNewValidation(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
	_, err = New(&Config{Queue: &recordingQueue{}})
	assert.Error(t, err)
	_, err = New(&Config{Jobs: storagetest.NewMemoryJobStore()})
	assert.Error(t, err)

	s, err := New(&Config{Jobs: storagetest.NewMemoryJobStore(), Queue: &recordingQueue{}})
	require.NoError(t, err)
	assert.Equal(t, time.Minute, s.interval)
	assert.Equal(t, 360, s.wrap)
	assert.Equal(t, 10, s.batchSize)
}

func TestDue(t *testing.T) {
	j := job("a", 5)
	assert.True(t, Due(&j, 0))
	assert.True(t, Due(&j, 10))
	assert.False(t, Due(&j, 11))

	j.LoopTime = 0
	assert.False(t, Due(&j, 0))
}

func TestRunTickSelectsDueJobs(t *testing.T) {
	inactive := job("d", 1)
	inactive.Status = types.JobStatusCompleted
	waiting := job("e", 3)
	waiting.IsBalance = false

	store := storagetest.NewMemoryJobStore(job("a", 1), job("b", 2), job("c", 5), inactive, waiting)
	q := &recordingQueue{}
	s, registry := newTestScheduler(t, store, q, nil)

	res, err := s.RunTick(context.Background(), 6)
	require.NoError(t, err)

	assert.Equal(t, 4, res.Active)
	assert.Equal(t, 3, res.Due)
	assert.Equal(t, 3, res.Enqueued)
	assert.ElementsMatch(t, []string{"a-6", "b-6", "e-6"}, q.ids())

	for _, task := range q.tasks {
		if task.Data.ID == "e" {
			assert.Equal(t, types.TaskCheckBalance, task.Type)
		} else {
			assert.Equal(t, types.TaskBuy, task.Type)
		}
	}
	assert.Equal(t, types.StatusUp, registry.Snapshot().Components[ComponentName].Status)
}

func TestRunTickSkipsBadLoopTime(t *testing.T) {
	store := storagetest.NewMemoryJobStore(job("a", 1), job("bad", 0))
	q := &recordingQueue{}
	s, registry := newTestScheduler(t, store, q, nil)

	res, err := s.RunTick(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Invalid)
	assert.Equal(t, []string{"a-1"}, q.ids())
	assert.Equal(t, types.StatusDegraded, registry.Snapshot().Components[ComponentName].Status)
}

func TestRunTickReportsEnqueueFailures(t *testing.T) {
	store := storagetest.NewMemoryJobStore(job("a", 1), job("b", 1), job("c", 1))
	q := &recordingQueue{fail: map[string]bool{"b": true}}
	s, registry := newTestScheduler(t, store, q, nil)

	res, err := s.RunTick(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Enqueued)
	assert.Equal(t, 1, res.Failed)

	comp := registry.Snapshot().Components[ComponentName]
	assert.Equal(t, types.StatusDegraded, comp.Status)
	assert.Contains(t, comp.Detail, "1 failed")
}

func TestRunTickListFailure(t *testing.T) {
	store := storagetest.NewMemoryJobStore()
	store.ListErr = errors.New("database unavailable")
	s, registry := newTestScheduler(t, store, &recordingQueue{}, nil)

	_, err := s.RunTick(context.Background(), 1)
	require.Error(t, err)
	assert.Equal(t, types.StatusDown, registry.Snapshot().Status)
}

func TestRunTickPacesBatches(t *testing.T) {
	store := storagetest.NewMemoryJobStore(job("a", 1), job("b", 1), job("c", 1), job("d", 1), job("e", 1))
	q := &recordingQueue{}
	s, _ := newTestScheduler(t, store, q, func(cfg *Config) {
		cfg.BatchSize = 2
		cfg.BatchDelay = 20 * time.Millisecond
	})

	start := time.Now()
	res, err := s.RunTick(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 5, res.Enqueued)
	// three batches, two pauses
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestRunTickStopsOnCancelBetweenBatches(t *testing.T) {
	store := storagetest.NewMemoryJobStore(job("a", 1), job("b", 1), job("c", 1))
	q := &recordingQueue{}
	s, _ := newTestScheduler(t, store, q, func(cfg *Config) {
		cfg.BatchSize = 1
		cfg.BatchDelay = time.Hour
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := s.RunTick(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, q.ids(), 1)
}

func TestRunTickWithRedisQueue(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	q, err := queue.NewRedisQueue(&queue.Config{Redis: client, Name: "sched", ConsumerID: "c1"})
	require.NoError(t, err)

	store := storagetest.NewMemoryJobStore(job("a", 1), job("b", 1))
	s, _ := newTestScheduler(t, store, q, nil)
	ctx := context.Background()

	res, err := s.RunTick(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Enqueued)

	// leases are still held, so the next tick must not double up
	res, err = s.RunTick(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Enqueued)
	assert.Equal(t, 2, res.InFlight)

	ready, _, _, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), ready)
}

func TestStartStop(t *testing.T) {
	store := storagetest.NewMemoryJobStore(job("a", 1))
	q := &recordingQueue{}
	s, _ := newTestScheduler(t, store, q, nil)

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	assert.Error(t, s.Start(ctx))

	require.Eventually(t, func() bool { return len(q.ids()) >= 2 }, time.Second, 5*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, s.Stop(stopCtx))
	assert.Error(t, s.Stop(stopCtx))

	ids := q.ids()
	assert.Equal(t, "a-1", ids[0])
	assert.Equal(t, "a-2", ids[1])
}

func TestTickWraps(t *testing.T) {
	s, _ := newTestScheduler(t, storagetest.NewMemoryJobStore(), &recordingQueue{}, func(cfg *Config) {
		cfg.TickWrap = 3
	})
	var got []int
	for i := 0; i < 5; i++ {
		tick, err := s.nextTick(context.Background())
		require.NoError(t, err)
		got = append(got, tick)
	}
	assert.Equal(t, []int{1, 2, 0, 1, 2}, got)
}

func TestTickSequenceSurvivesRestart(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	q, err := queue.NewRedisQueue(&queue.Config{Redis: client, Name: "sched", ConsumerID: "c1"})
	require.NoError(t, err)
	store := storagetest.NewMemoryJobStore(job("a", 1))
	ctx := context.Background()

	runOnce := func() TickResult {
		s, _ := newTestScheduler(t, store, q, func(cfg *Config) {
			cfg.Counter = NewRedisTickCounter(client, "sched:tick")
		})
		tick, err := s.nextTick(ctx)
		require.NoError(t, err)
		res, err := s.RunTick(ctx, tick)
		require.NoError(t, err)
		return res
	}

	first := runOnce()
	assert.Equal(t, 1, first.Tick)
	assert.Equal(t, 1, first.Enqueued)

	// the task completes, then the process restarts
	d, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, d)
	require.NoError(t, q.Settle(ctx, d, queue.Success{}))

	second := runOnce()
	assert.Equal(t, 2, second.Tick)
	assert.Equal(t, 1, second.Enqueued)
	assert.Zero(t, second.Duplicate)
}

func TestRunTickReportsDuplicates(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	q, err := queue.NewRedisQueue(&queue.Config{Redis: client, Name: "sched", ConsumerID: "c1"})
	require.NoError(t, err)
	store := storagetest.NewMemoryJobStore(job("a", 1))
	s, registry := newTestScheduler(t, store, q, nil)
	ctx := context.Background()

	_, err = s.RunTick(ctx, 5)
	require.NoError(t, err)
	d, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, d)
	require.NoError(t, q.Settle(ctx, d, queue.Success{}))

	res, err := s.RunTick(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Duplicate)
	assert.Zero(t, res.Enqueued)

	c := registry.Snapshot().Components[ComponentName]
	assert.Equal(t, types.StatusDegraded, c.Status)
	assert.Contains(t, c.Detail, "1 duplicate")
}
