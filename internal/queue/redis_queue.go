package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	apperrors "github.com/swap-cycler/internal/errors"
	"github.com/swap-cycler/internal/logging"
	"github.com/swap-cycler/internal/metrics"
	"github.com/swap-cycler/internal/models"
)

// EnqueueResult reports what an enqueue did
type EnqueueResult int

const (
	Enqueued EnqueueResult = iota
	// Duplicate means the task id was already enqueued or completed
	Duplicate
	// InFlight means another task holds the job's lease
	InFlight
)

func (r EnqueueResult) String() string {
	switch r {
	case Enqueued:
		return "enqueued"
	case Duplicate:
		return "duplicate"
	case InFlight:
		return "in_flight"
	}
	return "unknown"
}

// Envelope is the stored message
type Envelope struct {
	MessageID  string          `json:"messageId"`
	RetryCount int             `json:"retryCount"`
	Body       json.RawMessage `json:"body"`
}

// Meta is the delivery metadata passed to handlers
type Meta struct {
	MessageID  string
	RetryCount int
}

// Delivery is one dequeued message
type Delivery struct {
	Meta
	Task models.SwapTask
	raw  string
}

// Handler processes one task and returns how to settle it
type Handler interface {
	Handle(ctx context.Context, task models.SwapTask, meta Meta) Outcome
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, task models.SwapTask, meta Meta) Outcome

func (f HandlerFunc) Handle(ctx context.Context, task models.SwapTask, meta Meta) Outcome {
	return f(ctx, task, meta)
}

// DropFunc is called when a task is dropped after exhausting its retries
type DropFunc func(ctx context.Context, task models.SwapTask, reason error)

// Config holds queue settings
type Config struct {
	Redis        redis.Cmdable
	Name         string
	ConsumerID   string
	Prefetch     int
	MaxRetries   int
	RetryBackoff time.Duration
	LeaseTTL     time.Duration
	DedupTTL     time.Duration
	DoneTTL      time.Duration
	BlockTimeout time.Duration
	OnDrop       DropFunc
	Metrics      *metrics.Metrics
}

// RedisQueue is a reliable list-based queue. Messages move from the ready
// list into a per-consumer processing list and leave it only when settled.
type RedisQueue struct {
	redis   redis.Cmdable
	cfg     Config
	metrics *metrics.Metrics
	now     func() time.Time
}

// enqueue is atomic so a task id is never pushed twice and a job never has
// two messages in flight. Returns 1 enqueued, 0 duplicate, -1 lease held.
var enqueueScript = redis.NewScript(`
	local taskKey, leaseKey, readyKey, doneKey = KEYS[1], KEYS[2], KEYS[3], KEYS[4]
	local taskID, msg, dedupTTL, leaseTTL, takeover = ARGV[1], ARGV[2], ARGV[3], ARGV[4], ARGV[5]

	if redis.call('EXISTS', doneKey) == 1 then
		return 0
	end
	if takeover ~= '1' and redis.call('EXISTS', leaseKey) == 1 then
		return -1
	end
	if not redis.call('SET', taskKey, '1', 'NX', 'PX', dedupTTL) then
		return 0
	end
	redis.call('SET', leaseKey, taskID, 'PX', leaseTTL)
	redis.call('LPUSH', readyKey, msg)
	return 1
`)

// ack removes the message, marks the task done and releases the lease if
// this task still owns it
var ackScript = redis.NewScript(`
	local processingKey, doneKey, leaseKey = KEYS[1], KEYS[2], KEYS[3]
	local msg, taskID, doneTTL = ARGV[1], ARGV[2], ARGV[3]

	redis.call('LREM', processingKey, 1, msg)
	redis.call('SET', doneKey, '1', 'PX', doneTTL)
	if redis.call('GET', leaseKey) == taskID then
		redis.call('DEL', leaseKey)
	end
	return 1
`)

var requeueScript = redis.NewScript(`
	local processingKey, readyKey, delayedKey, leaseKey = KEYS[1], KEYS[2], KEYS[3], KEYS[4]
	local oldMsg, newMsg, readyAt, leaseTTL = ARGV[1], ARGV[2], tonumber(ARGV[3]), ARGV[4]

	redis.call('LREM', processingKey, 1, oldMsg)
	if readyAt > 0 then
		redis.call('ZADD', delayedKey, readyAt, newMsg)
	else
		redis.call('LPUSH', readyKey, newMsg)
	end
	redis.call('PEXPIRE', leaseKey, leaseTTL)
	return 1
`)

// claimLease binds the job's lease to the dequeued task and returns 0 when a
// different task already holds it
var claimLeaseScript = redis.NewScript(`
	local leaseKey, taskID, leaseTTL = KEYS[1], ARGV[1], ARGV[2]

	local owner = redis.call('GET', leaseKey)
	if owner and owner ~= taskID then
		return 0
	end
	redis.call('SET', leaseKey, taskID, 'PX', leaseTTL)
	return 1
`)

var promoteScript = redis.NewScript(`
	local delayedKey, readyKey = KEYS[1], KEYS[2]
	local due = redis.call('ZRANGEBYSCORE', delayedKey, '-inf', ARGV[1], 'LIMIT', 0, 100)
	for _, msg in ipairs(due) do
		redis.call('ZREM', delayedKey, msg)
		redis.call('LPUSH', readyKey, msg)
	end
	return #due
`)

// NewRedisQueue creates a queue
func NewRedisQueue(cfg *Config) (*RedisQueue, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if cfg.Redis == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	c := *cfg
	if c.Name == "" {
		c.Name = "swap_tasks"
	}
	if c.ConsumerID == "" {
		c.ConsumerID = "worker"
	}
	if c.Prefetch <= 0 {
		c.Prefetch = 10
	}
	if c.MaxRetries < 0 {
		return nil, fmt.Errorf("max retries must not be negative")
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 5 * time.Minute
	}
	if c.DedupTTL <= 0 {
		c.DedupTTL = time.Hour
	}
	if c.DoneTTL <= 0 {
		c.DoneTTL = time.Hour
	}
	if c.BlockTimeout <= 0 {
		c.BlockTimeout = 2 * time.Second
	}

	return &RedisQueue{
		redis:   c.Redis,
		cfg:     c,
		metrics: c.Metrics,
		now:     time.Now,
	}, nil
}

func (q *RedisQueue) readyKey() string      { return q.cfg.Name + ":ready" }
func (q *RedisQueue) delayedKey() string    { return q.cfg.Name + ":delayed" }
func (q *RedisQueue) processingKey() string { return q.cfg.Name + ":processing:" + q.cfg.ConsumerID }
func (q *RedisQueue) taskKey(id string) string {
	return q.cfg.Name + ":task:" + id
}
func (q *RedisQueue) doneKey(id string) string {
	return q.cfg.Name + ":done:" + id
}
func (q *RedisQueue) leaseKey(jobID string) string {
	return q.cfg.Name + ":lease:" + jobID
}

// Enqueue adds a scheduled task. It is skipped when the task id was seen
// before or another task for the same job is in flight.
func (q *RedisQueue) Enqueue(ctx context.Context, task models.SwapTask) (EnqueueResult, error) {
	return q.enqueue(ctx, task, false)
}

// EnqueueContinuation adds a follow-up task and hands it the job's lease
func (q *RedisQueue) EnqueueContinuation(ctx context.Context, task models.SwapTask) (EnqueueResult, error) {
	return q.enqueue(ctx, task, true)
}

func (q *RedisQueue) enqueue(ctx context.Context, task models.SwapTask, takeover bool) (EnqueueResult, error) {
	body, err := json.Marshal(task)
	if err != nil {
		return 0, fmt.Errorf("marshal task %s: %w", task.ID, err)
	}
	msg, err := json.Marshal(Envelope{MessageID: uuid.NewString(), Body: body})
	if err != nil {
		return 0, fmt.Errorf("marshal envelope %s: %w", task.ID, err)
	}

	flag := "0"
	if takeover {
		flag = "1"
	}
	res, err := enqueueScript.Run(ctx, q.redis,
		[]string{q.taskKey(task.ID), q.leaseKey(task.Data.ID), q.readyKey(), q.doneKey(task.ID)},
		task.ID, string(msg), q.cfg.DedupTTL.Milliseconds(), q.cfg.LeaseTTL.Milliseconds(), flag,
	).Int()
	if err != nil {
		return 0, apperrors.NewBrokerError("enqueue", err)
	}

	switch res {
	case 1:
		return Enqueued, nil
	case -1:
		return InFlight, nil
	default:
		return Duplicate, nil
	}
}

// Dequeue blocks up to timeout for the next message. It returns nil when
// nothing arrived. Malformed messages and tasks already completed are
// settled here and never reach the caller.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (*Delivery, error) {
	if err := q.promoteDue(ctx); err != nil {
		return nil, err
	}

	raw, err := q.redis.BLMove(ctx, q.readyKey(), q.processingKey(), "RIGHT", "LEFT", timeout).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewBrokerError("dequeue", err)
	}

	env, task, err := decode(raw)
	if err != nil {
		logging.FromContext(ctx).WithField("message", raw).Error("Dropping malformed queue message")
		if err := q.redis.LRem(ctx, q.processingKey(), 1, raw).Err(); err != nil {
			return nil, apperrors.NewBrokerError("drop", err)
		}
		return nil, nil
	}

	d := &Delivery{
		Meta: Meta{MessageID: env.MessageID, RetryCount: env.RetryCount},
		Task: task,
		raw:  raw,
	}

	done, err := q.redis.Exists(ctx, q.doneKey(task.ID)).Result()
	if err != nil {
		return nil, apperrors.NewBrokerError("dequeue", err)
	}
	if done > 0 {
		logging.FromContext(ctx).WithField("task_id", task.ID).Info("Task already completed, acknowledging redelivery")
		return nil, q.ack(ctx, d)
	}

	// the lease can lapse while a task waits in the ready or delayed set; a
	// newer task that took it over re-reads the job and supersedes this one
	owned, err := q.claimLease(ctx, d)
	if err != nil {
		return nil, err
	}
	if !owned {
		logging.FromContext(ctx).WithFields(map[string]interface{}{
			"task_id": task.ID,
			"job_id":  task.Data.ID,
		}).Warn("Job lease held by a newer task, acknowledging superseded task")
		q.metrics.Settled(string(task.Type), "superseded")
		return nil, q.ack(ctx, d)
	}
	return d, nil
}

func (q *RedisQueue) claimLease(ctx context.Context, d *Delivery) (bool, error) {
	res, err := claimLeaseScript.Run(ctx, q.redis,
		[]string{q.leaseKey(d.Task.Data.ID)},
		d.Task.ID, q.cfg.LeaseTTL.Milliseconds(),
	).Int()
	if err != nil {
		return false, apperrors.NewBrokerError("lease", err)
	}
	return res == 1, nil
}

// keepLease renews the delivery's lease every third of LeaseTTL until the
// returned stop function is called
func (q *RedisQueue) keepLease(ctx context.Context, d *Delivery) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(q.cfg.LeaseTTL / 3)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				owned, err := q.claimLease(ctx, d)
				if err != nil && ctx.Err() == nil {
					logging.FromContext(ctx).WithError(err).WithField("task_id", d.Task.ID).Warn("Lease renewal failed")
				} else if err == nil && !owned {
					logging.FromContext(ctx).WithField("task_id", d.Task.ID).Error("Job lease lost while task is running")
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}
}

func decode(raw string) (Envelope, models.SwapTask, error) {
	var env Envelope
	var task models.SwapTask
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return env, task, err
	}
	if err := json.Unmarshal(env.Body, &task); err != nil {
		return env, task, err
	}
	if task.ID == "" || task.Data.ID == "" {
		return env, task, fmt.Errorf("task without id")
	}
	return env, task, nil
}

// Settle applies outcome to a delivery
func (q *RedisQueue) Settle(ctx context.Context, d *Delivery, outcome Outcome) error {
	log := logging.FromContext(ctx).WithFields(map[string]interface{}{
		"task_id":     d.Task.ID,
		"job_id":      d.Task.Data.ID,
		"message_id":  d.MessageID,
		"retry_count": d.RetryCount,
	})
	taskType := string(d.Task.Type)

	switch o := outcome.(type) {
	case Success:
		if o.Continuation != nil {
			res, err := q.EnqueueContinuation(ctx, *o.Continuation)
			if err != nil {
				return err
			}
			log.WithField("continuation", o.Continuation.ID).Debugf("Continuation %s", res)
		}
		q.metrics.Settled(taskType, "success")
		return q.ack(ctx, d)

	case PermanentFailure:
		log.WithError(o.Reason).Warn("Task failed permanently")
		q.metrics.Settled(taskType, "permanent")
		return q.ack(ctx, d)

	case RetryableFailure:
		if d.RetryCount >= q.cfg.MaxRetries {
			log.WithError(o.Reason).Error("Retries exhausted, dropping task")
			q.metrics.Settled(taskType, "dropped")
			if q.cfg.OnDrop != nil {
				q.cfg.OnDrop(ctx, d.Task, o.Reason)
			}
			return q.ack(ctx, d)
		}
		log.WithError(o.Reason).Warnf("Requeueing task, attempt %d", o.Attempt)
		q.metrics.Settled(taskType, "retry")
		return q.requeue(ctx, d)

	default:
		return fmt.Errorf("unknown outcome %T", outcome)
	}
}

func (q *RedisQueue) ack(ctx context.Context, d *Delivery) error {
	err := ackScript.Run(ctx, q.redis,
		[]string{q.processingKey(), q.doneKey(d.Task.ID), q.leaseKey(d.Task.Data.ID)},
		d.raw, d.Task.ID, q.cfg.DoneTTL.Milliseconds(),
	).Err()
	if err != nil {
		return apperrors.NewBrokerError("ack", err)
	}
	return nil
}

func (q *RedisQueue) requeue(ctx context.Context, d *Delivery) error {
	var env Envelope
	if err := json.Unmarshal([]byte(d.raw), &env); err != nil {
		return fmt.Errorf("decode envelope %s: %w", d.Task.ID, err)
	}
	env.RetryCount++
	msg, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope %s: %w", d.Task.ID, err)
	}

	var readyAt int64
	if delay := q.backoff(env.RetryCount); delay > 0 {
		readyAt = q.now().Add(delay).UnixMilli()
	}
	err = requeueScript.Run(ctx, q.redis,
		[]string{q.processingKey(), q.readyKey(), q.delayedKey(), q.leaseKey(d.Task.Data.ID)},
		d.raw, string(msg), readyAt, q.cfg.LeaseTTL.Milliseconds(),
	).Err()
	if err != nil {
		return apperrors.NewBrokerError("requeue", err)
	}
	return nil
}

// backoff doubles per attempt, capped at 16x the base delay
func (q *RedisQueue) backoff(attempt int) time.Duration {
	if q.cfg.RetryBackoff <= 0 || attempt <= 0 {
		return 0
	}
	shift := min(attempt-1, 4)
	return q.cfg.RetryBackoff << shift
}

func (q *RedisQueue) promoteDue(ctx context.Context) error {
	err := promoteScript.Run(ctx, q.redis,
		[]string{q.delayedKey(), q.readyKey()},
		strconv.FormatInt(q.now().UnixMilli(), 10),
	).Err()
	if err != nil {
		return apperrors.NewBrokerError("promote", err)
	}
	return nil
}

// Recover moves messages left in this consumer's processing list by a
// previous run back onto the ready list, oldest first
func (q *RedisQueue) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.redis.LMove(ctx, q.processingKey(), q.readyKey(), "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return n, apperrors.NewBrokerError("recover", err)
		}
		n++
	}
	if n > 0 {
		logging.FromContext(ctx).WithField("count", n).Warn("Recovered orphaned in-flight messages")
	}
	return n, nil
}

// Depth returns the number of ready, delayed and in-process messages
func (q *RedisQueue) Depth(ctx context.Context) (ready, delayed, processing int64, err error) {
	pipe := q.redis.Pipeline()
	r := pipe.LLen(ctx, q.readyKey())
	d := pipe.ZCard(ctx, q.delayedKey())
	p := pipe.LLen(ctx, q.processingKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, 0, apperrors.NewBrokerError("depth", err)
	}
	q.metrics.Depth("ready", r.Val())
	q.metrics.Depth("delayed", d.Val())
	q.metrics.Depth("processing", p.Val())
	return r.Val(), d.Val(), p.Val(), nil
}

// Ping checks broker connectivity
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.redis.Ping(ctx).Err()
}

// Consume runs Prefetch workers that dequeue, handle and settle messages
// until ctx is cancelled. In-flight tasks finish and settle before return.
func (q *RedisQueue) Consume(ctx context.Context, h Handler) error {
	if _, err := q.Recover(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	for i := 0; i < q.cfg.Prefetch; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			q.consumeLoop(ctx, h, slot)
		}(i)
	}
	wg.Wait()
	return nil
}

func (q *RedisQueue) consumeLoop(ctx context.Context, h Handler, slot int) {
	log := logging.FromContext(ctx).WithField("slot", slot)
	for ctx.Err() == nil {
		d, err := q.Dequeue(ctx, q.cfg.BlockTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.WithError(err).Error("Dequeue failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		if d == nil {
			continue
		}

		// a dequeued task runs to completion and settles even during shutdown
		taskCtx := context.WithoutCancel(ctx)
		stopLease := q.keepLease(taskCtx, d)
		outcome := h.Handle(taskCtx, d.Task, d.Meta)
		stopLease()
		if err := q.Settle(taskCtx, d, outcome); err != nil {
			log.WithError(err).WithField("task_id", d.Task.ID).Error("Failed to settle task")
		}
	}
}
