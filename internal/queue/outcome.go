// Package queue implements the durable swap task queue on Redis.
package queue

import "github.com/swap-cycler/internal/models"

// Outcome is the tagged result a handler returns for one delivery.
// The queue settles the message by switching on the concrete type.
type Outcome interface {
	outcome()
}

// Success acknowledges the task. A non-nil Continuation is enqueued before
// the ack and takes over the job's lease.
type Success struct {
	Continuation *models.SwapTask
}

// RetryableFailure requeues the task with an incremented retry count, or
// drops it once the retry budget is spent.
type RetryableFailure struct {
	Reason  error
	Attempt int
}

// PermanentFailure acknowledges the task without retrying. The handler has
// already recorded the failure.
type PermanentFailure struct {
	Reason error
}

func (Success) outcome()          {}
func (RetryableFailure) outcome() {}
func (PermanentFailure) outcome() {}
