package models

import (
	"fmt"
	"time"

	"github.com/swap-cycler/internal/types"
)

// SwapTask is the queue message body
type SwapTask struct {
	ID        string         `json:"id"`
	Type      types.TaskType `json:"type"`
	Data      TradingJob     `json:"data"`
	Timestamp int64          `json:"timestamp"` // unix millis
	Tick      int            `json:"tick"`
	Step      int            `json:"step,omitempty"` // continuation counter within a tick
}

// ScheduledTaskID is the id of the task enqueued by the scheduler on tick
func ScheduledTaskID(jobID string, tick int) string {
	return fmt.Sprintf("%s-%d", jobID, tick)
}

// NewScheduledTask builds the task the scheduler enqueues for job on tick
func NewScheduledTask(job TradingJob, tick int, now time.Time) SwapTask {
	return SwapTask{
		ID:        ScheduledTaskID(job.ID, tick),
		Type:      job.NextTaskType(),
		Data:      job,
		Timestamp: now.UnixMilli(),
		Tick:      tick,
	}
}

// Continuation builds the follow-up task for job after this task completed
func (t SwapTask) Continuation(job TradingJob, now time.Time) SwapTask {
	step := t.Step + 1
	return SwapTask{
		ID:        fmt.Sprintf("%s-%d-c%d", job.ID, t.Tick, step),
		Type:      job.NextTaskType(),
		Data:      job,
		Timestamp: now.UnixMilli(),
		Tick:      t.Tick,
		Step:      step,
	}
}
