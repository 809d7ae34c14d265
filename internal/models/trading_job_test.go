package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/swap-cycler/internal/types"
)

func TestNextTaskType(t *testing.T) {
	tests := []struct {
		name string
		job  TradingJob
		want types.TaskType
	}{
		{"waiting overrides direction", TradingJob{IsBalance: false, IsBuy: true}, types.TaskCheckBalance},
		{"buy", TradingJob{IsBalance: true, IsBuy: true}, types.TaskBuy},
		{"sell", TradingJob{IsBalance: true, IsBuy: false}, types.TaskSell},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.job.NextTaskType())
		})
	}
}

func TestTaskIDs(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	job := TradingJob{ID: "job-7", IsBalance: true, IsBuy: true}

	task := NewScheduledTask(job, 42, now)
	assert.Equal(t, "job-7-42", task.ID)
	assert.Equal(t, types.TaskBuy, task.Type)
	assert.Equal(t, int64(1_700_000_000_000), task.Timestamp)

	job.IsBuy = false
	next := task.Continuation(job, now)
	assert.Equal(t, "job-7-42-c1", next.ID)
	assert.Equal(t, types.TaskSell, next.Type)
	assert.Equal(t, "job-7-42-c2", next.Continuation(job, now).ID)
}

func TestJobUpdateApply(t *testing.T) {
	job := TradingJob{BuyProgress: 1, IsBuy: true}
	progress := 2
	isBuy := false
	state := types.StateSelling

	u := JobUpdate{BuyProgress: &progress, IsBuy: &isBuy, State: &state}
	assert.False(t, u.Empty())
	u.Apply(&job)

	assert.Equal(t, 2, job.BuyProgress)
	assert.False(t, job.IsBuy)
	assert.Equal(t, types.StateSelling, job.State)
	assert.True(t, JobUpdate{}.Empty())
}

func TestRemainingFloorsAtZero(t *testing.T) {
	job := TradingJob{BuyTarget: 2, BuyProgress: 3, SellTarget: 4, SellProgress: 1}
	assert.Equal(t, 0, job.RemainingBuys())
	assert.Equal(t, 3, job.RemainingSells())
}
