package storage

import (
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"

	"github.com/swap-cycler/internal/models"
	"github.com/swap-cycler/internal/types"
)

func TestBuildJobUpdate(t *testing.T) {
	buyTarget, sellTarget, zero := 2, 5, 0
	isBuy := false
	state := types.StateSelling

	query, args := buildJobUpdate("job-1", models.JobUpdate{
		State:        &state,
		IsBuy:        &isBuy,
		BuyTarget:    &buyTarget,
		SellTarget:   &sellTarget,
		BuyProgress:  &zero,
		SellProgress: &zero,
	})

	assert.Equal(t,
		"UPDATE trading_jobs SET state = @state, is_buy = @is_buy, buy_target = @buy_target, "+
			"sell_target = @sell_target, buy_progress = @buy_progress, sell_progress = @sell_progress, "+
			"updated_at = NOW() WHERE id = @id",
		query)
	assert.Equal(t, pgx.NamedArgs{
		"id":            "job-1",
		"state":         types.StateSelling,
		"is_buy":        false,
		"buy_target":    2,
		"sell_target":   5,
		"buy_progress":  0,
		"sell_progress": 0,
	}, args)
}

func TestBuildJobUpdateSingleField(t *testing.T) {
	status := types.JobStatusFailed
	query, args := buildJobUpdate("job-9", models.JobUpdate{Status: &status})

	assert.Equal(t, "UPDATE trading_jobs SET status = @status, updated_at = NOW() WHERE id = @id", query)
	assert.Len(t, args, 2)
}

func TestBuildJobUpdateClearsPendingSignature(t *testing.T) {
	cleared := ""
	query, args := buildJobUpdate("job-2", models.JobUpdate{PendingSignature: &cleared})

	assert.Equal(t, "UPDATE trading_jobs SET pending_signature = @pending_signature, updated_at = NOW() WHERE id = @id", query)
	assert.Equal(t, "", args["pending_signature"])
}
