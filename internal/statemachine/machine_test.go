package statemachine

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/swap-cycler/internal/errors"
	"github.com/swap-cycler/internal/models"
	"github.com/swap-cycler/internal/types"
)

const priorityFee = 5_000

func newJob(mode types.TradeMode, buyTarget, sellTarget int) models.TradingJob {
	return models.TradingJob{
		ID:          "job-1",
		Mode:        mode,
		BuyTarget:   buyTarget,
		SellTarget:  sellTarget,
		IsBuy:       true,
		IsBalance:   true,
		Status:      types.JobStatusActive,
		State:       types.StateBuying,
		Amount:      1_000_000,
		TokenAmount: 2_000,
		QuoteMint:   "So11111111111111111111111111111111111111112",
		BaseMint:    "base",
	}
}

var plenty = Balances{Quote: 1 << 40, Base: 1 << 40}

func TestOneWayCycle(t *testing.T) {
	job := newJob(types.ModeOneWay, 3, 2)

	for i := 0; i < 3; i++ {
		d, err := Decide(job, plenty, priorityFee)
		require.NoError(t, err)
		require.Equal(t, ActionBuy, d.Action, "buy %d", i)
		_, job = AfterTrade(d.Job, types.SideBuy)
	}
	assert.Equal(t, types.StateSelling, job.State)
	assert.False(t, job.IsBuy)
	assert.Equal(t, 3, job.BuyProgress)

	for i := 0; i < 2; i++ {
		d, err := Decide(job, plenty, priorityFee)
		require.NoError(t, err)
		require.Equal(t, ActionSell, d.Action, "sell %d", i)
		_, job = AfterTrade(d.Job, types.SideSell)
	}
	assert.Equal(t, types.StateCycleComplete, job.State)
	assert.Equal(t, types.JobStatusCompleted, job.Status)
	assert.False(t, job.Active())

	d, err := Decide(job, plenty, priorityFee)
	require.NoError(t, err)
	assert.Equal(t, ActionSkip, d.Action)
}

func TestAfterTradeUpdateMatchesJob(t *testing.T) {
	job := newJob(types.ModeOneWay, 1, 1)
	update, next := AfterTrade(job, types.SideBuy)

	applied := job
	update.Apply(&applied)
	assert.Equal(t, next, applied)
	require.NotNil(t, update.State)
	assert.Equal(t, types.StateSelling, *update.State)
}

func TestTwoWayAlternates(t *testing.T) {
	job := newJob(types.ModeTwoWay, 2, 1)

	var sides []types.Side
	for i := 0; i < 6; i++ {
		d, err := Decide(job, plenty, priorityFee)
		require.NoError(t, err)
		side := types.SideBuy
		if d.Action == ActionSell {
			side = types.SideSell
		}
		sides = append(sides, side)
		_, job = AfterTrade(d.Job, side)
	}
	assert.Equal(t, []types.Side{
		types.SideBuy, types.SideBuy, types.SideSell,
		types.SideBuy, types.SideBuy, types.SideSell,
	}, sides)
	assert.True(t, job.Active())
	assert.Equal(t, types.StateBuying, job.State)
}

func TestTwoWayReversalOnBuy(t *testing.T) {
	job := newJob(types.ModeTwoWay, 5, 3)
	job.BuyProgress = 2 // 3 buys remain

	// quote covers neither the remaining buys nor more than the sell fees;
	// base covers 5 sells (the reversed sell target)
	bal := Balances{Quote: 100_000, Base: 5 * job.TokenAmount}

	d, err := Decide(job, bal, priorityFee)
	require.NoError(t, err)
	assert.True(t, d.Reversed)
	assert.Equal(t, ActionSell, d.Action)
	assert.Equal(t, 3, d.Job.BuyTarget)
	assert.Equal(t, 5, d.Job.SellTarget)
	assert.Equal(t, 0, d.Job.BuyProgress)
	assert.Equal(t, 0, d.Job.SellProgress)
	assert.False(t, d.Job.IsBuy)
	assert.Equal(t, types.StateSelling, d.Job.State)

	applied := job
	d.Update.Apply(&applied)
	assert.Equal(t, d.Job, applied)
}

func TestTwoWayReversalWithPartialProgress(t *testing.T) {
	job := newJob(types.ModeTwoWay, 5, 3)
	job.BuyProgress = 2

	// base covers exactly the 3 remaining buys, quote covers neither the
	// buys nor is it needed for more than sell fees
	bal := Balances{Quote: 100_000, Base: 3 * job.TokenAmount}

	d, err := Decide(job, bal, priorityFee)
	require.NoError(t, err)
	assert.True(t, d.Reversed)
	assert.Equal(t, ActionSell, d.Action)
	assert.Equal(t, 3, d.Job.BuyTarget)
	assert.Equal(t, 5, d.Job.SellTarget)
	assert.Equal(t, types.StateSelling, d.Job.State)
	assert.True(t, d.Job.IsBalance)
	assert.Nil(t, d.Shortfall)

	// the reversed phase keeps selling while the base lasts
	_, job = AfterTrade(d.Job, types.SideSell)
	bal.Base -= job.TokenAmount
	for bal.Base > 0 {
		d, err = Decide(job, bal, priorityFee)
		require.NoError(t, err)
		require.Equal(t, ActionSell, d.Action, "sell %d", job.SellProgress)
		assert.False(t, d.Reversed)
		_, job = AfterTrade(d.Job, types.SideSell)
		bal.Base -= job.TokenAmount
	}
	assert.Equal(t, 3, job.SellProgress)

	// out of base and short on quote for the buys: wait, never flip back
	d, err = Decide(job, bal, priorityFee)
	require.NoError(t, err)
	assert.Equal(t, ActionWait, d.Action)
	assert.False(t, d.Reversed)
	assert.Equal(t, types.StateWaitingForBaseFunds, d.Job.State)
}

func TestTwoWayReversalOnSellWithPartialProgress(t *testing.T) {
	job := newJob(types.ModeTwoWay, 2, 4)
	job.IsBuy = false
	job.State = types.StateSelling
	job.SellProgress = 3

	// no base, quote covers exactly the one remaining sell's worth of buys
	need := (job.Amount+priorityFee)*1 + priorityFee
	d, err := Decide(job, Balances{Quote: need}, priorityFee)
	require.NoError(t, err)
	assert.True(t, d.Reversed)
	assert.Equal(t, ActionBuy, d.Action)
	assert.Equal(t, 4, d.Job.BuyTarget)
	assert.Equal(t, 2, d.Job.SellTarget)
	assert.Equal(t, 0, d.Job.SellProgress)
	assert.True(t, d.Job.IsBuy)
	assert.Equal(t, types.StateBuying, d.Job.State)
}

func TestTwoWayReversalNeedsAlternateResource(t *testing.T) {
	job := newJob(types.ModeTwoWay, 5, 3)
	bal := Balances{Quote: 100_000, Base: job.TokenAmount} // base covers 1 of 5

	d, err := Decide(job, bal, priorityFee)
	require.NoError(t, err)
	assert.False(t, d.Reversed)
	assert.Equal(t, ActionWait, d.Action)
	assert.Equal(t, types.StateWaitingForQuoteFunds, d.Job.State)
	assert.True(t, d.Job.IsWaitingForQuote)
	assert.False(t, d.Job.IsBalance)
	assert.Equal(t, 5, d.Job.BuyTarget)
	assert.True(t, apperrors.IsCategory(d.Shortfall, apperrors.CategoryInsufficientFunds))
}

func TestTwoWayReversalOnSell(t *testing.T) {
	job := newJob(types.ModeTwoWay, 2, 4)
	job.IsBuy = false
	job.State = types.StateSelling

	// no base, quote covers (amount+fee)*4 + fee
	need := (job.Amount+priorityFee)*4 + priorityFee
	d, err := Decide(job, Balances{Quote: need}, priorityFee)
	require.NoError(t, err)
	assert.True(t, d.Reversed)
	assert.Equal(t, ActionBuy, d.Action)
	assert.Equal(t, 4, d.Job.BuyTarget)
	assert.Equal(t, 2, d.Job.SellTarget)
	assert.True(t, d.Job.IsBuy)
}

func TestOneWayWaitsWithoutReversal(t *testing.T) {
	job := newJob(types.ModeOneWay, 2, 2)
	d, err := Decide(job, Balances{Quote: 0, Base: 1 << 40}, priorityFee)
	require.NoError(t, err)
	assert.Equal(t, ActionWait, d.Action)
	assert.False(t, d.Reversed)
	assert.Equal(t, types.StateWaitingForQuoteFunds, d.Job.State)
	assert.False(t, d.Job.IsWaitingForQuote)
	assert.Equal(t, types.TaskCheckBalance, d.Job.NextTaskType())
}

func TestWaitClearsWhenFunded(t *testing.T) {
	job := newJob(types.ModeTwoWay, 2, 2)
	job.IsBuy = false
	job.IsBalance = false
	job.IsWaitingForBase = true
	job.State = types.StateWaitingForBaseFunds

	d, err := Decide(job, plenty, priorityFee)
	require.NoError(t, err)
	assert.Equal(t, ActionSell, d.Action)
	assert.True(t, d.Job.IsBalance)
	assert.False(t, d.Job.IsWaitingForBase)
	assert.Equal(t, types.StateSelling, d.Job.State)
	require.NotNil(t, d.Update.IsBalance)
	require.NotNil(t, d.Update.State)
}

func TestBuyRequirementBoundary(t *testing.T) {
	job := newJob(types.ModeOneWay, 3, 1)
	job.BuyProgress = 1
	need := (job.Amount+priorityFee)*2 + priorityFee

	d, err := Decide(job, Balances{Quote: need}, priorityFee)
	require.NoError(t, err)
	assert.Equal(t, ActionBuy, d.Action)
	assert.True(t, d.Update.Empty())

	d, err = Decide(job, Balances{Quote: need - 1}, priorityFee)
	require.NoError(t, err)
	assert.Equal(t, ActionWait, d.Action)
}

func TestDecideRejectsBadJobs(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(j *models.TradingJob)
		code   string
	}{
		{"mode", func(j *models.TradingJob) { j.Mode = "sideways" }, "BAD_MODE"},
		{"zero targets", func(j *models.TradingJob) { j.BuyTarget, j.SellTarget = 0, 0 }, "BAD_TARGETS"},
		{"progress over target", func(j *models.TradingJob) { j.BuyProgress = 9 }, "BAD_PROGRESS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := newJob(types.ModeOneWay, 2, 2)
			tt.mutate(&job)
			_, err := Decide(job, plenty, priorityFee)
			require.Error(t, err)
			assert.Equal(t, tt.code, apperrors.Categorize(err).Code)
		})
	}
}

func TestDecideInvariants(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("counters stay in bounds and state matches flags", prop.ForAll(
		func(twoWay, isBuy, isBalance bool, buyTarget, sellTarget, buyDone, sellDone int, quote, base uint64) bool {
			mode := types.ModeOneWay
			if twoWay {
				mode = types.ModeTwoWay
			}
			job := newJob(mode, buyTarget, sellTarget)
			job.IsBuy, job.IsBalance = isBuy, isBalance
			job.BuyProgress = buyDone % (buyTarget + 1)
			job.SellProgress = sellDone % (sellTarget + 1)
			if buyTarget+sellTarget == 0 {
				return true
			}

			d, err := Decide(job, Balances{Quote: quote, Base: base}, priorityFee)
			if err != nil {
				return false
			}
			j := d.Job
			if j.BuyProgress < 0 || j.BuyProgress > j.BuyTarget || j.SellProgress < 0 || j.SellProgress > j.SellTarget {
				return false
			}
			if j.BuyTarget+j.SellTarget != buyTarget+sellTarget {
				return false
			}
			if d.Action != ActionSkip && j.State != StateOf(&j) {
				return false
			}
			switch d.Action {
			case ActionBuy:
				return j.IsBuy && j.IsBalance
			case ActionSell:
				return !j.IsBuy && j.IsBalance
			case ActionWait:
				return !j.IsBalance
			}
			return true
		},
		gen.Bool(), gen.Bool(), gen.Bool(),
		gen.IntRange(0, 10), gen.IntRange(0, 10),
		gen.IntRange(0, 100), gen.IntRange(0, 100),
		gen.UInt64Range(0, 50_000_000), gen.UInt64Range(0, 100_000),
	))

	properties.TestingRun(t)
}

func TestSuspend(t *testing.T) {
	job := newJob(types.ModeTwoWay, 2, 2)
	job.IsBuy = false
	job.State = types.StateSelling

	update, waiting := Suspend(job)
	assert.False(t, waiting.IsBalance)
	assert.True(t, waiting.IsWaitingForBase)
	assert.False(t, waiting.IsWaitingForQuote)
	assert.Equal(t, types.StateWaitingForBaseFunds, waiting.State)

	applied := job
	update.Apply(&applied)
	assert.Equal(t, waiting, applied)
}
