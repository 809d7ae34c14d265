// Package statemachine decides the next step of a trading job and computes
// the record changes that follow a trade.
package statemachine

import (
	"fmt"
	"math/big"

	apperrors "github.com/swap-cycler/internal/errors"
	"github.com/swap-cycler/internal/models"
	"github.com/swap-cycler/internal/types"
)

// Action is what the worker should do for a job right now
type Action string

const (
	ActionBuy      Action = "BUY"
	ActionSell     Action = "SELL"
	ActionWait     Action = "WAIT"
	ActionComplete Action = "COMPLETE"
	ActionSkip     Action = "SKIP" // job is not active
)

// Balances are the owner's holdings relevant to one job
type Balances struct {
	Quote uint64 // quote mint, lamports for native quote
	Base  uint64
}

// Decision is the outcome of evaluating a job against its balances.
// Update must be persisted before the action is carried out.
type Decision struct {
	Action   Action
	Update   models.JobUpdate
	Job      models.TradingJob // job with Update applied
	Reversed bool
	// Shortfall explains a WAIT; it is a CategoryInsufficientFunds error
	Shortfall error
}

// Validate rejects jobs whose counters cannot drive a cycle
func Validate(job *models.TradingJob) error {
	switch job.Mode {
	case types.ModeOneWay, types.ModeTwoWay:
	default:
		return apperrors.NewConfigurationError("BAD_MODE", fmt.Sprintf("job %s has unknown mode %q", job.ID, job.Mode))
	}
	if job.BuyTarget < 0 || job.SellTarget < 0 || job.BuyTarget+job.SellTarget == 0 {
		return apperrors.NewConfigurationError("BAD_TARGETS",
			fmt.Sprintf("job %s targets buy=%d sell=%d", job.ID, job.BuyTarget, job.SellTarget))
	}
	if job.BuyProgress < 0 || job.BuyProgress > job.BuyTarget || job.SellProgress < 0 || job.SellProgress > job.SellTarget {
		return apperrors.NewConfigurationError("BAD_PROGRESS",
			fmt.Sprintf("job %s progress buy=%d/%d sell=%d/%d", job.ID, job.BuyProgress, job.BuyTarget, job.SellProgress, job.SellTarget))
	}
	return nil
}

// StateOf derives the persisted state from the job's flags and counters
func StateOf(job *models.TradingJob) types.JobState {
	switch {
	case job.Status == types.JobStatusCompleted:
		return types.StateCycleComplete
	case job.Waiting() && job.IsBuy:
		return types.StateWaitingForQuoteFunds
	case job.Waiting():
		return types.StateWaitingForBaseFunds
	case job.IsBuy:
		return types.StateBuying
	default:
		return types.StateSelling
	}
}

// Decide evaluates job against the owner's balances. priorityFee is the
// per-transaction lamport reserve used in the requirement formulas.
func Decide(job models.TradingJob, bal Balances, priorityFee uint64) (Decision, error) {
	if !job.Active() {
		return Decision{Action: ActionSkip, Job: job}, nil
	}
	if err := Validate(&job); err != nil {
		return Decision{}, err
	}

	d := &decider{job: job, bal: bal, fee: priorityFee}
	d.normalize()
	if d.job.Status == types.JobStatusCompleted {
		return d.finish(ActionComplete, nil), nil
	}

	if d.job.IsBuy {
		return d.decideBuy(uint64(d.job.RemainingBuys()), true), nil
	}
	return d.decideSell(uint64(d.job.RemainingSells()), true), nil
}

type decider struct {
	job      models.TradingJob
	update   models.JobUpdate
	bal      Balances
	fee      uint64
	reversed bool
}

// normalize moves a job whose current phase is already exhausted into the
// next phase. This covers zero targets and records written before a flip.
func (d *decider) normalize() {
	j := &d.job
	if j.Mode == types.ModeOneWay {
		if j.IsBuy && j.RemainingBuys() == 0 {
			d.setIsBuy(false)
		}
		if !j.IsBuy && j.RemainingSells() == 0 {
			d.setStatus(types.JobStatusCompleted)
		}
		return
	}

	// targets are never both zero, so two flips always land on a phase with work left
	for i := 0; i < 2; i++ {
		switch {
		case j.IsBuy && j.RemainingBuys() == 0:
			d.setIsBuy(false)
			d.setSellProgress(0)
		case !j.IsBuy && j.RemainingSells() == 0:
			d.setIsBuy(true)
			d.setBuyProgress(0)
		}
	}
}

// decideBuy checks that the quote balance covers n buys. After a reversal n
// is the count of trades that justified it rather than the new full target.
func (d *decider) decideBuy(n uint64, allowReverse bool) Decision {
	j := &d.job
	need := requirement(n, d.fee, j.Amount, d.fee)
	if cmp(d.bal.Quote, need) >= 0 {
		return d.trade(ActionBuy)
	}

	if allowReverse && j.Mode == types.ModeTwoWay && cmp(d.bal.Base, requirement(n, 0, j.TokenAmount)) >= 0 {
		d.reverse()
		return d.decideSell(n, false)
	}
	return d.wait(apperrors.NewInsufficientFundsError(j.QuoteMint, d.bal.Quote, saturate(need)))
}

// decideSell checks that base covers the next sell and quote covers the fees
// of n sells. Each sell spends base it already holds, so a reversed phase
// keeps trading for as long as the base that justified it lasts.
func (d *decider) decideSell(n uint64, allowReverse bool) Decision {
	j := &d.job
	needBase := requirement(min(n, 1), 0, j.TokenAmount)
	needQuote := requirement(n, d.fee, d.fee)
	if cmp(d.bal.Base, needBase) >= 0 && cmp(d.bal.Quote, needQuote) >= 0 {
		return d.trade(ActionSell)
	}

	if allowReverse && j.Mode == types.ModeTwoWay && cmp(d.bal.Quote, requirement(n, d.fee, j.Amount, d.fee)) >= 0 {
		d.reverse()
		return d.decideBuy(n, false)
	}
	if cmp(d.bal.Base, needBase) < 0 {
		return d.wait(apperrors.NewInsufficientFundsError(j.BaseMint, d.bal.Base, saturate(needBase)))
	}
	return d.wait(apperrors.NewInsufficientFundsError(j.QuoteMint, d.bal.Quote, saturate(needQuote)))
}

// reverse swaps the roles of the two phases: targets exchange, the direction
// flips and both counters restart.
func (d *decider) reverse() {
	j := &d.job
	buy, sell := j.BuyTarget, j.SellTarget
	d.setTargets(sell, buy)
	d.setIsBuy(!j.IsBuy)
	d.setBuyProgress(0)
	d.setSellProgress(0)
	d.reversed = true
}

func (d *decider) trade(action Action) Decision {
	j := &d.job
	if j.Waiting() {
		d.setBool(&d.update.IsBalance, &j.IsBalance, true)
	}
	if j.IsWaitingForQuote {
		d.setBool(&d.update.IsWaitingForQuote, &j.IsWaitingForQuote, false)
	}
	if j.IsWaitingForBase {
		d.setBool(&d.update.IsWaitingForBase, &j.IsWaitingForBase, false)
	}
	return d.finish(action, nil)
}

func (d *decider) wait(shortfall error) Decision {
	j := &d.job
	if !j.Waiting() {
		d.setBool(&d.update.IsBalance, &j.IsBalance, false)
	}
	if j.Mode == types.ModeTwoWay {
		d.setBool(&d.update.IsWaitingForQuote, &j.IsWaitingForQuote, j.IsBuy)
		d.setBool(&d.update.IsWaitingForBase, &j.IsWaitingForBase, !j.IsBuy)
	}
	return d.finish(ActionWait, shortfall)
}

func (d *decider) finish(action Action, shortfall error) Decision {
	if state := StateOf(&d.job); state != d.job.State {
		d.job.State = state
		d.update.State = &state
	}
	return Decision{
		Action:    action,
		Update:    d.update,
		Job:       d.job,
		Reversed:  d.reversed,
		Shortfall: shortfall,
	}
}

func (d *decider) setBool(field **bool, cur *bool, v bool) {
	if *cur == v && *field == nil {
		return
	}
	*cur = v
	*field = &v
}

func (d *decider) setIsBuy(v bool) {
	d.setBool(&d.update.IsBuy, &d.job.IsBuy, v)
}

func (d *decider) setStatus(s types.JobStatus) {
	d.job.Status = s
	d.update.Status = &s
}

func (d *decider) setTargets(buy, sell int) {
	d.job.BuyTarget, d.job.SellTarget = buy, sell
	d.update.BuyTarget, d.update.SellTarget = &buy, &sell
}

func (d *decider) setBuyProgress(v int) {
	d.job.BuyProgress = v
	d.update.BuyProgress = &v
}

func (d *decider) setSellProgress(v int) {
	d.job.SellProgress = v
	d.update.SellProgress = &v
}

// AfterTrade advances the counters after a confirmed trade on side and
// returns the update to persist together with the resulting job.
func AfterTrade(job models.TradingJob, side types.Side) (models.JobUpdate, models.TradingJob) {
	d := &decider{job: job}
	j := &d.job

	if side == types.SideBuy {
		d.setBuyProgress(min(j.BuyProgress+1, j.BuyTarget))
		if j.RemainingBuys() == 0 {
			d.setIsBuy(false)
			if j.Mode == types.ModeTwoWay {
				d.setSellProgress(0)
			} else if j.SellTarget == 0 {
				d.setStatus(types.JobStatusCompleted)
			}
		}
	} else {
		d.setSellProgress(min(j.SellProgress+1, j.SellTarget))
		if j.RemainingSells() == 0 {
			if j.Mode == types.ModeTwoWay {
				d.setIsBuy(true)
				d.setBuyProgress(0)
			} else {
				d.setStatus(types.JobStatusCompleted)
			}
		}
	}

	dec := d.finish(ActionComplete, nil)
	return dec.Update, dec.Job
}

// Suspend moves the job into the waiting state for its current direction.
// Used when a trade cannot proceed for lack of signer funds.
func Suspend(job models.TradingJob) (models.JobUpdate, models.TradingJob) {
	d := &decider{job: job}
	dec := d.wait(nil)
	return dec.Update, dec.Job
}

// requirement returns (sum of per) * n + extra without overflow
func requirement(n, extra uint64, per ...uint64) *big.Int {
	r := new(big.Int)
	for _, p := range per {
		r.Add(r, new(big.Int).SetUint64(p))
	}
	r.Mul(r, new(big.Int).SetUint64(n))
	return r.Add(r, new(big.Int).SetUint64(extra))
}

func cmp(balance uint64, need *big.Int) int {
	return new(big.Int).SetUint64(balance).Cmp(need)
}

func saturate(v *big.Int) uint64 {
	if v.IsUint64() {
		return v.Uint64()
	}
	return ^uint64(0)
}
