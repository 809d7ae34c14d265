package models

import (
	"time"

	"github.com/swap-cycler/internal/types"
)

// TradingJob is one user-configured recurring trading cycle (table trading_jobs).
// Counters always satisfy 0 <= progress <= target.
type TradingJob struct {
	ID            string `json:"id" db:"id"`
	UserID        string `json:"userId" db:"user_id"`
	FundingWallet string `json:"fundingWallet" db:"funding_wallet"`

	DexID         types.DexID `json:"dexId" db:"dex_id"`
	PoolAddress   string      `json:"poolAddress" db:"pool_address"`
	BaseMint      string      `json:"baseMint" db:"base_mint"`
	BaseSymbol    string      `json:"baseSymbol" db:"base_symbol"`
	BaseDecimals  uint8       `json:"baseDecimals" db:"base_decimals"`
	QuoteMint     string      `json:"quoteMint" db:"quote_mint"`
	QuoteSymbol   string      `json:"quoteSymbol" db:"quote_symbol"`
	QuoteDecimals uint8       `json:"quoteDecimals" db:"quote_decimals"`

	Amount      uint64 `json:"amount" db:"amount"`            // quote base units per buy
	TokenAmount uint64 `json:"tokenAmount" db:"token_amount"` // base units per sell
	LoopTime    int    `json:"loopTime" db:"loop_time"`       // minutes

	BuyTarget    int `json:"buyTarget" db:"buy_target"`
	SellTarget   int `json:"sellTarget" db:"sell_target"`
	BuyProgress  int `json:"buyProgress" db:"buy_progress"`
	SellProgress int `json:"sellProgress" db:"sell_progress"`

	Mode              types.TradeMode `json:"mode" db:"mode"`
	IsBuy             bool            `json:"isBuy" db:"is_buy"`
	IsBalance         bool            `json:"isBalance" db:"is_balance"`
	IsWaitingForQuote bool            `json:"isWaitingForQuote" db:"is_waiting_for_quote"`
	IsWaitingForBase  bool            `json:"isWaitingForBase" db:"is_waiting_for_base"`
	State             types.JobState  `json:"state" db:"state"`

	FeeBps         uint64  `json:"feeBps" db:"fee_bps"`
	ReferrerID     *string `json:"referrerId,omitempty" db:"referrer_id"`
	ReferralBps    uint64  `json:"referralBps" db:"referral_bps"`
	ReferralWallet *string `json:"referralWallet,omitempty" db:"referral_wallet"`
	SlippageBps    uint64  `json:"slippageBps" db:"slippage_bps"`

	Status        types.JobStatus `json:"status" db:"status"`
	LastError     *string         `json:"lastError,omitempty" db:"last_error"`
	LastSignature *string         `json:"lastSignature,omitempty" db:"last_signature"`
	// PendingSignature is a submitted trade whose outcome is not yet known
	PendingSignature string    `json:"pendingSignature,omitempty" db:"pending_signature"`
	FailureCount     int       `json:"failureCount" db:"failure_count"`
	CreatedAt        time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt        time.Time `json:"updatedAt" db:"updated_at"`
}

// Active reports whether the job may be scheduled
func (j *TradingJob) Active() bool {
	return j.Status == types.JobStatusActive
}

// Waiting reports whether the job is blocked on funds
func (j *TradingJob) Waiting() bool {
	return !j.IsBalance
}

// HasReferrer reports whether fees are split with a referrer
func (j *TradingJob) HasReferrer() bool {
	return j.ReferrerID != nil && *j.ReferrerID != "" &&
		j.ReferralWallet != nil && *j.ReferralWallet != ""
}

// RemainingBuys returns BuyTarget - BuyProgress, floored at zero
func (j *TradingJob) RemainingBuys() int {
	if r := j.BuyTarget - j.BuyProgress; r > 0 {
		return r
	}
	return 0
}

// RemainingSells returns SellTarget - SellProgress, floored at zero
func (j *TradingJob) RemainingSells() int {
	if r := j.SellTarget - j.SellProgress; r > 0 {
		return r
	}
	return 0
}

// NextTaskType derives the task kind the scheduler enqueues for this job
func (j *TradingJob) NextTaskType() types.TaskType {
	switch {
	case j.Waiting():
		return types.TaskCheckBalance
	case j.IsBuy:
		return types.TaskBuy
	default:
		return types.TaskSell
	}
}

// JobUpdate carries the mutable columns written back after a task.
// Nil fields are left unchanged.
type JobUpdate struct {
	State             *types.JobState
	Status            *types.JobStatus
	IsBuy             *bool
	IsBalance         *bool
	IsWaitingForQuote *bool
	IsWaitingForBase  *bool
	BuyTarget         *int
	SellTarget        *int
	BuyProgress       *int
	SellProgress      *int
	LastError         *string
	LastSignature     *string
	PendingSignature  *string
	FailureCount      *int
}

// Empty reports whether the update changes nothing
func (u JobUpdate) Empty() bool {
	return u.State == nil && u.Status == nil && u.IsBuy == nil && u.IsBalance == nil &&
		u.IsWaitingForQuote == nil && u.IsWaitingForBase == nil && u.BuyTarget == nil &&
		u.SellTarget == nil && u.BuyProgress == nil && u.SellProgress == nil &&
		u.LastError == nil && u.LastSignature == nil && u.PendingSignature == nil &&
		u.FailureCount == nil
}

// Apply writes the non-nil fields of u onto j
func (u JobUpdate) Apply(j *TradingJob) {
	if u.State != nil {
		j.State = *u.State
	}
	if u.Status != nil {
		j.Status = *u.Status
	}
	if u.IsBuy != nil {
		j.IsBuy = *u.IsBuy
	}
	if u.IsBalance != nil {
		j.IsBalance = *u.IsBalance
	}
	if u.IsWaitingForQuote != nil {
		j.IsWaitingForQuote = *u.IsWaitingForQuote
	}
	if u.IsWaitingForBase != nil {
		j.IsWaitingForBase = *u.IsWaitingForBase
	}
	if u.BuyTarget != nil {
		j.BuyTarget = *u.BuyTarget
	}
	if u.SellTarget != nil {
		j.SellTarget = *u.SellTarget
	}
	if u.BuyProgress != nil {
		j.BuyProgress = *u.BuyProgress
	}
	if u.SellProgress != nil {
		j.SellProgress = *u.SellProgress
	}
	if u.LastError != nil {
		j.LastError = u.LastError
	}
	if u.LastSignature != nil {
		j.LastSignature = u.LastSignature
	}
	if u.PendingSignature != nil {
		j.PendingSignature = *u.PendingSignature
	}
	if u.FailureCount != nil {
		j.FailureCount = *u.FailureCount
	}
}
