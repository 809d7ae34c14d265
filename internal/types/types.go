// Package types provides common type definitions for the swap cycler.
package types

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// TaskType is the kind of work a queued task asks the worker to perform
type TaskType string

const (
	// TaskBuy swaps quote into base
	TaskBuy TaskType = "BUY"
	// TaskSell swaps base into quote
	TaskSell TaskType = "SELL"
	// TaskCheckBalance re-evaluates a job that is waiting for funds
	TaskCheckBalance TaskType = "CHECK_BALANCE"
)

// Valid reports whether t is a known task type
func (t TaskType) Valid() bool {
	switch t {
	case TaskBuy, TaskSell, TaskCheckBalance:
		return true
	}
	return false
}

// JobState is the position of a trading job in its cycle
type JobState string

const (
	StateBuying               JobState = "BUYING"
	StateSelling              JobState = "SELLING"
	StateWaitingForQuoteFunds JobState = "WAITING_FOR_QUOTE_FUNDS"
	StateWaitingForBaseFunds  JobState = "WAITING_FOR_BASE_FUNDS"
	StateCycleComplete        JobState = "CYCLE_COMPLETE"
)

// JobStatus is the lifecycle status of a trading job
type JobStatus string

const (
	// JobStatusActive jobs are scheduled
	JobStatusActive JobStatus = "active"
	// JobStatusInactive jobs were paused by their owner
	JobStatusInactive JobStatus = "inactive"
	// JobStatusCompleted jobs finished a one-way cycle
	JobStatusCompleted JobStatus = "completed"
	// JobStatusFailed jobs hit a permanent error or exhausted retries
	JobStatusFailed JobStatus = "failed"
)

// TradeMode selects between a single buy-then-sell cycle and indefinite alternation
type TradeMode string

const (
	ModeOneWay TradeMode = "one-way"
	ModeTwoWay TradeMode = "two-way"
)

// DexID selects the pricing path for a job
type DexID string

const (
	// DexJupiter routes through the swap aggregator
	DexJupiter DexID = "jupiter"
	// DexBondingCurve swaps directly against a constant-product pool
	DexBondingCurve DexID = "bonding_curve"
)

// Side is the direction of a single trade
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// SwapMode tells the aggregator which amount is fixed
type SwapMode string

const (
	ExactIn  SwapMode = "ExactIn"
	ExactOut SwapMode = "ExactOut"
)

// ComponentStatus is the health of one component
type ComponentStatus string

const (
	StatusUp       ComponentStatus = "UP"
	StatusDegraded ComponentStatus = "DEGRADED"
	StatusDown     ComponentStatus = "DOWN"
)

// BpsDenominator is the basis-point scale used for fees and slippage
const BpsDenominator = 10_000

// ParseAmount converts a human readable amount such as "0.05" into base units
// for a token with the given decimals. Fractional base units are rejected.
func ParseAmount(human string, decimals uint8) (uint64, error) {
	d, err := decimal.NewFromString(human)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", human, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("amount %q is negative", human)
	}
	scaled := d.Shift(int32(decimals))
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, fmt.Errorf("amount %q has more than %d decimal places", human, decimals)
	}
	bi := scaled.BigInt()
	if !bi.IsUint64() {
		return 0, fmt.Errorf("amount %q overflows uint64", human)
	}
	return bi.Uint64(), nil
}

// FormatAmount renders base units as a human readable decimal string
func FormatAmount(units uint64, decimals uint8) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(units), -int32(decimals)).String()
}
