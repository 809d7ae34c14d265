// Package pricing quotes trades either through the swap aggregator or directly
// against a constant-product bonding curve. All amounts are integer base
// units; every division truncates.
package pricing

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/swap-cycler/internal/types"
)

var (
	// ErrInsufficientLiquidity is returned when a trade would drain a reserve
	ErrInsufficientLiquidity = errors.New("amount exceeds pool reserve")
	// ErrInvalidFee is returned for fee bps outside [0, 10000]
	ErrInvalidFee = errors.New("fee bps out of range")
	// ErrEmptyReserve is returned when a reserve is zero
	ErrEmptyReserve = errors.New("pool reserve is zero")
	// ErrOverflow is returned when a result does not fit in uint64
	ErrOverflow = errors.New("amount overflows uint64")
)

var bpsDenominator = big.NewInt(types.BpsDenominator)

// PoolState is a snapshot of a constant-product pool
type PoolState struct {
	BaseReserve    uint64
	QuoteReserve   uint64
	LPFeeBps       uint64
	ProtocolFeeBps uint64
}

// Validate checks reserves and fee bounds. The two fees together may not
// exceed 10000 bps, so a sell can never charge more than its gross output.
func (p PoolState) Validate() error {
	if p.BaseReserve == 0 || p.QuoteReserve == 0 {
		return ErrEmptyReserve
	}
	if p.LPFeeBps > types.BpsDenominator || p.ProtocolFeeBps > types.BpsDenominator ||
		p.LPFeeBps+p.ProtocolFeeBps > types.BpsDenominator {
		return fmt.Errorf("%w: lp=%d protocol=%d", ErrInvalidFee, p.LPFeeBps, p.ProtocolFeeBps)
	}
	return nil
}

func (p PoolState) totalFeeBps() *big.Int {
	return new(big.Int).SetUint64(p.LPFeeBps + p.ProtocolFeeBps)
}

func u(v uint64) *big.Int { return new(big.Int).SetUint64(v) }

func toUint64(v *big.Int) (uint64, error) {
	if v.Sign() < 0 || !v.IsUint64() {
		return 0, ErrOverflow
	}
	return v.Uint64(), nil
}

// BuyBaseOut returns the base received for spending quoteIn.
//
//	eff     = quoteIn * 10000 / (10000 + lp + proto)
//	baseOut = R_base * eff / (R_quote + eff)
func BuyBaseOut(pool PoolState, quoteIn uint64) (uint64, error) {
	if err := pool.Validate(); err != nil {
		return 0, err
	}
	feeDen := new(big.Int).Add(bpsDenominator, pool.totalFeeBps())
	eff := new(big.Int).Mul(u(quoteIn), bpsDenominator)
	eff.Quo(eff, feeDen)

	num := new(big.Int).Mul(u(pool.BaseReserve), eff)
	den := new(big.Int).Add(u(pool.QuoteReserve), eff)
	return toUint64(num.Quo(num, den))
}

// BuyQuoteIn returns the quote needed to receive exactly baseOut.
//
//	u       = baseOut * R_quote / (R_base - baseOut)
//	quoteIn = u * (10000 + lp + proto) / 10000
func BuyQuoteIn(pool PoolState, baseOut uint64) (uint64, error) {
	if err := pool.Validate(); err != nil {
		return 0, err
	}
	if baseOut >= pool.BaseReserve {
		return 0, fmt.Errorf("%w: baseOut %d >= reserve %d", ErrInsufficientLiquidity, baseOut, pool.BaseReserve)
	}
	gross := new(big.Int).Mul(u(baseOut), u(pool.QuoteReserve))
	gross.Quo(gross, u(pool.BaseReserve-baseOut))

	quoteIn := gross.Mul(gross, new(big.Int).Add(bpsDenominator, pool.totalFeeBps()))
	return toUint64(quoteIn.Quo(quoteIn, bpsDenominator))
}

// SellQuoteOut returns the quote received for selling baseIn, net of fees.
//
//	u        = R_quote * baseIn / (R_base - baseIn)
//	fees     = u * (lp + proto) / 10000
//	quoteOut = u - fees
func SellQuoteOut(pool PoolState, baseIn uint64) (uint64, error) {
	quoteOut, _, err := SellQuoteOutWithFees(pool, baseIn)
	return quoteOut, err
}

// SellQuoteOutWithFees is SellQuoteOut that also reports the fee withheld
func SellQuoteOutWithFees(pool PoolState, baseIn uint64) (quoteOut, fees uint64, err error) {
	if err := pool.Validate(); err != nil {
		return 0, 0, err
	}
	if baseIn >= pool.BaseReserve {
		return 0, 0, fmt.Errorf("%w: baseIn %d >= reserve %d", ErrInsufficientLiquidity, baseIn, pool.BaseReserve)
	}
	gross := new(big.Int).Mul(u(pool.QuoteReserve), u(baseIn))
	gross.Quo(gross, u(pool.BaseReserve-baseIn))

	fee := new(big.Int).Mul(gross, pool.totalFeeBps())
	fee.Quo(fee, bpsDenominator)

	net := new(big.Int).Sub(gross, fee)
	if quoteOut, err = toUint64(net); err != nil {
		return 0, 0, err
	}
	if fees, err = toUint64(fee); err != nil {
		return 0, 0, err
	}
	return quoteOut, fees, nil
}

// MinOut applies slippage to an expected output: out * (10000 - slip) / 10000
func MinOut(out, slippageBps uint64) (uint64, error) {
	if slippageBps > types.BpsDenominator {
		return 0, fmt.Errorf("%w: slippage %d", ErrInvalidFee, slippageBps)
	}
	v := new(big.Int).Mul(u(out), u(types.BpsDenominator-slippageBps))
	return toUint64(v.Quo(v, bpsDenominator))
}

// MaxIn applies slippage to an expected input: in * (10000 + slip) / 10000
func MaxIn(in, slippageBps uint64) (uint64, error) {
	if slippageBps > types.BpsDenominator {
		return 0, fmt.Errorf("%w: slippage %d", ErrInvalidFee, slippageBps)
	}
	v := new(big.Int).Mul(u(in), u(types.BpsDenominator+slippageBps))
	return toUint64(v.Quo(v, bpsDenominator))
}
