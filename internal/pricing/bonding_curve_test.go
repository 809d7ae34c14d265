package pricing

import (
	"errors"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var regressionPool = PoolState{
	BaseReserve:    1_000_000,
	QuoteReserve:   500_000,
	LPFeeBps:       25,
	ProtocolFeeBps: 5,
}

func TestBuyBaseOutRegression(t *testing.T) {
	// eff = 10_000*10_000/10_030 = 9_970; 1_000_000*9_970/509_970 = 19_550
	out, err := BuyBaseOut(regressionPool, 10_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(19_550), out)
}

func TestBuyQuoteIn(t *testing.T) {
	// u = 19_550*500_000/980_450 = 9_969; 9_969*10_030/10_000 = 9_998
	in, err := BuyQuoteIn(regressionPool, 19_550)
	require.NoError(t, err)
	assert.Equal(t, uint64(9_998), in)

	_, err = BuyQuoteIn(regressionPool, regressionPool.BaseReserve)
	assert.True(t, errors.Is(err, ErrInsufficientLiquidity))
}

func TestSellQuoteOut(t *testing.T) {
	// u = 500_000*19_550/980_450 = 9_969; fees = 9_969*30/10_000 = 29
	out, fees, err := SellQuoteOutWithFees(regressionPool, 19_550)
	require.NoError(t, err)
	assert.Equal(t, uint64(29), fees)
	assert.Equal(t, uint64(9_940), out)

	_, err = SellQuoteOut(regressionPool, 2_000_000)
	assert.True(t, errors.Is(err, ErrInsufficientLiquidity))
}

func TestPoolValidation(t *testing.T) {
	tests := []struct {
		name string
		pool PoolState
		want error
	}{
		{"empty base", PoolState{QuoteReserve: 1}, ErrEmptyReserve},
		{"empty quote", PoolState{BaseReserve: 1}, ErrEmptyReserve},
		{"fee too high", PoolState{BaseReserve: 1, QuoteReserve: 1, LPFeeBps: 10_001}, ErrInvalidFee},
		{"fee sum too high", PoolState{BaseReserve: 1, QuoteReserve: 1, LPFeeBps: 6_000, ProtocolFeeBps: 5_000}, ErrInvalidFee},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuyBaseOut(tt.pool, 1)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestSlippageBounds(t *testing.T) {
	minOut, err := MinOut(19_550, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(19_354), minOut)

	maxIn, err := MaxIn(10_000, 100)
	require.NoError(t, err)
	assert.Equal(t, uint64(10_100), maxIn)

	_, err = MaxIn(math.MaxUint64, 100)
	assert.True(t, errors.Is(err, ErrOverflow))

	_, err = MinOut(1, 10_001)
	assert.True(t, errors.Is(err, ErrInvalidFee))
}

func genPool() gopter.Gen {
	return gopter.CombineGens(
		gen.UInt64Range(1, 1<<50),
		gen.UInt64Range(1, 1<<50),
		gen.UInt64Range(0, 5_000),
		gen.UInt64Range(0, 5_000),
	).Map(func(v []interface{}) PoolState {
		return PoolState{
			BaseReserve:    v[0].(uint64),
			QuoteReserve:   v[1].(uint64),
			LPFeeBps:       v[2].(uint64),
			ProtocolFeeBps: v[3].(uint64),
		}
	})
}

func TestBondingCurveProperties(t *testing.T) {
	properties := gopter.NewProperties(nil)

	properties.Property("buy then sell never returns more than was spent", prop.ForAll(
		func(pool PoolState, quoteIn uint64) bool {
			baseOut, err := BuyBaseOut(pool, quoteIn)
			if err != nil {
				return false
			}
			if baseOut == 0 {
				return true
			}
			quoteOut, err := SellQuoteOut(pool, baseOut)
			return err == nil && quoteOut <= quoteIn
		},
		genPool(),
		gen.UInt64Range(0, 1<<50),
	))

	properties.Property("buy never drains the base reserve", prop.ForAll(
		func(pool PoolState, quoteIn uint64) bool {
			baseOut, err := BuyBaseOut(pool, quoteIn)
			return err == nil && baseOut < pool.BaseReserve
		},
		genPool(),
		gen.UInt64Range(0, 1<<50),
	))

	properties.Property("sell output is strictly below gross when fees apply", prop.ForAll(
		func(pool PoolState, frac uint64) bool {
			baseIn := pool.BaseReserve * frac / 1000
			if baseIn >= pool.BaseReserve {
				return true
			}
			out, fees, err := SellQuoteOutWithFees(pool, baseIn)
			if err != nil {
				return false
			}
			gross := out + fees
			if fees > 0 {
				return out < gross
			}
			return out == gross
		},
		genPool(),
		gen.UInt64Range(0, 999),
	))

	properties.TestingRun(t)
}
