package pricing

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/swap-cycler/internal/adapter"
	"github.com/swap-cycler/internal/config"
	apperrors "github.com/swap-cycler/internal/errors"
	"github.com/swap-cycler/internal/models"
	"github.com/swap-cycler/internal/types"
)

// Aggregator is the routed quote provider
type Aggregator interface {
	Quote(ctx context.Context, req QuoteRequest) (*AggregatorQuote, error)
	SwapTransaction(ctx context.Context, quote *AggregatorQuote, user solana.PublicKey) (string, error)
}

// TradeQuote is a priced trade ready for transaction assembly
type TradeQuote struct {
	Side       types.Side
	DexID      types.DexID
	InputMint  solana.PublicKey
	OutputMint solana.PublicKey
	InAmount   uint64
	OutAmount  uint64
	MinOut     uint64
	// MaxIn bounds what the swap may spend. Direct buys add slippage on top
	// of the exact-out cost; everywhere else it equals InAmount.
	MaxIn uint64

	// Route is set on the routed path
	Route *AggregatorQuote
	// Pool and State are set on the direct path
	Pool  *config.PoolConfig
	State PoolState
}

// FeeNotional is the quote-denominated amount platform fees are charged on:
// the quote spent on a buy, the minimum quote received on a sell.
func (q *TradeQuote) FeeNotional() uint64 {
	if q.Side == types.SideBuy {
		return q.InAmount
	}
	return q.MinOut
}

// Quoter selects the pricing path for a job
type Quoter struct {
	aggregator Aggregator
	oracle     adapter.BalanceOracle
	pools      *config.PoolRegistry
}

// NewQuoter creates a quoter
func NewQuoter(aggregator Aggregator, oracle adapter.BalanceOracle, pools *config.PoolRegistry) *Quoter {
	return &Quoter{aggregator: aggregator, oracle: oracle, pools: pools}
}

// Quote prices one leg of job
func (q *Quoter) Quote(ctx context.Context, job *models.TradingJob, side types.Side) (*TradeQuote, error) {
	baseMint, quoteMint, err := JobMints(job)
	if err != nil {
		return nil, err
	}

	tq := &TradeQuote{Side: side, DexID: job.DexID}
	if side == types.SideBuy {
		tq.InputMint, tq.OutputMint, tq.InAmount = quoteMint, baseMint, job.Amount
	} else {
		tq.InputMint, tq.OutputMint, tq.InAmount = baseMint, quoteMint, job.TokenAmount
	}
	if tq.InAmount == 0 {
		return nil, apperrors.NewConfigurationError("ZERO_AMOUNT", fmt.Sprintf("job %s has zero %s amount", job.ID, side))
	}

	switch job.DexID {
	case types.DexJupiter:
		err = q.quoteRouted(ctx, job, tq)
	case types.DexBondingCurve:
		err = q.quoteDirect(ctx, job, tq)
	default:
		err = apperrors.NewUnknownDexError(string(job.DexID))
	}
	if err != nil {
		return nil, err
	}
	if tq.OutAmount == 0 || tq.MinOut == 0 {
		return nil, apperrors.NewSlippageError(1, tq.OutAmount)
	}
	if tq.MaxIn == 0 {
		tq.MaxIn = tq.InAmount
	}
	return tq, nil
}

func (q *Quoter) quoteRouted(ctx context.Context, job *models.TradingJob, tq *TradeQuote) error {
	if q.aggregator == nil {
		return apperrors.NewConfigurationError("AGGREGATOR_DISABLED", "no aggregator configured")
	}
	route, err := q.aggregator.Quote(ctx, QuoteRequest{
		InputMint:   tq.InputMint,
		OutputMint:  tq.OutputMint,
		Amount:      tq.InAmount,
		SlippageBps: job.SlippageBps,
		SwapMode:    types.ExactIn,
	})
	if err != nil {
		return err
	}
	in, out, threshold, err := route.Amounts()
	if err != nil {
		return apperrors.NewAggregatorError("quote", 200, err)
	}
	if in != tq.InAmount {
		return apperrors.NewAggregatorError("quote", 200, fmt.Errorf("route spends %d, requested %d", in, tq.InAmount))
	}
	tq.OutAmount = out
	tq.MinOut = threshold
	tq.Route = route
	return nil
}

func (q *Quoter) quoteDirect(ctx context.Context, job *models.TradingJob, tq *TradeQuote) error {
	if q.pools == nil {
		return apperrors.NewPoolNotFoundError(job.PoolAddress, nil)
	}
	pool, err := q.pools.Get(job.PoolAddress)
	if err != nil {
		return apperrors.NewPoolNotFoundError(job.PoolAddress, err)
	}
	if pool.BaseMint != job.BaseMint || pool.QuoteMint != job.QuoteMint {
		return apperrors.NewConfigurationError("POOL_MINT_MISMATCH",
			fmt.Sprintf("pool %s trades %s/%s, job wants %s/%s", pool.Address, pool.BaseMint, pool.QuoteMint, job.BaseMint, job.QuoteMint))
	}
	if pool.BaseDecimals != job.BaseDecimals {
		return apperrors.NewDecimalsMismatchError(job.BaseMint, job.BaseDecimals, pool.BaseDecimals)
	}
	if pool.QuoteDecimals != job.QuoteDecimals {
		return apperrors.NewDecimalsMismatchError(job.QuoteMint, job.QuoteDecimals, pool.QuoteDecimals)
	}

	state, err := ReadPoolState(ctx, q.oracle, pool)
	if err != nil {
		return err
	}

	var out uint64
	if tq.Side == types.SideBuy {
		out, err = BuyBaseOut(state, tq.InAmount)
	} else {
		out, err = SellQuoteOut(state, tq.InAmount)
	}
	if err != nil {
		return apperrors.NewConfigurationError("POOL_MATH", err.Error())
	}
	minOut, err := MinOut(out, job.SlippageBps)
	if err != nil {
		return apperrors.NewConfigurationError("BAD_SLIPPAGE", err.Error())
	}

	// a direct buy is exact-out: the pool charges BuyQuoteIn(out), which
	// floors to at most InAmount, and slippage bounds that charge
	if tq.Side == types.SideBuy {
		cost, err := BuyQuoteIn(state, out)
		if err != nil {
			return apperrors.NewConfigurationError("POOL_MATH", err.Error())
		}
		if tq.MaxIn, err = MaxIn(cost, job.SlippageBps); err != nil {
			return apperrors.NewConfigurationError("BAD_SLIPPAGE", err.Error())
		}
	}

	tq.OutAmount = out
	tq.MinOut = minOut
	tq.Pool = &pool
	tq.State = state
	return nil
}

// ReadPoolState reads vault balances for pool
func ReadPoolState(ctx context.Context, oracle adapter.BalanceOracle, pool config.PoolConfig) (PoolState, error) {
	baseVault, err := solana.PublicKeyFromBase58(pool.BaseVault)
	if err != nil {
		return PoolState{}, apperrors.NewConfigurationError("BAD_POOL_ADDRESS", fmt.Sprintf("base vault %q: %v", pool.BaseVault, err))
	}
	quoteVault, err := solana.PublicKeyFromBase58(pool.QuoteVault)
	if err != nil {
		return PoolState{}, apperrors.NewConfigurationError("BAD_POOL_ADDRESS", fmt.Sprintf("quote vault %q: %v", pool.QuoteVault, err))
	}

	baseReserve, ok, err := oracle.TokenAccountBalance(ctx, baseVault)
	if err != nil {
		return PoolState{}, err
	}
	if !ok {
		return PoolState{}, apperrors.NewPoolNotFoundError(pool.Address, fmt.Errorf("base vault %s missing", baseVault))
	}
	quoteReserve, ok, err := oracle.TokenAccountBalance(ctx, quoteVault)
	if err != nil {
		return PoolState{}, err
	}
	if !ok {
		return PoolState{}, apperrors.NewPoolNotFoundError(pool.Address, fmt.Errorf("quote vault %s missing", quoteVault))
	}

	return PoolState{
		BaseReserve:    baseReserve,
		QuoteReserve:   quoteReserve,
		LPFeeBps:       pool.LPFeeBps,
		ProtocolFeeBps: pool.ProtocolFeeBps,
	}, nil
}

// JobMints parses the job's base and quote mints. Only native quote is supported.
func JobMints(job *models.TradingJob) (base, quote solana.PublicKey, err error) {
	base, err = solana.PublicKeyFromBase58(job.BaseMint)
	if err != nil {
		return base, quote, apperrors.NewConfigurationError("BAD_MINT", fmt.Sprintf("base mint %q: %v", job.BaseMint, err))
	}
	quote, err = solana.PublicKeyFromBase58(job.QuoteMint)
	if err != nil {
		return base, quote, apperrors.NewConfigurationError("BAD_MINT", fmt.Sprintf("quote mint %q: %v", job.QuoteMint, err))
	}
	if !quote.Equals(solana.SolMint) {
		return base, quote, apperrors.NewConfigurationError("UNSUPPORTED_QUOTE", fmt.Sprintf("quote mint %s is not native SOL", quote))
	}
	return base, quote, nil
}
