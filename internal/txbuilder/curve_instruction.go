package txbuilder

import (
	"bytes"
	"crypto/sha256"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/swap-cycler/internal/config"
	apperrors "github.com/swap-cycler/internal/errors"
	"github.com/swap-cycler/internal/pricing"
	"github.com/swap-cycler/internal/types"
)

var (
	curveBuyDiscriminator  = anchorDiscriminator("buy")
	curveSellDiscriminator = anchorDiscriminator("sell")
)

func anchorDiscriminator(name string) [8]byte {
	hash := sha256.Sum256([]byte("global:" + name))
	var out [8]byte
	copy(out[:], hash[:8])
	return out
}

// curveAccounts are the parsed addresses of a registry pool
type curveAccounts struct {
	program     solana.PublicKey
	pool        solana.PublicKey
	baseMint    solana.PublicKey
	quoteMint   solana.PublicKey
	baseVault   solana.PublicKey
	quoteVault  solana.PublicKey
	protocolFee solana.PublicKey
}

func parseCurveAccounts(pool *config.PoolConfig) (*curveAccounts, error) {
	var acc curveAccounts
	fields := []struct {
		name string
		in   string
		out  *solana.PublicKey
	}{
		{"programId", pool.ProgramID, &acc.program},
		{"address", pool.Address, &acc.pool},
		{"baseMint", pool.BaseMint, &acc.baseMint},
		{"quoteMint", pool.QuoteMint, &acc.quoteMint},
		{"baseVault", pool.BaseVault, &acc.baseVault},
		{"quoteVault", pool.QuoteVault, &acc.quoteVault},
	}
	for _, f := range fields {
		pk, err := solana.PublicKeyFromBase58(f.in)
		if err != nil {
			return nil, apperrors.NewConfigurationError("BAD_POOL_ADDRESS", fmt.Sprintf("pool %s %s %q: %v", pool.Address, f.name, f.in, err))
		}
		*f.out = pk
	}
	// an absent protocol fee vault is passed as the program id (anchor's None)
	acc.protocolFee = acc.program
	if pool.ProtocolFeeVault != "" {
		pk, err := solana.PublicKeyFromBase58(pool.ProtocolFeeVault)
		if err != nil {
			return nil, apperrors.NewConfigurationError("BAD_POOL_ADDRESS", fmt.Sprintf("pool %s protocolFeeVault: %v", pool.Address, err))
		}
		acc.protocolFee = pk
	}
	return &acc, nil
}

// CurveSwapInstruction builds the direct pool swap.
//
//	buy:  baseAmountOut = quote.OutAmount, maxQuoteAmountIn = quote.MaxIn
//	sell: baseAmountIn = quote.InAmount,  minQuoteAmountOut = quote.MinOut
func CurveSwapInstruction(q *pricing.TradeQuote, user, userBase, userQuote solana.PublicKey) (solana.Instruction, error) {
	if q.Pool == nil {
		return nil, apperrors.NewPoolNotFoundError("", fmt.Errorf("quote has no pool"))
	}
	acc, err := parseCurveAccounts(q.Pool)
	if err != nil {
		return nil, err
	}

	disc := curveSellDiscriminator
	amount, limit := q.InAmount, q.MinOut
	if q.Side == types.SideBuy {
		disc = curveBuyDiscriminator
		amount, limit = q.OutAmount, q.MaxIn
	}

	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	if err := enc.WriteBytes(disc[:], false); err != nil {
		return nil, fmt.Errorf("write discriminator: %w", err)
	}
	if err := enc.Encode(amount); err != nil {
		return nil, fmt.Errorf("encode amount: %w", err)
	}
	if err := enc.Encode(limit); err != nil {
		return nil, fmt.Errorf("encode limit: %w", err)
	}

	accounts := solana.AccountMetaSlice{
		solana.NewAccountMeta(acc.pool, true, false),
		solana.NewAccountMeta(user, true, true),
		solana.NewAccountMeta(acc.baseMint, false, false),
		solana.NewAccountMeta(acc.quoteMint, false, false),
		solana.NewAccountMeta(userBase, true, false),
		solana.NewAccountMeta(userQuote, true, false),
		solana.NewAccountMeta(acc.baseVault, true, false),
		solana.NewAccountMeta(acc.quoteVault, true, false),
		solana.NewAccountMeta(acc.protocolFee, true, false),
		solana.NewAccountMeta(solana.TokenProgramID, false, false),
		solana.NewAccountMeta(solana.SystemProgramID, false, false),
		solana.NewAccountMeta(solana.SPLAssociatedTokenAccountProgramID, false, false),
	}
	return solana.NewInstruction(acc.program, accounts, buf.Bytes()), nil
}
