// Package txbuilder assembles, signs and submits swap transactions.
package txbuilder

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"

	"github.com/swap-cycler/internal/adapter"
	apperrors "github.com/swap-cycler/internal/errors"
	"github.com/swap-cycler/internal/fees"
	"github.com/swap-cycler/internal/pricing"
	"github.com/swap-cycler/internal/types"
)

// Config holds transaction-wide settings
type Config struct {
	ComputeUnitLimit uint32
	ComputeUnitPrice uint64 // micro-lamports
	AdminWallet      solana.PublicKey
}

// Request is one trade to assemble
type Request struct {
	Quote          *pricing.TradeQuote
	Owner          solana.PrivateKey // swap authority and fee source
	Payer          solana.PrivateKey // worker wallet paying the network fee
	Fees           fees.Split
	ReferralWallet *solana.PublicKey
}

// Builder assembles swap transactions in a fixed instruction order:
// compute budget, missing token accounts, native wrap, swap, fees, closes.
type Builder struct {
	chain      adapter.ChainAdapter
	aggregator pricing.Aggregator
	cfg        Config
}

// NewBuilder creates a builder. aggregator may be nil when only direct pools are used.
func NewBuilder(chain adapter.ChainAdapter, aggregator pricing.Aggregator, cfg Config) *Builder {
	return &Builder{chain: chain, aggregator: aggregator, cfg: cfg}
}

// Build returns the signed transaction for req. The blockhash is fetched
// last so the transaction is as fresh as possible at submission.
func (b *Builder) Build(ctx context.Context, req Request) (*solana.Transaction, error) {
	ixs, err := b.Instructions(ctx, req)
	if err != nil {
		return nil, err
	}

	blockhash, err := b.chain.LatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest blockhash: %w", err)
	}
	payer := req.Payer.PublicKey()
	tx, err := solana.NewTransaction(ixs, blockhash, solana.TransactionPayer(payer))
	if err != nil {
		return nil, fmt.Errorf("build transaction: %w", err)
	}

	owner := req.Owner.PublicKey()
	_, err = tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		switch {
		case key.Equals(payer):
			return &req.Payer
		case key.Equals(owner):
			return &req.Owner
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return tx, nil
}

// Instructions returns the ordered instruction list for req
func (b *Builder) Instructions(ctx context.Context, req Request) ([]solana.Instruction, error) {
	q := req.Quote
	if q == nil {
		return nil, fmt.Errorf("nil quote")
	}
	owner := req.Owner.PublicKey()

	inputATA, _, err := solana.FindAssociatedTokenAddress(owner, q.InputMint)
	if err != nil {
		return nil, fmt.Errorf("input token account: %w", err)
	}
	outputATA, _, err := solana.FindAssociatedTokenAddress(owner, q.OutputMint)
	if err != nil {
		return nil, fmt.Errorf("output token account: %w", err)
	}
	inBalance, inExists, err := b.chain.TokenAccountBalance(ctx, inputATA)
	if err != nil {
		return nil, err
	}
	_, outExists, err := b.chain.TokenAccountBalance(ctx, outputATA)
	if err != nil {
		return nil, err
	}

	inputNative := q.InputMint.Equals(solana.SolMint)
	outputNative := q.OutputMint.Equals(solana.SolMint)

	var ixs []solana.Instruction

	if b.cfg.ComputeUnitLimit > 0 {
		ixs = append(ixs, computebudget.NewSetComputeUnitLimitInstruction(b.cfg.ComputeUnitLimit).Build())
	}
	if b.cfg.ComputeUnitPrice > 0 {
		ixs = append(ixs, computebudget.NewSetComputeUnitPriceInstruction(b.cfg.ComputeUnitPrice).Build())
	}

	if !inExists {
		ixs = append(ixs, associatedtokenaccount.NewCreateInstruction(owner, owner, q.InputMint).Build())
	}
	if !outExists {
		ixs = append(ixs, associatedtokenaccount.NewCreateInstruction(owner, owner, q.OutputMint).Build())
	}

	if inputNative {
		ixs = append(ixs,
			system.NewTransferInstruction(q.MaxIn, owner, inputATA).Build(),
			token.NewSyncNativeInstruction(inputATA).Build(),
		)
	}

	swapIxs, err := b.swapInstructions(ctx, q, owner, inputATA, outputATA)
	if err != nil {
		return nil, err
	}
	ixs = append(ixs, swapIxs...)

	ixs = append(ixs, fees.Instructions(req.Fees, owner, b.cfg.AdminWallet, req.ReferralWallet)...)

	// unwrap whatever native is left in or received into the wrapped account
	if inputNative {
		ixs = append(ixs, token.NewCloseAccountInstruction(inputATA, owner, owner, nil).Build())
	}
	if q.Side == types.SideSell {
		if outputNative {
			ixs = append(ixs, token.NewCloseAccountInstruction(outputATA, owner, owner, nil).Build())
		}
		if !inputNative && inExists && inBalance == q.InAmount {
			ixs = append(ixs, token.NewCloseAccountInstruction(inputATA, owner, owner, nil).Build())
		}
	}
	return ixs, nil
}

func (b *Builder) swapInstructions(ctx context.Context, q *pricing.TradeQuote, owner, inputATA, outputATA solana.PublicKey) ([]solana.Instruction, error) {
	switch q.DexID {
	case types.DexBondingCurve:
		userBase, userQuote := outputATA, inputATA
		if q.Side == types.SideSell {
			userBase, userQuote = inputATA, outputATA
		}
		ix, err := CurveSwapInstruction(q, owner, userBase, userQuote)
		if err != nil {
			return nil, err
		}
		return []solana.Instruction{ix}, nil

	case types.DexJupiter:
		if b.aggregator == nil || q.Route == nil {
			return nil, apperrors.NewConfigurationError("AGGREGATOR_DISABLED", "routed quote without aggregator")
		}
		blob, err := b.aggregator.SwapTransaction(ctx, q.Route, owner)
		if err != nil {
			return nil, err
		}
		return RoutedInstructions(blob)

	default:
		return nil, apperrors.NewUnknownDexError(string(q.DexID))
	}
}
