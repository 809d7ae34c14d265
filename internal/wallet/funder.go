package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"

	"github.com/swap-cycler/internal/adapter"
	apperrors "github.com/swap-cycler/internal/errors"
	"github.com/swap-cycler/internal/logging"
)

// ErrOwnerInsufficient is returned when the owner cannot cover the total
// worker shortfall. Nothing is submitted in that case.
var ErrOwnerInsufficient = errors.New("owner balance cannot cover worker funding")

// Submitter sends a signed transaction and waits for confirmation
type Submitter interface {
	SubmitAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

// FunderConfig configures worker top-ups
type FunderConfig struct {
	RentBuffer   uint64 // lamports kept above the rent-exempt minimum
	FeeAllowance uint64 // lamports the owner keeps for the funding tx fee
}

// FundingResult describes one funding pass
type FundingResult struct {
	Transfers map[solana.PublicKey]uint64
	Total     uint64
	Signature solana.Signature // zero when nothing needed funding
}

// Funder tops up worker wallets from the owner wallet
type Funder struct {
	chain     adapter.ChainAdapter
	submitter Submitter
	cfg       FunderConfig
}

// NewFunder creates a funder
func NewFunder(chain adapter.ChainAdapter, submitter Submitter, cfg FunderConfig) *Funder {
	return &Funder{chain: chain, submitter: submitter, cfg: cfg}
}

// Shortfall returns max(0, required - balance)
func Shortfall(required, balance uint64) uint64 {
	if balance >= required {
		return 0
	}
	return required - balance
}

// Fund brings every worker up to rentExemptMin + buffer with a single
// owner-paid transaction. It aborts without submitting when the owner
// balance does not cover the total plus the fee allowance.
func (f *Funder) Fund(ctx context.Context, owner solana.PrivateKey, workers []solana.PublicKey) (*FundingResult, error) {
	rent, err := f.chain.RentExemptMinimum(ctx, 0)
	if err != nil {
		return nil, fmt.Errorf("rent exempt minimum: %w", err)
	}
	required := rent + f.cfg.RentBuffer

	result := &FundingResult{Transfers: make(map[solana.PublicKey]uint64)}
	ownerPub := owner.PublicKey()
	var ixs []solana.Instruction
	for _, w := range workers {
		balance, err := f.chain.NativeBalance(ctx, w)
		if err != nil {
			return nil, fmt.Errorf("worker %s balance: %w", w, err)
		}
		short := Shortfall(required, balance)
		if short == 0 {
			continue
		}
		result.Transfers[w] = short
		result.Total += short
		ixs = append(ixs, system.NewTransferInstruction(short, ownerPub, w).Build())
	}
	if len(ixs) == 0 {
		return result, nil
	}

	ownerBalance, err := f.chain.NativeBalance(ctx, ownerPub)
	if err != nil {
		return nil, fmt.Errorf("owner balance: %w", err)
	}
	need := result.Total + f.cfg.FeeAllowance
	if ownerBalance < need {
		logging.WithFields(map[string]interface{}{
			"owner":    ownerPub.String(),
			"balance":  ownerBalance,
			"required": need,
			"wallets":  len(ixs),
		}).Warn("Worker funding aborted: owner balance too low")
		return nil, &apperrors.CategorizedError{
			Category: apperrors.CategoryInsufficientFunds,
			Code:     "OWNER_INSUFFICIENT",
			Message:  fmt.Sprintf("owner %s has %d lamports, funding needs %d", ownerPub, ownerBalance, need),
			Cause:    ErrOwnerInsufficient,
			Details: map[string]interface{}{
				"owner": ownerPub.String(),
				"have":  ownerBalance,
				"need":  need,
			},
		}
	}

	blockhash, err := f.chain.LatestBlockhash(ctx)
	if err != nil {
		return nil, fmt.Errorf("latest blockhash: %w", err)
	}
	tx, err := solana.NewTransaction(ixs, blockhash, solana.TransactionPayer(ownerPub))
	if err != nil {
		return nil, fmt.Errorf("build funding transaction: %w", err)
	}
	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(ownerPub) {
			return &owner
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("sign funding transaction: %w", err)
	}

	sig, err := f.submitter.SubmitAndConfirm(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("submit funding transaction: %w", err)
	}
	result.Signature = sig

	logging.WithFields(map[string]interface{}{
		"owner":     ownerPub.String(),
		"wallets":   len(ixs),
		"lamports":  result.Total,
		"signature": sig.String(),
	}).Info("Funded worker wallets")
	return result, nil
}
