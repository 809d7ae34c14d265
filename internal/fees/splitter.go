// Package fees computes platform and referral fees and builds the transfer
// instructions that pay them inside the swap transaction.
package fees

import (
	"fmt"
	"math/big"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"

	"github.com/swap-cycler/internal/types"
)

// Split is the fee breakdown for one trade
type Split struct {
	Total    uint64
	Referral uint64
	Admin    uint64
}

// Terms are the fee settings of a job owner
type Terms struct {
	FeeBps         uint64
	ReferralBps    uint64
	ReferralWallet *solana.PublicKey // nil when the owner has no referrer
}

// Compute splits the fee on notional (quote lamports).
//
//	total    = notional * feeBps / 10000
//	referral = total * refBps / 10000   (only with a referrer)
//	admin    = total - referral
func Compute(notional uint64, terms Terms) (Split, error) {
	if terms.FeeBps > types.BpsDenominator {
		return Split{}, fmt.Errorf("fee bps %d out of range", terms.FeeBps)
	}
	if terms.ReferralBps > types.BpsDenominator {
		return Split{}, fmt.Errorf("referral bps %d out of range", terms.ReferralBps)
	}

	den := big.NewInt(types.BpsDenominator)
	total := new(big.Int).SetUint64(notional)
	total.Mul(total, new(big.Int).SetUint64(terms.FeeBps))
	total.Quo(total, den)
	// total <= notional, so it fits
	s := Split{Total: total.Uint64()}

	if terms.ReferralWallet != nil {
		ref := new(big.Int).Mul(total, new(big.Int).SetUint64(terms.ReferralBps))
		ref.Quo(ref, den)
		s.Referral = ref.Uint64()
	}
	s.Admin = s.Total - s.Referral
	return s, nil
}

// Instructions builds the fee transfers paid by payer: referral first, then
// admin. Zero-amount transfers are omitted.
func Instructions(split Split, payer, admin solana.PublicKey, referral *solana.PublicKey) []solana.Instruction {
	var out []solana.Instruction
	if referral != nil && split.Referral > 0 {
		out = append(out, system.NewTransferInstruction(split.Referral, payer, *referral).Build())
	}
	if split.Admin > 0 {
		out = append(out, system.NewTransferInstruction(split.Admin, payer, admin).Build())
	}
	return out
}
