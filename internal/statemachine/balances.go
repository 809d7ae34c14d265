package statemachine

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/swap-cycler/internal/adapter"
	apperrors "github.com/swap-cycler/internal/errors"
	"github.com/swap-cycler/internal/models"
)

// ReadBalances fetches the owner's quote and base holdings for job
func ReadBalances(ctx context.Context, oracle adapter.BalanceOracle, owner solana.PublicKey, job *models.TradingJob) (Balances, error) {
	quoteMint, err := solana.PublicKeyFromBase58(job.QuoteMint)
	if err != nil {
		return Balances{}, apperrors.NewConfigurationError("BAD_MINT", fmt.Sprintf("job %s quote mint %q: %v", job.ID, job.QuoteMint, err))
	}
	baseMint, err := solana.PublicKeyFromBase58(job.BaseMint)
	if err != nil {
		return Balances{}, apperrors.NewConfigurationError("BAD_MINT", fmt.Sprintf("job %s base mint %q: %v", job.ID, job.BaseMint, err))
	}

	var bal Balances
	if bal.Quote, err = oracle.MintBalance(ctx, owner, quoteMint); err != nil {
		return Balances{}, err
	}
	if bal.Base, err = oracle.MintBalance(ctx, owner, baseMint); err != nil {
		return Balances{}, err
	}
	return bal, nil
}
