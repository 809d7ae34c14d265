package txbuilder

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/swap-cycler/internal/adapter"
	apperrors "github.com/swap-cycler/internal/errors"
	"github.com/swap-cycler/internal/logging"
)

// SubmitterConfig controls confirmation polling
type SubmitterConfig struct {
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

// Submitter sends transactions and waits for confirmation
type Submitter struct {
	chain adapter.ChainAdapter
	cfg   SubmitterConfig
}

// NewSubmitter creates a submitter
func NewSubmitter(chain adapter.ChainAdapter, cfg SubmitterConfig) *Submitter {
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 90 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 700 * time.Millisecond
	}
	return &Submitter{chain: chain, cfg: cfg}
}

// SubmitAndConfirm sends tx and blocks until it is confirmed, fails on chain
// or the confirmation window elapses. An on-chain failure is returned as a
// CategoryOnChain error and the signature is still returned.
func (s *Submitter) SubmitAndConfirm(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	sig, err := s.chain.SendTransaction(ctx, tx)
	if err != nil {
		return solana.Signature{}, err
	}
	return sig, s.WaitForConfirmation(ctx, sig)
}

// WaitForConfirmation polls the signature status until confirmed or finalized
func (s *Submitter) WaitForConfirmation(ctx context.Context, sig solana.Signature) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	log := logging.FromContext(ctx).WithField("signature", sig.String())
	for {
		select {
		case <-ctx.Done():
			if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
				return apperrors.NewConfirmationTimeoutError(sig.String())
			}
			return ctx.Err()
		case <-ticker.C:
			status, err := s.chain.SignatureStatus(ctx, sig)
			if err != nil {
				log.WithError(err).Debug("Signature status poll failed")
				continue
			}
			if status == nil || !status.Found {
				continue
			}
			if status.Err != nil {
				return apperrors.NewChainError(sig.String(), status.Err)
			}
			if status.Confirmed {
				return nil
			}
		}
	}
}
