package adapter

import (
	"context"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/time/rate"

	apperrors "github.com/swap-cycler/internal/errors"
	"github.com/swap-cycler/internal/retry"
)

// SolanaConfig configures the RPC adapter
type SolanaConfig struct {
	RPCURL            string
	SenderURL         string
	Commitment        rpc.CommitmentType
	RequestsPerSecond int
	MaxAttempts       int
}

// SolanaAdapter implements ChainAdapter over JSON-RPC. Reads are paced by a
// token bucket and retried with exponential backoff; sends are not retried.
type SolanaAdapter struct {
	client     *rpc.Client
	sender     *rpc.Client
	commitment rpc.CommitmentType
	limiter    *rate.Limiter
	retryCfg   *retry.RetryConfig
}

// NewSolanaAdapter creates an adapter for the configured endpoints
func NewSolanaAdapter(cfg SolanaConfig) (*SolanaAdapter, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("solana rpc url is required")
	}
	client := rpc.New(cfg.RPCURL)
	sender := client
	if cfg.SenderURL != "" {
		sender = rpc.New(cfg.SenderURL)
	}
	return NewSolanaAdapterWithClients(client, sender, cfg), nil
}

// NewSolanaAdapterWithClients wires pre-built rpc clients
func NewSolanaAdapterWithClients(client, sender *rpc.Client, cfg SolanaConfig) *SolanaAdapter {
	commitment := cfg.Commitment
	if commitment == "" {
		commitment = rpc.CommitmentConfirmed
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	retryCfg := retry.DefaultRetryConfig()
	if cfg.MaxAttempts > 0 {
		retryCfg.MaxAttempts = cfg.MaxAttempts
	}
	retryCfg.Retryable = func(err error) bool {
		return !errors.Is(err, rpc.ErrNotFound) && !errors.Is(err, context.Canceled)
	}

	return &SolanaAdapter{
		client:     client,
		sender:     sender,
		commitment: commitment,
		limiter:    rate.NewLimiter(rate.Limit(rps), rps),
		retryCfg:   retryCfg,
	}
}

// read runs an idempotent RPC call under the limiter and retry policy
func (a *SolanaAdapter) read(ctx context.Context, method string, fn func(ctx context.Context) error) error {
	result := retry.WithExponentialBackoff(ctx, a.retryCfg, func(ctx context.Context, attempt int) error {
		if err := a.limiter.Wait(ctx); err != nil {
			return err
		}
		return fn(ctx)
	})
	if result.Success {
		return nil
	}
	if errors.Is(result.LastError, rpc.ErrNotFound) {
		return result.LastError
	}
	return apperrors.NewRPCError(method, result.LastError)
}

// NativeBalance returns the lamport balance of owner
func (a *SolanaAdapter) NativeBalance(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	var lamports uint64
	err := a.read(ctx, "getBalance", func(ctx context.Context) error {
		out, err := a.client.GetBalance(ctx, owner, a.commitment)
		if err != nil {
			return err
		}
		lamports = out.Value
		return nil
	})
	return lamports, err
}

// MintBalance returns owner's balance of mint in base units
func (a *SolanaAdapter) MintBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, error) {
	if mint.Equals(solana.SolMint) {
		return a.NativeBalance(ctx, owner)
	}
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return 0, NewAdapterError("MintBalance", err, map[string]interface{}{"owner": owner.String(), "mint": mint.String()})
	}
	amount, _, err := a.TokenAccountBalance(ctx, ata)
	return amount, err
}

// TokenAccountBalance decodes the SPL token account at account
func (a *SolanaAdapter) TokenAccountBalance(ctx context.Context, account solana.PublicKey) (uint64, bool, error) {
	var data []byte
	err := a.read(ctx, "getAccountInfo", func(ctx context.Context) error {
		out, err := a.client.GetAccountInfoWithOpts(ctx, account, &rpc.GetAccountInfoOpts{
			Encoding:   solana.EncodingBase64,
			Commitment: a.commitment,
		})
		if err != nil {
			return err
		}
		data = out.Value.Data.GetBinary()
		return nil
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if len(data) == 0 {
		return 0, true, nil
	}
	amount, err := DecodeTokenAmount(data)
	if err != nil {
		return 0, true, NewAdapterError("TokenAccountBalance", err, map[string]interface{}{"account": account.String()})
	}
	return amount, true, nil
}

// DecodeTokenAmount extracts the amount from raw SPL token account data
func DecodeTokenAmount(data []byte) (uint64, error) {
	var acc token.Account
	if err := bin.NewBinDecoder(data).Decode(&acc); err != nil {
		return 0, fmt.Errorf("decode token account: %w", err)
	}
	return acc.Amount, nil
}

// LatestBlockhash returns a fresh blockhash
func (a *SolanaAdapter) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	var hash solana.Hash
	err := a.read(ctx, "getLatestBlockhash", func(ctx context.Context) error {
		out, err := a.client.GetLatestBlockhash(ctx, a.commitment)
		if err != nil {
			return err
		}
		if out == nil || out.Value == nil {
			return fmt.Errorf("empty blockhash response")
		}
		hash = out.Value.Blockhash
		return nil
	})
	return hash, err
}

// RentExemptMinimum returns the lamports needed for an account of dataSize bytes
func (a *SolanaAdapter) RentExemptMinimum(ctx context.Context, dataSize uint64) (uint64, error) {
	var lamports uint64
	err := a.read(ctx, "getMinimumBalanceForRentExemption", func(ctx context.Context) error {
		out, err := a.client.GetMinimumBalanceForRentExemption(ctx, dataSize, a.commitment)
		if err != nil {
			return err
		}
		lamports = out
		return nil
	})
	return lamports, err
}

// SendTransaction submits tx through the sender endpoint
func (a *SolanaAdapter) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return solana.Signature{}, apperrors.NewRPCError("sendTransaction", err)
	}
	maxRetries := uint(0)
	opts := rpc.TransactionOpts{
		PreflightCommitment: a.commitment,
		MaxRetries:          &maxRetries,
	}
	// fast-path senders reject preflight simulation
	if a.sender != a.client {
		opts.SkipPreflight = true
	}
	sig, err := a.sender.SendTransactionWithOpts(ctx, tx, opts)
	if err != nil {
		return solana.Signature{}, apperrors.NewRPCError("sendTransaction", err)
	}
	return sig, nil
}

// SignatureStatus returns the current status of sig
func (a *SolanaAdapter) SignatureStatus(ctx context.Context, sig solana.Signature) (*SignatureStatus, error) {
	status := &SignatureStatus{}
	err := a.read(ctx, "getSignatureStatuses", func(ctx context.Context) error {
		out, err := a.client.GetSignatureStatuses(ctx, true, sig)
		if err != nil {
			return err
		}
		if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
			return nil
		}
		st := out.Value[0]
		status.Found = true
		status.Err = st.Err
		status.Confirmed = st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
			st.ConfirmationStatus == rpc.ConfirmationStatusFinalized
		return nil
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}
