package adapter

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// BalanceOracle answers balance questions for the state machine and funder
type BalanceOracle interface {
	// NativeBalance returns the lamport balance of owner
	NativeBalance(ctx context.Context, owner solana.PublicKey) (uint64, error)

	// MintBalance returns owner's balance of mint in base units. The native
	// mint resolves to the lamport balance; other mints read the owner's
	// associated token account and report 0 when it does not exist.
	MintBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, error)

	// TokenAccountBalance returns the amount held by a token account and
	// whether the account exists
	TokenAccountBalance(ctx context.Context, account solana.PublicKey) (uint64, bool, error)
}

// ChainAdapter is the blockchain RPC surface used by the pipeline
type ChainAdapter interface {
	BalanceOracle

	// LatestBlockhash returns a fresh blockhash for transaction assembly
	LatestBlockhash(ctx context.Context) (solana.Hash, error)

	// RentExemptMinimum returns the lamports needed for an account of dataSize bytes
	RentExemptMinimum(ctx context.Context, dataSize uint64) (uint64, error)

	// SendTransaction submits a signed transaction through the fastest path
	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)

	// SignatureStatus returns the current status of sig
	SignatureStatus(ctx context.Context, sig solana.Signature) (*SignatureStatus, error)
}

// SignatureStatus is a simplified getSignatureStatuses entry
type SignatureStatus struct {
	Found     bool
	Confirmed bool        // confirmed or finalized
	Err       interface{} // non-nil when the transaction failed on chain
}

// AdapterError wraps errors with additional context
type AdapterError struct {
	Op      string
	Err     error
	Details map[string]interface{}
}

func (e *AdapterError) Error() string {
	if len(e.Details) > 0 {
		return fmt.Sprintf("solana adapter error [%s]: %v (details: %+v)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("solana adapter error [%s]: %v", e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// NewAdapterError creates a new AdapterError
func NewAdapterError(op string, err error, details map[string]interface{}) *AdapterError {
	return &AdapterError{
		Op:      op,
		Err:     err,
		Details: details,
	}
}
