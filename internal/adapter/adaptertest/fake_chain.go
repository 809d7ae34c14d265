// Package adaptertest provides an in-memory ChainAdapter for tests.
package adaptertest

import (
	"context"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/swap-cycler/internal/adapter"
)

// FakeChain is a programmable in-memory chain
type FakeChain struct {
	mu sync.Mutex

	Native    map[solana.PublicKey]uint64
	Tokens    map[solana.PublicKey]uint64 // token account -> amount
	Rent      uint64
	Blockhash solana.Hash

	// Statuses is consumed in order by SignatureStatus; the last entry repeats.
	Statuses []adapter.SignatureStatus
	SendErr  error
	ReadErr  error

	Sent        []*solana.Transaction
	statusCalls int
}

var _ adapter.ChainAdapter = (*FakeChain)(nil)

// NewFakeChain returns a chain whose transactions confirm immediately
func NewFakeChain() *FakeChain {
	return &FakeChain{
		Native:    make(map[solana.PublicKey]uint64),
		Tokens:    make(map[solana.PublicKey]uint64),
		Rent:      890_880,
		Blockhash: solana.Hash{1, 2, 3},
		Statuses:  []adapter.SignatureStatus{{Found: true, Confirmed: true}},
	}
}

// SetNative sets a lamport balance
func (f *FakeChain) SetNative(owner solana.PublicKey, lamports uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Native[owner] = lamports
}

// SetMint sets owner's balance of mint, creating its associated account
func (f *FakeChain) SetMint(owner, mint solana.PublicKey, amount uint64) {
	if mint.Equals(solana.SolMint) {
		f.SetNative(owner, amount)
		return
	}
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Tokens[ata] = amount
}

// SentCount returns the number of submitted transactions
func (f *FakeChain) SentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Sent)
}

// LastSent returns the most recently submitted transaction
func (f *FakeChain) LastSent() *solana.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Sent) == 0 {
		return nil
	}
	return f.Sent[len(f.Sent)-1]
}

func (f *FakeChain) NativeBalance(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadErr != nil {
		return 0, f.ReadErr
	}
	return f.Native[owner], nil
}

func (f *FakeChain) MintBalance(ctx context.Context, owner, mint solana.PublicKey) (uint64, error) {
	if mint.Equals(solana.SolMint) {
		return f.NativeBalance(ctx, owner)
	}
	ata, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return 0, err
	}
	amount, _, err := f.TokenAccountBalance(ctx, ata)
	return amount, err
}

func (f *FakeChain) TokenAccountBalance(ctx context.Context, account solana.PublicKey) (uint64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ReadErr != nil {
		return 0, false, f.ReadErr
	}
	amount, ok := f.Tokens[account]
	return amount, ok, nil
}

func (f *FakeChain) LatestBlockhash(ctx context.Context) (solana.Hash, error) {
	return f.Blockhash, nil
}

func (f *FakeChain) RentExemptMinimum(ctx context.Context, dataSize uint64) (uint64, error) {
	return f.Rent, nil
}

func (f *FakeChain) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SendErr != nil {
		return solana.Signature{}, f.SendErr
	}
	f.Sent = append(f.Sent, tx)
	if len(tx.Signatures) > 0 {
		return tx.Signatures[0], nil
	}
	return solana.Signature{byte(len(f.Sent))}, nil
}

func (f *FakeChain) SignatureStatus(ctx context.Context, sig solana.Signature) (*adapter.SignatureStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Statuses) == 0 {
		return &adapter.SignatureStatus{}, nil
	}
	idx := f.statusCalls
	if idx >= len(f.Statuses) {
		idx = len(f.Statuses) - 1
	}
	f.statusCalls++
	st := f.Statuses[idx]
	return &st, nil
}
