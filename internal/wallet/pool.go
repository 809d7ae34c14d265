// Package wallet manages the owner wallet and the rotating worker wallets that
// pay network fees for swaps.
package wallet

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"

	apperrors "github.com/swap-cycler/internal/errors"
)

// Selector picks the index of the next worker wallet out of n
type Selector interface {
	Next(n int) int
}

// RandomSelector picks uniformly at random
type RandomSelector struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomSelector creates a random selector seeded from seed
func NewRandomSelector(seed int64) *RandomSelector {
	return &RandomSelector{rng: rand.New(rand.NewSource(seed))}
}

func (s *RandomSelector) Next(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Intn(n)
}

// RoundRobinSelector cycles through the wallets in order
type RoundRobinSelector struct {
	counter atomic.Uint64
}

func (s *RoundRobinSelector) Next(n int) int {
	return int((s.counter.Add(1) - 1) % uint64(n))
}

// NewSelector returns the selector for a configured strategy name
func NewSelector(strategy string) (Selector, error) {
	switch strategy {
	case "", "random":
		return NewRandomSelector(time.Now().UnixNano()), nil
	case "round_robin":
		return &RoundRobinSelector{}, nil
	default:
		return nil, fmt.Errorf("unknown wallet strategy %q", strategy)
	}
}

// KeyProvider resolves the owner key behind a job's funding wallet reference
type KeyProvider interface {
	OwnerKey(ref string) (solana.PrivateKey, error)
}

// Pool holds the owner wallets and the worker wallets used as fee payers.
// With serialize set, a worker wallet is leased to one signer at a time.
type Pool struct {
	owner    solana.PrivateKey
	owners   map[solana.PublicKey]solana.PrivateKey
	workers  []solana.PrivateKey
	selector Selector
	slots    []chan struct{} // nil unless serialized
}

// NewPool creates a pool. The first owner is the default for jobs without a
// funding wallet reference.
func NewPool(owners []solana.PrivateKey, workers []solana.PrivateKey, selector Selector, serialize bool) (*Pool, error) {
	if len(owners) == 0 {
		return nil, fmt.Errorf("at least one owner key is required")
	}
	if len(workers) == 0 {
		return nil, fmt.Errorf("at least one worker key is required")
	}
	if selector == nil {
		selector = NewRandomSelector(time.Now().UnixNano())
	}

	p := &Pool{
		owner:    owners[0],
		owners:   make(map[solana.PublicKey]solana.PrivateKey, len(owners)),
		workers:  workers,
		selector: selector,
	}
	for _, k := range owners {
		p.owners[k.PublicKey()] = k
	}
	if serialize {
		p.slots = make([]chan struct{}, len(workers))
		for i := range p.slots {
			p.slots[i] = make(chan struct{}, 1)
		}
	}
	return p, nil
}

// OwnerKey implements KeyProvider. An empty reference resolves to the default owner.
func (p *Pool) OwnerKey(ref string) (solana.PrivateKey, error) {
	if ref == "" {
		return p.owner, nil
	}
	pk, err := solana.PublicKeyFromBase58(ref)
	if err != nil {
		return nil, apperrors.NewConfigurationError("BAD_FUNDING_WALLET", fmt.Sprintf("funding wallet %q: %v", ref, err))
	}
	key, ok := p.owners[pk]
	if !ok {
		return nil, apperrors.NewConfigurationError("UNKNOWN_FUNDING_WALLET", fmt.Sprintf("no key loaded for funding wallet %s", ref))
	}
	return key, nil
}

// WorkerPublicKeys lists the worker wallet addresses
func (p *Pool) WorkerPublicKeys() []solana.PublicKey {
	out := make([]solana.PublicKey, len(p.workers))
	for i, k := range p.workers {
		out[i] = k.PublicKey()
	}
	return out
}

// Size returns the number of worker wallets
func (p *Pool) Size() int {
	return len(p.workers)
}

// Acquire selects a worker wallet. The returned release func must be called
// once the transaction signed by it has been submitted and confirmed.
func (p *Pool) Acquire(ctx context.Context) (solana.PrivateKey, func(), error) {
	idx := p.selector.Next(len(p.workers))
	if p.slots == nil {
		return p.workers[idx], func() {}, nil
	}

	slot := p.slots[idx]
	select {
	case slot <- struct{}{}:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
	var once sync.Once
	return p.workers[idx], func() { once.Do(func() { <-slot }) }, nil
}

// LoadOwnerKeys reads a solana-keygen JSON keypair file
func LoadOwnerKeys(paths ...string) ([]solana.PrivateKey, error) {
	keys := make([]solana.PrivateKey, 0, len(paths))
	for _, path := range paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		k, err := solana.PrivateKeyFromSolanaKeygenFile(path)
		if err != nil {
			return nil, fmt.Errorf("load owner keypair %s: %w", path, err)
		}
		keys = append(keys, k)
	}
	return keys, nil
}

// LoadWorkerKeys reads one base58 private key per line. Blank lines and
// lines starting with # are ignored.
func LoadWorkerKeys(path string) ([]solana.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read worker keys: %w", err)
	}
	return ParseWorkerKeys(data)
}

// ParseWorkerKeys parses the worker key file format
func ParseWorkerKeys(data []byte) ([]solana.PrivateKey, error) {
	var keys []solana.PrivateKey
	scanner := bufio.NewScanner(bytes.NewReader(data))
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		k, err := solana.PrivateKeyFromBase58(text)
		if err != nil {
			return nil, fmt.Errorf("worker key on line %d: %w", line, err)
		}
		keys = append(keys, k)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return keys, nil
}
