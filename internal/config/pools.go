package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// PoolConfig describes one direct bonding-curve pool.
type PoolConfig struct {
	Address          string `yaml:"address"`
	ProgramID        string `yaml:"programId"`
	BaseMint         string `yaml:"baseMint"`
	QuoteMint        string `yaml:"quoteMint"`
	BaseVault        string `yaml:"baseVault"`
	QuoteVault       string `yaml:"quoteVault"`
	BaseDecimals     uint8  `yaml:"baseDecimals"`
	QuoteDecimals    uint8  `yaml:"quoteDecimals"`
	LPFeeBps         uint64 `yaml:"lpFeeBps"`
	ProtocolFeeBps   uint64 `yaml:"protocolFeeBps"`
	ProtocolFeeVault string `yaml:"protocolFeeVault"`
}

// PoolRegistry indexes pools by address.
type PoolRegistry struct {
	pools map[string]PoolConfig
}

type poolFile struct {
	Pools []PoolConfig `yaml:"pools"`
}

// ErrPoolNotFound is returned when a job references an unregistered pool.
var ErrPoolNotFound = errors.New("pool not found in registry")

// LoadPoolRegistry reads the YAML registry at path. A missing file yields an
// empty registry so deployments that only use routed swaps need no file.
func LoadPoolRegistry(path string) (*PoolRegistry, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewPoolRegistry(nil)
		}
		return nil, fmt.Errorf("read pool registry %q: %w", path, err)
	}
	return ParsePoolRegistry(body)
}

// ParsePoolRegistry parses registry YAML.
func ParsePoolRegistry(body []byte) (*PoolRegistry, error) {
	var file poolFile
	if err := yaml.Unmarshal(body, &file); err != nil {
		return nil, fmt.Errorf("parse pool registry: %w", err)
	}
	return NewPoolRegistry(file.Pools)
}

// NewPoolRegistry validates and indexes pools.
func NewPoolRegistry(pools []PoolConfig) (*PoolRegistry, error) {
	r := &PoolRegistry{pools: make(map[string]PoolConfig, len(pools))}
	for _, p := range pools {
		addr := strings.TrimSpace(p.Address)
		if addr == "" {
			return nil, fmt.Errorf("pool entry without address")
		}
		if p.BaseVault == "" || p.QuoteVault == "" || p.ProgramID == "" {
			return nil, fmt.Errorf("pool %s: programId, baseVault and quoteVault are required", addr)
		}
		if p.LPFeeBps+p.ProtocolFeeBps > 10_000 {
			return nil, fmt.Errorf("pool %s: fee bps exceed 10000", addr)
		}
		if _, dup := r.pools[addr]; dup {
			return nil, fmt.Errorf("pool %s registered twice", addr)
		}
		p.Address = addr
		r.pools[addr] = p
	}
	return r, nil
}

// Get returns the pool registered under address.
func (r *PoolRegistry) Get(address string) (PoolConfig, error) {
	p, ok := r.pools[address]
	if !ok {
		return PoolConfig{}, fmt.Errorf("%w: %s", ErrPoolNotFound, address)
	}
	return p, nil
}

// Len returns the number of registered pools.
func (r *PoolRegistry) Len() int {
	return len(r.pools)
}
