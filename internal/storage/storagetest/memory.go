// Package storagetest provides in-memory stores for tests.
package storagetest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/swap-cycler/internal/models"
	"github.com/swap-cycler/internal/storage"
	"github.com/swap-cycler/internal/types"
)

// MemoryJobStore is a JobStore backed by a map
type MemoryJobStore struct {
	mu   sync.Mutex
	jobs map[string]models.TradingJob

	ListErr   error
	UpdateErr error
	Updates   []models.JobUpdate
}

var _ storage.JobStore = (*MemoryJobStore)(nil)

// NewMemoryJobStore returns a store seeded with jobs
func NewMemoryJobStore(jobs ...models.TradingJob) *MemoryJobStore {
	s := &MemoryJobStore{jobs: make(map[string]models.TradingJob)}
	for _, j := range jobs {
		s.jobs[j.ID] = j
	}
	return s
}

// Put inserts or replaces a job
func (s *MemoryJobStore) Put(job models.TradingJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

// Get returns a copy of a job, or false
func (s *MemoryJobStore) Get(id string) (models.TradingJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	return j, ok
}

func (s *MemoryJobStore) FindJob(ctx context.Context, id string) (*models.TradingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", storage.ErrJobNotFound, id)
	}
	return &j, nil
}

func (s *MemoryJobStore) UpdateJob(ctx context.Context, id string, update models.JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpdateErr != nil {
		return s.UpdateErr
	}
	j, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", storage.ErrJobNotFound, id)
	}
	update.Apply(&j)
	s.jobs[id] = j
	s.Updates = append(s.Updates, update)
	return nil
}

func (s *MemoryJobStore) ListActiveJobs(ctx context.Context) ([]models.TradingJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ListErr != nil {
		return nil, s.ListErr
	}
	var out []models.TradingJob
	for _, j := range s.jobs {
		if j.Status == types.JobStatusActive {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].ID < out[b].ID })
	return out, nil
}

// MemoryLedger collects trade records
type MemoryLedger struct {
	mu     sync.Mutex
	Trades []models.TradeRecord
	Err    error
}

var _ storage.TradeLedger = (*MemoryLedger)(nil)

func (l *MemoryLedger) RecordTrade(ctx context.Context, rec *models.TradeRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return l.Err
	}
	l.Trades = append(l.Trades, *rec)
	return nil
}

// All returns a copy of the recorded trades
func (l *MemoryLedger) All() []models.TradeRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]models.TradeRecord(nil), l.Trades...)
}
