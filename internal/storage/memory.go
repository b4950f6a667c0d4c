package storage

import (
	"context"
	"kimchi_arb/internal/core"
	"sync"
)

// MemoryStore implements core.IStateStore in memory. Values are copied on the
// way in and out so callers cannot alias the stored state.
type MemoryStore struct {
	risk    *core.RiskState
	funding *core.FundingPosition
	saves   int
	mu      sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) SaveRiskState(ctx context.Context, state *core.RiskState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := state.Clone()
	s.risk = &clone
	s.saves++
	return nil
}

func (s *MemoryStore) LoadRiskState(ctx context.Context) (*core.RiskState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.risk == nil {
		return nil, nil
	}
	clone := s.risk.Clone()
	return &clone, nil
}

func (s *MemoryStore) SaveFundingPosition(ctx context.Context, pos *core.FundingPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if pos == nil {
		s.funding = nil
		return nil
	}
	p := *pos
	s.funding = &p
	return nil
}

func (s *MemoryStore) LoadFundingPosition(ctx context.Context) (*core.FundingPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.funding == nil {
		return nil, nil
	}
	p := *s.funding
	return &p, nil
}

// RiskSaves counts SaveRiskState calls
func (s *MemoryStore) RiskSaves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
