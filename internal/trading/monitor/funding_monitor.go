package monitor

import (
	"context"
	"fmt"
	"kimchi_arb/internal/core"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// FundingMonitor polls funding rates across futures venues
type FundingMonitor struct {
	venues map[string]core.IVenue
	logger core.ILogger
	symbol string
	now    func() time.Time

	rates      map[string]decimal.Decimal
	lastUpdate map[string]time.Time
	mu         sync.RWMutex
}

// NewFundingMonitor creates a monitor for one symbol
func NewFundingMonitor(venues map[string]core.IVenue, logger core.ILogger, symbol string) *FundingMonitor {
	return &FundingMonitor{
		venues:     venues,
		logger:     logger.WithField("component", "funding_monitor"),
		symbol:     symbol,
		now:        time.Now,
		rates:      make(map[string]decimal.Decimal),
		lastUpdate: make(map[string]time.Time),
	}
}

// SetClock replaces the time source
func (m *FundingMonitor) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Refresh fetches every venue concurrently. A failing venue keeps its old
// rate and ages toward staleness; the others still update. The returned
// error reports how many venues failed.
func (m *FundingMonitor) Refresh(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	var failed int
	var failMu sync.Mutex
	for name, venue := range m.venues {
		g.Go(func() error {
			rate, err := venue.GetFundingRate(ctx, m.symbol)
			if err != nil {
				m.logger.Warn("Failed to fetch funding rate", "venue", name, "symbol", m.symbol, "error", err)
				failMu.Lock()
				failed++
				failMu.Unlock()
				return nil
			}
			m.updateRate(name, rate)
			return nil
		})
	}
	_ = g.Wait()

	if failed > 0 {
		return fmt.Errorf("funding refresh: %d of %d venues failed", failed, len(m.venues))
	}
	return nil
}

func (m *FundingMonitor) updateRate(venue string, rate decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rates[venue] = rate
	m.lastUpdate[venue] = m.now()
}

// GetRate returns the last known rate of a venue
func (m *FundingMonitor) GetRate(venue string) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rate, ok := m.rates[venue]
	if !ok {
		return decimal.Zero, fmt.Errorf("venue not tracked: %s", venue)
	}
	return rate, nil
}

// IsStale returns true if the last update for venue is older than ttl
func (m *FundingMonitor) IsStale(venue string, ttl time.Duration) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	last, ok := m.lastUpdate[venue]
	if !ok {
		return true
	}
	return m.now().Sub(last) > ttl
}

// FreshRates returns the rates updated within ttl
func (m *FundingMonitor) FreshRates(ttl time.Duration) map[string]decimal.Decimal {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.now()
	out := make(map[string]decimal.Decimal, len(m.rates))
	for venue, rate := range m.rates {
		if now.Sub(m.lastUpdate[venue]) <= ttl {
			out[venue] = rate
		}
	}
	return out
}
