// Package exchange provides venue construction and the guarded venue wrapper
package exchange

import (
	"fmt"
	"kimchi_arb/internal/config"
	"kimchi_arb/internal/core"
	"kimchi_arb/internal/exchange/binance"
	"kimchi_arb/internal/exchange/bybit"
	"kimchi_arb/internal/exchange/krw"
	"kimchi_arb/internal/exchange/okx"
	"kimchi_arb/internal/mock"
	"sort"
	"strings"
	"sync"
)

// Factory builds one venue from its configuration
type Factory func(name string, cfg config.VenueConfig, logger core.ILogger) (core.IVenue, error)

// Registry maps a venue kind to its factory
type Registry struct {
	factories map[string]Factory
	mu        sync.RWMutex
}

// NewRegistry returns a registry with every supported kind registered
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}

	r.Register("binance", func(name string, cfg config.VenueConfig, logger core.ILogger) (core.IVenue, error) {
		return binance.NewBinanceExchange(name, cfg, logger), nil
	})
	r.Register("bybit", func(name string, cfg config.VenueConfig, logger core.ILogger) (core.IVenue, error) {
		return bybit.NewBybitExchange(name, cfg, logger), nil
	})
	r.Register("okx", func(name string, cfg config.VenueConfig, logger core.ILogger) (core.IVenue, error) {
		return okx.NewOKXExchange(name, cfg, logger)
	})
	r.Register("upbit", func(name string, cfg config.VenueConfig, logger core.ILogger) (core.IVenue, error) {
		return krw.NewUpbitExchange(name, cfg, logger), nil
	})
	r.Register("bithumb", func(name string, cfg config.VenueConfig, logger core.ILogger) (core.IVenue, error) {
		return krw.NewBithumbExchange(name, cfg, logger), nil
	})
	r.Register("mock", func(name string, cfg config.VenueConfig, logger core.ILogger) (core.IVenue, error) {
		return mock.NewMockExchange(name), nil
	})

	return r
}

// Register adds or replaces the factory for a kind
func (r *Registry) Register(kind string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(kind)] = f
}

// Kinds lists the registered kinds in order
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.factories))
	for k := range r.factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Build creates a single venue
func (r *Registry) Build(name string, cfg config.VenueConfig, logger core.ILogger) (core.IVenue, error) {
	r.mu.RLock()
	f, ok := r.factories[strings.ToLower(cfg.Kind)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported venue kind %q for %s", cfg.Kind, name)
	}

	venue, err := f(name, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create venue %s: %w", name, err)
	}
	return venue, nil
}

// BuildVenues creates every configured venue, keyed by venue name
func (r *Registry) BuildVenues(cfg *config.Config, logger core.ILogger) (map[string]core.IVenue, error) {
	venues := make(map[string]core.IVenue, len(cfg.Venues))
	for _, name := range cfg.VenueNames() {
		venue, err := r.Build(name, cfg.Venues[name], logger)
		if err != nil {
			return nil, err
		}
		venues[name] = venue
	}
	return venues, nil
}
