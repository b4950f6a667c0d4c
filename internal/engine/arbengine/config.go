package arbengine

import (
	"kimchi_arb/internal/config"
	"kimchi_arb/internal/core"
	"sort"

	"github.com/shopspring/decimal"
)

const krw = "KRW"

// venueFees collects the taker fee of every configured venue
func venueFees(cfg *config.Config) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(cfg.Venues))
	for name, v := range cfg.Venues {
		out[name] = decimal.NewFromFloat(v.FeeRate)
	}
	return out
}

// bookRequests lists every (venue, symbol) book the enabled layers read
func bookRequests(cfg *config.Config) []bookKey {
	seen := make(map[bookKey]bool)
	var out []bookKey
	add := func(venue, symbol string) {
		k := bookKey{venue: venue, symbol: symbol}
		if venue == "" || seen[k] {
			return
		}
		seen[k] = true
		out = append(out, k)
	}
	if cfg.Spread.Enabled {
		add(cfg.Spread.ReferenceVenue, cfg.Spread.ReferenceSymbol)
		for _, v := range cfg.Spread.Venues {
			add(v, cfg.Spread.Symbol)
		}
	}
	if cfg.Cross.Enabled {
		for _, v := range cfg.Cross.Venues {
			add(v, cfg.Cross.Symbol)
		}
	}
	return out
}

// balanceVenues lists every venue whose balances some layer needs
func balanceVenues(cfg *config.Config) []string {
	set := make(map[string]bool)
	if cfg.Spread.Enabled {
		set[cfg.Spread.ReferenceVenue] = true
		for _, v := range cfg.Spread.Venues {
			set[v] = true
		}
	}
	if cfg.Cross.Enabled {
		for _, v := range cfg.Cross.Venues {
			set[v] = true
		}
	}
	if cfg.Funding.Enabled {
		for _, v := range cfg.Funding.Venues {
			set[v] = true
		}
	}
	if cfg.Rebalance.Enabled {
		for _, v := range cfg.Rebalance.Venues {
			set[v] = true
		}
	}
	delete(set, "")
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// toKRW is the multiplier from symbol's quote currency to KRW
func toKRW(symbol string, fx decimal.Decimal) decimal.Decimal {
	if _, quote, err := core.SplitSymbol(symbol); err == nil && quote == krw {
		return decimal.NewFromInt(1)
	}
	return fx
}

// probeSize is the amount premiums are estimated at before sizing
func probeSize(cfg *config.Config) decimal.Decimal {
	if cfg.Orchestrator.MinAmount > 0 {
		return decimal.NewFromFloat(cfg.Orchestrator.MinAmount)
	}
	return decimal.RequireFromString("0.001")
}
