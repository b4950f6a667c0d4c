package arbengine

import (
	"context"
	"fmt"
	"kimchi_arb/internal/core"
	apperrors "kimchi_arb/pkg/errors"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

type bookKey struct {
	venue  string
	symbol string
}

// Snapshot is the market view of one tick. It is fetched in parallel and
// then only read.
type Snapshot struct {
	Time       time.Time
	Books      map[bookKey]*core.OrderBookSnapshot
	Balances   map[string]core.Balances
	FX         decimal.Decimal
	FXFallback bool
	Failures   int
	Requests   int
}

// Book returns the fetched book of venue/symbol or nil
func (s *Snapshot) Book(venue, symbol string) *core.OrderBookSnapshot {
	return s.Books[bookKey{venue: venue, symbol: symbol}]
}

// fetchSnapshot fetches books, balances and the FX quote on the worker pool
func (e *Engine) fetchSnapshot(ctx context.Context, now time.Time) (*Snapshot, error) {
	snap := &Snapshot{
		Time:     now,
		Books:    make(map[bookKey]*core.OrderBookSnapshot),
		Balances: make(map[string]core.Balances),
	}

	var mu sync.Mutex
	var fxTicker *core.Ticker
	var tasks []func()

	fail := func(what string, err error) {
		mu.Lock()
		snap.Failures++
		mu.Unlock()
		if apperrors.KindOf(err) == apperrors.KindDataQuality || apperrors.KindOf(err) == apperrors.KindGated {
			e.logger.Debug("Snapshot fetch skipped", "what", what, "error", err)
			return
		}
		e.logger.Warn("Snapshot fetch failed", "what", what, "error", err)
	}

	for _, k := range e.books {
		v, ok := e.venues[k.venue]
		if !ok {
			continue
		}
		tasks = append(tasks, func() {
			book, err := v.GetOrderBook(ctx, k.symbol, e.depthFor(k.symbol))
			if err != nil {
				fail(k.venue+" "+k.symbol, err)
				return
			}
			mu.Lock()
			snap.Books[k] = book
			mu.Unlock()
		})
	}
	for _, name := range e.balanceVenues {
		v, ok := e.venues[name]
		if !ok {
			continue
		}
		tasks = append(tasks, func() {
			bal, err := v.GetBalance(ctx)
			if err != nil {
				fail(name+" balance", err)
				return
			}
			mu.Lock()
			snap.Balances[name] = bal
			mu.Unlock()
		})
	}
	fxCfg := e.cfg.Spread.FX
	if v, ok := e.venues[fxCfg.Venue]; ok && fxCfg.Symbol != "" {
		tasks = append(tasks, func() {
			t, err := v.GetTicker(ctx, fxCfg.Symbol)
			if err != nil {
				fail("fx "+fxCfg.Symbol, err)
				return
			}
			mu.Lock()
			fxTicker = t
			mu.Unlock()
		})
	}

	snap.Requests = len(tasks)
	e.pool.RunAll(tasks...)

	snap.FX = fxRate(fxTicker, fxCfg.Side)
	if !snap.FX.IsPositive() {
		snap.FX = decimal.NewFromFloat(fxCfg.Fallback)
		snap.FXFallback = true
		e.logger.Warn("FX quote unavailable, using fallback", "fallback", fxCfg.Fallback)
	}

	if snap.Requests > 0 && snap.Failures == snap.Requests {
		return snap, fmt.Errorf("%w: all %d snapshot fetches failed", apperrors.ErrVenueUnavailable, snap.Requests)
	}
	return snap, nil
}

// fxRate picks the configured side of the USDT/KRW quote
func fxRate(t *core.Ticker, side string) decimal.Decimal {
	if t == nil {
		return decimal.Zero
	}
	switch strings.ToLower(side) {
	case "ask":
		return t.Ask
	case "mid":
		return t.Mid()
	default:
		return t.Bid
	}
}

func (e *Engine) depthFor(symbol string) int {
	depth := e.cfg.Spread.Depth
	if e.cfg.Cross.Enabled && symbol == e.cfg.Cross.Symbol && e.cfg.Cross.Depth > depth {
		depth = e.cfg.Cross.Depth
	}
	if depth <= 0 {
		depth = 15
	}
	return depth
}
