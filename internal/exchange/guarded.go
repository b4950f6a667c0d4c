package exchange

import (
	"context"
	"errors"
	"fmt"
	"kimchi_arb/internal/config"
	"kimchi_arb/internal/core"
	apperrors "kimchi_arb/pkg/errors"
	"kimchi_arb/pkg/telemetry"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/timeout"
	"github.com/shopspring/decimal"
)

const defaultCallTimeout = 10 * time.Second

// GuardedVenue wraps a venue with the per-exchange breaker, a per-call
// timeout, dry-run order simulation and latency metrics
type GuardedVenue struct {
	inner   core.IVenue
	breaker core.IExchangeBreaker
	timeout time.Duration
	dryRun  bool
	logger  core.ILogger
}

// NewGuardedVenue wraps inner. A zero timeout uses the 10s default.
func NewGuardedVenue(inner core.IVenue, breaker core.IExchangeBreaker, callTimeout time.Duration, dryRun bool, logger core.ILogger) *GuardedVenue {
	if callTimeout <= 0 {
		callTimeout = defaultCallTimeout
	}
	return &GuardedVenue{
		inner:   inner,
		breaker: breaker,
		timeout: callTimeout,
		dryRun:  dryRun,
		logger:  logger.WithField("venue", inner.GetName()),
	}
}

// WrapVenues guards every venue with its configured timeout
func WrapVenues(venues map[string]core.IVenue, cfg *config.Config, breaker core.IExchangeBreaker, logger core.ILogger) map[string]core.IVenue {
	out := make(map[string]core.IVenue, len(venues))
	for name, v := range venues {
		out[name] = NewGuardedVenue(v, breaker, cfg.Venues[name].Timeout, cfg.App.DryRun, logger)
	}
	return out
}

// Unwrap returns the wrapped venue
func (g *GuardedVenue) Unwrap() core.IVenue {
	return g.inner
}

func (g *GuardedVenue) GetName() string {
	return g.inner.GetName()
}

func call[R any](ctx context.Context, g *GuardedVenue, op string, fn func(ctx context.Context) (R, error)) (R, error) {
	var zero R
	name := g.inner.GetName()
	if g.breaker != nil && !g.breaker.Allow(name) {
		return zero, fmt.Errorf("%s %s: %w", name, op, apperrors.ErrVenueDisabled)
	}

	start := time.Now()
	policy := timeout.NewBuilder[R](g.timeout).Build()
	res, err := failsafe.With[R](policy).WithContext(ctx).GetWithExecution(func(exec failsafe.Execution[R]) (R, error) {
		return fn(exec.Context())
	})
	if err != nil && ctx.Err() == nil && (errors.Is(err, timeout.ErrExceeded) || time.Since(start) >= g.timeout) {
		err = fmt.Errorf("%w after %s: %v", apperrors.ErrTimeout, g.timeout, err)
	}

	telemetry.GetGlobalMetrics().RecordVenueLatency(ctx, name, op, float64(time.Since(start).Milliseconds()), err != nil)
	g.record(ctx, name, op, err)

	if err != nil {
		return zero, fmt.Errorf("%s %s: %w", name, op, err)
	}
	return res, nil
}

func (g *GuardedVenue) record(ctx context.Context, name, op string, err error) {
	if g.breaker == nil {
		return
	}
	switch {
	case err == nil:
		g.breaker.RecordSuccess(name)
	case ctx.Err() != nil:
		// caller gave up, the venue is not at fault
	case apperrors.CountsAgainstVenue(err):
		g.logger.Warn("Venue call failed", "op", op, "kind", apperrors.KindOf(err).String(), "error", err)
		g.breaker.RecordFailure(name, err)
	}
}

func (g *GuardedVenue) GetTicker(ctx context.Context, symbol string) (*core.Ticker, error) {
	return call(ctx, g, "ticker", func(ctx context.Context) (*core.Ticker, error) {
		return g.inner.GetTicker(ctx, symbol)
	})
}

func (g *GuardedVenue) GetOrderBook(ctx context.Context, symbol string, depth int) (*core.OrderBookSnapshot, error) {
	return call(ctx, g, "order_book", func(ctx context.Context) (*core.OrderBookSnapshot, error) {
		return g.inner.GetOrderBook(ctx, symbol, depth)
	})
}

func (g *GuardedVenue) GetBalance(ctx context.Context) (core.Balances, error) {
	return call(ctx, g, "balance", func(ctx context.Context) (core.Balances, error) {
		return g.inner.GetBalance(ctx)
	})
}

// SubmitMarketOrder forwards the order, or in dry-run reports it filled in
// full without touching the venue
func (g *GuardedVenue) SubmitMarketOrder(ctx context.Context, symbol string, side core.Side, amount decimal.Decimal) (*core.OrderResult, error) {
	if g.dryRun {
		if g.breaker != nil && !g.breaker.Allow(g.inner.GetName()) {
			return nil, fmt.Errorf("%s order: %w", g.inner.GetName(), apperrors.ErrVenueDisabled)
		}
		g.logger.Info("Dry-run market order", "symbol", symbol, "side", side, "amount", amount.String())
		return &core.OrderResult{
			Venue:     g.inner.GetName(),
			Symbol:    symbol,
			Side:      side,
			OrderID:   "dry-run",
			Requested: amount,
			Filled:    amount,
		}, nil
	}
	return call(ctx, g, "order", func(ctx context.Context) (*core.OrderResult, error) {
		return g.inner.SubmitMarketOrder(ctx, symbol, side, amount)
	})
}

func (g *GuardedVenue) GetFundingRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return call(ctx, g, "funding", func(ctx context.Context) (decimal.Decimal, error) {
		return g.inner.GetFundingRate(ctx, symbol)
	})
}
