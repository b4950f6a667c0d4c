// Package execution submits hedged leg pairs and reverses unhedged exposure
package execution

import (
	"context"
	"errors"
	"fmt"
	"kimchi_arb/internal/core"
	apperrors "kimchi_arb/pkg/errors"
	"kimchi_arb/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

// Leg is one market order of a hedged pair
type Leg struct {
	Venue  core.IVenue
	Symbol string
	Side   core.Side
	Amount decimal.Decimal
}

// Exposure is filled size that has no offsetting fill on the other leg
type Exposure struct {
	Venue  core.IVenue
	Symbol string
	Side   core.Side
	Amount decimal.Decimal
}

// PairResult describes an executed pair. Effective is min(first, second)
// filled; PnL is only ever booked on Effective.
type PairResult struct {
	First     *core.OrderResult
	Second    *core.OrderResult
	Effective decimal.Decimal
	Exposure  *Exposure
}

// Hedged reports whether both legs filled the same amount
func (r *PairResult) Hedged() bool {
	return r.Exposure == nil
}

// PairExecutor executes two offsetting legs sequentially
type PairExecutor struct {
	logger core.ILogger
}

func NewPairExecutor(logger core.ILogger) *PairExecutor {
	return &PairExecutor{logger: logger.WithField("component", "pair_executor")}
}

// Execute submits first, then second. A first-leg failure means nothing
// traded and the result is nil. A second-leg failure returns the result with
// the first fill recorded as exposure, together with the error.
func (e *PairExecutor) Execute(ctx context.Context, first, second Leg) (*PairResult, error) {
	firstRes, err := submit(ctx, first)
	if err != nil {
		e.logger.Warn("First leg failed, aborting pair", "venue", first.Venue.GetName(), "side", first.Side, "error", err)
		return nil, err
	}

	res := &PairResult{First: firstRes, Effective: decimal.Zero}
	if !firstRes.Filled.IsPositive() {
		return res, fmt.Errorf("%w: first leg on %s filled nothing", apperrors.ErrOrderRejected, first.Venue.GetName())
	}

	secondRes, err := submit(ctx, second)
	if err != nil {
		res.Exposure = &Exposure{Venue: first.Venue, Symbol: first.Symbol, Side: first.Side, Amount: firstRes.Filled}
		e.logger.Error("Second leg failed, first leg is unhedged",
			"filled_venue", first.Venue.GetName(),
			"failed_venue", second.Venue.GetName(),
			"exposure", firstRes.Filled.String(),
			"error", err)
		return res, err
	}
	res.Second = secondRes
	res.Effective = tradingutils.MinDecimal(firstRes.Filled, secondRes.Filled)

	switch diff := firstRes.Filled.Sub(secondRes.Filled); {
	case diff.IsPositive():
		res.Exposure = &Exposure{Venue: first.Venue, Symbol: first.Symbol, Side: first.Side, Amount: diff}
	case diff.IsNegative():
		res.Exposure = &Exposure{Venue: second.Venue, Symbol: second.Symbol, Side: second.Side, Amount: diff.Neg()}
	}
	if res.Exposure != nil {
		e.logger.Warn("Partial fill mismatch",
			"first_filled", firstRes.Filled.String(),
			"second_filled", secondRes.Filled.String(),
			"excess_venue", res.Exposure.Venue.GetName())
	}
	return res, nil
}

// Unwind submits the opposite order for an exposure
func (e *PairExecutor) Unwind(ctx context.Context, exp Exposure) (*core.OrderResult, error) {
	if !exp.Amount.IsPositive() {
		return nil, nil
	}
	res, err := exp.Venue.SubmitMarketOrder(ctx, exp.Symbol, exp.Side.Opposite(), exp.Amount)
	if err != nil {
		e.logger.Error("CRITICAL: Unwind failed", "venue", exp.Venue.GetName(), "amount", exp.Amount.String(), "error", err)
		return nil, fmt.Errorf("unwind %s on %s: %w", exp.Amount, exp.Venue.GetName(), err)
	}
	e.logger.Info("Exposure unwound", "venue", exp.Venue.GetName(), "side", exp.Side.Opposite(), "filled", res.Filled.String())
	return res, nil
}

// Reverse closes previously filled legs in reverse order. Every leg is
// attempted; the failures are joined.
func (e *PairExecutor) Reverse(ctx context.Context, legs ...Leg) ([]*core.OrderResult, error) {
	results := make([]*core.OrderResult, len(legs))
	var errs []error
	for i := len(legs) - 1; i >= 0; i-- {
		leg := legs[i]
		res, err := submit(ctx, Leg{Venue: leg.Venue, Symbol: leg.Symbol, Side: leg.Side.Opposite(), Amount: leg.Amount})
		if err != nil {
			e.logger.Error("CRITICAL: Reverse failed", "venue", leg.Venue.GetName(), "error", err)
			errs = append(errs, err)
			continue
		}
		results[i] = res
	}
	return results, errors.Join(errs...)
}

func submit(ctx context.Context, leg Leg) (*core.OrderResult, error) {
	res, err := leg.Venue.SubmitMarketOrder(ctx, leg.Symbol, leg.Side, leg.Amount)
	if err != nil {
		return nil, fmt.Errorf("%s %s leg: %w", leg.Venue.GetName(), leg.Side, err)
	}
	return res, nil
}
