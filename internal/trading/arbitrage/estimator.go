// Package arbitrage estimates realizable premiums and gates entries
package arbitrage

import (
	"fmt"
	"kimchi_arb/internal/core"
	apperrors "kimchi_arb/pkg/errors"
	"kimchi_arb/pkg/tradingutils"
	"time"

	"github.com/shopspring/decimal"
)

// WalkBook consumes levels from best price outward until size is filled and
// returns the size-weighted average price of what was consumed. A book that
// cannot fill size yields ErrInsufficientDepth, never a partial-depth price.
func WalkBook(levels []core.PriceLevel, size decimal.Decimal) (decimal.Decimal, error) {
	if !size.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: size %s", apperrors.ErrInvalidOrderParameter, size)
	}
	if len(levels) == 0 {
		return decimal.Zero, apperrors.ErrEmptyBook
	}

	remaining := size
	cost := decimal.Zero
	for _, lvl := range levels {
		if !lvl.Size.IsPositive() || !lvl.Price.IsPositive() {
			continue
		}
		take := tradingutils.MinDecimal(remaining, lvl.Size)
		cost = cost.Add(take.Mul(lvl.Price))
		remaining = remaining.Sub(take)
		if remaining.IsZero() {
			return cost.Div(size), nil
		}
	}
	return decimal.Zero, fmt.Errorf("%w: %s short of %s", apperrors.ErrInsufficientDepth, remaining, size)
}

// Estimator turns order book snapshots into realizable premium samples
type Estimator struct {
	now func() time.Time
}

func NewEstimator() *Estimator {
	return &Estimator{now: time.Now}
}

// Estimate walks the side of book that direction consumes and computes
// (vwap / fx / refPrice - 1) * 100. Sell-at-venue walks bids, buy-at-venue
// walks asks. An error means no opportunity this tick.
func (e *Estimator) Estimate(book *core.OrderBookSnapshot, layer core.Layer, dir core.Direction, size, refPrice, fx decimal.Decimal) (core.PremiumSample, error) {
	if book == nil {
		return core.PremiumSample{}, apperrors.ErrEmptyBook
	}
	if !refPrice.IsPositive() || !fx.IsPositive() {
		return core.PremiumSample{}, fmt.Errorf("%w: reference %s fx %s", apperrors.ErrNoQuote, refPrice, fx)
	}

	levels := book.Bids
	if dir == core.BuyAtVenue {
		levels = book.Asks
	}
	vwap, err := WalkBook(levels, size)
	if err != nil {
		return core.PremiumSample{}, fmt.Errorf("%s %s %s: %w", book.Venue, book.Symbol, dir, err)
	}

	return core.PremiumSample{
		Symbol:     book.Symbol,
		Venue:      book.Venue,
		Layer:      layer,
		Direction:  dir,
		PremiumPct: tradingutils.PremiumPct(vwap.Div(fx), refPrice),
		VWAP:       vwap,
		Timestamp:  e.now(),
	}, nil
}

// Quotes holds the two independent directions of one venue. A nil side had
// no realizable price this tick; its error is kept alongside.
type Quotes struct {
	Sell    *core.PremiumSample
	Buy     *core.PremiumSample
	SellErr error
	BuyErr  error
}

// EstimateBoth estimates sell-at-venue and buy-at-venue independently
func (e *Estimator) EstimateBoth(book *core.OrderBookSnapshot, layer core.Layer, size, refPrice, fx decimal.Decimal) Quotes {
	var q Quotes
	if s, err := e.Estimate(book, layer, core.SellAtVenue, size, refPrice, fx); err == nil {
		q.Sell = &s
	} else {
		q.SellErr = err
	}
	if s, err := e.Estimate(book, layer, core.BuyAtVenue, size, refPrice, fx); err == nil {
		q.Buy = &s
	} else {
		q.BuyErr = err
	}
	return q
}

// CrossEdge is the realizable edge of buying size on one book and selling it
// on another in the same quote currency
type CrossEdge struct {
	BuyVenue  string
	SellVenue string
	BuyVWAP   decimal.Decimal
	SellVWAP  decimal.Decimal
	EdgePct   decimal.Decimal
}

// EstimateCross computes (sellVWAP / buyVWAP - 1) * 100 for size
func (e *Estimator) EstimateCross(buyBook, sellBook *core.OrderBookSnapshot, size decimal.Decimal) (CrossEdge, error) {
	if buyBook == nil || sellBook == nil {
		return CrossEdge{}, apperrors.ErrEmptyBook
	}
	buy, err := WalkBook(buyBook.Asks, size)
	if err != nil {
		return CrossEdge{}, fmt.Errorf("%s asks: %w", buyBook.Venue, err)
	}
	sell, err := WalkBook(sellBook.Bids, size)
	if err != nil {
		return CrossEdge{}, fmt.Errorf("%s bids: %w", sellBook.Venue, err)
	}
	return CrossEdge{
		BuyVenue:  buyBook.Venue,
		SellVenue: sellBook.Venue,
		BuyVWAP:   buy,
		SellVWAP:  sell,
		EdgePct:   tradingutils.PremiumPct(sell, buy),
	}, nil
}
