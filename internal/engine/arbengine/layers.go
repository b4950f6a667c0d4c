package arbengine

import (
	"context"
	"errors"
	"kimchi_arb/internal/core"
	"kimchi_arb/internal/trading/monitor"
	"kimchi_arb/internal/trading/orchestrator"
	apperrors "kimchi_arb/pkg/errors"
	"kimchi_arb/pkg/telemetry"
	"kimchi_arb/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

// refPrice is the reference mid in USDT, zero when the book is missing
func (e *Engine) refPrice(snap *Snapshot) decimal.Decimal {
	book := snap.Book(e.cfg.Spread.ReferenceVenue, e.cfg.Spread.ReferenceSymbol)
	bid, okB := book.BestBid()
	ask, okA := book.BestAsk()
	if !okB || !okA {
		return decimal.Zero
	}
	return bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2))
}

func (e *Engine) leg(snap *Snapshot, venue, symbol string) (orchestrator.LegQuote, bool) {
	v, ok := e.venues[venue]
	book := snap.Book(venue, symbol)
	if !ok || book == nil {
		return orchestrator.LegQuote{}, false
	}
	return orchestrator.LegQuote{
		Venue:    v,
		Symbol:   symbol,
		Book:     book,
		Balances: snap.Balances[venue],
		ToKRW:    toKRW(symbol, snap.FX),
		FeeRate:  e.fees[venue],
	}, true
}

// runSpread compares every KRW venue with the reference venue and trades
// the better direction of each
func (e *Engine) runSpread(ctx context.Context, snap *Snapshot, threshold, ratio float64) {
	ref := e.refPrice(snap)
	if !ref.IsPositive() {
		e.logger.Debug("Spread layer idle, no reference price")
		return
	}
	refLeg, ok := e.leg(snap, e.cfg.Spread.ReferenceVenue, e.cfg.Spread.ReferenceSymbol)
	if !ok {
		return
	}
	size := probeSize(e.cfg)

	for _, venue := range e.cfg.Spread.Venues {
		krwLeg, ok := e.leg(snap, venue, e.cfg.Spread.Symbol)
		if !ok {
			continue
		}
		q := e.estimator.EstimateBoth(krwLeg.Book, core.LayerSpread, size, ref, snap.FX)

		var sellEdge, buyEdge decimal.Decimal
		haveSell, haveBuy := q.Sell != nil, q.Buy != nil
		if haveSell {
			sellEdge = q.Sell.PremiumPct
			telemetry.GetGlobalMetrics().SetPremium(string(core.LayerSpread), venue, string(core.SellAtVenue), sellEdge.InexactFloat64())
		}
		if haveBuy {
			buyEdge = q.Buy.PremiumPct.Neg()
			telemetry.GetGlobalMetrics().SetPremium(string(core.LayerSpread), venue, string(core.BuyAtVenue), q.Buy.PremiumPct.InexactFloat64())
		}

		opp := orchestrator.Opportunity{
			Layer:    core.LayerSpread,
			Strategy: "spread",
			Symbol:   e.cfg.Spread.Symbol,
			KeyVenue: venue,
		}
		switch {
		case haveSell && (!haveBuy || sellEdge.GreaterThanOrEqual(buyEdge)):
			// KRW venue is rich: sell there, buy the reference
			opp.Direction = core.SellAtVenue
			opp.EdgePct = sellEdge
			opp.Buy, opp.Sell = refLeg, krwLeg
		case haveBuy:
			opp.Direction = core.BuyAtVenue
			opp.EdgePct = buyEdge
			opp.Buy, opp.Sell = krwLeg, refLeg
		default:
			e.logger.Debug("No realizable premium", "venue", venue, "sell_err", q.SellErr, "buy_err", q.BuyErr)
			continue
		}
		e.consider(ctx, opp, threshold, ratio)
	}
}

// runCross trades the better direction of each pair of KRW venues
func (e *Engine) runCross(ctx context.Context, snap *Snapshot, threshold, ratio float64) {
	venues := e.cfg.Cross.Venues
	size := probeSize(e.cfg)
	for i := 0; i < len(venues); i++ {
		for j := i + 1; j < len(venues); j++ {
			a, okA := e.leg(snap, venues[i], e.cfg.Cross.Symbol)
			b, okB := e.leg(snap, venues[j], e.cfg.Cross.Symbol)
			if !okA || !okB {
				continue
			}

			var best *orchestrator.Opportunity
			for _, pair := range [][2]orchestrator.LegQuote{{a, b}, {b, a}} {
				edge, err := e.estimator.EstimateCross(pair[0].Book, pair[1].Book, size)
				if err != nil {
					continue
				}
				telemetry.GetGlobalMetrics().SetPremium(string(core.LayerCross), edge.BuyVenue+">"+edge.SellVenue, string(core.SellAtVenue), edge.EdgePct.InexactFloat64())
				if best == nil || edge.EdgePct.GreaterThan(best.EdgePct) {
					best = &orchestrator.Opportunity{
						Layer:     core.LayerCross,
						Strategy:  "cross",
						Symbol:    e.cfg.Cross.Symbol,
						Direction: core.SellAtVenue,
						KeyVenue:  edge.BuyVenue + ">" + edge.SellVenue,
						EdgePct:   edge.EdgePct,
						Buy:       pair[0],
						Sell:      pair[1],
					}
				}
			}
			if best != nil {
				e.consider(ctx, *best, threshold, ratio)
			}
		}
	}
}

func (e *Engine) consider(ctx context.Context, opp orchestrator.Opportunity, threshold, ratio float64) {
	rec, err := e.orch.Consider(ctx, opp, threshold, ratio)
	switch {
	case err == nil:
		e.logger.Info("Trade settled",
			"id", rec.ID,
			"layer", rec.Layer,
			"buy", rec.BuyVenue,
			"sell", rec.SellVenue,
			"amount", rec.Amount.String(),
			"net_pnl", rec.NetPnL.StringFixed(0))
	case isSkip(err):
		e.logger.Debug("Opportunity skipped", "layer", opp.Layer, "venue", opp.KeyVenue, "edge", opp.EdgePct.StringFixed(3), "reason", err)
	default:
		e.logger.Warn("Opportunity failed", "layer", opp.Layer, "venue", opp.KeyVenue, "error", err)
	}
}

func isSkip(err error) bool {
	if errors.Is(err, orchestrator.ErrBelowThreshold) || errors.Is(err, orchestrator.ErrFiltered) ||
		errors.Is(err, orchestrator.ErrCooldown) || errors.Is(err, orchestrator.ErrHourlyCap) {
		return true
	}
	switch apperrors.KindOf(err) {
	case apperrors.KindRisk, apperrors.KindGated, apperrors.KindDataQuality:
		return true
	}
	return false
}

// observe feeds the predictor and the valuer from the snapshot and returns
// the mean book imbalance of the KRW venues
func (e *Engine) observe(snap *Snapshot) float64 {
	ref := e.refPrice(snap)
	if ref.IsPositive() {
		e.predictor.ObserveReference(snap.Time, ref)
		e.valuer.SetMark(e.baseAsset, ref.Mul(snap.FX))
	}
	e.valuer.SetMark(fundingMargin, snap.FX)
	for venue, bal := range snap.Balances {
		e.valuer.UpdateBalances(venue, bal)
	}

	var imbSum float64
	var n int
	for _, venue := range e.krwVenues {
		book := snap.Book(venue, e.krwSymbol)
		bid, okB := book.BestBid()
		ask, okA := book.BestAsk()
		if !okB || !okA {
			continue
		}
		mid := bid.Price.Add(ask.Price).Div(decimal.NewFromInt(2))
		e.predictor.ObservePrice(venue, mid)
		if !ref.IsPositive() {
			e.valuer.SetMark(e.baseAsset, mid)
		}
		imbSum += monitor.Imbalance(book, e.cfg.Predictor.ImbalanceLevels)
		n++
	}
	if n == 0 {
		return 0
	}
	return tradingutils.Finite(imbSum / float64(n))
}
