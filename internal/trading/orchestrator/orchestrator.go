// Package orchestrator turns realizable premium opportunities into sized,
// hedged executions under the risk gates
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"kimchi_arb/internal/alert"
	"kimchi_arb/internal/config"
	"kimchi_arb/internal/core"
	"kimchi_arb/internal/trading/arbitrage"
	"kimchi_arb/internal/trading/execution"
	"kimchi_arb/internal/trading/tuning"
	apperrors "kimchi_arb/pkg/errors"
	"kimchi_arb/pkg/telemetry"
	"kimchi_arb/pkg/tradingutils"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Reasons an opportunity is skipped without trading
var (
	ErrBelowThreshold = errors.New("edge below entry threshold")
	ErrFiltered       = errors.New("rejected by z-score filter")
	ErrCooldown       = errors.New("in cooldown")
	ErrHourlyCap      = errors.New("hourly trade cap reached")
)

// Unhedged exposure policies
const (
	PolicyUnwind = "unwind"
	PolicyHalt   = "halt"
	PolicyAccept = "accept"
)

// RiskGate is the part of the risk manager the orchestrator consults
type RiskGate interface {
	CanTrade(layer core.Layer) error
	RecordTrade(ctx context.Context, layer core.Layer, net, fee decimal.Decimal) error
	DisableLayer(ctx context.Context, layer core.Layer, reason string) error
}

// LegQuote is one side of an opportunity: where it trades, the book it will
// consume, and how to convert its quote currency to KRW
type LegQuote struct {
	Venue    core.IVenue
	Symbol   string
	Book     *core.OrderBookSnapshot
	Balances core.Balances
	ToKRW    decimal.Decimal // 1 for KRW markets, the FX rate for USDT markets
	FeeRate  decimal.Decimal
}

// Opportunity is the best direction of one venue (or venue pair) this tick
type Opportunity struct {
	Layer     core.Layer
	Strategy  string
	Symbol    string // filter and cooldown symbol
	Direction core.Direction
	KeyVenue  string // cooldown venue, a single venue or "buy>sell"
	EdgePct   decimal.Decimal
	Buy       LegQuote
	Sell      LegQuote
}

type cooldownKey struct {
	strategy  string
	symbol    string
	venue     string
	direction core.Direction
}

// Dependencies wires the orchestrator's collaborators. Breaker, Journal and
// Notifier may be nil.
type Dependencies struct {
	Filter   *arbitrage.ZScoreFilter
	Tuner    *tuning.Tuner
	Risk     RiskGate
	Breaker  core.IExchangeBreaker
	Executor *execution.PairExecutor
	Journal  core.ITradeJournal
	Notifier core.INotifier
}

// Orchestrator runs the opportunity pipeline: filter, threshold, risk gates,
// cooldown, hourly cap, sizing, execution and settlement
type Orchestrator struct {
	cfg    config.OrchestratorConfig
	tiers  []config.TierConfig
	deps   Dependencies
	dryRun bool
	logger core.ILogger
	now    func() time.Time

	mu       sync.Mutex
	lastExec map[cooldownKey]time.Time
}

func New(cfg config.OrchestratorConfig, deps Dependencies, dryRun bool, logger core.ILogger) *Orchestrator {
	tiers := append([]config.TierConfig(nil), cfg.Tiers...)
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].MinEdgePct < tiers[j].MinEdgePct })
	if cfg.UnhedgedPolicy == "" {
		cfg.UnhedgedPolicy = PolicyUnwind
	}
	return &Orchestrator{
		cfg:      cfg,
		tiers:    tiers,
		deps:     deps,
		dryRun:   dryRun,
		logger:   logger.WithField("component", "orchestrator"),
		now:      time.Now,
		lastExec: make(map[cooldownKey]time.Time),
	}
}

// SetClock replaces the time source
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// Consider runs one opportunity through the pipeline. It returns the trade
// record when something was executed, or a skip reason.
func (o *Orchestrator) Consider(ctx context.Context, opp Opportunity, threshold, ratio float64) (*core.TradeRecord, error) {
	edge := opp.EdgePct.InexactFloat64()
	key := arbitrage.FilterKey{Layer: opp.Layer, Symbol: opp.Symbol}
	anomalous := o.deps.Filter == nil || o.deps.Filter.Evaluate(key, edge)

	if edge < threshold {
		return nil, fmt.Errorf("%w: %.3f%% < %.3f%%", ErrBelowThreshold, edge, threshold)
	}
	if !anomalous {
		return nil, fmt.Errorf("%w: %.3f%%", ErrFiltered, edge)
	}
	if err := o.deps.Risk.CanTrade(opp.Layer); err != nil {
		return nil, err
	}
	for _, leg := range []LegQuote{opp.Buy, opp.Sell} {
		if o.deps.Breaker != nil && !o.deps.Breaker.Allow(leg.Venue.GetName()) {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrVenueDisabled, leg.Venue.GetName())
		}
	}

	now := o.now()
	ck := cooldownKey{strategy: opp.Strategy, symbol: opp.Symbol, venue: opp.KeyVenue, direction: opp.Direction}
	if last, ok := o.lastExecution(ck); ok && now.Sub(last) < o.cfg.Cooldown {
		return nil, fmt.Errorf("%w: %s until %s", ErrCooldown, opp.KeyVenue, last.Add(o.cfg.Cooldown).Format(time.RFC3339))
	}
	if o.deps.Tuner != nil && o.deps.Tuner.HourlyCapReached(now) {
		return nil, ErrHourlyCap
	}

	tier := o.tierFor(edge)
	size, err := o.size(opp, ratio, tier)
	if err != nil {
		return nil, err
	}

	buyVWAP, err := arbitrage.WalkBook(opp.Buy.Book.Asks, size)
	if err != nil {
		return nil, fmt.Errorf("%s at size %s: %w", opp.Buy.Venue.GetName(), size, err)
	}
	sellVWAP, err := arbitrage.WalkBook(opp.Sell.Book.Bids, size)
	if err != nil {
		return nil, fmt.Errorf("%s at size %s: %w", opp.Sell.Venue.GetName(), size, err)
	}
	finalEdge := tradingutils.PremiumPct(sellVWAP.Mul(opp.Sell.ToKRW), buyVWAP.Mul(opp.Buy.ToKRW))
	if finalEdge.InexactFloat64() < threshold {
		return nil, fmt.Errorf("%w: %s%% at size %s", ErrBelowThreshold, finalEdge.StringFixed(3), size)
	}

	o.logger.Info("Executing opportunity",
		"layer", opp.Layer,
		"buy", opp.Buy.Venue.GetName(),
		"sell", opp.Sell.Venue.GetName(),
		"edge_pct", finalEdge.StringFixed(3),
		"threshold", threshold,
		"tier", tier.Name,
		"size", size.String())

	res, execErr := o.deps.Executor.Execute(ctx,
		execution.Leg{Venue: opp.Buy.Venue, Symbol: opp.Buy.Symbol, Side: core.SideBuy, Amount: size},
		execution.Leg{Venue: opp.Sell.Venue, Symbol: opp.Sell.Symbol, Side: core.SideSell, Amount: size},
	)
	if res == nil {
		return nil, execErr
	}

	o.markExecuted(ck, now)
	if o.deps.Tuner != nil {
		o.deps.Tuner.RecordTrade(now)
	}
	if res.Exposure != nil {
		o.handleExposure(ctx, opp.Layer, res.Exposure)
	}
	if execErr != nil || !res.Effective.IsPositive() {
		if execErr == nil {
			execErr = fmt.Errorf("%w: no hedged fill", apperrors.ErrOrderRejected)
		}
		return nil, execErr
	}

	rec := o.settle(opp, tier, res, buyVWAP, sellVWAP, finalEdge, now)
	if err := o.deps.Risk.RecordTrade(ctx, opp.Layer, rec.NetPnL, rec.Fee); err != nil {
		o.logger.Error("Failed to record trade in risk ledger", "id", rec.ID, "error", err)
	}
	if o.deps.Journal != nil {
		if err := o.deps.Journal.Append(rec); err != nil {
			o.logger.Error("Failed to append trade journal", "id", rec.ID, "error", err)
		}
	}
	if o.deps.Notifier != nil {
		o.deps.Notifier.Notify(ctx, alert.FormatTrade(rec))
	}
	return &rec, nil
}

// size applies min(r * quote / price, r * base) where r is the ratio scaled
// by the tier multiplier and capped at the maximum ratio, so a leg never
// exceeds that share of the balance it draws on. It then caps the notional
// and enforces the minimums.
func (o *Orchestrator) size(opp Opportunity, ratio float64, tier config.TierConfig) (decimal.Decimal, error) {
	buyBase, buyQuote, err := core.SplitSymbol(opp.Buy.Symbol)
	if err != nil {
		return decimal.Zero, err
	}
	sellBase, _, err := core.SplitSymbol(opp.Sell.Symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if buyBase != sellBase {
		return decimal.Zero, fmt.Errorf("%w: legs trade %s and %s", apperrors.ErrInvalidOrderParameter, buyBase, sellBase)
	}

	ask, ok := opp.Buy.Book.BestAsk()
	if !ok {
		return decimal.Zero, fmt.Errorf("%s: %w", opp.Buy.Venue.GetName(), apperrors.ErrEmptyBook)
	}
	bid, ok := opp.Sell.Book.BestBid()
	if !ok {
		return decimal.Zero, fmt.Errorf("%s: %w", opp.Sell.Venue.GetName(), apperrors.ErrEmptyBook)
	}

	r := decimal.NewFromFloat(o.tieredRatio(ratio, tier))
	byQuote := r.Mul(opp.Buy.Balances.Free(buyQuote)).Div(ask.Price)
	byBase := r.Mul(opp.Sell.Balances.Free(sellBase))
	size := tradingutils.MinDecimal(byQuote, byBase)

	sellPriceKRW := bid.Price.Mul(opp.Sell.ToKRW)
	if o.cfg.MaxNotionalKRW > 0 && sellPriceKRW.IsPositive() {
		maxSize := decimal.NewFromFloat(o.cfg.MaxNotionalKRW).Div(sellPriceKRW)
		size = tradingutils.MinDecimal(size, maxSize)
	}
	size = tradingutils.RoundQuantity(size, o.cfg.AmountDecimals)

	notional := size.Mul(sellPriceKRW)
	if size.LessThan(decimal.NewFromFloat(o.cfg.MinAmount)) || notional.LessThan(decimal.NewFromFloat(o.cfg.MinNotionalKRW)) || !size.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: size %s notional %s", apperrors.ErrBelowMinNotional, size, alert.FormatKRW(notional))
	}
	return size, nil
}

func (o *Orchestrator) tieredRatio(ratio float64, tier config.TierConfig) float64 {
	limit := 1.0
	if o.deps.Tuner != nil && o.deps.Tuner.MaxRatio() > 0 {
		limit = math.Min(limit, o.deps.Tuner.MaxRatio())
	}
	return tradingutils.Clamp(ratio*tier.Multiplier, 0, limit)
}

// tierFor returns the highest tier whose minimum edge is met
func (o *Orchestrator) tierFor(edge float64) config.TierConfig {
	tier := config.TierConfig{Name: "base", Multiplier: 1}
	for _, t := range o.tiers {
		if edge >= t.MinEdgePct {
			tier = t
		}
	}
	return tier
}

// settle computes PnL on the effective (minimum filled) amount. Fees are
// charged on each leg's own filled notional.
func (o *Orchestrator) settle(opp Opportunity, tier config.TierConfig, res *execution.PairResult, buyVWAP, sellVWAP, edge decimal.Decimal, now time.Time) core.TradeRecord {
	buyPx := res.First.AvgPrice
	if !buyPx.IsPositive() {
		buyPx = buyVWAP
	}
	sellPx := res.Second.AvgPrice
	if !sellPx.IsPositive() {
		sellPx = sellVWAP
	}
	buyKRW := buyPx.Mul(opp.Buy.ToKRW)
	sellKRW := sellPx.Mul(opp.Sell.ToKRW)

	gross := sellKRW.Sub(buyKRW).Mul(res.Effective)
	fee := buyKRW.Mul(res.First.Filled).Mul(opp.Buy.FeeRate).
		Add(sellKRW.Mul(res.Second.Filled).Mul(opp.Sell.FeeRate))

	return core.TradeRecord{
		ID:         uuid.NewString(),
		Timestamp:  now,
		Layer:      opp.Layer,
		Symbol:     opp.Symbol,
		BuyVenue:   opp.Buy.Venue.GetName(),
		SellVenue:  opp.Sell.Venue.GetName(),
		Side:       string(opp.Direction),
		Tier:       tier.Name,
		PremiumPct: edge,
		Notional:   sellKRW.Mul(res.Effective),
		Amount:     res.Effective,
		GrossPnL:   gross,
		Fee:        fee,
		NetPnL:     gross.Sub(fee),
		DryRun:     o.dryRun,
	}
}

func (o *Orchestrator) handleExposure(ctx context.Context, layer core.Layer, exp *execution.Exposure) {
	policy := o.cfg.UnhedgedPolicy
	telemetry.GetGlobalMetrics().RecordUnhedged(ctx, string(layer), policy)

	msg := fmt.Sprintf("Unhedged %s %s %s on %s (policy %s)",
		exp.Side, exp.Amount, exp.Symbol, exp.Venue.GetName(), policy)

	switch policy {
	case PolicyUnwind:
		if _, err := o.deps.Executor.Unwind(ctx, *exp); err != nil {
			msg += fmt.Sprintf(": unwind failed: %v", err)
		} else {
			msg += ": unwound"
		}
	case PolicyHalt:
		if err := o.deps.Risk.DisableLayer(ctx, layer, "unhedged exposure"); err != nil {
			o.logger.Error("Failed to halt layer", "layer", layer, "error", err)
		}
		msg += ": layer halted for today"
	case PolicyAccept:
		msg += ": exposure left open"
	}

	o.logger.Warn("Unhedged exposure", "layer", layer, "policy", policy, "venue", exp.Venue.GetName(), "amount", exp.Amount.String())
	if o.deps.Notifier != nil {
		o.deps.Notifier.Notify(ctx, msg)
	}
}

func (o *Orchestrator) lastExecution(k cooldownKey) (time.Time, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.lastExec[k]
	return t, ok
}

func (o *Orchestrator) markExecuted(k cooldownKey, at time.Time) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastExec[k] = at
}
