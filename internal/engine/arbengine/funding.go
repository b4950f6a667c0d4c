package arbengine

import (
	"context"
	"fmt"
	"kimchi_arb/internal/alert"
	"kimchi_arb/internal/config"
	"kimchi_arb/internal/core"
	"kimchi_arb/internal/trading/arbitrage"
	"kimchi_arb/internal/trading/execution"
	"kimchi_arb/internal/trading/monitor"
	"kimchi_arb/internal/trading/orchestrator"
	"kimchi_arb/pkg/telemetry"
	"kimchi_arb/pkg/tradingutils"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// FundingState is the phase of the single funding hedge slot
type FundingState int

const (
	FundingClosed FundingState = iota
	FundingOpen
	FundingHeld
)

func (s FundingState) String() string {
	switch s {
	case FundingOpen:
		return "open"
	case FundingHeld:
		return "held"
	default:
		return "closed"
	}
}

const (
	fundingMargin   = "USDT"
	fundingDecimals = 3
)

// FundingArb shorts the perpetual with the highest funding rate against a
// long on the lowest and holds the pair for a fixed number of payments.
// At most one position exists at a time.
type FundingArb struct {
	cfg      config.FundingConfig
	venues   map[string]core.IVenue
	fees     map[string]decimal.Decimal
	monitor  *monitor.FundingMonitor
	executor *execution.PairExecutor
	store    core.IStateStore
	risk     orchestrator.RiskGate
	journal  core.ITradeJournal
	notifier core.INotifier
	dryRun   bool
	logger   core.ILogger

	mu    sync.Mutex
	state FundingState
	pos   *core.FundingPosition
}

// FundingDeps wires the collaborators of FundingArb. Journal and Notifier
// may be nil.
type FundingDeps struct {
	Venues   map[string]core.IVenue
	Fees     map[string]decimal.Decimal
	Monitor  *monitor.FundingMonitor
	Executor *execution.PairExecutor
	Store    core.IStateStore
	Risk     orchestrator.RiskGate
	Journal  core.ITradeJournal
	Notifier core.INotifier
}

func NewFundingArb(cfg config.FundingConfig, deps FundingDeps, dryRun bool, logger core.ILogger) *FundingArb {
	return &FundingArb{
		cfg:      cfg,
		venues:   deps.Venues,
		fees:     deps.Fees,
		monitor:  deps.Monitor,
		executor: deps.Executor,
		store:    deps.Store,
		risk:     deps.Risk,
		journal:  deps.Journal,
		notifier: deps.Notifier,
		dryRun:   dryRun,
		logger:   logger.WithField("component", "funding_arb"),
	}
}

// Load restores a persisted position into the held state
func (f *FundingArb) Load(ctx context.Context) error {
	pos, err := f.store.LoadFundingPosition(ctx)
	if err != nil {
		return fmt.Errorf("failed to load funding position: %w", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pos = pos
	if pos != nil {
		f.state = FundingHeld
		f.logger.Info("Funding position restored",
			"short", pos.ShortVenue,
			"long", pos.LongVenue,
			"amount", pos.Amount.String(),
			"opened", pos.OpenTime.Format(time.RFC3339))
	}
	telemetry.GetGlobalMetrics().SetFundingActive(pos != nil)
	return nil
}

// State returns the current phase
func (f *FundingArb) State() FundingState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Position returns a copy of the open position, nil when closed
func (f *FundingArb) Position() *core.FundingPosition {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.pos == nil {
		return nil
	}
	p := *f.pos
	return &p
}

// Step advances the state machine by one tick. fx converts USDT to KRW.
func (f *FundingArb) Step(ctx context.Context, now time.Time, fx decimal.Decimal, balances map[string]core.Balances) error {
	if err := f.monitor.Refresh(ctx); err != nil {
		f.logger.Warn("Funding rates partially refreshed", "error", err)
	}
	rates := f.monitor.FreshRates(f.cfg.StaleAfter)

	switch f.State() {
	case FundingClosed:
		return f.tryOpen(ctx, now, fx, rates, balances)
	case FundingOpen:
		f.mu.Lock()
		f.state = FundingHeld
		f.mu.Unlock()
	}
	return f.maybeClose(ctx, now, fx, rates)
}

// OpenAPRPct is the open spread annualized over the funding interval, in
// percent. Zero while no hedge is held.
func (f *FundingArb) OpenAPRPct() decimal.Decimal {
	pos := f.Position()
	if pos == nil {
		return decimal.Zero
	}
	return f.annualPct(pos.OpenSpread)
}

func (f *FundingArb) annualPct(spread decimal.Decimal) decimal.Decimal {
	return arbitrage.AnnualizeSpread(spread, decimal.NewFromFloat(f.cfg.IntervalHours)).Mul(decimal.NewFromInt(100))
}

// accruedFunding estimates the payments collected in USD: the open spread on
// the entry notional for every completed funding interval
func (f *FundingArb) accruedFunding(pos *core.FundingPosition, now time.Time) decimal.Decimal {
	interval := time.Duration(f.cfg.IntervalHours * float64(time.Hour))
	if interval <= 0 || !now.After(pos.OpenTime) {
		return decimal.Zero
	}
	payments := int64(now.Sub(pos.OpenTime) / interval)
	return pos.OpenSpread.Mul(decimal.NewFromInt(payments)).Mul(pos.ShortEntry.Mul(pos.Amount))
}

func (f *FundingArb) tryOpen(ctx context.Context, now time.Time, fx decimal.Decimal, rates map[string]decimal.Decimal, balances map[string]core.Balances) error {
	if f.Position() != nil {
		return nil
	}
	if err := f.risk.CanTrade(core.LayerFunding); err != nil {
		f.logger.Debug("Funding layer gated", "reason", err)
		return nil
	}

	best, ok := arbitrage.WidestFundingSpread(rates)
	if !ok || best.Spread.LessThan(decimal.NewFromFloat(f.cfg.OpenThreshold)) {
		return nil
	}

	short, long := f.venues[best.ShortVenue], f.venues[best.LongVenue]
	if short == nil || long == nil {
		return fmt.Errorf("funding venue missing: %s / %s", best.ShortVenue, best.LongVenue)
	}

	notional := tradingutils.MinDecimal(
		balances[best.ShortVenue].Free(fundingMargin),
		balances[best.LongVenue].Free(fundingMargin),
	).Mul(decimal.NewFromFloat(f.cfg.Ratio))
	if notional.LessThan(decimal.NewFromFloat(f.cfg.MinNotionalUSD)) {
		f.logger.Info("Funding spread qualifies but margin is too small",
			"spread", best.Spread.String(),
			"notional_usd", notional.StringFixed(2))
		return nil
	}

	mark, err := f.mark(ctx, short)
	if err != nil {
		return err
	}
	amount := tradingutils.RoundQuantity(notional.Div(mark), fundingDecimals)
	if !amount.IsPositive() {
		return nil
	}

	f.logger.Info("Opening funding hedge",
		"short", best.ShortVenue,
		"short_rate", best.ShortRate.String(),
		"long", best.LongVenue,
		"long_rate", best.LongRate.String(),
		"spread", best.Spread.String(),
		"apr_pct", f.annualPct(best.Spread).StringFixed(2),
		"amount", amount.String())

	res, err := f.executor.Execute(ctx,
		execution.Leg{Venue: short, Symbol: f.cfg.Symbol, Side: core.SideSell, Amount: amount},
		execution.Leg{Venue: long, Symbol: f.cfg.Symbol, Side: core.SideBuy, Amount: amount},
	)
	if res != nil && res.Exposure != nil {
		if _, uerr := f.executor.Unwind(ctx, *res.Exposure); uerr != nil {
			f.notify(ctx, fmt.Sprintf("Funding open left %s %s unhedged on %s: %v",
				res.Exposure.Side, res.Exposure.Amount, res.Exposure.Venue.GetName(), uerr))
		}
	}
	if err != nil {
		f.notify(ctx, fmt.Sprintf("Funding open failed (%s/%s): %v", best.ShortVenue, best.LongVenue, err))
		return fmt.Errorf("funding open: %w", err)
	}
	if !res.Effective.IsPositive() {
		return nil
	}

	pos := &core.FundingPosition{
		ID:         uuid.NewString(),
		ShortVenue: best.ShortVenue,
		LongVenue:  best.LongVenue,
		Symbol:     f.cfg.Symbol,
		Amount:     res.Effective,
		OpenSpread: best.Spread,
		OpenTime:   now,
		ShortEntry: priceOr(res.First.AvgPrice, mark),
		LongEntry:  priceOr(res.Second.AvgPrice, mark),
		FXAtOpen:   fx,
	}
	f.mu.Lock()
	f.pos = pos
	f.state = FundingOpen
	f.mu.Unlock()
	telemetry.GetGlobalMetrics().SetFundingActive(true)

	f.notify(ctx, fmt.Sprintf("Funding hedge opened: short %s / long %s %s %s, spread %s (APR %s%%)",
		pos.ShortVenue, pos.LongVenue, pos.Amount, pos.Symbol, pos.OpenSpread, f.annualPct(pos.OpenSpread).StringFixed(2)))
	if err := f.store.SaveFundingPosition(ctx, pos); err != nil {
		return fmt.Errorf("failed to persist funding position: %w", err)
	}
	return nil
}

func (f *FundingArb) maybeClose(ctx context.Context, now time.Time, fx decimal.Decimal, rates map[string]decimal.Decimal) error {
	pos := f.Position()
	if pos == nil {
		f.mu.Lock()
		f.state = FundingClosed
		f.mu.Unlock()
		return nil
	}

	held := now.Sub(pos.OpenTime)
	reason := ""
	if held >= f.cfg.HoldDuration() {
		reason = fmt.Sprintf("held %s", held.Round(time.Minute))
	} else if spread, ok := arbitrage.SpreadBetween(rates, pos.ShortVenue, pos.LongVenue); ok &&
		spread.LessThanOrEqual(decimal.NewFromFloat(f.cfg.CloseThreshold)) {
		reason = fmt.Sprintf("spread narrowed to %s", spread)
	}
	if reason == "" {
		return nil
	}
	return f.close(ctx, now, fx, pos, reason)
}

func (f *FundingArb) close(ctx context.Context, now time.Time, fx decimal.Decimal, pos *core.FundingPosition, reason string) error {
	short, long := f.venues[pos.ShortVenue], f.venues[pos.LongVenue]
	if short == nil || long == nil {
		return fmt.Errorf("funding venue missing: %s / %s", pos.ShortVenue, pos.LongVenue)
	}
	shortMark, err := f.mark(ctx, short)
	if err != nil {
		shortMark = pos.ShortEntry
	}
	longMark, err := f.mark(ctx, long)
	if err != nil {
		longMark = pos.LongEntry
	}

	f.logger.Info("Closing funding hedge", "id", pos.ID, "reason", reason)
	results, err := f.executor.Reverse(ctx,
		execution.Leg{Venue: short, Symbol: pos.Symbol, Side: core.SideSell, Amount: pos.Amount},
		execution.Leg{Venue: long, Symbol: pos.Symbol, Side: core.SideBuy, Amount: pos.Amount},
	)
	if err != nil {
		if results[0] == nil && results[1] == nil {
			// nothing moved, retry next tick
			return fmt.Errorf("funding close: %w", err)
		}
		if herr := f.risk.DisableLayer(ctx, core.LayerFunding, "funding close left one leg open"); herr != nil {
			f.logger.Error("Failed to halt funding layer", "error", herr)
		}
		f.notify(ctx, fmt.Sprintf("CRITICAL: funding close of %s only partly filled, manual check required: %v", pos.ID, err))
		f.clear(ctx)
		return fmt.Errorf("funding close: %w", err)
	}

	if !fx.IsPositive() {
		fx = pos.FXAtOpen
	}
	shortExit := priceOr(results[0].AvgPrice, shortMark)
	longExit := priceOr(results[1].AvgPrice, longMark)

	// short gains when price falls, long when it rises; funding is added on top
	pnlUSD := pos.ShortEntry.Sub(shortExit).Mul(pos.Amount).
		Add(longExit.Sub(pos.LongEntry).Mul(pos.Amount)).
		Add(f.accruedFunding(pos, now))
	feeUSD := pos.ShortEntry.Add(shortExit).Mul(pos.Amount).Mul(f.fees[pos.ShortVenue]).
		Add(pos.LongEntry.Add(longExit).Mul(pos.Amount).Mul(f.fees[pos.LongVenue]))
	gross := pnlUSD.Mul(fx)
	fee := feeUSD.Mul(fx)

	rec := core.TradeRecord{
		ID:         pos.ID,
		Timestamp:  now,
		Layer:      core.LayerFunding,
		Symbol:     pos.Symbol,
		BuyVenue:   pos.LongVenue,
		SellVenue:  pos.ShortVenue,
		Side:       "funding_close",
		PremiumPct: pos.OpenSpread.Mul(decimal.NewFromInt(100)),
		Notional:   shortExit.Mul(pos.Amount).Mul(fx),
		Amount:     pos.Amount,
		GrossPnL:   gross,
		Fee:        fee,
		NetPnL:     gross.Sub(fee),
		DryRun:     f.dryRun,
	}
	if err := f.risk.RecordTrade(ctx, core.LayerFunding, rec.NetPnL, rec.Fee); err != nil {
		f.logger.Error("Failed to record funding trade", "id", rec.ID, "error", err)
	}
	if f.journal != nil {
		if err := f.journal.Append(rec); err != nil {
			f.logger.Error("Failed to append trade journal", "id", rec.ID, "error", err)
		}
	}
	f.notify(ctx, fmt.Sprintf("Funding hedge closed (%s)\n%s", reason, alert.FormatTrade(rec)))
	return f.clear(ctx)
}

func (f *FundingArb) clear(ctx context.Context) error {
	f.mu.Lock()
	f.pos = nil
	f.state = FundingClosed
	f.mu.Unlock()
	telemetry.GetGlobalMetrics().SetFundingActive(false)
	if err := f.store.SaveFundingPosition(ctx, nil); err != nil {
		return fmt.Errorf("failed to clear funding position: %w", err)
	}
	return nil
}

func (f *FundingArb) mark(ctx context.Context, v core.IVenue) (decimal.Decimal, error) {
	t, err := v.GetTicker(ctx, f.cfg.Symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("funding mark on %s: %w", v.GetName(), err)
	}
	mid := t.Mid()
	if !mid.IsPositive() {
		return decimal.Zero, fmt.Errorf("funding mark on %s: no price", v.GetName())
	}
	return mid, nil
}

func (f *FundingArb) notify(ctx context.Context, text string) {
	if f.notifier != nil {
		f.notifier.Notify(ctx, text)
	}
}

func priceOr(p, fallback decimal.Decimal) decimal.Decimal {
	if p.IsPositive() {
		return p
	}
	return fallback
}
