// Package arbengine runs the kimchi-premium decision loop: one sequential
// tick per interval over the spread, cross, funding and rebalance layers
package arbengine

import (
	"context"
	"errors"
	"fmt"
	"kimchi_arb/internal/config"
	"kimchi_arb/internal/core"
	"kimchi_arb/internal/engine"
	"kimchi_arb/internal/risk"
	"kimchi_arb/internal/storage"
	"kimchi_arb/internal/trading/arbitrage"
	"kimchi_arb/internal/trading/monitor"
	"kimchi_arb/internal/trading/orchestrator"
	"kimchi_arb/internal/trading/portfolio"
	"kimchi_arb/internal/trading/tuning"
	"kimchi_arb/pkg/concurrency"
	"kimchi_arb/pkg/telemetry"
	"runtime/debug"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

var _ engine.Engine = (*Engine)(nil)

// Engine owns every component and all mutable trading state. Ticks never
// overlap, so layers read and write the shared state in sequence.
type Engine struct {
	cfg    *config.Config
	venues map[string]core.IVenue
	fees   map[string]decimal.Decimal

	books         []bookKey
	balanceVenues []string
	krwVenues     []string
	krwSymbol     string
	baseAsset     string

	pool       *concurrency.WorkerPool
	estimator  *arbitrage.Estimator
	predictor  *monitor.Predictor
	tuner      *tuning.Tuner
	filter     *arbitrage.ZScoreFilter
	orch       *orchestrator.Orchestrator
	funding    *FundingArb
	rebalancer *portfolio.Rebalancer
	valuer     *portfolio.Valuer
	risk       *risk.Manager
	breaker    *risk.ExchangeBreaker
	journal    core.ITradeJournal
	notifier   core.INotifier
	logger     core.ILogger
	now        func() time.Time

	mu          sync.Mutex
	lastTick    time.Time
	lastTickErr error
	ticks       int64
}

// Status is a point-in-time view for the status endpoint
type Status struct {
	LastTick       time.Time             `json:"last_tick"`
	Ticks          int64                 `json:"ticks"`
	LastError      string                `json:"last_error,omitempty"`
	TradingEnabled bool                  `json:"trading_enabled"`
	DisabledReason string                `json:"disabled_reason,omitempty"`
	DailyPnL       decimal.Decimal       `json:"daily_pnl_krw"`
	TradesToday    int                   `json:"trades_today"`
	Threshold      float64               `json:"threshold_pct"`
	Ratio          float64               `json:"ratio"`
	FundingState   string                `json:"funding_state"`
	Funding        *core.FundingPosition `json:"funding_position,omitempty"`
	FundingAPRPct  decimal.Decimal       `json:"funding_apr_pct"`
	Breakers       []risk.VenueStatus    `json:"breakers"`
	FetchPool      concurrency.PoolStats `json:"fetch_pool"`
}

// SetClock replaces the time source used by Run
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Load restores the risk ledger and the funding slot
func (e *Engine) Load(ctx context.Context) error {
	if err := e.risk.Load(ctx); err != nil {
		return err
	}
	return e.funding.Load(ctx)
}

// Tick runs one full pass: rollover, snapshot, tuning, spread, cross,
// funding, rebalance. Layer failures are collected, not fatal.
func (e *Engine) Tick(ctx context.Context, now time.Time) error {
	start := time.Now()
	defer func() {
		telemetry.GetGlobalMetrics().RecordTickLatency(ctx, float64(time.Since(start).Milliseconds()))
	}()

	e.orch.SetClock(func() time.Time { return now })

	var errs []error
	if _, err := e.risk.CheckRollover(ctx, now); err != nil {
		errs = append(errs, err)
	}

	snap, err := e.fetchSnapshot(ctx, now)
	if err != nil {
		return errors.Join(append(errs, err)...)
	}

	imbalance := e.observe(snap)
	vol := e.predictor.Volatility()
	score := e.predictor.Score(e.krwVenues, imbalance, vol)
	threshold, ratio := e.tuner.Tune(vol, score, now)
	telemetry.GetGlobalMetrics().SetTuning(threshold, ratio, score)
	e.logger.Debug("Tick tuned",
		"fx", snap.FX.String(),
		"volatility", vol,
		"score", score,
		"threshold", threshold,
		"ratio", ratio)

	if e.cfg.Spread.Enabled {
		e.runSpread(ctx, snap, threshold, ratio)
	}
	if e.cfg.Cross.Enabled {
		e.runCross(ctx, snap, threshold, ratio)
	}
	if e.cfg.Funding.Enabled {
		if err := e.funding.Step(ctx, now, snap.FX, snap.Balances); err != nil {
			errs = append(errs, err)
		}
	}
	if e.cfg.Rebalance.Enabled {
		e.runRebalance(ctx, now)
	}

	return errors.Join(errs...)
}

func (e *Engine) runRebalance(ctx context.Context, now time.Time) {
	enabled := e.risk.CanTrade(core.LayerRebalance) == nil
	for _, res := range e.rebalancer.Run(ctx, now, enabled) {
		a := res.Action
		if res.Err != nil {
			e.notify(ctx, fmt.Sprintf("Rebalance %s %s %s on %s failed: %v", a.Side, a.Amount, a.Asset, a.Venue, res.Err))
			continue
		}
		e.notify(ctx, fmt.Sprintf("Rebalance %s %s %s on %s (drift %+.1f%%)", a.Side, res.Order.Filled, a.Asset, a.Venue, a.Drift*100))
	}
}

// safeTick turns a panic anywhere in a tick into an error
func (e *Engine) safeTick(ctx context.Context, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panic: %v", r)
			e.logger.Error("Recovered from tick panic", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	return e.Tick(ctx, now)
}

// Run ticks until ctx is cancelled. A failed tick is reported and followed
// by the error backoff instead of the regular interval.
func (e *Engine) Run(ctx context.Context) error {
	interval := e.cfg.System.TickInterval
	if interval <= 0 {
		interval = time.Minute
	}
	backoff := e.cfg.System.ErrorBackoff
	if backoff <= 0 {
		backoff = 10 * time.Second
	}
	e.logger.Info("Engine started", "interval", interval, "dry_run", e.cfg.App.DryRun)

	for {
		now := e.now()
		err := e.safeTick(ctx, now)

		e.mu.Lock()
		e.lastTick = now
		e.lastTickErr = err
		e.ticks++
		e.mu.Unlock()

		wait := interval
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			e.logger.Error("Tick failed", "error", err, "backoff", backoff)
			e.notify(ctx, fmt.Sprintf("Tick failed, retrying in %s: %v", backoff, err))
			wait = backoff
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			e.logger.Info("Engine stopped")
			return nil
		case <-timer.C:
		}
	}
}

// RegisterHealth adds venue, risk state and loop checks
func (e *Engine) RegisterHealth(h core.IHealthMonitor) {
	for name := range e.venues {
		h.Register("venue:"+name, func() error {
			for _, st := range e.breaker.Status() {
				if st.Venue == name && st.Open {
					return fmt.Errorf("disabled until %s: %s", st.DisabledUntil.Format(time.RFC3339), st.LastError)
				}
			}
			return nil
		})
	}
	h.Register("risk_state", e.risk.HealthCheck)
	h.Register("engine", func() error {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.lastTick.IsZero() {
			return nil
		}
		if stale := 3 * e.cfg.System.TickInterval; stale > 0 && e.now().Sub(e.lastTick) > stale {
			return fmt.Errorf("no tick since %s", e.lastTick.Format(time.RFC3339))
		}
		return e.lastTickErr
	})
}

// Status reports the loop, risk and funding state
func (e *Engine) Status() Status {
	e.mu.Lock()
	st := Status{LastTick: e.lastTick, Ticks: e.ticks}
	if e.lastTickErr != nil {
		st.LastError = e.lastTickErr.Error()
	}
	e.mu.Unlock()

	rs := e.risk.Snapshot()
	st.TradingEnabled = rs.TradingEnabled
	st.DisabledReason = rs.DisabledReason
	st.DailyPnL = rs.Daily.RealizedPnL
	st.Threshold, st.Ratio = e.tuner.Current()
	st.FundingState = e.funding.State().String()
	st.Funding = e.funding.Position()
	st.FundingAPRPct = e.funding.OpenAPRPct()
	st.Breakers = e.breaker.Status()
	st.FetchPool = e.pool.Stats()
	if e.journal != nil {
		if today, _, err := storage.Today(e.journal, e.now()); err == nil {
			st.TradesToday = int(today.Trades)
		}
	}
	return st
}

// Close stops the snapshot pool
func (e *Engine) Close() {
	e.pool.Stop()
}

func (e *Engine) notify(ctx context.Context, text string) {
	if e.notifier != nil {
		e.notifier.Notify(ctx, text)
	}
}
