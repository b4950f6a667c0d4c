// Package risk provides the PnL ledger, loss limits and the per-exchange breaker
package risk

import (
	"context"
	"fmt"
	"kimchi_arb/internal/alert"
	"kimchi_arb/internal/config"
	"kimchi_arb/internal/core"
	apperrors "kimchi_arb/pkg/errors"
	"kimchi_arb/pkg/telemetry"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

const weekLength = 7 * 24 * time.Hour

// Manager owns the persisted RiskState. Every mutation is flushed to the
// store before the call returns.
type Manager struct {
	cfg      config.RiskConfig
	store    core.IStateStore
	valuer   core.IEquityValuer
	notifier core.INotifier
	logger   core.ILogger

	mu             sync.Mutex
	state          *core.RiskState
	lastEquity     decimal.Decimal
	lastPersistErr error
}

// NewManager creates a manager with an empty ledger. Call Load before use
// to restore the persisted one.
func NewManager(cfg config.RiskConfig, store core.IStateStore, valuer core.IEquityValuer, notifier core.INotifier, logger core.ILogger) *Manager {
	return &Manager{
		cfg:      cfg,
		store:    store,
		valuer:   valuer,
		notifier: notifier,
		logger:   logger.WithField("component", "risk_manager"),
		state:    core.NewRiskState(),
	}
}

// Load restores the ledger from the store. A missing row starts a fresh ledger.
func (m *Manager) Load(ctx context.Context) error {
	st, err := m.store.LoadRiskState(ctx)
	if err != nil {
		return fmt.Errorf("failed to load risk state: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if st == nil {
		m.logger.Info("No persisted risk state, starting fresh")
		m.state = core.NewRiskState()
	} else {
		if st.LayerDailyPnL == nil {
			st.LayerDailyPnL = make(map[core.Layer]decimal.Decimal)
		}
		if st.LayerDisabled == nil {
			st.LayerDisabled = make(map[core.Layer]bool)
		}
		m.state = st
		m.logger.Info("Risk state restored",
			"date", st.LastRolloverDate,
			"daily_pnl", st.Daily.RealizedPnL.String(),
			"trading_enabled", st.TradingEnabled)
	}
	m.publishGauges()
	return nil
}

// RecordTrade books a settled trade and applies the daily loss and layer
// drawdown limits. net and fee are in KRW.
func (m *Manager) RecordTrade(ctx context.Context, layer core.Layer, net, fee decimal.Decimal) error {
	equity, haveEquity := m.equity(ctx)

	m.mu.Lock()
	st := m.state
	st.AllTime.Add(net, fee)
	st.Daily.Add(net, fee)
	st.Weekly.Add(net, fee)
	st.LayerDailyPnL[layer] = st.LayerDailyPnL[layer].Add(net)

	var alerts []string
	if haveEquity && st.TradingEnabled {
		limit := equity.Mul(decimal.NewFromFloat(m.cfg.DailyLossRatio)).Neg()
		if st.Daily.RealizedPnL.LessThan(limit) {
			st.TradingEnabled = false
			st.DisabledReason = fmt.Sprintf("daily loss %s below limit %s",
				alert.FormatKRW(st.Daily.RealizedPnL), alert.FormatKRW(limit))
			alerts = append(alerts, "Trading disabled until next UTC day: "+st.DisabledReason)
			m.logger.Error("Daily loss limit breached",
				"daily_pnl", st.Daily.RealizedPnL.String(),
				"limit", limit.String(),
				"equity", equity.String())
		}
	}

	if limit := m.cfg.LayerDrawdown(string(layer)); limit > 0 && !st.LayerDisabled[layer] {
		layerLimit := decimal.NewFromFloat(limit).Neg()
		if st.LayerDailyPnL[layer].LessThan(layerLimit) {
			st.LayerDisabled[layer] = true
			alerts = append(alerts, fmt.Sprintf("Layer %s disabled for today: daily pnl %s below %s",
				layer, alert.FormatKRW(st.LayerDailyPnL[layer]), alert.FormatKRW(layerLimit)))
			m.logger.Warn("Layer drawdown limit breached",
				"layer", layer,
				"layer_pnl", st.LayerDailyPnL[layer].String(),
				"limit", layerLimit.String())
		}
	}

	snapshot := st.Clone()
	m.publishGauges()
	m.mu.Unlock()

	telemetry.GetGlobalMetrics().RecordTrade(ctx, string(layer), net.InexactFloat64(), fee.InexactFloat64())
	for _, msg := range alerts {
		m.notify(ctx, msg)
	}
	return m.persist(ctx, &snapshot)
}

// CanTrade returns ErrRiskLimit while trading is globally disabled or the
// layer is disabled for today
func (m *Manager) CanTrade(layer core.Layer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.TradingEnabled {
		return fmt.Errorf("%w: trading disabled (%s)", apperrors.ErrRiskLimit, m.state.DisabledReason)
	}
	if m.state.LayerDisabled[layer] {
		return fmt.Errorf("%w: layer %s disabled for today", apperrors.ErrRiskLimit, layer)
	}
	return nil
}

// TradingEnabled reports the global flag
func (m *Manager) TradingEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.TradingEnabled
}

// DisableLayer sets a layer's disabled-today flag outside of the drawdown check
func (m *Manager) DisableLayer(ctx context.Context, layer core.Layer, reason string) error {
	m.mu.Lock()
	if m.state.LayerDisabled[layer] {
		m.mu.Unlock()
		return nil
	}
	m.state.LayerDisabled[layer] = true
	snapshot := m.state.Clone()
	m.publishGauges()
	m.mu.Unlock()

	m.logger.Warn("Layer disabled for today", "layer", layer, "reason", reason)
	m.notify(ctx, fmt.Sprintf("Layer %s disabled for today: %s", layer, reason))
	return m.persist(ctx, &snapshot)
}

// CheckRollover resets the daily counters once per UTC date change and the
// weekly counters every seven days from the week start. The first call only
// stamps the date. It reports whether a daily rollover happened.
func (m *Manager) CheckRollover(ctx context.Context, now time.Time) (bool, error) {
	today := now.UTC().Format(dateLayout)

	m.mu.Lock()
	st := m.state
	if st.LastRolloverDate == today {
		m.mu.Unlock()
		return false, nil
	}

	if st.LastRolloverDate == "" {
		st.LastRolloverDate = today
		if st.WeekStart == "" {
			st.WeekStart = m.initialWeekStart(today)
		}
		snapshot := st.Clone()
		m.mu.Unlock()
		m.logger.Info("Risk ledger dated", "date", today, "week_start", snapshot.WeekStart)
		return false, m.persist(ctx, &snapshot)
	}

	var reports []string
	reports = append(reports, alert.FormatDailyReport(st.LastRolloverDate, st.Daily, st.LayerDailyPnL))
	ended := st.LastRolloverDate

	st.Daily = core.PnLStats{}
	st.LayerDailyPnL = make(map[core.Layer]decimal.Decimal)
	st.LayerDisabled = make(map[core.Layer]bool)
	if !st.TradingEnabled {
		m.logger.Info("Trading re-enabled at daily rollover", "reason_was", st.DisabledReason)
	}
	st.TradingEnabled = true
	st.DisabledReason = ""
	st.LastRolloverDate = today

	if weekStart, err := time.Parse(dateLayout, st.WeekStart); err != nil {
		m.logger.Warn("Invalid week start, restarting week", "week_start", st.WeekStart, "error", err)
		st.WeekStart = today
	} else {
		day := now.UTC().Truncate(24 * time.Hour)
		if !day.Before(weekStart.Add(weekLength)) {
			reports = append(reports, alert.FormatWeeklyReport(st.WeekStart, ended, st.Weekly))
			st.Weekly = core.PnLStats{}
			for !day.Before(weekStart.Add(weekLength)) {
				weekStart = weekStart.Add(weekLength)
			}
			st.WeekStart = weekStart.Format(dateLayout)
		}
	}

	snapshot := st.Clone()
	m.publishGauges()
	m.mu.Unlock()

	m.logger.Info("Daily rollover", "ended", ended, "date", today, "week_start", snapshot.WeekStart)
	for _, r := range reports {
		m.notify(ctx, r)
	}
	return true, m.persist(ctx, &snapshot)
}

// Snapshot returns a copy of the ledger
func (m *Manager) Snapshot() core.RiskState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// HealthCheck fails while the last write to the store failed
func (m *Manager) HealthCheck() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastPersistErr != nil {
		return fmt.Errorf("risk state not persisted: %w", m.lastPersistErr)
	}
	return nil
}

func (m *Manager) initialWeekStart(today string) string {
	if m.cfg.WeekStart != "" {
		if _, err := time.Parse(dateLayout, m.cfg.WeekStart); err == nil {
			return m.cfg.WeekStart
		}
	}
	return today
}

// equity values the account, falling back to the last good value
func (m *Manager) equity(ctx context.Context) (decimal.Decimal, bool) {
	if m.valuer != nil {
		eq, err := m.valuer.Equity(ctx)
		if err == nil && eq.IsPositive() {
			m.mu.Lock()
			m.lastEquity = eq
			m.mu.Unlock()
			return eq, true
		}
		m.logger.Warn("Equity valuation failed, using last good value", "error", err, "last", m.lastEquityString())
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastEquity, m.lastEquity.IsPositive()
}

func (m *Manager) lastEquityString() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastEquity.String()
}

func (m *Manager) persist(ctx context.Context, st *core.RiskState) error {
	err := m.store.SaveRiskState(ctx, st)
	m.mu.Lock()
	m.lastPersistErr = err
	m.mu.Unlock()
	if err != nil {
		m.logger.Error("Failed to persist risk state", "error", err)
		return fmt.Errorf("failed to persist risk state: %w", err)
	}
	return nil
}

func (m *Manager) notify(ctx context.Context, text string) {
	if m.notifier != nil {
		m.notifier.Notify(ctx, text)
	}
}

// publishGauges must be called with mu held
func (m *Manager) publishGauges() {
	metrics := telemetry.GetGlobalMetrics()
	metrics.SetTradingDisabled(!m.state.TradingEnabled)
	metrics.SetDailyPnL(m.state.Daily.RealizedPnL.InexactFloat64())
	for _, layer := range core.TradingLayers {
		metrics.SetLayerDisabled(string(layer), m.state.LayerDisabled[layer])
	}
}
