package telemetry

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricPremiumPct         = "kimchi_arb_premium_pct"
	MetricEntryThreshold     = "kimchi_arb_entry_threshold_pct"
	MetricPositionRatio      = "kimchi_arb_position_ratio"
	MetricPredictorScore     = "kimchi_arb_predictor_score"
	MetricTradesTotal        = "kimchi_arb_trades_total"
	MetricPnLRealizedTotal   = "kimchi_arb_pnl_realized_krw_total"
	MetricFeesTotal          = "kimchi_arb_fees_krw_total"
	MetricUnhedgedTotal      = "kimchi_arb_unhedged_events_total"
	MetricLatencyTick        = "kimchi_arb_latency_tick_ms"
	MetricLatencyVenue       = "kimchi_arb_latency_venue_ms"
	MetricCircuitBreakerOpen = "kimchi_arb_circuit_breaker_open"
	MetricLayerDisabled      = "kimchi_arb_layer_disabled"
	MetricTradingDisabled    = "kimchi_arb_trading_disabled"
	MetricFundingActive      = "kimchi_arb_funding_position_active"
	MetricDailyPnL           = "kimchi_arb_daily_pnl_krw"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	PremiumPct         metric.Float64ObservableGauge
	EntryThreshold     metric.Float64ObservableGauge
	PositionRatio      metric.Float64ObservableGauge
	PredictorScore     metric.Float64ObservableGauge
	TradesTotal        metric.Int64Counter
	PnLRealizedTotal   metric.Float64Counter
	FeesTotal          metric.Float64Counter
	UnhedgedTotal      metric.Int64Counter
	LatencyTick        metric.Float64Histogram
	LatencyVenue       metric.Float64Histogram
	CircuitBreakerOpen metric.Int64ObservableGauge
	LayerDisabled      metric.Int64ObservableGauge
	TradingDisabled    metric.Int64ObservableGauge
	FundingActive      metric.Int64ObservableGauge
	DailyPnL           metric.Float64ObservableGauge

	// State for observable gauges
	mu               sync.RWMutex
	initialized      bool
	premiumMap       map[premiumKey]float64
	tuning           tuningValues
	cbOpenMap        map[string]int64
	layerDisabledMap map[string]int64
	tradingDisabled  int64
	fundingActive    int64
	dailyPnL         float64
}

type premiumKey struct {
	layer     string
	venue     string
	direction string
}

type tuningValues struct {
	threshold float64
	ratio     float64
	score     float64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			premiumMap:       make(map[premiumKey]float64),
			cbOpenMap:        make(map[string]int64),
			layerDisabledMap: make(map[string]int64),
		}
	})
	return globalMetrics
}

// InitMetrics creates the instruments on meter. Gauges are read from the
// holder's state by a single registered callback.
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var errs [15]error
	m.TradesTotal, errs[0] = meter.Int64Counter(MetricTradesTotal, metric.WithDescription("Settled arbitrage trades"))
	m.PnLRealizedTotal, errs[1] = meter.Float64Counter(MetricPnLRealizedTotal, metric.WithDescription("Cumulative realized net PnL in KRW"))
	m.FeesTotal, errs[2] = meter.Float64Counter(MetricFeesTotal, metric.WithDescription("Cumulative fees paid in KRW"))
	m.UnhedgedTotal, errs[3] = meter.Int64Counter(MetricUnhedgedTotal, metric.WithDescription("Executions that left an unhedged leg"))
	m.LatencyTick, errs[4] = meter.Float64Histogram(MetricLatencyTick, metric.WithDescription("Duration of one engine tick"), metric.WithUnit("ms"))
	m.LatencyVenue, errs[5] = meter.Float64Histogram(MetricLatencyVenue, metric.WithDescription("Latency of venue calls"), metric.WithUnit("ms"))

	m.PremiumPct, errs[6] = meter.Float64ObservableGauge(MetricPremiumPct, metric.WithDescription("Latest realizable premium per venue and direction"))
	m.EntryThreshold, errs[7] = meter.Float64ObservableGauge(MetricEntryThreshold, metric.WithDescription("Current tuned entry threshold"))
	m.PositionRatio, errs[8] = meter.Float64ObservableGauge(MetricPositionRatio, metric.WithDescription("Current tuned position ratio"))
	m.PredictorScore, errs[9] = meter.Float64ObservableGauge(MetricPredictorScore, metric.WithDescription("Premium predictor opportunity score"))
	m.DailyPnL, errs[10] = meter.Float64ObservableGauge(MetricDailyPnL, metric.WithDescription("Realized PnL of the current UTC day in KRW"))
	m.CircuitBreakerOpen, errs[11] = meter.Int64ObservableGauge(MetricCircuitBreakerOpen, metric.WithDescription("Per-venue breaker state (1=open, 0=closed)"))
	m.LayerDisabled, errs[12] = meter.Int64ObservableGauge(MetricLayerDisabled, metric.WithDescription("Layer disabled for the rest of the day (1=disabled)"))
	m.TradingDisabled, errs[13] = meter.Int64ObservableGauge(MetricTradingDisabled, metric.WithDescription("Global trading disable flag (1=disabled)"))
	m.FundingActive, errs[14] = meter.Int64ObservableGauge(MetricFundingActive, metric.WithDescription("Funding hedge open (1=open)"))
	if err := errors.Join(errs[:]...); err != nil {
		return err
	}

	_, err := meter.RegisterCallback(m.observe,
		m.PremiumPct, m.EntryThreshold, m.PositionRatio, m.PredictorScore, m.DailyPnL,
		m.CircuitBreakerOpen, m.LayerDisabled, m.TradingDisabled, m.FundingActive)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.initialized = true
	m.mu.Unlock()
	return nil
}

func (m *MetricsHolder) observe(_ context.Context, o metric.Observer) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for k, val := range m.premiumMap {
		o.ObserveFloat64(m.PremiumPct, val, metric.WithAttributes(
			attribute.String("layer", k.layer),
			attribute.String("venue", k.venue),
			attribute.String("direction", k.direction),
		))
	}
	o.ObserveFloat64(m.EntryThreshold, m.tuning.threshold)
	o.ObserveFloat64(m.PositionRatio, m.tuning.ratio)
	o.ObserveFloat64(m.PredictorScore, m.tuning.score)
	o.ObserveFloat64(m.DailyPnL, m.dailyPnL)

	for venue, val := range m.cbOpenMap {
		o.ObserveInt64(m.CircuitBreakerOpen, val, metric.WithAttributes(attribute.String("venue", venue)))
	}
	for layer, val := range m.layerDisabledMap {
		o.ObserveInt64(m.LayerDisabled, val, metric.WithAttributes(attribute.String("layer", layer)))
	}
	o.ObserveInt64(m.TradingDisabled, m.tradingDisabled)
	o.ObserveInt64(m.FundingActive, m.fundingActive)
	return nil
}

// Ready reports whether synchronous instruments exist
func (m *MetricsHolder) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

// RecordTrade increments trade/PnL/fee counters when instruments are initialized
func (m *MetricsHolder) RecordTrade(ctx context.Context, layer string, net, fee float64) {
	if !m.Ready() {
		return
	}
	attrs := metric.WithAttributes(attribute.String("layer", layer))
	m.TradesTotal.Add(ctx, 1, attrs)
	m.PnLRealizedTotal.Add(ctx, net, attrs)
	m.FeesTotal.Add(ctx, fee, attrs)
}

// RecordUnhedged counts an execution with mismatched legs
func (m *MetricsHolder) RecordUnhedged(ctx context.Context, layer, policy string) {
	if !m.Ready() {
		return
	}
	m.UnhedgedTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("layer", layer),
		attribute.String("policy", policy),
	))
}

// RecordTickLatency records the duration of one engine tick
func (m *MetricsHolder) RecordTickLatency(ctx context.Context, ms float64) {
	if !m.Ready() {
		return
	}
	m.LatencyTick.Record(ctx, ms)
}

// RecordVenueLatency records the latency of one venue call
func (m *MetricsHolder) RecordVenueLatency(ctx context.Context, venue, op string, ms float64, failed bool) {
	if !m.Ready() {
		return
	}
	m.LatencyVenue.Record(ctx, ms, metric.WithAttributes(
		attribute.String("venue", venue),
		attribute.String("op", op),
		attribute.Bool("failed", failed),
	))
}

// Helpers to update observable state

func (m *MetricsHolder) SetPremium(layer, venue, direction string, pct float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.premiumMap[premiumKey{layer: layer, venue: venue, direction: direction}] = pct
}

func (m *MetricsHolder) SetTuning(threshold, ratio, score float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tuning = tuningValues{threshold: threshold, ratio: ratio, score: score}
}

func (m *MetricsHolder) SetCircuitBreakerOpen(venue string, open bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cbOpenMap[venue] = boolToInt(open)
}

func (m *MetricsHolder) SetLayerDisabled(layer string, disabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.layerDisabledMap[layer] = boolToInt(disabled)
}

func (m *MetricsHolder) SetTradingDisabled(disabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tradingDisabled = boolToInt(disabled)
}

func (m *MetricsHolder) SetFundingActive(active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fundingActive = boolToInt(active)
}

func (m *MetricsHolder) SetDailyPnL(pnl float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dailyPnL = pnl
}

// GetCircuitBreakerOpen returns a copy of the per-venue breaker gauge values
func (m *MetricsHolder) GetCircuitBreakerOpen() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64, len(m.cbOpenMap))
	for k, v := range m.cbOpenMap {
		res[k] = v
	}
	return res
}

// GetPremium returns the last premium recorded for a venue and direction
func (m *MetricsHolder) GetPremium(layer, venue, direction string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.premiumMap[premiumKey{layer: layer, venue: venue, direction: direction}]
	return v, ok
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
