// Package tuning adapts the entry threshold and position ratio to market
// conditions and execution load
package tuning

import (
	"kimchi_arb/internal/config"
	"kimchi_arb/pkg/tradingutils"
	"sync"
	"time"
)

const tradeWindow = time.Hour

// TuningState is owned by the Tuner and mutated every tick
type TuningState struct {
	TradeTimes []time.Time
	Threshold  float64 // percent
	Ratio      float64
}

// Tuner maps (volatility, predictor score, trailing trade count) to
// (entry threshold, position ratio), always within the configured bounds
type Tuner struct {
	cfg    config.TunerConfig
	border float64

	mu    sync.Mutex
	state TuningState
}

// NewTuner creates a tuner. border is the volatility (percent) at which the
// threshold reaches its maximum.
func NewTuner(cfg config.TunerConfig, border float64) *Tuner {
	if border <= 0 {
		border = 5
	}
	t := &Tuner{cfg: cfg, border: border}
	t.state.Threshold = t.clampThreshold(cfg.MaxThreshold)
	t.state.Ratio = t.clampRatio(cfg.BaseRatio)
	return t
}

// RecordTrade adds an execution to the trailing window
func (t *Tuner) RecordTrade(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state.TradeTimes = append(t.state.TradeTimes, at)
}

// TradesInLastHour prunes and counts executions within the trailing hour
func (t *Tuner) TradesInLastHour(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pruneLocked(now)
}

// HourlyCapReached reports whether the shared hourly trade cap is used up
func (t *Tuner) HourlyCapReached(now time.Time) bool {
	if t.cfg.HourlyTradeCap <= 0 {
		return false
	}
	return t.TradesInLastHour(now) >= t.cfg.HourlyTradeCap
}

func (t *Tuner) pruneLocked(now time.Time) int {
	cutoff := now.Add(-tradeWindow)
	kept := t.state.TradeTimes[:0]
	for _, ts := range t.state.TradeTimes {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	t.state.TradeTimes = kept
	return len(kept)
}

// Tune recomputes threshold and ratio. NaN or infinite inputs count as zero.
func (t *Tuner) Tune(volatility, score float64, now time.Time) (threshold, ratio float64) {
	volNorm := tradingutils.Clamp(tradingutils.Finite(volatility)/t.border, 0, 1)
	score = tradingutils.Clamp(tradingutils.Finite(score), 0, 1)

	threshold = tradingutils.Lerp(t.cfg.MinThreshold, t.cfg.MaxThreshold, volNorm) - score*t.cfg.ScoreDiscount
	ratio = t.cfg.BaseRatio - t.cfg.VolPenalty*volNorm + t.cfg.ScoreBoost*score

	t.mu.Lock()
	defer t.mu.Unlock()

	if limit := t.cfg.HourlyTradeCap; limit > 0 {
		trades := float64(t.pruneLocked(now))
		switch {
		case trades > 0.7*float64(limit):
			threshold += t.cfg.CongestionHighBump
			ratio *= t.cfg.CongestionHighFactor
		case trades > 0.4*float64(limit):
			threshold += t.cfg.CongestionMidBump
			ratio *= t.cfg.CongestionMidFactor
		}
	}

	t.state.Threshold = t.clampThreshold(threshold)
	t.state.Ratio = t.clampRatio(ratio)
	return t.state.Threshold, t.state.Ratio
}

// Current returns the last tuned values
func (t *Tuner) Current() (threshold, ratio float64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state.Threshold, t.state.Ratio
}

// MaxRatio is the upper bound of the position ratio
func (t *Tuner) MaxRatio() float64 {
	return t.cfg.MaxRatio
}

// State returns a copy of the tuning state
func (t *Tuner) State() TuningState {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.state
	out.TradeTimes = append([]time.Time(nil), t.state.TradeTimes...)
	return out
}

func (t *Tuner) clampThreshold(v float64) float64 {
	return tradingutils.Clamp(tradingutils.Finite(v), t.cfg.ThresholdFloor, t.cfg.ThresholdCeiling)
}

func (t *Tuner) clampRatio(v float64) float64 {
	return tradingutils.Clamp(tradingutils.Finite(v), t.cfg.MinRatio, t.cfg.MaxRatio)
}
