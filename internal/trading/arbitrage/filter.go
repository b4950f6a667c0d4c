package arbitrage

import (
	"kimchi_arb/internal/config"
	"kimchi_arb/internal/core"
	"math"
	"sync"
)

const defaultMinSamples = 10

// FilterKey selects one rolling history
type FilterKey struct {
	Layer  core.Layer
	Symbol string
}

// ZScoreFilter passes only premiums that are statistically unusual against
// their recent history. Structural spreads that sit at the same level for a
// long time stop qualifying.
type ZScoreFilter struct {
	enabled    bool
	window     int
	threshold  float64
	minSamples int

	mu      sync.Mutex
	history map[FilterKey][]float64
}

func NewZScoreFilter(cfg config.FilterConfig) *ZScoreFilter {
	f := &ZScoreFilter{
		enabled:    cfg.Enabled,
		window:     cfg.Window,
		threshold:  cfg.Threshold,
		minSamples: cfg.MinSamples,
		history:    make(map[FilterKey][]float64),
	}
	if f.window <= 0 {
		f.window = 100
	}
	if f.minSamples < defaultMinSamples {
		f.minSamples = defaultMinSamples
	}
	return f
}

// Evaluate reports whether value may be traded, then adds it to the history.
// With fewer than the minimum samples everything passes.
func (f *ZScoreFilter) Evaluate(key FilterKey, value float64) bool {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	hist := f.history[key]
	pass := f.judge(hist, value)

	hist = append(hist, value)
	if len(hist) > f.window {
		hist = hist[len(hist)-f.window:]
	}
	f.history[key] = hist
	return pass
}

func (f *ZScoreFilter) judge(hist []float64, value float64) bool {
	if !f.enabled || len(hist) < f.minSamples {
		return true
	}

	var sum float64
	for _, v := range hist {
		sum += v
	}
	mean := sum / float64(len(hist))

	var varianceSum float64
	for _, v := range hist {
		varianceSum += math.Pow(v-mean, 2)
	}
	std := math.Sqrt(varianceSum / float64(len(hist)))

	if std == 0 {
		return value != mean
	}
	return math.Abs(value-mean)/std >= f.threshold
}

// Len returns the number of samples held for key
func (f *ZScoreFilter) Len(key FilterKey) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.history[key])
}
