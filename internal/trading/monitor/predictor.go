// Package monitor tracks market history and funding rates for the tuner and
// the funding layer
package monitor

import (
	"kimchi_arb/internal/config"
	"kimchi_arb/internal/core"
	"kimchi_arb/pkg/tradingutils"
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

const defaultHistorySize = 50

// PriceHistory keeps a bounded ring of recent prices per venue
type PriceHistory struct {
	size    int
	samples map[string][]float64
}

func NewPriceHistory(size int) *PriceHistory {
	if size <= 0 || size > defaultHistorySize {
		size = defaultHistorySize
	}
	return &PriceHistory{size: size, samples: make(map[string][]float64)}
}

// Add appends a price, evicting the oldest beyond the bound
func (h *PriceHistory) Add(venue string, price float64) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return
	}
	s := append(h.samples[venue], price)
	if len(s) > h.size {
		s = s[len(s)-h.size:]
	}
	h.samples[venue] = s
}

func (h *PriceHistory) Len(venue string) int {
	return len(h.samples[venue])
}

// Momentum is the percent move from the oldest to the newest sample
func (h *PriceHistory) Momentum(venue string) (float64, bool) {
	s := h.samples[venue]
	if len(s) < 2 {
		return 0, false
	}
	return (s[len(s)-1]/s[0] - 1) * 100, true
}

// Imbalance is (bidVol - askVol) / (bidVol + askVol) over the top levels of
// each side, in [-1, 1]. An empty book is balanced.
func Imbalance(book *core.OrderBookSnapshot, levels int) float64 {
	if book == nil {
		return 0
	}
	sum := func(side []core.PriceLevel) decimal.Decimal {
		total := decimal.Zero
		for i, lvl := range side {
			if levels > 0 && i >= levels {
				break
			}
			total = total.Add(lvl.Size)
		}
		return total
	}
	bid, ask := sum(book.Bids), sum(book.Asks)
	total := bid.Add(ask)
	if !total.IsPositive() {
		return 0
	}
	return tradingutils.Clamp(bid.Sub(ask).Div(total).InexactFloat64(), -1, 1)
}

// DailyVolatility tracks the intraday range of the reference price since the
// start of the UTC day
type DailyVolatility struct {
	day             string
	open, high, low float64
}

// Observe feeds one price. A new UTC day restarts the range.
func (v *DailyVolatility) Observe(now time.Time, price float64) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return
	}
	day := now.UTC().Format("2006-01-02")
	if day != v.day {
		v.day, v.open, v.high, v.low = day, price, price, price
		return
	}
	v.high = math.Max(v.high, price)
	v.low = math.Min(v.low, price)
}

// Percent returns (high - low) / open * 100, 0 before the first sample
func (v *DailyVolatility) Percent() float64 {
	if v.open <= 0 {
		return 0
	}
	return (v.high - v.low) / v.open * 100
}

// Predictor scores how likely a premium opportunity is in the near term.
// The score only biases the tuner.
type Predictor struct {
	cfg config.PredictorConfig

	mu         sync.Mutex
	history    *PriceHistory
	volatility DailyVolatility
}

func NewPredictor(cfg config.PredictorConfig) *Predictor {
	if cfg.VolatilityBorder <= 0 {
		cfg.VolatilityBorder = 5
	}
	if cfg.MomentumScale <= 0 {
		cfg.MomentumScale = 1
	}
	return &Predictor{
		cfg:     cfg,
		history: NewPriceHistory(cfg.HistorySize),
	}
}

// ObservePrice records a venue price for momentum
func (p *Predictor) ObservePrice(venue string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.history.Add(venue, price.InexactFloat64())
}

// ObserveReference feeds the reference price into today's range
func (p *Predictor) ObserveReference(now time.Time, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.volatility.Observe(now, price.InexactFloat64())
}

// Volatility returns today's range in percent, clamped to the border
func (p *Predictor) Volatility() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return tradingutils.Clamp(p.volatility.Percent(), 0, p.cfg.VolatilityBorder)
}

// Score combines mean absolute momentum across venues, normalized
// volatility and absolute imbalance into [0, 1]
func (p *Predictor) Score(venues []string, imbalance, volatility float64) float64 {
	p.mu.Lock()
	var momSum float64
	var n int
	for _, v := range venues {
		if m, ok := p.history.Momentum(v); ok {
			momSum += math.Abs(m)
			n++
		}
	}
	p.mu.Unlock()

	var momentum float64
	if n > 0 {
		momentum = tradingutils.Clamp(momSum/float64(n)/p.cfg.MomentumScale, 0, 1)
	}
	vol := tradingutils.Clamp(tradingutils.Finite(volatility)/p.cfg.VolatilityBorder, 0, 1)
	imb := tradingutils.Clamp(math.Abs(tradingutils.Finite(imbalance)), 0, 1)

	score := p.cfg.MomentumWeight*momentum + p.cfg.VolatilityWeight*vol + p.cfg.ImbalanceWeight*imb
	return tradingutils.Clamp(score, 0, 1)
}
