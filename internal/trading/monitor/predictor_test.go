package monitor

import (
	"kimchi_arb/internal/config"
	"kimchi_arb/internal/core"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func testPredictorConfig() config.PredictorConfig {
	return config.PredictorConfig{
		HistorySize:      50,
		MomentumWeight:   0.4,
		VolatilityWeight: 0.3,
		ImbalanceWeight:  0.3,
		MomentumScale:    1.0,
		ImbalanceLevels:  5,
		VolatilityBorder: 5.0,
	}
}

func TestPriceHistory_Bounded(t *testing.T) {
	h := NewPriceHistory(200)
	for i := 1; i <= 80; i++ {
		h.Add("upbit", float64(i))
	}
	assert.Equal(t, 50, h.Len("upbit"))

	m, ok := h.Momentum("upbit")
	assert.True(t, ok)
	assert.InDelta(t, (80.0/31.0-1)*100, m, 1e-9)

	_, ok = h.Momentum("bithumb")
	assert.False(t, ok)
}

func TestImbalance(t *testing.T) {
	book := &core.OrderBookSnapshot{
		Bids: []core.PriceLevel{{Price: decimal.NewFromInt(100), Size: decimal.NewFromInt(3)}},
		Asks: []core.PriceLevel{{Price: decimal.NewFromInt(101), Size: decimal.NewFromInt(1)}},
	}
	assert.InDelta(t, 0.5, Imbalance(book, 5), 1e-9)
	assert.Equal(t, 0.0, Imbalance(&core.OrderBookSnapshot{}, 5))
	assert.Equal(t, 0.0, Imbalance(nil, 5))

	onlyAsks := &core.OrderBookSnapshot{Asks: book.Asks}
	assert.InDelta(t, -1.0, Imbalance(onlyAsks, 5), 1e-9)
}

func TestDailyVolatility_ResetsAtUTCDay(t *testing.T) {
	var v DailyVolatility
	day := time.Date(2024, 3, 1, 1, 0, 0, 0, time.UTC)
	v.Observe(day, 50000)
	v.Observe(day.Add(time.Hour), 51000)
	v.Observe(day.Add(2*time.Hour), 49500)
	assert.InDelta(t, 3.0, v.Percent(), 1e-9)

	v.Observe(day.Add(24*time.Hour), 52000)
	assert.Equal(t, 0.0, v.Percent())
}

func TestPredictor_ScoreBounds(t *testing.T) {
	p := NewPredictor(testPredictorConfig())
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		p.ObservePrice("upbit", decimal.NewFromFloat(68_000_000*(1+r.NormFloat64()*0.05)))
	}
	for i := 0; i < 200; i++ {
		s := p.Score([]string{"upbit", "bithumb"}, r.NormFloat64()*3, r.Float64()*100-10)
		assert.GreaterOrEqual(t, s, 0.0)
		assert.LessOrEqual(t, s, 1.0)
	}
}

func TestPredictor_ScoreComponents(t *testing.T) {
	p := NewPredictor(testPredictorConfig())
	assert.Equal(t, 0.0, p.Score([]string{"upbit"}, 0, 0))

	// volatility at the border contributes its full weight
	assert.InDelta(t, 0.3, p.Score(nil, 0, 5), 1e-9)
	assert.InDelta(t, 0.15, p.Score(nil, -0.5, 0), 1e-9)

	p.ObservePrice("upbit", decimal.NewFromInt(100))
	p.ObservePrice("upbit", decimal.NewFromFloat(100.5))
	assert.InDelta(t, 0.4*0.5, p.Score([]string{"upbit"}, 0, 0), 1e-9)

	now := time.Date(2024, 3, 1, 3, 0, 0, 0, time.UTC)
	p.ObserveReference(now, decimal.NewFromInt(50000))
	p.ObserveReference(now.Add(time.Minute), decimal.NewFromInt(55000))
	assert.Equal(t, 5.0, p.Volatility(), "clamped to the border")
}
