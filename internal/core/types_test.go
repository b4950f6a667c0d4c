package core

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitSymbol(t *testing.T) {
	base, quote, err := SplitSymbol("btc/krw")
	require.NoError(t, err)
	assert.Equal(t, "BTC", base)
	assert.Equal(t, "KRW", quote)

	for _, bad := range []string{"BTCKRW", "/KRW", "BTC/", "A/B/C"} {
		_, _, err := SplitSymbol(bad)
		assert.Error(t, err, bad)
	}
}

func TestTickerMid(t *testing.T) {
	tk := &Ticker{Bid: decimal.NewFromInt(99), Ask: decimal.NewFromInt(101), Last: decimal.NewFromInt(7)}
	assert.True(t, tk.Mid().Equal(decimal.NewFromInt(100)))

	tk.Bid = decimal.Zero
	assert.True(t, tk.Mid().Equal(decimal.NewFromInt(7)))
}

func TestRiskStateClone(t *testing.T) {
	s := NewRiskState()
	s.LayerDisabled[LayerSpread] = true
	s.LayerDailyPnL[LayerSpread] = decimal.NewFromInt(-5)

	c := s.Clone()
	c.LayerDisabled[LayerSpread] = false
	c.LayerDailyPnL[LayerSpread] = decimal.Zero

	assert.True(t, s.LayerDisabled[LayerSpread])
	assert.True(t, s.LayerDailyPnL[LayerSpread].Equal(decimal.NewFromInt(-5)))
	assert.True(t, s.TradingEnabled)
}

func TestPnLStatsAdd(t *testing.T) {
	var s PnLStats
	s.Add(decimal.NewFromInt(100), decimal.NewFromInt(3))
	s.Add(decimal.NewFromInt(-40), decimal.NewFromInt(2))
	assert.Equal(t, int64(2), s.Trades)
	assert.True(t, s.RealizedPnL.Equal(decimal.NewFromInt(60)))
	assert.True(t, s.Fees.Equal(decimal.NewFromInt(5)))
}
