package portfolio

import (
	"context"
	"errors"
	"kimchi_arb/internal/config"
	"kimchi_arb/internal/core"
	"kimchi_arb/internal/mock"
	apperrors "kimchi_arb/pkg/errors"
	"kimchi_arb/pkg/logging"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bal(pairs ...interface{}) core.Balances {
	out := make(core.Balances)
	for i := 0; i < len(pairs); i += 2 {
		amt := decimal.RequireFromString(pairs[i+1].(string))
		out[pairs[i].(string)] = core.Balance{Free: amt, Total: amt}
	}
	return out
}

func testValuer() *Valuer {
	v := NewValuer()
	v.SetMark("BTC", decimal.NewFromInt(100_000_000))
	v.UpdateBalances("upbit", bal("KRW", "10000000", "BTC", "0.3"))
	v.UpdateBalances("bithumb", bal("KRW", "30000000", "BTC", "0.1"))
	return v
}

func testRebalanceConfig() config.RebalanceConfig {
	return config.RebalanceConfig{
		Enabled:        true,
		Schedule:       "@every 1h",
		Venues:         []string{"bithumb", "upbit"},
		Targets:        map[string]float64{"BTC": 0.5, "KRW": 0.5},
		Band:           0.05,
		Fraction:       0.5,
		MinNotionalKRW: 100_000,
	}
}

func TestValuer_Equity(t *testing.T) {
	v := NewValuer()
	_, err := v.Equity(context.Background())
	assert.True(t, errors.Is(err, apperrors.ErrNoQuote))

	v = testValuer()
	v.UpdateBalances("binance", bal("USDT", "1000", "DOGE", "5"))
	v.SetMark("USDT", decimal.NewFromInt(1350))

	eq, err := v.Equity(context.Background())
	require.NoError(t, err)
	// 40M + 40M + 1000 * 1350; DOGE has no mark
	assert.True(t, eq.Equal(decimal.NewFromInt(81_350_000)), "equity %s", eq)
}

func TestValuer_Holdings(t *testing.T) {
	v := testValuer()
	holdings, total := v.Holdings("upbit")
	assert.True(t, total.Equal(decimal.NewFromInt(40_000_000)))
	require.Len(t, holdings, 2)
	assert.Equal(t, "BTC", holdings[0].Asset)
	assert.InDelta(t, 0.75, holdings[0].Share, 1e-12)
	assert.InDelta(t, 0.25, holdings[1].Share, 1e-12)

	holdings, total = v.Holdings("okx")
	assert.Empty(t, holdings)
	assert.True(t, total.IsZero())
}

func TestRebalancer_PlanCorrectsFractionOfDrift(t *testing.T) {
	r, err := NewRebalancer(testRebalanceConfig(), nil, testValuer(), logging.NewNopLogger())
	require.NoError(t, err)

	actions := r.Plan()
	require.Len(t, actions, 2)

	// reductions first
	assert.Equal(t, "upbit", actions[0].Venue)
	assert.Equal(t, core.SideSell, actions[0].Side)
	assert.InDelta(t, 0.25, actions[0].Drift, 1e-12)
	assert.True(t, actions[0].Amount.Equal(decimal.RequireFromString("0.05")), "amount %s", actions[0].Amount)

	assert.Equal(t, "bithumb", actions[1].Venue)
	assert.Equal(t, core.SideBuy, actions[1].Side)
	assert.True(t, actions[1].Amount.Equal(decimal.RequireFromString("0.05")))
	assert.Equal(t, "BTC/KRW", actions[1].Symbol)
}

func TestRebalancer_WithinBandOrBelowMinimum(t *testing.T) {
	cfg := testRebalanceConfig()
	cfg.Band = 0.3
	r, err := NewRebalancer(cfg, nil, testValuer(), logging.NewNopLogger())
	require.NoError(t, err)
	assert.Empty(t, r.Plan())

	cfg = testRebalanceConfig()
	cfg.MinNotionalKRW = 10_000_000
	r, err = NewRebalancer(cfg, nil, testValuer(), logging.NewNopLogger())
	require.NoError(t, err)
	assert.Empty(t, r.Plan())
}

func TestRebalancer_Schedule(t *testing.T) {
	r, err := NewRebalancer(testRebalanceConfig(), nil, testValuer(), logging.NewNopLogger())
	require.NoError(t, err)

	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.False(t, r.Due(t0), "first call arms the schedule")
	assert.Equal(t, t0.Add(time.Hour), r.Next())
	assert.False(t, r.Due(t0.Add(30*time.Minute)))
	assert.True(t, r.Due(t0.Add(time.Hour)))
	assert.False(t, r.Due(t0.Add(time.Hour+time.Minute)))

	cfg := testRebalanceConfig()
	cfg.Schedule = "0 */6 * * *"
	r, err = NewRebalancer(cfg, nil, testValuer(), logging.NewNopLogger())
	require.NoError(t, err)
	r.Due(t0.Add(time.Hour))
	assert.Equal(t, t0.Add(6*time.Hour), r.Next())

	cfg.Schedule = "every six hours"
	_, err = NewRebalancer(cfg, nil, testValuer(), logging.NewNopLogger())
	assert.Error(t, err)
}

func TestRebalancer_Run(t *testing.T) {
	upbit := mock.NewMockExchange("upbit")
	bithumb := mock.NewMockExchange("bithumb")
	venues := map[string]core.IVenue{"upbit": upbit, "bithumb": bithumb}
	r, err := NewRebalancer(testRebalanceConfig(), venues, testValuer(), logging.NewNopLogger())
	require.NoError(t, err)
	ctx := context.Background()
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	assert.Nil(t, r.Run(ctx, t0, true))
	assert.Nil(t, r.Run(ctx, t0.Add(time.Hour), false), "disabled trading skips the pass")
	assert.Empty(t, upbit.Orders())

	results := r.Run(ctx, t0.Add(2*time.Hour), true)
	require.Len(t, results, 2)
	for _, res := range results {
		assert.NoError(t, res.Err)
	}
	require.Len(t, upbit.Orders(), 1)
	assert.Equal(t, core.SideSell, upbit.Orders()[0].Side)
	require.Len(t, bithumb.Orders(), 1)
	assert.Equal(t, core.SideBuy, bithumb.Orders()[0].Side)
}
