package arbengine_test

import (
	"context"
	"errors"
	"kimchi_arb/internal/config"
	"kimchi_arb/internal/core"
	"kimchi_arb/internal/engine/arbengine"
	"kimchi_arb/internal/mock"
	"kimchi_arb/internal/risk"
	"kimchi_arb/internal/storage"
	"kimchi_arb/internal/trading/execution"
	"kimchi_arb/internal/trading/monitor"
	apperrors "kimchi_arb/pkg/errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockLogger struct{}

func (m *MockLogger) Debug(msg string, fields ...interface{})               {}
func (m *MockLogger) Info(msg string, fields ...interface{})                {}
func (m *MockLogger) Warn(msg string, fields ...interface{})                {}
func (m *MockLogger) Error(msg string, fields ...interface{})               {}
func (m *MockLogger) Fatal(msg string, fields ...interface{})               {}
func (m *MockLogger) WithField(key string, value interface{}) core.ILogger  { return m }
func (m *MockLogger) WithFields(fields map[string]interface{}) core.ILogger { return m }

const perp = "BTC/USDT"

var fx = decimal.NewFromInt(1350)

type fundingFixture struct {
	short    *mock.MockExchange
	long     *mock.MockExchange
	store    *storage.MemoryStore
	journal  *storage.MemoryJournal
	risk     *risk.Manager
	notifier *mock.MockNotifier
	arb      *arbengine.FundingArb
	now      time.Time
	balances map[string]core.Balances
}

func fundingConfig() config.FundingConfig {
	cfg := config.Defaults().Funding
	cfg.Enabled = true
	cfg.Venues = []string{"binance_futures", "bybit_futures"}
	return cfg
}

func newFundingFixture(t *testing.T) *fundingFixture {
	t.Helper()
	f := &fundingFixture{
		short:    mock.NewMockExchange("binance_futures"),
		long:     mock.NewMockExchange("bybit_futures"),
		store:    storage.NewMemoryStore(),
		journal:  storage.NewMemoryJournal(),
		notifier: mock.NewMockNotifier(),
		now:      time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
	}
	price := decimal.NewFromInt(50_000)
	for _, ex := range []*mock.MockExchange{f.short, f.long} {
		ex.SetTicker(perp, price, price, price)
		ex.SetBalance("USDT", decimal.NewFromInt(10_000))
	}
	f.short.SetFundingRate(perp, decimal.RequireFromString("0.0008"))
	f.long.SetFundingRate(perp, decimal.RequireFromString("0.0001"))
	f.balances = map[string]core.Balances{
		"binance_futures": {"USDT": {Free: decimal.NewFromInt(10_000), Total: decimal.NewFromInt(10_000)}},
		"bybit_futures":   {"USDT": {Free: decimal.NewFromInt(10_000), Total: decimal.NewFromInt(10_000)}},
	}

	logger := &MockLogger{}
	f.risk = risk.NewManager(config.RiskConfig{DailyLossRatio: 0.03}, f.store,
		mock.NewMockEquityValuer(decimal.NewFromInt(100_000_000)), nil, logger)
	require.NoError(t, f.risk.Load(context.Background()))
	f.arb = f.build(logger)
	return f
}

func (f *fundingFixture) build(logger core.ILogger) *arbengine.FundingArb {
	venues := map[string]core.IVenue{"binance_futures": f.short, "bybit_futures": f.long}
	mon := monitor.NewFundingMonitor(venues, logger, perp)
	mon.SetClock(func() time.Time { return f.now })
	return arbengine.NewFundingArb(fundingConfig(), arbengine.FundingDeps{
		Venues: venues,
		Fees: map[string]decimal.Decimal{
			"binance_futures": decimal.RequireFromString("0.0004"),
			"bybit_futures":   decimal.RequireFromString("0.00055"),
		},
		Monitor:  mon,
		Executor: execution.NewPairExecutor(logger),
		Store:    f.store,
		Risk:     f.risk,
		Journal:  f.journal,
		Notifier: f.notifier,
	}, false, logger)
}

func (f *fundingFixture) step(t *testing.T) {
	t.Helper()
	require.NoError(t, f.arb.Step(context.Background(), f.now, fx, f.balances))
}

func TestFundingArb_OpensOnWidestSpread(t *testing.T) {
	f := newFundingFixture(t)
	f.step(t)

	assert.Equal(t, arbengine.FundingOpen, f.arb.State())
	pos := f.arb.Position()
	require.NotNil(t, pos)
	assert.Equal(t, "binance_futures", pos.ShortVenue)
	assert.Equal(t, "bybit_futures", pos.LongVenue)
	// 10,000 USDT * 0.3 / 50,000
	assert.True(t, pos.Amount.Equal(decimal.RequireFromString("0.06")), "amount %s", pos.Amount)
	assert.True(t, pos.OpenSpread.Equal(decimal.RequireFromString("0.0007")))
	// 0.0007 * 3 payments a day * 365
	assert.True(t, f.arb.OpenAPRPct().Equal(decimal.RequireFromString("76.65")), "apr %s", f.arb.OpenAPRPct())
	require.NotEmpty(t, f.notifier.Messages())
	assert.Contains(t, f.notifier.Messages()[0], "APR 76.65%")

	require.Len(t, f.short.Orders(), 1)
	assert.Equal(t, core.SideSell, f.short.Orders()[0].Side)
	require.Len(t, f.long.Orders(), 1)
	assert.Equal(t, core.SideBuy, f.long.Orders()[0].Side)

	stored, err := f.store.LoadFundingPosition(context.Background())
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, pos.ID, stored.ID)

	f.now = f.now.Add(time.Minute)
	f.step(t)
	assert.Equal(t, arbengine.FundingHeld, f.arb.State())
}

func TestFundingArb_ClosesOnDurationRegardlessOfSpread(t *testing.T) {
	f := newFundingFixture(t)
	t0 := f.now
	f.step(t)
	f.now = t0.Add(time.Minute)
	f.step(t)

	// still wide, one minute short of three 8h payments: no close, no second open
	f.now = t0.Add(24*time.Hour - time.Minute)
	f.step(t)
	assert.Equal(t, arbengine.FundingHeld, f.arb.State())
	assert.Len(t, f.short.Orders(), 1)

	f.now = t0.Add(24 * time.Hour)
	f.step(t)
	assert.Equal(t, arbengine.FundingClosed, f.arb.State())
	assert.Nil(t, f.arb.Position())

	require.Len(t, f.short.Orders(), 2)
	assert.Equal(t, core.SideBuy, f.short.Orders()[1].Side)
	require.Len(t, f.long.Orders(), 2)
	assert.Equal(t, core.SideSell, f.long.Orders()[1].Side)

	stored, err := f.store.LoadFundingPosition(context.Background())
	require.NoError(t, err)
	assert.Nil(t, stored)

	// flat prices: gross is three payments, 0.0007 * 3 * 0.06 * 50,000 * 1350
	// fees: (100,000 * 0.06 * 0.0004 + 100,000 * 0.06 * 0.00055) * 1350
	recs, err := f.journal.Since(time.Time{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, core.LayerFunding, recs[0].Layer)
	assert.True(t, recs[0].GrossPnL.Equal(decimal.NewFromInt(8_505)), "gross %s", recs[0].GrossPnL)
	assert.True(t, recs[0].Fee.Equal(decimal.NewFromInt(7_695)), "fee %s", recs[0].Fee)
	assert.True(t, recs[0].NetPnL.Equal(decimal.NewFromInt(810)), "net %s", recs[0].NetPnL)
	assert.True(t, f.risk.Snapshot().Daily.RealizedPnL.Equal(decimal.NewFromInt(810)))
}

func TestFundingArb_ClosesOnFirstTickAfterOpen(t *testing.T) {
	f := newFundingFixture(t)
	f.step(t)
	require.Equal(t, arbengine.FundingOpen, f.arb.State())

	// spread collapses before the hedge was ever marked held
	f.long.SetFundingRate(perp, decimal.RequireFromString("0.0007"))
	f.now = f.now.Add(time.Minute)
	f.step(t)
	assert.Equal(t, arbengine.FundingClosed, f.arb.State())
	assert.Nil(t, f.arb.Position())
	assert.Len(t, f.short.Orders(), 2)
	assert.Len(t, f.long.Orders(), 2)

	// closed inside the first interval: no payment booked
	recs, err := f.journal.Since(time.Time{})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, recs[0].GrossPnL.IsZero(), "gross %s", recs[0].GrossPnL)
}

func TestFundingArb_ClosesWhenSpreadNarrows(t *testing.T) {
	f := newFundingFixture(t)
	f.step(t)
	f.now = f.now.Add(time.Minute)
	f.step(t)

	f.long.SetFundingRate(perp, decimal.RequireFromString("0.0007"))
	f.now = f.now.Add(time.Hour)
	f.step(t)
	assert.Equal(t, arbengine.FundingClosed, f.arb.State())
	assert.Len(t, f.long.Orders(), 2)
}

func TestFundingArb_StaleRatesDoNotOpen(t *testing.T) {
	f := newFundingFixture(t)
	f.short.SetError(mock.OpFunding, apperrors.ErrNetwork)
	f.step(t)
	assert.Equal(t, arbengine.FundingClosed, f.arb.State())
	assert.Empty(t, f.long.Orders())
}

func TestFundingArb_BelowMinNotional(t *testing.T) {
	f := newFundingFixture(t)
	f.balances["bybit_futures"] = core.Balances{"USDT": {Free: decimal.NewFromInt(100), Total: decimal.NewFromInt(100)}}
	f.step(t)
	assert.Equal(t, arbengine.FundingClosed, f.arb.State())
	assert.Empty(t, f.short.Orders())
}

func TestFundingArb_LayerDisabled(t *testing.T) {
	f := newFundingFixture(t)
	require.NoError(t, f.risk.DisableLayer(context.Background(), core.LayerFunding, "test"))
	f.step(t)
	assert.Nil(t, f.arb.Position())
	assert.Empty(t, f.short.Orders())
}

func TestFundingArb_FailedHedgeLegUnwinds(t *testing.T) {
	f := newFundingFixture(t)
	f.long.SetOrderError(core.SideBuy, apperrors.ErrNetwork)

	err := f.arb.Step(context.Background(), f.now, fx, f.balances)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrNetwork))
	assert.Nil(t, f.arb.Position())

	orders := f.short.Orders()
	require.Len(t, orders, 2)
	assert.Equal(t, core.SideSell, orders[0].Side)
	assert.Equal(t, core.SideBuy, orders[1].Side, "short leg is bought back")
	assert.NotEmpty(t, f.notifier.Messages())
}

func TestFundingArb_RestoresHeldPosition(t *testing.T) {
	f := newFundingFixture(t)
	f.step(t)
	opened := f.arb.Position()

	restored := f.build(&MockLogger{})
	require.NoError(t, restored.Load(context.Background()))
	assert.Equal(t, arbengine.FundingHeld, restored.State())
	require.NotNil(t, restored.Position())
	assert.Equal(t, opened.ID, restored.Position().ID)

	// an open attempt while a position exists does nothing
	f.now = f.now.Add(time.Minute)
	require.NoError(t, restored.Step(context.Background(), f.now, fx, f.balances))
	assert.Len(t, f.short.Orders(), 1)
}
