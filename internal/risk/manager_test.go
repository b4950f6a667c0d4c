package risk

import (
	"context"
	"errors"
	"kimchi_arb/internal/config"
	"kimchi_arb/internal/core"
	"kimchi_arb/internal/mock"
	"kimchi_arb/internal/storage"
	apperrors "kimchi_arb/pkg/errors"
	"kimchi_arb/pkg/logging"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRiskConfig() config.RiskConfig {
	return config.RiskConfig{
		DailyLossRatio:   0.03,
		LayerDrawdownKRW: 50_000,
		BreakerThreshold: 3,
		BreakerCooldown:  5 * time.Minute,
	}
}

type managerFixture struct {
	manager  *Manager
	store    *storage.MemoryStore
	valuer   *mock.MockEquityValuer
	notifier *mock.MockNotifier
}

func newManagerFixture(t *testing.T, cfg config.RiskConfig) *managerFixture {
	t.Helper()
	f := &managerFixture{
		store:    storage.NewMemoryStore(),
		valuer:   mock.NewMockEquityValuer(decimal.NewFromInt(1_000_000)),
		notifier: mock.NewMockNotifier(),
	}
	f.manager = NewManager(cfg, f.store, f.valuer, f.notifier, logging.NewNopLogger())
	require.NoError(t, f.manager.Load(context.Background()))
	return f
}

func krw(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

var day1 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func TestManager_DailyLossBreachIsSticky(t *testing.T) {
	f := newManagerFixture(t, testRiskConfig())
	ctx := context.Background()
	_, err := f.manager.CheckRollover(ctx, day1)
	require.NoError(t, err)

	// -31,000 against a limit of -1,000,000 * 0.03 = -30,000
	require.NoError(t, f.manager.RecordTrade(ctx, core.LayerSpread, krw(-31_000), krw(0)))

	assert.False(t, f.manager.TradingEnabled())
	for _, layer := range core.TradingLayers {
		err := f.manager.CanTrade(layer)
		require.Error(t, err, layer)
		assert.True(t, errors.Is(err, apperrors.ErrRiskLimit))
	}
	msgs := f.notifier.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Trading disabled")

	// a later profitable trade does not lift the flag
	require.NoError(t, f.manager.RecordTrade(ctx, core.LayerCross, krw(40_000), krw(0)))
	assert.False(t, f.manager.TradingEnabled())

	// neither do more ticks on the same date
	rolled, err := f.manager.CheckRollover(ctx, day1.Add(10*time.Hour))
	require.NoError(t, err)
	assert.False(t, rolled)
	assert.False(t, f.manager.TradingEnabled())

	persisted, err := f.store.LoadRiskState(ctx)
	require.NoError(t, err)
	assert.False(t, persisted.TradingEnabled)

	rolled, err = f.manager.CheckRollover(ctx, day1.Add(24*time.Hour))
	require.NoError(t, err)
	assert.True(t, rolled)
	assert.True(t, f.manager.TradingEnabled())
	assert.NoError(t, f.manager.CanTrade(core.LayerSpread))
}

func TestManager_LossAtLimitDoesNotBreach(t *testing.T) {
	f := newManagerFixture(t, testRiskConfig())
	require.NoError(t, f.manager.RecordTrade(context.Background(), core.LayerSpread, krw(-30_000), krw(0)))
	assert.True(t, f.manager.TradingEnabled())
	assert.Empty(t, f.notifier.Messages())
}

func TestManager_LayerDrawdownIsIndependent(t *testing.T) {
	f := newManagerFixture(t, testRiskConfig())
	f.valuer.Set(krw(100_000_000), nil)
	ctx := context.Background()

	require.NoError(t, f.manager.RecordTrade(ctx, core.LayerCross, krw(-30_000), krw(0)))
	assert.NoError(t, f.manager.CanTrade(core.LayerCross))

	require.NoError(t, f.manager.RecordTrade(ctx, core.LayerCross, krw(-25_000), krw(0)))
	assert.Error(t, f.manager.CanTrade(core.LayerCross))
	assert.NoError(t, f.manager.CanTrade(core.LayerSpread))
	assert.True(t, f.manager.TradingEnabled())

	// the flag survives a recovery within the day
	require.NoError(t, f.manager.RecordTrade(ctx, core.LayerCross, krw(80_000), krw(0)))
	assert.Error(t, f.manager.CanTrade(core.LayerCross))
}

func TestManager_RecordTradeUpdatesCounters(t *testing.T) {
	f := newManagerFixture(t, testRiskConfig())
	ctx := context.Background()

	require.NoError(t, f.manager.RecordTrade(ctx, core.LayerSpread, krw(1_200), krw(300)))
	require.NoError(t, f.manager.RecordTrade(ctx, core.LayerCross, krw(-200), krw(100)))

	st := f.manager.Snapshot()
	for _, s := range []core.PnLStats{st.AllTime, st.Daily, st.Weekly} {
		assert.True(t, s.RealizedPnL.Equal(krw(1_000)))
		assert.True(t, s.Fees.Equal(krw(400)))
		assert.Equal(t, int64(2), s.Trades)
	}
	assert.True(t, st.LayerDailyPnL[core.LayerSpread].Equal(krw(1_200)))
	assert.True(t, st.LayerDailyPnL[core.LayerCross].Equal(krw(-200)))
	assert.Equal(t, 2, f.store.RiskSaves())
}

func TestManager_DailyRolloverOncePerDate(t *testing.T) {
	f := newManagerFixture(t, testRiskConfig())
	ctx := context.Background()

	rolled, err := f.manager.CheckRollover(ctx, day1)
	require.NoError(t, err)
	assert.False(t, rolled, "first call only stamps the date")

	require.NoError(t, f.manager.RecordTrade(ctx, core.LayerSpread, krw(5_000), krw(50)))
	require.NoError(t, f.manager.DisableLayer(ctx, core.LayerCross, "unhedged leg"))

	next := day1.Add(15*time.Hour + time.Minute) // 00:01 UTC next day
	rolled, err = f.manager.CheckRollover(ctx, next)
	require.NoError(t, err)
	assert.True(t, rolled)

	st := f.manager.Snapshot()
	assert.True(t, st.Daily.RealizedPnL.IsZero())
	assert.Equal(t, int64(0), st.Daily.Trades)
	assert.Empty(t, st.LayerDisabled)
	assert.True(t, st.AllTime.RealizedPnL.Equal(krw(5_000)))
	assert.True(t, st.Weekly.RealizedPnL.Equal(krw(5_000)))
	assert.Equal(t, "2024-03-02", st.LastRolloverDate)

	msgs := f.notifier.Messages()
	require.NotEmpty(t, msgs)
	assert.Contains(t, msgs[len(msgs)-1], "Daily report 2024-03-01")

	for i := 0; i < 5; i++ {
		rolled, err = f.manager.CheckRollover(ctx, next.Add(time.Duration(i)*time.Hour))
		require.NoError(t, err)
		assert.False(t, rolled)
	}
}

func TestManager_WeeklyRollover(t *testing.T) {
	cfg := testRiskConfig()
	cfg.WeekStart = "2024-03-01"
	f := newManagerFixture(t, cfg)
	ctx := context.Background()

	_, err := f.manager.CheckRollover(ctx, day1)
	require.NoError(t, err)
	require.NoError(t, f.manager.RecordTrade(ctx, core.LayerSpread, krw(7_000), krw(0)))

	for d := 1; d < 7; d++ {
		_, err := f.manager.CheckRollover(ctx, day1.AddDate(0, 0, d))
		require.NoError(t, err)
	}
	assert.True(t, f.manager.Snapshot().Weekly.RealizedPnL.Equal(krw(7_000)))

	_, err = f.manager.CheckRollover(ctx, day1.AddDate(0, 0, 7))
	require.NoError(t, err)
	st := f.manager.Snapshot()
	assert.True(t, st.Weekly.RealizedPnL.IsZero())
	assert.Equal(t, "2024-03-08", st.WeekStart)

	msgs := f.notifier.Messages()
	assert.Contains(t, msgs[len(msgs)-1], "Weekly report 2024-03-01")
}

func TestManager_LoadRestoresStickyDisable(t *testing.T) {
	store := storage.NewMemoryStore()
	st := core.NewRiskState()
	st.TradingEnabled = false
	st.DisabledReason = "daily loss"
	st.LastRolloverDate = "2024-03-01"
	require.NoError(t, store.SaveRiskState(context.Background(), st))

	m := NewManager(testRiskConfig(), store, nil, nil, logging.NewNopLogger())
	require.NoError(t, m.Load(context.Background()))
	assert.Error(t, m.CanTrade(core.LayerSpread))

	// restart on a later date rolls over on the first tick
	rolled, err := m.CheckRollover(context.Background(), day1.Add(48*time.Hour))
	require.NoError(t, err)
	assert.True(t, rolled)
	assert.NoError(t, m.CanTrade(core.LayerSpread))
}

func TestManager_EquityFallback(t *testing.T) {
	f := newManagerFixture(t, testRiskConfig())
	ctx := context.Background()

	require.NoError(t, f.manager.RecordTrade(ctx, core.LayerSpread, krw(-1_000), krw(0)))

	f.valuer.Set(decimal.Zero, errors.New("balance fetch failed"))
	require.NoError(t, f.manager.RecordTrade(ctx, core.LayerSpread, krw(-30_000), krw(0)))
	assert.False(t, f.manager.TradingEnabled(), "last good equity of 1,000,000 still applies")
}

type failingStore struct {
	*storage.MemoryStore
}

func (s *failingStore) SaveRiskState(ctx context.Context, state *core.RiskState) error {
	return errors.New("disk full")
}

func TestManager_PersistFailureSurfaces(t *testing.T) {
	m := NewManager(testRiskConfig(), &failingStore{storage.NewMemoryStore()}, nil, nil, logging.NewNopLogger())
	require.NoError(t, m.Load(context.Background()))

	err := m.RecordTrade(context.Background(), core.LayerSpread, krw(100), krw(1))
	require.Error(t, err)
	assert.Error(t, m.HealthCheck())
	assert.Equal(t, int64(1), m.Snapshot().Daily.Trades, "in-memory ledger still updated")
}
