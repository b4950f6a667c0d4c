package storage

import (
	"context"
	"errors"
	"kimchi_arb/internal/core"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) (*SQLiteStore, string) {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "state.db")
	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, dbPath
}

func TestSQLiteStore_RiskStateSurvivesReopen(t *testing.T) {
	store, dbPath := createTestStore(t)
	ctx := context.Background()

	loaded, err := store.LoadRiskState(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded, "empty database has no ledger")

	st := core.NewRiskState()
	st.Daily.Add(decimal.NewFromInt(-31000), decimal.NewFromInt(120))
	st.LayerDailyPnL[core.LayerSpread] = decimal.NewFromInt(-31000)
	st.LayerDisabled[core.LayerCross] = true
	st.TradingEnabled = false
	st.DisabledReason = "daily loss"
	st.LastRolloverDate = "2024-03-01"
	require.NoError(t, store.SaveRiskState(ctx, st))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer reopened.Close()

	loaded, err = reopened.LoadRiskState(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.False(t, loaded.TradingEnabled)
	assert.Equal(t, "2024-03-01", loaded.LastRolloverDate)
	assert.True(t, loaded.Daily.RealizedPnL.Equal(decimal.NewFromInt(-31000)))
	assert.Equal(t, int64(1), loaded.Daily.Trades)
	assert.True(t, loaded.LayerDisabled[core.LayerCross])
}

func TestSQLiteStore_FundingSlot(t *testing.T) {
	store, _ := createTestStore(t)
	ctx := context.Background()

	pos := &core.FundingPosition{
		ID:         "f-1",
		ShortVenue: "bybit_futures",
		LongVenue:  "binance_futures",
		Symbol:     "BTC/USDT",
		Amount:     decimal.RequireFromString("0.015"),
		OpenSpread: decimal.RequireFromString("0.0006"),
		OpenTime:   time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
	}
	require.NoError(t, store.SaveFundingPosition(ctx, pos))

	loaded, err := store.LoadFundingPosition(ctx)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "bybit_futures", loaded.ShortVenue)
	assert.True(t, loaded.Amount.Equal(pos.Amount))
	assert.True(t, loaded.OpenTime.Equal(pos.OpenTime))

	require.NoError(t, store.SaveFundingPosition(ctx, nil))
	loaded, err = store.LoadFundingPosition(ctx)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestSQLiteStore_ChecksumValidation(t *testing.T) {
	store, _ := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveRiskState(ctx, core.NewRiskState()))

	_, err := store.db.Exec(`UPDATE state SET data = ? WHERE key = ?`, `{"trading_enabled":false}`, keyRiskState)
	require.NoError(t, err)

	_, err = store.LoadRiskState(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrChecksumMismatch))
}

func TestSQLiteStore_WALMode(t *testing.T) {
	store, _ := createTestStore(t)

	var journalMode string
	require.NoError(t, store.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode))
	assert.Equal(t, "wal", journalMode)
}

func TestMemoryStore_CopiesState(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	st := core.NewRiskState()
	require.NoError(t, store.SaveRiskState(ctx, st))
	st.LayerDisabled[core.LayerSpread] = true

	loaded, err := store.LoadRiskState(ctx)
	require.NoError(t, err)
	assert.False(t, loaded.LayerDisabled[core.LayerSpread])
	assert.Equal(t, 1, store.RiskSaves())

	pos, err := store.LoadFundingPosition(ctx)
	require.NoError(t, err)
	assert.Nil(t, pos)
}
