package alert

import (
	"context"
	"encoding/json"
	"errors"
	"kimchi_arb/internal/core"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockAlertChannel struct {
	name     string
	sent     []AlertPayload
	sendFunc func(ctx context.Context, alert AlertPayload) error
	mu       sync.Mutex
}

func (m *mockAlertChannel) Name() string {
	return m.name
}

func (m *mockAlertChannel) Send(ctx context.Context, alert AlertPayload) error {
	m.mu.Lock()
	m.sent = append(m.sent, alert)
	fn := m.sendFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, alert)
	}
	return nil
}

func (m *mockAlertChannel) getSent() []AlertPayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]AlertPayload, len(m.sent))
	copy(res, m.sent)
	return res
}

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, f ...interface{})               {}
func (m *mockLogger) Info(msg string, f ...interface{})                {}
func (m *mockLogger) Warn(msg string, f ...interface{})                {}
func (m *mockLogger) Error(msg string, f ...interface{})               {}
func (m *mockLogger) Fatal(msg string, f ...interface{})               {}
func (m *mockLogger) WithField(k string, v interface{}) core.ILogger   { return m }
func (m *mockLogger) WithFields(f map[string]interface{}) core.ILogger { return m }

func TestAlertManager_Alert(t *testing.T) {
	am := NewAlertManager(&mockLogger{})

	ch1 := &mockAlertChannel{name: "mock1"}
	ch2 := &mockAlertChannel{name: "mock2"}
	am.AddChannel(ch1)
	am.AddChannel(ch2)

	am.Alert(context.Background(), "Daily loss limit", "trading disabled", Critical, map[string]string{"daily": "-31,000 KRW"})
	require.True(t, am.Wait(time.Second))

	sent1 := ch1.getSent()
	require.Len(t, sent1, 1)
	assert.Len(t, ch2.getSent(), 1)
	assert.Equal(t, "Daily loss limit", sent1[0].Title)
	assert.Equal(t, Critical, sent1[0].Level)
	assert.Equal(t, "-31,000 KRW", sent1[0].Fields["daily"])
}

func TestAlertManager_NotifySwallowsFailures(t *testing.T) {
	am := NewAlertManager(&mockLogger{})
	failing := &mockAlertChannel{name: "failing", sendFunc: func(ctx context.Context, a AlertPayload) error {
		return errors.New("telegram down")
	}}
	panicking := &mockAlertChannel{name: "panicking", sendFunc: func(ctx context.Context, a AlertPayload) error {
		panic("bad channel")
	}}
	ok := &mockAlertChannel{name: "ok"}
	am.AddChannel(failing)
	am.AddChannel(panicking)
	am.AddChannel(ok)

	// a cancelled tick context must not cancel delivery
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	am.Notify(ctx, "engine started")
	require.True(t, am.Wait(time.Second))

	sent := ok.getSent()
	require.Len(t, sent, 1)
	assert.Equal(t, "engine started", sent[0].Message)
	assert.Equal(t, Info, sent[0].Level)
}

func TestAlertManager_DoesNotBlockCaller(t *testing.T) {
	am := NewAlertManager(&mockLogger{})
	am.SetSendTimeout(50 * time.Millisecond)
	release := make(chan struct{})
	am.AddChannel(&mockAlertChannel{name: "slow", sendFunc: func(ctx context.Context, a AlertPayload) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return ctx.Err()
	}})

	start := time.Now()
	am.Notify(context.Background(), "hello")
	assert.Less(t, time.Since(start), 20*time.Millisecond)
	close(release)
	assert.True(t, am.Wait(time.Second))
}

func TestTelegramChannel_Send(t *testing.T) {
	var gotPath string
	var body map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&body)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	ch := NewTelegramChannelWithURL(server.URL, "TOKEN", "42")
	err := ch.Send(context.Background(), AlertPayload{Level: Warning, Title: "Breaker open", Message: "upbit disabled", Fields: map[string]string{"b": "2", "a": "1"}})
	require.NoError(t, err)

	assert.Equal(t, "/botTOKEN/sendMessage", gotPath)
	assert.Equal(t, "42", body["chat_id"])
	assert.Equal(t, "⚠️ [WARNING] Breaker open\n\nupbit disabled\n\n- a: 1\n- b: 2", body["text"])
}

func TestTelegramChannel_PlainNotify(t *testing.T) {
	assert.Equal(t, "hello", formatTelegram(AlertPayload{Level: Info, Message: "hello"}))

	// unconfigured channel is a no-op
	assert.NoError(t, NewTelegramChannel("", "").Send(context.Background(), AlertPayload{}))
}

func TestSlackChannel_Send(t *testing.T) {
	var body map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ch := NewSlackChannel(server.URL)
	require.NoError(t, ch.Send(context.Background(), AlertPayload{Level: Error, Title: "Unhedged", Message: "cross leg failed", Timestamp: time.Now()}))

	attachments := body["attachments"].([]interface{})
	first := attachments[0].(map[string]interface{})
	assert.Equal(t, "#ff0000", first["color"])
	assert.Equal(t, "[ERROR] Unhedged", first["pretext"])
}

func TestFormatKRW(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "0 KRW"},
		{"999", "999 KRW"},
		{"1000", "1,000 KRW"},
		{"-31000", "-31,000 KRW"},
		{"68800000.4", "68,800,000 KRW"},
		{"123456", "123,456 KRW"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatKRW(decimal.RequireFromString(tt.in)), tt.in)
	}
}

func TestFormatReports(t *testing.T) {
	rec := core.TradeRecord{
		Layer:      core.LayerSpread,
		Symbol:     "BTC/KRW",
		BuyVenue:   "binance",
		SellVenue:  "upbit",
		Tier:       "base",
		PremiumPct: decimal.NewFromFloat(1.926),
		Amount:     decimal.NewFromFloat(0.01),
		Notional:   decimal.NewFromInt(688_000),
		NetPnL:     decimal.NewFromInt(12_345),
		Fee:        decimal.NewFromInt(600),
		DryRun:     true,
	}
	text := FormatTrade(rec)
	assert.Contains(t, text, "dry-run")
	assert.Contains(t, text, "premium 1.93%")
	assert.Contains(t, text, "net 12,345 KRW")

	daily := FormatDailyReport("2024-05-01", core.PnLStats{RealizedPnL: decimal.NewFromInt(-31_000), Trades: 4},
		map[core.Layer]decimal.Decimal{core.LayerCross: decimal.NewFromInt(-31_000)})
	assert.Contains(t, daily, "realized -31,000 KRW")
	assert.Contains(t, daily, "- cross: -31,000 KRW")
	assert.NotContains(t, daily, "spread")

	weekly := FormatWeeklyReport("2024-05-01", "2024-05-07", core.PnLStats{Trades: 9})
	assert.Contains(t, weekly, "trades 9")
}
