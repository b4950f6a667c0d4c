package okx

import (
	"context"
	"encoding/json"
	"errors"
	"kimchi_arb/internal/config"
	"kimchi_arb/internal/core"
	apperrors "kimchi_arb/pkg/errors"
	"kimchi_arb/pkg/logging"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExchange(t *testing.T, market string, handler http.HandlerFunc) *OKXExchange {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	e, err := NewOKXExchange("okx_"+market, config.VenueConfig{
		Kind:       "okx",
		Market:     market,
		APIKey:     "key",
		SecretKey:  "secret",
		Passphrase: "pass",
		BaseURL:    server.URL,
	}, logging.NewNopLogger())
	require.NoError(t, err)
	return e
}

func TestNewOKXExchangeRequiresHTTPS(t *testing.T) {
	_, err := NewOKXExchange("okx", config.VenueConfig{BaseURL: "http://example.com"}, logging.NewNopLogger())
	assert.Error(t, err)

	_, err = NewOKXExchange("okx", config.VenueConfig{BaseURL: "http://127.0.0.1:9999"}, logging.NewNopLogger())
	assert.NoError(t, err)
}

func TestOKXSignsRequests(t *testing.T) {
	e := newTestExchange(t, "spot", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.Header.Get("OK-ACCESS-KEY"))
		assert.Equal(t, "pass", r.Header.Get("OK-ACCESS-PASSPHRASE"))
		assert.NotEmpty(t, r.Header.Get("OK-ACCESS-SIGN"))
		assert.Regexp(t, `^\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}\.\d{3}Z$`, r.Header.Get("OK-ACCESS-TIMESTAMP"))
		w.Write([]byte(`{"code":"0","data":[{"details":[{"ccy":"USDT","availBal":"800","cashBal":"1000"},{"ccy":"btc","availBal":"0.5","cashBal":"0","eq":"0.5"}]}]}`))
	})

	bal, err := e.GetBalance(context.Background())
	require.NoError(t, err)
	assert.True(t, bal.Free("USDT").Equal(decimal.NewFromInt(800)))
	assert.True(t, bal["USDT"].Total.Equal(decimal.NewFromInt(1000)))
	assert.True(t, bal["BTC"].Total.Equal(decimal.RequireFromString("0.5")))
}

func TestOKXTicker(t *testing.T) {
	e := newTestExchange(t, "spot", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BTC-USDT", r.URL.Query().Get("instId"))
		w.Write([]byte(`{"code":"0","data":[{"instId":"BTC-USDT","last":"50000","bidPx":"49999","askPx":"50001","ts":"1700000000000"}]}`))
	})

	tk, err := e.GetTicker(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.True(t, tk.Mid().Equal(decimal.NewFromInt(50000)))
}

func TestOKXSwapOrderSizedInContracts(t *testing.T) {
	e := newTestExchange(t, "futures", func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/api/v5/public/instruments":
			w.Write([]byte(`{"code":"0","data":[{"instId":"BTC-USDT-SWAP","ctVal":"0.01"}]}`))
		case r.URL.Path == "/api/v5/trade/order" && r.Method == http.MethodPost:
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "BTC-USDT-SWAP", body["instId"])
			assert.Equal(t, "cross", body["tdMode"])
			assert.Equal(t, "sell", body["side"])
			assert.Equal(t, "5", body["sz"])
			w.Write([]byte(`{"code":"0","data":[{"ordId":"42","sCode":"0"}]}`))
		case r.URL.Path == "/api/v5/trade/order":
			w.Write([]byte(`{"code":"0","data":[{"accFillSz":"5","avgPx":"50010","state":"filled"}]}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	})

	res, err := e.SubmitMarketOrder(context.Background(), "BTC/USDT", core.SideSell, decimal.RequireFromString("0.05"))
	require.NoError(t, err)
	assert.Equal(t, "42", res.OrderID)
	assert.True(t, res.Filled.Equal(decimal.RequireFromString("0.05")), "filled %s", res.Filled)
	assert.True(t, res.AvgPrice.Equal(decimal.NewFromInt(50010)))
}

func TestOKXOrderErrorFromItem(t *testing.T) {
	e := newTestExchange(t, "spot", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"1","msg":"","data":[{"sCode":"51008","sMsg":"Insufficient balance"}]}`))
	})

	_, err := e.SubmitMarketOrder(context.Background(), "BTC/USDT", core.SideBuy, decimal.NewFromInt(1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInsufficientFunds))
}

func TestOKXFundingRate(t *testing.T) {
	e := newTestExchange(t, "futures", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v5/public/funding-rate", r.URL.Path)
		w.Write([]byte(`{"code":"0","data":[{"instId":"BTC-USDT-SWAP","fundingRate":"-0.0002"}]}`))
	})

	rate, err := e.GetFundingRate(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("-0.0002")))
}
