package binance

import (
	"context"
	"errors"
	"kimchi_arb/internal/config"
	"kimchi_arb/internal/core"
	apperrors "kimchi_arb/pkg/errors"
	"kimchi_arb/pkg/logging"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/adshao/go-binance/v2/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExchange(t *testing.T, market string, routes map[string]string) *BinanceExchange {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.Method+" "+r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"code":-1,"msg":"no route"}`))
			return
		}
		if len(body) > 0 && body[0] == '!' {
			w.WriteHeader(http.StatusBadRequest)
			body = body[1:]
		}
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	return NewBinanceExchange("binance_"+market, config.VenueConfig{
		Kind:      "binance",
		Market:    market,
		APIKey:    "key",
		SecretKey: "secret",
		BaseURL:   server.URL,
	}, logging.NewNopLogger())
}

func TestSpotOrderBook(t *testing.T) {
	e := newTestExchange(t, "spot", map[string]string{
		"GET /api/v3/depth": `{"lastUpdateId":1,"bids":[["50000.00","0.50"],["49990.00","1.00"]],"asks":[["50010.00","0.30"]]}`,
	})

	book, err := e.GetOrderBook(context.Background(), "BTC/USDT", 1)
	require.NoError(t, err)
	require.Len(t, book.Bids, 1)
	assert.True(t, book.Bids[0].Price.Equal(decimal.NewFromInt(50000)))
	assert.True(t, book.Asks[0].Size.Equal(decimal.RequireFromString("0.3")))
}

func TestSpotBalanceSkipsEmptyAssets(t *testing.T) {
	e := newTestExchange(t, "spot", map[string]string{
		"GET /api/v3/time":    `{"serverTime":1700000000000}`,
		"GET /api/v3/account": `{"balances":[{"asset":"BTC","free":"0.1","locked":"0.05"},{"asset":"USDT","free":"1000","locked":"0"},{"asset":"DOGE","free":"0","locked":"0"}]}`,
	})

	bal, err := e.GetBalance(context.Background())
	require.NoError(t, err)
	assert.Len(t, bal, 2)
	assert.True(t, bal["BTC"].Total.Equal(decimal.RequireFromString("0.15")))
	assert.True(t, bal.Free("USDT").Equal(decimal.NewFromInt(1000)))
}

func TestSpotMarketOrderFill(t *testing.T) {
	e := newTestExchange(t, "spot", map[string]string{
		"GET /api/v3/time":   `{"serverTime":1700000000000}`,
		"POST /api/v3/order": `{"symbol":"BTCUSDT","orderId":12,"clientOrderId":"ka","transactTime":1700000000000,"price":"0","origQty":"0.01","executedQty":"0.01","cummulativeQuoteQty":"500.5","status":"FILLED","type":"MARKET","side":"BUY","fills":[]}`,
	})

	res, err := e.SubmitMarketOrder(context.Background(), "BTC/USDT", core.SideBuy, decimal.RequireFromString("0.01"))
	require.NoError(t, err)
	assert.Equal(t, "12", res.OrderID)
	assert.True(t, res.Filled.Equal(decimal.RequireFromString("0.01")))
	assert.True(t, res.AvgPrice.Equal(decimal.NewFromFloat(50050)))
}

func TestFuturesOrderRequeriesFill(t *testing.T) {
	e := newTestExchange(t, "futures", map[string]string{
		"GET /fapi/v1/time":   `{"serverTime":1700000000000}`,
		"POST /fapi/v1/order": `{"symbol":"BTCUSDT","orderId":7,"executedQty":"0","status":"NEW","side":"SELL","type":"MARKET"}`,
		"GET /fapi/v1/order":  `{"symbol":"BTCUSDT","orderId":7,"executedQty":"0.02","avgPrice":"50100.0","status":"FILLED","side":"SELL","type":"MARKET"}`,
	})

	res, err := e.SubmitMarketOrder(context.Background(), "BTC/USDT", core.SideSell, decimal.RequireFromString("0.02"))
	require.NoError(t, err)
	assert.Equal(t, "7", res.OrderID)
	assert.True(t, res.Filled.Equal(decimal.RequireFromString("0.02")))
	assert.True(t, res.AvgPrice.Equal(decimal.NewFromInt(50100)))
}

func TestFuturesFundingRate(t *testing.T) {
	e := newTestExchange(t, "futures", map[string]string{
		"GET /fapi/v1/premiumIndex": `{"symbol":"BTCUSDT","markPrice":"50000.1","indexPrice":"50000","lastFundingRate":"0.00030000","nextFundingTime":1700006400000,"time":1700000000000}`,
	})

	rate, err := e.GetFundingRate(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	assert.True(t, rate.Equal(decimal.RequireFromString("0.0003")))

	spot := newTestExchange(t, "spot", nil)
	_, err = spot.GetFundingRate(context.Background(), "BTC/USDT")
	assert.True(t, errors.Is(err, apperrors.ErrNotSupported))
}

func TestFuturesMarginError(t *testing.T) {
	e := newTestExchange(t, "futures", map[string]string{
		"GET /fapi/v1/time":   `{"serverTime":1700000000000}`,
		"POST /fapi/v1/order": `!{"code":-2019,"msg":"Margin is insufficient."}`,
	})

	_, err := e.SubmitMarketOrder(context.Background(), "BTC/USDT", core.SideBuy, decimal.NewFromInt(1))
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrInsufficientFunds))
}

func TestMapError(t *testing.T) {
	tests := []struct {
		code int64
		want error
	}{
		{-2015, apperrors.ErrAuthenticationFailed},
		{-1003, apperrors.ErrRateLimitExceeded},
		{-1121, apperrors.ErrInvalidSymbol},
		{-2013, apperrors.ErrOrderNotFound},
		{-1013, apperrors.ErrInvalidOrderParameter},
		{-1001, apperrors.ErrVenueUnavailable},
	}
	for _, tt := range tests {
		err := mapError(&common.APIError{Code: tt.code, Message: "x"})
		assert.True(t, errors.Is(err, tt.want), "code %d -> %v", tt.code, err)
	}

	assert.True(t, errors.Is(mapError(&common.APIError{Code: -2010, Message: "Account has insufficient balance"}), apperrors.ErrInsufficientFunds))
	assert.True(t, errors.Is(mapError(&common.APIError{Code: -2010, Message: "Market is closed."}), apperrors.ErrOrderRejected))
	assert.Nil(t, mapError(nil))
}

func TestDepthLimit(t *testing.T) {
	assert.Equal(t, 5, depthLimit(1))
	assert.Equal(t, 20, depthLimit(15))
	assert.Equal(t, 1000, depthLimit(5000))
}
