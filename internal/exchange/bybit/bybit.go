// Package bybit provides the Bybit v5 venue adapter
package bybit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"kimchi_arb/internal/config"
	"kimchi_arb/internal/core"
	"kimchi_arb/internal/exchange/base"
	apperrors "kimchi_arb/pkg/errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	defaultBybitURL = "https://api.bybit.com"
	recvWindow      = "5000"
)

// BybitExchange implements core.IVenue for Bybit spot or linear perpetuals
type BybitExchange struct {
	*base.BaseAdapter
	baseURL  string
	category string
}

// NewBybitExchange creates a new Bybit venue
func NewBybitExchange(name string, cfg config.VenueConfig, logger core.ILogger) *BybitExchange {
	b := base.NewBaseAdapter(name, cfg, logger)

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBybitURL
	}
	category := "spot"
	if cfg.IsFutures() {
		category = "linear"
	}

	e := &BybitExchange{
		BaseAdapter: b,
		baseURL:     baseURL,
		category:    category,
	}

	b.SetSignRequest(e.SignRequest)
	b.SetParseError(e.parseError)

	return e
}

// SignRequest adds authentication headers to the request.
// GET requests sign the query string, POST requests sign the JSON body.
func (e *BybitExchange) SignRequest(req *http.Request, body []byte) error {
	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)

	params := string(body)
	if req.Method == http.MethodGet {
		params = req.URL.RawQuery
	}

	// signature = HMAC_SHA256(timestamp + key + recv_window + params, secret)
	payload := timestamp + e.Config.APIKey.Reveal() + recvWindow + params

	mac := hmac.New(sha256.New, []byte(e.Config.SecretKey.Reveal()))
	mac.Write([]byte(payload))
	signature := hex.EncodeToString(mac.Sum(nil))

	req.Header.Set("X-BAPI-API-KEY", e.Config.APIKey.Reveal())
	req.Header.Set("X-BAPI-SIGN", signature)
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", recvWindow)

	return nil
}

func (e *BybitExchange) parseError(body []byte) error {
	var errResp struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil {
		return nil
	}

	// https://bybit-exchange.github.io/docs/v5/error
	switch errResp.RetCode {
	case 0:
		return nil
	case 10001, 10002: // Params error, invalid request
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidOrderParameter, errResp.RetMsg)
	case 10003, 10004: // API key invalid, error sign
		return fmt.Errorf("%w: %s", apperrors.ErrAuthenticationFailed, errResp.RetMsg)
	case 10006: // Too many visits
		return apperrors.ErrRateLimitExceeded
	case 10016: // Server error
		return fmt.Errorf("%w: %s", apperrors.ErrVenueUnavailable, errResp.RetMsg)
	case 110007, 170131: // Insufficient balance (linear, spot)
		return apperrors.ErrInsufficientFunds
	case 110001, 170213: // Order not found
		return apperrors.ErrOrderNotFound
	case 170193, 170194:
		return apperrors.ErrOrderRejected
	case 130006, 170140: // Order value below minimum
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidOrderParameter, errResp.RetMsg)
	}

	return fmt.Errorf("bybit error: %s (%d)", errResp.RetMsg, errResp.RetCode)
}

// venueSymbol converts BTC/USDT to BTCUSDT
func venueSymbol(symbol string) (string, error) {
	baseAsset, quote, err := core.SplitSymbol(symbol)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrInvalidSymbol, err)
	}
	return baseAsset + quote, nil
}

func (e *BybitExchange) get(ctx context.Context, path string, params url.Values, out interface{}) error {
	u := e.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	body, err := e.ExecuteRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("bybit %s: decode: %w", path, err)
	}
	return nil
}

type tickerItem struct {
	Symbol      string `json:"symbol"`
	Bid1Price   string `json:"bid1Price"`
	Ask1Price   string `json:"ask1Price"`
	LastPrice   string `json:"lastPrice"`
	MarkPrice   string `json:"markPrice"`
	FundingRate string `json:"fundingRate"`
}

func (e *BybitExchange) fetchTicker(ctx context.Context, symbol string) (*tickerItem, error) {
	vs, err := venueSymbol(symbol)
	if err != nil {
		return nil, err
	}

	var response struct {
		Result struct {
			List []tickerItem `json:"list"`
		} `json:"result"`
	}
	params := url.Values{"category": {e.category}, "symbol": {vs}}
	if err := e.get(ctx, "/v5/market/tickers", params, &response); err != nil {
		return nil, err
	}
	if len(response.Result.List) == 0 {
		return nil, fmt.Errorf("%w: bybit %s", apperrors.ErrNoQuote, vs)
	}
	return &response.Result.List[0], nil
}

// GetTicker returns the top of book for a canonical symbol
func (e *BybitExchange) GetTicker(ctx context.Context, symbol string) (*core.Ticker, error) {
	item, err := e.fetchTicker(ctx, symbol)
	if err != nil {
		return nil, err
	}

	t := &core.Ticker{
		Venue:     e.Name,
		Symbol:    symbol,
		Bid:       e.ParseDecimal(item.Bid1Price),
		Ask:       e.ParseDecimal(item.Ask1Price),
		Last:      e.ParseDecimal(item.LastPrice),
		Timestamp: time.Now(),
	}
	if e.category == "linear" && item.MarkPrice != "" {
		t.Last = e.ParseDecimal(item.MarkPrice)
	}
	return t, nil
}

// GetOrderBook returns an order book snapshot
func (e *BybitExchange) GetOrderBook(ctx context.Context, symbol string, depth int) (*core.OrderBookSnapshot, error) {
	vs, err := venueSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if depth <= 0 {
		depth = 25
	}

	var response struct {
		Result struct {
			Bids [][]string `json:"b"`
			Asks [][]string `json:"a"`
			Ts   int64      `json:"ts"`
		} `json:"result"`
	}
	params := url.Values{"category": {e.category}, "symbol": {vs}, "limit": {strconv.Itoa(depth)}}
	if err := e.get(ctx, "/v5/market/orderbook", params, &response); err != nil {
		return nil, err
	}

	return &core.OrderBookSnapshot{
		Venue:     e.Name,
		Symbol:    symbol,
		Bids:      e.ParseLevels(response.Result.Bids),
		Asks:      e.ParseLevels(response.Result.Asks),
		Timestamp: e.ParseTimestamp(response.Result.Ts),
	}, nil
}

// GetBalance returns the unified account balances
func (e *BybitExchange) GetBalance(ctx context.Context) (core.Balances, error) {
	var response struct {
		Result struct {
			List []struct {
				Coin []struct {
					Coin                string `json:"coin"`
					Equity              string `json:"equity"`
					WalletBalance       string `json:"walletBalance"`
					Locked              string `json:"locked"`
					AvailableToWithdraw string `json:"availableToWithdraw"`
				} `json:"coin"`
			} `json:"list"`
		} `json:"result"`
	}
	if err := e.get(ctx, "/v5/account/wallet-balance", url.Values{"accountType": {"UNIFIED"}}, &response); err != nil {
		return nil, err
	}

	balances := make(core.Balances)
	for _, account := range response.Result.List {
		for _, c := range account.Coin {
			total := e.ParseDecimal(c.WalletBalance)
			free := total.Sub(e.ParseDecimal(c.Locked))
			if c.AvailableToWithdraw != "" {
				free = e.ParseDecimal(c.AvailableToWithdraw)
			}
			balances[strings.ToUpper(c.Coin)] = core.Balance{Free: free, Total: total}
		}
	}
	return balances, nil
}

// SubmitMarketOrder places a market order sized in base currency and reports the fill
func (e *BybitExchange) SubmitMarketOrder(ctx context.Context, symbol string, side core.Side, amount decimal.Decimal) (*core.OrderResult, error) {
	vs, err := venueSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount %s", apperrors.ErrInvalidOrderParameter, amount)
	}

	bybitSide := "Buy"
	if side == core.SideSell {
		bybitSide = "Sell"
	}
	linkID := uuid.NewString()

	req := map[string]interface{}{
		"category":    e.category,
		"symbol":      vs,
		"side":        bybitSide,
		"orderType":   "Market",
		"qty":         amount.String(),
		"orderLinkId": linkID,
	}
	if e.category == "spot" {
		req["marketUnit"] = "baseCoin"
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	body, err := e.ExecuteRequest(ctx, http.MethodPost, e.baseURL+"/v5/order/create", payload)
	if err != nil {
		return nil, err
	}

	var created struct {
		Result struct {
			OrderID string `json:"orderId"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &created); err != nil {
		return nil, fmt.Errorf("bybit order create: decode: %w", err)
	}

	result := &core.OrderResult{
		Venue:     e.Name,
		Symbol:    symbol,
		Side:      side,
		OrderID:   created.Result.OrderID,
		Requested: amount,
	}

	filled, avg, err := e.queryFill(ctx, vs, created.Result.OrderID)
	if err != nil {
		// The order was accepted; report it as filled at the requested size
		e.Logger.Warn("Failed to query market order fill", "order_id", created.Result.OrderID, "error", err)
		result.Filled = amount
		return result, nil
	}
	result.Filled = filled
	result.AvgPrice = avg
	return result, nil
}

func (e *BybitExchange) queryFill(ctx context.Context, vs, orderID string) (decimal.Decimal, decimal.Decimal, error) {
	var response struct {
		Result struct {
			List []struct {
				OrderID     string `json:"orderId"`
				OrderStatus string `json:"orderStatus"`
				CumExecQty  string `json:"cumExecQty"`
				AvgPrice    string `json:"avgPrice"`
			} `json:"list"`
		} `json:"result"`
	}
	params := url.Values{"category": {e.category}, "symbol": {vs}, "orderId": {orderID}}
	if err := e.get(ctx, "/v5/order/realtime", params, &response); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if len(response.Result.List) == 0 {
		return decimal.Zero, decimal.Zero, apperrors.ErrOrderNotFound
	}

	raw := response.Result.List[0]
	return e.ParseDecimal(raw.CumExecQty), e.ParseDecimal(raw.AvgPrice), nil
}

// GetFundingRate returns the current funding rate of a linear perpetual
func (e *BybitExchange) GetFundingRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if e.category != "linear" {
		return decimal.Zero, fmt.Errorf("%w: funding rate on spot venue %s", apperrors.ErrNotSupported, e.Name)
	}
	item, err := e.fetchTicker(ctx, symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if item.FundingRate == "" {
		return decimal.Zero, fmt.Errorf("%w: bybit funding rate for %s", apperrors.ErrNoQuote, symbol)
	}
	return e.ParseDecimal(item.FundingRate), nil
}
