// Package okx provides the OKX v5 venue adapter
package okx

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"kimchi_arb/internal/config"
	"kimchi_arb/internal/core"
	"kimchi_arb/internal/exchange/base"
	apperrors "kimchi_arb/pkg/errors"
	"kimchi_arb/pkg/retry"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const defaultOKXURL = "https://www.okx.com"

// OKXExchange implements core.IVenue for OKX spot or USDT swaps
type OKXExchange struct {
	*base.BaseAdapter
	baseURL string
	swap    bool

	// contract value per instrument, swaps are sized in contracts
	ctVal map[string]decimal.Decimal
	mu    sync.RWMutex
}

// NewOKXExchange creates a new OKX venue
func NewOKXExchange(name string, cfg config.VenueConfig, logger core.ILogger) (*OKXExchange, error) {
	if cfg.BaseURL != "" && !strings.HasPrefix(cfg.BaseURL, "https://") {
		// Allow http for local testing
		if !strings.Contains(cfg.BaseURL, "127.0.0.1") && !strings.Contains(cfg.BaseURL, "localhost") {
			return nil, fmt.Errorf("okx base URL must start with https://: %s", cfg.BaseURL)
		}
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOKXURL
	}

	b := base.NewBaseAdapter(name, cfg, logger)
	e := &OKXExchange{
		BaseAdapter: b,
		baseURL:     baseURL,
		swap:        cfg.IsFutures(),
		ctVal:       make(map[string]decimal.Decimal),
	}

	b.SetSignRequest(e.SignRequest)
	b.SetParseError(e.parseError)

	return e, nil
}

// SignRequest adds authentication headers to the request
func (e *OKXExchange) SignRequest(req *http.Request, body []byte) error {
	// Timestamp: ISO 8601, e.g. 2020-12-08T09:08:57.715Z
	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
	path := req.URL.Path
	if req.URL.RawQuery != "" {
		path += "?" + req.URL.RawQuery
	}

	// message = timestamp + method + requestPath + body
	message := timestamp + req.Method + path + string(body)

	mac := hmac.New(sha256.New, []byte(e.Config.SecretKey.Reveal()))
	mac.Write([]byte(message))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	req.Header.Set("OK-ACCESS-KEY", e.Config.APIKey.Reveal())
	req.Header.Set("OK-ACCESS-SIGN", signature)
	req.Header.Set("OK-ACCESS-TIMESTAMP", timestamp)
	req.Header.Set("OK-ACCESS-PASSPHRASE", e.Config.Passphrase.Reveal())

	return nil
}

func (e *OKXExchange) parseError(body []byte) error {
	var errResp struct {
		Code string `json:"code"`
		Msg  string `json:"msg"`
		Data []struct {
			SCode string `json:"sCode"`
			SMsg  string `json:"sMsg"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil {
		return nil
	}

	code, msg := errResp.Code, errResp.Msg
	// Order endpoints report the cause per item
	if code == "1" && len(errResp.Data) > 0 && errResp.Data[0].SCode != "" {
		code, msg = errResp.Data[0].SCode, errResp.Data[0].SMsg
	}

	// https://www.okx.com/docs-v5/en/#error-code-details
	switch code {
	case "", "0":
		return nil
	case "50004", "50011", "50027":
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidOrderParameter, msg)
	case "50005", "50013":
		return fmt.Errorf("%w: %s", apperrors.ErrAuthenticationFailed, msg)
	case "50014", "50061":
		return apperrors.ErrRateLimitExceeded
	case "51000":
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidOrderParameter, msg)
	case "51008":
		return apperrors.ErrInsufficientFunds
	case "51001":
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidSymbol, msg)
	case "51401", "51603":
		return apperrors.ErrOrderNotFound
	case "51020":
		return apperrors.ErrOrderRejected
	case "50001":
		return apperrors.ErrSystemOverload
	case "50026":
		return apperrors.ErrExchangeMaintenance
	}

	return fmt.Errorf("okx error: %s (%s)", msg, code)
}

func (e *OKXExchange) isTransientError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, apperrors.ErrRateLimitExceeded) ||
		errors.Is(err, apperrors.ErrSystemOverload)
}

// instID converts BTC/USDT to BTC-USDT or BTC-USDT-SWAP
func (e *OKXExchange) instID(symbol string) (string, error) {
	baseAsset, quote, err := core.SplitSymbol(symbol)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrInvalidSymbol, err)
	}
	id := baseAsset + "-" + quote
	if e.swap {
		id += "-SWAP"
	}
	return id, nil
}

type envelope[T any] struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
	Data []T    `json:"data"`
}

func getData[T any](ctx context.Context, e *OKXExchange, path string, params url.Values) ([]T, error) {
	u := e.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	body, err := e.ExecuteRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	var resp envelope[T]
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("okx %s: decode: %w", path, err)
	}
	return resp.Data, nil
}

// GetTicker returns the top of book for a canonical symbol
func (e *OKXExchange) GetTicker(ctx context.Context, symbol string) (*core.Ticker, error) {
	id, err := e.instID(symbol)
	if err != nil {
		return nil, err
	}

	data, err := getData[struct {
		InstID string `json:"instId"`
		Last   string `json:"last"`
		BidPx  string `json:"bidPx"`
		AskPx  string `json:"askPx"`
		Ts     string `json:"ts"`
	}](ctx, e, "/api/v5/market/ticker", url.Values{"instId": {id}})
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: okx %s", apperrors.ErrNoQuote, id)
	}

	ts, _ := strconv.ParseInt(data[0].Ts, 10, 64)
	return &core.Ticker{
		Venue:     e.Name,
		Symbol:    symbol,
		Bid:       e.ParseDecimal(data[0].BidPx),
		Ask:       e.ParseDecimal(data[0].AskPx),
		Last:      e.ParseDecimal(data[0].Last),
		Timestamp: e.ParseTimestamp(ts),
	}, nil
}

// GetOrderBook returns an order book snapshot. Swap sizes are converted to base units.
func (e *OKXExchange) GetOrderBook(ctx context.Context, symbol string, depth int) (*core.OrderBookSnapshot, error) {
	id, err := e.instID(symbol)
	if err != nil {
		return nil, err
	}
	if depth <= 0 {
		depth = 20
	}

	data, err := getData[struct {
		Bids [][]string `json:"bids"`
		Asks [][]string `json:"asks"`
		Ts   string     `json:"ts"`
	}](ctx, e, "/api/v5/market/books", url.Values{"instId": {id}, "sz": {strconv.Itoa(depth)}})
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: okx %s", apperrors.ErrEmptyBook, id)
	}

	bids := e.ParseLevels(data[0].Bids)
	asks := e.ParseLevels(data[0].Asks)
	if e.swap {
		ct, err := e.contractValue(ctx, id)
		if err != nil {
			return nil, err
		}
		for i := range bids {
			bids[i].Size = bids[i].Size.Mul(ct)
		}
		for i := range asks {
			asks[i].Size = asks[i].Size.Mul(ct)
		}
	}

	ts, _ := strconv.ParseInt(data[0].Ts, 10, 64)
	return &core.OrderBookSnapshot{
		Venue:     e.Name,
		Symbol:    symbol,
		Bids:      bids,
		Asks:      asks,
		Timestamp: e.ParseTimestamp(ts),
	}, nil
}

// GetBalance returns the trading account balances
func (e *OKXExchange) GetBalance(ctx context.Context) (core.Balances, error) {
	data, err := getData[struct {
		Details []struct {
			Ccy      string `json:"ccy"`
			AvailBal string `json:"availBal"`
			CashBal  string `json:"cashBal"`
			Eq       string `json:"eq"`
		} `json:"details"`
	}](ctx, e, "/api/v5/account/balance", nil)
	if err != nil {
		return nil, err
	}

	balances := make(core.Balances)
	for _, acct := range data {
		for _, d := range acct.Details {
			total := e.ParseDecimal(d.CashBal)
			if total.IsZero() {
				total = e.ParseDecimal(d.Eq)
			}
			balances[strings.ToUpper(d.Ccy)] = core.Balance{
				Free:  e.ParseDecimal(d.AvailBal),
				Total: total,
			}
		}
	}
	return balances, nil
}

// SubmitMarketOrder places a market order sized in base currency and reports the fill
func (e *OKXExchange) SubmitMarketOrder(ctx context.Context, symbol string, side core.Side, amount decimal.Decimal) (*core.OrderResult, error) {
	id, err := e.instID(symbol)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount %s", apperrors.ErrInvalidOrderParameter, amount)
	}

	size := amount
	ct := decimal.NewFromInt(1)
	if e.swap {
		if ct, err = e.contractValue(ctx, id); err != nil {
			return nil, err
		}
		size = amount.Div(ct).Truncate(2)
		if !size.IsPositive() {
			return nil, fmt.Errorf("%w: %s below one contract", apperrors.ErrInvalidOrderParameter, amount)
		}
	}

	req := map[string]string{
		"instId":  id,
		"side":    strings.ToLower(string(side)),
		"ordType": "market",
		"sz":      size.String(),
		"clOrdId": strings.ReplaceAll(uuid.NewString(), "-", ""),
	}
	if e.swap {
		req["tdMode"] = "cross"
	} else {
		req["tdMode"] = "cash"
		req["tgtCcy"] = "base_ccy"
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	var body []byte
	err = retry.Do(ctx, retry.DefaultPolicy, e.isTransientError, func() error {
		var err error
		body, err = e.ExecuteRequest(ctx, http.MethodPost, e.baseURL+"/api/v5/trade/order", payload)
		return err
	})
	if err != nil {
		return nil, err
	}

	var placed envelope[struct {
		OrdID string `json:"ordId"`
	}]
	if err := json.Unmarshal(body, &placed); err != nil {
		return nil, fmt.Errorf("okx order: decode: %w", err)
	}
	if len(placed.Data) == 0 {
		return nil, fmt.Errorf("okx order: empty response")
	}

	result := &core.OrderResult{
		Venue:     e.Name,
		Symbol:    symbol,
		Side:      side,
		OrderID:   placed.Data[0].OrdID,
		Requested: amount,
	}

	fills, err := getData[struct {
		AccFillSz string `json:"accFillSz"`
		AvgPx     string `json:"avgPx"`
		State     string `json:"state"`
	}](ctx, e, "/api/v5/trade/order", url.Values{"instId": {id}, "ordId": {result.OrderID}})
	if err != nil || len(fills) == 0 {
		e.Logger.Warn("Failed to query market order fill", "order_id", result.OrderID, "error", err)
		result.Filled = size.Mul(ct)
		return result, nil
	}

	result.Filled = e.ParseDecimal(fills[0].AccFillSz).Mul(ct)
	result.AvgPrice = e.ParseDecimal(fills[0].AvgPx)
	return result, nil
}

// GetFundingRate returns the current swap funding rate
func (e *OKXExchange) GetFundingRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if !e.swap {
		return decimal.Zero, fmt.Errorf("%w: funding rate on spot venue %s", apperrors.ErrNotSupported, e.Name)
	}
	id, err := e.instID(symbol)
	if err != nil {
		return decimal.Zero, err
	}

	data, err := getData[struct {
		FundingRate string `json:"fundingRate"`
	}](ctx, e, "/api/v5/public/funding-rate", url.Values{"instId": {id}})
	if err != nil {
		return decimal.Zero, err
	}
	if len(data) == 0 || data[0].FundingRate == "" {
		return decimal.Zero, fmt.Errorf("%w: okx funding rate for %s", apperrors.ErrNoQuote, id)
	}
	return e.ParseDecimal(data[0].FundingRate), nil
}

func (e *OKXExchange) contractValue(ctx context.Context, id string) (decimal.Decimal, error) {
	e.mu.RLock()
	ct, ok := e.ctVal[id]
	e.mu.RUnlock()
	if ok {
		return ct, nil
	}

	data, err := getData[struct {
		InstID string `json:"instId"`
		CtVal  string `json:"ctVal"`
	}](ctx, e, "/api/v5/public/instruments", url.Values{"instType": {"SWAP"}, "instId": {id}})
	if err != nil {
		return decimal.Zero, err
	}
	if len(data) == 0 {
		return decimal.Zero, fmt.Errorf("%w: okx instrument %s", apperrors.ErrInvalidSymbol, id)
	}
	ct = e.ParseDecimal(data[0].CtVal)
	if !ct.IsPositive() {
		return decimal.Zero, fmt.Errorf("okx instrument %s: invalid ctVal %q", id, data[0].CtVal)
	}

	e.mu.Lock()
	e.ctVal[id] = ct
	e.mu.Unlock()
	return ct, nil
}
