// Package krw provides the Upbit and Bithumb venue adapters. Both venues
// expose the same v1 REST shape and JWT authentication.
package krw

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"kimchi_arb/internal/config"
	"kimchi_arb/internal/core"
	"kimchi_arb/internal/exchange/base"
	apperrors "kimchi_arb/pkg/errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	defaultUpbitURL   = "https://api.upbit.com"
	defaultBithumbURL = "https://api.bithumb.com"
)

// Flavor distinguishes the small differences between the two venues
type Flavor string

const (
	Upbit   Flavor = "upbit"
	Bithumb Flavor = "bithumb"
)

// KRWExchange implements core.IVenue for a KRW-quoted spot venue
type KRWExchange struct {
	*base.BaseAdapter
	flavor  Flavor
	baseURL string
	now     func() time.Time
}

// NewUpbitExchange creates an Upbit venue
func NewUpbitExchange(name string, cfg config.VenueConfig, logger core.ILogger) *KRWExchange {
	return newKRWExchange(Upbit, defaultUpbitURL, name, cfg, logger)
}

// NewBithumbExchange creates a Bithumb venue
func NewBithumbExchange(name string, cfg config.VenueConfig, logger core.ILogger) *KRWExchange {
	return newKRWExchange(Bithumb, defaultBithumbURL, name, cfg, logger)
}

func newKRWExchange(flavor Flavor, defaultURL, name string, cfg config.VenueConfig, logger core.ILogger) *KRWExchange {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultURL
	}

	b := base.NewBaseAdapter(name, cfg, logger)
	e := &KRWExchange{
		BaseAdapter: b,
		flavor:      flavor,
		baseURL:     baseURL,
		now:         time.Now,
	}
	b.SetSignRequest(e.SignRequest)
	b.SetParseError(e.parseError)
	return e
}

func isPrivatePath(path string) bool {
	return path == "/v1/accounts" || strings.HasPrefix(path, "/v1/order")
}

// SignRequest attaches a HS256 bearer token to private requests.
// Parameters are bound to the token through a SHA512 query hash.
func (e *KRWExchange) SignRequest(req *http.Request, body []byte) error {
	if !isPrivatePath(req.URL.Path) {
		return nil
	}

	query := req.URL.RawQuery
	if len(body) > 0 {
		var params map[string]string
		if err := json.Unmarshal(body, &params); err != nil {
			return fmt.Errorf("decode order params: %w", err)
		}
		values := url.Values{}
		for k, v := range params {
			values.Set(k, v)
		}
		query = values.Encode()
	}

	token, err := e.token(query)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return nil
}

func (e *KRWExchange) token(query string) (string, error) {
	claims := jwt.MapClaims{
		"access_key": e.Config.APIKey.Reveal(),
		"nonce":      uuid.NewString(),
	}
	if e.flavor == Bithumb {
		claims["timestamp"] = e.now().UnixMilli()
	}
	if query != "" {
		// the venue hashes the unescaped query string
		raw, err := url.QueryUnescape(query)
		if err != nil {
			raw = query
		}
		sum := sha512.Sum512([]byte(raw))
		claims["query_hash"] = hex.EncodeToString(sum[:])
		claims["query_hash_alg"] = "SHA512"
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(e.Config.SecretKey.Reveal()))
	if err != nil {
		return "", fmt.Errorf("sign jwt: %w", err)
	}
	return signed, nil
}

func (e *KRWExchange) parseError(body []byte) error {
	var errResp struct {
		Error struct {
			Name    json.RawMessage `json:"name"`
			Message string          `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &errResp); err != nil || len(errResp.Error.Name) == 0 {
		return nil
	}
	name := strings.Trim(string(errResp.Error.Name), `"`)
	msg := errResp.Error.Message

	switch {
	case strings.HasPrefix(name, "insufficient_funds"):
		return fmt.Errorf("%w: %s", apperrors.ErrInsufficientFunds, msg)
	case strings.HasPrefix(name, "under_min_total"), name == "validation_error", name == "invalid_volume", name == "invalid_price":
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidOrderParameter, msg)
	case name == "market_does_not_exist", name == "invalid_market":
		return fmt.Errorf("%w: %s", apperrors.ErrInvalidSymbol, msg)
	case name == "order_not_found":
		return apperrors.ErrOrderNotFound
	case name == "too_many_requests":
		return apperrors.ErrRateLimitExceeded
	case name == "jwt_verification", name == "expired_access_key", name == "nonce_used",
		name == "no_authorization_ip", name == "invalid_query_payload", name == "invalid_access_key",
		name == "out_of_scope":
		return fmt.Errorf("%w: %s", apperrors.ErrAuthenticationFailed, msg)
	case strings.Contains(name, "maintenance"):
		return apperrors.ErrExchangeMaintenance
	}
	return fmt.Errorf("%s error: %s (%s)", e.flavor, msg, name)
}

// market converts BTC/KRW to KRW-BTC
func market(symbol string) (string, error) {
	baseAsset, quote, err := core.SplitSymbol(symbol)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrInvalidSymbol, err)
	}
	return quote + "-" + baseAsset, nil
}

func (e *KRWExchange) getJSON(ctx context.Context, path string, params url.Values, out interface{}) error {
	u := e.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	body, err := e.ExecuteRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", e.flavor, path, err)
	}
	return nil
}

type orderbookUnit struct {
	AskPrice json.Number `json:"ask_price"`
	BidPrice json.Number `json:"bid_price"`
	AskSize  json.Number `json:"ask_size"`
	BidSize  json.Number `json:"bid_size"`
}

type orderbook struct {
	Market    string          `json:"market"`
	Timestamp int64           `json:"timestamp"`
	Units     []orderbookUnit `json:"orderbook_units"`
}

func (e *KRWExchange) fetchOrderbook(ctx context.Context, symbol string) (*orderbook, error) {
	m, err := market(symbol)
	if err != nil {
		return nil, err
	}
	var books []orderbook
	if err := e.getJSON(ctx, "/v1/orderbook", url.Values{"markets": {m}}, &books); err != nil {
		return nil, err
	}
	if len(books) == 0 {
		return nil, fmt.Errorf("%w: %s %s", apperrors.ErrEmptyBook, e.flavor, m)
	}
	return &books[0], nil
}

// GetTicker returns the top of book and last trade price
func (e *KRWExchange) GetTicker(ctx context.Context, symbol string) (*core.Ticker, error) {
	m, err := market(symbol)
	if err != nil {
		return nil, err
	}

	var tickers []struct {
		Market     string      `json:"market"`
		TradePrice json.Number `json:"trade_price"`
		Timestamp  int64       `json:"timestamp"`
	}
	if err := e.getJSON(ctx, "/v1/ticker", url.Values{"markets": {m}}, &tickers); err != nil {
		return nil, err
	}
	if len(tickers) == 0 {
		return nil, fmt.Errorf("%w: %s %s", apperrors.ErrNoQuote, e.flavor, m)
	}

	t := &core.Ticker{
		Venue:     e.Name,
		Symbol:    symbol,
		Last:      e.ParseDecimal(tickers[0].TradePrice.String()),
		Timestamp: e.ParseTimestamp(tickers[0].Timestamp),
	}

	book, err := e.fetchOrderbook(ctx, symbol)
	if err != nil {
		return nil, err
	}
	if len(book.Units) > 0 {
		t.Bid = e.ParseDecimal(book.Units[0].BidPrice.String())
		t.Ask = e.ParseDecimal(book.Units[0].AskPrice.String())
	}
	return t, nil
}

// GetOrderBook returns an order book snapshot truncated to depth
func (e *KRWExchange) GetOrderBook(ctx context.Context, symbol string, depth int) (*core.OrderBookSnapshot, error) {
	book, err := e.fetchOrderbook(ctx, symbol)
	if err != nil {
		return nil, err
	}

	units := book.Units
	if depth > 0 && len(units) > depth {
		units = units[:depth]
	}

	snap := &core.OrderBookSnapshot{
		Venue:     e.Name,
		Symbol:    symbol,
		Bids:      make([]core.PriceLevel, 0, len(units)),
		Asks:      make([]core.PriceLevel, 0, len(units)),
		Timestamp: e.ParseTimestamp(book.Timestamp),
	}
	for _, u := range units {
		if bid, size := e.ParseDecimal(u.BidPrice.String()), e.ParseDecimal(u.BidSize.String()); bid.IsPositive() && size.IsPositive() {
			snap.Bids = append(snap.Bids, core.PriceLevel{Price: bid, Size: size})
		}
		if ask, size := e.ParseDecimal(u.AskPrice.String()), e.ParseDecimal(u.AskSize.String()); ask.IsPositive() && size.IsPositive() {
			snap.Asks = append(snap.Asks, core.PriceLevel{Price: ask, Size: size})
		}
	}
	return snap, nil
}

// GetBalance returns the account balances
func (e *KRWExchange) GetBalance(ctx context.Context) (core.Balances, error) {
	var accounts []struct {
		Currency string `json:"currency"`
		Balance  string `json:"balance"`
		Locked   string `json:"locked"`
	}
	if err := e.getJSON(ctx, "/v1/accounts", nil, &accounts); err != nil {
		return nil, err
	}

	balances := make(core.Balances, len(accounts))
	for _, a := range accounts {
		free := e.ParseDecimal(a.Balance)
		balances[strings.ToUpper(a.Currency)] = core.Balance{
			Free:  free,
			Total: free.Add(e.ParseDecimal(a.Locked)),
		}
	}
	return balances, nil
}

// SubmitMarketOrder places a market order sized in base currency. A market buy
// is a KRW-notional order, so the amount is priced at the current best ask.
func (e *KRWExchange) SubmitMarketOrder(ctx context.Context, symbol string, side core.Side, amount decimal.Decimal) (*core.OrderResult, error) {
	m, err := market(symbol)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount %s", apperrors.ErrInvalidOrderParameter, amount)
	}

	params := map[string]string{"market": m}
	if side == core.SideBuy {
		book, err := e.fetchOrderbook(ctx, symbol)
		if err != nil {
			return nil, err
		}
		if len(book.Units) == 0 {
			return nil, fmt.Errorf("%w: %s %s", apperrors.ErrEmptyBook, e.flavor, m)
		}
		ask := e.ParseDecimal(book.Units[0].AskPrice.String())
		if !ask.IsPositive() {
			return nil, fmt.Errorf("%w: %s %s has no ask", apperrors.ErrNoQuote, e.flavor, m)
		}
		params["side"] = "bid"
		params["ord_type"] = "price"
		params["price"] = amount.Mul(ask).Truncate(0).String()
	} else {
		params["side"] = "ask"
		params["ord_type"] = "market"
		params["volume"] = amount.String()
	}

	payload, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	body, err := e.ExecuteRequest(ctx, http.MethodPost, e.baseURL+"/v1/orders", payload)
	if err != nil {
		return nil, err
	}

	var placed struct {
		UUID string `json:"uuid"`
	}
	if err := json.Unmarshal(body, &placed); err != nil {
		return nil, fmt.Errorf("%s order: decode: %w", e.flavor, err)
	}

	result := &core.OrderResult{
		Venue:     e.Name,
		Symbol:    symbol,
		Side:      side,
		OrderID:   placed.UUID,
		Requested: amount,
	}

	filled, avg, err := e.queryFill(ctx, placed.UUID)
	if err != nil || !filled.IsPositive() {
		e.Logger.Warn("Market order fill not reported", "order_id", placed.UUID, "error", err)
		result.Filled = amount
		return result, nil
	}
	result.Filled = filled
	result.AvgPrice = avg
	return result, nil
}

func (e *KRWExchange) queryFill(ctx context.Context, id string) (decimal.Decimal, decimal.Decimal, error) {
	var order struct {
		State          string `json:"state"`
		ExecutedVolume string `json:"executed_volume"`
		Trades         []struct {
			Price  string `json:"price"`
			Volume string `json:"volume"`
			Funds  string `json:"funds"`
		} `json:"trades"`
	}
	if err := e.getJSON(ctx, "/v1/order", url.Values{"uuid": {id}}, &order); err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	filled := e.ParseDecimal(order.ExecutedVolume)
	funds := decimal.Zero
	volume := decimal.Zero
	for _, tr := range order.Trades {
		v := e.ParseDecimal(tr.Volume)
		f := e.ParseDecimal(tr.Funds)
		if f.IsZero() {
			f = v.Mul(e.ParseDecimal(tr.Price))
		}
		volume = volume.Add(v)
		funds = funds.Add(f)
	}
	avg := decimal.Zero
	if volume.IsPositive() {
		avg = funds.Div(volume)
	}
	return filled, avg, nil
}

// GetFundingRate is not available on spot-only KRW venues
func (e *KRWExchange) GetFundingRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return decimal.Zero, fmt.Errorf("%w: %s has no perpetuals", apperrors.ErrNotSupported, e.flavor)
}
