// Package binance provides Binance spot and USD-M futures connectivity over go-binance
package binance

import (
	"context"
	"errors"
	"fmt"
	"kimchi_arb/internal/config"
	"kimchi_arb/internal/core"
	"kimchi_arb/internal/exchange/base"
	apperrors "kimchi_arb/pkg/errors"
	"net"
	"strings"
	"sync"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BinanceExchange implements core.IVenue for Binance. One instance serves
// either the spot market or USD-M perpetuals depending on the venue config.
type BinanceExchange struct {
	*base.BaseAdapter
	spot    *binance.Client
	futures *futures.Client

	timeSynced bool
	syncMu     sync.Mutex
}

// NewBinanceExchange creates a new Binance venue
func NewBinanceExchange(name string, cfg config.VenueConfig, logger core.ILogger) *BinanceExchange {
	b := base.NewBaseAdapter(name, cfg, logger)
	e := &BinanceExchange{BaseAdapter: b}

	if cfg.IsFutures() {
		client := futures.NewClient(cfg.APIKey.Reveal(), cfg.SecretKey.Reveal())
		client.HTTPClient = b.HTTPClient
		if cfg.BaseURL != "" {
			client.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
		}
		e.futures = client
	} else {
		client := binance.NewClient(cfg.APIKey.Reveal(), cfg.SecretKey.Reveal())
		client.HTTPClient = b.HTTPClient
		if cfg.BaseURL != "" {
			client.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
		}
		e.spot = client
	}
	return e
}

// IsFutures reports whether this instance trades perpetuals
func (e *BinanceExchange) IsFutures() bool {
	return e.futures != nil
}

// mapError translates go-binance errors into application errors
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return err
	}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case -2015, -2014, -1022:
			return fmt.Errorf("%w: %s", apperrors.ErrAuthenticationFailed, apiErr.Message)
		case -2010, -2019, -2018:
			if strings.Contains(strings.ToLower(apiErr.Message), "insufficient") || apiErr.Code != -2010 {
				return fmt.Errorf("%w: %s", apperrors.ErrInsufficientFunds, apiErr.Message)
			}
			return fmt.Errorf("%w: %s", apperrors.ErrOrderRejected, apiErr.Message)
		case -1003, -1015:
			return apperrors.ErrRateLimitExceeded
		case -1121:
			return fmt.Errorf("%w: %s", apperrors.ErrInvalidSymbol, apiErr.Message)
		case -2013:
			return apperrors.ErrOrderNotFound
		case -1013, -1111, -1100, -1102, -4003:
			return fmt.Errorf("%w: %s", apperrors.ErrInvalidOrderParameter, apiErr.Message)
		case -1001, -1007, -1016:
			return fmt.Errorf("%w: %s", apperrors.ErrVenueUnavailable, apiErr.Message)
		}
		return fmt.Errorf("binance error %d: %s", apiErr.Code, apiErr.Message)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", apperrors.ErrNetwork, err)
	}
	return fmt.Errorf("%w: %v", apperrors.ErrVenueUnavailable, err)
}

// venueSymbol converts BTC/USDT to BTCUSDT
func venueSymbol(symbol string) (string, error) {
	baseAsset, quote, err := core.SplitSymbol(symbol)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrInvalidSymbol, err)
	}
	return baseAsset + quote, nil
}

// syncTime aligns the signing clock with the server once. Failure is logged
// and retried on the next signed call.
func (e *BinanceExchange) syncTime(ctx context.Context) {
	e.syncMu.Lock()
	defer e.syncMu.Unlock()
	if e.timeSynced {
		return
	}

	var err error
	if e.futures != nil {
		_, err = e.futures.NewSetServerTimeService().Do(ctx)
	} else {
		_, err = e.spot.NewSetServerTimeService().Do(ctx)
	}
	if err != nil {
		e.Logger.Warn("Failed to sync server time", "error", err)
		return
	}
	e.timeSynced = true
}

// GetTicker returns the top of book for a canonical symbol
func (e *BinanceExchange) GetTicker(ctx context.Context, symbol string) (*core.Ticker, error) {
	vs, err := venueSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if err := e.Throttle(ctx); err != nil {
		return nil, err
	}

	var bid, ask string
	if e.futures != nil {
		tickers, err := e.futures.NewListBookTickersService().Symbol(vs).Do(ctx)
		if err != nil {
			return nil, mapError(err)
		}
		if len(tickers) == 0 {
			return nil, fmt.Errorf("%w: binance %s", apperrors.ErrNoQuote, vs)
		}
		bid, ask = tickers[0].BidPrice, tickers[0].AskPrice
	} else {
		tickers, err := e.spot.NewListBookTickersService().Symbol(vs).Do(ctx)
		if err != nil {
			return nil, mapError(err)
		}
		if len(tickers) == 0 {
			return nil, fmt.Errorf("%w: binance %s", apperrors.ErrNoQuote, vs)
		}
		bid, ask = tickers[0].BidPrice, tickers[0].AskPrice
	}

	t := &core.Ticker{
		Venue:     e.Name,
		Symbol:    symbol,
		Bid:       e.ParseDecimal(bid),
		Ask:       e.ParseDecimal(ask),
		Timestamp: e.ParseTimestamp(0),
	}
	t.Last = t.Mid()

	if e.futures != nil {
		// Perpetual valuation uses the mark price
		if mark, err := e.markPrice(ctx, vs); err == nil && mark.IsPositive() {
			t.Last = mark
		}
	}
	return t, nil
}

// GetOrderBook returns an order book snapshot
func (e *BinanceExchange) GetOrderBook(ctx context.Context, symbol string, depth int) (*core.OrderBookSnapshot, error) {
	vs, err := venueSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if err := e.Throttle(ctx); err != nil {
		return nil, err
	}
	limit := depthLimit(depth)

	snap := &core.OrderBookSnapshot{
		Venue:     e.Name,
		Symbol:    symbol,
		Timestamp: e.ParseTimestamp(0),
	}

	if e.futures != nil {
		res, err := e.futures.NewDepthService().Symbol(vs).Limit(limit).Do(ctx)
		if err != nil {
			return nil, mapError(err)
		}
		for _, b := range res.Bids {
			snap.Bids = e.appendLevel(snap.Bids, b.Price, b.Quantity)
		}
		for _, a := range res.Asks {
			snap.Asks = e.appendLevel(snap.Asks, a.Price, a.Quantity)
		}
	} else {
		res, err := e.spot.NewDepthService().Symbol(vs).Limit(limit).Do(ctx)
		if err != nil {
			return nil, mapError(err)
		}
		for _, b := range res.Bids {
			snap.Bids = e.appendLevel(snap.Bids, b.Price, b.Quantity)
		}
		for _, a := range res.Asks {
			snap.Asks = e.appendLevel(snap.Asks, a.Price, a.Quantity)
		}
	}

	if depth > 0 {
		if len(snap.Bids) > depth {
			snap.Bids = snap.Bids[:depth]
		}
		if len(snap.Asks) > depth {
			snap.Asks = snap.Asks[:depth]
		}
	}
	return snap, nil
}

// depthLimit rounds up to one of the limits the depth endpoint accepts
func depthLimit(depth int) int {
	for _, l := range []int{5, 10, 20, 50, 100, 500, 1000} {
		if depth <= l {
			return l
		}
	}
	return 1000
}

func (e *BinanceExchange) appendLevel(levels []core.PriceLevel, price, qty string) []core.PriceLevel {
	p, q := e.ParseDecimal(price), e.ParseDecimal(qty)
	if !p.IsPositive() || !q.IsPositive() {
		return levels
	}
	return append(levels, core.PriceLevel{Price: p, Size: q})
}

// GetBalance returns spot balances or futures wallet balances
func (e *BinanceExchange) GetBalance(ctx context.Context) (core.Balances, error) {
	if err := e.Throttle(ctx); err != nil {
		return nil, err
	}
	e.syncTime(ctx)

	balances := make(core.Balances)
	if e.futures != nil {
		res, err := e.futures.NewGetBalanceService().Do(ctx)
		if err != nil {
			return nil, mapError(err)
		}
		for _, b := range res {
			balances[strings.ToUpper(b.Asset)] = core.Balance{
				Free:  e.ParseDecimal(b.AvailableBalance),
				Total: e.ParseDecimal(b.Balance),
			}
		}
		return balances, nil
	}

	account, err := e.spot.NewGetAccountService().Do(ctx)
	if err != nil {
		return nil, mapError(err)
	}
	for _, b := range account.Balances {
		free := e.ParseDecimal(b.Free)
		total := free.Add(e.ParseDecimal(b.Locked))
		if total.IsZero() {
			continue
		}
		balances[strings.ToUpper(b.Asset)] = core.Balance{Free: free, Total: total}
	}
	return balances, nil
}

// SubmitMarketOrder places a market order sized in base currency and reports the fill
func (e *BinanceExchange) SubmitMarketOrder(ctx context.Context, symbol string, side core.Side, amount decimal.Decimal) (*core.OrderResult, error) {
	vs, err := venueSymbol(symbol)
	if err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount %s", apperrors.ErrInvalidOrderParameter, amount)
	}
	if err := e.Throttle(ctx); err != nil {
		return nil, err
	}
	e.syncTime(ctx)

	clientID := "ka-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
	result := &core.OrderResult{
		Venue:     e.Name,
		Symbol:    symbol,
		Side:      side,
		Requested: amount,
	}

	if e.futures != nil {
		resp, err := e.futures.NewCreateOrderService().
			Symbol(vs).
			Side(futures.SideType(side)).
			Type(futures.OrderTypeMarket).
			Quantity(amount.String()).
			NewClientOrderID(clientID).
			Do(ctx)
		if err != nil {
			return nil, mapError(err)
		}
		result.OrderID = fmt.Sprintf("%d", resp.OrderID)

		// The create response of a market order may precede the fill
		order, err := e.futures.NewGetOrderService().Symbol(vs).OrderID(resp.OrderID).Do(ctx)
		if err != nil {
			e.Logger.Warn("Failed to query futures order fill", "order_id", resp.OrderID, "error", err)
			result.Filled = e.ParseDecimal(resp.ExecutedQuantity)
			if result.Filled.IsZero() {
				result.Filled = amount
			}
			return result, nil
		}
		result.Filled = e.ParseDecimal(order.ExecutedQuantity)
		result.AvgPrice = e.ParseDecimal(order.AvgPrice)
		return result, nil
	}

	resp, err := e.spot.NewCreateOrderService().
		Symbol(vs).
		Side(binance.SideType(side)).
		Type(binance.OrderTypeMarket).
		Quantity(amount.String()).
		NewClientOrderID(clientID).
		Do(ctx)
	if err != nil {
		return nil, mapError(err)
	}

	result.OrderID = fmt.Sprintf("%d", resp.OrderID)
	result.Filled = e.ParseDecimal(resp.ExecutedQuantity)
	if quote := e.ParseDecimal(resp.CummulativeQuoteQuantity); quote.IsPositive() && result.Filled.IsPositive() {
		result.AvgPrice = quote.Div(result.Filled)
	}
	return result, nil
}

// GetFundingRate returns the last funding rate of a perpetual
func (e *BinanceExchange) GetFundingRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if e.futures == nil {
		return decimal.Zero, fmt.Errorf("%w: funding rate on spot venue %s", apperrors.ErrNotSupported, e.Name)
	}
	vs, err := venueSymbol(symbol)
	if err != nil {
		return decimal.Zero, err
	}
	if err := e.Throttle(ctx); err != nil {
		return decimal.Zero, err
	}

	res, err := e.futures.NewPremiumIndexService().Symbol(vs).Do(ctx)
	if err != nil {
		return decimal.Zero, mapError(err)
	}
	if len(res) == 0 {
		return decimal.Zero, fmt.Errorf("%w: binance funding rate for %s", apperrors.ErrNoQuote, vs)
	}
	return e.ParseDecimal(res[0].LastFundingRate), nil
}

func (e *BinanceExchange) markPrice(ctx context.Context, vs string) (decimal.Decimal, error) {
	res, err := e.futures.NewPremiumIndexService().Symbol(vs).Do(ctx)
	if err != nil {
		return decimal.Zero, mapError(err)
	}
	if len(res) == 0 {
		return decimal.Zero, apperrors.ErrNoQuote
	}
	return e.ParseDecimal(res[0].MarkPrice), nil
}
