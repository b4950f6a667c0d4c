package mock

import (
	"context"
	"fmt"
	"kimchi_arb/internal/core"
	apperrors "kimchi_arb/pkg/errors"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// Operation names accepted by SetError
const (
	OpTicker    = "ticker"
	OpOrderBook = "order_book"
	OpBalance   = "balance"
	OpOrder     = "order"
	OpFunding   = "funding"
)

// MockExchange is a scriptable in-memory venue. Market orders fill against the
// scripted top of book and move the scripted balances.
type MockExchange struct {
	name string

	books        map[string]*core.OrderBookSnapshot
	tickers      map[string]*core.Ticker
	balances     core.Balances
	fundingRates map[string]decimal.Decimal
	fillRatio    decimal.Decimal
	errors       map[string]error
	sideErrors   map[core.Side]error
	orders       []core.OrderResult
	calls        map[string]int
	orderSeq     int64
	mu           sync.RWMutex
}

// NewMockExchange creates an empty venue that fills orders completely
func NewMockExchange(name string) *MockExchange {
	return &MockExchange{
		name:         name,
		books:        make(map[string]*core.OrderBookSnapshot),
		tickers:      make(map[string]*core.Ticker),
		balances:     make(core.Balances),
		fundingRates: make(map[string]decimal.Decimal),
		fillRatio:    decimal.NewFromInt(1),
		errors:       make(map[string]error),
		sideErrors:   make(map[core.Side]error),
		calls:        make(map[string]int),
		orderSeq:     1000,
	}
}

// SetOrderBook scripts the book for a symbol. Levels are sorted best first by the caller.
func (m *MockExchange) SetOrderBook(symbol string, bids, asks []core.PriceLevel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.books[symbol] = &core.OrderBookSnapshot{
		Venue:  m.name,
		Symbol: symbol,
		Bids:   append([]core.PriceLevel(nil), bids...),
		Asks:   append([]core.PriceLevel(nil), asks...),
	}
}

// SetTicker scripts a ticker. Without one, GetTicker derives it from the book.
func (m *MockExchange) SetTicker(symbol string, bid, ask, last decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tickers[symbol] = &core.Ticker{Venue: m.name, Symbol: symbol, Bid: bid, Ask: ask, Last: last}
}

// SetBalance scripts a free balance. Total equals free.
func (m *MockExchange) SetBalance(currency string, free decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[strings.ToUpper(currency)] = core.Balance{Free: free, Total: free}
}

func (m *MockExchange) SetFundingRate(symbol string, rate decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fundingRates[symbol] = rate
}

// SetFillRatio makes market orders fill only a fraction of the requested amount
func (m *MockExchange) SetFillRatio(ratio decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fillRatio = ratio
}

// SetError makes every call of op fail with err until cleared with nil
func (m *MockExchange) SetError(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.errors, op)
		return
	}
	m.errors[op] = err
}

// SetOrderError makes orders of one side fail with err until cleared with nil
func (m *MockExchange) SetOrderError(side core.Side, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.sideErrors, side)
		return
	}
	m.sideErrors[side] = err
}

// Orders returns the log of filled orders
func (m *MockExchange) Orders() []core.OrderResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]core.OrderResult(nil), m.orders...)
}

// Calls returns how many times op was invoked
func (m *MockExchange) Calls(op string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[op]
}

func (m *MockExchange) begin(op string) error {
	m.calls[op]++
	return m.errors[op]
}

func (m *MockExchange) GetName() string {
	return m.name
}

func (m *MockExchange) GetTicker(ctx context.Context, symbol string) (*core.Ticker, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpTicker); err != nil {
		return nil, err
	}

	if t, ok := m.tickers[symbol]; ok {
		out := *t
		out.Timestamp = time.Now()
		return &out, nil
	}
	book, ok := m.books[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", apperrors.ErrNoQuote, m.name, symbol)
	}
	t := &core.Ticker{Venue: m.name, Symbol: symbol, Timestamp: time.Now()}
	if bid, ok := book.BestBid(); ok {
		t.Bid = bid.Price
	}
	if ask, ok := book.BestAsk(); ok {
		t.Ask = ask.Price
	}
	t.Last = t.Mid()
	return t, nil
}

func (m *MockExchange) GetOrderBook(ctx context.Context, symbol string, depth int) (*core.OrderBookSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpOrderBook); err != nil {
		return nil, err
	}

	book, ok := m.books[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", apperrors.ErrEmptyBook, m.name, symbol)
	}
	out := &core.OrderBookSnapshot{
		Venue:     m.name,
		Symbol:    symbol,
		Bids:      append([]core.PriceLevel(nil), book.Bids...),
		Asks:      append([]core.PriceLevel(nil), book.Asks...),
		Timestamp: time.Now(),
	}
	if depth > 0 {
		if len(out.Bids) > depth {
			out.Bids = out.Bids[:depth]
		}
		if len(out.Asks) > depth {
			out.Asks = out.Asks[:depth]
		}
	}
	return out, nil
}

func (m *MockExchange) GetBalance(ctx context.Context) (core.Balances, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpBalance); err != nil {
		return nil, err
	}

	out := make(core.Balances, len(m.balances))
	for k, v := range m.balances {
		out[k] = v
	}
	return out, nil
}

// SubmitMarketOrder fills at the best opposing level and settles balances
func (m *MockExchange) SubmitMarketOrder(ctx context.Context, symbol string, side core.Side, amount decimal.Decimal) (*core.OrderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpOrder); err != nil {
		return nil, err
	}
	if err := m.sideErrors[side]; err != nil {
		return nil, err
	}
	if !amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount %s", apperrors.ErrInvalidOrderParameter, amount)
	}

	price := decimal.Zero
	if book, ok := m.books[symbol]; ok {
		if side == core.SideBuy {
			if lvl, ok := book.BestAsk(); ok {
				price = lvl.Price
			}
		} else if lvl, ok := book.BestBid(); ok {
			price = lvl.Price
		}
	}
	if price.IsZero() {
		if t, ok := m.tickers[symbol]; ok {
			price = t.Mid()
		}
	}

	filled := amount.Mul(m.fillRatio)
	m.orderSeq++
	res := core.OrderResult{
		Venue:     m.name,
		Symbol:    symbol,
		Side:      side,
		OrderID:   fmt.Sprintf("%s-%d", m.name, m.orderSeq),
		Requested: amount,
		Filled:    filled,
		AvgPrice:  price,
	}
	m.settle(symbol, side, filled, price)
	m.orders = append(m.orders, res)
	return &res, nil
}

// settle moves base and quote balances when the currencies are scripted
func (m *MockExchange) settle(symbol string, side core.Side, filled, price decimal.Decimal) {
	baseAsset, quote, err := core.SplitSymbol(symbol)
	if err != nil || price.IsZero() {
		return
	}
	notional := filled.Mul(price)
	if side == core.SideSell {
		filled = filled.Neg()
		notional = notional.Neg()
	}
	if b, ok := m.balances[baseAsset]; ok {
		m.balances[baseAsset] = core.Balance{Free: b.Free.Add(filled), Total: b.Total.Add(filled)}
	}
	if q, ok := m.balances[quote]; ok {
		m.balances[quote] = core.Balance{Free: q.Free.Sub(notional), Total: q.Total.Sub(notional)}
	}
}

func (m *MockExchange) GetFundingRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(OpFunding); err != nil {
		return decimal.Zero, err
	}

	rate, ok := m.fundingRates[symbol]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: no funding rate for %s on %s", apperrors.ErrNotSupported, symbol, m.name)
	}
	return rate, nil
}
