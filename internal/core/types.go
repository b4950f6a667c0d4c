package core

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side is the side of a market order
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Opposite returns the side that unwinds this one
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Direction describes which side of a quote venue's book an opportunity consumes.
// SellAtVenue walks the venue bids, BuyAtVenue walks the venue asks.
type Direction string

const (
	SellAtVenue Direction = "sell_at_venue"
	BuyAtVenue  Direction = "buy_at_venue"
)

// Layer identifies an independent strategy layer of the engine
type Layer string

const (
	LayerSpread    Layer = "spread"
	LayerCross     Layer = "cross"
	LayerFunding   Layer = "funding"
	LayerRebalance Layer = "rebalance"
)

// TradingLayers lists the layers that carry their own daily drawdown flag
var TradingLayers = []Layer{LayerSpread, LayerCross, LayerFunding, LayerRebalance}

// SplitSymbol splits a canonical BASE/QUOTE symbol
func SplitSymbol(symbol string) (base, quote string, err error) {
	parts := strings.Split(symbol, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("invalid symbol %q: expected BASE/QUOTE", symbol)
	}
	return strings.ToUpper(parts[0]), strings.ToUpper(parts[1]), nil
}

// Ticker is a top-of-book quote
type Ticker struct {
	Venue     string
	Symbol    string
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	Last      decimal.Decimal
	Timestamp time.Time
}

// Mid returns the bid/ask midpoint, falling back to the last trade price
func (t *Ticker) Mid() decimal.Decimal {
	if t.Bid.IsPositive() && t.Ask.IsPositive() {
		return t.Bid.Add(t.Ask).Div(decimal.NewFromInt(2))
	}
	return t.Last
}

// PriceLevel is one aggregated order book level
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// OrderBookSnapshot is an immutable order book fetch.
// Bids are sorted best (highest) first, asks best (lowest) first.
type OrderBookSnapshot struct {
	Venue     string
	Symbol    string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}

// BestBid returns the top bid or false for an empty side
func (b *OrderBookSnapshot) BestBid() (PriceLevel, bool) {
	if b == nil || len(b.Bids) == 0 {
		return PriceLevel{}, false
	}
	return b.Bids[0], true
}

// BestAsk returns the top ask or false for an empty side
func (b *OrderBookSnapshot) BestAsk() (PriceLevel, bool) {
	if b == nil || len(b.Asks) == 0 {
		return PriceLevel{}, false
	}
	return b.Asks[0], true
}

// Balance of a single currency on a venue
type Balance struct {
	Free  decimal.Decimal
	Total decimal.Decimal
}

// Balances maps currency code to balance
type Balances map[string]Balance

// Free returns the free balance of a currency, zero when absent
func (b Balances) Free(currency string) decimal.Decimal {
	if bal, ok := b[strings.ToUpper(currency)]; ok {
		return bal.Free
	}
	return decimal.Zero
}

// OrderResult is what a venue reports back for a market order
type OrderResult struct {
	Venue     string
	Symbol    string
	Side      Side
	OrderID   string
	Requested decimal.Decimal
	Filled    decimal.Decimal
	AvgPrice  decimal.Decimal // zero when the venue did not report it
}

// PremiumSample is one realizable premium observation
type PremiumSample struct {
	Symbol     string
	Venue      string
	Layer      Layer
	Direction  Direction
	PremiumPct decimal.Decimal
	VWAP       decimal.Decimal
	Timestamp  time.Time
}

// TradeRecord is an append-only record of a settled trade
type TradeRecord struct {
	ID         string          `json:"id"`
	Timestamp  time.Time       `json:"timestamp"`
	Layer      Layer           `json:"layer"`
	Symbol     string          `json:"symbol"`
	BuyVenue   string          `json:"buy_venue"`
	SellVenue  string          `json:"sell_venue"`
	Side       string          `json:"side"`
	Tier       string          `json:"tier"`
	PremiumPct decimal.Decimal `json:"premium_pct"`
	Notional   decimal.Decimal `json:"notional"`
	Amount     decimal.Decimal `json:"amount"`
	GrossPnL   decimal.Decimal `json:"gross_pnl"`
	Fee        decimal.Decimal `json:"fee"`
	NetPnL     decimal.Decimal `json:"net_pnl"`
	DryRun     bool            `json:"dry_run"`
}

// FundingPosition is the single cross-venue funding hedge.
// The engine holds it as *FundingPosition; nil means no open position.
type FundingPosition struct {
	ID         string          `json:"id"`
	ShortVenue string          `json:"short_venue"`
	LongVenue  string          `json:"long_venue"`
	Symbol     string          `json:"symbol"`
	Amount     decimal.Decimal `json:"amount"`
	OpenSpread decimal.Decimal `json:"open_spread"`
	OpenTime   time.Time       `json:"open_time"`
	ShortEntry decimal.Decimal `json:"short_entry"`
	LongEntry  decimal.Decimal `json:"long_entry"`
	FXAtOpen   decimal.Decimal `json:"fx_at_open"`
}

// PnLStats aggregates realized results over a period
type PnLStats struct {
	RealizedPnL decimal.Decimal `json:"realized_pnl"`
	Fees        decimal.Decimal `json:"fees"`
	Trades      int64           `json:"trades"`
}

// Add books one settled trade
func (s *PnLStats) Add(net, fee decimal.Decimal) {
	s.RealizedPnL = s.RealizedPnL.Add(net)
	s.Fees = s.Fees.Add(fee)
	s.Trades++
}

// RiskState is the persisted risk ledger. PnL is denominated in KRW.
type RiskState struct {
	AllTime          PnLStats                  `json:"all_time"`
	Daily            PnLStats                  `json:"daily"`
	Weekly           PnLStats                  `json:"weekly"`
	LayerDailyPnL    map[Layer]decimal.Decimal `json:"layer_daily_pnl"`
	LayerDisabled    map[Layer]bool            `json:"layer_disabled"`
	TradingEnabled   bool                      `json:"trading_enabled"`
	DisabledReason   string                    `json:"disabled_reason,omitempty"`
	LastRolloverDate string                    `json:"last_rollover_date"`
	WeekStart        string                    `json:"week_start"`
}

// NewRiskState returns an empty, trading-enabled state
func NewRiskState() *RiskState {
	return &RiskState{
		LayerDailyPnL:  make(map[Layer]decimal.Decimal),
		LayerDisabled:  make(map[Layer]bool),
		TradingEnabled: true,
	}
}

// Clone returns a deep copy
func (s *RiskState) Clone() RiskState {
	out := *s
	out.LayerDailyPnL = make(map[Layer]decimal.Decimal, len(s.LayerDailyPnL))
	for k, v := range s.LayerDailyPnL {
		out.LayerDailyPnL[k] = v
	}
	out.LayerDisabled = make(map[Layer]bool, len(s.LayerDisabled))
	for k, v := range s.LayerDisabled {
		out.LayerDisabled[k] = v
	}
	return out
}
