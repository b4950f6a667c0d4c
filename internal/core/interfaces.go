// Package core defines the core interfaces and domain types for the arbitrage engine
package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// IVenue is the capability set the engine needs from an exchange.
// Any call may fail with a venue-unavailable error; the exchange breaker interprets it.
type IVenue interface {
	GetName() string
	GetTicker(ctx context.Context, symbol string) (*Ticker, error)
	GetOrderBook(ctx context.Context, symbol string, depth int) (*OrderBookSnapshot, error)
	GetBalance(ctx context.Context) (Balances, error)
	SubmitMarketOrder(ctx context.Context, symbol string, side Side, amount decimal.Decimal) (*OrderResult, error)
	GetFundingRate(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// INotifier delivers best-effort text notifications. It must never block the caller.
type INotifier interface {
	Notify(ctx context.Context, text string)
}

// IStateStore persists the risk ledger and the funding slot
type IStateStore interface {
	SaveRiskState(ctx context.Context, state *RiskState) error
	LoadRiskState(ctx context.Context) (*RiskState, error)
	SaveFundingPosition(ctx context.Context, pos *FundingPosition) error
	LoadFundingPosition(ctx context.Context) (*FundingPosition, error)
}

// ITradeJournal is the append-only trade log
type ITradeJournal interface {
	Append(rec TradeRecord) error
	Since(from time.Time) ([]TradeRecord, error)
}

// IEquityValuer values the account across all venues in KRW
type IEquityValuer interface {
	Equity(ctx context.Context) (decimal.Decimal, error)
}

// IExchangeBreaker gates venue calls after repeated failures
type IExchangeBreaker interface {
	Allow(venue string) bool
	RecordFailure(venue string, err error)
	RecordSuccess(venue string)
}

// IHealthMonitor defines the interface for health monitoring
type IHealthMonitor interface {
	Register(component string, check func() error)
	GetStatus() map[string]string
	IsHealthy() bool
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
