package portfolio

import (
	"kimchi_arb/internal/core"

	"github.com/shopspring/decimal"
)

// Holding is one asset on one venue valued in KRW
type Holding struct {
	Asset  string
	Amount decimal.Decimal
	Value  decimal.Decimal
	Share  float64
}

// RebalanceAction is a corrective order for one asset's drift
type RebalanceAction struct {
	Venue    string
	Symbol   string
	Asset    string
	Side     core.Side
	Priority int // 1: reduce, 2: add
	Drift    float64
	Amount   decimal.Decimal
	Notional decimal.Decimal
}

// RebalanceResult reports an action and its outcome
type RebalanceResult struct {
	Action RebalanceAction
	Order  *core.OrderResult
	Err    error
}
