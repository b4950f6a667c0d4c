// Package portfolio values venue holdings in KRW and corrects allocation drift
package portfolio

import (
	"context"
	"fmt"
	"kimchi_arb/internal/core"
	apperrors "kimchi_arb/pkg/errors"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// QuoteCurrency is the unit every holding is valued in
const QuoteCurrency = "KRW"

// Valuer keeps the latest balances and KRW marks from the snapshot. It
// implements core.IEquityValuer.
type Valuer struct {
	mu       sync.RWMutex
	balances map[string]core.Balances
	marks    map[string]decimal.Decimal
}

func NewValuer() *Valuer {
	return &Valuer{
		balances: make(map[string]core.Balances),
		marks:    map[string]decimal.Decimal{QuoteCurrency: decimal.NewFromInt(1)},
	}
}

// UpdateBalances replaces a venue's balances
func (v *Valuer) UpdateBalances(venue string, bal core.Balances) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances[venue] = bal
}

// SetMark sets the KRW price of one unit of asset
func (v *Valuer) SetMark(asset string, krw decimal.Decimal) {
	if !krw.IsPositive() {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.marks[asset] = krw
}

// Mark returns the KRW price of asset
func (v *Valuer) Mark(asset string) (decimal.Decimal, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	m, ok := v.marks[asset]
	return m, ok
}

// Equity is the total KRW value of every venue. Currencies without a mark
// are left out.
func (v *Valuer) Equity(ctx context.Context) (decimal.Decimal, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if len(v.balances) == 0 {
		return decimal.Zero, fmt.Errorf("%w: no balances yet", apperrors.ErrNoQuote)
	}

	total := decimal.Zero
	for _, bal := range v.balances {
		for cur, b := range bal {
			if mark, ok := v.marks[cur]; ok {
				total = total.Add(b.Total.Mul(mark))
			}
		}
	}
	return total, nil
}

// Holdings values each marked asset on venue and returns them sorted by
// asset together with the venue total
func (v *Valuer) Holdings(venue string) ([]Holding, decimal.Decimal) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	var out []Holding
	total := decimal.Zero
	for cur, b := range v.balances[venue] {
		mark, ok := v.marks[cur]
		if !ok {
			continue
		}
		value := b.Total.Mul(mark)
		total = total.Add(value)
		out = append(out, Holding{Asset: cur, Amount: b.Total, Value: value})
	}
	if total.IsPositive() {
		for i := range out {
			out[i].Share = out[i].Value.Div(total).InexactFloat64()
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, total
}
