package mock

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// MockNotifier records notifications for assertions
type MockNotifier struct {
	messages []string
	mu       sync.Mutex
}

func NewMockNotifier() *MockNotifier {
	return &MockNotifier{}
}

func (m *MockNotifier) Notify(ctx context.Context, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, text)
}

// Messages returns a copy of every notification so far
func (m *MockNotifier) Messages() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.messages...)
}

// MockEquityValuer returns a scripted equity or error
type MockEquityValuer struct {
	equity decimal.Decimal
	err    error
	mu     sync.Mutex
}

func NewMockEquityValuer(equity decimal.Decimal) *MockEquityValuer {
	return &MockEquityValuer{equity: equity}
}

// Set replaces the scripted result
func (m *MockEquityValuer) Set(equity decimal.Decimal, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.equity = equity
	m.err = err
}

func (m *MockEquityValuer) Equity(ctx context.Context) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return decimal.Zero, m.err
	}
	return m.equity, nil
}
