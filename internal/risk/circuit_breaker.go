package risk

import (
	"context"
	"fmt"
	"kimchi_arb/internal/core"
	"kimchi_arb/pkg/telemetry"
	"sort"
	"sync"
	"time"
)

// VenueStatus is the breaker view of one venue
type VenueStatus struct {
	Venue             string    `json:"venue"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	DisabledUntil     time.Time `json:"disabled_until"`
	Open              bool      `json:"open"`
	LastError         string    `json:"last_error,omitempty"`
}

type venueState struct {
	consecutive   int
	disabledUntil time.Time
	open          bool
	lastErr       string
}

// ExchangeBreaker disables a venue for a cooldown after a run of consecutive
// failures. State is in memory only; a restart re-enables every venue.
type ExchangeBreaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration
	venues    map[string]*venueState
	now       func() time.Time
	notifier  core.INotifier
	logger    core.ILogger
}

// NewExchangeBreaker creates a breaker. notifier may be nil.
func NewExchangeBreaker(threshold int, cooldown time.Duration, notifier core.INotifier, logger core.ILogger) *ExchangeBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	return &ExchangeBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		venues:    make(map[string]*venueState),
		now:       time.Now,
		notifier:  notifier,
		logger:    logger.WithField("component", "exchange_breaker"),
	}
}

// SetClock replaces the time source
func (b *ExchangeBreaker) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
}

func (b *ExchangeBreaker) state(venue string) *venueState {
	s, ok := b.venues[venue]
	if !ok {
		s = &venueState{}
		b.venues[venue] = s
	}
	return s
}

// Allow reports whether venue may be called. A venue becomes eligible again
// exactly when the cooldown has elapsed.
func (b *ExchangeBreaker) Allow(venue string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := b.state(venue)
	if b.now().Before(s.disabledUntil) {
		return false
	}
	if s.open {
		s.open = false
		telemetry.GetGlobalMetrics().SetCircuitBreakerOpen(venue, false)
		b.logger.Info("Venue re-enabled after cooldown", "venue", venue)
	}
	return true
}

// RecordFailure counts one failure and opens the breaker at the threshold
func (b *ExchangeBreaker) RecordFailure(venue string, err error) {
	b.mu.Lock()
	s := b.state(venue)
	s.consecutive++
	if err != nil {
		s.lastErr = err.Error()
	}
	if s.consecutive < b.threshold {
		b.mu.Unlock()
		return
	}

	until := b.now().Add(b.cooldown)
	s.disabledUntil = until
	s.consecutive = 0
	s.open = true
	lastErr := s.lastErr
	b.mu.Unlock()

	telemetry.GetGlobalMetrics().SetCircuitBreakerOpen(venue, true)
	b.logger.Warn("Venue disabled by circuit breaker",
		"venue", venue,
		"threshold", b.threshold,
		"until", until.Format(time.RFC3339),
		"last_error", lastErr)

	if b.notifier != nil {
		b.notifier.Notify(context.Background(), fmt.Sprintf(
			"Venue %s disabled for %s after %d consecutive errors (last: %s)",
			venue, b.cooldown, b.threshold, lastErr))
	}
}

// RecordSuccess resets the consecutive error counter
func (b *ExchangeBreaker) RecordSuccess(venue string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state(venue).consecutive = 0
}

// Status returns every known venue, sorted by name
func (b *ExchangeBreaker) Status() []VenueStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	out := make([]VenueStatus, 0, len(b.venues))
	for name, s := range b.venues {
		out = append(out, VenueStatus{
			Venue:             name,
			ConsecutiveErrors: s.consecutive,
			DisabledUntil:     s.disabledUntil,
			Open:              now.Before(s.disabledUntil),
			LastError:         s.lastErr,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Venue < out[j].Venue })
	return out
}
