package apperrors

import (
	"context"
	"errors"
)

// Venue errors
var (
	ErrVenueUnavailable      = errors.New("venue unavailable")
	ErrVenueDisabled         = errors.New("venue disabled by circuit breaker")
	ErrInsufficientFunds     = errors.New("insufficient funds")
	ErrOrderRejected         = errors.New("order rejected")
	ErrRateLimitExceeded     = errors.New("rate limit exceeded")
	ErrNetwork               = errors.New("network error")
	ErrTimeout               = errors.New("venue call timed out")
	ErrInvalidSymbol         = errors.New("invalid symbol")
	ErrAuthenticationFailed  = errors.New("authentication failed")
	ErrExchangeMaintenance   = errors.New("exchange maintenance")
	ErrOrderNotFound         = errors.New("order not found")
	ErrInvalidOrderParameter = errors.New("invalid order parameter")
	ErrSystemOverload        = errors.New("system overload")
	ErrNotSupported          = errors.New("operation not supported by venue")
)

// Data quality errors. These mean "no signal this tick".
var (
	ErrEmptyBook         = errors.New("order book is empty")
	ErrInsufficientDepth = errors.New("insufficient order book depth")
	ErrNoQuote           = errors.New("no quote available")
	ErrStaleData         = errors.New("market data is stale")
)

// Risk errors
var (
	ErrBelowMinNotional = errors.New("order notional below minimum")
	ErrRiskLimit        = errors.New("risk limit: trading disabled")
)

// Kind classifies an error for the exchange breaker and the tick loop
type Kind int

const (
	KindUnknown Kind = iota
	KindTransient
	KindDataQuality
	KindRejected
	KindRisk
	KindGated
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindDataQuality:
		return "data_quality"
	case KindRejected:
		return "rejected"
	case KindRisk:
		return "risk"
	case KindGated:
		return "gated"
	default:
		return "unknown"
	}
}

// KindOf classifies err. nil is KindUnknown.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindUnknown
	case errors.Is(err, ErrVenueDisabled):
		return KindGated
	case errors.Is(err, ErrEmptyBook), errors.Is(err, ErrInsufficientDepth),
		errors.Is(err, ErrNoQuote), errors.Is(err, ErrStaleData):
		return KindDataQuality
	case errors.Is(err, ErrBelowMinNotional), errors.Is(err, ErrRiskLimit):
		return KindRisk
	case errors.Is(err, ErrInsufficientFunds), errors.Is(err, ErrOrderRejected),
		errors.Is(err, ErrInvalidOrderParameter), errors.Is(err, ErrInvalidSymbol),
		errors.Is(err, ErrAuthenticationFailed), errors.Is(err, ErrOrderNotFound),
		errors.Is(err, ErrNotSupported):
		return KindRejected
	case errors.Is(err, ErrVenueUnavailable), errors.Is(err, ErrRateLimitExceeded),
		errors.Is(err, ErrNetwork), errors.Is(err, ErrTimeout),
		errors.Is(err, ErrExchangeMaintenance), errors.Is(err, ErrSystemOverload),
		errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	default:
		return KindUnknown
	}
}

// CountsAgainstVenue reports whether err should feed the per-exchange breaker.
// Rejections are counted too: a venue that keeps rejecting is not usable.
func CountsAgainstVenue(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindUnknown, KindRejected:
		return err != nil
	default:
		return false
	}
}
