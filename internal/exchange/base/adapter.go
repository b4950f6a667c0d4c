// Package base provides common functionality for exchange adapters
package base

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"kimchi_arb/internal/config"
	"kimchi_arb/internal/core"
	apperrors "kimchi_arb/pkg/errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// SignRequestFunc is a function type for exchange-specific request signing
type SignRequestFunc func(req *http.Request, body []byte) error

// ParseErrorFunc is a function type for exchange-specific error parsing.
// It returns nil when the body carries no recognizable error.
type ParseErrorFunc func(body []byte) error

// BaseAdapter provides common functionality for all REST exchange adapters
type BaseAdapter struct {
	Name       string
	Config     config.VenueConfig
	Logger     core.ILogger
	HTTPClient *http.Client

	limiter *rate.Limiter

	// Exchange-specific functions to be set by concrete implementations
	SignRequestFunc SignRequestFunc
	ParseError      ParseErrorFunc
}

// NewBaseAdapter creates a new base adapter with common configuration
func NewBaseAdapter(name string, cfg config.VenueConfig, logger core.ILogger) *BaseAdapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	return &BaseAdapter{
		Name:    name,
		Config:  cfg,
		Logger:  logger.WithField("exchange", name),
		limiter: limiter,
		HTTPClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				DisableKeepAlives:   false,
			},
		},
	}
}

// GetName returns the venue name
func (b *BaseAdapter) GetName() string {
	return b.Name
}

// SetSignRequest sets the exchange-specific request signing function
func (b *BaseAdapter) SetSignRequest(fn SignRequestFunc) {
	b.SignRequestFunc = fn
}

// SetParseError sets the exchange-specific error parsing function
func (b *BaseAdapter) SetParseError(fn ParseErrorFunc) {
	b.ParseError = fn
}

// FeeRate returns the configured taker fee as a decimal fraction
func (b *BaseAdapter) FeeRate() decimal.Decimal {
	return decimal.NewFromFloat(b.Config.FeeRate)
}

// ExecuteRequest executes an HTTP request with common error handling.
// Transport failures map to ErrNetwork, 429 to ErrRateLimitExceeded and 5xx
// to ErrVenueUnavailable unless the venue parser recognizes the body first.
func (b *BaseAdapter) ExecuteRequest(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	if err := b.Throttle(ctx); err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if b.SignRequestFunc != nil {
		if err := b.SignRequestFunc(req, body); err != nil {
			return nil, fmt.Errorf("failed to sign request: %w", err)
		}
	}

	resp, err := b.HTTPClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s %s: %v", apperrors.ErrNetwork, method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response body: %v", apperrors.ErrNetwork, err)
	}

	if resp.StatusCode != http.StatusOK {
		if b.ParseError != nil {
			if parseErr := b.ParseError(respBody); parseErr != nil {
				return nil, parseErr
			}
		}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return nil, fmt.Errorf("%w: HTTP %d", apperrors.ErrRateLimitExceeded, resp.StatusCode)
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			return nil, fmt.Errorf("%w: HTTP %d: %s", apperrors.ErrAuthenticationFailed, resp.StatusCode, string(respBody))
		case resp.StatusCode >= 500:
			return nil, fmt.Errorf("%w: HTTP %d: %s", apperrors.ErrVenueUnavailable, resp.StatusCode, string(respBody))
		}
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	// Some venues report errors with a 200 status
	if b.ParseError != nil {
		if parseErr := b.ParseError(respBody); parseErr != nil {
			return nil, parseErr
		}
	}

	return respBody, nil
}

// ParseDecimal safely parses a string to decimal
func (b *BaseAdapter) ParseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		b.Logger.Warn("failed to parse decimal", "value", s, "error", err)
		return decimal.Zero
	}
	return d
}

// ParseTimestamp safely parses a timestamp in milliseconds
func (b *BaseAdapter) ParseTimestamp(ms int64) time.Time {
	if ms == 0 {
		return time.Now()
	}
	return time.UnixMilli(ms)
}

// ParseLevels converts [price, size] string pairs into book levels, skipping
// malformed rows
func (b *BaseAdapter) ParseLevels(rows [][]string) []core.PriceLevel {
	levels := make([]core.PriceLevel, 0, len(rows))
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		price := b.ParseDecimal(row[0])
		size := b.ParseDecimal(row[1])
		if !price.IsPositive() || !size.IsPositive() {
			continue
		}
		levels = append(levels, core.PriceLevel{Price: price, Size: size})
	}
	return levels
}

// Throttle blocks until the client-side rate limiter admits one request.
// Adapters that do not go through ExecuteRequest call it themselves.
func (b *BaseAdapter) Throttle(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrRateLimitExceeded, err)
	}
	return nil
}
