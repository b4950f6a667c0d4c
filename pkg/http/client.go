// Package http provides a reusable HTTP client with resilience features
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"kimchi_arb/pkg/telemetry"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// APIError represents an API error response
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error: status=%d body=%s", e.StatusCode, string(e.Body))
}

// Signer is an interface for signing requests
type Signer interface {
	SignRequest(req *http.Request) error
}

// Options tune the resilience pipeline of a Client
type Options struct {
	Timeout        time.Duration
	MaxRetries     int // 0 disables retries
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	BreakerDelay   time.Duration
}

// DefaultOptions retries idempotent traffic three times
func DefaultOptions() Options {
	return Options{
		Timeout:        10 * time.Second,
		MaxRetries:     3,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		BreakerDelay:   10 * time.Second,
	}
}

// Client is a wrapper around http.Client with resilience
type Client struct {
	client   *http.Client
	baseURL  string
	signer   Signer
	pipeline failsafe.Executor[*http.Response]
	headers  map[string]string

	// OTel
	tracer      trace.Tracer
	reqCounter  metric.Int64Counter
	errCounter  metric.Int64Counter
	latencyHist metric.Float64Histogram
}

// NewClient creates a new HTTP client with default resilience policies
func NewClient(baseURL string, timeout time.Duration, signer Signer) *Client {
	opts := DefaultOptions()
	opts.Timeout = timeout
	return NewClientWithOptions(baseURL, signer, opts)
}

// NewClientWithOptions creates a client with an explicit retry/breaker setup
func NewClientWithOptions(baseURL string, signer Signer, opts Options) *Client {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 100 * time.Millisecond
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = opts.InitialBackoff
	}
	if opts.BreakerDelay <= 0 {
		opts.BreakerDelay = 10 * time.Second
	}

	// Open circuit on 5xx or network errors
	breaker := circuitbreaker.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500
		}).
		WithFailureThresholdRatio(5, 10).
		WithDelay(opts.BreakerDelay).
		Build()

	var pipeline failsafe.Executor[*http.Response]
	if opts.MaxRetries > 0 {
		retryPolicy := retrypolicy.NewBuilder[*http.Response]().
			HandleIf(func(resp *http.Response, err error) bool {
				if err != nil {
					return true
				}
				return resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests
			}).
			WithBackoff(opts.InitialBackoff, opts.MaxBackoff).
			WithMaxRetries(opts.MaxRetries).
			Build()
		pipeline = failsafe.With[*http.Response](retryPolicy, breaker)
	} else {
		pipeline = failsafe.With[*http.Response](breaker)
	}

	tracer := telemetry.GetTracer("http-client")
	meter := telemetry.GetMeter("http-client")

	reqCounter, _ := meter.Int64Counter("http_requests_total",
		metric.WithDescription("Total number of HTTP requests"))
	errCounter, _ := meter.Int64Counter("http_errors_total",
		metric.WithDescription("Total number of HTTP errors"))
	latencyHist, _ := meter.Float64Histogram("http_request_duration_seconds",
		metric.WithDescription("HTTP request latency in seconds"))

	return &Client{
		client: &http.Client{
			Timeout: opts.Timeout,
		},
		baseURL:     baseURL,
		signer:      signer,
		pipeline:    pipeline,
		headers:     make(map[string]string),
		tracer:      tracer,
		reqCounter:  reqCounter,
		errCounter:  errCounter,
		latencyHist: latencyHist,
	}
}

// SetHeader adds a header sent with every request
func (c *Client) SetHeader(key, value string) {
	c.headers[key] = value
}

// Get sends a GET request
func (c *Client) Get(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	return c.withQuery(ctx, http.MethodGet, path, params)
}

// Post sends a POST request with a JSON body
func (c *Client) Post(ctx context.Context, path string, body interface{}) ([]byte, error) {
	var payload []byte
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		payload = jsonBody
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.do(req, payload)
}

// Put sends a PUT request
func (c *Client) Put(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	return c.withQuery(ctx, http.MethodPut, path, params)
}

// Delete sends a DELETE request
func (c *Client) Delete(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	return c.withQuery(ctx, http.MethodDelete, path, params)
}

func (c *Client) withQuery(ctx context.Context, method, path string, params map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	q := req.URL.Query()
	for k, v := range params {
		q.Add(k, v)
	}
	req.URL.RawQuery = q.Encode()

	return c.do(req, nil)
}

func (c *Client) do(req *http.Request, payload []byte) ([]byte, error) {
	start := time.Now()
	ctx := req.Context()

	ctx, span := c.tracer.Start(ctx, fmt.Sprintf("%s %s", req.Method, req.URL.Path),
		trace.WithAttributes(
			attribute.String("http.method", req.Method),
			attribute.String("http.url", req.URL.String()),
		),
	)
	defer span.End()

	req = req.WithContext(ctx)
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	if c.signer != nil {
		if err := c.signer.SignRequest(req); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to sign request: %w", err)
		}
	}

	// Each attempt needs a fresh body reader
	resp, err := c.pipeline.WithContext(ctx).GetWithExecution(func(exec failsafe.Execution[*http.Response]) (*http.Response, error) {
		attempt := req.Clone(exec.Context())
		if payload != nil {
			attempt.Body = io.NopCloser(bytes.NewReader(payload))
			attempt.ContentLength = int64(len(payload))
		}
		return c.client.Do(attempt)
	})

	route := []attribute.KeyValue{
		attribute.String("method", req.Method),
		attribute.String("path", req.URL.Path),
	}
	c.reqCounter.Add(ctx, 1, metric.WithAttributes(route...))
	c.latencyHist.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(route...))

	if err != nil {
		span.RecordError(err)
		c.countError(ctx, route, attribute.String("error", "pipeline_failed"))
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	body, err := io.ReadAll(resp.Body)
	switch {
	case err != nil:
		span.RecordError(err)
		return nil, fmt.Errorf("failed to read response body: %w", err)
	case resp.StatusCode >= http.StatusBadRequest:
		c.countError(ctx, route, attribute.Int("status", resp.StatusCode))
		return nil, &APIError{StatusCode: resp.StatusCode, Body: body}
	}
	return body, nil
}

func (c *Client) countError(ctx context.Context, route []attribute.KeyValue, reason attribute.KeyValue) {
	attrs := append(append([]attribute.KeyValue{}, route...), reason)
	c.errCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
}
