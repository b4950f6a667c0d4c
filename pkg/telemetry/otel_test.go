package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestTelemetrySetup(t *testing.T) {
	tel, err := Setup("test-service")
	require.NoError(t, err)

	assert.NotNil(t, otel.GetTracerProvider())
	assert.NotNil(t, otel.GetMeterProvider())
	assert.NotNil(t, GetTracer("test-tracer"))
	assert.NotNil(t, GetMeter("test-meter"))
	assert.True(t, GetGlobalMetrics().Ready())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, tel.Shutdown(ctx))
}

func TestSetupWithoutStdoutExporters(t *testing.T) {
	tel, err := SetupWithOptions(Options{ServiceName: "quiet", ServiceVersion: "v0.0.0-test"})
	require.NoError(t, err)
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestMetricsHolderState(t *testing.T) {
	require.NoError(t, InitMetrics("metrics-test"))
	m := GetGlobalMetrics()

	m.SetPremium("spread", "upbit", "sell_at_venue", 1.93)
	v, ok := m.GetPremium("spread", "upbit", "sell_at_venue")
	require.True(t, ok)
	assert.InDelta(t, 1.93, v, 1e-9)

	_, ok = m.GetPremium("cross", "upbit", "sell_at_venue")
	assert.False(t, ok)

	m.SetCircuitBreakerOpen("bithumb", true)
	m.SetCircuitBreakerOpen("upbit", false)
	states := m.GetCircuitBreakerOpen()
	assert.Equal(t, int64(1), states["bithumb"])
	assert.Equal(t, int64(0), states["upbit"])

	// counters must not panic once initialized
	ctx := context.Background()
	m.RecordTrade(ctx, "spread", 1200, 300)
	m.RecordUnhedged(ctx, "cross", "unwind")
	m.RecordTickLatency(ctx, 12.5)
	m.RecordVenueLatency(ctx, "upbit", "order_book", 40, false)
}
