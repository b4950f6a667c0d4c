package telemetry

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
)

// InitMetrics installs only the Prometheus meter provider. Tools that do not
// want trace or log exporters use this instead of Setup.
func InitMetrics(scope string) error {
	exporter, err := prometheus.New()
	if err != nil {
		return err
	}

	provider := metric.NewMeterProvider(
		metric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	return GetGlobalMetrics().InitMetrics(provider.Meter(scope))
}
