package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// PrometheusProvider bridges OTel metrics to a Prometheus registry.
type PrometheusProvider struct {
	Registry *prometheus.Registry
	Provider *sdkmetric.MeterProvider
}

// NewPrometheusProvider creates a meter provider that exports to a fresh
// Prometheus registry. When global is true it also becomes the global
// OTel meter provider.
func NewPrometheusProvider(global bool) (*PrometheusProvider, error) {
	reg := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	if global {
		otel.SetMeterProvider(mp)
	}
	return &PrometheusProvider{Registry: reg, Provider: mp}, nil
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusProvider) Handler() http.Handler {
	return promhttp.HandlerFor(p.Registry, promhttp.HandlerOpts{})
}
