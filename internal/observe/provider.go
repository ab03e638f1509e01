package observe

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures [InitProvider].
type ProviderConfig struct {
	// ServiceName defaults to "pivoice".
	ServiceName string

	ServiceVersion string

	// Host names the device in telemetry. Defaults to os.Hostname.
	Host string

	// Registerer receives the Prometheus collector. Defaults to
	// prometheus.DefaultRegisterer, which promhttp.Handler serves.
	Registerer prometheus.Registerer

	// TraceExporter receives finished spans. Nil keeps spans in process only;
	// their IDs still show up in logs.
	TraceExporter sdktrace.SpanExporter

	// SampleRatio is the fraction of command cycles traced when an exporter
	// is set. Values outside (0, 1] sample everything.
	SampleRatio float64
}

// InitProvider installs global meter and tracer providers. Metrics are
// exposed through a Prometheus collector. The returned function flushes and
// stops both providers.
func InitProvider(ctx context.Context, cfg ProviderConfig) (func(context.Context) error, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "pivoice"
	}
	if cfg.Host == "" {
		cfg.Host, _ = os.Hostname()
	}

	attrs := []resource.Option{
		resource.WithSchemaURL(semconv.SchemaURL),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	}
	if cfg.Host != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.HostName(cfg.Host)))
	}
	res, err := resource.New(ctx, attrs...)
	if err != nil {
		return nil, fmt.Errorf("observe: build resource: %w", err)
	}

	var promOpts []promexporter.Option
	if cfg.Registerer != nil {
		promOpts = append(promOpts, promexporter.WithRegisterer(cfg.Registerer))
	}
	exporter, err := promexporter.New(promOpts...)
	if err != nil {
		return nil, fmt.Errorf("observe: prometheus exporter: %w", err)
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
		if cfg.SampleRatio > 0 && cfg.SampleRatio < 1 {
			tpOpts = append(tpOpts, sdktrace.WithSampler(
				sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio)),
			))
		}
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)

	otel.SetMeterProvider(mp)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(tp.Shutdown(ctx), mp.Shutdown(ctx))
	}, nil
}
