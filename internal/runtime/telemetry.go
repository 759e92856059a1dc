package runtime

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"

	"github.com/vozlabs/voz-core/internal/config"
)

// setupTelemetry installs the tracer and meter providers and returns a
// combined shutdown plus the Prometheus scrape handler (nil when the
// exporter could not be built).
func setupTelemetry(cfg config.Config, logger *slog.Logger) (func(context.Context) error, http.Handler, error) {
	ctx := context.Background()
	res, err := vozResource(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	exporter, name, err := traceExporter(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(traceProvider)
	logger.Info("telemetry initialized", slog.String("exporter", name))

	meterProvider, metricHandler := buildMeter(res, logger)
	otel.SetMeterProvider(meterProvider)

	shutdown := func(ctx context.Context) error {
		return errors.Join(meterProvider.Shutdown(ctx), traceProvider.Shutdown(ctx))
	}
	return shutdown, metricHandler, nil
}

// vozResource identifies this daemon in exported telemetry.
func vozResource(ctx context.Context, cfg config.Config) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.RuntimeName),
			semconv.ServiceNamespace("vozlabs"),
			semconv.DeploymentEnvironmentName(cfg.Environment),
		),
	)
}

// traceExporter picks OTLP over gRPC when an endpoint is configured and
// falls back to pretty-printed stdout spans for local runs.
func traceExporter(ctx context.Context, cfg config.Config) (sdktrace.SpanExporter, string, error) {
	if endpoint := strings.TrimSpace(cfg.Telemetry.OTLPEndpoint); endpoint != "" {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.Telemetry.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, opts...)
		return exporter, "otlp", err
	}
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	return exporter, "stdout", err
}

// buildMeter wires the Prometheus reader. The conversion counters keep only
// the tier attribute so scrape cardinality stays flat no matter what the
// instrumentation attaches later.
func buildMeter(res *resource.Resource, logger *slog.Logger) (*sdkmetric.MeterProvider, http.Handler) {
	promExporter, err := prometheus.New()
	if err != nil {
		logger.Warn("failed to initialize prometheus exporter", slog.String("error", err.Error()))
		return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res)), nil
	}
	meter := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
		sdkmetric.WithResource(res),
		sdkmetric.WithView(sdkmetric.NewView(
			sdkmetric.Instrument{Name: "voz_conversions_total"},
			sdkmetric.Stream{AttributeFilter: attribute.NewAllowKeysFilter("tier")},
		)),
	)
	return meter, promhttp.Handler()
}
