package span

import (
	"context"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// ProviderConfig configures NewProvider.
type ProviderConfig struct {
	ServiceName string
	// OTLPEndpoint is the collector gRPC endpoint. Empty disables the OTLP
	// exporter; the broadcast processor still runs.
	OTLPEndpoint string
	Insecure     bool
	// Sink receives every finished span keyed by project_id (spec §4.8 item
	// 2, the project broadcast exporter). May be nil.
	Sink Sink
}

// NewProvider builds an sdktrace.TracerProvider wired with the baggage
// processor (always) and, when OTLPEndpoint is set, a batched OTLP trace
// exporter — the two exporters spec §4.8 dispatches finished spans to in
// parallel, expressed as two sdktrace.SpanProcessors on one provider.
func NewProvider(ctx context.Context, cfg ProviderConfig) (*sdktrace.TracerProvider, error) {
	res, err := resource.New(ctx, resource.WithAttributes(semconv.ServiceName(cfg.ServiceName)))
	if err != nil {
		res = resource.Default()
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(NewBaggageProcessor(cfg.Sink)),
	}

	if cfg.OTLPEndpoint != "" {
		clientOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.Insecure {
			clientOpts = append(clientOpts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(clientOpts...))
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	return sdktrace.NewTracerProvider(opts...), nil
}
