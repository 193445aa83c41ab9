// Package otlpingest implements the OTLP ingestion endpoints (spec §4.9):
// TraceService and MetricsService gRPC servers that resolve the submitting
// tenant/project, flatten resource/scope/signal data into the writer's row
// shape, and persist it through a storage.Writer. Conversion failures are
// counted per-row via the standard OTLP partial_success mechanism rather
// than failing the whole batch.
//
// State machine (one batch): Received -> Resolved(tenant) -> Converted(rows)
// -> Persisted | PartiallyRejected | Failed.
package otlpingest

import (
	"context"
	"fmt"

	"google.golang.org/grpc"

	colmetricpb "go.opentelemetry.io/proto/otlp/collector/metrics/v1"
	coltracepb "go.opentelemetry.io/proto/otlp/collector/trace/v1"

	"github.com/vllora/gateway/runtime/agent/telemetry"
	"github.com/vllora/gateway/storage"
)

// base holds the dependencies shared by the trace and metrics services.
// TraceServiceServer and MetricsServiceServer both declare a method named
// Export with different signatures, so they cannot be implemented on one
// Go type; Ingest composes two small server types instead, one per gRPC
// service, both sharing base.
type base struct {
	writer   storage.Writer
	resolver TenantResolver
	logger   telemetry.Logger
}

// Ingest owns both OTLP services and registers them together.
type Ingest struct {
	traceServer   *traceServer
	metricsServer *metricsServer
}

// NewIngest constructs an Ingest persisting through writer. resolver
// defaults to DefaultTenantResolver when nil; logger defaults to a no-op
// logger when nil.
func NewIngest(writer storage.Writer, resolver TenantResolver, logger telemetry.Logger) *Ingest {
	if resolver == nil {
		resolver = DefaultTenantResolver{}
	}
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	b := base{writer: writer, resolver: resolver, logger: logger}
	return &Ingest{
		traceServer:   &traceServer{base: b},
		metricsServer: &metricsServer{base: b},
	}
}

// Register registers both OTLP services on grpcServer.
func (in *Ingest) Register(grpcServer *grpc.Server) {
	coltracepb.RegisterTraceServiceServer(grpcServer, in.traceServer)
	colmetricpb.RegisterMetricsServiceServer(grpcServer, in.metricsServer)
}

type traceServer struct {
	coltracepb.UnimplementedTraceServiceServer
	base
}

// Export implements TraceServiceServer.
func (s *traceServer) Export(ctx context.Context, req *coltracepb.ExportTraceServiceRequest) (*coltracepb.ExportTraceServiceResponse, error) {
	var rows []storage.Span
	var rejected int64
	var firstErr error

	for _, rs := range req.GetResourceSpans() {
		resourceAttrs := mergeAttrs(rs.GetResource(), nil, nil)
		_, projectID, err := s.resolver.ResolveTenant(resourceAttrs)
		if err != nil {
			s.logger.Warn(ctx, "otlpingest: tenant resolution failed", "error", err)
		}

		for _, ss := range rs.GetScopeSpans() {
			for _, sp := range ss.GetSpans() {
				row, err := convertSpan(rs.GetResource(), ss.GetScope(), projectID, sp)
				if err != nil {
					rejected++
					if firstErr == nil {
						firstErr = err
					}
					continue
				}
				rows = append(rows, row)
			}
		}
	}

	if len(rows) > 0 {
		if err := s.writer.InsertSpans(ctx, rows); err != nil {
			return nil, fmt.Errorf("otlpingest: persist spans: %w", err)
		}
	}

	resp := &coltracepb.ExportTraceServiceResponse{}
	if rejected > 0 {
		msg := ""
		if firstErr != nil {
			msg = firstErr.Error()
		}
		resp.PartialSuccess = &coltracepb.ExportTracePartialSuccess{
			RejectedSpans: rejected,
			ErrorMessage:  msg,
		}
	}
	return resp, nil
}

type metricsServer struct {
	colmetricpb.UnimplementedMetricsServiceServer
	base
}

// Export implements MetricsServiceServer.
func (s *metricsServer) Export(ctx context.Context, req *colmetricpb.ExportMetricsServiceRequest) (*colmetricpb.ExportMetricsServiceResponse, error) {
	var rows []storage.Metric
	var rejected int64
	var firstErr error

	for _, rm := range req.GetResourceMetrics() {
		resourceAttrs := mergeAttrs(rm.GetResource(), nil, nil)
		_, projectID, err := s.resolver.ResolveTenant(resourceAttrs)
		if err != nil {
			s.logger.Warn(ctx, "otlpingest: tenant resolution failed", "error", err)
		}

		for _, sm := range rm.GetScopeMetrics() {
			for _, m := range sm.GetMetrics() {
				converted, errs := convertMetric(rm.GetResource(), sm.GetScope(), projectID, m)
				rows = append(rows, converted...)
				if len(errs) > 0 {
					rejected += int64(len(errs))
					if firstErr == nil {
						firstErr = errs[0]
					}
				}
			}
		}
	}

	if len(rows) > 0 {
		if err := s.writer.InsertMetrics(ctx, rows); err != nil {
			return nil, fmt.Errorf("otlpingest: persist metrics: %w", err)
		}
	}

	resp := &colmetricpb.ExportMetricsServiceResponse{}
	if rejected > 0 {
		msg := ""
		if firstErr != nil {
			msg = firstErr.Error()
		}
		resp.PartialSuccess = &colmetricpb.ExportMetricsPartialSuccess{
			RejectedDataPoints: rejected,
			ErrorMessage:       msg,
		}
	}
	return resp, nil
}
