// Package tracing wires the process-wide OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/time/rate"

	"github.com/necyber/elephie/config"
	"github.com/necyber/elephie/pkg/logger"
)

// Service identifies the process in exported spans.
type Service struct {
	Name        string
	Version     string
	Environment string
}

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(ctx context.Context) error

// failureReportInterval spaces out exporter warnings. A collector on a
// laptop is often offline and every batch would otherwise log.
const failureReportInterval = time.Minute

// collector is a parsed OTLP endpoint. Scheme-less endpoints and http://
// connect in plaintext; https:// uses TLS.
type collector struct {
	addr   string
	secure bool
}

func parseCollector(raw string) (collector, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return collector{}, errors.New("tracing endpoint cannot be empty")
	}
	if !strings.Contains(raw, "://") {
		return collector{addr: raw}, nil
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return collector{}, fmt.Errorf("invalid tracing endpoint %q", raw)
	}
	return collector{addr: u.Host, secure: strings.EqualFold(u.Scheme, "https")}, nil
}

var reportExporterFailure = func(err error, c collector, dropped int) {
	logger.Warn("tracing exporter failed",
		"error", err,
		"endpoint", c.addr,
		"dropped_spans", dropped,
	)
}

var newOTLPExporter = func(ctx context.Context, c collector, cfg config.TracingConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(c.addr),
		otlptracegrpc.WithTimeout(cfg.Timeout),
	}
	if !c.secure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	if len(cfg.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(cfg.Headers))
	}
	return otlptracegrpc.New(ctx, opts...)
}

// isolatingExporter keeps export failures away from request paths. Failed
// batches are dropped; the count since the last warning is reported at most
// once per failureReportInterval.
type isolatingExporter struct {
	sdktrace.SpanExporter
	collector collector
	report    rate.Sometimes
	dropped   atomic.Int64
}

func (e *isolatingExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if err := e.SpanExporter.ExportSpans(ctx, spans); err != nil {
		e.dropped.Add(int64(len(spans)))
		e.report.Do(func() {
			reportExporterFailure(err, e.collector, int(e.dropped.Swap(0)))
		})
	}
	return nil
}

// Init installs the global tracer provider and W3C propagators. Turns,
// searches and ingest batches start spans on the global provider, so with
// tracing disabled they cost a no-op. Outbound model calls carry the
// propagated context either way.
func Init(ctx context.Context, cfg config.TracingConfig, svc Service) (ShutdownFunc, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if !cfg.Enabled {
		otel.SetTracerProvider(noop.NewTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	if exporter := strings.TrimSpace(cfg.Exporter); exporter != "" && !strings.EqualFold(exporter, "otlp") {
		return nil, fmt.Errorf("unsupported tracing exporter %q", cfg.Exporter)
	}
	if cfg.Timeout <= 0 {
		return nil, errors.New("tracing timeout must be > 0")
	}
	c, err := parseCollector(cfg.Endpoint)
	if err != nil {
		return nil, err
	}

	inner, err := newOTLPExporter(ctx, c, cfg)
	if err != nil {
		return nil, fmt.Errorf("create tracing exporter: %w", err)
	}
	exp := &isolatingExporter{
		SpanExporter: inner,
		collector:    c,
		report:       rate.Sometimes{First: 1, Interval: failureReportInterval},
	}

	res, err := newResource(ctx, svc)
	if err != nil {
		_ = exp.Shutdown(ctx)
		return nil, fmt.Errorf("create tracing resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(selectSampler(cfg)),
	)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(tp.ForceFlush(ctx), tp.Shutdown(ctx))
	}, nil
}

func newResource(ctx context.Context, svc Service) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(svc.Name),
		semconv.ServiceVersion(svc.Version),
	}
	if svc.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentName(svc.Environment))
	}
	return resource.New(ctx,
		resource.WithAttributes(attrs...),
		resource.WithHost(),
		resource.WithProcessPID(),
	)
}

func selectSampler(cfg config.TracingConfig) sdktrace.Sampler {
	switch strings.ToLower(strings.TrimSpace(cfg.Sampler)) {
	case "always_on":
		return sdktrace.AlwaysSample()
	case "always_off":
		return sdktrace.NeverSample()
	case "traceidratio":
		return sdktrace.TraceIDRatioBased(cfg.SampleRate)
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))
	}
}
