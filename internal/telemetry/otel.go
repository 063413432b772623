package telemetry

import (
	"context"
	"log/slog"
	"os"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
)

// Instruments holds the counters/histograms shared across the supervisor and workflow
// packages so they don't each redeclare the same metric names.
type Instruments struct {
	JobsProcessed  metric.Int64Counter
	JobsSucceeded  metric.Int64Counter
	JobsFailed     metric.Int64Counter
	RetryAttempts  metric.Int64Counter
	CircuitOpens   metric.Int64Counter
	CircuitCloses  metric.Int64Counter
	TaskDurationMS metric.Float64Histogram
}

// InitTracer configures a global tracer provider with an OTLP gRPC exporter. If the
// exporter cannot be constructed (no collector reachable at init time), it returns a
// no-op shutdown function rather than failing startup.
func InitTracer(ctx context.Context, service string) func(context.Context) error {
	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if endpoint == "" {
		endpoint = "localhost:4317"
	}
	exp, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithDialOption(grpc.WithInsecure()),
	)
	if err != nil {
		slog.Warn("otel trace exporter init failed", "error", err)
		return func(context.Context) error { return nil }
	}
	res, _ := sdkresource.Merge(sdkresource.Default(), sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
	))
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	slog.Info("otel tracer initialized", "endpoint", endpoint)
	return tp.Shutdown
}

// InitMetrics sets up a global OTLP metrics exporter (push) and returns a shutdown
// function plus the shared instrument set.
func InitMetrics(ctx context.Context, service string) (shutdown func(context.Context) error, instruments Instruments) {
	res, _ := sdkresource.Merge(sdkresource.Default(), sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(service),
		attribute.String("service", service),
	))

	endpoint := os.Getenv("OTEL_EXPORTER_OTLP_METRICS_ENDPOINT")
	if endpoint == "" {
		endpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	}
	if endpoint == "" {
		endpoint = "localhost:4317"
	}

	ctxInit, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	exp, err := otlpmetricgrpc.New(ctxInit,
		otlpmetricgrpc.WithEndpoint(endpoint),
		otlpmetricgrpc.WithDialOption(grpc.WithInsecure()),
	)
	if err != nil {
		slog.Warn("otel metrics exporter init failed", "error", err)
		return func(context.Context) error { return nil }, newInstruments()
	}

	reader := sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(10*time.Second))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader), sdkmetric.WithResource(res))
	otel.SetMeterProvider(mp)
	slog.Info("otel metrics initialized", "endpoint", endpoint)
	return mp.Shutdown, newInstruments()
}

func newInstruments() Instruments {
	meter := otel.Meter("fractor")
	jobsProcessed, _ := meter.Int64Counter("fractor_jobs_processed_total")
	jobsSucceeded, _ := meter.Int64Counter("fractor_jobs_succeeded_total")
	jobsFailed, _ := meter.Int64Counter("fractor_jobs_failed_total")
	retryAttempts, _ := meter.Int64Counter("fractor_retry_attempts_total")
	circuitOpens, _ := meter.Int64Counter("fractor_circuit_open_total")
	circuitCloses, _ := meter.Int64Counter("fractor_circuit_closed_total")
	taskDuration, _ := meter.Float64Histogram("fractor_task_duration_ms")
	return Instruments{
		JobsProcessed:  jobsProcessed,
		JobsSucceeded:  jobsSucceeded,
		JobsFailed:     jobsFailed,
		RetryAttempts:  retryAttempts,
		CircuitOpens:   circuitOpens,
		CircuitCloses:  circuitCloses,
		TaskDurationMS: taskDuration,
	}
}

// Flush runs shutdown with a bounded deadline, swallowing the error — used at process
// exit where there's no one left to report to.
func Flush(ctx context.Context, shutdown func(context.Context) error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_ = shutdown(ctx)
}
