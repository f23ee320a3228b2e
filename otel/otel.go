// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package otel configures the OpenTelemetry SDK for relay services.
//
// Every provider is a config.Reader which produces no value when its
// exporter is not configured. [Build] installs the providers which are
// configured and falls back to no-op implementations for the rest, so a
// consumer without a collector pays nothing for its instrumentation.
//
// Environment Variables:
//   - OTEL_SERVICE_NAME: Service name for resource attributes (default "relay")
//   - OTEL_SERVICE_VERSION: Service version for resource attributes
//   - OTEL_TRACES_SAMPLER_RATIO: Sampling ratio for traces (0.0 to 1.0)
//   - OTEL_BSP_EXPORT_INTERVAL: Batch span processor export interval
//   - OTEL_BSP_MAX_EXPORT_BATCH_SIZE: Maximum batch size for span exports
//   - OTEL_METRIC_EXPORT_INTERVAL: Metric export interval
//   - OTEL_BLP_EXPORT_INTERVAL: Batch log processor export interval
//   - OTEL_BLP_MAX_EXPORT_BATCH_SIZE: Maximum batch size for log exports
//
// Exporter endpoints are described in [github.com/z5labs/relay/otel/otlp].
package otel

import (
	"context"
	"errors"
	"time"

	"github.com/z5labs/relay/config"
	"github.com/z5labs/relay/otel/otlp"

	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
	"go.opentelemetry.io/otel/trace"
)

// readOr returns def if r is nil or produces no value.
func readOr[T any](ctx context.Context, def T, r config.Reader[T]) (T, error) {
	t, err := config.Read(ctx, r)
	if errors.Is(err, config.ErrValueNotSet) {
		return def, nil
	}
	return t, err
}

// Resource describes the service producing telemetry.
type Resource struct {
	ServiceName    config.Reader[string]
	ServiceVersion config.Reader[string]
}

// ResourceFromEnv reads OTEL_SERVICE_NAME and OTEL_SERVICE_VERSION.
func ResourceFromEnv() Resource {
	return Resource{
		ServiceName:    config.Env("OTEL_SERVICE_NAME"),
		ServiceVersion: config.Env("OTEL_SERVICE_VERSION"),
	}
}

// Read implements the [config.Reader] interface.
func (cfg Resource) Read(ctx context.Context) (config.Value[*resource.Resource], error) {
	serviceName, err := readOr(ctx, "relay", cfg.ServiceName)
	if err != nil {
		return config.Value[*resource.Resource]{}, err
	}
	serviceVersion, err := readOr(ctx, "", cfg.ServiceVersion)
	if err != nil {
		return config.Value[*resource.Resource]{}, err
	}

	rsc, err := resource.New(
		ctx,
		resource.WithTelemetrySDK(),
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return config.Value[*resource.Resource]{}, err
	}
	return config.ValueOf(rsc), nil
}

// TracerProvider configures an SDK tracer provider which batches spans
// to Exporter and samples by trace id.
type TracerProvider struct {
	Resource           config.Reader[*resource.Resource]
	Exporter           config.Reader[sdktrace.SpanExporter]
	SampleRatio        config.Reader[float64]       // default 1.0
	ExportInterval     config.Reader[time.Duration] // default 5s
	MaxExportBatchSize config.Reader[int]           // default 512
}

// Read implements the [config.Reader] interface.
func (cfg TracerProvider) Read(ctx context.Context) (config.Value[trace.TracerProvider], error) {
	exporter, err := readOr[sdktrace.SpanExporter](ctx, nil, cfg.Exporter)
	if err != nil || exporter == nil {
		return config.Value[trace.TracerProvider]{}, err
	}

	rsc, err := readOr(ctx, resource.Default(), cfg.Resource)
	if err != nil {
		return config.Value[trace.TracerProvider]{}, err
	}
	ratio, err := readOr(ctx, 1.0, cfg.SampleRatio)
	if err != nil {
		return config.Value[trace.TracerProvider]{}, err
	}
	exportInterval, err := readOr(ctx, 5*time.Second, cfg.ExportInterval)
	if err != nil {
		return config.Value[trace.TracerProvider]{}, err
	}
	maxExportBatchSize, err := readOr(ctx, 512, cfg.MaxExportBatchSize)
	if err != nil {
		return config.Value[trace.TracerProvider]{}, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(rsc),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))),
		sdktrace.WithBatcher(
			exporter,
			sdktrace.WithBatchTimeout(exportInterval),
			sdktrace.WithMaxExportBatchSize(maxExportBatchSize),
		),
	)
	return config.ValueOf[trace.TracerProvider](tp), nil
}

// MeterProvider configures an SDK meter provider which periodically
// exports to Exporter. Go runtime metrics are included in every export.
type MeterProvider struct {
	Resource       config.Reader[*resource.Resource]
	Exporter       config.Reader[sdkmetric.Exporter]
	ExportInterval config.Reader[time.Duration] // default 1m
}

// Read implements the [config.Reader] interface.
func (cfg MeterProvider) Read(ctx context.Context) (config.Value[metric.MeterProvider], error) {
	exporter, err := readOr[sdkmetric.Exporter](ctx, nil, cfg.Exporter)
	if err != nil || exporter == nil {
		return config.Value[metric.MeterProvider]{}, err
	}

	rsc, err := readOr(ctx, resource.Default(), cfg.Resource)
	if err != nil {
		return config.Value[metric.MeterProvider]{}, err
	}
	exportInterval, err := readOr(ctx, time.Minute, cfg.ExportInterval)
	if err != nil {
		return config.Value[metric.MeterProvider]{}, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(rsc),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(
			exporter,
			sdkmetric.WithInterval(exportInterval),
			sdkmetric.WithProducer(runtime.NewProducer()),
		)),
	)
	return config.ValueOf[metric.MeterProvider](mp), nil
}

// LoggerProvider configures an SDK logger provider which batches log
// records to Exporter.
type LoggerProvider struct {
	Resource           config.Reader[*resource.Resource]
	Exporter           config.Reader[sdklog.Exporter]
	ExportInterval     config.Reader[time.Duration] // default 1s
	MaxExportBatchSize config.Reader[int]           // default 512
}

// Read implements the [config.Reader] interface.
func (cfg LoggerProvider) Read(ctx context.Context) (config.Value[log.LoggerProvider], error) {
	exporter, err := readOr[sdklog.Exporter](ctx, nil, cfg.Exporter)
	if err != nil || exporter == nil {
		return config.Value[log.LoggerProvider]{}, err
	}

	rsc, err := readOr(ctx, resource.Default(), cfg.Resource)
	if err != nil {
		return config.Value[log.LoggerProvider]{}, err
	}
	exportInterval, err := readOr(ctx, time.Second, cfg.ExportInterval)
	if err != nil {
		return config.Value[log.LoggerProvider]{}, err
	}
	maxExportBatchSize, err := readOr(ctx, 512, cfg.MaxExportBatchSize)
	if err != nil {
		return config.Value[log.LoggerProvider]{}, err
	}

	lp := sdklog.NewLoggerProvider(
		sdklog.WithResource(rsc),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(
			exporter,
			sdklog.WithExportInterval(exportInterval),
			sdklog.WithExportMaxBatchSize(maxExportBatchSize),
		)),
	)
	return config.ValueOf[log.LoggerProvider](lp), nil
}

// SDKFromEnv configures every signal from OTEL_* environment variables
// and exports them over OTLP.
func SDKFromEnv() SDK {
	rsc := ResourceFromEnv()

	return SDK{
		TracerProvider: TracerProvider{
			Resource:           rsc,
			Exporter:           otlp.TraceExporterFromEnv(),
			SampleRatio:        config.Float64FromString(config.Env("OTEL_TRACES_SAMPLER_RATIO")),
			ExportInterval:     config.DurationFromString(config.Env("OTEL_BSP_EXPORT_INTERVAL")),
			MaxExportBatchSize: config.IntFromString(config.Env("OTEL_BSP_MAX_EXPORT_BATCH_SIZE")),
		},
		MeterProvider: MeterProvider{
			Resource:       rsc,
			Exporter:       otlp.MetricExporterFromEnv(),
			ExportInterval: config.DurationFromString(config.Env("OTEL_METRIC_EXPORT_INTERVAL")),
		},
		LoggerProvider: LoggerProvider{
			Resource:           rsc,
			Exporter:           otlp.LogExporterFromEnv(),
			ExportInterval:     config.DurationFromString(config.Env("OTEL_BLP_EXPORT_INTERVAL")),
			MaxExportBatchSize: config.IntFromString(config.Env("OTEL_BLP_MAX_EXPORT_BATCH_SIZE")),
		},
	}
}
