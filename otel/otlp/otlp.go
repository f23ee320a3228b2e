// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package otlp provides OpenTelemetry Protocol (OTLP) exporters for traces, metrics, and logs.
//
// Exporters speak either gRPC or HTTP/protobuf and are configured through
// config.Reader fields. The *FromEnv constructors follow the OpenTelemetry
// environment variables:
//   - OTEL_EXPORTER_OTLP_<SIGNAL>_ENDPOINT, falling back to OTEL_EXPORTER_OTLP_ENDPOINT
//   - OTEL_EXPORTER_OTLP_<SIGNAL>_PROTOCOL, falling back to OTEL_EXPORTER_OTLP_PROTOCOL
//   - OTEL_EXPORTER_OTLP_INSECURE
//
// An exporter without an endpoint produces no value, which leaves the
// corresponding signal disabled.
package otlp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	"github.com/z5labs/relay/config"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploghttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

// Protocol is the transport used to send telemetry to a collector.
type Protocol string

const (
	GRPC         Protocol = "grpc"
	HTTPProtobuf Protocol = "http/protobuf"
)

// UnknownProtocolError is returned when an exporter is configured with a
// protocol other than [GRPC] or [HTTPProtobuf].
type UnknownProtocolError struct {
	Protocol Protocol
}

func (e UnknownProtocolError) Error() string {
	return fmt.Sprintf("otlp: unknown protocol: %q", e.Protocol)
}

// Exporter holds the settings shared by every signal's exporter.
type Exporter struct {
	Endpoint config.Reader[string]   // host:port of the collector
	Protocol config.Reader[Protocol] // defaults to GRPC
	Insecure config.Reader[bool]     // defaults to true
}

// ExporterFromEnv reads the exporter settings for signal, which is one of
// "TRACES", "METRICS" or "LOGS".
func ExporterFromEnv(signal string) Exporter {
	return Exporter{
		Endpoint: config.Or(
			config.Env("OTEL_EXPORTER_OTLP_"+signal+"_ENDPOINT"),
			config.Env("OTEL_EXPORTER_OTLP_ENDPOINT"),
		),
		Protocol: config.Map(
			config.Or(
				config.Env("OTEL_EXPORTER_OTLP_"+signal+"_PROTOCOL"),
				config.Env("OTEL_EXPORTER_OTLP_PROTOCOL"),
			),
			func(ctx context.Context, s string) (Protocol, error) {
				return Protocol(s), nil
			},
		),
		Insecure: config.BoolFromString(config.Env("OTEL_EXPORTER_OTLP_INSECURE")),
	}
}

type settings struct {
	endpoint string
	protocol Protocol
	insecure bool
}

// read returns false if no endpoint is configured.
func (e Exporter) read(ctx context.Context) (settings, bool, error) {
	endpoint, err := config.Read(ctx, e.Endpoint)
	if errors.Is(err, config.ErrValueNotSet) {
		return settings{}, false, nil
	}
	if err != nil {
		return settings{}, false, err
	}

	s := settings{
		endpoint: endpoint,
		protocol: GRPC,
		insecure: true,
	}
	if e.Protocol != nil {
		v, err := e.Protocol.Read(ctx)
		if err != nil {
			return settings{}, false, err
		}
		if p, ok := v.Value(); ok {
			s.protocol = p
		}
	}
	if e.Insecure != nil {
		v, err := e.Insecure.Read(ctx)
		if err != nil {
			return settings{}, false, err
		}
		if b, ok := v.Value(); ok {
			s.insecure = b
		}
	}
	return s, true, nil
}

func (s settings) dialOption() grpc.DialOption {
	if s.insecure {
		return grpc.WithTransportCredentials(insecure.NewCredentials())
	}
	return grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12}))
}

// TraceExporter creates an OTLP [sdktrace.SpanExporter].
type TraceExporter struct {
	Exporter
}

// TraceExporterFromEnv configures a [TraceExporter] from OTEL_EXPORTER_OTLP_TRACES_* variables.
func TraceExporterFromEnv() TraceExporter {
	return TraceExporter{Exporter: ExporterFromEnv("TRACES")}
}

// Read implements the [config.Reader] interface.
func (cfg TraceExporter) Read(ctx context.Context) (config.Value[sdktrace.SpanExporter], error) {
	s, ok, err := cfg.read(ctx)
	if err != nil || !ok {
		return config.Value[sdktrace.SpanExporter]{}, err
	}

	var exp sdktrace.SpanExporter
	switch s.protocol {
	case GRPC:
		exp, err = otlptracegrpc.New(
			ctx,
			otlptracegrpc.WithEndpoint(s.endpoint),
			otlptracegrpc.WithDialOption(s.dialOption()),
		)
	case HTTPProtobuf:
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(s.endpoint)}
		if s.insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exp, err = otlptracehttp.New(ctx, opts...)
	default:
		err = UnknownProtocolError{Protocol: s.protocol}
	}
	if err != nil {
		return config.Value[sdktrace.SpanExporter]{}, err
	}
	return config.ValueOf(exp), nil
}

// MetricExporter creates an OTLP [sdkmetric.Exporter].
type MetricExporter struct {
	Exporter
}

// MetricExporterFromEnv configures a [MetricExporter] from OTEL_EXPORTER_OTLP_METRICS_* variables.
func MetricExporterFromEnv() MetricExporter {
	return MetricExporter{Exporter: ExporterFromEnv("METRICS")}
}

// Read implements the [config.Reader] interface.
func (cfg MetricExporter) Read(ctx context.Context) (config.Value[sdkmetric.Exporter], error) {
	s, ok, err := cfg.read(ctx)
	if err != nil || !ok {
		return config.Value[sdkmetric.Exporter]{}, err
	}

	var exp sdkmetric.Exporter
	switch s.protocol {
	case GRPC:
		exp, err = otlpmetricgrpc.New(
			ctx,
			otlpmetricgrpc.WithEndpoint(s.endpoint),
			otlpmetricgrpc.WithDialOption(s.dialOption()),
		)
	case HTTPProtobuf:
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(s.endpoint)}
		if s.insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		exp, err = otlpmetrichttp.New(ctx, opts...)
	default:
		err = UnknownProtocolError{Protocol: s.protocol}
	}
	if err != nil {
		return config.Value[sdkmetric.Exporter]{}, err
	}
	return config.ValueOf(exp), nil
}

// LogExporter creates an OTLP [sdklog.Exporter].
type LogExporter struct {
	Exporter
}

// LogExporterFromEnv configures a [LogExporter] from OTEL_EXPORTER_OTLP_LOGS_* variables.
func LogExporterFromEnv() LogExporter {
	return LogExporter{Exporter: ExporterFromEnv("LOGS")}
}

// Read implements the [config.Reader] interface.
func (cfg LogExporter) Read(ctx context.Context) (config.Value[sdklog.Exporter], error) {
	s, ok, err := cfg.read(ctx)
	if err != nil || !ok {
		return config.Value[sdklog.Exporter]{}, err
	}

	var exp sdklog.Exporter
	switch s.protocol {
	case GRPC:
		exp, err = otlploggrpc.New(
			ctx,
			otlploggrpc.WithEndpoint(s.endpoint),
			otlploggrpc.WithDialOption(s.dialOption()),
		)
	case HTTPProtobuf:
		opts := []otlploghttp.Option{otlploghttp.WithEndpoint(s.endpoint)}
		if s.insecure {
			opts = append(opts, otlploghttp.WithInsecure())
		}
		exp, err = otlploghttp.New(ctx, opts...)
	default:
		err = UnknownProtocolError{Protocol: s.protocol}
	}
	if err != nil {
		return config.Value[sdklog.Exporter]{}, err
	}
	return config.ValueOf(exp), nil
}
