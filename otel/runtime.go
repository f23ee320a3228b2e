// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package otel

import (
	"context"
	"errors"

	"github.com/z5labs/relay/app"
	"github.com/z5labs/relay/config"

	"github.com/z5labs/sdk-go/try"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	lognoop "go.opentelemetry.io/otel/log/noop"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// SDK holds the readers for the globally registered OpenTelemetry components.
//
// Nil readers, and readers which produce no value, fall back to:
//   - TextMapPropagator: Composite propagator (Baggage + TraceContext)
//   - TracerProvider: No-op tracer provider
//   - MeterProvider: No-op meter provider
//   - LoggerProvider: No-op logger provider
type SDK struct {
	TextMapPropagator config.Reader[propagation.TextMapPropagator]
	TracerProvider    config.Reader[trace.TracerProvider]
	MeterProvider     config.Reader[metric.MeterProvider]
	LoggerProvider    config.Reader[log.LoggerProvider]
}

// Runtime registers the SDK globally around an inner [app.Runtime] and
// shuts the providers down once it returns.
type Runtime struct {
	inner          app.Runtime
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	loggerProvider log.LoggerProvider
}

// Build reads sdk, registers the resulting components globally and then
// builds the inner runtime, so instrumentation created while building
// already reports through the configured providers.
func Build[T app.Runtime](sdk SDK, builder app.Builder[T]) app.Builder[Runtime] {
	return app.BuilderFunc[Runtime](func(ctx context.Context) (Runtime, error) {
		tmp, err := readOr[propagation.TextMapPropagator](
			ctx,
			propagation.NewCompositeTextMapPropagator(propagation.Baggage{}, propagation.TraceContext{}),
			sdk.TextMapPropagator,
		)
		if err != nil {
			return Runtime{}, err
		}
		tp, err := readOr[trace.TracerProvider](ctx, tracenoop.NewTracerProvider(), sdk.TracerProvider)
		if err != nil {
			return Runtime{}, err
		}
		mp, err := readOr[metric.MeterProvider](ctx, metricnoop.NewMeterProvider(), sdk.MeterProvider)
		if err != nil {
			return Runtime{}, errors.Join(err, shutdown(tp).Close())
		}
		lp, err := readOr[log.LoggerProvider](ctx, lognoop.NewLoggerProvider(), sdk.LoggerProvider)
		if err != nil {
			return Runtime{}, errors.Join(err, shutdown(tp, mp).Close())
		}

		otel.SetTextMapPropagator(tmp)
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
		global.SetLoggerProvider(lp)

		inner, err := builder.Build(ctx)
		if err != nil {
			return Runtime{}, errors.Join(err, shutdown(tp, mp, lp).Close())
		}

		return Runtime{
			inner:          inner,
			tracerProvider: tp,
			meterProvider:  mp,
			loggerProvider: lp,
		}, nil
	})
}

// Run implements the [app.Runtime] interface.
//
// The providers are shut down even if the inner runtime fails and any
// shutdown errors are joined with the runtime error.
func (rt Runtime) Run(ctx context.Context) (err error) {
	defer try.Close(&err, shutdown(
		rt.tracerProvider,
		rt.meterProvider,
		rt.loggerProvider,
	))

	return rt.inner.Run(ctx)
}

type closerFunc func() error

func (f closerFunc) Close() error {
	return f()
}

type shutdowner interface {
	Shutdown(context.Context) error
}

// shutdown flushes and stops every value which supports it. No-op
// providers are skipped.
func shutdown(vs ...any) closerFunc {
	return func() error {
		var errs []error
		for _, v := range vs {
			s, ok := v.(shutdowner)
			if !ok {
				continue
			}
			errs = append(errs, s.Shutdown(context.Background()))
		}
		return errors.Join(errs...)
	}
}
