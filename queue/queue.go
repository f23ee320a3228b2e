// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package queue

import (
	"context"
	"log/slog"
	"os"

	"github.com/z5labs/relay/app"
)

// Processor implements the business logic for processing message(s), T.
//
// Process is called after a message is consumed and before it is committed.
type Processor[T any] interface {
	Process(context.Context, T) error
}

// ProcessorFunc is an adapter to allow the use of ordinary functions as [Processor]s.
type ProcessorFunc[T any] func(context.Context, T) error

// Process implements the [Processor] interface.
func (f ProcessorFunc[T]) Process(ctx context.Context, t T) error {
	return f(ctx, t)
}

// Middleware wraps a [Processor]. A Middleware receives the next stage
// of the chain and decides if, and when, to call it.
type Middleware[T any] func(next Processor[T]) Processor[T]

// Chain composes middleware around p so that they run in the order given:
// for middleware A, B and C the execution flow is A→B→C→p.
func Chain[T any](p Processor[T], middleware ...Middleware[T]) Processor[T] {
	for i := len(middleware) - 1; i >= 0; i-- {
		if middleware[i] == nil {
			continue
		}
		p = middleware[i](p)
	}
	return p
}

// QueueRuntime orchestrates the message queue processing lifecycle.
//
// When ProcessQueue returns, the application will shut down gracefully.
type QueueRuntime interface {
	ProcessQueue(context.Context) error
}

// QueueRuntimeFunc is an adapter to allow the use of ordinary functions as [QueueRuntime]s.
type QueueRuntimeFunc func(context.Context) error

// ProcessQueue implements the [QueueRuntime] interface.
func (f QueueRuntimeFunc) ProcessQueue(ctx context.Context) error {
	return f(ctx)
}

// Runtime wraps a [QueueRuntime] and implements the [app.Runtime] interface.
type Runtime struct {
	queueRuntime QueueRuntime
}

// Run implements [app.Runtime] interface.
func (rt Runtime) Run(ctx context.Context) error {
	return rt.queueRuntime.ProcessQueue(ctx)
}

// Build creates an app.Builder for a queue-based application from
// a builder of the underlying [QueueRuntime].
//
// Example:
//
//	builder := queue.Build(kafka.Build(kafka.ConfigFromEnv(), handler))
//	queue.Run(context.Background(), builder)
func Build(builder app.Builder[QueueRuntime]) app.Builder[Runtime] {
	return app.Bind(builder, func(qr QueueRuntime) app.Builder[Runtime] {
		return app.BuilderFunc[Runtime](func(ctx context.Context) (Runtime, error) {
			return Runtime{queueRuntime: qr}, nil
		})
	})
}

// RunOptions holds configuration for [Run].
type RunOptions struct {
	logger *slog.Logger
}

// RunOption configures [Run] behavior.
// Use [LogHandler] to customize error logging.
type RunOption interface {
	ApplyRunOption(*RunOptions)
}

type runOptionFunc func(*RunOptions)

func (f runOptionFunc) ApplyRunOption(ro *RunOptions) {
	f(ro)
}

// LogHandler configures a custom log handler for errors during application startup and running.
// By default, errors are logged as JSON to stdout.
func LogHandler(h slog.Handler) RunOption {
	return runOptionFunc(func(ro *RunOptions) {
		ro.logger = slog.New(h)
	})
}

// Run builds and runs a queue-based application using the provided builder.
// The builder usually comes from [Build], optionally wrapped by another
// runtime such as the OpenTelemetry runtime in [github.com/z5labs/relay/otel].
//
// Signal handling is performed by app.Run, which will cancel the context
// on SIGINT or SIGTERM. Any error is logged before being returned.
func Run[T app.Runtime](ctx context.Context, builder app.Builder[T], opts ...RunOption) error {
	ro := &RunOptions{
		logger: slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{})),
	}
	for _, opt := range opts {
		opt.ApplyRunOption(ro)
	}

	err := app.Run(ctx, builder)
	if err != nil {
		app.LogError(ro.logger.Handler(), err)
	}
	return err
}
