// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Command relay consumes the configured Kafka topics and logs every message.
//
// The consumer is configured from KAFKA_* environment variables. When
// RELAY_CONFIG names a YAML file, it is used instead. Telemetry is exported
// over OTLP once OTEL_EXPORTER_OTLP_ENDPOINT is set. Liveness and readiness
// probes are served on HTTP_ADDR (default ":8080").
package main

import (
	"context"
	"io"
	"log/slog"
	nethttp "net/http"
	"os"

	"github.com/z5labs/relay/app"
	"github.com/z5labs/relay/config"
	"github.com/z5labs/relay/health"
	"github.com/z5labs/relay/http"
	"github.com/z5labs/relay/otel"
	"github.com/z5labs/relay/queue"
	"github.com/z5labs/relay/queue/kafka"
	"github.com/z5labs/sdk-go/try"
)

func main() {
	err := run(context.Background())
	if err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) (err error) {
	logHandler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{})

	var src config.Reader[kafka.Config] = kafka.ConfigFromEnv()
	if path, ok := os.LookupEnv("RELAY_CONFIG"); ok && path != "" {
		f, openErr := os.Open(path)
		if openErr != nil {
			slog.New(logHandler).ErrorContext(ctx, "failed to open config file", slog.String("path", path), slog.Any("error", openErr))
			return openErr
		}
		defer try.Close(&err, f)

		src = kafka.ConfigFromYAML(config.ReaderOf[io.Reader](f))
	}

	var readiness health.Binary
	builder := kafka.Build(
		src,
		logMessages(slog.New(logHandler)),
		kafka.WithDeserializer(kafka.RawDeserializer{}),
		kafka.WithMiddleware(skipTombstones()),
		kafka.WithReadiness(&readiness),
	)

	probes := http.Build(
		http.ServerFromEnv(),
		app.BuilderFunc[nethttp.Handler](func(ctx context.Context) (nethttp.Handler, error) {
			return http.Probes(health.Alive, &readiness), nil
		}),
	)

	return queue.Run(
		ctx,
		otel.Build(otel.SDKFromEnv(), http.WithSidecar(queue.Build(builder), probes)),
		queue.LogHandler(logHandler),
	)
}
