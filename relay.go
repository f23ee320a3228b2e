// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package relay provides reliable consumption of Kafka topics with
// batched, retried commits, handler retries and dead-letter routing.
//
// The consumption pipeline lives in [github.com/z5labs/relay/queue/kafka].
package relay

import (
	"log/slog"

	"go.opentelemetry.io/contrib/bridges/otelslog"
)

// Logger returns a [slog.Logger] which emits records through the global
// OpenTelemetry LoggerProvider under the given instrumentation scope name.
func Logger(name string) *slog.Logger {
	return otelslog.NewLogger(name)
}
