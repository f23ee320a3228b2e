// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"log/slog"

	"github.com/z5labs/relay"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/z5labs/relay/queue/kafka"

func logger() *slog.Logger {
	return relay.Logger(instrumentationName)
}

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
