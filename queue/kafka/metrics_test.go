// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/z5labs/relay/queue"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func setupMeterProvider(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	otel.SetMeterProvider(sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)))
	t.Cleanup(func() {
		otel.SetMeterProvider(noop.NewMeterProvider())
	})
	return reader
}

func collectSums(t *testing.T, reader *sdkmetric.ManualReader) map[string]int64 {
	t.Helper()

	var rm metricdata.ResourceMetrics
	err := reader.Collect(context.Background(), &rm)
	require.NoError(t, err)

	sums := make(map[string]int64)
	for _, sm := range rm.ScopeMetrics {
		if sm.Scope.Name != instrumentationName {
			continue
		}
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok, m.Name)
			require.True(t, sum.IsMonotonic, m.Name)

			for _, dp := range sum.DataPoints {
				sums[m.Name] += dp.Value
			}
		}
	}
	return sums
}

func TestMetricsRecorder(t *testing.T) {
	t.Run("will initialize metrics recorder", func(t *testing.T) {
		setupMeterProvider(t)

		recorder, err := newMetricsRecorder()
		require.NoError(t, err)
		require.NotNil(t, recorder)
		require.NotNil(t, recorder.messagesProcessed)
		require.NotNil(t, recorder.messagesCommitted)
		require.NotNil(t, recorder.messagesDLQ)
		require.NotNil(t, recorder.processingFailures)
		require.NotNil(t, recorder.retries)
	})

	t.Run("will record messages processed", func(t *testing.T) {
		reader := setupMeterProvider(t)

		recorder, err := newMetricsRecorder()
		require.NoError(t, err)

		ctx := context.Background()
		recorder.recordMessageProcessed(ctx, "orders", 0, nil)
		recorder.recordMessageProcessed(ctx, "orders", 1, nil)
		recorder.recordMessageProcessed(ctx, "orders", 0, errors.New("failed"))

		sums := collectSums(t, reader)
		require.Equal(t, int64(3), sums["messaging.client.messages.processed"])
		require.Equal(t, int64(1), sums["messaging.client.processing.failures"])
	})

	t.Run("will not panic", func(t *testing.T) {
		t.Run("if the recorder is nil", func(t *testing.T) {
			var recorder *metricsRecorder

			require.NotPanics(t, func() {
				ctx := context.Background()
				recorder.recordMessageProcessed(ctx, "orders", 0, nil)
				recorder.recordMessageCommitted(ctx, "orders", 0)
				recorder.recordMessageDLQ(ctx, "orders", 0)
				recorder.recordRetry(ctx, "orders", 0)
			})
		})
	})
}

func TestConsumerMetrics(t *testing.T) {
	t.Run("will record the outcome of every message", func(t *testing.T) {
		reader := setupMeterProvider(t)

		client := &fakeClient{
			fetches: []kgo.Fetches{
				recordFetches(newRecord("orders", 0, 0, "ok", "v")),
				recordFetches(newRecord("orders", 0, 1, "flaky", "v")),
				recordFetches(newRecord("orders", 0, 2, "poison", "v")),
			},
		}

		flaky := 0
		handler := queue.ProcessorFunc[Message](func(ctx context.Context, msg Message) error {
			switch string(msg.Key) {
			case "flaky":
				flaky++
				if flaky == 1 {
					return errors.New("try again")
				}
				return nil
			case "poison":
				return errors.New("cannot process")
			default:
				return nil
			}
		})

		c := newTestConsumer(t, client, testConfig(), handler, WithDLQ(""))
		err := c.Consume(context.Background())
		require.NoError(t, err)

		sums := collectSums(t, reader)
		require.Equal(t, int64(3), sums["messaging.client.messages.processed"])
		require.Equal(t, int64(2), sums["messaging.client.messages.committed"])
		require.Equal(t, int64(1), sums["messaging.client.messages.dlq"])
		require.Equal(t, int64(1), sums["messaging.client.processing.failures"])
		require.Equal(t, int64(7), sums["messaging.client.retries"])
	})
}
