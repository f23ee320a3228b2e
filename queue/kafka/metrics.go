// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"context"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

// metricsRecorder holds OTel metric instruments for tracking the consumer pipeline.
// A nil *metricsRecorder records nothing.
type metricsRecorder struct {
	messagesProcessed  metric.Int64Counter
	messagesCommitted  metric.Int64Counter
	messagesDLQ        metric.Int64Counter
	processingFailures metric.Int64Counter
	retries            metric.Int64Counter
}

func newMetricsRecorder() (*metricsRecorder, error) {
	m := meter()

	messagesProcessed, err := m.Int64Counter(
		"messaging.client.messages.processed",
		metric.WithDescription("Total number of Kafka messages processed"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, err
	}

	messagesCommitted, err := m.Int64Counter(
		"messaging.client.messages.committed",
		metric.WithDescription("Total number of Kafka messages handed to the committer"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, err
	}

	messagesDLQ, err := m.Int64Counter(
		"messaging.client.messages.dlq",
		metric.WithDescription("Total number of Kafka messages published to the dead letter topic"),
		metric.WithUnit("{message}"),
	)
	if err != nil {
		return nil, err
	}

	processingFailures, err := m.Int64Counter(
		"messaging.client.processing.failures",
		metric.WithDescription("Total number of Kafka messages which failed processing after all retries"),
		metric.WithUnit("{failure}"),
	)
	if err != nil {
		return nil, err
	}

	retries, err := m.Int64Counter(
		"messaging.client.retries",
		metric.WithDescription("Total number of handler retries"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, err
	}

	return &metricsRecorder{
		messagesProcessed:  messagesProcessed,
		messagesCommitted:  messagesCommitted,
		messagesDLQ:        messagesDLQ,
		processingFailures: processingFailures,
		retries:            retries,
	}, nil
}

func partitionAttrs(topic string, partition int32) metric.MeasurementOption {
	return metric.WithAttributes(
		semconv.MessagingSystemKafka,
		semconv.MessagingDestinationName(topic),
		semconv.MessagingDestinationPartitionID(strconv.FormatInt(int64(partition), 10)),
	)
}

func (m *metricsRecorder) recordMessageProcessed(ctx context.Context, topic string, partition int32, err error) {
	if m == nil {
		return
	}
	m.messagesProcessed.Add(ctx, 1,
		partitionAttrs(topic, partition),
		metric.WithAttributes(attribute.String("messaging.process.status", processStatus(err))),
	)
	if err != nil {
		m.processingFailures.Add(ctx, 1, partitionAttrs(topic, partition))
	}
}

func (m *metricsRecorder) recordMessageCommitted(ctx context.Context, topic string, partition int32) {
	if m == nil {
		return
	}
	m.messagesCommitted.Add(ctx, 1, partitionAttrs(topic, partition))
}

func (m *metricsRecorder) recordMessageDLQ(ctx context.Context, topic string, partition int32) {
	if m == nil {
		return
	}
	m.messagesDLQ.Add(ctx, 1, partitionAttrs(topic, partition))
}

func (m *metricsRecorder) recordRetry(ctx context.Context, topic string, partition int32) {
	if m == nil {
		return
	}
	m.retries.Add(ctx, 1, partitionAttrs(topic, partition))
}

func processStatus(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
