// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/twmb/franz-go/pkg/kerr"
)

var (
	// ErrDeserialization is wrapped by errors returned from a [Deserializer].
	// Deserialization failures are never retried.
	ErrDeserialization = errors.New("kafka: failed to deserialize message")

	// ErrSerialization is wrapped by errors returned from a [Serializer].
	ErrSerialization = errors.New("kafka: failed to serialize message")

	// ErrCouldNotPublish is returned by [Producer.Produce] once flushing
	// the produced record has failed too many times.
	ErrCouldNotPublish = errors.New("kafka: could not publish message")

	// ErrAlreadyConsuming is returned by [Consumer.Consume] when called
	// on a consumer which has already been started.
	ErrAlreadyConsuming = errors.New("kafka: consumer has already been started")

	// ErrNoTopics is returned when no topic has been configured.
	ErrNoTopics = errors.New("kafka: at least one topic must be configured")
)

// ErrorClass classifies broker errors by how the pipeline reacts to them.
type ErrorClass int

const (
	// ClassNone means there was no error.
	ClassNone ErrorClass = iota

	// ClassRetryable errors are transient and may succeed if tried again.
	ClassRetryable

	// ClassFatal errors are propagated immediately.
	ClassFatal
)

func (c ErrorClass) String() string {
	switch c {
	case ClassNone:
		return "none"
	case ClassRetryable:
		return "retryable"
	case ClassFatal:
		return "fatal"
	default:
		return fmt.Sprintf("ErrorClass(%d)", int(c))
	}
}

// Classify returns the [ErrorClass] of err. Only request timeouts are
// considered retryable, every other error is fatal.
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassNone
	case errors.Is(err, kerr.RequestTimedOut), errors.Is(err, context.DeadlineExceeded):
		return ClassRetryable
	default:
		return ClassFatal
	}
}

// BrokerError is an error reported by the broker for a topic partition.
type BrokerError struct {
	Topic     string
	Partition int32
	Err       error
}

// Error implements the [error] interface.
func (e *BrokerError) Error() string {
	return fmt.Sprintf("kafka: broker error for topic %q partition %d: %s", e.Topic, e.Partition, e.Err)
}

// Unwrap returns the underlying error.
func (e *BrokerError) Unwrap() error {
	return e.Err
}

// Code returns the Kafka protocol error code or -1 if the underlying
// error did not originate from the protocol.
func (e *BrokerError) Code() int16 {
	var ke *kerr.Error
	if errors.As(e.Err, &ke) {
		return ke.Code
	}
	return -1
}

// Class returns the [ErrorClass] of the underlying error.
func (e *BrokerError) Class() ErrorClass {
	return Classify(e.Err)
}

// ConsumerError is returned by [Consumer.Consume] when a message could not
// be brought to a committed or dead-lettered state. The offset is -1 for
// errors which are not tied to a specific record.
type ConsumerError struct {
	Topic     string
	Partition int32
	Offset    int64
	Err       error
}

// Error implements the [error] interface.
func (e *ConsumerError) Error() string {
	return fmt.Sprintf(
		"kafka: failed to consume message from topic %q partition %d at offset %d: %s",
		e.Topic,
		e.Partition,
		e.Offset,
		e.Err,
	)
}

// Unwrap returns the underlying error.
func (e *ConsumerError) Unwrap() error {
	return e.Err
}
