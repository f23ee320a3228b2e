// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"context"
	"fmt"

	"github.com/cenkalti/backoff/v5"
	"github.com/twmb/franz-go/pkg/kgo"
)

const maxFlushAttempts = 10

// ProducerOptions configure a [Producer].
type ProducerOptions struct {
	serializer Serializer
	backOff    func() backoff.BackOff
}

// ProducerOption sets a value on [ProducerOptions].
type ProducerOption interface {
	ApplyProducerOption(*ProducerOptions)
}

type producerOptionFunc func(*ProducerOptions)

func (f producerOptionFunc) ApplyProducerOption(po *ProducerOptions) {
	f(po)
}

// ProduceSerializer configures the [Serializer] for message bodies.
// The default is [RawSerializer].
func ProduceSerializer(s Serializer) ProducerOption {
	return producerOptionFunc(func(po *ProducerOptions) {
		po.serializer = s
	})
}

// ProduceBackOff configures the backoff between flush attempts. f is
// called once per produced message. The default is an exponential backoff.
func ProduceBackOff(f func() backoff.BackOff) ProducerOption {
	return producerOptionFunc(func(po *ProducerOptions) {
		po.backOff = f
	})
}

// Producer publishes messages synchronously, e.g. to a dead letter topic.
type Producer struct {
	client     Client
	serializer Serializer
	backOff    func() backoff.BackOff
}

// NewProducer initializes a [Producer].
func NewProducer(client Client, opts ...ProducerOption) *Producer {
	po := &ProducerOptions{
		serializer: RawSerializer{},
		backOff: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
	for _, opt := range opts {
		opt.ApplyProducerOption(po)
	}

	return &Producer{
		client:     client,
		serializer: po.serializer,
		backOff:    po.backOff,
	}
}

// Produce publishes msg and waits for it to be acknowledged by the broker.
//
// Flushing is attempted up to 10 times after which an error wrapping
// [ErrCouldNotPublish] is returned.
func (p *Producer) Produce(ctx context.Context, msg OutboundMessage) error {
	value, err := p.serializer.Serialize(msg)
	if err != nil {
		return err
	}

	record := &kgo.Record{
		Topic:   msg.Topic,
		Key:     msg.Key,
		Value:   value,
		Headers: recordHeaders(msg.Headers),
	}

	produced := make(chan error, 1)
	p.client.Produce(ctx, record, func(r *kgo.Record, err error) {
		produced <- err
	})

	_, err = backoff.Retry(
		ctx,
		func() (struct{}, error) {
			return struct{}{}, p.client.Flush(ctx)
		},
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(maxFlushAttempts),
	)
	if err != nil {
		return fmt.Errorf("%w: topic %s: %w", ErrCouldNotPublish, msg.Topic, err)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-produced:
		if err != nil {
			return fmt.Errorf("%w: topic %s: %w", ErrCouldNotPublish, msg.Topic, err)
		}
		return nil
	}
}
