// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"github.com/cenkalti/backoff/v5"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/z5labs/relay/health"
	"github.com/z5labs/relay/queue"
	"github.com/z5labs/relay/retry"
)

// Options configure a [Consumer] and the [Runtime] built around it.
type Options struct {
	middleware       []queue.Middleware[Message]
	deserializer     Deserializer
	committerFactory CommitterFactory
	handlerPolicy    retry.Policy
	sleeper          retry.Sleeper
	dlqTopic         *string
	dlqSerializer    Serializer
	producerBackOff  func() backoff.BackOff
	clientOpts       []kgo.Opt
	createDLQ        *topicSpec
	readiness        *health.Binary
}

type topicSpec struct {
	partitions        int32
	replicationFactor int16
}

// Option sets a value on [Options].
type Option interface {
	ApplyKafkaOption(*Options)
}

type optionFunc func(*Options)

func (f optionFunc) ApplyKafkaOption(o *Options) {
	f(o)
}

// WithMiddleware appends middleware to the handler chain. Middleware run
// in registration order before the handler.
func WithMiddleware(mws ...queue.Middleware[Message]) Option {
	return optionFunc(func(o *Options) {
		o.middleware = append(o.middleware, mws...)
	})
}

// WithDeserializer configures how record values are decoded.
// The default is [JSONDeserializer].
func WithDeserializer(d Deserializer) Option {
	return optionFunc(func(o *Options) {
		o.deserializer = d
	})
}

// WithCommitterFactory replaces the [DefaultCommitterFactory].
func WithCommitterFactory(f CommitterFactory) Option {
	return optionFunc(func(o *Options) {
		o.committerFactory = f
	})
}

// WithHandlerRetryPolicy configures how often, and after which delay, a
// failed handler is retried. The default is [retry.DefaultPolicy].
func WithHandlerRetryPolicy(p retry.Policy) Option {
	return optionFunc(func(o *Options) {
		o.handlerPolicy = p
	})
}

// WithSleeper configures the [retry.Sleeper] used by handler retries and
// by the commit retries of the [DefaultCommitterFactory].
func WithSleeper(s retry.Sleeper) Option {
	return optionFunc(func(o *Options) {
		o.sleeper = s
	})
}

// WithDLQ routes messages which failed all handler retries to topic.
// An empty topic defaults to the first consumed topic suffixed with "-dlq".
func WithDLQ(topic string) Option {
	return optionFunc(func(o *Options) {
		o.dlqTopic = &topic
	})
}

// WithDLQSerializer configures the [Serializer] for dead letter messages.
// Their body is always the original record value. The default is
// [RawSerializer] which republishes the value as is.
func WithDLQSerializer(s Serializer) Option {
	return optionFunc(func(o *Options) {
		o.dlqSerializer = s
	})
}

// WithProducerBackOff configures the backoff between DLQ flush attempts.
func WithProducerBackOff(f func() backoff.BackOff) Option {
	return optionFunc(func(o *Options) {
		o.producerBackOff = f
	})
}

// WithClientOptions appends options to the [kgo.Client] created by [Build].
func WithClientOptions(opts ...kgo.Opt) Option {
	return optionFunc(func(o *Options) {
		o.clientOpts = append(o.clientOpts, opts...)
	})
}

// WithDLQTopicCreation makes [Build] create the dead letter topic if it
// does not exist yet.
func WithDLQTopicCreation(partitions int32, replicationFactor int16) Option {
	return optionFunc(func(o *Options) {
		o.createDLQ = &topicSpec{
			partitions:        partitions,
			replicationFactor: replicationFactor,
		}
	})
}

// WithReadiness marks b healthy while the consumer is consuming and
// unhealthy once it has been asked to stop.
func WithReadiness(b *health.Binary) Option {
	return optionFunc(func(o *Options) {
		o.readiness = b
	})
}

func newOptions(opts ...Option) *Options {
	o := &Options{
		deserializer:  JSONDeserializer{},
		dlqSerializer: RawSerializer{},
	}
	for _, opt := range opts {
		opt.ApplyKafkaOption(o)
	}
	if o.committerFactory == nil {
		var retryOpts []retry.Option
		if o.sleeper != nil {
			retryOpts = append(retryOpts, retry.WithSleeper(o.sleeper))
		}
		o.committerFactory = DefaultCommitterFactory{RetryOptions: retryOpts}
	}
	return o
}

// dlqTopicFor resolves the dead letter topic. An empty result means no
// dead letter topic is configured.
func (o *Options) dlqTopicFor(cfg Config) string {
	topic := cfg.DLQTopic
	if o.dlqTopic != nil {
		topic = *o.dlqTopic
		if topic == "" && len(cfg.Topics) > 0 {
			topic = cfg.Topics[0] + "-dlq"
		}
	}
	return topic
}
