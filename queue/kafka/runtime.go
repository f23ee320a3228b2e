// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"context"
	"log/slog"

	"github.com/sourcegraph/conc/pool"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/z5labs/relay/app"
	"github.com/z5labs/relay/config"
	"github.com/z5labs/relay/queue"
)

// Runtime runs a [Consumer] until the application is shut down.
type Runtime struct {
	log      *slog.Logger
	client   Client
	consumer *Consumer
}

// ProcessQueue implements the [queue.QueueRuntime] interface.
//
// Cancelling ctx stops the consumer once the in-flight message has been
// committed. The client is closed before returning.
func (r Runtime) ProcessQueue(ctx context.Context) error {
	defer r.client.Close()

	consumeCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	p := pool.New().WithContext(consumeCtx)
	p.Go(func(ctx context.Context) error {
		defer cancel()

		return r.consumer.Consume(ctx)
	})
	p.Go(func(consumeCtx context.Context) error {
		select {
		case <-consumeCtx.Done():
		case <-ctx.Done():
			r.log.InfoContext(consumeCtx, "stopping kafka consumer")
			r.consumer.StopConsume(func() {
				r.log.InfoContext(consumeCtx, "kafka consumer stopped")
			})
		}
		return nil
	})
	return p.Wait()
}

// Build creates an app.Builder for a Kafka queue runtime.
//
// Example:
//
//	handler := queue.ProcessorFunc[kafka.Message](func(ctx context.Context, msg kafka.Message) error {
//	    return nil
//	})
//
//	builder := kafka.Build(
//	    kafka.ConfigFromEnv(),
//	    handler,
//	    kafka.WithDLQ(""),
//	)
func Build(src config.Reader[Config], handler queue.Processor[Message], opts ...Option) app.Builder[queue.QueueRuntime] {
	return app.BuilderFunc[queue.QueueRuntime](func(ctx context.Context) (queue.QueueRuntime, error) {
		cfg, err := config.Read(ctx, src)
		if err != nil {
			return nil, err
		}
		cfg, err = cfg.WithDefaults().Validate()
		if err != nil {
			return nil, err
		}

		o := newOptions(opts...)
		tracer := newTracer(cfg)

		// The group callbacks only fire once consuming has started, by
		// which time consumer is set.
		var consumer *Consumer
		clientOpts := append(
			[]kgo.Opt{
				kgo.WithHooks(tracer, newMeter()),
				kgo.OnPartitionsRevoked(func(ctx context.Context, cl *kgo.Client, revoked map[string][]int32) {
					consumer.PartitionsRevoked(ctx, cl, revoked)
				}),
				kgo.OnPartitionsLost(func(ctx context.Context, cl *kgo.Client, lost map[string][]int32) {
					consumer.PartitionsLost(ctx, cl, lost)
				}),
			},
			o.clientOpts...,
		)
		client, err := NewClient(cfg, clientOpts...)
		if err != nil {
			return nil, err
		}

		consumer, err = newConsumer(client, cfg, handler, tracer, o)
		if err != nil {
			client.Close()
			return nil, err
		}

		if o.createDLQ != nil && consumer.dlqTopic != "" {
			err = EnsureTopics(ctx, client, o.createDLQ.partitions, o.createDLQ.replicationFactor, consumer.dlqTopic)
			if err != nil {
				client.Close()
				return nil, err
			}
		}

		runtime := Runtime{
			log:      logger().With(GroupIDAttr(cfg.GroupID)),
			client:   client,
			consumer: consumer,
		}
		return runtime, nil
	})
}
