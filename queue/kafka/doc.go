// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package kafka provides a reliable Kafka consumer built on the franz-go client library.
//
// Records are polled one at a time, decoded by a [Deserializer], passed through
// the configured middleware and handed to a [queue.Processor]. Once handled, a
// record is acknowledged by a [Committer].
//
// # Delivery
//
// Processing is at-least-once. A record's offset is only committed after its
// handler succeeded or after it has been published to the dead letter topic.
// Handlers MUST be idempotent since records are redelivered after a failure.
//
// # Retries
//
// Failures are retried by the layer which owns them:
//   - handler errors are retried by [NewRetryableHandler], 6 times by default
//   - commits failing with a request timeout are retried by [RetryableCommitter]
//   - flushing dead letter messages is attempted up to 10 times by [Producer]
//
// Once a layer gives up, its error is returned unchanged to the layer above.
//
// # Committers
//
// The [DefaultCommitterFactory] composes the commit strategy from [Config]:
//
//	BatchCommitter(RetryableCommitter(KafkaCommitter(client), MaxCommitRetries), counter, CommitBatchSize)
//
// or a [VoidCommitter] when the client commits offsets itself ([Config.AutoCommit]).
//
// # Dead Letters
//
// When a dead letter topic is configured, a record whose handler failed all
// retries is published there with headers describing its origin
// ([HeaderOriginalTopic], [HeaderOriginalPartition], [HeaderOriginalOffset]
// and [HeaderError]) and consumption continues. Without one, [Consumer.Consume]
// returns a [*ConsumerError].
//
// # Example
//
//	type OrderPlaced struct {
//	    ID string `json:"id"`
//	}
//
//	handler := queue.ProcessorFunc[kafka.Message](func(ctx context.Context, msg kafka.Message) error {
//	    order := msg.Body.(OrderPlaced)
//	    return ship(ctx, order.ID)
//	})
//
//	builder := kafka.Build(
//	    kafka.ConfigFromEnv(),
//	    handler,
//	    kafka.WithDeserializer(kafka.JSONDeserializerFor[OrderPlaced]{}),
//	    kafka.WithDLQ(""),
//	)
//
//	queue.Run(context.Background(), queue.Build(builder))
package kafka
