// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/plugin/kotel"
	"github.com/z5labs/relay/health"
	"github.com/z5labs/relay/queue"
	"go.opentelemetry.io/otel/codes"
)

// Headers added to messages published to the dead letter topic.
const (
	HeaderOriginalTopic     = "relay.original.topic"
	HeaderOriginalPartition = "relay.original.partition"
	HeaderOriginalOffset    = "relay.original.offset"
	HeaderError             = "relay.error"
)

const (
	stateIdle int32 = iota
	stateRunning
	stateStopped
)

// Consumer polls records one at a time, hands them to a handler and
// commits them once handled.
//
// A Consumer is single use: it can only be started once.
type Consumer struct {
	log          *slog.Logger
	client       Client
	topics       []string
	pollTimeout  time.Duration
	maxMessages  int64
	deserializer Deserializer
	handler      queue.Processor[Message]
	committer    Committer
	counter      *MessageCounter
	producer     *Producer
	dlqTopic     string
	tracer       *kotel.Tracer
	metrics      *metricsRecorder
	readiness    *health.Binary

	state    atomic.Int32
	stopping atomic.Bool
	consumed atomic.Int64

	mu        sync.Mutex
	onStopped []func()
}

// NewConsumer initializes a [Consumer] for the topics in cfg.
//
// handler is wrapped with handler level retries first and then with any
// configured middleware, so middleware run once per message.
func NewConsumer(client Client, cfg Config, handler queue.Processor[Message], opts ...Option) (*Consumer, error) {
	cfg, err := cfg.WithDefaults().Validate()
	if err != nil {
		return nil, err
	}
	return newConsumer(client, cfg, handler, newTracer(cfg), newOptions(opts...))
}

func newConsumer(client Client, cfg Config, handler queue.Processor[Message], tracer *kotel.Tracer, o *Options) (*Consumer, error) {
	metrics, err := newMetricsRecorder()
	if err != nil {
		return nil, fmt.Errorf("kafka: failed to initialize metrics: %w", err)
	}

	log := logger().With(GroupIDAttr(cfg.GroupID))

	counter := &MessageCounter{}
	c := &Consumer{
		log:          log,
		client:       client,
		topics:       cfg.Topics,
		pollTimeout:  cfg.PollTimeout,
		maxMessages:  cfg.MaxMessages,
		deserializer: o.deserializer,
		handler: queue.Chain(
			newRetryableHandler(handler, o.handlerPolicy, o.sleeper, metrics),
			o.middleware...,
		),
		committer: o.committerFactory.NewCommitter(cfg, client, counter),
		counter:   counter,
		dlqTopic:  o.dlqTopicFor(cfg),
		tracer:    tracer,
		metrics:   metrics,
		readiness: o.readiness,
	}
	if c.dlqTopic != "" {
		var producerOpts []ProducerOption
		producerOpts = append(producerOpts, ProduceSerializer(o.dlqSerializer))
		if o.producerBackOff != nil {
			producerOpts = append(producerOpts, ProduceBackOff(o.producerBackOff))
		}
		c.producer = NewProducer(client, producerOpts...)
	}
	return c, nil
}

// ConsumedMessagesCount returns the number of messages successfully
// handled, regardless of whether they have been committed yet.
func (c *Consumer) ConsumedMessagesCount() int64 {
	return c.consumed.Load()
}

// StopConsume requests the consumer to stop once the in-flight message,
// if any, has been handled and committed. It is safe to call from within
// the handler and from other goroutines.
//
// onStopped, if not nil, is called exactly once after [Consumer.Consume]
// has returned. If the consumer has already stopped it is called immediately.
func (c *Consumer) StopConsume(onStopped func()) {
	c.mu.Lock()
	if onStopped != nil {
		c.onStopped = append(c.onStopped, onStopped)
	}
	c.mu.Unlock()

	c.stopping.Store(true)
	c.markReady(false)
	if c.state.Load() == stateStopped {
		c.notifyStopped()
	}
}

// Healthy implements the [health.Monitor] interface. A consumer is
// healthy while it is consuming and has not been asked to stop.
func (c *Consumer) Healthy(ctx context.Context) (bool, error) {
	return c.state.Load() == stateRunning && !c.stopping.Load(), nil
}

// PartitionsRevoked commits the records held back for partitions which
// are being reassigned to another group member. Its signature matches
// [kgo.OnPartitionsRevoked].
func (c *Consumer) PartitionsRevoked(ctx context.Context, _ *kgo.Client, revoked map[string][]int32) {
	if c == nil {
		return
	}
	rc, ok := c.committer.(RebalanceCommitter)
	if !ok {
		return
	}

	c.log.InfoContext(ctx, "kafka partitions revoked", slog.Any("partitions", revoked))
	err := rc.FlushPartitions(ctx, revoked)
	if err != nil {
		c.log.ErrorContext(
			ctx,
			"failed to commit revoked kafka partitions",
			slog.Any("partitions", revoked),
			slog.Any("error", err),
		)
	}
}

// PartitionsLost forgets the records held back for partitions this member
// no longer owns. Its signature matches [kgo.OnPartitionsLost].
func (c *Consumer) PartitionsLost(ctx context.Context, _ *kgo.Client, lost map[string][]int32) {
	if c == nil {
		return
	}
	rc, ok := c.committer.(RebalanceCommitter)
	if !ok {
		return
	}

	c.log.WarnContext(ctx, "kafka partitions lost", slog.Any("partitions", lost))
	rc.DropPartitions(lost)
}

func (c *Consumer) markReady(ready bool) {
	if c.readiness == nil {
		return
	}
	if ready {
		c.readiness.MarkHealthy()
		return
	}
	c.readiness.MarkUnhealthy()
}

func (c *Consumer) notifyStopped() {
	c.mu.Lock()
	callbacks := c.onStopped
	c.onStopped = nil
	c.mu.Unlock()

	for _, f := range callbacks {
		f()
	}
}

// Consume subscribes to the configured topics and processes messages until
// [Consumer.StopConsume] is called, the maximum number of messages has been
// consumed or the client is closed.
//
// A message which cannot be brought to a committed or dead lettered state
// ends consumption with a [*ConsumerError]. Cancelling ctx aborts a pending
// poll and ctx.Err() is returned.
func (c *Consumer) Consume(ctx context.Context) error {
	if !c.state.CompareAndSwap(stateIdle, stateRunning) {
		return ErrAlreadyConsuming
	}
	defer func() {
		c.markReady(false)
		c.state.Store(stateStopped)
		c.notifyStopped()
	}()

	c.client.AddConsumeTopics(c.topics...)
	c.log.InfoContext(ctx, "consuming kafka topics", slog.Any("topics", c.topics))
	if !c.stopping.Load() {
		c.markReady(true)
	}

	for !c.shouldStop() {
		if err := ctx.Err(); err != nil {
			return err
		}

		records, closed, err := c.poll(ctx)
		if err != nil {
			return err
		}
		if closed {
			c.log.InfoContext(ctx, "kafka client closed")
			return nil
		}

		for _, record := range records {
			err := c.consume(ctx, record)
			if err != nil {
				return err
			}
			if c.shouldStop() {
				break
			}
		}
	}

	c.log.InfoContext(ctx, "stopped consuming kafka topics", slog.Int64("consumed", c.ConsumedMessagesCount()))
	return nil
}

func (c *Consumer) shouldStop() bool {
	if c.stopping.Load() {
		return true
	}
	return c.maxMessages > 0 && c.consumed.Load() >= c.maxMessages
}

// poll returns closed when the client has been closed. A poll which times
// out, or only reports retryable errors, returns no records.
func (c *Consumer) poll(ctx context.Context) (records []*kgo.Record, closed bool, err error) {
	pollCtx, cancel := context.WithTimeout(ctx, c.pollTimeout)
	defer cancel()

	fetches := c.client.PollRecords(pollCtx, 1)
	if fetches.IsClientClosed() {
		return nil, true, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}

	var errs []error
	fetches.EachError(func(topic string, partition int32, err error) {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return
		}

		brokerErr := &BrokerError{Topic: topic, Partition: partition, Err: err}
		if brokerErr.Class() == ClassRetryable {
			c.log.WarnContext(
				ctx,
				"retryable error while polling kafka",
				TopicAttr(topic),
				PartitionAttr(partition),
				slog.Any("error", err),
			)
			return
		}

		errs = append(errs, &ConsumerError{
			Topic:     topic,
			Partition: partition,
			Offset:    -1,
			Err:       brokerErr,
		})
	})
	if len(errs) > 0 {
		return nil, false, errors.Join(errs...)
	}
	return fetches.Records(), false, nil
}

func (c *Consumer) consume(ctx context.Context, record *kgo.Record) error {
	if record.Context == nil {
		record.Context = ctx
	}

	spanCtx, span := c.tracer.WithProcessSpan(record)
	defer span.End()

	// spanCtx carries the propagated record headers but may not derive
	// from ctx, so cancellation is forwarded explicitly.
	handleCtx, cancel := context.WithCancel(spanCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := c.handle(handleCtx, record)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (c *Consumer) handle(ctx context.Context, record *kgo.Record) error {
	msg, err := c.deserializer.Deserialize(record)
	if err != nil {
		if !errors.Is(err, ErrDeserialization) {
			err = fmt.Errorf("%w: %w", ErrDeserialization, err)
		}
		return newConsumerError(record, err)
	}

	err = c.handler.Process(ctx, msg)
	c.metrics.recordMessageProcessed(ctx, record.Topic, record.Partition, err)
	if err == nil {
		c.consumed.Add(1)

		err = c.committer.CommitMessage(ctx, record, true)
		if err != nil {
			return newConsumerError(record, err)
		}
		c.metrics.recordMessageCommitted(ctx, record.Topic, record.Partition)
		return nil
	}

	c.log.ErrorContext(
		ctx,
		"failed to process kafka record",
		TopicAttr(record.Topic),
		PartitionAttr(record.Partition),
		OffsetAttr(record.Offset),
		KeyAttr(record.Key),
		slog.Any("error", err),
	)

	if c.producer == nil {
		commitErr := c.committer.CommitMessage(ctx, record, false)
		if commitErr != nil {
			err = errors.Join(err, commitErr)
		}
		return newConsumerError(record, err)
	}

	return c.deadLetter(ctx, record, msg, err)
}

func (c *Consumer) deadLetter(ctx context.Context, record *kgo.Record, msg Message, cause error) error {
	headers := append(
		msg.Headers[:len(msg.Headers):len(msg.Headers)],
		Header{Key: HeaderOriginalTopic, Value: []byte(record.Topic)},
		Header{Key: HeaderOriginalPartition, Value: []byte(strconv.FormatInt(int64(record.Partition), 10))},
		Header{Key: HeaderOriginalOffset, Value: []byte(strconv.FormatInt(record.Offset, 10))},
		Header{Key: HeaderError, Value: []byte(cause.Error())},
	)

	err := c.producer.Produce(ctx, OutboundMessage{
		Topic:   c.dlqTopic,
		Key:     record.Key,
		Headers: headers,
		Body:    record.Value,
	})
	if err != nil {
		return newConsumerError(record, errors.Join(cause, err))
	}
	c.metrics.recordMessageDLQ(ctx, record.Topic, record.Partition)

	c.log.WarnContext(
		ctx,
		"published kafka record to dead letter topic",
		TopicAttr(record.Topic),
		PartitionAttr(record.Partition),
		OffsetAttr(record.Offset),
		slog.String("dlq.topic", c.dlqTopic),
	)

	err = c.committer.CommitDLQ(ctx, record)
	if err != nil {
		return newConsumerError(record, err)
	}
	return nil
}

func newConsumerError(record *kgo.Record, err error) *ConsumerError {
	return &ConsumerError{
		Topic:     record.Topic,
		Partition: record.Partition,
		Offset:    record.Offset,
		Err:       err,
	}
}
