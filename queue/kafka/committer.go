// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/z5labs/relay/retry"
)

// Committer acknowledges consumed records to the broker.
//
// CommitMessage is called once per handled record. success is false when
// the handler failed and no dead letter topic is configured. CommitDLQ is
// called once a failed record has been published to the dead letter topic.
type Committer interface {
	CommitMessage(ctx context.Context, record *kgo.Record, success bool) error
	CommitDLQ(ctx context.Context, record *kgo.Record) error
}

// VoidCommitter never commits. It is used when the client commits
// offsets on its own.
type VoidCommitter struct{}

// CommitMessage implements the [Committer] interface.
func (VoidCommitter) CommitMessage(ctx context.Context, record *kgo.Record, success bool) error {
	return nil
}

// CommitDLQ implements the [Committer] interface.
func (VoidCommitter) CommitDLQ(ctx context.Context, record *kgo.Record) error {
	return nil
}

// KafkaCommitter commits record offsets with the broker client.
type KafkaCommitter struct {
	client Client
}

// NewKafkaCommitter initializes a [KafkaCommitter].
func NewKafkaCommitter(client Client) *KafkaCommitter {
	return &KafkaCommitter{client: client}
}

// CommitMessage implements the [Committer] interface.
//
// The offset of a failed record is left uncommitted so that it is
// redelivered to the consumer group.
func (c *KafkaCommitter) CommitMessage(ctx context.Context, record *kgo.Record, success bool) error {
	if !success {
		return nil
	}
	return c.client.CommitRecords(ctx, record)
}

// CommitDLQ implements the [Committer] interface.
func (c *KafkaCommitter) CommitDLQ(ctx context.Context, record *kgo.Record) error {
	return c.client.CommitRecords(ctx, record)
}

// RetryableCommitter retries commits which failed with a request timeout.
// Any other error is returned immediately.
type RetryableCommitter struct {
	next  Committer
	retry *retry.Retryable
}

// NewRetryableCommitter wraps next with up to maxRetries retries using an
// exponential backoff starting at one second. opts are applied after the
// defaults, e.g. [retry.WithSleeper] in tests.
func NewRetryableCommitter(next Committer, maxRetries int, opts ...retry.Option) *RetryableCommitter {
	retryOpts := []retry.Option{
		retry.RetryIf(retry.On(kerr.RequestTimedOut)),
		retry.WithPolicy(retry.ExponentialPolicy{
			MaxRetries: maxRetries,
			BaseDelay:  time.Second,
		}),
	}

	return &RetryableCommitter{
		next:  next,
		retry: retry.New(append(retryOpts, opts...)...),
	}
}

// CommitMessage implements the [Committer] interface.
func (c *RetryableCommitter) CommitMessage(ctx context.Context, record *kgo.Record, success bool) error {
	return c.retry.Run(func() error {
		return c.next.CommitMessage(ctx, record, success)
	})
}

// CommitDLQ implements the [Committer] interface.
func (c *RetryableCommitter) CommitDLQ(ctx context.Context, record *kgo.Record) error {
	return c.retry.Run(func() error {
		return c.next.CommitDLQ(ctx, record)
	})
}

type topicPartition struct {
	topic     string
	partition int32
}

// BatchCommitter defers commits until size records have been handled.
//
// The latest successful record of every topic partition seen since the
// previous batch is forwarded once the threshold is reached. The counter
// is reset whether or not forwarding succeeds. CommitDLQ is never batched.
// Partition rebalances are handled through [RebalanceCommitter].
type BatchCommitter struct {
	next    Committer
	counter *MessageCounter
	size    int

	mu      sync.Mutex
	pending map[topicPartition]*kgo.Record
}

// NewBatchCommitter initializes a [BatchCommitter]. A size below one is
// treated as one.
func NewBatchCommitter(next Committer, counter *MessageCounter, size int) *BatchCommitter {
	return &BatchCommitter{
		next:    next,
		counter: counter,
		size:    max(size, 1),
		pending: make(map[topicPartition]*kgo.Record),
	}
}

// CommitMessage implements the [Committer] interface.
func (c *BatchCommitter) CommitMessage(ctx context.Context, record *kgo.Record, success bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.counter.Add()
	if success {
		tp := topicPartition{topic: record.Topic, partition: record.Partition}
		if prev, ok := c.pending[tp]; !ok || prev.Offset < record.Offset {
			c.pending[tp] = record
		}
	}
	if !c.counter.Reached(c.size) {
		return nil
	}

	defer c.counter.Reset()
	defer clear(c.pending)

	var errs []error
	for _, r := range c.pendingRecords() {
		err := c.next.CommitMessage(ctx, r, true)
		if err != nil {
			errs = append(errs, err)
		}
	}
	if !success {
		err := c.next.CommitMessage(ctx, record, false)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *BatchCommitter) pendingRecords() []*kgo.Record {
	records := make([]*kgo.Record, 0, len(c.pending))
	for _, r := range c.pending {
		records = append(records, r)
	}
	slices.SortFunc(records, func(a, b *kgo.Record) int {
		return cmp.Or(
			cmp.Compare(a.Topic, b.Topic),
			cmp.Compare(a.Partition, b.Partition),
		)
	})
	return records
}

// CommitDLQ implements the [Committer] interface.
//
// A pending record of the same partition below record is dropped, since
// committing it later would move the partition's offset backwards.
func (c *BatchCommitter) CommitDLQ(ctx context.Context, record *kgo.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tp := topicPartition{topic: record.Topic, partition: record.Partition}
	if prev, ok := c.pending[tp]; ok && prev.Offset < record.Offset {
		delete(c.pending, tp)
	}
	return c.next.CommitDLQ(ctx, record)
}

// FlushPartitions implements the [RebalanceCommitter] interface. Pending
// records of the given partitions are forwarded and forgotten. The
// counter is left untouched.
func (c *BatchCommitter) FlushPartitions(ctx context.Context, partitions map[string][]int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for _, r := range c.pendingRecords() {
		if !containsPartition(partitions, r.Topic, r.Partition) {
			continue
		}
		delete(c.pending, topicPartition{topic: r.Topic, partition: r.Partition})

		err := c.next.CommitMessage(ctx, r, true)
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// DropPartitions implements the [RebalanceCommitter] interface.
func (c *BatchCommitter) DropPartitions(partitions map[string][]int32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for topic, ps := range partitions {
		for _, p := range ps {
			delete(c.pending, topicPartition{topic: topic, partition: p})
		}
	}
}

func containsPartition(partitions map[string][]int32, topic string, partition int32) bool {
	return slices.Contains(partitions[topic], partition)
}

// RebalanceCommitter is implemented by committers which hold back
// records per partition. Revoked partitions are flushed before another
// group member takes them over. Lost partitions are dropped, as the
// member may no longer commit for them.
type RebalanceCommitter interface {
	Committer
	FlushPartitions(ctx context.Context, partitions map[string][]int32) error
	DropPartitions(partitions map[string][]int32)
}

// CommitterFactory creates the [Committer] used by a consumer.
type CommitterFactory interface {
	NewCommitter(cfg Config, client Client, counter *MessageCounter) Committer
}

// CommitterFactoryFunc is an adapter to allow the use of ordinary functions as [CommitterFactory]s.
type CommitterFactoryFunc func(Config, Client, *MessageCounter) Committer

// NewCommitter implements the [CommitterFactory] interface.
func (f CommitterFactoryFunc) NewCommitter(cfg Config, client Client, counter *MessageCounter) Committer {
	return f(cfg, client, counter)
}

// DefaultCommitterFactory returns a [VoidCommitter] when auto commit is
// enabled. Otherwise, commits are batched around retried broker commits.
type DefaultCommitterFactory struct {
	// RetryOptions are passed to every [RetryableCommitter] created.
	RetryOptions []retry.Option
}

// NewCommitter implements the [CommitterFactory] interface.
func (f DefaultCommitterFactory) NewCommitter(cfg Config, client Client, counter *MessageCounter) Committer {
	if cfg.AutoCommit {
		return VoidCommitter{}
	}

	return NewBatchCommitter(
		NewRetryableCommitter(
			NewKafkaCommitter(client),
			cfg.MaxCommitRetries,
			f.RetryOptions...,
		),
		counter,
		cfg.CommitBatchSize,
	)
}
