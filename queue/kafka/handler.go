// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"context"
	"log/slog"

	"github.com/z5labs/relay/queue"
	"github.com/z5labs/relay/retry"
)

type retryableHandler struct {
	log     *slog.Logger
	next    queue.Processor[Message]
	retry   *retry.Retryable
	metrics *metricsRecorder
}

// NewRetryableHandler retries h on every error it returns according to
// policy, sleeping with sleeper between attempts. Once retries are
// exhausted the last error is returned unchanged.
//
// A nil policy defaults to [retry.DefaultPolicy] and a nil sleeper to
// [retry.NativeSleeper].
func NewRetryableHandler(h queue.Processor[Message], policy retry.Policy, sleeper retry.Sleeper) queue.Processor[Message] {
	return newRetryableHandler(h, policy, sleeper, nil)
}

func newRetryableHandler(h queue.Processor[Message], policy retry.Policy, sleeper retry.Sleeper, metrics *metricsRecorder) *retryableHandler {
	var opts []retry.Option
	if policy != nil {
		opts = append(opts, retry.WithPolicy(policy))
	}
	if sleeper != nil {
		opts = append(opts, retry.WithSleeper(sleeper))
	}

	return &retryableHandler{
		log:     logger(),
		next:    h,
		retry:   retry.New(opts...),
		metrics: metrics,
	}
}

// Process implements the [queue.Processor] interface.
func (h *retryableHandler) Process(ctx context.Context, msg Message) error {
	attempt := 0
	return h.retry.Run(func() error {
		attempt++
		if attempt > 1 {
			h.log.WarnContext(
				ctx,
				"retrying kafka message",
				TopicAttr(msg.Topic),
				PartitionAttr(msg.Partition),
				OffsetAttr(msg.Offset),
				AttemptAttr(attempt),
			)
			h.metrics.recordRetry(ctx, msg.Topic, msg.Partition)
		}
		return h.next.Process(ctx, msg)
	})
}
