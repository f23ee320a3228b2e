// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"log/slog"

	"github.com/z5labs/relay/queue"
	"github.com/z5labs/relay/queue/kafka"
)

func logMessages(log *slog.Logger) queue.Processor[kafka.Message] {
	return queue.ProcessorFunc[kafka.Message](func(ctx context.Context, msg kafka.Message) error {
		attrs := []any{
			kafka.TopicAttr(msg.Topic),
			kafka.PartitionAttr(msg.Partition),
			kafka.OffsetAttr(msg.Offset),
			kafka.KeyAttr(msg.Key),
			slog.Time("timestamp", msg.Timestamp),
			slog.String("value", string(msg.Value)),
		}
		for _, h := range msg.Headers {
			attrs = append(attrs, slog.String("header."+h.Key, string(h.Value)))
		}

		log.InfoContext(ctx, "consumed message", attrs...)
		return nil
	})
}

// skipTombstones drops records without a value, e.g. compaction deletes.
func skipTombstones() queue.Middleware[kafka.Message] {
	return func(next queue.Processor[kafka.Message]) queue.Processor[kafka.Message] {
		return queue.ProcessorFunc[kafka.Message](func(ctx context.Context, msg kafka.Message) error {
			if msg.Value == nil {
				return nil
			}
			return next.Process(ctx, msg)
		})
	}
}
