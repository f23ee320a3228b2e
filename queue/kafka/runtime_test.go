// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/z5labs/relay/config"
	"github.com/z5labs/relay/queue"
)

// idleClient behaves like a broker with no new records once the queued
// fetches have been served.
type idleClient struct {
	*fakeClient
}

func (c idleClient) PollRecords(ctx context.Context, maxPollRecords int) kgo.Fetches {
	c.mu.Lock()
	empty := len(c.fetches) == 0
	c.mu.Unlock()
	if !empty {
		return c.fakeClient.PollRecords(ctx, maxPollRecords)
	}

	<-ctx.Done()
	return errFetches("", -1, ctx.Err())
}

func newTestRuntime(t *testing.T, client Client, handler queue.Processor[Message], opts ...Option) Runtime {
	t.Helper()

	return Runtime{
		log:      logger(),
		client:   client,
		consumer: newTestConsumer(t, client, testConfig(), handler, opts...),
	}
}

func TestRuntime_ProcessQueue(t *testing.T) {
	t.Run("will stop gracefully", func(t *testing.T) {
		t.Run("if the context is cancelled", func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			client := idleClient{&fakeClient{
				fetches: []kgo.Fetches{
					recordFetches(newRecord("orders", 0, 0, "a", "v")),
				},
			}}

			handler := queue.ProcessorFunc[Message](func(handlerCtx context.Context, msg Message) error {
				cancel()
				require.NoError(t, handlerCtx.Err())
				return nil
			})

			rt := newTestRuntime(t, client, handler)

			err := rt.ProcessQueue(ctx)
			require.NoError(t, err)
			require.Equal(t, 1, client.commitCount())
			require.Equal(t, int64(1), rt.consumer.ConsumedMessagesCount())
			require.True(t, client.closed)
		})
	})

	t.Run("will return the consumer error", func(t *testing.T) {
		t.Run("if polling fails fatally", func(t *testing.T) {
			client := idleClient{&fakeClient{
				fetches: []kgo.Fetches{
					errFetches("orders", 0, kerr.TopicAuthorizationFailed),
				},
			}}

			rt := newTestRuntime(t, client, noopHandler())

			err := rt.ProcessQueue(context.Background())

			var consumerErr *ConsumerError
			require.ErrorAs(t, err, &consumerErr)
			require.ErrorIs(t, err, kerr.TopicAuthorizationFailed)
			require.True(t, client.closed)
		})
	})

	t.Run("will return nil", func(t *testing.T) {
		t.Run("if the client is closed", func(t *testing.T) {
			client := &fakeClient{}

			rt := newTestRuntime(t, client, noopHandler())

			done := make(chan error, 1)
			go func() {
				done <- rt.ProcessQueue(context.Background())
			}()

			select {
			case err := <-done:
				require.NoError(t, err)
			case <-time.After(5 * time.Second):
				t.Fatal("runtime did not stop")
			}
		})
	})
}

func TestBuild(t *testing.T) {
	validConfig := func() Config {
		return Config{
			Brokers: []string{"localhost:9092"},
			Topics:  []string{"orders"},
			GroupID: "order-service",
		}
	}

	t.Run("will return an error", func(t *testing.T) {
		t.Run("if the config cannot be read", func(t *testing.T) {
			readErr := errors.New("failed to read")
			src := config.ReaderFunc[Config](func(ctx context.Context) (config.Value[Config], error) {
				return config.Value[Config]{}, readErr
			})

			_, err := Build(src, noopHandler()).Build(context.Background())
			require.ErrorIs(t, err, readErr)
		})

		t.Run("if no topics are configured", func(t *testing.T) {
			cfg := validConfig()
			cfg.Topics = nil

			_, err := Build(config.ReaderOf(cfg), noopHandler()).Build(context.Background())
			require.ErrorIs(t, err, ErrNoTopics)
		})

		t.Run("if a client option is unknown", func(t *testing.T) {
			cfg := validConfig()
			cfg.Options = map[string]string{"not.a.real.option": "true"}

			_, err := Build(config.ReaderOf(cfg), noopHandler()).Build(context.Background())
			require.Error(t, err)
		})
	})

	t.Run("will build a runtime", func(t *testing.T) {
		t.Run("without contacting the brokers", func(t *testing.T) {
			qr, err := Build(config.ReaderOf(validConfig()), noopHandler(), WithDLQ("")).Build(context.Background())
			require.NoError(t, err)

			rt, ok := qr.(Runtime)
			require.True(t, ok)
			defer rt.client.Close()

			require.Equal(t, "orders-dlq", rt.consumer.dlqTopic)
			require.NotNil(t, rt.consumer.producer)
		})
	})
}
