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
	"github.com/z5labs/relay/retry"
)

type recordingSleeper struct {
	delays []time.Duration
}

func (s *recordingSleeper) Sleep(d time.Duration) {
	s.delays = append(s.delays, d)
}

type commitCall struct {
	record  *kgo.Record
	success bool
	dlq     bool
}

type recordingCommitter struct {
	calls []commitCall
	err   error
}

func (c *recordingCommitter) CommitMessage(ctx context.Context, record *kgo.Record, success bool) error {
	c.calls = append(c.calls, commitCall{record: record, success: success})
	return c.err
}

func (c *recordingCommitter) CommitDLQ(ctx context.Context, record *kgo.Record) error {
	c.calls = append(c.calls, commitCall{record: record, dlq: true})
	return c.err
}

func TestVoidCommitter(t *testing.T) {
	t.Run("will never return an error", func(t *testing.T) {
		var c VoidCommitter
		record := newRecord("orders", 0, 1, "key", "value")

		require.NoError(t, c.CommitMessage(context.Background(), record, true))
		require.NoError(t, c.CommitMessage(context.Background(), record, false))
		require.NoError(t, c.CommitDLQ(context.Background(), record))
	})
}

func TestKafkaCommitter(t *testing.T) {
	t.Run("will commit the record", func(t *testing.T) {
		t.Run("if it was handled successfully", func(t *testing.T) {
			client := &fakeClient{}
			record := newRecord("orders", 0, 1, "key", "value")

			err := NewKafkaCommitter(client).CommitMessage(context.Background(), record, true)
			require.NoError(t, err)
			require.Equal(t, [][]*kgo.Record{{record}}, client.commits)
		})

		t.Run("if it was published to the dead letter topic", func(t *testing.T) {
			client := &fakeClient{}
			record := newRecord("orders", 0, 1, "key", "value")

			err := NewKafkaCommitter(client).CommitDLQ(context.Background(), record)
			require.NoError(t, err)
			require.Len(t, client.commits, 1)
		})
	})

	t.Run("will not commit the record", func(t *testing.T) {
		t.Run("if it failed", func(t *testing.T) {
			client := &fakeClient{}
			record := newRecord("orders", 0, 1, "key", "value")

			err := NewKafkaCommitter(client).CommitMessage(context.Background(), record, false)
			require.NoError(t, err)
			require.Empty(t, client.commits)
		})
	})

	t.Run("will return the broker error unchanged", func(t *testing.T) {
		client := &fakeClient{
			commitErr: func(int) error { return kerr.RebalanceInProgress },
		}

		err := NewKafkaCommitter(client).CommitMessage(context.Background(), newRecord("orders", 0, 1, "", ""), true)
		require.Equal(t, kerr.RebalanceInProgress, err)
	})
}

func TestRetryableCommitter(t *testing.T) {
	t.Run("will retry request timeouts", func(t *testing.T) {
		t.Run("until the commit succeeds", func(t *testing.T) {
			client := &fakeClient{
				commitErr: func(n int) error {
					if n < 3 {
						return kerr.RequestTimedOut
					}
					return nil
				},
			}
			sleeper := &recordingSleeper{}

			c := NewRetryableCommitter(NewKafkaCommitter(client), 6, retry.WithSleeper(sleeper))
			err := c.CommitMessage(context.Background(), newRecord("orders", 0, 1, "", ""), true)
			require.NoError(t, err)
			require.Len(t, client.commits, 3)
			require.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.delays)
		})

		t.Run("until the retries are exhausted", func(t *testing.T) {
			client := &fakeClient{
				commitErr: func(int) error { return kerr.RequestTimedOut },
			}
			sleeper := &recordingSleeper{}

			c := NewRetryableCommitter(NewKafkaCommitter(client), 2, retry.WithSleeper(sleeper))
			err := c.CommitDLQ(context.Background(), newRecord("orders", 0, 1, "", ""))
			require.ErrorIs(t, err, kerr.RequestTimedOut)
			require.Len(t, client.commits, 3)
			require.Len(t, sleeper.delays, 2)
		})
	})

	t.Run("will not retry", func(t *testing.T) {
		t.Run("if the error is fatal", func(t *testing.T) {
			client := &fakeClient{
				commitErr: func(int) error { return kerr.UnknownMemberID },
			}
			sleeper := &recordingSleeper{}

			c := NewRetryableCommitter(NewKafkaCommitter(client), 6, retry.WithSleeper(sleeper))
			err := c.CommitMessage(context.Background(), newRecord("orders", 0, 1, "", ""), true)
			require.ErrorIs(t, err, kerr.UnknownMemberID)
			require.Len(t, client.commits, 1)
			require.Empty(t, sleeper.delays)
		})
	})
}

func TestBatchCommitter(t *testing.T) {
	t.Run("will forward once per batch", func(t *testing.T) {
		testCases := []struct {
			Name      string
			BatchSize int
			Messages  int
		}{
			{Name: "with a batch size of one", BatchSize: 1, Messages: 5},
			{Name: "with a partial last batch", BatchSize: 3, Messages: 7},
			{Name: "with fewer messages than the batch size", BatchSize: 10, Messages: 4},
			{Name: "with full batches only", BatchSize: 4, Messages: 12},
		}

		for _, testCase := range testCases {
			t.Run(testCase.Name, func(t *testing.T) {
				next := &recordingCommitter{}
				counter := &MessageCounter{}
				c := NewBatchCommitter(next, counter, testCase.BatchSize)

				for i := range testCase.Messages {
					err := c.CommitMessage(context.Background(), newRecord("orders", 0, int64(i), "", ""), true)
					require.NoError(t, err)
				}

				require.Len(t, next.calls, testCase.Messages/testCase.BatchSize)
				require.Equal(t, int64(testCase.Messages%testCase.BatchSize), counter.Count())
			})
		}
	})

	t.Run("will forward the latest record", func(t *testing.T) {
		t.Run("of every partition in the batch", func(t *testing.T) {
			next := &recordingCommitter{}
			c := NewBatchCommitter(next, &MessageCounter{}, 4)

			records := []*kgo.Record{
				newRecord("orders", 1, 10, "", ""),
				newRecord("orders", 0, 5, "", ""),
				newRecord("orders", 1, 11, "", ""),
				newRecord("orders", 0, 6, "", ""),
			}
			for _, r := range records {
				require.NoError(t, c.CommitMessage(context.Background(), r, true))
			}

			require.Equal(t, []commitCall{
				{record: records[3], success: true},
				{record: records[2], success: true},
			}, next.calls)
		})
	})

	t.Run("will forward a failed record", func(t *testing.T) {
		t.Run("after the successful records of the batch", func(t *testing.T) {
			next := &recordingCommitter{}
			c := NewBatchCommitter(next, &MessageCounter{}, 2)

			ok := newRecord("orders", 0, 1, "", "")
			failed := newRecord("orders", 0, 2, "", "")
			require.NoError(t, c.CommitMessage(context.Background(), ok, true))
			require.NoError(t, c.CommitMessage(context.Background(), failed, false))

			require.Equal(t, []commitCall{
				{record: ok, success: true},
				{record: failed, success: false},
			}, next.calls)
		})
	})

	t.Run("will reset the counter", func(t *testing.T) {
		t.Run("even if forwarding fails", func(t *testing.T) {
			commitErr := errors.New("commit failed")
			next := &recordingCommitter{err: commitErr}
			counter := &MessageCounter{}
			c := NewBatchCommitter(next, counter, 2)

			require.NoError(t, c.CommitMessage(context.Background(), newRecord("orders", 0, 1, "", ""), true))
			err := c.CommitMessage(context.Background(), newRecord("orders", 0, 2, "", ""), true)
			require.ErrorIs(t, err, commitErr)
			require.Zero(t, counter.Count())
		})
	})

	t.Run("will not batch dead letter commits", func(t *testing.T) {
		next := &recordingCommitter{}
		counter := &MessageCounter{}
		c := NewBatchCommitter(next, counter, 100)

		record := newRecord("orders", 0, 1, "", "")
		require.NoError(t, c.CommitDLQ(context.Background(), record))

		require.Equal(t, []commitCall{{record: record, dlq: true}}, next.calls)
		require.Zero(t, counter.Count())
	})
}

func TestDefaultCommitterFactory(t *testing.T) {
	t.Run("will create a VoidCommitter", func(t *testing.T) {
		t.Run("if auto commit is enabled", func(t *testing.T) {
			c := DefaultCommitterFactory{}.NewCommitter(Config{AutoCommit: true}, &fakeClient{}, &MessageCounter{})

			require.IsType(t, VoidCommitter{}, c)
		})
	})

	t.Run("will batch retried broker commits", func(t *testing.T) {
		cfg := Config{CommitBatchSize: 2, MaxCommitRetries: 3}
		client := &fakeClient{}

		c := DefaultCommitterFactory{}.NewCommitter(cfg, client, &MessageCounter{})

		batch, ok := c.(*BatchCommitter)
		require.True(t, ok)
		require.Equal(t, 2, batch.size)

		retryable, ok := batch.next.(*RetryableCommitter)
		require.True(t, ok)

		direct, ok := retryable.next.(*KafkaCommitter)
		require.True(t, ok)
		require.Equal(t, Client(client), direct.client)
	})

	t.Run("will not retry timed out commits", func(t *testing.T) {
		t.Run("if commit retries are disabled", func(t *testing.T) {
			client := &fakeClient{
				commitErr: func(int) error {
					return kerr.RequestTimedOut
				},
			}
			sleeper := &recordingSleeper{}
			factory := DefaultCommitterFactory{
				RetryOptions: []retry.Option{retry.WithSleeper(sleeper)},
			}

			cfg := Config{CommitBatchSize: 1, MaxCommitRetries: -1}.WithDefaults()
			c := factory.NewCommitter(cfg, client, &MessageCounter{})

			err := c.CommitMessage(context.Background(), newRecord("orders", 0, 1, "", ""), true)
			require.ErrorIs(t, err, kerr.RequestTimedOut)
			require.Len(t, client.commits, 1)
			require.Empty(t, sleeper.delays)
		})
	})

	t.Run("will retry timed out commits inside the batch", func(t *testing.T) {
		client := &fakeClient{
			commitErr: func(n int) error {
				if n == 1 {
					return kerr.RequestTimedOut
				}
				return nil
			},
		}
		sleeper := &recordingSleeper{}
		factory := DefaultCommitterFactory{
			RetryOptions: []retry.Option{retry.WithSleeper(sleeper)},
		}

		c := factory.NewCommitter(Config{CommitBatchSize: 1, MaxCommitRetries: 6}, client, &MessageCounter{})
		err := c.CommitMessage(context.Background(), newRecord("orders", 0, 1, "", ""), true)
		require.NoError(t, err)
		require.Len(t, client.commits, 2)
		require.Equal(t, []time.Duration{time.Second}, sleeper.delays)
	})
}

func TestBatchCommitter_CommitDLQ(t *testing.T) {
	t.Run("will not rewind a partition", func(t *testing.T) {
		t.Run("if an older record of it is still pending", func(t *testing.T) {
			next := &recordingCommitter{}
			c := NewBatchCommitter(next, &MessageCounter{}, 2)

			handled := newRecord("orders", 0, 0, "", "")
			deadLettered := newRecord("orders", 0, 1, "", "")
			other := newRecord("orders", 1, 0, "", "")

			require.NoError(t, c.CommitMessage(context.Background(), handled, true))
			require.NoError(t, c.CommitDLQ(context.Background(), deadLettered))
			require.NoError(t, c.CommitMessage(context.Background(), other, true))

			require.Equal(t, []commitCall{
				{record: deadLettered, dlq: true},
				{record: other, success: true},
			}, next.calls)
		})
	})

	t.Run("will keep a newer pending record", func(t *testing.T) {
		next := &recordingCommitter{}
		c := NewBatchCommitter(next, &MessageCounter{}, 2)

		handled := newRecord("orders", 0, 5, "", "")
		deadLettered := newRecord("orders", 0, 3, "", "")

		require.NoError(t, c.CommitMessage(context.Background(), handled, true))
		require.NoError(t, c.CommitDLQ(context.Background(), deadLettered))
		require.Len(t, c.pending, 1)
	})
}

func TestBatchCommitter_FlushPartitions(t *testing.T) {
	t.Run("will forward only the given partitions", func(t *testing.T) {
		next := &recordingCommitter{}
		counter := &MessageCounter{}
		c := NewBatchCommitter(next, counter, 100)

		revoked := newRecord("orders", 0, 4, "", "")
		kept := newRecord("orders", 1, 7, "", "")
		require.NoError(t, c.CommitMessage(context.Background(), revoked, true))
		require.NoError(t, c.CommitMessage(context.Background(), kept, true))

		err := c.FlushPartitions(context.Background(), map[string][]int32{"orders": {0}})
		require.NoError(t, err)

		require.Equal(t, []commitCall{{record: revoked, success: true}}, next.calls)
		require.Equal(t, map[topicPartition]*kgo.Record{{topic: "orders", partition: 1}: kept}, c.pending)
		require.Equal(t, int64(2), counter.Count())
	})

	t.Run("will return the commit error", func(t *testing.T) {
		commitErr := errors.New("commit failed")
		next := &recordingCommitter{err: commitErr}
		c := NewBatchCommitter(next, &MessageCounter{}, 100)

		require.NoError(t, c.CommitMessage(context.Background(), newRecord("orders", 0, 4, "", ""), true))

		err := c.FlushPartitions(context.Background(), map[string][]int32{"orders": {0}})
		require.ErrorIs(t, err, commitErr)
		require.Empty(t, c.pending)
	})
}

func TestBatchCommitter_DropPartitions(t *testing.T) {
	t.Run("will never forward records of lost partitions", func(t *testing.T) {
		next := &recordingCommitter{}
		c := NewBatchCommitter(next, &MessageCounter{}, 2)

		require.NoError(t, c.CommitMessage(context.Background(), newRecord("orders", 0, 4, "", ""), true))
		c.DropPartitions(map[string][]int32{"orders": {0}})

		kept := newRecord("orders", 1, 9, "", "")
		require.NoError(t, c.CommitMessage(context.Background(), kept, true))

		require.Equal(t, []commitCall{{record: kept, success: true}}, next.calls)
	})
}
