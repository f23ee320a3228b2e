//go:build testcontainers

// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/z5labs/relay/config"
	"github.com/z5labs/relay/queue"
)

// setupKafkaContainer starts a single node KRaft broker and returns its address.
func setupKafkaContainer(t *testing.T) (brokers []string, cleanup func()) {
	t.Helper()

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image: "docker.io/apache/kafka-native:latest",
		HostConfigModifier: func(hc *container.HostConfig) {
			// Advertised listeners resolve to localhost with host networking.
			hc.NetworkMode = "host"
		},
		User: "root",
		Env: map[string]string{
			"KAFKA_NODE_ID":                   "1",
			"KAFKA_PROCESS_ROLES":             "broker,controller",
			"KAFKA_CONTROLLER_QUORUM_VOTERS":  "1@localhost:9093",
			"KAFKA_CONTROLLER_LISTENER_NAMES": "CONTROLLER",

			"KAFKA_LISTENERS":                      "PLAINTEXT://0.0.0.0:9092,CONTROLLER://0.0.0.0:9093",
			"KAFKA_ADVERTISED_LISTENERS":           "PLAINTEXT://localhost:9092",
			"KAFKA_LISTENER_SECURITY_PROTOCOL_MAP": "PLAINTEXT:PLAINTEXT,CONTROLLER:PLAINTEXT",
			"KAFKA_INTER_BROKER_LISTENER_NAME":     "PLAINTEXT",

			"KAFKA_LOG_DIRS":   "/var/lib/kafka/data",
			"KAFKA_CLUSTER_ID": "WmV3pZkQR0O6n5j3x8j6bg==",

			"KAFKA_OFFSETS_TOPIC_REPLICATION_FACTOR":         "1",
			"KAFKA_TRANSACTION_STATE_LOG_REPLICATION_FACTOR": "1",
			"KAFKA_TRANSACTION_STATE_LOG_MIN_ISR":            "1",
			"KAFKA_GROUP_INITIAL_REBALANCE_DELAY_MS":         "0",
			"KAFKA_AUTO_CREATE_TOPICS_ENABLE":                "false",
		},
		WaitingFor: wait.ForLog("Kafka Server started").WithStartupTimeout(60 * time.Second),
	}

	kafkaContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err, "failed to start Kafka container")

	cleanup = func() {
		if err := kafkaContainer.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate Kafka container: %v", err)
		}
	}

	return []string{"localhost:9092"}, cleanup
}

func newAdminClient(t *testing.T, brokers []string) *kgo.Client {
	t.Helper()

	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	require.NoError(t, err, "failed to create Kafka client")
	t.Cleanup(client.Close)
	return client
}

// createTopic creates a topic with the given number of partitions.
func createTopic(t *testing.T, brokers []string, topic string, partitions int32) {
	t.Helper()

	err := EnsureTopics(context.Background(), newAdminClient(t, brokers), partitions, 1, topic)
	require.NoError(t, err, "failed to create topic %s", topic)
}

// produceTestMessages produces messages to the partition each one names.
func produceTestMessages(t *testing.T, brokers []string, topic string, messages []Message) {
	t.Helper()

	ctx := context.Background()
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.RecordPartitioner(kgo.ManualPartitioner()),
	)
	require.NoError(t, err)
	defer client.Close()

	for i, msg := range messages {
		record := &kgo.Record{
			Topic:     topic,
			Partition: msg.Partition,
			Key:       msg.Key,
			Value:     msg.Value,
			Headers:   recordHeaders(msg.Headers),
		}

		result := client.ProduceSync(ctx, record)
		require.NoError(t, result.FirstErr(), "failed to produce message %d", i)
	}
}

// consumeTopic reads n records from the beginning of topic without a group.
func consumeTopic(t *testing.T, brokers []string, topic string, n int) []*kgo.Record {
	t.Helper()

	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var records []*kgo.Record
	for len(records) < n {
		fetches := client.PollFetches(ctx)
		require.NoError(t, ctx.Err(), "timed out waiting for %d records on %s", n, topic)
		records = append(records, fetches.Records()...)
	}
	return records
}

// committedOffsets returns the next offset to consume per partition of topic.
func committedOffsets(t *testing.T, brokers []string, groupID, topic string) map[int32]int64 {
	t.Helper()

	admin := kadm.NewClient(newAdminClient(t, brokers))

	resp, err := admin.FetchOffsets(context.Background(), groupID)
	require.NoError(t, err)

	offsets := make(map[int32]int64)
	resp.Each(func(o kadm.OffsetResponse) {
		if o.Topic != topic {
			return
		}
		require.NoError(t, o.Err)
		offsets[o.Partition] = o.At
	})
	return offsets
}

// newIntegrationRuntime builds a Runtime through [Build] against a real broker.
func newIntegrationRuntime(t *testing.T, cfg Config, handler queue.Processor[Message], opts ...Option) Runtime {
	t.Helper()

	if cfg.Options == nil {
		cfg.Options = map[string]string{"auto.offset.reset": "earliest"}
	}

	qr, err := Build(config.ReaderOf(cfg), handler, opts...).Build(context.Background())
	require.NoError(t, err)
	return qr.(Runtime)
}

// runUntil runs rt until done reports true and then shuts it down.
func runUntil(t *testing.T, rt Runtime, done func() bool) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runtimeDone := make(chan error, 1)
	go func() {
		runtimeDone <- rt.ProcessQueue(ctx)
	}()

	require.Eventually(t, done, 20*time.Second, 100*time.Millisecond)
	cancel()

	select {
	case err := <-runtimeDone:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("runtime did not stop after cancellation")
	}
}

func testMessage(value string) Message {
	return Message{
		Key:   []byte(fmt.Sprintf("key-%s", value)),
		Value: []byte(value),
	}
}
