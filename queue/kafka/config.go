// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/z5labs/relay/config"
)

// SecurityProtocol is the protocol used to communicate with brokers.
type SecurityProtocol string

const (
	Plaintext     SecurityProtocol = "PLAINTEXT"
	SSL           SecurityProtocol = "SSL"
	SASLPlaintext SecurityProtocol = "SASL_PLAINTEXT"
	SASLSSL       SecurityProtocol = "SASL_SSL"
)

// SASL holds the credentials used with the SASL_PLAINTEXT and SASL_SSL
// security protocols. Supported mechanisms are PLAIN, SCRAM-SHA-256
// and SCRAM-SHA-512.
type SASL struct {
	Mechanism string `yaml:"mechanism"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
}

// Default values applied by [ConfigSource.Read] and [Config.WithDefaults].
const (
	DefaultCommitBatchSize  = 1
	DefaultMaxMessages      = -1
	DefaultMaxCommitRetries = 6
	DefaultPollTimeout      = time.Second
)

// Config is an immutable snapshot of the consumer configuration.
type Config struct {
	Brokers          []string          `yaml:"brokers"`
	Topics           []string          `yaml:"topics"`
	GroupID          string            `yaml:"group_id"`
	SecurityProtocol SecurityProtocol  `yaml:"security_protocol"`
	SASL             SASL              `yaml:"sasl"`
	TLS              *tls.Config       `yaml:"-"`
	CommitBatchSize  int               `yaml:"commit_batch_size"`
	DLQTopic         string            `yaml:"dlq_topic"`
	AutoCommit       bool              `yaml:"auto_commit"`
	PollTimeout      time.Duration     `yaml:"poll_timeout"`
	Options          map[string]string `yaml:"options"`

	// MaxCommitRetries bounds the retries of a timed out broker commit.
	// Zero is unset and becomes [DefaultMaxCommitRetries]. A negative
	// value disables commit retries.
	MaxCommitRetries int `yaml:"max_commit_retries"`

	// MaxMessages stops consumption once this many messages have been
	// handled successfully. The limit only applies to positive values:
	// zero, including an explicit zero from the environment or YAML, and
	// the default of [DefaultMaxMessages] both consume without a limit.
	MaxMessages int64 `yaml:"max_messages"`
}

// WithDefaults returns a copy of cfg with unset numeric fields replaced by
// their defaults.
func (cfg Config) WithDefaults() Config {
	if cfg.CommitBatchSize <= 0 {
		cfg.CommitBatchSize = DefaultCommitBatchSize
	}
	if cfg.MaxCommitRetries == 0 {
		cfg.MaxCommitRetries = DefaultMaxCommitRetries
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	return cfg
}

// Validate reports whether cfg can be used to build a consumer.
// The returned copy has its topics trimmed and de-duplicated.
func (cfg Config) Validate() (Config, error) {
	if len(cfg.Brokers) == 0 {
		return cfg, fmt.Errorf("kafka: at least one broker must be configured")
	}
	if cfg.GroupID == "" {
		return cfg, fmt.Errorf("kafka: group id must be configured")
	}

	topics, err := validateTopics(cfg.Topics)
	if err != nil {
		return cfg, err
	}
	cfg.Topics = topics
	return cfg, nil
}

func validateTopics(topics []string) ([]string, error) {
	if len(topics) == 0 {
		return nil, ErrNoTopics
	}

	seen := make(map[string]struct{}, len(topics))
	deduped := make([]string, 0, len(topics))
	for _, topic := range topics {
		topic = strings.TrimSpace(topic)
		if topic == "" {
			return nil, fmt.Errorf("kafka: topic names must not be empty")
		}
		if _, ok := seen[topic]; ok {
			continue
		}
		seen[topic] = struct{}{}
		deduped = append(deduped, topic)
	}
	return deduped, nil
}

// ConfigSource composes one [config.Reader] per [Config] field.
// Nil readers leave the field at its default.
type ConfigSource struct {
	Brokers          config.Reader[[]string]
	Topics           config.Reader[[]string]
	GroupID          config.Reader[string]
	SecurityProtocol config.Reader[string]
	SASLMechanism    config.Reader[string]
	SASLUsername     config.Reader[string]
	SASLPassword     config.Reader[string]
	TLS              config.Reader[*tls.Config]
	CommitBatchSize  config.Reader[int]
	DLQTopic         config.Reader[string]
	MaxMessages      config.Reader[int64]
	MaxCommitRetries config.Reader[int]
	AutoCommit       config.Reader[bool]
	PollTimeout      config.Reader[time.Duration]
	Options          config.Reader[map[string]string]
}

// Read implements the [config.Reader] interface.
//
// Brokers, topics and group id are required. Every field is read so all
// failures are reported together.
func (src ConfigSource) Read(ctx context.Context) (config.Value[Config], error) {
	fr := &fieldReader{ctx: ctx}

	cfg := Config{
		Brokers:          readRequired(fr, "brokers", src.Brokers),
		Topics:           readRequired(fr, "topics", src.Topics),
		GroupID:          readRequired(fr, "group id", src.GroupID),
		SecurityProtocol: SecurityProtocol(strings.ToUpper(readField(fr, "security protocol", "", src.SecurityProtocol))),
		SASL: SASL{
			Mechanism: readField(fr, "sasl mechanism", "", src.SASLMechanism),
			Username:  readField(fr, "sasl username", "", src.SASLUsername),
			Password:  readField(fr, "sasl password", "", src.SASLPassword),
		},
		TLS:              readField(fr, "tls config", nil, src.TLS),
		CommitBatchSize:  readField(fr, "commit batch size", DefaultCommitBatchSize, src.CommitBatchSize),
		DLQTopic:         readField(fr, "dlq topic", "", src.DLQTopic),
		MaxMessages:      readField(fr, "max messages", int64(DefaultMaxMessages), src.MaxMessages),
		MaxCommitRetries: readField(fr, "max commit retries", DefaultMaxCommitRetries, src.MaxCommitRetries),
		AutoCommit:       readField(fr, "auto commit", false, src.AutoCommit),
		PollTimeout:      readField(fr, "poll timeout", DefaultPollTimeout, src.PollTimeout),
		Options:          readField(fr, "options", nil, src.Options),
	}
	if err := errors.Join(fr.errs...); err != nil {
		return config.Value[Config]{}, err
	}
	return config.ValueOf(cfg.WithDefaults()), nil
}

type fieldReader struct {
	ctx  context.Context
	errs []error
}

func readField[T any](fr *fieldReader, name string, def T, r config.Reader[T]) T {
	t, err := config.Read(fr.ctx, r)
	if errors.Is(err, config.ErrValueNotSet) {
		return def
	}
	if err != nil {
		fr.errs = append(fr.errs, fmt.Errorf("kafka: failed to read %s: %w", name, err))
		return def
	}
	return t
}

func readRequired[T any](fr *fieldReader, name string, r config.Reader[T]) T {
	t, err := config.Read(fr.ctx, r)
	if err != nil {
		fr.errs = append(fr.errs, fmt.Errorf("kafka: failed to read %s: %w", name, err))
	}
	return t
}

// ConfigFromEnv reads every [Config] field from KAFKA_* environment variables.
func ConfigFromEnv() ConfigSource {
	return ConfigSource{
		Brokers:          BrokersFromEnv(),
		Topics:           TopicsFromEnv(),
		GroupID:          GroupIDFromEnv(),
		SecurityProtocol: config.Env("KAFKA_SECURITY_PROTOCOL"),
		SASLMechanism:    config.Env("KAFKA_SASL_MECHANISM"),
		SASLUsername:     config.Env("KAFKA_SASL_USERNAME"),
		SASLPassword:     config.Env("KAFKA_SASL_PASSWORD"),
		TLS:              TLSConfigFromEnv(),
		CommitBatchSize:  CommitBatchSizeFromEnv(),
		DLQTopic:         DLQTopicFromEnv(),
		MaxMessages:      MaxMessagesFromEnv(),
		MaxCommitRetries: MaxCommitRetriesFromEnv(),
		AutoCommit:       AutoCommitFromEnv(),
		PollTimeout:      PollTimeoutFromEnv(),
	}
}

// BrokersFromEnv reads Kafka broker addresses from the KAFKA_BROKERS environment variable.
// Brokers should be comma-separated (e.g., "localhost:9092,localhost:9093").
func BrokersFromEnv() config.Reader[[]string] {
	return config.StringsFromString(config.Env("KAFKA_BROKERS"))
}

// TopicsFromEnv reads the comma-separated KAFKA_TOPICS environment variable.
func TopicsFromEnv() config.Reader[[]string] {
	return config.StringsFromString(config.Env("KAFKA_TOPICS"))
}

// GroupIDFromEnv reads the Kafka consumer group ID from the KAFKA_GROUP_ID environment variable.
func GroupIDFromEnv() config.Reader[string] {
	return config.Env("KAFKA_GROUP_ID")
}

// CommitBatchSizeFromEnv reads KAFKA_COMMIT_BATCH_SIZE.
func CommitBatchSizeFromEnv() config.Reader[int] {
	return config.IntFromString(config.Env("KAFKA_COMMIT_BATCH_SIZE"))
}

// DLQTopicFromEnv reads KAFKA_DLQ_TOPIC.
func DLQTopicFromEnv() config.Reader[string] {
	return config.Env("KAFKA_DLQ_TOPIC")
}

// MaxMessagesFromEnv reads KAFKA_MAX_MESSAGES. A negative value means unlimited.
func MaxMessagesFromEnv() config.Reader[int64] {
	return config.Int64FromString(config.Env("KAFKA_MAX_MESSAGES"))
}

// MaxCommitRetriesFromEnv reads KAFKA_MAX_COMMIT_RETRIES.
func MaxCommitRetriesFromEnv() config.Reader[int] {
	return config.IntFromString(config.Env("KAFKA_MAX_COMMIT_RETRIES"))
}

// AutoCommitFromEnv reads KAFKA_AUTO_COMMIT.
func AutoCommitFromEnv() config.Reader[bool] {
	return config.BoolFromString(config.Env("KAFKA_AUTO_COMMIT"))
}

// PollTimeoutFromEnv reads KAFKA_POLL_TIMEOUT as a duration string (e.g., "500ms").
func PollTimeoutFromEnv() config.Reader[time.Duration] {
	return config.DurationFromString(config.Env("KAFKA_POLL_TIMEOUT"))
}

type yamlConfig struct {
	Brokers          []string          `yaml:"brokers"`
	Topics           []string          `yaml:"topics"`
	GroupID          string            `yaml:"group_id"`
	SecurityProtocol string            `yaml:"security_protocol"`
	SASL             SASL              `yaml:"sasl"`
	CommitBatchSize  *int              `yaml:"commit_batch_size"`
	DLQTopic         string            `yaml:"dlq_topic"`
	MaxMessages      *int64            `yaml:"max_messages"`
	MaxCommitRetries *int              `yaml:"max_commit_retries"`
	AutoCommit       bool              `yaml:"auto_commit"`
	PollTimeout      time.Duration     `yaml:"poll_timeout"`
	Options          map[string]string `yaml:"options"`
}

// ConfigFromYAML decodes a [Config] from YAML.
//
// Example:
//
//	brokers: [localhost:9092]
//	topics: [orders]
//	group_id: order-service
//	commit_batch_size: 10
//	dlq_topic: orders-dlq
//	options:
//	  auto.offset.reset: earliest
func ConfigFromYAML[R io.Reader](r config.Reader[R]) config.Reader[Config] {
	return config.Map(
		config.UnmarshalYAML[yamlConfig](r),
		func(ctx context.Context, yc yamlConfig) (Config, error) {
			cfg := Config{
				Brokers:          yc.Brokers,
				Topics:           yc.Topics,
				GroupID:          yc.GroupID,
				SecurityProtocol: SecurityProtocol(strings.ToUpper(yc.SecurityProtocol)),
				SASL:             yc.SASL,
				DLQTopic:         yc.DLQTopic,
				MaxMessages:      DefaultMaxMessages,
				AutoCommit:       yc.AutoCommit,
				PollTimeout:      yc.PollTimeout,
				Options:          yc.Options,
			}
			if yc.CommitBatchSize != nil {
				cfg.CommitBatchSize = *yc.CommitBatchSize
			}
			if yc.MaxMessages != nil {
				cfg.MaxMessages = *yc.MaxMessages
			}
			if yc.MaxCommitRetries != nil {
				cfg.MaxCommitRetries = *yc.MaxCommitRetries
			}
			return cfg.WithDefaults(), nil
		},
	)
}
