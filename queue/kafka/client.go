// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"context"
	"crypto/tls"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl"
	"github.com/twmb/franz-go/pkg/sasl/plain"
	"github.com/twmb/franz-go/pkg/sasl/scram"
	"github.com/twmb/franz-go/plugin/kotel"
	"github.com/twmb/franz-go/plugin/kslog"
	"github.com/z5labs/relay"
	"go.opentelemetry.io/otel"
)

// Client is the subset of [kgo.Client] used for consuming, committing
// and producing records.
type Client interface {
	AddConsumeTopics(topics ...string)
	PollRecords(ctx context.Context, maxPollRecords int) kgo.Fetches
	CommitRecords(ctx context.Context, rs ...*kgo.Record) error
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
	Flush(ctx context.Context) error
	Close()
}

var _ Client = (*kgo.Client)(nil)

// NewClient creates a [kgo.Client] from the given [Config].
//
// Consumer group offsets are committed manually by a [Committer] unless
// [Config.AutoCommit] is set. Any extra opts are applied last.
func NewClient(cfg Config, opts ...kgo.Opt) (*kgo.Client, error) {
	clientOpts, err := clientOptions(cfg)
	if err != nil {
		return nil, err
	}

	client, err := kgo.NewClient(append(clientOpts, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("kafka: failed to create client: %w", err)
	}
	return client, nil
}

func newTracer(cfg Config) *kotel.Tracer {
	return kotel.NewTracer(
		kotel.TracerProvider(otel.GetTracerProvider()),
		kotel.TracerPropagator(otel.GetTextMapPropagator()),
		kotel.LinkSpans(),
		kotel.ConsumerGroup(cfg.GroupID),
	)
}

func newMeter() *kotel.Meter {
	return kotel.NewMeter(
		kotel.MeterProvider(otel.GetMeterProvider()),
		kotel.WithMergedConnectsMeter(),
	)
}

func clientOptions(cfg Config) ([]kgo.Opt, error) {
	opts := []kgo.Opt{
		kgo.WithLogger(kslog.New(relay.Logger("github.com/twmb/franz-go/pkg/kgo"))),
		kgo.ClientID("relay-" + uuid.NewString()),
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.Balancers(kgo.CooperativeStickyBalancer()),
	}
	if !cfg.AutoCommit {
		opts = append(opts, kgo.DisableAutoCommit())
	}

	secOpts, err := securityOptions(cfg)
	if err != nil {
		return nil, err
	}
	opts = append(opts, secOpts...)

	custom, err := customOptions(cfg.Options)
	if err != nil {
		return nil, err
	}
	return append(opts, custom...), nil
}

func securityOptions(cfg Config) ([]kgo.Opt, error) {
	var opts []kgo.Opt
	switch cfg.SecurityProtocol {
	case "", Plaintext:
		return nil, nil
	case SSL:
		opts = append(opts, kgo.DialTLSConfig(tlsConfig(cfg.TLS)))
	case SASLPlaintext:
		mech, err := saslMechanism(cfg.SASL)
		if err != nil {
			return nil, err
		}
		opts = append(opts, kgo.SASL(mech))
	case SASLSSL:
		mech, err := saslMechanism(cfg.SASL)
		if err != nil {
			return nil, err
		}
		opts = append(opts, kgo.SASL(mech), kgo.DialTLSConfig(tlsConfig(cfg.TLS)))
	default:
		return nil, fmt.Errorf("kafka: unsupported security protocol: %s", cfg.SecurityProtocol)
	}
	return opts, nil
}

func tlsConfig(cfg *tls.Config) *tls.Config {
	if cfg != nil {
		return cfg
	}
	return &tls.Config{MinVersion: tls.VersionTLS12}
}

func saslMechanism(cfg SASL) (sasl.Mechanism, error) {
	switch strings.ToUpper(cfg.Mechanism) {
	case "", "PLAIN":
		return plain.Auth{User: cfg.Username, Pass: cfg.Password}.AsMechanism(), nil
	case "SCRAM-SHA-256":
		return scram.Auth{User: cfg.Username, Pass: cfg.Password}.AsSha256Mechanism(), nil
	case "SCRAM-SHA-512":
		return scram.Auth{User: cfg.Username, Pass: cfg.Password}.AsSha512Mechanism(), nil
	default:
		return nil, fmt.Errorf("kafka: unsupported sasl mechanism: %s", cfg.Mechanism)
	}
}

// customOptions maps the supported client property names onto kgo options.
func customOptions(props map[string]string) ([]kgo.Opt, error) {
	opts := make([]kgo.Opt, 0, len(props))
	for key, value := range props {
		opt, err := customOption(key, value)
		if err != nil {
			return nil, err
		}
		opts = append(opts, opt)
	}
	return opts, nil
}

func customOption(key, value string) (kgo.Opt, error) {
	switch key {
	case "client.id":
		return kgo.ClientID(value), nil
	case "auto.offset.reset":
		switch value {
		case "earliest":
			return kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()), nil
		case "latest":
			return kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()), nil
		default:
			return nil, fmt.Errorf("kafka: invalid value for option %s: %s", key, value)
		}
	case "session.timeout.ms":
		d, err := millis(key, value)
		if err != nil {
			return nil, err
		}
		return kgo.SessionTimeout(d), nil
	case "rebalance.timeout.ms":
		d, err := millis(key, value)
		if err != nil {
			return nil, err
		}
		return kgo.RebalanceTimeout(d), nil
	case "fetch.max.bytes":
		n, err := strconv.ParseInt(value, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("kafka: invalid value for option %s: %w", key, err)
		}
		return kgo.FetchMaxBytes(int32(n)), nil
	default:
		return nil, fmt.Errorf("kafka: unsupported client option: %s", key)
	}
}

func millis(key, value string) (time.Duration, error) {
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("kafka: invalid value for option %s: %w", key, err)
	}
	return time.Duration(n) * time.Millisecond, nil
}
