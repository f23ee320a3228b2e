// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"

	"github.com/z5labs/relay/config"
)

// TLSConfigFromFiles creates a config.Reader that loads TLS configuration from certificate files.
//
// Setting certFile or keyFile loads a client key pair for mTLS, in which
// case both must be set. caFile, if set, replaces the system roots used to
// verify brokers. When none of the files are set no value is produced.
//
// Example:
//
//	tlsConfig := kafka.TLSConfigFromFiles(
//	    config.ReaderOf("client-cert.pem"),
//	    config.ReaderOf("client-key.pem"),
//	    config.ReaderOf("ca-cert.pem"),
//	)
func TLSConfigFromFiles(
	certFile config.Reader[string],
	keyFile config.Reader[string],
	caFile config.Reader[string],
) config.Reader[*tls.Config] {
	return config.ReaderFunc[*tls.Config](func(ctx context.Context) (config.Value[*tls.Config], error) {
		certPath := config.MustOr(ctx, "", certFile)
		keyPath := config.MustOr(ctx, "", keyFile)
		caPath := config.MustOr(ctx, "", caFile)
		if certPath == "" && keyPath == "" && caPath == "" {
			return config.Value[*tls.Config]{}, nil
		}

		tlsConfig := &tls.Config{
			MinVersion: tls.VersionTLS12,
		}

		if certPath != "" || keyPath != "" {
			cert, err := tls.LoadX509KeyPair(certPath, keyPath)
			if err != nil {
				return config.Value[*tls.Config]{}, fmt.Errorf("failed to load client certificate: %w", err)
			}
			tlsConfig.Certificates = []tls.Certificate{cert}
		}

		if caPath != "" {
			caCert, err := os.ReadFile(caPath)
			if err != nil {
				return config.Value[*tls.Config]{}, fmt.Errorf("failed to read CA certificate: %w", err)
			}

			pool := x509.NewCertPool()
			if !pool.AppendCertsFromPEM(caCert) {
				return config.Value[*tls.Config]{}, fmt.Errorf("no CA certificates found in %s", caPath)
			}
			tlsConfig.RootCAs = pool
		}

		return config.ValueOf(tlsConfig), nil
	})
}

// TLSConfigFromEnv loads TLS configuration from the files named by the
// KAFKA_TLS_CERT_FILE, KAFKA_TLS_KEY_FILE and KAFKA_TLS_CA_FILE environment variables.
func TLSConfigFromEnv() config.Reader[*tls.Config] {
	return TLSConfigFromFiles(
		config.Env("KAFKA_TLS_CERT_FILE"),
		config.Env("KAFKA_TLS_KEY_FILE"),
		config.Env("KAFKA_TLS_CA_FILE"),
	)
}
