// Copyright (c) 2025 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kafka

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/z5labs/relay/config"
)

// generateTestCertificates generates a test CA, server cert, and client cert
// for testing TLS functionality.
func generateTestCertificates(t *testing.T) (caCert, clientCert, clientKey []byte) {
	t.Helper()

	// Generate CA
	caPrivKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	caTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"Test CA"},
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	caCertDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caPrivKey.PublicKey, caPrivKey)
	require.NoError(t, err)

	caCert = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: caCertDER})

	// Generate client certificate
	clientPrivKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	clientTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject: pkix.Name{
			Organization: []string{"Test Client"},
		},
		NotBefore:   time.Now(),
		NotAfter:    time.Now().Add(24 * time.Hour),
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}

	clientCertDER, err := x509.CreateCertificate(rand.Reader, clientTemplate, caTemplate, &clientPrivKey.PublicKey, caPrivKey)
	require.NoError(t, err)

	clientCert = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: clientCertDER})
	clientKey = pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(clientPrivKey),
	})

	return caCert, clientCert, clientKey
}

func writeFile(t *testing.T, dir, name string, b []byte) string {
	t.Helper()

	path := filepath.Join(dir, name)
	err := os.WriteFile(path, b, 0o600)
	require.NoError(t, err)
	return path
}

func TestTLSConfigFromFiles(t *testing.T) {
	caCert, clientCert, clientKey := generateTestCertificates(t)

	dir := t.TempDir()
	caFile := writeFile(t, dir, "ca.pem", caCert)
	certFile := writeFile(t, dir, "client.pem", clientCert)
	keyFile := writeFile(t, dir, "client-key.pem", clientKey)
	badFile := writeFile(t, dir, "bad.pem", []byte("not a certificate"))

	t.Run("will not produce a value", func(t *testing.T) {
		t.Run("if no files are given", func(t *testing.T) {
			r := TLSConfigFromFiles(
				config.EmptyReader[string](),
				config.EmptyReader[string](),
				config.EmptyReader[string](),
			)

			_, err := config.Read(context.Background(), r)
			require.ErrorIs(t, err, config.ErrValueNotSet)
		})
	})

	t.Run("will load only the CA", func(t *testing.T) {
		t.Run("if no client certificate is given", func(t *testing.T) {
			r := TLSConfigFromFiles(
				config.EmptyReader[string](),
				config.EmptyReader[string](),
				config.ReaderOf(caFile),
			)

			tlsConfig, err := config.Read(context.Background(), r)
			require.NoError(t, err)
			require.Empty(t, tlsConfig.Certificates)
			require.NotNil(t, tlsConfig.RootCAs)
			require.Equal(t, uint16(tls.VersionTLS12), tlsConfig.MinVersion)
		})
	})

	t.Run("will load a client certificate", func(t *testing.T) {
		t.Run("for mTLS", func(t *testing.T) {
			r := TLSConfigFromFiles(
				config.ReaderOf(certFile),
				config.ReaderOf(keyFile),
				config.ReaderOf(caFile),
			)

			tlsConfig, err := config.Read(context.Background(), r)
			require.NoError(t, err)
			require.Len(t, tlsConfig.Certificates, 1)
			require.NotNil(t, tlsConfig.RootCAs)

			leaf, err := x509.ParseCertificate(tlsConfig.Certificates[0].Certificate[0])
			require.NoError(t, err)
			require.Equal(t, []string{"Test Client"}, leaf.Subject.Organization)
		})
	})

	t.Run("will return an error", func(t *testing.T) {
		t.Run("if the CA file holds no certificates", func(t *testing.T) {
			r := TLSConfigFromFiles(
				config.EmptyReader[string](),
				config.EmptyReader[string](),
				config.ReaderOf(badFile),
			)

			_, err := config.Read(context.Background(), r)
			require.Error(t, err)
		})

		t.Run("if the CA file does not exist", func(t *testing.T) {
			r := TLSConfigFromFiles(
				config.EmptyReader[string](),
				config.EmptyReader[string](),
				config.ReaderOf(filepath.Join(dir, "missing.pem")),
			)

			_, err := config.Read(context.Background(), r)
			require.ErrorIs(t, err, os.ErrNotExist)
		})

		t.Run("if only the certificate is given", func(t *testing.T) {
			r := TLSConfigFromFiles(
				config.ReaderOf(certFile),
				config.EmptyReader[string](),
				config.EmptyReader[string](),
			)

			_, err := config.Read(context.Background(), r)
			require.Error(t, err)
		})
	})
}

func TestTLSConfigFromEnv(t *testing.T) {
	t.Run("will read file paths from the environment", func(t *testing.T) {
		caCert, clientCert, clientKey := generateTestCertificates(t)

		dir := t.TempDir()
		t.Setenv("KAFKA_TLS_CA_FILE", writeFile(t, dir, "ca.pem", caCert))
		t.Setenv("KAFKA_TLS_CERT_FILE", writeFile(t, dir, "client.pem", clientCert))
		t.Setenv("KAFKA_TLS_KEY_FILE", writeFile(t, dir, "client-key.pem", clientKey))

		tlsConfig, err := config.Read(context.Background(), TLSConfigFromEnv())
		require.NoError(t, err)
		require.Len(t, tlsConfig.Certificates, 1)
		require.NotNil(t, tlsConfig.RootCAs)
	})
}
