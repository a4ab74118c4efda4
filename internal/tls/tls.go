// Package tls builds the client TLS configuration shared by the IMAP and SMTP
// connections.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"os"
)

// ClientConfig returns a TLS 1.2+ client configuration. When caFile is set,
// its PEM certificates are trusted in addition to the system pool. insecure
// disables certificate verification and is meant only for local relays.
func ClientConfig(caFile string, insecure bool) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if caFile != "" {
		pemData, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read CA file: %w", err)
		}

		pool, err := x509.SystemCertPool()
		if err != nil || pool == nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, fmt.Errorf("CA file %s contains no PEM certificates", caFile)
		}
		cfg.RootCAs = pool
	}

	if insecure {
		slog.Warn("TLS certificate verification disabled")
		cfg.InsecureSkipVerify = true
	}

	return cfg, nil
}
