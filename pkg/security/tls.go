package security

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"time"
)

// LoadServerTLSConfig builds the coordinator's HTTPS config from PEM files
func LoadServerTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load key pair: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

// LoadClientTLSConfig returns the TLS config an agent uses to reach the
// coordinator. Certificate validation is always on; caFile adds a private
// root on top of the system pool.
func LoadClientTLSConfig(caFile string) (*tls.Config, error) {
	cfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caFile == "" {
		return cfg, nil
	}

	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}

	caPEM, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, fmt.Errorf("no certificates found in %s", caFile)
	}

	cfg.RootCAs = pool
	return cfg, nil
}

// CertTimeRemaining returns how long the leaf of a loaded key pair stays valid
func CertTimeRemaining(cfg *tls.Config) (time.Duration, error) {
	if cfg == nil || len(cfg.Certificates) == 0 || len(cfg.Certificates[0].Certificate) == 0 {
		return 0, fmt.Errorf("no certificate configured")
	}

	leaf, err := x509.ParseCertificate(cfg.Certificates[0].Certificate[0])
	if err != nil {
		return 0, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return time.Until(leaf.NotAfter), nil
}
