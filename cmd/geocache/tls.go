package main

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
)

var errFailedToAppendCACert = errors.New("failed to append CA cert to CA pool")

// Builds a pool from the system certificates plus every PEM file listed. A nil
// pool is returned when no files are given so the TLS stack uses its defaults.
func newCACertPool(cacerts []string) (*x509.CertPool, error) {
	if len(cacerts) == 0 {
		return nil, nil
	}
	logger.V(1).Info("Loading CA certificates for collector verification", "cacerts", cacerts)
	pool, err := x509.SystemCertPool()
	if err != nil {
		return nil, fmt.Errorf("failed to load system cert pool: %w", err)
	}
	for _, cacert := range cacerts {
		pem, err := os.ReadFile(cacert)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA cert %s: %w", cacert, err)
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("failed to process CA cert %s: %w", cacert, errFailedToAppendCACert)
		}
	}
	return pool, nil
}

// Client side TLS settings for the OpenTelemetry collector connection. The
// certificate and key are only presented when both are set.
func newTLSConfig(certFile, keyFile string, rootCAs *x509.CertPool) (*tls.Config, error) {
	config := &tls.Config{
		MinVersion: tls.VersionTLS12,
		RootCAs:    rootCAs,
	}
	if certFile == "" || keyFile == "" {
		return config, nil
	}
	logger.V(1).Info("Loading client certificate", TLSCertFlagName, certFile, TLSKeyFlagName, keyFile)
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load certificate %s and key %s: %w", certFile, keyFile, err)
	}
	config.Certificates = []tls.Certificate{cert}
	return config, nil
}
