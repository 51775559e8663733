package main

import (
	"crypto/tls"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestNewCACertPool(t *testing.T) {
	pool, err := newCACertPool(nil)
	if err != nil {
		t.Errorf("Expected no error without CA certs, got %v", err)
	}
	if pool != nil {
		t.Error("Expected a nil pool without CA certs")
	}
	if _, err = newCACertPool([]string{filepath.Join(t.TempDir(), "missing.pem")}); err == nil {
		t.Error("Expected an error for a missing CA cert")
	}
	garbage := filepath.Join(t.TempDir(), "garbage.pem")
	if err = os.WriteFile(garbage, []byte("not a certificate"), 0o600); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}
	if _, err = newCACertPool([]string{garbage}); !errors.Is(err, errFailedToAppendCACert) {
		t.Errorf("Expected errFailedToAppendCACert, got %v", err)
	}
}

func TestNewTLSConfig(t *testing.T) {
	config, err := newTLSConfig("", "", nil)
	if err != nil {
		t.Fatalf("newTLSConfig returned an error: %v", err)
	}
	if config.MinVersion != tls.VersionTLS12 {
		t.Errorf("Unexpected minimum TLS version %x", config.MinVersion)
	}
	if len(config.Certificates) != 0 {
		t.Error("Expected no client certificates")
	}
	missing := filepath.Join(t.TempDir(), "missing")
	if _, err = newTLSConfig(missing+".crt", missing+".key", nil); err == nil {
		t.Error("Expected an error for a missing certificate pair")
	}
}
