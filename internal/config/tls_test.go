// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-pnp-device.
//
// go-pnp-device is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

package config

import (
	"crypto/tls"
	"testing"

	"github.com/jeremyhahn/go-pnp-device/internal/testutil"
)

// writeTestCert writes a server certificate, its key and the issuing CA
// and returns their paths
func writeTestCert(t *testing.T) (string, string, string) {
	t.Helper()
	ca, err := testutil.GenerateTestCA()
	if err != nil {
		t.Fatalf("Failed to generate CA: %v", err)
	}
	cert, err := testutil.GenerateTestServerCert(ca, "localhost")
	if err != nil {
		t.Fatalf("Failed to generate server cert: %v", err)
	}

	dir := t.TempDir()
	certPath, keyPath, err := cert.WriteFiles(dir, "server")
	if err != nil {
		t.Fatalf("Failed to write server cert: %v", err)
	}
	caPath, err := ca.WriteFiles(dir)
	if err != nil {
		t.Fatalf("Failed to write CA: %v", err)
	}
	return certPath, keyPath, caPath
}

func TestServerTLS_Disabled(t *testing.T) {
	cfg := &TLSConfig{}
	tlsConfig, err := cfg.ServerTLS()
	if err != nil || tlsConfig != nil {
		t.Errorf("Expected nil config and error, got %v, %v", tlsConfig, err)
	}
}

func TestServerTLS_Enabled(t *testing.T) {
	certPath, keyPath, caPath := writeTestCert(t)
	cfg := &TLSConfig{
		Enabled:    true,
		CertFile:   certPath,
		KeyFile:    keyPath,
		CAFile:     caPath,
		ClientAuth: "require_and_verify",
		MinVersion: "TLS1.3",
	}
	tlsConfig, err := cfg.ServerTLS()
	if err != nil {
		t.Fatalf("ServerTLS() failed: %v", err)
	}
	if len(tlsConfig.Certificates) != 1 {
		t.Errorf("Expected 1 certificate, got %d", len(tlsConfig.Certificates))
	}
	if tlsConfig.MinVersion != tls.VersionTLS13 {
		t.Errorf("Expected TLS 1.3, got %x", tlsConfig.MinVersion)
	}
	if tlsConfig.ClientAuth != tls.RequireAndVerifyClientCert {
		t.Errorf("Unexpected client auth %v", tlsConfig.ClientAuth)
	}
	if tlsConfig.ClientCAs == nil {
		t.Error("Expected client CA pool")
	}
}

func TestServerTLS_Errors(t *testing.T) {
	certPath, keyPath, _ := writeTestCert(t)

	tests := []struct {
		name string
		cfg  TLSConfig
	}{
		{"missing cert", TLSConfig{Enabled: true, CertFile: "/nonexistent", KeyFile: keyPath}},
		{"bad version", TLSConfig{Enabled: true, CertFile: certPath, KeyFile: keyPath, MinVersion: "TLS1.0"}},
		{"bad client auth", TLSConfig{Enabled: true, CertFile: certPath, KeyFile: keyPath, ClientAuth: "always"}},
		{"bad CA", TLSConfig{Enabled: true, CertFile: certPath, KeyFile: keyPath, CAFile: keyPath}},
		{"missing CA", TLSConfig{Enabled: true, CertFile: certPath, KeyFile: keyPath, CAFile: "/nonexistent"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.cfg.ServerTLS(); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestParseClientAuthType(t *testing.T) {
	tests := map[string]tls.ClientAuthType{
		"":                   tls.NoClientCert,
		"none":               tls.NoClientCert,
		"request":            tls.RequestClientCert,
		"require":            tls.RequireAnyClientCert,
		"verify":             tls.VerifyClientCertIfGiven,
		"require_and_verify": tls.RequireAndVerifyClientCert,
	}
	for in, want := range tests {
		got, err := parseClientAuthType(in)
		if err != nil || got != want {
			t.Errorf("parseClientAuthType(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
}
