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

package azurekv

import (
	"fmt"
	"strings"
)

// Default secret names.
const (
	DefaultRegistrationNameSecret = "pnp-registration-name"
	DefaultSymmetricKeySecret     = "pnp-symmetric-key"
	DefaultCertificateSecret      = "pnp-device-certificate"
	DefaultPrivateKeySecret       = "pnp-device-key"
)

// Config identifies the vault and the secrets holding the device material.
type Config struct {
	// VaultURL is the Azure Key Vault URL.
	// Format: https://{vault-name}.vault.azure.net/
	VaultURL string `yaml:"vault_url" json:"vault_url"`

	// TenantID, ClientID and ClientSecret select a service principal. When
	// any is empty DefaultAzureCredential is used.
	TenantID     string `yaml:"tenant_id,omitempty" json:"tenant_id,omitempty"`
	ClientID     string `yaml:"client_id,omitempty" json:"client_id,omitempty"`
	ClientSecret string `yaml:"client_secret,omitempty" json:"client_secret,omitempty"`

	RegistrationNameSecret string `yaml:"registration_name_secret,omitempty" json:"registration_name_secret,omitempty"`
	SymmetricKeySecret     string `yaml:"symmetric_key_secret,omitempty" json:"symmetric_key_secret,omitempty"`

	// CertificateSecret and PrivateKeySecret are optional PEM secrets.
	CertificateSecret string `yaml:"certificate_secret,omitempty" json:"certificate_secret,omitempty"`
	PrivateKeySecret  string `yaml:"private_key_secret,omitempty" json:"private_key_secret,omitempty"`
}

// SetDefaults fills empty secret names.
func (c *Config) SetDefaults() {
	if c.RegistrationNameSecret == "" {
		c.RegistrationNameSecret = DefaultRegistrationNameSecret
	}
	if c.SymmetricKeySecret == "" {
		c.SymmetricKeySecret = DefaultSymmetricKeySecret
	}
	if c.CertificateSecret == "" {
		c.CertificateSecret = DefaultCertificateSecret
	}
	if c.PrivateKeySecret == "" {
		c.PrivateKeySecret = DefaultPrivateKeySecret
	}
}

// Validate checks if the configuration is valid and returns an error if not.
func (c *Config) Validate() error {
	if c == nil {
		return ErrInvalidConfig
	}
	if c.VaultURL == "" {
		return fmt.Errorf("%w: vault URL is required", ErrInvalidConfig)
	}
	if !isValidVaultURL(c.VaultURL) {
		return fmt.Errorf("%w: %s", ErrInvalidVaultURL, c.VaultURL)
	}

	hasClientID := c.ClientID != ""
	hasClientSecret := c.ClientSecret != ""
	hasTenantID := c.TenantID != ""
	if hasClientID || hasClientSecret || hasTenantID {
		if !hasClientID || !hasClientSecret || !hasTenantID {
			return fmt.Errorf("%w: tenant_id, client_id, and client_secret must all be provided together", ErrInvalidConfig)
		}
	}
	return nil
}

// UsesServicePrincipal reports whether client secret credentials are set.
func (c *Config) UsesServicePrincipal() bool {
	return c.TenantID != "" && c.ClientID != "" && c.ClientSecret != ""
}

// String returns the config with credentials masked.
func (c *Config) String() string {
	return fmt.Sprintf("azurekv.Config{VaultURL: %s, TenantID: %s, ClientID: %s, ClientSecret: %s}",
		c.VaultURL, mask(c.TenantID), mask(c.ClientID), maskSecret(c.ClientSecret))
}

func mask(v string) string {
	switch {
	case v == "":
		return "<not set>"
	case len(v) > 4:
		return "****" + v[len(v)-4:]
	default:
		return "****"
	}
}

func maskSecret(v string) string {
	if v == "" {
		return "<not set>"
	}
	return "********"
}

func isValidVaultURL(url string) bool {
	if !strings.HasPrefix(url, "https://") {
		return false
	}
	url = strings.TrimPrefix(url, "https://")

	// Allow localhost for testing
	if strings.HasPrefix(url, "localhost") || strings.HasPrefix(url, "127.0.0.1") {
		return true
	}

	for _, domain := range []string{
		".vault.azure.net",
		".vault.azure.cn",
		".vault.usgovcloudapi.net",
		".vault.microsoftazure.de",
	} {
		if strings.Contains(url, domain) {
			return true
		}
	}
	return false
}
