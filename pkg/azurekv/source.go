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

// Package azurekv sources HSM material from Azure Key Vault secrets.
package azurekv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"

	"github.com/jeremyhahn/go-pnp-device/pkg/hsm"
	"github.com/jeremyhahn/go-pnp-device/pkg/logging"
)

// SecretClient is the subset of *azsecrets.Client used by Source.
type SecretClient interface {
	GetSecret(ctx context.Context, name, version string, options *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error)
	SetSecret(ctx context.Context, name string, parameters azsecrets.SetSecretParameters, options *azsecrets.SetSecretOptions) (azsecrets.SetSecretResponse, error)
}

// Source reads device material from a vault.
type Source struct {
	config *Config
	client SecretClient
	logger *slog.Logger
}

// NewSource authenticates against the vault in config. A service principal
// is used when tenant, client ID and secret are all set; otherwise
// DefaultAzureCredential (managed identity, CLI, environment).
func NewSource(config *Config, logger *slog.Logger) (*Source, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var (
		cred azcore.TokenCredential
		err  error
	)
	if config.UsesServicePrincipal() {
		cred, err = azidentity.NewClientSecretCredential(
			config.TenantID,
			config.ClientID,
			config.ClientSecret,
			&azidentity.ClientSecretCredentialOptions{
				AdditionallyAllowedTenants: []string{"*"},
			},
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create client secret credential: %w", err)
		}
	} else {
		cred, err = azidentity.NewDefaultAzureCredential(&azidentity.DefaultAzureCredentialOptions{
			AdditionallyAllowedTenants: []string{"*"},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure credential: %w", err)
		}
	}

	client, err := azsecrets.NewClient(config.VaultURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create secrets client: %w", err)
	}
	return NewSourceWithClient(config, client, logger), nil
}

// NewSourceWithClient creates a Source on an existing secrets client.
func NewSourceWithClient(config *Config, client SecretClient, logger *slog.Logger) *Source {
	cfg := *config
	cfg.SetDefaults()
	return &Source{
		config: &cfg,
		client: client,
		logger: logging.OrDefault(logger),
	}
}

// Material fetches the registration name and symmetric key, plus the
// certificate and private key when those secrets exist.
func (s *Source) Material(ctx context.Context) (hsm.Material, error) {
	var m hsm.Material
	var err error

	if m.RegistrationName, err = s.get(ctx, s.config.RegistrationNameSecret, true); err != nil {
		return hsm.Material{}, err
	}
	if m.SymmetricKey, err = s.get(ctx, s.config.SymmetricKeySecret, true); err != nil {
		return hsm.Material{}, err
	}
	if m.Certificate, err = s.get(ctx, s.config.CertificateSecret, false); err != nil {
		return hsm.Material{}, err
	}
	if m.PrivateKey, err = s.get(ctx, s.config.PrivateKeySecret, false); err != nil {
		return hsm.Material{}, err
	}

	s.logger.Info("loaded device material from key vault",
		"vault", s.config.VaultURL,
		"registration_name", m.RegistrationName,
		"certificate", m.Certificate != "")
	return m, nil
}

// Options returns hsm options that install the vault material.
func (s *Source) Options(ctx context.Context) ([]hsm.Option, error) {
	m, err := s.Material(ctx)
	if err != nil {
		return nil, err
	}
	return []hsm.Option{hsm.WithMaterial(m)}, nil
}

// SaveKeyInfo writes a registration name and symmetric key back to the
// vault.
func (s *Source) SaveKeyInfo(ctx context.Context, registrationName, symmetricKey string) error {
	if registrationName == "" || symmetricKey == "" {
		return hsm.ErrInvalidParameter
	}
	if err := s.set(ctx, s.config.RegistrationNameSecret, registrationName); err != nil {
		return err
	}
	return s.set(ctx, s.config.SymmetricKeySecret, symmetricKey)
}

func (s *Source) get(ctx context.Context, name string, required bool) (string, error) {
	resp, err := s.client.GetSecret(ctx, name, "", nil)
	if err != nil {
		if isNotFound(err) {
			if !required {
				s.logger.Debug("optional secret not present", "secret", name)
				return "", nil
			}
			return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
		}
		return "", fmt.Errorf("failed to get secret %s: %w", name, err)
	}
	if resp.Value == nil || *resp.Value == "" {
		return "", fmt.Errorf("%w: %s", ErrEmptySecret, name)
	}
	return *resp.Value, nil
}

func (s *Source) set(ctx context.Context, name, value string) error {
	params := azsecrets.SetSecretParameters{
		Value: to.Ptr(value),
		SecretAttributes: &azsecrets.SecretAttributes{
			Enabled: to.Ptr(true),
		},
		Tags: map[string]*string{
			"type": to.Ptr("pnp-device"),
		},
	}
	if _, err := s.client.SetSecret(ctx, name, params, nil); err != nil {
		return fmt.Errorf("failed to set secret %s: %w", name, err)
	}
	return nil
}

func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}
