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


package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jeremyhahn/go-pnp-device/internal/config"
	"github.com/jeremyhahn/go-pnp-device/pkg/azurekv"
	"github.com/jeremyhahn/go-pnp-device/pkg/hsm"
	"github.com/jeremyhahn/go-pnp-device/pkg/storage"
	"github.com/jeremyhahn/go-pnp-device/pkg/storage/file"
	"github.com/jeremyhahn/go-pnp-device/pkg/storage/memory"
	"github.com/jeremyhahn/go-pnp-device/pkg/tpm2"
)

// identity is the HSM provider setup derived from a configuration. Its
// options are installed as the defaults of the capability tables.
type identity struct {
	store storage.Backend
	vault *azurekv.Source
	opts  []hsm.Option
	tpm   *hsm.TPMInterface
}

// vaultFactory creates the Key Vault source. Tests replace it.
var vaultFactory = func(cfg *azurekv.Config, logger *slog.Logger) (*azurekv.Source, error) {
	return azurekv.NewSource(cfg, logger)
}

func openStorage(cfg config.StorageConfig) (storage.Backend, error) {
	switch cfg.Backend {
	case config.StorageFile:
		store, err := file.New(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open storage: %w", err)
		}
		return store, nil
	default:
		return memory.New(), nil
	}
}

// newIdentity opens storage and collects material from the vault, the
// configured PEM files and the configured key info, in increasing order of
// precedence.
func newIdentity(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*identity, error) {
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, err
	}
	id := &identity{store: store}

	local, err := hsm.LoadMaterialFiles(cfg.HSM.CertFile, cfg.HSM.KeyFile)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	local.RegistrationName = cfg.HSM.RegistrationName
	local.SymmetricKey = cfg.HSM.SymmetricKey

	id.opts = []hsm.Option{
		hsm.WithLogger(logger),
		hsm.WithStorage(store),
	}

	if az := cfg.HSM.AzureKV; az != nil && az.Enabled {
		vault, err := vaultFactory(&azurekv.Config{
			VaultURL:               az.VaultURL,
			TenantID:               az.TenantID,
			ClientID:               az.ClientID,
			ClientSecret:           az.ClientSecret,
			RegistrationNameSecret: az.RegistrationNameSecret,
			SymmetricKeySecret:     az.SymmetricKeySecret,
			CertificateSecret:      az.CertificateSecret,
			PrivateKeySecret:       az.PrivateKeySecret,
		}, logger)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		vaultOpts, err := vault.Options(ctx)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		id.vault = vault
		id.opts = append(id.opts, vaultOpts...)
		logger.Info("Loaded HSM material from Key Vault", "vault", az.VaultURL)
	}
	id.opts = append(id.opts, hsm.WithMaterial(local))

	id.tpm = hsm.TPMTable()
	if t := cfg.HSM.TPM2; t != nil && t.Enabled {
		id.tpm = tpm2.Table(&tpm2.Config{
			Device:       t.DevicePath,
			UseSimulator: t.Simulator,
		}, tpm2.WithStorage(store), tpm2.WithLogger(logger))
	}

	hsm.SetDefaultOptions(id.opts...)
	return id, nil
}

// saveKeyInfo mirrors a new key-info pair to the vault when one is
// configured.
func (id *identity) saveKeyInfo(ctx context.Context, registrationName, symmetricKey string) error {
	if id.vault == nil {
		return nil
	}
	return id.vault.SaveKeyInfo(ctx, registrationName, symmetricKey)
}

func (id *identity) Close() error {
	return id.store.Close()
}
