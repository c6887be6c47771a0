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
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-pnp-device/internal/config"
	"github.com/jeremyhahn/go-pnp-device/pkg/hsm"
	"github.com/jeremyhahn/go-pnp-device/pkg/logging"
)

var (
	showSecrets bool
	signData    string
	activateKey string
)

// hsmCmd represents the hsm command
var hsmCmd = &cobra.Command{
	Use:   "hsm",
	Short: "Inspect the custom HSM capability tables",
	Long: `Create a handle through one of the custom HSM capability tables, read
its material and destroy it again. The configured storage, Key Vault and
TPM settings apply.`,
}

var hsmX509Cmd = &cobra.Command{
	Use:   "x509",
	Short: "Show the X.509 identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withIdentity(cmd, func(ctx context.Context, id *identity, p *Printer) error {
			table := hsm.X509Table()
			h, err := table.Create()
			if err != nil {
				return fmt.Errorf("failed to create X.509 client: %w", err)
			}
			defer table.Destroy(h)

			cn, err := table.GetCommonName(h)
			if err != nil {
				return err
			}
			cert, err := table.GetCertificate(h)
			if err != nil {
				return err
			}
			key, err := table.GetKey(h)
			if err != nil {
				return err
			}
			return p.PrintFields("X.509 identity", []Field{
				{Key: "common_name", Label: "Common name", Value: cn},
				{Key: "certificate", Label: "Certificate", Value: cert},
				{Key: "private_key", Label: "Private key", Value: redact(key)},
			})
		})
	},
}

var hsmTPMCmd = &cobra.Command{
	Use:   "tpm",
	Short: "Show the TPM endorsement and storage root keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withIdentity(cmd, func(ctx context.Context, id *identity, p *Printer) error {
			table := id.tpm
			h, err := table.Create()
			if err != nil {
				return fmt.Errorf("failed to create TPM client: %w", err)
			}
			defer table.Destroy(h)

			if activateKey != "" {
				key, err := base64.StdEncoding.DecodeString(activateKey)
				if err != nil {
					return fmt.Errorf("invalid identity key: %w", err)
				}
				if err := table.ActivateIdentityKey(h, key); err != nil {
					return err
				}
			}

			ek, err := table.GetEndorsementKey(h)
			if err != nil {
				return err
			}
			srk, err := table.GetStorageRootKey(h)
			if err != nil {
				return err
			}
			fields := []Field{
				{Key: "endorsement_key", Label: "Endorsement key", Value: base64.StdEncoding.EncodeToString(ek)},
				{Key: "storage_root_key", Label: "Storage root key", Value: base64.StdEncoding.EncodeToString(srk)},
			}
			if signData != "" {
				sig, err := table.SignWithIdentity(h, []byte(signData))
				if err != nil {
					return err
				}
				fields = append(fields, Field{
					Key: "signature", Label: "Signature", Value: base64.StdEncoding.EncodeToString(sig),
				})
			}
			return p.PrintFields("TPM", fields)
		})
	},
}

var hsmKeyCmd = &cobra.Command{
	Use:   "key",
	Short: "Show the registration name and symmetric key",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withIdentity(cmd, func(ctx context.Context, id *identity, p *Printer) error {
			table := hsm.KeyTable()
			h, err := table.Create()
			if err != nil {
				return fmt.Errorf("failed to create key client: %w", err)
			}
			defer table.Destroy(h)

			name, err := table.GetRegistrationName(h)
			if err != nil {
				return err
			}
			key, err := table.GetSymmetricKey(h)
			if err != nil {
				return err
			}
			return p.PrintFields("Symmetric key", []Field{
				{Key: "registration_name", Label: "Registration name", Value: name},
				{Key: "symmetric_key", Label: "Symmetric key", Value: redact(key)},
			})
		})
	},
}

var hsmSetKeyInfoCmd = &cobra.Command{
	Use:   "set-key-info <registration-name> <symmetric-key>",
	Short: "Replace the registration name and symmetric key",
	Long: `Replace the registration name and symmetric key. The pair is persisted
in the configured storage and, when Key Vault is enabled, written back to
the vault.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withIdentity(cmd, func(ctx context.Context, id *identity, p *Printer) error {
			table := hsm.KeyTable()
			h, err := table.Create()
			if err != nil {
				return fmt.Errorf("failed to create key client: %w", err)
			}
			defer table.Destroy(h)

			if err := table.SetKeyInfo(h, args[0], args[1]); err != nil {
				return err
			}
			if err := id.saveKeyInfo(ctx, args[0], args[1]); err != nil {
				return err
			}
			return p.PrintSuccess(fmt.Sprintf("Key info updated for %s", args[0]))
		})
	},
}

func init() {
	hsmCmd.PersistentFlags().BoolVar(&showSecrets, "show-secrets", false,
		"print private and symmetric keys instead of redacting them")
	hsmTPMCmd.Flags().StringVar(&signData, "sign", "", "sign data with the identity key")
	hsmTPMCmd.Flags().StringVar(&activateKey, "activate", "", "base64 identity key to activate first")

	hsmCmd.AddCommand(hsmX509Cmd)
	hsmCmd.AddCommand(hsmTPMCmd)
	hsmCmd.AddCommand(hsmKeyCmd)
	hsmCmd.AddCommand(hsmSetKeyInfoCmd)
}

// withIdentity loads the configuration, installs the HSM defaults and runs
// fn with a printer on the command output.
func withIdentity(cmd *cobra.Command, fn func(context.Context, *identity, *Printer) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	return runWithIdentity(cmd.Context(), cfg, logger, NewPrinter(globalFlags.OutputFormat, cmd.OutOrStdout()), fn)
}

func runWithIdentity(ctx context.Context, cfg *config.Config, logger *slog.Logger, p *Printer,
	fn func(context.Context, *identity, *Printer) error) error {
	if err := hsm.Init(); err != nil {
		return fmt.Errorf("failed to initialize HSM: %w", err)
	}
	defer hsm.Deinit()

	id, err := newIdentity(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = id.Close() }()

	printVerbose("storage backend: %s", cfg.Storage.Backend)
	return fn(ctx, id, p)
}

const redactedText = "********"

func redact(secret string) string {
	if showSecrets || secret == "" {
		return secret
	}
	return redactedText
}
