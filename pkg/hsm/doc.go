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

// Package hsm implements a custom hardware security module provider for
// device provisioning. A single Client holds X.509 material, TPM endorsement
// and storage-root key blobs, and a mutable registration-name/symmetric-key
// pair. Hosts consume it through three fixed capability tables:
//
//   - X.509:         Create, Destroy, GetCertificate, GetKey, GetCommonName
//   - TPM:           Create, Destroy, ActivateIdentityKey, GetEndorsementKey,
//     GetStorageRootKey, SignWithIdentity
//   - Symmetric key: Create, Destroy, GetSymmetricKey, GetRegistrationName,
//     SetKeyInfo
//
// The default provider returns canned sample material. Real deployments
// replace it with files (LoadMaterialFiles), Azure Key Vault secrets
// (package pkg/azurekv) or a TPM (package pkg/tpm2).
//
// Every value handed to a caller is a freshly allocated copy; callers own
// it and mutating it never affects the provider.
package hsm
