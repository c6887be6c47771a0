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

package tpm2

import "errors"

var (
	// ErrIdentityNotActivated is returned by SignWithIdentity before an
	// identity key has been activated.
	ErrIdentityNotActivated = errors.New("tpm: identity key not activated")

	// ErrOpeningDevice is returned when the TPM character device cannot be
	// opened.
	ErrOpeningDevice = errors.New("tpm: error opening device")

	// ErrInvalidConfig is returned when neither a device nor the simulator
	// is configured.
	ErrInvalidConfig = errors.New("tpm: invalid TPM transport configuration")

	// ErrIdentityTooLarge is returned when an identity key exceeds the
	// sealed data limit.
	ErrIdentityTooLarge = errors.New("tpm: identity key too large")
)
