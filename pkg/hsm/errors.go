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

package hsm

import "errors"

var (
	// ErrInvalidHandle is returned when an operation is invoked on a nil handle.
	ErrInvalidHandle = errors.New("hsm: invalid handle")

	// ErrInvalidParameter is returned for missing or empty arguments.
	ErrInvalidParameter = errors.New("hsm: invalid parameter")

	// ErrAllocation is returned when a buffer for caller-owned material
	// cannot be allocated.
	ErrAllocation = errors.New("hsm: allocation failed")

	// ErrClosed is returned when a destroyed handle is used.
	ErrClosed = errors.New("hsm: handle closed")

	// ErrInvalidMaterial is returned when certificate or key material cannot
	// be decoded.
	ErrInvalidMaterial = errors.New("hsm: invalid material")
)
