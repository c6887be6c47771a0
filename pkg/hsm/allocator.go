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

import "fmt"

// Allocator provisions the buffers that back caller-owned material and the
// client's mutable key-info pair. Implementations must be safe for
// concurrent use.
type Allocator interface {
	Alloc(size int) ([]byte, error)
}

// AllocatorFunc adapts a function to the Allocator interface.
type AllocatorFunc func(size int) ([]byte, error)

// Alloc calls f(size).
func (f AllocatorFunc) Alloc(size int) ([]byte, error) {
	return f(size)
}

// HeapAllocator allocates from the Go heap.
type HeapAllocator struct{}

// Alloc returns a zeroed buffer of size bytes.
func (HeapAllocator) Alloc(size int) ([]byte, error) {
	if size < 0 {
		return nil, fmt.Errorf("%w: negative size %d", ErrAllocation, size)
	}
	return make([]byte, size), nil
}

// zero overwrites buf in place.
func zero(buf []byte) {
	for i := range buf {
		buf[i] = 0
	}
}
