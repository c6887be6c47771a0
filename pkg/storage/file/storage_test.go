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

package file

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-pnp-device/pkg/storage"
)

func TestNewEmptyRoot(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestPutGetNested(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, store.Put("tpm/identity.pub", []byte{0x00, 0x01}, nil))

	got, err := store.Get("tpm/identity.pub")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x01}, got)

	info, err := os.Stat(filepath.Join(dir, "tpm", "identity.pub"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestPutCustomPermissions(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, store.Put("cert.pem", []byte("pem"), &storage.Options{Permissions: 0644}))
	info, err := os.Stat(filepath.Join(dir, "cert.pem"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0644), info.Mode().Perm())
}

func TestGetMissing(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get("nope")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestInvalidKeys(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "../escape", "a/../../escape", "/etc/passwd", "nul\x00byte"} {
		t.Run(key, func(t *testing.T) {
			assert.ErrorIs(t, store.Put(key, []byte("v"), nil), storage.ErrInvalidKey)
			_, err := store.Get(key)
			assert.ErrorIs(t, err, storage.ErrInvalidKey)
		})
	}
}

func TestDeleteAndExists(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.Put("hsm/keyinfo", []byte("{}"), nil))
	exists, err := store.Exists("hsm/keyinfo")
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, store.Delete("hsm/keyinfo"))
	exists, err = store.Exists("hsm/keyinfo")
	require.NoError(t, err)
	assert.False(t, exists)
	assert.ErrorIs(t, store.Delete("hsm/keyinfo"), storage.ErrNotFound)
}

func TestList(t *testing.T) {
	store, err := New(t.TempDir())
	require.NoError(t, err)

	for _, k := range []string{"tpm/b", "tpm/a", "hsm/keyinfo"} {
		require.NoError(t, store.Put(k, []byte("v"), nil))
	}
	keys, err := store.List("tpm/")
	require.NoError(t, err)
	assert.Equal(t, []string{"tpm/a", "tpm/b"}, keys)
}
