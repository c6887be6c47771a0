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

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-pnp-device/pkg/logging"
	"github.com/jeremyhahn/go-pnp-device/pkg/storage"
	"github.com/jeremyhahn/go-pnp-device/pkg/storage/memory"
)

// failingAllocator fails every allocation after the first n succeed.
type failingAllocator struct {
	mu    sync.Mutex
	n     int
	calls int
}

func (a *failingAllocator) Alloc(size int) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.calls > a.n {
		return nil, errors.New("out of memory")
	}
	return make([]byte, size), nil
}

func (a *failingAllocator) allow(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.n = a.calls + n
}

func newTestClient(t *testing.T, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithLogger(logging.Discard())}, opts...)
	c, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNew_Defaults(t *testing.T) {
	c := newTestClient(t)

	cert, err := c.Certificate()
	require.NoError(t, err)
	assert.Equal(t, DefaultCertificate, cert)

	key, err := c.Key()
	require.NoError(t, err)
	assert.Equal(t, DefaultPrivateKey, key)

	cn, err := c.CommonName()
	require.NoError(t, err)
	assert.Equal(t, "custom-hsm-example", cn)

	symm, err := c.SymmetricKey()
	require.NoError(t, err)
	assert.Equal(t, "Symmetric Key value", symm)

	reg, err := c.RegistrationName()
	require.NoError(t, err)
	assert.Equal(t, "Registration Name", reg)
}

func TestNew_AllocationFailure(t *testing.T) {
	tests := []struct {
		name  string
		allow int
	}{
		{"symmetric key", 0},
		{"registration name", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alloc := &failingAllocator{n: tt.allow}
			c, err := New(WithAllocator(alloc), WithLogger(logging.Discard()))
			assert.Nil(t, c)
			assert.ErrorIs(t, err, ErrAllocation)
		})
	}
}

func TestEndorsementKey(t *testing.T) {
	c := newTestClient(t)

	ek, err := c.EndorsementKey()
	require.NoError(t, err)
	require.Len(t, ek, 17)
	assert.Equal(t, []byte("Endorsement key\r\n"), ek)

	ek[0] = 'X'
	again, err := c.EndorsementKey()
	require.NoError(t, err)
	assert.Equal(t, byte('E'), again[0])
}

func TestStorageRootKey(t *testing.T) {
	c := newTestClient(t)

	srk, err := c.StorageRootKey()
	require.NoError(t, err)
	assert.Len(t, srk, 16)
	assert.Equal(t, []byte("Store root key\r\n"), srk)
}

func TestSignWithIdentity(t *testing.T) {
	c := newTestClient(t)

	sig, err := c.SignWithIdentity([]byte("anything"))
	require.NoError(t, err)
	assert.Equal(t, []byte("Encrypted "), sig)

	sig2, err := c.SignWithIdentity([]byte{})
	require.NoError(t, err)
	assert.Equal(t, sig, sig2)

	_, err = c.SignWithIdentity(nil)
	assert.ErrorIs(t, err, ErrInvalidParameter)
}

func TestActivateIdentityKey(t *testing.T) {
	c := newTestClient(t)

	assert.NoError(t, c.ActivateIdentityKey([]byte{0x01, 0x02}))
	assert.ErrorIs(t, c.ActivateIdentityKey(nil), ErrInvalidParameter)
	assert.ErrorIs(t, c.ActivateIdentityKey([]byte{}), ErrInvalidParameter)
}

func TestSetKeyInfo(t *testing.T) {
	c := newTestClient(t)

	require.NoError(t, c.SetKeyInfo("A", "B"))

	reg, err := c.RegistrationName()
	require.NoError(t, err)
	assert.Equal(t, "A", reg)

	symm, err := c.SymmetricKey()
	require.NoError(t, err)
	assert.Equal(t, "B", symm)
}

func TestSetKeyInfo_InvalidParameter(t *testing.T) {
	c := newTestClient(t)

	assert.ErrorIs(t, c.SetKeyInfo("", "B"), ErrInvalidParameter)
	assert.ErrorIs(t, c.SetKeyInfo("A", ""), ErrInvalidParameter)

	reg, _ := c.RegistrationName()
	assert.Equal(t, DefaultRegistrationName, reg)
}

func TestSetKeyInfo_AllocationFailureLeavesValues(t *testing.T) {
	for _, allow := range []int{0, 1} {
		alloc := &failingAllocator{n: 2}
		c := newTestClient(t, WithAllocator(alloc))

		alloc.allow(allow)
		err := c.SetKeyInfo("A", "B")
		assert.ErrorIs(t, err, ErrAllocation)

		alloc.allow(10)
		reg, err := c.RegistrationName()
		require.NoError(t, err)
		assert.Equal(t, DefaultRegistrationName, reg)
		symm, err := c.SymmetricKey()
		require.NoError(t, err)
		assert.Equal(t, DefaultSymmetricKey, symm)
	}
}

func TestGetters_AllocationFailure(t *testing.T) {
	alloc := &failingAllocator{n: 2}
	c := newTestClient(t, WithAllocator(alloc))

	_, err := c.Certificate()
	assert.ErrorIs(t, err, ErrAllocation)
	_, err = c.EndorsementKey()
	assert.ErrorIs(t, err, ErrAllocation)
}

func TestNoAliasing(t *testing.T) {
	c := newTestClient(t)

	first, err := c.SymmetricKey()
	require.NoError(t, err)
	require.NoError(t, c.SetKeyInfo("reg", "new-key"))
	assert.Equal(t, DefaultSymmetricKey, first)
}

func TestNilHandle(t *testing.T) {
	var c *Client

	assert.NoError(t, c.Close())

	_, err := c.Certificate()
	assert.ErrorIs(t, err, ErrInvalidHandle)
	_, err = c.EndorsementKey()
	assert.ErrorIs(t, err, ErrInvalidHandle)
	_, err = c.SignWithIdentity([]byte("x"))
	assert.ErrorIs(t, err, ErrInvalidHandle)
	assert.ErrorIs(t, c.ActivateIdentityKey([]byte("x")), ErrInvalidHandle)
	assert.ErrorIs(t, c.SetKeyInfo("a", "b"), ErrInvalidHandle)
}

func TestClose(t *testing.T) {
	c, err := New(WithLogger(logging.Discard()))
	require.NoError(t, err)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err = c.SymmetricKey()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, c.SetKeyInfo("a", "b"), ErrClosed)
	assert.ErrorIs(t, c.ActivateIdentityKey([]byte("x")), ErrClosed)
}

func TestWithMaterial(t *testing.T) {
	c := newTestClient(t, WithMaterial(Material{
		CommonName:       "device-01",
		RegistrationName: "device-01",
	}))

	cn, err := c.CommonName()
	require.NoError(t, err)
	assert.Equal(t, "device-01", cn)

	cert, err := c.Certificate()
	require.NoError(t, err)
	assert.Equal(t, DefaultCertificate, cert)

	symm, err := c.SymmetricKey()
	require.NoError(t, err)
	assert.Equal(t, DefaultSymmetricKey, symm)
}

func TestStorage_PersistsKeyInfo(t *testing.T) {
	store := memory.New()
	c := newTestClient(t, WithStorage(store))
	require.NoError(t, c.SetKeyInfo("persisted", "secret"))

	ok, err := store.Exists(KeyInfoStorageKey)
	require.NoError(t, err)
	assert.True(t, ok)

	reopened := newTestClient(t, WithStorage(store))
	reg, err := reopened.RegistrationName()
	require.NoError(t, err)
	assert.Equal(t, "persisted", reg)
	symm, err := reopened.SymmetricKey()
	require.NoError(t, err)
	assert.Equal(t, "secret", symm)
}

type brokenStore struct {
	storage.Backend
}

func (brokenStore) Get(string) ([]byte, error) { return nil, storage.ErrNotFound }

func (brokenStore) Put(string, []byte, *storage.Options) error {
	return errors.New("disk full")
}

func TestStorage_PersistFailureLeavesValues(t *testing.T) {
	c := newTestClient(t, WithStorage(brokenStore{}))

	err := c.SetKeyInfo("A", "B")
	require.Error(t, err)

	reg, err := c.RegistrationName()
	require.NoError(t, err)
	assert.Equal(t, DefaultRegistrationName, reg)
}

func TestConcurrentSetKeyInfo(t *testing.T) {
	c := newTestClient(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = c.SetKeyInfo("name", "key")
		}()
		go func() {
			defer wg.Done()
			_, _ = c.RegistrationName()
		}()
	}
	wg.Wait()

	reg, err := c.RegistrationName()
	require.NoError(t, err)
	assert.Equal(t, "name", reg)
}
