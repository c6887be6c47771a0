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

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-pnp-device/pkg/hsm"
	"github.com/jeremyhahn/go-pnp-device/pkg/logging"
)

var errTransport = errors.New("transport unavailable")

// failingTransport rejects every command.
type failingTransport struct {
	sent int
}

func (f *failingTransport) Send([]byte) ([]byte, error) {
	f.sent++
	return nil, errTransport
}

type countingCloser struct {
	closed int
}

func (c *countingCloser) Close() error {
	c.closed++
	return nil
}

func TestOpen_MissingDevice(t *testing.T) {
	_, err := Open(&Config{Device: filepath.Join(t.TempDir(), "tpm0")})
	assert.ErrorIs(t, err, ErrOpeningDevice)
}

func TestNilHandle(t *testing.T) {
	var tpm *TPM

	assert.NoError(t, tpm.Close())
	_, err := tpm.EndorsementKey()
	assert.ErrorIs(t, err, hsm.ErrInvalidHandle)
	_, err = tpm.SignWithIdentity([]byte("x"))
	assert.ErrorIs(t, err, hsm.ErrInvalidHandle)
	assert.ErrorIs(t, tpm.ActivateIdentityKey([]byte("x")), hsm.ErrInvalidHandle)
}

func TestActivateIdentityKey_Validation(t *testing.T) {
	ft := &failingTransport{}
	tpm := New(ft, nil, WithLogger(logging.Discard()))

	assert.ErrorIs(t, tpm.ActivateIdentityKey(nil), hsm.ErrInvalidParameter)
	assert.ErrorIs(t, tpm.ActivateIdentityKey(make([]byte, maxSealedData+1)), ErrIdentityTooLarge)
	assert.Zero(t, ft.sent)
}

func TestSignWithIdentity_NotActivated(t *testing.T) {
	ft := &failingTransport{}
	tpm := New(ft, nil, WithLogger(logging.Discard()))

	_, err := tpm.SignWithIdentity(nil)
	assert.ErrorIs(t, err, hsm.ErrInvalidParameter)

	_, err = tpm.SignWithIdentity([]byte("payload"))
	assert.ErrorIs(t, err, ErrIdentityNotActivated)
	assert.Zero(t, ft.sent)
}

func TestEndorsementKey_TransportError(t *testing.T) {
	tpm := New(&failingTransport{}, nil, WithLogger(logging.Discard()))

	_, err := tpm.EndorsementKey()
	assert.ErrorIs(t, err, errTransport)

	_, err = tpm.StorageRootKey()
	assert.ErrorIs(t, err, errTransport)

	assert.ErrorIs(t, tpm.ActivateIdentityKey([]byte("identity")), errTransport)
}

func TestClose(t *testing.T) {
	closer := &countingCloser{}
	tpm := New(&failingTransport{}, closer, WithLogger(logging.Discard()))

	require.NoError(t, tpm.Close())
	require.NoError(t, tpm.Close())
	assert.Equal(t, 1, closer.closed)

	_, err := tpm.EndorsementKey()
	assert.ErrorIs(t, err, hsm.ErrClosed)
	assert.ErrorIs(t, tpm.ActivateIdentityKey([]byte("x")), hsm.ErrClosed)
}

func TestTable_OpenError(t *testing.T) {
	table := Table(&Config{Device: filepath.Join(t.TempDir(), "tpm0")})

	h, err := table.Create()
	assert.Nil(t, h)
	assert.ErrorIs(t, err, ErrOpeningDevice)

	_, err = table.GetEndorsementKey(h)
	assert.ErrorIs(t, err, hsm.ErrInvalidHandle)
}
