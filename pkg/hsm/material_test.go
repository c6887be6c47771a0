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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-pnp-device/internal/testutil"
	"github.com/jeremyhahn/go-pnp-device/pkg/logging"
)

func writeTestIdentity(t *testing.T, cn string) (certPath, keyPath string) {
	t.Helper()

	ca, err := testutil.GenerateTestCA()
	require.NoError(t, err)
	cert, err := testutil.GenerateTestDeviceCert(ca, cn)
	require.NoError(t, err)

	certPath, keyPath, err = cert.WriteFiles(t.TempDir(), "device")
	require.NoError(t, err)
	return certPath, keyPath
}

func TestLoadMaterialFiles(t *testing.T) {
	certPath, keyPath := writeTestIdentity(t, "numaker-01")

	m, err := LoadMaterialFiles(certPath, keyPath)
	require.NoError(t, err)
	assert.Equal(t, "numaker-01", m.CommonName)
	assert.Contains(t, m.Certificate, "BEGIN CERTIFICATE")
	assert.Contains(t, m.PrivateKey, "BEGIN PRIVATE KEY")

	c, err := New(WithMaterial(m), WithLogger(logging.Discard()))
	require.NoError(t, err)
	defer c.Close()

	pair, err := X509KeyPair(c)
	require.NoError(t, err)
	assert.Len(t, pair.Certificate, 1)
}

func TestLoadMaterialFiles_Errors(t *testing.T) {
	_, err := LoadMaterialFiles(filepath.Join(t.TempDir(), "missing.crt"), "")
	assert.Error(t, err)

	garbage := filepath.Join(t.TempDir(), "garbage.pem")
	require.NoError(t, os.WriteFile(garbage, []byte("not pem"), 0600))

	_, err = LoadMaterialFiles(garbage, "")
	assert.ErrorIs(t, err, ErrInvalidMaterial)
	_, err = LoadMaterialFiles("", garbage)
	assert.ErrorIs(t, err, ErrInvalidMaterial)
}

func TestX509KeyPair_SampleMaterial(t *testing.T) {
	c, err := New(WithLogger(logging.Discard()))
	require.NoError(t, err)
	defer c.Close()

	_, err = X509KeyPair(c)
	assert.ErrorIs(t, err, ErrInvalidMaterial)

	_, err = X509KeyPair(nil)
	assert.ErrorIs(t, err, ErrInvalidHandle)
}
