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

// Package tpm2 provides a TPM 2.0 backed implementation of the HSM TPM
// capability. The endorsement and storage root keys are the public areas of
// the standard RSA EK and SRK primaries; the identity key is sealed under
// the SRK and its blobs are kept in a storage backend.
package tpm2

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/go-tpm/tpm2"
	"github.com/google/go-tpm/tpm2/transport"

	"github.com/jeremyhahn/go-pnp-device/pkg/hsm"
	"github.com/jeremyhahn/go-pnp-device/pkg/logging"
	"github.com/jeremyhahn/go-pnp-device/pkg/metrics"
	"github.com/jeremyhahn/go-pnp-device/pkg/storage"
	"github.com/jeremyhahn/go-pnp-device/pkg/storage/memory"
)

const (
	// ProviderName is the provider label reported in metrics.
	ProviderName = "tpm2"

	// DefaultDevice is the kernel resource-managed TPM device.
	DefaultDevice = "/dev/tpmrm0"

	identityPublicKey  = "tpm/identity.pub"
	identityPrivateKey = "tpm/identity.priv"

	// maxSealedData is MAX_SYM_DATA from the TPM 2.0 library.
	maxSealedData = 128
)

var simulatorOpener func() (transport.TPM, io.Closer, error)

// sealTemplate describes the keyed-hash object holding the identity key.
var sealTemplate = tpm2.TPMTPublic{
	Type:    tpm2.TPMAlgKeyedHash,
	NameAlg: tpm2.TPMAlgSHA256,
	ObjectAttributes: tpm2.TPMAObject{
		FixedTPM:     true,
		FixedParent:  true,
		UserWithAuth: true,
		NoDA:         true,
	},
	Parameters: tpm2.NewTPMUPublicParms(
		tpm2.TPMAlgKeyedHash,
		&tpm2.TPMSKeyedHashParms{
			Scheme: tpm2.TPMTKeyedHashScheme{
				Scheme: tpm2.TPMAlgNull,
			},
		},
	),
}

// Config selects the TPM transport.
type Config struct {
	// Device is the TPM character device. Defaults to /dev/tpmrm0.
	Device string `yaml:"device" json:"device"`

	// UseSimulator opens the embedded simulator instead of a device.
	// Requires the tpm_simulator build tag.
	UseSimulator bool `yaml:"simulator" json:"simulator"`
}

// Option configures a TPM.
type Option func(*TPM)

// WithStorage sets the backend holding the sealed identity blobs.
func WithStorage(store storage.Backend) Option {
	return func(t *TPM) { t.store = store }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *TPM) { t.logger = logging.OrDefault(logger) }
}

// TPM implements hsm.TPMClient on a TPM 2.0 device.
type TPM struct {
	mu        sync.Mutex
	transport transport.TPM
	closer    io.Closer
	store     storage.Backend
	logger    *slog.Logger

	srkHandle tpm2.TPMHandle
	srkName   tpm2.TPM2BName
	srkLoaded bool

	closed bool
}

var _ hsm.TPMClient = (*TPM)(nil)

// Open connects to the TPM selected by cfg.
func Open(cfg *Config, opts ...Option) (*TPM, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	var (
		t      transport.TPM
		closer io.Closer
		err    error
	)
	switch {
	case cfg.UseSimulator:
		t, closer, err = simulatorOpener()
		if err != nil {
			return nil, err
		}
	default:
		device := cfg.Device
		if device == "" {
			device = DefaultDevice
		}
		f, ferr := os.OpenFile(device, os.O_RDWR, 0)
		if ferr != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrOpeningDevice, device, ferr)
		}
		t, closer = transport.FromReadWriter(f), f
	}
	return New(t, closer, opts...), nil
}

// New wraps an open transport. closer, if non-nil, is closed by Close.
func New(t transport.TPM, closer io.Closer, opts ...Option) *TPM {
	tpm := &TPM{
		transport: t,
		closer:    closer,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(tpm)
	}
	if tpm.store == nil {
		tpm.store = memory.New()
	}
	return tpm
}

// Table returns a TPM capability table whose Create opens a new TPM
// connection per handle.
func Table(cfg *Config, opts ...Option) *hsm.TPMInterface {
	return hsm.NewTPMInterface(func() (hsm.TPMClient, error) {
		t, err := Open(cfg, opts...)
		if err != nil {
			return nil, err
		}
		return t, nil
	})
}

// Close flushes the cached SRK and releases the transport.
func (t *TPM) Close() error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.srkLoaded {
		t.flush(t.srkHandle)
		t.srkLoaded = false
	}
	if t.closer != nil {
		return t.closer.Close()
	}
	return nil
}

// EndorsementKey returns the marshalled TPM2B_PUBLIC of the RSA EK.
func (t *TPM) EndorsementKey() ([]byte, error) {
	return t.primaryPublic(metrics.OpGetEndorsementKey, tpm2.TPMRHEndorsement, tpm2.RSAEKTemplate)
}

// StorageRootKey returns the marshalled TPM2B_PUBLIC of the RSA SRK.
func (t *TPM) StorageRootKey() ([]byte, error) {
	return t.primaryPublic(metrics.OpGetStorageRootKey, tpm2.TPMRHOwner, tpm2.RSASRKTemplate)
}

func (t *TPM) primaryPublic(op string, hierarchy tpm2.TPMHandle, template tpm2.TPMTPublic) ([]byte, error) {
	if t == nil {
		return nil, hsm.ErrInvalidHandle
	}
	start := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, t.observe(op, start, hsm.ErrClosed)
	}

	rsp, err := tpm2.CreatePrimary{
		PrimaryHandle: tpm2.AuthHandle{
			Handle: hierarchy,
			Auth:   tpm2.PasswordAuth(nil),
		},
		InPublic: tpm2.New2B(template),
	}.Execute(t.transport)
	if err != nil {
		t.logger.Error("failed to create primary", "operation", op, "error", err)
		return nil, t.observe(op, start, fmt.Errorf("tpm: create primary: %w", err))
	}
	defer t.flush(rsp.ObjectHandle)

	t.observe(op, start, nil)
	return tpm2.Marshal(rsp.OutPublic), nil
}

// ActivateIdentityKey seals key under the SRK and persists the resulting
// blobs, replacing any previous identity.
func (t *TPM) ActivateIdentityKey(key []byte) error {
	if t == nil {
		return hsm.ErrInvalidHandle
	}
	start := time.Now()
	op := metrics.OpActivateIdentityKey
	if len(key) == 0 {
		return t.observe(op, start, hsm.ErrInvalidParameter)
	}
	if len(key) > maxSealedData {
		return t.observe(op, start, fmt.Errorf("%w: %d bytes, max %d", ErrIdentityTooLarge, len(key), maxSealedData))
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return t.observe(op, start, hsm.ErrClosed)
	}
	if err := t.loadSRK(); err != nil {
		return t.observe(op, start, err)
	}

	createRsp, err := tpm2.Create{
		ParentHandle: tpm2.AuthHandle{
			Handle: t.srkHandle,
			Name:   t.srkName,
			Auth:   tpm2.PasswordAuth(nil),
		},
		InPublic: tpm2.New2B(sealTemplate),
		InSensitive: tpm2.TPM2BSensitiveCreate{
			Sensitive: &tpm2.TPMSSensitiveCreate{
				Data: tpm2.NewTPMUSensitiveCreate(
					&tpm2.TPM2BSensitiveData{
						Buffer: key,
					},
				),
			},
		},
	}.Execute(t.transport)
	if err != nil {
		t.logger.Error("failed to seal identity key", "error", err)
		return t.observe(op, start, fmt.Errorf("tpm: seal identity key: %w", err))
	}

	opts := &storage.Options{Permissions: 0600}
	if err := t.store.Put(identityPrivateKey, tpm2.Marshal(createRsp.OutPrivate), opts); err != nil {
		return t.observe(op, start, fmt.Errorf("tpm: save private blob: %w", err))
	}
	if err := t.store.Put(identityPublicKey, tpm2.Marshal(createRsp.OutPublic), opts); err != nil {
		_ = t.store.Delete(identityPrivateKey)
		return t.observe(op, start, fmt.Errorf("tpm: save public blob: %w", err))
	}

	t.logger.Info("identity key activated")
	t.observe(op, start, nil)
	return nil
}

// SignWithIdentity returns HMAC-SHA256 of data keyed with the unsealed
// identity key.
func (t *TPM) SignWithIdentity(data []byte) ([]byte, error) {
	if t == nil {
		return nil, hsm.ErrInvalidHandle
	}
	start := time.Now()
	op := metrics.OpSignWithIdentity
	if data == nil {
		return nil, t.observe(op, start, hsm.ErrInvalidParameter)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, t.observe(op, start, hsm.ErrClosed)
	}

	secret, err := t.unsealIdentity()
	if err != nil {
		return nil, t.observe(op, start, err)
	}
	defer func() {
		for i := range secret {
			secret[i] = 0
		}
	}()

	mac := hmac.New(sha256.New, secret)
	mac.Write(data)
	t.observe(op, start, nil)
	return mac.Sum(nil), nil
}

func (t *TPM) unsealIdentity() ([]byte, error) {
	privBlob, err := t.store.Get(identityPrivateKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrIdentityNotActivated
	} else if err != nil {
		return nil, fmt.Errorf("tpm: load private blob: %w", err)
	}
	pubBlob, err := t.store.Get(identityPublicKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrIdentityNotActivated
	} else if err != nil {
		return nil, fmt.Errorf("tpm: load public blob: %w", err)
	}

	tpmPrivate, err := tpm2.Unmarshal[tpm2.TPM2BPrivate](privBlob)
	if err != nil {
		return nil, fmt.Errorf("tpm: unmarshal private blob: %w", err)
	}
	tpmPublic, err := tpm2.Unmarshal[tpm2.TPM2BPublic](pubBlob)
	if err != nil {
		return nil, fmt.Errorf("tpm: unmarshal public blob: %w", err)
	}

	if err := t.loadSRK(); err != nil {
		return nil, err
	}

	loadRsp, err := tpm2.Load{
		ParentHandle: tpm2.AuthHandle{
			Handle: t.srkHandle,
			Name:   t.srkName,
			Auth:   tpm2.PasswordAuth(nil),
		},
		InPrivate: *tpmPrivate,
		InPublic:  *tpmPublic,
	}.Execute(t.transport)
	if err != nil {
		return nil, fmt.Errorf("tpm: load identity key: %w", err)
	}
	defer t.flush(loadRsp.ObjectHandle)

	unsealRsp, err := tpm2.Unseal{
		ItemHandle: tpm2.AuthHandle{
			Handle: loadRsp.ObjectHandle,
			Name:   loadRsp.Name,
			Auth:   tpm2.PasswordAuth(nil),
		},
	}.Execute(t.transport)
	if err != nil {
		return nil, fmt.Errorf("tpm: unseal identity key: %w", err)
	}
	return unsealRsp.OutData.Buffer, nil
}

// loadSRK creates the SRK primary once per connection. Callers hold t.mu.
func (t *TPM) loadSRK() error {
	if t.srkLoaded {
		return nil
	}
	rsp, err := tpm2.CreatePrimary{
		PrimaryHandle: tpm2.AuthHandle{
			Handle: tpm2.TPMRHOwner,
			Auth:   tpm2.PasswordAuth(nil),
		},
		InPublic: tpm2.New2B(tpm2.RSASRKTemplate),
	}.Execute(t.transport)
	if err != nil {
		t.logger.Error("failed to create SRK", "error", err)
		return fmt.Errorf("tpm: create SRK: %w", err)
	}
	t.srkHandle = rsp.ObjectHandle
	t.srkName = rsp.Name
	t.srkLoaded = true
	t.logger.Debug("SRK loaded", "handle", fmt.Sprintf("0x%x", uint32(rsp.ObjectHandle)))
	return nil
}

func (t *TPM) flush(handle tpm2.TPMHandle) {
	if _, err := (tpm2.FlushContext{FlushHandle: handle}).Execute(t.transport); err != nil {
		t.logger.Error("failed to flush handle", "handle", fmt.Sprintf("0x%x", uint32(handle)), "error", err)
	}
}

// observe records the operation and returns err unchanged.
func (t *TPM) observe(op string, start time.Time, err error) error {
	metrics.RecordHSMOperation(op, ProviderName, metrics.StatusOf(err), time.Since(start).Seconds())
	return err
}
