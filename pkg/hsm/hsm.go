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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/jeremyhahn/go-pnp-device/pkg/logging"
	"github.com/jeremyhahn/go-pnp-device/pkg/metrics"
	"github.com/jeremyhahn/go-pnp-device/pkg/storage"
)

// ProviderCustom is the provider label reported in metrics for Client.
const ProviderCustom = "custom"

// KeyInfoStorageKey is the storage key under which the registration name
// and symmetric key are persisted when a storage backend is configured.
const KeyInfoStorageKey = "hsm/keyinfo"

// Client is the HSM capability object. The zero value is not usable; create
// clients with New.
type Client struct {
	mu       sync.RWMutex
	alloc    Allocator
	logger   *slog.Logger
	store    storage.Backend
	material Material

	// owned by the client, replaced atomically by SetKeyInfo
	symmetricKey     []byte
	registrationName []byte

	closed bool
}

// Option configures a Client.
type Option func(*Client)

// WithMaterial overrides the sample material. Empty fields keep the
// defaults.
func WithMaterial(m Material) Option {
	return func(c *Client) {
		c.material = m.merge(c.material)
	}
}

// WithAllocator sets the allocator used for owned and returned buffers.
func WithAllocator(a Allocator) Option {
	return func(c *Client) {
		if a != nil {
			c.alloc = a
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logging.OrDefault(logger)
	}
}

// WithStorage persists the key-info pair in store. An existing pair is
// loaded at construction.
func WithStorage(store storage.Backend) Option {
	return func(c *Client) {
		c.store = store
	}
}

type keyInfo struct {
	RegistrationName string `json:"registration_name"`
	SymmetricKey     string `json:"symmetric_key"`
}

// New creates a Client. All owned buffers are allocated through the
// configured Allocator; if any allocation fails nothing is retained and
// an error wrapping ErrAllocation is returned.
func New(opts ...Option) (*Client, error) {
	start := time.Now()
	c := &Client{
		alloc:    HeapAllocator{},
		logger:   slog.Default(),
		material: DefaultMaterial(),
	}
	for _, opt := range opts {
		opt(c)
	}

	err := c.init()
	c.observe(metrics.OpCreate, start, err)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) init() error {
	info := keyInfo{
		RegistrationName: c.material.RegistrationName,
		SymmetricKey:     c.material.SymmetricKey,
	}

	if c.store != nil {
		data, err := c.store.Get(KeyInfoStorageKey)
		switch {
		case err == nil:
			var persisted keyInfo
			if err := json.Unmarshal(data, &persisted); err != nil {
				return fmt.Errorf("failed to decode persisted key info: %w", err)
			}
			if persisted.RegistrationName != "" && persisted.SymmetricKey != "" {
				info = persisted
			}
		case errors.Is(err, storage.ErrNotFound):
		default:
			return fmt.Errorf("failed to load persisted key info: %w", err)
		}
	}

	symm, err := c.dup(info.SymmetricKey)
	if err != nil {
		c.logger.Error("Failed allocating symmetric key", "error", err)
		return err
	}
	reg, err := c.dup(info.RegistrationName)
	if err != nil {
		zero(symm)
		c.logger.Error("Failed allocating registration name", "error", err)
		return err
	}
	c.symmetricKey = symm
	c.registrationName = reg
	return nil
}

// Close releases the owned key material. Close on a nil or already closed
// client does nothing.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	start := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	zero(c.symmetricKey)
	zero(c.registrationName)
	c.symmetricKey = nil
	c.registrationName = nil
	c.closed = true
	c.observe(metrics.OpDestroy, start, nil)
	return nil
}

// Certificate returns a copy of the certificate PEM.
func (c *Client) Certificate() (string, error) {
	return c.readString(metrics.OpGetCertificate, func() string { return c.material.Certificate })
}

// Key returns a copy of the private key PEM.
func (c *Client) Key() (string, error) {
	return c.readString(metrics.OpGetKey, func() string { return c.material.PrivateKey })
}

// CommonName returns a copy of the certificate common name.
func (c *Client) CommonName() (string, error) {
	return c.readString(metrics.OpGetCommonName, func() string { return c.material.CommonName })
}

// EndorsementKey returns a newly allocated copy of the endorsement key.
func (c *Client) EndorsementKey() ([]byte, error) {
	return c.readBytes(metrics.OpGetEndorsementKey, func() []byte { return c.material.EndorsementKey })
}

// StorageRootKey returns a newly allocated copy of the storage root key.
func (c *Client) StorageRootKey() ([]byte, error) {
	return c.readBytes(metrics.OpGetStorageRootKey, func() []byte { return c.material.StorageRootKey })
}

// SignWithIdentity returns a sample signature. The input is only checked
// for presence.
func (c *Client) SignWithIdentity(data []byte) ([]byte, error) {
	if c == nil {
		return nil, ErrInvalidHandle
	}
	if data == nil {
		return nil, c.fail(metrics.OpSignWithIdentity, ErrInvalidParameter)
	}
	return c.readBytes(metrics.OpSignWithIdentity, func() []byte {
		return identitySignature[:identitySignatureSize]
	})
}

// ActivateIdentityKey accepts an identity key. The sample provider only
// validates it.
func (c *Client) ActivateIdentityKey(key []byte) error {
	if c == nil {
		return ErrInvalidHandle
	}
	start := time.Now()
	var err error
	switch {
	case len(key) == 0:
		err = ErrInvalidParameter
	default:
		c.mu.RLock()
		if c.closed {
			err = ErrClosed
		}
		c.mu.RUnlock()
	}
	c.observe(metrics.OpActivateIdentityKey, start, err)
	return err
}

// SymmetricKey returns a copy of the current symmetric key.
func (c *Client) SymmetricKey() (string, error) {
	return c.readString(metrics.OpGetSymmetricKey, func() string { return string(c.symmetricKey) })
}

// RegistrationName returns a copy of the current registration name.
func (c *Client) RegistrationName() (string, error) {
	return c.readString(metrics.OpGetRegistrationName, func() string { return string(c.registrationName) })
}

// SetKeyInfo replaces the registration name and symmetric key. Both values
// are copied before either is installed; on any failure the client keeps
// its previous values.
func (c *Client) SetKeyInfo(registrationName, symmetricKey string) error {
	if c == nil {
		return ErrInvalidHandle
	}
	start := time.Now()
	if registrationName == "" || symmetricKey == "" {
		c.logger.Error("Invalid parameter specified", "operation", metrics.OpSetKeyInfo)
		return c.fail(metrics.OpSetKeyInfo, ErrInvalidParameter)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return c.fail(metrics.OpSetKeyInfo, ErrClosed)
	}

	reg, err := c.dup(registrationName)
	if err != nil {
		c.logger.Error("Failure allocating registration name", "error", err)
		c.observe(metrics.OpSetKeyInfo, start, err)
		return err
	}
	symm, err := c.dup(symmetricKey)
	if err != nil {
		zero(reg)
		c.logger.Error("Failure allocating symmetric key", "error", err)
		c.observe(metrics.OpSetKeyInfo, start, err)
		return err
	}

	if c.store != nil {
		data, err := json.Marshal(keyInfo{
			RegistrationName: registrationName,
			SymmetricKey:     symmetricKey,
		})
		if err == nil {
			err = c.store.Put(KeyInfoStorageKey, data, &storage.Options{Permissions: 0600})
		}
		if err != nil {
			zero(reg)
			zero(symm)
			err = fmt.Errorf("failed to persist key info: %w", err)
			c.logger.Error("Failure persisting key info", "error", err)
			c.observe(metrics.OpSetKeyInfo, start, err)
			return err
		}
	}

	zero(c.registrationName)
	zero(c.symmetricKey)
	c.registrationName = reg
	c.symmetricKey = symm
	c.observe(metrics.OpSetKeyInfo, start, nil)
	c.logger.Debug("Key info updated", "registration_name", registrationName)
	return nil
}

func (c *Client) readString(op string, get func() string) (string, error) {
	if c == nil {
		return "", ErrInvalidHandle
	}
	start := time.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return "", c.fail(op, ErrClosed)
	}
	buf, err := c.dup(get())
	c.observe(op, start, err)
	if err != nil {
		c.logger.Error("Failure allocating result", "operation", op, "error", err)
		return "", err
	}
	return string(buf), nil
}

func (c *Client) readBytes(op string, get func() []byte) ([]byte, error) {
	if c == nil {
		return nil, ErrInvalidHandle
	}
	start := time.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, c.fail(op, ErrClosed)
	}
	src := get()
	buf, err := c.alloc.Alloc(len(src))
	if err == nil && len(buf) < len(src) {
		err = fmt.Errorf("%w: short buffer", ErrAllocation)
	}
	c.observe(op, start, err)
	if err != nil {
		c.logger.Error("Failure allocating result", "operation", op, "error", err)
		return nil, wrapAlloc(err)
	}
	copy(buf, src)
	return buf[:len(src)], nil
}

// dup copies s into a buffer obtained from the allocator.
func (c *Client) dup(s string) ([]byte, error) {
	buf, err := c.alloc.Alloc(len(s))
	if err != nil {
		return nil, wrapAlloc(err)
	}
	if len(buf) < len(s) {
		return nil, fmt.Errorf("%w: short buffer", ErrAllocation)
	}
	copy(buf, s)
	return buf[:len(s)], nil
}

func wrapAlloc(err error) error {
	if errors.Is(err, ErrAllocation) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrAllocation, err)
}

func (c *Client) fail(op string, err error) error {
	metrics.RecordHSMOperation(op, ProviderCustom, metrics.StatusOf(err), 0)
	return err
}

func (c *Client) observe(op string, start time.Time, err error) {
	metrics.RecordHSMOperation(op, ProviderCustom, metrics.StatusOf(err), time.Since(start).Seconds())
}
