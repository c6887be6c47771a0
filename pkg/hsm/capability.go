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

import "sync"

// X509Client is implemented by providers that hold an X.509 identity.
type X509Client interface {
	Certificate() (string, error)
	Key() (string, error)
	CommonName() (string, error)
	Close() error
}

// TPMClient is implemented by providers that expose TPM attestation keys.
type TPMClient interface {
	ActivateIdentityKey(key []byte) error
	EndorsementKey() ([]byte, error)
	StorageRootKey() ([]byte, error)
	SignWithIdentity(data []byte) ([]byte, error)
	Close() error
}

// KeyClient is implemented by providers that hold a symmetric key.
type KeyClient interface {
	SymmetricKey() (string, error)
	RegistrationName() (string, error)
	SetKeyInfo(registrationName, symmetricKey string) error
	Close() error
}

// X509Interface is the X.509 capability table. Field order is the order the
// host expects.
type X509Interface struct {
	Create         func() (X509Client, error)
	Destroy        func(X509Client)
	GetCertificate func(X509Client) (string, error)
	GetKey         func(X509Client) (string, error)
	GetCommonName  func(X509Client) (string, error)
}

// TPMInterface is the TPM capability table.
type TPMInterface struct {
	Create              func() (TPMClient, error)
	Destroy             func(TPMClient)
	ActivateIdentityKey func(TPMClient, []byte) error
	GetEndorsementKey   func(TPMClient) ([]byte, error)
	GetStorageRootKey   func(TPMClient) ([]byte, error)
	SignWithIdentity    func(TPMClient, []byte) ([]byte, error)
}

// KeyInterface is the symmetric-key capability table.
type KeyInterface struct {
	Create              func() (KeyClient, error)
	Destroy             func(KeyClient)
	GetSymmetricKey     func(KeyClient) (string, error)
	GetRegistrationName func(KeyClient) (string, error)
	SetKeyInfo          func(KeyClient, string, string) error
}

// NewX509Interface binds create to an X.509 capability table.
func NewX509Interface(create func() (X509Client, error)) *X509Interface {
	return &X509Interface{
		Create: create,
		Destroy: func(h X509Client) {
			if h != nil {
				_ = h.Close()
			}
		},
		GetCertificate: func(h X509Client) (string, error) {
			if h == nil {
				return "", ErrInvalidHandle
			}
			return h.Certificate()
		},
		GetKey: func(h X509Client) (string, error) {
			if h == nil {
				return "", ErrInvalidHandle
			}
			return h.Key()
		},
		GetCommonName: func(h X509Client) (string, error) {
			if h == nil {
				return "", ErrInvalidHandle
			}
			return h.CommonName()
		},
	}
}

// NewTPMInterface binds create to a TPM capability table.
func NewTPMInterface(create func() (TPMClient, error)) *TPMInterface {
	return &TPMInterface{
		Create: create,
		Destroy: func(h TPMClient) {
			if h != nil {
				_ = h.Close()
			}
		},
		ActivateIdentityKey: func(h TPMClient, key []byte) error {
			if h == nil {
				return ErrInvalidHandle
			}
			return h.ActivateIdentityKey(key)
		},
		GetEndorsementKey: func(h TPMClient) ([]byte, error) {
			if h == nil {
				return nil, ErrInvalidHandle
			}
			return h.EndorsementKey()
		},
		GetStorageRootKey: func(h TPMClient) ([]byte, error) {
			if h == nil {
				return nil, ErrInvalidHandle
			}
			return h.StorageRootKey()
		},
		SignWithIdentity: func(h TPMClient, data []byte) ([]byte, error) {
			if h == nil {
				return nil, ErrInvalidHandle
			}
			return h.SignWithIdentity(data)
		},
	}
}

// NewKeyInterface binds create to a symmetric-key capability table.
func NewKeyInterface(create func() (KeyClient, error)) *KeyInterface {
	return &KeyInterface{
		Create: create,
		Destroy: func(h KeyClient) {
			if h != nil {
				_ = h.Close()
			}
		},
		GetSymmetricKey: func(h KeyClient) (string, error) {
			if h == nil {
				return "", ErrInvalidHandle
			}
			return h.SymmetricKey()
		},
		GetRegistrationName: func(h KeyClient) (string, error) {
			if h == nil {
				return "", ErrInvalidHandle
			}
			return h.RegistrationName()
		},
		SetKeyInfo: func(h KeyClient, registrationName, symmetricKey string) error {
			if h == nil {
				return ErrInvalidHandle
			}
			return h.SetKeyInfo(registrationName, symmetricKey)
		},
	}
}

var (
	defaultMu   sync.RWMutex
	defaultOpts []Option

	x509Table = NewX509Interface(func() (X509Client, error) {
		c, err := newDefault()
		if err != nil {
			return nil, err
		}
		return c, nil
	})
	tpmTable = NewTPMInterface(func() (TPMClient, error) {
		c, err := newDefault()
		if err != nil {
			return nil, err
		}
		return c, nil
	})
	keyTable = NewKeyInterface(func() (KeyClient, error) {
		c, err := newDefault()
		if err != nil {
			return nil, err
		}
		return c, nil
	})
)

// SetDefaultOptions sets the options applied by the Create entries of the
// default tables. It is typically called once, before Init.
func SetDefaultOptions(opts ...Option) {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultOpts = append([]Option(nil), opts...)
}

func newDefault() (*Client, error) {
	defaultMu.RLock()
	opts := defaultOpts
	defaultMu.RUnlock()
	return New(opts...)
}

// X509Table returns the X.509 capability table of the default provider.
func X509Table() *X509Interface { return x509Table }

// TPMTable returns the TPM capability table of the default provider.
func TPMTable() *TPMInterface { return tpmTable }

// KeyTable returns the symmetric-key capability table of the default
// provider.
func KeyTable() *KeyInterface { return keyTable }

// Init prepares the provider library for use.
func Init() error { return nil }

// Deinit releases library-wide resources.
func Deinit() {}
