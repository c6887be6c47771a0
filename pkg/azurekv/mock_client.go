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

package azurekv

import (
	"context"
	"net/http"
	"net/url"
	"sync"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azsecrets"
)

// MockSecretClient is an in-memory SecretClient for tests and offline runs.
type MockSecretClient struct {
	mu      sync.RWMutex
	secrets map[string]string
	getErr  error
	setErr  error
}

// NewMockSecretClient creates a mock seeded with secrets.
func NewMockSecretClient(secrets map[string]string) *MockSecretClient {
	m := &MockSecretClient{secrets: make(map[string]string, len(secrets))}
	for k, v := range secrets {
		m.secrets[k] = v
	}
	return m
}

// SetGetError makes every GetSecret fail with err.
func (m *MockSecretClient) SetGetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getErr = err
}

// SetSetError makes every SetSecret fail with err.
func (m *MockSecretClient) SetSetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setErr = err
}

// Secret returns the stored value of name.
func (m *MockSecretClient) Secret(name string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.secrets[name]
	return v, ok
}

// GetSecret implements SecretClient.
func (m *MockSecretClient) GetSecret(_ context.Context, name, _ string, _ *azsecrets.GetSecretOptions) (azsecrets.GetSecretResponse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.getErr != nil {
		return azsecrets.GetSecretResponse{}, m.getErr
	}
	v, ok := m.secrets[name]
	if !ok {
		return azsecrets.GetSecretResponse{}, &azcore.ResponseError{
			ErrorCode:   "SecretNotFound",
			StatusCode:  http.StatusNotFound,
			RawResponse: &http.Response{
				StatusCode: http.StatusNotFound,
				Request: &http.Request{
					Method: http.MethodGet,
					URL:    &url.URL{Scheme: "https", Host: "mock.vault.azure.net", Path: "/secrets/" + name},
				},
			},
		}
	}
	value := v
	var resp azsecrets.GetSecretResponse
	resp.Value = &value
	return resp, nil
}

// SetSecret implements SecretClient.
func (m *MockSecretClient) SetSecret(_ context.Context, name string, params azsecrets.SetSecretParameters, _ *azsecrets.SetSecretOptions) (azsecrets.SetSecretResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.setErr != nil {
		return azsecrets.SetSecretResponse{}, m.setErr
	}
	if params.Value != nil {
		m.secrets[name] = *params.Value
	}
	return azsecrets.SetSecretResponse{}, nil
}
