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

package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jeremyhahn/go-pnp-device/pkg/validation"
)

// Transport types
const (
	TransportLoopback = "loopback"
	TransportNATS     = "nats"
)

// Transport authentication modes
const (
	AuthNone = "none"
	AuthKey  = "key"
	AuthX509 = "x509"
)

// Storage backends
const (
	StorageMemory = "memory"
	StorageFile   = "file"
)

// Device information sources
const (
	DeviceInfoStatic = "static"
	DeviceInfoHost   = "host"
)

// Config represents the complete device configuration
type Config struct {
	Device    DeviceConfig    `yaml:"device"`
	Transport TransportConfig `yaml:"transport"`
	HSM       HSMConfig       `yaml:"hsm"`
	Sensor    SensorConfig    `yaml:"sensor"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Health    HealthConfig    `yaml:"health"`
	TLS       TLSConfig       `yaml:"tls"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Storage   StorageConfig   `yaml:"storage"`
}

// DeviceConfig contains device identity and polling settings
type DeviceConfig struct {
	ID             string `yaml:"id"`
	PollIntervalMs int    `yaml:"poll_interval_ms"`
	TelemetryEvery int    `yaml:"telemetry_every"`
	DeviceInfo     string `yaml:"device_info"` // static, host
}

// TransportConfig selects the device client
type TransportConfig struct {
	Type string     `yaml:"type"` // loopback, nats
	Auth string     `yaml:"auth"` // none, key, x509
	NATS NATSConfig `yaml:"nats"`
}

// NATSConfig contains NATS connection settings
type NATSConfig struct {
	URL             string  `yaml:"url"`
	SubjectPrefix   string  `yaml:"subject_prefix"`
	Name            string  `yaml:"name"`
	QueueSize       int     `yaml:"queue_size"`
	PublishRate     float64 `yaml:"publish_rate"`
	PublishBurst    int     `yaml:"publish_burst"`
	TwinTimeoutMs   int     `yaml:"twin_timeout_ms"`
	MaxReconnects   int     `yaml:"max_reconnects"`
	ReconnectWaitMs int     `yaml:"reconnect_wait_ms"`
	RootCAFile      string  `yaml:"root_ca_file"`
}

// HSMConfig contains the device identity material sources
type HSMConfig struct {
	CertFile         string `yaml:"cert_file"`
	KeyFile          string `yaml:"key_file"`
	RegistrationName string `yaml:"registration_name"`
	SymmetricKey     string `yaml:"symmetric_key"`

	AzureKV *AzureKVConfig `yaml:"azurekv,omitempty"`
	TPM2    *TPM2Config    `yaml:"tpm2,omitempty"`
}

// AzureKVConfig contains Azure Key Vault settings
type AzureKVConfig struct {
	Enabled      bool   `yaml:"enabled"`
	VaultURL     string `yaml:"vault_url"`
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`

	RegistrationNameSecret string `yaml:"registration_name_secret"`
	SymmetricKeySecret     string `yaml:"symmetric_key_secret"`
	CertificateSecret      string `yaml:"certificate_secret"`
	PrivateKeySecret       string `yaml:"private_key_secret"`
}

// TPM2Config contains TPM 2.0 settings
type TPM2Config struct {
	Enabled    bool   `yaml:"enabled"`
	DevicePath string `yaml:"device_path"`
	Simulator  bool   `yaml:"simulator"`
}

// SensorConfig controls the motion sensor source
type SensorConfig struct {
	Seed            int64  `yaml:"seed"`
	HostTemperature bool   `yaml:"host_temperature"`
	SensorKey       string `yaml:"sensor_key"`
	Gyro            bool   `yaml:"gyro"`
	Magnet          bool   `yaml:"magnet"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the metrics endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Path    string `yaml:"path"`
}

// HealthConfig controls the health check endpoint
type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// RateLimitConfig controls rate limiting of the HTTP endpoints
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// StorageConfig controls where HSM key info and TPM blobs are kept
type StorageConfig struct {
	Backend string `yaml:"backend"` // memory, file
	Path    string `yaml:"path"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			ID:             "numaker-iot-m487-dev",
			PollIntervalMs: 100,
			TelemetryEvery: 20,
			DeviceInfo:     DeviceInfoStatic,
		},
		Transport: TransportConfig{
			Type: TransportLoopback,
			Auth: AuthKey,
			NATS: NATSConfig{
				URL:             "nats://127.0.0.1:4222",
				SubjectPrefix:   "devices",
				QueueSize:       64,
				TwinTimeoutMs:   2000,
				MaxReconnects:   60,
				ReconnectWaitMs: 2000,
			},
		},
		Sensor: SensorConfig{Seed: 1},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: "127.0.0.1:9090",
			Path:    "/metrics",
		},
		Health: HealthConfig{
			Enabled: false,
			Path:    "/healthz",
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerSecond: 10,
			Burst:             20,
		},
		Storage: StorageConfig{
			Backend: StorageMemory,
		},
	}
}

// Load reads configuration from a YAML file over the defaults and applies
// environment variable overrides. An empty path loads the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		// #nosec G304 - Config file path is provided by admin/user
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration
func applyEnvOverrides(cfg *Config) {
	// Device
	if id := os.Getenv("PNP_DEVICE_ID"); id != "" {
		cfg.Device.ID = id
	}
	if v := os.Getenv("PNP_POLL_INTERVAL_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 1 {
			log.Printf("Warning: invalid PNP_POLL_INTERVAL_MS value %q, using %d", v, cfg.Device.PollIntervalMs)
		} else {
			cfg.Device.PollIntervalMs = ms
		}
	}

	// Transport
	if transport := os.Getenv("PNP_TRANSPORT"); transport != "" {
		cfg.Transport.Type = transport
	}
	if url := os.Getenv("PNP_NATS_URL"); url != "" {
		cfg.Transport.NATS.URL = url
	}

	// Logging
	if level := os.Getenv("PNP_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	if format := os.Getenv("PNP_LOG_FORMAT"); format != "" {
		cfg.Logging.Format = format
	}

	// Metrics
	if addr := os.Getenv("PNP_METRICS_ADDR"); addr != "" {
		cfg.Metrics.Address = addr
	}

	// Storage
	if dataDir := os.Getenv("PNP_DATA_DIR"); dataDir != "" {
		cfg.Storage.Backend = StorageFile
		cfg.Storage.Path = filepath.Join(dataDir, "store")
	}

	// TPM2 settings
	if tpmPath := os.Getenv("TPM_DEVICE_PATH"); tpmPath != "" && cfg.HSM.TPM2 != nil {
		cfg.HSM.TPM2.DevicePath = tpmPath
	}

	// Azure Key Vault settings
	if cfg.HSM.AzureKV != nil {
		if vaultURL := os.Getenv("AZURE_KEYVAULT_URL"); vaultURL != "" {
			cfg.HSM.AzureKV.VaultURL = vaultURL
		}
		if tenantID := os.Getenv("AZURE_TENANT_ID"); tenantID != "" {
			cfg.HSM.AzureKV.TenantID = tenantID
		}
		if clientID := os.Getenv("AZURE_CLIENT_ID"); clientID != "" {
			cfg.HSM.AzureKV.ClientID = clientID
		}
		if clientSecret := os.Getenv("AZURE_CLIENT_SECRET"); clientSecret != "" {
			cfg.HSM.AzureKV.ClientSecret = clientSecret
		}
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := validation.ValidateDeviceID(c.Device.ID); err != nil {
		return fmt.Errorf("invalid device id: %w", err)
	}
	if c.Device.PollIntervalMs < 1 {
		return fmt.Errorf("invalid poll interval: %dms", c.Device.PollIntervalMs)
	}
	if c.Device.TelemetryEvery < 1 {
		return fmt.Errorf("invalid telemetry_every: %d", c.Device.TelemetryEvery)
	}
	switch c.Device.DeviceInfo {
	case DeviceInfoStatic, DeviceInfoHost:
	default:
		return fmt.Errorf("invalid device_info source: %s (must be static or host)", c.Device.DeviceInfo)
	}

	switch c.Transport.Type {
	case TransportLoopback:
	case TransportNATS:
		if c.Transport.NATS.URL == "" {
			return fmt.Errorf("NATS url is required for the nats transport")
		}
		if err := validation.ValidateSubjectPrefix(c.Transport.NATS.SubjectPrefix); err != nil {
			return fmt.Errorf("invalid NATS subject_prefix: %w", err)
		}
	default:
		return fmt.Errorf("invalid transport: %s (must be loopback or nats)", c.Transport.Type)
	}
	switch c.Transport.Auth {
	case AuthNone, AuthKey, AuthX509:
	default:
		return fmt.Errorf("invalid transport auth: %s (must be none, key, or x509)", c.Transport.Auth)
	}

	if (c.HSM.CertFile == "") != (c.HSM.KeyFile == "") {
		return fmt.Errorf("hsm cert_file and key_file must be set together")
	}
	if c.HSM.AzureKV != nil && c.HSM.AzureKV.Enabled && c.HSM.AzureKV.VaultURL == "" {
		return fmt.Errorf("Azure Key Vault vault_url is required when enabled")
	}
	if c.HSM.TPM2 != nil && c.HSM.TPM2.Enabled && !c.HSM.TPM2.Simulator && c.HSM.TPM2.DevicePath == "" {
		return fmt.Errorf("TPM2 device_path is required when enabled")
	}

	// Validate logging level
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logging.Level)
	}

	// Validate logging format
	validFormats := map[string]bool{
		"json": true, "text": true,
	}
	if !validFormats[strings.ToLower(c.Logging.Format)] {
		return fmt.Errorf("invalid log format: %s (must be json or text)", c.Logging.Format)
	}

	if c.Metrics.Enabled || c.Health.Enabled {
		if c.Metrics.Address == "" {
			return fmt.Errorf("metrics address must be specified")
		}
	}
	if c.TLS.Enabled {
		if c.TLS.CertFile == "" {
			return fmt.Errorf("TLS cert_file is required when TLS is enabled")
		}
		if c.TLS.KeyFile == "" {
			return fmt.Errorf("TLS key_file is required when TLS is enabled")
		}
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("invalid rate limit: %v requests per second", c.RateLimit.RequestsPerSecond)
	}

	switch c.Storage.Backend {
	case StorageMemory:
	case StorageFile:
		if c.Storage.Path == "" {
			return fmt.Errorf("storage path must be specified for the file backend")
		}
	default:
		return fmt.Errorf("invalid storage backend: %s (must be memory or file)", c.Storage.Backend)
	}

	return nil
}

// PollInterval returns the device poll interval
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Device.PollIntervalMs) * time.Millisecond
}

// TwinTimeout returns the initial twin request timeout
func (c *NATSConfig) TwinTimeout() time.Duration {
	return time.Duration(c.TwinTimeoutMs) * time.Millisecond
}

// ReconnectWait returns the delay between reconnect attempts
func (c *NATSConfig) ReconnectWait() time.Duration {
	return time.Duration(c.ReconnectWaitMs) * time.Millisecond
}

// ListenerEnabled reports whether the HTTP listener should run
func (c *Config) ListenerEnabled() bool {
	return c.Metrics.Enabled || c.Health.Enabled
}
