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

package natsclient

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jeremyhahn/go-pnp-device/pkg/hsm"
)

const (
	// DefaultSubjectPrefix is the first subject token of every device subject.
	DefaultSubjectPrefix = "devices"

	// DefaultQueueSize bounds the number of inbound messages held between
	// DoWork calls.
	DefaultQueueSize = 64

	// DefaultTwinTimeout bounds the initial full-twin request.
	DefaultTwinTimeout = 2 * time.Second
)

// Config configures the NATS connection and device subjects.
type Config struct {
	URL           string
	SubjectPrefix string
	Name          string

	// QueueSize is the inbound buffer size. Messages arriving while the
	// buffer is full are dropped and logged.
	QueueSize int

	// PublishRate limits outbound messages per second for each message
	// class. Zero disables throttling.
	PublishRate  float64
	PublishBurst int

	TwinTimeout   time.Duration
	MaxReconnects int
	ReconnectWait time.Duration

	// RootCAFile verifies the server certificate when TLS is used.
	RootCAFile string

	Credentials Credentials
}

func (c *Config) setDefaults() {
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = DefaultSubjectPrefix
	}
	if c.QueueSize <= 0 {
		c.QueueSize = DefaultQueueSize
	}
	if c.TwinTimeout <= 0 {
		c.TwinTimeout = DefaultTwinTimeout
	}
}

// Credentials authenticate the device to the server.
type Credentials struct {
	User     string
	Password string

	// Certificate, when set, is presented as the TLS client certificate.
	Certificate *tls.Certificate
}

// KeyCredentials authenticates with the HSM registration name as user and
// the symmetric key as password.
func KeyCredentials(k hsm.KeyClient) (Credentials, error) {
	if k == nil {
		return Credentials{}, hsm.ErrInvalidHandle
	}
	user, err := k.RegistrationName()
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to read registration name: %w", err)
	}
	password, err := k.SymmetricKey()
	if err != nil {
		return Credentials{}, fmt.Errorf("failed to read symmetric key: %w", err)
	}
	return Credentials{User: user, Password: password}, nil
}

// X509Credentials authenticates with the HSM certificate and private key
// as a TLS client certificate.
func X509Credentials(x hsm.X509Client) (Credentials, error) {
	pair, err := hsm.X509KeyPair(x)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{Certificate: &pair}, nil
}

// options builds the nats.Options for c.
func (c *Config) options(logger *slog.Logger) []nats.Option {
	opts := []nats.Option{
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("NATS error", "subject", subject, "error", err)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", "url", nc.ConnectedUrl())
		}),
	}
	if c.Name != "" {
		opts = append(opts, nats.Name(c.Name))
	}
	if c.MaxReconnects != 0 {
		opts = append(opts, nats.MaxReconnects(c.MaxReconnects))
	}
	if c.ReconnectWait > 0 {
		opts = append(opts, nats.ReconnectWait(c.ReconnectWait))
	}
	if c.Credentials.User != "" {
		opts = append(opts, nats.UserInfo(c.Credentials.User, c.Credentials.Password))
	}
	if c.Credentials.Certificate != nil {
		opts = append(opts, nats.Secure(&tls.Config{
			Certificates: []tls.Certificate{*c.Credentials.Certificate},
			MinVersion:   tls.VersionTLS12,
		}))
	}
	if c.RootCAFile != "" {
		opts = append(opts, nats.RootCAs(c.RootCAFile))
	}
	return opts
}

// Subjects are the NATS subjects of one device.
type Subjects struct {
	Events   string
	Reported string
	Desired  string
	TwinGet  string
	Methods  string
}

// NewSubjects returns the subjects for deviceID under prefix.
func NewSubjects(prefix, deviceID string) Subjects {
	base := prefix + "." + deviceID
	return Subjects{
		Events:   base + ".messages.events",
		Reported: base + ".twin.reported",
		Desired:  base + ".twin.desired",
		TwinGet:  base + ".twin.get",
		Methods:  base + ".methods",
	}
}
