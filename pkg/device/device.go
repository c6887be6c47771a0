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

// Package device defines the device-client abstraction used by Plug and
// Play components: sending telemetry events and reported twin state, and
// receiving desired-property (twin) updates and direct method calls.
//
// Implementations queue inbound traffic and deliver callbacks only from
// DoWork, so application state touched by callbacks needs no locking as
// long as DoWork is driven from a single goroutine.
package device

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrClosed is returned by operations on a closed client.
	ErrClosed = errors.New("device: client closed")

	// ErrInvalidMessage is returned when a nil or empty message is sent.
	ErrInvalidMessage = errors.New("device: invalid message")

	// ErrInvalidConfig is returned when a client is created with missing
	// settings.
	ErrInvalidConfig = errors.New("device: invalid configuration")
)

// TwinUpdateState tells a twin callback whether it received the whole
// twin document or a desired-properties patch.
type TwinUpdateState int

const (
	// TwinComplete carries the full twin with "desired" and "reported"
	// sections.
	TwinComplete TwinUpdateState = iota
	// TwinPartial carries only the changed desired properties.
	TwinPartial
)

func (s TwinUpdateState) String() string {
	switch s {
	case TwinComplete:
		return "complete"
	case TwinPartial:
		return "partial"
	default:
		return "unknown"
	}
}

// TwinCallback receives desired-property updates.
type TwinCallback func(state TwinUpdateState, payload []byte)

// MethodCallback handles a direct method and returns a status code and a
// JSON response body.
type MethodCallback func(method string, payload []byte) (status int, response []byte)

// Config configures a device client.
type Config struct {
	DeviceID string
	ModelID  string

	TwinCallback   TwinCallback
	MethodCallback MethodCallback

	Logger *slog.Logger
}

// Validate checks required settings.
func (c *Config) Validate() error {
	if c == nil || c.DeviceID == "" {
		return errors.Join(ErrInvalidConfig, errors.New("device id is required"))
	}
	return nil
}

// Client is a low-level, polled device client.
type Client interface {
	// SendEvent queues a telemetry message.
	SendEvent(ctx context.Context, msg *Message) error

	// SendReportedState sends a reported-properties patch.
	SendReportedState(ctx context.Context, state []byte) error

	// DoWork dispatches queued twin updates and method calls to the
	// configured callbacks.
	DoWork(ctx context.Context) error

	Close() error
}

// Message is a telemetry event.
type Message struct {
	ID              string
	Body            []byte
	ContentType     string
	ContentEncoding string
	Properties      map[string]string
	CreatedAt       time.Time
}

// NewMessage creates a message with a fresh ID.
func NewMessage(body []byte) *Message {
	return &Message{
		ID:         uuid.NewString(),
		Body:       body,
		Properties: make(map[string]string),
		CreatedAt:  time.Now().UTC(),
	}
}

// SetProperty sets an application property.
func (m *Message) SetProperty(key, value string) {
	if m.Properties == nil {
		m.Properties = make(map[string]string)
	}
	m.Properties[key] = value
}

// Property returns an application property.
func (m *Message) Property(key string) (string, bool) {
	v, ok := m.Properties[key]
	return v, ok
}
