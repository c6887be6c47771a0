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

// Package loopback provides an in-memory device.Client. Sent events and
// reported state are recorded; twin updates and method calls injected with
// DeliverTwin and InvokeMethod are dispatched from DoWork.
package loopback

import (
	"context"
	"log/slog"
	"sync"

	"github.com/jeremyhahn/go-pnp-device/pkg/device"
	"github.com/jeremyhahn/go-pnp-device/pkg/logging"
)

// MethodResult is the outcome of a dispatched method call.
type MethodResult struct {
	Status   int
	Response []byte
}

type twinDelivery struct {
	state   device.TwinUpdateState
	payload []byte
}

type methodCall struct {
	method  string
	payload []byte
	result  chan MethodResult
}

// Client is an in-memory device client.
type Client struct {
	mu       sync.Mutex
	config   device.Config
	logger   *slog.Logger
	events   []*device.Message
	reported [][]byte
	twins    []twinDelivery
	methods  []methodCall
	closed   bool
}

var _ device.Client = (*Client)(nil)

// New creates a loopback client.
func New(config device.Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		config: config,
		logger: logging.OrDefault(config.Logger),
	}, nil
}

// SendEvent records msg.
func (c *Client) SendEvent(_ context.Context, msg *device.Message) error {
	if msg == nil {
		return device.ErrInvalidMessage
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return device.ErrClosed
	}
	c.events = append(c.events, msg)
	c.logger.Debug("event sent", "id", msg.ID, "body", string(msg.Body))
	return nil
}

// SendReportedState records state.
func (c *Client) SendReportedState(_ context.Context, state []byte) error {
	if len(state) == 0 {
		return device.ErrInvalidMessage
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return device.ErrClosed
	}
	c.reported = append(c.reported, append([]byte(nil), state...))
	c.logger.Debug("reported state sent", "state", string(state))
	return nil
}

// DeliverTwin queues a twin update for the next DoWork. Deliveries to a
// closed client are dropped.
func (c *Client) DeliverTwin(state device.TwinUpdateState, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.twins = append(c.twins, twinDelivery{state: state, payload: append([]byte(nil), payload...)})
}

// InvokeMethod queues a method call and returns a channel that receives
// the result once DoWork dispatches it. The channel is closed without a
// result if the client is closed first.
func (c *Client) InvokeMethod(method string, payload []byte) <-chan MethodResult {
	result := make(chan MethodResult, 1)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(result)
		return result
	}
	c.methods = append(c.methods, methodCall{
		method:  method,
		payload: append([]byte(nil), payload...),
		result:  result,
	})
	return result
}

// DoWork dispatches queued twin updates, then queued method calls. When
// ctx is cancelled part way, the undispatched work stays queued.
func (c *Client) DoWork(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return device.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		c.mu.Unlock()
		return err
	}
	twins, methods := c.twins, c.methods
	c.twins, c.methods = nil, nil
	c.mu.Unlock()

	for i, tw := range twins {
		if err := ctx.Err(); err != nil {
			c.requeue(twins[i:], methods)
			return err
		}
		if c.config.TwinCallback != nil {
			c.config.TwinCallback(tw.state, tw.payload)
		}
	}
	for i, call := range methods {
		if err := ctx.Err(); err != nil {
			c.requeue(nil, methods[i:])
			return err
		}
		status, response := 501, []byte("{}")
		if c.config.MethodCallback != nil {
			status, response = c.config.MethodCallback(call.method, call.payload)
		}
		call.result <- MethodResult{Status: status, Response: response}
		close(call.result)
	}
	return nil
}

// requeue puts undispatched work back ahead of anything queued since.
func (c *Client) requeue(twins []twinDelivery, methods []methodCall) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		for _, call := range methods {
			close(call.result)
		}
		return
	}
	c.twins = append(append([]twinDelivery(nil), twins...), c.twins...)
	c.methods = append(append([]methodCall(nil), methods...), c.methods...)
}

// Events returns the recorded telemetry messages.
func (c *Client) Events() []*device.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*device.Message(nil), c.events...)
}

// Reported returns the recorded reported-state patches.
func (c *Client) Reported() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.reported))
	copy(out, c.reported)
	return out
}

// Reset discards recorded sends.
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = nil
	c.reported = nil
}

// Close marks the client closed. Pending twin updates are dropped and the
// result channels of pending method calls are closed.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.twins = nil
	for _, call := range c.methods {
		close(call.result)
	}
	c.methods = nil
	return nil
}
