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

// Package natsclient implements device.Client over NATS. Telemetry and
// reported state are published on per-device subjects; desired-property
// patches and method requests are received by subscription, buffered, and
// dispatched from DoWork.
package natsclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/jeremyhahn/go-pnp-device/pkg/correlation"
	"github.com/jeremyhahn/go-pnp-device/pkg/device"
	"github.com/jeremyhahn/go-pnp-device/pkg/logging"
	"github.com/jeremyhahn/go-pnp-device/pkg/ratelimit"
	"github.com/jeremyhahn/go-pnp-device/pkg/validation"
)

// Message headers.
const (
	HeaderMessageID       = "message-id"
	HeaderContentType     = "content-type"
	HeaderContentEncoding = "content-encoding"
	HeaderModelID         = "model-id"
	HeaderMethod          = "method"
	HeaderStatus          = "status"
)

// StatusNotImplemented is returned for method calls when no method
// callback is configured.
const StatusNotImplemented = 501

const (
	classEvents   = "events"
	classReported = "reported"
)

// ErrInvalidDeviceID is returned when a device ID cannot be used as a
// subject token.
var ErrInvalidDeviceID = errors.New("natsclient: invalid device id")

type inboundKind int

const (
	inboundTwinComplete inboundKind = iota
	inboundTwinPartial
	inboundMethod
)

type inbound struct {
	kind inboundKind
	msg  *nats.Msg
}

// Client is a NATS device client.
type Client struct {
	nc       *nats.Conn
	ownsConn bool
	config   Config
	device   device.Config
	subjects Subjects
	logger   *slog.Logger
	limiter  *ratelimit.Limiter
	queue    chan inbound
	subs     []*nats.Subscription

	mu     sync.Mutex
	closed bool
}

var _ device.Client = (*Client)(nil)

// Connect dials the server in config and returns a client that owns the
// connection.
func Connect(ctx context.Context, config Config, devCfg device.Config) (*Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := logging.OrDefault(devCfg.Logger)
	nc, err := nats.Connect(config.URL, config.options(logger)...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	c, err := New(ctx, nc, config, devCfg)
	if err != nil {
		nc.Close()
		return nil, err
	}
	c.ownsConn = true
	logger.Info("Connected to NATS", "url", nc.ConnectedUrl(), "device_id", devCfg.DeviceID)
	return c, nil
}

// New creates a client on an existing connection, subscribes to the
// device's inbound subjects and requests the full twin.
func New(ctx context.Context, nc *nats.Conn, config Config, devCfg device.Config) (*Client, error) {
	if err := devCfg.Validate(); err != nil {
		return nil, err
	}
	if err := validation.ValidateDeviceID(devCfg.DeviceID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidDeviceID, err)
	}
	config.setDefaults()
	if err := validation.ValidateSubjectPrefix(config.SubjectPrefix); err != nil {
		return nil, fmt.Errorf("natsclient: %w", err)
	}

	c := &Client{
		nc:       nc,
		config:   config,
		device:   devCfg,
		subjects: NewSubjects(config.SubjectPrefix, devCfg.DeviceID),
		logger:   logging.OrDefault(devCfg.Logger).With("device_id", devCfg.DeviceID),
		limiter: ratelimit.New(&ratelimit.Config{
			Enabled:   config.PublishRate > 0,
			PerSecond: config.PublishRate,
			Burst:     config.PublishBurst,
		}),
		queue: make(chan inbound, config.QueueSize),
	}

	for subject, kind := range map[string]inboundKind{
		c.subjects.Desired: inboundTwinPartial,
		c.subjects.Methods: inboundMethod,
	} {
		sub, err := nc.Subscribe(subject, func(msg *nats.Msg) {
			c.enqueue(kind, msg)
		})
		if err != nil {
			c.unsubscribe()
			c.limiter.Stop()
			return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		c.subs = append(c.subs, sub)
	}
	if err := nc.Flush(); err != nil {
		c.unsubscribe()
		c.limiter.Stop()
		return nil, fmt.Errorf("failed to flush subscriptions: %w", err)
	}

	if err := c.RequestTwin(ctx); err != nil {
		c.logger.Warn("full twin not available", "error", err)
	}
	return c, nil
}

// Connected reports whether the underlying connection is up.
func (c *Client) Connected() bool {
	return c.nc.IsConnected()
}

// Subjects returns the device subjects.
func (c *Client) Subjects() Subjects {
	return c.subjects
}

// RequestTwin asks the service for the full twin and queues it as a
// complete update.
func (c *Client) RequestTwin(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.config.TwinTimeout)
	defer cancel()

	msg, err := c.nc.RequestWithContext(ctx, c.subjects.TwinGet, nil)
	if err != nil {
		return fmt.Errorf("twin request: %w", err)
	}
	c.enqueue(inboundTwinComplete, msg)
	return nil
}

func (c *Client) enqueue(kind inboundKind, msg *nats.Msg) {
	select {
	case c.queue <- inbound{kind: kind, msg: msg}:
	default:
		c.logger.Error("inbound queue full, dropping message", "subject", msg.Subject)
		if kind == inboundMethod && msg.Reply != "" {
			c.respond(msg, msg.Header.Get(correlation.MessageHeader), 503, []byte("{}"))
		}
	}
}

// SendEvent publishes a telemetry message. The correlation ID is taken
// from ctx or generated.
func (c *Client) SendEvent(ctx context.Context, msg *device.Message) error {
	if msg == nil {
		return device.ErrInvalidMessage
	}
	if err := c.checkOpen(); err != nil {
		return err
	}
	if err := c.limiter.Wait(ctx, classEvents); err != nil {
		return err
	}

	out := nats.NewMsg(c.subjects.Events)
	out.Data = msg.Body
	out.Header.Set(HeaderMessageID, msg.ID)
	if msg.ContentType != "" {
		out.Header.Set(HeaderContentType, msg.ContentType)
	}
	if msg.ContentEncoding != "" {
		out.Header.Set(HeaderContentEncoding, msg.ContentEncoding)
	}
	if c.device.ModelID != "" {
		out.Header.Set(HeaderModelID, c.device.ModelID)
	}
	for k, v := range msg.Properties {
		out.Header.Set(k, v)
	}
	out.Header.Set(correlation.MessageHeader, correlation.GetOrGenerate(ctx))
	if err := c.nc.PublishMsg(out); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// SendReportedState publishes a reported-properties patch.
func (c *Client) SendReportedState(ctx context.Context, state []byte) error {
	if len(state) == 0 {
		return device.ErrInvalidMessage
	}
	if err := c.checkOpen(); err != nil {
		return err
	}
	if err := c.limiter.Wait(ctx, classReported); err != nil {
		return err
	}

	out := nats.NewMsg(c.subjects.Reported)
	out.Data = state
	if c.device.ModelID != "" {
		out.Header.Set(HeaderModelID, c.device.ModelID)
	}
	if err := c.nc.PublishMsg(out); err != nil {
		return fmt.Errorf("failed to publish reported state: %w", err)
	}
	return nil
}

// DoWork dispatches every queued inbound message and returns once the queue
// is empty.
func (c *Client) DoWork(ctx context.Context) error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case in := <-c.queue:
			c.dispatch(in)
		default:
			return nil
		}
	}
}

func (c *Client) dispatch(in inbound) {
	switch in.kind {
	case inboundTwinComplete, inboundTwinPartial:
		state := device.TwinPartial
		if in.kind == inboundTwinComplete {
			state = device.TwinComplete
		}
		if c.device.TwinCallback != nil {
			c.device.TwinCallback(state, in.msg.Data)
		}
	case inboundMethod:
		method := in.msg.Header.Get(HeaderMethod)
		id := in.msg.Header.Get(correlation.MessageHeader)
		if id == "" {
			id = correlation.NewID()
		}
		c.logger.Debug("method received", "method", method, "correlation_id", id)
		status, response := StatusNotImplemented, []byte("{}")
		if c.device.MethodCallback != nil {
			status, response = c.device.MethodCallback(method, in.msg.Data)
		}
		if in.msg.Reply != "" {
			c.respond(in.msg, id, status, response)
		}
	}
}

func (c *Client) respond(req *nats.Msg, correlationID string, status int, body []byte) {
	reply := nats.NewMsg(req.Reply)
	reply.Data = body
	reply.Header.Set(HeaderStatus, strconv.Itoa(status))
	reply.Header.Set(correlation.MessageHeader, correlationID)
	if err := req.RespondMsg(reply); err != nil {
		c.logger.Error("failed to respond to method", "error", err)
	}
}

func (c *Client) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return device.ErrClosed
	}
	return nil
}

func (c *Client) unsubscribe() {
	for _, sub := range c.subs {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			c.logger.Debug("failed to unsubscribe", "subject", sub.Subject, "error", err)
		}
	}
	c.subs = nil
}

// Close unsubscribes, stops the limiter and closes the connection if the
// client opened it.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.unsubscribe()
	c.limiter.Stop()
	if c.ownsConn {
		c.nc.Close()
	}
	return nil
}
