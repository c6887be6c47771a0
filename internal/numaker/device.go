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

// Package numaker implements the Plug and Play model of the NuMaker IoT
// M487 Dev board: a root component with an LED, two buttons and a reboot
// command, plus the motion sensor and device information components.
package numaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/jeremyhahn/go-pnp-device/pkg/board"
	"github.com/jeremyhahn/go-pnp-device/pkg/device"
	"github.com/jeremyhahn/go-pnp-device/pkg/logging"
	"github.com/jeremyhahn/go-pnp-device/pkg/metrics"
	"github.com/jeremyhahn/go-pnp-device/pkg/pnp"
	"github.com/jeremyhahn/go-pnp-device/pkg/sensor"
	"github.com/jeremyhahn/go-pnp-device/pkg/validation"
)

// ModelID is the digital twin model implemented by the device.
const ModelID = "dtmi:nuvoton:numaker_iot_m487_dev;1"

const (
	propertyLED   = "led"
	commandReboot = "reboot"
	rebootSchema  = `{"type": "number"}`
)

const (
	DefaultPollInterval   = 100 * time.Millisecond
	DefaultTelemetryEvery = 20
)

var (
	// ErrRebootRequested is returned by Run when a scheduled reboot fires.
	ErrRebootRequested = errors.New("numaker: reboot requested")

	// ErrInvalidOptions is returned by New for incomplete options.
	ErrInvalidOptions = errors.New("numaker: invalid options")
)

// Scheduler runs fn once after delay.
type Scheduler func(delay time.Duration, fn func())

func afterFunc(delay time.Duration, fn func()) {
	time.AfterFunc(delay, fn)
}

// Options configures a Device. LED, Button1, Button2 and Motion are
// required.
type Options struct {
	LED     *board.LED
	Button1 *board.Button
	Button2 *board.Button
	Motion  sensor.Motion

	MotionOptions MotionOptions
	DeviceInfo    DeviceInfo

	// PollInterval is the sleep between DoWork calls.
	PollInterval time.Duration

	// TelemetryEvery sends telemetry on every n-th poll, starting with the
	// first.
	TelemetryEvery int

	// Scheduler defers the reboot. Defaults to time.AfterFunc.
	Scheduler Scheduler

	// OnPoll, when set, is called at the start of every poll.
	OnPoll func()

	Logger *slog.Logger
}

// Device is the root component and owner of the sub-components. Callbacks
// run on the goroutine that calls Run, from inside the client's DoWork.
type Device struct {
	opts     Options
	led      *board.LED
	button1  *board.Button
	button2  *board.Button
	motion   *Motion
	commands *pnp.CommandSet
	logger   *slog.Logger

	// Set for the duration of Run.
	client device.Client
	ctx    context.Context

	rebootOnce sync.Once
	rebootCh   chan struct{}
}

// New creates the device and its components.
func New(opts Options) (*Device, error) {
	if opts.LED == nil || opts.Button1 == nil || opts.Button2 == nil {
		return nil, fmt.Errorf("%w: led and buttons are required", ErrInvalidOptions)
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.TelemetryEvery <= 0 {
		opts.TelemetryEvery = DefaultTelemetryEvery
	}
	if opts.Scheduler == nil {
		opts.Scheduler = afterFunc
	}
	if opts.DeviceInfo == (DeviceInfo{}) {
		opts.DeviceInfo = DefaultDeviceInfo()
	}
	logger := logging.OrDefault(opts.Logger)

	motion, err := NewMotion(MotionComponent, opts.Motion, opts.MotionOptions, logger)
	if err != nil {
		return nil, fmt.Errorf("create component %s: %w", MotionComponent, err)
	}

	d := &Device{
		opts:     opts,
		led:      opts.LED,
		button1:  opts.Button1,
		button2:  opts.Button2,
		motion:   motion,
		commands: pnp.NewCommandSet(logger),
		logger:   logger,
		ctx:      context.Background(),
		rebootCh: make(chan struct{}),
	}
	if err := d.commands.Register(pnp.Command{
		Name:    commandReboot,
		Schema:  rebootSchema,
		Handler: d.reboot,
	}); err != nil {
		return nil, err
	}
	return d, nil
}

// ClientConfig returns a device client configuration wired to the
// device's twin and method callbacks.
func (d *Device) ClientConfig(deviceID string) device.Config {
	return device.Config{
		DeviceID:       deviceID,
		ModelID:        ModelID,
		TwinCallback:   d.HandleTwin,
		MethodCallback: d.HandleMethod,
		Logger:         d.logger,
	}
}

// Rebooting is closed once a scheduled reboot fires.
func (d *Device) Rebooting() <-chan struct{} {
	return d.rebootCh
}

// HandleMethod processes a device method. The response is always valid
// JSON.
func (d *Device) HandleMethod(method string, payload []byte) (int, []byte) {
	component, command := pnp.ParseCommandName(method)
	logComponent, logCommand := validation.SanitizeForLog(component), validation.SanitizeForLog(command)

	var (
		status   int
		response []byte
	)
	switch {
	case !json.Valid(payload):
		d.logger.Error("unable to parse command payload", "method", validation.SanitizeForLog(method))
		status = pnp.StatusInternalError
	case component != "":
		d.logger.Info("received command", "component", logComponent, "command", logCommand)
		if component == d.motion.Name() {
			status, response = d.motion.ProcessCommand(command, payload)
		} else {
			d.logger.Error("component is not supported", "component", logComponent)
			status = pnp.StatusNotFound
		}
	default:
		d.logger.Info("received command", "command", logCommand)
		status, response = d.commands.Dispatch(command, payload)
	}

	if response == nil {
		response = pnp.EmptyResponse()
	}
	metrics.RecordCommand(component, command, status)
	return status, response
}

// HandleTwin processes a complete twin or a desired-properties patch.
func (d *Device) HandleTwin(state device.TwinUpdateState, payload []byte) {
	components := []string{MotionComponent, DeviceInfoComponent}
	err := pnp.ProcessTwinData(state, payload, components, d.visitProperty)
	metrics.RecordTwinUpdate(state.String(), metrics.StatusOf(err))
	if err != nil {
		d.logger.Error("unable to process twin, ignoring desired property updates",
			"state", state.String(), "error", err)
	}
}

func (d *Device) visitProperty(component, name string, value []byte, version int) {
	switch component {
	case "":
		if name == propertyLED {
			d.updateLED(value, version)
			return
		}
		d.logger.Error("root component does not support writable property",
			"property", validation.SanitizeForLog(name))
	case d.motion.Name():
		d.motion.ProcessProperty(name, value, version)
	default:
		d.logger.Error("component is not implemented",
			"component", validation.SanitizeForLog(component), "property", validation.SanitizeForLog(name))
	}
}

func (d *Device) updateLED(value []byte, version int) {
	var on bool
	if err := json.Unmarshal(value, &on); err != nil {
		d.logger.Error("property is not a boolean", "property", propertyLED, "value", string(value))
		return
	}
	d.logger.Info("received led update", "led", on, "version", version)
	d.led.Set(on)
	d.reportLED()
}

func (d *Device) reportLED() {
	patch, err := pnp.MarshalReportedProperty("", propertyLED, d.led.On())
	if err == nil && d.client != nil {
		err = d.client.SendReportedState(d.ctx, patch)
	}
	metrics.RecordReportedProperty("", metrics.StatusOf(err))
	if err != nil {
		d.logger.Error("unable to send reported state", "property", propertyLED, "error", err)
		return
	}
	d.logger.Info("sent reported property", "property", propertyLED)
}

func (d *Device) reboot(payload []byte) (int, []byte) {
	var seconds float64
	if err := json.Unmarshal(payload, &seconds); err != nil {
		d.logger.Error("delay payload is not a number")
		return pnp.StatusBadFormat, nil
	}
	delay := rebootDelay(seconds)
	d.logger.Info("reboot command invoked", "delay", delay)
	d.opts.Scheduler(delay, func() {
		d.rebootOnce.Do(func() { close(d.rebootCh) })
	})
	return pnp.StatusSuccess, nil
}

// rebootDelay converts whole seconds to a duration. Negative delays are
// clamped to zero and delays beyond the range of time.Duration saturate.
func rebootDelay(seconds float64) time.Duration {
	const maxSeconds = math.MaxInt64 / int64(time.Second)
	switch {
	case seconds <= 0:
		return 0
	case seconds >= float64(maxSeconds):
		return time.Duration(maxSeconds) * time.Second
	default:
		return time.Duration(int64(seconds)) * time.Second
	}
}

func (d *Device) sendButton(name string, b *board.Button) error {
	body := fmt.Appendf(nil, `{"%s":%t}`, name, b.Pressed())
	err := d.client.SendEvent(d.ctx, pnp.CreateTelemetryMessage("", body))
	metrics.RecordTelemetry("", metrics.StatusOf(err))
	if err != nil {
		d.logger.Error("unable to send telemetry", "telemetry", name, "error", err)
	}
	return err
}

// SendTelemetry sends both buttons and the motion sensor readings.
func (d *Device) SendTelemetry() error {
	return errors.Join(
		d.sendButton("button1", d.button1),
		d.sendButton("button2", d.button2),
		d.motion.SendTelemetry(d.ctx, d.client),
	)
}
