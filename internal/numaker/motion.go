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

package numaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jeremyhahn/go-pnp-device/pkg/device"
	"github.com/jeremyhahn/go-pnp-device/pkg/logging"
	"github.com/jeremyhahn/go-pnp-device/pkg/metrics"
	"github.com/jeremyhahn/go-pnp-device/pkg/pnp"
	"github.com/jeremyhahn/go-pnp-device/pkg/validation"
	"github.com/jeremyhahn/go-pnp-device/pkg/sensor"
)

// MotionComponent is the BMX055 motion sensor component.
const MotionComponent = "motionSensorBMX055"

var (
	// ErrComponentName is returned for an empty or over-long component name.
	ErrComponentName = errors.New("numaker: invalid component name")

	// ErrSensorNotReady is returned when the motion sensor is not ready at
	// creation.
	ErrSensorNotReady = errors.New("numaker: motion sensor not ready")
)

// MotionOptions selects the optional telemetry axes.
type MotionOptions struct {
	Gyro   bool `yaml:"gyro"`
	Magnet bool `yaml:"magnet"`
}

// Motion is the motion sensor component. It has no commands and no
// writable properties; it only sends telemetry.
type Motion struct {
	name     string
	sensor   sensor.Motion
	opts     MotionOptions
	commands *pnp.CommandSet
	logger   *slog.Logger
}

// NewMotion creates the component named name over s.
func NewMotion(name string, s sensor.Motion, opts MotionOptions, logger *slog.Logger) (*Motion, error) {
	if name == "" || len(name) > pnp.MaxComponentLength {
		return nil, fmt.Errorf("%w: %q", ErrComponentName, name)
	}
	if s == nil || !s.Ready() {
		return nil, ErrSensorNotReady
	}
	logger = logging.OrDefault(logger).With("component", name)
	return &Motion{
		name:     name,
		sensor:   s,
		opts:     opts,
		commands: pnp.NewCommandSet(logger),
		logger:   logger,
	}, nil
}

func (m *Motion) Name() string {
	return m.name
}

// ProcessCommand handles a command addressed to the component. None are
// defined, so every command is answered 404.
func (m *Motion) ProcessCommand(command string, payload []byte) (int, []byte) {
	return m.commands.Dispatch(command, payload)
}

// ProcessProperty handles a desired property for the component. The model
// defines no writable properties, so updates are only logged.
func (m *Motion) ProcessProperty(name string, _ []byte, version int) {
	m.logger.Error("property is not part of the model interface definition",
		"property", validation.SanitizeForLog(name), "version", version)
}

// SendTelemetry sends one message per reading: the three accelerometer
// axes, then the chip temperature, then any enabled gyro and magnetometer
// axes. A failed reading or send is logged and the rest are still sent.
func (m *Motion) SendTelemetry(ctx context.Context, client device.Client) error {
	var readings []reading

	if v, err := m.sensor.Accel(ctx); err != nil {
		m.logger.Error("unable to read accelerometer", "error", err)
	} else {
		readings = append(readings, axes("accel", v)...)
	}

	if t, err := m.sensor.ChipTemperature(ctx); err != nil {
		m.logger.Error("unable to read temperature", "error", err)
	} else {
		readings = append(readings, reading{"temperature", t})
	}

	if m.opts.Gyro {
		if v, err := m.sensor.Gyro(ctx); err != nil {
			m.logger.Error("unable to read gyroscope", "error", err)
		} else {
			readings = append(readings, axes("gyro", v)...)
		}
	}

	if m.opts.Magnet {
		if v, err := m.sensor.Magnet(ctx); err != nil {
			m.logger.Error("unable to read magnetometer", "error", err)
		} else {
			readings = append(readings, axes("magnet", v)...)
		}
	}

	var errs []error
	for _, r := range readings {
		body := fmt.Appendf(nil, `{"%s":%.2f}`, r.name, r.value)
		err := client.SendEvent(ctx, pnp.CreateTelemetryMessage(m.name, body))
		metrics.RecordTelemetry(m.name, metrics.StatusOf(err))
		if err != nil {
			m.logger.Error("unable to send telemetry", "telemetry", r.name, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type reading struct {
	name  string
	value float64
}

func axes(prefix string, v sensor.Vector) []reading {
	return []reading{
		{prefix + "X", v.X},
		{prefix + "Y", v.Y},
		{prefix + "Z", v.Z},
	}
}
