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

package sensor

import (
	"context"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
)

// TemperatureFunc reads host thermal sensors.
type TemperatureFunc func(ctx context.Context) ([]host.TemperatureStat, error)

// HostTemperature reports a host thermal sensor as the chip temperature of
// an underlying motion sensor. All other readings pass through.
type HostTemperature struct {
	Motion

	// SensorKey selects the thermal sensor by substring. Empty selects the
	// first sensor with a positive reading.
	SensorKey string

	read TemperatureFunc
}

// NewHostTemperature wraps m. A nil read uses gopsutil.
func NewHostTemperature(m Motion, sensorKey string, read TemperatureFunc) *HostTemperature {
	if read == nil {
		read = host.SensorsTemperaturesWithContext
	}
	return &HostTemperature{Motion: m, SensorKey: sensorKey, read: read}
}

// ChipTemperature returns the selected host sensor, falling back to the
// wrapped sensor when no host reading matches.
func (h *HostTemperature) ChipTemperature(ctx context.Context) (float64, error) {
	stats, err := h.read(ctx)
	// gopsutil reports partial results alongside warnings.
	for _, s := range stats {
		if s.Temperature <= 0 {
			continue
		}
		if h.SensorKey == "" || strings.Contains(s.SensorKey, h.SensorKey) {
			return s.Temperature, nil
		}
	}
	if err != nil && ctx.Err() != nil {
		return 0, ctx.Err()
	}
	return h.Motion.ChipTemperature(ctx)
}
