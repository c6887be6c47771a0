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
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-pnp-device/pkg/device"
	"github.com/jeremyhahn/go-pnp-device/pkg/device/loopback"
	"github.com/jeremyhahn/go-pnp-device/pkg/logging"
	"github.com/jeremyhahn/go-pnp-device/pkg/pnp"
	"github.com/jeremyhahn/go-pnp-device/pkg/sensor"
)

func TestNewMotionName(t *testing.T) {
	s := sensor.NewSimulated(1)

	_, err := NewMotion("", s, MotionOptions{}, logging.Discard())
	assert.ErrorIs(t, err, ErrComponentName)

	_, err = NewMotion(strings.Repeat("m", pnp.MaxComponentLength+1), s, MotionOptions{}, logging.Discard())
	assert.ErrorIs(t, err, ErrComponentName)

	m, err := NewMotion(strings.Repeat("m", pnp.MaxComponentLength), s, MotionOptions{}, logging.Discard())
	require.NoError(t, err)
	assert.Len(t, m.Name(), pnp.MaxComponentLength)

	_, err = NewMotion(MotionComponent, nil, MotionOptions{}, logging.Discard())
	assert.ErrorIs(t, err, ErrSensorNotReady)
}

func TestMotionCommandsAndProperties(t *testing.T) {
	m, err := NewMotion(MotionComponent, sensor.NewSimulated(1), MotionOptions{}, logging.Discard())
	require.NoError(t, err)

	status, resp := m.ProcessCommand("calibrate", []byte("{}"))
	assert.Equal(t, pnp.StatusNotFound, status)
	assert.Equal(t, "{}", string(resp))

	assert.NotPanics(t, func() { m.ProcessProperty("rate", []byte("5"), 1) })
}

func TestMotionPropertyNameSanitized(t *testing.T) {
	var buf bytes.Buffer
	logger, err := logging.New("info", "text", &buf)
	require.NoError(t, err)
	m, err := NewMotion(MotionComponent, sensor.NewSimulated(1), MotionOptions{}, logger)
	require.NoError(t, err)

	m.ProcessProperty("rate\n\x1b[31mforged=1", []byte("5"), 2)
	out := buf.String()
	assert.Contains(t, out, "rate[31mforged=1")
	assert.NotContains(t, out, "\x1b")
	assert.Equal(t, 1, strings.Count(out, "\n"))
}

func TestMotionTelemetrySensorFailure(t *testing.T) {
	s := sensor.NewSimulated(1)
	m, err := NewMotion(MotionComponent, s, MotionOptions{Gyro: true}, logging.Discard())
	require.NoError(t, err)

	client, err := loopback.New(device.Config{DeviceID: "m487"})
	require.NoError(t, err)

	s.SetReady(false)
	require.NoError(t, m.SendTelemetry(context.Background(), client))
	assert.Empty(t, client.Events())
}
