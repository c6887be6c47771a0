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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-pnp-device/pkg/device"
	"github.com/jeremyhahn/go-pnp-device/pkg/device/loopback"
	"github.com/jeremyhahn/go-pnp-device/pkg/logging"
)

func TestReportDeviceInfo(t *testing.T) {
	client, err := loopback.New(device.Config{DeviceID: "m487"})
	require.NoError(t, err)

	require.NoError(t, ReportDeviceInfo(context.Background(), client, DefaultDeviceInfo(), logging.Discard()))

	var got []string
	for _, r := range client.Reported() {
		got = append(got, string(r))
	}
	assert.Equal(t, []string{
		`{"deviceInformation":{"__t":"c","swVersion":"1.0.0.0"}}`,
		`{"deviceInformation":{"__t":"c","manufacturer":"Nuvoton"}}`,
		`{"deviceInformation":{"__t":"c","model":"NuMaker IoT M487 Dev"}}`,
		`{"deviceInformation":{"__t":"c","osName":"Mbed OS"}}`,
		`{"deviceInformation":{"__t":"c","processorArchitecture":"Cortex-M4"}}`,
		`{"deviceInformation":{"__t":"c","processorManufacturer":"Nuvoton"}}`,
		`{"deviceInformation":{"__t":"c","totalStorage":512}}`,
		`{"deviceInformation":{"__t":"c","totalMemory":160}}`,
	}, got)
}

func TestReportDeviceInfoClosed(t *testing.T) {
	client, err := loopback.New(device.Config{DeviceID: "m487"})
	require.NoError(t, err)
	require.NoError(t, client.Close())

	err = ReportDeviceInfo(context.Background(), client, DefaultDeviceInfo(), logging.Discard())
	assert.ErrorIs(t, err, device.ErrClosed)
	assert.Contains(t, err.Error(), "swVersion")
	assert.Contains(t, err.Error(), "totalMemory")
}

func TestHostDeviceInfo(t *testing.T) {
	base := DefaultDeviceInfo()
	info, _ := HostDeviceInfo(context.Background(), base)

	// Identity fields are never taken from the host.
	assert.Equal(t, base.SoftwareVersion, info.SoftwareVersion)
	assert.Equal(t, base.Manufacturer, info.Manufacturer)
	assert.Equal(t, base.Model, info.Model)
	assert.NotEmpty(t, info.OSName)
	assert.Greater(t, info.TotalMemory, 0.0)
}
