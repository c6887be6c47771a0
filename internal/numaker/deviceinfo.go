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

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/jeremyhahn/go-pnp-device/pkg/device"
	"github.com/jeremyhahn/go-pnp-device/pkg/metrics"
	"github.com/jeremyhahn/go-pnp-device/pkg/pnp"
)

// DeviceInfoComponent is the read-only device information component.
const DeviceInfoComponent = "deviceInformation"

// DeviceInfo holds the deviceInformation properties. Storage and memory
// are in kilobytes.
type DeviceInfo struct {
	SoftwareVersion       string  `yaml:"sw_version"`
	Manufacturer          string  `yaml:"manufacturer"`
	Model                 string  `yaml:"model"`
	OSName                string  `yaml:"os_name"`
	ProcessorArchitecture string  `yaml:"processor_architecture"`
	ProcessorManufacturer string  `yaml:"processor_manufacturer"`
	TotalStorage          float64 `yaml:"total_storage"`
	TotalMemory           float64 `yaml:"total_memory"`
}

// DefaultDeviceInfo describes the development board.
func DefaultDeviceInfo() DeviceInfo {
	return DeviceInfo{
		SoftwareVersion:       "1.0.0.0",
		Manufacturer:          "Nuvoton",
		Model:                 "NuMaker IoT M487 Dev",
		OSName:                "Mbed OS",
		ProcessorArchitecture: "Cortex-M4",
		ProcessorManufacturer: "Nuvoton",
		TotalStorage:          512,
		TotalMemory:           160,
	}
}

// HostDeviceInfo overlays base with values read from the host. Values that
// cannot be read keep the base value; the returned error joins every
// failed probe.
func HostDeviceInfo(ctx context.Context, base DeviceInfo) (DeviceInfo, error) {
	info := base
	var errs []error

	if h, err := host.InfoWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("host info: %w", err))
	} else {
		if h.Platform != "" {
			info.OSName = h.Platform
			if h.PlatformVersion != "" {
				info.OSName += " " + h.PlatformVersion
			}
		} else if h.OS != "" {
			info.OSName = h.OS
		}
		if h.KernelArch != "" {
			info.ProcessorArchitecture = h.KernelArch
		}
	}

	if cpus, err := cpu.InfoWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("cpu info: %w", err))
	} else if len(cpus) > 0 && cpus[0].VendorID != "" {
		info.ProcessorManufacturer = cpus[0].VendorID
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err != nil {
		errs = append(errs, fmt.Errorf("memory: %w", err))
	} else {
		info.TotalMemory = float64(vm.Total / 1024)
	}

	if du, err := disk.UsageWithContext(ctx, "/"); err != nil {
		errs = append(errs, fmt.Errorf("disk usage: %w", err))
	} else {
		info.TotalStorage = float64(du.Total / 1024)
	}

	return info, errors.Join(errs...)
}

type property struct {
	name  string
	value any
}

func (i DeviceInfo) properties() []property {
	return []property{
		{"swVersion", i.SoftwareVersion},
		{"manufacturer", i.Manufacturer},
		{"model", i.Model},
		{"osName", i.OSName},
		{"processorArchitecture", i.ProcessorArchitecture},
		{"processorManufacturer", i.ProcessorManufacturer},
		{"totalStorage", i.TotalStorage},
		{"totalMemory", i.TotalMemory},
	}
}

// ReportDeviceInfo sends each property as its own reported-state patch.
// A failed send is logged and the remaining properties are still sent.
func ReportDeviceInfo(ctx context.Context, client device.Client, info DeviceInfo, logger *slog.Logger) error {
	var errs []error
	for _, p := range info.properties() {
		patch, err := pnp.MarshalReportedProperty(DeviceInfoComponent, p.name, p.value)
		if err == nil {
			err = client.SendReportedState(ctx, patch)
		}
		metrics.RecordReportedProperty(DeviceInfoComponent, metrics.StatusOf(err))
		if err != nil {
			logger.Error("unable to send reported property",
				"component", DeviceInfoComponent, "property", p.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", p.name, err))
			continue
		}
		logger.Debug("sent reported property", "component", DeviceInfoComponent, "property", p.name)
	}
	return errors.Join(errs...)
}
