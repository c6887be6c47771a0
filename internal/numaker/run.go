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
	"time"

	"github.com/jeremyhahn/go-pnp-device/pkg/device"
	"github.com/jeremyhahn/go-pnp-device/pkg/metrics"
)

// Run reports the device information and LED state, then polls client
// until ctx is cancelled or a reboot fires. Telemetry is sent on the first
// poll and every TelemetryEvery polls after that. Run returns nil on
// cancellation and ErrRebootRequested after a reboot.
func (d *Device) Run(ctx context.Context, client device.Client) error {
	d.client, d.ctx = client, ctx
	defer func() {
		d.client, d.ctx = nil, context.Background()
	}()

	d.logger.Info("device started", "model_id", ModelID)
	if err := ReportDeviceInfo(ctx, client, d.opts.DeviceInfo, d.logger); err != nil {
		d.logger.Warn("device information partially reported", "error", err)
	}
	d.reportLED()

	timer := time.NewTimer(d.opts.PollInterval)
	defer timer.Stop()

	for iter := 0; ; iter = (iter + 1) % d.opts.TelemetryEvery {
		metrics.IncPollIterations()
		if d.opts.OnPoll != nil {
			d.opts.OnPoll()
		}
		if iter == 0 {
			_ = d.SendTelemetry()
		}

		if err := client.DoWork(ctx); err != nil {
			switch {
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, device.ErrClosed):
				return err
			default:
				d.logger.Error("device client work failed", "error", err)
			}
		}

		timer.Reset(d.opts.PollInterval)
		select {
		case <-ctx.Done():
			d.logger.Info("device stopped")
			return nil
		case <-d.rebootCh:
			d.logger.Warn("rebooting")
			return ErrRebootRequested
		case <-timer.C:
		}
	}
}
