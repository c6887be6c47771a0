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


package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeremyhahn/go-pnp-device/internal/config"
	"github.com/jeremyhahn/go-pnp-device/internal/numaker"
	"github.com/jeremyhahn/go-pnp-device/internal/server"
	"github.com/jeremyhahn/go-pnp-device/pkg/board"
	"github.com/jeremyhahn/go-pnp-device/pkg/device"
	"github.com/jeremyhahn/go-pnp-device/pkg/device/loopback"
	"github.com/jeremyhahn/go-pnp-device/pkg/device/natsclient"
	"github.com/jeremyhahn/go-pnp-device/pkg/health"
	"github.com/jeremyhahn/go-pnp-device/pkg/hsm"
	"github.com/jeremyhahn/go-pnp-device/pkg/logging"
	"github.com/jeremyhahn/go-pnp-device/pkg/metrics"
	"github.com/jeremyhahn/go-pnp-device/pkg/ratelimit"
	"github.com/jeremyhahn/go-pnp-device/pkg/sensor"
)

const (
	shutdownTimeout = 5 * time.Second

	// minHeartbeatAge bounds the poll loop staleness threshold for very
	// short poll intervals.
	minHeartbeatAge = time.Second
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the device",
	Long: `Run the NuMaker IoT M487 Dev device until interrupted.

The process exits with code 3 when the device receives the reboot command.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		logger, err := logging.New(cfg.Logging.Level, cfg.Logging.Format, cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rt, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer rt.Close()

		return rt.Run(ctx)
	},
}

// app is a fully wired device: identity, board, client and the
// optional observability listener.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	id      *identity
	dev     *numaker.Device
	client  device.Client
	checker *health.Checker
	beat    *health.Heartbeat
	server  *server.Server
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	if cfg.Metrics.Enabled {
		metrics.Enable()
	} else {
		metrics.Disable()
	}

	if err := hsm.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize HSM: %w", err)
	}

	rt := &app{
		cfg:     cfg,
		logger:  logger,
		checker: health.NewChecker(),
		beat:    &health.Heartbeat{},
	}
	if err := rt.wire(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *app) wire(ctx context.Context) error {
	var err error

	rt.id, err = newIdentity(ctx, rt.cfg, rt.logger)
	if err != nil {
		return err
	}

	rt.dev, err = rt.newDevice(ctx)
	if err != nil {
		return err
	}

	rt.client, err = rt.openClient(ctx)
	if err != nil {
		return err
	}

	if rt.cfg.ListenerEnabled() {
		return rt.startServer()
	}
	return nil
}

func (rt *app) newDevice(ctx context.Context) (*numaker.Device, error) {
	cfg := rt.cfg

	var motion sensor.Motion = sensor.NewSimulated(cfg.Sensor.Seed)
	if cfg.Sensor.HostTemperature {
		motion = sensor.NewHostTemperature(motion, cfg.Sensor.SensorKey, nil)
	}

	info := numaker.DefaultDeviceInfo()
	if cfg.Device.DeviceInfo == config.DeviceInfoHost {
		hostInfo, err := numaker.HostDeviceInfo(ctx, info)
		if err != nil {
			rt.logger.Warn("Host device information incomplete", "error", err)
		}
		info = hostInfo
	}

	return numaker.New(numaker.Options{
		LED:     board.NewLED(board.NewMemoryPin(board.High)),
		Button1: board.NewButton(board.NewMemoryPin(board.High)),
		Button2: board.NewButton(board.NewMemoryPin(board.High)),
		Motion:  motion,
		MotionOptions: numaker.MotionOptions{
			Gyro:   cfg.Sensor.Gyro,
			Magnet: cfg.Sensor.Magnet,
		},
		DeviceInfo:     info,
		PollInterval:   cfg.PollInterval(),
		TelemetryEvery: cfg.Device.TelemetryEvery,
		OnPoll:         rt.beat.Beat,
		Logger:         rt.logger,
	})
}

func (rt *app) openClient(ctx context.Context) (device.Client, error) {
	cfg := rt.cfg
	devCfg := rt.dev.ClientConfig(cfg.Device.ID)

	switch cfg.Transport.Type {
	case config.TransportNATS:
		creds, err := credentials(cfg.Transport.Auth)
		if err != nil {
			return nil, err
		}
		n := cfg.Transport.NATS
		client, err := natsclient.Connect(ctx, natsclient.Config{
			URL:           n.URL,
			SubjectPrefix: n.SubjectPrefix,
			Name:          n.Name,
			QueueSize:     n.QueueSize,
			PublishRate:   n.PublishRate,
			PublishBurst:  n.PublishBurst,
			TwinTimeout:   n.TwinTimeout(),
			MaxReconnects: n.MaxReconnects,
			ReconnectWait: n.ReconnectWait(),
			RootCAFile:    n.RootCAFile,
			Credentials:   creds,
		}, devCfg)
		if err != nil {
			return nil, err
		}
		rt.checker.RegisterCheck("nats", health.ConnectionCheck("nats", client.Connected))
		rt.logger.Info("Connected device client", "transport", cfg.Transport.Type, "url", n.URL)
		return client, nil
	default:
		client, err := loopback.New(devCfg)
		if err != nil {
			return nil, err
		}
		rt.logger.Info("Using loopback device client")
		return client, nil
	}
}

// credentials reads the transport credentials through the capability
// tables. The handle is released before returning.
func credentials(auth string) (natsclient.Credentials, error) {
	switch auth {
	case config.AuthKey:
		table := hsm.KeyTable()
		h, err := table.Create()
		if err != nil {
			return natsclient.Credentials{}, fmt.Errorf("failed to create key client: %w", err)
		}
		defer table.Destroy(h)
		return natsclient.KeyCredentials(h)
	case config.AuthX509:
		table := hsm.X509Table()
		h, err := table.Create()
		if err != nil {
			return natsclient.Credentials{}, fmt.Errorf("failed to create X.509 client: %w", err)
		}
		defer table.Destroy(h)
		return natsclient.X509Credentials(h)
	default:
		return natsclient.Credentials{}, nil
	}
}

func (rt *app) startServer() error {
	cfg := rt.cfg

	serverCfg := server.Config{
		Address:        cfg.Metrics.Address,
		MetricsEnabled: cfg.Metrics.Enabled,
		MetricsPath:    cfg.Metrics.Path,
		HealthEnabled:  cfg.Health.Enabled,
		HealthPath:     cfg.Health.Path,
		RateLimit: &ratelimit.Config{
			Enabled:   cfg.RateLimit.Enabled,
			PerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:     cfg.RateLimit.Burst,
		},
		Logger: rt.logger,
	}
	if cfg.TLS.Enabled {
		tlsCfg, err := cfg.TLS.ServerTLS()
		if err != nil {
			return err
		}
		serverCfg.TLS = tlsCfg
	}

	maxAge := 10 * cfg.PollInterval()
	if maxAge < minHeartbeatAge {
		maxAge = minHeartbeatAge
	}
	rt.checker.RegisterCheck("poll_loop", rt.beat.Check(maxAge))

	srv, err := server.New(serverCfg, rt.checker)
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}
	rt.server = srv
	return nil
}

// Run runs the device until ctx is cancelled or a reboot is requested.
func (rt *app) Run(ctx context.Context) error {
	rt.checker.MarkStarted()
	defer rt.checker.MarkNotStarted()

	err := rt.dev.Run(ctx, rt.client)
	if errors.Is(err, numaker.ErrRebootRequested) {
		rt.logger.Warn("Device reboot requested, exiting", "exit_code", ExitCodeReboot)
		return err
	}
	if err != nil {
		return err
	}
	printVerbose("device stopped")
	return nil
}

// Close releases the app in reverse order of construction.
func (rt *app) Close() {
	if rt.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := rt.server.Shutdown(ctx); err != nil {
			rt.logger.Error("Error during server shutdown", "error", err)
		}
		cancel()
	}
	if rt.client != nil {
		if err := rt.client.Close(); err != nil && !errors.Is(err, device.ErrClosed) {
			rt.logger.Error("Error closing device client", "error", err)
		}
	}
	if rt.id != nil {
		if err := rt.id.Close(); err != nil {
			rt.logger.Error("Error closing storage", "error", err)
		}
	}
	hsm.Deinit()
}
