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

package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeremyhahn/go-pnp-device/pkg/correlation"
	"github.com/jeremyhahn/go-pnp-device/pkg/device"
	"github.com/jeremyhahn/go-pnp-device/pkg/hsm"
	"github.com/jeremyhahn/go-pnp-device/pkg/logging"
)

func runServer(t *testing.T) *server.Server {
	t.Helper()

	srv, err := server.NewServer(&server.Options{
		Host: "127.0.0.1",
		Port: -1,
	})
	require.NoError(t, err)

	go srv.Start()
	if !srv.ReadyForConnections(10 * time.Second) {
		srv.Shutdown()
		t.Fatalf("embedded NATS server not ready for connections")
	}
	t.Cleanup(srv.Shutdown)
	return srv
}

// hub connects a second client that plays the service side.
func hub(t *testing.T, srv *server.Server) *nats.Conn {
	t.Helper()
	nc, err := nats.Connect(srv.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

func TestNewSubjects(t *testing.T) {
	s := NewSubjects("devices", "numaker-01")
	assert.Equal(t, "devices.numaker-01.messages.events", s.Events)
	assert.Equal(t, "devices.numaker-01.twin.reported", s.Reported)
	assert.Equal(t, "devices.numaker-01.twin.desired", s.Desired)
	assert.Equal(t, "devices.numaker-01.twin.get", s.TwinGet)
	assert.Equal(t, "devices.numaker-01.methods", s.Methods)
}

func TestConnect_InvalidDeviceID(t *testing.T) {
	srv := runServer(t)
	_, err := Connect(context.Background(), Config{URL: srv.ClientURL()},
		device.Config{DeviceID: "bad.id", Logger: logging.Discard()})
	assert.ErrorIs(t, err, ErrInvalidDeviceID)
}

func TestSendEvent(t *testing.T) {
	srv := runServer(t)
	service := hub(t, srv)

	sub, err := service.SubscribeSync("devices.dev1.messages.events")
	require.NoError(t, err)
	require.NoError(t, service.Flush())

	c, err := Connect(context.Background(), Config{URL: srv.ClientURL(), TwinTimeout: 100 * time.Millisecond},
		device.Config{DeviceID: "dev1", ModelID: "dtmi:test;1", Logger: logging.Discard()})
	require.NoError(t, err)
	defer c.Close()

	msg := device.NewMessage([]byte(`{"accelX":0.25}`))
	msg.ContentType = "application/json"
	msg.ContentEncoding = "utf-8"
	msg.SetProperty("$.sub", "motionSensorBMX055")
	ctx := correlation.WithCorrelationID(context.Background(), "corr-7")
	require.NoError(t, c.SendEvent(ctx, msg))

	got, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, `{"accelX":0.25}`, string(got.Data))
	assert.Equal(t, msg.ID, got.Header.Get(HeaderMessageID))
	assert.Equal(t, "application/json", got.Header.Get(HeaderContentType))
	assert.Equal(t, "utf-8", got.Header.Get(HeaderContentEncoding))
	assert.Equal(t, "dtmi:test;1", got.Header.Get(HeaderModelID))
	assert.Equal(t, "motionSensorBMX055", got.Header.Get("$.sub"))
	assert.Equal(t, "corr-7", got.Header.Get(correlation.MessageHeader))

	// Without an ID in the context a fresh one is generated per event.
	require.NoError(t, c.SendEvent(context.Background(), device.NewMessage([]byte(`{"button1":true}`))))
	got, err = sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	first := got.Header.Get(correlation.MessageHeader)
	assert.NotEmpty(t, first)

	require.NoError(t, c.SendEvent(context.Background(), device.NewMessage([]byte(`{"button2":true}`))))
	got, err = sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.NotEmpty(t, got.Header.Get(correlation.MessageHeader))
	assert.NotEqual(t, first, got.Header.Get(correlation.MessageHeader))
}

func TestSendReportedState(t *testing.T) {
	srv := runServer(t)
	service := hub(t, srv)

	sub, err := service.SubscribeSync("devices.dev1.twin.reported")
	require.NoError(t, err)
	require.NoError(t, service.Flush())

	c, err := Connect(context.Background(), Config{URL: srv.ClientURL(), TwinTimeout: 100 * time.Millisecond},
		device.Config{DeviceID: "dev1", Logger: logging.Discard()})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.SendReportedState(context.Background(), []byte(`{"led":false}`)))
	assert.ErrorIs(t, c.SendReportedState(context.Background(), nil), device.ErrInvalidMessage)

	got, err := sub.NextMsg(2 * time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"led":false}`, string(got.Data))
}

func TestInitialTwinAndDesiredPatch(t *testing.T) {
	srv := runServer(t)
	service := hub(t, srv)

	_, err := service.Subscribe("devices.dev1.twin.get", func(m *nats.Msg) {
		_ = m.Respond([]byte(`{"desired":{"led":true,"$version":3},"reported":{}}`))
	})
	require.NoError(t, err)
	require.NoError(t, service.Flush())

	type update struct {
		state   device.TwinUpdateState
		payload string
	}
	var updates []update
	c, err := Connect(context.Background(), Config{URL: srv.ClientURL()}, device.Config{
		DeviceID: "dev1",
		Logger:   logging.Discard(),
		TwinCallback: func(state device.TwinUpdateState, payload []byte) {
			updates = append(updates, update{state, string(payload)})
		},
	})
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, service.Publish("devices.dev1.twin.desired", []byte(`{"led":false,"$version":4}`)))
	require.NoError(t, service.Flush())

	// nothing is delivered outside DoWork
	assert.Empty(t, updates)

	require.Eventually(t, func() bool {
		_ = c.DoWork(context.Background())
		return len(updates) == 2
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, device.TwinComplete, updates[0].state)
	assert.Equal(t, device.TwinPartial, updates[1].state)
	assert.JSONEq(t, `{"led":false,"$version":4}`, updates[1].payload)
}

func TestMethodCall(t *testing.T) {
	srv := runServer(t)
	service := hub(t, srv)

	c, err := Connect(context.Background(), Config{URL: srv.ClientURL(), TwinTimeout: 100 * time.Millisecond}, device.Config{
		DeviceID: "dev1",
		Logger:   logging.Discard(),
		MethodCallback: func(method string, payload []byte) (int, []byte) {
			if method == "reboot" {
				return 200, []byte("{}")
			}
			return 404, []byte("{}")
		},
	})
	require.NoError(t, err)
	defer c.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if err := c.DoWork(context.Background()); err != nil {
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	call := func(method string) *nats.Msg {
		req := nats.NewMsg("devices.dev1.methods")
		req.Header.Set(HeaderMethod, method)
		req.Data = []byte("5")
		resp, err := service.RequestMsg(req, 2*time.Second)
		require.NoError(t, err)
		return resp
	}

	resp := call("reboot")
	assert.Equal(t, "200", resp.Header.Get(HeaderStatus))
	assert.Equal(t, "{}", string(resp.Data))
	assert.NotEmpty(t, resp.Header.Get(correlation.MessageHeader))

	req := nats.NewMsg("devices.dev1.methods")
	req.Header.Set(HeaderMethod, "reboot")
	req.Header.Set(correlation.MessageHeader, "trace-42")
	req.Data = []byte("1")
	resp, err = service.RequestMsg(req, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "trace-42", resp.Header.Get(correlation.MessageHeader))

	resp = call("selfDestruct")
	assert.Equal(t, "404", resp.Header.Get(HeaderStatus))

	require.NoError(t, c.Close())
	<-done
}

func TestClose(t *testing.T) {
	srv := runServer(t)

	c, err := Connect(context.Background(), Config{URL: srv.ClientURL(), TwinTimeout: 100 * time.Millisecond},
		device.Config{DeviceID: "dev1", Logger: logging.Discard()})
	require.NoError(t, err)
	assert.True(t, c.Connected())

	require.NoError(t, c.Close())
	assert.False(t, c.Connected())
	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.DoWork(context.Background()), device.ErrClosed)
	assert.ErrorIs(t, c.SendEvent(context.Background(), device.NewMessage(nil)), device.ErrClosed)
}

func TestKeyCredentials(t *testing.T) {
	client, err := hsm.New(hsm.WithLogger(logging.Discard()))
	require.NoError(t, err)
	defer client.Close()

	creds, err := KeyCredentials(client)
	require.NoError(t, err)
	assert.Equal(t, hsm.DefaultRegistrationName, creds.User)
	assert.Equal(t, hsm.DefaultSymmetricKey, creds.Password)

	_, err = KeyCredentials(nil)
	assert.ErrorIs(t, err, hsm.ErrInvalidHandle)
}

func TestConnect_UserInfo(t *testing.T) {
	srv, err := server.NewServer(&server.Options{
		Host:     "127.0.0.1",
		Port:     -1,
		Username: "numaker-01",
		Password: "c2VjcmV0",
	})
	require.NoError(t, err)
	go srv.Start()
	require.True(t, srv.ReadyForConnections(10*time.Second))
	defer srv.Shutdown()

	devCfg := device.Config{DeviceID: "numaker-01", Logger: logging.Discard()}

	_, err = Connect(context.Background(), Config{URL: srv.ClientURL()}, devCfg)
	assert.Error(t, err)

	c, err := Connect(context.Background(), Config{
		URL:         srv.ClientURL(),
		TwinTimeout: 100 * time.Millisecond,
		Credentials: Credentials{User: "numaker-01", Password: "c2VjcmV0"},
	}, devCfg)
	require.NoError(t, err)
	require.NoError(t, c.Close())
}
