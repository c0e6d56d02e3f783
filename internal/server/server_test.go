// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package server

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ffutop/backlightd/ddc"
	"github.com/ffutop/backlightd/internal/auto"
	"github.com/ffutop/backlightd/internal/cache"
	"github.com/ffutop/backlightd/internal/device"
	"github.com/ffutop/backlightd/internal/mode"
	"github.com/ffutop/backlightd/internal/virtual"
	"github.com/ffutop/backlightd/protocol"
	"github.com/ffutop/backlightd/transport"
)

const deskID = "virtual:desk"

type fixture struct {
	display *virtual.Display
	cache   *cache.Cache
	modes   *mode.Machine
	handler *Handler
	client  *protocol.Client
	path    string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{display: virtual.NewDisplay("desk", 100, 10)}

	registry := device.NewRegistry(0, &device.VirtualScanner{
		Displays: []*virtual.Display{f.display},
		Lanes:    transport.NewLaneSet(2 * time.Second),
		Probe:    device.Probe{Tries: 1},
	})
	f.cache = cache.New(cache.Config{Freshness: time.Minute, SweepInterval: time.Hour, VerifyDelay: time.Millisecond, FailureThreshold: 3})
	f.modes = mode.NewMachine(0)
	registry.AddListener(f.cache)
	registry.AddListener(f.modes)
	registry.Scan(context.Background())
	f.cache.Wait()

	schedule := &auto.Schedule{Zone: time.UTC, Curve: auto.Curve{Day: 80, Night: 5}}
	scheduler := auto.NewScheduler(auto.Config{Interval: time.Hour}, schedule, registry, f.cache, f.modes)

	f.handler = &Handler{
		Registry:  registry,
		Cache:     f.cache,
		Modes:     f.modes,
		Scheduler: scheduler,
		Now:       func() time.Time { return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC) },
	}

	f.path = filepath.Join(t.TempDir(), "ctl.sock")
	srv := New(f.path, 0o600, f.handler)
	require.NoError(t, srv.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()

	f.client = protocol.NewClient(f.path)
	t.Cleanup(func() {
		f.client.Close()
		cancel()
		require.NoError(t, <-done)
		f.cache.Wait()
	})
	return f
}

func TestServer_SocketMode(t *testing.T) {
	f := newFixture(t)
	fi, err := os.Stat(f.path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fi.Mode().Perm())
}

func TestServer_ListDevices(t *testing.T) {
	f := newFixture(t)
	devices, err := f.client.ListDevices(context.Background())
	require.NoError(t, err)
	require.Len(t, devices, 1)

	d := devices[0]
	assert.Equal(t, deskID, d.ID)
	assert.Equal(t, string(device.KindDDC), d.Kind)
	assert.Equal(t, 100, d.Max)
	assert.True(t, d.Known)
	assert.Equal(t, 10, d.Current)
	assert.Equal(t, "auto", d.Mode)
	assert.Equal(t, "available", d.Liveness)
}

func TestServer_SetBrightnessClamped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.client.SetBrightness(ctx, deskID, 250, protocol.UnitRaw)
	require.NoError(t, err)
	assert.Equal(t, 100, b.Value)

	f.cache.Wait()
	assert.Equal(t, uint16(100), f.display.Brightness())

	m, err := f.client.GetMode(ctx, deskID)
	require.NoError(t, err)
	assert.Equal(t, "manual", m.Mode)
	assert.Equal(t, 100, m.Value)
}

func TestServer_SetBrightnessPercent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.client.SetBrightness(ctx, deskID, 42, protocol.UnitPercent)
	require.NoError(t, err)
	assert.Equal(t, 42, b.Value)

	_, err = f.client.SetBrightness(ctx, deskID, 150, protocol.UnitPercent)
	assert.ErrorIs(t, err, device.ErrOutOfRange)

	got, err := f.client.GetBrightness(ctx, deskID)
	require.NoError(t, err)
	assert.Equal(t, 42, got.Value)
}

func TestServer_AdjustBrightness(t *testing.T) {
	tests := []struct {
		name  string
		start float64
		delta float64
		want  int
	}{
		{"increase", 50, 10, 60},
		{"increase saturates", 95, 10, 100},
		{"decrease", 50, -10, 40},
		{"decrease floors at one", 5, -50, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			_, err := f.client.SetBrightness(ctx, deskID, tt.start, protocol.UnitPercent)
			require.NoError(t, err)

			b, err := f.client.AdjustBrightness(ctx, deskID, tt.delta)
			require.NoError(t, err)
			assert.Equal(t, tt.want, b.Value)
		})
	}
}

func TestServer_ModeRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.client.SetMode(ctx, deskID, "manual")
	require.NoError(t, err)
	assert.Equal(t, "manual", m.Mode)
	assert.Equal(t, 10, m.Value)

	m, err = f.client.SetMode(ctx, deskID, "auto")
	require.NoError(t, err)
	assert.Equal(t, "auto", m.Mode)

	got, err := f.modes.Get(deskID)
	require.NoError(t, err)
	assert.Equal(t, mode.Auto, got.Kind)

	_, err = f.client.SetMode(ctx, deskID, "sideways")
	assert.ErrorIs(t, err, protocol.ErrMalformed)
}

func TestServer_SetManualWithValue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	m, err := f.client.SetManual(ctx, deskID, 42, protocol.UnitRaw)
	require.NoError(t, err)
	assert.Equal(t, "manual", m.Mode)
	assert.Equal(t, 42, m.Value)

	got, err := f.client.GetMode(ctx, deskID)
	require.NoError(t, err)
	assert.Equal(t, "manual", got.Mode)
	assert.Equal(t, 42, got.Value)
	f.cache.Wait()
	assert.Equal(t, uint16(42), f.display.Brightness())

	m, err = f.client.SetManual(ctx, deskID, 25, protocol.UnitPercent)
	require.NoError(t, err)
	assert.Equal(t, 25, m.Value)

	_, err = f.client.SetManual(ctx, deskID, 120, protocol.UnitPercent)
	assert.ErrorIs(t, err, device.ErrOutOfRange)
	got, err = f.client.GetMode(ctx, deskID)
	require.NoError(t, err)
	assert.Equal(t, 25, got.Value)
}

func TestHandler_ConcurrentSetsReportOwnValue(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for v := 20; v < 60; v++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := f.handler.Handle(ctx, &protocol.Request{
				Op: protocol.OpSetBrightness, DeviceID: deskID, Value: float64(v), HasValue: true, Unit: protocol.UnitRaw,
			})
			if assert.NoError(t, resp.Err()) && assert.NotNil(t, resp.Brightness) {
				assert.Equal(t, v, resp.Brightness.Value)
			}
		}()
	}
	wg.Wait()
	f.cache.Wait()
}

func TestServer_SetPower(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.client.SetPower(ctx, deskID, false))
	assert.Equal(t, uint16(ddc.PowerOff), f.display.Power())
	require.NoError(t, f.client.SetPower(ctx, deskID, true))
	assert.Equal(t, uint16(ddc.PowerOn), f.display.Power())
}

func TestServer_NotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.client.GetBrightness(ctx, "ddc:nope")
	assert.ErrorIs(t, err, device.ErrNotFound)
	_, err = f.client.SetBrightness(ctx, "ddc:nope", 10, protocol.UnitRaw)
	assert.ErrorIs(t, err, device.ErrNotFound)
}

func TestServer_RefreshAndRescan(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	b, err := f.client.Refresh(ctx, deskID)
	require.NoError(t, err)
	assert.Equal(t, 10, b.Value)
	assert.False(t, b.Stale)

	devices, err := f.client.Rescan(ctx)
	require.NoError(t, err)
	assert.Len(t, devices, 1)
}

func TestServer_GetSchedule(t *testing.T) {
	f := newFixture(t)
	s, err := f.client.GetSchedule(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "clock", s.Source)
	assert.Equal(t, 6, s.Sunrise.Hour())
	assert.Equal(t, 18, s.Sunset.Hour())
	assert.InDelta(t, 80, s.Target, 0.001)
}

func exchange(t *testing.T, conn net.Conn, f *protocol.Frame) *protocol.Response {
	t.Helper()
	raw, err := f.Encode()
	require.NoError(t, err)
	_, err = conn.Write(raw)
	require.NoError(t, err)

	resp, err := protocol.ReadFrame(conn)
	require.NoError(t, err)
	assert.Equal(t, f.TransactionID, resp.TransactionID)

	var r protocol.Response
	require.NoError(t, protocol.Unmarshal(resp.Body, &r))
	return &r
}

func TestServer_BadFramesKeepConnection(t *testing.T) {
	f := newFixture(t)
	conn, err := net.Dial("unix", f.path)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	resp := exchange(t, conn, &protocol.Frame{TransactionID: 1, Version: 9, Body: []byte{0xF6}})
	assert.Equal(t, protocol.CodeMalformed, resp.Code)

	resp = exchange(t, conn, &protocol.Frame{TransactionID: 2, Version: protocol.Version, Body: []byte{0xFF, 0x00}})
	assert.Equal(t, protocol.CodeMalformed, resp.Code)

	body, err := protocol.Marshal(&protocol.Request{Op: "dance"})
	require.NoError(t, err)
	resp = exchange(t, conn, &protocol.Frame{TransactionID: 3, Version: protocol.Version, Body: body})
	assert.Equal(t, protocol.CodeMalformed, resp.Code)

	body, err = protocol.Marshal(&protocol.Request{Op: protocol.OpListDevices})
	require.NoError(t, err)
	resp = exchange(t, conn, &protocol.Frame{TransactionID: 4, Version: protocol.Version, Body: body})
	assert.Equal(t, protocol.CodeOK, resp.Code)
	assert.Len(t, resp.Devices, 1)
}

func TestServer_Listen(t *testing.T) {
	t.Run("removes stale socket", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ctl.sock")
		l, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
		require.NoError(t, err)
		l.SetUnlinkOnClose(false)
		require.NoError(t, l.Close())

		srv := New(path, 0, &Handler{})
		require.NoError(t, srv.Listen())
		srv.Close()
	})

	t.Run("refuses live socket", func(t *testing.T) {
		f := newFixture(t)
		srv := New(f.path, 0, &Handler{})
		assert.ErrorIs(t, srv.Listen(), ErrAlreadyRunning)
	})

	t.Run("refuses regular file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "ctl.sock")
		require.NoError(t, os.WriteFile(path, nil, 0o600))
		srv := New(path, 0, &Handler{})
		assert.Error(t, srv.Listen())
	})
}
