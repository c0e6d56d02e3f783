// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ffutop/backlightd/internal/cache"
	"github.com/ffutop/backlightd/internal/config"
	"github.com/ffutop/backlightd/internal/daemon"
	"github.com/ffutop/backlightd/internal/mode"
)

// startDaemon runs a daemon with two simulated monitors and returns its
// socket path.
func startDaemon(t *testing.T) (*daemon.Daemon, string) {
	t.Helper()
	socket := filepath.Join(t.TempDir(), "ctl.sock")
	cfg := &config.Config{
		Log:    config.LogConfig{Level: "info"},
		Socket: config.SocketConfig{Path: socket, Mode: "0600"},
		Auto: config.AutoConfig{
			Day: 100, Night: 1, Transition: time.Hour, Ramp: "cosine",
			TickInterval: time.Hour, Threshold: 2,
		},
		Cache: config.CacheConfig{
			Freshness: time.Minute, SweepInterval: time.Hour,
			VerifyDelay: time.Millisecond, FailureThreshold: 3,
		},
		Discovery: config.DiscoveryConfig{RescanInterval: time.Hour, LaneTimeout: time.Second},
		DDC:       config.DDCConfig{ProbeTries: 1},
		VirtualDisplays: []config.VirtualDisplayConfig{
			{Name: "left", Max: 100, Brightness: 30},
			{Name: "right", Max: 200, Brightness: 100},
		},
	}
	require.NoError(t, cfg.Validate())

	d, err := daemon.New(cfg)
	require.NoError(t, err)
	require.NoError(t, d.Listen())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-done)
	})
	require.Eventually(t, func() bool {
		for _, id := range []string{"virtual:left", "virtual:right"} {
			if live, err := d.Cache.Liveness(id); err != nil || live != cache.Available {
				return false
			}
		}
		return true
	}, 5*time.Second, 5*time.Millisecond)

	// The first scheduler tick may already have moved the monitors; pin
	// them to known values, which also takes them out of auto mode.
	for id, v := range map[string]string{"virtual:left": "30", "virtual:right": "150"} {
		var stdout, stderr bytes.Buffer
		require.Equal(t, 0, run([]string{"-u", socket, "-d", id, "-b", v}, &stdout, &stderr), stderr.String())
	}
	d.Cache.Wait()
	return d, socket
}

func runCtl(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_List(t *testing.T) {
	_, socket := startDaemon(t)
	code, stdout, stderr := runCtl(t, "-u", socket, "--list")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "DEVICE")
	assert.Contains(t, stdout, "virtual:left")
	assert.Contains(t, stdout, "virtual:right")
}

func TestRun_BrightnessFansOut(t *testing.T) {
	d, socket := startDaemon(t)
	code, stdout, stderr := runCtl(t, "-u", socket, "--json", "-b", "50%")
	require.Equal(t, 0, code, stderr)
	d.Cache.Wait()

	assert.Equal(t, uint16(50), d.Displays[0].Brightness())
	assert.Equal(t, uint16(100), d.Displays[1].Brightness())

	var out output
	require.NoError(t, json.Unmarshal([]byte(stdout), &out))
	require.Len(t, out.Devices, 2)
	for _, dev := range out.Devices {
		assert.Equal(t, "manual", dev.Mode)
		assert.InDelta(t, 50, dev.Percent, 0.001)
	}
}

func TestRun_SingleDeviceRelative(t *testing.T) {
	d, socket := startDaemon(t)
	code, _, stderr := runCtl(t, "-u", socket, "-d", "virtual:left", "-b", "-10%")
	require.Equal(t, 0, code, stderr)
	d.Cache.Wait()

	assert.Equal(t, uint16(20), d.Displays[0].Brightness())
	assert.Equal(t, uint16(150), d.Displays[1].Brightness())
}

func TestRun_ManualWithBrightness(t *testing.T) {
	d, socket := startDaemon(t)
	code, _, stderr := runCtl(t, "-u", socket, "-d", "virtual:right", "-m", "-b", "40%")
	require.Equal(t, 0, code, stderr)
	d.Cache.Wait()

	assert.Equal(t, uint16(80), d.Displays[1].Brightness())
	m, err := d.Modes.Get("virtual:right")
	require.NoError(t, err)
	assert.Equal(t, mode.Manual, m.Kind)
	assert.Equal(t, 80, m.Value)
}

func TestRun_Errors(t *testing.T) {
	_, socket := startDaemon(t)

	code, _, stderr := runCtl(t, "-u", socket, "-d", "ddc:missing", "-b", "10%")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "no such device")

	code, _, stderr = runCtl(t, "-u", socket, "-a", "-b", "10%")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "--brightness and --auto")

	code, _, stderr = runCtl(t, "-u", socket, "-b", "150%")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "invalid brightness")

	code, _, _ = runCtl(t, "-u", filepath.Join(t.TempDir(), "none.sock"), "--list")
	assert.Equal(t, 1, code)
}

func TestRun_Schedule(t *testing.T) {
	_, socket := startDaemon(t)
	code, stdout, stderr := runCtl(t, "-u", socket, "--schedule")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "Schedule (clock)")
	assert.NotContains(t, stdout, "DEVICE")
}

func TestRun_SocketFromEnvironment(t *testing.T) {
	_, socket := startDaemon(t)
	t.Setenv("BACKLIGHTCTL_SOCKET", socket)
	code, stdout, stderr := runCtl(t, "-l")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "virtual:left")
}
