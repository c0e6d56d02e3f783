// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ffutop/backlightd/internal/auto"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv(LocationEnv, "")
	cfg, err := LoadConfig(writeConfig(t, "{}\n"), nil)
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "/run/backlightd.sock", cfg.Socket.Path)
	assert.Equal(t, os.FileMode(0o660), cfg.Socket.FileMode())
	assert.Nil(t, cfg.Location.Latitude)
	assert.Equal(t, 100.0, cfg.Auto.Day)
	assert.Equal(t, 1.0, cfg.Auto.Night)
	assert.Equal(t, "cosine", cfg.Auto.Ramp)
	assert.Equal(t, time.Minute, cfg.Auto.TickInterval)
	assert.Zero(t, cfg.Mode.ManualTimeout)
	assert.Equal(t, 5*time.Second, cfg.Cache.Freshness)
	assert.Equal(t, 3, cfg.Cache.FailureThreshold)
	assert.True(t, cfg.Discovery.Panels)
	assert.True(t, cfg.Discovery.DDC)
	assert.Equal(t, uint(3), cfg.DDC.ProbeTries)

	s, err := cfg.Schedule()
	require.NoError(t, err)
	assert.Equal(t, "clock", s.Source())
}

func TestLoadConfig_File(t *testing.T) {
	t.Setenv(LocationEnv, "")
	path := writeConfig(t, `
log:
  level: DEBUG
socket:
  path: /tmp/bl.sock
  mode: "0600"
location:
  latitude: 51.5
  longitude: -0.12
  zone: UTC
auto:
  day: 90
  night: 10
  transition: 1h
  ramp: linear
mode:
  manual_timeout: 12h
virtual_displays:
  - name: desk
    max: 100
    brightness: 40
    latency: 5ms
`)
	cfg, err := LoadConfig(path, nil)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/tmp/bl.sock", cfg.Socket.Path)
	assert.Equal(t, os.FileMode(0o600), cfg.Socket.FileMode())
	require.NotNil(t, cfg.Location.Latitude)
	assert.Equal(t, 51.5, *cfg.Location.Latitude)
	assert.Equal(t, -0.12, *cfg.Location.Longitude)
	assert.Equal(t, 12*time.Hour, cfg.Mode.ManualTimeout)
	require.Len(t, cfg.VirtualDisplays, 1)
	assert.Equal(t, VirtualDisplayConfig{Name: "desk", Max: 100, Brightness: 40, Latency: 5 * time.Millisecond}, cfg.VirtualDisplays[0])

	s, err := cfg.Schedule()
	require.NoError(t, err)
	assert.Equal(t, "location", s.Source())
	assert.Equal(t, "UTC", s.Zone.String())
	assert.Equal(t, auto.LinearRamp{}, s.Curve.Ramp)
	assert.Equal(t, time.Hour, s.Curve.Transition)
}

func TestLoadConfig_Environment(t *testing.T) {
	t.Setenv("BACKLIGHTD_SOCKET_PATH", "/tmp/env.sock")
	t.Setenv("BACKLIGHTD_AUTO_THRESHOLD", "5")
	t.Setenv(LocationEnv, "35.68, 139.69")

	cfg, err := LoadConfig(writeConfig(t, "socket:\n  path: /tmp/file.sock\n"), nil)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/env.sock", cfg.Socket.Path)
	assert.Equal(t, 5.0, cfg.Auto.Threshold)
	require.NotNil(t, cfg.Location.Latitude)
	assert.Equal(t, 35.68, *cfg.Location.Latitude)
	assert.Equal(t, 139.69, *cfg.Location.Longitude)
}

func TestLoadConfig_BadLocationEnv(t *testing.T) {
	t.Setenv(LocationEnv, "north")
	_, err := LoadConfig(writeConfig(t, "{}\n"), nil)
	assert.ErrorContains(t, err, LocationEnv)
}

func TestLoadConfig_Flags(t *testing.T) {
	t.Setenv(LocationEnv, "")
	flags := pflag.NewFlagSet("backlightd", pflag.ContinueOnError)
	flags.String("socket", "/run/backlightd.sock", "")
	flags.String("log-level", "info", "")
	require.NoError(t, flags.Parse([]string{"--socket", "/tmp/flag.sock"}))

	cfg, err := LoadConfig(writeConfig(t, "log:\n  level: warn\n"), flags)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/flag.sock", cfg.Socket.Path)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func TestValidate_CollectsErrors(t *testing.T) {
	t.Setenv(LocationEnv, "")
	path := writeConfig(t, `
log:
  level: loud
socket:
  mode: "rw"
location:
  latitude: 95
auto:
  day: 120
  ramp: zigzag
cache:
  failure_threshold: 0
virtual_displays:
  - name: a
    max: 10
    brightness: 11
  - name: a
    max: 0
`)
	_, err := LoadConfig(path, nil)
	require.Error(t, err)
	for _, want := range []string{
		"log.level",
		"socket.mode",
		"must be set together",
		"location.latitude must be between",
		"auto.day",
		"auto.ramp",
		"cache.failure_threshold",
		"virtual_displays[0].brightness",
		`virtual_displays[1].name "a" is duplicated`,
		"virtual_displays[1].max",
	} {
		assert.ErrorContains(t, err, want)
	}
}

func TestParseZone(t *testing.T) {
	tests := []struct {
		zone   string
		offset int
	}{
		{"+05:30", 5*3600 + 30*60},
		{"-08:00", -8 * 3600},
		{"+00:00", 0},
		{"UTC", 0},
	}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, tt := range tests {
		t.Run(tt.zone, func(t *testing.T) {
			loc, err := ParseZone(tt.zone)
			require.NoError(t, err)
			_, offset := at.In(loc).Zone()
			assert.Equal(t, tt.offset, offset)
		})
	}

	for _, bad := range []string{"+25:00", "+05:75", "+5:30", "-0800", "Mars/Olympus"} {
		_, err := ParseZone(bad)
		assert.Error(t, err, bad)
	}
}

func TestLoadConfig_OffsetZone(t *testing.T) {
	t.Setenv(LocationEnv, "")
	t.Setenv("BACKLIGHTD_LOCATION_ZONE", "-03:30")
	cfg, err := LoadConfig(writeConfig(t, "{}\n"), nil)
	require.NoError(t, err)

	s, err := cfg.Schedule()
	require.NoError(t, err)
	_, offset := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).In(s.Zone).Zone()
	assert.Equal(t, -(3*3600 + 30*60), offset)

	cfg.Location.Zone = "+14:60"
	assert.ErrorContains(t, cfg.Validate(), "location.zone")
}

func TestValidate_LogFormat(t *testing.T) {
	t.Setenv(LocationEnv, "")
	cfg, err := LoadConfig(writeConfig(t, "{}\n"), nil)
	require.NoError(t, err)
	assert.Equal(t, "text", cfg.Log.Format)

	cfg.Log.Format = "json"
	require.NoError(t, cfg.Validate())
	cfg.Log.Format = "xml"
	assert.ErrorContains(t, cfg.Validate(), "log.format")
}
