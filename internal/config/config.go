// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ffutop/backlightd/internal/auto"
)

const EnvPrefix = "BACKLIGHTD"

// LocationEnv carries "lat,long" and wins over the location section.
const LocationEnv = "BACKLIGHTD_LOCATION"

// Config defines the daemon configuration
type Config struct {
	Log             LogConfig              `mapstructure:"log"`
	Socket          SocketConfig           `mapstructure:"socket"`
	Location        LocationConfig         `mapstructure:"location"`
	Auto            AutoConfig             `mapstructure:"auto"`
	Mode            ModeConfig             `mapstructure:"mode"`
	Cache           CacheConfig            `mapstructure:"cache"`
	Discovery       DiscoveryConfig        `mapstructure:"discovery"`
	DDC             DDCConfig              `mapstructure:"ddc"`
	VirtualDisplays []VirtualDisplayConfig `mapstructure:"virtual_displays"`
}

// LogConfig defines logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text or json
	File   string `mapstructure:"file"`   // Log file path, empty or "-" for stderr
}

type SocketConfig struct {
	Path string `mapstructure:"path"`
	Mode string `mapstructure:"mode"` // octal, quote it in YAML: "0660"
}

// FileMode parses Mode. Validate reports a malformed value.
func (s SocketConfig) FileMode() os.FileMode {
	m, err := strconv.ParseUint(s.Mode, 8, 32)
	if err != nil {
		return 0o660
	}
	return os.FileMode(m)
}

// LocationConfig places the daemon on the globe. Without coordinates the
// schedule falls back to fixed clock times.
type LocationConfig struct {
	Latitude  *float64 `mapstructure:"latitude"`
	Longitude *float64 `mapstructure:"longitude"`
	Zone      string   `mapstructure:"zone"` // IANA name or ±HH:MM, empty for the system zone
}

type AutoConfig struct {
	Day          float64       `mapstructure:"day"`
	Night        float64       `mapstructure:"night"`
	Transition   time.Duration `mapstructure:"transition"`
	Ramp         string        `mapstructure:"ramp"` // cosine, linear
	TickInterval time.Duration `mapstructure:"tick_interval"`
	Threshold    float64       `mapstructure:"threshold"`
}

type ModeConfig struct {
	ManualTimeout time.Duration `mapstructure:"manual_timeout"` // 0 keeps manual mode until changed
}

type CacheConfig struct {
	Freshness        time.Duration `mapstructure:"freshness"`
	SweepInterval    time.Duration `mapstructure:"sweep_interval"`
	VerifyDelay      time.Duration `mapstructure:"verify_delay"`
	FailureThreshold int           `mapstructure:"failure_threshold"`
}

type DiscoveryConfig struct {
	RescanInterval time.Duration `mapstructure:"rescan_interval"`
	LaneTimeout    time.Duration `mapstructure:"lane_timeout"`
	Panels         bool          `mapstructure:"panels"`
	DDC            bool          `mapstructure:"ddc"`
	BacklightDir   string        `mapstructure:"backlight_dir"`
	DevDir         string        `mapstructure:"dev_dir"`
	SysI2CDir      string        `mapstructure:"sys_i2c_dir"`
}

type DDCConfig struct {
	ProbeTries       uint          `mapstructure:"probe_tries"`
	ProbeInterval    time.Duration `mapstructure:"probe_interval"`
	ProbeMaxInterval time.Duration `mapstructure:"probe_max_interval"`
}

// VirtualDisplayConfig defines a simulated DDC/CI monitor.
type VirtualDisplayConfig struct {
	Name       string        `mapstructure:"name"`
	Max        int           `mapstructure:"max"`
	Brightness int           `mapstructure:"brightness"`
	Latency    time.Duration `mapstructure:"latency"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("socket.path", "/run/backlightd.sock")
	v.SetDefault("socket.mode", "0660")
	v.SetDefault("location.zone", "")
	v.SetDefault("auto.day", 100.0)
	v.SetDefault("auto.night", 1.0)
	v.SetDefault("auto.transition", 2*time.Hour)
	v.SetDefault("auto.ramp", "cosine")
	v.SetDefault("auto.tick_interval", time.Minute)
	v.SetDefault("auto.threshold", 2.0)
	v.SetDefault("mode.manual_timeout", time.Duration(0))
	v.SetDefault("cache.freshness", 5*time.Second)
	v.SetDefault("cache.sweep_interval", time.Second)
	v.SetDefault("cache.verify_delay", 500*time.Millisecond)
	v.SetDefault("cache.failure_threshold", 3)
	v.SetDefault("discovery.rescan_interval", time.Minute)
	v.SetDefault("discovery.lane_timeout", 2*time.Second)
	v.SetDefault("discovery.panels", true)
	v.SetDefault("discovery.ddc", true)
	v.SetDefault("discovery.backlight_dir", "/sys/class/backlight")
	v.SetDefault("discovery.dev_dir", "/dev")
	v.SetDefault("discovery.sys_i2c_dir", "/sys/bus/i2c/devices")
	v.SetDefault("ddc.probe_tries", 3)
	v.SetDefault("ddc.probe_interval", 100*time.Millisecond)
	v.SetDefault("ddc.probe_max_interval", time.Second)
}

// LoadConfig loads configuration from file, environment and flags. An
// explicit configFile must exist; a missing file in the search path means
// defaults. flags may be nil; "socket" and "log-level" are honoured when
// present and changed.
func LoadConfig(configFile string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/backlightd/")
		v.AddConfigPath("$HOME/.backlightd")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range []string{"location.latitude", "location.longitude"} {
		if err := v.BindEnv(key); err != nil {
			return nil, err
		}
	}

	if flags != nil {
		for key, name := range map[string]string{"socket.path": "socket", "log.level": "log-level"} {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if s, ok := os.LookupEnv(LocationEnv); ok && s != "" {
		lat, long, err := auto.ParseLatLong(s)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", LocationEnv, err)
		}
		config.Location.Latitude, config.Location.Longitude = &lat, &long
	}

	config.Auto.Ramp = strings.ToLower(config.Auto.Ramp)
	config.Log.Level = strings.ToLower(config.Log.Level)
	config.Log.Format = strings.ToLower(config.Log.Format)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	var errs []string

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level %q must be debug, info, warn or error", c.Log.Level))
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q must be text or json", c.Log.Format))
	}

	if c.Socket.Path == "" {
		errs = append(errs, "socket.path is required")
	}
	if _, err := strconv.ParseUint(c.Socket.Mode, 8, 32); err != nil {
		errs = append(errs, fmt.Sprintf("socket.mode %q is not an octal file mode", c.Socket.Mode))
	}

	errs = append(errs, c.validateLocation()...)
	errs = append(errs, c.validateAuto()...)

	if c.Mode.ManualTimeout < 0 {
		errs = append(errs, "mode.manual_timeout must not be negative")
	}

	if c.Cache.Freshness <= 0 {
		errs = append(errs, "cache.freshness must be positive")
	}
	if c.Cache.SweepInterval <= 0 {
		errs = append(errs, "cache.sweep_interval must be positive")
	}
	if c.Cache.VerifyDelay < 0 {
		errs = append(errs, "cache.verify_delay must not be negative")
	}
	if c.Cache.FailureThreshold < 1 {
		errs = append(errs, "cache.failure_threshold must be at least 1")
	}

	if c.Discovery.RescanInterval < 0 {
		errs = append(errs, "discovery.rescan_interval must not be negative")
	}
	if c.Discovery.LaneTimeout <= 0 {
		errs = append(errs, "discovery.lane_timeout must be positive")
	}
	if c.DDC.ProbeTries < 1 {
		errs = append(errs, "ddc.probe_tries must be at least 1")
	}

	errs = append(errs, c.validateVirtualDisplays()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateLocation() []string {
	var errs []string
	l := c.Location
	if (l.Latitude == nil) != (l.Longitude == nil) {
		errs = append(errs, "location.latitude and location.longitude must be set together")
	}
	if l.Latitude != nil && (*l.Latitude < -90 || *l.Latitude > 90) {
		errs = append(errs, "location.latitude must be between -90 and 90")
	}
	if l.Longitude != nil && (*l.Longitude < -180 || *l.Longitude > 180) {
		errs = append(errs, "location.longitude must be between -180 and 180")
	}
	if l.Zone != "" {
		if _, err := ParseZone(l.Zone); err != nil {
			errs = append(errs, fmt.Sprintf("location.zone: %v", err))
		}
	}
	return errs
}

func (c *Config) validateAuto() []string {
	var errs []string
	a := c.Auto
	if a.Day < 0 || a.Day > 100 {
		errs = append(errs, "auto.day must be between 0 and 100")
	}
	if a.Night < 0 || a.Night > 100 {
		errs = append(errs, "auto.night must be between 0 and 100")
	}
	if a.Transition < 0 || a.Transition > 12*time.Hour {
		errs = append(errs, "auto.transition must be between 0 and 12h")
	}
	if _, err := auto.RampByName(a.Ramp); err != nil {
		errs = append(errs, fmt.Sprintf("auto.ramp: %v", err))
	}
	if a.TickInterval <= 0 {
		errs = append(errs, "auto.tick_interval must be positive")
	}
	if a.Threshold < 0 {
		errs = append(errs, "auto.threshold must not be negative")
	}
	return errs
}

func (c *Config) validateVirtualDisplays() []string {
	var errs []string
	seen := make(map[string]bool)
	for i, d := range c.VirtualDisplays {
		if d.Name == "" {
			errs = append(errs, fmt.Sprintf("virtual_displays[%d].name is required", i))
		} else if seen[d.Name] {
			errs = append(errs, fmt.Sprintf("virtual_displays[%d].name %q is duplicated", i, d.Name))
		}
		seen[d.Name] = true
		if d.Max < 1 || d.Max > 0xFFFF {
			errs = append(errs, fmt.Sprintf("virtual_displays[%d].max must be between 1 and 65535", i))
		}
		if d.Brightness < 0 || d.Brightness > d.Max {
			errs = append(errs, fmt.Sprintf("virtual_displays[%d].brightness must be between 0 and max", i))
		}
	}
	return errs
}

// ParseZone accepts an IANA zone name or a fixed UTC offset written ±HH:MM.
func ParseZone(s string) (*time.Location, error) {
	if s == "" || (s[0] != '+' && s[0] != '-') {
		return time.LoadLocation(s)
	}
	hh, mm, ok := strings.Cut(s[1:], ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return nil, fmt.Errorf("zone offset %q must be written ±HH:MM", s)
	}
	h, herr := strconv.Atoi(hh)
	m, merr := strconv.Atoi(mm)
	if herr != nil || merr != nil || h > 14 || m > 59 {
		return nil, fmt.Errorf("zone offset %q is out of range", s)
	}
	secs := (h*60 + m) * 60
	if s[0] == '-' {
		secs = -secs
	}
	return time.FixedZone(s, secs), nil
}

// Schedule builds the auto-brightness schedule.
func (c *Config) Schedule() (*auto.Schedule, error) {
	zone := time.Local
	if c.Location.Zone != "" {
		var err error
		if zone, err = ParseZone(c.Location.Zone); err != nil {
			return nil, err
		}
	}
	ramp, err := auto.RampByName(c.Auto.Ramp)
	if err != nil {
		return nil, err
	}
	s := &auto.Schedule{
		Zone: zone,
		Curve: auto.Curve{
			Day:        c.Auto.Day,
			Night:      c.Auto.Night,
			Transition: c.Auto.Transition,
			Ramp:       ramp,
		},
	}
	if c.Location.Latitude != nil && c.Location.Longitude != nil {
		s.Location = &auto.Location{
			Latitude:  *c.Location.Latitude,
			Longitude: *c.Location.Longitude,
			Zone:      zone,
		}
	}
	return s, nil
}
