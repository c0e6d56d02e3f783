// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Command backlightctl talks to backlightd over its control socket.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/pflag"

	"github.com/ffutop/backlightd/internal/device"
	"github.com/ffutop/backlightd/protocol"
)

// environment holds the defaults taken from the environment.
type environment struct {
	Socket  string        `env:"BACKLIGHTCTL_SOCKET" envDefault:"/run/backlightd.sock"`
	Timeout time.Duration `env:"BACKLIGHTCTL_TIMEOUT" envDefault:"5s"`
}

type options struct {
	list       bool
	device     string
	brightness string
	auto       bool
	manual     bool
	power      string
	refresh    bool
	rescan     bool
	schedule   bool
	socket     string
	json       bool
	timeout    time.Duration
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func parseOptions(args []string, stderr io.Writer) (*options, error) {
	var e environment
	if err := env.Parse(&e); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	o := &options{}
	flags := pflag.NewFlagSet("backlightctl", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.BoolVarP(&o.list, "list", "l", false, "List devices")
	flags.StringVarP(&o.device, "device", "d", "", "Device id; without it commands apply to every device")
	flags.StringVarP(&o.brightness, "brightness", "b", "", "Set brightness: 50%, +10%, -10% or a raw value")
	flags.BoolVarP(&o.auto, "auto", "a", false, "Return to automatic brightness")
	flags.BoolVarP(&o.manual, "manual", "m", false, "Freeze the current brightness")
	flags.StringVar(&o.power, "power", "", "Switch displays on or off")
	flags.BoolVarP(&o.refresh, "refresh", "r", false, "Re-read brightness from the hardware (rescan devices without --device)")
	flags.BoolVar(&o.rescan, "rescan", false, "Rescan for devices")
	flags.BoolVar(&o.schedule, "schedule", false, "Show the auto-brightness schedule")
	flags.StringVarP(&o.socket, "unix-socket-path", "u", e.Socket, "Control socket path")
	flags.BoolVar(&o.json, "json", false, "Output JSON")
	flags.DurationVar(&o.timeout, "timeout", e.Timeout, "Timeout for the whole command")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	if flags.NArg() > 0 {
		return nil, fmt.Errorf("unexpected argument %q", flags.Arg(0))
	}

	switch {
	case o.auto && o.brightness != "":
		return nil, errors.New("you cannot use both --brightness and --auto")
	case o.auto && o.manual:
		return nil, errors.New("you cannot use both --auto and --manual")
	}
	switch o.power {
	case "", "on", "off":
	default:
		return nil, fmt.Errorf("--power must be on or off, not %q", o.power)
	}
	return o, nil
}

func run(args []string, stdout, stderr io.Writer) int {
	o, err := parseOptions(args, stderr)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "backlightctl: %v\n", err)
		return 2
	}

	var bright *brightnessArg
	if o.brightness != "" {
		b, err := parseBrightness(o.brightness)
		if err != nil {
			fmt.Fprintf(stderr, "backlightctl: %v\n", err)
			return 2
		}
		bright = &b
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	client := protocol.NewClient(o.socket)
	client.Timeout = o.timeout
	defer client.Close()

	c := &command{opts: o, client: client, stderr: stderr}
	out, err := c.execute(ctx, bright)
	if err != nil {
		fmt.Fprintf(stderr, "backlightctl: %s\n", describe(err, o.socket))
		return 1
	}

	if o.json {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			fmt.Fprintf(stderr, "backlightctl: cannot encode output: %v\n", err)
			return 1
		}
	} else {
		printText(stdout, out)
	}
	if c.failed {
		return 1
	}
	return 0
}

// output is what backlightctl prints after running the requested actions.
type output struct {
	Devices  []protocol.DeviceInfo  `json:"devices,omitempty"`
	Schedule *protocol.ScheduleInfo `json:"schedule,omitempty"`
}

type command struct {
	opts   *options
	client *protocol.Client
	stderr io.Writer
	failed bool
}

func (c *command) execute(ctx context.Context, bright *brightnessArg) (*output, error) {
	o := c.opts
	var out output

	if o.rescan || (o.refresh && o.device == "") {
		if _, err := c.client.Rescan(ctx); err != nil {
			return nil, err
		}
	}

	var targets []string
	if c.perDevice(bright) {
		var err error
		if targets, err = c.targets(ctx); err != nil {
			return nil, err
		}
	}

	for _, id := range targets {
		if o.refresh && o.device != "" {
			_, err := c.client.Refresh(ctx, id)
			c.report(id, err)
		}
		if o.power != "" {
			c.report(id, c.client.SetPower(ctx, id, o.power == "on"))
		}
		switch {
		case o.auto:
			_, err := c.client.SetMode(ctx, id, "auto")
			c.report(id, err)
		case o.manual && bright == nil:
			_, err := c.client.SetMode(ctx, id, "manual")
			c.report(id, err)
		}
		if bright != nil {
			var err error
			switch {
			case bright.Relative:
				_, err = c.client.AdjustBrightness(ctx, id, bright.Value)
			case o.manual:
				_, err = c.client.SetManual(ctx, id, bright.Value, bright.Unit)
			default:
				_, err = c.client.SetBrightness(ctx, id, bright.Value, bright.Unit)
			}
			c.report(id, err)
		}
	}

	if o.schedule {
		var err error
		if out.Schedule, err = c.client.GetSchedule(ctx); err != nil {
			return nil, err
		}
	}
	if !o.schedule || o.list || c.acted(bright) {
		devices, err := c.client.ListDevices(ctx)
		if err != nil {
			return nil, err
		}
		out.Devices = filter(devices, o.device)
	}
	return &out, nil
}

func (c *command) perDevice(bright *brightnessArg) bool {
	o := c.opts
	return bright != nil || o.auto || o.manual || o.power != "" || (o.refresh && o.device != "")
}

func (c *command) acted(bright *brightnessArg) bool {
	return c.perDevice(bright) || c.opts.refresh || c.opts.rescan
}

// targets returns the devices a per-device action applies to.
func (c *command) targets(ctx context.Context) ([]string, error) {
	o := c.opts
	if o.device != "" {
		return []string{o.device}, nil
	}
	devices, err := c.client.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(devices))
	for _, d := range devices {
		ids = append(ids, d.ID)
	}
	return ids, nil
}

// report prints a per-device failure and keeps going with the others.
func (c *command) report(id string, err error) {
	if err == nil {
		return
	}
	c.failed = true
	fmt.Fprintf(c.stderr, "backlightctl: %s: %s\n", id, describe(err, c.opts.socket))
}

func filter(devices []protocol.DeviceInfo, id string) []protocol.DeviceInfo {
	if id == "" {
		return devices
	}
	for _, d := range devices {
		if d.ID == id {
			return []protocol.DeviceInfo{d}
		}
	}
	return nil
}

// describe turns daemon error codes into messages for people.
func describe(err error, socket string) string {
	var re *protocol.ResponseError
	switch {
	case errors.Is(err, device.ErrNotFound):
		return "no such device"
	case errors.Is(err, device.ErrUnavailable):
		return "device is not responding right now"
	case errors.Is(err, device.ErrOutOfRange):
		return "value is out of range"
	case errors.As(err, &re):
		return fmt.Sprintf("daemon error (%s): %s", re.Code, re.Message)
	case errors.Is(err, os.ErrNotExist), errors.Is(err, os.ErrPermission):
		return fmt.Sprintf("%s: %v", socket, err)
	}
	return err.Error()
}

func printText(w io.Writer, out *output) {
	if out.Schedule != nil {
		s := out.Schedule
		fmt.Fprintf(w, "Schedule (%s): ", s.Source)
		switch s.Polar {
		case "polar_day", "polar_night":
			fmt.Fprintf(w, "%s", s.Polar)
		default:
			fmt.Fprintf(w, "sunrise %s, sunset %s", s.Sunrise.Format("15:04"), s.Sunset.Format("15:04"))
		}
		fmt.Fprintf(w, ", target now %.0f%%\n", s.Target)
	}
	if len(out.Devices) == 0 {
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "DEVICE\tNAME\tBRIGHTNESS\tMODE\tSTATE")
	for _, d := range out.Devices {
		brightness := "?"
		if d.Known {
			brightness = fmt.Sprintf("%.0f%% (%d/%d)", d.Percent, d.Current, d.Max)
			if d.Stale {
				brightness += " stale"
			}
		}
		mode := d.Mode
		if d.Mode == "manual" {
			mode = fmt.Sprintf("manual (%d)", d.ManualValue)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.ID, d.Name, brightness, mode, d.Liveness)
	}
	tw.Flush()
}
