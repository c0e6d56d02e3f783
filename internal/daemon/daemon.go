// Copyright (c) 2025-2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package daemon

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/ffutop/backlightd/internal/auto"
	"github.com/ffutop/backlightd/internal/cache"
	"github.com/ffutop/backlightd/internal/config"
	"github.com/ffutop/backlightd/internal/device"
	"github.com/ffutop/backlightd/internal/mode"
	"github.com/ffutop/backlightd/internal/server"
	"github.com/ffutop/backlightd/internal/virtual"
	"github.com/ffutop/backlightd/transport"
)

// Daemon owns every long-running part of backlightd.
type Daemon struct {
	Lanes     *transport.LaneSet
	Registry  *device.Registry
	Cache     *cache.Cache
	Modes     *mode.Machine
	Scheduler *auto.Scheduler
	Server    *server.Server
	Displays  []*virtual.Display
}

// New wires the daemon from cfg. Nothing touches hardware until Run.
func New(cfg *config.Config) (*Daemon, error) {
	schedule, err := cfg.Schedule()
	if err != nil {
		return nil, err
	}

	d := &Daemon{Lanes: transport.NewLaneSet(cfg.Discovery.LaneTimeout)}
	probe := device.Probe{
		Tries:           cfg.DDC.ProbeTries,
		InitialInterval: cfg.DDC.ProbeInterval,
		MaxInterval:     cfg.DDC.ProbeMaxInterval,
	}

	var scanners []device.Scanner
	if cfg.Discovery.Panels {
		scanners = append(scanners, &device.PanelScanner{Dir: cfg.Discovery.BacklightDir, Lanes: d.Lanes})
	}
	if cfg.Discovery.DDC {
		scanners = append(scanners, &device.DDCScanner{
			DevDir: cfg.Discovery.DevDir,
			SysDir: cfg.Discovery.SysI2CDir,
			Lanes:  d.Lanes,
			Probe:  probe,
		})
	}
	if len(cfg.VirtualDisplays) > 0 {
		for _, vc := range cfg.VirtualDisplays {
			vd := virtual.NewDisplay(vc.Name, uint16(vc.Max), uint16(vc.Brightness))
			vd.SetLatency(vc.Latency)
			d.Displays = append(d.Displays, vd)
		}
		scanners = append(scanners, &device.VirtualScanner{Displays: d.Displays, Lanes: d.Lanes, Probe: probe})
	}

	d.Registry = device.NewRegistry(cfg.Discovery.RescanInterval, scanners...)
	d.Cache = cache.New(cache.Config{
		Freshness:        cfg.Cache.Freshness,
		SweepInterval:    cfg.Cache.SweepInterval,
		VerifyDelay:      cfg.Cache.VerifyDelay,
		FailureThreshold: cfg.Cache.FailureThreshold,
	})
	d.Modes = mode.NewMachine(cfg.Mode.ManualTimeout)
	d.Scheduler = auto.NewScheduler(auto.Config{
		Interval:  cfg.Auto.TickInterval,
		Threshold: cfg.Auto.Threshold,
	}, schedule, d.Registry, d.Cache, d.Modes)

	d.Registry.AddListener(d.Cache)
	d.Registry.AddListener(d.Modes)
	d.Modes.OnAuto(d.Scheduler.Nudge)

	handler := &server.Handler{
		Registry:  d.Registry,
		Cache:     d.Cache,
		Modes:     d.Modes,
		Scheduler: d.Scheduler,
	}
	d.Server = server.New(cfg.Socket.Path, cfg.Socket.FileMode(), handler)

	slog.Info("auto brightness schedule",
		"source", schedule.Source(),
		"day", cfg.Auto.Day,
		"night", cfg.Auto.Night,
		"transition", cfg.Auto.Transition,
		"ramp", cfg.Auto.Ramp,
		"manual_timeout", cfg.Mode.ManualTimeout)
	return d, nil
}

// Listen binds the control socket. Its failure is fatal for the daemon.
func (d *Daemon) Listen() error {
	if err := d.Server.Listen(); err != nil {
		return fmt.Errorf("control socket: %w", err)
	}
	return nil
}

// Run discovers devices once, then runs every loop until ctx is done. Listen
// must have succeeded.
func (d *Daemon) Run(ctx context.Context) error {
	d.Registry.Scan(ctx)
	slog.Info("initial scan finished", "devices", len(d.Registry.List()))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.Registry.Run(ctx) })
	g.Go(func() error { return d.Cache.Run(ctx) })
	g.Go(func() error { return d.Scheduler.Run(ctx) })
	g.Go(func() error { return d.Server.Serve(ctx) })

	err := g.Wait()
	d.Cache.Wait()
	return err
}
