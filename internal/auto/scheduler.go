// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package auto drives devices in Auto mode along a sunrise/sunset curve.
package auto

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/ffutop/backlightd/internal/cache"
	"github.com/ffutop/backlightd/internal/device"
	"github.com/ffutop/backlightd/internal/mode"
)

type Config struct {
	Interval time.Duration
	// Threshold is the minimum difference, in percentage points, between
	// target and current brightness that triggers a write.
	Threshold float64
}

type Scheduler struct {
	cfg      Config
	schedule *Schedule
	registry *device.Registry
	cache    *cache.Cache
	modes    *mode.Machine
	now      func() time.Time

	nudge chan struct{}
}

func NewScheduler(cfg Config, schedule *Schedule, registry *device.Registry, c *cache.Cache, modes *mode.Machine) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Scheduler{
		cfg:      cfg,
		schedule: schedule,
		registry: registry,
		cache:    c,
		modes:    modes,
		now:      time.Now,
		nudge:    make(chan struct{}, 1),
	}
}

func (s *Scheduler) Schedule() *Schedule { return s.schedule }

// Nudge requests a tick as soon as possible. It never blocks.
func (s *Scheduler) Nudge(id string) {
	select {
	case s.nudge <- struct{}{}:
		slog.Debug("auto tick requested", "id", id)
	default:
	}
}

// Run ticks immediately, then every interval and on every nudge, until ctx is
// done.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-s.nudge:
		}
		s.Tick(ctx)
	}
}

// Tick moves every available device in Auto mode towards the current target.
func (s *Scheduler) Tick(ctx context.Context) {
	target := s.schedule.Target(s.now())
	for _, d := range s.registry.List() {
		if live, err := s.cache.Liveness(d.ID); err != nil || live == cache.Unavailable {
			continue
		}
		_, err := s.modes.WhenAuto(d.ID, func() error {
			return s.apply(ctx, d, target)
		})
		if err != nil && !errors.Is(err, device.ErrNotFound) && !errors.Is(err, device.ErrUnavailable) {
			slog.Warn("auto brightness failed", "id", d.ID, "err", err)
		}
	}
}

func (s *Scheduler) apply(ctx context.Context, d *device.Device, target float64) error {
	r, err := s.cache.Get(ctx, d.ID)
	if err != nil {
		return err
	}
	if math.Abs(target-r.Percent) <= s.cfg.Threshold {
		return nil
	}
	v, err := s.cache.Set(d.ID, d.Range.FromPercent(target))
	if err != nil {
		return err
	}
	slog.Debug("auto brightness", "id", d.ID, "target", target, "from", r.Value, "to", v)
	return nil
}
