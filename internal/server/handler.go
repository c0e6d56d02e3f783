// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/ffutop/backlightd/internal/auto"
	"github.com/ffutop/backlightd/internal/cache"
	"github.com/ffutop/backlightd/internal/device"
	"github.com/ffutop/backlightd/internal/mode"
	"github.com/ffutop/backlightd/protocol"
)

// minAdjustPercent is the floor for relative decreases, so stepping down
// never switches a backlight off.
const minAdjustPercent = 1

// Handler executes control requests against the daemon state.
type Handler struct {
	Registry  *device.Registry
	Cache     *cache.Cache
	Modes     *mode.Machine
	Scheduler *auto.Scheduler
	Now       func() time.Time
}

func (h *Handler) Handle(ctx context.Context, req *protocol.Request) *protocol.Response {
	resp, err := h.handle(ctx, req)
	if err != nil {
		return protocol.ErrorResponse(err)
	}
	return resp
}

func (h *Handler) handle(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	switch req.Op {
	case protocol.OpListDevices:
		return &protocol.Response{Devices: h.list()}, nil
	case protocol.OpRescan:
		if err := h.Registry.RequestScan(ctx); err != nil {
			return nil, err
		}
		return &protocol.Response{Devices: h.list()}, nil
	case protocol.OpGetSchedule:
		return &protocol.Response{Schedule: h.schedule()}, nil
	}

	if req.DeviceID == "" {
		return nil, fmt.Errorf("%w: %s needs a device id", protocol.ErrMalformed, req.Op)
	}
	d, err := h.Registry.Get(req.DeviceID)
	if err != nil {
		return nil, err
	}

	switch req.Op {
	case protocol.OpGetBrightness:
		r, err := h.Cache.Get(ctx, d.ID)
		if err != nil {
			return nil, err
		}
		return brightness(d.ID, r), nil
	case protocol.OpRefresh:
		r, err := h.Cache.Refresh(ctx, d.ID)
		if err != nil {
			if !isDeviceError(err) {
				err = fmt.Errorf("%w: %v", device.ErrUnavailable, err)
			}
			return nil, err
		}
		return brightness(d.ID, r), nil
	case protocol.OpSetBrightness:
		if !req.HasValue {
			return nil, fmt.Errorf("%w: set_brightness needs a value", protocol.ErrMalformed)
		}
		return h.setBrightness(d, req.Value, req.Unit)
	case protocol.OpAdjustBrightness:
		if !req.HasValue {
			return nil, fmt.Errorf("%w: adjust_brightness needs a delta", protocol.ErrMalformed)
		}
		return h.adjustBrightness(ctx, d, req.Value)
	case protocol.OpGetMode:
		m, err := h.Modes.Get(d.ID)
		if err != nil {
			return nil, err
		}
		return modeResponse(d.ID, m), nil
	case protocol.OpSetMode:
		return h.setMode(ctx, d, req)
	case protocol.OpSetPower:
		if err := h.Cache.SetPower(ctx, d.ID, req.Power); err != nil {
			if !isDeviceError(err) {
				err = fmt.Errorf("%w: %v", device.ErrUnavailable, err)
			}
			return nil, err
		}
		return &protocol.Response{}, nil
	}
	return nil, fmt.Errorf("%w: unknown op %q", protocol.ErrMalformed, req.Op)
}

// native converts a requested value to device units.
func native(d *device.Device, value float64, unit protocol.Unit) (int, error) {
	switch unit {
	case protocol.UnitPercent:
		if value < 0 || value > 100 || math.IsNaN(value) {
			return 0, fmt.Errorf("%w: %v%%", device.ErrOutOfRange, value)
		}
		return d.Range.FromPercent(value), nil
	case protocol.UnitRaw, "":
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return 0, fmt.Errorf("%w: %v", device.ErrOutOfRange, value)
		}
		return int(math.Round(max(math.MinInt32, min(value, math.MaxInt32)))), nil
	}
	return 0, fmt.Errorf("%w: unknown unit %q", protocol.ErrMalformed, unit)
}

func (h *Handler) setBrightness(d *device.Device, value float64, unit protocol.Unit) (*protocol.Response, error) {
	v, err := native(d, value, unit)
	if err != nil {
		return nil, err
	}
	m, err := h.Modes.Override(d.ID, func() (int, error) {
		return h.Cache.Set(d.ID, v)
	})
	if err != nil {
		return nil, err
	}
	return h.accepted(d, m.Value), nil
}

func (h *Handler) adjustBrightness(ctx context.Context, d *device.Device, delta float64) (*protocol.Response, error) {
	if math.IsNaN(delta) || math.IsInf(delta, 0) {
		return nil, fmt.Errorf("%w: %v", device.ErrOutOfRange, delta)
	}
	m, err := h.Modes.Override(d.ID, func() (int, error) {
		r, err := h.Cache.Get(ctx, d.ID)
		if err != nil {
			return 0, err
		}
		target := math.Max(0, math.Min(100, r.Percent+delta))
		if delta < 0 {
			target = math.Max(target, math.Min(minAdjustPercent, r.Percent))
		}
		return h.Cache.Set(d.ID, d.Range.FromPercent(target))
	})
	if err != nil {
		return nil, err
	}
	return h.accepted(d, m.Value), nil
}

func (h *Handler) setMode(ctx context.Context, d *device.Device, req *protocol.Request) (*protocol.Response, error) {
	kind, err := mode.ParseKind(req.Mode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", protocol.ErrMalformed, err)
	}
	var m mode.Mode
	switch {
	case kind == mode.Auto:
		m, err = h.Modes.SetAuto(d.ID)
	case req.HasValue:
		var v int
		if v, err = native(d, req.Value, req.Unit); err != nil {
			return nil, err
		}
		m, err = h.Modes.Override(d.ID, func() (int, error) {
			return h.Cache.Set(d.ID, v)
		})
	default:
		// Freeze at whatever the device shows now.
		r, ok := h.Cache.Peek(d.ID)
		if !ok {
			return nil, fmt.Errorf("%w: %s: no reading yet", device.ErrUnavailable, d.ID)
		}
		m, err = h.Modes.SetManual(d.ID, r.Value)
	}
	if err != nil {
		return nil, err
	}
	return modeResponse(d.ID, m), nil
}

// accepted reports the value this request stored, which later writers may
// already have replaced in the cache.
func (h *Handler) accepted(d *device.Device, v int) *protocol.Response {
	return &protocol.Response{Brightness: &protocol.Brightness{
		ID:      d.ID,
		Value:   v,
		Percent: d.Range.Percent(v),
		ReadAt:  h.now(),
	}}
}

func (h *Handler) list() []protocol.DeviceInfo {
	devices := h.Registry.List()
	infos := make([]protocol.DeviceInfo, 0, len(devices))
	for _, d := range devices {
		info := protocol.DeviceInfo{
			ID:   d.ID,
			Kind: string(d.Kind),
			Name: d.Name,
			Min:  d.Range.Min,
			Max:  d.Range.Max,
		}
		r, ok := h.Cache.Peek(d.ID)
		info.Liveness = r.Liveness.String()
		if ok {
			info.Known = true
			info.Current, info.Percent, info.Stale, info.ReadAt = r.Value, r.Percent, r.Stale, r.ReadAt
		}
		if m, err := h.Modes.Get(d.ID); err == nil {
			info.Mode = string(m.Kind)
			if m.Kind == mode.Manual {
				info.ManualValue = m.Value
			}
		}
		infos = append(infos, info)
	}
	return infos
}

func (h *Handler) schedule() *protocol.ScheduleInfo {
	now := h.now()
	s := h.Scheduler.Schedule()
	sun := s.Sun(now)
	return &protocol.ScheduleInfo{
		Source:  s.Source(),
		Now:     now,
		Sunrise: sun.Sunrise,
		Sunset:  sun.Sunset,
		Target:  s.Curve.At(now, sun),
		Polar:   sun.Polar.String(),
	}
}

func (h *Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func brightness(id string, r cache.Reading) *protocol.Response {
	return &protocol.Response{Brightness: &protocol.Brightness{
		ID:      id,
		Value:   r.Value,
		Percent: r.Percent,
		Stale:   r.Stale,
		ReadAt:  r.ReadAt,
	}}
}

func modeResponse(id string, m mode.Mode) *protocol.Response {
	info := &protocol.ModeInfo{ID: id, Mode: string(m.Kind)}
	if m.Kind == mode.Manual {
		info.Value = m.Value
	}
	return &protocol.Response{Mode: info}
}

func isDeviceError(err error) bool {
	return errors.Is(err, device.ErrNotFound) || errors.Is(err, device.ErrUnavailable) || errors.Is(err, device.ErrOutOfRange)
}
