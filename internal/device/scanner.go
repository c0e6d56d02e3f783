// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package device

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/ffutop/backlightd/ddc"
	"github.com/ffutop/backlightd/internal/virtual"
	"github.com/ffutop/backlightd/transport"
	"github.com/ffutop/backlightd/transport/i2c"
	"github.com/ffutop/backlightd/transport/sysfs"
)

// Scanner enumerates one family of devices. known holds the devices this
// scanner reported last time, so expensive probes can be skipped for them.
// An error means the scan as a whole failed and says nothing about which
// devices are present.
type Scanner interface {
	Name() string
	Scan(ctx context.Context, known map[string]*Device) ([]*Device, error)
}

const (
	DefaultBacklightDir = "/sys/class/backlight"
	DefaultDevDir       = "/dev"
	DefaultI2CSysDir    = "/sys/bus/i2c/devices"
	SysfsLane           = "sysfs"
)

// PanelScanner finds internal panels under /sys/class/backlight.
type PanelScanner struct {
	Dir   string
	Lanes *transport.LaneSet
}

func (s *PanelScanner) Name() string { return "panel" }

func (s *PanelScanner) Scan(ctx context.Context, known map[string]*Device) ([]*Device, error) {
	entries, err := os.ReadDir(s.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.Dir, err)
	}

	lane := s.Lanes.Get(SysfsLane)
	var found []*Device
	for _, e := range entries {
		name := e.Name()
		dir := filepath.Join(s.Dir, name)
		var max int
		err := lane.Do(ctx, func(ctx context.Context) (err error) {
			max, err = sysfs.Attribute{Path: filepath.Join(dir, "max_brightness")}.ReadInt()
			return
		})
		if err != nil {
			slog.Warn("skipping backlight", "name", name, "err", err)
			continue
		}
		if max <= 0 {
			slog.Warn("skipping backlight with empty range", "name", name, "max_brightness", max)
			continue
		}
		found = append(found, &Device{
			ID:    "panel:" + name,
			Kind:  KindPanel,
			Name:  name,
			Range: Range{Min: 0, Max: max},
			Lane:  lane,
			Driver: &PanelDriver{
				Brightness: sysfs.Attribute{Path: filepath.Join(dir, "brightness")},
				Power:      sysfs.Attribute{Path: filepath.Join(dir, "bl_power")},
			},
		})
	}
	return found, nil
}

// Probe retries the first VCP read, because monitors commonly NAK it right
// after hot-plug or wake-up.
type Probe struct {
	Tries           uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func (p Probe) brightness(ctx context.Context, lane *transport.Lane, client *i2c.Client) (ddc.VCPValue, error) {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	tries := p.Tries
	if tries == 0 {
		tries = 1
	}
	return backoff.Retry(ctx, func() (ddc.VCPValue, error) {
		var v ddc.VCPValue
		err := lane.Do(ctx, func(ctx context.Context) (err error) {
			v, err = client.GetVCP(ctx, ddc.FeatureBrightness)
			return
		})
		var rc *ddc.ResultCodeError
		if errors.As(err, &rc) || errors.Is(err, transport.ErrIODenied) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(tries))
}

// DDCScanner finds DDC/CI monitors on /dev/i2c-* adapters.
type DDCScanner struct {
	DevDir string
	SysDir string
	Lanes  *transport.LaneSet
	Open   i2c.Opener
	Probe  Probe

	clients map[int]*adapter
}

type adapter struct {
	ddc  *i2c.Client
	edid *i2c.Port
}

func (s *DDCScanner) Name() string { return "ddc" }

// owner returns the known device driven through this adapter.
func (a *adapter) owner(known map[string]*Device) *Device {
	for _, d := range known {
		if dd, ok := d.Driver.(*DDCDriver); ok && dd.Client == a.ddc {
			return d
		}
	}
	return nil
}

func (s *DDCScanner) Scan(ctx context.Context, known map[string]*Device) ([]*Device, error) {
	paths, err := filepath.Glob(filepath.Join(s.DevDir, "i2c-*"))
	if err != nil {
		return nil, err
	}
	buses := make([]int, 0, len(paths))
	for _, p := range paths {
		n, err := strconv.Atoi(strings.TrimPrefix(filepath.Base(p), "i2c-"))
		if err != nil {
			continue
		}
		buses = append(buses, n)
	}
	sort.Ints(buses)

	var found []*Device
	for _, bus := range buses {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if s.isSMBus(bus) {
			continue
		}
		if d := s.scanBus(ctx, bus, known); d != nil {
			found = append(found, d)
		}
	}
	return found, nil
}

// isSMBus reports whether the adapter is a chipset SMBus, which never carries
// a display and may hold SPD EEPROMs at 0x50.
func (s *DDCScanner) isSMBus(bus int) bool {
	if s.SysDir == "" {
		return false
	}
	name, err := os.ReadFile(filepath.Join(s.SysDir, fmt.Sprintf("i2c-%d", bus), "name"))
	if err != nil {
		return false
	}
	return strings.HasPrefix(strings.TrimSpace(string(name)), "SMBus")
}

func (s *DDCScanner) adapter(bus int) *adapter {
	if s.clients == nil {
		s.clients = make(map[int]*adapter)
	}
	a, ok := s.clients[bus]
	if !ok {
		dp := i2c.NewPort(bus, ddc.AddrDDCCI)
		if s.Open != nil {
			dp.Open = s.Open
		}
		a = &adapter{ddc: i2c.NewClientWithPort(dp), edid: dp.Sibling(ddc.AddrEDID)}
		s.clients[bus] = a
	}
	return a
}

func (s *DDCScanner) scanBus(ctx context.Context, bus int, known map[string]*Device) *Device {
	lane := s.Lanes.Get(fmt.Sprintf("i2c-%d", bus))
	a := s.adapter(bus)

	id := fmt.Sprintf("ddc:i2c-%d", bus)
	name := id
	var block []byte
	err := lane.Do(ctx, func(ctx context.Context) (err error) {
		block, err = i2c.ReadEDID(ctx, a.edid)
		return
	})
	identified := false
	if err == nil {
		if ident, perr := ddc.ParseIdentity(block); perr == nil {
			id = "ddc:" + ident.String()
			name = fmt.Sprintf("%s %04x (i2c-%d)", ident.Manufacturer, ident.Product, bus)
			identified = true
		}
	}
	if d, ok := known[id]; ok {
		return d
	}
	if !identified {
		// A failed EDID read on an adapter that already carries a display
		// keeps that display rather than renaming it.
		if d := a.owner(known); d != nil {
			slog.Debug("EDID unreadable, keeping known display", "id", d.ID, "bus", bus, "err", err)
			return d
		}
	}

	v, err := s.Probe.brightness(ctx, lane, a.ddc)
	if err != nil {
		slog.Debug("no DDC/CI display", "bus", bus, "err", err)
		return nil
	}
	slog.Info("found DDC/CI display", "id", id, "bus", bus, "max", v.Max)
	return &Device{
		ID:     id,
		Kind:   KindDDC,
		Name:   name,
		Range:  Range{Min: 0, Max: int(v.Max)},
		Lane:   lane,
		Driver: &DDCDriver{Client: a.ddc},
	}
}

// VirtualScanner exposes simulated displays as DDC devices, one virtual
// adapter each.
type VirtualScanner struct {
	Displays []*virtual.Display
	Lanes    *transport.LaneSet
	Probe    Probe

	clients map[string]*i2c.Client
}

func (s *VirtualScanner) Name() string { return "virtual" }

func (s *VirtualScanner) Scan(ctx context.Context, known map[string]*Device) ([]*Device, error) {
	if s.clients == nil {
		s.clients = make(map[string]*i2c.Client)
	}
	var found []*Device
	for i, disp := range s.Displays {
		id := "virtual:" + disp.Name
		if d, ok := known[id]; ok {
			found = append(found, d)
			continue
		}
		lane := s.Lanes.Get(fmt.Sprintf("virtual-%d", i))
		client, ok := s.clients[id]
		if !ok {
			port := i2c.NewPort(i, ddc.AddrDDCCI)
			port.Open = (&virtual.Adapter{Display: disp}).Open
			client = i2c.NewClientWithPort(port)
			s.clients[id] = client
		}
		v, err := s.Probe.brightness(ctx, lane, client)
		if err != nil {
			slog.Warn("virtual display not answering", "id", id, "err", err)
			continue
		}
		found = append(found, &Device{
			ID:     id,
			Kind:   KindDDC,
			Name:   disp.Name,
			Range:  Range{Min: 0, Max: int(v.Max)},
			Lane:   lane,
			Driver: &DDCDriver{Client: client},
		})
	}
	return found, nil
}
