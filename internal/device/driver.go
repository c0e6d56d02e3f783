// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package device

import (
	"context"
	"fmt"

	"github.com/ffutop/backlightd/ddc"
	"github.com/ffutop/backlightd/transport/i2c"
	"github.com/ffutop/backlightd/transport/sysfs"
)

// Driver is the closed set of operations a device supports. Callers must run
// them inside a transaction on the device's lane.
type Driver interface {
	Read(ctx context.Context) (int, error)
	Write(ctx context.Context, v int) error
	SetPower(ctx context.Context, on bool) error

	sealed()
}

// bl_power values, see linux/fb.h.
const (
	fbBlankUnblank   = 0
	fbBlankPowerdown = 4
)

// PanelDriver drives a /sys/class/backlight/<name> directory.
type PanelDriver struct {
	Brightness sysfs.Attribute
	Power      sysfs.Attribute
}

func (d *PanelDriver) Read(ctx context.Context) (int, error) {
	return d.Brightness.ReadInt()
}

func (d *PanelDriver) Write(ctx context.Context, v int) error {
	return d.Brightness.WriteInt(v)
}

func (d *PanelDriver) SetPower(ctx context.Context, on bool) error {
	if on {
		return d.Power.WriteInt(fbBlankUnblank)
	}
	return d.Power.WriteInt(fbBlankPowerdown)
}

func (*PanelDriver) sealed() {}

// DDCDriver drives a monitor through its luminance and power mode VCP
// features.
type DDCDriver struct {
	Client *i2c.Client
}

func (d *DDCDriver) Read(ctx context.Context) (int, error) {
	v, err := d.Client.GetVCP(ctx, ddc.FeatureBrightness)
	if err != nil {
		return 0, err
	}
	return int(v.Current), nil
}

func (d *DDCDriver) Write(ctx context.Context, v int) error {
	if v < 0 || v > 0xFFFF {
		return fmt.Errorf("%w: %d", ErrOutOfRange, v)
	}
	return d.Client.SetVCP(ctx, ddc.FeatureBrightness, uint16(v))
}

func (d *DDCDriver) SetPower(ctx context.Context, on bool) error {
	if on {
		return d.Client.SetVCP(ctx, ddc.FeaturePowerMode, ddc.PowerOn)
	}
	return d.Client.SetVCP(ctx, ddc.FeaturePowerMode, ddc.PowerOff)
}

func (*DDCDriver) sealed() {}
