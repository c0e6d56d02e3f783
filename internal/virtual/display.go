// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package virtual simulates DDC/CI displays for development and tests.
package virtual

import (
	"errors"
	"sync"
	"time"

	"github.com/ffutop/backlightd/ddc"
)

// ErrRemoteIO mimics the EREMOTEIO a real adapter reports when the display
// NAKs a transfer.
var ErrRemoteIO = errors.New("virtual: remote i/o error")

// Display implements the DDC/CI display side on top of a Features table.
type Display struct {
	Name     string
	Identity ddc.Identity
	Features *Features

	mu       sync.Mutex
	latency  time.Duration
	failNext int
}

// NewDisplay creates a display supporting luminance (0..max) and power mode.
func NewDisplay(name string, max, brightness uint16) *Display {
	f := NewFeatures()
	f.Define(ddc.FeatureBrightness, max, brightness)
	f.Define(ddc.FeaturePowerMode, ddc.PowerOff, ddc.PowerOn)
	return &Display{
		Name:     name,
		Identity: ddc.Identity{Manufacturer: "VRT", Product: nameHash(name)},
		Features: f,
	}
}

// SetLatency delays every reply by d.
func (d *Display) SetLatency(latency time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.latency = latency
}

// FailNext makes the next n transfers fail with ErrRemoteIO.
func (d *Display) FailNext(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failNext = n
}

// Brightness returns the current luminance.
func (d *Display) Brightness() uint16 {
	v, _ := d.Features.Read(ddc.FeatureBrightness)
	return v.Current
}

// Power returns the current power mode value.
func (d *Display) Power() uint16 {
	v, _ := d.Features.Read(ddc.FeaturePowerMode)
	return v.Current
}

// fault consumes one injected failure and reports the configured latency.
func (d *Display) fault() (time.Duration, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failNext > 0 {
		d.failNext--
		return d.latency, ErrRemoteIO
	}
	return d.latency, nil
}

// Process executes a host request and returns the reply frame, or nil when
// the request has no reply.
func (d *Display) Process(req *ddc.Message) []byte {
	if len(req.Payload) == 0 {
		return nil
	}
	switch req.Payload[0] {
	case ddc.OpGetVCP:
		return d.handleGetVCP(req)
	case ddc.OpSetVCP:
		d.handleSetVCP(req)
		return nil
	default:
		return nil
	}
}

func (d *Display) handleGetVCP(req *ddc.Message) []byte {
	if len(req.Payload) != 2 {
		return nil
	}
	code := req.Payload[1]
	v, err := d.Features.Read(code)
	if err != nil {
		return ddc.EncodeGetVCPReply(ddc.ResultUnsupported, code, 0, 0, 0)
	}
	return ddc.EncodeGetVCPReply(ddc.ResultOK, code, 0, v.Max, v.Current)
}

func (d *Display) handleSetVCP(req *ddc.Message) {
	if len(req.Payload) != 4 {
		return
	}
	value := uint16(req.Payload[2])<<8 | uint16(req.Payload[3])
	d.Features.Write(req.Payload[1], value)
}

func nameHash(name string) uint16 {
	var h uint16 = 0x811C
	for i := 0; i < len(name); i++ {
		h = (h ^ uint16(name[i])) * 0x0193
	}
	return h
}
