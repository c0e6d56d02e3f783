// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package device discovers brightness-controllable outputs and keeps the set
// of known devices current.
package device

import (
	"math"

	"github.com/ffutop/backlightd/transport"
)

type Kind string

const (
	KindPanel Kind = "panel"
	KindDDC   Kind = "ddc"
)

// Range is the inclusive native brightness range of a device.
type Range struct {
	Min int
	Max int
}

func (r Range) Clamp(v int) int {
	return max(r.Min, min(v, r.Max))
}

// Percent converts a native value to a percentage of the range.
func (r Range) Percent(v int) float64 {
	if r.Max <= r.Min {
		return 100
	}
	return 100 * float64(r.Clamp(v)-r.Min) / float64(r.Max-r.Min)
}

// FromPercent converts a percentage to the nearest native value.
func (r Range) FromPercent(p float64) int {
	p = math.Max(0, math.Min(100, p))
	return r.Min + int(math.Round(p*float64(r.Max-r.Min)/100))
}

// Device is an immutable description of one output. Mutable state lives in
// the brightness cache and the mode machine, keyed by ID.
type Device struct {
	ID     string
	Kind   Kind
	Name   string
	Range  Range
	Lane   *transport.Lane
	Driver Driver

	// Generation distinguishes successive incarnations of the same ID.
	Generation uint64
}
