// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package mode tracks whether each device follows the automatic schedule or
// a manual override.
package mode

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ffutop/backlightd/internal/device"
)

type Kind string

const (
	Auto   Kind = "auto"
	Manual Kind = "manual"
)

func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case Auto, Manual:
		return Kind(s), nil
	}
	return "", fmt.Errorf("mode: unknown mode %q", s)
}

// Mode is the state of one device. Value is the native brightness of the
// last override and is meaningful only for Manual.
type Mode struct {
	Kind  Kind
	Value int
	Since time.Time
}

type entry struct {
	mu   sync.Mutex
	gen  uint64
	mode Mode
}

// Machine holds a Mode per device id. Each device has its own lock, which
// Override and WhenAuto hold while running their callback, so a client
// override and a scheduler write on the same device never interleave.
type Machine struct {
	// Timeout reverts Manual devices to Auto after that long. Zero disables
	// expiry.
	timeout time.Duration
	now     func() time.Time
	onAuto  func(id string)

	mu      sync.RWMutex
	entries map[string]*entry
}

func NewMachine(timeout time.Duration) *Machine {
	return &Machine{
		timeout: timeout,
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

// OnAuto registers fn to be called after a device returned to Auto.
func (m *Machine) OnAuto(fn func(id string)) {
	m.onAuto = fn
}

func (m *Machine) DeviceAdded(d *device.Device) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries[d.ID] = &entry{gen: d.Generation, mode: Mode{Kind: Auto, Since: m.now()}}
}

func (m *Machine) DeviceRemoved(d *device.Device) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[d.ID]; ok && e.gen == d.Generation {
		delete(m.entries, d.ID)
	}
}

func (m *Machine) entry(id string) (*entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", device.ErrNotFound, id)
	}
	return e, nil
}

// lock acquires the device lock and applies expiry. The returned bool
// reports whether the device just expired back to Auto.
func (m *Machine) lock(id string) (*entry, bool, error) {
	e, err := m.entry(id)
	if err != nil {
		return nil, false, err
	}
	e.mu.Lock()
	expired := false
	if now := m.now(); e.mode.Kind == Manual && m.timeout > 0 && now.Sub(e.mode.Since) >= m.timeout {
		slog.Info("manual override expired", "id", id, "since", e.mode.Since)
		e.mode = Mode{Kind: Auto, Since: now}
		expired = true
	}
	return e, expired, nil
}

func (m *Machine) notify(id string, auto bool) {
	if auto && m.onAuto != nil {
		m.onAuto(id)
	}
}

func (m *Machine) Get(id string) (Mode, error) {
	e, expired, err := m.lock(id)
	if err != nil {
		return Mode{}, err
	}
	mode := e.mode
	e.mu.Unlock()

	m.notify(id, expired)
	return mode, nil
}

func (m *Machine) SetAuto(id string) (Mode, error) {
	e, _, err := m.lock(id)
	if err != nil {
		return Mode{}, err
	}
	changed := e.mode.Kind != Auto
	if changed {
		e.mode = Mode{Kind: Auto, Since: m.now()}
		slog.Info("mode changed", "id", id, "mode", Auto)
	}
	mode := e.mode
	e.mu.Unlock()

	// Nudge even without a change, so an explicit request converges now.
	m.notify(id, true)
	return mode, nil
}

func (m *Machine) SetManual(id string, v int) (Mode, error) {
	e, _, err := m.lock(id)
	if err != nil {
		return Mode{}, err
	}
	if e.mode.Kind != Manual {
		slog.Info("mode changed", "id", id, "mode", Manual, "value", v)
	}
	e.mode = Mode{Kind: Manual, Value: v, Since: m.now()}
	mode := e.mode
	e.mu.Unlock()
	return mode, nil
}

// Override runs set under the device lock and, if it succeeds, records
// Manual with the value set returned.
func (m *Machine) Override(id string, set func() (int, error)) (Mode, error) {
	e, _, err := m.lock(id)
	if err != nil {
		return Mode{}, err
	}
	defer e.mu.Unlock()

	v, err := set()
	if err != nil {
		return e.mode, err
	}
	if e.mode.Kind != Manual {
		slog.Info("mode changed", "id", id, "mode", Manual, "value", v)
	}
	e.mode = Mode{Kind: Manual, Value: v, Since: m.now()}
	return e.mode, nil
}

// WhenAuto runs fn under the device lock if the device is in Auto. It
// reports whether fn ran.
func (m *Machine) WhenAuto(id string, fn func() error) (bool, error) {
	e, _, err := m.lock(id)
	if err != nil {
		return false, err
	}
	defer e.mu.Unlock()

	if e.mode.Kind != Auto {
		return false, nil
	}
	return true, fn()
}
