// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package virtual

import (
	"fmt"
	"sync"
)

// Feature is one continuous VCP control.
type Feature struct {
	Max     uint16
	Current uint16
}

// Features holds the VCP table of a simulated display.
type Features struct {
	mu     sync.RWMutex
	values map[byte]Feature
}

func NewFeatures() *Features {
	return &Features{values: make(map[byte]Feature)}
}

func (f *Features) Define(code byte, max, current uint16) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if current > max {
		current = max
	}
	f.values[code] = Feature{Max: max, Current: current}
}

func (f *Features) Read(code byte) (Feature, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	v, ok := f.values[code]
	if !ok {
		return Feature{}, fmt.Errorf("virtual: feature %#02x not defined", code)
	}
	return v, nil
}

// Write sets the current value of a feature. Values above the maximum are
// clamped, as monitors do.
func (f *Features) Write(code byte, value uint16) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	v, ok := f.values[code]
	if !ok {
		return fmt.Errorf("virtual: feature %#02x not defined", code)
	}
	v.Current = min(value, v.Max)
	f.values[code] = v
	return nil
}
