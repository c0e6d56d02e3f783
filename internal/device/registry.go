// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package device

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Listener is notified after the device set changed. Calls are made from the
// scanning goroutine, outside the registry lock.
type Listener interface {
	DeviceAdded(d *Device)
	DeviceRemoved(d *Device)
}

// Registry holds the set of known devices. Only the scan loop mutates it;
// everyone else reads.
type Registry struct {
	scanners []Scanner
	interval time.Duration

	mu      sync.RWMutex
	devices map[string]*Device
	owner   map[string]string // device id -> scanner name
	gen     uint64

	listeners []Listener
	requests  chan chan error
}

func NewRegistry(interval time.Duration, scanners ...Scanner) *Registry {
	return &Registry{
		scanners: scanners,
		interval: interval,
		devices:  make(map[string]*Device),
		owner:    make(map[string]string),
		requests: make(chan chan error),
	}
}

// AddListener registers l. It must be called before the first scan.
func (r *Registry) AddListener(l Listener) {
	r.listeners = append(r.listeners, l)
}

// Get returns the device with the given id.
func (r *Registry) Get(id string) (*Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.devices[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return d, nil
}

// List returns all devices sorted by id.
func (r *Registry) List() []*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		list = append(list, d)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// Run rescans every interval and whenever RequestScan asks for it, until ctx
// is done.
func (r *Registry) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			r.Scan(ctx)
		case done := <-r.requests:
			r.Scan(ctx)
			done <- nil
		}
	}
}

// RequestScan asks the running scan loop for an immediate rescan and waits
// for it to finish.
func (r *Registry) RequestScan(ctx context.Context) error {
	done := make(chan error, 1)
	select {
	case r.requests <- done:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Scan runs every scanner once and applies the differences. It must not run
// concurrently with Run.
func (r *Registry) Scan(ctx context.Context) {
	var added, removed []*Device
	for _, s := range r.scanners {
		known := r.ownedBy(s.Name())
		found, err := s.Scan(ctx, known)
		if err != nil {
			slog.Warn("device scan failed, keeping known devices", "scanner", s.Name(), "known", len(known), "err", err)
			continue
		}
		a, rm := r.apply(s.Name(), known, found)
		added = append(added, a...)
		removed = append(removed, rm...)
	}

	for _, d := range removed {
		slog.Info("device removed", "id", d.ID)
		for _, l := range r.listeners {
			l.DeviceRemoved(d)
		}
	}
	for _, d := range added {
		slog.Info("device added", "id", d.ID, "kind", d.Kind, "name", d.Name, "min", d.Range.Min, "max", d.Range.Max, "lane", d.Lane.Name())
		for _, l := range r.listeners {
			l.DeviceAdded(d)
		}
	}
}

func (r *Registry) ownedBy(scanner string) map[string]*Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	known := make(map[string]*Device)
	for id, owner := range r.owner {
		if owner == scanner {
			known[id] = r.devices[id]
		}
	}
	return known
}

func (r *Registry) apply(scanner string, known map[string]*Device, found []*Device) (added, removed []*Device) {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(found))
	for _, d := range found {
		if seen[d.ID] {
			continue
		}
		seen[d.ID] = true
		if _, ok := known[d.ID]; ok {
			continue
		}
		if owner, ok := r.owner[d.ID]; ok && owner != scanner {
			slog.Warn("duplicate device id", "id", d.ID, "scanner", scanner, "owner", owner)
			continue
		}
		r.gen++
		d.Generation = r.gen
		r.devices[d.ID] = d
		r.owner[d.ID] = scanner
		added = append(added, d)
	}
	for id, d := range known {
		if !seen[id] {
			delete(r.devices, id)
			delete(r.owner, id)
			removed = append(removed, d)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].ID < removed[j].ID })
	return added, removed
}
