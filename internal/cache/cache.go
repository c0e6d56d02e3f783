// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package cache keeps the last known brightness of every device so that
// callers never wait on a slow bus.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ffutop/backlightd/internal/device"
	"github.com/ffutop/backlightd/transport"
)

type Liveness int

const (
	Unavailable Liveness = iota
	Available
)

func (l Liveness) String() string {
	if l == Available {
		return "available"
	}
	return "unavailable"
}

type Config struct {
	// Freshness is how long a DDC reading is served without re-reading.
	Freshness time.Duration
	// SweepInterval is the period of the background refresher.
	SweepInterval time.Duration
	// VerifyDelay is the wait between a write and the read confirming it.
	VerifyDelay time.Duration
	// FailureThreshold consecutive failures make a device Unavailable.
	FailureThreshold int
}

func DefaultConfig() Config {
	return Config{
		Freshness:        5 * time.Second,
		SweepInterval:    time.Second,
		VerifyDelay:      500 * time.Millisecond,
		FailureThreshold: 3,
	}
}

// Reading is a snapshot of a cache entry.
type Reading struct {
	Value    int
	Percent  float64
	Stale    bool
	ReadAt   time.Time
	Liveness Liveness
}

type entry struct {
	dev    *device.Device
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	value     int
	known     bool
	readAt    time.Time // last time value was confirmed or set
	checkedAt time.Time // last read attempt, successful or not
	inflight  bool
	failures  int
	liveness  Liveness
	seq       uint64 // bumped by every Set
	pending   int    // writes accepted but not yet finished

	// writeMu serializes hardware writes to this device.
	writeMu sync.Mutex
}

// Cache is a device.Listener; it must be registered before the first scan.
type Cache struct {
	cfg Config
	now func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	// tasksMu orders wg.Add against shutdown; closed is set once Run stops.
	tasksMu sync.Mutex
	closed  bool

	mu      sync.RWMutex
	entries map[string]*entry
}

func New(cfg Config) *Cache {
	def := DefaultConfig()
	if cfg.Freshness <= 0 {
		cfg.Freshness = def.Freshness
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = def.SweepInterval
	}
	if cfg.VerifyDelay < 0 {
		cfg.VerifyDelay = def.VerifyDelay
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		cfg:     cfg,
		now:     time.Now,
		ctx:     ctx,
		cancel:  cancel,
		entries: make(map[string]*entry),
	}
}

func (c *Cache) DeviceAdded(d *device.Device) {
	ctx, cancel := context.WithCancel(c.ctx)
	e := &entry{dev: d, ctx: ctx, cancel: cancel, liveness: Unavailable}

	c.mu.Lock()
	if old, ok := c.entries[d.ID]; ok {
		old.cancel()
	}
	c.entries[d.ID] = e
	c.mu.Unlock()

	c.refreshAsync(e, false)
}

func (c *Cache) DeviceRemoved(d *device.Device) {
	c.mu.Lock()
	e, ok := c.entries[d.ID]
	if ok && e.dev.Generation == d.Generation {
		delete(c.entries, d.ID)
	}
	c.mu.Unlock()

	if ok {
		e.cancel()
	}
}

func (c *Cache) entry(id string) (*entry, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", device.ErrNotFound, id)
	}
	return e, nil
}

// Run sweeps expired entries until ctx is done, then waits for outstanding
// asynchronous transactions.
func (c *Cache) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return nil
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Cache) shutdown() {
	c.tasksMu.Lock()
	c.closed = true
	c.tasksMu.Unlock()
	c.cancel()
	c.wg.Wait()
}

// track registers one background task. It fails once shutdown has begun.
func (c *Cache) track() bool {
	c.tasksMu.Lock()
	defer c.tasksMu.Unlock()
	if c.closed {
		return false
	}
	c.wg.Add(1)
	return true
}

// Wait blocks until all asynchronous writes, reads and verifications that
// were started so far have finished.
func (c *Cache) Wait() {
	c.wg.Wait()
}

func (c *Cache) sweep() {
	c.mu.RLock()
	entries := make([]*entry, 0, len(c.entries))
	for _, e := range c.entries {
		entries = append(entries, e)
	}
	c.mu.RUnlock()

	now := c.now()
	for _, e := range entries {
		e.mu.Lock()
		expired := e.pending == 0 && !e.inflight && now.Sub(e.checkedAt) >= c.cfg.Freshness
		// Panels are read on demand; only retry them while unavailable.
		if e.dev.Kind == device.KindPanel && e.liveness == Available {
			expired = false
		}
		e.mu.Unlock()
		if expired {
			c.refreshAsync(e, true)
		}
	}
}

// Get returns the cached brightness of a device. Panels are read on the
// spot. DDC values older than the freshness window are returned flagged as
// stale while a refresh runs in the background.
func (c *Cache) Get(ctx context.Context, id string) (Reading, error) {
	e, err := c.entry(id)
	if err != nil {
		return Reading{}, err
	}

	if e.dev.Kind == device.KindPanel {
		e.mu.Lock()
		pending := e.pending > 0
		e.mu.Unlock()
		var readErr error
		if !pending {
			_, readErr = c.read(ctx, e, false)
			if errors.Is(readErr, device.ErrNotFound) {
				return Reading{}, readErr
			}
		}
		r, err := e.snapshot(c.now(), 0)
		if readErr != nil {
			r.Stale = true
		}
		return r, err
	}

	r, err := e.snapshot(c.now(), c.cfg.Freshness)
	if r.Stale || err != nil {
		c.refreshAsync(e, false)
	}
	return r, err
}

// Refresh reads the device now and returns the result.
func (c *Cache) Refresh(ctx context.Context, id string) (Reading, error) {
	e, err := c.entry(id)
	if err != nil {
		return Reading{}, err
	}
	if _, err := c.read(ctx, e, false); err != nil {
		return Reading{}, err
	}
	return e.snapshot(c.now(), 0)
}

// Peek returns the cached state without touching hardware.
func (c *Cache) Peek(id string) (Reading, bool) {
	e, err := c.entry(id)
	if err != nil {
		return Reading{}, false
	}
	r, err := e.snapshot(c.now(), c.cfg.Freshness)
	return r, err == nil
}

// Liveness reports whether the device currently accepts writes.
func (c *Cache) Liveness(id string) (Liveness, error) {
	e, err := c.entry(id)
	if err != nil {
		return Unavailable, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.liveness, nil
}

// Set clamps v to the device range, makes it visible immediately and writes
// it to the hardware in the background. It returns the accepted value.
func (c *Cache) Set(id string, v int) (int, error) {
	e, err := c.entry(id)
	if err != nil {
		return 0, err
	}

	if !c.track() {
		return 0, fmt.Errorf("%w: %s: shutting down", device.ErrUnavailable, id)
	}
	e.mu.Lock()
	if e.liveness == Unavailable {
		e.mu.Unlock()
		c.wg.Done()
		return 0, fmt.Errorf("%w: %s", device.ErrUnavailable, id)
	}
	v = e.dev.Range.Clamp(v)
	e.seq++
	seq := e.seq
	e.pending++
	now := c.now()
	e.value, e.known, e.readAt, e.checkedAt = v, true, now, now
	e.mu.Unlock()

	go c.write(e, seq, v)
	return v, nil
}

// SetPower switches the device on or off and waits for the result.
func (c *Cache) SetPower(ctx context.Context, id string, on bool) error {
	e, err := c.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	live := e.liveness
	e.mu.Unlock()
	if live == Unavailable {
		return fmt.Errorf("%w: %s", device.ErrUnavailable, id)
	}

	err = c.do(ctx, e, false, func(ctx context.Context) error {
		return e.dev.Driver.SetPower(ctx, on)
	})
	c.record(e, err)
	return err
}

func (c *Cache) write(e *entry, seq uint64, v int) {
	defer c.wg.Done()

	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	e.mu.Lock()
	superseded := e.seq != seq
	e.mu.Unlock()

	if !superseded {
		err := c.do(e.ctx, e, false, func(ctx context.Context) error {
			return e.dev.Driver.Write(ctx, v)
		})
		if err != nil {
			slog.Debug("brightness write failed", "id", e.dev.ID, "value", v, "err", err)
		}
		c.record(e, err)
	}

	e.mu.Lock()
	e.pending--
	last := e.pending == 0
	e.mu.Unlock()

	if last && e.ctx.Err() == nil {
		c.verify(e)
	}
}

// verify schedules the read that confirms the last write.
func (c *Cache) verify(e *entry) {
	if !c.track() {
		return
	}
	time.AfterFunc(c.cfg.VerifyDelay, func() {
		defer c.wg.Done()
		c.read(e.ctx, e, false)
	})
}

func (c *Cache) refreshAsync(e *entry, try bool) {
	if !c.track() {
		return
	}
	e.mu.Lock()
	if e.inflight {
		e.mu.Unlock()
		c.wg.Done()
		return
	}
	e.inflight = true
	e.mu.Unlock()

	go func() {
		defer c.wg.Done()
		c.read(e.ctx, e, try)
		e.mu.Lock()
		e.inflight = false
		e.mu.Unlock()
	}()
}

// read performs one hardware read and stores the result unless a write was
// accepted while it ran.
func (c *Cache) read(ctx context.Context, e *entry, try bool) (int, error) {
	e.mu.Lock()
	seq := e.seq
	e.mu.Unlock()

	var raw int
	err := c.do(ctx, e, try, func(ctx context.Context) (err error) {
		raw, err = e.dev.Driver.Read(ctx)
		return
	})
	if errors.Is(err, transport.ErrBusy) {
		return 0, err
	}
	c.record(e, err)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.checkedAt = c.now()
	if err != nil {
		return 0, err
	}

	v := e.dev.Range.Clamp(raw)
	if v != raw {
		slog.Debug("hardware brightness outside range", "id", e.dev.ID, "raw", raw, "min", e.dev.Range.Min, "max", e.dev.Range.Max)
	}
	if e.seq != seq || e.pending > 0 {
		// A write was accepted meanwhile; its value wins.
		return e.value, nil
	}
	e.value, e.known, e.readAt = v, true, e.checkedAt
	return v, nil
}

// do runs tx on the device lane. Removing the device aborts it with
// device.ErrNotFound.
func (c *Cache) do(ctx context.Context, e *entry, try bool, tx transport.Transaction) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(e.ctx, cancel)
	defer stop()

	var err error
	if try {
		err = e.dev.Lane.TryDo(ctx, tx)
	} else {
		err = e.dev.Lane.Do(ctx, tx)
	}
	if err != nil && e.ctx.Err() != nil {
		return fmt.Errorf("%w: %s", device.ErrNotFound, e.dev.ID)
	}
	return err
}

// record updates the failure counter and liveness after a transaction.
func (c *Cache) record(e *entry, err error) {
	if err != nil && (errors.Is(err, device.ErrNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, transport.ErrBusy)) {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err == nil {
		e.failures = 0
		if e.liveness == Unavailable {
			e.liveness = Available
			slog.Info("device available", "id", e.dev.ID)
		}
		return
	}
	e.failures++
	if e.failures >= c.cfg.FailureThreshold && e.liveness == Available {
		e.liveness = Unavailable
		slog.Warn("device unavailable", "id", e.dev.ID, "failures", e.failures, "err", err)
	}
}

// snapshot returns the entry state. A zero freshness means the value is
// never considered stale.
func (e *entry) snapshot(now time.Time, freshness time.Duration) (Reading, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.known {
		return Reading{Liveness: e.liveness}, fmt.Errorf("%w: %s: no reading yet", device.ErrUnavailable, e.dev.ID)
	}
	stale := freshness > 0 && e.pending == 0 && now.Sub(e.readAt) > freshness
	return Reading{
		Value:    e.value,
		Percent:  e.dev.Range.Percent(e.value),
		Stale:    stale,
		ReadAt:   e.readAt,
		Liveness: e.liveness,
	}, nil
}
