// Copyright (c) 2014 Quoc-Viet Nguyen. All rights reserved.
// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package i2c talks DDC/CI to displays through /dev/i2c-* character devices.
package i2c

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ffutop/backlightd/transport"
)

const (
	// ioctl request binding an i2c-dev file descriptor to a slave address.
	i2cSlave = 0x0703

	idleTimeout = 60 * time.Second
)

// Opener opens adapter bus bound to slave address addr.
type Opener func(bus int, addr uint16) (io.ReadWriteCloser, error)

// DevicePath returns the character device of an adapter.
func DevicePath(bus int) string {
	return fmt.Sprintf("/dev/i2c-%d", bus)
}

// OpenDevice opens /dev/i2c-<bus> and binds it to addr.
func OpenDevice(bus int, addr uint16) (io.ReadWriteCloser, error) {
	f, err := os.OpenFile(DevicePath(bus), os.O_RDWR, 0)
	if err != nil {
		return nil, wrapOSError(err)
	}
	if err := unix.IoctlSetInt(int(f.Fd()), i2cSlave, int(addr)); err != nil {
		f.Close()
		return nil, wrapOSError(fmt.Errorf("i2c: bind %s to %#02x: %w", f.Name(), addr, err))
	}
	return f, nil
}

// Port is one slave address on one adapter. The file is opened lazily and
// closed again after IdleTimeout without traffic.
//
// Ports on the same adapter must share one AdapterLock: the wire carries a
// single transaction at a time whichever slave address it targets.
type Port struct {
	Bus         int
	Addr        uint16
	IdleTimeout time.Duration
	Open        Opener
	AdapterLock *sync.Mutex

	mu sync.Mutex
	// port is the bound i2c-dev file, nil while closed.
	port         io.ReadWriteCloser
	lastActivity time.Time
	closeTimer   *time.Timer
}

func NewPort(bus int, addr uint16) *Port {
	return &Port{
		Bus:         bus,
		Addr:        addr,
		IdleTimeout: idleTimeout,
		Open:        OpenDevice,
		AdapterLock: &sync.Mutex{},
	}
}

// Sibling returns a port for another slave address on the same adapter,
// sharing its opener and adapter lock.
func (p *Port) Sibling(addr uint16) *Port {
	if p.AdapterLock == nil {
		p.AdapterLock = &sync.Mutex{}
	}
	return &Port{
		Bus:         p.Bus,
		Addr:        addr,
		IdleTimeout: p.IdleTimeout,
		Open:        p.Open,
		AdapterLock: p.AdapterLock,
	}
}

func (p *Port) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.connect(ctx)
}

// connect opens the device if it is not open. Caller must hold the mutex.
func (p *Port) connect(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	if p.port == nil {
		open := p.Open
		if open == nil {
			open = OpenDevice
		}
		port, err := open(p.Bus, p.Addr)
		if err != nil {
			return fmt.Errorf("could not open %s: %w", DevicePath(p.Bus), err)
		}
		p.port = port
	}
	return nil
}

func (p *Port) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closeTimer != nil {
		p.closeTimer.Stop()
	}
	return p.close()
}

// close closes the device if it is open. Caller must hold the mutex.
func (p *Port) close() (err error) {
	if p.port != nil {
		err = p.port.Close()
		p.port = nil
	}
	return
}

// Transmit writes req, waits delay, then reads n bytes (none if n is 0).
func (p *Port) Transmit(ctx context.Context, req []byte, delay time.Duration, n int) ([]byte, error) {
	if p.AdapterLock != nil {
		p.AdapterLock.Lock()
		defer p.AdapterLock.Unlock()
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.connect(ctx); err != nil {
		return nil, err
	}
	p.lastActivity = time.Now()
	p.startCloseTimer()

	slog.Debug("send to i2c slave", "bus", p.Bus, "addr", p.Addr, "request", hex.EncodeToString(req))
	if _, err := p.port.Write(req); err != nil {
		p.close()
		return nil, wrapOSError(err)
	}

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if n == 0 {
		return nil, nil
	}

	resp := make([]byte, n)
	if _, err := io.ReadFull(p.port, resp); err != nil {
		p.close()
		return nil, wrapOSError(err)
	}
	slog.Debug("recv from i2c slave", "bus", p.Bus, "addr", p.Addr, "response", hex.EncodeToString(resp))
	return resp, nil
}

func (p *Port) startCloseTimer() {
	if p.IdleTimeout <= 0 {
		return
	}
	if p.closeTimer == nil {
		p.closeTimer = time.AfterFunc(p.IdleTimeout, p.closeIdle)
	} else {
		p.closeTimer.Reset(p.IdleTimeout)
	}
}

// closeIdle closes the device if the last activity is older than IdleTimeout.
func (p *Port) closeIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.IdleTimeout <= 0 {
		return
	}

	if idle := time.Since(p.lastActivity); idle >= p.IdleTimeout {
		slog.Debug("i2c: closing device due to idle timeout", "bus", p.Bus, "addr", p.Addr, "idle", idle)
		p.close()
	}
}

func wrapOSError(err error) error {
	if errors.Is(err, fs.ErrPermission) || errors.Is(err, unix.EACCES) || errors.Is(err, unix.EPERM) {
		return fmt.Errorf("%w: %v", transport.ErrIODenied, err)
	}
	return err
}
