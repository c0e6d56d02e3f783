// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package virtual

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ffutop/backlightd/ddc"
)

// Adapter is a simulated I2C adapter with one display attached. Its Open
// method satisfies i2c.Opener.
type Adapter struct {
	Display *Display
}

func (a *Adapter) Open(bus int, addr uint16) (io.ReadWriteCloser, error) {
	switch addr {
	case ddc.AddrDDCCI:
		return &ddcPort{display: a.Display}, nil
	case ddc.AddrEDID:
		return &edidPort{block: ddc.BuildEDID(a.Display.Identity)}, nil
	default:
		return nil, fmt.Errorf("virtual: no slave at %#02x on bus %d", addr, bus)
	}
}

// ddcPort answers DDC/CI frames written to it. Reading without a pending
// reply yields the null message.
type ddcPort struct {
	display *Display

	mu      sync.Mutex
	pending []byte
}

func (p *ddcPort) Write(b []byte) (int, error) {
	latency, err := p.display.fault()
	if latency > 0 {
		time.Sleep(latency)
	}
	if err != nil {
		return 0, err
	}
	req, err := ddc.Decode(b, ddc.DisplayDest)
	if err != nil {
		// A real display silently drops corrupt frames.
		return len(b), nil
	}
	reply := p.display.Process(req)

	p.mu.Lock()
	p.pending = reply
	p.mu.Unlock()
	return len(b), nil
}

func (p *ddcPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	reply := p.pending
	p.pending = nil
	p.mu.Unlock()

	if reply == nil {
		reply = ddc.NullMessage()
	}
	clear(b)
	copy(b, reply)
	return len(b), nil
}

func (p *ddcPort) Close() error { return nil }

// edidPort serves an EDID block from the offset last written.
type edidPort struct {
	mu     sync.Mutex
	block  []byte
	offset int
}

func (p *edidPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(b) > 0 {
		p.offset = int(b[0])
	}
	return len(b), nil
}

func (p *edidPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.offset >= len(p.block) {
		return 0, io.EOF
	}
	n := copy(b, p.block[p.offset:])
	p.offset += n
	return n, nil
}

func (p *edidPort) Close() error { return nil }
