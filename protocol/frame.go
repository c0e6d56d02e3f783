// Copyright (c) 2025 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package protocol defines the control protocol spoken over the daemon's
// Unix socket, and a client for it.
package protocol

import (
	"errors"
	"fmt"
	"io"
)

const (
	HeaderSize = 6
	MaxBody    = 1<<16 - 1
	Version    = 1
)

var (
	ErrMalformed = errors.New("protocol: malformed request")
	ErrVersion   = errors.New("protocol: unsupported version")
)

// Frame is one message on the socket:
//
//	TransactionID : 2 bytes
//	Version       : 2 bytes
//	Length        : 2 bytes (of Body)
//	Body          : CBOR
type Frame struct {
	TransactionID uint16
	Version       uint16
	Body          []byte
}

func (f *Frame) Encode() (raw []byte, err error) {
	if len(f.Body) > MaxBody {
		err = fmt.Errorf("protocol: length of body '%v' must not be bigger than '%v'", len(f.Body), MaxBody)
		return
	}
	raw = make([]byte, HeaderSize+len(f.Body))
	raw[0] = byte(f.TransactionID >> 8)
	raw[1] = byte(f.TransactionID)
	raw[2] = byte(f.Version >> 8)
	raw[3] = byte(f.Version)
	raw[4] = byte(len(f.Body) >> 8)
	raw[5] = byte(len(f.Body))
	copy(raw[HeaderSize:], f.Body)
	return
}

// ReadFrame reads one frame. The body is read in full even when the version
// is unknown, so the stream stays in sync.
func ReadFrame(r io.Reader) (*Frame, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	f := &Frame{
		TransactionID: uint16(header[0])<<8 | uint16(header[1]),
		Version:       uint16(header[2])<<8 | uint16(header[3]),
	}
	length := int(header[4])<<8 | int(header[5])
	f.Body = make([]byte, length)
	if _, err := io.ReadFull(r, f.Body); err != nil {
		return nil, fmt.Errorf("protocol: short body: %w", err)
	}
	if f.Version != Version {
		return f, fmt.Errorf("%w: %d", ErrVersion, f.Version)
	}
	return f, nil
}

func (req *Frame) Verify(resp *Frame) error {
	if resp.TransactionID != req.TransactionID {
		return fmt.Errorf("protocol: response transaction id '%v' does not match request '%v'", resp.TransactionID, req.TransactionID)
	}
	return nil
}
