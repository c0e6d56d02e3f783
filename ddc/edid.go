// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package ddc

import (
	"bytes"
	"errors"
	"fmt"
)

const EDIDBlockSize = 128

var edidHeader = []byte{0x00, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0x00}

var ErrEDID = errors.New("ddc: invalid EDID block")

// Identity is the part of an EDID base block needed to tell displays apart.
type Identity struct {
	Manufacturer string
	Product      uint16
	Serial       uint32
}

func (id Identity) String() string {
	return fmt.Sprintf("%s-%04x-%08x", id.Manufacturer, id.Product, id.Serial)
}

// ParseIdentity extracts the vendor/product/serial triple from an EDID base
// block. Nothing else in the block is interpreted.
func ParseIdentity(block []byte) (Identity, error) {
	if len(block) < EDIDBlockSize {
		return Identity{}, fmt.Errorf("%w: %d bytes", ErrEDID, len(block))
	}
	if !bytes.Equal(block[:8], edidHeader) {
		return Identity{}, fmt.Errorf("%w: bad header", ErrEDID)
	}
	var sum byte
	for _, b := range block[:EDIDBlockSize] {
		sum += b
	}
	if sum != 0 {
		return Identity{}, fmt.Errorf("%w: checksum %#02x", ErrEDID, sum)
	}

	// Three 5-bit letters, 'A' = 1.
	m := uint16(block[8])<<8 | uint16(block[9])
	mfg := []byte{
		byte(m>>10&0x1F) + 'A' - 1,
		byte(m>>5&0x1F) + 'A' - 1,
		byte(m&0x1F) + 'A' - 1,
	}
	for _, c := range mfg {
		if c < 'A' || c > 'Z' {
			return Identity{}, fmt.Errorf("%w: manufacturer id %#04x", ErrEDID, m)
		}
	}
	return Identity{
		Manufacturer: string(mfg),
		Product:      uint16(block[10]) | uint16(block[11])<<8,
		Serial:       uint32(block[12]) | uint32(block[13])<<8 | uint32(block[14])<<16 | uint32(block[15])<<24,
	}, nil
}

// BuildEDID returns a minimal, valid EDID base block carrying id. Simulated
// displays serve it from address 0x50.
func BuildEDID(id Identity) []byte {
	block := make([]byte, EDIDBlockSize)
	copy(block, edidHeader)
	var m uint16
	for i := 0; i < 3 && i < len(id.Manufacturer); i++ {
		m = m<<5 | uint16(id.Manufacturer[i]-'A'+1)&0x1F
	}
	block[8], block[9] = byte(m>>8), byte(m)
	block[10], block[11] = byte(id.Product), byte(id.Product>>8)
	block[12], block[13], block[14], block[15] = byte(id.Serial), byte(id.Serial>>8), byte(id.Serial>>16), byte(id.Serial>>24)
	block[18], block[19] = 1, 4 // EDID 1.4
	var sum byte
	for _, b := range block[:EDIDBlockSize-1] {
		sum += b
	}
	block[EDIDBlockSize-1] = -sum
	return block
}
