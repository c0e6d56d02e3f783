// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

// Package checksum implements the DDC/CI message checksum: an XOR over
// every byte of the message, seeded with the destination address byte.
package checksum

type Checksum struct {
	value byte
}

// Reset sets the running value to seed and returns the receiver for chaining.
func (c *Checksum) Reset(seed byte) *Checksum {
	c.value = seed
	return c
}

func (c *Checksum) PushByte(b byte) *Checksum {
	c.value ^= b
	return c
}

func (c *Checksum) PushBytes(bs []byte) *Checksum {
	for _, b := range bs {
		c.value ^= b
	}
	return c
}

func (c *Checksum) Value() byte {
	return c.value
}

// Sum is a shorthand for Reset(seed).PushBytes(bs).Value().
func Sum(seed byte, bs []byte) byte {
	var c Checksum
	return c.Reset(seed).PushBytes(bs).Value()
}
