// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package ddc

import "time"

// I2C slave addresses (7-bit) used by a display.
const (
	AddrDDCCI = 0x37
	AddrEDID  = 0x50
)

// Address bytes as they appear on the wire.
const (
	// HostSource is the source byte of every host-originated message.
	HostSource = 0x51
	// DisplayDest is the destination address byte (0x37 << 1). It seeds the
	// checksum of host-originated messages and is the source byte of replies.
	DisplayDest = 0x6E
	// ReplySeed seeds the checksum of display-originated messages.
	ReplySeed = 0x50
)

const (
	MinSize     = 3
	MaxPayload  = 32
	lengthFlag  = 0x80
	lengthMask  = 0x7F
	ReplyLength = 11
)

// Opcodes
const (
	OpGetVCP      = 0x01
	OpGetVCPReply = 0x02
	OpSetVCP      = 0x03
)

// Result codes carried by a Get VCP Feature reply.
const (
	ResultOK          = 0x00
	ResultUnsupported = 0x01
)

// VCP feature codes
const (
	FeatureBrightness = 0x10
	FeaturePowerMode  = 0xD6
)

// Power mode values for FeaturePowerMode.
const (
	PowerOn      = 0x01
	PowerStandby = 0x02
	PowerSuspend = 0x03
	PowerOff     = 0x04
)

// Minimum delays mandated by DDC/CI between a request and the next bus
// access.
const (
	ReplyDelay = 40 * time.Millisecond
	SetDelay   = 50 * time.Millisecond
)
