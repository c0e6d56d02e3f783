// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package ddc

import (
	"errors"
	"fmt"

	"github.com/ffutop/backlightd/ddc/checksum"
)

var (
	// ErrNullMessage is returned when the display answered with the DDC/CI
	// null message, i.e. it had no reply ready.
	ErrNullMessage = errors.New("ddc: null message")
	ErrUnexpected  = errors.New("ddc: unexpected reply")
)

type InvalidLengthError struct {
	Length int
}

func (e *InvalidLengthError) Error() string {
	return fmt.Sprintf("ddc: invalid length received: %d", e.Length)
}

type ChecksumError struct {
	Want, Got byte
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("ddc: checksum %#02x does not match expected %#02x", e.Got, e.Want)
}

// ResultCodeError is returned when a Get VCP Feature reply carries a non-zero
// result code.
type ResultCodeError struct {
	Feature byte
	Code    byte
}

func (e *ResultCodeError) Error() string {
	if e.Code == ResultUnsupported {
		return fmt.Sprintf("ddc: feature %#02x unsupported", e.Feature)
	}
	return fmt.Sprintf("ddc: feature %#02x returned result code %#02x", e.Feature, e.Code)
}

// Message is one DDC/CI frame:
//
//	Source   : 1 byte
//	Length   : 1 byte (0x80 | len(Payload))
//	Payload  : 0 up to 32 bytes
//	Checksum : 1 byte
type Message struct {
	Source  byte
	Payload []byte
}

// Encode serializes the message. seed is DisplayDest for host-originated
// messages and ReplySeed for display-originated ones.
func (m *Message) Encode(seed byte) (raw []byte, err error) {
	if len(m.Payload) > MaxPayload {
		err = fmt.Errorf("ddc: length of payload '%v' must not be bigger than '%v'", len(m.Payload), MaxPayload)
		return
	}
	length := len(m.Payload) + MinSize
	raw = make([]byte, length)
	raw[0] = m.Source
	raw[1] = lengthFlag | byte(len(m.Payload))
	copy(raw[2:], m.Payload)
	raw[length-1] = checksum.Sum(seed, raw[:length-1])
	return
}

// Decode parses a frame and validates its length byte and checksum. Trailing
// bytes beyond the advertised length are ignored, since I2C reads are fixed
// size.
func Decode(raw []byte, seed byte) (*Message, error) {
	if len(raw) < MinSize {
		return nil, &InvalidLengthError{Length: len(raw)}
	}
	if raw[1]&lengthFlag == 0 {
		return nil, fmt.Errorf("ddc: length byte %#02x lacks the 0x80 flag", raw[1])
	}
	n := int(raw[1] & lengthMask)
	if n > MaxPayload || n+MinSize > len(raw) {
		return nil, &InvalidLengthError{Length: n}
	}
	frame := raw[:n+MinSize]
	want := checksum.Sum(seed, frame[:len(frame)-1])
	if got := frame[len(frame)-1]; got != want {
		return nil, &ChecksumError{Want: want, Got: got}
	}
	payload := make([]byte, n)
	copy(payload, frame[2:2+n])
	return &Message{Source: frame[0], Payload: payload}, nil
}

// VCPValue is the decoded content of a Get VCP Feature reply.
type VCPValue struct {
	Feature byte
	Type    byte
	Max     uint16
	Current uint16
}

// EncodeGetVCP builds the host request for a Get VCP Feature.
func EncodeGetVCP(feature byte) []byte {
	m := &Message{Source: HostSource, Payload: []byte{OpGetVCP, feature}}
	raw, _ := m.Encode(DisplayDest) // fixed size, cannot fail
	return raw
}

// EncodeSetVCP builds the host request for a Set VCP Feature.
func EncodeSetVCP(feature byte, value uint16) []byte {
	m := &Message{Source: HostSource, Payload: []byte{OpSetVCP, feature, byte(value >> 8), byte(value)}}
	raw, _ := m.Encode(DisplayDest)
	return raw
}

// DecodeGetVCPReply parses the bytes read back after a Get VCP Feature
// request for feature.
func DecodeGetVCPReply(raw []byte, feature byte) (VCPValue, error) {
	if len(raw) >= MinSize && raw[1] == lengthFlag {
		if _, err := Decode(raw, ReplySeed); err == nil {
			return VCPValue{}, ErrNullMessage
		}
	}
	msg, err := Decode(raw, ReplySeed)
	if err != nil {
		return VCPValue{}, err
	}
	if err := Verify(msg); err != nil {
		return VCPValue{}, err
	}
	p := msg.Payload
	if len(p) != 8 || p[0] != OpGetVCPReply {
		return VCPValue{}, fmt.Errorf("%w: opcode %#02x, length %d", ErrUnexpected, firstByte(p), len(p))
	}
	if p[1] != ResultOK {
		return VCPValue{}, &ResultCodeError{Feature: feature, Code: p[1]}
	}
	if p[2] != feature {
		return VCPValue{}, fmt.Errorf("%w: feature %#02x, requested %#02x", ErrUnexpected, p[2], feature)
	}
	return VCPValue{
		Feature: p[2],
		Type:    p[3],
		Max:     uint16(p[4])<<8 | uint16(p[5]),
		Current: uint16(p[6])<<8 | uint16(p[7]),
	}, nil
}

// Verify checks that a reply was sent by the display.
func Verify(resp *Message) error {
	if resp.Source != DisplayDest {
		return fmt.Errorf("ddc: reply source %#02x does not match display %#02x", resp.Source, DisplayDest)
	}
	return nil
}

// EncodeGetVCPReply builds what a display answers to a Get VCP Feature.
func EncodeGetVCPReply(result, feature, typ byte, max, current uint16) []byte {
	m := &Message{Source: DisplayDest, Payload: []byte{
		OpGetVCPReply, result, feature, typ,
		byte(max >> 8), byte(max), byte(current >> 8), byte(current),
	}}
	raw, _ := m.Encode(ReplySeed)
	return raw
}

// NullMessage is the reply of a display with nothing to say.
func NullMessage() []byte {
	m := &Message{Source: DisplayDest}
	raw, _ := m.Encode(ReplySeed)
	return raw
}

func firstByte(p []byte) byte {
	if len(p) == 0 {
		return 0
	}
	return p[0]
}
