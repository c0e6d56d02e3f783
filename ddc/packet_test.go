// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package ddc

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeGetVCP(t *testing.T) {
	got := EncodeGetVCP(FeatureBrightness)
	want := []byte{0x51, 0x82, 0x01, 0x10, 0xAC}
	if !bytes.Equal(got, want) {
		t.Fatalf("want % X, got % X", want, got)
	}
}

func TestEncodeSetVCP(t *testing.T) {
	got := EncodeSetVCP(FeatureBrightness, 0x0032)
	// 0x6E ^ 0x51 ^ 0x84 ^ 0x03 ^ 0x10 ^ 0x00 ^ 0x32
	want := []byte{0x51, 0x84, 0x03, 0x10, 0x00, 0x32, 0x9A}
	if !bytes.Equal(got, want) {
		t.Fatalf("want % X, got % X", want, got)
	}
}

func TestDecodeGetVCPReply(t *testing.T) {
	tests := []struct {
		name    string
		raw     []byte
		want    VCPValue
		wantErr func(error) bool
	}{
		{
			name: "ok",
			raw:  EncodeGetVCPReply(ResultOK, FeatureBrightness, 0, 100, 42),
			want: VCPValue{Feature: FeatureBrightness, Max: 100, Current: 42},
		},
		{
			name: "wide values",
			raw:  EncodeGetVCPReply(ResultOK, FeatureBrightness, 1, 0x1234, 0x0100),
			want: VCPValue{Feature: FeatureBrightness, Type: 1, Max: 0x1234, Current: 0x0100},
		},
		{
			name:    "null message",
			raw:     append(NullMessage(), make([]byte, 8)...),
			wantErr: func(err error) bool { return errors.Is(err, ErrNullMessage) },
		},
		{
			name: "unsupported",
			raw:  EncodeGetVCPReply(ResultUnsupported, FeatureBrightness, 0, 0, 0),
			wantErr: func(err error) bool {
				var rc *ResultCodeError
				return errors.As(err, &rc) && rc.Code == ResultUnsupported
			},
		},
		{
			name: "bad checksum",
			raw: func() []byte {
				b := EncodeGetVCPReply(ResultOK, FeatureBrightness, 0, 100, 42)
				b[len(b)-1] ^= 0xFF
				return b
			}(),
			wantErr: func(err error) bool {
				var ce *ChecksumError
				return errors.As(err, &ce)
			},
		},
		{
			name:    "wrong feature",
			raw:     EncodeGetVCPReply(ResultOK, FeaturePowerMode, 0, 5, 1),
			wantErr: func(err error) bool { return errors.Is(err, ErrUnexpected) },
		},
		{
			name: "short",
			raw:  []byte{0x6E},
			wantErr: func(err error) bool {
				var le *InvalidLengthError
				return errors.As(err, &le)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeGetVCPReply(tt.raw, FeatureBrightness)
			if tt.wantErr != nil {
				if err == nil || !tt.wantErr(err) {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeGetVCPReply failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("want %+v, got %+v", tt.want, got)
			}
		})
	}
}

func TestNullMessage(t *testing.T) {
	if got, want := NullMessage(), []byte{0x6E, 0x80, 0xBE}; !bytes.Equal(got, want) {
		t.Fatalf("want % X, got % X", want, got)
	}
}

func TestDecode_HostRequest(t *testing.T) {
	msg, err := Decode(EncodeSetVCP(FeaturePowerMode, PowerOff), DisplayDest)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if msg.Source != HostSource {
		t.Errorf("source %#02x", msg.Source)
	}
	if want := []byte{OpSetVCP, FeaturePowerMode, 0x00, PowerOff}; !bytes.Equal(msg.Payload, want) {
		t.Errorf("want % X, got % X", want, msg.Payload)
	}
}

func TestParseIdentity(t *testing.T) {
	id := Identity{Manufacturer: "DEL", Product: 0xA0C4, Serial: 0x12345678}
	got, err := ParseIdentity(BuildEDID(id))
	if err != nil {
		t.Fatalf("ParseIdentity failed: %v", err)
	}
	if got != id {
		t.Fatalf("want %+v, got %+v", id, got)
	}
	if got.String() != "DEL-a0c4-12345678" {
		t.Errorf("String() = %q", got.String())
	}

	broken := BuildEDID(id)
	broken[0] = 0x01
	if _, err := ParseIdentity(broken); !errors.Is(err, ErrEDID) {
		t.Errorf("want ErrEDID, got %v", err)
	}
}
