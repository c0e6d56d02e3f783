// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package protocol

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/ffutop/backlightd/internal/device"
)

type Op string

const (
	OpListDevices      Op = "list_devices"
	OpGetBrightness    Op = "get_brightness"
	OpSetBrightness    Op = "set_brightness"
	OpAdjustBrightness Op = "adjust_brightness"
	OpSetMode          Op = "set_mode"
	OpGetMode          Op = "get_mode"
	OpSetPower         Op = "set_power"
	OpRescan           Op = "rescan"
	OpRefresh          Op = "refresh"
	OpGetSchedule      Op = "get_schedule"
)

type Unit string

const (
	UnitRaw     Unit = "raw"
	UnitPercent Unit = "percent"
)

// Request is the body of a client frame. Value holds a native value, a
// percentage or a percentage delta depending on Op and Unit.
type Request struct {
	Op       Op      `cbor:"1,keyasint" json:"op"`
	DeviceID string  `cbor:"2,keyasint,omitempty" json:"device_id,omitempty"`
	Value    float64 `cbor:"3,keyasint,omitempty" json:"value,omitempty"`
	HasValue bool    `cbor:"4,keyasint,omitempty" json:"has_value,omitempty"`
	Unit     Unit    `cbor:"5,keyasint,omitempty" json:"unit,omitempty"`
	Mode     string  `cbor:"6,keyasint,omitempty" json:"mode,omitempty"`
	Power    bool    `cbor:"7,keyasint,omitempty" json:"power,omitempty"`
}

type Code string

const (
	CodeOK          Code = ""
	CodeNotFound    Code = "not_found"
	CodeUnavailable Code = "unavailable"
	CodeOutOfRange  Code = "out_of_range"
	CodeMalformed   Code = "malformed"
	CodeInternal    Code = "internal"
)

type DeviceInfo struct {
	ID          string    `cbor:"1,keyasint" json:"id"`
	Kind        string    `cbor:"2,keyasint" json:"kind"`
	Name        string    `cbor:"3,keyasint" json:"name"`
	Min         int       `cbor:"4,keyasint" json:"min"`
	Max         int       `cbor:"5,keyasint" json:"max"`
	Current     int       `cbor:"6,keyasint" json:"current"`
	Percent     float64   `cbor:"7,keyasint" json:"percent"`
	Stale       bool      `cbor:"8,keyasint" json:"stale"`
	Known       bool      `cbor:"9,keyasint" json:"known"`
	Mode        string    `cbor:"10,keyasint" json:"mode"`
	ManualValue int       `cbor:"11,keyasint,omitempty" json:"manual_value,omitempty"`
	Liveness    string    `cbor:"12,keyasint" json:"liveness"`
	ReadAt      time.Time `cbor:"13,keyasint,omitempty" json:"read_at,omitzero"`
}

type Brightness struct {
	ID      string    `cbor:"1,keyasint" json:"id"`
	Value   int       `cbor:"2,keyasint" json:"value"`
	Percent float64   `cbor:"3,keyasint" json:"percent"`
	Stale   bool      `cbor:"4,keyasint" json:"stale"`
	ReadAt  time.Time `cbor:"5,keyasint,omitempty" json:"read_at,omitzero"`
}

type ModeInfo struct {
	ID    string `cbor:"1,keyasint" json:"id"`
	Mode  string `cbor:"2,keyasint" json:"mode"`
	Value int    `cbor:"3,keyasint,omitempty" json:"value,omitempty"`
}

type ScheduleInfo struct {
	Source  string    `cbor:"1,keyasint" json:"source"`
	Now     time.Time `cbor:"2,keyasint" json:"now"`
	Sunrise time.Time `cbor:"3,keyasint,omitempty" json:"sunrise,omitzero"`
	Sunset  time.Time `cbor:"4,keyasint,omitempty" json:"sunset,omitzero"`
	Target  float64   `cbor:"5,keyasint" json:"target"`
	Polar   string    `cbor:"6,keyasint,omitempty" json:"polar,omitempty"`
}

// Response is the body of a daemon frame. Exactly one payload field is set
// on success; Code and Message describe a failure.
type Response struct {
	Code       Code          `cbor:"1,keyasint,omitempty" json:"code,omitempty"`
	Message    string        `cbor:"2,keyasint,omitempty" json:"message,omitempty"`
	Devices    []DeviceInfo  `cbor:"3,keyasint,omitempty" json:"devices,omitempty"`
	Brightness *Brightness   `cbor:"4,keyasint,omitempty" json:"brightness,omitempty"`
	Mode       *ModeInfo     `cbor:"5,keyasint,omitempty" json:"mode,omitempty"`
	Schedule   *ScheduleInfo `cbor:"6,keyasint,omitempty" json:"schedule,omitempty"`
}

// Err returns the failure carried by the response, if any.
func (r *Response) Err() error {
	if r.Code == CodeOK {
		return nil
	}
	return &ResponseError{Code: r.Code, Message: r.Message}
}

// ResponseError is a failure reported by the daemon. It matches the device
// and protocol sentinel errors with errors.Is.
type ResponseError struct {
	Code    Code
	Message string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ResponseError) Is(target error) bool {
	switch e.Code {
	case CodeNotFound:
		return target == device.ErrNotFound
	case CodeUnavailable:
		return target == device.ErrUnavailable
	case CodeOutOfRange:
		return target == device.ErrOutOfRange
	case CodeMalformed:
		return target == ErrMalformed
	}
	return false
}

// ErrorResponse maps an error to its wire representation.
func ErrorResponse(err error) *Response {
	code := CodeInternal
	switch {
	case errors.Is(err, device.ErrNotFound):
		code = CodeNotFound
	case errors.Is(err, device.ErrUnavailable):
		code = CodeUnavailable
	case errors.Is(err, device.ErrOutOfRange):
		code = CodeOutOfRange
	case errors.Is(err, ErrMalformed), errors.Is(err, ErrVersion):
		code = CodeMalformed
	}
	return &Response{Code: code, Message: err.Error()}
}

var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
}

func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes a body. Decoding failures are reported as ErrMalformed.
func Unmarshal(data []byte, v any) error {
	if err := cbor.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
