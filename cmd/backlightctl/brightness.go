// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/ffutop/backlightd/protocol"
)

var errBrightness = errors.New("invalid brightness")

// brightnessArg is a parsed --brightness value: "50%", "+10%", "-10%" or a
// raw device value such as "120".
type brightnessArg struct {
	Value    float64
	Unit     protocol.Unit
	Relative bool
}

func parseBrightness(s string) (brightnessArg, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return brightnessArg{}, fmt.Errorf("%w: empty value", errBrightness)
	}

	var arg brightnessArg
	sign := 1.0
	switch s[0] {
	case '+':
		arg.Relative = true
		s = s[1:]
	case '-':
		arg.Relative = true
		sign = -1
		s = s[1:]
	}

	if p, ok := strings.CutSuffix(s, "%"); ok {
		arg.Unit = protocol.UnitPercent
		s = p
	} else {
		if arg.Relative {
			return brightnessArg{}, fmt.Errorf("%w: relative values need a %% sign", errBrightness)
		}
		arg.Unit = protocol.UnitRaw
	}

	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return brightnessArg{}, fmt.Errorf("%w: %q is not a number", errBrightness, s)
	}
	if arg.Unit == protocol.UnitPercent && v > 100 {
		return brightnessArg{}, fmt.Errorf("%w: must be a percentage between -100%% and 100%%", errBrightness)
	}
	if arg.Unit == protocol.UnitRaw && v != math.Trunc(v) {
		return brightnessArg{}, fmt.Errorf("%w: raw values must be whole numbers", errBrightness)
	}
	arg.Value = sign * v
	return arg, nil
}
