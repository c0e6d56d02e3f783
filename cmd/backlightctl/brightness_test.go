// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ffutop/backlightd/protocol"
)

func TestParseBrightness(t *testing.T) {
	tests := []struct {
		in   string
		want brightnessArg
	}{
		{"50%", brightnessArg{Value: 50, Unit: protocol.UnitPercent}},
		{"0%", brightnessArg{Value: 0, Unit: protocol.UnitPercent}},
		{"100%", brightnessArg{Value: 100, Unit: protocol.UnitPercent}},
		{"12.5%", brightnessArg{Value: 12.5, Unit: protocol.UnitPercent}},
		{"+10%", brightnessArg{Value: 10, Unit: protocol.UnitPercent, Relative: true}},
		{"-10%", brightnessArg{Value: -10, Unit: protocol.UnitPercent, Relative: true}},
		{"120", brightnessArg{Value: 120, Unit: protocol.UnitRaw}},
		{" 7 ", brightnessArg{Value: 7, Unit: protocol.UnitRaw}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseBrightness(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseBrightness_Invalid(t *testing.T) {
	for _, in := range []string{"", "%", "abc", "101%", "+101%", "+10", "-5", "1.5", "--5%", "NaN%", "Inf"} {
		t.Run(in, func(t *testing.T) {
			_, err := parseBrightness(in)
			assert.ErrorIs(t, err, errBrightness)
		})
	}
}
