// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package auto

import (
	"fmt"
	"math"
	"time"
)

// Ramp maps progress through a transition window, 0..1, to a brightness
// fraction, 0..1. It must be monotonic with Ramp(0)=0 and Ramp(1)=1.
type Ramp interface {
	At(x float64) float64
}

type LinearRamp struct{}

func (LinearRamp) At(x float64) float64 { return x }

// CosineRamp eases in and out, so the rate of change is zero at both ends
// of the window.
type CosineRamp struct{}

func (CosineRamp) At(x float64) float64 { return (1 - math.Cos(math.Pi*x)) / 2 }

func RampByName(name string) (Ramp, error) {
	switch name {
	case "", "cosine":
		return CosineRamp{}, nil
	case "linear":
		return LinearRamp{}, nil
	}
	return nil, fmt.Errorf("auto: unknown ramp %q", name)
}

// Curve maps a time of day to a target brightness percentage.
type Curve struct {
	Day        float64
	Night      float64
	Transition time.Duration
	Ramp       Ramp
}

// At returns the target percentage at t, given the solar events of t's day.
// The brightness rises across a window of Transition centred on sunrise and
// falls across the same window around sunset.
func (c Curve) At(t time.Time, sun SunTimes) float64 {
	switch sun.Polar {
	case PolarDay:
		return c.Day
	case PolarNight:
		return c.Night
	}
	up := c.progress(t, sun.Sunrise)
	down := 1 - c.progress(t, sun.Sunset)
	return c.Night + (c.Day-c.Night)*min(up, down)
}

func (c Curve) progress(t, center time.Time) float64 {
	if c.Transition <= 0 {
		if t.Before(center) {
			return 0
		}
		return 1
	}
	start := center.Add(-c.Transition / 2)
	x := float64(t.Sub(start)) / float64(c.Transition)
	x = math.Max(0, math.Min(1, x))
	ramp := c.Ramp
	if ramp == nil {
		ramp = CosineRamp{}
	}
	return ramp.At(x)
}

// Schedule binds a curve to where and when the daemon runs. A nil Location
// selects the clock fallback.
type Schedule struct {
	Location *Location
	Zone     *time.Location
	Curve    Curve
}

func (s *Schedule) Sun(t time.Time) SunTimes {
	if s.Location == nil {
		return ClockTimesOn(t, s.Zone)
	}
	return SunTimesOn(t, *s.Location)
}

// Target returns the target percentage at t.
func (s *Schedule) Target(t time.Time) float64 {
	return s.Curve.At(t, s.Sun(t))
}

// Source names where the sun times come from.
func (s *Schedule) Source() string {
	if s.Location == nil {
		return "clock"
	}
	return "location"
}
