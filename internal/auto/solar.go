// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package auto

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Location is where the displays are. Zone decides which calendar day a
// given instant belongs to.
type Location struct {
	Latitude  float64
	Longitude float64 // positive east
	Zone      *time.Location
}

// ParseLatLong parses "lat,long" as used by BACKLIGHTD_LOCATION.
func ParseLatLong(s string) (lat, long float64, err error) {
	a, b, ok := strings.Cut(s, ",")
	if !ok {
		return 0, 0, fmt.Errorf("location %q: expected a comma between latitude and longitude", s)
	}
	if lat, err = strconv.ParseFloat(strings.TrimSpace(a), 64); err != nil {
		return 0, 0, fmt.Errorf("location %q: latitude: %w", s, err)
	}
	if long, err = strconv.ParseFloat(strings.TrimSpace(b), 64); err != nil {
		return 0, 0, fmt.Errorf("location %q: longitude: %w", s, err)
	}
	if lat < -90 || lat > 90 || long < -180 || long > 180 {
		return 0, 0, fmt.Errorf("location %q: out of range", s)
	}
	return lat, long, nil
}

type Polar int

const (
	NotPolar Polar = iota
	PolarDay
	PolarNight
)

func (p Polar) String() string {
	switch p {
	case PolarDay:
		return "polar_day"
	case PolarNight:
		return "polar_night"
	}
	return ""
}

// SunTimes are the solar events of one calendar day. Sunrise and Sunset are
// zero when Polar is set.
type SunTimes struct {
	Sunrise time.Time
	Sunset  time.Time
	Noon    time.Time
	Polar   Polar
}

// zenith of the sun's upper limb at rise/set, including refraction.
const officialZenith = 90.833

func deg2rad(v float64) float64 { return v * math.Pi / 180.0 }
func rad2deg(v float64) float64 { return v * 180.0 / math.Pi }

// SunTimesOn computes sunrise, sunset and solar noon for the calendar day
// containing t in loc.Zone, using the NOAA general solar position equations.
func SunTimesOn(t time.Time, loc Location) SunTimes {
	zone := loc.Zone
	if zone == nil {
		zone = time.Local
	}
	local := t.In(zone)
	base := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)

	// Fractional year at noon, radians.
	gamma := 2 * math.Pi / 365 * float64(local.YearDay()-1)

	eqtime := 229.18 * (0.000075 + 0.001868*math.Cos(gamma) - 0.032077*math.Sin(gamma) -
		0.014615*math.Cos(2*gamma) - 0.040849*math.Sin(2*gamma))
	decl := 0.006918 - 0.399912*math.Cos(gamma) + 0.070257*math.Sin(gamma) -
		0.006758*math.Cos(2*gamma) + 0.000907*math.Sin(2*gamma) -
		0.002697*math.Cos(3*gamma) + 0.00148*math.Sin(3*gamma)

	at := func(minutes float64) time.Time {
		return base.Add(time.Duration(minutes * float64(time.Minute))).In(zone)
	}

	sun := SunTimes{Noon: at(720 - 4*loc.Longitude - eqtime)}

	lat := deg2rad(loc.Latitude)
	cosHA := math.Cos(deg2rad(officialZenith))/(math.Cos(lat)*math.Cos(decl)) - math.Tan(lat)*math.Tan(decl)
	switch {
	case cosHA > 1:
		sun.Polar = PolarNight
		return sun
	case cosHA < -1:
		sun.Polar = PolarDay
		return sun
	}
	ha := rad2deg(math.Acos(cosHA))
	sun.Sunrise = at(720 - 4*(loc.Longitude+ha) - eqtime)
	sun.Sunset = at(720 - 4*(loc.Longitude-ha) - eqtime)
	return sun
}

// ClockTimesOn is the fallback without a location: sunrise at 06:00 and
// sunset at 18:00 local time.
func ClockTimesOn(t time.Time, zone *time.Location) SunTimes {
	if zone == nil {
		zone = time.Local
	}
	local := t.In(zone)
	day := func(h int) time.Time {
		return time.Date(local.Year(), local.Month(), local.Day(), h, 0, 0, 0, zone)
	}
	return SunTimes{Sunrise: day(6), Sunset: day(18), Noon: day(12)}
}
