// Package units converts gpsd's SI values for display.
package units

import (
	"fmt"
	"math"
	"strings"
)

const (
	metreToFoot         = 3.2808399
	metreToKilometre    = 0.001
	metreToStatuteMile  = 0.000621373
	metreToNauticalMile = 0.000539957

	mpsToKPH = 3.6
	mpsToMPH = 2.23694
	mpsToKt  = 1.94385

	degreesToGrads   = 1 / 0.9
	degreesToRadians = math.Pi / 180
)

type Altitude string

const (
	Metre Altitude = "m"
	Foot  Altitude = "ft"
)

type Distance string

const (
	Kilometre    Distance = "km"
	StatuteMile  Distance = "sm"
	NauticalMile Distance = "nm"
)

type Speed string

const (
	MPS Speed = "m/s"
	KPH Speed = "km/h"
	MPH Speed = "mi/h"
	Kt  Speed = "kt"
)

// Angle selects how positions and bearings are rendered.
type Angle string

const (
	DegreesMinutesSeconds Angle = "dms"
	DegreesMinutes        Angle = "dm"
	Degrees               Angle = "deg"
	Grads                 Angle = "grad"
	Radians               Angle = "rad"
)

func (u Altitude) Valid() bool { return u == Metre || u == Foot }

func (u Distance) Valid() bool {
	return u == Kilometre || u == StatuteMile || u == NauticalMile
}

func (u Speed) Valid() bool { return u == MPS || u == KPH || u == MPH || u == Kt }

func (u Angle) Valid() bool {
	switch u {
	case DegreesMinutesSeconds, DegreesMinutes, Degrees, Grads, Radians:
		return true
	}
	return false
}

func ConvertAltitude(metres float64, u Altitude) float64 {
	if u == Foot {
		return metres * metreToFoot
	}
	return metres
}

func ConvertDistance(metres float64, u Distance) float64 {
	switch u {
	case Kilometre:
		return metres * metreToKilometre
	case StatuteMile:
		return metres * metreToStatuteMile
	case NauticalMile:
		return metres * metreToNauticalMile
	}
	return metres
}

func ConvertSpeed(mps float64, u Speed) float64 {
	switch u {
	case KPH:
		return mps * mpsToKPH
	case MPH:
		return mps * mpsToMPH
	case Kt:
		return mps * mpsToKt
	}
	return mps
}

// Suffix returns the display suffix of any unit type.
func Suffix[U Altitude | Distance | Speed](u U) string {
	return string(u)
}

// FormatTrack renders a bearing in degrees.
func FormatTrack(deg float64, u Angle) string {
	return formatAngle(deg, u, 3, "")
}

// FormatLatLon renders a latitude (isLat) or longitude with its hemisphere.
func FormatLatLon(isLat bool, deg float64, u Angle) string {
	width := 3
	var h string
	switch {
	case isLat && deg < 0:
		h, width = "S", 2
	case isLat:
		h, width = "N", 2
	case deg < 0:
		h = "W"
	default:
		h = "E"
	}
	return formatAngle(deg, u, width, h)
}

func formatAngle(deg float64, u Angle, width int, hemi string) string {
	suffix := ""
	if hemi != "" {
		suffix = " " + hemi
	}
	switch u {
	case DegreesMinutesSeconds:
		s := math.Abs(deg * 3600)
		d := int(math.Round((s - math.Mod(s, 3600)) / 3600))
		m := int(math.Round((s - float64(d)*3600 - math.Mod(s, 60)) / 60))
		s = math.Mod(s, 60)
		return fmt.Sprintf("%0*d°%02d'%.3f\"%s", width, d, m, s, suffix)
	case DegreesMinutes:
		md := math.Abs(deg * 60)
		d := int(math.Round((md - math.Mod(md, 60)) / 60))
		md = math.Mod(md, 60)
		return fmt.Sprintf("%0*d°%06.4f'%s", width, d, md, suffix)
	case Grads:
		return fmt.Sprintf("%.6f g", deg*degreesToGrads)
	case Radians:
		return fmt.Sprintf("%.6f rad", deg*degreesToRadians)
	default:
		return fmt.Sprintf("%.6f °", deg)
	}
}

// ParseAngle accepts the config spellings of Angle.
func ParseAngle(s string) (Angle, error) {
	u := Angle(strings.ToLower(strings.TrimSpace(s)))
	if !u.Valid() {
		return "", fmt.Errorf("unknown angle unit %q", s)
	}
	return u, nil
}
