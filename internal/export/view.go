// Package export renders a fix for people: unit-converted display fields,
// a status line, and KML/CSV snippets of the current position.
package export

import (
	"fmt"
	"net"
	"time"

	"gpsc-ng/internal/gpsd"
	"gpsc-ng/internal/units"
)

type Units struct {
	Position units.Angle
	Track    units.Angle
	Altitude units.Altitude
	Distance units.Distance
	Speed    units.Speed
}

func DefaultUnits() Units {
	return Units{
		Position: units.DegreesMinutesSeconds,
		Track:    units.Degrees,
		Altitude: units.Metre,
		Distance: units.Kilometre,
		Speed:    units.KPH,
	}
}

// View holds the display strings of one record. Fields the record has no
// data for are empty.
type View struct {
	Name      string `json:"name"`
	Mode      string `json:"mode"`
	Latitude  string `json:"latitude,omitempty"`
	Longitude string `json:"longitude,omitempty"`
	Elevation string `json:"elevation,omitempty"`
	Time      string `json:"time,omitempty"`
	Speed     string `json:"speed,omitempty"`
	Track     string `json:"track,omitempty"`
	DOP       string `json:"dop"`
	RMS       string `json:"rms,omitempty"`
	// HError is the horizontal error estimate in the distance unit.
	HError string `json:"herr,omitempty"`
	Status string `json:"status"`
}

// Name is the session label "host:port/device".
func Name(host, port, device string) string {
	return net.JoinHostPort(host, port) + device
}

func NewView(name string, rec gpsd.Record, u Units) View {
	f := rec.Fix
	v := View{
		Name: name,
		Mode: f.Mode.String(),
		DOP: fmt.Sprintf("P%.1f H%.1f V%.1f T%.1f G%.1f",
			rec.DOP.PDOP, rec.DOP.HDOP, rec.DOP.VDOP, rec.DOP.TDOP, rec.DOP.GDOP),
		Status: StatusLine(rec),
	}
	if f.Mode >= gpsd.Mode2D {
		v.Latitude = units.FormatLatLon(true, f.Latitude, u.Position)
		v.Longitude = units.FormatLatLon(false, f.Longitude, u.Position)
		v.Speed = fmt.Sprintf("%.0f %s", units.ConvertSpeed(f.Speed, u.Speed), units.Suffix(u.Speed))
		v.Track = units.FormatTrack(f.Track, u.Track)
	}
	if f.Mode >= gpsd.Mode3D {
		v.Elevation = fmt.Sprintf("%.2f %s", units.ConvertAltitude(f.Altitude, u.Altitude), units.Suffix(u.Altitude))
	}
	if t := f.UTC(); !t.IsZero() {
		v.Time = t.Format(time.RFC3339)
	}
	if f.Epx != 0 || f.Epy != 0 || f.Epv != 0 {
		v.RMS = fmt.Sprintf("H%.1f V%.1f",
			units.ConvertAltitude(f.Eph(), u.Altitude),
			units.ConvertAltitude(f.Epv, u.Altitude))
	}
	if eph := f.Eph(); eph != 0 {
		v.HError = fmt.Sprintf("%.3f %s", units.ConvertDistance(eph, u.Distance), units.Suffix(u.Distance))
	}
	return v
}

// StatusLine is "driver subtype - mode - used/visible sats used".
func StatusLine(rec gpsd.Record) string {
	return fmt.Sprintf("%s %s - %s - %d/%d sats used",
		rec.Dev.Driver, rec.Dev.Subtype, rec.Fix.Mode, rec.SatellitesUsed, rec.SatellitesVisible)
}
