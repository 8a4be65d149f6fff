package export

import (
	"encoding/xml"
	"strings"
	"testing"

	"gpsc-ng/internal/gpsd"
	"gpsc-ng/internal/units"
)

func sampleRecord() gpsd.Record {
	var rec gpsd.Record
	rec.Fix = gpsd.Fix{
		Time:      1766404800, // 2025-12-22T12:00:00Z
		Mode:      gpsd.Mode3D,
		Latitude:  48.1173,
		Longitude: -11.5,
		Altitude:  545.4,
		Speed:     10,
		Track:     270.5,
		Epx:       3,
		Epy:       4,
		Epv:       7,
	}
	rec.DOP = gpsd.DOP{PDOP: 1.6, HDOP: 0.9, VDOP: 1.3, TDOP: 1.0, GDOP: 1.9}
	rec.Dev = gpsd.DeviceInfo{Driver: "u-blox", Subtype: "SW 1.00"}
	rec.SatellitesUsed = 7
	rec.SatellitesVisible = 11
	return rec
}

func TestNewView(t *testing.T) {
	u := DefaultUnits()
	u.Speed = units.Kt
	v := NewView(Name("localhost", "2947", "/dev/ttyACM0"), sampleRecord(), u)

	if v.Name != "localhost:2947/dev/ttyACM0" {
		t.Fatalf("name=%q", v.Name)
	}
	if v.Latitude != "48°07'2.280\" N" || v.Longitude != "011°30'0.000\" W" {
		t.Fatalf("lat=%q lon=%q", v.Latitude, v.Longitude)
	}
	if v.Elevation != "545.40 m" {
		t.Fatalf("elevation=%q", v.Elevation)
	}
	if v.Speed != "19 kt" {
		t.Fatalf("speed=%q", v.Speed)
	}
	if v.Track != "270.500000 °" {
		t.Fatalf("track=%q", v.Track)
	}
	if v.Time != "2025-12-22T12:00:00Z" {
		t.Fatalf("time=%q", v.Time)
	}
	if v.DOP != "P1.6 H0.9 V1.3 T1.0 G1.9" {
		t.Fatalf("dop=%q", v.DOP)
	}
	if v.RMS != "H5.0 V7.0" {
		t.Fatalf("rms=%q", v.RMS)
	}
	if v.HError != "0.005 km" {
		t.Fatalf("herr=%q", v.HError)
	}
	if v.Status != "u-blox SW 1.00 - 3D fix - 7/11 sats used" {
		t.Fatalf("status=%q", v.Status)
	}
}

func TestNewView_NoFixHidesPosition(t *testing.T) {
	rec := sampleRecord()
	rec.Fix.Mode = gpsd.ModeNoFix
	v := NewView("x", rec, DefaultUnits())
	if v.Latitude != "" || v.Longitude != "" || v.Elevation != "" || v.Speed != "" {
		t.Fatalf("view=%+v", v)
	}
	if v.Mode != "No fix" {
		t.Fatalf("mode=%q", v.Mode)
	}
}

func TestNewView_HorizontalErrorUsesDistanceUnit(t *testing.T) {
	rec := sampleRecord()
	rec.Fix.Epx, rec.Fix.Epy = 1852, 0
	u := DefaultUnits()
	u.Distance = units.NauticalMile
	if got := NewView("x", rec, u).HError; got != "1.000 nm" {
		t.Fatalf("herr=%q", got)
	}
	rec.Fix.Epx = 0
	if got := NewView("x", rec, u).HError; got != "" {
		t.Fatalf("herr=%q without error estimate", got)
	}
}

func TestKML(t *testing.T) {
	rec := sampleRecord()
	v := NewView("gps<1>:2947", rec, DefaultUnits())
	b, err := KML(v, rec)
	if err != nil {
		t.Fatalf("KML: %v", err)
	}
	var doc struct {
		Document struct {
			Placemark struct {
				Name  string `xml:"name"`
				Point struct {
					Coordinates string `xml:"coordinates"`
				} `xml:"Point"`
			} `xml:"Placemark"`
		} `xml:"Document"`
	}
	if err := xml.Unmarshal(b, &doc); err != nil {
		t.Fatalf("KML is not well-formed: %v\n%s", err, b)
	}
	if doc.Document.Placemark.Name != "gps<1>:2947" {
		t.Fatalf("name=%q", doc.Document.Placemark.Name)
	}
	if got := strings.TrimSpace(doc.Document.Placemark.Point.Coordinates); got != "-11.5,48.1173,545.4" {
		t.Fatalf("coordinates=%q", got)
	}
}

func TestCSV(t *testing.T) {
	v := View{Latitude: "1", Longitude: "2", Elevation: "3 m", Time: "t", Speed: "4 km/h", Track: "5", DOP: "P1.0 H1.0", RMS: "H1,V2"}
	b, err := CSV(v)
	if err != nil {
		t.Fatalf("CSV: %v", err)
	}
	if string(b) != "1,2,3 m,t,4 km/h,5,P1.0 H1.0,\"H1,V2\"\n" {
		t.Fatalf("csv=%q", b)
	}
}
