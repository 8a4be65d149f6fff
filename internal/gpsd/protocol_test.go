package gpsd

import (
	"errors"
	"math"
	"testing"
)

func TestReadUpdate_TPVPopulatesFix(t *testing.T) {
	rec := newRecord()
	line := `{"class":"TPV","device":"/dev/ttyACM0","mode":3,"time":"2025-12-22T12:00:00.500Z","lat":45.5,"lon":-122.9,"altMSL":100.0,"alt":99.0,"speed":50.0,"track":270.0,"climb":1.0,"epx":3.0,"epy":4.0,"epv":7.0}`
	if err := readUpdate(&rec, ModeJSON, []byte(line+"\n")); err != nil {
		t.Fatalf("readUpdate: %v", err)
	}

	want := LatLonSet | AltitudeSet | SpeedSet | TrackSet | ClimbSet | TimeSet | ModeSet | HErrSet | VErrSet
	if rec.Set != want {
		t.Fatalf("set=%s want %s", rec.Set, want)
	}
	if rec.Fix.Mode != Mode3D {
		t.Fatalf("mode=%v", rec.Fix.Mode)
	}
	if math.Abs(rec.Fix.Latitude-45.5) > 1e-9 || math.Abs(rec.Fix.Longitude+122.9) > 1e-9 {
		t.Fatalf("lat/lon=%v/%v", rec.Fix.Latitude, rec.Fix.Longitude)
	}
	if rec.Fix.Altitude != 100.0 {
		t.Fatalf("alt=%v want altMSL", rec.Fix.Altitude)
	}
	if math.Abs(rec.Fix.Eph()-5.0) > 1e-9 {
		t.Fatalf("eph=%v", rec.Fix.Eph())
	}
	if got := rec.Fix.UTC(); got.Hour() != 12 || got.Nanosecond() != 500_000_000 {
		t.Fatalf("time=%v", got)
	}
	if rec.Path != "/dev/ttyACM0" || rec.readPath != "/dev/ttyACM0" {
		t.Fatalf("path=%q readPath=%q", rec.Path, rec.readPath)
	}
	if string(rec.Buffer) != line+"\n" {
		t.Fatalf("buffer=%q", rec.Buffer)
	}
}

func TestReadUpdate_TPVWithoutPositionSetsOnlyMode(t *testing.T) {
	rec := newRecord()
	if err := readUpdate(&rec, ModeJSON, []byte(`{"class":"TPV","mode":1}`)); err != nil {
		t.Fatalf("readUpdate: %v", err)
	}
	if rec.Set != ModeSet {
		t.Fatalf("set=%s", rec.Set)
	}
	if rec.Fix.Mode != ModeNoFix {
		t.Fatalf("mode=%v", rec.Fix.Mode)
	}
}

func TestReadUpdate_SKYKeepsUsedSubsetOfVisible(t *testing.T) {
	rec := newRecord()
	line := `{"class":"SKY","hdop":0.9,"pdop":1.6,"satellites":[` +
		`{"PRN":7,"az":120,"el":45,"ss":38,"used":true},` +
		`{"PRN":3,"az":10,"el":5,"ss":12,"used":false},` +
		`{"PRN":7,"az":120,"el":45,"ss":38,"used":true},` +
		`{"PRN":-1,"used":false}]}`
	if err := readUpdate(&rec, ModeJSON, []byte(line)); err != nil {
		t.Fatalf("readUpdate: %v", err)
	}
	if !rec.Flag(SatelliteSet) || !rec.Flag(DOPSet) || !rec.Flag(UsedSet) {
		t.Fatalf("set=%s", rec.Set)
	}
	if rec.Flag(PositionFlags) {
		t.Fatalf("sky set position flags: %s", rec.Set)
	}
	if rec.DOP.HDOP != 0.9 || rec.DOP.PDOP != 1.6 {
		t.Fatalf("dop=%+v", rec.DOP)
	}
	if rec.SatellitesUsed != 1 || len(rec.Used) != 1 || rec.Used[0] != 7 {
		t.Fatalf("used=%v count=%d", rec.Used, rec.SatellitesUsed)
	}

	sats := rec.Satellites()
	if len(sats) != 3 {
		t.Fatalf("satellites=%+v", sats)
	}
	if sats[0].PRN != 3 || sats[0].Used {
		t.Fatalf("sats[0]=%+v", sats[0])
	}
	for _, s := range sats {
		if s.PRN == -1 {
			t.Fatalf("sentinel prn handed out")
		}
		if !s.Healthy {
			t.Fatalf("prn %d not healthy", s.PRN)
		}
	}
}

func TestReadUpdate_DevicesAndDevice(t *testing.T) {
	rec := newRecord()
	devs := `{"class":"DEVICES","devices":[{"path":"/dev/ttyUSB0","driver":"NMEA0183"},{"path":"/dev/ttyACM0","driver":"u-blox"}]}`
	if err := readUpdate(&rec, ModeJSON, []byte(devs)); err != nil {
		t.Fatalf("readUpdate: %v", err)
	}
	if rec.Set != DeviceListSet {
		t.Fatalf("set=%s", rec.Set)
	}
	if len(rec.Devices) != 2 || rec.Devices[0] != "/dev/ttyUSB0" || rec.Devices[1] != "/dev/ttyACM0" {
		t.Fatalf("devices=%v", rec.Devices)
	}
	if rec.readPath != "" {
		t.Fatalf("device list should be unattributed, got %q", rec.readPath)
	}

	dev := `{"class":"DEVICE","path":"/dev/ttyACM0","driver":"u-blox","subtype":"SW 1.00","activated":"2025-12-22T12:00:00.000Z","bps":9600}`
	if err := readUpdate(&rec, ModeJSON, []byte(dev)); err != nil {
		t.Fatalf("readUpdate: %v", err)
	}
	if rec.Set != DeviceIDSet {
		t.Fatalf("set=%s", rec.Set)
	}
	if rec.Dev.Driver != "u-blox" || rec.Dev.Subtype != "SW 1.00" || rec.Dev.Bps != 9600 || rec.Dev.Activated <= 0 {
		t.Fatalf("dev=%+v", rec.Dev)
	}
	if rec.readPath != "/dev/ttyACM0" {
		t.Fatalf("readPath=%q", rec.readPath)
	}
}

func TestReadUpdate_VersionAndError(t *testing.T) {
	rec := newRecord()
	if err := readUpdate(&rec, ModeJSON, []byte(`{"class":"VERSION","release":"3.25","rev":"3.25","proto_major":3,"proto_minor":15}`)); err != nil {
		t.Fatalf("readUpdate: %v", err)
	}
	if rec.Set != VersionSet || rec.Version.Release != "3.25" || rec.Version.ProtoMinor != 15 {
		t.Fatalf("set=%s version=%+v", rec.Set, rec.Version)
	}
	if err := readUpdate(&rec, ModeJSON, []byte(`{"class":"ERROR","message":"unrecognized request"}`)); err != nil {
		t.Fatalf("readUpdate: %v", err)
	}
	if rec.Set != ErrorSet || rec.LastError != "unrecognized request" {
		t.Fatalf("set=%s last_error=%q", rec.Set, rec.LastError)
	}
}

func TestReadUpdate_UnknownClassSetsNothing(t *testing.T) {
	rec := newRecord()
	if err := readUpdate(&rec, ModeJSON, []byte(`{"class":"WATCH","enable":true,"json":true}`)); err != nil {
		t.Fatalf("readUpdate: %v", err)
	}
	if rec.Set != 0 {
		t.Fatalf("set=%s", rec.Set)
	}
}

func TestReadUpdate_FlagsResetEveryRead(t *testing.T) {
	rec := newRecord()
	_ = readUpdate(&rec, ModeJSON, []byte(`{"class":"TPV","mode":3,"lat":1,"lon":2}`))
	if !rec.Flag(LatLonSet) {
		t.Fatalf("expected LATLON after TPV")
	}
	_ = readUpdate(&rec, ModeJSON, []byte(`{"class":"SKY","satellites":[]}`))
	if rec.Flag(LatLonSet) || rec.Flag(ModeSet) {
		t.Fatalf("stale flags after SKY: %s", rec.Set)
	}
	if rec.Fix.Latitude != 1 {
		t.Fatalf("values should persist, lat=%v", rec.Fix.Latitude)
	}
	_ = readUpdate(&rec, ModeJSON, []byte("\n"))
	if rec.Set != 0 {
		t.Fatalf("blank line set=%s", rec.Set)
	}
}

func TestReadUpdate_MalformedJSONIsProtocolError(t *testing.T) {
	rec := newRecord()
	err := readUpdate(&rec, ModeJSON, []byte(`{"class":"TPV","lat":`))
	var perr *ProtocolError
	if !errors.As(err, &perr) {
		t.Fatalf("err=%v want ProtocolError", err)
	}
}

func TestReadUpdate_NonJSONLineDependsOnMode(t *testing.T) {
	rec := newRecord()
	if err := readUpdate(&rec, ModeJSON, []byte("b562010203")); err == nil {
		t.Fatalf("expected framing error in json mode")
	}
	rec = newRecord()
	if err := readUpdate(&rec, ModeHex, []byte("b562010203\n")); err != nil {
		t.Fatalf("hex mode err: %v", err)
	}
	if rec.Set != 0 || string(rec.Buffer) != "b562010203\n" {
		t.Fatalf("set=%s buffer=%q", rec.Set, rec.Buffer)
	}
}

func TestParseStreamMode(t *testing.T) {
	cases := []struct {
		in   string
		want StreamMode
		err  bool
	}{
		{"", ModeJSON, false},
		{"JSON", ModeJSON, false},
		{"nmea", ModeNMEA, false},
		{"raw", ModeHex, false},
		{"hex", ModeHex, false},
		{"none", ModeNone, false},
		{"binary", ModeNone, true},
	}
	for _, tc := range cases {
		got, err := ParseStreamMode(tc.in)
		if (err != nil) != tc.err {
			t.Fatalf("%q: err=%v", tc.in, err)
		}
		if !tc.err && got != tc.want {
			t.Fatalf("%q: got %v want %v", tc.in, got, tc.want)
		}
	}
}

func TestWatchCommand(t *testing.T) {
	cases := map[StreamMode]string{
		ModeNone: "?WATCH={\"enable\":true}\n",
		ModeJSON: "?WATCH={\"enable\":true,\"json\":true,\"scaled\":true}\n",
		ModeNMEA: "?WATCH={\"enable\":true,\"nmea\":true}\n",
		ModeHex:  "?WATCH={\"enable\":true,\"raw\":1}\n",
	}
	for mode, want := range cases {
		if got := watchCommand(mode); got != want {
			t.Fatalf("%v: got %q want %q", mode, got, want)
		}
	}
}
