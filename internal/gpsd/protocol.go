package gpsd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// StreamMode selects what the daemon streams after the watch command.
type StreamMode int

const (
	ModeNone StreamMode = iota
	ModeJSON
	ModeNMEA
	ModeHex
)

func (m StreamMode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeJSON:
		return "json"
	case ModeNMEA:
		return "nmea"
	case ModeHex:
		return "hex"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ParseStreamMode maps a config/CLI string to a StreamMode.
func ParseStreamMode(s string) (StreamMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return ModeJSON, nil
	case "none":
		return ModeNone, nil
	case "nmea":
		return ModeNMEA, nil
	case "hex", "raw":
		return ModeHex, nil
	default:
		return ModeNone, fmt.Errorf("unknown stream mode %q", s)
	}
}

// watchCommand returns the ?WATCH request enabling mode.
func watchCommand(mode StreamMode) string {
	switch mode {
	case ModeJSON:
		// scaled=true yields SI units and degrees.
		return "?WATCH={\"enable\":true,\"json\":true,\"scaled\":true}\n"
	case ModeNMEA:
		return "?WATCH={\"enable\":true,\"nmea\":true}\n"
	case ModeHex:
		return "?WATCH={\"enable\":true,\"raw\":1}\n"
	default:
		return "?WATCH={\"enable\":true}\n"
	}
}

type reportBase struct {
	Class string `json:"class"`
}

type tpvReport struct {
	Device string   `json:"device"`
	Mode   *int     `json:"mode"`
	Time   string   `json:"time"`
	Lat    *float64 `json:"lat"`
	Lon    *float64 `json:"lon"`
	Alt    *float64 `json:"alt"`
	AltHAE *float64 `json:"altHAE"`
	AltMSL *float64 `json:"altMSL"`
	Speed  *float64 `json:"speed"`
	Track  *float64 `json:"track"`
	Climb  *float64 `json:"climb"`
	Epx    *float64 `json:"epx"`
	Epy    *float64 `json:"epy"`
	Epv    *float64 `json:"epv"`
}

type skySat struct {
	PRN  int      `json:"PRN"`
	Az   *float64 `json:"az"`
	El   *float64 `json:"el"`
	Ss   *float64 `json:"ss"`
	Used bool     `json:"used"`
}

type skyReport struct {
	Device     string    `json:"device"`
	Xdop       *float64  `json:"xdop"`
	Ydop       *float64  `json:"ydop"`
	Pdop       *float64  `json:"pdop"`
	Hdop       *float64  `json:"hdop"`
	Vdop       *float64  `json:"vdop"`
	Tdop       *float64  `json:"tdop"`
	Gdop       *float64  `json:"gdop"`
	Satellites *[]skySat `json:"satellites"`
}

type deviceReport struct {
	Path      string  `json:"path"`
	Driver    string  `json:"driver"`
	Subtype   string  `json:"subtype"`
	Activated any     `json:"activated"`
	Bps       int     `json:"bps"`
	Cycle     float64 `json:"cycle"`
}

type devicesReport struct {
	Devices []deviceReport `json:"devices"`
}

type versionReport struct {
	Release    string `json:"release"`
	ProtoMajor int    `json:"proto_major"`
	ProtoMinor int    `json:"proto_minor"`
}

type errorReport struct {
	Message string `json:"message"`
}

// readUpdate decodes one frame into rec. It is the single mutation entry
// point for a live record: flags, attribution and the raw buffer are reset
// before anything else so nothing from a previous read looks fresh.
func readUpdate(rec *Record, mode StreamMode, frame []byte) error {
	rec.Set = 0
	rec.readPath = ""
	rec.Buffer = append(rec.Buffer[:0], frame...)

	line := bytes.TrimSpace(frame)
	if len(line) == 0 {
		return nil
	}
	switch line[0] {
	case '{':
		return applyJSON(rec, line)
	case '$', '!':
		applyNMEA(rec, string(line))
		return nil
	}
	if mode == ModeJSON {
		return &ProtocolError{Msg: fmt.Sprintf("unexpected frame %q", truncate(line, 32))}
	}
	// Hex dumps and other raw payloads only refresh the buffer.
	return nil
}

func applyJSON(rec *Record, line []byte) error {
	var base reportBase
	if err := json.Unmarshal(line, &base); err != nil {
		return &ProtocolError{Msg: "json parse failed", Err: err}
	}

	switch strings.ToUpper(strings.TrimSpace(base.Class)) {
	case "TPV":
		var tpv tpvReport
		if err := json.Unmarshal(line, &tpv); err != nil {
			return &ProtocolError{Msg: "tpv parse failed", Err: err}
		}
		applyTPV(rec, tpv)
	case "SKY":
		var sky skyReport
		if err := json.Unmarshal(line, &sky); err != nil {
			return &ProtocolError{Msg: "sky parse failed", Err: err}
		}
		applySKY(rec, sky)
	case "DEVICES":
		var devs devicesReport
		if err := json.Unmarshal(line, &devs); err != nil {
			return &ProtocolError{Msg: "devices parse failed", Err: err}
		}
		paths := make([]string, 0, len(devs.Devices))
		for _, d := range devs.Devices {
			paths = append(paths, d.Path)
		}
		rec.Devices = paths
		rec.Set |= DeviceListSet
	case "DEVICE":
		var dev deviceReport
		if err := json.Unmarshal(line, &dev); err != nil {
			return &ProtocolError{Msg: "device parse failed", Err: err}
		}
		applyDevice(rec, dev)
	case "VERSION":
		var v versionReport
		if err := json.Unmarshal(line, &v); err != nil {
			return &ProtocolError{Msg: "version parse failed", Err: err}
		}
		rec.Version = VersionInfo{Release: v.Release, ProtoMajor: v.ProtoMajor, ProtoMinor: v.ProtoMinor}
		rec.Set |= VersionSet
	case "ERROR":
		var e errorReport
		if err := json.Unmarshal(line, &e); err != nil {
			return &ProtocolError{Msg: "error parse failed", Err: err}
		}
		rec.LastError = e.Message
		rec.Set |= ErrorSet
	default:
		// WATCH, PPS, TOFF, GST, ATT and friends carry nothing we keep.
	}
	return nil
}

func applyTPV(rec *Record, tpv tpvReport) {
	rec.attribute(tpv.Device)

	if tpv.Mode != nil {
		rec.Fix.Mode = Mode(*tpv.Mode)
		rec.Set |= ModeSet
	}
	if s := strings.TrimSpace(tpv.Time); s != "" {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			rec.Fix.Time = float64(t.UnixNano()) / 1e9
			rec.Set |= TimeSet
		}
	}
	if tpv.Lat != nil && tpv.Lon != nil {
		rec.Fix.Latitude = *tpv.Lat
		rec.Fix.Longitude = *tpv.Lon
		rec.Set |= LatLonSet
	}

	alt := tpv.AltMSL
	if alt == nil {
		alt = tpv.Alt
	}
	if alt == nil {
		alt = tpv.AltHAE
	}
	if alt != nil {
		rec.Fix.Altitude = *alt
		rec.Set |= AltitudeSet
	}
	if tpv.Speed != nil {
		rec.Fix.Speed = *tpv.Speed
		rec.Set |= SpeedSet
	}
	if tpv.Track != nil {
		rec.Fix.Track = *tpv.Track
		rec.Set |= TrackSet
	}
	if tpv.Climb != nil {
		rec.Fix.Climb = *tpv.Climb
		rec.Set |= ClimbSet
	}
	if tpv.Epx != nil || tpv.Epy != nil {
		if tpv.Epx != nil {
			rec.Fix.Epx = *tpv.Epx
		}
		if tpv.Epy != nil {
			rec.Fix.Epy = *tpv.Epy
		}
		rec.Set |= HErrSet
	}
	if tpv.Epv != nil {
		rec.Fix.Epv = *tpv.Epv
		rec.Set |= VErrSet
	}
}

func applySKY(rec *Record, sky skyReport) {
	rec.attribute(sky.Device)

	dops := []struct {
		src *float64
		dst *float64
	}{
		{sky.Pdop, &rec.DOP.PDOP},
		{sky.Hdop, &rec.DOP.HDOP},
		{sky.Vdop, &rec.DOP.VDOP},
		{sky.Tdop, &rec.DOP.TDOP},
		{sky.Gdop, &rec.DOP.GDOP},
	}
	for _, d := range dops {
		if d.src != nil {
			*d.dst = *d.src
			rec.Set |= DOPSet
		}
	}

	if sky.Satellites == nil {
		return
	}
	visible := make([]Satellite, 0, len(*sky.Satellites))
	used := make([]int, 0, len(*sky.Satellites))
	for _, s := range *sky.Satellites {
		sat := Satellite{PRN: s.PRN}
		if s.Az != nil {
			sat.Azimuth = *s.Az
		}
		if s.El != nil {
			sat.Elevation = *s.El
		}
		if s.Ss != nil {
			sat.SNR = *s.Ss
		}
		visible = append(visible, sat)
		if s.Used {
			used = append(used, s.PRN)
		}
	}
	rec.setSky(visible, used)
	rec.Set |= SatelliteSet | UsedSet
}

func applyDevice(rec *Record, dev deviceReport) {
	rec.attribute(dev.Path)
	info := DeviceInfo{
		Path:    dev.Path,
		Driver:  dev.Driver,
		Subtype: dev.Subtype,
		Bps:     dev.Bps,
	}
	// Older daemons send activation as epoch seconds, newer ones as ISO8601.
	switch v := dev.Activated.(type) {
	case float64:
		info.Activated = v
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			info.Activated = float64(t.UnixNano()) / 1e9
		}
	}
	rec.Dev = info
	rec.Set |= DeviceIDSet
}

// attribute records which device produced the current read.
func (r *Record) attribute(path string) {
	path = strings.TrimSpace(path)
	if path == "" {
		return
	}
	r.readPath = path
	r.Path = path
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
