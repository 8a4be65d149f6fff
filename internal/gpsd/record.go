package gpsd

import (
	"math"
	"sort"
	"time"
)

// Mode is the fix mode reported by the daemon.
type Mode int

const (
	ModeNotSeen Mode = 0
	ModeNoFix   Mode = 1
	Mode2D      Mode = 2
	Mode3D      Mode = 3
)

func (m Mode) String() string {
	switch m {
	case ModeNotSeen:
		return "No data"
	case ModeNoFix:
		return "No fix"
	case Mode2D:
		return "2D fix"
	case Mode3D:
		return "3D fix"
	default:
		return "Unknown mode"
	}
}

// Fix is one positioning solution. Units are SI: meters, m/s and degrees.
type Fix struct {
	Time      float64 `json:"time"` // seconds since the Unix epoch
	Mode      Mode    `json:"mode"`
	Latitude  float64 `json:"lat"`
	Longitude float64 `json:"lon"`
	Altitude  float64 `json:"alt"`
	Speed     float64 `json:"speed"`
	Track     float64 `json:"track"`
	Climb     float64 `json:"climb"`
	Epx       float64 `json:"epx"`
	Epy       float64 `json:"epy"`
	Epv       float64 `json:"epv"`
}

// UTC returns the fix time, or the zero time when none was reported.
func (f Fix) UTC() time.Time {
	if f.Time <= 0 {
		return time.Time{}
	}
	sec, frac := math.Modf(f.Time)
	return time.Unix(int64(sec), int64(math.Round(frac*1e9))).UTC()
}

// Eph is the horizontal error estimate derived from epx and epy.
func (f Fix) Eph() float64 {
	return math.Sqrt(f.Epx*f.Epx + f.Epy*f.Epy)
}

// DOP holds the dilution-of-precision scalars.
type DOP struct {
	PDOP float64 `json:"pdop"`
	HDOP float64 `json:"hdop"`
	VDOP float64 `json:"vdop"`
	TDOP float64 `json:"tdop"`
	GDOP float64 `json:"gdop"`
}

// Satellite is one entry of the visible constellation.
type Satellite struct {
	PRN       int     `json:"prn"`
	Azimuth   float64 `json:"az"`
	Elevation float64 `json:"el"`
	SNR       float64 `json:"snr"`
	Used      bool    `json:"used"`
	Healthy   bool    `json:"healthy"`
}

// DeviceInfo describes the device named in the last DEVICE report.
type DeviceInfo struct {
	Path      string  `json:"path,omitempty"`
	Driver    string  `json:"driver,omitempty"`
	Subtype   string  `json:"subtype,omitempty"`
	Activated float64 `json:"activated,omitempty"`
	Bps       int     `json:"bps,omitempty"`
}

// VersionInfo is the daemon's VERSION banner.
type VersionInfo struct {
	Release    string `json:"release,omitempty"`
	ProtoMajor int    `json:"proto_major,omitempty"`
	ProtoMinor int    `json:"proto_minor,omitempty"`
}

// Record is the decoded fix/status state of one daemon session.
type Record struct {
	FD   int    `json:"fd"`
	Path string `json:"path,omitempty"`
	Set  Flags  `json:"set"`

	Fix Fix `json:"fix"`
	DOP DOP `json:"dop"`

	SatellitesVisible int         `json:"satellites_visible"`
	SatellitesUsed    int         `json:"satellites_used"`
	Visible           []Satellite `json:"visible,omitempty"`
	Used              []int       `json:"used,omitempty"`

	Devices []string    `json:"devices,omitempty"`
	Dev     DeviceInfo  `json:"dev"`
	Version VersionInfo `json:"version"`

	LastError string `json:"last_error,omitempty"`
	Buffer    []byte `json:"-"`

	// readPath is the device this read was attributed to; empty for
	// daemon-global reports.
	readPath string
	gsv      gsvState
}

func newRecord() Record {
	return Record{FD: -1}
}

// Valid reports whether the record belongs to an open session.
func (r Record) Valid() bool {
	return r.FD >= 0
}

// Flag reports whether any of f was populated by the read that produced r.
func (r Record) Flag(f Flags) bool {
	return r.Set.Has(f)
}

// Satellites returns the visible constellation with sentinel entries removed,
// sorted by PRN. Used is derived from the used-PRN list.
func (r Record) Satellites() []Satellite {
	used := make(map[int]struct{}, len(r.Used))
	for _, prn := range r.Used {
		used[prn] = struct{}{}
	}
	out := make([]Satellite, 0, len(r.Visible))
	for _, s := range r.Visible {
		if s.PRN == -1 {
			continue
		}
		_, s.Used = used[s.PRN]
		s.Healthy = true
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PRN < out[j].PRN })
	return out
}

// HasDevice reports whether path is in the last device list.
func (r Record) HasDevice(path string) bool {
	for _, d := range r.Devices {
		if d == path {
			return true
		}
	}
	return false
}

func (r Record) clone() Record {
	out := r
	out.Visible = append([]Satellite(nil), r.Visible...)
	out.Used = append([]int(nil), r.Used...)
	out.Devices = append([]string(nil), r.Devices...)
	out.Buffer = append([]byte(nil), r.Buffer...)
	out.gsv = gsvState{}
	return out
}

// setSky replaces the constellation and keeps Used consistent with Visible.
func (r *Record) setSky(visible []Satellite, usedPRNs []int) {
	inView := make(map[int]struct{}, len(visible))
	for _, s := range visible {
		inView[s.PRN] = struct{}{}
	}
	used := make([]int, 0, len(usedPRNs))
	seen := make(map[int]struct{}, len(usedPRNs))
	for _, prn := range usedPRNs {
		if _, ok := inView[prn]; !ok {
			continue
		}
		if _, dup := seen[prn]; dup {
			continue
		}
		seen[prn] = struct{}{}
		used = append(used, prn)
	}
	for i := range visible {
		_, visible[i].Used = seen[visible[i].PRN]
		visible[i].Healthy = true
	}
	r.Visible = visible
	r.Used = used
	r.SatellitesVisible = len(visible)
	r.SatellitesUsed = len(used)
}
