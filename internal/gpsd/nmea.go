package gpsd

import (
	"sort"
	"strconv"
	"strings"

	"github.com/adrianmo/go-nmea"
)

const knotsToMPS = 0.514444

// gsvState accumulates multi-part GSV views per talker until the last part
// of a sequence arrives. Used PRNs are kept per GSA talker and system ID,
// since multi-GNSS receivers send one GSA per system each epoch.
type gsvState struct {
	pending map[string][]Satellite
	views   map[string][]Satellite
	used    map[string][]int
}

func (g *gsvState) add(talker string, total, num int64, sats []Satellite) bool {
	if g.pending == nil {
		g.pending = make(map[string][]Satellite)
	}
	if g.views == nil {
		g.views = make(map[string][]Satellite)
	}
	if num <= 1 {
		g.pending[talker] = nil
	}
	g.pending[talker] = append(g.pending[talker], sats...)
	if num < total {
		return false
	}
	g.views[talker] = g.pending[talker]
	delete(g.pending, talker)
	return true
}

func (g *gsvState) setUsed(talker string, system int64, prns []int) {
	if g.used == nil {
		g.used = make(map[string][]int)
	}
	g.used[talker+"/"+strconv.FormatInt(system, 10)] = prns
}

func (g *gsvState) usedPRNs() []int {
	keys := make([]string, 0, len(g.used))
	for k := range g.used {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out []int
	for _, k := range keys {
		out = append(out, g.used[k]...)
	}
	return out
}

func (g *gsvState) visible() []Satellite {
	talkers := make([]string, 0, len(g.views))
	for t := range g.views {
		talkers = append(talkers, t)
	}
	sort.Strings(talkers)
	var out []Satellite
	for _, t := range talkers {
		out = append(out, g.views[t]...)
	}
	return out
}

// applyNMEA folds one NMEA sentence into rec. Unparseable or unsupported
// sentences leave every flag clear.
func applyNMEA(rec *Record, line string) {
	s, err := nmea.Parse(line)
	if err != nil {
		return
	}

	switch m := s.(type) {
	case nmea.RMC:
		if m.Validity != nmea.ValidRMC {
			return
		}
		if m.Date.Valid && m.Time.Valid {
			t := nmea.DateTime(0, m.Date, m.Time)
			rec.Fix.Time = float64(t.UnixNano()) / 1e9
			rec.Set |= TimeSet
		}
		rec.Fix.Latitude = m.Latitude
		rec.Fix.Longitude = m.Longitude
		rec.Fix.Speed = m.Speed * knotsToMPS
		rec.Fix.Track = m.Course
		rec.Set |= LatLonSet | SpeedSet | TrackSet
	case nmea.GGA:
		if m.FixQuality == nmea.Invalid {
			return
		}
		rec.Fix.Latitude = m.Latitude
		rec.Fix.Longitude = m.Longitude
		rec.Fix.Altitude = m.Altitude
		rec.Set |= LatLonSet | AltitudeSet
	case nmea.GSA:
		switch m.FixType {
		case nmea.FixNone:
			rec.Fix.Mode = ModeNoFix
		case nmea.Fix2D:
			rec.Fix.Mode = Mode2D
		case nmea.Fix3D:
			rec.Fix.Mode = Mode3D
		}
		rec.Set |= ModeSet
		rec.DOP.PDOP = m.PDOP
		rec.DOP.HDOP = m.HDOP
		rec.DOP.VDOP = m.VDOP
		rec.Set |= DOPSet

		used := make([]int, 0, len(m.SV))
		for _, sv := range m.SV {
			prn, err := strconv.Atoi(strings.TrimSpace(sv))
			if err != nil || prn <= 0 {
				continue
			}
			used = append(used, prn)
		}
		rec.gsv.setUsed(m.Talker, m.SystemID, used)
		rec.setSky(append([]Satellite(nil), rec.Visible...), rec.gsv.usedPRNs())
		rec.Set |= UsedSet
	case nmea.GSV:
		sats := make([]Satellite, 0, len(m.Info))
		for _, info := range m.Info {
			if info.SVPRNNumber <= 0 {
				continue
			}
			sats = append(sats, Satellite{
				PRN:       int(info.SVPRNNumber),
				Azimuth:   float64(info.Azimuth),
				Elevation: float64(info.Elevation),
				SNR:       float64(info.SNR),
			})
		}
		if !rec.gsv.add(m.Talker, m.TotalMessages, m.MessageNumber, sats) {
			return
		}
		rec.setSky(rec.gsv.visible(), rec.gsv.usedPRNs())
		rec.Set |= SatelliteSet | UsedSet
	case nmea.VTG:
		rec.Fix.Track = m.TrueTrack
		rec.Fix.Speed = m.GroundSpeedKnots * knotsToMPS
		rec.Set |= SpeedSet | TrackSet
	}
}
