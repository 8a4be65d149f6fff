package gpsd

import "strings"

// Flags reports which Record sub-fields were populated by the most recent read.
type Flags uint32

const (
	LatLonSet Flags = 1 << iota
	AltitudeSet
	SpeedSet
	TrackSet
	ClimbSet
	TimeSet
	DOPSet
	SatelliteSet
	UsedSet
	DeviceListSet
	DeviceIDSet
	ModeSet
	HErrSet
	VErrSet
	VersionSet
	ErrorSet
)

// PositionFlags are the bits that trigger a position update.
const PositionFlags = LatLonSet | AltitudeSet | SpeedSet | TrackSet | ClimbSet

var flagNames = []struct {
	f    Flags
	name string
}{
	{LatLonSet, "LATLON"},
	{AltitudeSet, "ALTITUDE"},
	{SpeedSet, "SPEED"},
	{TrackSet, "TRACK"},
	{ClimbSet, "CLIMB"},
	{TimeSet, "TIME"},
	{DOPSet, "DOP"},
	{SatelliteSet, "SATELLITE"},
	{UsedSet, "USED"},
	{DeviceListSet, "DEVICELIST"},
	{DeviceIDSet, "DEVICEID"},
	{ModeSet, "MODE"},
	{HErrSet, "HERR"},
	{VErrSet, "VERR"},
	{VersionSet, "VERSION"},
	{ErrorSet, "ERROR"},
}

// Has reports whether any bit of f is set.
func (s Flags) Has(f Flags) bool {
	return s&f != 0
}

func (s Flags) String() string {
	if s == 0 {
		return "NONE"
	}
	parts := make([]string, 0, 4)
	for _, n := range flagNames {
		if s&n.f != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}
