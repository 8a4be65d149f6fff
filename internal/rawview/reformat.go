// Package rawview renders the daemon's raw stream for humans: JSON reports
// and NMEA sentences line by line, raw hex dumps regrouped into byte columns.
package rawview

import (
	"regexp"
	"strings"

	"gpsc-ng/internal/gpsd"
)

const (
	bytesPerWord = 8
	bytesPerLine = 24
)

var (
	nmeaSentence = regexp.MustCompile(`^\$.*\*..$`)
	hexDump      = regexp.MustCompile(`^([0-9a-f]{2})+$`)
)

// Reformat returns the text to append to a display log for payload received
// in mode. tail is the displayed text after its last line break; hex
// regrouping continues from that column so split deliveries render the same
// as one delivery. Lines that don't have the expected shape are dropped.
func Reformat(mode gpsd.StreamMode, payload []byte, tail string) string {
	switch mode {
	case gpsd.ModeJSON:
		line := strings.TrimRight(string(payload), "\r\n")
		if strings.TrimSpace(line) == "" {
			return ""
		}
		return breakLine(tail) + line + "\n"
	case gpsd.ModeNMEA:
		var b strings.Builder
		for _, line := range strings.Split(string(payload), "\n") {
			line = strings.TrimSpace(line)
			if !nmeaSentence.MatchString(line) {
				continue
			}
			if b.Len() == 0 {
				b.WriteString(breakLine(tail))
			}
			b.WriteString(line)
			b.WriteByte('\n')
		}
		return b.String()
	case gpsd.ModeHex:
		return regroupHex(payload, tail)
	default:
		return ""
	}
}

func breakLine(tail string) string {
	if tail == "" {
		return ""
	}
	return "\n"
}

func regroupHex(payload []byte, tail string) string {
	var b strings.Builder
	n := len(tail)
	// Each byte takes three columns plus one extra space per full word.
	n = (n - n/bytesPerLine) / 3
	for _, line := range strings.Split(string(payload), "\n") {
		line = strings.TrimSpace(line)
		if !hexDump.MatchString(line) {
			continue
		}
		for i := 0; i < len(line); i += 2 {
			n++
			b.WriteString(line[i : i+2])
			switch {
			case n%bytesPerLine == 0:
				b.WriteString(" \n")
			case n%bytesPerWord == 0:
				b.WriteString("  ")
			default:
				b.WriteString(" ")
			}
		}
	}
	return b.String()
}
