package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"

	"gpsc-ng/internal/replay"
)

type logSummary struct {
	Segments    int
	Frames      int
	Invalid     int
	MaxDuration time.Duration
	KindCounts  map[string]int
}

func summarizeCapture(records []replay.Record) logSummary {
	s := logSummary{KindCounts: map[string]int{}}
	if len(records) == 0 {
		return s
	}

	origin := time.Duration(0)
	hasFrames := false
	segments := 0

	for _, r := range records {
		if r.Frame == nil {
			segments++
			origin = r.At
			continue
		}
		hasFrames = true

		s.Frames++
		at := r.At - origin
		if at < 0 {
			at = 0
		}
		if at > s.MaxDuration {
			s.MaxDuration = at
		}

		kind, ok := frameKind(r.Frame)
		if !ok {
			s.Invalid++
			continue
		}
		s.KindCounts[kind]++
	}
	if segments == 0 && hasFrames {
		segments = 1
	}
	s.Segments = segments

	return s
}

// frameKind names a daemon frame: the JSON report class, the NMEA sentence
// type, or "raw" for anything else.
func frameKind(frame []byte) (string, bool) {
	line := bytes.TrimSpace(frame)
	if len(line) == 0 {
		return "", false
	}
	switch line[0] {
	case '{':
		var base struct {
			Class string `json:"class"`
		}
		if err := json.Unmarshal(line, &base); err != nil || base.Class == "" {
			return "", false
		}
		return base.Class, true
	case '$', '!':
		s, err := nmea.Parse(string(line))
		if err != nil {
			return "", false
		}
		return "NMEA " + s.DataType(), true
	default:
		return "raw", true
	}
}

func printLogSummary(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("path is empty")
	}

	recs, err := replay.ReadFile(path)
	if err != nil {
		return err
	}

	s := summarizeCapture(recs)

	fmt.Printf("path: %s\n", path)
	fmt.Printf("segments: %d\n", s.Segments)
	fmt.Printf("frames: %d\n", s.Frames)
	fmt.Printf("invalid_frames: %d\n", s.Invalid)
	fmt.Printf("max_duration: %s\n", s.MaxDuration)

	kinds := make([]string, 0, len(s.KindCounts))
	for k := range s.KindCounts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	fmt.Printf("kind_counts:\n")
	for _, k := range kinds {
		fmt.Printf("  %s: %d\n", k, s.KindCounts[k])
	}
	return nil
}
