package main

import (
	"fmt"
	"io"
	"sync"

	"gpsc-ng/internal/export"
	"gpsc-ng/internal/gpsd"
	"gpsc-ng/internal/web"
)

// consoleReporter prints one line per position update and every
// connection state change.
type consoleReporter struct {
	mu sync.Mutex
	w  io.Writer
	st *web.Status
}

func newConsoleReporter(w io.Writer, st *web.Status) *consoleReporter {
	return &consoleReporter{w: w, st: st}
}

func (r *consoleReporter) attach(c *gpsd.Client) (detach func()) {
	cancels := []func(){
		c.On(gpsd.PositionUpdated, func() {
			v, _ := r.st.View()
			r.printf("%s\n", formatView(v))
		}),
		c.On(gpsd.DeviceListUpdated, func() {
			if dev := c.Device(); dev != "" && !c.Data().HasDevice(dev) {
				r.printf("warning: previously selected device %s has disappeared\n", dev)
			}
		}),
		c.On(gpsd.DataUpdated, func() {
			r.printf("status %s\n", export.StatusLine(c.Data()))
		}),
		c.OnConnectionStatus(func(connected bool) {
			if connected {
				r.printf("connected %s\n", c.Addr())
			} else {
				r.printf("disconnected\n")
			}
		}),
		c.OnConnectionError(func(code int) {
			r.printf("connection error: %s\n", gpsd.ErrorString(code))
		}),
	}
	return func() {
		for _, cancel := range cancels {
			cancel()
		}
	}
}

func (r *consoleReporter) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, _ = fmt.Fprintf(r.w, format, args...)
}

func formatView(v export.View) string {
	s := v.Mode
	if v.Time != "" {
		s += " " + v.Time
	}
	if v.Latitude != "" {
		s += fmt.Sprintf(" lat=%s lon=%s", v.Latitude, v.Longitude)
	}
	if v.Elevation != "" {
		s += " alt=" + v.Elevation
	}
	if v.Speed != "" {
		s += fmt.Sprintf(" speed=%s track=%s", v.Speed, v.Track)
	}
	return s
}
