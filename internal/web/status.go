package web

import (
	"sync/atomic"
	"time"

	"gpsc-ng/internal/export"
	"gpsc-ng/internal/gpsd"
)

// Status tracks one client for the status endpoints.
type Status struct {
	client *gpsd.Client

	startUnixNano int64
	readsTotal    uint64
	lastReadNano  int64
	lastErrCode   int64
	name          atomic.Value // string
	units         atomic.Value // export.Units
}

func NewStatus(c *gpsd.Client) *Status {
	s := &Status{client: c}
	atomic.StoreInt64(&s.startUnixNano, time.Now().UTC().UnixNano())
	s.name.Store("")
	s.units.Store(export.DefaultUnits())
	return s
}

// Attach counts c's reads and remembers its last connection error.
func (s *Status) Attach() (detach func()) {
	offRead := s.client.On(gpsd.DataReceived, func() {
		atomic.AddUint64(&s.readsTotal, 1)
		atomic.StoreInt64(&s.lastReadNano, time.Now().UTC().UnixNano())
	})
	offErr := s.client.OnConnectionError(func(code int) {
		atomic.StoreInt64(&s.lastErrCode, int64(code))
	})
	offStatus := s.client.OnConnectionStatus(func(connected bool) {
		if connected {
			atomic.StoreInt64(&s.lastErrCode, 0)
		}
	})
	return func() {
		offRead()
		offErr()
		offStatus()
	}
}

// SetTarget sets the "host:port/device" label shown for the session.
func (s *Status) SetTarget(name string) {
	s.name.Store(name)
}

func (s *Status) SetUnits(u export.Units) {
	s.units.Store(u)
}

func (s *Status) Units() export.Units {
	return s.units.Load().(export.Units)
}

// View renders the client's current record with the configured units.
func (s *Status) View() (export.View, gpsd.Record) {
	rec := s.client.Data()
	return export.NewView(s.name.Load().(string), rec, s.Units()), rec
}

type StatusSnapshot struct {
	Service     string           `json:"service"`
	NowUTC      string           `json:"now_utc"`
	UptimeSec   int64            `json:"uptime_sec"`
	Addr        string           `json:"addr,omitempty"`
	Device      string           `json:"device,omitempty"`
	Connected   bool             `json:"connected"`
	ErrorCode   int              `json:"error_code,omitempty"`
	Error       string           `json:"error,omitempty"`
	ReadsTotal  uint64           `json:"reads_total"`
	LastReadUTC string           `json:"last_read_utc,omitempty"`
	Flags       string           `json:"flags"`
	View        export.View      `json:"view"`
	Daemon      gpsd.VersionInfo `json:"daemon"`
	LastReport  string           `json:"last_report_error,omitempty"`
}

func (s *Status) Snapshot(nowUTC time.Time) StatusSnapshot {
	if nowUTC.IsZero() {
		nowUTC = time.Now().UTC()
	}
	start := time.Unix(0, atomic.LoadInt64(&s.startUnixNano)).UTC()
	view, rec := s.View()

	snap := StatusSnapshot{
		Service:    "gpsc-ng",
		NowUTC:     nowUTC.UTC().Format(time.RFC3339Nano),
		UptimeSec:  int64(nowUTC.Sub(start).Seconds()),
		Addr:       s.client.Addr(),
		Device:     s.client.Device(),
		Connected:  s.client.IsConnected(),
		ReadsTotal: atomic.LoadUint64(&s.readsTotal),
		Flags:      rec.Set.String(),
		View:       view,
		Daemon:     rec.Version,
		LastReport: rec.LastError,
	}
	if code := int(atomic.LoadInt64(&s.lastErrCode)); code != 0 {
		snap.ErrorCode = code
		snap.Error = gpsd.ErrorString(code)
	}
	if last := atomic.LoadInt64(&s.lastReadNano); last != 0 {
		snap.LastReadUTC = time.Unix(0, last).UTC().Format(time.RFC3339Nano)
	}
	return snap
}
