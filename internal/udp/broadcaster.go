// Package udp forwards position fixes as JSON datagrams.
package udp

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"sync"
	"time"

	"gpsc-ng/internal/gpsd"
)

type udpConn interface {
	Write(p []byte) (int, error)
	Close() error
}

type resolveFunc func(network, address string) (*net.UDPAddr, error)
type dialFunc func(network string, laddr, raddr *net.UDPAddr) (udpConn, error)

type Broadcaster struct {
	dest string
	conn udpConn

	mu       sync.Mutex
	lastErr  string
	failures int
}

func NewBroadcaster(dest string) (*Broadcaster, error) {
	return newBroadcaster(dest, net.ResolveUDPAddr, func(network string, laddr, raddr *net.UDPAddr) (udpConn, error) {
		return net.DialUDP(network, laddr, raddr)
	})
}

func newBroadcaster(dest string, resolve resolveFunc, dial dialFunc) (*Broadcaster, error) {
	addr, err := resolve("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("resolve dest: %w", err)
	}

	// DialUDP selects a suitable local address automatically.
	conn, err := dial("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}

	return &Broadcaster{dest: dest, conn: conn}, nil
}

func (b *Broadcaster) Send(payload []byte) error {
	if len(payload) == 0 {
		return nil
	}
	_, err := b.conn.Write(payload)
	return err
}

func (b *Broadcaster) Close() error {
	if b.conn == nil {
		return nil
	}
	return b.conn.Close()
}

// Fix is the datagram sent for every position update.
type Fix struct {
	Class  string  `json:"class"`
	Device string  `json:"device,omitempty"`
	Mode   int     `json:"mode"`
	Time   string  `json:"time,omitempty"`
	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Alt    float64 `json:"alt,omitempty"`
	Speed  float64 `json:"speed"`
	Track  float64 `json:"track"`
	Climb  float64 `json:"climb,omitempty"`
}

func NewFix(rec gpsd.Record) Fix {
	f := Fix{
		Class:  "FIX",
		Device: rec.Path,
		Mode:   int(rec.Fix.Mode),
		Lat:    rec.Fix.Latitude,
		Lon:    rec.Fix.Longitude,
		Speed:  rec.Fix.Speed,
		Track:  rec.Fix.Track,
		Climb:  rec.Fix.Climb,
	}
	if rec.Fix.Mode >= gpsd.Mode3D {
		f.Alt = rec.Fix.Altitude
	}
	if t := rec.Fix.UTC(); !t.IsZero() {
		f.Time = t.Format(time.RFC3339Nano)
	}
	return f
}

// SendFix encodes rec's fix and sends it. Failures are counted and only the
// first of a run is logged.
func (b *Broadcaster) SendFix(rec gpsd.Record) error {
	payload, err := json.Marshal(NewFix(rec))
	if err != nil {
		return err
	}
	err = b.Send(payload)

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		if b.failures == 0 {
			log.Printf("udp send failed dest=%s err=%v", b.dest, err)
		}
		b.failures++
		b.lastErr = err.Error()
		return err
	}
	if b.failures > 0 {
		log.Printf("udp send recovered dest=%s failures=%d", b.dest, b.failures)
	}
	b.failures = 0
	b.lastErr = ""
	return nil
}

// LastError returns the most recent send error, or "" after a success.
func (b *Broadcaster) LastError() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastErr
}

// Attach sends a fix on every position update of c until detach is called.
func (b *Broadcaster) Attach(c *gpsd.Client) (detach func()) {
	return c.On(gpsd.PositionUpdated, func() { _ = b.SendFix(c.Data()) })
}
