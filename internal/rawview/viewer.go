package rawview

import (
	"context"
	"log"
	"sync"

	"gpsc-ng/internal/gpsd"
)

// Viewer runs its own daemon session in a raw watch mode and appends each
// received frame, reformatted, to a Log.
type Viewer struct {
	client *gpsd.Client
	log    *Log

	mu   sync.Mutex
	host string
	port string
	mode gpsd.StreamMode

	cancel func()
}

func NewViewer(client *gpsd.Client, l *Log) *Viewer {
	v := &Viewer{client: client, log: l, mode: gpsd.ModeNone}
	v.cancel = client.On(gpsd.DataReceived, v.update)
	return v
}

func (v *Viewer) Log() *Log { return v.log }

func (v *Viewer) Mode() gpsd.StreamMode {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.mode
}

// SetTarget selects the daemon. It does not reconnect.
func (v *Viewer) SetTarget(host, port string) {
	v.mu.Lock()
	v.host, v.port = host, port
	v.mu.Unlock()
}

// SetMode switches the watch mode. ModeNone closes the session; any other
// mode (re)connects when a target is set.
func (v *Viewer) SetMode(ctx context.Context, mode gpsd.StreamMode) error {
	v.mu.Lock()
	v.mode = mode
	host, port := v.host, v.port
	v.mu.Unlock()

	if mode == gpsd.ModeNone {
		v.client.Disconnect()
		return nil
	}
	if host == "" {
		return nil
	}
	return v.client.Connect(ctx, host, port, mode)
}

// Follow mirrors the main session: connected starts streaming in the current
// mode, disconnected stops.
func (v *Viewer) Follow(ctx context.Context, connected bool) {
	v.mu.Lock()
	mode, host, port := v.mode, v.host, v.port
	v.mu.Unlock()

	if !connected || host == "" || mode == gpsd.ModeNone {
		v.client.Disconnect()
		return
	}
	if err := v.client.Connect(ctx, host, port, mode); err != nil {
		log.Printf("raw viewer connect failed: %v", err)
	}
}

func (v *Viewer) Close() {
	if v.cancel != nil {
		v.cancel()
	}
	v.client.Close()
}

func (v *Viewer) update() {
	mode := v.Mode()
	rec := v.client.Data()
	text := Reformat(mode, rec.Buffer, v.log.Tail())
	if text == "" {
		return
	}
	_, _ = v.log.Write([]byte(text))
}
