package web

import (
	"fmt"
	"log"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gpsc-ng/internal/export"
	"gpsc-ng/internal/gpsd"
)

// Event is one message on the /api/events stream.
type Event struct {
	Type string `json:"type"`
	Time string `json:"time"`
	Data any    `json:"data,omitempty"`
}

type SatellitesEvent struct {
	Visible    int              `json:"visible"`
	Used       int              `json:"used"`
	Satellites []gpsd.Satellite `json:"satellites"`
}

type DevicesEvent struct {
	Devices []string        `json:"devices"`
	Device  gpsd.DeviceInfo `json:"device"`
}

type StatusEvent struct {
	Connected bool   `json:"connected"`
	Code      int    `json:"code,omitempty"`
	Error     string `json:"error,omitempty"`
	Warning   string `json:"warning,omitempty"`
}

// Broadcaster fans events out to any listeners. It keeps the most recent
// event of each type so new subscribers start with the current state.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	last   map[string]Event
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[int]chan Event),
		last: make(map[string]Event),
	}
}

func (b *Broadcaster) Subscribe(buffer int) (int, <-chan Event) {
	if buffer <= 0 {
		buffer = 16
	}
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	last := make([]Event, 0, len(b.last))
	for _, ev := range b.last {
		last = append(last, ev)
	}
	if buffer < len(last) {
		buffer = len(last)
	}
	ch := make(chan Event, buffer)
	b.subs[id] = ch
	b.mu.Unlock()

	sort.Slice(last, func(i, j int) bool { return last[i].Type < last[j].Type })
	for _, ev := range last {
		ch <- ev
	}
	return id, ch
}

func (b *Broadcaster) Unsubscribe(id int) {
	b.mu.Lock()
	ch, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish sends ev to every subscriber. Slow subscribers miss events.
func (b *Broadcaster) Publish(ev Event) {
	if ev.Time == "" {
		ev.Time = time.Now().UTC().Format(time.RFC3339Nano)
	}
	b.mu.Lock()
	b.last[ev.Type] = ev
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	b.mu.Unlock()
}

// Attach publishes st's client signals as events until detach is called.
func (b *Broadcaster) Attach(st *Status) (detach func()) {
	c := st.client
	cancels := []func(){
		c.On(gpsd.PositionUpdated, func() {
			v, _ := st.View()
			b.Publish(Event{Type: "position", Data: v})
		}),
		c.On(gpsd.ConstellationUpdated, func() {
			rec := c.Data()
			b.Publish(Event{Type: "satellites", Data: SatellitesEvent{
				Visible:    rec.SatellitesVisible,
				Used:       rec.SatellitesUsed,
				Satellites: rec.Satellites(),
			}})
		}),
		c.On(gpsd.DeviceListUpdated, func() {
			rec := c.Data()
			b.Publish(Event{Type: "devices", Data: DevicesEvent{Devices: rec.Devices, Device: rec.Dev}})
			if dev := c.Device(); dev != "" && !rec.HasDevice(dev) {
				log.Printf("gpsd selected device disappeared device=%s", dev)
				b.Publish(Event{Type: "status", Data: StatusEvent{
					Connected: c.IsConnected(),
					Warning:   fmt.Sprintf("previously selected device %s has disappeared", dev),
				}})
			}
		}),
		c.On(gpsd.DataUpdated, func() {
			rec := c.Data()
			b.Publish(Event{Type: "data", Data: export.StatusLine(rec)})
		}),
		c.OnConnectionStatus(func(connected bool) {
			b.Publish(Event{Type: "status", Data: StatusEvent{Connected: connected}})
		}),
		c.OnConnectionError(func(code int) {
			b.Publish(Event{Type: "status", Data: StatusEvent{Code: code, Error: gpsd.ErrorString(code)}})
		}),
	}
	return func() {
		for _, cancel := range cancels {
			cancel()
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local tool; the API has no auth either
	},
}

const eventWriteTimeout = 5 * time.Second

// EventsHandler streams b's events as JSON websocket messages.
func EventsHandler(b *Broadcaster) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("events: websocket upgrade error: %v", err)
			return
		}
		defer conn.Close()

		id, ch := b.Subscribe(0)
		defer b.Unsubscribe(id)

		// The stream is one-way; reading only detects the peer going away.
		go func() {
			for {
				if _, _, err := conn.NextReader(); err != nil {
					if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
						log.Printf("events: websocket error: %v", err)
					}
					b.Unsubscribe(id)
					return
				}
			}
		}()

		for ev := range ch {
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
	})
}
