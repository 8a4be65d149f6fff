package gpsd

import "sync"

// Signal identifies a record-change notification.
type Signal int

const (
	DataReceived Signal = iota
	PositionUpdated
	ConstellationUpdated
	DeviceListUpdated
	DataUpdated

	numSignals
)

func (s Signal) String() string {
	switch s {
	case DataReceived:
		return "data-received"
	case PositionUpdated:
		return "position-updated"
	case ConstellationUpdated:
		return "constellation-updated"
	case DeviceListUpdated:
		return "device-list-updated"
	case DataUpdated:
		return "data-updated"
	default:
		return "unknown"
	}
}

// Notifier fans change notifications out to subscribers. Subscribers of one
// signal run in subscription order on the goroutine that emits.
type Notifier struct {
	mu     sync.RWMutex
	nextID int
	subs   [numSignals][]subscriber[func()]
	status []subscriber[func(bool)]
	errs   []subscriber[func(int)]
}

type subscriber[F any] struct {
	id int
	fn F
}

// On subscribes fn to sig and returns a func that cancels the subscription.
func (n *Notifier) On(sig Signal, fn func()) func() {
	if sig < 0 || sig >= numSignals || fn == nil {
		return func() {}
	}
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[sig] = append(n.subs[sig], subscriber[func()]{id: id, fn: fn})
	n.mu.Unlock()
	return func() {
		n.mu.Lock()
		n.subs[sig] = remove(n.subs[sig], id)
		n.mu.Unlock()
	}
}

// OnConnectionStatus subscribes to connect/disconnect transitions.
func (n *Notifier) OnConnectionStatus(fn func(connected bool)) func() {
	if fn == nil {
		return func() {}
	}
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.status = append(n.status, subscriber[func(bool)]{id: id, fn: fn})
	n.mu.Unlock()
	return func() {
		n.mu.Lock()
		n.status = remove(n.status, id)
		n.mu.Unlock()
	}
}

// OnConnectionError subscribes to connect and read failures. The argument is
// an errno-style code, see ErrorString.
func (n *Notifier) OnConnectionError(fn func(code int)) func() {
	if fn == nil {
		return func() {}
	}
	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.errs = append(n.errs, subscriber[func(int)]{id: id, fn: fn})
	n.mu.Unlock()
	return func() {
		n.mu.Lock()
		n.errs = remove(n.errs, id)
		n.mu.Unlock()
	}
}

func (n *Notifier) emit(sig Signal) {
	n.mu.RLock()
	subs := append([]subscriber[func()](nil), n.subs[sig]...)
	n.mu.RUnlock()
	for _, s := range subs {
		s.fn()
	}
}

func (n *Notifier) emitStatus(connected bool) {
	n.mu.RLock()
	subs := append([]subscriber[func(bool)](nil), n.status...)
	n.mu.RUnlock()
	for _, s := range subs {
		s.fn(connected)
	}
}

func (n *Notifier) emitError(code int) {
	n.mu.RLock()
	subs := append([]subscriber[func(int)](nil), n.errs...)
	n.mu.RUnlock()
	for _, s := range subs {
		s.fn(code)
	}
}

func remove[F any](subs []subscriber[F], id int) []subscriber[F] {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}
