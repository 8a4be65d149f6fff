package gpsd

import (
	"context"
	"fmt"
	"log"
	"net"
	"sync"
	"sync/atomic"
)

const dataUpdatedFlags = DeviceIDSet | ModeSet | SatelliteSet

// Client owns at most one daemon session at a time.
//
// Signals are emitted from the session's pump goroutine (read signals and
// read failures) or from the caller of Connect/Disconnect (status and dial
// failures). Subscribers may call Connect and Disconnect reentrantly, but
// must not call Close.
type Client struct {
	Notifier

	dial DialFunc

	mu     sync.Mutex
	sess   *session
	device string
	nextFD int

	// dispatchMu keeps exactly one frame handler in flight, across reconnects.
	dispatchMu sync.Mutex

	// readMu guards live. It is never held while signals are emitted.
	readMu sync.Mutex
	live   Record

	exposed atomic.Value // Record
}

type session struct {
	conn Conn
	mode StreamMode
	addr string
	fd   int

	closeOnce sync.Once
	done      chan struct{}
}

func (s *session) close() {
	s.closeOnce.Do(func() { _ = s.conn.Close() })
}

// Option configures a Client.
type Option func(*Client)

// WithDialer replaces the TCP dialer, mostly for tests and replay.
func WithDialer(d DialFunc) Option {
	return func(c *Client) {
		if d != nil {
			c.dial = d
		}
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		dial: TCPDialer{}.Dial,
		live: newRecord(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.exposed.Store(newRecord())
	return c
}

// Connect opens a session to host:port and arms mode. Any existing session is
// closed first, including one installed by a concurrent Connect. Dial failures are emitted as connection-error and returned;
// nothing is retried.
func (c *Client) Connect(ctx context.Context, host, port string, mode StreamMode) error {
	c.Disconnect()

	if host == "" {
		host = DefaultHost
	}
	if port == "" {
		port = DefaultPort
	}
	addr := net.JoinHostPort(host, port)

	conn, err := c.dial(ctx, host, port)
	if err != nil {
		code := ErrorCode(err)
		log.Printf("gpsd connect failed addr=%s code=%d err=%v", addr, code, err)
		c.emitError(code)
		return fmt.Errorf("connect %s: %w", addr, err)
	}

	// A concurrent Connect may have installed a session while we dialed; it
	// is replaced so only one daemon connection stays open.
	c.readMu.Lock()
	c.mu.Lock()
	fd := -1
	if f, ok := conn.(fder); ok {
		fd = f.Fd()
	}
	if fd <= 0 {
		c.nextFD++
		fd = c.nextFD
	}
	sess := &session{conn: conn, mode: mode, addr: addr, fd: fd, done: make(chan struct{})}
	prev := c.sess
	c.sess = sess
	c.mu.Unlock()
	c.live = newRecord()
	c.live.FD = fd
	c.readMu.Unlock()

	if prev != nil {
		prev.close()
		log.Printf("gpsd disconnected addr=%s", prev.addr)
		c.emitStatus(false)
	}

	log.Printf("gpsd connected addr=%s mode=%s", addr, mode)
	c.emitStatus(true)

	if err := conn.Watch(mode); err != nil {
		c.fail(sess, err)
		close(sess.done)
		return fmt.Errorf("watch %s: %w", addr, err)
	}

	go c.pump(sess)
	return nil
}

// Disconnect closes the current session, resets the live record and emits
// connection-status(false). It is a no-op when disconnected.
func (c *Client) Disconnect() {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return
	}
	c.disconnect(sess)
}

// Close disconnects and waits for the session's pump to exit.
func (c *Client) Close() {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return
	}
	c.disconnect(sess)
	<-sess.done
}

// IsConnected reports whether a session is open.
func (c *Client) IsConnected() bool {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	return c.live.FD > 0
}

// Addr returns host:port of the open session, or "".
func (c *Client) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ""
	}
	return c.sess.addr
}

// SetDevice restricts published reads to one device path. Empty watches all
// devices. It takes effect on the next read.
func (c *Client) SetDevice(path string) {
	c.mu.Lock()
	c.device = path
	c.mu.Unlock()
}

func (c *Client) Device() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.device
}

// Data returns a copy of the last published record.
func (c *Client) Data() Record {
	return c.exposed.Load().(Record).clone()
}

// Flag reports whether the last published read populated any of f.
func (c *Client) Flag(f Flags) bool {
	return c.exposed.Load().(Record).Set.Has(f)
}

func (c *Client) pump(sess *session) {
	defer close(sess.done)
	for {
		frame, err := sess.conn.ReadFrame()
		if !c.handleInput(sess, frame, err) {
			return
		}
	}
}

// handleInput processes one frame (or read failure) of sess. It returns false
// once sess is no longer the current session.
func (c *Client) handleInput(sess *session, frame []byte, readErr error) bool {
	c.dispatchMu.Lock()
	defer c.dispatchMu.Unlock()

	if !c.isCurrent(sess) {
		return false
	}

	dev := c.Device()
	var rec Record
	filtered := false
	err := readErr
	if err == nil {
		c.readMu.Lock()
		if !c.isCurrent(sess) {
			c.readMu.Unlock()
			return false
		}
		var saved Record
		if dev != "" {
			saved = c.live.clone()
			saved.gsv = c.live.gsv
		}
		err = readUpdate(&c.live, sess.mode, frame)
		if err == nil {
			if path := c.live.readPath; dev != "" && path != "" && path != dev {
				// Reads of other devices leave no trace in the live record.
				c.live = saved
				filtered = true
			} else {
				rec = c.live.clone()
			}
		}
		c.readMu.Unlock()
	}
	if err != nil {
		c.fail(sess, err)
		return false
	}
	if filtered {
		return true
	}

	c.exposed.Store(rec)
	c.emit(DataReceived)

	if rec.Set.Has(PositionFlags) {
		c.emit(PositionUpdated)
	}
	if rec.Set.Has(SatelliteSet) {
		c.emit(ConstellationUpdated)
	}
	if rec.Set.Has(DeviceListSet) {
		c.emit(DeviceListUpdated)
	}
	if rec.Set.Has(dataUpdatedFlags) {
		c.emit(DataUpdated)
	}
	return c.isCurrent(sess)
}

// fail tears sess down and reports err.
func (c *Client) fail(sess *session, err error) {
	code := ErrorCode(err)
	log.Printf("gpsd session failed addr=%s code=%d err=%v", sess.addr, code, err)
	if c.disconnect(sess) {
		c.emitError(code)
	}
}

func (c *Client) disconnect(sess *session) bool {
	c.mu.Lock()
	if c.sess != sess {
		c.mu.Unlock()
		return false
	}
	c.sess = nil
	c.mu.Unlock()

	sess.close()

	c.readMu.Lock()
	c.live = newRecord()
	c.readMu.Unlock()

	log.Printf("gpsd disconnected addr=%s", sess.addr)
	c.emitStatus(false)
	return true
}

func (c *Client) isCurrent(sess *session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess == sess
}
