package gpsd

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"
)

const (
	DefaultHost = "localhost"
	DefaultPort = "2947"

	defaultDialTimeout  = 2 * time.Second
	defaultMaxLineBytes = 256 * 1024
)

// Conn is one daemon session as seen by the Client.
type Conn interface {
	// Watch writes the watch command selecting mode.
	Watch(mode StreamMode) error
	// ReadFrame blocks until one newline-delimited frame is available.
	ReadFrame() ([]byte, error)
	Close() error
}

// DialFunc opens a session to host:port.
type DialFunc func(ctx context.Context, host, port string) (Conn, error)

// fder is implemented by connections backed by an OS socket.
type fder interface {
	Fd() int
}

// TCPDialer dials the daemon over TCP.
type TCPDialer struct {
	Timeout      time.Duration
	MaxLineBytes int
}

func (d TCPDialer) Dial(ctx context.Context, host, port string) (Conn, error) {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	maxLine := d.MaxLineBytes
	if maxLine <= 0 {
		maxLine = defaultMaxLineBytes
	}
	if host == "" {
		host = DefaultHost
	}
	if port == "" {
		port = DefaultPort
	}

	dialer := &net.Dialer{Timeout: timeout}
	c, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return nil, err
	}
	tc := &tcpConn{conn: c, reader: bufio.NewReader(c), maxLine: maxLine, fd: -1}
	if sc, ok := c.(syscall.Conn); ok {
		if raw, err := sc.SyscallConn(); err == nil {
			_ = raw.Control(func(fd uintptr) { tc.fd = int(fd) })
		}
	}
	return tc, nil
}

type tcpConn struct {
	conn    net.Conn
	reader  *bufio.Reader
	maxLine int
	fd      int

	writeMu sync.Mutex
}

func (c *tcpConn) Watch(mode StreamMode) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(defaultDialTimeout))
	_, err := c.conn.Write([]byte(watchCommand(mode)))
	_ = c.conn.SetWriteDeadline(time.Time{})
	if err != nil {
		return fmt.Errorf("write watch: %w", err)
	}
	return nil
}

func (c *tcpConn) ReadFrame() ([]byte, error) {
	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	if len(line) > c.maxLine {
		return nil, &ProtocolError{Msg: fmt.Sprintf("frame too large (%d bytes)", len(line))}
	}
	return line, nil
}

func (c *tcpConn) Close() error {
	return c.conn.Close()
}

func (c *tcpConn) Fd() int {
	return c.fd
}
