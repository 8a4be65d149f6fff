package gpsd

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// ProtocolError is a framing or decode failure on the daemon stream.
type ProtocolError struct {
	Msg string
	Err error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return "gpsd protocol: " + e.Msg + ": " + e.Err.Error()
	}
	return "gpsd protocol: " + e.Msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// ErrorCode maps err to the errno-style code carried by connection-error
// notifications.
func ErrorCode(err error) int {
	if err == nil {
		return 0
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return int(errno)
	}
	var perr *ProtocolError
	if errors.As(err, &perr) {
		return int(syscall.EPROTO)
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return int(syscall.ECONNRESET)
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return int(syscall.EHOSTUNREACH)
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return int(syscall.ETIMEDOUT)
	}
	return int(syscall.EIO)
}

// ErrorString renders a connection-error code for display.
func ErrorString(code int) string {
	if code == 0 {
		return "no error"
	}
	return errnoString(code)
}
