//go:build linux

package gpsd

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

func errnoString(code int) string {
	errno := syscall.Errno(code)
	name := unix.ErrnoName(errno)
	if name == "" {
		return fmt.Sprintf("error %d", code)
	}
	return fmt.Sprintf("%s: %s", name, unix.Errno(code).Error())
}
