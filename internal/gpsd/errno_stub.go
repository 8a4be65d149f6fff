//go:build !linux

package gpsd

import (
	"fmt"
	"syscall"
)

func errnoString(code int) string {
	return fmt.Sprintf("error %d: %s", code, syscall.Errno(code).Error())
}
