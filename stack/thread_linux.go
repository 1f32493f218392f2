//go:build linux
// +build linux

package stack

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// setThreadName labels the locked OS thread so worker threads are
// recognizable in ps/top output. Best effort; the kernel caps names at 15
// bytes.
func setThreadName(name string) {
	if len(name) > 15 {
		name = name[:15]
	}
	b, err := unix.BytePtrFromString(name)
	if err != nil {
		return
	}
	_ = unix.Prctl(unix.PR_SET_NAME, uintptr(unsafe.Pointer(b)), 0, 0, 0)
}
