//go:build linux
// +build linux

package event

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// createNotifyPair builds the wake channel. On Linux it is an eventfd, so
// the read and write side are the same descriptor.
func createNotifyPair() (rfd, wfd int, err error) {
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return -1, -1, os.NewSyscallError("eventfd", err)
	}
	return efd, efd, nil
}

// notifySignal nudges a sleeping EventWait. EAGAIN means the eventfd
// counter is saturated and a wake is already pending.
func notifySignal(wfd int) error {
	var v uint64 = 1
	_, err := unix.Write(wfd, (*(*[8]byte)(unsafe.Pointer(&v)))[:])
	if err == unix.EAGAIN {
		err = nil
	}
	return err
}

func closeNotifyPair(rfd, wfd int) error {
	return unix.Close(rfd)
}
