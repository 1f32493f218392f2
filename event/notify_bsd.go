//go:build darwin || freebsd || dragonfly
// +build darwin freebsd dragonfly

package event

import (
	"os"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

// createNotifyPair builds the wake channel. kqueue platforms get a
// non-blocking close-on-exec pipe.
func createNotifyPair() (rfd, wfd int, err error) {
	var p [2]int
	if err := unix.Pipe(p[:]); err != nil {
		return -1, -1, os.NewSyscallError("pipe", err)
	}
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(p[0])
			unix.Close(p[1])
			return -1, -1, os.NewSyscallError("fcntl", err)
		}
	}
	return p[0], p[1], nil
}

// notifySignal nudges a sleeping EventWait. A full pipe (EAGAIN) means a
// wake is already pending.
func notifySignal(wfd int) error {
	_, err := unix.Write(wfd, []byte{'w'})
	if err == unix.EAGAIN {
		err = nil
	}
	return err
}

func closeNotifyPair(rfd, wfd int) error {
	return multierr.Append(unix.Close(rfd), unix.Close(wfd))
}
