//go:build linux || darwin || freebsd || dragonfly
// +build linux darwin freebsd dragonfly

package event

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// selectMaxFd is the hard FD_SETSIZE bound of the select backend.
const selectMaxFd = 1024

// SelectDriver is the portable fallback backend. It exists for platforms
// and situations where epoll/kqueue are unavailable; it caps out at
// selectMaxFd descriptors.
type SelectDriver struct {
	rfds  unix.FdSet
	wfds  unix.FdSet
	maxFd int
}

func (d *SelectDriver) Init(nevent int) error {
	d.rfds.Zero()
	d.wfds.Zero()
	d.maxFd = -1
	return nil
}

func (d *SelectDriver) AddEvent(fd, curMask, addMask int) error {
	if fd >= selectMaxFd {
		return fmt.Errorf("event: fd %d beyond select capacity %d", fd, selectMaxFd)
	}
	if addMask&EventReadable != 0 {
		d.rfds.Set(fd)
	}
	if addMask&EventWritable != 0 {
		d.wfds.Set(fd)
	}
	if fd > d.maxFd {
		d.maxFd = fd
	}
	return nil
}

func (d *SelectDriver) DelEvent(fd, curMask, delMask int) error {
	if fd >= selectMaxFd {
		return nil
	}
	left := curMask &^ delMask
	if left&EventReadable == 0 {
		d.rfds.Clear(fd)
	}
	if left&EventWritable == 0 {
		d.wfds.Clear(fd)
	}
	return nil
}

func (d *SelectDriver) EventWait(fired []FiredFileEvent, timeout time.Duration) (int, error) {
	// select mutates its sets, keep the registrations intact
	rfds := d.rfds
	wfds := d.wfds

	var tv *unix.Timeval
	if timeout >= 0 {
		t := unix.NsecToTimeval(timeout.Nanoseconds())
		tv = &t
	}

	ready, err := unix.Select(d.maxFd+1, &rfds, &wfds, nil, tv)
	if err != nil {
		return 0, os.NewSyscallError("select", err)
	}
	if ready <= 0 {
		return 0, nil
	}

	n := 0
	for fd := 0; fd <= d.maxFd && n < len(fired); fd++ {
		mask := EventNone
		if rfds.IsSet(fd) {
			mask |= EventReadable
		}
		if wfds.IsSet(fd) {
			mask |= EventWritable
		}
		if mask != EventNone {
			fired[n] = FiredFileEvent{Fd: fd, Mask: mask}
			n++
		}
	}
	return n, nil
}

func (d *SelectDriver) ResizeEvents(n int) error { return nil }

func (d *SelectDriver) NeedWakeup() bool { return true }

func (d *SelectDriver) Close() error { return nil }
