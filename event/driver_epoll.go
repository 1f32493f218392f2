//go:build linux
// +build linux

package event

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

const (
	readEvents  = unix.EPOLLPRI | unix.EPOLLIN
	writeEvents = unix.EPOLLOUT
)

// newEventDriver selects the backend for this platform. epoll is the
// preferred driver on Linux; select exists as the portable fallback.
func newEventDriver(kind string) (EventDriver, error) {
	switch kind {
	case "", "epoll":
		return &EpollDriver{epfd: -1}, nil
	case "select":
		return &SelectDriver{}, nil
	default:
		return nil, fmt.Errorf("event: unknown driver %q", kind)
	}
}

// EpollDriver is the level-triggered epoll backend.
type EpollDriver struct {
	epfd   int
	events []unix.EpollEvent
}

func (d *EpollDriver) Init(nevent int) error {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return os.NewSyscallError("epoll_create1", err)
	}
	d.epfd = epfd
	d.events = make([]unix.EpollEvent, nevent)
	return nil
}

func (d *EpollDriver) AddEvent(fd, curMask, addMask int) error {
	op := unix.EPOLL_CTL_MOD
	if curMask == EventNone {
		op = unix.EPOLL_CTL_ADD
	}
	ee := unix.EpollEvent{Fd: int32(fd), Events: epollFlags(curMask | addMask)}
	return os.NewSyscallError("epoll_ctl add", unix.EpollCtl(d.epfd, op, fd, &ee))
}

func (d *EpollDriver) DelEvent(fd, curMask, delMask int) error {
	left := curMask &^ delMask
	if left != EventNone {
		ee := unix.EpollEvent{Fd: int32(fd), Events: epollFlags(left)}
		return os.NewSyscallError("epoll_ctl mod", unix.EpollCtl(d.epfd, unix.EPOLL_CTL_MOD, fd, &ee))
	}
	return os.NewSyscallError("epoll_ctl del", unix.EpollCtl(d.epfd, unix.EPOLL_CTL_DEL, fd, nil))
}

func (d *EpollDriver) EventWait(fired []FiredFileEvent, timeout time.Duration) (int, error) {
	msec := -1
	if timeout >= 0 {
		msec = int(timeout / time.Millisecond)
	}

	n, err := unix.EpollWait(d.epfd, d.events, msec)
	if err != nil {
		return 0, os.NewSyscallError("epoll_wait", err)
	}

	for i := 0; i < n; i++ {
		ev := &d.events[i]
		mask := EventNone
		if ev.Events&readEvents != 0 {
			mask |= EventReadable
		}
		if ev.Events&writeEvents != 0 {
			mask |= EventWritable
		}
		// a hangup or error wakes whichever callback is registered so the
		// owner can notice and tear the descriptor down
		if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			mask |= EventReadable | EventWritable
		}
		fired[i] = FiredFileEvent{Fd: int(ev.Fd), Mask: mask}
	}
	return n, nil
}

func (d *EpollDriver) ResizeEvents(n int) error {
	d.events = make([]unix.EpollEvent, n)
	return nil
}

func (d *EpollDriver) NeedWakeup() bool { return true }

func (d *EpollDriver) Close() error {
	if d.epfd < 0 {
		return nil
	}
	err := unix.Close(d.epfd)
	d.epfd = -1
	return err
}

func epollFlags(mask int) uint32 {
	var flags uint32
	if mask&EventReadable != 0 {
		flags |= readEvents
	}
	if mask&EventWritable != 0 {
		flags |= writeEvents
	}
	return flags
}
