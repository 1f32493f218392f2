//go:build darwin || freebsd || dragonfly
// +build darwin freebsd dragonfly

package event

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

func newEventDriver(kind string) (EventDriver, error) {
	switch kind {
	case "", "kqueue":
		return &KqueueDriver{kqfd: -1}, nil
	case "select":
		return &SelectDriver{}, nil
	default:
		return nil, fmt.Errorf("event: unknown driver %q", kind)
	}
}

// KqueueDriver is the kqueue backend. Read and write interest are separate
// kernel filters, so a descriptor ready both ways surfaces as two fired
// entries; the dispatch loop tolerates that.
type KqueueDriver struct {
	kqfd   int
	events []unix.Kevent_t
}

func (d *KqueueDriver) Init(nevent int) error {
	kqfd, err := unix.Kqueue()
	if err != nil {
		return os.NewSyscallError("kqueue", err)
	}
	unix.CloseOnExec(kqfd)
	d.kqfd = kqfd
	d.events = make([]unix.Kevent_t, nevent)
	return nil
}

func (d *KqueueDriver) AddEvent(fd, curMask, addMask int) error {
	changes := make([]unix.Kevent_t, 0, 2)
	if addMask&EventReadable != 0 {
		changes = append(changes, unix.Kevent_t{
			Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_ADD | unix.EV_ENABLE,
		})
	}
	if addMask&EventWritable != 0 {
		changes = append(changes, unix.Kevent_t{
			Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_ADD | unix.EV_ENABLE,
		})
	}
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(d.kqfd, changes, nil, nil)
	return os.NewSyscallError("kevent add", err)
}

func (d *KqueueDriver) DelEvent(fd, curMask, delMask int) error {
	drop := curMask & delMask
	changes := make([]unix.Kevent_t, 0, 2)
	if drop&EventReadable != 0 {
		changes = append(changes, unix.Kevent_t{
			Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: unix.EV_DELETE,
		})
	}
	if drop&EventWritable != 0 {
		changes = append(changes, unix.Kevent_t{
			Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: unix.EV_DELETE,
		})
	}
	if len(changes) == 0 {
		return nil
	}
	_, err := unix.Kevent(d.kqfd, changes, nil, nil)
	return os.NewSyscallError("kevent delete", err)
}

func (d *KqueueDriver) EventWait(fired []FiredFileEvent, timeout time.Duration) (int, error) {
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}

	n, err := unix.Kevent(d.kqfd, nil, d.events, ts)
	if err != nil {
		return 0, os.NewSyscallError("kevent wait", err)
	}

	for i := 0; i < n; i++ {
		ev := &d.events[i]
		mask := EventNone
		switch ev.Filter {
		case unix.EVFILT_READ:
			mask |= EventReadable
		case unix.EVFILT_WRITE:
			mask |= EventWritable
		}
		fired[i] = FiredFileEvent{Fd: int(ev.Ident), Mask: mask}
	}
	return n, nil
}

func (d *KqueueDriver) ResizeEvents(n int) error {
	d.events = make([]unix.Kevent_t, n)
	return nil
}

func (d *KqueueDriver) NeedWakeup() bool { return true }

func (d *KqueueDriver) Close() error {
	if d.kqfd < 0 {
		return nil
	}
	err := unix.Close(d.kqfd)
	d.kqfd = -1
	return err
}
