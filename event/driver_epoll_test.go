//go:build linux
// +build linux

package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestEpollDriverPipeReadiness(t *testing.T) {
	d := &EpollDriver{epfd: -1}
	require.NoError(t, d.Init(64))
	defer d.Close()

	p := make([]int, 2)
	require.NoError(t, unix.Pipe(p))
	defer unix.Close(p[0])
	defer unix.Close(p[1])

	require.NoError(t, d.AddEvent(p[0], EventNone, EventReadable))

	fired := make([]FiredFileEvent, 64)
	n, err := d.EventWait(fired, 0)
	require.NoError(t, err)
	assert.Zero(t, n, "nothing written yet")

	_, err = unix.Write(p[1], []byte("x"))
	require.NoError(t, err)
	n, err = d.EventWait(fired, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, p[0], fired[0].Fd)
	assert.NotZero(t, fired[0].Mask&EventReadable, "the read end should report readable")

	require.NoError(t, d.DelEvent(p[0], EventReadable, EventReadable))
	n, err = d.EventWait(fired, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Zero(t, n, "a deleted registration must not fire")
}

func TestEpollDriverMaskNarrowing(t *testing.T) {
	d := &EpollDriver{epfd: -1}
	require.NoError(t, d.Init(8))
	defer d.Close()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)
	defer unix.Close(fds[0])
	defer unix.Close(fds[1])

	require.NoError(t, d.AddEvent(fds[0], EventNone, EventReadable))
	require.NoError(t, d.AddEvent(fds[0], EventReadable, EventWritable))

	fired := make([]FiredFileEvent, 8)
	n, err := d.EventWait(fired, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, fds[0], fired[0].Fd)
	assert.NotZero(t, fired[0].Mask&EventWritable, "an idle stream socket is writable")
	assert.Zero(t, fired[0].Mask&EventReadable, "nothing to read yet")

	require.NoError(t, d.DelEvent(fds[0], EventReadable|EventWritable, EventWritable))
	n, err = d.EventWait(fired, 10*time.Millisecond)
	require.NoError(t, err)
	assert.Zero(t, n, "read interest alone should stay quiet")

	_, err = unix.Write(fds[1], []byte("x"))
	require.NoError(t, err)
	n, err = d.EventWait(fired, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.NotZero(t, fired[0].Mask&EventReadable)
}

func TestEpollDriverResize(t *testing.T) {
	d := &EpollDriver{epfd: -1}
	require.NoError(t, d.Init(4))
	defer d.Close()

	require.NoError(t, d.ResizeEvents(16))
	assert.Len(t, d.events, 16, "the kernel event buffer should track the new size")

	p := make([]int, 2)
	require.NoError(t, unix.Pipe(p))
	defer unix.Close(p[0])
	defer unix.Close(p[1])

	require.NoError(t, d.AddEvent(p[0], EventNone, EventReadable))
	_, err := unix.Write(p[1], []byte("x"))
	require.NoError(t, err)

	fired := make([]FiredFileEvent, 16)
	n, err := d.EventWait(fired, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "the driver should keep working after a resize")
}

func TestEpollDriverNeedsWakeup(t *testing.T) {
	d := &EpollDriver{epfd: -1}
	assert.True(t, d.NeedWakeup(), "a sleeping epoll_wait needs the wake channel")
	assert.NoError(t, d.Close(), "closing an uninitialized driver is fine")
}
