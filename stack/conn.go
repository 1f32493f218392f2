package stack

import (
	"bytes"
	"io"
	"net"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/fzft/go-async-event/event"
	"github.com/fzft/go-async-event/log"
	"github.com/fzft/go-async-event/netutil"
)

const readChunk = 4096

// ConnectedSocket is a non-blocking stream socket bound to one worker. It
// buffers writes the kernel would not take and manages its own write
// interest on the worker's center, so every method that touches interest —
// Write, Close — must run on that worker's thread. Use SubmitTo to get
// there from anywhere else.
type ConnectedSocket struct {
	fd     int
	worker *Worker
	remote string

	connected bool
	out       bytes.Buffer
	flushing  bool // write interest currently registered
}

func newConnectedSocket(fd int, w *Worker, remote string) *ConnectedSocket {
	return &ConnectedSocket{fd: fd, worker: w, remote: remote}
}

func (c *ConnectedSocket) Fd() int { return c.fd }

// Worker returns the worker whose thread owns this socket's callbacks.
func (c *ConnectedSocket) Worker() *Worker { return c.worker }

// RemoteIP is the peer address as reported at accept/connect time.
func (c *ConnectedSocket) RemoteIP() string { return c.remote }

// Read drains everything currently readable and returns it. io.EOF means
// the peer closed; an empty slice with nil error just means would-block.
func (c *ConnectedSocket) Read() ([]byte, error) {
	var buf bytes.Buffer
	chunk := make([]byte, readChunk)
	for {
		n, err := unix.Read(c.fd, chunk)
		if n > 0 {
			buf.Write(chunk[:n])
		}
		if err != nil {
			if netutil.IsTemporary(err) {
				break
			}
			return nil, err
		}
		if n == 0 {
			if buf.Len() > 0 {
				break
			}
			return nil, io.EOF
		}
	}
	return buf.Bytes(), nil
}

// Write pushes data to the peer, kernel first. Whatever the kernel would
// not take is buffered and flushed from the write callback until empty.
// Worker thread only.
func (c *ConnectedSocket) Write(data []byte) error {
	if c.out.Len() > 0 {
		// earlier writes are still draining; keep ordering
		c.out.Write(data)
		return c.armFlush()
	}

	n, err := unix.Write(c.fd, data)
	if err != nil {
		if !netutil.IsTemporary(err) {
			return err
		}
		n = 0
	}
	if n < len(data) {
		c.out.Write(data[n:])
		return c.armFlush()
	}
	return nil
}

// armFlush registers write interest once; the flush callback drops it when
// the buffer empties.
func (c *ConnectedSocket) armFlush() error {
	if c.flushing {
		return nil
	}
	err := c.worker.center.CreateFileEvent(c.fd, event.EventWritable,
		event.CallbackFunc(c.flush))
	if err != nil {
		return err
	}
	c.flushing = true
	return nil
}

func (c *ConnectedSocket) flush(fdOrID uint64) {
	n, err := unix.Write(c.fd, c.out.Bytes())
	if err != nil && !netutil.IsTemporary(err) {
		log.Logger.Warn("flush failed", zap.Int("fd", c.fd), zap.Error(err))
		c.disarmFlush()
		return
	}
	if n > 0 {
		c.out.Next(n)
	}
	if c.out.Len() == 0 {
		c.disarmFlush()
	}
}

func (c *ConnectedSocket) disarmFlush() {
	if !c.flushing {
		return
	}
	c.worker.center.DeleteFileEvent(c.fd, event.EventWritable)
	c.flushing = false
}

// Pending reports bytes buffered but not yet handed to the kernel.
func (c *ConnectedSocket) Pending() int { return c.out.Len() }

// Reconnect re-checks completion of the non-blocking connect this socket
// started with. True means the socket is usable.
func (c *ConnectedSocket) Reconnect(addr *net.TCPAddr) (bool, error) {
	if c.connected {
		return true, nil
	}
	sa, _, err := netutil.SockaddrFromTCPAddr(addr)
	if err != nil {
		return false, err
	}
	done, err := netutil.Reconnect(c.fd, sa)
	if err != nil {
		return false, err
	}
	c.connected = done
	return done, nil
}

// Shutdown half-closes the write side.
func (c *ConnectedSocket) Shutdown() error {
	return unix.Shutdown(c.fd, unix.SHUT_WR)
}

// Close unregisters both directions and closes the fd. Worker thread only.
func (c *ConnectedSocket) Close() error {
	c.worker.center.DeleteFileEvent(c.fd, event.EventReadable|event.EventWritable)
	c.flushing = false
	return netutil.CloseFd(c.fd)
}
