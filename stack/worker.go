package stack

import (
	"fmt"
	"net"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/fzft/go-async-event/event"
	"github.com/fzft/go-async-event/log"
	"github.com/fzft/go-async-event/netutil"
)

// eventMaxWait bounds one dispatch pass. Stop wakes the center explicitly,
// so the bound only matters for an idle worker that missed nothing.
const eventMaxWait = 30 * time.Second

// sigpipeOnce runs the one-time process preparation: a peer that vanishes
// mid-write must not kill the process.
var sigpipeOnce sync.Once

// Worker drives one event center on a dedicated, locked OS thread. Sockets
// created through it are registered with that center and all their
// callbacks run on its thread.
type Worker struct {
	id     int
	center *event.Center
	m      *Metrics

	done     uint32 // atomic stop flag
	started  chan struct{}
	finished chan struct{}
}

func newWorker(id int, center *event.Center, m *Metrics) *Worker {
	return &Worker{
		id:       id,
		center:   center,
		m:        m,
		started:  make(chan struct{}),
		finished: make(chan struct{}),
	}
}

func (w *Worker) ID() int { return w.id }

// Center exposes the reactor this worker owns. Interest mutation on it must
// happen on the worker's thread; route through SubmitTo from anywhere else.
func (w *Worker) Center() *event.Center { return w.center }

// run is the worker goroutine body. The goroutine keeps its OS thread for
// the life of the loop so the center's owner really is one thread.
func (w *Worker) run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	w.initialize()
	w.center.SetOwner()
	close(w.started)

	log.Logger.Info("worker started", zap.Int("worker", w.id))
	for atomic.LoadUint32(&w.done) == 0 {
		processed, busy, err := w.center.ProcessEvents(eventMaxWait)
		if err != nil {
			log.Logger.Error("worker dispatch failed",
				zap.Int("worker", w.id), zap.Error(err))
			continue
		}
		if w.m != nil {
			w.m.observe(w.id, processed, busy)
		}
	}
	log.Logger.Info("worker stopped", zap.Int("worker", w.id))
	close(w.finished)
}

func (w *Worker) initialize() {
	setThreadName(fmt.Sprintf("ev-worker-%d", w.id))
	sigpipeOnce.Do(func() {
		signal.Ignore(syscall.SIGPIPE)
	})
}

// stop flags the loop, interrupts its wait and blocks until it exited.
func (w *Worker) stop() {
	atomic.StoreUint32(&w.done, 1)
	w.center.Wakeup()
	<-w.finished
}

// Listen creates a bound, listening, non-blocking server socket on this
// worker. Registering accept interest is the caller's (usually the
// Stack's) job.
func (w *Worker) Listen(addr *net.TCPAddr, opts SocketOptions) (*ServerSocket, error) {
	sa, domain, err := netutil.SockaddrFromTCPAddr(addr)
	if err != nil {
		return nil, err
	}
	fd, err := netutil.CreateSocket(domain, true)
	if err != nil {
		return nil, err
	}
	if err := netutil.SetNonblock(fd); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := netutil.SetSocketOptions(fd, opts.NoDelay, opts.RcvbufSize); err != nil {
		log.Logger.Warn("listen socket options", zap.Int("fd", fd), zap.Error(err))
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "stack: bind %s", addr)
	}
	backlog := opts.Backlog
	if backlog <= 0 {
		backlog = defaultBacklog
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "stack: listen %s", addr)
	}
	// A ":0" bind gets its port from the kernel, so read the address back.
	if name, err := unix.Getsockname(fd); err == nil {
		if bound := netutil.TCPAddrFromSockaddr(name); bound != nil {
			addr = bound
		}
	}
	return &ServerSocket{fd: fd, addr: addr, worker: w, opts: opts}, nil
}

// Connect starts a non-blocking connect on this worker. The returned socket
// may still be connecting: register it writable and use Reconnect (or
// SocketError) to observe completion.
func (w *Worker) Connect(addr *net.TCPAddr, opts SocketOptions) (*ConnectedSocket, error) {
	sa, domain, err := netutil.SockaddrFromTCPAddr(addr)
	if err != nil {
		return nil, err
	}
	fd, err := netutil.CreateSocket(domain, false)
	if err != nil {
		return nil, err
	}
	if err := netutil.SetNonblock(fd); err != nil {
		unix.Close(fd)
		return nil, err
	}
	if err := netutil.SetSocketOptions(fd, opts.NoDelay, opts.RcvbufSize); err != nil {
		log.Logger.Warn("connect socket options", zap.Int("fd", fd), zap.Error(err))
	}
	if opts.Priority > 0 {
		if err := netutil.SetPriority(fd, opts.Priority, domain); err != nil {
			log.Logger.Warn("connect socket priority", zap.Int("fd", fd), zap.Error(err))
		}
	}

	connected, err := netutil.NonblockConnect(fd, sa)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	cs := newConnectedSocket(fd, w, addr.String())
	cs.connected = connected
	return cs, nil
}

// ServerSocket is a listening socket bound to one worker.
type ServerSocket struct {
	fd     int
	addr   *net.TCPAddr
	worker *Worker
	opts   SocketOptions
}

func (s *ServerSocket) Fd() int            { return s.fd }
func (s *ServerSocket) Addr() *net.TCPAddr { return s.addr }

// Accept takes one pending connection, applying non-blocking mode and the
// listener's socket options, and binds the result to the given worker.
// Would-block surfaces as a temporary error the accept loop checks for.
func (s *ServerSocket) Accept(to *Worker) (*ConnectedSocket, error) {
	nfd, sa, err := unix.Accept(s.fd)
	if err != nil {
		return nil, err
	}
	if err := netutil.SetNonblock(nfd); err != nil {
		unix.Close(nfd)
		return nil, err
	}
	if err := netutil.SetSocketOptions(nfd, s.opts.NoDelay, s.opts.RcvbufSize); err != nil {
		log.Logger.Warn("accepted socket options", zap.Int("fd", nfd), zap.Error(err))
	}
	cs := newConnectedSocket(nfd, to, netutil.IPFromSockaddr(sa))
	cs.connected = true
	return cs, nil
}

// close unregisters the accept interest and closes the fd; must run on the
// owning worker's thread.
func (s *ServerSocket) close() {
	s.worker.center.DeleteFileEvent(s.fd, event.EventReadable)
	if err := netutil.CloseFd(s.fd); err != nil {
		log.Logger.Warn("close listener", zap.Int("fd", s.fd), zap.Error(err))
	}
}
