// Package stack runs a pool of reactor workers, one locked OS thread per
// event center, and layers listen/connect entry points on top so callers
// get sockets already wired to a worker.
package stack

import (
	"net"
	"sync"
	"sync/atomic"

	"github.com/bytedance/gopkg/lang/fastrand"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/fzft/go-async-event/config"
	"github.com/fzft/go-async-event/event"
	"github.com/fzft/go-async-event/log"
	"github.com/fzft/go-async-event/netutil"
)

const defaultBacklog = config.DefaultListenBacklog

// SocketOptions tunes sockets the stack creates.
type SocketOptions struct {
	NoDelay    bool
	RcvbufSize int
	Priority   int
	Backlog    int // listeners only; 0 means the default
}

// AcceptFn receives each accepted connection, already bound to its worker.
// It runs on the accepting listener's thread; registering interest for the
// new socket belongs on its own worker, typically via SubmitTo.
type AcceptFn func(cs *ConnectedSocket, w *Worker)

// Stack owns the workers, their centers and one shared registry, so any
// worker can route work to any other.
type Stack struct {
	cfg     *config.Config
	reg     *event.Registry
	workers []*Worker
	m       *Metrics

	seq uint32 // round-robin cursor

	mu        sync.Mutex
	listeners []*ServerSocket
	running   bool
}

// NewStack builds cfg.Workers centers and workers. Any center that cannot
// be built tears the rest down; there is no partially usable stack.
func NewStack(cfg *config.Config) (*Stack, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Stack{
		cfg: cfg,
		reg: event.NewRegistry(),
		m:   NewMetrics(),
	}
	for i := 0; i < cfg.Workers; i++ {
		center, err := event.NewCenter(s.reg, cfg.EventCenterSize, i, cfg.Backend)
		if err != nil {
			for _, w := range s.workers {
				w.center.Close()
			}
			return nil, errors.Wrapf(err, "stack: center %d", i)
		}
		s.workers = append(s.workers, newWorker(i, center, s.m))
	}
	return s, nil
}

// Start spawns every worker and returns once all of them own their centers,
// so Listen/Connect/SubmitTo are safe immediately after.
func (s *Stack) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	for _, w := range s.workers {
		go w.run()
	}
	for _, w := range s.workers {
		<-w.started
	}
	log.Logger.Info("stack started",
		zap.Int("workers", len(s.workers)), zap.String("backend", s.cfg.Backend))
}

// Stop closes listeners while their workers still dispatch, then stops the
// workers and releases the centers.
func (s *Stack) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	listeners := s.listeners
	s.listeners = nil
	s.mu.Unlock()

	for _, ss := range listeners {
		c := ss.worker.Center()
		ln := ss
		c.SubmitTo(c.ID(), func() { ln.close() }, false)
	}

	var err error
	for _, w := range s.workers {
		w.stop()
		err = multierr.Append(err, w.center.Close())
	}
	log.Logger.Info("stack stopped", zap.Int("workers", len(s.workers)))
	return err
}

func (s *Stack) NumWorkers() int { return len(s.workers) }

// Worker returns the worker at index i.
func (s *Stack) Worker(i int) *Worker { return s.workers[i] }

// Metrics exposes the stack's prometheus instruments.
func (s *Stack) Metrics() *Metrics { return s.m }

// GetWorker assigns the next connection to a worker using the configured
// policy.
func (s *Stack) GetWorker() *Worker {
	n := len(s.workers)
	if n == 1 {
		return s.workers[0]
	}
	if s.cfg.Assign == config.AssignRandom {
		return s.workers[fastrand.Intn(n)]
	}
	i := atomic.AddUint32(&s.seq, 1)
	return s.workers[int(i-1)%n]
}

// Listen binds addr on an assigned worker and registers accept interest on
// that worker's center. The registration happens through a blocking submit,
// so the listener is live when Listen returns. Each accepted connection is
// assigned its own worker and handed to onConn.
func (s *Stack) Listen(addr string, opts SocketOptions, onConn AcceptFn) (*ServerSocket, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "stack: resolve %s", addr)
	}

	w := s.GetWorker()
	ss, err := w.Listen(tcpAddr, opts)
	if err != nil {
		return nil, err
	}

	c := w.Center()
	var regErr error
	c.SubmitTo(c.ID(), func() {
		regErr = c.CreateFileEvent(ss.Fd(), event.EventReadable,
			event.CallbackFunc(func(uint64) {
				s.acceptReady(ss, onConn)
			}))
	}, false)
	if regErr != nil {
		unix.Close(ss.Fd())
		return nil, regErr
	}

	s.mu.Lock()
	s.listeners = append(s.listeners, ss)
	s.mu.Unlock()

	log.Logger.Info("listening",
		zap.String("addr", ss.Addr().String()), zap.Int("worker", w.ID()))
	return ss, nil
}

// acceptReady drains the pending connection backlog. Runs on the listening
// worker's thread.
func (s *Stack) acceptReady(ss *ServerSocket, onConn AcceptFn) {
	for {
		cs, err := ss.Accept(s.GetWorker())
		if err != nil {
			if errors.Is(err, unix.EINTR) || errors.Is(err, unix.ECONNABORTED) {
				continue
			}
			// EAGAIN: the backlog is drained
			if netutil.IsTemporary(err) {
				return
			}
			log.Logger.Error("accept failed",
				zap.Int("fd", ss.Fd()), zap.Error(err))
			return
		}
		s.m.accepted.Inc()
		log.Logger.Debug("accepted connection",
			zap.Int("fd", cs.Fd()), zap.String("remote", cs.RemoteIP()),
			zap.Int("worker", cs.Worker().ID()))
		if onConn != nil {
			onConn(cs, cs.Worker())
		}
	}
}

// Connect opens a non-blocking connection on an assigned worker. The socket
// may still be in progress; see ConnectedSocket.Reconnect.
func (s *Stack) Connect(addr string, opts SocketOptions) (*ConnectedSocket, *Worker, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "stack: resolve %s", addr)
	}
	w := s.GetWorker()
	cs, err := w.Connect(tcpAddr, opts)
	if err != nil {
		return nil, nil, err
	}
	s.m.dialed.Inc()
	return cs, w, nil
}
