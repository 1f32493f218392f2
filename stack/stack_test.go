package stack

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fzft/go-async-event/config"
	"github.com/fzft/go-async-event/event"
)

func testConfig(workers int) *config.Config {
	cfg := config.Default()
	cfg.Workers = workers
	cfg.EventCenterSize = 128
	return cfg
}

// closeCenters releases the poll fds of a stack that was never started.
func closeCenters(s *Stack) {
	for i := 0; i < s.NumWorkers(); i++ {
		s.Worker(i).Center().Close()
	}
}

// echoAccept wires an accepted connection to bounce everything back.
func echoAccept(cs *ConnectedSocket, w *Worker) {
	center := w.Center()
	center.SubmitTo(center.ID(), func() {
		err := center.CreateFileEvent(cs.Fd(), event.EventReadable,
			event.CallbackFunc(func(uint64) {
				data, err := cs.Read()
				if err != nil {
					cs.Close()
					return
				}
				if len(data) > 0 {
					cs.Write(data)
				}
			}))
		if err != nil {
			cs.Close()
		}
	}, true)
}

func TestNewStackValidatesConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Workers = 0
	_, err := NewStack(cfg)
	assert.Error(t, err, "zero workers is not a pool")

	cfg = config.Default()
	cfg.Workers = event.MaxEventCenters + 1
	_, err = NewStack(cfg)
	assert.Error(t, err, "the registry bounds the pool size")
}

func TestStackStartStop(t *testing.T) {
	s, err := NewStack(testConfig(2))
	require.NoError(t, err)
	assert.Equal(t, 2, s.NumWorkers())

	s.Start()
	s.Start() // second start is a no-op
	assert.NoError(t, s.Stop())
	assert.NoError(t, s.Stop(), "a second stop is a no-op")
}

func TestStackEchoRoundTrip(t *testing.T) {
	s, err := NewStack(testConfig(2))
	require.NoError(t, err)
	s.Start()
	defer s.Stop()

	ss, err := s.Listen("127.0.0.1:0", SocketOptions{NoDelay: true}, echoAccept)
	require.NoError(t, err)
	addr := ss.Addr().String()

	// two connections so both workers see traffic under round-robin
	for i := 0; i < 2; i++ {
		conn, err := net.Dial("tcp", addr)
		require.NoError(t, err)
		require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))

		payload := []byte("ping over the reactor")
		_, err = conn.Write(payload)
		require.NoError(t, err)

		buf := make([]byte, len(payload))
		_, err = io.ReadFull(conn, buf)
		require.NoError(t, err, "the echo should come back")
		assert.Equal(t, payload, buf)
		require.NoError(t, conn.Close())
	}

	assert.GreaterOrEqual(t, testutil.ToFloat64(s.m.accepted), 2.0, "accepts should be counted")
}

func TestGetWorkerRoundRobin(t *testing.T) {
	s, err := NewStack(testConfig(3))
	require.NoError(t, err)
	defer closeCenters(s)

	var ids []int
	for i := 0; i < 4; i++ {
		ids = append(ids, s.GetWorker().ID())
	}
	assert.Equal(t, []int{0, 1, 2, 0}, ids, "assignment should cycle through the pool")
}

func TestGetWorkerRandomPolicy(t *testing.T) {
	cfg := testConfig(3)
	cfg.Assign = config.AssignRandom
	s, err := NewStack(cfg)
	require.NoError(t, err)
	defer closeCenters(s)

	for i := 0; i < 16; i++ {
		w := s.GetWorker()
		require.NotNil(t, w)
		assert.GreaterOrEqual(t, w.ID(), 0)
		assert.Less(t, w.ID(), 3)
	}
}

func TestStackConnect(t *testing.T) {
	s, err := NewStack(testConfig(1))
	require.NoError(t, err)
	s.Start()
	defer s.Stop()

	ss, err := s.Listen("127.0.0.1:0", SocketOptions{}, nil)
	require.NoError(t, err)

	cs, w, err := s.Connect(ss.Addr().String(), SocketOptions{NoDelay: true})
	require.NoError(t, err)
	require.NotNil(t, w)

	// poll completion the way a writable callback would
	done := false
	deadline := time.Now().Add(2 * time.Second)
	for !done && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
		done, err = cs.Reconnect(ss.Addr())
		require.NoError(t, err)
	}
	assert.True(t, done, "the loopback connect should finish")
	assert.GreaterOrEqual(t, testutil.ToFloat64(s.m.dialed), 1.0)

	c := w.Center()
	c.SubmitTo(c.ID(), func() { cs.Close() }, false)
}

func TestConnectedSocketBuffersPartialWrites(t *testing.T) {
	s, err := NewStack(testConfig(1))
	require.NoError(t, err)
	s.Start()
	defer s.Stop()

	ss, err := s.Listen("127.0.0.1:0", SocketOptions{NoDelay: true}, echoAccept)
	require.NoError(t, err)

	conn, err := net.Dial("tcp", ss.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	// large enough to outgrow the kernel buffers and exercise the flush path
	payload := make([]byte, 1<<20)
	for i := range payload {
		payload[i] = byte(i)
	}
	go func() {
		conn.Write(payload)
	}()

	got := make([]byte, len(payload))
	_, err = io.ReadFull(conn, got)
	require.NoError(t, err, "the whole payload should echo back")
	assert.Equal(t, payload, got)
}
