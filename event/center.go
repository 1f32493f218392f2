package event

import (
	"container/heap"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/petermattis/goid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/fzft/go-async-event/log"
)

// Center is a per-thread event reactor: one poll driver, a descriptor
// interest table, deadline-ordered timers and a queue for work submitted
// from other threads. Exactly one goroutine owns a Center (see SetOwner);
// all interest mutation and all dispatch happen on that goroutine. The only
// operations safe from any thread are Wakeup, DispatchEventExternal,
// SubmitTo and InThread.
type Center struct {
	id     int
	nevent int

	driver EventDriver

	owner int64 // goroutine id of the owner, read atomically

	fileEvents []fileEvent
	fired      []FiredFileEvent

	timeEvents      timeEventHeap
	timeEventIndex  map[uint64]*timeEvent
	timeEventNextID uint64

	externalLock      sync.Mutex
	externalEvents    *queue.Queue
	externalNumEvents uint64 // atomic

	notifyReceiveFd int
	notifySendFd    int
	notifyHandler   EventCallback

	registry *Registry
	attached bool
}

// NewCenter builds a center with the given descriptor capacity on the
// driver named by backend (empty string selects the platform default). A
// driver that cannot be constructed leaves nothing usable behind; callers
// treat that error as fatal.
func NewCenter(reg *Registry, nevent, id int, backend string) (*Center, error) {
	driver, err := newEventDriver(backend)
	if err != nil {
		return nil, err
	}
	return newCenterWithDriver(reg, driver, nevent, id)
}

func newCenterWithDriver(reg *Registry, driver EventDriver, nevent, id int) (*Center, error) {
	if nevent <= 0 {
		return nil, errors.Errorf("event: capacity must be positive, got %d", nevent)
	}
	if err := driver.Init(nevent); err != nil {
		return nil, errors.Wrap(err, "event: driver init")
	}

	c := &Center{
		id:              id,
		nevent:          nevent,
		driver:          driver,
		fileEvents:      make([]fileEvent, nevent),
		fired:           make([]FiredFileEvent, nevent),
		timeEventIndex:  make(map[uint64]*timeEvent),
		timeEventNextID: 1,
		externalEvents:  queue.New(),
		notifyReceiveFd: -1,
		notifySendFd:    -1,
		registry:        reg,
	}

	if driver.NeedWakeup() {
		rfd, wfd, err := createNotifyPair()
		if err != nil {
			driver.Close()
			return nil, err
		}
		c.notifyReceiveFd = rfd
		c.notifySendFd = wfd
	}
	c.notifyHandler = CallbackFunc(func(fdOrID uint64) {
		drainNotify(int(fdOrID))
	})
	return c, nil
}

// ID returns the registry id this center binds when its owner attaches.
func (c *Center) ID() int { return c.id }

// SetOwner binds the calling goroutine as the owner, publishes the center
// in its registry slot and registers the wake channel read side. It must
// run on the goroutine that will drive ProcessEvents, before any interest
// is registered.
func (c *Center) SetOwner() {
	atomic.StoreInt64(&c.owner, goid.Get())
	if c.attached {
		return
	}
	c.attached = true
	c.registry.attach(c.id, c)
	if c.driver.NeedWakeup() {
		if err := c.CreateFileEvent(c.notifyReceiveFd, EventReadable, c.notifyHandler); err != nil {
			panic(fmt.Sprintf("event: register wake channel: %v", err))
		}
	}
	log.Logger.Debug("event center owner bound",
		zap.Int("center", c.id),
		zap.Int64("goid", atomic.LoadInt64(&c.owner)))
}

// InThread reports whether the calling goroutine owns this center.
func (c *Center) InThread() bool {
	return atomic.LoadInt64(&c.owner) == goid.Get()
}

// CreateFileEvent merges mask into the interest registered for fd and
// installs cb for each direction the mask names. Owner goroutine only. A
// descriptor beyond the current capacity grows the table; a mask the slot
// already covers is a no-op.
func (c *Center) CreateFileEvent(fd int, mask int, cb EventCallback) error {
	c.assertOwner("CreateFileEvent")
	if fd < 0 {
		panic(fmt.Sprintf("event: CreateFileEvent on invalid fd %d", fd))
	}
	if fd >= c.nevent {
		if err := c.grow(fd); err != nil {
			return err
		}
	}

	ev := &c.fileEvents[fd]
	if ev.mask|mask == ev.mask {
		return nil
	}
	if err := c.driver.AddEvent(fd, ev.mask, mask); err != nil {
		log.Logger.Error("driver add event failed",
			zap.Int("center", c.id), zap.Int("fd", fd), zap.Int("mask", mask), zap.Error(err))
		return err
	}

	ev.mask |= mask
	if mask&EventReadable != 0 {
		ev.readCB = cb
	}
	if mask&EventWritable != 0 {
		ev.writeCB = cb
	}
	return nil
}

// DeleteFileEvent removes mask from fd's registration; when nothing is left
// the backend registration goes away entirely. Owner goroutine only.
func (c *Center) DeleteFileEvent(fd int, mask int) {
	c.assertOwner("DeleteFileEvent")
	if fd < 0 {
		panic(fmt.Sprintf("event: DeleteFileEvent on invalid fd %d", fd))
	}
	if fd >= c.nevent {
		log.Logger.Warn("delete file event beyond table",
			zap.Int("center", c.id), zap.Int("fd", fd), zap.Int("capacity", c.nevent))
		return
	}

	ev := &c.fileEvents[fd]
	if ev.mask == EventNone {
		return
	}
	if err := c.driver.DelEvent(fd, ev.mask, mask); err != nil {
		log.Logger.Error("driver del event failed",
			zap.Int("center", c.id), zap.Int("fd", fd), zap.Int("mask", mask), zap.Error(err))
		return
	}

	if mask&EventReadable != 0 {
		ev.readCB = nil
	}
	if mask&EventWritable != 0 {
		ev.writeCB = nil
	}
	ev.mask &^= mask
}

// CreateTimeEvent schedules cb to fire once after delay and returns its id.
// Owner goroutine only.
func (c *Center) CreateTimeEvent(delay time.Duration, cb EventCallback) uint64 {
	c.assertOwner("CreateTimeEvent")
	id := c.timeEventNextID
	c.timeEventNextID++
	te := &timeEvent{id: id, when: time.Now().Add(delay), cb: cb}
	heap.Push(&c.timeEvents, te)
	c.timeEventIndex[id] = te
	return id
}

// DeleteTimeEvent cancels a pending timer. Ids that already fired, were
// already canceled or were never issued return false with no side effects.
// Owner goroutine only.
func (c *Center) DeleteTimeEvent(id uint64) bool {
	c.assertOwner("DeleteTimeEvent")
	te, ok := c.timeEventIndex[id]
	if !ok {
		return false
	}
	heap.Remove(&c.timeEvents, te.index)
	delete(c.timeEventIndex, id)
	return true
}

// ProcessEvents runs one dispatch pass: wait for readiness at most timeout
// (clamped to the earliest timer deadline, forced to zero when external
// work is already queued), then dispatch fired descriptors, due timers and
// drained external callbacks, in that order. It returns the number of
// callbacks dispatched and how long dispatching took. An interrupted wait
// counts as zero fired descriptors; the rest of the pass still runs.
func (c *Center) ProcessEvents(timeout time.Duration) (int, time.Duration, error) {
	if timeout < 0 {
		timeout = 0
	}

	processed := 0
	now := time.Now()
	triggerTime := false
	if top := c.timeEvents.peek(); top != nil && !now.Add(timeout).Before(top.when) {
		triggerTime = true
		if d := top.when.Sub(now); d > 0 {
			timeout = d
		} else {
			timeout = 0
		}
	}
	if atomic.LoadUint64(&c.externalNumEvents) > 0 {
		timeout = 0
	}

	// Keep this pass's batch on a local: a callback that grows the table
	// swaps c.fired out from under us.
	fired := c.fired
	n, err := c.driver.EventWait(fired, timeout)
	busyStart := time.Now()
	if err != nil {
		if !errors.Is(err, unix.EINTR) {
			return 0, 0, err
		}
		n = 0
	}

	for i := 0; i < n; i++ {
		f := fired[i]
		ev := c.fileEventSlot(f.Fd)
		// consult the live mask: an earlier callback in this batch may have
		// unregistered the slot
		if ev.mask&f.Mask&EventReadable != 0 {
			ev.readCB.Handle(uint64(f.Fd))
		}
		if ev.mask&f.Mask&EventWritable != 0 {
			ev.writeCB.Handle(uint64(f.Fd))
		}
		processed++
	}

	if triggerTime {
		processed += c.processTimeEvents()
	}

	if atomic.LoadUint64(&c.externalNumEvents) > 0 {
		c.externalLock.Lock()
		drained := c.externalEvents
		c.externalEvents = queue.New()
		atomic.StoreUint64(&c.externalNumEvents, 0)
		c.externalLock.Unlock()

		// run outside the lock so callbacks may submit more work
		for drained.Length() > 0 {
			cb := drained.Remove().(EventCallback)
			cb.Handle(0)
			processed++
		}
	}

	return processed, time.Since(busyStart), nil
}

func (c *Center) processTimeEvents() int {
	processed := 0
	now := time.Now()
	for {
		te := c.timeEvents.peek()
		if te == nil || te.when.After(now) {
			break
		}
		// unlink before invoking so the callback sees consistent state even
		// when it cancels or schedules timers itself
		heap.Pop(&c.timeEvents)
		delete(c.timeEventIndex, te.id)
		te.cb.Handle(te.id)
		processed++
	}
	return processed
}

// DispatchEventExternal queues cb for the owner's next dispatch pass. Safe
// from any thread. Only the enqueue that finds the queue empty signals the
// wake channel; later ones are covered by the pending wake.
func (c *Center) DispatchEventExternal(cb EventCallback) {
	c.externalLock.Lock()
	c.externalEvents.Add(cb)
	num := atomic.AddUint64(&c.externalNumEvents, 1)
	c.externalLock.Unlock()

	if num == 1 && !c.InThread() {
		c.Wakeup()
	}
}

// SubmitTo runs fn on the center registered under id. Calling from that
// center's own owner runs fn inline. Otherwise alwaysAsync queues it and
// returns at once, while the blocking form waits until the owner ran fn; the
// wait has no timeout, so cross-center blocking submissions must stay
// acyclic or both owners deadlock.
func (c *Center) SubmitTo(id int, fn func(), alwaysAsync bool) {
	target := c.registry.get(id)
	if target.InThread() {
		fn()
		return
	}
	if alwaysAsync {
		target.DispatchEventExternal(CallbackFunc(func(uint64) { fn() }))
		return
	}

	done := make(chan struct{})
	target.DispatchEventExternal(CallbackFunc(func(uint64) {
		fn()
		close(done)
	}))
	<-done
}

// Wakeup interrupts a sleeping ProcessEvents. Safe from any thread at any
// time, including before the owner bound; redundant wakes are harmless.
func (c *Center) Wakeup() {
	if c.driver == nil || !c.driver.NeedWakeup() {
		return
	}
	if err := notifySignal(c.notifySendFd); err != nil {
		log.Logger.Error("wake channel signal failed",
			zap.Int("center", c.id), zap.Error(err))
	}
}

// Close releases the wake channel and the driver. When called on the owner
// goroutine it unregisters the wake channel first; descriptors registered
// by users are their own responsibility.
func (c *Center) Close() error {
	var err error
	if c.notifyReceiveFd >= 0 {
		if c.InThread() && c.attached {
			c.DeleteFileEvent(c.notifyReceiveFd, EventReadable)
		}
		err = multierr.Append(err, closeNotifyPair(c.notifyReceiveFd, c.notifySendFd))
		c.notifyReceiveFd = -1
		c.notifySendFd = -1
	}
	if c.driver != nil {
		err = multierr.Append(err, c.driver.Close())
	}
	return err
}

// grow quadruples the table until fd fits, keeping the driver's event
// buffer and the fired scratch slice the same size as the table.
func (c *Center) grow(fd int) error {
	size := c.nevent
	for fd >= size {
		size <<= 2
	}
	if err := c.driver.ResizeEvents(size); err != nil {
		return errors.Wrap(err, "event: resize driver")
	}

	fileEvents := make([]fileEvent, size)
	copy(fileEvents, c.fileEvents)
	c.fileEvents = fileEvents
	c.fired = make([]FiredFileEvent, size)
	c.nevent = size

	log.Logger.Debug("event table grown",
		zap.Int("center", c.id), zap.Int("fd", fd), zap.Int("capacity", size))
	return nil
}

func (c *Center) fileEventSlot(fd int) *fileEvent {
	if fd >= c.nevent {
		panic(fmt.Sprintf("event: fired fd %d beyond table capacity %d", fd, c.nevent))
	}
	return &c.fileEvents[fd]
}

func (c *Center) assertOwner(op string) {
	if !c.InThread() {
		panic(fmt.Sprintf("event: %s on center %d called from non-owner goroutine", op, c.id))
	}
}

// drainNotify empties the wake channel. 256-byte chunks until EAGAIN works
// for both the eventfd and the pipe carrier.
func drainNotify(fd int) {
	var buf [256]byte
	for {
		n, err := unix.Read(fd, buf[:])
		if n <= 0 || err != nil {
			return
		}
	}
}
