package event

// Readiness masks. Combine with bitwise OR.
const (
	EventNone     = 0
	EventReadable = 1 << 0
	EventWritable = 1 << 1
)

// EventCallback is the unit of work a Center dispatches. File event
// callbacks receive the ready descriptor, time event callbacks the timer id,
// externally submitted callbacks receive 0. Callbacks always run on the
// owner goroutine of the Center that dispatched them.
type EventCallback interface {
	Handle(fdOrID uint64)
}

// CallbackFunc adapts a plain function to EventCallback.
type CallbackFunc func(fdOrID uint64)

func (f CallbackFunc) Handle(fdOrID uint64) { f(fdOrID) }

// FiredFileEvent is one readiness report from the driver.
type FiredFileEvent struct {
	Fd   int
	Mask int
}

// fileEvent is one interest slot of the descriptor table. The slot for a
// closed descriptor is zeroed and may be reused by whatever descriptor gets
// that number next.
type fileEvent struct {
	mask    int
	readCB  EventCallback
	writeCB EventCallback
}
