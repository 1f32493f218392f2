package event

import "time"

// EventDriver wraps one OS readiness notification mechanism behind a small
// mask-level contract. Implementations are not safe for concurrent use; a
// driver belongs to exactly one Center and is only touched from its owner
// goroutine.
type EventDriver interface {
	// Init prepares the backend for nevent descriptors.
	Init(nevent int) error

	// AddEvent merges addMask into a descriptor's registration. curMask is
	// the mask registered so far, so the backend can tell a first
	// registration from a modification.
	AddEvent(fd, curMask, addMask int) error

	// DelEvent removes delMask from a descriptor's registration. When
	// nothing of curMask survives the registration is removed entirely.
	DelEvent(fd, curMask, delMask int) error

	// EventWait blocks until at least one registered descriptor is ready or
	// timeout elapses, filling fired (caller owned, len >= table capacity)
	// and returning the count. A negative timeout blocks indefinitely, zero
	// polls. EINTR comes back as an error the caller can errors.Is against.
	EventWait(fired []FiredFileEvent, timeout time.Duration) (int, error)

	// ResizeEvents tells the backend the descriptor table grew to n.
	ResizeEvents(n int) error

	// NeedWakeup reports whether a sleeping EventWait must be interrupted
	// through the wake channel to notice cross-thread submissions.
	NeedWakeup() bool

	Close() error
}
