package event

import (
	"fmt"
	"sync"
)

// MaxEventCenters bounds how many centers a single Registry can address.
const MaxEventCenters = 24

// Registry maps small integer ids to live centers so that any thread can
// route work to a reactor it does not own. Slots are populated once, when
// each center binds its owner, and stay put until process teardown. Every
// pool owns a private Registry; there is no process-global table.
type Registry struct {
	mu      sync.RWMutex
	centers [MaxEventCenters]*Center
}

func NewRegistry() *Registry {
	return &Registry{}
}

func (r *Registry) attach(id int, c *Center) {
	if id < 0 || id >= MaxEventCenters {
		panic(fmt.Sprintf("event: center id %d out of range [0,%d)", id, MaxEventCenters))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.centers[id] != nil && r.centers[id] != c {
		panic(fmt.Sprintf("event: center id %d already attached", id))
	}
	r.centers[id] = c
}

// get resolves an id to its center. Asking for an index that was never
// populated is a programming error, not a runtime condition.
func (r *Registry) get(id int) *Center {
	if id < 0 || id >= MaxEventCenters {
		panic(fmt.Sprintf("event: center id %d out of range [0,%d)", id, MaxEventCenters))
	}
	r.mu.RLock()
	c := r.centers[id]
	r.mu.RUnlock()
	if c == nil {
		panic(fmt.Sprintf("event: no center attached at id %d", id))
	}
	return c
}
