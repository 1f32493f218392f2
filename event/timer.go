package event

import "time"

// timeEvent is one pending timer. It is unlinked from both the heap and the
// id index exactly once: when it fires or when it is canceled.
type timeEvent struct {
	id    uint64
	when  time.Time
	cb    EventCallback
	index int // position in the heap, kept for O(log n) removal
}

// timeEventHeap orders timers by deadline. Ids are issued monotonically, so
// breaking ties on id makes timers with equal deadlines fire in creation
// order.
type timeEventHeap []*timeEvent

func (h timeEventHeap) Len() int { return len(h) }

func (h timeEventHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].id < h[j].id
	}
	return h[i].when.Before(h[j].when)
}

func (h timeEventHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timeEventHeap) Push(x any) {
	te := x.(*timeEvent)
	te.index = len(*h)
	*h = append(*h, te)
}

func (h *timeEventHeap) Pop() any {
	old := *h
	n := len(old)
	te := old[n-1]
	old[n-1] = nil
	te.index = -1
	*h = old[:n-1]
	return te
}

func (h timeEventHeap) peek() *timeEvent {
	if len(h) == 0 {
		return nil
	}
	return h[0]
}
