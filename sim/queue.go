package sim

import (
	"container/heap"

	"github.com/spike-sim/spike-sim/sim/numeric"
)

// EventQueue is a priority queue with deterministic ordering.
// Ordering: time → kind rank → insertion sequence.
//
// Kind rank puts spikes before steps at equal time unless after is set, in
// which case steps run first. Events of the same kind at equal time run in
// insertion order.
type EventQueue[T any] struct {
	events []Event[T]
	arith  numeric.Arith[T]
	after  bool
}

// NewEventQueue creates an empty queue.
func NewEventQueue[T any](arith numeric.Arith[T], after bool) *EventQueue[T] {
	q := &EventQueue[T]{arith: arith, after: after}
	heap.Init(q)
	return q
}

// Len implements heap.Interface
func (q *EventQueue[T]) Len() int { return len(q.events) }

// Less implements heap.Interface with deterministic ordering
func (q *EventQueue[T]) Less(i, j int) bool {
	ei, ej := q.events[i].base(), q.events[j].base()

	// Primary: time (earlier first)
	if !q.arith.Equal(ei.t, ej.t) {
		return q.arith.Less(ei.t, ej.t)
	}

	// Secondary: kind rank
	ri, rj := q.rank(ei.kind), q.rank(ej.kind)
	if ri != rj {
		return ri < rj
	}

	// Tertiary: insertion sequence
	return ei.seq < ej.seq
}

func (q *EventQueue[T]) rank(k EventKind) int {
	r := 0
	if k == KindStep {
		r = 1
	}
	if q.after {
		r = 1 - r
	}
	return r
}

// Swap implements heap.Interface
func (q *EventQueue[T]) Swap(i, j int) {
	q.events[i], q.events[j] = q.events[j], q.events[i]
}

// Push implements heap.Interface
func (q *EventQueue[T]) Push(x any) {
	q.events = append(q.events, x.(Event[T]))
}

// Pop implements heap.Interface
func (q *EventQueue[T]) Pop() any {
	old := q.events
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	q.events = old[0 : n-1]
	return item
}

// Schedule adds an event to the queue
func (q *EventQueue[T]) Schedule(e Event[T]) {
	heap.Push(q, e)
}

// PopNext removes and returns the next event
func (q *EventQueue[T]) PopNext() Event[T] {
	if q.Len() == 0 {
		return nil
	}
	return heap.Pop(q).(Event[T])
}

// Peek returns the next event without removing it
func (q *EventQueue[T]) Peek() Event[T] {
	if q.Len() == 0 {
		return nil
	}
	return q.events[0]
}

// SetAfter changes the step/spike tie-break and restores heap order.
func (q *EventQueue[T]) SetAfter(after bool) {
	if q.after == after {
		return
	}
	q.after = after
	heap.Init(q)
}

// After reports the current tie-break.
func (q *EventQueue[T]) After() bool { return q.after }
