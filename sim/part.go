package sim

import "sync/atomic"

// Disposition is the verdict a Part returns from Finalize.
type Disposition int

const (
	// Live keeps the Part scheduled.
	Live Disposition = iota
	// Dormant removes the Part from its EventStep but keeps it alive.
	Dormant
	// Dead dequeues the Part, calls Die and removes it from its Population.
	Dead
)

func (d Disposition) String() string {
	switch d {
	case Live:
		return "live"
	case Dormant:
		return "dormant"
	case Dead:
		return "dead"
	}
	return "unknown"
}

// Part is a single simulated instance. Model types embed PartBase, which
// provides Base and no-op defaults for every hook, and override the hooks
// they need.
type Part[T any] interface {
	Base() *PartBase[T]
	Init(v *Visitor[T])
	Update(v *Visitor[T])
	Finalize(v *Visitor[T]) Disposition
	Die(v *Visitor[T])
	// Clear resets model state before the Part is recycled.
	Clear()
}

// Integrable is implemented by Parts with continuous state. The integrate
// phase skips Parts that do not implement it.
type Integrable[T any] interface {
	Snapshot()
	Restore()
	UpdateDerivative(v *Visitor[T])
	Integrate(dt T)
	PushDerivative()
	MultiplyAddToStack(s T)
	Multiply(s T)
	AddToMembers()
}

// Latcher receives spike triggers. PartBase provides a default bit set.
type Latcher interface {
	Latch(trigger int)
}

// Connection is implemented by Parts of a connection population. Endpoint i
// is bound to an instance of the i-th endpoint population.
type Connection[T any] interface {
	Part[T]
	SetPart(i int, p Part[T])
	GetPart(i int) Part[T]
	// GetCount returns the current degree of the instance bound at endpoint i.
	GetCount(i int) int
	// GetProject returns the position of the instance bound at endpoint i in
	// the space used for nearest-neighbor filtering.
	GetProject(i int) [3]float64
	// MapIndex maps a connectivity matrix row (i = 0) or column (i = 1) to an
	// instance index of the endpoint population.
	MapIndex(i, rc int) int
	// Probability gates creation of the candidate currently bound.
	Probability() float64
}

// Weighted connections receive the matrix entry they were created from.
type Weighted interface {
	SetWeight(w float64)
}

// Disposer is called by Simulator.Close for Parts still alive.
type Disposer interface {
	Dispose()
}

type partState = int32

const (
	stateFree partState = iota
	stateAllocated
	stateLive
	stateDying
	stateDead
)

// PartBase is the scheduler's bookkeeping for one Part.
type PartBase[T any] struct {
	pop     *Population[T]
	self    Part[T]
	index   int
	newborn bool

	state atomic.Int32
	event atomic.Pointer[EventStep[T]]
	stamp atomic.Uint32
	gen   atomic.Uint32
	refs  atomic.Int32
	latch atomic.Uint64
}

func (b *PartBase[T]) Base() *PartBase[T] { return b }

func (b *PartBase[T]) Init(*Visitor[T])                 {}
func (b *PartBase[T]) Update(*Visitor[T])               {}
func (b *PartBase[T]) Finalize(*Visitor[T]) Disposition { return Live }
func (b *PartBase[T]) Die(*Visitor[T])                  {}
func (b *PartBase[T]) Clear()                           {}

// Population returns the owning population.
func (b *PartBase[T]) Population() *Population[T] { return b.pop }

// Index returns the instance registry index, or -1 when unregistered.
func (b *PartBase[T]) Index() int { return b.index }

// Alive reports whether the Part is registered and not dead.
func (b *PartBase[T]) Alive() bool { return b.state.Load() == stateLive }

// Newborn reports whether the Part was created since its population's last
// clear-newborn.
func (b *PartBase[T]) Newborn() bool { return b.newborn }

// Hold takes a reference that delays recycling after death.
func (b *PartBase[T]) Hold() { b.refs.Add(1) }

// Drop releases a reference taken with Hold. The last Drop on a dead Part
// returns it to its population's free list.
func (b *PartBase[T]) Drop() {
	if b.refs.Add(-1) == 0 && b.state.Load() == stateDead && b.pop != nil {
		b.pop.tryRelease(b.self)
	}
}

// Refs returns the current reference count.
func (b *PartBase[T]) Refs() int { return int(b.refs.Load()) }

// Latch sets trigger bit (trigger mod 64).
func (b *PartBase[T]) Latch(trigger int) {
	b.latch.Or(uint64(1) << (uint(trigger) % 64))
}

// Latched reports whether trigger bit is set.
func (b *PartBase[T]) Latched(trigger int) bool {
	return b.latch.Load()&(uint64(1)<<(uint(trigger)%64)) != 0
}

// TakeLatch clears and returns all trigger bits.
func (b *PartBase[T]) TakeLatch() uint64 { return b.latch.Swap(0) }

// Event returns the EventStep the Part is bound to, or nil.
func (b *PartBase[T]) Event() *EventStep[T] { return b.event.Load() }

func (b *PartBase[T]) reset() {
	b.index = -1
	b.newborn = false
	b.event.Store(nil)
	b.stamp.Add(1)
	b.gen.Add(1)
	b.refs.Store(0)
	b.latch.Store(0)
}
