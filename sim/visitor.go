package sim

import (
	"github.com/spike-sim/spike-sim/sim/numeric"
)

type enqueueRequest[T any] struct {
	part Part[T]
	dt   T
}

type resizeRequest[T any] struct {
	pop *Population[T]
	n   int
}

// Visitor is the context handed to every Part hook. Scheduling requests made
// through it are buffered per shard and merged in shard order once the phase
// barrier is reached, so results do not depend on goroutine interleaving.
type Visitor[T any] struct {
	sim   *Simulator[T]
	event Event[T]
	dt    T
	shard int

	spikes   []*EventSpike[T]
	enqueues []enqueueRequest[T]
	resizes  []resizeRequest[T]
	connects []*Population[T]
	clears   []*Population[T]
}

// VisitorStep visits the contiguous member range [start, end) of an EventStep.
type VisitorStep[T any] struct {
	Visitor[T]
	start, end int
}

// Range returns the shard's member range.
func (v *VisitorStep[T]) Range() (start, end int) { return v.start, v.end }

// VisitorSpikeMulti visits one shard of a multi-target spike.
type VisitorSpikeMulti[T any] struct {
	Visitor[T]
	targets []Part[T]
}

func (v *Visitor[T]) reset(s *Simulator[T], ev Event[T], dt T, shard int) {
	v.sim = s
	v.event = ev
	v.dt = dt
	v.shard = shard
}

// Sim returns the owning simulator.
func (v *Visitor[T]) Sim() *Simulator[T] { return v.sim }

// Arith returns the simulator's numeric contract.
func (v *Visitor[T]) Arith() numeric.Arith[T] { return v.sim.arith }

// Time returns the current simulated time.
func (v *Visitor[T]) Time() T { return v.sim.now }

// Dt returns the period of the running EventStep, or zero outside one.
func (v *Visitor[T]) Dt() T { return v.dt }

// Event returns the running event, or nil at the serial point.
func (v *Visitor[T]) Event() Event[T] { return v.event }

// Shard returns the shard index of the visitor.
func (v *Visitor[T]) Shard() int { return v.shard }

// Spike schedules delivery of trigger to targets after delay. With latch set
// the targets only record the trigger; otherwise they also run Update and
// Finalize when the spike fires.
func (v *Visitor[T]) Spike(delay T, latch bool, trigger int, targets ...Part[T]) {
	if v.sim.arith.Less(delay, v.sim.arith.Zero()) {
		panic(contractf("negative spike delay %g", v.sim.arith.ToFloat(delay)))
	}
	if len(targets) == 0 {
		return
	}
	t := v.sim.arith.Add(v.sim.now, delay)
	v.spikes = append(v.spikes, newEventSpike(t, latch, trigger, targets))
}

// Enqueue binds p to the EventStep for period dt at the next serial point.
func (v *Visitor[T]) Enqueue(p Part[T], dt T) {
	v.enqueues = append(v.enqueues, enqueueRequest[T]{part: p, dt: dt})
}

// Resize requests that pop hold exactly n live instances.
func (v *Visitor[T]) Resize(pop *Population[T], n int) {
	if n < 0 {
		panic(contractf("negative resize of %s to %d", pop.name, n))
	}
	v.resizes = append(v.resizes, resizeRequest[T]{pop: pop, n: n})
}

// Connect requests a connection pass for the connection population pop.
func (v *Visitor[T]) Connect(pop *Population[T]) {
	v.connects = append(v.connects, pop)
}

// ClearNew requests that pop forget its newborn instances.
func (v *Visitor[T]) ClearNew(pop *Population[T]) {
	v.clears = append(v.clears, pop)
}

// Create allocates, registers and initializes a new instance of pop.
func (v *Visitor[T]) Create(pop *Population[T]) Part[T] {
	return pop.Create(v)
}

// Dequeue removes p from its EventStep without killing it.
func (v *Visitor[T]) Dequeue(p Part[T]) {
	dequeue(p.Base())
}

// Remove kills p: it is dequeued, Die runs, and it leaves its population.
func (v *Visitor[T]) Remove(p Part[T]) {
	if pop := p.Base().pop; pop != nil {
		pop.Remove(v, p)
		return
	}
	b := p.Base()
	if b.state.CompareAndSwap(stateLive, stateDead) {
		dequeue(b)
		p.Die(v)
	}
}

func (v *Visitor[T]) apply(p Part[T], d Disposition) {
	switch d {
	case Dormant:
		v.Dequeue(p)
	case Dead:
		v.Remove(p)
	}
}

func (v *Visitor[T]) pending() bool {
	return len(v.spikes)+len(v.enqueues)+len(v.resizes)+len(v.connects)+len(v.clears) > 0
}

func (v *Visitor[T]) drain() {
	clear(v.spikes)
	clear(v.enqueues)
	clear(v.resizes)
	clear(v.connects)
	clear(v.clears)
	v.spikes = v.spikes[:0]
	v.enqueues = v.enqueues[:0]
	v.resizes = v.resizes[:0]
	v.connects = v.connects[:0]
	v.clears = v.clears[:0]
}
