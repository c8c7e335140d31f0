package sim

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// EventKind distinguishes recurring steps from one-shot spikes.
type EventKind int

const (
	KindSpike EventKind = iota
	KindStep
)

func (k EventKind) String() string {
	if k == KindStep {
		return "step"
	}
	return "spike"
}

// Event defines the interface for all simulation events.
// Each event has a time and a Run method that advances simulation state
// when the event becomes current.
type Event[T any] interface {
	Time() T
	Kind() EventKind
	Run(s *Simulator[T])
	base() *eventBase[T]
}

type eventBase[T any] struct {
	t    T
	seq  uint64
	kind EventKind
}

func (e *eventBase[T]) Time() T             { return e.t }
func (e *eventBase[T]) Kind() EventKind     { return e.kind }
func (e *eventBase[T]) Seq() uint64         { return e.seq }
func (e *eventBase[T]) base() *eventBase[T] { return e }

type member[T any] struct {
	part  Part[T]
	stamp uint32
}

// EventStep is the recurring event shared by every Part with the same period.
// Dequeued members leave tombstones that are compacted lazily.
type EventStep[T any] struct {
	eventBase[T]
	dt       T
	members  []member[T]
	lingered atomic.Int64
	shards   []*VisitorStep[T]
}

func newEventStep[T any](t, dt T, seq uint64) *EventStep[T] {
	return &EventStep[T]{
		eventBase: eventBase[T]{t: t, seq: seq, kind: KindStep},
		dt:        dt,
	}
}

// Dt returns the period.
func (e *EventStep[T]) Dt() T { return e.dt }

// Active returns the number of members not yet dequeued.
func (e *EventStep[T]) Active() int { return len(e.members) - int(e.lingered.Load()) }

// Lingering returns the number of tombstones awaiting compaction.
func (e *EventStep[T]) Lingering() int { return int(e.lingered.Load()) }

// Members returns the Parts currently bound to the event.
func (e *EventStep[T]) Members() []Part[T] {
	out := make([]Part[T], 0, e.Active())
	for _, m := range e.members {
		if e.valid(m) {
			out = append(out, m.part)
		}
	}
	return out
}

func (e *EventStep[T]) valid(m member[T]) bool {
	b := m.part.Base()
	return b.event.Load() == e && b.stamp.Load() == m.stamp
}

func (e *EventStep[T]) bind(p Part[T]) {
	b := p.Base()
	stamp := b.stamp.Add(1)
	b.event.Store(e)
	e.members = append(e.members, member[T]{part: p, stamp: stamp})
}

// Run integrates, updates and finalizes every member, then compacts and
// reschedules.
func (e *EventStep[T]) Run(s *Simulator[T]) {
	e.partition(s)
	s.integrator.Integrate(s, e)
	e.Visit(s, func(v *Visitor[T], p Part[T]) {
		p.Update(v)
	})
	e.Visit(s, func(v *Visitor[T], p Part[T]) {
		v.apply(p, p.Finalize(v))
	})
	e.flush(s)

	if e.Active() > 0 {
		e.t = s.arith.Add(e.t, e.dt)
		e.seq = s.nextSeq()
		s.queue.Schedule(e)
		return
	}
	logrus.Debugf("[t %g] retiring step dt=%g", s.arith.ToFloat(s.now), s.arith.ToFloat(e.dt))
	s.retire(e)
}

// Visit runs fn on every valid member, one goroutine per shard, and returns
// after all shards finish.
func (e *EventStep[T]) Visit(s *Simulator[T], fn func(v *Visitor[T], p Part[T])) {
	s.fork(e, len(e.shards), func(i int) {
		vs := e.shards[i]
		for j := vs.start; j < vs.end; j++ {
			m := e.members[j]
			if !e.valid(m) || !m.part.Base().Alive() {
				continue
			}
			fn(&vs.Visitor, m.part)
		}
	})
	for _, vs := range e.shards {
		s.absorb(&vs.Visitor)
	}
}

// VisitIntegrable is Visit restricted to Parts with continuous state.
func (e *EventStep[T]) VisitIntegrable(s *Simulator[T], fn func(v *Visitor[T], p Integrable[T])) {
	e.Visit(s, func(v *Visitor[T], p Part[T]) {
		if ip, ok := p.(Integrable[T]); ok {
			fn(v, ip)
		}
	})
}

// partition splits the member list into contiguous shards.
func (e *EventStep[T]) partition(s *Simulator[T]) {
	n := len(e.members)
	shards := s.shardCount(n)
	for len(e.shards) < shards {
		e.shards = append(e.shards, &VisitorStep[T]{})
	}
	e.shards = e.shards[:shards]
	for i, vs := range e.shards {
		vs.Visitor.reset(s, e, e.dt, i)
		vs.start = i * n / shards
		vs.end = (i + 1) * n / shards
	}
}

// flush compacts tombstones once enough have accumulated.
func (e *EventStep[T]) flush(s *Simulator[T]) {
	lingered := int(e.lingered.Load())
	if lingered == 0 {
		return
	}
	cfg := s.cfg.Schedule
	if lingered <= cfg.LingerThreshold && float64(lingered) <= cfg.LingerRatio*float64(len(e.members)) {
		return
	}
	kept := e.members[:0]
	for _, m := range e.members {
		if e.valid(m) {
			kept = append(kept, m)
		}
	}
	for i := len(kept); i < len(e.members); i++ {
		e.members[i] = member[T]{}
	}
	e.members = kept
	e.lingered.Store(0)
	s.metrics.Flushes.Add(1)
	s.collectors.flush()
}

// dequeue unbinds a Part from its EventStep, leaving a tombstone.
func dequeue[T any](b *PartBase[T]) {
	ev := b.event.Load()
	if ev != nil && b.event.CompareAndSwap(ev, nil) {
		ev.lingered.Add(1)
	}
}

type spikeTarget[T any] struct {
	part Part[T]
	gen  uint32
}

// EventSpike is a one-shot delivery of a trigger to one or more targets.
// Latch variants only set the trigger bit; plain variants also run Update
// and Finalize on the targets.
type EventSpike[T any] struct {
	eventBase[T]
	latch   bool
	trigger int
	targets []spikeTarget[T]
	shards  []*VisitorSpikeMulti[T]
}

func newEventSpike[T any](t T, latch bool, trigger int, targets []Part[T]) *EventSpike[T] {
	e := &EventSpike[T]{
		eventBase: eventBase[T]{t: t, kind: KindSpike},
		latch:     latch,
		trigger:   trigger,
		targets:   make([]spikeTarget[T], 0, len(targets)),
	}
	seen := make(map[Part[T]]struct{}, len(targets))
	for _, p := range targets {
		if p == nil {
			continue
		}
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		e.targets = append(e.targets, spikeTarget[T]{part: p, gen: p.Base().gen.Load()})
	}
	return e
}

// Variant names the delivery mode: single, multi, single-latch or multi-latch.
func (e *EventSpike[T]) Variant() string {
	v := "single"
	if len(e.targets) > 1 {
		v = "multi"
	}
	if e.latch {
		v += "-latch"
	}
	return v
}

// Trigger returns the trigger index delivered to each target.
func (e *EventSpike[T]) Trigger() int { return e.trigger }

// Run delivers the spike to every target that is still the instance it was
// addressed to.
func (e *EventSpike[T]) Run(s *Simulator[T]) {
	live := make([]Part[T], 0, len(e.targets))
	for _, tg := range e.targets {
		b := tg.part.Base()
		if b.Alive() && b.gen.Load() == tg.gen {
			live = append(live, tg.part)
		}
	}
	if e.latch {
		for _, p := range live {
			latch(p, e.trigger)
		}
		return
	}
	if len(live) == 0 {
		return
	}

	shards := s.shardCount(len(live))
	for len(e.shards) < shards {
		e.shards = append(e.shards, &VisitorSpikeMulti[T]{})
	}
	e.shards = e.shards[:shards]
	for i, vs := range e.shards {
		vs.Visitor.reset(s, e, s.arith.Zero(), i)
		vs.targets = live[i*len(live)/shards : (i+1)*len(live)/shards]
	}

	s.fork(e, shards, func(i int) {
		vs := e.shards[i]
		for _, p := range vs.targets {
			latch(p, e.trigger)
			p.Update(&vs.Visitor)
		}
	})
	s.fork(e, shards, func(i int) {
		vs := e.shards[i]
		for _, p := range vs.targets {
			if p.Base().Alive() {
				vs.apply(p, p.Finalize(&vs.Visitor))
			}
		}
	})
	for _, vs := range e.shards {
		s.absorb(&vs.Visitor)
		vs.targets = nil
	}
}

func latch[T any](p Part[T], trigger int) {
	if l, ok := p.(Latcher); ok {
		l.Latch(trigger)
		return
	}
	p.Base().Latch(trigger)
}
