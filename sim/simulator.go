package sim

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/spike-sim/spike-sim/sim/numeric"
)

// Observer is notified after every event once the deferred queues have
// settled.
type Observer[T any] interface {
	Observe(s *Simulator[T], ev Event[T])
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc[T any] func(s *Simulator[T], ev Event[T])

func (f ObserverFunc[T]) Observe(s *Simulator[T], ev Event[T]) { f(s, ev) }

// Option configures a Simulator.
type Option[T any] func(*Simulator[T])

// WithCollectors mirrors simulator counters into Prometheus collectors.
func WithCollectors[T any](c *Collectors) Option[T] {
	return func(s *Simulator[T]) { s.collectors = c }
}

// WithObserver registers an observer.
func WithObserver[T any](o Observer[T]) Option[T] {
	return func(s *Simulator[T]) { s.observers = append(s.observers, o) }
}

// WithIntegrator overrides the integrator selected by Config.
func WithIntegrator[T any](i Integrator[T]) Option[T] {
	return func(s *Simulator[T]) { s.integrator = i }
}

// Simulator is the discrete-event core. It owns the clock, the event queue,
// and the deferred resize, connect and clear-newborn queues.
//
// Run, Step, Init and Close must be called from one goroutine. Stop may be
// called from any goroutine.
type Simulator[T any] struct {
	cfg        Config
	arith      numeric.Arith[T]
	integrator Integrator[T]
	queue      *EventQueue[T]
	now        T
	current    Event[T]
	size       int // members of current when it started
	seq        uint64
	stop       atomic.Bool
	inPhase    atomic.Bool
	closed     bool

	steps    []*EventStep[T]
	enqueues []enqueueRequest[T]
	resizes  []resizeRequest[T]
	connects []*Population[T]
	clears   []*Population[T]
	serial   *Visitor[T]

	top         Part[T]
	popMu       sync.Mutex
	populations []*Population[T]

	rng        *Streams
	metrics    *Metrics
	collectors *Collectors
	observers  []Observer[T]
}

// NewSimulator validates cfg and returns an idle simulator at time zero.
func NewSimulator[T any](cfg Config, arith numeric.Arith[T], opts ...Option[T]) (*Simulator[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid simulator config: %w", err)
	}
	cfg = cfg.withDefaults()
	s := &Simulator[T]{
		cfg:     cfg,
		arith:   arith,
		now:     arith.Zero(),
		queue:   NewEventQueue(arith, cfg.Schedule.SpikesAfterStep),
		rng:     NewStreams(cfg.Seed),
		metrics: &Metrics{},
	}
	s.serial = &Visitor[T]{}
	s.serial.reset(s, nil, arith.Zero(), 0)
	for _, opt := range opts {
		opt(s)
	}
	if s.integrator == nil {
		integ, err := NewIntegrator[T](cfg.Schedule.Integrator)
		if err != nil {
			return nil, err
		}
		s.integrator = integ
	}
	return s, nil
}

// Config returns the effective configuration.
func (s *Simulator[T]) Config() Config { return s.cfg }

// Arith returns the numeric contract.
func (s *Simulator[T]) Arith() numeric.Arith[T] { return s.arith }

// Time returns the current simulated time.
func (s *Simulator[T]) Time() T { return s.now }

// Current returns the event that ran last, or nil before the first event.
func (s *Simulator[T]) Current() Event[T] { return s.current }

// Metrics returns the simulator counters.
func (s *Simulator[T]) Metrics() *Metrics { return s.metrics }

// RNG returns the partitioned random source. Not safe inside phases.
func (s *Simulator[T]) RNG() *Streams { return s.rng }

// Integrator returns the active integrator.
func (s *Simulator[T]) Integrator() Integrator[T] { return s.integrator }

// Pending returns the number of queued events.
func (s *Simulator[T]) Pending() int { return s.queue.Len() }

// Populations returns the populations seen by the simulator, in
// registration order.
func (s *Simulator[T]) Populations() []*Population[T] {
	s.popMu.Lock()
	defer s.popMu.Unlock()
	return append([]*Population[T](nil), s.populations...)
}

// Init creates the top-level wrapper and settles the requests its Init made.
func (s *Simulator[T]) Init(top Part[T]) {
	s.serialOnly("Init")
	s.top = top
	b := top.Base()
	b.self = top
	b.index = -1
	b.state.Store(stateLive)
	s.serial.reset(s, nil, s.arith.Zero(), 0)
	top.Init(s.serial)
	s.settle()
	logrus.Infof("[t %g] Simulation initialized: %d populations, %d events queued",
		s.arith.ToFloat(s.now), len(s.populations), s.queue.Len())
}

// Run executes events up to and including time until. It returns whether
// events remain, so it may be called repeatedly.
func (s *Simulator[T]) Run(until T) bool {
	for {
		if s.stop.CompareAndSwap(true, false) {
			logrus.Infof("[t %g] Simulation stopped", s.arith.ToFloat(s.now))
			break
		}
		next := s.queue.Peek()
		if next == nil || s.arith.Less(until, next.Time()) {
			break
		}
		s.Step()
	}
	logrus.Debugf("[t %g] Run returned with %d events queued", s.arith.ToFloat(s.now), s.queue.Len())
	return s.queue.Len() > 0
}

// Step executes exactly one event and settles the deferred queues. It
// returns false when the queue is empty.
func (s *Simulator[T]) Step() bool {
	s.serialOnly("Step")
	ev := s.queue.PopNext()
	if ev == nil {
		return false
	}
	if s.arith.Less(ev.Time(), s.now) {
		panic(fmt.Sprintf("Clock went backwards: %g < %g", s.arith.ToFloat(ev.Time()), s.arith.ToFloat(s.now)))
	}
	s.now = ev.Time()
	s.current = ev
	s.size = eventSize(ev)
	s.serial.reset(s, ev, s.arith.Zero(), 0)

	logrus.Debugf("[t %g] Executing %s", s.arith.ToFloat(s.now), ev.Kind())
	ev.Run(s)
	s.settle()

	s.metrics.countEvent(ev.Kind())
	s.collectors.event(ev.Kind(), s.queue.Len())
	for _, o := range s.observers {
		o.Observe(s, ev)
	}
	return true
}

// Stop makes Run return before the next event.
func (s *Simulator[T]) Stop() { s.stop.Store(true) }

// SetAfter selects the tie-break for a step and a spike at the same time:
// spikes first when false, steps first when true.
func (s *Simulator[T]) SetAfter(after bool) {
	s.serialOnly("SetAfter")
	s.queue.SetAfter(after)
}

// Resize requests that pop hold exactly n live instances at the next
// serial point.
func (s *Simulator[T]) Resize(pop *Population[T], n int) {
	s.serialOnly("Resize")
	if n < 0 {
		panic(contractf("negative resize of %s to %d", pop.name, n))
	}
	s.resizes = append(s.resizes, resizeRequest[T]{pop: pop, n: n})
}

// Connect requests a connection pass for pop at the next serial point.
func (s *Simulator[T]) Connect(pop *Population[T]) {
	s.serialOnly("Connect")
	s.connects = append(s.connects, pop)
}

// ClearNew requests that pop forget its newborn set at the next serial point.
func (s *Simulator[T]) ClearNew(pop *Population[T]) {
	s.serialOnly("ClearNew")
	s.clears = append(s.clears, pop)
}

// Settle drains the deferred queues immediately. Only needed when requests
// are made between Run calls.
func (s *Simulator[T]) Settle() {
	s.serialOnly("Settle")
	s.settle()
}

// Spike schedules an EventSpike after delay.
func (s *Simulator[T]) Spike(delay T, latch bool, trigger int, targets ...Part[T]) {
	s.serialOnly("Spike")
	s.serial.Spike(delay, latch, trigger, targets...)
	s.absorb(s.serial)
}

// Enqueue binds p to the EventStep for period dt, creating and scheduling
// the EventStep at now+dt if none exists.
func (s *Simulator[T]) Enqueue(p Part[T], dt T) {
	s.serialOnly("Enqueue")
	s.bind(p, dt)
}

// Close disposes of every Part still alive. Safe to call more than once.
func (s *Simulator[T]) Close() {
	if s.closed {
		return
	}
	s.closed = true
	disposed := 0
	for _, pop := range s.Populations() {
		for _, p := range pop.Instances() {
			if d, ok := p.(Disposer); ok {
				d.Dispose()
				disposed++
			}
		}
	}
	if d, ok := s.top.(Disposer); ok && s.top != nil && s.top.Base().Alive() {
		d.Dispose()
		disposed++
	}
	logrus.Infof("[t %g] Simulation closed: %d parts disposed", s.arith.ToFloat(s.now), disposed)
}

func (s *Simulator[T]) serialOnly(op string) {
	if s.inPhase.Load() {
		panic(contractf("%s called while a phase is running; use the Visitor", op))
	}
}

func (s *Simulator[T]) nextSeq() uint64 {
	s.seq++
	return s.seq
}

func (s *Simulator[T]) register(pop *Population[T]) {
	s.popMu.Lock()
	defer s.popMu.Unlock()
	s.populations = append(s.populations, pop)
}

func (s *Simulator[T]) rngFor(name string) *rand.Rand {
	return s.rng.Stream(name)
}

// shardCount returns how many shards a phase over n items uses.
func (s *Simulator[T]) shardCount(n int) int {
	if n < s.cfg.Parallel.Threshold || s.cfg.Parallel.Workers <= 1 {
		return 1
	}
	if n < s.cfg.Parallel.Workers {
		return n
	}
	return s.cfg.Parallel.Workers
}

// fork runs fn for every shard and waits for all of them. A panic in any
// shard is re-raised here as a *FaultError, lowest shard first.
func (s *Simulator[T]) fork(ev Event[T], shards int, fn func(shard int)) {
	s.inPhase.Store(true)
	defer s.inPhase.Store(false)

	if shards <= 1 {
		if err := s.guard(ev, 0, fn); err != nil {
			panic(err)
		}
		return
	}
	errs := make([]error, shards)
	var g errgroup.Group
	for i := 0; i < shards; i++ {
		g.Go(func() error {
			errs[i] = s.guard(ev, i, fn)
			return errs[i]
		})
	}
	_ = g.Wait()
	for _, err := range errs {
		if err != nil {
			panic(err)
		}
	}
}

func (s *Simulator[T]) guard(ev Event[T], shard int, fn func(int)) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &FaultError{Event: ev.Kind().String(), Time: s.arith.ToFloat(s.now), Shard: shard, Value: r}
		}
	}()
	fn(shard)
	return nil
}

// absorb merges a visitor's buffered requests. Spikes are scheduled at once;
// everything else waits for settle.
func (s *Simulator[T]) absorb(v *Visitor[T]) {
	if !v.pending() {
		return
	}
	for _, sp := range v.spikes {
		sp.seq = s.nextSeq()
		s.queue.Schedule(sp)
		s.metrics.SpikesScheduled.Add(1)
	}
	s.enqueues = append(s.enqueues, v.enqueues...)
	s.resizes = append(s.resizes, v.resizes...)
	s.connects = append(s.connects, v.connects...)
	s.clears = append(s.clears, v.clears...)
	v.drain()
}

// settle drains the deferred queues in fixed order: resize, connect,
// clear-newborn, repeating until nothing is pending.
func (s *Simulator[T]) settle() {
	s.absorb(s.serial)
	s.bindPending()
	for len(s.resizes)+len(s.connects)+len(s.clears) > 0 {
		resizes := s.resizes
		s.resizes = nil
		for _, r := range resizes {
			r.pop.resize(s.serial, r.n)
		}
		s.absorb(s.serial)
		s.bindPending()

		connects := unique(s.connects)
		s.connects = nil
		for _, pop := range connects {
			pop.connect(s.serial)
		}
		s.absorb(s.serial)
		s.bindPending()

		clears := unique(s.clears)
		s.clears = nil
		for _, pop := range clears {
			pop.clearNew()
		}
		s.absorb(s.serial)
		s.bindPending()
	}
	for _, pop := range s.Populations() {
		s.collectors.population(pop.name, pop.Live())
	}
}

func (s *Simulator[T]) bindPending() {
	for len(s.enqueues) > 0 {
		reqs := s.enqueues
		s.enqueues = nil
		for _, r := range reqs {
			if r.part.Base().Alive() {
				s.bind(r.part, r.dt)
			}
		}
	}
}

func (s *Simulator[T]) bind(p Part[T], dt T) {
	if !s.arith.Less(s.arith.Zero(), dt) {
		panic(contractf("non-positive step period %g", s.arith.ToFloat(dt)))
	}
	dequeue(p.Base())
	for _, e := range s.steps {
		if s.arith.Equal(e.dt, dt) {
			e.bind(p)
			return
		}
	}
	e := newEventStep(s.arith.Add(s.now, dt), dt, s.nextSeq())
	s.steps = append(s.steps, e)
	s.queue.Schedule(e)
	e.bind(p)
	logrus.Debugf("[t %g] new step dt=%g first at %g", s.arith.ToFloat(s.now), s.arith.ToFloat(dt), s.arith.ToFloat(e.t))
}

func (s *Simulator[T]) retire(e *EventStep[T]) {
	for i, x := range s.steps {
		if x == e {
			s.steps = append(s.steps[:i], s.steps[i+1:]...)
			return
		}
	}
}

// Steps returns the EventSteps currently registered, one per period.
func (s *Simulator[T]) Steps() []*EventStep[T] {
	return append([]*EventStep[T](nil), s.steps...)
}

func eventSize[T any](ev Event[T]) int {
	switch e := ev.(type) {
	case *EventStep[T]:
		return e.Active()
	case *EventSpike[T]:
		return len(e.targets)
	}
	return 0
}

func unique[T comparable](xs []T) []T {
	seen := make(map[T]struct{}, len(xs))
	out := xs[:0]
	for _, x := range xs {
		if _, ok := seen[x]; ok {
			continue
		}
		seen[x] = struct{}{}
		out = append(out, x)
	}
	return out
}
