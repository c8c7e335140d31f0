package sim

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// BlockOf returns a block constructor for Parts of struct type S whose
// pointer type P implements Part. Storage for the whole block is one slice.
func BlockOf[T any, S any, P interface {
	*S
	Part[T]
}](n int) []Part[T] {
	block := make([]S, n)
	parts := make([]Part[T], n)
	for i := range block {
		parts[i] = P(&block[i])
	}
	return parts
}

// PopulationOption configures a Population.
type PopulationOption[T any] func(*Population[T])

// WithCapacity caps the number of instances the population may ever hold.
func WithCapacity[T any](n int) PopulationOption[T] {
	return func(p *Population[T]) { p.capacity = n }
}

// WithBlockSize sets the first storage block size and the size blocks
// double up to.
func WithBlockSize[T any](first, max int) PopulationOption[T] {
	return func(p *Population[T]) {
		p.nextBlock = first
		p.maxBlock = max
	}
}

// Population owns the storage and instance registry of one Part type.
//
// Storage grows by blocks and never shrinks; released Parts go to a free list
// and are handed out again before any new block is allocated. Instance
// indices freed by death become reusable only after the next clear-newborn,
// so newborn indices stay stable through a connect pass.
type Population[T any] struct {
	name     string
	newBlock func(n int) []Part[T]
	sim      *Simulator[T]

	mu           sync.Mutex
	blocks       [][]Part[T]
	free         []Part[T]
	allocated    int
	nextBlock    int
	maxBlock     int
	capacity     int
	instances    []Part[T]
	holes        []int
	pendingHoles []int
	newborn      []int
	live         int
	dependents   []*Population[T]

	spec      *ConnectSpec[T]
	connected bool
}

// NewPopulation creates an empty population. newBlock returns n fresh,
// zero-valued Parts.
func NewPopulation[T any](name string, newBlock func(n int) []Part[T], opts ...PopulationOption[T]) *Population[T] {
	p := &Population[T]{name: name, newBlock: newBlock}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the population name.
func (p *Population[T]) Name() string { return p.name }

// attach binds the population to a simulator on first use. Caller holds mu.
func (p *Population[T]) attach(s *Simulator[T]) {
	if p.sim != nil {
		return
	}
	p.sim = s
	pool := s.cfg.Pool
	if p.nextBlock <= 0 {
		p.nextBlock = pool.BlockSize
	}
	if p.maxBlock < p.nextBlock {
		p.maxBlock = max(pool.MaxBlock, p.nextBlock)
	}
	if p.capacity == 0 {
		p.capacity = pool.Capacity
	}
	s.register(p)
}

// grow appends a storage block. Caller holds mu.
func (p *Population[T]) grow() {
	size := p.nextBlock
	if p.capacity > 0 && p.allocated+size > p.capacity {
		size = p.capacity - p.allocated
	}
	if size <= 0 {
		panic(fmt.Errorf("%w: %s reached capacity %d", ErrPoolExhausted, p.name, p.capacity))
	}
	block := p.newBlock(size)
	for _, part := range block {
		b := part.Base()
		b.pop = p
		b.self = part
		b.index = -1
	}
	p.blocks = append(p.blocks, block)
	p.allocated += size
	for i := len(block) - 1; i >= 0; i-- {
		p.free = append(p.free, block[i])
	}
	p.nextBlock = min(2*p.nextBlock, p.maxBlock)
	logrus.Debugf("population %s grew by %d to %d slots", p.name, size, p.allocated)
}

// allocate takes a Part off the free list. Caller holds mu.
func (p *Population[T]) allocate() Part[T] {
	if len(p.free) == 0 {
		p.grow()
	}
	n := len(p.free) - 1
	part := p.free[n]
	p.free[n] = nil
	p.free = p.free[:n]
	part.Base().state.Store(stateAllocated)
	return part
}

// register adds an allocated Part to the instance registry. Caller holds mu.
func (p *Population[T]) register(part Part[T]) {
	b := part.Base()
	var idx int
	if n := len(p.holes); n > 0 {
		idx = p.holes[n-1]
		p.holes = p.holes[:n-1]
		p.instances[idx] = part
	} else {
		idx = len(p.instances)
		p.instances = append(p.instances, part)
	}
	b.index = idx
	b.newborn = true
	p.newborn = append(p.newborn, idx)
	p.live++
	b.state.Store(stateLive)
}

// deregister removes a dying Part from the registry. Caller holds mu.
func (p *Population[T]) deregister(b *PartBase[T]) {
	if b.index >= 0 && b.index < len(p.instances) && p.instances[b.index] == b.self {
		p.instances[b.index] = nil
		p.pendingHoles = append(p.pendingHoles, b.index)
		p.live--
	}
}

// release returns a dead Part to the free list. Caller holds mu.
func (p *Population[T]) release(part Part[T]) {
	b := part.Base()
	if !b.state.CompareAndSwap(stateDead, stateFree) && !b.state.CompareAndSwap(stateAllocated, stateFree) {
		return
	}
	part.Clear()
	b.reset()
	p.free = append(p.free, part)
	if p.sim != nil {
		p.sim.metrics.PartsRecycled.Add(1)
	}
}

func (p *Population[T]) tryRelease(part Part[T]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if part.Base().refs.Load() == 0 {
		p.release(part)
	}
}

// Create allocates, registers and initializes a new instance, then requests
// connect passes for dependent connection populations and a clear-newborn
// for this population.
func (p *Population[T]) Create(v *Visitor[T]) Part[T] {
	part := func() Part[T] {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.attach(v.sim)
		part := p.allocate()
		p.register(part)
		return part
	}()
	deps := p.Dependents()

	part.Init(v)
	v.sim.metrics.PartsCreated.Add(1)
	v.sim.collectors.created(p.name)
	for _, d := range deps {
		v.Connect(d)
	}
	v.ClearNew(p)
	return part
}

// Remove kills part: it is dequeued, Die runs, it leaves the registry and is
// recycled once no references remain.
func (p *Population[T]) Remove(v *Visitor[T], part Part[T]) {
	b := part.Base()
	if b.pop != p {
		panic(contractf("%s cannot remove a part it does not own", p.name))
	}
	if !b.state.CompareAndSwap(stateLive, stateDying) {
		return
	}
	dequeue(b)
	part.Die(v)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.deregister(b)
	b.state.Store(stateDead)
	if b.refs.Load() == 0 {
		p.release(part)
	}
	v.sim.metrics.PartsDied.Add(1)
	v.sim.collectors.died(p.name)
}

// resize creates or kills instances until exactly n are live. Excess
// instances die highest index first.
func (p *Population[T]) resize(v *Visitor[T], n int) {
	p.mu.Lock()
	p.attach(v.sim)
	live := p.live
	p.mu.Unlock()

	for ; live < n; live++ {
		p.Create(v)
	}
	if live > n {
		victims := p.Instances()
		sort.Slice(victims, func(i, j int) bool {
			return victims[i].Base().index > victims[j].Base().index
		})
		for _, part := range victims[:live-n] {
			p.Remove(v, part)
		}
	}
	logrus.Debugf("[t %g] resized %s to %d", v.sim.arith.ToFloat(v.sim.now), p.name, n)
}

// clearNew forgets the newborn set and makes freed indices reusable.
func (p *Population[T]) clearNew() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, idx := range p.newborn {
		if part := p.instances[idx]; part != nil {
			part.Base().newborn = false
		}
	}
	p.newborn = p.newborn[:0]
	p.holes = append(p.holes, p.pendingHoles...)
	sort.Sort(sort.Reverse(sort.IntSlice(p.holes)))
	p.pendingHoles = p.pendingHoles[:0]
}

// Live returns the number of registered, not-dead instances.
func (p *Population[T]) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.live
}

// Allocated returns the number of storage slots ever allocated.
func (p *Population[T]) Allocated() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allocated
}

// Free returns the length of the free list.
func (p *Population[T]) Free() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}

// Blocks returns the sizes of the storage blocks, in allocation order.
func (p *Population[T]) Blocks() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int, len(p.blocks))
	for i, b := range p.blocks {
		out[i] = len(b)
	}
	return out
}

// Instances returns the live instances in index order.
func (p *Population[T]) Instances() []Part[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Part[T], 0, p.live)
	for _, part := range p.instances {
		if part != nil && part.Base().Alive() {
			out = append(out, part)
		}
	}
	return out
}

// Newborn returns the live instances created since the last clear-newborn,
// in index order.
func (p *Population[T]) Newborn() []Part[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	idx := append([]int(nil), p.newborn...)
	sort.Ints(idx)
	out := make([]Part[T], 0, len(idx))
	for _, i := range idx {
		if part := p.instances[i]; part != nil && part.Base().Alive() {
			out = append(out, part)
		}
	}
	return out
}

// At returns the instance at registry index i, or nil for a hole or an
// index out of range.
func (p *Population[T]) At(i int) Part[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.instances) {
		return nil
	}
	part := p.instances[i]
	if part == nil || !part.Base().Alive() {
		return nil
	}
	return part
}

// Dependents returns the connection populations that have this population
// as an endpoint.
func (p *Population[T]) Dependents() []*Population[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*Population[T](nil), p.dependents...)
}

func (p *Population[T]) addDependent(d *Population[T]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, x := range p.dependents {
		if x == d {
			return
		}
	}
	p.dependents = append(p.dependents, d)
}
