package sim

import (
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

// Endpoint describes one endpoint of a connection population.
type Endpoint[T any] struct {
	Population *Population[T]
	Min        int // minimum degree enforced by the fill pass
	Max        int // maximum degree (0 = unbounded)

	// Nearest-neighbor filter relative to the enclosing endpoint. Active when
	// K > 0 or Radius > 0; ignored on the outermost endpoint.
	K         int
	Radius    float64
	Epsilon   float64
	MaxVisits int
}

func (e Endpoint[T]) nearest() bool { return e.K > 0 || e.Radius > 0 }

// ConnectSpec declares how a connection population is generated.
type ConnectSpec[T any] struct {
	Endpoints []Endpoint[T]
	// Matrix, when set, enumerates exactly the nonzero (row, col) entries
	// instead of the endpoint product. Requires two endpoints.
	Matrix mat.Matrix
}

// Validate checks endpoint bounds and matrix arity.
func (c ConnectSpec[T]) Validate() error {
	if len(c.Endpoints) == 0 {
		return fmt.Errorf("connect spec needs at least one endpoint")
	}
	for i, ep := range c.Endpoints {
		if ep.Population == nil {
			return fmt.Errorf("endpoint %d has no population", i)
		}
		if ep.Min < 0 || ep.Max < 0 {
			return fmt.Errorf("endpoint %d: degree bounds must be >= 0, got min=%d max=%d", i, ep.Min, ep.Max)
		}
		if ep.Max > 0 && ep.Min > ep.Max {
			return fmt.Errorf("endpoint %d: min %d exceeds max %d", i, ep.Min, ep.Max)
		}
		if ep.K < 0 || ep.Radius < 0 || ep.Epsilon < 0 || ep.MaxVisits < 0 {
			return fmt.Errorf("endpoint %d: nearest-neighbor parameters must be >= 0", i)
		}
	}
	if c.Matrix != nil && len(c.Endpoints) != 2 {
		return fmt.Errorf("matrix connect needs exactly 2 endpoints, got %d", len(c.Endpoints))
	}
	return nil
}

// SetConnect makes p a connection population generated by spec, and a
// dependent of every endpoint population.
func (p *Population[T]) SetConnect(spec ConnectSpec[T]) error {
	if err := spec.Validate(); err != nil {
		return fmt.Errorf("population %s: %w", p.name, err)
	}
	for _, ep := range spec.Endpoints {
		if ep.Population == p {
			return fmt.Errorf("population %s cannot be its own endpoint", p.name)
		}
	}
	p.spec = &spec
	for _, ep := range spec.Endpoints {
		ep.Population.addDependent(p)
	}
	return nil
}

// Spec returns the connect spec, or nil for a plain population.
func (p *Population[T]) Spec() *ConnectSpec[T] { return p.spec }

type candidateMode int

const (
	modeAll candidateMode = iota
	modeOld
	modeNew
)

func candidates[T any](pop *Population[T], mode candidateMode) []Part[T] {
	all := pop.Instances()
	if mode == modeAll {
		return all
	}
	out := all[:0]
	for _, part := range all {
		if part.Base().newborn == (mode == modeNew) {
			out = append(out, part)
		}
	}
	return out
}

type connectStats struct {
	made     int
	rejected int
	filled   int
}

// connect runs one connection pass. The first pass enumerates every tuple;
// later passes only enumerate tuples with at least one newborn endpoint.
func (p *Population[T]) connect(v *Visitor[T]) {
	if p.spec == nil {
		panic(contractf("connect requested for %s, which has no connect spec", p.name))
	}
	p.mu.Lock()
	p.attach(v.sim)
	p.mu.Unlock()

	var stats connectStats
	eps := p.spec.Endpoints
	incremental := p.connected
	switch {
	case p.spec.Matrix != nil:
		probe := p.probe()
		p.drive(v, newConnectMatrix(probe, eps, matrixEntries(p.spec.Matrix), incremental), &stats)
	case !incremental:
		p.drive(v, p.chain(make([]candidateMode, len(eps))), &stats)
	default:
		for i := range eps {
			if len(eps[i].Population.Newborn()) == 0 {
				continue
			}
			modes := make([]candidateMode, len(eps))
			for j := range modes {
				switch {
				case j < i:
					modes[j] = modeOld
				case j == i:
					modes[j] = modeNew
				default:
					modes[j] = modeAll
				}
			}
			p.drive(v, p.chain(modes), &stats)
		}
	}
	p.connected = true
	if len(eps) == 2 {
		p.fill(v, &stats, incremental)
	}

	v.sim.metrics.ConnectionsMade.Add(int64(stats.made + stats.filled))
	v.sim.metrics.ConnectionsRejected.Add(int64(stats.rejected))
	v.sim.collectors.connected(p.name, stats.made+stats.filled)
	logrus.Debugf("[t %g] connect %s: made=%d rejected=%d filled=%d incremental=%v",
		v.sim.arith.ToFloat(v.sim.now), p.name, stats.made, stats.rejected, stats.filled, incremental)
}

// drive walks an iterator chain, adopting every gated candidate. A rejected
// probe is reused for the next candidate.
func (p *Population[T]) drive(v *Visitor[T], it connectLevel[T], stats *connectStats) {
	probe := it.probeOf()
	for ok := it.reset(); ok; ok = it.Next() {
		if !p.gate(probe) {
			stats.rejected++
			continue
		}
		p.adopt(v, probe)
		stats.made++
		probe = p.probe()
		it.SetProbe(probe)
	}
	p.discard(probe)
}

func (p *Population[T]) gate(c Connection[T]) bool {
	prob := c.Probability()
	if prob >= 1 {
		return true
	}
	if prob <= 0 {
		return false
	}
	return p.sim.rngFor(SubsystemConnect(p.name)).Float64() < prob
}

// probe allocates an unregistered instance to bind candidates into.
func (p *Population[T]) probe() Connection[T] {
	p.mu.Lock()
	defer p.mu.Unlock()
	part := p.allocate()
	c, ok := part.(Connection[T])
	if !ok {
		p.release(part)
		panic(contractf("population %s parts do not implement Connection", p.name))
	}
	return c
}

func (p *Population[T]) discard(c Connection[T]) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.release(c)
}

// adopt registers an allocated Part and runs Init.
func (p *Population[T]) adopt(v *Visitor[T], part Part[T]) {
	func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.register(part)
	}()
	part.Init(v)
	v.sim.metrics.PartsCreated.Add(1)
	v.sim.collectors.created(p.name)
	for _, d := range p.Dependents() {
		v.Connect(d)
	}
	v.ClearNew(p)
}

// compositionOrder returns endpoint indices from outermost to innermost:
// bounded endpoints first by ascending Max, then unbounded ones, with
// nearest-neighbor endpoints innermost.
func compositionOrder[T any](eps []Endpoint[T]) []int {
	order := make([]int, len(eps))
	for i := range order {
		order[i] = i
	}
	group := func(e Endpoint[T]) int {
		switch {
		case e.nearest():
			return 2
		case e.Max > 0:
			return 0
		}
		return 1
	}
	sort.SliceStable(order, func(a, b int) bool {
		ea, eb := eps[order[a]], eps[order[b]]
		ga, gb := group(ea), group(eb)
		if ga != gb {
			return ga < gb
		}
		if ga == 0 && ea.Max != eb.Max {
			return ea.Max < eb.Max
		}
		return false
	})
	return order
}

// chain builds the nested iterator over all endpoints with a fresh probe.
func (p *Population[T]) chain(modes []candidateMode) connectLevel[T] {
	probe := p.probe()
	eps := p.spec.Endpoints
	order := compositionOrder(eps)
	levels := make([]connectLevel[T], len(order))
	for pos, i := range order {
		cands := candidates(eps[i].Population, modes[i])
		if pos > 0 && eps[i].nearest() {
			levels[pos] = newConnectPopulationNN(i, eps[i], cands, probe, order[pos-1])
		} else {
			levels[pos] = newConnectPopulation(i, eps[i], cands, probe)
		}
	}
	for pos := 0; pos+1 < len(levels); pos++ {
		levels[pos].setInner(levels[pos+1])
	}
	return levels[0]
}

// fill creates connections, ignoring the random gate, for endpoint
// instances whose degree is below Min. After the first pass only newborn
// instances are filled. Existing tuples are not duplicated and candidates
// with zero probability are skipped.
func (p *Population[T]) fill(v *Visitor[T], stats *connectStats, incremental bool) {
	eps := p.spec.Endpoints
	if eps[0].Min <= 0 && eps[1].Min <= 0 {
		return
	}
	var existing map[[2]Part[T]]struct{}
	for i := 0; i < 2; i++ {
		ep := eps[i]
		if ep.Min <= 0 {
			continue
		}
		j := 1 - i
		var needy []Part[T]
		if incremental {
			needy = ep.Population.Newborn()
		} else {
			needy = ep.Population.Instances()
		}
		if len(needy) == 0 {
			continue
		}
		probe := p.probe()
		var index *nearestIndex[T]
		for _, a := range needy {
			probe.SetPart(i, a)
			if probe.GetCount(i) >= ep.Min {
				continue
			}
			if existing == nil {
				existing = p.tuples()
			}
			var pool []Part[T]
			if eps[j].nearest() {
				if index == nil {
					index = newNearestIndex(probe, j, eps[j].Population.Instances())
				}
				pool = index.query(probe.GetProject(i), eps[j].K, eps[j].Radius, eps[j].Epsilon, eps[j].MaxVisits)
			} else {
				pool = eps[j].Population.Instances()
			}
			for _, b := range pool {
				if probe.GetCount(i) >= ep.Min {
					break
				}
				key := [2]Part[T]{a, b}
				if i == 1 {
					key = [2]Part[T]{b, a}
				}
				if _, dup := existing[key]; dup || !b.Base().Alive() {
					continue
				}
				probe.SetPart(j, b)
				if eps[j].Max > 0 && probe.GetCount(j) >= eps[j].Max {
					continue
				}
				if probe.Probability() <= 0 {
					continue
				}
				p.adopt(v, probe)
				existing[key] = struct{}{}
				stats.filled++
				probe = p.probe()
				probe.SetPart(i, a)
			}
		}
		p.discard(probe)
	}
}

// tuples returns the endpoint pairs of every live two-endpoint connection.
func (p *Population[T]) tuples() map[[2]Part[T]]struct{} {
	insts := p.Instances()
	out := make(map[[2]Part[T]]struct{}, len(insts))
	for _, inst := range insts {
		c := inst.(Connection[T])
		out[[2]Part[T]{c.GetPart(0), c.GetPart(1)}] = struct{}{}
	}
	return out
}

// ConnectIterator enumerates candidate endpoint bindings into a probe.
type ConnectIterator[T any] interface {
	// SetProbe rebinds the iterator to probe c and reports whether the
	// current binding is full, in which case the iterator advances past it.
	SetProbe(c Connection[T]) bool
	// Next advances to the next complete binding, innermost first. It
	// returns false on exhaustion.
	Next() bool
}

type connectLevel[T any] interface {
	ConnectIterator[T]
	reset() bool
	setInner(inner connectLevel[T])
	probeOf() Connection[T]
}

// ConnectPopulation enumerates one endpoint's candidates odometer-style,
// skipping dead and full instances and nesting an inner iterator.
type ConnectPopulation[T any] struct {
	index      int
	endpoint   Endpoint[T]
	candidates []Part[T]
	pos        int
	probe      Connection[T]
	inner      connectLevel[T]
	skip       bool
}

func newConnectPopulation[T any](index int, ep Endpoint[T], cands []Part[T], probe Connection[T]) *ConnectPopulation[T] {
	return &ConnectPopulation[T]{index: index, endpoint: ep, candidates: cands, probe: probe, pos: -1}
}

func (c *ConnectPopulation[T]) setInner(inner connectLevel[T]) { c.inner = inner }

func (c *ConnectPopulation[T]) probeOf() Connection[T] { return c.probe }

func (c *ConnectPopulation[T]) reset() bool {
	c.pos = -1
	c.skip = false
	return c.step()
}

func (c *ConnectPopulation[T]) full() bool {
	return c.endpoint.Max > 0 && c.probe.GetCount(c.index) >= c.endpoint.Max
}

func (c *ConnectPopulation[T]) step() bool {
	for c.pos++; c.pos < len(c.candidates); c.pos++ {
		cand := c.candidates[c.pos]
		if !cand.Base().Alive() {
			continue
		}
		c.probe.SetPart(c.index, cand)
		if c.full() {
			continue
		}
		if c.inner == nil || c.inner.reset() {
			return true
		}
	}
	return false
}

// Next implements ConnectIterator.
func (c *ConnectPopulation[T]) Next() bool {
	if !c.skip && c.inner != nil && c.inner.Next() {
		return true
	}
	c.skip = false
	return c.step()
}

// SetProbe implements ConnectIterator.
func (c *ConnectPopulation[T]) SetProbe(probe Connection[T]) bool {
	c.probe = probe
	full := false
	if c.pos >= 0 && c.pos < len(c.candidates) {
		probe.SetPart(c.index, c.candidates[c.pos])
		if c.full() {
			c.skip = true
			full = true
		}
	}
	if c.inner != nil && c.inner.SetProbe(probe) {
		full = true
	}
	return full
}
