package sim

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/spike-sim/spike-sim/sim/numeric"
)

var f64 = numeric.Float[float64]{}

// newTestSim builds a float64 simulator from DefaultConfig after mutate.
func newTestSim(t *testing.T, mutate func(*Config), opts ...Option[float64]) *Simulator[float64] {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	s, err := NewSimulator[float64](cfg, f64, opts...)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func mustFixed(t *testing.T, frac uint) numeric.Fixed {
	t.Helper()
	fx, err := numeric.NewFixed(frac)
	require.NoError(t, err)
	return fx
}

// parallel forces every phase over more than one member onto 4 shards.
func parallel(c *Config) {
	c.Parallel = ParallelConfig{Workers: 4, Threshold: 1}
}

// wrapper is a top-level part running init on Init.
type wrapper struct {
	PartBase[float64]
	init func(v *Visitor[float64])
}

func (w *wrapper) Init(v *Visitor[float64]) {
	if w.init != nil {
		w.init(v)
	}
}

// nodeModel holds the behavior shared by every node of a population.
type nodeModel struct {
	dt       float64
	init     func(n *node, v *Visitor[float64])
	update   func(n *node, v *Visitor[float64])
	finalize func(n *node, v *Visitor[float64]) Disposition
	die      func(n *node, v *Visitor[float64])
}

// node is a test part that counts its hook calls.
type node struct {
	PartBase[float64]
	model *nodeModel

	updates   atomic.Int32
	finalizes atomic.Int32
	died      bool
	pos       [3]float64
	degree    atomic.Int32
	triggers  []int
}

func (n *node) Init(v *Visitor[float64]) {
	if n.model.dt > 0 {
		v.Enqueue(n, n.model.dt)
	}
	if n.model.init != nil {
		n.model.init(n, v)
	}
}

func (n *node) Update(v *Visitor[float64]) {
	n.updates.Add(1)
	if n.model.update != nil {
		n.model.update(n, v)
	}
}

func (n *node) Finalize(v *Visitor[float64]) Disposition {
	n.finalizes.Add(1)
	if n.model.finalize != nil {
		return n.model.finalize(n, v)
	}
	return Live
}

func (n *node) Die(v *Visitor[float64]) {
	n.died = true
	if n.model.die != nil {
		n.model.die(n, v)
	}
}

func (n *node) Clear() {
	n.updates.Store(0)
	n.finalizes.Store(0)
	n.died = false
	n.pos = [3]float64{}
	n.degree.Store(0)
	n.triggers = nil
}

func newNodes(name string, m *nodeModel, opts ...PopulationOption[float64]) *Population[float64] {
	return NewPopulation[float64](name, func(k int) []Part[float64] {
		parts := BlockOf[float64, node](k)
		for _, p := range parts {
			p.(*node).model = m
		}
		return parts
	}, opts...)
}

func nodesOf(pop *Population[float64]) []*node {
	parts := pop.Instances()
	out := make([]*node, len(parts))
	for i, p := range parts {
		out[i] = p.(*node)
	}
	return out
}

// edgeModel holds the behavior shared by every edge of a connection
// population.
type edgeModel struct {
	arity int
	prob  func(e *edge) float64
}

// edge connects arity nodes. Endpoint degrees are kept on the nodes.
type edge struct {
	PartBase[float64]
	model  *edgeModel
	ends   []*node
	weight float64
}

func (e *edge) SetPart(i int, p Part[float64]) {
	if i < 0 || i >= e.model.arity {
		panic(contractf("edge has no endpoint %d", i))
	}
	if e.ends == nil {
		e.ends = make([]*node, e.model.arity)
	}
	e.ends[i] = p.(*node)
}

func (e *edge) GetPart(i int) Part[float64] { return e.ends[i] }

func (e *edge) GetCount(i int) int { return int(e.ends[i].degree.Load()) }

func (e *edge) GetProject(i int) [3]float64 { return e.ends[i].pos }

func (e *edge) MapIndex(_, rc int) int { return rc }

func (e *edge) Probability() float64 {
	if e.model.prob != nil {
		return e.model.prob(e)
	}
	return 1
}

func (e *edge) SetWeight(w float64) { e.weight = w }

func (e *edge) Init(*Visitor[float64]) {
	for _, n := range e.ends {
		n.degree.Add(1)
	}
}

func (e *edge) Die(*Visitor[float64]) {
	for _, n := range e.ends {
		n.degree.Add(-1)
	}
}

func (e *edge) Clear() {
	e.ends = nil
	e.weight = 0
}

// key identifies the endpoints of an edge by population index.
func (e *edge) key() string {
	k := ""
	for i, n := range e.ends {
		if i > 0 {
			k += "-"
		}
		k += fmt.Sprint(n.Index())
	}
	return k
}

func newEdges(name string, m *edgeModel) *Population[float64] {
	return NewPopulation[float64](name, func(k int) []Part[float64] {
		parts := BlockOf[float64, edge](k)
		for _, p := range parts {
			p.(*edge).model = m
		}
		return parts
	})
}

func edgesOf(pop *Population[float64]) []*edge {
	parts := pop.Instances()
	out := make([]*edge, len(parts))
	for i, p := range parts {
		out[i] = p.(*edge)
	}
	return out
}

// recoverErr runs fn and returns the error it panicked with, or nil.
func recoverErr(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				err = e
				return
			}
			err = fmt.Errorf("%v", r)
		}
	}()
	fn()
	return nil
}
