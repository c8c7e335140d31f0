package sim

import (
	"github.com/spike-sim/spike-sim/sim/spatial"
)

// nearestIndex is a spatial index over the projected positions of one
// endpoint's candidates.
type nearestIndex[T any] struct {
	parts []Part[T]
	index *spatial.Index
}

// newNearestIndex projects every candidate through probe at endpoint i.
func newNearestIndex[T any](probe Connection[T], i int, cands []Part[T]) *nearestIndex[T] {
	points := make([][3]float64, len(cands))
	for k, part := range cands {
		probe.SetPart(i, part)
		points[k] = probe.GetProject(i)
	}
	return &nearestIndex[T]{parts: cands, index: spatial.New(points)}
}

func (n *nearestIndex[T]) query(q [3]float64, k int, radius, epsilon float64, maxVisits int) []Part[T] {
	found := n.index.Query(q, k, radius, epsilon, maxVisits)
	out := make([]Part[T], len(found))
	for i, f := range found {
		out[i] = n.parts[f.Index]
	}
	return out
}

// ConnectPopulationNN enumerates the candidates of one endpoint nearest to
// the projection of the enclosing endpoint's binding, closest first. The
// index is built once per pass; each outer binding runs one query.
type ConnectPopulationNN[T any] struct {
	ConnectPopulation[T]
	anchor  int
	nearest *nearestIndex[T]
}

func newConnectPopulationNN[T any](index int, ep Endpoint[T], cands []Part[T], probe Connection[T], anchor int) *ConnectPopulationNN[T] {
	return &ConnectPopulationNN[T]{
		ConnectPopulation: ConnectPopulation[T]{index: index, endpoint: ep, probe: probe, pos: -1},
		anchor:            anchor,
		nearest:           newNearestIndex(probe, index, cands),
	}
}

func (c *ConnectPopulationNN[T]) reset() bool {
	ep := c.endpoint
	c.candidates = c.nearest.query(c.probe.GetProject(c.anchor), ep.K, ep.Radius, ep.Epsilon, ep.MaxVisits)
	c.pos = -1
	c.skip = false
	return c.step()
}
