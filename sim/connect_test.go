package sim

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// noSelf rejects edges whose endpoints are the same node.
func noSelf(e *edge) float64 {
	if e.ends[0] == e.ends[1] {
		return 0
	}
	return 1
}

// onLine places node i at (i, 0, 0).
var onLine = &nodeModel{init: func(n *node, _ *Visitor[float64]) {
	n.pos = [3]float64{float64(n.Index()), 0, 0}
}}

func pairs(ep ...Endpoint[float64]) ConnectSpec[float64] {
	return ConnectSpec[float64]{Endpoints: ep}
}

func assertUnique(t *testing.T, edges []*edge) {
	t.Helper()
	seen := map[string]bool{}
	for _, e := range edges {
		assert.False(t, seen[e.key()], "duplicate edge %s", e.key())
		seen[e.key()] = true
	}
}

func TestConnect_DegreeBound(t *testing.T) {
	// GIVEN 100 nodes connected to each other with a degree cap of 5
	s := newTestSim(t, nil)
	nodes := newNodes("n", &nodeModel{})
	edges := newEdges("e", &edgeModel{arity: 2, prob: noSelf})
	require.NoError(t, edges.SetConnect(pairs(
		Endpoint[float64]{Population: nodes, Max: 5},
		Endpoint[float64]{Population: nodes, Max: 5},
	)))

	// WHEN the network is built
	s.Init(initWith(nodes, 100))

	// THEN no node exceeds the cap and every edge is counted twice in degrees
	total := 0
	for _, n := range nodesOf(nodes) {
		assert.LessOrEqual(t, n.degree.Load(), int32(5))
		total += int(n.degree.Load())
	}
	assert.Equal(t, total, 2*edges.Live())
	assert.LessOrEqual(t, edges.Live(), 250)
	assert.Positive(t, edges.Live())
	assertUnique(t, edgesOf(edges))
	assert.Equal(t, int64(edges.Live()), s.Metrics().ConnectionsMade.Load())
}

func TestConnect_GateCountsEveryCandidate(t *testing.T) {
	s := newTestSim(t, nil)
	nodes := newNodes("n", &nodeModel{})
	edges := newEdges("e", &edgeModel{arity: 2, prob: func(*edge) float64 { return 0.5 }})
	require.NoError(t, edges.SetConnect(pairs(
		Endpoint[float64]{Population: nodes},
		Endpoint[float64]{Population: nodes},
	)))
	s.Init(initWith(nodes, 10))

	m := s.Metrics()
	assert.Equal(t, int64(100), m.ConnectionsMade.Load()+m.ConnectionsRejected.Load())
	assert.Equal(t, int64(edges.Live()), m.ConnectionsMade.Load())
	assert.Greater(t, edges.Live(), 20)
	assert.Less(t, edges.Live(), 80)
}

func TestCompositionOrder(t *testing.T) {
	pop := NewPopulation[float64]("p", nil)
	eps := []Endpoint[float64]{
		{Population: pop},
		{Population: pop, Max: 10},
		{Population: pop, K: 3},
		{Population: pop, Max: 2},
		{Population: pop, Radius: 1, Max: 1},
	}
	assert.Equal(t, []int{3, 1, 0, 2, 4}, compositionOrder(eps))
}

func TestConnect_Incremental_OnlyNewTuples(t *testing.T) {
	// GIVEN a fully connected set of 3 nodes
	s := newTestSim(t, nil)
	nodes := newNodes("n", &nodeModel{})
	edges := newEdges("e", &edgeModel{arity: 2})
	require.NoError(t, edges.SetConnect(pairs(
		Endpoint[float64]{Population: nodes},
		Endpoint[float64]{Population: nodes},
	)))
	s.Init(initWith(nodes, 3))
	require.Equal(t, 9, edges.Live())

	// WHEN two nodes are added
	s.Resize(nodes, 5)
	s.Settle()

	// THEN exactly the tuples touching a new node are created, once each
	assert.Equal(t, 25, edges.Live())
	assertUnique(t, edgesOf(edges))
	assert.Equal(t, int64(25), s.Metrics().ConnectionsMade.Load())
	assert.Empty(t, nodes.Newborn())
	assert.Empty(t, edges.Newborn())
}

func TestConnect_ThreeEndpointProduct(t *testing.T) {
	s := newTestSim(t, nil)
	a := newNodes("a", &nodeModel{})
	b := newNodes("b", &nodeModel{})
	c := newNodes("c", &nodeModel{})
	tri := newEdges("tri", &edgeModel{arity: 3})
	require.NoError(t, tri.SetConnect(pairs(
		Endpoint[float64]{Population: a},
		Endpoint[float64]{Population: b},
		Endpoint[float64]{Population: c},
	)))
	s.Init(&wrapper{init: func(v *Visitor[float64]) {
		v.Resize(a, 2)
		v.Resize(b, 3)
		v.Resize(c, 2)
	}})

	assert.Equal(t, 12, tri.Live())
	assertUnique(t, edgesOf(tri))
	for _, e := range edgesOf(tri) {
		assert.Same(t, a, e.ends[0].Population())
		assert.Same(t, b, e.ends[1].Population())
		assert.Same(t, c, e.ends[2].Population())
	}
}

func TestConnect_Matrix(t *testing.T) {
	// GIVEN a 4x4 matrix with one entry beyond the 3 initial nodes
	m := mat.NewDense(4, 4, nil)
	m.Set(0, 1, 2)
	m.Set(1, 2, -1)
	m.Set(2, 0, 0.5)
	m.Set(0, 3, 4)
	s := newTestSim(t, nil)
	nodes := newNodes("n", &nodeModel{})
	edges := newEdges("e", &edgeModel{arity: 2})
	spec := pairs(Endpoint[float64]{Population: nodes}, Endpoint[float64]{Population: nodes})
	spec.Matrix = m
	require.NoError(t, edges.SetConnect(spec))

	// WHEN built with 3 nodes
	s.Init(initWith(nodes, 3))

	// THEN only entries whose endpoints exist are created, with their weights
	weights := map[string]float64{}
	for _, e := range edgesOf(edges) {
		weights[e.key()] = e.weight
	}
	assert.Equal(t, map[string]float64{"0-1": 2, "1-2": -1, "2-0": 0.5}, weights)

	// WHEN the fourth node appears
	s.Resize(nodes, 4)
	s.Settle()

	// THEN only the entry touching it is added
	assert.Equal(t, 4, edges.Live())
	assertUnique(t, edgesOf(edges))
	weights = map[string]float64{}
	for _, e := range edgesOf(edges) {
		weights[e.key()] = e.weight
	}
	assert.Equal(t, 4.0, weights["0-3"])
}

func TestConnect_Matrix_RespectsMax(t *testing.T) {
	m := mat.NewDense(3, 3, []float64{
		0, 1, 1,
		1, 0, 1,
		1, 1, 0,
	})
	s := newTestSim(t, nil)
	nodes := newNodes("n", &nodeModel{})
	edges := newEdges("e", &edgeModel{arity: 2})
	spec := pairs(Endpoint[float64]{Population: nodes, Max: 1}, Endpoint[float64]{Population: nodes})
	spec.Matrix = m
	require.NoError(t, edges.SetConnect(spec))
	s.Init(initWith(nodes, 3))

	for _, n := range nodesOf(nodes) {
		assert.LessOrEqual(t, n.degree.Load(), int32(2))
	}
	assert.Less(t, edges.Live(), 6)
}

func TestConnect_NearestRadius(t *testing.T) {
	// GIVEN 10 nodes on a line, connected within distance 1.5
	s := newTestSim(t, nil)
	nodes := newNodes("n", onLine)
	edges := newEdges("e", &edgeModel{arity: 2, prob: noSelf})
	require.NoError(t, edges.SetConnect(pairs(
		Endpoint[float64]{Population: nodes},
		Endpoint[float64]{Population: nodes, Radius: 1.5},
	)))

	// WHEN built
	s.Init(initWith(nodes, 10))

	// THEN only adjacent nodes are connected, in both directions
	assert.Equal(t, 18, edges.Live())
	for _, e := range edgesOf(edges) {
		assert.Equal(t, 1.0, math.Abs(e.ends[0].pos[0]-e.ends[1].pos[0]), e.key())
	}
	assertUnique(t, edgesOf(edges))
}

func TestConnect_NearestRadius_Approximate(t *testing.T) {
	s := newTestSim(t, nil)
	nodes := newNodes("n", onLine)
	edges := newEdges("e", &edgeModel{arity: 2, prob: noSelf})
	require.NoError(t, edges.SetConnect(pairs(
		Endpoint[float64]{Population: nodes},
		Endpoint[float64]{Population: nodes, Radius: 2.5, Epsilon: 0.5, MaxVisits: 4},
	)))
	s.Init(initWith(nodes, 20))

	assert.LessOrEqual(t, edges.Live(), 20*4)
	for _, e := range edgesOf(edges) {
		assert.LessOrEqual(t, math.Abs(e.ends[0].pos[0]-e.ends[1].pos[0]), 2.5, e.key())
	}
}

func TestConnect_NearestK(t *testing.T) {
	// GIVEN each node linked to its 3 nearest, itself included
	s := newTestSim(t, nil)
	nodes := newNodes("n", onLine)
	edges := newEdges("e", &edgeModel{arity: 2, prob: noSelf})
	require.NoError(t, edges.SetConnect(pairs(
		Endpoint[float64]{Population: nodes},
		Endpoint[float64]{Population: nodes, K: 3},
	)))

	// WHEN built
	s.Init(initWith(nodes, 10))

	// THEN every node has two outgoing edges to its closest neighbors
	out := map[int]int{}
	for _, e := range edgesOf(edges) {
		out[e.ends[0].Index()]++
		assert.LessOrEqual(t, math.Abs(e.ends[0].pos[0]-e.ends[1].pos[0]), 2.0, e.key())
	}
	assert.Equal(t, 20, edges.Live())
	for i := 0; i < 10; i++ {
		assert.Equal(t, 2, out[i], "node %d", i)
	}
}

func TestConnect_MinFill(t *testing.T) {
	// GIVEN a gate that almost never accepts and a minimum degree of 2
	s := newTestSim(t, nil)
	nodes := newNodes("n", &nodeModel{})
	edges := newEdges("e", &edgeModel{arity: 2, prob: func(e *edge) float64 {
		if e.ends[0] == e.ends[1] {
			return 0
		}
		return 1e-9
	}})
	require.NoError(t, edges.SetConnect(pairs(
		Endpoint[float64]{Population: nodes, Min: 2},
		Endpoint[float64]{Population: nodes},
	)))

	// WHEN built
	s.Init(initWith(nodes, 10))

	// THEN the fill pass tops up every node without self or duplicate edges
	for _, n := range nodesOf(nodes) {
		assert.GreaterOrEqual(t, n.degree.Load(), int32(2), "node %d", n.Index())
	}
	for _, e := range edgesOf(edges) {
		assert.NotSame(t, e.ends[0], e.ends[1])
	}
	assertUnique(t, edgesOf(edges))
	assert.Equal(t, int64(edges.Live()), s.Metrics().ConnectionsMade.Load())
}

func TestConnect_MinFill_GrowthOnlyFillsNewborn(t *testing.T) {
	// GIVEN node 0 can never be connected, so it stays below its minimum
	counting := false
	oldPairsOfZero := 0
	s := newTestSim(t, nil)
	nodes := newNodes("n", &nodeModel{})
	edges := newEdges("e", &edgeModel{arity: 2, prob: func(e *edge) float64 {
		a, b := e.ends[0], e.ends[1]
		if counting && a.Index() == 0 && !b.Newborn() {
			oldPairsOfZero++
		}
		if a == b || a.Index() == 0 || b.Index() == 0 {
			return 0
		}
		return 1e-9
	}})
	require.NoError(t, edges.SetConnect(pairs(
		Endpoint[float64]{Population: nodes, Min: 3},
		Endpoint[float64]{Population: nodes},
	)))
	s.Init(initWith(nodes, 10))
	require.Zero(t, nodesOf(nodes)[0].degree.Load())

	// WHEN a node is added
	counting = true
	s.Resize(nodes, 11)
	s.Settle()

	// THEN the newborn is filled and node 0 is not rescanned against old nodes
	assert.Zero(t, oldPairsOfZero)
	for _, n := range nodesOf(nodes) {
		if n.Index() == 10 {
			assert.GreaterOrEqual(t, n.degree.Load(), int32(3))
		}
	}
	assertUnique(t, edgesOf(edges))
}

func TestConnect_MinFill_NearestHonoursK(t *testing.T) {
	// GIVEN nodes on a line whose partner endpoint is limited to the 2 nearest
	s := newTestSim(t, nil)
	nodes := newNodes("n", onLine)
	edges := newEdges("e", &edgeModel{arity: 2, prob: func(e *edge) float64 {
		if e.ends[0] == e.ends[1] {
			return 0
		}
		return 1e-9
	}})
	require.NoError(t, edges.SetConnect(pairs(
		Endpoint[float64]{Population: nodes, Min: 2},
		Endpoint[float64]{Population: nodes, K: 2},
	)))

	// WHEN built
	s.Init(initWith(nodes, 8))

	// THEN filled edges only reach an adjacent node
	require.Positive(t, edges.Live())
	for _, e := range edgesOf(edges) {
		d := e.ends[0].Index() - e.ends[1].Index()
		assert.Contains(t, []int{-1, 1}, d, "edge %s", e.key())
	}
}

func TestConnect_PartsNotConnections_Panics(t *testing.T) {
	s := newTestSim(t, nil)
	nodes := newNodes("n", &nodeModel{})
	bogus := newNodes("bogus", &nodeModel{})
	require.NoError(t, bogus.SetConnect(pairs(Endpoint[float64]{Population: nodes})))

	err := recoverErr(func() { s.Init(initWith(nodes, 2)) })

	assert.True(t, errors.Is(err, ErrContract))
	assert.Equal(t, 0, bogus.Live())
}

func TestConnect_WithoutSpec_Panics(t *testing.T) {
	s := newTestSim(t, nil)
	pop := newNodes("n", &nodeModel{})
	s.Init(&wrapper{})
	s.Connect(pop)
	err := recoverErr(s.Settle)
	assert.True(t, errors.Is(err, ErrContract))
}

func TestSetConnect_OwnEndpoint_Fails(t *testing.T) {
	edges := newEdges("e", &edgeModel{arity: 1})
	err := edges.SetConnect(pairs(Endpoint[float64]{Population: edges}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be its own endpoint")
	assert.Nil(t, edges.Spec())
}

func TestConnectSpec_Validate(t *testing.T) {
	pop := NewPopulation[float64]("p", nil)
	tests := []struct {
		name string
		spec ConnectSpec[float64]
		want string
	}{
		{"no endpoints", ConnectSpec[float64]{}, "at least one endpoint"},
		{"nil population", pairs(Endpoint[float64]{}), "no population"},
		{"negative max", pairs(Endpoint[float64]{Population: pop, Max: -1}), "degree bounds"},
		{"min above max", pairs(Endpoint[float64]{Population: pop, Min: 3, Max: 2}), "exceeds max"},
		{"negative radius", pairs(Endpoint[float64]{Population: pop, Radius: -1}), "nearest-neighbor"},
		{
			"matrix arity",
			ConnectSpec[float64]{Endpoints: []Endpoint[float64]{{Population: pop}}, Matrix: mat.NewDense(1, 1, nil)},
			"exactly 2 endpoints",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
	assert.NoError(t, pairs(Endpoint[float64]{Population: pop, Min: 1}).Validate())
}

func TestMatrixEntries_RowMajor(t *testing.T) {
	m := mat.NewDense(2, 3, []float64{
		0, 5, 0,
		7, 0, 1,
	})
	got := matrixEntries(m)
	assert.Equal(t, []matrixEntry{{0, 1, 5}, {1, 0, 7}, {1, 2, 1}}, got)
}
