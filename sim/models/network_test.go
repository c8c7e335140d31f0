package models

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spike-sim/spike-sim/sim"
	"github.com/spike-sim/spike-sim/sim/numeric"
)

var f64 = numeric.Float[float64]{}

// quietNetwork returns a network config with no spiking activity so tests
// can inspect connectivity alone.
func quietNetwork(n int) NetworkConfig {
	cfg := DefaultNetworkConfig()
	cfg.Neurons = n
	cfg.Drive = 0
	cfg.Jitter = 0
	cfg.Inhibitory = 0
	return cfg
}

func newNetworkSim(t *testing.T, simCfg sim.Config, cfg NetworkConfig) (*sim.Simulator[float64], *Network[float64]) {
	t.Helper()
	s, err := sim.NewSimulator[float64](simCfg, f64)
	require.NoError(t, err)
	net, err := NewNetwork[float64](cfg, f64)
	require.NoError(t, err)
	s.Init(net)
	t.Cleanup(s.Close)
	return s, net
}

func synapses(net *Network[float64]) []*Synapse[float64] {
	parts := net.Synapses().Instances()
	out := make([]*Synapse[float64], len(parts))
	for i, p := range parts {
		out[i] = p.(*Synapse[float64])
	}
	return out
}

func neurons(net *Network[float64]) []*Neuron[float64] {
	parts := net.Neurons().Instances()
	out := make([]*Neuron[float64], len(parts))
	for i, p := range parts {
		out[i] = p.(*Neuron[float64])
	}
	return out
}

func TestNetwork_DegreeBound_AllToAll(t *testing.T) {
	// GIVEN A(100) x A with Max = 5 on both endpoints and p = 1
	cfg := quietNetwork(100)
	cfg.Probability = 1
	cfg.MaxOut = 5
	cfg.MaxIn = 5

	// WHEN the network is initialized
	_, net := newNetworkSim(t, sim.DefaultConfig(), cfg)

	// THEN no neuron exceeds degree 5 and the total is at most 500
	syns := synapses(net)
	assert.LessOrEqual(t, len(syns), 500)
	assert.NotEmpty(t, syns)
	for _, n := range neurons(net) {
		assert.LessOrEqual(t, n.OutDegree(), 5)
		assert.LessOrEqual(t, n.InDegree(), 5)
	}
	for _, s := range syns {
		assert.NotSame(t, s.Pre, s.Post, "self connection")
	}
}

func TestNetwork_NoDuplicatePairs(t *testing.T) {
	cfg := quietNetwork(30)
	cfg.Probability = 1
	cfg.MaxOut = 0
	cfg.MaxIn = 0
	_, net := newNetworkSim(t, sim.DefaultConfig(), cfg)

	// all-to-all without self connections
	syns := synapses(net)
	assert.Len(t, syns, 30*29)
	seen := make(map[[2]*Neuron[float64]]bool)
	for _, s := range syns {
		key := [2]*Neuron[float64]{s.Pre, s.Post}
		assert.False(t, seen[key], "duplicate synapse")
		seen[key] = true
	}
}

func TestNetwork_NearestNeighborRadius(t *testing.T) {
	// GIVEN a 10x10 grid with targets restricted to radius 1.5
	cfg := quietNetwork(100)
	cfg.Probability = 1
	cfg.MaxOut = 0
	cfg.MaxIn = 0
	cfg.Radius = 1.5

	_, net := newNetworkSim(t, sim.DefaultConfig(), cfg)

	// THEN every synapse spans at most the radius, and interior neurons
	// reach all 8 grid neighbours
	syns := synapses(net)
	require.NotEmpty(t, syns)
	for _, s := range syns {
		assert.LessOrEqual(t, dist(s.Pre.Pos, s.Post.Pos), 1.5)
	}
	for _, n := range neurons(net) {
		x, y := n.Pos[0], n.Pos[1]
		if x > 0 && x < 9 && y > 0 && y < 9 {
			assert.Equal(t, 8, n.OutDegree(), "neuron at (%g, %g)", x, y)
		}
	}
}

func TestNetwork_NearestNeighborK(t *testing.T) {
	cfg := quietNetwork(49)
	cfg.GridSide = 7
	cfg.Probability = 1
	cfg.MaxOut = 0
	cfg.MaxIn = 0
	cfg.K = 5 // nearest includes the neuron itself, which is rejected

	_, net := newNetworkSim(t, sim.DefaultConfig(), cfg)

	for _, n := range neurons(net) {
		assert.Equal(t, 4, n.OutDegree())
	}
}

func TestNetwork_MatrixConnect(t *testing.T) {
	// GIVEN an explicit 3x3 connectivity matrix
	cfg := quietNetwork(3)
	cfg.Matrix = [][]float64{
		{0, 0.5, 0},
		{0, 0, -2},
		{1, 1, 0},
	}

	_, net := newNetworkSim(t, sim.DefaultConfig(), cfg)

	// THEN exactly the nonzero entries become synapses, carrying their weight
	got := make(map[[2]int]float64)
	for _, s := range synapses(net) {
		got[[2]int{s.Pre.Index(), s.Post.Index()}] = s.Weight
	}
	assert.Equal(t, map[[2]int]float64{
		{0, 1}: 0.5,
		{1, 2}: -2,
		{2, 0}: 1,
		{2, 1}: 1,
	}, got)
}

func TestNetwork_MinFill(t *testing.T) {
	// GIVEN a gate that rejects nearly everything and MinIn = 2
	cfg := quietNetwork(40)
	cfg.Probability = 0.001
	cfg.MaxOut = 0
	cfg.MaxIn = 0
	cfg.MinIn = 2

	_, net := newNetworkSim(t, sim.DefaultConfig(), cfg)

	// THEN the fill pass tops every neuron up to two inputs
	for _, n := range neurons(net) {
		assert.GreaterOrEqual(t, n.InDegree(), 2)
	}
}

func TestNetwork_Growth_ConnectsNewbornsOnly(t *testing.T) {
	// GIVEN a network growing from 10 to 30 neurons in steps of 10
	cfg := quietNetwork(10)
	cfg.Probability = 1
	cfg.MaxOut = 0
	cfg.MaxIn = 0
	cfg.GrowEvery = 1
	cfg.GrowBy = 10
	cfg.MaxNeurons = 30

	s, net := newNetworkSim(t, sim.DefaultConfig(), cfg)
	require.Len(t, synapses(net), 10*9)

	// WHEN the grow schedule runs twice
	s.Run(2.5)

	// THEN the network is fully connected with no duplicates
	assert.Equal(t, 30, net.Neurons().Live())
	syns := synapses(net)
	assert.Len(t, syns, 30*29)
	seen := make(map[[2]*Neuron[float64]]bool)
	for _, syn := range syns {
		key := [2]*Neuron[float64]{syn.Pre, syn.Post}
		require.False(t, seen[key], "duplicate synapse")
		seen[key] = true
	}
	assert.Empty(t, net.Neurons().Newborn())
}

func TestNetwork_Spiking_PropagatesThroughLatch(t *testing.T) {
	// GIVEN a driven chain 0 -> 1 where neuron 1 has no drive of its own
	cfg := quietNetwork(2)
	cfg.Matrix = [][]float64{{0, 1}, {0, 0}}
	cfg.Jump = 2 // one spike lifts the target over threshold
	cfg.Refractory = 0
	cfg.Delay = 0.5

	s, net := newNetworkSim(t, sim.DefaultConfig(), cfg)
	ns := neurons(net)
	ns[0].drive = 3 // reaches threshold near t = 4.1

	// WHEN run for a while
	s.Run(10)

	// THEN neuron 0 fires and its spikes make neuron 1 fire
	assert.Positive(t, ns[0].Spikes)
	assert.Positive(t, ns[1].Spikes)
	assert.Positive(t, s.Metrics().SpikesRun.Load())
}

func TestNetwork_DieAfter_RecyclesAndRemovesSynapses(t *testing.T) {
	// GIVEN neurons that die after their first spike
	cfg := quietNetwork(20)
	cfg.Drive = 2
	cfg.Probability = 1
	cfg.MaxOut = 3
	cfg.MaxIn = 3
	cfg.DieAfter = 1

	s, net := newNetworkSim(t, sim.DefaultConfig(), cfg)
	require.NotEmpty(t, synapses(net))

	// WHEN every neuron reaches threshold
	s.Run(20)

	// THEN all neurons and synapses are gone and storage was recycled
	assert.Equal(t, 0, net.Neurons().Live())
	assert.Equal(t, 0, net.Synapses().Live())
	assert.Equal(t, 20+s.Metrics().ConnectionsMade.Load(), s.Metrics().PartsDied.Load())
	assert.Equal(t, net.Neurons().Allocated(), net.Neurons().Free())
	assert.False(t, s.Run(100), "no events remain once every part is dead")
}

func TestNetwork_SynapsesHoldTheirNeurons(t *testing.T) {
	// GIVEN a fully connected network of 6 neurons
	cfg := quietNetwork(6)
	cfg.Probability = 1
	s, net := newNetworkSim(t, sim.DefaultConfig(), cfg)
	require.NotEmpty(t, synapses(net))

	// THEN every neuron is referenced once per attached synapse
	var victim *Neuron[float64]
	for _, n := range neurons(net) {
		assert.Equal(t, n.InDegree()+n.OutDegree(), n.Refs())
		if victim == nil || n.Index() > victim.Index() {
			victim = n
		}
	}

	// WHEN the highest neuron dies while something else still holds it
	victim.Hold()
	free := net.Neurons().Free()
	recycled := s.Metrics().PartsRecycled.Load()
	s.Resize(net.Neurons(), 5)
	s.Settle()

	// THEN its synapses are gone but the neuron stays off the free list
	assert.False(t, victim.Alive())
	assert.Equal(t, 1, victim.Refs())
	assert.Equal(t, free, net.Neurons().Free())
	for _, syn := range synapses(net) {
		assert.NotSame(t, victim, syn.Pre)
		assert.NotSame(t, victim, syn.Post)
	}
	for _, n := range neurons(net) {
		assert.Equal(t, n.InDegree()+n.OutDegree(), n.Refs())
	}
	synapsesRecycled := s.Metrics().PartsRecycled.Load() - recycled

	// WHEN the last reference is dropped
	victim.Drop()

	// THEN the neuron is recycled
	assert.Equal(t, free+1, net.Neurons().Free())
	assert.Equal(t, recycled+synapsesRecycled+1, s.Metrics().PartsRecycled.Load())
	assert.Zero(t, victim.Refs())
}

func TestNetwork_FixedPoint_Runs(t *testing.T) {
	fx, err := numeric.NewFixed(16)
	require.NoError(t, err)
	s, err := sim.NewSimulator[int32](sim.DefaultConfig(), fx)
	require.NoError(t, err)
	cfg := DefaultNetworkConfig()
	cfg.Neurons = 25
	cfg.GridSide = 5
	net, err := NewNetwork[int32](cfg, fx)
	require.NoError(t, err)
	s.Init(net)
	defer s.Close()

	s.Run(fx.FromFloat(40))

	assert.Equal(t, 25, net.Neurons().Live())
	assert.Positive(t, net.TotalSpikes())
}

func TestNetworkConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*NetworkConfig)
	}{
		{"zero dt", func(c *NetworkConfig) { c.Dt = 0 }},
		{"zero tau", func(c *NetworkConfig) { c.Tau = 0 }},
		{"threshold below reset", func(c *NetworkConfig) { c.Reset = 2 }},
		{"probability above one", func(c *NetworkConfig) { c.Probability = 1.5 }},
		{"ragged matrix", func(c *NetworkConfig) { c.Matrix = [][]float64{{1, 0}, {1}} }},
		{"negative grow", func(c *NetworkConfig) { c.GrowBy = -1 }},
	}
	require.NoError(t, DefaultNetworkConfig().Validate())
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultNetworkConfig()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func dist(a, b [3]float64) float64 {
	dx, dy, dz := a[0]-b[0], a[1]-b[1], a[2]-b[2]
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}
