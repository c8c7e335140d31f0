package models

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"

	"gonum.org/v1/gonum/mat"

	"github.com/spike-sim/spike-sim/sim"
	"github.com/spike-sim/spike-sim/sim/numeric"
)

// Spike triggers carried by synapses.
const (
	TriggerExcite  = 0
	TriggerInhibit = 1
)

// NetworkConfig parameterizes the LIF network.
type NetworkConfig struct {
	Neurons    int     `yaml:"neurons"`     // initial population size
	MaxNeurons int     `yaml:"max_neurons"` // growth stops here (0 = no growth)
	GrowEvery  float64 `yaml:"grow_every"`  // period of the grow schedule (0 = never)
	GrowBy     int     `yaml:"grow_by"`     // neurons added per grow event
	Spacing    float64 `yaml:"spacing"`     // grid spacing of neuron positions
	GridSide   int     `yaml:"grid_side"`   // neurons per grid row and column

	Dt         float64 `yaml:"dt"`
	Tau        float64 `yaml:"tau"`        // membrane time constant
	Rest       float64 `yaml:"rest"`       // resting potential
	Threshold  float64 `yaml:"threshold"`  // firing threshold
	Reset      float64 `yaml:"reset"`      // potential after a spike
	Refractory float64 `yaml:"refractory"` // time clamped at reset after a spike
	Drive      float64 `yaml:"drive"`      // constant input current
	Jitter     float64 `yaml:"jitter"`     // uniform spread of the per-neuron drive
	Jump       float64 `yaml:"jump"`       // potential change per received spike
	Delay      float64 `yaml:"delay"`      // axonal delay
	DieAfter   int     `yaml:"die_after"`  // neurons die after this many spikes (0 = never)

	Probability float64     `yaml:"probability"` // synapse creation probability
	Inhibitory  float64     `yaml:"inhibitory"`  // fraction of inhibitory synapses
	MaxOut      int         `yaml:"max_out"`     // outgoing degree bound
	MaxIn       int         `yaml:"max_in"`      // incoming degree bound
	MinIn       int         `yaml:"min_in"`      // incoming degree enforced by fill
	K           int         `yaml:"k"`           // nearest-neighbor count for targets
	Radius      float64     `yaml:"radius"`      // nearest-neighbor radius for targets
	Epsilon     float64     `yaml:"epsilon"`     // approximate nearest-neighbor slack
	MaxVisits   int         `yaml:"max_visits"`  // kd-tree visit budget (0 = unlimited)
	Matrix      [][]float64 `yaml:"matrix"`      // explicit connectivity; overrides the rules above
}

// DefaultNetworkConfig returns a small self-sustaining network.
func DefaultNetworkConfig() NetworkConfig {
	return NetworkConfig{
		Neurons:     100,
		Spacing:     1,
		GridSide:    10,
		Dt:          0.1,
		Tau:         10,
		Rest:        0,
		Threshold:   1,
		Reset:       0,
		Refractory:  2,
		Drive:       1.2,
		Jitter:      0.2,
		Jump:        0.2,
		Delay:       1,
		Probability: 0.1,
		Inhibitory:  0.2,
		MaxOut:      10,
		MaxIn:       10,
	}
}

// Validate checks the network parameters.
func (c NetworkConfig) Validate() error {
	if c.Neurons < 0 {
		return fmt.Errorf("network.neurons must be >= 0, got %d", c.Neurons)
	}
	if c.Dt <= 0 {
		return fmt.Errorf("network.dt must be > 0, got %g", c.Dt)
	}
	if c.Tau <= 0 {
		return fmt.Errorf("network.tau must be > 0, got %g", c.Tau)
	}
	if c.Threshold <= c.Reset {
		return fmt.Errorf("network.threshold (%g) must exceed network.reset (%g)", c.Threshold, c.Reset)
	}
	if c.Delay < 0 || c.Refractory < 0 || c.Jitter < 0 {
		return fmt.Errorf("network delay, refractory and jitter must be >= 0")
	}
	if c.Probability < 0 || c.Probability > 1 {
		return fmt.Errorf("network.probability must be in [0, 1], got %g", c.Probability)
	}
	if c.Inhibitory < 0 || c.Inhibitory > 1 {
		return fmt.Errorf("network.inhibitory must be in [0, 1], got %g", c.Inhibitory)
	}
	if c.GrowEvery < 0 || c.GrowBy < 0 || c.MaxNeurons < 0 {
		return fmt.Errorf("network grow parameters must be >= 0")
	}
	if c.GridSide < 0 || c.Spacing < 0 {
		return fmt.Errorf("network grid parameters must be >= 0")
	}
	if len(c.Matrix) > 0 {
		cols := len(c.Matrix[0])
		for i, row := range c.Matrix {
			if len(row) != cols {
				return fmt.Errorf("network.matrix row %d has %d columns, want %d", i, len(row), cols)
			}
		}
		if cols == 0 {
			return fmt.Errorf("network.matrix has no columns")
		}
	}
	return nil
}

// Neuron is a leaky integrate-and-fire unit:
// dv/dt = (-(v - rest) + drive) / tau.
type Neuron[T any] struct {
	sim.PartBase[T]
	net   *Network[T]
	arith numeric.Arith[T]

	V     T
	v0    T
	dv    T
	stack T
	drive T

	Pos        [3]float64
	Spikes     int
	refractory T

	in  atomic.Int32
	out atomic.Int32

	mu       sync.Mutex
	outgoing []*Synapse[T]
	incoming []*Synapse[T]
}

func (n *Neuron[T]) Init(v *sim.Visitor[T]) {
	a := v.Arith()
	cfg := n.net.cfg
	n.arith = a
	n.V = a.FromFloat(cfg.Rest)
	n.refractory = a.Zero()
	drive := cfg.Drive
	if cfg.Jitter > 0 {
		drive += cfg.Jitter * (n.net.rng.Float64() - 0.5)
	}
	n.drive = a.FromFloat(drive)
	n.Pos = n.net.position(n.Index())
	v.Enqueue(n, n.net.dt)
}

func (n *Neuron[T]) Clear() {
	var zero T
	n.V, n.v0, n.dv, n.stack, n.drive, n.refractory = zero, zero, zero, zero, zero, zero
	n.Pos = [3]float64{}
	n.Spikes = 0
	n.in.Store(0)
	n.out.Store(0)
	n.outgoing = nil
	n.incoming = nil
}

func (n *Neuron[T]) Snapshot() { n.v0 = n.V }
func (n *Neuron[T]) Restore()  { n.V = n.v0 }

func (n *Neuron[T]) UpdateDerivative(*sim.Visitor[T]) {
	a := n.arith
	if a.Less(a.Zero(), n.refractory) {
		n.dv = a.Zero()
		return
	}
	leak := a.Sub(a.Add(n.drive, n.net.rest), n.V)
	n.dv = a.Div(leak, n.net.tau)
}

func (n *Neuron[T]) Integrate(dt T)         { n.V = n.arith.Add(n.V, n.arith.Mul(dt, n.dv)) }
func (n *Neuron[T]) PushDerivative()        { n.stack = n.dv }
func (n *Neuron[T]) MultiplyAddToStack(s T) { n.stack = n.arith.Add(n.stack, n.arith.Mul(s, n.dv)) }
func (n *Neuron[T]) AddToMembers()          { n.dv = n.arith.Add(n.dv, n.stack) }
func (n *Neuron[T]) Multiply(s T)           { n.dv = n.arith.Mul(n.dv, s) }

// Update applies latched synaptic input and counts down the refractory
// period.
func (n *Neuron[T]) Update(v *sim.Visitor[T]) {
	a := n.arith
	bits := n.TakeLatch()
	if a.Less(a.Zero(), n.refractory) {
		n.refractory = a.Sub(n.refractory, v.Dt())
		n.V = n.net.reset
		return
	}
	if bits&(1<<TriggerExcite) != 0 {
		n.V = a.Add(n.V, n.net.jump)
	}
	if bits&(1<<TriggerInhibit) != 0 {
		n.V = a.Sub(n.V, n.net.jump)
	}
}

// Finalize fires when the potential reaches threshold. Spikes reach the
// targets of outgoing synapses after the axonal delay.
func (n *Neuron[T]) Finalize(v *sim.Visitor[T]) sim.Disposition {
	a := n.arith
	if a.Less(n.V, n.net.threshold) {
		return sim.Live
	}
	n.V = n.net.reset
	n.refractory = n.net.refractory
	n.Spikes++

	var excite, inhibit []sim.Part[T]
	n.mu.Lock()
	for _, s := range n.outgoing {
		if s.Post == nil {
			continue
		}
		if s.Weight < 0 {
			inhibit = append(inhibit, s.Post)
		} else {
			excite = append(excite, s.Post)
		}
	}
	n.mu.Unlock()
	v.Spike(n.net.delay, true, TriggerExcite, excite...)
	v.Spike(n.net.delay, true, TriggerInhibit, inhibit...)

	if d := n.net.cfg.DieAfter; d > 0 && n.Spikes >= d {
		return sim.Dead
	}
	return sim.Live
}

// Die removes every synapse attached to the neuron.
func (n *Neuron[T]) Die(v *sim.Visitor[T]) {
	n.mu.Lock()
	attached := make([]*Synapse[T], 0, len(n.outgoing)+len(n.incoming))
	attached = append(attached, n.outgoing...)
	attached = append(attached, n.incoming...)
	n.mu.Unlock()
	for _, s := range attached {
		v.Remove(s)
	}
}

// InDegree returns the number of incoming synapses.
func (n *Neuron[T]) InDegree() int { return int(n.in.Load()) }

// OutDegree returns the number of outgoing synapses.
func (n *Neuron[T]) OutDegree() int { return int(n.out.Load()) }

// Potential returns the membrane potential as a float64.
func (n *Neuron[T]) Potential() float64 { return n.arith.ToFloat(n.V) }

func (n *Neuron[T]) attach(s *Synapse[T], outgoing bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if outgoing {
		n.outgoing = append(n.outgoing, s)
		n.out.Add(1)
		return
	}
	n.incoming = append(n.incoming, s)
	n.in.Add(1)
}

func (n *Neuron[T]) detach(s *Synapse[T], outgoing bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	list := &n.incoming
	count := &n.in
	if outgoing {
		list = &n.outgoing
		count = &n.out
	}
	for i, x := range *list {
		if x == s {
			*list = append((*list)[:i], (*list)[i+1:]...)
			count.Add(-1)
			return
		}
	}
}

// Synapse connects a presynaptic neuron (endpoint 0) to a postsynaptic
// neuron (endpoint 1).
type Synapse[T any] struct {
	sim.PartBase[T]
	net *Network[T]

	Pre    *Neuron[T]
	Post   *Neuron[T]
	Weight float64
}

func (s *Synapse[T]) SetPart(i int, p sim.Part[T]) {
	n, _ := p.(*Neuron[T])
	switch i {
	case 0:
		s.Pre = n
	case 1:
		s.Post = n
	default:
		panic(fmt.Errorf("%w: synapse has no endpoint %d", sim.ErrContract, i))
	}
}

func (s *Synapse[T]) GetPart(i int) sim.Part[T] {
	switch i {
	case 0:
		return s.Pre
	case 1:
		return s.Post
	}
	panic(fmt.Errorf("%w: synapse has no endpoint %d", sim.ErrContract, i))
}

func (s *Synapse[T]) GetCount(i int) int {
	switch i {
	case 0:
		return s.Pre.OutDegree()
	case 1:
		return s.Post.InDegree()
	}
	panic(fmt.Errorf("%w: synapse has no endpoint %d", sim.ErrContract, i))
}

func (s *Synapse[T]) GetProject(i int) [3]float64 {
	if n, ok := s.GetPart(i).(*Neuron[T]); ok && n != nil {
		return n.Pos
	}
	return [3]float64{}
}

func (s *Synapse[T]) MapIndex(_, rc int) int { return rc }

// Probability excludes self-connections.
func (s *Synapse[T]) Probability() float64 {
	if s.Pre == s.Post {
		return 0
	}
	if s.net.matrix != nil {
		return 1
	}
	return s.net.cfg.Probability
}

func (s *Synapse[T]) SetWeight(w float64) { s.Weight = w }

func (s *Synapse[T]) Init(*sim.Visitor[T]) {
	if s.Weight == 0 {
		s.Weight = 1
		if s.net.cfg.Inhibitory > 0 && s.net.rng.Float64() < s.net.cfg.Inhibitory {
			s.Weight = -1
		}
	}
	s.Pre.attach(s, true)
	s.Post.attach(s, false)
	s.Pre.Hold()
	s.Post.Hold()
}

// Die detaches the synapse and drops its references. A dead neuron is
// recycled only after the last of its synapses is gone.
func (s *Synapse[T]) Die(*sim.Visitor[T]) {
	s.Pre.detach(s, true)
	s.Post.detach(s, false)
	s.Pre.Drop()
	s.Post.Drop()
}

func (s *Synapse[T]) Clear() {
	s.Pre, s.Post, s.Weight = nil, nil, 0
}

// Network is the top-level wrapper of the LIF model. It sizes the neuron
// population on Init and, when growth is configured, is itself scheduled to
// add neurons periodically.
type Network[T any] struct {
	sim.PartBase[T]
	cfg      NetworkConfig
	neurons  *sim.Population[T]
	synapses *sim.Population[T]
	matrix   *mat.Dense
	rng      *rand.Rand
	target   int

	dt, tau, rest, threshold, reset, refractory, jump, delay T
	growEvery                                                T
}

// NewNetwork builds the wrapper and declares the synapse connect rule.
func NewNetwork[T any](cfg NetworkConfig, arith numeric.Arith[T]) (*Network[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid network config: %w", err)
	}
	n := &Network[T]{
		cfg:        cfg,
		dt:         arith.FromFloat(cfg.Dt),
		tau:        arith.FromFloat(cfg.Tau),
		rest:       arith.FromFloat(cfg.Rest),
		threshold:  arith.FromFloat(cfg.Threshold),
		reset:      arith.FromFloat(cfg.Reset),
		refractory: arith.FromFloat(cfg.Refractory),
		jump:       arith.FromFloat(cfg.Jump),
		delay:      arith.FromFloat(cfg.Delay),
		growEvery:  arith.FromFloat(cfg.GrowEvery),
	}
	n.neurons = sim.NewPopulation[T]("neurons", func(k int) []sim.Part[T] {
		parts := sim.BlockOf[T, Neuron[T]](k)
		for _, p := range parts {
			p.(*Neuron[T]).net = n
		}
		return parts
	})
	n.synapses = sim.NewPopulation[T]("synapses", func(k int) []sim.Part[T] {
		parts := sim.BlockOf[T, Synapse[T]](k)
		for _, p := range parts {
			p.(*Synapse[T]).net = n
		}
		return parts
	})

	spec := sim.ConnectSpec[T]{
		Endpoints: []sim.Endpoint[T]{
			{Population: n.neurons, Max: cfg.MaxOut},
			{Population: n.neurons, Max: cfg.MaxIn, Min: cfg.MinIn,
				K: cfg.K, Radius: cfg.Radius, Epsilon: cfg.Epsilon, MaxVisits: cfg.MaxVisits},
		},
	}
	if len(cfg.Matrix) > 0 {
		rows, cols := len(cfg.Matrix), len(cfg.Matrix[0])
		data := make([]float64, 0, rows*cols)
		for _, row := range cfg.Matrix {
			data = append(data, row...)
		}
		n.matrix = mat.NewDense(rows, cols, data)
		spec.Matrix = n.matrix
	}
	if err := n.synapses.SetConnect(spec); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *Network[T]) Init(v *sim.Visitor[T]) {
	n.rng = v.Sim().RNG().Stream(sim.SubsystemModel)
	n.target = n.cfg.Neurons
	v.Resize(n.neurons, n.target)
	if n.growing() {
		v.Enqueue(n, n.growEvery)
	}
}

// Update grows the neuron population by GrowBy, up to MaxNeurons.
func (n *Network[T]) Update(v *sim.Visitor[T]) {
	if !n.growing() {
		return
	}
	n.target = min(n.target+n.cfg.GrowBy, n.cfg.MaxNeurons)
	v.Resize(n.neurons, n.target)
}

// Finalize retires the grow schedule once MaxNeurons is reached.
func (n *Network[T]) Finalize(*sim.Visitor[T]) sim.Disposition {
	if n.growing() {
		return sim.Live
	}
	return sim.Dormant
}

func (n *Network[T]) growing() bool {
	return n.cfg.GrowEvery > 0 && n.cfg.GrowBy > 0 && n.target < n.cfg.MaxNeurons
}

// position lays neurons out on a square grid in the z = 0 plane by index.
func (n *Network[T]) position(index int) [3]float64 {
	side := n.cfg.GridSide
	if side <= 0 {
		side = max(1, int(math.Ceil(math.Sqrt(float64(max(n.cfg.Neurons, n.cfg.MaxNeurons))))))
	}
	spacing := n.cfg.Spacing
	if spacing == 0 {
		spacing = 1
	}
	return [3]float64{float64(index%side) * spacing, float64(index/side) * spacing, 0}
}

// Neurons returns the neuron population.
func (n *Network[T]) Neurons() *sim.Population[T] { return n.neurons }

// Synapses returns the synapse population.
func (n *Network[T]) Synapses() *sim.Population[T] { return n.synapses }

// TotalSpikes returns the spike count summed over live neurons.
func (n *Network[T]) TotalSpikes() int {
	total := 0
	for _, p := range n.neurons.Instances() {
		total += p.(*Neuron[T]).Spikes
	}
	return total
}
