// Package models holds hand-written models built on the sim kernel: an
// exponential decay used to check the integrators, and a leaky
// integrate-and-fire network exercising spikes, connections, death and
// growth.
package models

import (
	"fmt"

	"github.com/spike-sim/spike-sim/sim"
	"github.com/spike-sim/spike-sim/sim/numeric"
)

// DecayConfig parameterizes the decay model.
type DecayConfig struct {
	Count   int     `yaml:"count"`   // number of instances
	Dt      float64 `yaml:"dt"`      // step period
	Initial float64 `yaml:"initial"` // starting value of x
	Rate    float64 `yaml:"rate"`    // dx/dt = -rate * x
}

// DefaultDecayConfig returns x(0) = 1, dx/dt = -x, dt = 0.1.
func DefaultDecayConfig() DecayConfig {
	return DecayConfig{Count: 1, Dt: 0.1, Initial: 1, Rate: 1}
}

// Validate checks the decay parameters.
func (c DecayConfig) Validate() error {
	if c.Count < 0 {
		return fmt.Errorf("decay.count must be >= 0, got %d", c.Count)
	}
	if c.Dt <= 0 {
		return fmt.Errorf("decay.dt must be > 0, got %g", c.Dt)
	}
	if c.Rate < 0 {
		return fmt.Errorf("decay.rate must be >= 0, got %g", c.Rate)
	}
	return nil
}

// Decay is one instance of dx/dt = -rate * x.
type Decay[T any] struct {
	sim.PartBase[T]
	model *DecayModel[T]
	arith numeric.Arith[T]

	X     T
	x0    T
	dx    T
	stack T
}

func (d *Decay[T]) Init(v *sim.Visitor[T]) {
	d.arith = v.Arith()
	d.X = d.arith.FromFloat(d.model.cfg.Initial)
	v.Enqueue(d, d.model.dt)
}

func (d *Decay[T]) Clear() {
	var zero T
	d.X, d.x0, d.dx, d.stack = zero, zero, zero, zero
}

func (d *Decay[T]) Snapshot() { d.x0 = d.X }
func (d *Decay[T]) Restore()  { d.X = d.x0 }

func (d *Decay[T]) UpdateDerivative(*sim.Visitor[T]) {
	d.dx = d.arith.Sub(d.arith.Zero(), d.arith.Mul(d.model.rate, d.X))
}

func (d *Decay[T]) Integrate(dt T)         { d.X = d.arith.Add(d.X, d.arith.Mul(dt, d.dx)) }
func (d *Decay[T]) PushDerivative()        { d.stack = d.dx }
func (d *Decay[T]) MultiplyAddToStack(s T) { d.stack = d.arith.Add(d.stack, d.arith.Mul(s, d.dx)) }
func (d *Decay[T]) AddToMembers()          { d.dx = d.arith.Add(d.dx, d.stack) }
func (d *Decay[T]) Multiply(s T)           { d.dx = d.arith.Mul(d.dx, s) }

// Value returns x as a float64.
func (d *Decay[T]) Value() float64 { return d.arith.ToFloat(d.X) }

// DecayModel is the top-level wrapper: it owns the decay population and
// sizes it on Init.
type DecayModel[T any] struct {
	sim.PartBase[T]
	cfg  DecayConfig
	dt   T
	rate T
	pop  *sim.Population[T]
}

// NewDecayModel builds the wrapper for arith.
func NewDecayModel[T any](cfg DecayConfig, arith numeric.Arith[T]) (*DecayModel[T], error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid decay config: %w", err)
	}
	m := &DecayModel[T]{cfg: cfg, dt: arith.FromFloat(cfg.Dt), rate: arith.FromFloat(cfg.Rate)}
	m.pop = sim.NewPopulation[T]("decay", func(n int) []sim.Part[T] {
		parts := sim.BlockOf[T, Decay[T]](n)
		for _, p := range parts {
			p.(*Decay[T]).model = m
		}
		return parts
	})
	return m, nil
}

func (m *DecayModel[T]) Init(v *sim.Visitor[T]) {
	v.Resize(m.pop, m.cfg.Count)
}

// Decays returns the decay population.
func (m *DecayModel[T]) Decays() *sim.Population[T] { return m.pop }

// Values returns x of every live instance in index order.
func (m *DecayModel[T]) Values() []float64 {
	parts := m.pop.Instances()
	out := make([]float64, len(parts))
	for i, p := range parts {
		out[i] = p.(*Decay[T]).Value()
	}
	return out
}
