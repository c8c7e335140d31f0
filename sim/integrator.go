package sim

import (
	"fmt"
	"sort"
	"strings"
)

// Integrator advances the continuous state of every member of an EventStep
// by one period, as a sequence of barrier-separated visits.
type Integrator[T any] interface {
	Name() string
	Integrate(s *Simulator[T], e *EventStep[T])
}

// validIntegrators is the set of recognized integrator names.
var validIntegrators = map[string]bool{"euler": true, "rk4": true, "runge-kutta": true}

// IsValidIntegrator returns true if name is a recognized integrator.
func IsValidIntegrator(name string) bool { return validIntegrators[name] }

// ValidIntegratorNames returns the recognized integrator names, sorted.
func ValidIntegratorNames() string {
	names := make([]string, 0, len(validIntegrators))
	for n := range validIntegrators {
		names = append(names, n)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

// NewIntegrator creates an integrator by name. Valid names: euler, rk4,
// runge-kutta. Empty selects euler.
func NewIntegrator[T any](name string) (Integrator[T], error) {
	switch name {
	case "", "euler":
		return Euler[T]{}, nil
	case "rk4", "runge-kutta":
		return RungeKutta[T]{}, nil
	}
	return nil, fmt.Errorf("unknown integrator %q; valid options: %s", name, ValidIntegratorNames())
}

// Euler is the explicit first-order method: x += dt * f(x).
type Euler[T any] struct{}

func (Euler[T]) Name() string { return "euler" }

func (Euler[T]) Integrate(s *Simulator[T], e *EventStep[T]) {
	dt := e.Dt()
	e.VisitIntegrable(s, func(v *Visitor[T], p Integrable[T]) {
		p.UpdateDerivative(v)
	})
	e.VisitIntegrable(s, func(v *Visitor[T], p Integrable[T]) {
		p.Integrate(dt)
	})
}

// RungeKutta is the classic fourth-order method. Every stage reads the state
// of other Parts, so each stage is its own visit.
type RungeKutta[T any] struct{}

func (RungeKutta[T]) Name() string { return "rk4" }

func (RungeKutta[T]) Integrate(s *Simulator[T], e *EventStep[T]) {
	a := s.arith
	dt := e.Dt()
	two := a.FromFloat(2)
	half := a.Div(dt, two)
	sixth := a.Div(a.FromFloat(1), a.FromFloat(6))

	// k1
	e.VisitIntegrable(s, func(v *Visitor[T], p Integrable[T]) {
		p.Snapshot()
		p.UpdateDerivative(v)
		p.PushDerivative()
	})
	e.VisitIntegrable(s, func(v *Visitor[T], p Integrable[T]) {
		p.Integrate(half)
	})
	// k2
	e.VisitIntegrable(s, func(v *Visitor[T], p Integrable[T]) {
		p.UpdateDerivative(v)
		p.MultiplyAddToStack(two)
	})
	e.VisitIntegrable(s, func(v *Visitor[T], p Integrable[T]) {
		p.Restore()
		p.Integrate(half)
	})
	// k3
	e.VisitIntegrable(s, func(v *Visitor[T], p Integrable[T]) {
		p.UpdateDerivative(v)
		p.MultiplyAddToStack(two)
	})
	e.VisitIntegrable(s, func(v *Visitor[T], p Integrable[T]) {
		p.Restore()
		p.Integrate(dt)
	})
	// k4, then the weighted sum
	e.VisitIntegrable(s, func(v *Visitor[T], p Integrable[T]) {
		p.UpdateDerivative(v)
		p.AddToMembers()
		p.Multiply(sixth)
	})
	e.VisitIntegrable(s, func(v *Visitor[T], p Integrable[T]) {
		p.Restore()
		p.Integrate(dt)
	})
}
