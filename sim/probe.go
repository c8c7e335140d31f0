package sim

import (
	"fmt"

	"github.com/spike-sim/spike-sim/sim/trace"
)

// Probe is an Observer that records population sizes into a trace every
// Interval of simulated time, and every event when the trace level asks
// for events.
type Probe[T any] struct {
	trace *trace.SimulationTrace
	next  float64
	begun bool
}

// NewProbe returns a probe feeding st. A nil trace or TraceLevelNone
// yields a probe that records nothing.
func NewProbe[T any](st *trace.SimulationTrace) *Probe[T] {
	return &Probe[T]{trace: st}
}

// Trace returns the underlying trace.
func (p *Probe[T]) Trace() *trace.SimulationTrace { return p.trace }

func (p *Probe[T]) enabled() bool {
	return p.trace != nil && p.trace.Config.Level != trace.TraceLevelNone && p.trace.Config.Level != ""
}

// Observe implements Observer.
func (p *Probe[T]) Observe(s *Simulator[T], ev Event[T]) {
	if !p.enabled() {
		return
	}
	now := s.arith.ToFloat(s.now)
	if ev != nil {
		p.trace.RecordEvent(eventRecord(s, p.trace.Config.RunID, ev))
	}
	if p.begun && now < p.next {
		return
	}
	p.Sample(s)
	p.begun = true
	if p.trace.Config.Interval > 0 {
		for p.next <= now {
			p.next += p.trace.Config.Interval
		}
	} else {
		p.next = now
	}
}

// Sample records every population at the current time, regardless of the
// interval.
func (p *Probe[T]) Sample(s *Simulator[T]) {
	if !p.enabled() {
		return
	}
	now := s.arith.ToFloat(s.now)
	for _, pop := range s.Populations() {
		p.trace.RecordSample(trace.PopulationSample{
			RunID:      p.trace.Config.RunID,
			Time:       now,
			Population: pop.name,
			Live:       pop.Live(),
			Allocated:  pop.Allocated(),
			Newborn:    len(pop.Newborn()),
		})
	}
}

// eventRecord describes ev as it ran. A step has already been rescheduled
// by the time observers see it, so the time comes from the clock and the
// member count from the start of the event.
func eventRecord[T any](s *Simulator[T], runID string, ev Event[T]) trace.EventRecord {
	rec := trace.EventRecord{
		RunID:   runID,
		Time:    s.arith.ToFloat(s.now),
		Kind:    ev.Kind().String(),
		Members: s.size,
	}
	switch e := ev.(type) {
	case *EventStep[T]:
		rec.Detail = fmt.Sprintf("dt=%g", s.arith.ToFloat(e.dt))
	case *EventSpike[T]:
		rec.Detail = e.Variant()
	}
	return rec
}
