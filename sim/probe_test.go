package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spike-sim/spike-sim/sim/trace"
)

func newProbeSim(t *testing.T, cfg trace.TraceConfig) (*Simulator[float64], *Probe[float64], *Population[float64]) {
	t.Helper()
	probe := NewProbe[float64](trace.NewSimulationTrace(cfg))
	s := newTestSim(t, nil, WithObserver[float64](probe))
	pop := newNodes("n", &nodeModel{dt: 0.5})
	s.Init(initWith(pop, 4))
	return s, probe, pop
}

func TestProbe_SamplesAtInterval(t *testing.T) {
	// GIVEN a probe sampling every 1.0 on a step of period 0.5
	s, probe, _ := newProbeSim(t, trace.TraceConfig{Level: trace.TraceLevelPopulations, RunID: "r1", Interval: 1})

	// WHEN run to t = 3
	s.Run(3)

	// THEN the first event is sampled, then the first event at or past each interval mark
	st := probe.Trace()
	var times []float64
	for _, sm := range st.Samples {
		times = append(times, sm.Time)
		assert.Equal(t, "r1", sm.RunID)
		assert.Equal(t, "n", sm.Population)
		assert.Equal(t, 4, sm.Live)
	}
	assert.Equal(t, []float64{0.5, 1, 2, 3}, times)
	assert.Empty(t, st.Events, "populations level records no events")
}

func TestProbe_EveryEventWithoutInterval(t *testing.T) {
	s, probe, _ := newProbeSim(t, trace.TraceConfig{Level: trace.TraceLevelEvents})
	s.Run(2)

	st := probe.Trace()
	assert.Len(t, st.Samples, 4)
	require.Len(t, st.Events, 4)
	ev := st.Events[0]
	assert.Equal(t, 0.5, ev.Time)
	assert.Equal(t, "step", ev.Kind)
	assert.Equal(t, "dt=0.5", ev.Detail)
	assert.Equal(t, 4, ev.Members)
}

func TestProbe_EventTimesFollowTheClock(t *testing.T) {
	// GIVEN a step of period 0.5 whose first member goes dormant on the first event
	probe := NewProbe[float64](trace.NewSimulationTrace(trace.TraceConfig{Level: trace.TraceLevelEvents}))
	var clock []float64
	s := newTestSim(t, nil,
		WithObserver[float64](probe),
		WithObserver[float64](ObserverFunc[float64](func(s *Simulator[float64], _ Event[float64]) {
			clock = append(clock, s.Time())
		})))
	pop := newNodes("n", &nodeModel{dt: 0.5, finalize: func(n *node, _ *Visitor[float64]) Disposition {
		if n.Index() == 0 {
			return Dormant
		}
		return Live
	}})
	s.Init(initWith(pop, 4))

	// WHEN run to t = 1.5
	s.Run(1.5)

	// THEN each record carries the time the step ran and its size when it started
	var times []float64
	var members []int
	for _, ev := range probe.Trace().Events {
		times = append(times, ev.Time)
		members = append(members, ev.Members)
	}
	assert.Equal(t, []float64{0.5, 1, 1.5}, clock)
	assert.Equal(t, clock, times)
	assert.Equal(t, []int{4, 3, 3}, members)
}

func TestProbe_RecordsSpikeVariant(t *testing.T) {
	s, probe, pop := newProbeSim(t, trace.TraceConfig{Level: trace.TraceLevelEvents, Interval: 10})
	s.Spike(0.25, true, 1, pop.Instances()...)
	s.Run(0.25)

	st := probe.Trace()
	require.Len(t, st.Events, 1)
	assert.Equal(t, trace.EventRecord{Time: 0.25, Kind: "spike", Detail: "multi-latch", Members: 4}, st.Events[0])
}

func TestProbe_Disabled(t *testing.T) {
	for _, level := range []trace.TraceLevel{"", trace.TraceLevelNone} {
		s, probe, _ := newProbeSim(t, trace.TraceConfig{Level: level})
		s.Run(2)
		assert.Empty(t, probe.Trace().Samples)
		assert.Empty(t, probe.Trace().Events)
	}

	// A nil trace is valid too.
	p := NewProbe[float64](nil)
	s := newTestSim(t, nil, WithObserver[float64](p))
	s.Init(&wrapper{})
	assert.NotPanics(t, func() { p.Sample(s) })
}

func TestProbe_Sample_CountsNewborn(t *testing.T) {
	probe := NewProbe[float64](trace.NewSimulationTrace(trace.TraceConfig{Level: trace.TraceLevelPopulations}))
	s := newTestSim(t, nil)
	pop := newNodes("n", &nodeModel{}, WithBlockSize[float64](8, 8))
	s.Init(initWith(pop, 2))
	pop.Create(s.serial)

	probe.Sample(s)

	require.Len(t, probe.Trace().Samples, 1)
	assert.Equal(t, trace.PopulationSample{Population: "n", Live: 3, Allocated: 8, Newborn: 1}, probe.Trace().Samples[0])
}
