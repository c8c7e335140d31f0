package trace

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// PopulationSummary aggregates the samples of one population.
type PopulationSummary struct {
	Samples int
	Peak    int
	Final   int
	Mean    float64
	StdDev  float64
}

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalSamples int
	TotalEvents  int
	Steps        int
	Spikes       int
	Populations  map[string]PopulationSummary
}

// Names returns the summarized population names, sorted.
func (s *TraceSummary) Names() []string {
	names := make([]string, 0, len(s.Populations))
	for n := range s.Populations {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		Populations: make(map[string]PopulationSummary),
	}
	if st == nil {
		return summary
	}

	summary.TotalSamples = len(st.Samples)
	summary.TotalEvents = len(st.Events)
	for _, e := range st.Events {
		switch e.Kind {
		case "step":
			summary.Steps++
		case "spike":
			summary.Spikes++
		}
	}

	series := make(map[string][]float64)
	for _, s := range st.Samples {
		series[s.Population] = append(series[s.Population], float64(s.Live))
		ps := summary.Populations[s.Population]
		if s.Live > ps.Peak {
			ps.Peak = s.Live
		}
		ps.Final = s.Live
		ps.Samples++
		summary.Populations[s.Population] = ps
	}
	for name, xs := range series {
		ps := summary.Populations[name]
		ps.Mean, ps.StdDev = stat.MeanStdDev(xs, nil)
		if len(xs) < 2 {
			ps.StdDev = 0
		}
		summary.Populations[name] = ps
	}

	return summary
}
