package trace

// TraceLevel controls the verbosity of run tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelPopulations samples population sizes at a fixed interval.
	TraceLevelPopulations TraceLevel = "populations"
	// TraceLevelEvents additionally records every executed event.
	TraceLevelEvents TraceLevel = "events"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:        true,
	TraceLevelPopulations: true,
	TraceLevelEvents:      true,
	"":                    true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level    TraceLevel
	RunID    string
	Interval float64 // simulated time between population samples
}

// SimulationTrace collects records during a run.
type SimulationTrace struct {
	Config  TraceConfig
	Samples []PopulationSample
	Events  []EventRecord
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace(config TraceConfig) *SimulationTrace {
	return &SimulationTrace{
		Config:  config,
		Samples: make([]PopulationSample, 0),
		Events:  make([]EventRecord, 0),
	}
}

// RecordSample appends a population sample.
func (st *SimulationTrace) RecordSample(record PopulationSample) {
	st.Samples = append(st.Samples, record)
}

// RecordEvent appends an event record when the level includes events.
func (st *SimulationTrace) RecordEvent(record EventRecord) {
	if st.Config.Level != TraceLevelEvents {
		return
	}
	st.Events = append(st.Events, record)
}
