// Package trace provides run-trace recording: population samples, event
// records, CSV output and summaries.
// This package has no dependencies on sim/; it stores pure data types.
package trace

// PopulationSample captures the size of one population at one instant.
type PopulationSample struct {
	RunID      string  `csv:"run_id"`
	Time       float64 `csv:"time"`
	Population string  `csv:"population"`
	Live       int     `csv:"live"`
	Allocated  int     `csv:"allocated"`
	Newborn    int     `csv:"newborn"`
}

// EventRecord captures a single executed event.
type EventRecord struct {
	RunID   string  `csv:"run_id"`
	Time    float64 `csv:"time"`
	Kind    string  `csv:"kind"`    // "step" or "spike"
	Detail  string  `csv:"detail"`  // step period or spike variant
	Members int     `csv:"members"` // step members or spike targets
}
