// Tracks simulation-wide counters such as events executed, parts created and
// recycled, and connections made.

package sim

import (
	"fmt"
	"sync/atomic"
)

// Metrics aggregates statistics about the simulation for final reporting.
// Counters are atomic because parts are created and killed inside parallel
// phases.
type Metrics struct {
	StepsRun            atomic.Int64 // EventStep executions
	SpikesRun           atomic.Int64 // EventSpike executions
	SpikesScheduled     atomic.Int64 // EventSpikes pushed onto the queue
	PartsCreated        atomic.Int64 // registered instances, connections included
	PartsDied           atomic.Int64 // instances removed with a Dead disposition or resize
	PartsRecycled       atomic.Int64 // instances returned to a free list
	ConnectionsMade     atomic.Int64 // connections adopted by connect and fill passes
	ConnectionsRejected atomic.Int64 // candidates refused by the probability gate
	Flushes             atomic.Int64 // EventStep member list compactions
}

func (m *Metrics) countEvent(k EventKind) {
	if k == KindStep {
		m.StepsRun.Add(1)
		return
	}
	m.SpikesRun.Add(1)
}

// EventsRun returns the total number of events executed.
func (m *Metrics) EventsRun() int64 {
	return m.StepsRun.Load() + m.SpikesRun.Load()
}

// Print displays aggregated metrics at the end of the simulation.
func (m *Metrics) Print(now float64) {
	fmt.Println("=== Simulation Metrics ===")
	fmt.Printf("Simulated Time       : %g\n", now)
	fmt.Printf("Events Run           : %d\n", m.EventsRun())
	fmt.Printf("  Steps              : %d\n", m.StepsRun.Load())
	fmt.Printf("  Spikes             : %d\n", m.SpikesRun.Load())
	fmt.Printf("Spikes Scheduled     : %d\n", m.SpikesScheduled.Load())
	fmt.Printf("Parts Created        : %d\n", m.PartsCreated.Load())
	fmt.Printf("Parts Died           : %d\n", m.PartsDied.Load())
	fmt.Printf("Parts Recycled       : %d\n", m.PartsRecycled.Load())
	fmt.Printf("Connections Made     : %d\n", m.ConnectionsMade.Load())
	if rejected := m.ConnectionsRejected.Load(); rejected > 0 {
		made := m.ConnectionsMade.Load()
		fmt.Printf("Connections Rejected : %d (%.1f%% acceptance)\n", rejected, 100*float64(made)/float64(made+rejected))
	}
	fmt.Printf("Step Compactions     : %d\n", m.Flushes.Load())
}
