// Package sim provides the discrete-event scheduler and connection kernel of
// the spiking-network simulator.
//
// # Reading Guide
//
// Start with these files to understand the kernel:
//   - part.go: the Part lifecycle (Init, Update, Finalize, Die, Clear) and PartBase
//   - event.go: EventStep (recurring integration of many parts) and EventSpike
//   - simulator.go: the event loop, phase fork-join and the deferred queues
//   - population.go: pooled block storage, registry holes and newborn tracking
//   - connect.go: nested connection iteration over population endpoints
//
// # Architecture
//
// The kernel is generic over the numeric type T used for time and state.
// Arithmetic goes through numeric.Arith so float32, float64 and fixed-point
// instantiations share one implementation:
//   - sim/numeric/: the Arith contract and its float and fixed-point implementations
//   - sim/spatial/: k-d tree nearest-neighbour queries for connection endpoints
//   - sim/trace/: population samples, event records and CSV output
//   - sim/models/: reference models built on the kernel (decay, LIF network)
//
// # Phases and the serial point
//
// Events run their phases across worker shards. Inside a phase, parts only
// mutate themselves and record requests on their Visitor. After the event,
// the Simulator absorbs shard buffers in shard order and settles resize,
// connect and clear-newborn requests in that order until none remain.
//
// # Key Interfaces
//
//   - Part: anything the kernel schedules
//   - Integrable: parts whose state is advanced by an Integrator
//   - Connection: parts created by the connect pass between endpoints
//   - Integrator: the phase recipe of an EventStep (euler, rk4)
//   - Observer: hook run after every settled event (see Probe)
package sim
