package sim

import (
	"errors"
	"fmt"
)

var (
	// ErrPoolExhausted is raised when a population would grow past its capacity.
	ErrPoolExhausted = errors.New("population storage exhausted")

	// ErrContract is raised on lifecycle misuse: out-of-range endpoint
	// indices, negative resize targets, serial-only calls made while a
	// phase is running.
	ErrContract = errors.New("lifecycle contract violated")

	// ErrFault marks a panic raised by model code inside a parallel phase.
	ErrFault = errors.New("fault in simulation phase")
)

// FaultError carries a panic recovered from a visitor shard back to the
// scheduler goroutine.
type FaultError struct {
	Event string  // event kind that was running
	Time  float64 // simulated time of the event
	Shard int     // shard index that raised the panic
	Value any     // recovered panic value
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("%v: %s at t=%g shard %d: %v", ErrFault, e.Event, e.Time, e.Shard, e.Value)
}

// Unwrap exposes ErrFault and, when the panic value was itself an error, the
// original cause.
func (e *FaultError) Unwrap() []error {
	if err, ok := e.Value.(error); ok {
		return []error{ErrFault, err}
	}
	return []error{ErrFault}
}

func contractf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrContract, fmt.Sprintf(format, args...))
}
