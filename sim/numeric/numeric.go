// Package numeric defines the scalar contract the simulation kernel is written over.
//
// The kernel never performs arithmetic on simulated time or integrator scalars
// directly. It goes through an Arith implementation, so the same scheduler runs
// on float32, float64, or a fixed-point integer representation.
package numeric

import (
	"fmt"
	"math"

	"golang.org/x/exp/constraints"
)

// Arith is the arithmetic a scalar type T must support.
// Implementations document their own rounding and saturation policy.
type Arith[T any] interface {
	Zero() T
	FromFloat(f float64) T
	ToFloat(v T) float64
	Add(a, b T) T
	Sub(a, b T) T
	Mul(a, b T) T
	Div(a, b T) T
	Less(a, b T) bool
	Equal(a, b T) bool
	Name() string
}

// Float is the Arith for native floating-point types.
// Rounding follows IEEE 754 round-to-nearest-even; there is no saturation.
type Float[T constraints.Float] struct{}

func (Float[T]) Zero() T               { return 0 }
func (Float[T]) FromFloat(f float64) T { return T(f) }
func (Float[T]) ToFloat(v T) float64   { return float64(v) }
func (Float[T]) Add(a, b T) T          { return a + b }
func (Float[T]) Sub(a, b T) T          { return a - b }
func (Float[T]) Mul(a, b T) T          { return a * b }
func (Float[T]) Div(a, b T) T          { return a / b }
func (Float[T]) Less(a, b T) bool      { return a < b }
func (Float[T]) Equal(a, b T) bool     { return a == b }

func (Float[T]) Name() string {
	var zero T
	if _, ok := any(zero).(float32); ok {
		return "float32"
	}
	return "float64"
}

// Fixed is a signed Q-format fixed-point Arith over int32.
// A raw value r represents r / 2^Frac.
//
// Policy: every operation saturates to [math.MinInt32, math.MaxInt32].
// Mul, Div and FromFloat round half away from zero. Division by zero
// saturates toward the sign of the dividend (zero stays zero).
type Fixed struct {
	Frac uint
}

// NewFixed returns a Fixed with the given number of fractional bits.
func NewFixed(frac uint) (Fixed, error) {
	if frac == 0 || frac > 30 {
		return Fixed{}, fmt.Errorf("fixed-point fractional bits must be in [1, 30], got %d", frac)
	}
	return Fixed{Frac: frac}, nil
}

func (x Fixed) Zero() int32 { return 0 }

func (x Fixed) one() float64 { return float64(int64(1) << x.Frac) }

func (x Fixed) FromFloat(f float64) int32 {
	if math.IsNaN(f) {
		return 0
	}
	scaled := f * x.one()
	if scaled >= 0 {
		scaled = math.Floor(scaled + 0.5)
	} else {
		scaled = math.Ceil(scaled - 0.5)
	}
	if scaled > math.MaxInt32 {
		return math.MaxInt32
	}
	if scaled < math.MinInt32 {
		return math.MinInt32
	}
	return int32(scaled)
}

func (x Fixed) ToFloat(v int32) float64 { return float64(v) / x.one() }

func (x Fixed) Add(a, b int32) int32 { return saturate(int64(a) + int64(b)) }

func (x Fixed) Sub(a, b int32) int32 { return saturate(int64(a) - int64(b)) }

func (x Fixed) Mul(a, b int32) int32 {
	return saturate(shiftRound(int64(a)*int64(b), x.Frac))
}

func (x Fixed) Div(a, b int32) int32 {
	if b == 0 {
		switch {
		case a > 0:
			return math.MaxInt32
		case a < 0:
			return math.MinInt32
		}
		return 0
	}
	n := int64(a) << x.Frac
	d := int64(b)
	q := n / d
	r := n % d
	if 2*abs64(r) >= abs64(d) {
		if (n < 0) != (d < 0) {
			q--
		} else {
			q++
		}
	}
	return saturate(q)
}

func (x Fixed) Less(a, b int32) bool  { return a < b }
func (x Fixed) Equal(a, b int32) bool { return a == b }
func (x Fixed) Name() string          { return fmt.Sprintf("fixed(Q%d)", x.Frac) }

func shiftRound(p int64, frac uint) int64 {
	half := int64(1) << (frac - 1)
	if p >= 0 {
		return (p + half) >> frac
	}
	return -((-p + half) >> frac)
}

func saturate(v int64) int32 {
	if v > math.MaxInt32 {
		return math.MaxInt32
	}
	if v < math.MinInt32 {
		return math.MinInt32
	}
	return int32(v)
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
