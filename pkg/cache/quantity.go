package cache

import (
	"math"
	"math/bits"

	"github.com/erain9/mbocache/pkg/core"
)

// total128 is an unsigned 128-bit accumulator of non-negative quantity units.
// Level totals never wrap, so add and sub stay exact inverses.
type total128 struct {
	hi, lo uint64
}

func (t *total128) add(units int64) {
	var carry uint64
	t.lo, carry = bits.Add64(t.lo, uint64(units), 0)
	t.hi += carry
}

func (t *total128) sub(units int64) {
	var borrow uint64
	t.lo, borrow = bits.Sub64(t.lo, uint64(units), 0)
	t.hi -= borrow
}

func (t *total128) addTotal(o total128) {
	var carry uint64
	t.lo, carry = bits.Add64(t.lo, o.lo, 0)
	t.hi += o.hi + carry
}

func (t total128) isZero() bool {
	return t.hi == 0 && t.lo == 0
}

// overflows reports whether the value no longer fits the int64 unit range
func (t total128) overflows() bool {
	return t.hi != 0 || t.lo > math.MaxInt64
}

// scale converts between venue floating point values and integer multiples of an increment.
type scale struct {
	increment float64
	inverse   float64
	// integral is set when 1/increment is a whole number (0.01, 1e-8, ...);
	// dividing by it gives the correctly rounded decimal back
	integral bool
}

func newScale(increment, fallback float64) scale {
	if math.IsNaN(increment) || math.IsInf(increment, 0) || increment <= 0 {
		increment = fallback
	}
	s := scale{increment: increment}
	inv := 1 / increment
	if r := math.Round(inv); r >= 1 && math.Abs(inv-r) <= 1e-9*r {
		s.inverse = r
		s.integral = true
	}
	return s
}

// toInt rounds value to the nearest multiple of the increment.
// ok is false for NaN, infinities and values outside the int64 range.
func (s scale) toInt(value float64) (int64, bool) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, false
	}
	var r float64
	if s.integral {
		r = math.Round(value * s.inverse)
	} else {
		r = math.Round(value / s.increment)
	}
	if r >= math.MaxInt64 || r < math.MinInt64 {
		return 0, false
	}
	return int64(r), true
}

// toUnits is toInt for quantities: values beyond range saturate at MaxInt64
func (s scale) toUnits(value float64) (int64, bool) {
	if math.IsInf(value, 1) {
		return math.MaxInt64, true
	}
	units, ok := s.toInt(value)
	if !ok && !math.IsNaN(value) && value > 0 {
		return math.MaxInt64, true
	}
	return units, ok
}

func (s scale) toFloat(v int64) float64 {
	if s.integral {
		return float64(v) / s.inverse
	}
	return float64(v) * s.increment
}

// totalToFloat saturates to +Inf when the accumulator exceeds the unit range
func (s scale) totalToFloat(t total128) float64 {
	if t.overflows() {
		return math.Inf(1)
	}
	return s.toFloat(int64(t.lo))
}

func newPriceScale(increment float64) scale {
	return newScale(increment, core.DefaultPriceIncrement)
}

func newQuantityScale(increment float64) scale {
	return newScale(increment, core.DefaultQuantityIncrement)
}
