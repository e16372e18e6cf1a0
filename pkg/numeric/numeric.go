// Package numeric does the decimal arithmetic for published values so sums
// and rounding do not pick up binary floating point noise.
package numeric

import (
	"math"

	"github.com/cockroachdb/apd/v3"
)

var baseContext = func() *apd.Context {
	c := apd.BaseContext.WithPrecision(34)
	c.Rounding = apd.RoundHalfUp
	return c
}()

func toDecimal(f float64) (*apd.Decimal, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false
	}
	d, err := new(apd.Decimal).SetFloat64(f)
	if err != nil {
		return nil, false
	}
	return d, true
}

func toFloat(d *apd.Decimal) float64 {
	f, err := d.Float64()
	if err != nil {
		return 0
	}
	return f
}

// Round rounds f half away from zero to the given number of decimal places.
// NaN and infinities are returned as 0.
func Round(f float64, places int32) float64 {
	d, ok := toDecimal(f)
	if !ok {
		return 0
	}
	var out apd.Decimal
	if _, err := baseContext.Quantize(&out, d, -places); err != nil {
		return 0
	}
	return toFloat(&out)
}

// Sum adds values exactly in decimal and returns the result as a float64.
func Sum(values ...float64) float64 {
	var total apd.Decimal
	for _, v := range values {
		d, ok := toDecimal(v)
		if !ok {
			continue
		}
		if _, err := baseContext.Add(&total, &total, d); err != nil {
			return 0
		}
	}
	return toFloat(&total)
}

// Accumulator sums values in decimal.
type Accumulator struct {
	total apd.Decimal
	count int
}

// Add adds v to the running total. NaN and infinities are ignored.
func (a *Accumulator) Add(v float64) {
	d, ok := toDecimal(v)
	if !ok {
		return
	}
	if _, err := baseContext.Add(&a.total, &a.total, d); err == nil {
		a.count++
	}
}

// Count returns the number of values added.
func (a *Accumulator) Count() int {
	return a.count
}

// Float64 returns the running total.
func (a *Accumulator) Float64() float64 {
	return toFloat(&a.total)
}

// Percent returns (part - base) / base * 100 and false when base is zero.
func Percent(part, base float64) (float64, bool) {
	b, ok := toDecimal(base)
	if !ok || b.IsZero() {
		return 0, false
	}
	p, ok := toDecimal(part)
	if !ok {
		return 0, false
	}
	var diff, quo, out apd.Decimal
	if _, err := baseContext.Sub(&diff, p, b); err != nil {
		return 0, false
	}
	if _, err := baseContext.Quo(&quo, &diff, b); err != nil {
		return 0, false
	}
	if _, err := baseContext.Mul(&out, &quo, apd.New(100, 0)); err != nil {
		return 0, false
	}
	return toFloat(&out), true
}
