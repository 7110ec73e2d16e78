// Package ema implements the exponential moving average used by the crossover
// detector, both as a full series over history and as a single scalar that can
// be advanced one sample at a time.
package ema

import (
	"errors"
	"math"
)

var (
	// ErrInvalidPeriod is returned when the period is not a positive integer.
	ErrInvalidPeriod = errors.New("ema: period must be positive")
	// ErrInsufficientData is returned by SeedSingle when the window holds fewer
	// valid closes than the period.
	ErrInsufficientData = errors.New("ema: insufficient data")
)

// K returns the smoothing constant 2/(period+1).
func K(period int) float64 {
	return 2.0 / float64(period+1)
}

// Valid reports whether v holds an EMA value (not NaN/Inf).
func Valid(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Accumulator seeds an EMA with the mean of the first period samples and then
// applies the recurrence to every following sample.
type Accumulator struct {
	period int
	k      float64
	count  int
	sum    float64
	value  float64
}

// NewAccumulator returns an Accumulator for period. Callers must check the
// period beforehand; a non-positive period never becomes ready.
func NewAccumulator(period int) *Accumulator {
	return &Accumulator{period: period, k: K(period)}
}

// Add feeds one close. It returns the EMA through this sample and whether the
// average is seeded. Non-finite closes are skipped and report false.
func (a *Accumulator) Add(price float64) (float64, bool) {
	if a.period <= 0 || !Valid(price) {
		return math.NaN(), false
	}

	if a.count < a.period {
		a.count++
		a.sum += price
		if a.count < a.period {
			return math.NaN(), false
		}
		a.value = a.sum / float64(a.period)
		return a.value, true
	}

	a.value = step(a.value, price, a.k)
	return a.value, true
}

// Ready reports whether the average has been seeded.
func (a *Accumulator) Ready() bool { return a.period > 0 && a.count >= a.period }

// Value returns the last EMA value, or NaN while warming up.
func (a *Accumulator) Value() float64 {
	if !a.Ready() {
		return math.NaN()
	}
	return a.value
}

// Seed computes the EMA series for closes. Positions without enough history
// hold NaN. A non-finite close yields NaN at its index and later positions keep
// chaining from the last valid value.
func Seed(closes []float64, period int) []float64 {
	if len(closes) == 0 || period <= 0 {
		return []float64{}
	}

	out := make([]float64, len(closes))
	acc := NewAccumulator(period)
	for i, c := range closes {
		v, ok := acc.Add(c)
		if !ok {
			out[i] = math.NaN()
			continue
		}
		out[i] = v
	}
	return out
}

// Update applies a single recurrence step. It is pure: the caller keeps the
// returned value. A non-finite price leaves prev unchanged.
func Update(prev, price float64, period int) float64 {
	if period <= 0 || !Valid(price) {
		return prev
	}
	return step(prev, price, K(period))
}

// SeedSingle returns only the final EMA value over the window.
func SeedSingle(closes []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, ErrInvalidPeriod
	}

	acc := NewAccumulator(period)
	for _, c := range closes {
		acc.Add(c)
	}
	if !acc.Ready() {
		return 0, ErrInsufficientData
	}
	return acc.Value(), nil
}

// step is price*k + prev*(1-k) written so a flat series stays exactly flat.
func step(prev, price, k float64) float64 {
	return prev + k*(price-prev)
}
