package ema

import (
	"errors"
	"math"
	"testing"

	"github.com/markcheno/go-talib"
)

const tolerance = 1e-9

func near(a, b float64) bool {
	return math.Abs(a-b) <= tolerance*math.Max(1, math.Abs(b))
}

// go test -v --run TestSeedConstantSeries
func TestSeedConstantSeries(t *testing.T) {
	for _, period := range []int{1, 2, 5, 26, 50} {
		closes := make([]float64, period+20)
		for i := range closes {
			closes[i] = 42.5
		}

		series := Seed(closes, period)
		if len(series) != len(closes) {
			t.Fatalf("period %d: expected %d values, got %d", period, len(closes), len(series))
		}
		for i, v := range series {
			if i < period-1 {
				if !math.IsNaN(v) {
					t.Errorf("period %d index %d: expected NaN, got %v", period, i, v)
				}
				continue
			}
			if v != 42.5 {
				t.Errorf("period %d index %d: expected 42.5, got %v", period, i, v)
			}
		}
	}
}

// go test -v --run TestSeedAnchorAndRecurrence
func TestSeedAnchorAndRecurrence(t *testing.T) {
	closes := []float64{2, 4, 6, 8, 10}
	series := Seed(closes, 3)

	if !math.IsNaN(series[0]) || !math.IsNaN(series[1]) {
		t.Fatalf("expected two NaN warm-up values, got %v", series[:2])
	}
	if series[2] != 4 {
		t.Fatalf("expected anchor 4, got %v", series[2])
	}
	// k = 0.5
	if !near(series[3], 6) || !near(series[4], 8) {
		t.Errorf("unexpected recurrence values: %v", series[3:])
	}
}

// go test -v --run TestSeedEdgeCases
func TestSeedEdgeCases(t *testing.T) {
	if got := Seed(nil, 3); len(got) != 0 {
		t.Errorf("expected empty series for nil input, got %v", got)
	}
	if got := Seed([]float64{1, 2, 3}, 0); len(got) != 0 {
		t.Errorf("expected empty series for period 0, got %v", got)
	}

	short := Seed([]float64{1, 2}, 5)
	for i, v := range short {
		if !math.IsNaN(v) {
			t.Errorf("index %d: expected NaN with too little history, got %v", i, v)
		}
	}
}

// go test -v --run TestSeedSkipsNaN
func TestSeedSkipsNaN(t *testing.T) {
	closes := []float64{2, 4, 6, math.NaN(), 8}
	series := Seed(closes, 3)

	if series[2] != 4 {
		t.Fatalf("expected anchor 4, got %v", series[2])
	}
	if !math.IsNaN(series[3]) {
		t.Fatalf("expected NaN at the invalid close, got %v", series[3])
	}
	// 8 chains from the anchor at index 2, not from the NaN
	if !near(series[4], 6) {
		t.Errorf("expected 6 after carry forward, got %v", series[4])
	}
}

// go test -v --run TestSeedSingleThenUpdateMatchesSeed
func TestSeedSingleThenUpdateMatchesSeed(t *testing.T) {
	closes := []float64{10, 11, 12, 13, 14, 15, 16}

	scalar, err := SeedSingle(closes[:6], 3)
	if err != nil {
		t.Fatalf("SeedSingle returned error: %v", err)
	}
	scalar = Update(scalar, closes[6], 3)

	series := Seed(closes, 3)
	if math.Abs(scalar-series[6]) > 1e-9 {
		t.Errorf("expected %v, got %v", series[6], scalar)
	}
}

// go test -v --run TestSeedSingleLongTail
func TestSeedSingleLongTail(t *testing.T) {
	closes := make([]float64, 300)
	for i := range closes {
		closes[i] = 100 + 5*math.Sin(float64(i)/7)
	}

	const period = 26
	scalar, err := SeedSingle(closes[:60], period)
	if err != nil {
		t.Fatalf("SeedSingle returned error: %v", err)
	}
	for _, c := range closes[60:] {
		scalar = Update(scalar, c, period)
	}

	series := Seed(closes, period)
	if !near(scalar, series[len(series)-1]) {
		t.Errorf("expected %v, got %v", series[len(series)-1], scalar)
	}
}

// go test -v --run TestSeedSingleErrors
func TestSeedSingleErrors(t *testing.T) {
	if _, err := SeedSingle([]float64{1, 2}, 3); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("expected ErrInsufficientData, got %v", err)
	}
	if _, err := SeedSingle([]float64{1, 2, 3}, 0); !errors.Is(err, ErrInvalidPeriod) {
		t.Errorf("expected ErrInvalidPeriod, got %v", err)
	}
}

// go test -v --run TestUpdate
func TestUpdate(t *testing.T) {
	if got := Update(10, 20, 3); !near(got, 15) {
		t.Errorf("expected 15, got %v", got)
	}
	if got := Update(10, math.NaN(), 3); got != 10 {
		t.Errorf("expected NaN price to keep 10, got %v", got)
	}
	if got := Update(10, 20, 0); got != 10 {
		t.Errorf("expected invalid period to keep 10, got %v", got)
	}
}

// go test -v --run TestSeedMatchesTalib
func TestSeedMatchesTalib(t *testing.T) {
	closes := make([]float64, 400)
	for i := range closes {
		closes[i] = 30000 + 250*math.Sin(float64(i)/11) + float64(i%7)
	}

	for _, period := range []int{9, 26, 200} {
		ours := Seed(closes, period)
		ref := talib.Ema(closes, period)

		for i := period - 1; i < len(closes); i++ {
			if !near(ours[i], ref[i]) {
				t.Fatalf("period %d index %d: ours=%v talib=%v", period, i, ours[i], ref[i])
			}
		}
	}
}
