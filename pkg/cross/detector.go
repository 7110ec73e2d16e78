// Package cross classifies moving-average crossings between two adjacent
// closed candles.
package cross

import (
	"fmt"
	"math"
	"strings"
)

// Direction of a crossover.
type Direction string

const (
	Golden Direction = "golden" // short EMA rises through the long EMA
	Dead   Direction = "dead"   // short EMA falls through the long EMA
	Both   Direction = "both"   // scan for either direction
)

// ParseDirection validates a scan direction.
func ParseDirection(s string) (Direction, error) {
	switch d := Direction(strings.ToLower(strings.TrimSpace(s))); d {
	case Golden, Dead, Both:
		return d, nil
	default:
		return "", fmt.Errorf("invalid direction: %q", s)
	}
}

// Result holds the directions a prev/last pair satisfied.
type Result struct {
	Golden bool
	Dead   bool
}

// Any reports whether either direction fired.
func (r Result) Any() bool { return r.Golden || r.Dead }

// Directions lists fired directions, golden first.
func (r Result) Directions() []Direction {
	var out []Direction
	if r.Golden {
		out = append(out, Golden)
	}
	if r.Dead {
		out = append(out, Dead)
	}
	return out
}

// Detect checks the requested direction(s) between two adjacent points.
// Equality on the prev side still counts as "not yet crossed", while the last
// side needs a strict inequality, so a flat touch never fires.
func Detect(dir Direction, prevShort, prevLong, lastShort, lastLong float64) Result {
	if !finite(prevShort) || !finite(prevLong) || !finite(lastShort) || !finite(lastLong) {
		return Result{}
	}

	var r Result
	if dir == Golden || dir == Both {
		r.Golden = prevShort <= prevLong && lastShort > lastLong
	}
	if dir == Dead || dir == Both {
		r.Dead = prevShort >= prevLong && lastShort < lastLong
	}
	return r
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
