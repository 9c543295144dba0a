// Shared planner math
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package planner

import (
	"math"

	"tinyg-go-migration/pkg/kinematics"
)

// epsilon is the positional and velocity comparison tolerance.
const epsilon = 1e-4

func fpEQ(a, b float64) bool { return math.Abs(a-b) < epsilon }
func fpZero(a float64) bool  { return math.Abs(a) < epsilon }

// uSec converts a duration in minutes to microseconds.
func uSec(minutes float64) float64 { return minutes * 60e6 }

// targetLength returns the minimum length needed to change between two
// velocities at this block's bounded jerk:
//
//	L = |v1-v0| * sqrt(|v1-v0| / jerk)
func targetLength(v0, v1 float64, bf *Block) float64 {
	dv := math.Abs(v1 - v0)
	return dv * math.Sqrt(dv*bf.RecipJerk)
}

// targetVelocity returns the velocity reachable from v over length under
// this block's jerk:
//
//	V = L^(2/3) * jerk^(1/3) + v
func targetVelocity(v, length float64, bf *Block) float64 {
	return math.Cbrt(length*length)*bf.CubertJerk + v
}

// vectorDistance returns the Euclidean norm of (a - b) across all axes.
func vectorDistance(a, b [kinematics.NumAxes]float64) float64 {
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// vectorFinite reports whether every element of v is finite.
func vectorFinite(v [kinematics.NumAxes]float64) bool {
	for _, x := range v {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

func min4(a, b, c, d float64) float64 {
	return math.Min(math.Min(a, b), math.Min(c, d))
}
