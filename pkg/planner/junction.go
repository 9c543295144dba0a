// Junction velocity
//
// Computes the maximum speed two consecutive moves may carry through
// their shared corner, using the centripetal acceleration method
// ("Chamnit's pet algorithm"): the corner is treated as a circular arc of
// radius derived from the junction deviation, and the speed bound is the
// one that keeps centripetal acceleration at the configured limit.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package planner

import (
	"math"

	"tinyg-go-migration/pkg/kinematics"
)

// junctionUnbounded is returned for effectively straight junctions.
const junctionUnbounded = 1e7

// junctionVmax returns the corner speed limit between the unit vectors of
// two adjacent moves.
func (p *Planner) junctionVmax(a, b [kinematics.NumAxes]float64) float64 {
	costheta := 0.0
	for i := range a {
		costheta -= a[i] * b[i]
	}
	if costheta < -0.99 {
		return junctionUnbounded // straight-line continuation
	}
	if costheta > 0.99 {
		return 0 // reversal: force a full stop
	}
	delta := p.junctionDeviation(a, b)
	sintheta2 := math.Sqrt((1 - costheta) / 2)
	radius := delta * sintheta2 / (1 - sintheta2)
	return math.Sqrt(radius * p.cfg.CornerAcceleration)
}

// junctionDeviation returns the effective deviation for a corner as the
// mean of each move's root-sum-square of per-axis contributions. Axes can
// carry different corner tolerances; an axis that does not participate in
// a move contributes nothing.
func (p *Planner) junctionDeviation(a, b [kinematics.NumAxes]float64) float64 {
	aDelta := 0.0
	bDelta := 0.0
	for i := range a {
		jd := p.cfg.Axes[i].JunctionDev
		aDelta += a[i] * jd * a[i] * jd
		bDelta += b[i] * jd * b[i] * jd
	}
	return (math.Sqrt(aDelta) + math.Sqrt(bDelta)) / 2
}
