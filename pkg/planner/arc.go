// Arc interpolator
//
// Decomposes circular and helical arcs into short chord lines fed through
// ALine. The decomposition is a cooperative continuation: Arc captures the
// geometry, and ArcCallback emits as many chords as the queue will take
// each time the scheduler runs it. Chords carry the arc's line number so
// status reports stay attributable.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package planner

import (
	"math"

	"tinyg-go-migration/pkg/errors"
	"tinyg-go-migration/pkg/kinematics"
)

// Plane selects the circular plane of an arc. The third axis of the
// plane is the helical (linear) axis.
type Plane int

const (
	PlaneXY Plane = iota // G17
	PlaneXZ              // G18
	PlaneYZ              // G19
)

// axes returns the two circular axis indices and the linear axis index.
func (pl Plane) axes() (axis0, axis1, linear int) {
	switch pl {
	case PlaneXZ:
		return kinematics.AxisX, kinematics.AxisZ, kinematics.AxisY
	case PlaneYZ:
		return kinematics.AxisY, kinematics.AxisZ, kinematics.AxisX
	default:
		return kinematics.AxisX, kinematics.AxisY, kinematics.AxisZ
	}
}

func (pl Plane) String() string {
	switch pl {
	case PlaneXZ:
		return "XZ"
	case PlaneYZ:
		return "YZ"
	default:
		return "XY"
	}
}

// fullCircleEpsilon disambiguates a zero-travel arc from a full circle.
const fullCircleEpsilon = 5e-7

// arcRadiusTolerance is how far the endpoint radius may differ from the
// start radius before the arc is rejected as inconsistent.
const arcRadiusTolerance = 0.5

type arcState int

const (
	arcOff arcState = iota
	arcRunning
)

// arcRuntime is the persistent state of the chord continuation.
type arcRuntime struct {
	state   arcState
	linenum int

	position [kinematics.NumAxes]float64 // end of the last emitted chord
	target   [kinematics.NumAxes]float64

	axis0      int
	axis1      int
	axisLinear int
	center0    float64
	center1    float64
	radius     float64
	theta      float64 // angle of the last emitted chord endpoint

	segments       int
	segmentCount   int
	segmentTheta   float64
	segmentLinear  float64
	segmentMinutes float64
}

// Arc starts a circular or helical move to target, turning about the
// center given by the plane offsets (I/J/K relative to the current
// position) at the given path feed rate in units/min. Chord emission
// begins immediately; call ArcCallback until it stops returning ExecAgain
// to finish feeding the queue.
func (p *Planner) Arc(target [kinematics.NumAxes]float64, offset [2]float64,
	plane Plane, clockwise bool, feedrate float64, linenum int) error {

	if p.arc.state != arcOff {
		return errors.ArcSpecError("arc already in progress").SetLinenum(linenum)
	}
	if !vectorFinite(target) || math.IsNaN(feedrate) || feedrate <= 0 {
		return errors.FloatingPointError("arc target").SetLinenum(linenum)
	}

	axis0, axis1, axisLinear := plane.axes()
	center0 := p.position[axis0] + offset[0]
	center1 := p.position[axis1] + offset[1]
	r0 := p.position[axis0] - center0
	r1 := p.position[axis1] - center1
	radius := math.Hypot(r0, r1)
	if radius < epsilon {
		return errors.ArcSpecError("zero radius").SetLinenum(linenum)
	}
	rt0 := target[axis0] - center0
	rt1 := target[axis1] - center1
	if math.Abs(math.Hypot(rt0, rt1)-radius) > arcRadiusTolerance {
		return errors.ArcSpecError("endpoint does not lie on the arc").SetLinenum(linenum)
	}

	// Signed angular travel; CCW positive. An exactly coincident endpoint
	// means a full circle in the commanded direction.
	angularTravel := math.Atan2(r0*rt1-r1*rt0, r0*rt0+r1*rt1)
	if clockwise {
		if angularTravel >= -fullCircleEpsilon {
			angularTravel -= 2 * math.Pi
		}
	} else {
		if angularTravel <= fullCircleEpsilon {
			angularTravel += 2 * math.Pi
		}
	}
	linearTravel := target[axisLinear] - p.position[axisLinear]
	length := math.Hypot(angularTravel*radius, linearTravel)
	if length < p.cfg.MinLineLength {
		return errors.ZeroLengthError().SetLinenum(linenum)
	}
	minutes := length / feedrate

	// Chord count: MinArcSegmentLength and NomSegmentUsec are both lower
	// bounds on a chord, so the coarser of the two wins and the count is
	// rounded down. Every chord is at least the minimum length and lasts
	// at least the nominal segment time.
	byLength := length / p.cfg.MinArcSegmentLength
	byTime := uSec(minutes) / p.cfg.NomSegmentUsec
	segments := math.Floor(math.Min(byLength, byTime))
	if segments < 1 {
		segments = 1
	}

	a := &p.arc
	a.state = arcRunning
	a.linenum = linenum
	a.position = p.position
	a.target = target
	a.axis0 = axis0
	a.axis1 = axis1
	a.axisLinear = axisLinear
	a.center0 = center0
	a.center1 = center1
	a.radius = radius
	a.theta = math.Atan2(r1, r0)
	a.segments = int(segments)
	a.segmentCount = int(segments)
	a.segmentTheta = angularTravel / segments
	a.segmentLinear = linearTravel / segments
	a.segmentMinutes = minutes / segments

	if p.Metrics != nil {
		p.Metrics.ArcsStarted.Inc(nil)
	}
	_, err := p.ArcCallback()
	return err
}

// ArcCallback emits queued chords for the arc in progress. Returns
// ExecAgain while chords remain (call again once the queue drains),
// ExecDone when the arc has been fully fed, and ExecIdle when no arc is
// running.
func (p *Planner) ArcCallback() (ExecResult, error) {
	a := &p.arc
	if a.state != arcRunning {
		return ExecIdle, nil
	}
	for a.segmentCount > 0 {
		if !p.TestWriteBuffer() {
			return ExecAgain, nil // queue full; resume later
		}
		var chord [kinematics.NumAxes]float64
		if a.segmentCount == 1 {
			chord = a.target // land exactly on the endpoint
		} else {
			chord = a.position
			a.theta += a.segmentTheta
			chord[a.axis0] = a.center0 + a.radius*math.Cos(a.theta)
			chord[a.axis1] = a.center1 + a.radius*math.Sin(a.theta)
			chord[a.axisLinear] += a.segmentLinear
		}
		err := p.ALine(chord, a.segmentMinutes, a.linenum)
		switch {
		case err == nil:
		case errors.IsCode(err, errors.ErrBufferFull):
			return ExecAgain, nil
		case errors.IsCode(err, errors.ErrZeroLength):
			// Degenerate chord; fold it into the next one.
		default:
			a.state = arcOff
			return ExecIdle, err
		}
		a.position = chord
		a.segmentCount--
	}
	a.state = arcOff
	return ExecDone, nil
}

// ArcRadiusOffsets converts a radius-format arc (G2/G3 with R) to center
// offsets. d0 and d1 are the plane deltas from the current position to
// the target. A negative radius selects the longer of the two candidate
// arcs. Fails when the endpoints are farther apart than the diameter.
func ArcRadiusOffsets(d0, d1, radius float64, clockwise bool) ([2]float64, *errors.MotionError) {
	if fpZero(d0) && fpZero(d1) {
		return [2]float64{}, errors.ArcSpecError("radius arc with coincident endpoints")
	}
	h := 4*radius*radius - d0*d0 - d1*d1
	if h < 0 {
		return [2]float64{}, errors.ArcSpecError("radius arc: endpoints farther apart than diameter")
	}
	hx2divd := -math.Sqrt(h) / math.Hypot(d0, d1)
	if !clockwise {
		hx2divd = -hx2divd
	}
	if radius < 0 {
		hx2divd = -hx2divd
	}
	return [2]float64{
		(d0 - d1*hx2divd) / 2,
		(d1 + d0*hx2divd) / 2,
	}, nil
}
