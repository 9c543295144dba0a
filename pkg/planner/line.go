// Move enqueue entry points
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

// ALine enqueues a jerk-limited line to the given machine-coordinate
// target, to be traversed in the given number of minutes. Returns a
// ZERO_LENGTH error (treat as success) for moves below the minimum
// length, or BUFFER_FULL when the queue must back-pressure.
func (p *Planner) ALine(target [kinematics.NumAxes]float64, minutes float64, linenum int) error {
	if !vectorFinite(target) || math.IsNaN(minutes) || math.IsInf(minutes, 0) {
		return errors.FloatingPointError("aline target").SetLinenum(linenum)
	}
	length := vectorDistance(target, p.position)
	if length < p.cfg.MinLineLength || minutes <= 0 {
		return errors.ZeroLengthError().SetLinenum(linenum)
	}
	bf := p.getWriteBuffer()
	if bf == nil {
		return errors.BufferFullError().SetLinenum(linenum)
	}

	bf.Linenum = linenum
	bf.Target = target
	bf.Length = length

	// Compute the unit vector and the composite jerk in one pass. The
	// block jerk is the root-sum-square of each axis's jerk limit scaled
	// by its share of the move.
	jerkSquared := 0.0
	for i := range target {
		d := target[i] - p.position[i]
		if math.Abs(d) < epsilon {
			continue
		}
		u := d / length
		bf.Unit[i] = u
		jerkSquared += u * p.cfg.Axes[i].JerkMax * u * p.cfg.Axes[i].JerkMax
	}
	bf.Jerk = math.Sqrt(jerkSquared)
	if !(bf.Jerk > 0) || math.IsInf(bf.Jerk, 0) {
		p.ungetWriteBuffer()
		return errors.FloatingPointError("block jerk").SetLinenum(linenum)
	}
	bf.RecipJerk = 1 / bf.Jerk
	bf.CubertJerk = math.Cbrt(bf.Jerk)

	// Planning bounds
	bf.CruiseVmax = length / minutes
	jv := junctionUnbounded
	if p.lastUnit != ([kinematics.NumAxes]float64{}) {
		jv = p.junctionVmax(p.lastUnit, bf.Unit)
	}
	bf.EntryVmax = math.Min(bf.CruiseVmax, jv)
	if p.pathControl == PathExactStop {
		bf.EntryVmax = 0
	}
	bf.DeltaVmax = targetVelocity(0, length, bf)
	bf.ExitVmax = math.Min(bf.CruiseVmax, bf.EntryVmax+bf.DeltaVmax)
	bf.BrakingVelocity = bf.DeltaVmax
	bf.Replannable = true

	p.lastUnit = bf.Unit
	p.position = target
	p.queueWriteBuffer(KindALine)
	p.planBlockList(bf, false)

	if p.Metrics != nil {
		p.Metrics.BlocksPlanned.Inc(nil)
		p.Metrics.QueueDepth.Set(nil, float64(p.queuedCount()))
	}
	return nil
}

// Line enqueues a simple timed line with no acceleration management. The
// whole block is emitted as a single stepper segment at constant rate.
func (p *Planner) Line(target [kinematics.NumAxes]float64, minutes float64, linenum int) error {
	if !vectorFinite(target) || math.IsNaN(minutes) || math.IsInf(minutes, 0) {
		return errors.FloatingPointError("line target").SetLinenum(linenum)
	}
	length := vectorDistance(target, p.position)
	if length < p.cfg.MinLineLength || minutes <= 0 {
		return errors.ZeroLengthError().SetLinenum(linenum)
	}
	bf := p.getWriteBuffer()
	if bf == nil {
		return errors.BufferFullError().SetLinenum(linenum)
	}
	bf.Linenum = linenum
	bf.Target = target
	bf.Length = length
	bf.CruiseVmax = length / minutes
	bf.CruiseVelocity = bf.CruiseVmax
	for i := range target {
		d := target[i] - p.position[i]
		if math.Abs(d) >= epsilon {
			bf.Unit[i] = d / length
		}
	}
	p.lastUnit = bf.Unit
	p.position = target
	p.queueWriteBuffer(KindLine)
	return nil
}

// Dwell enqueues a timed pause.
func (p *Planner) Dwell(seconds float64) error {
	if seconds <= 0 || math.IsNaN(seconds) {
		return errors.ZeroLengthError()
	}
	bf := p.getWriteBuffer()
	if bf == nil {
		return errors.BufferFullError()
	}
	bf.DwellSeconds = seconds
	bf.Target = p.position
	p.queueWriteBuffer(KindDwell)
	return nil
}

// QueueProgramStop enqueues a program stop marker (M0).
func (p *Planner) QueueProgramStop() error {
	return p.queueMarker(KindStop)
}

// QueueProgramEnd enqueues a program end marker (M2/M30).
func (p *Planner) QueueProgramEnd() error {
	return p.queueMarker(KindEnd)
}

func (p *Planner) queueMarker(kind MoveKind) error {
	bf := p.getWriteBuffer()
	if bf == nil {
		return errors.BufferFullError()
	}
	bf.Target = p.position
	p.queueWriteBuffer(kind)
	return nil
}
