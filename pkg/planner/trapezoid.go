// Trapezoid shaper
//
// Given a block with candidate entry, cruise and exit velocities, assign
// the head (acceleration), body (cruise) and tail (deceleration) section
// lengths under the block's jerk constraint. The section lengths always
// sum to the block length; velocities are degraded when the block is too
// short to honor them.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package planner

import "math"

const (
	// trapezoidIterations bounds the asymmetric head/tail search.
	trapezoidIterations = 20

	// trapezoidConvergence is the relative cruise-velocity change below
	// which the asymmetric search stops.
	trapezoidConvergence = 0.001

	// trapezoidFitFactor widens the minimum-length test for the
	// single-section-plus-body cases.
	trapezoidFitFactor = 1.1
)

// calculateTrapezoid resolves the section lengths for a block. Cases are
// tested in order; the first match wins.
func (p *Planner) calculateTrapezoid(bf *Block) {
	bf.HeadLength = 0
	bf.BodyLength = 0
	bf.TailLength = 0

	// Pure body: no velocity change across the block.
	if fpEQ(bf.CruiseVelocity, bf.EntryVelocity) && fpEQ(bf.CruiseVelocity, bf.ExitVelocity) {
		bf.BodyLength = bf.Length
		return
	}

	// Full head/body/tail fit.
	head := targetLength(bf.EntryVelocity, bf.CruiseVelocity, bf)
	tail := targetLength(bf.ExitVelocity, bf.CruiseVelocity, bf)
	if head+tail <= bf.Length {
		bf.HeadLength = head
		bf.TailLength = tail
		bf.BodyLength = bf.Length - head - tail
		p.finalizeSections(bf)
		return
	}

	// Symmetric head/tail: split the block evenly and find the reduced
	// cruise velocity the half-length supports.
	if fpEQ(bf.EntryVelocity, bf.ExitVelocity) {
		bf.HeadLength = bf.Length / 2
		bf.TailLength = bf.HeadLength
		bf.CruiseVelocity = math.Min(bf.CruiseVmax,
			targetVelocity(bf.EntryVelocity, bf.HeadLength, bf))
		p.finalizeSections(bf)
		return
	}

	// Degraded: the block cannot honor both endpoint velocities. Run a
	// single section the whole length and move the weaker endpoint.
	minLength := targetLength(bf.EntryVelocity, bf.ExitVelocity, bf)
	if bf.Length < minLength-epsilon {
		if bf.EntryVelocity < bf.ExitVelocity {
			bf.HeadLength = bf.Length
			bf.ExitVelocity = targetVelocity(bf.EntryVelocity, bf.Length, bf)
			bf.CruiseVelocity = bf.ExitVelocity
		} else {
			bf.TailLength = bf.Length
			bf.EntryVelocity = targetVelocity(bf.ExitVelocity, bf.Length, bf)
			bf.CruiseVelocity = bf.EntryVelocity
		}
		p.logger.Debug("trapezoid degraded: len=%.4f min=%.4f", bf.Length, minLength)
		return
	}

	// Head-body or body-tail: barely longer than the minimum. Cruise at
	// the larger endpoint velocity with one acceleration section.
	if bf.Length < minLength*trapezoidFitFactor {
		if bf.EntryVelocity < bf.ExitVelocity {
			bf.CruiseVelocity = bf.ExitVelocity
			bf.HeadLength = minLength
			bf.BodyLength = bf.Length - minLength
		} else {
			bf.CruiseVelocity = bf.EntryVelocity
			bf.TailLength = minLength
			bf.BodyLength = bf.Length - minLength
		}
		p.finalizeSections(bf)
		return
	}

	// Asymmetric head/tail: partition the length in proportion to the
	// accel and decel demands and recompute the cruise velocity from the
	// smaller-demand side until it converges.
	cruise := bf.CruiseVelocity
	var headLen, tailLen float64
	for i := 0; i < trapezoidIterations; i++ {
		hd := targetLength(bf.EntryVelocity, cruise, bf)
		td := targetLength(bf.ExitVelocity, cruise, bf)
		headLen = bf.Length * hd / (hd + td)
		tailLen = bf.Length - headLen

		var next float64
		if hd < td {
			next = targetVelocity(bf.EntryVelocity, headLen, bf)
		} else {
			next = targetVelocity(bf.ExitVelocity, tailLen, bf)
		}
		done := cruise > 0 && math.Abs(next-cruise)/cruise < trapezoidConvergence
		cruise = next
		if done {
			break
		}
	}
	cruise = math.Max(cruise, math.Max(bf.EntryVelocity, bf.ExitVelocity))
	bf.CruiseVelocity = math.Min(cruise, bf.CruiseVmax)
	bf.HeadLength = headLen
	bf.TailLength = tailLen
	bf.BodyLength = 0
	p.finalizeSections(bf)
}

// finalizeSections absorbs sections shorter than the minimum line length
// into a neighbor: head into body, body into tail, tail into body. The
// section sum is preserved.
func (p *Planner) finalizeSections(bf *Block) {
	min := p.cfg.MinLineLength
	if bf.HeadLength > 0 && bf.HeadLength < min {
		bf.BodyLength += bf.HeadLength
		bf.HeadLength = 0
	}
	if bf.BodyLength > 0 && bf.BodyLength < min {
		bf.TailLength += bf.BodyLength
		bf.BodyLength = 0
	}
	if bf.TailLength > 0 && bf.TailLength < min {
		bf.BodyLength += bf.TailLength
		bf.TailLength = 0
	}
}
