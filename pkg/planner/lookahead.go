// Look-ahead planner
//
// Recomputes the velocity plan across the replannable suffix of the queue
// after every ALine enqueue. The backward pass propagates the stopping
// constraint (braking velocity) from the newest block toward the run
// pointer; the forward pass assigns entry/cruise/exit velocities and
// reshapes each trapezoid. Blocks that come out optimally planned are
// marked non-replannable to shorten future passes.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package planner

import "math"

// planBlockList replans the queue suffix ending at bf (the newest block).
// When entryOverride is set, the earliest replannable block takes its
// entry velocity from its entry_vmax rather than its predecessor's exit
// velocity; the feedhold planner uses this after rewriting the bounds.
func (p *Planner) planBlockList(bf *Block, entryOverride bool) {
	// Backward pass: walk from bf toward the run pointer while blocks
	// are replannable, accumulating the braking velocity each block can
	// shed on top of what its successor can.
	bp := bf
	for {
		prev := p.prevBlock(bp)
		if prev == bf || prev.Kind != KindALine || !prev.Replannable {
			break
		}
		prev.BrakingVelocity = math.Min(bp.EntryVmax, bp.BrakingVelocity) + prev.DeltaVmax
		bp = prev
	}

	// Forward pass: bp is now the earliest replannable block. Assign
	// velocities in execution order and reshape each trapezoid.
	passes := 0
	for b := bp; b != bf; b = p.nextBlock(b) {
		passes++
		prev := p.prevBlock(b)
		if b == bp && entryOverride {
			b.EntryVelocity = b.EntryVmax
		} else {
			b.EntryVelocity = prev.ExitVelocity
		}
		b.CruiseVelocity = b.CruiseVmax
		next := p.nextBlock(b)
		b.ExitVelocity = min4(b.ExitVmax, next.BrakingVelocity, next.EntryVmax,
			b.EntryVelocity+b.DeltaVmax)
		p.calculateTrapezoid(b)

		// Optimally planned blocks cannot benefit from further passes.
		if b.ExitVelocity == b.ExitVmax || b.ExitVelocity == next.EntryVmax ||
			(!prev.Replannable && b.ExitVelocity == b.EntryVelocity+b.DeltaVmax) {
			b.Replannable = false
		}
	}

	// The newest block must always be able to stop.
	if bf == bp && entryOverride {
		bf.EntryVelocity = bf.EntryVmax
	} else {
		bf.EntryVelocity = p.prevBlock(bf).ExitVelocity
	}
	bf.CruiseVelocity = bf.CruiseVmax
	bf.ExitVelocity = 0
	p.calculateTrapezoid(bf)

	if p.Metrics != nil {
		p.Metrics.ReplanDepth.Observe(nil, float64(passes+1))
	}
}

// resetReplannableList reopens every queued ALine block for replanning.
// The feedhold planner calls this after rewriting velocity bounds.
func (p *Planner) resetReplannableList() {
	for i := range p.buf {
		b := &p.buf[i]
		if b.Kind != KindALine {
			continue
		}
		switch b.State {
		case BufferQueued, BufferPending, BufferRunning:
			b.Replannable = true
		}
	}
}
