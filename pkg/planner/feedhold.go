// Feedhold controller
//
// A feedhold decelerates queued motion to a controlled stop on the
// planned path, leaving the queue intact so motion can resume exactly
// where it halted. The hold advances through four phases:
//
//	SYNC  - wait for the segment preparer to reach a segment boundary
//	PLAN  - rewrite the queue so it decelerates to zero at a hold point
//	DECEL - execute the braking plan
//	HOLD  - halted; waiting for end-hold or flush
//
// The hold point is marked on the first block that must not run; the
// executor refuses to start any hold-point block, so resuming is just a
// matter of clearing the marks and replanning from standstill.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package planner

import (
	"math"

	"tinyg-go-migration/pkg/errors"
)

// HoldState tracks feedhold progress.
type HoldState int

const (
	HoldOff HoldState = iota
	HoldSync
	HoldPlan
	HoldDecel
	HoldHold
)

func (h HoldState) String() string {
	switch h {
	case HoldOff:
		return "OFF"
	case HoldSync:
		return "SYNC"
	case HoldPlan:
		return "PLAN"
	case HoldDecel:
		return "DECEL"
	case HoldHold:
		return "HOLD"
	}
	return "INVALID"
}

// Feedhold requests a controlled stop. Idempotent while a hold is in
// progress. With no motion queued the machine is already stopped and the
// hold completes immediately.
func (p *Planner) Feedhold() {
	if p.hold != HoldOff {
		return
	}
	if !p.IsBusy() {
		p.enterHold()
		return
	}
	if p.mr.state == rtOff {
		// Between blocks is a segment boundary; plan right away.
		p.hold = HoldPlan
	} else {
		p.hold = HoldSync
	}
	p.logger.Info("feedhold requested: state=%s line=%d", p.hold.String(), p.mr.linenum)
}

// PlanHoldCallback rewrites the queue into a braking plan. Runs from the
// scheduler when the hold reaches the PLAN phase; a single invocation
// completes the plan and advances the hold to DECEL.
func (p *Planner) PlanHoldCallback() (ExecResult, error) {
	if p.hold != HoldPlan {
		return ExecIdle, nil
	}
	bf := p.getRunBuffer()
	if bf == nil {
		p.enterHold()
		return ExecDone, nil
	}

	if p.mr.state == rtOff {
		// Nothing mid-flight: hold before the next block starts.
		p.markHoldPoint(bf)
		p.replanForHold()
		p.hold = HoldDecel
		return ExecDone, nil
	}

	// Mid-block. Work out whether the running block has room to brake to
	// zero from the current velocity.
	available := vectorDistance(bf.Target, p.mr.position)
	brakingVelocity := p.mr.segmentVelocity
	brakingLength := targetLength(brakingVelocity, 0, bf)

	mr := &p.mr
	mr.state = rtTail
	mr.section = secNew
	mr.headLength = 0
	mr.bodyLength = 0
	mr.cruiseVelocity = brakingVelocity
	mr.entryVelocity = brakingVelocity

	if brakingLength <= available {
		// Case A: the running block absorbs the whole stop. The runtime
		// becomes a pure braking tail ending at the hold point, and the
		// run buffer is rewritten as the leftover, to be re-executed from
		// standstill on resume.
		mr.exitVelocity = 0
		mr.tailLength = brakingLength
		for i := range mr.finalTarget {
			mr.finalTarget[i] = mr.position[i] + mr.unit[i]*brakingLength
		}
		leftover := available - brakingLength
		if leftover >= p.cfg.MinLineLength {
			bf.Length = leftover
			bf.DeltaVmax = targetVelocity(0, leftover, bf)
			bf.ExitVmax = math.Min(bf.CruiseVmax, bf.DeltaVmax)
			bf.BrakingVelocity = bf.DeltaVmax
			bf.runState = blockNew // re-run this buffer after the hold
			p.markHoldPoint(bf)
		} else {
			// Leftover too short to keep: brake over the full block and
			// hold at its boundary instead.
			mr.tailLength = available
			mr.finalTarget = bf.Target
			p.markNextHoldPoint(bf)
		}
	} else {
		// Case B: the stop spills past the running block. Decelerate to
		// the block boundary and cascade the remaining braking through
		// the queued blocks.
		shed := targetVelocity(0, available, bf)
		mr.exitVelocity = math.Max(0, brakingVelocity-shed)
		mr.tailLength = available
		mr.finalTarget = bf.Target
		p.cascadeBraking(bf, mr.exitVelocity)
	}

	p.replanForHold()
	p.hold = HoldDecel
	p.logger.Debug("feedhold planned: v=%.1f braking=%.3f available=%.3f",
		brakingVelocity, brakingLength, available)
	return ExecDone, nil
}

// cascadeBraking walks the committed blocks after bf, capping entry
// velocities so each block continues the deceleration, until a block has
// room to reach zero. That block is split at the stopping point when a
// spare ring slot allows; otherwise the stop lands on a block boundary.
func (p *Planner) cascadeBraking(bf *Block, velocity float64) {
	v := velocity
	for b := p.nextBlock(bf); b.State == BufferQueued || b.State == BufferPending; b = p.nextBlock(b) {
		if b.Kind != KindALine {
			// Dwells and markers do not run during a hold.
			b.HoldPoint = true
			return
		}
		b.EntryVmax = math.Min(b.EntryVmax, v)
		brakingLength := targetLength(v, 0, b)
		if brakingLength > b.Length {
			v = math.Max(0, v-targetVelocity(0, b.Length, b))
			b.ExitVmax = math.Min(b.ExitVmax, v)
			continue
		}
		leftover := b.Length - brakingLength
		if leftover >= p.cfg.MinLineLength {
			if nb := p.insertAfter(b); nb != nil {
				nb.Kind = KindALine
				nb.Linenum = b.Linenum
				nb.Target = b.Target
				nb.Unit = b.Unit
				nb.Jerk = b.Jerk
				nb.RecipJerk = b.RecipJerk
				nb.CubertJerk = b.CubertJerk
				nb.CruiseVmax = b.CruiseVmax
				nb.Length = leftover
				nb.DeltaVmax = targetVelocity(0, leftover, nb)
				nb.ExitVmax = math.Min(nb.CruiseVmax, nb.DeltaVmax)
				nb.BrakingVelocity = nb.DeltaVmax
				p.markHoldPoint(nb)

				b.Length = brakingLength
				for i := range b.Target {
					b.Target[i] -= b.Unit[i] * leftover
				}
				b.ExitVmax = 0
				b.DeltaVmax = targetVelocity(0, brakingLength, b)
				return
			}
		}
		// No room (or nothing) to split off: stop at this block's end.
		b.ExitVmax = 0
		p.markNextHoldPoint(b)
		return
	}
}

// markHoldPoint marks b as the first block that must not execute.
func (p *Planner) markHoldPoint(b *Block) {
	b.HoldPoint = true
	if b.Kind == KindALine {
		b.EntryVmax = 0
	}
}

// markNextHoldPoint marks the committed block after b, if any.
func (p *Planner) markNextHoldPoint(b *Block) {
	nb := p.nextBlock(b)
	switch nb.State {
	case BufferQueued, BufferPending:
		p.markHoldPoint(nb)
	}
}

// replanForHold reopens the queue and replans it against the rewritten
// velocity bounds.
func (p *Planner) replanForHold() {
	last := p.lastQueuedBlock()
	if last == nil || last.Kind != KindALine {
		return
	}
	p.resetReplannableList()
	p.planBlockList(last, true)
}

// EndHold releases a completed feedhold: hold points are cleared and the
// queue is replanned from standstill. Fails unless the machine has
// actually stopped.
func (p *Planner) EndHold() error {
	if p.hold == HoldOff {
		return nil
	}
	if p.hold != HoldHold {
		return errors.MachineStateError("end hold", p.hold.String())
	}
	p.hold = HoldOff
	for i := range p.buf {
		p.buf[i].HoldPoint = false
	}
	if last := p.lastQueuedBlock(); last != nil && last.Kind == KindALine {
		p.resetReplannableList()
		p.planBlockList(last, true)
	}
	p.logger.Info("feedhold released")
	return nil
}

// enterHold finishes the hold: velocity is zero and the machine is
// stationary at the hold point.
func (p *Planner) enterHold() {
	if p.hold == HoldHold {
		return
	}
	p.hold = HoldHold
	p.mr.segmentVelocity = 0
	if p.Metrics != nil {
		p.Metrics.Feedholds.Inc(nil)
	}
	p.logger.Info("feedhold complete at line %d", p.mr.linenum)
	if p.OnHold != nil {
		p.OnHold()
	}
}

// insertAfter opens a fresh QUEUED slot immediately after b by shifting
// the newer committed blocks up one ring slot. Returns nil when the ring
// is full. Used only by the feedhold planner to split a block at the
// stopping point.
func (p *Planner) insertAfter(b *Block) *Block {
	nb := p.getWriteBuffer()
	if nb == nil {
		return nil
	}
	for i := nb.index; i != p.nextIndex(b.index); i = p.prevIndex(i) {
		src := &p.buf[p.prevIndex(i)]
		dst := &p.buf[i]
		idx := dst.index
		*dst = *src
		dst.index = idx
	}
	slot := &p.buf[p.nextIndex(b.index)]
	idx := slot.index
	*slot = Block{index: idx}
	slot.State = BufferQueued
	p.q = p.w
	return slot
}
