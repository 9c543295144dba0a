// Segment preparer
//
// Converts the next slice of the running block into a single
// fixed-duration stepper segment. Invoked from the main-loop scheduler
// whenever the stepper engine flags that it wants another segment. Each
// invocation advances by at most one segment; the S-curve sections run as
// an explicit state machine (HEAD -> BODY -> TAIL, with RUN1/RUN2
// sub-phases in the curved sections).
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

// runtimeState names the section being executed.
type runtimeState int

const (
	rtOff runtimeState = iota
	rtHead
	rtBody
	rtTail
)

// sectionState names the sub-phase inside a section. The curved sections
// split at their midpoint: RUN1 is the concave half, RUN2 the convex half.
type sectionState int

const (
	secNew sectionState = iota
	secRun1
	secRun2
)

// sectionStatus is the outcome of one section invocation.
type sectionStatus int

const (
	secAgain    sectionStatus = iota // staged one segment; more to come
	secComplete                      // block finished
)

// runtime is the segment preparer's cursor into the running block.
type runtime struct {
	state   runtimeState
	section sectionState

	linenum int

	position      [kinematics.NumAxes]float64
	sectionTarget [kinematics.NumAxes]float64 // exact end of the current section
	finalTarget   [kinematics.NumAxes]float64 // block endpoint
	unit          [kinematics.NumAxes]float64

	headLength float64
	bodyLength float64
	tailLength float64

	entryVelocity  float64
	cruiseVelocity float64
	exitVelocity   float64

	jerk     float64
	jerkDiv2 float64

	// Section timing (minutes). The elapsed accel time starts at the
	// middle of the first segment so each segment velocity samples the
	// S-curve at its midpoint.
	moveTime             float64
	accelTime            float64
	segmentMoveTime      float64
	segmentAccelTime     float64
	elapsedAccelTime     float64
	midpointVelocity     float64
	midpointAcceleration float64

	microseconds    float64
	segments        int
	segmentCount    int
	segmentVelocity float64
}

// reset clears the runtime but keeps the machine position.
func (mr *runtime) reset() {
	pos := mr.position
	*mr = runtime{}
	mr.position = pos
}

// ExecMove prepares the next segment of queued motion. It is the
// "need next segment" handler: the scheduler calls it whenever the
// stepper engine requests more work. Returns ExecIdle when nothing is
// runnable (or when a feedhold is waiting on its replan).
func (p *Planner) ExecMove() (ExecResult, error) {
	if p.hold == HoldPlan {
		return ExecIdle, nil // hold planner runs before more segments
	}
	bf := p.getRunBuffer()
	if bf == nil {
		if p.hold == HoldDecel {
			p.enterHold() // decelerated off the end of the queue
		}
		return ExecIdle, nil
	}
	if bf.HoldPoint && p.mr.state == rtOff {
		// The hold point is the halt: refuse to start the block.
		if p.hold == HoldDecel {
			p.enterHold()
		}
		return ExecIdle, nil
	}
	switch bf.Kind {
	case KindALine:
		return p.execALine(bf)
	case KindLine:
		return p.execLine(bf)
	case KindDwell:
		return p.execDwell(bf)
	case KindStop, KindEnd:
		return p.execMarker(bf)
	default:
		p.freeRunBuffer()
		return ExecIdle, errors.InternalError("unknown block kind in exec: " + bf.Kind.String())
	}
}

// execALine runs the S-curve section state machine for the current block.
func (p *Planner) execALine(bf *Block) (ExecResult, error) {
	if p.mr.state == rtOff {
		// First touch: latch the plan into the runtime. From here on the
		// block is immutable to the look-ahead planner.
		bf.Replannable = false
		bf.runState = blockRunning
		mr := &p.mr
		mr.state = rtHead
		mr.section = secNew
		mr.linenum = bf.Linenum
		mr.unit = bf.Unit
		mr.finalTarget = bf.Target
		mr.headLength = bf.HeadLength
		mr.bodyLength = bf.BodyLength
		mr.tailLength = bf.TailLength
		mr.entryVelocity = bf.EntryVelocity
		mr.cruiseVelocity = bf.CruiseVelocity
		mr.exitVelocity = bf.ExitVelocity
		mr.jerk = bf.Jerk
		mr.jerkDiv2 = bf.Jerk / 2
	}

	var status sectionStatus
	var err error
	switch p.mr.state {
	case rtHead:
		status, err = p.execALineHead()
	case rtBody:
		status, err = p.execALineBody()
	case rtTail:
		status, err = p.execALineTail()
	default:
		return ExecIdle, errors.InternalError("aline exec in OFF state")
	}
	if err != nil {
		if errors.IsCode(err, errors.ErrStepperBusy) {
			return ExecIdle, nil // staged slot occupied; retry on next request
		}
		return ExecIdle, err
	}
	if status == secAgain {
		return ExecAgain, nil
	}

	// Block complete.
	p.mr.state = rtOff
	p.mr.section = secNew
	p.mr.segmentVelocity = p.mr.exitVelocity
	p.nextBlock(bf).Replannable = false // the next block is now committed
	if bf.runState == blockRunning {
		p.freeRunBuffer()
	}
	return ExecDone, nil
}

// execALineHead runs the concave-then-convex acceleration from entry to
// cruise velocity.
func (p *Planner) execALineHead() (sectionStatus, error) {
	mr := &p.mr
	if mr.section == secNew {
		if fpZero(mr.headLength) {
			mr.state = rtBody
			return p.execALineBody()
		}
		dv := mr.cruiseVelocity - mr.entryVelocity
		if dv <= 0 {
			// Degenerate head; treat it as cruise.
			mr.bodyLength += mr.headLength
			mr.headLength = 0
			mr.state = rtBody
			return p.execALineBody()
		}
		mr.midpointVelocity = (mr.entryVelocity + mr.cruiseVelocity) / 2
		mr.moveTime = mr.headLength / mr.midpointVelocity
		mr.accelTime = 2 * math.Sqrt(dv/mr.jerk)
		mr.midpointAcceleration = 2 * dv / mr.accelTime
		p.initSection(mr.headLength, mr.moveTime, mr.accelTime, true)
		mr.section = secRun1
	}
	if mr.section == secRun1 {
		mr.segmentVelocity = mr.entryVelocity + mr.elapsedAccelTime*mr.elapsedAccelTime*mr.jerkDiv2
		done, err := p.execALineSegment(false)
		if err != nil {
			return 0, err
		}
		mr.elapsedAccelTime += mr.segmentAccelTime
		if done {
			mr.segmentCount = mr.segments
			mr.elapsedAccelTime = mr.segmentAccelTime / 2
			mr.section = secRun2
		}
		return secAgain, nil
	}
	// secRun2: convex half
	t := mr.elapsedAccelTime
	mr.segmentVelocity = mr.midpointVelocity + t*mr.midpointAcceleration - t*t*mr.jerkDiv2
	done, err := p.execALineSegment(true)
	if err != nil {
		return 0, err
	}
	mr.elapsedAccelTime += mr.segmentAccelTime
	if !done {
		return secAgain, nil
	}
	if fpZero(mr.bodyLength) && fpZero(mr.tailLength) {
		return secComplete, nil
	}
	mr.state = rtBody
	mr.section = secNew
	return secAgain, nil
}

// execALineBody runs the constant-velocity cruise.
func (p *Planner) execALineBody() (sectionStatus, error) {
	mr := &p.mr
	if mr.section == secNew {
		if fpZero(mr.bodyLength) {
			mr.state = rtTail
			return p.execALineTail()
		}
		mr.moveTime = mr.bodyLength / mr.cruiseVelocity
		p.initSection(mr.bodyLength, mr.moveTime, 0, false)
		mr.segmentVelocity = mr.cruiseVelocity
		mr.section = secRun1
	}
	done, err := p.execALineSegment(true)
	if err != nil {
		return 0, err
	}
	if !done {
		return secAgain, nil
	}
	if fpZero(mr.tailLength) {
		return secComplete, nil
	}
	mr.state = rtTail
	mr.section = secNew
	return secAgain, nil
}

// execALineTail runs the convex-then-concave deceleration from cruise to
// exit velocity, mirroring the head.
func (p *Planner) execALineTail() (sectionStatus, error) {
	mr := &p.mr
	if mr.section == secNew {
		if fpZero(mr.tailLength) {
			return secComplete, nil
		}
		dv := mr.cruiseVelocity - mr.exitVelocity
		if dv <= 0 {
			// Degenerate tail; emit it as cruise.
			mr.bodyLength = mr.tailLength
			mr.tailLength = 0
			mr.state = rtBody
			return p.execALineBody()
		}
		mr.midpointVelocity = (mr.cruiseVelocity + mr.exitVelocity) / 2
		mr.moveTime = mr.tailLength / mr.midpointVelocity
		mr.accelTime = 2 * math.Sqrt(dv/mr.jerk)
		mr.midpointAcceleration = 2 * dv / mr.accelTime
		p.initSection(mr.tailLength, mr.moveTime, mr.accelTime, true)
		mr.sectionTarget = mr.finalTarget // land exactly on the endpoint
		mr.section = secRun1
	}
	if mr.section == secRun1 {
		t := mr.elapsedAccelTime
		mr.segmentVelocity = mr.cruiseVelocity - t*t*mr.jerkDiv2
		done, err := p.execALineSegment(false)
		if err != nil {
			return 0, err
		}
		mr.elapsedAccelTime += mr.segmentAccelTime
		if done {
			mr.segmentCount = mr.segments
			mr.elapsedAccelTime = mr.segmentAccelTime / 2
			mr.section = secRun2
		}
		return secAgain, nil
	}
	// secRun2: concave half down to exit velocity
	t := mr.elapsedAccelTime
	mr.segmentVelocity = mr.midpointVelocity - t*mr.midpointAcceleration + t*t*mr.jerkDiv2
	done, err := p.execALineSegment(true)
	if err != nil {
		return 0, err
	}
	mr.elapsedAccelTime += mr.segmentAccelTime
	if !done {
		return secAgain, nil
	}
	return secComplete, nil
}

// initSection sets up segment counts and timing for one section. Curved
// sections are split into two halves of equal segment count; the segment
// count covers one half. The section target is the exact endpoint so the
// final segment absorbs integration error.
func (p *Planner) initSection(length, moveTime, accelTime float64, curved bool) {
	mr := &p.mr
	div := p.cfg.NomSegmentUsec
	if curved {
		div *= 2
	}
	segments := math.Ceil(uSec(moveTime) / div)
	if segments < 1 {
		segments = 1
	}
	// Respect the minimum segment duration for very short sections.
	halves := 1.0
	if curved {
		halves = 2
	}
	for segments > 1 && uSec(moveTime)/(halves*segments) < p.cfg.MinSegmentUsec {
		segments--
	}
	mr.segments = int(segments)
	mr.segmentCount = int(segments)
	mr.segmentMoveTime = moveTime / (halves * segments)
	mr.microseconds = uSec(mr.segmentMoveTime)
	if accelTime > 0 {
		mr.segmentAccelTime = accelTime / (halves * segments)
		mr.elapsedAccelTime = mr.segmentAccelTime / 2
	}

	remaining := length
	switch mr.state {
	case rtHead:
		remaining = mr.bodyLength + mr.tailLength
	case rtBody:
		remaining = mr.tailLength
	case rtTail:
		remaining = 0
	}
	if fpZero(remaining) {
		mr.sectionTarget = mr.finalTarget
	} else {
		for i := range mr.sectionTarget {
			mr.sectionTarget[i] = mr.position[i] + mr.unit[i]*length
		}
	}
}

// execALineSegment advances position by one segment's worth of travel and
// stages it with the stepper engine. Returns true when the section's
// segment count is exhausted. The snap flag lands the final segment on
// the exact section target.
func (p *Planner) execALineSegment(snap bool) (bool, error) {
	mr := &p.mr
	var target [kinematics.NumAxes]float64
	if snap && mr.segmentCount == 1 {
		target = mr.sectionTarget
	} else {
		for i := range target {
			target[i] = mr.position[i] + mr.unit[i]*mr.segmentVelocity*mr.segmentMoveTime
		}
	}
	var travel [kinematics.NumAxes]float64
	for i := range travel {
		travel[i] = target[i] - mr.position[i]
	}
	steps := p.kin.Inverse(travel)
	if err := p.sink.PrepLine(steps, mr.microseconds); err != nil {
		return false, err
	}
	mr.position = target
	mr.segmentCount--
	if p.hold == HoldSync {
		// Segment boundary reached with a hold pending: hand over to the
		// hold planner.
		p.hold = HoldPlan
	}
	if p.Metrics != nil {
		p.Metrics.SegmentsPrepared.Inc(nil)
	}
	return mr.segmentCount == 0, nil
}

// execLine emits a simple timed line as a single constant-rate segment.
func (p *Planner) execLine(bf *Block) (ExecResult, error) {
	minutes := bf.Length / bf.CruiseVmax
	var travel [kinematics.NumAxes]float64
	for i := range travel {
		travel[i] = bf.Target[i] - p.mr.position[i]
	}
	steps := p.kin.Inverse(travel)
	if err := p.sink.PrepLine(steps, uSec(minutes)); err != nil {
		if errors.IsCode(err, errors.ErrStepperBusy) {
			return ExecIdle, nil
		}
		return ExecIdle, err
	}
	p.mr.position = bf.Target
	p.mr.linenum = bf.Linenum
	p.mr.segmentVelocity = bf.CruiseVmax
	p.freeRunBuffer()
	return ExecDone, nil
}

// execDwell stages a timed pause with the stepper engine.
func (p *Planner) execDwell(bf *Block) (ExecResult, error) {
	if err := p.sink.PrepDwell(bf.DwellSeconds * 1e6); err != nil {
		if errors.IsCode(err, errors.ErrStepperBusy) {
			return ExecIdle, nil
		}
		return ExecIdle, err
	}
	p.mr.segmentVelocity = 0
	p.freeRunBuffer()
	return ExecDone, nil
}

// execMarker handles program stop and end blocks.
func (p *Planner) execMarker(bf *Block) (ExecResult, error) {
	kind := bf.Kind
	p.mr.segmentVelocity = 0
	p.freeRunBuffer()
	switch kind {
	case KindStop:
		if p.OnStop != nil {
			p.OnStop()
		}
	case KindEnd:
		if p.OnEnd != nil {
			p.OnEnd()
		}
	}
	return ExecDone, nil
}
