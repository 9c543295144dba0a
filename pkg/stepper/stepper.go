// Package stepper implements the step output engine: a double-buffered
// consumer of the fixed-duration segments produced by the planner's
// segment preparer. One segment is loaded (executing) while the next is
// staged; when the staged slot frees, the engine calls back into the
// scheduler to request the next segment.
//
// Segment step counts arrive as fractional steps. The engine quantizes
// them to whole steps per motor and carries the rounding residual into
// the next segment, so no step is ever lost across segment boundaries.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package stepper

import (
	"math"

	"tinyg-go-migration/pkg/errors"
	"tinyg-go-migration/pkg/kinematics"
	"tinyg-go-migration/pkg/log"
	"tinyg-go-migration/pkg/metrics"
)

// Segment is one executable slice of motion: whole steps per motor over
// a wall-clock duration. A dwell segment has no steps.
type Segment struct {
	Steps        [kinematics.NumMotors]int
	Microseconds float64
	Dwell        bool
}

// Engine is the double-buffered step output engine.
type Engine struct {
	backend StepBackend
	logger  *log.Logger

	// Metrics is optional; when set the engine updates stepper metrics.
	Metrics *metrics.MotionMetrics

	loaded *Segment // executing
	staged *Segment // next up

	// residual carries the sub-step remainder per motor.
	residual [kinematics.NumMotors]float64

	// position counts net whole steps emitted per motor.
	position [kinematics.NumMotors]int64

	// onExecRequest fires whenever the staged slot frees up.
	onExecRequest func()
}

// New creates an Engine feeding the given backend.
func New(backend StepBackend, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New("stepper")
	}
	return &Engine{
		backend: backend,
		logger:  logger,
	}
}

// SetExecRequestHandler registers the callback fired when the engine is
// ready for another segment. The scheduler uses it to drive the
// planner's ExecMove.
func (e *Engine) SetExecRequestHandler(fn func()) {
	e.onExecRequest = fn
}

// PrepLine stages a movement segment. The fractional step counts are
// quantized to whole steps with the residual carried forward. Returns a
// STEPPER_BUSY error when a staged segment is already waiting.
func (e *Engine) PrepLine(steps [kinematics.NumMotors]float64, microseconds float64) error {
	if e.staged != nil {
		return errors.StepperBusyError()
	}
	if microseconds <= 0 || math.IsNaN(microseconds) {
		return errors.InternalError("segment with non-positive duration")
	}
	seg := &Segment{Microseconds: microseconds}
	for i := range steps {
		exact := steps[i] + e.residual[i]
		whole := math.Round(exact)
		e.residual[i] = exact - whole
		seg.Steps[i] = int(whole)
	}
	e.staged = seg
	e.promote()
	return nil
}

// PrepDwell stages a timed pause.
func (e *Engine) PrepDwell(microseconds float64) error {
	if e.staged != nil {
		return errors.StepperBusyError()
	}
	if microseconds <= 0 || math.IsNaN(microseconds) {
		return errors.InternalError("dwell with non-positive duration")
	}
	e.staged = &Segment{Microseconds: microseconds, Dwell: true}
	e.promote()
	return nil
}

// promote moves the staged segment into the loaded slot when it is free
// and asks for the next segment.
func (e *Engine) promote() {
	if e.loaded != nil || e.staged == nil {
		return
	}
	e.loaded = e.staged
	e.staged = nil
	if e.onExecRequest != nil {
		e.onExecRequest()
	}
}

// Advance executes the loaded segment through the backend and promotes
// the staged one. Returns false when nothing was executable.
func (e *Engine) Advance() (bool, error) {
	if e.loaded == nil {
		e.promote()
	}
	seg := e.loaded
	if seg == nil {
		return false, nil
	}
	if err := e.backend.ExecuteSegment(*seg); err != nil {
		return false, err
	}
	for i, n := range seg.Steps {
		e.position[i] += int64(n)
	}
	if e.Metrics != nil {
		e.Metrics.SegmentsExecuted.Inc(nil)
		if seg.Dwell {
			e.Metrics.DwellTime.Add(nil, uint64(seg.Microseconds))
		} else {
			for _, n := range seg.Steps {
				if n < 0 {
					n = -n
				}
				e.Metrics.StepsEmitted.Add(nil, uint64(n))
			}
		}
	}
	e.loaded = nil
	e.promote()
	return true, nil
}

// Run drains all staged and loaded segments. Convenience for tests and
// offline tracing; the reactor path calls Advance per timer tick.
func (e *Engine) Run() (int, error) {
	n := 0
	for {
		ok, err := e.Advance()
		if err != nil {
			return n, err
		}
		if !ok {
			return n, nil
		}
		n++
	}
}

// PendingDuration returns the duration in microseconds of the segment
// Advance would execute next, or 0 when the engine is idle. The
// scheduler uses it to pace segment execution against wall-clock time.
func (e *Engine) PendingDuration() float64 {
	if e.loaded == nil {
		e.promote()
	}
	if e.loaded == nil {
		return 0
	}
	return e.loaded.Microseconds
}

// Busy reports whether a segment is loaded or staged.
func (e *Engine) Busy() bool {
	return e.loaded != nil || e.staged != nil
}

// MotorPosition returns the net whole steps emitted for a motor.
func (e *Engine) MotorPosition(motor int) int64 {
	return e.position[motor]
}

// Residual returns the sub-step remainder carried for a motor. The
// magnitude never exceeds one half step.
func (e *Engine) Residual(motor int) float64 {
	return e.residual[motor]
}

// Flush discards staged work and the residual carry. Used on abort; the
// step position counters are preserved.
func (e *Engine) Flush() {
	e.loaded = nil
	e.staged = nil
	e.residual = [kinematics.NumMotors]float64{}
	e.logger.Info("stepper flushed")
}
