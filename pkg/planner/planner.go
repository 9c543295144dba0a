// Package planner implements the motion planning and execution pipeline:
// a look-ahead queue of jerk-limited moves, the trapezoid shaper that
// assigns S-curve section lengths, the segment preparer that slices the
// running block into fixed-duration stepper segments, the arc
// interpolator, and the feedhold controller.
//
// All planner methods must be called from the reactor goroutine. The only
// concession to concurrency is the contract with the stepper engine: the
// planner hands segments to a SegmentSink and is re-invoked through the
// engine's exec-request callback.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package planner

import (
	"tinyg-go-migration/pkg/errors"
	"tinyg-go-migration/pkg/kinematics"
	"tinyg-go-migration/pkg/log"
	"tinyg-go-migration/pkg/metrics"
)

// AxisMode controls how an axis participates in motion.
type AxisMode int

const (
	AxisDisabled AxisMode = iota
	AxisStandard
	AxisInhibited // axis accepts targets but produces no motion
	AxisRadius    // rotary axis; linear input is arc length on a circumference
	AxisSlaved    // rotary axis slaved to the linear path
)

// PathControl selects the G61/G61.1/G64 corner behavior. Continuous is
// the zero value: a fresh planner blends corners until told otherwise.
type PathControl int

const (
	PathContinuous PathControl = iota
	PathExactPath
	PathExactStop
)

// AxisConfig holds the per-axis planning limits.
type AxisConfig struct {
	Mode        AxisMode
	VelocityMax float64 // rapid traverse bound, units/min
	FeedrateMax float64 // feed (G1) bound, units/min
	TravelMax   float64 // travel envelope
	JerkMax     float64 // units/min^3
	JunctionDev float64 // per-axis corner tolerance contribution
	Radius      float64 // effective radius for AxisRadius mode
}

// Config holds the planner tuning parameters.
type Config struct {
	Axes [kinematics.NumAxes]AxisConfig

	// CornerAcceleration is the centripetal acceleration bound used by
	// the junction velocity computation (units/min^2).
	CornerAcceleration float64

	// QueueSize is the ring capacity in blocks.
	QueueSize int

	// MinLineLength is the shortest move the planner will accept (mm).
	// Shorter moves return ZeroLength and are absorbed.
	MinLineLength float64

	// NomSegmentUsec is the target stepper segment duration.
	NomSegmentUsec float64

	// MinSegmentUsec is the shortest segment the preparer will emit.
	MinSegmentUsec float64

	// MinArcSegmentLength is the shortest chord the arc interpolator
	// will produce (mm).
	MinArcSegmentLength float64
}

// DefaultConfig returns the stock machine profile: 5e7 mm/min^3 jerk and
// 0.05 mm junction deviation on the linear axes, 2e5 corner acceleration,
// 5 ms segments, 28 planner buffers.
func DefaultConfig() Config {
	cfg := Config{
		CornerAcceleration:  2e5,
		QueueSize:           28,
		MinLineLength:       0.01,
		NomSegmentUsec:      5000,
		MinSegmentUsec:      2500,
		MinArcSegmentLength: 0.1,
	}
	for i := range cfg.Axes {
		cfg.Axes[i] = AxisConfig{
			Mode:        AxisStandard,
			VelocityMax: 16000,
			FeedrateMax: 16000,
			TravelMax:   420,
			JerkMax:     5e7,
			JunctionDev: 0.05,
		}
	}
	// Rotary defaults
	for i := kinematics.AxisA; i <= kinematics.AxisC; i++ {
		cfg.Axes[i].VelocityMax = 36000
		cfg.Axes[i].FeedrateMax = 36000
		cfg.Axes[i].TravelMax = 360
		cfg.Axes[i].Radius = 1
	}
	return cfg
}

// SegmentSink is the stepper engine contract: the preparer stages one
// segment at a time and the engine calls back when it wants the next.
type SegmentSink interface {
	// PrepLine stages a movement segment of fractional per-motor steps
	// over the given wall-clock duration. Returns a STEPPER_BUSY error
	// if a staged segment is already waiting.
	PrepLine(steps [kinematics.NumMotors]float64, microseconds float64) error

	// PrepDwell stages a timed pause with no step output.
	PrepDwell(microseconds float64) error
}

// ExecResult reports what a cooperative callback accomplished.
type ExecResult int

const (
	ExecIdle  ExecResult = iota // nothing to do
	ExecAgain                   // made progress; call again
	ExecDone                    // finished the current unit of work
)

// Planner owns the move queue, the runtime cursor of the executing block,
// and the arc and feedhold state machines.
type Planner struct {
	cfg    Config
	kin    *kinematics.Kinematics
	sink   SegmentSink
	logger *log.Logger

	// Metrics is optional; when set the planner updates motion metrics.
	Metrics *metrics.MotionMetrics

	// Move queue (ring) and cursors
	buf []Block
	w   int // write: next slot to fill
	q   int // queue: next slot to commit
	r   int // run: executing or imminently next

	// Virtual end-of-queue position: where the machine will be once all
	// queued motion completes. New moves plan from here.
	position [kinematics.NumAxes]float64

	// Unit vector of the most recently queued move, for junction math.
	lastUnit [kinematics.NumAxes]float64

	pathControl PathControl

	mr   runtime    // segment preparer cursor
	arc  arcRuntime // arc interpolator continuation
	hold HoldState

	// OnStop and OnEnd are invoked when a program stop or end block
	// reaches the run pointer. OnHold fires when a feedhold completes.
	OnStop func()
	OnEnd  func()
	OnHold func()
}

// New creates a Planner with the given configuration, kinematics and
// segment sink.
func New(cfg Config, kin *kinematics.Kinematics, sink SegmentSink, logger *log.Logger) *Planner {
	if cfg.QueueSize < 4 {
		cfg.QueueSize = 4
	}
	if logger == nil {
		logger = log.New("planner")
	}
	p := &Planner{
		cfg:    cfg,
		kin:    kin,
		sink:   sink,
		logger: logger,
		buf:    make([]Block, cfg.QueueSize),
	}
	for i := range p.buf {
		p.buf[i].index = i
	}
	return p
}

// Config returns the active planner configuration.
func (p *Planner) Config() Config { return p.cfg }

// SetPathControl selects the corner behavior for subsequent moves.
func (p *Planner) SetPathControl(mode PathControl) { p.pathControl = mode }

// SetPosition overwrites the planner's virtual position and the runtime
// position. Only legal while the queue is empty.
func (p *Planner) SetPosition(pos [kinematics.NumAxes]float64) error {
	if !p.queueIsEmpty() || p.mr.state != rtOff {
		return errors.MachineStateError("set position", "motion")
	}
	p.position = pos
	p.mr.position = pos
	p.lastUnit = [kinematics.NumAxes]float64{}
	return nil
}

// Position returns the virtual end-of-queue position.
func (p *Planner) Position() [kinematics.NumAxes]float64 { return p.position }

// RuntimePosition returns the segment preparer's current position for the
// given axis.
func (p *Planner) RuntimePosition(axis int) float64 { return p.mr.position[axis] }

// RuntimeVelocity returns the velocity of the most recent segment.
func (p *Planner) RuntimeVelocity() float64 { return p.mr.segmentVelocity }

// Linenum returns the G-code line number of the executing block.
func (p *Planner) Linenum() int { return p.mr.linenum }

// GetHoldState returns the feedhold progress.
func (p *Planner) GetHoldState() HoldState { return p.hold }

// IsBusy reports whether any queued or running motion exists.
func (p *Planner) IsBusy() bool {
	return !p.queueIsEmpty() || p.mr.state != rtOff || p.arc.state != arcOff
}

// Flush drops all queued motion and resets the runtime and arc state.
// Used during abort and feedhold recovery. The virtual position collapses
// onto the runtime position so subsequent moves plan from where the
// machine actually stopped.
func (p *Planner) Flush() {
	for i := range p.buf {
		p.buf[i].clear()
	}
	p.w, p.q, p.r = 0, 0, 0
	p.arc.state = arcOff
	p.hold = HoldOff
	p.mr.reset()
	p.position = p.mr.position
	p.lastUnit = [kinematics.NumAxes]float64{}
	p.logger.Info("planner flushed")
}
