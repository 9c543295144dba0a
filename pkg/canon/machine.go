// Package canon implements the canonical machine: the modal-state layer
// between the G-code front end and the motion planner. It owns the
// machine state, the modal settings (units, distance mode, plane, feed
// rate, path control), the model position, and the translation of
// commanded targets into planner moves with their move times.
//
// Position authority is split three ways: the canonical machine holds
// the model position (where the program says the machine will be), the
// planner holds the end-of-queue position, and the segment preparer
// holds the runtime position. They agree whenever the queue drains.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package canon

import (
	"math"

	"tinyg-go-migration/pkg/errors"
	"tinyg-go-migration/pkg/kinematics"
	"tinyg-go-migration/pkg/log"
	"tinyg-go-migration/pkg/metrics"
	"tinyg-go-migration/pkg/planner"
)

// MachineState is the top-level machine cycle state.
type MachineState int

const (
	StateReset MachineState = iota // power-on / after abort
	StateCycle                     // executing motion
	StateStop                      // program stop (M0); cycle start resumes
	StateHold                      // feedhold complete
	StateEnd                       // program end (M2/M30); reset required
)

func (s MachineState) String() string {
	switch s {
	case StateReset:
		return "RESET"
	case StateCycle:
		return "CYCLE"
	case StateStop:
		return "STOP"
	case StateHold:
		return "HOLD"
	case StateEnd:
		return "END"
	}
	return "INVALID"
}

// UnitsMode selects G20/G21 input units.
type UnitsMode int

const (
	UnitsMM UnitsMode = iota
	UnitsInches
)

// DistanceMode selects G90/G91 target interpretation.
type DistanceMode int

const (
	DistanceAbsolute DistanceMode = iota
	DistanceIncremental
)

const mmPerInch = 25.4

// Target carries one move's axis words. Absent axes keep their current
// coordinate.
type Target struct {
	Value   [kinematics.NumAxes]float64
	Present [kinematics.NumAxes]bool
}

// Machine is the canonical machine.
type Machine struct {
	planner *planner.Planner
	logger  *log.Logger

	// Metrics is optional.
	Metrics *metrics.MotionMetrics

	state    MachineState
	units    UnitsMode
	distance DistanceMode
	plane    planner.Plane
	feedRate float64 // mm/min, converted at set time

	// inverseFeed selects G93 inverse-time mode: F is 1/minutes for the
	// move it accompanies.
	inverseFeed bool

	// SoftLimits enables travel envelope checking against the per-axis
	// TravelMax. Off by default.
	SoftLimits bool

	position [kinematics.NumAxes]float64 // model position, mm and degrees
}

// New creates a Machine driving the given planner and wires the
// planner's lifecycle callbacks into the machine state.
func New(p *planner.Planner, logger *log.Logger) *Machine {
	if logger == nil {
		logger = log.New("canon")
	}
	m := &Machine{
		planner: p,
		logger:  logger,
	}
	p.OnStop = func() {
		m.state = StateStop
		m.logger.Info("program stop")
	}
	p.OnEnd = func() {
		m.state = StateEnd
		m.resetModalState()
		m.logger.Info("program end")
	}
	p.OnHold = func() {
		m.state = StateHold
	}
	m.resetModalState()
	return m
}

// resetModalState restores the power-on modal defaults.
func (m *Machine) resetModalState() {
	m.units = UnitsMM
	m.distance = DistanceAbsolute
	m.plane = planner.PlaneXY
	m.feedRate = 0
	m.inverseFeed = false
	m.planner.SetPathControl(planner.PathContinuous)
}

// State returns the machine cycle state.
func (m *Machine) State() MachineState { return m.state }

// Position returns the model position.
func (m *Machine) Position() [kinematics.NumAxes]float64 { return m.position }

// Planner exposes the underlying planner for the scheduler.
func (m *Machine) Planner() *planner.Planner { return m.planner }

// Modal setters

// SetUnits selects G20 (inches) or G21 (mm) input interpretation.
func (m *Machine) SetUnits(u UnitsMode) { m.units = u }

// SetDistanceMode selects absolute (G90) or incremental (G91) targets.
func (m *Machine) SetDistanceMode(d DistanceMode) { m.distance = d }

// SetPlane selects the arc plane (G17/G18/G19).
func (m *Machine) SetPlane(pl planner.Plane) { m.plane = pl }

// SetPathControl selects the corner behavior (G61/G64).
func (m *Machine) SetPathControl(pc planner.PathControl) {
	m.planner.SetPathControl(pc)
}

// SetFeedRate sets the F word. The rate is stored in mm/min; in inverse
// time mode the raw value is kept (it is 1/minutes, not a rate).
func (m *Machine) SetFeedRate(f float64) {
	if m.inverseFeed {
		m.feedRate = f
		return
	}
	m.feedRate = f * m.linearScale()
}

// SetInverseFeedMode selects G93 (true) or G94 (false).
func (m *Machine) SetInverseFeedMode(inverse bool) {
	m.inverseFeed = inverse
	m.feedRate = 0 // F must be reprogrammed after a mode switch
}

// SetPosition overwrites the model and planner positions without motion.
// Values are interpreted with the active units and all axes are taken as
// absolute machine coordinates. Only legal while motion is drained.
func (m *Machine) SetPosition(t Target) error {
	pos := m.position
	for i := range pos {
		if t.Present[i] {
			pos[i] = t.Value[i] * m.axisScale(i)
		}
	}
	if err := m.planner.SetPosition(pos); err != nil {
		return err
	}
	m.position = pos
	return nil
}

func (m *Machine) linearScale() float64 {
	if m.units == UnitsInches {
		return mmPerInch
	}
	return 1
}

// axisScale returns the input scale for one axis: linear axes honor the
// units mode, rotary axes are always degrees.
func (m *Machine) axisScale(axis int) float64 {
	if axis >= kinematics.AxisA {
		return 1
	}
	return m.linearScale()
}

// targetFrom resolves axis words into an absolute machine target.
// Disabled and inhibited axes keep their current coordinate.
func (m *Machine) targetFrom(t Target) [kinematics.NumAxes]float64 {
	cfg := m.planner.Config()
	target := m.position
	for i := range target {
		if !t.Present[i] {
			continue
		}
		if cfg.Axes[i].Mode == planner.AxisDisabled ||
			cfg.Axes[i].Mode == planner.AxisInhibited {
			continue
		}
		v := t.Value[i] * m.axisScale(i)
		if m.distance == DistanceIncremental {
			target[i] = m.position[i] + v
		} else {
			target[i] = v
		}
	}
	return target
}

// checkSoftLimits validates a target against the travel envelope.
func (m *Machine) checkSoftLimits(target [kinematics.NumAxes]float64) *errors.MotionError {
	if !m.SoftLimits {
		return nil
	}
	cfg := m.planner.Config()
	for i := range target {
		max := cfg.Axes[i].TravelMax
		if max > 0 && math.Abs(target[i]) > max {
			return errors.SoftLimitError(kinematics.AxisNames[i], target[i], max)
		}
	}
	return nil
}

// moveDistances returns the timing length of a move and the per-axis
// deltas. Inhibited and disabled axes contribute nothing.
func (m *Machine) moveDistances(target [kinematics.NumAxes]float64) (float64, [kinematics.NumAxes]float64) {
	cfg := m.planner.Config()
	var deltas [kinematics.NumAxes]float64
	sum := 0.0
	for i := range target {
		ax := cfg.Axes[i]
		if ax.Mode == planner.AxisDisabled || ax.Mode == planner.AxisInhibited {
			continue
		}
		d := math.Abs(target[i] - m.position[i])
		if ax.Mode == planner.AxisRadius && ax.Radius > 0 {
			// Degrees of rotation as arc length on the circumference.
			d = d * math.Pi * ax.Radius / 180
		}
		deltas[i] = d
		sum += d * d
	}
	return math.Sqrt(sum), deltas
}

// traverseTime returns the minutes a rapid needs: each axis at its own
// velocity limit, the slowest axis dominating.
func (m *Machine) traverseTime(deltas [kinematics.NumAxes]float64) float64 {
	cfg := m.planner.Config()
	t := 0.0
	for i, d := range deltas {
		if d == 0 || cfg.Axes[i].VelocityMax <= 0 {
			continue
		}
		t = math.Max(t, d/cfg.Axes[i].VelocityMax)
	}
	return t
}

// feedTime returns the minutes a feed move needs: the programmed rate on
// the path, stretched when any axis would exceed its feed limit.
func (m *Machine) feedTime(length float64, deltas [kinematics.NumAxes]float64) (float64, *errors.MotionError) {
	if m.inverseFeed {
		if m.feedRate <= 0 {
			return 0, errors.FeedrateZeroError()
		}
		return 1 / m.feedRate, nil
	}
	if m.feedRate <= 0 {
		return 0, errors.FeedrateZeroError()
	}
	t := length / m.feedRate
	cfg := m.planner.Config()
	for i, d := range deltas {
		if d == 0 || cfg.Axes[i].FeedrateMax <= 0 {
			continue
		}
		t = math.Max(t, d/cfg.Axes[i].FeedrateMax)
	}
	return t, nil
}

// StraightTraverse executes a G0 rapid to the target.
func (m *Machine) StraightTraverse(t Target, linenum int) error {
	if m.state == StateEnd {
		return errors.MachineStateError("traverse", m.state.String())
	}
	target := m.targetFrom(t)
	if err := m.checkSoftLimits(target); err != nil {
		return err.SetLinenum(linenum)
	}
	_, deltas := m.moveDistances(target)
	minutes := m.traverseTime(deltas)
	return m.queueLine(target, minutes, linenum)
}

// StraightFeed executes a G1 feed move to the target at the programmed
// feed rate.
func (m *Machine) StraightFeed(t Target, linenum int) error {
	if m.state == StateEnd {
		return errors.MachineStateError("feed", m.state.String())
	}
	target := m.targetFrom(t)
	if err := m.checkSoftLimits(target); err != nil {
		return err.SetLinenum(linenum)
	}
	length, deltas := m.moveDistances(target)
	minutes, ferr := m.feedTime(length, deltas)
	if ferr != nil {
		return ferr.SetLinenum(linenum)
	}
	if m.inverseFeed {
		m.feedRate = 0 // inverse-time F applies to one move only
	}
	return m.queueLine(target, minutes, linenum)
}

// queueLine pushes an ALine and reconciles the model position.
func (m *Machine) queueLine(target [kinematics.NumAxes]float64, minutes float64, linenum int) error {
	err := m.planner.ALine(target, minutes, linenum)
	switch {
	case err == nil:
		m.state = StateCycle
		m.position = target
		return nil
	case errors.IsCode(err, errors.ErrZeroLength):
		// Absorbed; the machine does not move but the model keeps the
		// commanded coordinate.
		m.position = target
		return nil
	default:
		return err
	}
}

// ArcFeed executes a G2 (clockwise) or G3 arc to the target. Offsets are
// the I/J/K center offsets for the active plane; when radiusMode is set
// the R word is used instead.
func (m *Machine) ArcFeed(t Target, offsets [3]float64, offsetPresent [3]bool,
	radius float64, radiusMode bool, clockwise bool, linenum int) error {

	if m.state == StateEnd {
		return errors.MachineStateError("arc", m.state.String())
	}
	target := m.targetFrom(t)
	if err := m.checkSoftLimits(target); err != nil {
		return err.SetLinenum(linenum)
	}
	if m.feedRate <= 0 || m.inverseFeed {
		// Arcs require a plain feed rate; inverse time arcs are not
		// supported.
		return errors.FeedrateZeroError().SetLinenum(linenum)
	}

	axis0, axis1 := planeOffsetIndices(m.plane)
	scale := m.linearScale()
	var offset [2]float64
	if radiusMode {
		d0 := target[planeAxis(m.plane, 0)] - m.position[planeAxis(m.plane, 0)]
		d1 := target[planeAxis(m.plane, 1)] - m.position[planeAxis(m.plane, 1)]
		offs, rerr := planner.ArcRadiusOffsets(d0, d1, radius*scale, clockwise)
		if rerr != nil {
			return rerr.SetLinenum(linenum)
		}
		offset = offs
	} else {
		if !offsetPresent[axis0] && !offsetPresent[axis1] {
			return errors.ArcSpecError("missing center offsets").SetLinenum(linenum)
		}
		offset[0] = offsets[axis0] * scale
		offset[1] = offsets[axis1] * scale
	}

	err := m.planner.Arc(target, offset, m.plane, clockwise, m.feedRate, linenum)
	switch {
	case err == nil:
		m.state = StateCycle
		m.position = target
		return nil
	case errors.IsCode(err, errors.ErrZeroLength):
		m.position = target
		return nil
	default:
		return err
	}
}

// planeAxis maps a plane-relative index (0 or 1) to the machine axis.
func planeAxis(pl planner.Plane, n int) int {
	switch pl {
	case planner.PlaneXZ:
		if n == 0 {
			return kinematics.AxisX
		}
		return kinematics.AxisZ
	case planner.PlaneYZ:
		if n == 0 {
			return kinematics.AxisY
		}
		return kinematics.AxisZ
	default:
		if n == 0 {
			return kinematics.AxisX
		}
		return kinematics.AxisY
	}
}

// planeOffsetIndices maps the plane to the I/J/K offset slots it uses.
func planeOffsetIndices(pl planner.Plane) (int, int) {
	switch pl {
	case planner.PlaneXZ:
		return 0, 2 // I, K
	case planner.PlaneYZ:
		return 1, 2 // J, K
	default:
		return 0, 1 // I, J
	}
}

// Dwell executes a G4 timed pause.
func (m *Machine) Dwell(seconds float64) error {
	if m.state == StateEnd {
		return errors.MachineStateError("dwell", m.state.String())
	}
	err := m.planner.Dwell(seconds)
	if err == nil || errors.IsCode(err, errors.ErrZeroLength) {
		return nil
	}
	return err
}

// ProgramStop queues an M0: motion drains, then the machine enters STOP
// until cycle start.
func (m *Machine) ProgramStop() error {
	return m.planner.QueueProgramStop()
}

// ProgramEnd queues an M2/M30: motion drains, modal state resets, and
// the machine enters END.
func (m *Machine) ProgramEnd() error {
	return m.planner.QueueProgramEnd()
}

// FeedholdRequest starts a feedhold (the ! control). Progress is
// asynchronous; the machine enters HOLD when deceleration completes.
func (m *Machine) FeedholdRequest() {
	m.planner.Feedhold()
}

// CycleStart (the ~ control) resumes from HOLD or STOP.
func (m *Machine) CycleStart() error {
	switch m.state {
	case StateHold:
		if err := m.planner.EndHold(); err != nil {
			return err
		}
		m.state = StateCycle
		return nil
	case StateStop:
		m.state = StateCycle
		return nil
	case StateCycle, StateReset:
		return nil
	}
	return errors.MachineStateError("cycle start", m.state.String())
}

// Abort (the % control) flushes all queued motion. The model position
// collapses onto wherever the machine actually stopped.
func (m *Machine) Abort() {
	m.planner.Flush()
	m.position = m.planner.Position()
	m.state = StateReset
	m.logger.Info("abort: queue flushed")
}
