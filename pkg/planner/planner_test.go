// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package planner

import (
	"math"
	"testing"

	"tinyg-go-migration/pkg/errors"
	"tinyg-go-migration/pkg/kinematics"
)

// testSink accepts every segment and records it.
type testSink struct {
	segments []testSegment
	dwells   []float64
}

type testSegment struct {
	steps        [kinematics.NumMotors]float64
	microseconds float64
}

func (s *testSink) PrepLine(steps [kinematics.NumMotors]float64, microseconds float64) error {
	s.segments = append(s.segments, testSegment{steps, microseconds})
	return nil
}

func (s *testSink) PrepDwell(microseconds float64) error {
	s.dwells = append(s.dwells, microseconds)
	return nil
}

func (s *testSink) netSteps(motor int) float64 {
	n := 0.0
	for _, seg := range s.segments {
		n += seg.steps[motor]
	}
	return n
}

func (s *testSink) totalMicroseconds() float64 {
	t := 0.0
	for _, seg := range s.segments {
		t += seg.microseconds
	}
	return t
}

func testKinematics(t *testing.T) *kinematics.Kinematics {
	t.Helper()
	var motors [kinematics.NumMotors]kinematics.MotorConfig
	for i := range motors {
		motors[i] = kinematics.MotorConfig{
			Axis:         i,
			StepAngle:    1.8,
			TravelPerRev: 40,
			Microsteps:   8,
		}
	}
	kin, err := kinematics.New(motors)
	if err != nil {
		t.Fatalf("kinematics: %v", err)
	}
	return kin
}

func newTestPlanner(t *testing.T, cfg Config) (*Planner, *testSink) {
	t.Helper()
	sink := &testSink{}
	return New(cfg, testKinematics(t), sink, nil), sink
}

// drain runs the cooperative callbacks until all motion is executed.
func drain(t *testing.T, p *Planner) {
	t.Helper()
	for i := 0; i < 1000000; i++ {
		if _, err := p.ArcCallback(); err != nil {
			t.Fatalf("arc callback: %v", err)
		}
		if _, err := p.PlanHoldCallback(); err != nil {
			t.Fatalf("hold callback: %v", err)
		}
		res, err := p.ExecMove()
		if err != nil {
			t.Fatalf("exec move: %v", err)
		}
		if res == ExecIdle && !p.IsBusy() {
			return
		}
		if res == ExecIdle && p.GetHoldState() != HoldOff {
			return // halted in a feedhold
		}
	}
	t.Fatal("drain did not terminate")
}

func axisTarget(x, y, z float64) [kinematics.NumAxes]float64 {
	return [kinematics.NumAxes]float64{x, y, z}
}

func TestALineHeadBodyTail(t *testing.T) {
	p, _ := newTestPlanner(t, DefaultConfig())

	// 10 mm in 0.1 min: cruise 100 mm/min, stock jerk. The accel and
	// decel demands are tiny so the block is dominated by the body.
	if err := p.ALine(axisTarget(10, 0, 0), 0.1, 1); err != nil {
		t.Fatalf("aline: %v", err)
	}

	bf := p.lastQueuedBlock()
	if bf == nil {
		t.Fatal("no queued block")
	}
	if bf.EntryVelocity != 0 || bf.ExitVelocity != 0 {
		t.Errorf("endpoint velocities: entry=%g exit=%g, want 0", bf.EntryVelocity, bf.ExitVelocity)
	}
	if !fpEQ(bf.CruiseVelocity, 100) {
		t.Errorf("cruise velocity = %g, want 100", bf.CruiseVelocity)
	}
	if bf.HeadLength <= 0 || bf.TailLength <= 0 || bf.BodyLength <= 0 {
		t.Errorf("expected head/body/tail, got %g/%g/%g",
			bf.HeadLength, bf.BodyLength, bf.TailLength)
	}
	sum := bf.HeadLength + bf.BodyLength + bf.TailLength
	if !fpEQ(sum, bf.Length) {
		t.Errorf("section sum %g != length %g", sum, bf.Length)
	}
	// Symmetric demands give symmetric sections.
	if !fpEQ(bf.HeadLength, bf.TailLength) {
		t.Errorf("head %g != tail %g", bf.HeadLength, bf.TailLength)
	}
	want := 100 * math.Sqrt(100/5e7)
	if math.Abs(bf.HeadLength-want) > 1e-6 {
		t.Errorf("head length = %g, want %g", bf.HeadLength, want)
	}
}

func TestALineSymmetricHeadTail(t *testing.T) {
	cfg := DefaultConfig()
	for i := range cfg.Axes {
		cfg.Axes[i].JerkMax = 1000 // weak jerk so the block is accel-bound
	}
	p, _ := newTestPlanner(t, cfg)

	if err := p.ALine(axisTarget(10, 0, 0), 0.1, 1); err != nil {
		t.Fatalf("aline: %v", err)
	}

	bf := p.lastQueuedBlock()
	if !fpEQ(bf.HeadLength, 5) || !fpEQ(bf.TailLength, 5) {
		t.Errorf("head/tail = %g/%g, want 5/5", bf.HeadLength, bf.TailLength)
	}
	if !fpZero(bf.BodyLength) {
		t.Errorf("body = %g, want 0", bf.BodyLength)
	}
	// Cruise degrades to what half the length supports.
	want := math.Cbrt(25) * math.Cbrt(1000)
	if math.Abs(bf.CruiseVelocity-want) > 0.01 {
		t.Errorf("cruise = %g, want %g", bf.CruiseVelocity, want)
	}
}

func TestZeroLengthMove(t *testing.T) {
	p, _ := newTestPlanner(t, DefaultConfig())
	err := p.ALine(axisTarget(0.001, 0, 0), 0.1, 1)
	if !errors.IsCode(err, errors.ErrZeroLength) {
		t.Fatalf("expected ZERO_LENGTH, got %v", err)
	}
	if p.IsBusy() {
		t.Error("zero-length move must not occupy the queue")
	}
}

func TestNonFiniteTarget(t *testing.T) {
	p, _ := newTestPlanner(t, DefaultConfig())
	err := p.ALine(axisTarget(math.NaN(), 0, 0), 0.1, 1)
	if !errors.IsCode(err, errors.ErrFloatingPoint) {
		t.Fatalf("expected FLOATING_POINT error, got %v", err)
	}
}

func TestQueueBackPressure(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueSize = 4
	p, _ := newTestPlanner(t, cfg)

	n := 0
	for i := 0; i < 10; i++ {
		err := p.ALine(axisTarget(float64(i+1), 0, 0), 0.01, i+1)
		if err == nil {
			n++
			continue
		}
		if !errors.IsCode(err, errors.ErrBufferFull) {
			t.Fatalf("expected BUFFER_FULL, got %v", err)
		}
		break
	}
	if n != 4 {
		t.Errorf("accepted %d moves before back-pressure, want 4", n)
	}
	if p.TestWriteBuffer() {
		t.Error("TestWriteBuffer must report full")
	}
	// Draining frees the ring again.
	drain(t, p)
	if !p.TestWriteBuffer() {
		t.Error("TestWriteBuffer must report space after drain")
	}
}

func TestJunctionCarryThrough(t *testing.T) {
	p, _ := newTestPlanner(t, DefaultConfig())

	// Two collinear moves: the junction is straight, so the first block
	// carries its full cruise velocity into the second.
	if err := p.ALine(axisTarget(10, 0, 0), 0.1, 1); err != nil {
		t.Fatalf("aline 1: %v", err)
	}
	if err := p.ALine(axisTarget(20, 0, 0), 0.1, 2); err != nil {
		t.Fatalf("aline 2: %v", err)
	}

	b1 := &p.buf[0]
	b2 := &p.buf[1]
	if !fpEQ(b1.ExitVelocity, 100) {
		t.Errorf("first exit = %g, want 100", b1.ExitVelocity)
	}
	if !fpEQ(b2.EntryVelocity, b1.ExitVelocity) {
		t.Errorf("velocity discontinuity: exit=%g entry=%g", b1.ExitVelocity, b2.EntryVelocity)
	}
	if b2.ExitVelocity != 0 {
		t.Errorf("newest block exit = %g, want 0", b2.ExitVelocity)
	}
}

func TestJunctionCornerLimit(t *testing.T) {
	p, _ := newTestPlanner(t, DefaultConfig())

	// Fast right-angle corner: the junction bound is below the cruise
	// velocity, so the corner slows down.
	if err := p.ALine(axisTarget(10, 0, 0), 0.01, 1); err != nil {
		t.Fatalf("aline 1: %v", err)
	}
	if err := p.ALine(axisTarget(10, 10, 0), 0.01, 2); err != nil {
		t.Fatalf("aline 2: %v", err)
	}

	var unitX, unitY [kinematics.NumAxes]float64
	unitX[0] = 1
	unitY[1] = 1
	jv := p.junctionVmax(unitX, unitY)
	if jv >= 1000 {
		t.Fatalf("junction bound %g not below cruise 1000", jv)
	}
	b2 := &p.buf[1]
	if math.Abs(b2.EntryVmax-jv) > 1e-9 {
		t.Errorf("corner entry vmax = %g, want %g", b2.EntryVmax, jv)
	}
}

func TestJunctionReversalStops(t *testing.T) {
	p, _ := newTestPlanner(t, DefaultConfig())
	var unitX, unitNegX [kinematics.NumAxes]float64
	unitX[0] = 1
	unitNegX[0] = -1
	if jv := p.junctionVmax(unitX, unitNegX); jv != 0 {
		t.Errorf("reversal junction = %g, want 0", jv)
	}
	if jv := p.junctionVmax(unitX, unitX); jv != junctionUnbounded {
		t.Errorf("straight junction = %g, want unbounded", jv)
	}
}

func TestDefaultPathControlContinuous(t *testing.T) {
	// A fresh planner blends corners; exact stop is strictly opt-in.
	p, _ := newTestPlanner(t, DefaultConfig())
	if p.pathControl != PathContinuous {
		t.Fatalf("default path control = %v, want continuous", p.pathControl)
	}
	if err := p.ALine(axisTarget(10, 0, 0), 0.1, 1); err != nil {
		t.Fatalf("aline 1: %v", err)
	}
	if err := p.ALine(axisTarget(20, 0, 0), 0.1, 2); err != nil {
		t.Fatalf("aline 2: %v", err)
	}
	if p.buf[0].ExitVelocity == 0 {
		t.Error("collinear junction stopped on a fresh planner")
	}
}

func TestSectionJerkBound(t *testing.T) {
	p, _ := newTestPlanner(t, DefaultConfig())

	// A polyline with two right-angle corners: junction-limited entries
	// force real head and tail sections.
	if err := p.ALine(axisTarget(10, 0, 0), 0.05, 1); err != nil {
		t.Fatalf("aline 1: %v", err)
	}
	if err := p.ALine(axisTarget(10, 10, 0), 0.05, 2); err != nil {
		t.Fatalf("aline 2: %v", err)
	}
	if err := p.ALine(axisTarget(0, 10, 0), 0.05, 3); err != nil {
		t.Fatalf("aline 3: %v", err)
	}

	// Each accelerating or decelerating section must satisfy the jerk
	// relation dv^3 <= jerk * length^2, with 1% slack for the iterative
	// asymmetric cases.
	checkSection := func(block int, name string, dv, length float64) {
		dv = math.Abs(dv)
		if length == 0 {
			if dv > 1e-9 {
				t.Errorf("block %d %s: dv=%g over zero length", block, name, dv)
			}
			return
		}
		if dv*dv*dv > p.buf[block].Jerk*length*length*1.01 {
			t.Errorf("block %d %s: dv^3=%g exceeds jerk*len^2=%g",
				block, name, dv*dv*dv, p.buf[block].Jerk*length*length)
		}
	}
	checked := 0
	for i := range p.buf {
		b := &p.buf[i]
		if b.Kind != KindALine || b.State == BufferEmpty {
			continue
		}
		checkSection(i, "head", b.CruiseVelocity-b.EntryVelocity, b.HeadLength)
		checkSection(i, "tail", b.CruiseVelocity-b.ExitVelocity, b.TailLength)
		checked++
	}
	if checked != 3 {
		t.Fatalf("checked %d blocks, want 3", checked)
	}
}

func TestExactStopPath(t *testing.T) {
	p, _ := newTestPlanner(t, DefaultConfig())
	p.SetPathControl(PathExactStop)

	if err := p.ALine(axisTarget(10, 0, 0), 0.1, 1); err != nil {
		t.Fatalf("aline 1: %v", err)
	}
	if err := p.ALine(axisTarget(20, 0, 0), 0.1, 2); err != nil {
		t.Fatalf("aline 2: %v", err)
	}
	b1 := &p.buf[0]
	if b1.ExitVelocity != 0 {
		t.Errorf("exact stop: first exit = %g, want 0", b1.ExitVelocity)
	}
}

func TestExecALineStepsAndTiming(t *testing.T) {
	p, sink := newTestPlanner(t, DefaultConfig())

	if err := p.ALine(axisTarget(10, 0, 0), 0.1, 7); err != nil {
		t.Fatalf("aline: %v", err)
	}
	drain(t, p)

	// 10 mm at 40 steps/mm.
	if got := sink.netSteps(0); math.Abs(got-400) > 1e-6 {
		t.Errorf("motor 0 steps = %g, want 400", got)
	}
	for m := 1; m < kinematics.NumMotors; m++ {
		if got := sink.netSteps(m); got != 0 {
			t.Errorf("motor %d steps = %g, want 0", m, got)
		}
	}
	if got := p.RuntimePosition(0); math.Abs(got-10) > 1e-9 {
		t.Errorf("runtime position = %g, want 10", got)
	}
	if p.Linenum() != 7 {
		t.Errorf("linenum = %d, want 7", p.Linenum())
	}

	// The S-curve takes slightly longer than the straight-line time
	// because the accel sections average half the cruise velocity.
	total := sink.totalMicroseconds()
	straight := 0.1 * 60e6
	if total < straight || total > straight*1.05 {
		t.Errorf("total time = %g us, want within [%g, %g]", total, straight, straight*1.05)
	}
}

func TestExecSegmentDurations(t *testing.T) {
	cfg := DefaultConfig()
	p, sink := newTestPlanner(t, cfg)

	if err := p.ALine(axisTarget(10, 0, 0), 0.1, 1); err != nil {
		t.Fatalf("aline: %v", err)
	}
	drain(t, p)

	if len(sink.segments) < 3 {
		t.Fatalf("expected several segments, got %d", len(sink.segments))
	}
	for i, seg := range sink.segments {
		if seg.microseconds < cfg.MinSegmentUsec-1e-9 {
			t.Errorf("segment %d duration %g below minimum %g", i, seg.microseconds, cfg.MinSegmentUsec)
		}
	}
}

func TestPlainLineSingleSegment(t *testing.T) {
	p, sink := newTestPlanner(t, DefaultConfig())

	// A plain line is emitted as one constant-rate segment, no S-curve.
	if err := p.Line(axisTarget(5, 0, 0), 0.01, 3); err != nil {
		t.Fatalf("line: %v", err)
	}
	drain(t, p)
	if len(sink.segments) != 1 {
		t.Fatalf("segments = %d, want 1", len(sink.segments))
	}
	if got := sink.segments[0].microseconds; math.Abs(got-0.01*60e6) > 1 {
		t.Errorf("duration = %g us, want %g", got, 0.01*60e6)
	}
	if got := sink.netSteps(0); got != 200 {
		t.Errorf("steps = %g, want 200", got)
	}
	if got := p.RuntimePosition(0); got != 5 {
		t.Errorf("runtime x = %g, want 5", got)
	}
}

func TestDwell(t *testing.T) {
	p, sink := newTestPlanner(t, DefaultConfig())
	if err := p.Dwell(1.5); err != nil {
		t.Fatalf("dwell: %v", err)
	}
	drain(t, p)
	if len(sink.dwells) != 1 {
		t.Fatalf("expected 1 dwell, got %d", len(sink.dwells))
	}
	if got := sink.dwells[0]; got != 1.5e6 {
		t.Errorf("dwell duration = %g us, want 1.5e6", got)
	}
	if err := p.Dwell(0); !errors.IsCode(err, errors.ErrZeroLength) {
		t.Errorf("zero dwell: got %v, want ZERO_LENGTH", err)
	}
}

func TestProgramMarkers(t *testing.T) {
	p, _ := newTestPlanner(t, DefaultConfig())
	stops, ends := 0, 0
	p.OnStop = func() { stops++ }
	p.OnEnd = func() { ends++ }

	if err := p.ALine(axisTarget(5, 0, 0), 0.05, 1); err != nil {
		t.Fatalf("aline: %v", err)
	}
	if err := p.QueueProgramStop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := p.QueueProgramEnd(); err != nil {
		t.Fatalf("end: %v", err)
	}
	drain(t, p)
	if stops != 1 || ends != 1 {
		t.Errorf("callbacks: stop=%d end=%d, want 1/1", stops, ends)
	}
}

func TestSetPositionRequiresIdle(t *testing.T) {
	p, _ := newTestPlanner(t, DefaultConfig())
	if err := p.SetPosition(axisTarget(1, 2, 3)); err != nil {
		t.Fatalf("set position on idle queue: %v", err)
	}
	if got := p.Position(); got != axisTarget(1, 2, 3) {
		t.Errorf("position = %v", got)
	}
	if err := p.ALine(axisTarget(10, 2, 3), 0.1, 1); err != nil {
		t.Fatalf("aline: %v", err)
	}
	if err := p.SetPosition(axisTarget(0, 0, 0)); !errors.IsCode(err, errors.ErrMachineState) {
		t.Errorf("set position with queued motion: got %v, want MACHINE_STATE", err)
	}
}

func TestFlush(t *testing.T) {
	p, _ := newTestPlanner(t, DefaultConfig())
	for i := 0; i < 3; i++ {
		if err := p.ALine(axisTarget(float64(i+1)*10, 0, 0), 0.1, i+1); err != nil {
			t.Fatalf("aline: %v", err)
		}
	}
	p.Flush()
	if p.IsBusy() {
		t.Error("planner busy after flush")
	}
	// The virtual position collapses onto the runtime position.
	if got := p.Position(); got != p.mr.position {
		t.Errorf("position %v != runtime %v", got, p.mr.position)
	}
}

func TestFeedholdAndResume(t *testing.T) {
	p, sink := newTestPlanner(t, DefaultConfig())
	held := false
	p.OnHold = func() { held = true }

	target := axisTarget(50, 0, 0)
	if err := p.ALine(target, 0.5, 1); err != nil {
		t.Fatalf("aline: %v", err)
	}

	// Execute part of the block.
	for i := 0; i < 20; i++ {
		if _, err := p.ExecMove(); err != nil {
			t.Fatalf("exec move: %v", err)
		}
	}
	if p.RuntimeVelocity() <= 0 {
		t.Fatal("expected motion in progress")
	}

	p.Feedhold()
	if p.GetHoldState() != HoldSync && p.GetHoldState() != HoldPlan {
		t.Fatalf("hold state after request = %s", p.GetHoldState())
	}

	// Run until the hold completes.
	drain(t, p)
	if !held {
		t.Fatal("OnHold callback did not fire")
	}
	if p.GetHoldState() != HoldHold {
		t.Fatalf("hold state = %s, want HOLD", p.GetHoldState())
	}
	if p.RuntimeVelocity() != 0 {
		t.Errorf("runtime velocity = %g during hold, want 0", p.RuntimeVelocity())
	}
	heldAt := p.RuntimePosition(0)
	if heldAt <= 0 || heldAt >= 50 {
		t.Errorf("held at %g, want inside the move", heldAt)
	}

	// Feedhold is idempotent.
	p.Feedhold()
	if p.GetHoldState() != HoldHold {
		t.Errorf("second feedhold changed state to %s", p.GetHoldState())
	}

	// Resume and finish.
	if err := p.EndHold(); err != nil {
		t.Fatalf("end hold: %v", err)
	}
	drain(t, p)
	if p.GetHoldState() != HoldOff {
		t.Errorf("hold state after resume = %s, want OFF", p.GetHoldState())
	}
	if got := p.RuntimePosition(0); math.Abs(got-50) > 1e-6 {
		t.Errorf("final position = %g, want 50", got)
	}
	if got := sink.netSteps(0); math.Abs(got-50*40) > 1e-6 {
		t.Errorf("net steps = %g, want %g", got, 50.0*40)
	}
}

func TestFeedholdIdleCompletesImmediately(t *testing.T) {
	p, _ := newTestPlanner(t, DefaultConfig())
	p.Feedhold()
	if p.GetHoldState() != HoldHold {
		t.Fatalf("hold state = %s, want HOLD", p.GetHoldState())
	}
	if err := p.EndHold(); err != nil {
		t.Fatalf("end hold: %v", err)
	}
	if p.GetHoldState() != HoldOff {
		t.Errorf("hold state = %s, want OFF", p.GetHoldState())
	}
}

func TestEndHoldBeforeStopFails(t *testing.T) {
	p, _ := newTestPlanner(t, DefaultConfig())
	if err := p.ALine(axisTarget(50, 0, 0), 0.5, 1); err != nil {
		t.Fatalf("aline: %v", err)
	}
	for i := 0; i < 5; i++ {
		if _, err := p.ExecMove(); err != nil {
			t.Fatalf("exec move: %v", err)
		}
	}
	p.Feedhold()
	// Still decelerating: the release must be refused.
	if err := p.EndHold(); !errors.IsCode(err, errors.ErrMachineState) {
		t.Errorf("end hold mid-decel: got %v, want MACHINE_STATE", err)
	}
}

func TestRingInsertAfter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QueueSize = 8
	p, _ := newTestPlanner(t, cfg)

	for i := 0; i < 3; i++ {
		if err := p.ALine(axisTarget(float64(i+1)*10, 0, 0), 0.1, i+1); err != nil {
			t.Fatalf("aline: %v", err)
		}
	}
	b := &p.buf[0]
	nb := p.insertAfter(b)
	if nb == nil {
		t.Fatal("insertAfter returned nil with free slots")
	}
	if nb.index != 1 {
		t.Errorf("inserted slot index = %d, want 1", nb.index)
	}
	if nb.State != BufferQueued {
		t.Errorf("inserted slot state = %d, want QUEUED", nb.State)
	}
	// The shifted blocks keep their content under new slot numbers.
	if p.buf[2].Linenum != 2 || p.buf[3].Linenum != 3 {
		t.Errorf("shifted linenums = %d,%d, want 2,3", p.buf[2].Linenum, p.buf[3].Linenum)
	}
	for i := range p.buf {
		if p.buf[i].index != i {
			t.Errorf("slot %d carries index %d", i, p.buf[i].index)
		}
	}
}

func TestTargetLengthVelocityRoundTrip(t *testing.T) {
	bf := &Block{Jerk: 5e7}
	bf.RecipJerk = 1 / bf.Jerk
	bf.CubertJerk = math.Cbrt(bf.Jerk)

	for _, v := range []float64{10, 100, 1000, 8000} {
		length := targetLength(0, v, bf)
		back := targetVelocity(0, length, bf)
		if math.Abs(back-v)/v > 1e-9 {
			t.Errorf("round trip v=%g: length=%g back=%g", v, length, back)
		}
	}
	// Symmetry in the velocity delta.
	if targetLength(100, 300, bf) != targetLength(300, 100, bf) {
		t.Error("targetLength not symmetric")
	}
}
