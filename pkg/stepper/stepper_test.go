// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package stepper

import (
	"math"
	"strings"
	"testing"

	"tinyg-go-migration/pkg/errors"
	"tinyg-go-migration/pkg/kinematics"
)

func steps(v ...float64) [kinematics.NumMotors]float64 {
	var s [kinematics.NumMotors]float64
	copy(s[:], v)
	return s
}

func TestResidualCarry(t *testing.T) {
	rec := &Recorder{}
	e := New(rec, nil)

	// 10 segments of 0.3 steps each: 3 whole steps must come out, no
	// step lost to rounding.
	for i := 0; i < 10; i++ {
		if err := e.PrepLine(steps(0.3), 1000); err != nil {
			t.Fatalf("prep %d: %v", i, err)
		}
		if _, err := e.Run(); err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
	}
	if got := e.MotorPosition(0); got != 3 {
		t.Errorf("motor position = %d, want 3", got)
	}
	if r := e.Residual(0); math.Abs(r) > 0.5 {
		t.Errorf("residual = %g, magnitude must not exceed 0.5", r)
	}
}

func TestResidualCarryNegative(t *testing.T) {
	rec := &Recorder{}
	e := New(rec, nil)
	for i := 0; i < 8; i++ {
		if err := e.PrepLine(steps(-0.7), 1000); err != nil {
			t.Fatalf("prep: %v", err)
		}
		if _, err := e.Run(); err != nil {
			t.Fatalf("run: %v", err)
		}
	}
	// -5.6 exact; the whole-step output must round-trip to within one.
	if got := e.MotorPosition(0); got != -6 && got != -5 {
		t.Errorf("motor position = %d, want -5 or -6", got)
	}
	exact := -0.7 * 8
	if got := float64(e.MotorPosition(0)) + e.Residual(0); math.Abs(got-exact) > 1e-9 {
		t.Errorf("position+residual = %g, want %g", got, exact)
	}
}

func TestDoubleBufferBusy(t *testing.T) {
	rec := &Recorder{}
	e := New(rec, nil)

	// First segment promotes to loaded, second stages, third must be
	// refused until Advance frees a slot.
	if err := e.PrepLine(steps(1), 1000); err != nil {
		t.Fatalf("prep 1: %v", err)
	}
	if err := e.PrepLine(steps(1), 1000); err != nil {
		t.Fatalf("prep 2: %v", err)
	}
	err := e.PrepLine(steps(1), 1000)
	if !errors.IsCode(err, errors.ErrStepperBusy) {
		t.Fatalf("expected STEPPER_BUSY, got %v", err)
	}
	if !e.Busy() {
		t.Error("engine must report busy")
	}
	if ok, err := e.Advance(); !ok || err != nil {
		t.Fatalf("advance: ok=%v err=%v", ok, err)
	}
	if err := e.PrepLine(steps(1), 1000); err != nil {
		t.Fatalf("prep after advance: %v", err)
	}
}

func TestExecRequestFires(t *testing.T) {
	rec := &Recorder{}
	e := New(rec, nil)
	requests := 0
	e.SetExecRequestHandler(func() { requests++ })

	if err := e.PrepLine(steps(1), 1000); err != nil {
		t.Fatalf("prep: %v", err)
	}
	if requests != 1 {
		t.Errorf("requests after first prep = %d, want 1", requests)
	}
	if err := e.PrepLine(steps(1), 1000); err != nil {
		t.Fatalf("prep: %v", err)
	}
	if requests != 1 {
		t.Errorf("requests with both slots full = %d, want 1", requests)
	}
	if _, err := e.Advance(); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if requests != 2 {
		t.Errorf("requests after advance = %d, want 2", requests)
	}
}

func TestDwellSegment(t *testing.T) {
	rec := &Recorder{}
	e := New(rec, nil)
	if err := e.PrepDwell(2.5e6); err != nil {
		t.Fatalf("prep dwell: %v", err)
	}
	if _, err := e.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(rec.Segments) != 1 || !rec.Segments[0].Dwell {
		t.Fatalf("expected one dwell segment, got %+v", rec.Segments)
	}
	if e.MotorPosition(0) != 0 {
		t.Error("dwell must not move motors")
	}
}

func TestInvalidDurations(t *testing.T) {
	e := New(&Recorder{}, nil)
	if err := e.PrepLine(steps(1), 0); err == nil {
		t.Error("zero-duration segment accepted")
	}
	if err := e.PrepDwell(math.NaN()); err == nil {
		t.Error("NaN dwell accepted")
	}
}

func TestFlushKeepsPosition(t *testing.T) {
	rec := &Recorder{}
	e := New(rec, nil)
	if err := e.PrepLine(steps(2.4), 1000); err != nil {
		t.Fatalf("prep: %v", err)
	}
	if _, err := e.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	pos := e.MotorPosition(0)
	e.Flush()
	if e.Busy() {
		t.Error("engine busy after flush")
	}
	if e.Residual(0) != 0 {
		t.Error("residual survives flush")
	}
	if e.MotorPosition(0) != pos {
		t.Error("flush must preserve the step position")
	}
}

func TestStreamBackendFormat(t *testing.T) {
	var sb strings.Builder
	backend := &StreamBackend{W: &sb}
	e := New(backend, nil)
	if err := e.PrepLine(steps(3, -1), 500); err != nil {
		t.Fatalf("prep: %v", err)
	}
	if err := e.PrepDwell(1000); err != nil {
		t.Fatalf("dwell: %v", err)
	}
	if _, err := e.Run(); err != nil {
		t.Fatalf("run: %v", err)
	}
	out := sb.String()
	if !strings.HasPrefix(out, "seg 500.0 3 -1 0 0 0 0\n") {
		t.Errorf("unexpected segment record: %q", out)
	}
	if !strings.Contains(out, "dwell 1000.0\n") {
		t.Errorf("missing dwell record: %q", out)
	}
}
