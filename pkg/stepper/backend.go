// Step output backends
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package stepper

import (
	"fmt"
	"io"
)

// StepBackend consumes executed segments. Implementations range from the
// test recorder to a serial port streaming step commands to a motor
// driver board.
type StepBackend interface {
	ExecuteSegment(seg Segment) error
}

// Recorder is a backend that keeps every executed segment. Used by tests
// and the offline trace tool.
type Recorder struct {
	Segments []Segment
}

func (r *Recorder) ExecuteSegment(seg Segment) error {
	r.Segments = append(r.Segments, seg)
	return nil
}

// TotalMicroseconds sums the duration of all recorded segments.
func (r *Recorder) TotalMicroseconds() float64 {
	total := 0.0
	for _, seg := range r.Segments {
		total += seg.Microseconds
	}
	return total
}

// NetSteps sums the signed steps of all recorded segments for one motor.
func (r *Recorder) NetSteps(motor int) int {
	n := 0
	for _, seg := range r.Segments {
		n += seg.Steps[motor]
	}
	return n
}

// StreamBackend writes segments as text records, one per line:
//
//	seg <usec> <m0> <m1> ... or dwell <usec>
//
// Suitable for piping into analysis tools or a downstream bridge.
type StreamBackend struct {
	W io.Writer
}

func (s *StreamBackend) ExecuteSegment(seg Segment) error {
	if seg.Dwell {
		_, err := fmt.Fprintf(s.W, "dwell %.1f\n", seg.Microseconds)
		return err
	}
	if _, err := fmt.Fprintf(s.W, "seg %.1f", seg.Microseconds); err != nil {
		return err
	}
	for _, n := range seg.Steps {
		if _, err := fmt.Fprintf(s.W, " %d", n); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(s.W)
	return err
}
