// Planner move blocks
//
// A Block is the unit of queued work: a line, jerk-limited line, dwell,
// or program stop/end marker. Blocks live in a fixed ring owned by the
// Planner; they are never allocated after startup.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package planner

import "tinyg-go-migration/pkg/kinematics"

// MoveKind identifies what a queued block represents.
type MoveKind int

const (
	KindNull MoveKind = iota
	KindLine          // simple timed line, no acceleration management
	KindALine         // jerk-limited line with S-curve velocity profile
	KindArc           // reserved; arcs are decomposed into ALine chords
	KindDwell
	KindStop // program stop (M0)
	KindEnd  // program end (M2/M30)
)

// String returns the kind name for logs and errors.
func (k MoveKind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindLine:
		return "line"
	case KindALine:
		return "aline"
	case KindArc:
		return "arc"
	case KindDwell:
		return "dwell"
	case KindStop:
		return "stop"
	case KindEnd:
		return "end"
	default:
		return "unknown"
	}
}

// BufferState tracks a block through its ring lifecycle. Transitions are
// monotonic: EMPTY -> LOADING -> QUEUED -> PENDING -> RUNNING -> EMPTY.
type BufferState int

const (
	BufferEmpty BufferState = iota
	BufferLoading
	BufferQueued
	BufferPending
	BufferRunning
)

// blockRunState tracks whether the segment preparer has picked up a block.
type blockRunState int

const (
	blockNew blockRunState = iota
	blockRunning
)

// Block is one planner queue entry.
type Block struct {
	index int // fixed slot number in the ring

	Kind    MoveKind
	State   BufferState
	Linenum int

	runState blockRunState

	// Replannable is true while later enqueues may still modify this
	// block's velocity plan.
	Replannable bool

	// HoldPoint marks the block that resumes motion after a feedhold.
	// The segment preparer refuses to start a hold-point block; clearing
	// the flag on cycle start is what resumes motion.
	HoldPoint bool

	// Geometry
	Target [kinematics.NumAxes]float64 // endpoint in machine coordinates
	Unit   [kinematics.NumAxes]float64 // unit direction vector
	Length float64

	// Section lengths set by the trapezoid shaper. Their sum equals Length.
	HeadLength float64
	BodyLength float64
	TailLength float64

	// Current velocity plan (units/min)
	EntryVelocity  float64
	CruiseVelocity float64
	ExitVelocity   float64

	// Planning bounds
	EntryVmax       float64
	CruiseVmax      float64
	ExitVmax        float64
	DeltaVmax       float64 // velocity achievable from rest over Length
	BrakingVelocity float64

	// Composite jerk for this block and precomputed derivatives
	Jerk       float64
	RecipJerk  float64
	CubertJerk float64

	// DwellSeconds is the dwell duration for KindDwell blocks.
	DwellSeconds float64
}

// clear zeroes a block back to EMPTY, preserving its ring slot number.
func (b *Block) clear() {
	idx := b.index
	*b = Block{}
	b.index = idx
}
