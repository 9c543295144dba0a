// G-code executor
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package gcode

import (
	"math"
	"strconv"
	"strings"

	"tinyg-go-migration/pkg/canon"
	"tinyg-go-migration/pkg/errors"
	"tinyg-go-migration/pkg/log"
	"tinyg-go-migration/pkg/metrics"
	"tinyg-go-migration/pkg/planner"
)

// motionMode is the sticky modal motion group (G0/G1/G2/G3).
type motionMode int

const (
	motionNone motionMode = iota
	motionTraverse
	motionFeed
	motionCWArc
	motionCCWArc
)

// Executor drives the canonical machine from parsed G-code lines.
type Executor struct {
	machine *canon.Machine
	logger  *log.Logger

	// Metrics is optional.
	Metrics *metrics.MotionMetrics

	motion   motionMode
	lineSeq  int // running line counter for lines without an N word
	lastLine int
}

// NewExecutor creates an Executor for the given machine.
func NewExecutor(m *canon.Machine, logger *log.Logger) *Executor {
	if logger == nil {
		logger = log.New("gcode")
	}
	return &Executor{
		machine: m,
		logger:  logger,
	}
}

// ProcessLine handles one input line: a control character or a G-code
// line. A BUFFER_FULL error means the line was not consumed; the caller
// must hold it and retry once the queue drains.
func (e *Executor) ProcessLine(raw string) error {
	switch strings.TrimSpace(raw) {
	case "!":
		e.machine.FeedholdRequest()
		return nil
	case "~":
		return e.machine.CycleStart()
	case "%":
		e.machine.Abort()
		return nil
	}

	ln, err := ParseLine(raw)
	if err != nil {
		e.countError(err)
		return err
	}
	if ln == nil {
		return nil
	}
	if e.Metrics != nil {
		e.Metrics.GCodeLinesTotal.Inc(nil)
	}
	err = e.execute(ln)
	if err != nil && !errors.IsCode(err, errors.ErrBufferFull) {
		e.countError(err)
	}
	return err
}

func (e *Executor) countError(err error) {
	if e.Metrics != nil {
		e.Metrics.RecordGCodeError(string(errors.CodeOf(err)))
	}
}

// lineWords is the per-line accumulation of parsed words.
type lineWords struct {
	target    canon.Target
	offsets   [3]float64
	offPres   [3]bool
	feed      float64
	hasFeed   bool
	radius    float64
	hasRadius bool
	pause     float64
	hasPause  bool
	gWords    []int // G values scaled by 10 (G28.3 -> 283)
	mWords    []int
}

// axisFor maps an axis letter to its index, or -1.
func axisFor(letter byte) int {
	switch letter {
	case 'X':
		return 0
	case 'Y':
		return 1
	case 'Z':
		return 2
	case 'A':
		return 3
	case 'B':
		return 4
	case 'C':
		return 5
	}
	return -1
}

func (e *Executor) execute(ln *Line) error {
	linenum := ln.N
	if !ln.HasN {
		e.lineSeq++
		linenum = e.lineSeq
	} else {
		e.lineSeq = linenum
	}
	e.lastLine = linenum

	var w lineWords
	for _, word := range ln.Words {
		if axis := axisFor(word.Letter); axis >= 0 {
			w.target.Value[axis] = word.Value
			w.target.Present[axis] = true
			continue
		}
		switch word.Letter {
		case 'G':
			w.gWords = append(w.gWords, int(math.Round(word.Value*10)))
		case 'M':
			w.mWords = append(w.mWords, int(math.Round(word.Value)))
		case 'F':
			w.feed = word.Value
			w.hasFeed = true
		case 'I':
			w.offsets[0] = word.Value
			w.offPres[0] = true
		case 'J':
			w.offsets[1] = word.Value
			w.offPres[1] = true
		case 'K':
			w.offsets[2] = word.Value
			w.offPres[2] = true
		case 'R':
			w.radius = word.Value
			w.hasRadius = true
		case 'P':
			w.pause = word.Value
			w.hasPause = true
		default:
			return errors.GCodeUnknownCommandError(string(word.Letter)).SetLinenum(linenum)
		}
	}

	// F before motion so it applies to this line's move.
	if w.hasFeed {
		e.machine.SetFeedRate(w.feed)
	}

	wantMotion := false
	wantDwell := false
	wantSetPos := false
	for _, g := range w.gWords {
		switch g {
		case 0:
			e.motion = motionTraverse
			wantMotion = true
		case 10:
			e.motion = motionFeed
			wantMotion = true
		case 20:
			e.motion = motionCWArc
			wantMotion = true
		case 30:
			e.motion = motionCCWArc
			wantMotion = true
		case 40:
			wantDwell = true
		case 170:
			e.machine.SetPlane(planner.PlaneXY)
		case 180:
			e.machine.SetPlane(planner.PlaneXZ)
		case 190:
			e.machine.SetPlane(planner.PlaneYZ)
		case 200:
			e.machine.SetUnits(canon.UnitsInches)
		case 210:
			e.machine.SetUnits(canon.UnitsMM)
		case 283:
			wantSetPos = true
		case 610:
			e.machine.SetPathControl(planner.PathExactPath)
		case 611:
			e.machine.SetPathControl(planner.PathExactStop)
		case 640:
			e.machine.SetPathControl(planner.PathContinuous)
		case 900:
			e.machine.SetDistanceMode(canon.DistanceAbsolute)
		case 910:
			e.machine.SetDistanceMode(canon.DistanceIncremental)
		case 930:
			e.machine.SetInverseFeedMode(true)
		case 940:
			e.machine.SetInverseFeedMode(false)
		default:
			return errors.GCodeUnknownCommandError(gName(g)).SetLinenum(linenum)
		}
	}

	switch {
	case wantDwell:
		if !w.hasPause {
			return errors.GCodeInvalidParameterError("G4", "P", "", "dwell time required").
				SetLinenum(linenum)
		}
		if err := e.machine.Dwell(w.pause); err != nil {
			return err
		}
	case wantSetPos:
		if err := e.machine.SetPosition(w.target); err != nil {
			return err
		}
	case wantMotion || hasAxisWords(w.target):
		if err := e.executeMotion(&w, linenum); err != nil {
			return err
		}
	}

	for _, m := range w.mWords {
		switch m {
		case 0, 1:
			if err := e.machine.ProgramStop(); err != nil {
				return err
			}
		case 2, 30:
			if err := e.machine.ProgramEnd(); err != nil {
				return err
			}
		case 3, 4, 5, 7, 8, 9:
			// Spindle and coolant are not fitted; accept and ignore.
			e.logger.Debug("ignoring M%d", m)
		default:
			return errors.GCodeUnknownCommandError(mName(m)).SetLinenum(linenum)
		}
	}
	return nil
}

func (e *Executor) executeMotion(w *lineWords, linenum int) error {
	switch e.motion {
	case motionTraverse:
		return e.machine.StraightTraverse(w.target, linenum)
	case motionFeed:
		return e.machine.StraightFeed(w.target, linenum)
	case motionCWArc, motionCCWArc:
		return e.machine.ArcFeed(w.target, w.offsets, w.offPres,
			w.radius, w.hasRadius, e.motion == motionCWArc, linenum)
	}
	return errors.GCodeParseError("", "axis words with no motion mode").SetLinenum(linenum)
}

// LastLine returns the line number of the most recent executed line.
func (e *Executor) LastLine() int { return e.lastLine }

func hasAxisWords(t canon.Target) bool {
	for _, p := range t.Present {
		if p {
			return true
		}
	}
	return false
}

func gName(scaled int) string {
	if scaled%10 == 0 {
		return "G" + strconv.Itoa(scaled/10)
	}
	return "G" + strconv.Itoa(scaled/10) + "." + strconv.Itoa(scaled%10)
}

func mName(m int) string { return "M" + strconv.Itoa(m) }
