// Package gcode provides the G-code front end: a word parser and an
// executor that drives the canonical machine. The dialect is the small
// motion subset the controller understands (G0-G4, plane/units/distance
// modals, F/N words, M0/M2/M30) plus the single-character controls for
// feedhold, cycle start and queue flush.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package gcode

import (
	"regexp"
	"strconv"
	"strings"

	"tinyg-go-migration/pkg/errors"
)

// Word is one letter/value pair from a G-code line.
type Word struct {
	Letter byte // upper case
	Value  float64
}

// Line is a parsed G-code line.
type Line struct {
	N     int // N word, when present
	HasN  bool
	Words []Word
	Raw   string
}

var (
	reParenComment = regexp.MustCompile(`\([^)]*\)`)
	reWord         = regexp.MustCompile(`(?i)([A-Z])\s*([+-]?(?:[0-9]+\.?[0-9]*|\.[0-9]+))`)
)

// ParseLine parses one line of G-code. Returns (nil, nil) for blank and
// comment-only lines.
func ParseLine(raw string) (*Line, error) {
	ln := strings.TrimSpace(raw)
	if idx := strings.IndexByte(ln, ';'); idx >= 0 {
		ln = strings.TrimSpace(ln[:idx])
	}
	ln = strings.TrimSpace(reParenComment.ReplaceAllString(ln, " "))
	if ln == "" {
		return nil, nil
	}

	matches := reWord.FindAllStringSubmatchIndex(ln, -1)
	if matches == nil {
		return nil, errors.GCodeParseError(raw, "no words found")
	}

	// Anything between the words other than whitespace is junk.
	pos := 0
	for _, m := range matches {
		if strings.TrimSpace(ln[pos:m[0]]) != "" {
			return nil, errors.GCodeParseError(raw, "unexpected text "+strconv.Quote(ln[pos:m[0]]))
		}
		pos = m[1]
	}
	if strings.TrimSpace(ln[pos:]) != "" {
		return nil, errors.GCodeParseError(raw, "unexpected text "+strconv.Quote(ln[pos:]))
	}

	out := &Line{Raw: raw}
	for _, m := range matches {
		letter := strings.ToUpper(ln[m[2]:m[3]])[0]
		value, err := strconv.ParseFloat(ln[m[4]:m[5]], 64)
		if err != nil {
			return nil, errors.GCodeParseError(raw, "bad number for "+string(letter))
		}
		if letter == 'N' && !out.HasN && len(out.Words) == 0 {
			out.N = int(value)
			out.HasN = true
			continue
		}
		out.Words = append(out.Words, Word{Letter: letter, Value: value})
	}
	return out, nil
}
