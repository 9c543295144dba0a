// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package gcode

import (
	"testing"
)

func TestParseLine(t *testing.T) {
	ln, err := ParseLine("N10 G1 X12.5 Y-3 F600")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !ln.HasN || ln.N != 10 {
		t.Errorf("N = %d (has=%v), want 10", ln.N, ln.HasN)
	}
	want := []Word{{'G', 1}, {'X', 12.5}, {'Y', -3}, {'F', 600}}
	if len(ln.Words) != len(want) {
		t.Fatalf("words = %v, want %v", ln.Words, want)
	}
	for i, w := range want {
		if ln.Words[i] != w {
			t.Errorf("word %d = %v, want %v", i, ln.Words[i], w)
		}
	}
}

func TestParseLowerCaseAndSpacing(t *testing.T) {
	ln, err := ParseLine("g0x 1.5y.25")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []Word{{'G', 0}, {'X', 1.5}, {'Y', 0.25}}
	if len(ln.Words) != len(want) {
		t.Fatalf("words = %v, want %v", ln.Words, want)
	}
	for i, w := range want {
		if ln.Words[i] != w {
			t.Errorf("word %d = %v, want %v", i, ln.Words[i], w)
		}
	}
}

func TestParseComments(t *testing.T) {
	ln, err := ParseLine("G1 X5 (move over) Y3 ; trailing")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(ln.Words) != 3 {
		t.Fatalf("words = %v, want G1 X5 Y3", ln.Words)
	}

	for _, blank := range []string{"", "   ", "; just a comment", "(only parens)"} {
		ln, err := ParseLine(blank)
		if err != nil {
			t.Errorf("blank %q: %v", blank, err)
		}
		if ln != nil {
			t.Errorf("blank %q produced words %v", blank, ln.Words)
		}
	}
}

func TestParseDecimalGWord(t *testing.T) {
	ln, err := ParseLine("G61.1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(ln.Words) != 1 || ln.Words[0].Letter != 'G' || ln.Words[0].Value != 61.1 {
		t.Errorf("words = %v, want G61.1", ln.Words)
	}
}

func TestParseJunk(t *testing.T) {
	for _, bad := range []string{"G1 X5 &", "hello world", "G1 ?X5"} {
		if _, err := ParseLine(bad); err == nil {
			t.Errorf("junk %q accepted", bad)
		}
	}
}

func TestParseNNotFirstIsWord(t *testing.T) {
	// An N word anywhere but first is kept as a plain word, not a line
	// number.
	ln, err := ParseLine("G1 N5 X1")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ln.HasN {
		t.Error("mid-line N treated as line number")
	}
}
