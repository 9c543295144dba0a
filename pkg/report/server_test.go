// Unit tests for the status report server
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package report

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tinyg-go-migration/pkg/errors"
)

// fakeMachine is a canned MachineProvider.
type fakeMachine struct {
	status    Status
	submitted []string
	submitErr error
}

func (f *fakeMachine) Status() Status { return f.status }

func (f *fakeMachine) Submit(line string) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submitted = append(f.submitted, line)
	return nil
}

func newTestServer(m *fakeMachine) *Server {
	return New(Config{Addr: ":0", Interval: 50 * time.Millisecond}, m, nil)
}

func TestHandleStatus(t *testing.T) {
	m := &fakeMachine{status: Status{
		Line:     42,
		State:    "CYCLE",
		Hold:     "OFF",
		Velocity: 1200,
		Position: [6]float64{10, 5, 0, 90, 0, 0},
		Queue:    3,
	}}
	s := newTestServer(m)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	w := httptest.NewRecorder()
	s.handleStatus(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %s", ct)
	}
	var got Status
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got != m.status {
		t.Errorf("status = %+v, want %+v", got, m.status)
	}
}

func TestHandleStatusMethod(t *testing.T) {
	s := newTestServer(&fakeMachine{})
	req := httptest.NewRequest(http.MethodPost, "/status", nil)
	w := httptest.NewRecorder()
	s.handleStatus(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status code = %d, want 405", w.Code)
	}
}

func TestHandleCommand(t *testing.T) {
	m := &fakeMachine{}
	s := newTestServer(m)

	req := httptest.NewRequest(http.MethodPost, "/command", strings.NewReader("G1 X10 F600"))
	w := httptest.NewRecorder()
	s.handleCommand(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status code = %d", w.Code)
	}
	if len(m.submitted) != 1 || m.submitted[0] != "G1 X10 F600" {
		t.Errorf("submitted = %v", m.submitted)
	}
}

func TestHandleCommandRejected(t *testing.T) {
	m := &fakeMachine{submitErr: errors.BufferFullError()}
	s := newTestServer(m)

	req := httptest.NewRequest(http.MethodPost, "/command", strings.NewReader("G1 X10 F600"))
	w := httptest.NewRecorder()
	s.handleCommand(w, req)

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status code = %d, want 422", w.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(body["error"], "queue is full") {
		t.Errorf("error body = %v", body)
	}
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(&fakeMachine{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	s.handleHealth(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status code = %d", w.Code)
	}
	if w.Body.String() != "OK\n" {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestDefaultInterval(t *testing.T) {
	s := New(Config{Addr: ":0"}, &fakeMachine{}, nil)
	if s.interval != 250*time.Millisecond {
		t.Errorf("interval = %v, want 250ms", s.interval)
	}
}
