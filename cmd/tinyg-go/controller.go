// Controller: the glue between the reactor-driven motion core and the
// outside world. All planner and machine calls happen on the reactor
// goroutine; input from the serial port and the report server is
// marshaled in through async callbacks.
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package main

import (
	"fmt"
	"time"

	"tinyg-go-migration/pkg/canon"
	"tinyg-go-migration/pkg/errors"
	"tinyg-go-migration/pkg/gcode"
	"tinyg-go-migration/pkg/kinematics"
	"tinyg-go-migration/pkg/log"
	"tinyg-go-migration/pkg/metrics"
	"tinyg-go-migration/pkg/planner"
	"tinyg-go-migration/pkg/reactor"
	"tinyg-go-migration/pkg/report"
	"tinyg-go-migration/pkg/serial"
	"tinyg-go-migration/pkg/stepper"
)

// idlePollSeconds paces the motion timer when the planner is busy but no
// segment is executable yet (queue priming, hold planning).
const idlePollSeconds = 0.005

// controller owns the motion pipeline and implements
// report.MachineProvider for the status server.
type controller struct {
	react   *reactor.Reactor
	plan    *planner.Planner
	machine *canon.Machine
	exec    *gcode.Executor
	engine  *stepper.Engine
	logger  *log.Logger
	mm      *metrics.MotionMetrics

	motionTimer *reactor.Timer
	done        chan struct{}
}

func newController(mp machineParts, logger *log.Logger) *controller {
	c := &controller{
		react:   mp.react,
		plan:    mp.plan,
		machine: mp.machine,
		exec:    mp.exec,
		engine:  mp.engine,
		logger:  logger,
		mm:      mp.mm,
		done:    make(chan struct{}),
	}
	c.motionTimer = c.react.RegisterTimer(c.motionTick, reactor.NEVER)
	c.react.RegisterTimer(c.metricsTick, reactor.NOW)
	return c
}

// machineParts bundles the wired motion components.
type machineParts struct {
	react   *reactor.Reactor
	plan    *planner.Planner
	machine *canon.Machine
	exec    *gcode.Executor
	engine  *stepper.Engine
	mm      *metrics.MotionMetrics
}

// shutdown stops the reactor and releases anything blocked on the
// controller.
func (c *controller) shutdown() {
	close(c.done)
	c.react.End()
}

// kick wakes the motion timer. Called on the reactor goroutine after new
// input may have made the planner runnable.
func (c *controller) kick() {
	c.react.UpdateTimer(c.motionTimer, reactor.NOW)
}

// runPlanner advances the cooperative planner callbacks as far as they
// will go: resume a pending arc, advance hold planning, then stage
// segments until the stepper engine is full or the queue is drained.
func (c *controller) runPlanner() {
	if _, err := c.plan.ArcCallback(); err != nil {
		c.logger.Error("arc interpolation: %v", err)
	}
	if _, err := c.plan.PlanHoldCallback(); err != nil {
		c.logger.Error("feedhold planning: %v", err)
	}
	for {
		res, err := c.plan.ExecMove()
		if err != nil {
			c.logger.Error("move execution: %v", err)
			return
		}
		if res == planner.ExecIdle {
			return
		}
	}
}

// motionTick is the segment scheduler: stage what the planner has, run
// one segment through the backend, and sleep for that segment's
// duration so output tracks wall-clock time.
func (c *controller) motionTick(eventtime float64) float64 {
	c.runPlanner()
	d := c.engine.PendingDuration()
	if d <= 0 {
		if !c.plan.IsBusy() {
			return reactor.NEVER // woken by the next submitted line
		}
		return eventtime + idlePollSeconds
	}
	if _, err := c.engine.Advance(); err != nil {
		c.logger.Error("segment output: %v", err)
		return eventtime + idlePollSeconds
	}
	c.runPlanner()
	return eventtime + d/1e6
}

// metricsTick refreshes the machine gauges once a second.
func (c *controller) metricsTick(eventtime float64) float64 {
	if c.mm != nil {
		c.mm.UpdateSystemMetrics()
		c.mm.MachineState.Set(nil, float64(c.machine.State()))
		c.mm.ActiveLine.Set(nil, float64(c.plan.Linenum()))
		c.mm.MachineVelocity.Set(nil, c.plan.RuntimeVelocity())
		for i := 0; i < kinematics.NumAxes; i++ {
			c.mm.SetMachinePosition(kinematics.AxisNames[i], c.plan.RuntimePosition(i))
		}
	}
	return eventtime + 1.0
}

// Submit hands one input line to the G-code front end on the reactor
// goroutine and waits for the result. Part of report.MachineProvider.
func (c *controller) Submit(line string) error {
	ch := make(chan error, 1)
	c.react.RegisterAsyncCallback(func(eventtime float64) interface{} {
		err := c.exec.ProcessLine(line)
		if err == nil {
			c.kick()
		}
		ch <- err
		return nil
	}, reactor.NOW)
	select {
	case err := <-ch:
		return err
	case <-c.done:
		return errors.MachineStateError("submit", "shutdown")
	}
}

// Status snapshots the machine state on the reactor goroutine. Part of
// report.MachineProvider.
func (c *controller) Status() report.Status {
	ch := make(chan report.Status, 1)
	c.react.RegisterAsyncCallback(func(eventtime float64) interface{} {
		ch <- c.snapshot()
		return nil
	}, reactor.NOW)
	select {
	case st := <-ch:
		return st
	case <-c.done:
		return report.Status{State: "EXIT"}
	}
}

func (c *controller) snapshot() report.Status {
	st := report.Status{
		Line:     c.plan.Linenum(),
		State:    c.machine.State().String(),
		Hold:     c.plan.GetHoldState().String(),
		Velocity: c.plan.RuntimeVelocity(),
		Queue:    c.plan.QueuedCount(),
	}
	for i := range st.Position {
		st.Position[i] = c.plan.RuntimePosition(i)
	}
	return st
}

// serialLoop reads the serial port and feeds complete lines to the front
// end. The single-character controls act immediately, wherever they
// appear in the stream; everything else accumulates until a newline.
func (c *controller) serialLoop(port *serial.Port) {
	buf := make([]byte, 256)
	var pending []byte
	for {
		select {
		case <-c.done:
			return
		default:
		}
		n, err := port.Read(buf)
		if err == serial.ErrTimeout {
			continue
		}
		if err != nil {
			c.logger.Error("serial read: %v", err)
			return
		}
		for _, b := range buf[:n] {
			switch b {
			case '!', '~', '%':
				c.submitSerial(port, string(b))
			case '\r':
				// ignore
			case '\n':
				line := string(pending)
				pending = pending[:0]
				c.submitSerial(port, line)
			default:
				pending = append(pending, b)
			}
		}
	}
}

// submitSerial submits one line, holding it across BUFFER_FULL until the
// queue drains. Responses go back out the port, one per line.
func (c *controller) submitSerial(port *serial.Port, line string) {
	for {
		err := c.Submit(line)
		if err == nil {
			_, _ = port.Write([]byte("ok\n"))
			return
		}
		if errors.IsCode(err, errors.ErrBufferFull) {
			select {
			case <-c.done:
				return
			case <-time.After(25 * time.Millisecond):
			}
			continue
		}
		_, _ = port.Write([]byte(fmt.Sprintf("err: %v\n", err)))
		return
	}
}
