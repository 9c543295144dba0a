// Motion controller metrics definitions
//
// Defines all metrics for the TinyG Go host including:
// - Planner queue metrics
// - Segment preparer and stepper metrics
// - Machine state and position
// - G-code processing metrics
// - System metrics
//
// Copyright (C) 2026 Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package metrics

import (
	goruntime "runtime"
	"time"
)

// MotionMetrics holds all motion-controller metrics
type MotionMetrics struct {
	// Planner metrics
	QueueDepth    *Gauge
	BlocksPlanned *Counter
	ReplanDepth   *Histogram
	Feedholds     *Counter
	ArcsStarted   *Counter

	// Segment/stepper metrics
	SegmentsPrepared *Counter
	SegmentsExecuted *Counter
	StepsEmitted     *Counter
	DwellTime        *Counter

	// Machine metrics
	MachinePosition *Gauge
	MachineVelocity *Gauge
	MachineState    *Gauge
	ActiveLine      *Gauge

	// G-code processing metrics
	GCodeLinesTotal  *Counter
	GCodeErrorsTotal *Counter

	// System metrics
	HostUptime   *Counter
	GoGoroutines *Gauge
	GoMemoryHeap *Gauge
	GoGCCycles   *Counter

	startTime time.Time
	registry  *Registry
}

// NewMotionMetrics creates and registers all motion metrics
func NewMotionMetrics() *MotionMetrics {
	mm := &MotionMetrics{
		startTime: time.Now(),
		registry:  NewRegistry(),
	}

	mm.QueueDepth = NewGauge("tinyg_planner_queue_depth",
		"Number of occupied planner buffers")
	mm.BlocksPlanned = NewCounter("tinyg_planner_blocks_total",
		"Total move blocks accepted by the planner")
	mm.ReplanDepth = NewHistogram("tinyg_planner_replan_depth",
		"Blocks touched per look-ahead replanning pass",
		[]float64{1, 2, 4, 8, 16, 28})
	mm.Feedholds = NewCounter("tinyg_feedholds_total",
		"Total completed feedholds")
	mm.ArcsStarted = NewCounter("tinyg_arcs_total",
		"Total arc moves started")

	mm.SegmentsPrepared = NewCounter("tinyg_segments_prepared_total",
		"Total stepper segments staged by the preparer")
	mm.SegmentsExecuted = NewCounter("tinyg_segments_executed_total",
		"Total stepper segments executed")
	mm.StepsEmitted = NewCounter("tinyg_steps_emitted_total",
		"Total whole steps emitted per motor")
	mm.DwellTime = NewCounter("tinyg_dwell_microseconds_total",
		"Total dwell time executed in microseconds")

	mm.MachinePosition = NewGauge("tinyg_machine_position",
		"Current machine position per axis")
	mm.MachineVelocity = NewGauge("tinyg_machine_velocity",
		"Current path velocity in units per minute")
	mm.MachineState = NewGauge("tinyg_machine_state",
		"Machine state (0=reset, 1=run, 2=stop, 3=hold, 4=end)")
	mm.ActiveLine = NewGauge("tinyg_active_line",
		"G-code line number of the executing block")

	mm.GCodeLinesTotal = NewCounter("tinyg_gcode_lines_total",
		"Total G-code lines processed")
	mm.GCodeErrorsTotal = NewCounter("tinyg_gcode_errors_total",
		"Total G-code lines rejected, by error code")

	mm.HostUptime = NewCounter("tinyg_host_uptime_seconds_total",
		"Total host uptime in seconds")
	mm.GoGoroutines = NewGauge("tinyg_go_goroutines",
		"Number of active goroutines")
	mm.GoMemoryHeap = NewGauge("tinyg_go_memory_heap_bytes",
		"Go heap memory in use")
	mm.GoGCCycles = NewCounter("tinyg_go_gc_cycles_total",
		"Total Go garbage collection cycles")

	mm.registerAll()
	return mm
}

func (mm *MotionMetrics) registerAll() {
	metrics := []Metric{
		mm.QueueDepth, mm.BlocksPlanned, mm.ReplanDepth,
		mm.Feedholds, mm.ArcsStarted,
		mm.SegmentsPrepared, mm.SegmentsExecuted, mm.StepsEmitted, mm.DwellTime,
		mm.MachinePosition, mm.MachineVelocity, mm.MachineState, mm.ActiveLine,
		mm.GCodeLinesTotal, mm.GCodeErrorsTotal,
		mm.HostUptime, mm.GoGoroutines, mm.GoMemoryHeap, mm.GoGCCycles,
	}
	for _, m := range metrics {
		mm.registry.MustRegister(m)
	}
}

// UpdateSystemMetrics updates Go runtime metrics
func (mm *MotionMetrics) UpdateSystemMetrics() {
	var m goruntime.MemStats
	goruntime.ReadMemStats(&m)

	mm.GoGoroutines.Set(nil, float64(goruntime.NumGoroutine()))
	mm.GoMemoryHeap.Set(nil, float64(m.HeapAlloc))
	mm.GoGCCycles.Add(nil, uint64(m.NumGC)-mm.GoGCCycles.Get(nil))
	mm.HostUptime.Add(nil, uint64(time.Since(mm.startTime).Seconds())-mm.HostUptime.Get(nil))
}

// SetMachinePosition updates the per-axis position gauges
func (mm *MotionMetrics) SetMachinePosition(axis string, value float64) {
	mm.MachinePosition.Set(Labels{"axis": axis}, value)
}

// RecordGCodeError counts a rejected G-code line by error code
func (mm *MotionMetrics) RecordGCodeError(code string) {
	mm.GCodeErrorsTotal.Inc(Labels{"code": code})
}

// Gather returns all metrics in Prometheus text format
func (mm *MotionMetrics) Gather() string {
	mm.UpdateSystemMetrics()
	return mm.registry.Gather()
}

// Registry returns the internal registry
func (mm *MotionMetrics) Registry() *Registry {
	return mm.registry
}
