// Machine profile parsing
//
// Extracts the planner tuning, axis limits and motor mapping from a
// machine.cfg file, plus the host service settings (serial port, status
// report and metrics listeners, logging).
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package config

import (
	"fmt"
	"strings"

	"tinyg-go-migration/pkg/kinematics"
	"tinyg-go-migration/pkg/planner"
)

// SerialSettings configures the G-code serial input.
type SerialSettings struct {
	Device string
	Baud   int
}

// ReportSettings configures the websocket status report server.
type ReportSettings struct {
	Listen   string
	Interval float64 // seconds between pushed reports
}

// MetricsSettings configures the Prometheus endpoint.
type MetricsSettings struct {
	Listen string
}

// LogSettings configures logging output.
type LogSettings struct {
	Level string
	File  string
}

// MachineProfile is the fully parsed machine configuration.
type MachineProfile struct {
	Planner planner.Config
	Motors  [kinematics.NumMotors]kinematics.MotorConfig
	Serial  SerialSettings
	Report  ReportSettings
	Metrics MetricsSettings
	Log     LogSettings
}

var axisModeChoices = []string{"standard", "disabled", "inhibited", "radius", "slaved"}

func axisModeFrom(s string) planner.AxisMode {
	switch s {
	case "disabled":
		return planner.AxisDisabled
	case "inhibited":
		return planner.AxisInhibited
	case "radius":
		return planner.AxisRadius
	case "slaved":
		return planner.AxisSlaved
	default:
		return planner.AxisStandard
	}
}

// DefaultMachineProfile returns the stock profile used when no
// machine.cfg is given: default planner tuning, 1.8 degree motors mapped
// one-to-one onto the axes, and the standard service listeners.
func DefaultMachineProfile() *MachineProfile {
	mp := &MachineProfile{
		Planner: planner.DefaultConfig(),
		Serial:  SerialSettings{Baud: 115200},
		Report:  ReportSettings{Listen: ":8080", Interval: 0.25},
		Metrics: MetricsSettings{Listen: ":9100"},
		Log:     LogSettings{Level: "info"},
	}
	for i := range mp.Motors {
		mp.Motors[i] = kinematics.MotorConfig{
			Axis:         i,
			StepAngle:    1.8,
			TravelPerRev: 40,
			Microsteps:   8,
		}
	}
	return mp
}

// LoadMachineProfile reads and parses a machine.cfg file.
func LoadMachineProfile(path string) (*MachineProfile, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	return MachineProfileFromConfig(cfg)
}

// MachineProfileFromConfig parses an already loaded Config. Every option
// has a default, so an empty file yields the stock profile.
func MachineProfileFromConfig(cfg *Config) (*MachineProfile, error) {
	mp := DefaultMachineProfile()

	if s := cfg.GetSectionOptional("planner"); s != nil {
		if err := parsePlannerSection(s, &mp.Planner); err != nil {
			return nil, err
		}
	}

	for i := 0; i < kinematics.NumAxes; i++ {
		name := "axis " + kinematics.AxisNames[i]
		s := cfg.GetSectionOptional(strings.ToLower(name))
		if s == nil {
			continue
		}
		if err := parseAxisSection(s, &mp.Planner.Axes[i]); err != nil {
			return nil, err
		}
	}

	motors, err := parseMotorSections(cfg)
	if err != nil {
		return nil, err
	}
	mp.Motors = motors

	if s := cfg.GetSectionOptional("serial"); s != nil {
		mp.Serial.Device, _ = s.Get("device", "")
		mp.Serial.Baud, _ = s.GetInt("baud", 115200)
	}
	if s := cfg.GetSectionOptional("report"); s != nil {
		mp.Report.Listen, _ = s.Get("listen", ":8080")
		mp.Report.Interval, _ = s.GetFloat("interval", 0.25)
	}
	if s := cfg.GetSectionOptional("metrics"); s != nil {
		mp.Metrics.Listen, _ = s.Get("listen", ":9100")
	}
	if s := cfg.GetSectionOptional("log"); s != nil {
		mp.Log.Level, _ = s.GetChoice("level", []string{"debug", "info", "warning", "error"}, "info")
		mp.Log.File, _ = s.Get("file", "")
	}

	return mp, nil
}

func parsePlannerSection(s *Section, pc *planner.Config) error {
	var err error
	get := func(opt string, dst *float64) {
		if err != nil {
			return
		}
		*dst, err = s.GetFloat(opt, *dst)
	}
	get("corner_acceleration", &pc.CornerAcceleration)
	get("min_line_length", &pc.MinLineLength)
	get("nom_segment_usec", &pc.NomSegmentUsec)
	get("min_segment_usec", &pc.MinSegmentUsec)
	get("min_arc_segment_length", &pc.MinArcSegmentLength)
	if err != nil {
		return err
	}
	minQueue := 4
	pc.QueueSize, err = s.GetIntWithBounds("queue_size", &minQueue, nil, pc.QueueSize)
	if err != nil {
		return err
	}
	if pc.MinSegmentUsec > pc.NomSegmentUsec {
		return NewConfigError("planner", "min_segment_usec",
			"must not exceed nom_segment_usec")
	}
	return nil
}

func parseAxisSection(s *Section, ax *planner.AxisConfig) error {
	mode, err := s.GetChoice("mode", axisModeChoices, "standard")
	if err != nil {
		return err
	}
	ax.Mode = axisModeFrom(mode)
	get := func(opt string, dst *float64) {
		if err != nil {
			return
		}
		*dst, err = s.GetFloat(opt, *dst)
	}
	get("velocity_max", &ax.VelocityMax)
	get("feedrate_max", &ax.FeedrateMax)
	get("travel_max", &ax.TravelMax)
	get("jerk_max", &ax.JerkMax)
	get("junction_deviation", &ax.JunctionDev)
	get("radius", &ax.Radius)
	if err != nil {
		return err
	}
	if ax.Mode == planner.AxisRadius && ax.Radius <= 0 {
		return NewConfigError(s.GetName(), "radius",
			"radius mode requires a positive radius")
	}
	return nil
}

// parseMotorSections reads [motor 1] .. [motor 6]. Missing sections get a
// stock 1.8 degree motor mapped one-to-one onto the axes.
func parseMotorSections(cfg *Config) ([kinematics.NumMotors]kinematics.MotorConfig, error) {
	var motors [kinematics.NumMotors]kinematics.MotorConfig
	for i := range motors {
		motors[i] = kinematics.MotorConfig{
			Axis:         i,
			StepAngle:    1.8,
			TravelPerRev: 40,
			Microsteps:   8,
		}
		s := cfg.GetSectionOptional(fmt.Sprintf("motor %d", i+1))
		if s == nil {
			continue
		}
		axisName, err := s.GetChoice("axis",
			[]string{"x", "y", "z", "a", "b", "c"},
			strings.ToLower(kinematics.AxisNames[i]))
		if err != nil {
			return motors, err
		}
		motors[i].Axis = kinematics.AxisIndex(axisName[0])
		if motors[i].StepAngle, err = s.GetFloat("step_angle", 1.8); err != nil {
			return motors, err
		}
		if motors[i].TravelPerRev, err = s.GetFloat("travel_per_rev", 40); err != nil {
			return motors, err
		}
		if motors[i].Microsteps, err = s.GetInt("microsteps", 8); err != nil {
			return motors, err
		}
		if motors[i].Reversed, err = s.GetBool("reversed", false); err != nil {
			return motors, err
		}
	}
	return motors, nil
}
