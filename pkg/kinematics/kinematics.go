// Package kinematics maps axis displacements to per-motor step counts.
// The machine model is identity plus an axis-to-motor permutation: each
// motor drives exactly one axis through its own steps-per-unit scale.
package kinematics

import (
	"fmt"
	"math"
)

// Axis indices. Three linear axes followed by three rotary axes.
const (
	AxisX = iota
	AxisY
	AxisZ
	AxisA
	AxisB
	AxisC

	// NumAxes is the fixed number of supported axes.
	NumAxes = 6
)

// NumMotors is the fixed number of motor slots.
const NumMotors = 6

// AxisNames maps axis indices to their G-code letters.
var AxisNames = [NumAxes]string{"X", "Y", "Z", "A", "B", "C"}

// AxisIndex returns the index for an axis letter, or -1 if unknown.
func AxisIndex(name byte) int {
	switch name {
	case 'x', 'X':
		return AxisX
	case 'y', 'Y':
		return AxisY
	case 'z', 'Z':
		return AxisZ
	case 'a', 'A':
		return AxisA
	case 'b', 'B':
		return AxisB
	case 'c', 'C':
		return AxisC
	default:
		return -1
	}
}

// MotorConfig describes one stepper motor slot.
type MotorConfig struct {
	// Axis is the index of the axis this motor drives (-1 for unused slot).
	Axis int

	// StepAngle is the full-step angle in degrees (typically 1.8).
	StepAngle float64

	// TravelPerRev is the axis travel per motor revolution
	// (mm for linear axes, degrees for rotary axes).
	TravelPerRev float64

	// Microsteps is the microstep divisor (1, 2, 4, 8, ...).
	Microsteps int

	// Reversed inverts the motor direction.
	Reversed bool
}

// StepsPerUnit returns the derived steps per mm (or per degree).
func (mc MotorConfig) StepsPerUnit() float64 {
	if mc.StepAngle <= 0 || mc.TravelPerRev <= 0 || mc.Microsteps <= 0 {
		return 0
	}
	return (360 / mc.StepAngle) * float64(mc.Microsteps) / mc.TravelPerRev
}

// Kinematics converts between axis space and motor step space.
type Kinematics struct {
	motors       [NumMotors]MotorConfig
	stepsPerUnit [NumMotors]float64
}

// New builds a Kinematics from the motor configuration.
// Motors with Axis < 0 are left unused and always produce zero steps.
func New(motors [NumMotors]MotorConfig) (*Kinematics, error) {
	k := &Kinematics{motors: motors}
	for i, mc := range motors {
		if mc.Axis < 0 {
			continue
		}
		if mc.Axis >= NumAxes {
			return nil, fmt.Errorf("kinematics: motor %d mapped to invalid axis %d", i+1, mc.Axis)
		}
		spu := mc.StepsPerUnit()
		if spu <= 0 || math.IsInf(spu, 0) || math.IsNaN(spu) {
			return nil, fmt.Errorf("kinematics: motor %d has invalid steps per unit", i+1)
		}
		if mc.Reversed {
			spu = -spu
		}
		k.stepsPerUnit[i] = spu
	}
	return k, nil
}

// Inverse maps an axis displacement vector (mm, degrees) to fractional
// per-motor step counts. This is the only place step counts are computed;
// the stepper engine accumulates the fractional parts across segments.
func (k *Kinematics) Inverse(travel [NumAxes]float64) [NumMotors]float64 {
	var steps [NumMotors]float64
	for i := range k.motors {
		if k.motors[i].Axis < 0 {
			continue
		}
		steps[i] = travel[k.motors[i].Axis] * k.stepsPerUnit[i]
	}
	return steps
}

// Forward maps per-motor step counts back to an axis displacement vector.
// When several motors drive one axis the last one wins; used for position
// reporting and round-trip tests, not in the step path.
func (k *Kinematics) Forward(steps [NumMotors]float64) [NumAxes]float64 {
	var travel [NumAxes]float64
	for i := range k.motors {
		if k.motors[i].Axis < 0 || k.stepsPerUnit[i] == 0 {
			continue
		}
		travel[k.motors[i].Axis] = steps[i] / k.stepsPerUnit[i]
	}
	return travel
}

// StepsPerUnit returns the signed steps-per-unit scale for a motor.
func (k *Kinematics) StepsPerUnit(motor int) float64 {
	return k.stepsPerUnit[motor]
}

// MotorAxis returns the axis index a motor drives, or -1 if unused.
func (k *Kinematics) MotorAxis(motor int) int {
	return k.motors[motor].Axis
}
