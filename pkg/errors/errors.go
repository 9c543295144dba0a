// Unified error handling for TinyG Go migration
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Planner errors
	ErrZeroLength    ErrorCode = "ZERO_LENGTH"
	ErrBufferFull    ErrorCode = "BUFFER_FULL"
	ErrArcSpec       ErrorCode = "ARC_SPEC"
	ErrFeedrateZero  ErrorCode = "FEEDRATE_ZERO"
	ErrFloatingPoint ErrorCode = "FLOATING_POINT"
	ErrInternal      ErrorCode = "INTERNAL"

	// Stepper errors
	ErrStepperBusy ErrorCode = "STEPPER_BUSY"

	// Machine errors
	ErrMachineState ErrorCode = "MACHINE_STATE"
	ErrSoftLimit    ErrorCode = "SOFT_LIMIT"

	// Configuration errors
	ErrConfigSection    ErrorCode = "CONFIG_SECTION"
	ErrConfigOption     ErrorCode = "CONFIG_OPTION"
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"
	ErrConfigType       ErrorCode = "CONFIG_TYPE"

	// G-code parsing errors
	ErrGCodeParse        ErrorCode = "GCODE_PARSE"
	ErrGCodeUnknownCmd   ErrorCode = "GCODE_UNKNOWN_CMD"
	ErrGCodeInvalidParam ErrorCode = "GCODE_INVALID_PARAM"
)

// MotionError is the unified error type for the motion controller
type MotionError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Linenum is the originating G-code line number (0 if unknown)
	Linenum int

	// Section is the config section or context
	Section string

	// Option is the config option name (if applicable)
	Option string

	// Err wraps the underlying error
	Err error
}

// Error implements the error interface
func (e *MotionError) Error() string {
	if e.Linenum > 0 {
		return fmt.Sprintf("[%s] N%d: %s", e.Code, e.Linenum, e.Message)
	}
	if e.Section != "" {
		return fmt.Sprintf("[%s:%s] %s", e.Code, e.Section, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *MotionError) Unwrap() error {
	return e.Err
}

// SetLinenum sets the originating G-code line number
func (e *MotionError) SetLinenum(n int) *MotionError {
	e.Linenum = n
	return e
}

// SetSection sets the context section
func (e *MotionError) SetSection(section string) *MotionError {
	e.Section = section
	return e
}

// SetOption sets the config option
func (e *MotionError) SetOption(option string) *MotionError {
	e.Option = option
	return e
}

// New creates a new MotionError
func New(code ErrorCode, message string) *MotionError {
	return &MotionError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code ErrorCode, message string) *MotionError {
	return &MotionError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CodeOf returns the error code of err, or "" if err is not a MotionError.
func CodeOf(err error) ErrorCode {
	var me *MotionError
	if errors.As(err, &me) {
		return me.Code
	}
	return ""
}

// IsCode reports whether err carries the given error code.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// Planner errors

// ZeroLengthError reports a move below the minimum length or time.
// Callers treat it as success: the move is silently absorbed.
func ZeroLengthError() *MotionError {
	return New(ErrZeroLength, "move is below minimum length")
}

// BufferFullError reports that no planner buffer is writable.
// Recoverable: the producer must back-pressure and retry.
func BufferFullError() *MotionError {
	return New(ErrBufferFull, "planner queue is full")
}

// ArcSpecError creates an error for inconsistent arc geometry
func ArcSpecError(reason string) *MotionError {
	return New(ErrArcSpec, fmt.Sprintf("arc specification error: %s", reason))
}

// FeedrateZeroError reports a feed move with no feed rate set
func FeedrateZeroError() *MotionError {
	return New(ErrFeedrateZero, "feed rate is zero and inverse time mode is off")
}

// FloatingPointError reports a NaN or Inf where a finite value is required
func FloatingPointError(context string) *MotionError {
	return New(ErrFloatingPoint, fmt.Sprintf("non-finite value in %s", context))
}

// InternalError reports an invariant violation in the motion core
func InternalError(message string) *MotionError {
	return New(ErrInternal, message)
}

// Stepper errors

// StepperBusyError reports that the staged segment slot is occupied
func StepperBusyError() *MotionError {
	return New(ErrStepperBusy, "segment already staged")
}

// Machine errors

// MachineStateError reports an operation illegal in the current machine state
func MachineStateError(operation, state string) *MotionError {
	return New(ErrMachineState, fmt.Sprintf("%s not allowed in state %s", operation, state))
}

// SoftLimitError reports a target outside the travel envelope
func SoftLimitError(axis string, target, travelMax float64) *MotionError {
	return New(ErrSoftLimit, fmt.Sprintf("%s target %.3f exceeds travel %.3f", axis, target, travelMax))
}

// Config errors

// ConfigSectionError creates an error for missing config section
func ConfigSectionError(section string) *MotionError {
	return New(ErrConfigSection, fmt.Sprintf("section '%s' not found", section)).
		SetSection(section)
}

// ConfigOptionError creates an error for missing or invalid config option
func ConfigOptionError(section, option string) *MotionError {
	return New(ErrConfigOption, fmt.Sprintf("option '%s' not found in section '%s'", option, section)).
		SetSection(section).
		SetOption(option)
}

// ConfigValidationError creates an error for config validation failure
func ConfigValidationError(section, option string, reason string) *MotionError {
	return New(ErrConfigValidation, fmt.Sprintf("option '%s' in section '%s': %s", option, section, reason)).
		SetSection(section).
		SetOption(option)
}

// ConfigTypeError creates an error for config type conversion failure
func ConfigTypeError(section, option, value string, targetType string, err error) *MotionError {
	return Wrap(err, ErrConfigType, fmt.Sprintf("option '%s' in section '%s': failed to parse '%s' as %s", option, section, value, targetType)).
		SetSection(section).
		SetOption(option)
}

// G-code errors

// GCodeParseError creates an error for G-code parsing failure
func GCodeParseError(line string, reason string) *MotionError {
	return New(ErrGCodeParse, fmt.Sprintf("failed to parse G-code: %s (reason: %s)", line, reason))
}

// GCodeUnknownCommandError creates an error for an unsupported word
func GCodeUnknownCommandError(command string) *MotionError {
	return New(ErrGCodeUnknownCmd, fmt.Sprintf("unknown G-code command: %s", command))
}

// GCodeInvalidParameterError creates an error for invalid G-code parameter
func GCodeInvalidParameterError(command, param, value string, reason string) *MotionError {
	return New(ErrGCodeInvalidParam, fmt.Sprintf("G-code command '%s': invalid parameter '%s=%s' (%s)", command, param, value, reason))
}
