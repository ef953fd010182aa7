// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package ilc

import (
	"fmt"
	"math"
)

// ValidatorConfig holds the telemetry limits checked after decoding.
// A zero tolerance or an empty range disables the check.
type ValidatorConfig struct {
	FollowingErrorTolerance float32 `yaml:"following_error_tolerance"` // newtons
	PressureMin             float32 `yaml:"pressure_min"`
	PressureMax             float32 `yaml:"pressure_max"`
	LVDTMin                 float32 `yaml:"lvdt_min"`
	LVDTMax                 float32 `yaml:"lvdt_max"`
}

// DefaultValidatorConfig returns the limits used when the device table gives none
func DefaultValidatorConfig() ValidatorConfig {
	return ValidatorConfig{
		FollowingErrorTolerance: 200,
		PressureMin:             0,
		PressureMax:             300,
		LVDTMin:                 -10,
		LVDTMax:                 10,
	}
}

// validateFollowingError compares measured forces against the last demand
func validateFollowingError(cfg *ValidatorConfig, fn uint8, fa *ForceActuatorData, dual bool) []Warning {
	if cfg.FollowingErrorTolerance <= 0 {
		return nil
	}
	warnings := []Warning{}

	check := func(axis string, measured, setpoint float32) {
		diff := float32(math.Abs(float64(measured - setpoint)))
		if diff > cfg.FollowingErrorTolerance {
			warnings = append(warnings, Warning{
				Kind:     WarningFollowingError,
				Function: fn,
				Message: fmt.Sprintf("%s following error %.1f N (measured %.1f, demand %.1f, tolerance %.1f)",
					axis, diff, measured, setpoint, cfg.FollowingErrorTolerance),
				Details: map[string]interface{}{
					"axis": axis, "measured": measured, "setpoint": setpoint, "tolerance": cfg.FollowingErrorTolerance,
				},
			})
		}
	}

	check("primary", fa.PrimaryForce, fa.PrimarySetpoint)
	if dual {
		check("secondary", fa.SecondaryForce, fa.SecondarySetpoint)
	}
	return warnings
}

// validateRange flags values outside [min, max]
func validateRange(fn uint8, name string, min, max float32, values ...float32) []Warning {
	if min == 0 && max == 0 {
		return nil
	}
	warnings := []Warning{}
	for i, v := range values {
		if v < min || v > max || math.IsNaN(float64(v)) {
			warnings = append(warnings, Warning{
				Kind:     WarningOutOfRange,
				Function: fn,
				Message:  fmt.Sprintf("%s[%d] out of range (%.3f, valid: %.3f to %.3f)", name, i, v, min, max),
				Details:  map[string]interface{}{"value": v, "min": min, "max": max, "index": i},
			})
		}
	}
	return warnings
}

// validatePressure checks hardpoint monitor pressures
func validatePressure(cfg *ValidatorConfig, p [4]float32) []Warning {
	return validateRange(FuncReadPressure, "pressure", cfg.PressureMin, cfg.PressureMax, p[:]...)
}

// validateLVDT checks hardpoint monitor LVDT readings
func validateLVDT(cfg *ValidatorConfig, hm *HardpointMonitorData) []Warning {
	return validateRange(FuncReportLVDT, "lvdt", cfg.LVDTMin, cfg.LVDTMax, hm.BreakawayLVDT, hm.DisplacementLVDT)
}
