package control

import (
	"fmt"
	"math"
)

// VehicleParameters holds the physical and calibration constants of the
// vehicle. They are fixed for the lifetime of a TwistController.
type VehicleParameters struct {
	VehicleMass   float64 `json:"vehicle_mass"`    // kg, curb mass
	FuelCapacity  float64 `json:"fuel_capacity"`   // gal
	BrakeDeadband float64 `json:"brake_deadband"`  // m/s², decel requests below this are ignored
	DecelLimit    float64 `json:"decel_limit"`     // m/s², negative
	AccelLimit    float64 `json:"accel_limit"`     // m/s²
	WheelRadius   float64 `json:"wheel_radius"`    // m
	WheelBase     float64 `json:"wheel_base"`      // m
	SteerRatio    float64 `json:"steer_ratio"`     // steering wheel angle / road wheel angle
	MaxLatAccel   float64 `json:"max_lat_accel"`   // m/s²
	MaxSteerAngle float64 `json:"max_steer_angle"` // rad, steering wheel
}

// PIDConfig holds PID controller parameters
type PIDConfig struct {
	Kp        float64 `json:"kp"`
	Ki        float64 `json:"ki"`
	Kd        float64 `json:"kd"`
	OutputMin float64 `json:"output_min"` // m/s², most negative acceleration command
	OutputMax float64 `json:"output_max"` // m/s², also the throttle ceiling
}

// FilterConfig holds low-pass filter parameters.
// Cutoff frequency is 1/(2*pi*Tau).
type FilterConfig struct {
	Tau        float64 `json:"tau"`         // s
	SampleTime float64 `json:"sample_time"` // s, nominal control period
}

// TuningConfig gathers every tunable value of the twist controller that is
// not a property of the vehicle itself.
type TuningConfig struct {
	Throttle PIDConfig    `json:"throttle_pid"`
	Filter   FilterConfig `json:"filter"`

	// MinSpeed is the velocity floor used by the yaw controller so the
	// turning radius never collapses at standstill.
	MinSpeed float64 `json:"min_speed"` // m/s

	// HoldTorque is applied when the commanded linear velocity is zero.
	HoldTorque float64 `json:"hold_torque"` // N·m

	// FuelDensity converts fuel capacity into mass.
	FuelDensity float64 `json:"fuel_density"` // kg/gal
}

// Config is the full construction input of a TwistController.
type Config struct {
	Vehicle VehicleParameters `json:"vehicle"`
	Tuning  TuningConfig      `json:"tuning"`
}

// DefaultConfig returns the calibration of a mid-size sedan (Lincoln MKZ
// class) and the stock throttle/filter tuning.
func DefaultConfig() Config {
	return Config{
		Vehicle: VehicleParameters{
			VehicleMass:   1736.35,
			FuelCapacity:  13.5,
			BrakeDeadband: 0.1,
			DecelLimit:    -5.0,
			AccelLimit:    1.0,
			WheelRadius:   0.2413,
			WheelBase:     2.8498,
			SteerRatio:    14.8,
			MaxLatAccel:   3.0,
			MaxSteerAngle: 8.0,
		},
		Tuning: TuningConfig{
			Throttle: PIDConfig{
				Kp:        0.3,
				Ki:        0.1,
				Kd:        0.0,
				OutputMin: -5.0,
				OutputMax: 1.0,
			},
			Filter: FilterConfig{
				Tau:        0.5,
				SampleTime: 0.02,
			},
			MinSpeed:    0.1,
			HoldTorque:  700.0,
			FuelDensity: 2.858,
		},
	}
}

// LoadedMass returns curb mass plus the mass of a full tank.
func (p VehicleParameters) LoadedMass(fuelDensity float64) float64 {
	return p.VehicleMass + p.FuelCapacity*fuelDensity
}

// Validate checks that the configuration describes a physically usable
// controller.
func (c Config) Validate() error {
	v := c.Vehicle
	t := c.Tuning

	for name, val := range map[string]float64{
		"vehicle_mass":    v.VehicleMass,
		"wheel_radius":    v.WheelRadius,
		"wheel_base":      v.WheelBase,
		"steer_ratio":     v.SteerRatio,
		"max_lat_accel":   v.MaxLatAccel,
		"max_steer_angle": v.MaxSteerAngle,
		"filter.tau":      t.Filter.Tau,
		"filter.sample":   t.Filter.SampleTime,
		"min_speed":       t.MinSpeed,
	} {
		if math.IsNaN(val) || math.IsInf(val, 0) || val <= 0 {
			return fmt.Errorf("invalid %s: %f (must be > 0)", name, val)
		}
	}

	if v.FuelCapacity < 0 {
		return fmt.Errorf("invalid fuel_capacity: %f", v.FuelCapacity)
	}
	if v.BrakeDeadband < 0 {
		return fmt.Errorf("invalid brake_deadband: %f", v.BrakeDeadband)
	}
	if t.FuelDensity < 0 {
		return fmt.Errorf("invalid fuel_density: %f", t.FuelDensity)
	}
	if t.HoldTorque < 0 {
		return fmt.Errorf("invalid hold_torque: %f", t.HoldTorque)
	}
	if t.Throttle.OutputMin >= t.Throttle.OutputMax {
		return fmt.Errorf("invalid throttle_pid output range [%f, %f]",
			t.Throttle.OutputMin, t.Throttle.OutputMax)
	}
	if t.Throttle.OutputMax <= 0 {
		return fmt.Errorf("invalid throttle_pid output_max: %f (throttle would never engage)", t.Throttle.OutputMax)
	}

	return nil
}
