package control

import "math"

// ControlRequest is the per-cycle input of the twist controller.
type ControlRequest struct {
	CurrentVelocity float64 `json:"current_velocity"` // m/s, measured
	Enabled         bool    `json:"enabled"`
	LinearVelocity  float64 `json:"linear_velocity"`  // m/s, desired
	AngularVelocity float64 `json:"angular_velocity"` // rad/s, desired yaw rate
}

// finite reports whether every numeric field is a real number.
func (r ControlRequest) finite() bool {
	for _, v := range [...]float64{r.CurrentVelocity, r.LinearVelocity, r.AngularVelocity} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// ControlCommand contains the throttle, brake and steering commands.
// Throttle and Brake are never both non-zero.
type ControlCommand struct {
	Throttle float64 `json:"throttle"` // fraction
	Brake    float64 `json:"brake"`    // N·m
	Steering float64 `json:"steering"` // rad
}

// IsAccel reports whether the command drives the vehicle forward.
func (c ControlCommand) IsAccel() bool { return c.Throttle > 0 }

// IsBrake reports whether the command applies brake torque.
func (c ControlCommand) IsBrake() bool { return c.Brake > 0 }

// ClampFloat clamps value between min and max
func ClampFloat(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// BoolToFloat converts bool to float64 (for CAN encoding)
func BoolToFloat(b bool) float64 {
	if b {
		return 1.0
	}
	return 0.0
}

// GetControlModeStr returns a string describing the control mode
func GetControlModeStr(cmd ControlCommand) string {
	if cmd.IsAccel() {
		return "[ACCEL]"
	} else if cmd.IsBrake() {
		return "[BRAKE]"
	}
	return "[COAST]"
}
