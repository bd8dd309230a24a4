package control

import "math"

// yawClampSpeed is the speed above which the lateral-acceleration yaw-rate
// limit is applied.
const yawClampSpeed = 0.1 // m/s

// YawController maps a twist command to a steering wheel angle using a
// kinematic bicycle model.
type YawController struct {
	wheelBase   float64
	steerRatio  float64
	minSpeed    float64
	maxLatAccel float64

	minAngle float64
	maxAngle float64
}

// NewYawController creates a stateless lateral controller.
func NewYawController(wheelBase, steerRatio, minSpeed, maxLatAccel, maxSteerAngle float64) *YawController {
	return &YawController{
		wheelBase:   wheelBase,
		steerRatio:  steerRatio,
		minSpeed:    minSpeed,
		maxLatAccel: maxLatAccel,
		minAngle:    -maxSteerAngle,
		maxAngle:    maxSteerAngle,
	}
}

// angle converts a turning radius into a clamped steering wheel angle.
func (y *YawController) angle(radius float64) float64 {
	a := math.Atan(y.wheelBase/radius) * y.steerRatio
	return ClampFloat(a, y.minAngle, y.maxAngle)
}

// SteeringAngle returns the steering wheel angle (rad) that makes the
// vehicle, travelling at currentVelocity, follow the curvature implied by
// the desired linear and angular velocity.
func (y *YawController) SteeringAngle(linearVelocity, angularVelocity, currentVelocity float64) float64 {
	// Keep the commanded curvature, rescale to the actual speed
	yawRate := 0.0
	if math.Abs(linearVelocity) > 0 {
		yawRate = currentVelocity * angularVelocity / linearVelocity
	}

	if math.Abs(currentVelocity) > yawClampSpeed {
		maxYawRate := math.Abs(y.maxLatAccel / currentVelocity)
		yawRate = ClampFloat(yawRate, -maxYawRate, maxYawRate)
	}

	if math.Abs(yawRate) > 0 {
		return y.angle(math.Max(currentVelocity, y.minSpeed) / yawRate)
	}
	return 0.0
}
