package control

// PIDController implements a discrete PID controller that turns a velocity
// error into an acceleration command.
type PIDController struct {
	cfg PIDConfig

	// State
	integral  float64
	prevError float64
	hasPrev   bool

	// Last step terms, for diagnostics
	lastP, lastI, lastD float64
}

// NewPIDController creates a new PID controller with given configuration
func NewPIDController(cfg PIDConfig) *PIDController {
	return &PIDController{cfg: cfg}
}

// Reset clears the PID state. Calling it repeatedly is harmless.
func (pid *PIDController) Reset() {
	pid.integral = 0.0
	pid.prevError = 0.0
	pid.hasPrev = false
	pid.lastP, pid.lastI, pid.lastD = 0, 0, 0
}

// Step computes the PID output for the given error and elapsed time.
//
// The integrator only commits when the output is inside [OutputMin,
// OutputMax]. The derivative term is skipped on the first step after a
// reset and whenever dt <= 0; dt <= 0 also leaves the integrator untouched.
//
// Returns: acceleration command (m/s²)
func (pid *PIDController) Step(error float64, dt float64) float64 {
	p := pid.cfg.Kp * error

	integral := pid.integral
	var d float64
	if dt > 0 {
		integral += error * dt
		if pid.hasPrev {
			d = pid.cfg.Kd * (error - pid.prevError) / dt
		}
	}
	i := pid.cfg.Ki * integral

	out := p + i + d

	// Conditional integration: a saturated output keeps the old integral
	if out > pid.cfg.OutputMax {
		out = pid.cfg.OutputMax
	} else if out < pid.cfg.OutputMin {
		out = pid.cfg.OutputMin
	} else {
		pid.integral = integral
	}

	pid.prevError = error
	pid.hasPrev = true
	pid.lastP, pid.lastI, pid.lastD = p, i, d

	return out
}

// GetDiagnostics returns current PID state for logging/debugging
func (pid *PIDController) GetDiagnostics() PIDDiagnostics {
	return PIDDiagnostics{
		Error:    pid.prevError,
		Integral: pid.integral,
		P:        pid.lastP,
		I:        pid.lastI,
		D:        pid.lastD,
	}
}

// PIDDiagnostics contains PID internal state for monitoring
type PIDDiagnostics struct {
	Error    float64
	Integral float64
	P        float64
	I        float64
	D        float64
}

// GetError returns the most recent velocity error
func (pid *PIDController) GetError() float64 {
	return pid.prevError
}

// GetIntegral returns the current integral term value
func (pid *PIDController) GetIntegral() float64 {
	return pid.integral
}
