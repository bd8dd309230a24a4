package control

import (
	"fmt"
	"math"
	"time"
)

// Longitudinal turns a velocity error into an acceleration command.
type Longitudinal interface {
	Step(error, dt float64) float64
	Reset()
}

// Lateral turns a twist command into a steering angle.
type Lateral interface {
	SteeringAngle(linearVelocity, angularVelocity, currentVelocity float64) float64
}

// Smoother removes high-frequency noise from one signal.
type Smoother interface {
	Filter(v float64) float64
}

// Option customises a TwistController at construction.
type Option func(*TwistController)

// WithLongitudinal replaces the default PID throttle controller.
func WithLongitudinal(l Longitudinal) Option {
	return func(c *TwistController) { c.throttle = l }
}

// WithLateral replaces the default yaw controller.
func WithLateral(l Lateral) Option {
	return func(c *TwistController) { c.yaw = l }
}

// TwistController converts twist commands and measured speed into throttle,
// brake and steering commands.
//
// It is not safe for concurrent use: one control loop goroutine must own it.
type TwistController struct {
	vehicle VehicleParameters
	tuning  TuningConfig
	clock   Clock

	throttle Longitudinal
	yaw      Lateral

	// One filter per signal, never shared
	velLPF   Smoother
	steerLPF Smoother
	accelLPF Smoother

	state    DriveState
	lastTime time.Time

	// Last cycle values, for diagnostics
	sampleTime       float64
	filteredVelocity float64
	rawAccel         float64
	filteredAccel    float64
	holding          bool
	rejected         uint64
	resets           uint64
}

// NewTwistController validates cfg and builds a controller in the DISABLED
// state with its time reference set to clock.Now().
func NewTwistController(cfg Config, clock Clock, opts ...Option) (*TwistController, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("twist controller config: %w", err)
	}
	if clock == nil {
		clock = SystemClock{}
	}

	v := cfg.Vehicle
	t := cfg.Tuning

	c := &TwistController{
		vehicle:  v,
		tuning:   t,
		clock:    clock,
		throttle: NewPIDController(t.Throttle),
		yaw:      NewYawController(v.WheelBase, v.SteerRatio, t.MinSpeed, v.MaxLatAccel, v.MaxSteerAngle),
		velLPF:   NewLowPassFilter(t.Filter.Tau, t.Filter.SampleTime),
		steerLPF: NewLowPassFilter(t.Filter.Tau, t.Filter.SampleTime),
		accelLPF: NewLowPassFilter(t.Filter.Tau, t.Filter.SampleTime),
		state:    StateDisabled,
		lastTime: clock.Now(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Control runs one control cycle.
//
// A disabled or non-finite request resets the throttle controller and
// returns the zero command without reading the clock.
func (c *TwistController) Control(req ControlRequest) ControlCommand {
	if !req.finite() {
		c.rejected++
		c.transition(false)
		return ControlCommand{}
	}

	entered := c.transition(req.Enabled)
	if !req.Enabled {
		return ControlCommand{}
	}

	currentVelocity := c.velLPF.Filter(req.CurrentVelocity)
	velError := req.LinearVelocity - currentVelocity

	steering := c.yaw.SteeringAngle(req.LinearVelocity, req.AngularVelocity, currentVelocity)
	steering = c.steerLPF.Filter(steering)

	sampleTime := c.advance(c.clock.Now(), entered)

	accel := c.throttle.Step(velError, sampleTime)
	c.rawAccel = accel
	accel = c.accelLPF.Filter(accel)

	throttle, brake := c.actuate(req.LinearVelocity, accel)

	c.filteredVelocity = currentVelocity
	c.filteredAccel = accel

	return ControlCommand{
		Throttle: throttle,
		Brake:    brake,
		Steering: steering,
	}
}

// advance moves the time reference to now and returns the elapsed sample
// time. The engagement cycle uses the nominal period instead of the time
// spent disabled. A clock that steps backwards yields 0 and leaves the
// reference where it was.
func (c *TwistController) advance(now time.Time, entered bool) float64 {
	switch {
	case entered:
		c.lastTime = now
		c.sampleTime = c.tuning.Filter.SampleTime
	case now.Before(c.lastTime):
		c.sampleTime = 0
	default:
		c.sampleTime = now.Sub(c.lastTime).Seconds()
		c.lastTime = now
	}
	return c.sampleTime
}

// actuate splits the filtered acceleration into mutually exclusive
// throttle and brake commands.
func (c *TwistController) actuate(linearVelocity, accel float64) (throttle, brake float64) {
	if linearVelocity == 0 {
		c.holding = true
		c.resetLongitudinal()
		return 0, c.tuning.HoldTorque
	}
	c.holding = false

	if accel > 0 {
		return accel, 0
	}

	decel := -accel
	if decel < c.vehicle.BrakeDeadband {
		decel = 0
	}
	return 0, BrakeTorque(decel, c.vehicle, c.tuning.FuelDensity)
}

// BrakeTorque converts a deceleration (m/s²) into wheel torque (N·m) using
// the fully fuelled vehicle mass and the wheel radius as lever arm.
func BrakeTorque(decel float64, v VehicleParameters, fuelDensity float64) float64 {
	return math.Abs(decel) * v.LoadedMass(fuelDensity) * v.WheelRadius
}

// State returns the current engagement state.
func (c *TwistController) State() DriveState { return c.state }

// LastTime returns the stored time reference.
func (c *TwistController) LastTime() time.Time { return c.lastTime }

// Vehicle returns a copy of the vehicle parameters.
func (c *TwistController) Vehicle() VehicleParameters { return c.vehicle }

// Diagnostics contains controller internal state for monitoring
type Diagnostics struct {
	State            DriveState
	LastTime         time.Time
	SampleTime       float64 // s, last enabled cycle
	FilteredVelocity float64
	RawAccel         float64
	FilteredAccel    float64
	Holding          bool
	Rejected         uint64 // non-finite requests
	Resets           uint64 // throttle controller resets
	PID              PIDDiagnostics
}

// Diagnostics returns current state for logging
func (c *TwistController) Diagnostics() Diagnostics {
	d := Diagnostics{
		State:            c.state,
		LastTime:         c.lastTime,
		SampleTime:       c.sampleTime,
		FilteredVelocity: c.filteredVelocity,
		RawAccel:         c.rawAccel,
		FilteredAccel:    c.filteredAccel,
		Holding:          c.holding,
		Rejected:         c.rejected,
		Resets:           c.resets,
	}
	if pid, ok := c.throttle.(*PIDController); ok {
		d.PID = pid.GetDiagnostics()
	}
	return d
}
