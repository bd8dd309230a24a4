package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.einride.tech/can"

	control "dbw-twist-core/dbw_node/twist_control"
	"dbw-twist-core/telemetry"
	"dbw-twist-core/utils"
)

// CAN signal names the node reads and writes.
const (
	sigLinear   = "linear_velocity_mps"
	sigAngular  = "angular_velocity_rps"
	sigEnabled  = "dbw_enabled"
	sigSpeed    = "vehicle_speed_mps"
	sigActive   = "dbw_active"
	sigThrottle = "throttle_frac"
	sigBrake    = "brake_torque_nm"
	sigSteer    = "steer_angle_rad"
)

type Runner struct {
	cfg   NodeConfig
	log   *utils.Logger
	cmap  *utils.CANMap
	scen  *Scenario // nil: twist and enable come from CAN
	clock control.Clock

	writer utils.CANWriter
	reader utils.CANReader

	twistFD    *utils.FrameDef
	enableFD   *utils.FrameDef
	feedbackFD *utils.FrameDef
	txFD       *utils.FrameDef

	ctrl    *control.TwistController
	sink    telemetry.Sink
	session uuid.UUID

	// Owned by the Run loop goroutine
	in        inputs
	sent      uint64
	lastState control.DriveState
	stale     bool
}

// inputs holds the latest decoded RX values.
type inputs struct {
	twist        TwistCmd
	velocity     float64
	lastTwist    time.Time
	lastEnable   time.Time
	lastFeedback time.Time
}

// rxUpdate is one decoded RX frame handed from the receive goroutine to the
// Run loop.
type rxUpdate struct {
	frame  string
	values map[string]float64
	at     time.Time
}

func NewRunner(ctx context.Context, cfg NodeConfig, scenarioPath string, log *utils.Logger) (*Runner, error) {
	cmap, err := utils.LoadCANMap(cfg.Transport.MapPath)
	if err != nil {
		return nil, fmt.Errorf("load can map: %w", err)
	}

	var scen *Scenario
	if scenarioPath != "" {
		s, err := LoadScenario(scenarioPath)
		if err != nil {
			return nil, fmt.Errorf("load scenario: %w", err)
		}
		scen = &s
	}

	writer, err := utils.NewSocketCANWriter(ctx, cfg.Transport.Interface)
	if err != nil {
		return nil, err
	}

	reader, err := utils.NewSocketCANReader(ctx, cfg.Transport.Interface)
	if err != nil {
		writer.Close()
		return nil, err
	}

	sink := openSinks(cfg.Telemetry, log)

	r, err := newRunner(cfg, cmap, scen, writer, reader, control.SystemClock{}, sink, log)
	if err != nil {
		sink.Close()
		reader.Close()
		writer.Close()
		return nil, err
	}
	return r, nil
}

// openSinks connects the configured telemetry sinks. A sink that fails to
// connect is logged and skipped.
func openSinks(cfg TelemetryConfig, log *utils.Logger) telemetry.Sink {
	var sinks telemetry.MultiSink

	if cfg.NATSURL != "" {
		ns := telemetry.NewNATSSink(cfg.NATSSubject, log.With("nats"))
		if err := ns.Connect(cfg.NATSURL); err != nil {
			log.Error("Telemetry disabled for NATS: %v", err)
		} else {
			sinks = append(sinks, ns)
		}
	}

	if cfg.MQTTBroker != "" {
		ms, err := telemetry.NewMQTTSink(telemetry.MQTTConfig{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
			Topic:    cfg.MQTTTopic,
		}, log.With("mqtt"))
		if err != nil {
			log.Error("Telemetry disabled for MQTT: %v", err)
		} else {
			sinks = append(sinks, ms)
		}
	}

	if len(sinks) == 0 {
		return telemetry.NopSink{}
	}
	return sinks
}

func newRunner(cfg NodeConfig, cmap *utils.CANMap, scen *Scenario, writer utils.CANWriter, reader utils.CANReader,
	clock control.Clock, sink telemetry.Sink, log *utils.Logger) (*Runner, error) {
	t := cfg.Transport

	txFD, err := cmap.RequireFrame(t.ActuatorFrame, utils.DirTX, sigActive, sigThrottle, sigBrake, sigSteer)
	if err != nil {
		return nil, fmt.Errorf("actuator frame: %w", err)
	}
	if txFD.CycleMS <= 0 {
		return nil, fmt.Errorf("frame %s has invalid cycle_ms %d", txFD.Name, txFD.CycleMS)
	}
	feedbackFD, err := cmap.RequireFrame(t.FeedbackFrame, utils.DirRX, sigSpeed)
	if err != nil {
		return nil, fmt.Errorf("feedback frame: %w", err)
	}
	twistFD, err := cmap.RequireFrame(t.TwistFrame, utils.DirRX, sigLinear, sigAngular)
	if err != nil {
		return nil, fmt.Errorf("twist frame: %w", err)
	}
	enableFD, err := cmap.RequireFrame(t.EnableFrame, utils.DirRX, sigEnabled)
	if err != nil {
		return nil, fmt.Errorf("enable frame: %w", err)
	}

	ctrl, err := control.NewTwistController(cfg.Controller, clock)
	if err != nil {
		return nil, err
	}

	if sink == nil {
		sink = telemetry.NopSink{}
	}

	return &Runner{
		cfg:        cfg,
		log:        log,
		cmap:       cmap,
		scen:       scen,
		clock:      clock,
		writer:     writer,
		reader:     reader,
		twistFD:    twistFD,
		enableFD:   enableFD,
		feedbackFD: feedbackFD,
		txFD:       txFD,
		ctrl:       ctrl,
		sink:       sink,
		session:    uuid.New(),
		lastState:  ctrl.State(),
	}, nil
}

func (r *Runner) Close() {
	if r.sink != nil {
		r.sink.Close()
	}
	if r.reader != nil {
		_ = r.reader.Close()
	}
	if r.writer != nil {
		_ = r.writer.Close()
	}
}

func (r *Runner) Run(ctx context.Context) error {
	source := "can"
	var endAfter time.Duration
	if r.scen != nil {
		source = "scenario:" + r.scen.Meta.Name
		endAfter = time.Duration(r.scen.Timing.DurationS * float64(time.Second))
	}

	r.log.Info("Starting DBW: session=%s tx=%s id=0x%X cycle_ms=%d iface=%s source=%s",
		r.session, r.txFD.Name, r.txFD.ID, r.txFD.CycleMS, r.cfg.Transport.Interface, source)

	start := r.clock.Now()
	ticker := time.NewTicker(time.Duration(r.txFD.CycleMS) * time.Millisecond)
	defer ticker.Stop()

	rxChan := make(chan rxUpdate, 100)
	if r.reader != nil {
		go r.receiveLoop(ctx, rxChan)
	}

	for {
		select {
		case <-ctx.Done():
			r.log.Warn("Context canceled; disengaging")
			r.disengage()
			r.log.Info("Completed DBW. frames_sent=%d", r.sent)
			return ctx.Err()

		case upd := <-rxChan:
			r.apply(upd)

		case <-ticker.C:
			now := r.clock.Now()
			elapsed := now.Sub(start)
			if endAfter > 0 && elapsed > endAfter {
				r.disengage()
				r.log.Info("Scenario complete. frames_sent=%d", r.sent)
				return nil
			}

			if err := r.tick(ctx, now, elapsed); err != nil {
				return err
			}
		}
	}
}

// apply folds one RX update into the latest inputs.
func (r *Runner) apply(upd rxUpdate) {
	switch upd.frame {
	case r.feedbackFD.Name:
		r.in.velocity = upd.values[sigSpeed]
		r.in.lastFeedback = upd.at
		r.log.Trace("RX velocity=%.3f m/s", r.in.velocity)
	case r.twistFD.Name:
		if r.scen != nil {
			return
		}
		r.in.twist.LinearMPS = upd.values[sigLinear]
		r.in.twist.AngularRPS = upd.values[sigAngular]
		r.in.lastTwist = upd.at
	case r.enableFD.Name:
		if r.scen != nil {
			return
		}
		r.in.twist.Enabled = upd.values[sigEnabled] >= 0.5
		r.in.lastEnable = upd.at
	}
}

// request builds the controller input for this cycle. Stale twist or enable
// input forces a disengagement.
func (r *Runner) request(now time.Time, elapsed time.Duration) (control.ControlRequest, bool) {
	twist := r.in.twist
	stale := false

	if r.scen != nil {
		twist = EvalTwistCmd(r.scen, elapsed.Seconds())
	} else {
		timeout := r.cfg.Transport.CommandTimeout()
		if now.Sub(r.in.lastTwist) > timeout || now.Sub(r.in.lastEnable) > timeout {
			stale = true
			twist.Enabled = false
		}
	}

	return control.ControlRequest{
		CurrentVelocity: r.in.velocity,
		Enabled:         twist.Enabled,
		LinearVelocity:  twist.LinearMPS,
		AngularVelocity: twist.AngularRPS,
	}, stale
}

// tick runs one control cycle and transmits the actuator frame.
func (r *Runner) tick(ctx context.Context, now time.Time, elapsed time.Duration) error {
	t := elapsed.Seconds()

	if age := now.Sub(r.in.lastFeedback); age > r.cfg.Transport.FeedbackTimeout() && r.ctrl.State() == control.StateEnabled {
		if r.sent%50 == 0 {
			r.log.Warn("No speed feedback for %.1f ms - control may be unreliable", age.Seconds()*1000)
		}
	}

	req, stale := r.request(now, elapsed)
	if stale != r.stale {
		if stale {
			r.log.Warn("Twist/enable input stale (> %s); holding disengaged", r.cfg.Transport.CommandTimeout())
		} else {
			r.log.Info("Twist/enable input restored")
		}
		r.stale = stale
	}

	cmd := r.ctrl.Control(req)
	diag := r.ctrl.Diagnostics()

	if diag.State != r.lastState {
		r.log.Info("DBW %s -> %s at t=%.3f (v=%.2f target=%.2f)", r.lastState, diag.State, t, req.CurrentVelocity, req.LinearVelocity)
		r.lastState = diag.State
	}

	frame, err := r.encode(diag.State == control.StateEnabled, cmd)
	if err != nil {
		r.log.Error("Encode failed at t=%.3f: %v", t, err)
		return err
	}

	if err := r.writer.WriteFrame(ctx, frame); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		r.log.Critical("Transmit failed at t=%.3f: %v", t, err)
		return err
	}

	if r.sent%100 == 0 {
		r.log.Debug("DBW: v=%.2f err=%.3f accel=%.3f %s throttle=%.3f brake=%.1f steer=%.3f I=%.3f dt=%.3f",
			diag.FilteredVelocity, diag.PID.Error, diag.FilteredAccel, control.GetControlModeStr(cmd),
			cmd.Throttle, cmd.Brake, cmd.Steering, diag.PID.Integral, diag.SampleTime)
	}

	if r.sent%uint64(r.cfg.Telemetry.PublishEvery) == 0 {
		sample := telemetry.Sample{
			Session:    r.session,
			Timestamp:  now,
			Cycle:      r.sent,
			State:      diag.State.String(),
			SampleTime: diag.SampleTime,
			Holding:    diag.Holding,
			Stale:      stale,
			Request:    req,
			Command:    cmd,
		}
		if err := r.sink.Publish(sample); err != nil {
			r.log.Warn("Telemetry publish failed: %v", err)
		}
	}

	r.sent++
	r.log.Trace("TX t=%.3f id=0x%X len=%d data=% X throttle=%.3f brake=%.1f steer=%.3f",
		t, frame.ID, frame.Length, frame.Data[:frame.Length], cmd.Throttle, cmd.Brake, cmd.Steering)
	return nil
}

func (r *Runner) encode(active bool, cmd control.ControlCommand) (can.Frame, error) {
	return r.cmap.EncodeCANFrame(r.txFD.Name, map[string]float64{
		sigActive:   control.BoolToFloat(active),
		sigThrottle: cmd.Throttle,
		sigBrake:    cmd.Brake,
		sigSteer:    cmd.Steering,
	})
}

// disengage resets the controller and sends one zero command so the
// actuators do not keep the last command after the node stops.
func (r *Runner) disengage() {
	cmd := r.ctrl.Control(control.ControlRequest{})
	frame, err := r.encode(false, cmd)
	if err != nil {
		r.log.Error("Encode disengage frame: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := r.writer.WriteFrame(ctx, frame); err != nil {
		r.log.Error("Transmit disengage frame: %v", err)
		return
	}
	r.sent++
}

// receiveLoop continuously reads CAN frames and forwards the ones the node
// consumes.
func (r *Runner) receiveLoop(ctx context.Context, out chan<- rxUpdate) {
	r.log.Debug("RX loop started")
	defer r.log.Debug("RX loop stopped")

	for {
		frame, err := r.reader.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.Error("RX error: %v", err)
			continue
		}

		switch frame.ID {
		case r.twistFD.ID, r.enableFD.ID, r.feedbackFD.ID:
		default:
			continue
		}

		fd, values, err := r.cmap.DecodeCANFrame(frame)
		if err != nil {
			r.log.Warn("RX decode id=0x%X: %v", frame.ID, err)
			continue
		}

		select {
		case out <- rxUpdate{frame: fd.Name, values: values, at: r.clock.Now()}:
		case <-ctx.Done():
			return
		default:
			// Channel full, skip
		}
	}
}
