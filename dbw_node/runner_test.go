package main

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.einride.tech/can"

	control "dbw-twist-core/dbw_node/twist_control"
	"dbw-twist-core/telemetry"
	"dbw-twist-core/utils"
)

type manualClock struct {
	t time.Time
}

func (m *manualClock) Now() time.Time          { return m.t }
func (m *manualClock) Advance(d time.Duration) { m.t = m.t.Add(d) }

type fakeWriter struct {
	mu     sync.Mutex
	frames []can.Frame
	err    error
	closed bool
}

func (w *fakeWriter) WriteFrame(_ context.Context, f can.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.frames = append(w.frames, f)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

func (w *fakeWriter) last(t *testing.T) can.Frame {
	t.Helper()
	w.mu.Lock()
	defer w.mu.Unlock()
	require.NotEmpty(t, w.frames)
	return w.frames[len(w.frames)-1]
}

type recordingSink struct {
	samples []telemetry.Sample
	err     error
}

func (s *recordingSink) Publish(sample telemetry.Sample) error {
	s.samples = append(s.samples, sample)
	return s.err
}

func (s *recordingSink) Close() {}

type runnerFixture struct {
	r     *Runner
	w     *fakeWriter
	sink  *recordingSink
	clock *manualClock
	logs  *bytes.Buffer
}

func newFixture(t *testing.T, scen *Scenario) *runnerFixture {
	t.Helper()

	cfg := DefaultNodeConfig()
	cmap, err := utils.LoadCANMap("../config/can/dbw_map.csv")
	require.NoError(t, err)

	f := &runnerFixture{
		w:     &fakeWriter{},
		sink:  &recordingSink{},
		clock: &manualClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		logs:  &bytes.Buffer{},
	}
	f.r, err = newRunner(cfg, cmap, scen, f.w, nil, f.clock, f.sink, utils.NewLogger(f.logs, utils.DEBUG))
	require.NoError(t, err)
	return f
}

func (f *runnerFixture) decodeLast(t *testing.T) map[string]float64 {
	t.Helper()
	fd, values, err := f.r.cmap.DecodeCANFrame(f.w.last(t))
	require.NoError(t, err)
	require.Equal(t, "DBW_CMD", fd.Name)
	return values
}

func (f *runnerFixture) feed(frame string, values map[string]float64) {
	f.r.apply(rxUpdate{frame: frame, values: values, at: f.clock.Now()})
}

func (f *runnerFixture) engage(linear, speed float64) {
	f.feed("VEHICLE_STATE_1", map[string]float64{sigSpeed: speed})
	f.feed("TWIST_CMD", map[string]float64{sigLinear: linear, sigAngular: 0})
	f.feed("DBW_ENABLE", map[string]float64{sigEnabled: 1})
}

func TestRunnerNoInputStaysDisengaged(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	require.NoError(t, f.r.tick(context.Background(), f.clock.Now(), 0))

	values := f.decodeLast(t)
	assert.Equal(t, 0.0, values[sigActive])
	assert.Equal(t, 0.0, values[sigThrottle])
	assert.Equal(t, 0.0, values[sigBrake])
	assert.Equal(t, control.StateDisabled, f.r.ctrl.State())
	assert.True(t, f.r.stale)
	assert.Contains(t, f.logs.String(), "input stale")
}

func TestRunnerEngagesAndAccelerates(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	f.engage(5, 0)
	require.NoError(t, f.r.tick(context.Background(), f.clock.Now(), 0))

	values := f.decodeLast(t)
	assert.Equal(t, 1.0, values[sigActive])
	assert.Greater(t, values[sigThrottle], 0.0)
	assert.Equal(t, 0.0, values[sigBrake])
	assert.Equal(t, control.StateEnabled, f.r.ctrl.State())
	assert.Contains(t, f.logs.String(), "DBW DISABLED -> ENABLED")
}

func TestRunnerCommandTimeoutDisengages(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	ctx := context.Background()

	f.engage(5, 0)
	require.NoError(t, f.r.tick(ctx, f.clock.Now(), 0))
	require.Equal(t, control.StateEnabled, f.r.ctrl.State())

	// Speed feedback keeps arriving, twist/enable do not
	f.clock.Advance(600 * time.Millisecond)
	f.feed("VEHICLE_STATE_1", map[string]float64{sigSpeed: 1})
	require.NoError(t, f.r.tick(ctx, f.clock.Now(), 600*time.Millisecond))

	values := f.decodeLast(t)
	assert.Equal(t, 0.0, values[sigActive])
	assert.Equal(t, 0.0, values[sigThrottle])
	assert.Equal(t, control.StateDisabled, f.r.ctrl.State())

	// Fresh input re-engages
	f.engage(5, 1)
	require.NoError(t, f.r.tick(ctx, f.clock.Now(), 600*time.Millisecond))
	assert.Equal(t, control.StateEnabled, f.r.ctrl.State())
	assert.False(t, f.r.stale)
	assert.Contains(t, f.logs.String(), "input restored")
}

func TestRunnerStopCommandHolds(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	f.engage(0, 0)
	require.NoError(t, f.r.tick(context.Background(), f.clock.Now(), 0))

	values := f.decodeLast(t)
	assert.Equal(t, 1.0, values[sigActive])
	assert.Equal(t, 0.0, values[sigThrottle])
	assert.InDelta(t, 700, values[sigBrake], 0.1)
}

func TestRunnerScenarioIgnoresCANTwist(t *testing.T) {
	t.Parallel()

	on := true
	cruise := 25.0
	scen := &Scenario{
		Meta:   ScenarioMeta{Name: "cruise"},
		Timing: ScenarioTiming{DurationS: 10},
		Segments: []ScenarioSegment{
			{T0: 0, T1: 1, Enabled: &on},
			{T0: 1, T1: -1, Enabled: &on, LinearMPH: &cruise},
		},
	}
	f := newFixture(t, scen)
	ctx := context.Background()

	// CAN twist must not override the scenario
	f.feed("TWIST_CMD", map[string]float64{sigLinear: 20})
	f.feed("VEHICLE_STATE_1", map[string]float64{sigSpeed: 0})

	require.NoError(t, f.r.tick(ctx, f.clock.Now(), 0))
	values := f.decodeLast(t)
	assert.Equal(t, 1.0, values[sigActive])
	assert.InDelta(t, 700, values[sigBrake], 0.1)
	assert.False(t, f.r.stale)

	f.clock.Advance(1500 * time.Millisecond)
	require.NoError(t, f.r.tick(ctx, f.clock.Now(), 1500*time.Millisecond))
	values = f.decodeLast(t)
	assert.Greater(t, values[sigThrottle], 0.0)
	assert.Equal(t, 0.0, values[sigBrake])
}

func TestRunnerPublishesTelemetry(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.sink.err = errors.New("broker down")
	ctx := context.Background()

	f.engage(3, 0)
	for i := 0; i < 6; i++ {
		require.NoError(t, f.r.tick(ctx, f.clock.Now(), time.Duration(i)*20*time.Millisecond))
		f.clock.Advance(20 * time.Millisecond)
	}

	require.Len(t, f.sink.samples, 2)
	s := f.sink.samples[1]
	assert.Equal(t, uint64(5), s.Cycle)
	assert.Equal(t, "ENABLED", s.State)
	assert.Equal(t, f.r.session, s.Session)
	assert.Equal(t, 3.0, s.Request.LinearVelocity)
	assert.Equal(t, uint64(6), f.r.sent)
	assert.Contains(t, f.logs.String(), "Telemetry publish failed")
}

func TestRunnerTransmitError(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)
	f.w.err = errors.New("bus off")

	err := f.r.tick(context.Background(), f.clock.Now(), 0)
	require.Error(t, err)
	assert.Contains(t, f.logs.String(), "Transmit failed")
}

func TestRunnerDisengageSendsZeroCommand(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil)

	f.engage(5, 0)
	require.NoError(t, f.r.tick(context.Background(), f.clock.Now(), 0))
	f.r.disengage()

	values := f.decodeLast(t)
	assert.Equal(t, 0.0, values[sigActive])
	assert.Equal(t, 0.0, values[sigThrottle])
	assert.Equal(t, 0.0, values[sigBrake])
	assert.Equal(t, control.StateDisabled, f.r.ctrl.State())

	f.r.Close()
	assert.True(t, f.w.closed)
}

func TestNewRunnerRejectsBadFrames(t *testing.T) {
	t.Parallel()

	cmap, err := utils.LoadCANMap("../config/can/dbw_map.csv")
	require.NoError(t, err)
	log := utils.NewLogger(&bytes.Buffer{}, utils.INFO)

	cfg := DefaultNodeConfig()
	cfg.Transport.ActuatorFrame = "TWIST_CMD"
	_, err = newRunner(cfg, cmap, nil, &fakeWriter{}, nil, &manualClock{}, nil, log)
	assert.ErrorContains(t, err, "actuator frame")

	cfg = DefaultNodeConfig()
	cfg.Transport.FeedbackFrame = "MISSING"
	_, err = newRunner(cfg, cmap, nil, &fakeWriter{}, nil, &manualClock{}, nil, log)
	assert.ErrorContains(t, err, "feedback frame")
}
