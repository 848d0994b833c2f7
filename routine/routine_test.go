package routine_test

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"go.viam.com/test"

	"go.viam.com/controlpi/controller"
	"go.viam.com/controlpi/logging"
	"go.viam.com/controlpi/routine"
	"go.viam.com/controlpi/testutils"
	"go.viam.com/controlpi/testutils/inject"
	"go.viam.com/controlpi/transport"
	"go.viam.com/controlpi/transport/fake"
)

type harness struct {
	bus    *fake.Bus
	client *controller.Client
	clock  *testutils.SleepRecorder
	out    *bytes.Buffer
	runner *routine.Runner
}

func setup(t *testing.T, conf controller.Config) *harness {
	t.Helper()
	logger := logging.NewTestLogger(t)
	h := &harness{
		bus:   fake.NewBus(nil),
		clock: testutils.NewSleepRecorder(),
		out:   &bytes.Buffer{},
	}
	conf.Address = controller.DefaultAddress
	// Pacing is tested in the controller; zeroing it out here would pick the default, so use 1ns.
	conf.PacingDelay = time.Nanosecond
	conf.SettleDelay = time.Nanosecond
	h.client = controller.New(h.bus, conf, logger, controller.WithClock(h.clock))
	test.That(t, h.client.Open(context.Background()), test.ShouldBeNil)
	t.Cleanup(func() { h.client.Close(context.Background()) })
	h.runner = routine.NewRunner(h.out, logger, h.clock)
	return h
}

// holds returns the slept durations longer than the client's 1ns delays.
func (h *harness) holds() []time.Duration {
	var ret []time.Duration
	for _, d := range h.clock.Slept() {
		if d > time.Nanosecond {
			ret = append(ret, d)
		}
	}
	return ret
}

func TestTestSequence(t *testing.T) {
	h := setup(t, controller.Config{})

	test.That(t, h.runner.TestSequence(context.Background(), h.client), test.ShouldBeNil)
	test.That(t, h.bus.Written(), test.ShouldEqual, "?5FRBLS")
	test.That(t, h.holds(), test.ShouldResemble, []time.Duration{
		500 * time.Millisecond, time.Second, time.Second, time.Second, time.Second, 500 * time.Millisecond,
	})
	test.That(t, h.out.String(), test.ShouldContainSubstring, "Turning right for 1 second...")
	test.That(t, h.out.String(), test.ShouldEndWith, "Test sequence complete!\n")
}

func TestTestSequenceStopsOnFailure(t *testing.T) {
	h := setup(t, controller.Config{})
	var sent []string
	failing := &fakeRobot{Robot: h.client, fail: "Backward", sent: &sent}

	err := h.runner.TestSequence(context.Background(), failing)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "test sequence")
	// The sequence ends early, and the motors are stopped.
	test.That(t, h.bus.Written(), test.ShouldEqual, "?5FRS")
	test.That(t, sent, test.ShouldResemble, []string{"SetSpeed", "Forward", "Right", "Backward", "Stop"})
}

func TestTestSequenceCanceled(t *testing.T) {
	h := setup(t, controller.Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.runner.TestSequence(ctx, h.client)
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
	// Only the safety stop goes out.
	test.That(t, h.bus.Written(), test.ShouldEqual, "?S")
}

func TestSquare(t *testing.T) {
	h := setup(t, controller.Config{})

	test.That(t, h.runner.Square(context.Background(), h.client), test.ShouldBeNil)
	test.That(t, h.bus.Written(), test.ShouldEqual, "?X5FRFRFRFRSX")
	test.That(t, h.client.Session().SystemActive, test.ShouldBeFalse)

	holds := h.holds()
	test.That(t, len(holds), test.ShouldEqual, 11)
	var total time.Duration
	for _, d := range holds {
		total += d
	}
	test.That(t, total, test.ShouldEqual, 13500*time.Millisecond)
}

func TestSquareAlreadyActive(t *testing.T) {
	h := setup(t, controller.Config{InitialActive: true})

	test.That(t, h.runner.Square(context.Background(), h.client), test.ShouldBeNil)
	test.That(t, h.bus.Written(), test.ShouldEqual, "?5FRFRFRFRSX")
	test.That(t, h.client.Session().SystemActive, test.ShouldBeFalse)
}

func TestSweep(t *testing.T) {
	logger := logging.NewTestLogger(t)
	bus := fake.NewBus(logger)
	clk := testutils.NewSleepRecorder()
	out := &bytes.Buffer{}

	err := routine.NewRunner(out, logger, clk).Sweep(context.Background(), bus, 0x08)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, bus.Written(), test.ShouldEqual, "?X5FRLBSX")
	test.That(t, bus.OpenHandles(), test.ShouldEqual, 0)
	test.That(t, clk.Total(), test.ShouldEqual, time.Duration(len(routine.SweepSteps))*routine.SweepGap)
	test.That(t, out.String(), test.ShouldContainSubstring, "Sending: 'X' - Toggle system OFF")
}

func TestSweepKeepsGoing(t *testing.T) {
	logger := logging.NewTestLogger(t)
	var written []byte
	handle := &inject.Handle{
		WriteFunc: func(ctx context.Context, tx []byte) error {
			if tx[0] == 'F' || tx[0] == 'L' {
				return errors.New("nack")
			}
			written = append(written, tx...)
			return nil
		},
		CloseFunc: func() error { return nil },
	}
	bus := &inject.Bus{
		OpenHandleFunc: func(ctx context.Context, addr byte) (transport.Handle, error) {
			return handle, nil
		},
	}
	out := &bytes.Buffer{}

	err := routine.NewRunner(out, logger, testutils.NewSleepRecorder()).Sweep(context.Background(), bus, 0x08)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "sending Forward: nack")
	test.That(t, err.Error(), test.ShouldContainSubstring, "sending Left: nack")
	test.That(t, string(written), test.ShouldEqual, "?X5RBSX")
	test.That(t, out.String(), test.ShouldContainSubstring, "Error sending command: nack")
}

func TestSweepOpenFails(t *testing.T) {
	bus := fake.NewBus(nil)
	bus.OpenErr = errors.New("no such bus")

	err := routine.NewRunner(&bytes.Buffer{}, logging.NewTestLogger(t), testutils.NewSleepRecorder()).
		Sweep(context.Background(), bus, 0x08)
	test.That(t, err.Error(), test.ShouldContainSubstring, "cannot open bus: no such bus")
}

// fakeRobot fails the named operation and records every call.
type fakeRobot struct {
	routine.Robot
	fail string
	sent *[]string
}

func (r *fakeRobot) call(name string, send func() (controller.Ack, error)) (controller.Ack, error) {
	*r.sent = append(*r.sent, name)
	if name == r.fail {
		return controller.Ack{}, errors.New(name + " failed")
	}
	return send()
}

func (r *fakeRobot) Forward(ctx context.Context) (controller.Ack, error) {
	return r.call("Forward", func() (controller.Ack, error) { return r.Robot.Forward(ctx) })
}

func (r *fakeRobot) Backward(ctx context.Context) (controller.Ack, error) {
	return r.call("Backward", func() (controller.Ack, error) { return r.Robot.Backward(ctx) })
}

func (r *fakeRobot) Right(ctx context.Context) (controller.Ack, error) {
	return r.call("Right", func() (controller.Ack, error) { return r.Robot.Right(ctx) })
}

func (r *fakeRobot) Stop(ctx context.Context) (controller.Ack, error) {
	return r.call("Stop", func() (controller.Ack, error) { return r.Robot.Stop(ctx) })
}

func (r *fakeRobot) SetSpeed(ctx context.Context, level int) (controller.Ack, error) {
	return r.call("SetSpeed", func() (controller.Ack, error) { return r.Robot.SetSpeed(ctx, level) })
}
